package shape

// HasStaticShape returns whether the rank and every dimension are known.
func HasStaticShape(d Dims) bool {
	if d.rank < 0 {
		return false
	}
	for ii := range d.rank {
		if d.d[ii] < 0 {
			return false
		}
	}
	return true
}

// WeightElementCount returns the number of elements of constant weights with the given dims.
//
// A weight of rank 0 holds no elements. Returns -1 if some dimension is unknown.
func WeightElementCount(d Dims) int64 {
	if d.rank <= 0 {
		return 0
	}
	if !HasStaticShape(d) {
		return -1
	}
	count := int64(1)
	for ii := range d.rank {
		count *= int64(d.d[ii])
	}
	return count
}

// TensorElementCount returns the number of elements of one batch entry of a runtime tensor.
//
// A tensor of rank 0 counts as 1 element: its full size is carried by the batch dimension.
// Returns -1 if the shape is not static.
func TensorElementCount(d Dims) int64 {
	if !HasStaticShape(d) {
		return -1
	}
	count := int64(1)
	for ii := range d.rank {
		count *= int64(d.d[ii])
	}
	return count
}

// StaticWithDifferentSize returns true if both dims are static and hold a different number of elements.
// It is the condition under which reshaping one into the other is impossible.
func StaticWithDifferentSize(a, b Dims) bool {
	if !HasStaticShape(a) || !HasStaticShape(b) {
		return false
	}
	return TensorElementCount(a) != TensorElementCount(b)
}
