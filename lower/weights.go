package lower

import (
	"fmt"
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/x448/float16"
)

// Weights is a constant Value: its data is known at lowering time and owned by an Arena.
//
// Weights are write-once, read-many: handlers fill freshly allocated weights and never modify
// weights they receive as inputs. Their dims may include a leading vestigial batch slot of size 1.
type Weights struct {
	dtype dtypes.DType
	dims  shape.Dims
	data  []byte
}

func (Weights) isValue() {}

// DType of the weights.
func (w Weights) DType() dtypes.DType { return w.dtype }

// Dims of the weights.
func (w Weights) Dims() shape.Dims { return w.dims }

// Count returns the number of values: 0 for rank 0 weights.
func (w Weights) Count() int64 { return shape.WeightElementCount(w.dims) }

// Bytes returns the underlying buffer.
func (w Weights) Bytes() []byte { return w.data }

// String implements fmt.Stringer.
func (w Weights) String() string {
	return fmt.Sprintf("Weights(%s%s)", w.dtype, w.dims)
}

// reshaped returns the same buffer with new dims, with the same number of values.
func (w Weights) reshaped(dims shape.Dims) (Weights, error) {
	if shape.WeightElementCount(dims) != w.Count() {
		return Weights{}, status.InvalidArgumentf("can't reshape weights %s to %s", w, dims)
	}
	w.dims = dims
	return w, nil
}

// netWeights returns the weights as used by network layers.
func (w Weights) netWeights() network.Weights {
	return network.Weights{DType: w.dtype, Count: w.Count(), Data: w.data}
}

// view reinterprets the buffer as a slice of T. Arena buffers are 8-byte aligned.
func view[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/int(unsafe.Sizeof(zero)))
}

func (w Weights) assertDType(dtype dtypes.DType) {
	if w.dtype != dtype {
		exceptions.Panicf("weights %s accessed as %s", w, dtype)
	}
}

// Float32s returns the values of float32 weights. It panics for other dtypes.
func (w Weights) Float32s() []float32 {
	w.assertDType(dtypes.Float32)
	return view[float32](w.data)
}

// Float16s returns the values of float16 weights. It panics for other dtypes.
func (w Weights) Float16s() []float16.Float16 {
	w.assertDType(dtypes.Float16)
	return view[float16.Float16](w.data)
}

// Int32s returns the values of int32 weights. It panics for other dtypes.
func (w Weights) Int32s() []int32 {
	w.assertDType(dtypes.Int32)
	return view[int32](w.data)
}

// AsFloat32s returns a copy of the values converted to float32, for any supported dtype.
func (w Weights) AsFloat32s() ([]float32, error) {
	switch w.dtype {
	case dtypes.Float32:
		return append([]float32(nil), w.Float32s()...), nil
	case dtypes.Float16:
		values := w.Float16s()
		out := make([]float32, len(values))
		for ii, v := range values {
			out[ii] = v.Float32()
		}
		return out, nil
	case dtypes.Int32:
		values := w.Int32s()
		out := make([]float32, len(values))
		for ii, v := range values {
			out[ii] = float32(v)
		}
		return out, nil
	}
	return nil, status.Unimplementedf("weights of dtype %s can't be read as float", w.dtype)
}

// AsInts returns the values of int32 weights as ints.
func (w Weights) AsInts() ([]int, error) {
	if w.dtype != dtypes.Int32 {
		return nil, status.InvalidArgumentf("expected int32 weights, got %s", w)
	}
	values := w.Int32s()
	out := make([]int, len(values))
	for ii, v := range values {
		out[ii] = int(v)
	}
	return out, nil
}

// setFloat32s stores values (converted to the weights dtype) in w.
func (w Weights) setFloat32s(values []float32) {
	switch w.dtype {
	case dtypes.Float32:
		copy(w.Float32s(), values)
	case dtypes.Float16:
		out := w.Float16s()
		for ii, v := range values {
			out[ii] = float16.Fromfloat32(v)
		}
	case dtypes.Int32:
		out := w.Int32s()
		for ii, v := range values {
			out[ii] = int32(v)
		}
	default:
		exceptions.Panicf("can't store float values in weights %s", w)
	}
}

// weightRange returns the minimum and maximum of the weights.
func (w Weights) weightRange() (lo, hi float32, err error) {
	values, err := w.AsFloat32s()
	if err != nil {
		return 0, 0, err
	}
	lo, hi = math32.Inf(1), math32.Inf(-1)
	for _, v := range values {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	return lo, hi, nil
}

// Arena owns the buffers backing the weights created during a lowering pass.
// Buffers are never freed or reused while the pass is running.
type Arena struct {
	buffers [][]byte
	size    int64
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{}
}

// GetTempWeights allocates zero-initialized weights for the dtype and dims.
// Rank 0 weights hold no values.
func (a *Arena) GetTempWeights(dtype dtypes.DType, dims shape.Dims) (Weights, error) {
	if dtype == dtypes.InvalidDType || dtype.Size() <= 0 {
		return Weights{}, status.InvalidArgumentf("can't allocate weights of dtype %s", dtype)
	}
	count := shape.WeightElementCount(dims)
	if count < 0 {
		return Weights{}, status.InvalidArgumentf("can't allocate weights with unknown dims %s", dims)
	}
	size := count * int64(dtype.Size())
	// Backed by uint64 so typed views are always aligned.
	backing := make([]uint64, (size+7)/8)
	var data []byte
	if size > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(backing))), size)
	} else {
		data = []byte{}
	}
	a.buffers = append(a.buffers, data)
	a.size += size
	return Weights{dtype: dtype, dims: dims, data: data}, nil
}

// NumBuffers returns the number of allocations made.
func (a *Arena) NumBuffers() int { return len(a.buffers) }

// Size returns the total number of bytes allocated.
func (a *Arena) Size() int64 { return a.size }
