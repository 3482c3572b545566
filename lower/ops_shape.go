package lower

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
)

// allTensors checks there is at least one input and that all of them are tensors.
func allTensors(name string) check {
	return func(p *Params) error {
		if len(p.Inputs) == 0 {
			return status.InvalidArgumentf("%s requires at least one input, at %s", p.Node.Op, p.Node.Name)
		}
		for _, input := range p.Inputs {
			if _, ok := input.(*Tensor); !ok {
				return status.Unimplementedf("the inputs %q for %s must be tensors, at %s", name, p.Node.Op, p.Node.Name)
			}
		}
		return nil
	}
}

// staticInput checks the i-th input has a static shape: ops that need to know every dimension to
// keep the batch dimension untouched reject the ambiguity.
func staticInput(i int) check {
	return func(p *Params) error {
		if dims := p.Inputs[i].Dims(); !shape.HasStaticShape(dims) {
			return status.Unimplementedf("%s of an input with unknown dimensions %s is not supported, at %s",
				p.Node.Op, dims, p.Node.Name)
		}
		return nil
	}
}

// scalarInt returns the value of the i-th input, which must be a single int32 value.
func scalarInt(p *Params, i int, name string) (int, error) {
	values, err := p.intWeights(i, name)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, status.InvalidArgumentf("%q of %s must be a scalar, got %d values", name, p.Node, len(values))
	}
	return values[0], nil
}

// reshapeTo emits the reshape of x to dims, naming the layer created, if any, after the node.
func (c *Converter) reshapeTo(p *Params, x Value, dims shape.Dims) ([]Value, error) {
	out, err := c.prepareTensorForShape(x, dims)
	if err != nil {
		return nil, err
	}
	if t, ok := x.(*Tensor); !ok || t.handle != out {
		out.Producer().SetName(p.Node.Name)
	}
	return []Value{tensorFor(out)}, nil
}

func convertTranspose(p *Params) (emitFn, error) {
	var perm []int
	err := p.validate(
		inputsAre(tensorInput("x"), weightsInput("perm")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 0),
		func(p *Params) (err error) {
			if perm, err = p.intWeights(1, "perm"); err != nil {
				return err
			}
			if err = checkTransposePerm(p.tensor(0).dims.Rank(), perm); err != nil {
				return err
			}
			seen := sets.Make[int]()
			for _, axis := range perm {
				if axis < 0 || axis >= len(perm) || seen.Has(axis) {
					return status.InvalidArgumentf("invalid permutation %v for %s", perm, p.Node)
				}
				seen.Insert(axis)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		out, err := c.transposeTensor(x.handle, perm)
		if err != nil {
			return nil, err
		}
		out.Producer().SetName(p.Node.Name)
		return []Value{tensorFor(out)}, nil
	}, nil
}

// reshapeDims computes the batch-elided dims of reshaping x to the batch-inclusive target.
//
// The batch dimension must provably stay the same: either the target batch is the known batch size of
// x, or it is -1 and the other dimensions hold exactly the elements of one batch entry of x.
func reshapeDims(p *Params, x *Tensor, target []int) (shape.Dims, error) {
	if len(target) == 0 {
		return shape.Dims{}, status.Unimplementedf("reshape to a scalar changes the batch dimension, at %s", p.Node.Name)
	}
	inferAxis := -1
	for ii, dim := range target {
		if dim < -1 {
			return shape.Dims{}, status.InvalidArgumentf("invalid reshape target %v for %s", target, p.Node)
		}
		if dim == -1 {
			if inferAxis >= 0 {
				return shape.Dims{}, status.InvalidArgumentf("reshape target %v of %s has more than one -1", target, p.Node)
			}
			inferAxis = ii
		}
	}
	count := shape.TensorElementCount(x.dims)
	rest := slices.Clone(target[1:])
	known := int64(1)
	for ii, dim := range rest {
		if ii+1 != inferAxis {
			known *= int64(dim)
		}
	}
	switch {
	case inferAxis == 0:
		if known != count {
			return shape.Dims{}, status.Unimplementedf("reshape of %s to %v would change the batch dimension, at %s",
				x.dims, target, p.Node.Name)
		}
	case x.batchSize < 0 || target[0] != x.batchSize:
		return shape.Dims{}, status.Unimplementedf("reshape on batch dimension is not supported (batch size %d, target %v), at %s",
			x.batchSize, target, p.Node.Name)
	case inferAxis > 0:
		if known == 0 || count%known != 0 {
			return shape.Dims{}, status.InvalidArgumentf("cannot reshape %s to %v, at %s", x.dims, target, p.Node.Name)
		}
		rest[inferAxis-1] = int(count / known)
	}
	dims, err := shape.New(rest...)
	if err != nil {
		return shape.Dims{}, err
	}
	if err := checkReshape(x, dims); err != nil {
		return shape.Dims{}, err
	}
	return dims, nil
}

func convertReshape(p *Params) (emitFn, error) {
	var dims shape.Dims
	err := p.validate(
		inputsAre(tensorInput("tensor"), weightsInput("shape")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 0),
		staticInput(0),
		func(p *Params) error {
			target, err := p.intWeights(1, "shape")
			if err != nil {
				return err
			}
			dims, err = reshapeDims(p, p.tensor(0), target)
			return err
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.reshapeTo(p, x, dims)
	}, nil
}

func convertExpandDims(p *Params) (emitFn, error) {
	var dims shape.Dims
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("axis")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 0),
		func(p *Params) error {
			value, err := scalarInt(p, 1, "axis")
			if err != nil {
				return err
			}
			x := p.tensor(0)
			axis, err := shape.ConvertAxis(value, x.dims.Rank()+1, p.Node.Name)
			if err != nil {
				return err
			}
			dims, err = x.dims.Insert(axis, 1)
			return err
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.reshapeTo(p, x, dims)
	}, nil
}

func convertSqueeze(p *Params) (emitFn, error) {
	var dims shape.Dims
	err := p.validate(
		inputsAre(tensorInput("input")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T"),
		func(p *Params) error {
			squeezeDims, err := p.Node.IntsAttrOr("squeeze_dims", nil)
			if err != nil {
				return err
			}
			if len(squeezeDims) == 0 {
				return status.Unimplementedf("squeeze is only implemented for explicit dims, at %s", p.Node.Name)
			}
			x := p.tensor(0)
			axes := make([]int, 0, len(squeezeDims))
			for _, value := range squeezeDims {
				axis, err := shape.ConvertAxis(value, x.dims.Rank(), p.Node.Name)
				if err != nil {
					return err
				}
				if slices.Contains(axes, axis) {
					return status.InvalidArgumentf("axis %d repeated in squeeze_dims of %s", value, p.Node)
				}
				switch dim := x.dims.Dim(axis); dim {
				case 1:
				case shape.UnknownDim:
					return status.Unimplementedf("squeezing dimension %d of unknown size is not supported, at %s",
						value, p.Node.Name)
				default:
					return status.InvalidArgumentf("dimension %d with size %d cannot be squeezed because it must be size 1, at %s",
						value, dim, p.Node.Name)
				}
				axes = append(axes, axis)
			}
			slices.Sort(axes)
			dims = x.dims
			for _, axis := range slices.Backward(axes) {
				if dims, err = dims.Remove(axis); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.reshapeTo(p, x, dims)
	}, nil
}

// sliceParams are the batch-elided parameters of a slice layer.
type sliceParams struct {
	start, size, stride []int
}

// batchUntouched verifies a slice of the batch dimension keeps all of it.
func batchUntouched(p *Params, x *Tensor, begin, end, stride int, fullBegin, fullEnd bool) error {
	if stride == 1 && (fullBegin || begin == 0) && (fullEnd || (x.batchSize >= 0 && end >= x.batchSize)) {
		return nil
	}
	return status.Unimplementedf("modifications to the batch dimension are not supported, at %s", p.Node.Name)
}

func convertSlice(p *Params) (emitFn, error) {
	var sp sliceParams
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("begin"), weightsInput("size")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 0),
		staticInput(0),
		func(p *Params) error {
			begin, err := p.intWeights(1, "begin")
			if err != nil {
				return err
			}
			size, err := p.intWeights(2, "size")
			if err != nil {
				return err
			}
			x := p.tensor(0)
			rank := x.dims.Rank()
			if len(begin) != rank+1 || len(size) != rank+1 {
				return status.InvalidArgumentf("begin %v and size %v of %s must have %d values", begin, size, p.Node, rank+1)
			}
			if err := batchUntouched(p, x, begin[0], begin[0]+size[0], 1, false, size[0] == -1); err != nil {
				return err
			}
			sp = sliceParams{start: begin[1:], size: size[1:], stride: make([]int, rank)}
			for ii := range rank {
				dim := x.dims.Dim(ii)
				sp.stride[ii] = 1
				if sp.size[ii] == -1 {
					sp.size[ii] = dim - sp.start[ii]
				}
				if sp.start[ii] < 0 || sp.size[ii] <= 0 || sp.start[ii]+sp.size[ii] > dim {
					return status.InvalidArgumentf("slice begin %v and size %v are out of bounds of %s, at %s",
						begin, size, x.dims, p.Node.Name)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.addSlice(p, x, sp)
	}, nil
}

func (c *Converter) addSlice(p *Params, x *Tensor, sp sliceParams) ([]Value, error) {
	layer, err := c.net.AddSlice(x.handle, sp.start, sp.size, sp.stride)
	if err != nil {
		return nil, err
	}
	layer.SetName(p.Node.Name)
	out := layer.Output(0)
	c.MarkQuantizationRangesAsInferable(x.handle, out)
	return []Value{tensorFor(out)}, nil
}

func convertStridedSlice(p *Params) (emitFn, error) {
	var sp sliceParams
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("begin"), weightsInput("end"), weightsInput("strides")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 0),
		staticInput(0),
		func(p *Params) error {
			for _, mask := range []string{"ellipsis_mask", "new_axis_mask", "shrink_axis_mask"} {
				value, err := p.Node.IntAttrOr(mask, 0)
				if err != nil {
					return err
				}
				if value != 0 {
					return status.Unimplementedf("%s is not supported for %s, at %s", mask, p.Node.Op, p.Node.Name)
				}
			}
			return nil
		},
		func(p *Params) error {
			var err error
			sp, err = stridedSliceParams(p, p.tensor(0))
			return err
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.addSlice(p, x, sp)
	}, nil
}

func stridedSliceParams(p *Params, x *Tensor) (sliceParams, error) {
	beginMask, err := p.Node.IntAttrOr("begin_mask", 0)
	if err != nil {
		return sliceParams{}, err
	}
	endMask, err := p.Node.IntAttrOr("end_mask", 0)
	if err != nil {
		return sliceParams{}, err
	}
	begin, err := p.intWeights(1, "begin")
	if err != nil {
		return sliceParams{}, err
	}
	end, err := p.intWeights(2, "end")
	if err != nil {
		return sliceParams{}, err
	}
	strides, err := p.intWeights(3, "strides")
	if err != nil {
		return sliceParams{}, err
	}
	rank := x.dims.Rank()
	if len(begin) == 0 || len(begin) != len(end) || len(begin) != len(strides) || len(begin) > rank+1 {
		return sliceParams{}, status.InvalidArgumentf("begin %v, end %v and strides %v of %s must have the same length, between 1 and %d",
			begin, end, strides, p.Node, rank+1)
	}
	for _, stride := range strides {
		if stride == 0 {
			return sliceParams{}, status.InvalidArgumentf("zero stride in %v of %s", strides, p.Node)
		}
		if stride < 0 {
			return sliceParams{}, status.Unimplementedf("negative strides %v are not supported, at %s", strides, p.Node.Name)
		}
	}
	masked := func(mask, axis int) bool { return mask&(1<<axis) != 0 }
	if err := batchUntouched(p, x, begin[0], end[0], strides[0], masked(beginMask, 0), masked(endMask, 0)); err != nil {
		return sliceParams{}, err
	}

	sp := sliceParams{start: make([]int, rank), size: x.dims.Slice(), stride: make([]int, rank)}
	for ii := range rank {
		sp.stride[ii] = 1
		axis := ii + 1
		if axis >= len(begin) {
			continue
		}
		dim := x.dims.Dim(ii)
		b, e := begin[axis], end[axis]
		if masked(beginMask, axis) {
			b = 0
		} else if b < 0 {
			b += dim
		}
		if masked(endMask, axis) {
			e = dim
		} else if e < 0 {
			e += dim
		}
		b, e = min(max(b, 0), dim), min(max(e, 0), dim)
		stride := strides[axis]
		size := (e - b + stride - 1) / stride
		if size <= 0 {
			return sliceParams{}, status.InvalidArgumentf("strided slice of %s produces an empty axis %d, at %s",
				x.dims, axis, p.Node.Name)
		}
		sp.start[ii], sp.size[ii], sp.stride[ii] = b, size, stride
	}
	return sp, nil
}

func convertPack(p *Params) (emitFn, error) {
	var (
		dims shape.Dims
		axis int
	)
	err := p.validate(
		allTensors("values"),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T"),
		func(p *Params) error {
			n, err := p.Node.IntAttrOr("N", len(p.Inputs))
			if err != nil {
				return err
			}
			if n != len(p.Inputs) {
				return status.InvalidArgumentf("%s declares N=%d but has %d inputs", p.Node, n, len(p.Inputs))
			}
			first := p.tensor(0).dims
			for ii := 1; ii < len(p.Inputs); ii++ {
				if other := p.tensor(ii).dims; !other.Equal(first) {
					return status.InvalidArgumentf("inputs of %s must have the same shape, got %s and %s", p.Node, first, other)
				}
			}
			value, err := p.Node.IntAttrOr("axis", 0)
			if err != nil {
				return err
			}
			if axis, err = shape.ConvertAxis(value, first.Rank()+1, p.Node.Name); err != nil {
				return err
			}
			dims, err = first.Insert(axis, 1)
			return err
		})
	if err != nil {
		return nil, err
	}
	return func(c *Converter) ([]Value, error) {
		expanded := make([]*network.Tensor, len(p.Inputs))
		for ii, input := range p.Inputs {
			var err error
			if expanded[ii], err = c.prepareTensorForShape(input, dims); err != nil {
				return nil, err
			}
		}
		layer, err := c.net.AddConcatenation(expanded, axis)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// splitAxis checks x can be split in num parts along the source axis value, and returns the target axis.
func splitAxis(p *Params, x *Tensor, value, num int) (int, error) {
	axis, err := shape.ConvertAxis(value, x.dims.Rank(), p.Node.Name)
	if err != nil {
		return 0, err
	}
	if num <= 0 {
		return 0, status.InvalidArgumentf("%s must split in a positive number of parts, got %d", p.Node, num)
	}
	if dim := x.dims.Dim(axis); dim%num != 0 {
		return 0, status.InvalidArgumentf("dimension %d of size %d of %s can't be split in %d parts",
			value, dim, p.Node, num)
	}
	return axis, nil
}

// splitAlong slices x in num equal parts along axis. If squeeze is true the axis is removed from the parts.
func (c *Converter) splitAlong(p *Params, x *Tensor, axis, num int, squeeze bool) ([]Value, error) {
	size := x.dims.Dim(axis) / num
	sizes := x.dims.With(axis, size)
	squeezed := sizes
	if squeeze {
		var err error
		if squeezed, err = sizes.Remove(axis); err != nil {
			return nil, err
		}
	}
	start := make([]int, x.dims.Rank())
	stride := make([]int, x.dims.Rank())
	for ii := range stride {
		stride[ii] = 1
	}
	outputs := make([]Value, 0, num)
	for ii := range num {
		start[axis] = ii * size
		layer, err := c.net.AddSlice(x.handle, slices.Clone(start), sizes.Slice(), slices.Clone(stride))
		if err != nil {
			return nil, err
		}
		layer.SetName(graphdef.OutputKey(p.Node.Name, ii))
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(x.handle, out)
		if squeeze {
			if out, err = c.prepareTensorForShape(tensorFor(out), squeezed); err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, tensorFor(out))
	}
	return outputs, nil
}

func convertUnpack(p *Params) (emitFn, error) {
	var axis, num int
	err := p.validate(
		inputsAre(tensorInput("value")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T"),
		staticInput(0),
		func(p *Params) (err error) {
			if num, err = p.Node.IntAttr("num"); err != nil {
				return err
			}
			value, err := p.Node.IntAttrOr("axis", 0)
			if err != nil {
				return err
			}
			x := p.tensor(0)
			if axis, err = splitAxis(p, x, value, num); err != nil {
				return err
			}
			if dim := x.dims.Dim(axis); dim != num {
				return status.InvalidArgumentf("dimension %d of %s has size %d, but num=%d", value, p.Node, dim, num)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		return c.splitAlong(p, x, axis, num, true)
	}, nil
}

func convertSplit(p *Params) (emitFn, error) {
	var axis, num int
	err := p.validate(
		inputsAre(weightsInput("split_dim"), tensorInput("value")),
		dtypeIn("T", floatAndInt32Types...),
		inputDTypesAre("T", 1),
		staticInput(1),
		func(p *Params) error {
			value, err := scalarInt(p, 0, "split_dim")
			if err != nil {
				return err
			}
			if num, err = p.Node.IntAttr("num_split"); err != nil {
				return err
			}
			axis, err = splitAxis(p, p.tensor(1), value, num)
			return err
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(1)
	return func(c *Converter) ([]Value, error) {
		return c.splitAlong(p, x, axis, num, false)
	}, nil
}

func convertConcat(p *Params) (emitFn, error) {
	var axis int
	err := p.validate(
		func(p *Params) error {
			if len(p.Inputs) < 2 {
				return status.InvalidArgumentf("%s needs at least one value and the axis, got %d inputs", p.Node, len(p.Inputs))
			}
			n, err := p.Node.IntAttrOr("N", len(p.Inputs)-1)
			if err != nil {
				return err
			}
			if n != len(p.Inputs)-1 {
				return status.InvalidArgumentf("%s declares N=%d but has %d values", p.Node, n, len(p.Inputs)-1)
			}
			specs := make([]inputSpec, 0, len(p.Inputs))
			for range n {
				specs = append(specs, tensorInput("values"))
			}
			return inputsAre(append(specs, weightsInput("axis"))...)(p)
		},
		dtypeIn("T", floatAndInt32Types...),
		func(p *Params) error {
			values := make([]int, len(p.Inputs)-1)
			for ii := range values {
				values[ii] = ii
			}
			return inputDTypesAre("T", values...)(p)
		},
		func(p *Params) error {
			value, err := scalarInt(p, len(p.Inputs)-1, "axis")
			if err != nil {
				return err
			}
			first := p.tensor(0).dims
			if axis, err = shape.ConvertAxis(value, first.Rank(), p.Node.Name); err != nil {
				return err
			}
			for ii := 1; ii < len(p.Inputs)-1; ii++ {
				other := p.tensor(ii).dims
				if other.Rank() != first.Rank() {
					return status.InvalidArgumentf("inputs of %s have different ranks: %s and %s", p.Node, first, other)
				}
				for jj := range first.Rank() {
					if jj != axis && first.Dim(jj) != other.Dim(jj) {
						return status.InvalidArgumentf("inputs of %s have different dimensions outside of axis %d: %s and %s",
							p.Node, value, first, other)
					}
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return func(c *Converter) ([]Value, error) {
		values := make([]*network.Tensor, len(p.Inputs)-1)
		for ii := range values {
			values[ii] = p.tensor(ii).handle
		}
		layer, err := c.net.AddConcatenation(values, axis)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

func convertPad(p *Params) (emitFn, error) {
	var pre, post []int
	err := p.validate(
		inputsAre(tensorInput("tensor"), weightsInput("paddings")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T", 0),
		func(p *Params) error {
			x, paddings := p.tensor(0), p.weights(1)
			rank := x.dims.Rank()
			if !paddings.dims.Equal(shape.Make(rank+1, 2)) {
				return status.InvalidArgumentf("paddings of %s must have shape [%d,2], got %s", p.Node, rank+1, paddings.dims)
			}
			values, err := p.intWeights(1, "paddings")
			if err != nil {
				return err
			}
			if values[0] != 0 || values[1] != 0 {
				return status.Unimplementedf("padding the batch dimension is not supported, at %s", p.Node.Name)
			}
			pre, post = make([]int, rank), make([]int, rank)
			for ii := range rank {
				pre[ii], post[ii] = values[2*(ii+1)], values[2*(ii+1)+1]
				if pre[ii] < 0 || post[ii] < 0 {
					return status.InvalidArgumentf("negative paddings %v for %s", values, p.Node)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddPadding(x.handle, pre, post)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(x.handle, out)
		return []Value{tensorFor(out)}, nil
	}, nil
}
