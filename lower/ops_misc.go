package lower

import (
	"slices"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// constValue is the decoded value of a Const node, before it is copied to an Arena.
type constValue struct {
	dtype  dtypes.DType
	dims   shape.Dims
	floats []float32
	ints   []int32
}

// decodeConst reads the "value" of a Const node. Small integer types are widened to int32 and a
// scalar becomes a 1-element weight.
func decodeConst(node *graphdef.NodeDef) (constValue, error) {
	dtype, err := node.DTypeAttr("dtype")
	if err != nil {
		return constValue{}, err
	}
	t, err := node.TensorAttr("value")
	if err != nil {
		return constValue{}, err
	}
	valueDType, err := t.DType.DType()
	if err != nil {
		return constValue{}, errors.WithMessagef(err, "value of %s", node)
	}
	if valueDType != dtype {
		return constValue{}, status.InvalidArgumentf("value of %s is %s, but it is declared as %s", node, valueDType, dtype)
	}
	dimsSlice := t.Dims
	if len(dimsSlice) == 0 {
		dimsSlice = []int{1}
	}
	dims, err := shape.New(dimsSlice...)
	if err != nil {
		return constValue{}, errors.WithMessagef(err, "value of %s", node)
	}
	cv := constValue{dtype: dtype, dims: dims}
	switch dtype {
	case dtypes.Float32, dtypes.Float16:
		cv.floats, err = t.Float32s()
	case dtypes.Int32, dtypes.Int16, dtypes.Int8, dtypes.Uint16, dtypes.Uint8:
		var values []int64
		values, err = t.Int64s()
		cv.dtype = dtypes.Int32
		cv.ints = make([]int32, len(values))
		for ii, v := range values {
			cv.ints[ii] = int32(v)
		}
	default:
		return constValue{}, status.Unimplementedf("constants of data type %s are not supported, at %s", dtype, node.Name)
	}
	if err != nil {
		return constValue{}, errors.WithMessagef(err, "value of %s", node)
	}
	return cv, nil
}

// weights copies the value to newly allocated weights.
func (cv constValue) weights(arena *Arena) (Weights, error) {
	w, err := arena.GetTempWeights(cv.dtype, cv.dims)
	if err != nil {
		return Weights{}, err
	}
	if cv.floats != nil {
		w.setFloat32s(cv.floats)
	} else {
		copy(w.Int32s(), cv.ints)
	}
	return w, nil
}

func convertConst(p *Params) (emitFn, error) {
	var cv constValue
	err := p.validate(
		inputsAre(),
		func(p *Params) (err error) {
			cv, err = decodeConst(p.Node)
			return err
		})
	if err != nil {
		return nil, err
	}
	return func(c *Converter) ([]Value, error) {
		w, err := cv.weights(c.arena)
		if err != nil {
			return nil, err
		}
		return []Value{w}, nil
	}, nil
}

func convertIdentity(p *Params) (emitFn, error) {
	if err := p.validate(inputsAre(anyInput("input"))); err != nil {
		return nil, err
	}
	return func(c *Converter) ([]Value, error) {
		return []Value{p.Inputs[0]}, nil
	}, nil
}

// convertFusedBatchNorm folds the inference-time batch normalization into a per-channel scale layer.
func convertFusedBatchNorm(p *Params) (emitFn, error) {
	var (
		format  string
		epsilon float32
	)
	err := p.validate(
		inputsAre(tensorInput("x"), weightsInput("scale"), weightsInput("offset"), weightsInput("mean"),
			weightsInput("variance")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) (err error) {
			isTraining, err := p.Node.BoolAttrOr("is_training", false)
			if err != nil {
				return err
			}
			if isTraining {
				return status.Unimplementedf("%s is only implemented when is_training=false, at %s", p.Node.Op, p.Node.Name)
			}
			if epsilon, err = p.Node.FloatAttrOr("epsilon", 1e-4); err != nil {
				return err
			}
			if format, err = dataFormat(p); err != nil {
				return err
			}
			x := p.tensor(0)
			channelAxis, err := spatialInputDims(p, x, format)
			if err != nil {
				return err
			}
			channels := x.dims.Dim(channelAxis)
			for ii := 1; ii < 5; ii++ {
				w := p.weights(ii)
				if w.dims.Rank() != 1 || w.dims.Dim(0) != channels {
					return status.InvalidArgumentf("parameters of %s must be vectors of %d values, got %s", p.Node, channels, w.dims)
				}
				if w.dtype != x.dtype {
					return status.InvalidArgumentf("parameters of %s are %s, expected %s", p.Node, w.dtype, x.dtype)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		scale, offset, err := foldBatchNorm(c.arena, p.weights(1), p.weights(2), p.weights(3), p.weights(4), epsilon)
		if err != nil {
			return nil, err
		}
		input, err := c.toCHW(x.handle, format)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddScale(input, network.ScaleParams{
			Mode:  network.ChannelScale,
			Shift: offset.netWeights(),
			Scale: scale.netWeights(),
		})
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out, err := c.fromCHW(layer.Output(0), format)
		if err != nil {
			return nil, err
		}
		return []Value{tensorFor(out)}, nil
	}, nil
}

// foldBatchNorm combines the four batch normalization vectors into a scale and an offset:
//
//	scale' = scale / sqrt(variance + epsilon)
//	offset' = offset - mean * scale'
//
// Each intermediate value is rounded to the dtype of the parameters.
func foldBatchNorm(arena *Arena, scale, offset, mean, variance Weights, epsilon float32) (Weights, Weights, error) {
	round := func(v float32) float32 { return v }
	if scale.dtype == dtypes.Float16 {
		round = func(v float32) float32 { return float16.Fromfloat32(v).Float32() }
	}
	var inputs [4][]float32
	for ii, w := range []Weights{scale, offset, mean, variance} {
		var err error
		if inputs[ii], err = w.AsFloat32s(); err != nil {
			return Weights{}, Weights{}, err
		}
	}
	s, o, m, v := inputs[0], inputs[1], inputs[2], inputs[3]
	combinedScale := make([]float32, len(s))
	combinedOffset := make([]float32, len(s))
	for ii := range s {
		combinedScale[ii] = round(s[ii] / round(math32.Sqrt(round(v[ii]+epsilon))))
		combinedOffset[ii] = round(o[ii] - round(m[ii]*combinedScale[ii]))
	}
	scaleWeights, err := arena.GetTempWeights(scale.dtype, scale.dims)
	if err != nil {
		return Weights{}, Weights{}, err
	}
	offsetWeights, err := arena.GetTempWeights(scale.dtype, scale.dims)
	if err != nil {
		return Weights{}, Weights{}, err
	}
	scaleWeights.setFloat32s(combinedScale)
	offsetWeights.setFloat32s(combinedOffset)
	return scaleWeights, offsetWeights, nil
}

// convertMatMul lowers a [batch, K] x [K, M] product, with a constant right-hand side.
// The rows of the left-hand side are the batch, so each batch entry is a vector.
func convertMatMul(p *Params) (emitFn, error) {
	var transposeB bool
	err := p.validate(
		inputsAre(tensorInput("a"), weightsInput("b")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) (err error) {
			transposeA, err := p.Node.BoolAttrOr("transpose_a", false)
			if err != nil {
				return err
			}
			if transposeA {
				return status.Unimplementedf("transpose_a is not supported for %s, at %s", p.Node.Op, p.Node.Name)
			}
			if transposeB, err = p.Node.BoolAttrOr("transpose_b", false); err != nil {
				return err
			}
			a, b := p.tensor(0), p.weights(1)
			if a.dims.Rank() != 1 {
				return status.InvalidArgumentf("a of %s must be a matrix, got %s (batch dimension not included)", p.Node, a.dims)
			}
			if b.dims.Rank() != 2 {
				return status.InvalidArgumentf("b of %s must be a matrix, got %s", p.Node, b.dims)
			}
			if b.dtype != a.dtype {
				return status.InvalidArgumentf("b of %s is %s, expected %s", p.Node, b.dtype, a.dtype)
			}
			k := b.dims.Dim(0)
			if transposeB {
				k = b.dims.Dim(1)
			}
			if dim := a.dims.Dim(0); dim != shape.UnknownDim && dim != k {
				return status.InvalidArgumentf("inner dimensions of %s don't match: %s and %s", p.Node, a.dims, b.dims)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	a, b := p.tensor(0), p.weights(1)
	return func(c *Converter) ([]Value, error) {
		w := b
		if transposeB {
			kc, err := c.arena.GetTempWeights(b.dtype, shape.Make(b.dims.Dim(1), b.dims.Dim(0)))
			if err != nil {
				return nil, err
			}
			reorderCKToKC(b, kc)
			w = kc
		}
		bt, err := c.constantTensor(w, w.dims)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddMatrixMultiply(a.handle, network.MatrixVector, bt, network.MatrixNone)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

func matrixOp(adjoint bool) network.MatrixOp {
	if adjoint {
		return network.MatrixTranspose
	}
	return network.MatrixNone
}

// convertBatchMatMul lowers a product of batches of matrices. A constant right-hand side may carry a
// vestigial batch dimension of 1, and is broadcast along the leading dimensions.
func convertBatchMatMul(p *Params) (emitFn, error) {
	var (
		yDims      shape.Dims
		adjX, adjY bool
	)
	err := p.validate(
		inputsAre(tensorInput("x"), anyInput("y")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) (err error) {
			if adjX, err = p.Node.BoolAttrOr("adj_x", false); err != nil {
				return err
			}
			if adjY, err = p.Node.BoolAttrOr("adj_y", false); err != nil {
				return err
			}
			x, y := p.tensor(0), p.Inputs[1]
			rank := x.dims.Rank()
			if rank < 2 {
				return status.InvalidArgumentf("%s needs operands of rank >= 3 (batch included), got %s", p.Node, x.dims)
			}
			if y.DType() != x.dtype {
				return status.InvalidArgumentf("operands of %s have different dtypes %s and %s", p.Node, x.dtype, y.DType())
			}
			yDims = y.Dims()
			if _, isConst := y.(Weights); isConst {
				if yDims.Rank() == rank+1 {
					if yDims.Dim(0) != 1 {
						return status.Unimplementedf("constant y of %s has a batch dimension of %d, must be 1, at %s",
							p.Node.Op, yDims.Dim(0), p.Node.Name)
					}
					if yDims, err = yDims.Remove(0); err != nil {
						return err
					}
				}
				if yDims.Rank() < 2 || yDims.Rank() > rank {
					return status.InvalidArgumentf("constant y of %s must be a matrix of rank <= %d, got %s",
						p.Node, rank, y.Dims())
				}
				for yDims.Rank() < rank {
					if yDims, err = yDims.Insert(0, 1); err != nil {
						return err
					}
				}
			}
			if yDims.Rank() != rank {
				return status.InvalidArgumentf("operands of %s have different ranks: %s and %s", p.Node, x.dims, yDims)
			}
			for ii := range rank - 2 {
				dx, dy := x.dims.Dim(ii), yDims.Dim(ii)
				if dx != dy && dx != 1 && dy != 1 {
					return status.InvalidArgumentf("leading dimensions of %s are not broadcastable: %s and %s", p.Node, x.dims, yDims)
				}
			}
			kx, ky := x.dims.Dim(rank-1), yDims.Dim(rank-2)
			if adjX {
				kx = x.dims.Dim(rank - 2)
			}
			if adjY {
				ky = yDims.Dim(rank - 1)
			}
			if kx != ky && kx != shape.UnknownDim && ky != shape.UnknownDim {
				return status.InvalidArgumentf("inner dimensions of %s don't match: %s and %s", p.Node, x.dims, yDims)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x, y := p.tensor(0), p.Inputs[1]
	return func(c *Converter) ([]Value, error) {
		yt, err := c.prepareTensorForShape(y, yDims)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddMatrixMultiply(x.handle, matrixOp(adjX), yt, matrixOp(adjY))
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// convertGather lowers GatherV2 with constant indices.
func convertGather(p *Params) (emitFn, error) {
	var axis int
	err := p.validate(
		inputsAre(tensorInput("params"), weightsInput("indices"), weightsInput("axis")),
		dtypeIn("Tparams", floatAndInt32Types...),
		dtypeIn("Tindices", dtypes.Int32),
		func(p *Params) error {
			batchDims, err := p.Node.IntAttrOr("batch_dims", 0)
			if err != nil {
				return err
			}
			if batchDims != 0 {
				return status.Unimplementedf("batch_dims=%d is not supported for %s, at %s", batchDims, p.Node.Op, p.Node.Name)
			}
			value, err := scalarInt(p, 2, "axis")
			if err != nil {
				return err
			}
			params, indices := p.tensor(0), p.weights(1)
			if axis, err = shape.ConvertAxis(value, params.dims.Rank(), p.Node.Name); err != nil {
				return err
			}
			positions, err := p.intWeights(1, "indices")
			if err != nil {
				return err
			}
			if dim := params.dims.Dim(axis); dim != shape.UnknownDim {
				for _, pos := range positions {
					if pos < 0 || pos >= dim {
						return status.InvalidArgumentf("index %d out of bounds for axis %d of size %d, at %s",
							pos, value, dim, p.Node.Name)
					}
				}
			}
			out := slices.Concat(params.dims.Slice()[:axis], indices.dims.Slice(), params.dims.Slice()[axis+1:])
			if _, err = shape.New(out...); err != nil {
				return errors.WithMessagef(err, "output of %s", p.Node)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	params, indices := p.tensor(0), p.weights(1)
	return func(c *Converter) ([]Value, error) {
		idx, err := c.constantTensor(indices, indices.dims)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddGather(params.handle, idx, axis)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(params.handle, out)
		return []Value{tensorFor(out)}, nil
	}, nil
}

var quantizationOps = []string{
	"FakeQuantWithMinMaxArgs",
	"FakeQuantWithMinMaxVars",
	"QuantizeAndDequantizeV2",
	"QuantizeAndDequantizeV3",
}

func isQuantizationOp(op string) bool {
	return slices.Contains(quantizationOps, op)
}

// scalarFloat returns the value of the i-th input, which must be a single value.
func scalarFloat(p *Params, i int, name string) (float32, error) {
	values, err := p.weights(i).AsFloat32s()
	if err != nil {
		return 0, status.WithKind(err, status.InvalidArgument, "input %q of %s", name, p.Node)
	}
	if len(values) != 1 {
		return 0, status.InvalidArgumentf("%q of %s must be a scalar, got %d values", name, p.Node, len(values))
	}
	return values[0], nil
}

// convertQuantize handles the quantization ops: their input passes through, and in INT8 mode the
// range they declare becomes the quantization range of the tensor.
func convertQuantize(p *Params) (emitFn, error) {
	specs := []inputSpec{tensorInput("input")}
	switch p.Node.Op {
	case "FakeQuantWithMinMaxVars", "QuantizeAndDequantizeV2":
		specs = append(specs, weightsInput("input_min"), weightsInput("input_max"))
	case "QuantizeAndDequantizeV3":
		specs = append(specs, weightsInput("input_min"), weightsInput("input_max"), weightsInput("num_bits"))
	}
	var lo, hi float32
	err := p.validate(
		inputsAre(specs...),
		func(p *Params) error {
			if dtype := p.tensor(0).dtype; !slices.Contains(floatTypes, dtype) {
				return status.Unimplementedf("data type %s is not supported for %s, at %s", dtype, p.Node.Op, p.Node.Name)
			}
			return nil
		},
		func(p *Params) (err error) {
			if p.Node.Op == "FakeQuantWithMinMaxArgs" {
				if lo, err = p.Node.FloatAttrOr("min", -6); err != nil {
					return err
				}
				hi, err = p.Node.FloatAttrOr("max", 6)
			} else {
				if lo, err = scalarFloat(p, 1, "input_min"); err != nil {
					return err
				}
				hi, err = scalarFloat(p, 2, "input_max")
			}
			if err != nil {
				return err
			}
			if lo > hi {
				return status.InvalidArgumentf("invalid range [%g, %g] for %s", lo, hi, p.Node)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		if c.cfg.Precision == INT8 {
			c.ProvideQuantizationRange(x.handle, lo, hi)
		}
		return []Value{x}, nil
	}, nil
}
