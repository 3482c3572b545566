package lower

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

var binaryOps = map[string]network.ElementWiseOp{
	"Add":     network.Sum,
	"Mul":     network.Prod,
	"Sub":     network.Sub,
	"Div":     network.Div,
	"RealDiv": network.Div,
	"Minimum": network.Min,
	"Maximum": network.Max,
	"Pow":     network.Pow,
}

var unaryOps = map[string]network.UnaryOp{
	"Neg":        network.Neg,
	"Exp":        network.Exp,
	"Log":        network.Log,
	"Sqrt":       network.Sqrt,
	"Abs":        network.Abs,
	"Reciprocal": network.Recip,
	"Sin":        network.Sin,
	"Cos":        network.Cos,
	"Tan":        network.Tan,
	"Sinh":       network.Sinh,
	"Cosh":       network.Cosh,
	"Asin":       network.Asin,
	"Acos":       network.Acos,
	"Atan":       network.Atan,
	"Asinh":      network.Asinh,
	"Acosh":      network.Acosh,
	"Atanh":      network.Atanh,
	"Ceil":       network.Ceil,
	"Floor":      network.Floor,
}

var activationOps = map[string]network.ActivationType{
	"Relu":    network.ReLU,
	"Sigmoid": network.Sigmoid,
	"Tanh":    network.Tanh,
}

// outputRanges are the ranges of ops whose output is bounded whatever the input.
var outputRanges = map[string][2]float32{
	"Sigmoid": {0, 1},
	"Tanh":    {-1, 1},
	"Softmax": {0, 1},
	"Sin":     {-1, 1},
	"Cos":     {-1, 1},
	"Asin":    {-math32.Pi / 2, math32.Pi / 2},
	"Atan":    {-math32.Pi / 2, math32.Pi / 2},
	"Acos":    {0, math32.Pi},
	"Relu6":   {0, 6},
}

// rangePreservingOps are unary ops whose output range is the same as the input range.
var rangePreservingOps = map[string]bool{
	"Neg": true,
	"Abs": true,
}

// provideOutputRange records the fixed range of the output of op, if it has one.
func (c *Converter) provideOutputRange(op string, t *network.Tensor) {
	if r, found := outputRanges[op]; found {
		c.ProvideQuantizationRange(t, r[0], r[1])
	}
}

func operandOf(v Value) shape.Operand {
	_, isWeights := v.(Weights)
	return shape.Operand{Dims: v.Dims(), Constant: isWeights}
}

func convertBinary(p *Params) (emitFn, error) {
	err := p.validate(
		inputsAre(anyInput("x"), anyInput("y")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) error {
			_, xConst := p.Inputs[0].(Weights)
			_, yConst := p.Inputs[1].(Weights)
			if xConst && yConst {
				return status.Unimplementedf("constant folding is not supported: both inputs of %s are constants", p.Node)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	op := binaryOps[p.Node.Op]
	x, y := p.Inputs[0], p.Inputs[1]
	xDims, yDims, err := shape.BroadcastReconcile(operandOf(x), operandOf(y))
	if err != nil {
		return nil, errors.WithMessagef(err, "broadcasting inputs of %s", p.Node)
	}
	if err := checkReshape(x, xDims); err != nil {
		return nil, err
	}
	if err := checkReshape(y, yDims); err != nil {
		return nil, err
	}
	dtype, _ := p.Node.DTypeAttr("T")

	return func(c *Converter) ([]Value, error) {
		a, err := c.prepareTensorForShape(x, xDims)
		if err != nil {
			return nil, err
		}
		b, err := c.prepareTensorForShape(y, yDims)
		if err != nil {
			return nil, err
		}
		if a.DType() != dtype || b.DType() != dtype {
			exceptions.Panicf("operands of %s have dtypes %s and %s, but the node is declared as %s",
				p.Node, a.DType(), b.DType(), dtype)
		}
		layer, err := c.net.AddElementWise(a, b, op)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

func convertUnary(p *Params) (emitFn, error) {
	if err := p.validate(inputsAre(tensorInput("x")), dtypeIn("T", floatTypes...), inputDTypesAre("T")); err != nil {
		return nil, err
	}
	op := unaryOps[p.Node.Op]
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddUnary(x.handle, op)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.provideOutputRange(p.Node.Op, out)
		if rangePreservingOps[p.Node.Op] {
			c.MarkQuantizationRangesAsInferable(x.handle, out)
		}
		return []Value{tensorFor(out)}, nil
	}, nil
}

func convertActivation(p *Params) (emitFn, error) {
	if err := p.validate(inputsAre(tensorInput("x")), dtypeIn("T", floatTypes...), inputDTypesAre("T")); err != nil {
		return nil, err
	}
	activation := activationOps[p.Node.Op]
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddActivation(x.handle, activation)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.provideOutputRange(p.Node.Op, out)
		return []Value{tensorFor(out)}, nil
	}, nil
}

// convertRelu6 lowers min(relu(x), 6).
func convertRelu6(p *Params) (emitFn, error) {
	if err := p.validate(inputsAre(tensorInput("x")), dtypeIn("T", floatTypes...), inputDTypesAre("T")); err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		relu, err := c.net.AddActivation(x.handle, network.ReLU)
		if err != nil {
			return nil, err
		}
		c.provideOutputRange("Relu6", relu.Output(0))
		six, err := c.broadcastableScalar(6, x.dtype, x.dims.Rank())
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddElementWise(relu.Output(0), six, network.Min)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.provideOutputRange("Relu6", out)
		return []Value{tensorFor(out)}, nil
	}, nil
}

// convertLeakyRelu lowers max(x, alpha*x), valid for alpha in [0, 1].
func convertLeakyRelu(p *Params) (emitFn, error) {
	var alpha float32
	err := p.validate(
		inputsAre(tensorInput("x")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) (err error) {
			alpha, err = p.Node.FloatAttrOr("alpha", 0.2)
			if err != nil {
				return err
			}
			if alpha < 0 || alpha > 1 {
				return status.Unimplementedf("alpha value %g for %s must be in [0, 1]", alpha, p.Node)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		alphaTensor, err := c.broadcastableScalar(alpha, x.dtype, x.dims.Rank())
		if err != nil {
			return nil, err
		}
		scaled, err := c.net.AddElementWise(x.handle, alphaTensor, network.Prod)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddElementWise(x.handle, scaled.Output(0), network.Max)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(x.handle, scaled.Output(0))
		c.MarkQuantizationRangesAsInferable(x.handle, out)
		return []Value{tensorFor(out)}, nil
	}, nil
}

// convertRsqrt lowers 1/sqrt(x). The range of the intermediate sqrt can only come from calibration.
func convertRsqrt(p *Params) (emitFn, error) {
	err := p.validate(
		inputsAre(tensorInput("x")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) error {
			if p.Config.int8WithoutCalibration() {
				return status.Unimplementedf(
					"intermediate quantization range cannot be determined without calibration for %s", p.Node)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		sqrt, err := c.net.AddUnary(x.handle, network.Sqrt)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddUnary(sqrt.Output(0), network.Recip)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// convertSquare lowers x^2.
func convertSquare(p *Params) (emitFn, error) {
	if err := p.validate(inputsAre(tensorInput("x")), dtypeIn("T", floatTypes...), inputDTypesAre("T")); err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		two, err := c.broadcastableScalar(2, x.dtype, x.dims.Rank())
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddElementWise(x.handle, two, network.Pow)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// convertBiasAdd adds a 1D constant bias along the channels axis.
func convertBiasAdd(p *Params) (emitFn, error) {
	var biasDims shape.Dims
	err := p.validate(
		inputsAre(tensorInput("value"), weightsInput("bias")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) error {
			x, bias := p.tensor(0), p.weights(1)
			if bias.dims.Rank() != 1 {
				return status.InvalidArgumentf("bias of %s must be 1D, got %s", p.Node, bias.dims)
			}
			if bias.dtype != x.dtype {
				return status.InvalidArgumentf("bias of %s is %s, expected %s", p.Node, bias.dtype, x.dtype)
			}
			if x.dims.Rank() < 1 {
				return status.InvalidArgumentf("input of %s must have at least 2 dimensions", p.Node)
			}
			format, err := dataFormat(p)
			if err != nil {
				return err
			}
			ones := make([]int, x.dims.Rank())
			for ii := range ones {
				ones[ii] = 1
			}
			channelAxis := x.dims.Rank() - 1
			if format == "NCHW" {
				channelAxis = 0
			}
			if dim := x.dims.Dim(channelAxis); dim != shape.UnknownDim && dim != bias.dims.Dim(0) {
				return status.InvalidArgumentf("bias of %s has %d values for %d channels", p.Node, bias.dims.Dim(0), dim)
			}
			ones[channelAxis] = bias.dims.Dim(0)
			biasDims = shape.Make(ones...)
			return nil
		})
	if err != nil {
		return nil, err
	}
	x, bias := p.tensor(0), p.weights(1)
	return func(c *Converter) ([]Value, error) {
		b, err := c.prepareTensorForShape(bias, biasDims)
		if err != nil {
			return nil, err
		}
		layer, err := c.net.AddElementWise(x.handle, b, network.Sum)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// dataFormat returns the "data_format" attribute: "NHWC" (the default) or "NCHW".
func dataFormat(p *Params) (string, error) {
	format, err := p.Node.StringAttrOr("data_format", "NHWC")
	if err != nil {
		return "", err
	}
	if format != "NHWC" && format != "NCHW" {
		return "", status.InvalidArgumentf("unknown data_format %q for %s", format, p.Node)
	}
	return format, nil
}
