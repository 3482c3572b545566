package lower

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
)

var reduceOps = map[string]network.ReduceOp{
	"Sum":  network.ReduceSum,
	"Prod": network.ReduceProd,
	"Max":  network.ReduceMax,
	"Min":  network.ReduceMin,
	"Mean": network.ReduceAvg,
}

// axesMask converts source axes to a bit mask of target axes. The batch axis can't be part of it.
func axesMask(p *Params, axes []int, rank int) (uint32, error) {
	var mask uint32
	for _, value := range axes {
		axis, err := shape.ConvertAxis(value, rank, p.Node.Name)
		if err != nil {
			return 0, err
		}
		mask |= 1 << uint(axis)
	}
	return mask, nil
}

func convertReduce(p *Params) (emitFn, error) {
	var (
		mask     uint32
		keepDims bool
	)
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("axis")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T", 0),
		func(p *Params) error {
			axes, err := p.intWeights(1, "axis")
			if err != nil {
				return err
			}
			if len(axes) == 0 {
				return status.InvalidArgumentf("%s must reduce at least one axis", p.Node)
			}
			if keepDims, err = p.Node.BoolAttrOr("keep_dims", false); err != nil {
				return err
			}
			mask, err = axesMask(p, axes, p.tensor(0).dims.Rank())
			return err
		})
	if err != nil {
		return nil, err
	}
	op := reduceOps[p.Node.Op]
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddReduce(x.handle, op, mask, keepDims)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0))}, nil
	}, nil
}

// convertArgMinMax lowers ArgMin/ArgMax to a top-1 layer, whose indices are squeezed along the axis.
func convertArgMinMax(p *Params) (emitFn, error) {
	var (
		axis     int
		squeezed shape.Dims
	)
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("dimension")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T", 0),
		func(p *Params) error {
			outputType, err := p.Node.DTypeAttrOr("output_type", dtypes.Int64)
			if err != nil {
				return err
			}
			if outputType != dtypes.Int32 {
				return status.Unimplementedf("output type %s is not supported for %s, only int32, at %s",
					outputType, p.Node.Op, p.Node.Name)
			}
			value, err := scalarInt(p, 1, "dimension")
			if err != nil {
				return err
			}
			x := p.tensor(0)
			if axis, err = shape.ConvertAxis(value, x.dims.Rank(), p.Node.Name); err != nil {
				return err
			}
			squeezed, err = x.dims.Remove(axis)
			return err
		})
	if err != nil {
		return nil, err
	}
	op := network.TopKMax
	if p.Node.Op == "ArgMin" {
		op = network.TopKMin
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddTopK(x.handle, op, 1, 1<<uint(axis))
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		indices, err := c.prepareTensorForShape(tensorFor(layer.Output(1)), squeezed)
		if err != nil {
			return nil, err
		}
		return []Value{tensorFor(indices)}, nil
	}, nil
}

// convertTopK lowers TopKV2 along the last axis. It has two outputs: the values and their int32 indices.
func convertTopK(p *Params) (emitFn, error) {
	var k int
	err := p.validate(
		inputsAre(tensorInput("input"), weightsInput("k")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T", 0),
		func(p *Params) (err error) {
			sorted, err := p.Node.BoolAttrOr("sorted", true)
			if err != nil {
				return err
			}
			if !sorted {
				return status.Unimplementedf("only sorted=true is supported for %s, at %s", p.Node.Op, p.Node.Name)
			}
			if k, err = scalarInt(p, 1, "k"); err != nil {
				return err
			}
			x := p.tensor(0)
			if x.dims.Rank() == 0 {
				return status.Unimplementedf("%s over the batch dimension is not supported, at %s", p.Node.Op, p.Node.Name)
			}
			if dim := x.dims.Dim(-1); k <= 0 || (dim != shape.UnknownDim && k > dim) {
				return status.InvalidArgumentf("k=%d is out of range for the last axis of %s, at %s", k, x.dims, p.Node.Name)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddTopK(x.handle, network.TopKMax, k, 1<<uint(x.dims.Rank()-1))
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		return []Value{tensorFor(layer.Output(0)), tensorFor(layer.Output(1))}, nil
	}, nil
}

// convertSoftmax applies softmax along the last axis.
func convertSoftmax(p *Params) (emitFn, error) {
	err := p.validate(
		inputsAre(tensorInput("logits")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) error {
			if p.tensor(0).dims.Rank() == 0 {
				return status.Unimplementedf("%s over the batch dimension is not supported, at %s", p.Node.Op, p.Node.Name)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	return func(c *Converter) ([]Value, error) {
		layer, err := c.net.AddSoftMax(x.handle, 1<<uint(x.dims.Rank()-1))
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.provideOutputRange(p.Node.Op, out)
		return []Value{tensorFor(out)}, nil
	}, nil
}
