// Package lower translates a source graph (graphdef), node by node, into an accelerator network
// (network).
//
//   - Converter: one lowering pass in build mode. It owns the Store of published Values, the Arena
//     of constant weights and the RangeTracker of quantization ranges.
//   - Validator: answers whether a node can be lowered given its inputs, without building anything.
//   - ConvertGraph: lowers a whole graph, including its boundary inputs and outputs.
//
// Both modes run the same checks for every op, so a node accepted by the Validator converts
// successfully in build mode given the same inputs.
//
// A pass is single threaded; independent passes can run in parallel, each with its own Converter.
package lower

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Converter lowers nodes into a network. Create it with NewConverter.
type Converter struct {
	passID string
	cfg    Config
	net    *network.Network
	store  *Store
	arena  *Arena
	ranges *RangeTracker
}

// NewConverter creates a Converter that builds into net.
func NewConverter(net *network.Network, cfg Config) (*Converter, error) {
	if net == nil {
		return nil, status.InvalidArgumentf("a Converter requires a network, use a Validator for validate-only queries")
	}
	c := &Converter{
		passID: uuid.Must(uuid.NewV7()).String(),
		cfg:    cfg,
		net:    net,
		store:  NewStore(),
		arena:  NewArena(),
		ranges: NewRangeTracker(),
	}
	klog.V(1).Infof("pass %s: new lowering pass, precision=%s calibration=%v", c.passID, cfg.Precision, cfg.UseCalibration)
	return c, nil
}

// WithPrecision sets the precision mode. It returns the Converter itself, so calls can be chained.
func (c *Converter) WithPrecision(mode PrecisionMode) *Converter {
	c.cfg.Precision = mode
	return c
}

// WithCalibration sets whether INT8 ranges come from calibration. It returns the Converter itself.
func (c *Converter) WithCalibration(useCalibration bool) *Converter {
	c.cfg.UseCalibration = useCalibration
	return c
}

// PassID identifies the pass in logs.
func (c *Converter) PassID() string { return c.passID }

// Config of the pass.
func (c *Converter) Config() Config { return c.cfg }

// Network being built.
func (c *Converter) Network() *network.Network { return c.net }

// Store of published values.
func (c *Converter) Store() *Store { return c.store }

// Arena owning the constant weights of the pass.
func (c *Converter) Arena() *Arena { return c.arena }

// Ranges collected for quantization.
func (c *Converter) Ranges() *RangeTracker { return c.ranges }

// ConvertNode lowers one node, whose inputs must have been published already.
//
// Outputs are published as "name" for the first and "name:<i>" for the others. On failure nothing
// is published.
func (c *Converter) ConvertNode(node *graphdef.NodeDef) error {
	klog.V(2).Infof("pass %s: converting node %s", c.passID, node)
	inputs, err := c.getInputs(node)
	if err != nil {
		return err
	}
	conv, err := lookupConverter(node.Op)
	if err != nil {
		return err
	}
	outputs, err := runConverter(conv, &Params{Node: node, Inputs: inputs, Config: c.cfg}, c)
	if err != nil {
		return errors.WithMessagef(err, "converting node %s", node)
	}

	names := make([]string, len(outputs))
	for ii := range outputs {
		names[ii] = graphdef.OutputKey(node.Name, ii)
		if c.store.Has(names[ii]) {
			return status.AlreadyExistsf("failed to add output %q of node %s: name already in use", names[ii], node)
		}
	}
	for ii, output := range outputs {
		if t, ok := output.(*Tensor); ok && t.handle != nil && !t.handle.IsBoundary() {
			if err := t.handle.SetName(names[ii]); err != nil {
				return err
			}
		}
		if err := c.store.Insert(names[ii], output); err != nil {
			return errors.WithMessagef(err, "failed to add output of node %s", node)
		}
	}
	return nil
}

// runConverter runs the checks of the converter and, if c is not nil (build mode), the emit step.
// Internal invariant violations (panics) are returned as Internal errors.
func runConverter(conv opConverter, p *Params, c *Converter) (outputs []Value, err error) {
	caught := exceptions.TryCatch[error](func() {
		var emit emitFn
		emit, err = conv(p)
		if err != nil || c == nil {
			return
		}
		outputs, err = emit(c)
	})
	if caught != nil {
		return nil, status.WithKind(caught, status.Internal, "engine defect converting %s", p.Node)
	}
	return outputs, err
}

// getInputs resolves the data inputs of the node. Control inputs are skipped.
func (c *Converter) getInputs(node *graphdef.NodeDef) ([]Value, error) {
	inputs := make([]Value, 0, len(node.Inputs))
	for _, input := range node.Inputs {
		ref, err := graphdef.ParseInput(input)
		if err != nil {
			return nil, err
		}
		if ref.Control {
			continue
		}
		value, err := c.store.Lookup(ref.Key())
		if err != nil {
			return nil, errors.WithMessagef(err, "input %q of node %s", input, node)
		}
		inputs = append(inputs, value)
	}
	return inputs, nil
}

// AddInputTensor creates a network input and publishes it under name.
func (c *Converter) AddInputTensor(name string, dtype dtypes.DType, dims shape.Dims, batchSize int) error {
	if err := c.store.UpdateBatchSize(batchSize); err != nil {
		return errors.WithMessagef(err, "input %q", name)
	}
	handle, err := c.net.AddInput(name, dtype, dims)
	if err != nil {
		return errors.WithMessagef(err, "failed to create input tensor %q", name)
	}
	return c.store.Insert(name, tensorFor(handle))
}

// EngineOutput describes one output of the network: the published value Source becomes the network
// output Name, with the given dtype.
type EngineOutput struct {
	Source string
	Name   string
	DType  dtypes.DType
}

// RenameAndMarkOutputTensors marks the sources of outputs as network outputs.
// A source that is already a network boundary is first copied through an identity layer.
func (c *Converter) RenameAndMarkOutputTensors(outputs []EngineOutput) error {
	for _, output := range outputs {
		value, err := c.store.Lookup(output.Source)
		if err != nil {
			return errors.WithMessagef(err, "output %q", output.Name)
		}
		var t *Tensor
		switch v := value.(type) {
		case *Tensor:
			t = v
		case Weights:
			return status.InvalidArgumentf("output %q is weights not tensor", output.Name)
		}
		handle := t.handle
		if handle.IsBoundary() {
			layer, err := c.net.AddIdentity(handle)
			if err != nil {
				return err
			}
			handle = layer.Output(0)
			c.MarkQuantizationRangesAsInferable(t.handle, handle)
		}
		if handle.DType() != output.DType {
			return status.InvalidArgumentf("output %q declared as %s but its source %q is %s",
				output.Name, output.DType, output.Source, handle.DType())
		}
		if err := c.net.MarkOutput(handle, output.Name); err != nil {
			return err
		}
		klog.V(1).Infof("pass %s: marked output %q from %q", c.passID, output.Name, output.Source)
	}
	return nil
}

// ProvideQuantizationRange records the range [lo, hi] for the tensor.
func (c *Converter) ProvideQuantizationRange(t *network.Tensor, lo, hi float32) {
	c.ranges.ProvideRange(t, lo, hi)
}

// MarkQuantizationRangesAsInferable records that a and b share the same range.
func (c *Converter) MarkQuantizationRangesAsInferable(a, b *network.Tensor) {
	c.ranges.MarkInferable(a, b)
}

// MaybeApplyQuantizationRanges propagates and applies the ranges, in INT8 mode only.
// It returns the names of the tensors left without a range.
func (c *Converter) MaybeApplyQuantizationRanges() ([]string, error) {
	if c.cfg.Precision != INT8 {
		return nil, nil
	}
	steps := c.ranges.Propagate()
	klog.V(1).Infof("pass %s: quantization ranges propagated in %d steps", c.passID, steps)
	return c.ranges.Finalize(c.net, c.cfg.UseCalibration)
}

// prepareTensorForShape returns a network tensor with the value reshaped to dims.
// Weights become a constant layer. Reshaping between static shapes of different sizes is an
// InvalidArgument error.
func (c *Converter) prepareTensorForShape(value Value, dims shape.Dims) (*network.Tensor, error) {
	if err := checkReshape(value, dims); err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case *Tensor:
		if v.handle.Dims().Equal(dims) {
			return v.handle, nil
		}
		layer, err := c.net.AddShuffle(v.handle, network.ShuffleParams{Reshape: &dims})
		if err != nil {
			return nil, err
		}
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(v.handle, out)
		return out, nil
	case Weights:
		return c.constantTensor(v, dims)
	}
	exceptions.Panicf("unknown Value type %T", value)
	return nil, nil
}

// checkReshape is the legality part of prepareTensorForShape, usable by checks.
func checkReshape(value Value, dims shape.Dims) error {
	var count, target int64
	switch v := value.(type) {
	case *Tensor:
		if !shape.StaticWithDifferentSize(v.dims, dims) {
			return nil
		}
		count, target = shape.TensorElementCount(v.dims), shape.TensorElementCount(dims)
	case Weights:
		count, target = v.Count(), shape.TensorElementCount(dims)
		if target < 0 || count == target {
			return nil
		}
	}
	return status.InvalidArgumentf("incompatible shapes: %s (%d elements) vs %s (%d elements)",
		value.Dims(), count, dims, target)
}

// constantTensor creates a constant layer with the weights. Without calibration in INT8 mode, the
// range of the weights becomes the quantization range of the constant.
func (c *Converter) constantTensor(w Weights, dims shape.Dims) (*network.Tensor, error) {
	layer, err := c.net.AddConstant(dims, w.netWeights())
	if err != nil {
		return nil, err
	}
	out := layer.Output(0)
	if c.cfg.int8WithoutCalibration() {
		lo, hi, err := w.weightRange()
		if err != nil {
			return nil, err
		}
		if lo == 0 && hi == 0 {
			// All zeros: any range works, use the largest INT8 one.
			lo, hi = -127, 127
		}
		c.ProvideQuantizationRange(out, lo, hi)
	}
	return out, nil
}

// broadcastableScalar creates a constant of rank rank, all dimensions 1, holding value.
func (c *Converter) broadcastableScalar(value float32, dtype dtypes.DType, rank int) (*network.Tensor, error) {
	ones := make([]int, rank)
	for ii := range ones {
		ones[ii] = 1
	}
	dims, err := shape.New(ones...)
	if err != nil {
		return nil, err
	}
	weightDims := dims
	if rank == 0 {
		weightDims = shape.Make(1)
	}
	w, err := c.arena.GetTempWeights(dtype, weightDims)
	if err != nil {
		return nil, err
	}
	w.setFloat32s([]float32{value})
	return c.constantTensor(w, dims)
}

// transposeTensor transposes the tensor with a batch-inclusive permutation, whose first entry must be 0.
func (c *Converter) transposeTensor(t *network.Tensor, permWithBatch []int) (*network.Tensor, error) {
	if err := checkTransposePerm(t.Dims().Rank(), permWithBatch); err != nil {
		return nil, err
	}
	perm := make([]int, len(permWithBatch)-1)
	for ii := range perm {
		perm[ii] = permWithBatch[ii+1] - 1
	}
	layer, err := c.net.AddShuffle(t, network.ShuffleParams{FirstTranspose: perm})
	if err != nil {
		return nil, err
	}
	out := layer.Output(0)
	c.MarkQuantizationRangesAsInferable(t, out)
	return out, nil
}

// checkTransposePerm verifies a batch-inclusive permutation for a tensor of the given rank.
func checkTransposePerm(rank int, permWithBatch []int) error {
	if len(permWithBatch)-1 != rank {
		return status.InvalidArgumentf("rank of perm for transpose does not match with that of the input: %v vs rank %d",
			permWithBatch, rank)
	}
	if permWithBatch[0] != 0 {
		return status.Unimplementedf("transpose at batch dimension is not supported")
	}
	return nil
}
