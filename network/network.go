// Package network is the target IR of the lowering pass: an accelerator network definition made of
// layers connected by symbolic tensors.
//
// Tensors in a Network have an implicit batch dimension: their dims never include it. Layers are
// created with the typed Add* methods, which infer the dims of their outputs and fail with a
// status.InvalidArgument error on inconsistent inputs. Boundary tensors (inputs and outputs) carry
// unique names.
//
// A Network is single writer: it must not be modified concurrently.
package network

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
)

// Network is an accelerator network definition under construction.
type Network struct {
	tensors []*Tensor
	layers  []*Layer
	inputs  []*Tensor
	outputs []*Tensor

	// boundaryNames are the names of inputs and outputs, which must be unique.
	boundaryNames sets.Set[string]
}

// New creates an empty Network.
func New() *Network {
	return &Network{boundaryNames: sets.Make[string]()}
}

// Tensor is a symbolic value of the network.
type Tensor struct {
	net      *Network
	id       int
	name     string
	dtype    dtypes.DType
	dims     shape.Dims
	producer *Layer

	isInput, isOutput  bool
	hasRange           bool
	rangeMin, rangeMax float32
}

// ID is the creation index of the tensor in its network.
func (t *Tensor) ID() int { return t.id }

// Name of the tensor. Tensors not explicitly named are called "(Unnamed tensor <id>)".
func (t *Tensor) Name() string { return t.name }

// SetName renames the tensor. Boundary tensors can't be renamed.
func (t *Tensor) SetName(name string) error {
	if t.IsBoundary() {
		return status.InvalidArgumentf("cannot rename network boundary tensor %q to %q", t.name, name)
	}
	t.name = name
	return nil
}

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dims of the tensor, not including the batch dimension.
func (t *Tensor) Dims() shape.Dims { return t.dims }

// Producer returns the layer that produces the tensor, or nil for network inputs.
func (t *Tensor) Producer() *Layer { return t.producer }

// IsInput returns whether the tensor is a network input.
func (t *Tensor) IsInput() bool { return t.isInput }

// IsOutput returns whether the tensor is marked as a network output.
func (t *Tensor) IsOutput() bool { return t.isOutput }

// IsBoundary returns whether the tensor is a network input or output.
func (t *Tensor) IsBoundary() bool { return t.isInput || t.isOutput }

// SetDynamicRange declares the range of values the tensor may hold, used for reduced precision.
func (t *Tensor) SetDynamicRange(lo, hi float32) error {
	if lo > hi {
		return status.InvalidArgumentf("invalid dynamic range [%g, %g] for tensor %q", lo, hi, t.name)
	}
	t.hasRange, t.rangeMin, t.rangeMax = true, lo, hi
	return nil
}

// DynamicRange returns the declared range of the tensor, if any.
func (t *Tensor) DynamicRange() (lo, hi float32, ok bool) {
	return t.rangeMin, t.rangeMax, t.hasRange
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	s := fmt.Sprintf("%s %s%s", t.name, dtypeName(t.dtype), t.dims)
	if t.hasRange {
		s += fmt.Sprintf(" range=[%g,%g]", t.rangeMin, t.rangeMax)
	}
	return s
}

// Layer is one operation of the network.
type Layer struct {
	index   int
	name    string
	kind    LayerKind
	inputs  []*Tensor
	outputs []*Tensor
	params  fmt.Stringer
}

// Kind of the layer.
func (l *Layer) Kind() LayerKind { return l.kind }

// Name of the layer, empty if not set.
func (l *Layer) Name() string { return l.name }

// SetName sets the name of the layer.
func (l *Layer) SetName(name string) { l.name = name }

// Inputs of the layer.
func (l *Layer) Inputs() []*Tensor { return l.inputs }

// NumOutputs of the layer.
func (l *Layer) NumOutputs() int { return len(l.outputs) }

// Output returns the i-th output of the layer.
func (l *Layer) Output(i int) *Tensor { return l.outputs[i] }

// Params returns the parameters of the layer, one of the *Params types of this package.
func (l *Layer) Params() fmt.Stringer { return l.params }

// Inputs of the network, in the order they were added.
func (n *Network) Inputs() []*Tensor { return n.inputs }

// Outputs of the network, in the order they were marked.
func (n *Network) Outputs() []*Tensor { return n.outputs }

// Layers of the network, in creation order.
func (n *Network) Layers() []*Layer { return n.layers }

// Tensors of the network, in creation order.
func (n *Network) Tensors() []*Tensor { return n.tensors }

// supportedDType returns whether the network can hold tensors of the dtype.
func supportedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float32, dtypes.Float16, dtypes.Int32, dtypes.Int8:
		return true
	}
	return false
}

func (n *Network) newTensor(dtype dtypes.DType, dims shape.Dims, producer *Layer) *Tensor {
	t := &Tensor{
		net:      n,
		id:       len(n.tensors),
		dtype:    dtype,
		dims:     dims,
		producer: producer,
	}
	t.name = fmt.Sprintf("(Unnamed tensor %d)", t.id)
	n.tensors = append(n.tensors, t)
	return t
}

// AddInput creates a network input. Its dims must be static and its name unique among the boundary tensors.
func (n *Network) AddInput(name string, dtype dtypes.DType, dims shape.Dims) (*Tensor, error) {
	if name == "" {
		return nil, status.InvalidArgumentf("network input must have a name")
	}
	if n.boundaryNames.Has(name) {
		return nil, status.AlreadyExistsf("network boundary name %q already in use", name)
	}
	if !supportedDType(dtype) {
		return nil, status.InvalidArgumentf("unsupported dtype %s for network input %q", dtype, name)
	}
	if !shape.HasStaticShape(dims) {
		return nil, status.InvalidArgumentf("network input %q must have a static shape, got %s", name, dims)
	}
	t := n.newTensor(dtype, dims, nil)
	t.name = name
	t.isInput = true
	n.boundaryNames.Insert(name)
	n.inputs = append(n.inputs, t)
	return t, nil
}

// MarkOutput binds the tensor as a network output with the given name.
//
// A tensor can only become a boundary once: marking an input or an already marked output fails
// with AlreadyExists, and callers should route it through an identity layer first.
func (n *Network) MarkOutput(t *Tensor, name string) error {
	if err := n.checkTensor(t); err != nil {
		return err
	}
	if t.IsBoundary() {
		return status.AlreadyExistsf("tensor %q is already a network boundary, it can't be marked as output %q", t.name, name)
	}
	if name == "" {
		return status.InvalidArgumentf("network output must have a name")
	}
	if n.boundaryNames.Has(name) {
		return status.AlreadyExistsf("network boundary name %q already in use", name)
	}
	t.name = name
	t.isOutput = true
	n.boundaryNames.Insert(name)
	n.outputs = append(n.outputs, t)
	return nil
}

// checkTensor verifies the tensor is valid for use in this network.
func (n *Network) checkTensor(t *Tensor) error {
	if t == nil {
		return status.InvalidArgumentf("nil network tensor")
	}
	if t.net != n {
		return status.InvalidArgumentf("tensor %q belongs to a different network", t.name)
	}
	return nil
}

// addLayer creates the layer, its output tensors with the given dims and dtypes, and registers them.
func (n *Network) addLayer(kind LayerKind, params fmt.Stringer, inputs []*Tensor, outDTypes []dtypes.DType, outDims []shape.Dims) *Layer {
	l := &Layer{
		index:  len(n.layers),
		kind:   kind,
		inputs: inputs,
		params: params,
	}
	for ii, dtype := range outDTypes {
		l.outputs = append(l.outputs, n.newTensor(dtype, outDims[ii], l))
	}
	n.layers = append(n.layers, l)
	return l
}

// addSimpleLayer creates a layer with one output of the given dtype and dims.
func (n *Network) addSimpleLayer(kind LayerKind, params fmt.Stringer, inputs []*Tensor, dtype dtypes.DType, dims shape.Dims) *Layer {
	return n.addLayer(kind, params, inputs, []dtypes.DType{dtype}, []shape.Dims{dims})
}

func dtypeName(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Float32:
		return "float32"
	case dtypes.Float16:
		return "float16"
	case dtypes.Int32:
		return "int32"
	case dtypes.Int8:
		return "int8"
	}
	return dtype.String()
}
