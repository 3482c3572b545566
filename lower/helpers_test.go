package lower

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/stretchr/testify/require"
)

// attrs is a shorthand for node attributes in tests.
type attrs = map[string]graphdef.AttrValue

var floatT = graphdef.Type(graphdef.DTFloat)

// newNode creates a node, with T=DT_FLOAT unless the attributes define T.
func newNode(op, name string, inputs []string, nodeAttrs attrs) *graphdef.NodeDef {
	all := attrs{"T": floatT}
	for key, value := range nodeAttrs {
		all[key] = value
	}
	return &graphdef.NodeDef{Name: name, Op: op, Inputs: inputs, Attrs: all}
}

// newConverter returns a Converter over a fresh network.
func newConverter(t *testing.T, cfg Config) *Converter {
	t.Helper()
	c, err := NewConverter(network.New(), cfg)
	require.NoError(t, err)
	return c
}

// addInput adds a float32 network input with the given batch-elided dims, and returns its Value.
func addInput(t *testing.T, c *Converter, name string, dims ...int) *Tensor {
	t.Helper()
	return addTypedInput(t, c, name, dtypes.Float32, dims...)
}

func addTypedInput(t *testing.T, c *Converter, name string, dtype dtypes.DType, dims ...int) *Tensor {
	t.Helper()
	require.NoError(t, c.AddInputTensor(name, dtype, shape.Make(dims...), -1))
	value, err := c.Store().Lookup(name)
	require.NoError(t, err)
	return value.(*Tensor)
}

// floatWeights allocates float32 weights in the arena. Missing values are zero.
func floatWeights(t *testing.T, arena *Arena, dims []int, values ...float32) Weights {
	t.Helper()
	w, err := arena.GetTempWeights(dtypes.Float32, shape.Make(dims...))
	require.NoError(t, err)
	copy(w.Float32s(), values)
	return w
}

// intWeights allocates int32 weights in the arena.
func intWeights(t *testing.T, arena *Arena, dims []int, values ...int32) Weights {
	t.Helper()
	w, err := arena.GetTempWeights(dtypes.Int32, shape.Make(dims...))
	require.NoError(t, err)
	copy(w.Int32s(), values)
	return w
}

// publish stores the value in the converter under name.
func publish(t *testing.T, c *Converter, name string, value Value) {
	t.Helper()
	require.NoError(t, c.Store().Insert(name, value))
}

// output returns the network tensor published under name.
func output(t *testing.T, c *Converter, name string) *network.Tensor {
	t.Helper()
	value, err := c.Store().Lookup(name)
	require.NoError(t, err)
	tensor, ok := value.(*Tensor)
	require.Truef(t, ok, "%q is %s, not a tensor", name, value)
	return tensor.Handle()
}

// layerKinds lists the kinds of the layers of the network, in order.
func layerKinds(net *network.Network) []network.LayerKind {
	var kinds []network.LayerKind
	for _, l := range net.Layers() {
		kinds = append(kinds, l.Kind())
	}
	return kinds
}

// validationTensor returns the Value a Validator uses for a tensor of the given batch-elided dims.
func validationTensor(t *testing.T, v *Validator, dims ...int) *Tensor {
	t.Helper()
	x, err := v.TensorValue("Placeholder", dtypes.Float32, append([]int{-1}, dims...))
	require.NoError(t, err)
	return x
}
