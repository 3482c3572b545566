package lower

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/status"
)

// emitFn adds the layers of a node to the network and returns the node outputs.
// It is only called in build mode, after every check passed.
type emitFn func(c *Converter) ([]Value, error)

// opConverter runs every legality check of a node and returns the function that emits it.
//
// It has no access to the network nor to the mode of the pass: validate-only and build modes run
// exactly the same checks, and differ only on whether the returned emitFn is called.
type opConverter func(p *Params) (emitFn, error)

// Params are the arguments of an opConverter.
type Params struct {
	Node   *graphdef.NodeDef
	Inputs []Value
	Config Config
}

var (
	registryOnce sync.Once
	registry     map[string]opConverter
)

// converters returns the op type to converter map. It is built once and read-only afterwards.
func converters() map[string]opConverter {
	registryOnce.Do(func() {
		registry = buildRegistry()
	})
	return registry
}

func buildRegistry() map[string]opConverter {
	r := map[string]opConverter{
		"Const":                 convertConst,
		"Identity":              convertIdentity,
		"Snapshot":              convertIdentity,
		"Relu6":                 convertRelu6,
		"LeakyRelu":             convertLeakyRelu,
		"Rsqrt":                 convertRsqrt,
		"Square":                convertSquare,
		"BiasAdd":               convertBiasAdd,
		"Conv2D":                convertConv2D,
		"DepthwiseConv2dNative": convertDepthwiseConv2D,
		"Conv2DBackpropInput":   convertConv2DBackpropInput,
		"MaxPool":               convertPool,
		"AvgPool":               convertPool,
		"Transpose":             convertTranspose,
		"Reshape":               convertReshape,
		"ExpandDims":            convertExpandDims,
		"Squeeze":               convertSqueeze,
		"Slice":                 convertSlice,
		"StridedSlice":          convertStridedSlice,
		"Pack":                  convertPack,
		"Unpack":                convertUnpack,
		"Split":                 convertSplit,
		"ConcatV2":              convertConcat,
		"Pad":                   convertPad,
		"ArgMin":                convertArgMinMax,
		"ArgMax":                convertArgMinMax,
		"TopKV2":                convertTopK,
		"Softmax":               convertSoftmax,
		"FusedBatchNorm":        convertFusedBatchNorm,
		"FusedBatchNormV2":      convertFusedBatchNorm,
		"MatMul":                convertMatMul,
		"BatchMatMul":           convertBatchMatMul,
		"GatherV2":              convertGather,
	}
	for op := range binaryOps {
		r[op] = convertBinary
	}
	for op := range unaryOps {
		r[op] = convertUnary
	}
	for op := range activationOps {
		r[op] = convertActivation
	}
	for op := range reduceOps {
		r[op] = convertReduce
	}
	for _, op := range quantizationOps {
		r[op] = convertQuantize
	}
	return r
}

// lookupConverter returns the converter for the op type, or an Unimplemented error.
func lookupConverter(op string) (opConverter, error) {
	conv, found := converters()[op]
	if !found {
		return nil, status.Unimplementedf("no converter registered for op %q", op)
	}
	return conv, nil
}

// SupportedOps returns the sorted list of op types that can be lowered.
func SupportedOps() []string {
	return slices.Sorted(maps.Keys(converters()))
}

// check is one step of the validation pipeline of a converter.
type check func(p *Params) error

// validate runs the checks in order: the first failing check wins.
func (p *Params) validate(checks ...check) error {
	for _, c := range checks {
		if err := c(p); err != nil {
			return err
		}
	}
	return nil
}

type inputKind int

const (
	tensorKind inputKind = iota
	weightsKind
	anyKind
)

type inputSpec struct {
	name string
	kind inputKind
}

// tensorInput declares an input that must be a runtime tensor.
func tensorInput(name string) inputSpec { return inputSpec{name: name, kind: tensorKind} }

// weightsInput declares an input that must be constant weights.
func weightsInput(name string) inputSpec { return inputSpec{name: name, kind: weightsKind} }

// anyInput declares an input that can be either.
func anyInput(name string) inputSpec { return inputSpec{name: name, kind: anyKind} }

// inputsAre checks the number of inputs and whether each one is a tensor or weights.
// A wrong count is InvalidArgument, a wrong kind is Unimplemented.
func inputsAre(specs ...inputSpec) check {
	return func(p *Params) error {
		if len(p.Inputs) != len(specs) {
			return status.InvalidArgumentf("%s got %d inputs but expected %d, at %s",
				p.Node.Op, len(p.Inputs), len(specs), p.Node.Name)
		}
		for ii, spec := range specs {
			switch p.Inputs[ii].(type) {
			case *Tensor:
				if spec.kind == weightsKind {
					return status.Unimplementedf("the input %q for %s must be a constant, at %s",
						spec.name, p.Node.Op, p.Node.Name)
				}
			case Weights:
				if spec.kind == tensorKind {
					return status.Unimplementedf("the input %q for %s must be a tensor, at %s",
						spec.name, p.Node.Op, p.Node.Name)
				}
			}
		}
		return nil
	}
}

// dtypeIn checks the dtype attribute is one of the allowed: a missing attribute is InvalidArgument,
// an unsupported dtype is Unimplemented.
func dtypeIn(attr string, allowed ...dtypes.DType) check {
	return func(p *Params) error {
		dtype, err := p.Node.DTypeAttr(attr)
		if err != nil {
			return err
		}
		if !slices.Contains(allowed, dtype) {
			return status.Unimplementedf("data type %s is not supported for %s, must be one of %v, at %s",
				dtype, p.Node.Op, allowed, p.Node.Name)
		}
		return nil
	}
}

// inputDTypesAre checks the inputs at the given indices (all of them if no index is given) have the
// dtype declared by the attribute. A mismatch is InvalidArgument: the node contradicts its own declaration.
func inputDTypesAre(attr string, indices ...int) check {
	return func(p *Params) error {
		dtype, err := p.Node.DTypeAttr(attr)
		if err != nil {
			return err
		}
		checked := indices
		if len(checked) == 0 {
			checked = make([]int, len(p.Inputs))
			for ii := range checked {
				checked[ii] = ii
			}
		}
		for _, ii := range checked {
			if ii >= len(p.Inputs) {
				return status.InvalidArgumentf("%s has %d inputs, input #%d is missing", p.Node, len(p.Inputs), ii)
			}
			if got := p.Inputs[ii].DType(); got != dtype {
				return status.InvalidArgumentf("input #%d of %s is %s, but %s is %s", ii, p.Node, sourceName(got), attr, sourceName(dtype))
			}
		}
		return nil
	}
}

// sourceName names a dtype the way the source graph does (e.g. DT_HALF), so errors can be matched to the
// graph attributes.
func sourceName(dtype dtypes.DType) string {
	dt, err := graphdef.DataTypeFor(dtype)
	if err != nil {
		return dtype.String()
	}
	return string(dt)
}

// floatTypes are the dtypes accepted by most converters.
var floatTypes = []dtypes.DType{dtypes.Float32, dtypes.Float16}

// floatAndInt32Types are accepted by data movement converters.
var floatAndInt32Types = []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.Int32}

// tensor returns the i-th input, which the checks guaranteed to be a tensor.
func (p *Params) tensor(i int) *Tensor {
	t, ok := p.Inputs[i].(*Tensor)
	if !ok {
		exceptions.Panicf("input #%d of %s is %s, not a tensor", i, p.Node, kindName(p.Inputs[i]))
	}
	return t
}

// weights returns the i-th input, which the checks guaranteed to be weights.
func (p *Params) weights(i int) Weights {
	w, ok := p.Inputs[i].(Weights)
	if !ok {
		exceptions.Panicf("input #%d of %s is %s, not weights", i, p.Node, kindName(p.Inputs[i]))
	}
	return w
}

// intWeights returns the values of the i-th input, which must be int32 weights.
func (p *Params) intWeights(i int, name string) ([]int, error) {
	values, err := p.weights(i).AsInts()
	if err != nil {
		return nil, status.WithKind(err, status.InvalidArgument, "input %q of %s", name, p.Node)
	}
	return values, nil
}
