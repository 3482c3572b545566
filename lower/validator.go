package lower

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

// Validator answers whether nodes can be lowered, without building a network.
//
// It runs the same checks as a Converter in build mode: a node it accepts converts successfully
// given the same inputs. It is meant for a partitioning step deciding which nodes to offload.
type Validator struct {
	cfg Config

	// scratch holds the weights of constants created by ConstValue. It is never shared with a Converter.
	scratch *Arena
}

// NewValidator creates a Validator for the given configuration.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg, scratch: NewArena()}
}

// ValidateNode returns nil if the node can be lowered given its inputs (one per data input of the node),
// or the error a Converter would return. The error kind is what matters: Unimplemented means the node
// is well-formed but not supported.
func (v *Validator) ValidateNode(node *graphdef.NodeDef, inputs []Value) error {
	if isQuantizationOp(node.Op) && v.cfg.Precision != INT8 {
		return status.Unimplementedf("op %s is only supported in INT8 precision mode, at %s", node.Op, node.Name)
	}
	conv, err := lookupConverter(node.Op)
	if err != nil {
		return err
	}
	_, err = runConverter(conv, &Params{Node: node, Inputs: inputs, Config: v.cfg}, nil)
	return err
}

// TensorValue returns a Value describing a tensor produced by an op of type producerOp, with the given
// dtype and batch-inclusive shape (nil for unknown rank, -1 for unknown dimensions).
func (v *Validator) TensorValue(producerOp string, dtype dtypes.DType, dims []int) (*Tensor, error) {
	dtype, elided, batchSize, err := ValidateTensorProperties(producerOp, dtype, dims, true)
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dtype, dims: elided, batchSize: batchSize}, nil
}

// ConstValue returns the weights of a Const node, as a Converter would publish them.
func (v *Validator) ConstValue(node *graphdef.NodeDef) (Weights, error) {
	if node.Op != "Const" {
		return Weights{}, status.InvalidArgumentf("%s is not a constant", node)
	}
	cv, err := decodeConst(node)
	if err != nil {
		return Weights{}, err
	}
	return cv.weights(v.scratch)
}

var tensorTypes = []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.Int32}

// ValidateTensorProperties checks a tensor of the source graph, produced by an op of type producerOp,
// can be represented in the network. dims is batch-inclusive, nil for unknown rank and with -1 for
// unknown dimensions.
//
// It returns the network dtype, the batch-elided dims and the batch size (-1 if unknown).
// Unknown non-batch dimensions are only accepted if validationOnly is true.
func ValidateTensorProperties(producerOp string, dtype dtypes.DType, dims []int, validationOnly bool) (
	dtypes.DType, shape.Dims, int, error) {
	if !slices.Contains(tensorTypes, dtype) {
		return dtypes.InvalidDType, shape.Dims{}, -1, status.InvalidArgumentf("unsupported data type %s", dtype)
	}
	if dims == nil {
		return dtypes.InvalidDType, shape.Dims{}, -1, status.InvalidArgumentf("output tensor has unknown rank")
	}
	if len(dims) > shape.MaxRank+1 {
		return dtypes.InvalidDType, shape.Dims{}, -1, status.OutOfRangef(
			"output tensor rank is greater than %d", shape.MaxRank+1)
	}
	if len(dims) == 0 {
		if producerOp != "Const" {
			return dtypes.InvalidDType, shape.Dims{}, -1, status.InvalidArgumentf(
				"scalar input tensor is not supported since the first dimension is treated as batch dimension")
		}
		return dtype, shape.Make(), -1, nil
	}
	batchSize := max(dims[0], -1)
	rest := dims[1:]
	for ii, dim := range rest {
		if dim == 0 {
			return dtypes.InvalidDType, shape.Dims{}, -1, status.Unimplementedf(
				"input tensor with shape %v has an empty dimension at dim %d", dims, ii+1)
		}
		if dim < 0 && !validationOnly {
			return dtypes.InvalidDType, shape.Dims{}, -1, status.InvalidArgumentf(
				"input tensor with shape %v has an unknown non-batch dimension at dim %d", dims, ii+1)
		}
	}
	elided, err := shape.New(rest...)
	if err != nil {
		return dtypes.InvalidDType, shape.Dims{}, -1, errors.WithMessagef(err, "tensor shape %v", dims)
	}
	return dtype, elided, batchSize, nil
}
