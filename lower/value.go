package lower

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
)

// Value is an operand of a lowered node: either a runtime *Tensor or constant Weights.
//
// The set of implementations is closed; use a type switch over *Tensor and Weights.
type Value interface {
	DType() dtypes.DType
	Dims() shape.Dims
	String() string
	isValue()
}

// Tensor is a runtime Value: a symbolic network tensor whose data is only known at execution.
//
// In validate-only mode there is no network and the handle is nil.
type Tensor struct {
	handle    *network.Tensor
	dtype     dtypes.DType
	dims      shape.Dims
	batchSize int
}

func (*Tensor) isValue() {}

// Handle returns the network tensor, nil in validate-only mode.
func (t *Tensor) Handle() *network.Tensor { return t.handle }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dims of the tensor, without the batch dimension.
func (t *Tensor) Dims() shape.Dims { return t.dims }

// BatchSize of the tensor, or -1 if unknown.
func (t *Tensor) BatchSize() int { return t.batchSize }

// refineBatchSize sets the batch size if it is still unknown.
func (t *Tensor) refineBatchSize(batchSize int) {
	if t.batchSize < 0 && batchSize >= 0 {
		t.batchSize = batchSize
	}
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	name := "<validation>"
	if t.handle != nil {
		name = t.handle.Name()
	}
	return fmt.Sprintf("Tensor(%s: %s%s, batch=%d)", name, t.dtype, t.dims, t.batchSize)
}

// tensorFor wraps a network tensor as a Value. Its batch size is set when it is published.
func tensorFor(handle *network.Tensor) *Tensor {
	return &Tensor{handle: handle, dtype: handle.DType(), dims: handle.Dims(), batchSize: -1}
}

// kindName returns "tensor" or "weights", for error messages.
func kindName(v Value) string {
	switch v.(type) {
	case *Tensor:
		return "tensor"
	case Weights:
		return "weights"
	}
	exceptions.Panicf("unknown Value type %T", v)
	return ""
}
