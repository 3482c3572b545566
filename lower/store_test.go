package lower

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()
	arena := NewArena()
	assert.Equal(t, -1, s.BatchSize())

	w := floatWeights(t, arena, []int{2}, 1, 2)
	require.NoError(t, s.Insert("c", w))
	assert.True(t, s.Has("c"))
	assert.Equal(t, status.AlreadyExists, status.KindOf(s.Insert("c", w)))

	_, err := s.Lookup("missing")
	assert.Equal(t, status.NotFound, status.KindOf(err))
	value, err := s.Lookup("c")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, value.DType())
	assert.Equal(t, 1, s.Len())

	// Batch size: unknown values are ignored, the first concrete one sticks.
	require.NoError(t, s.UpdateBatchSize(-1))
	require.NoError(t, s.UpdateBatchSize(8))
	require.NoError(t, s.UpdateBatchSize(8))
	require.NoError(t, s.UpdateBatchSize(-1))
	assert.Equal(t, 8, s.BatchSize())
	assert.Equal(t, status.InvalidArgument, status.KindOf(s.UpdateBatchSize(4)))

	// Tensors published afterwards take the batch size of the pass.
	net := network.New()
	x, err := net.AddInput("x", dtypes.Float32, shape.Make(3))
	require.NoError(t, err)
	tensor := tensorFor(x)
	assert.Equal(t, -1, tensor.BatchSize())
	require.NoError(t, s.Insert("x", tensor))
	assert.Equal(t, 8, tensor.BatchSize())

	// Either order of conflicting batch sizes fails, and the first one is kept.
	reversed := NewStore()
	require.NoError(t, reversed.UpdateBatchSize(4))
	assert.Equal(t, status.InvalidArgument, status.KindOf(reversed.UpdateBatchSize(8)))
	assert.Equal(t, 4, reversed.BatchSize())

	// Tensors carrying a batch size are checked against the pass when published.
	v := NewValidator(Config{})
	withBatch := func(batchSize int) *Tensor {
		x, err := v.TensorValue("Placeholder", dtypes.Float32, []int{batchSize, 3})
		require.NoError(t, err)
		require.Equal(t, batchSize, x.BatchSize())
		return x
	}
	batched := NewStore()
	require.NoError(t, batched.Insert("b8", withBatch(8)))
	assert.Equal(t, 8, batched.BatchSize())
	require.NoError(t, batched.Insert("b8_again", withBatch(8)))
	err = batched.Insert("b4", withBatch(4))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	assert.False(t, batched.Has("b4"))
	assert.Equal(t, 8, batched.BatchSize())

	batched = NewStore()
	require.NoError(t, batched.Insert("b4", withBatch(4)))
	err = batched.Insert("b8", withBatch(8))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	assert.Equal(t, 4, batched.BatchSize())
}

func TestArena(t *testing.T) {
	arena := NewArena()
	w, err := arena.GetTempWeights(dtypes.Float32, shape.Make(2, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(6), w.Count())
	assert.Len(t, w.Bytes(), 24)
	assert.Equal(t, make([]float32, 6), w.Float32s())

	// Rank 0 weights hold no values.
	empty, err := arena.GetTempWeights(dtypes.Int32, shape.Make())
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Count())
	assert.Empty(t, empty.Int32s())

	half, err := arena.GetTempWeights(dtypes.Float16, shape.Make(3))
	require.NoError(t, err)
	half.setFloat32s([]float32{1, -2, 0.5})
	values, err := half.AsFloat32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5}, values)

	assert.Equal(t, 3, arena.NumBuffers())
	assert.Equal(t, int64(24+6), arena.Size())

	_, err = arena.GetTempWeights(dtypes.Float32, shape.Make(2, -1))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	_, err = arena.GetTempWeights(dtypes.InvalidDType, shape.Make(2))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))

	// Accessing weights with the wrong dtype is a defect.
	assert.Panics(t, func() { _ = w.Int32s() })
	_, err = w.AsInts()
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))

	lo, hi, err := floatWeights(t, arena, []int{4}, 3, -5, 2, 0).weightRange()
	require.NoError(t, err)
	assert.Equal(t, float32(-5), lo)
	assert.Equal(t, float32(3), hi)

	reshaped, err := w.reshaped(shape.Make(3, 2))
	require.NoError(t, err)
	assert.Equal(t, shape.Make(3, 2), reshaped.Dims())
	_, err = w.reshaped(shape.Make(4))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
}
