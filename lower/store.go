package lower

import (
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

// Store is the symbol table of a lowering pass: the Value published under each "node[:index]" name,
// plus the batch size shared by every runtime tensor of the pass.
type Store struct {
	values    map[string]Value
	batchSize int
}

// NewStore returns an empty Store with an unknown batch size.
func NewStore() *Store {
	return &Store{values: make(map[string]Value), batchSize: -1}
}

// Insert publishes value under name. Publishing twice under the same name is an AlreadyExists error.
// A tensor with a known batch size feeds it to UpdateBatchSize, and nothing is published if it conflicts
// with the batch size of the pass. Tensors with an unknown batch size take the batch size of the pass.
func (s *Store) Insert(name string, value Value) error {
	if _, found := s.values[name]; found {
		return status.AlreadyExistsf("value %q already exists", name)
	}
	if t, ok := value.(*Tensor); ok {
		if err := s.UpdateBatchSize(t.batchSize); err != nil {
			return errors.WithMessagef(err, "value %q", name)
		}
		t.refineBatchSize(s.batchSize)
	}
	s.values[name] = value
	return nil
}

// Has returns whether a value was published under name.
func (s *Store) Has(name string) bool {
	_, found := s.values[name]
	return found
}

// Lookup returns the value published under name, or a NotFound error.
func (s *Store) Lookup(name string) (Value, error) {
	value, found := s.values[name]
	if !found {
		return nil, status.NotFoundf("value %q not found", name)
	}
	return value, nil
}

// Len returns the number of published values.
func (s *Store) Len() int { return len(s.values) }

// BatchSize of the pass, or -1 if not known yet.
func (s *Store) BatchSize() int { return s.batchSize }

// UpdateBatchSize feeds a batch size observed in the graph. Unknown (negative) sizes are ignored,
// the first concrete size is adopted and any later one must match it.
func (s *Store) UpdateBatchSize(batchSize int) error {
	if batchSize < 0 {
		return nil
	}
	if s.batchSize >= 0 && s.batchSize != batchSize {
		return status.InvalidArgumentf("provided batch size %d does not match the batch size %d of the pass",
			batchSize, s.batchSize)
	}
	s.batchSize = batchSize
	return nil
}
