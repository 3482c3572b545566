package graphdef

import (
	"math"

	"github.com/gomlx/netlower/status"
)

// Tensor is a constant value stored in a node attribute (e.g. the "value" of a Const node).
//
// Values are stored in FloatVal (floating point dtypes) or IntVal (integer and boolean dtypes).
// If fewer values than elements are given, the last value is repeated; no value at all means zeros.
type Tensor struct {
	DType    DataType  `yaml:"dtype"`
	Dims     []int     `yaml:"dims,omitempty"`
	FloatVal []float32 `yaml:"float_val,omitempty"`
	IntVal   []int64   `yaml:"int_val,omitempty"`
}

// MaxElements is the largest number of elements a constant tensor can hold.
const MaxElements = math.MaxInt32

// NumElements returns the number of elements of the tensor. A scalar has 1 element.
// It is only meaningful for tensors that pass validation, whose count is at most MaxElements.
func (t *Tensor) NumElements() int {
	count := 1
	for _, dim := range t.Dims {
		count *= dim
	}
	return count
}

// validate checks the dims and the number of values.
func (t *Tensor) validate() error {
	count := 1
	for _, dim := range t.Dims {
		if dim < 0 {
			return status.InvalidArgumentf("constant tensor with unknown dimension in %v", t.Dims)
		}
		if dim > 0 && count > MaxElements/dim {
			return status.InvalidArgumentf("constant tensor of dims %v has more than %d elements", t.Dims, MaxElements)
		}
		count *= dim
	}
	if len(t.FloatVal) > 0 && len(t.IntVal) > 0 {
		return status.InvalidArgumentf("constant tensor with both float and int values")
	}
	n := t.NumElements()
	if len(t.FloatVal) > n || len(t.IntVal) > n {
		return status.InvalidArgumentf("constant tensor of dims %v (%d elements) has %d values",
			t.Dims, n, max(len(t.FloatVal), len(t.IntVal)))
	}
	return nil
}

// Float32s returns the tensor values as float32, expanded to NumElements.
func (t *Tensor) Float32s() ([]float32, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if len(t.IntVal) > 0 {
		return expand(sliceMap(t.IntVal, func(v int64) float32 { return float32(v) }), t.NumElements()), nil
	}
	return expand(t.FloatVal, t.NumElements()), nil
}

// Int64s returns the tensor values as int64, expanded to NumElements.
func (t *Tensor) Int64s() ([]int64, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if len(t.FloatVal) > 0 {
		return expand(sliceMap(t.FloatVal, func(v float32) int64 { return int64(v) }), t.NumElements()), nil
	}
	return expand(t.IntVal, t.NumElements()), nil
}

// expand values to n elements, repeating the last one.
func expand[T any](values []T, n int) []T {
	out := make([]T, n)
	copy(out, values)
	if len(values) > 0 {
		last := values[len(values)-1]
		for ii := len(values); ii < n; ii++ {
			out[ii] = last
		}
	}
	return out
}
