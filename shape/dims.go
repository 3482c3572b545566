// Package shape implements the dimension arithmetic used while lowering a graph:
// the batch-elided Dims type, element counts, broadcast reconciliation between
// runtime tensors and constants, SAME padding and axis translation across the
// implicit batch dimension.
//
// All functions are pure and safe for concurrent use.
package shape

import (
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/netlower/status"
)

// MaxRank is the maximum rank of a Dims, not counting the implicit batch dimension.
const MaxRank = 8

// UnknownDim marks an unresolved dimension.
const UnknownDim = -1

// Dims is a fixed-capacity list of dimensions plus a rank.
// Entries are >= 0 or UnknownDim. A rank of -1 means the rank itself is unknown.
//
// Dims is a value type: methods that "modify" it return a new copy.
type Dims struct {
	rank int
	d    [MaxRank]int
}

// Make returns the Dims with the given dimensions. It panics if there are more than MaxRank of them,
// so it is meant for literals; use New for values coming from a graph.
func Make(dims ...int) Dims {
	d, err := New(dims...)
	if err != nil {
		exceptions.Panicf("shape.Make(%v): %+v", dims, err)
	}
	return d
}

// New returns the Dims with the given dimensions, or an OutOfRange error if there are more than MaxRank.
// Negative dimensions are normalized to UnknownDim.
func New(dims ...int) (Dims, error) {
	if len(dims) > MaxRank {
		return Dims{}, status.OutOfRangef("rank %d exceeds the maximum rank %d", len(dims), MaxRank)
	}
	var d Dims
	d.rank = len(dims)
	for ii, dim := range dims {
		if dim < 0 {
			dim = UnknownDim
		}
		d.d[ii] = dim
	}
	return d, nil
}

// UnknownRank returns a Dims whose rank is not known.
func UnknownRank() Dims {
	return Dims{rank: -1}
}

// Rank returns the number of dimensions, or -1 if unknown.
func (d Dims) Rank() int { return d.rank }

// Dim returns the dimension at axis. Negative axes count from the end.
func (d Dims) Dim(axis int) int {
	if axis < 0 {
		axis += d.rank
	}
	if axis < 0 || axis >= d.rank {
		exceptions.Panicf("axis %d out of bounds for dims %s", axis, d)
	}
	return d.d[axis]
}

// Slice returns a copy of the dimensions as a slice.
func (d Dims) Slice() []int {
	if d.rank <= 0 {
		return []int{}
	}
	out := make([]int, d.rank)
	copy(out, d.d[:d.rank])
	return out
}

// With returns a copy of d with the dimension at axis set to value.
func (d Dims) With(axis, value int) Dims {
	if axis < 0 || axis >= d.rank {
		exceptions.Panicf("axis %d out of bounds for dims %s", axis, d)
	}
	d.d[axis] = value
	return d
}

// Equal returns whether both Dims have the same rank and dimensions.
func (d Dims) Equal(other Dims) bool {
	if d.rank != other.rank {
		return false
	}
	for ii := range max(d.rank, 0) {
		if d.d[ii] != other.d[ii] {
			return false
		}
	}
	return true
}

// Insert returns a copy of d with value inserted at axis (0 <= axis <= rank).
func (d Dims) Insert(axis, value int) (Dims, error) {
	if d.rank < 0 {
		return Dims{}, status.InvalidArgumentf("cannot insert axis in dims of unknown rank")
	}
	if axis < 0 || axis > d.rank {
		return Dims{}, status.OutOfRangef("insert axis %d out of bounds for dims %s", axis, d)
	}
	if d.rank+1 > MaxRank {
		return Dims{}, status.OutOfRangef("inserting an axis in %s exceeds the maximum rank %d", d, MaxRank)
	}
	out := d
	out.rank++
	copy(out.d[axis+1:out.rank], d.d[axis:d.rank])
	out.d[axis] = value
	return out, nil
}

// Remove returns a copy of d with the axis removed.
func (d Dims) Remove(axis int) (Dims, error) {
	if axis < 0 || axis >= d.rank {
		return Dims{}, status.OutOfRangef("remove axis %d out of bounds for dims %s", axis, d)
	}
	out := d
	copy(out.d[axis:], d.d[axis+1:d.rank])
	out.rank--
	out.d[out.rank] = 0
	return out, nil
}

// String implements fmt.Stringer. Unknown dimensions are printed as "?".
func (d Dims) String() string {
	if d.rank < 0 {
		return "[<unknown rank>]"
	}
	parts := make([]string, d.rank)
	for ii := range d.rank {
		if d.d[ii] == UnknownDim {
			parts[ii] = "?"
		} else {
			parts[ii] = strconv.Itoa(d.d[ii])
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
