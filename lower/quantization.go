package lower

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/network"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RangeTracker collects the quantization ranges of network tensors for INT8 execution.
//
// Ranges are symmetric: only the largest absolute value is kept. Ranges can be provided directly
// (e.g.: the output of a sigmoid is in [0, 1]) or inferred along edges between tensors whose ranges
// are known to be the same (e.g.: the input and output of a transpose).
type RangeTracker struct {
	ranges map[*network.Tensor]float32
	// order in which tensors got their range, to keep propagation deterministic.
	order []*network.Tensor

	edges    map[*network.Tensor][]*network.Tensor
	edgeSet  sets.Set[rangeEdge]
	numEdges int
}

type rangeEdge struct {
	from, to *network.Tensor
}

// NewRangeTracker returns an empty RangeTracker.
func NewRangeTracker() *RangeTracker {
	return &RangeTracker{
		ranges:  make(map[*network.Tensor]float32),
		edges:   make(map[*network.Tensor][]*network.Tensor),
		edgeSet: sets.Make[rangeEdge](),
	}
}

// ProvideRange records that t holds values in [lo, hi]. The symmetric range max(|lo|,|hi|) is stored.
// A later call for the same tensor overwrites the previous range.
func (r *RangeTracker) ProvideRange(t *network.Tensor, lo, hi float32) {
	symmetric := math32.Max(math32.Abs(lo), math32.Abs(hi))
	if previous, found := r.ranges[t]; found {
		if previous != symmetric {
			klog.V(1).Infof("quantization range of %q changed from %g to %g", t.Name(), previous, symmetric)
		}
	} else {
		r.order = append(r.order, t)
	}
	r.ranges[t] = symmetric
}

// MarkInferable records that a and b have the same range, so a range known for one can be used for the other.
func (r *RangeTracker) MarkInferable(a, b *network.Tensor) {
	r.addEdge(a, b)
	r.addEdge(b, a)
}

func (r *RangeTracker) addEdge(from, to *network.Tensor) {
	e := rangeEdge{from: from, to: to}
	if r.edgeSet.Has(e) {
		return
	}
	r.edgeSet.Insert(e)
	r.edges[from] = append(r.edges[from], to)
	r.numEdges++
}

// Range returns the symmetric range of t, if known.
func (r *RangeTracker) Range(t *network.Tensor) (float32, bool) {
	value, found := r.ranges[t]
	return value, found
}

// NumEdges returns the number of distinct directed inferable edges.
func (r *RangeTracker) NumEdges() int { return r.numEdges }

// Propagate copies ranges along inferable edges until every tensor reachable from a ranged tensor
// is ranged. It visits each edge at most once and returns the number of edges visited.
func (r *RangeTracker) Propagate() (steps int) {
	queue := append([]*network.Tensor(nil), r.order...)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, next := range r.edges[t] {
			steps++
			if _, found := r.ranges[next]; found {
				continue
			}
			r.ranges[next] = r.ranges[t]
			r.order = append(r.order, next)
			queue = append(queue, next)
		}
	}
	return steps
}

// Finalize sets the collected ranges as dynamic ranges of the network tensors.
//
// Unless ranges come from calibration, every layer input or output without a range is reported
// with a warning and returned: the network can still be built, but those tensors won't be quantized.
func (r *RangeTracker) Finalize(net *network.Network, useCalibration bool) (unranged []string, err error) {
	for _, t := range r.order {
		value := r.ranges[t]
		if err := t.SetDynamicRange(-value, value); err != nil {
			return nil, errors.WithMessagef(err, "applying quantization range to %q", t.Name())
		}
	}
	if useCalibration {
		return nil, nil
	}
	reported := sets.Make[*network.Tensor]()
	check := func(t *network.Tensor) {
		if reported.Has(t) {
			return
		}
		reported.Insert(t)
		if _, found := r.ranges[t]; !found {
			klog.Warningf("quantization range was not found for %q, this is okay if the tensor is not quantized", t.Name())
			unranged = append(unranged, t.Name())
		}
	}
	for _, layer := range net.Layers() {
		for _, t := range layer.Inputs() {
			check(t)
		}
		for ii := range layer.NumOutputs() {
			check(layer.Output(ii))
		}
	}
	return unranged, nil
}
