package graphdef

import (
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/status"
)

// Sorted returns a DAG sorting of the graph, so the returned nodes can be converted in order.
//
// Both data and control inputs count as dependencies. References to nodes not in the graph are
// ignored here: they are reported when the node is converted. Among nodes that are ready at the same
// time, the original order is kept. A cycle is an InvalidArgument error.
func (g *Graph) Sorted() ([]*NodeDef, error) {
	index := make(map[string]int, len(g.Nodes))
	for ii, node := range g.Nodes {
		index[node.Name] = ii
	}

	// Build reverse dependency map, counting each producer once per consumer.
	dependants := make([][]int, len(g.Nodes))
	pending := make([]int, len(g.Nodes))
	for ii, node := range g.Nodes {
		producers := sets.Make[int]()
		for _, input := range node.Inputs {
			ref, err := ParseInput(input)
			if err != nil {
				return nil, err
			}
			producer, found := index[ref.Node]
			if !found || producers.Has(producer) {
				continue
			}
			producers.Insert(producer)
			dependants[producer] = append(dependants[producer], ii)
			pending[ii]++
		}
	}

	sortedNodes := make([]*NodeDef, 0, len(g.Nodes))
	ready := make([]int, 0, len(g.Nodes))
	for ii := range g.Nodes {
		if pending[ii] == 0 {
			ready = append(ready, ii)
		}
	}
	for len(ready) > 0 {
		// Pick the ready node that comes first in the original order.
		best := 0
		for jj := range ready {
			if ready[jj] < ready[best] {
				best = jj
			}
		}
		ii := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		sortedNodes = append(sortedNodes, g.Nodes[ii])
		for _, dep := range dependants[ii] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(sortedNodes) != len(g.Nodes) {
		var stuck []string
		for ii, node := range g.Nodes {
			if pending[ii] > 0 {
				stuck = append(stuck, node.Name)
			}
		}
		return nil, status.InvalidArgumentf("graph has a cycle involving nodes %q", stuck)
	}
	return sortedNodes, nil
}

// Consumers maps each node name to the nodes that take one of its outputs as a data input.
func (g *Graph) Consumers() map[string][]*NodeDef {
	consumers := make(map[string][]*NodeDef)
	for _, node := range g.Nodes {
		for _, input := range node.Inputs {
			ref, err := ParseInput(input)
			if err != nil || ref.Control {
				continue
			}
			consumers[ref.Node] = append(consumers[ref.Node], node)
		}
	}
	return consumers
}
