// Package graphdef holds the source graph consumed by a lowering pass: an ordered list of
// operation descriptors (NodeDef), each with an op type, a unique name, its input references and
// its attributes.
//
//   - Parse: converts a YAML serialized graph to a Graph.
//   - ReadFile: reads a file and calls Parse.
//   - Graph.Sorted: returns the nodes in topological order.
//
// Descriptors are immutable once parsed.
package graphdef

import (
	"os"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Graph is a source computation graph.
type Graph struct {
	// Precision optionally names the precision mode the graph should be lowered with ("FP32", "FP16", "INT8").
	Precision string `yaml:"precision,omitempty"`

	// UseCalibration indicates INT8 ranges will be provided by a calibration step.
	UseCalibration bool `yaml:"use_calibration,omitempty"`

	Nodes []*NodeDef `yaml:"nodes"`
}

// NodeDef describes one operation of the source graph.
type NodeDef struct {
	Name   string               `yaml:"name"`
	Op     string               `yaml:"op"`
	Inputs []string             `yaml:"inputs,omitempty"`
	Attrs  map[string]AttrValue `yaml:"attrs,omitempty"`
}

// String returns a short description of the node, used in error messages.
func (n *NodeDef) String() string {
	return n.Op + "(" + n.Name + ")"
}

// Parse a YAML serialized graph.
func Parse(contents []byte) (*Graph, error) {
	g := &Graph{}
	if err := yaml.Unmarshal(contents, g); err != nil {
		return nil, status.WithKind(err, status.InvalidArgument, "failed to parse graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ReadFile parses a YAML graph file.
func ReadFile(filePath string) (*Graph, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read graph file in %s", filePath)
	}
	g, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "graph file %s", filePath)
	}
	return g, nil
}

// Validate checks that node names are unique and non-empty, every node has an op type and every
// input reference is well-formed.
func (g *Graph) Validate() error {
	names := sets.Make[string]()
	for ii, node := range g.Nodes {
		if node == nil {
			return status.InvalidArgumentf("node #%d is empty", ii)
		}
		if node.Name == "" {
			return status.InvalidArgumentf("node #%d (op %q) has no name", ii, node.Op)
		}
		if node.Op == "" {
			return status.InvalidArgumentf("node %q has no op type", node.Name)
		}
		if names.Has(node.Name) {
			return status.InvalidArgumentf("duplicate node name %q", node.Name)
		}
		names.Insert(node.Name)
		for _, input := range node.Inputs {
			if _, err := ParseInput(input); err != nil {
				return errors.WithMessagef(err, "node %s", node)
			}
		}
	}
	return nil
}

// Node returns the node with the given name, or nil if there is none.
func (g *Graph) Node(name string) *NodeDef {
	for _, node := range g.Nodes {
		if node.Name == name {
			return node
		}
	}
	return nil
}
