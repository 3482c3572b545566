package lower

import (
	"strconv"
	"strings"

	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the nodes marking the boundaries of the graph: "EngineInputPH_<n>" Placeholder nodes are
// the inputs of the network, "EngineOutputPH_<n>" Identity nodes its outputs. Slots are numbered
// from 0, without gaps.
const (
	InputPHPrefix  = "EngineInputPH_"
	OutputPHPrefix = "EngineOutputPH_"
)

// ConvertGraph lowers the whole graph into net and returns the Converter used, whose Store holds the
// values of every node.
//
// inputShapes optionally overrides, per input slot, the batch-inclusive shape of the input Placeholder
// nodes. A nil entry (or a missing one) uses the "shape" attribute of the node.
func ConvertGraph(g *graphdef.Graph, net *network.Network, cfg Config, inputShapes [][]int) (*Converter, error) {
	c, err := NewConverter(net, cfg)
	if err != nil {
		return nil, err
	}
	nodes, err := g.Sorted()
	if err != nil {
		return nil, err
	}
	var (
		inputSlots []int
		outputs    []EngineOutput
		outSlots   []int
	)
	for _, node := range nodes {
		switch {
		case strings.HasPrefix(node.Name, InputPHPrefix):
			slot, err := c.addGraphInput(node, inputShapes)
			if err != nil {
				return nil, err
			}
			inputSlots = append(inputSlots, slot)

		case strings.HasPrefix(node.Name, OutputPHPrefix):
			output, slot, err := graphOutput(g, node)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, output)
			outSlots = append(outSlots, slot)

		default:
			if err := c.ConvertNode(node); err != nil {
				return nil, err
			}
		}
	}
	if err := checkSlots(inputSlots, InputPHPrefix); err != nil {
		return nil, err
	}
	if err := checkSlots(outSlots, OutputPHPrefix); err != nil {
		return nil, err
	}
	if err := c.RenameAndMarkOutputTensors(outputs); err != nil {
		return nil, err
	}
	unranged, err := c.MaybeApplyQuantizationRanges()
	if err != nil {
		return nil, err
	}
	unused := unusedNodes(g)
	if klog.V(2).Enabled() {
		for _, name := range unused {
			klog.Infof("pass %s: node %q is converted but nothing consumes its outputs", c.passID, name)
		}
	}
	klog.V(1).Infof("pass %s: converted %d nodes into %d layers (%d inputs, %d outputs, %d unused nodes, %d tensors without range)",
		c.passID, len(nodes), len(net.Layers()), len(inputSlots), len(outputs), len(unused), len(unranged))
	return c, nil
}

// unusedNodes returns, in graph order, the nodes other than output boundaries whose outputs are not a
// data input of any other node. Their layers are built but do not contribute to the network outputs.
func unusedNodes(g *graphdef.Graph) []string {
	consumers := g.Consumers()
	var unused []string
	for _, node := range g.Nodes {
		if strings.HasPrefix(node.Name, OutputPHPrefix) {
			continue
		}
		if len(consumers[node.Name]) == 0 {
			unused = append(unused, node.Name)
		}
	}
	return unused
}

// slotNumber parses the slot of a boundary node name.
func slotNumber(name, prefix string) (int, error) {
	slot, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || slot < 0 {
		return 0, status.InvalidArgumentf("invalid boundary node name %q, expected %s<n>", name, prefix)
	}
	return slot, nil
}

// checkSlots verifies the slots are exactly 0 to len(slots)-1.
func checkSlots(slots []int, prefix string) error {
	seen := make([]bool, len(slots))
	for _, slot := range slots {
		if slot >= len(slots) || seen[slot] {
			return status.InvalidArgumentf("%s slots must be numbered from 0 without gaps or repetitions, got %v",
				prefix, slots)
		}
		seen[slot] = true
	}
	return nil
}

// addGraphInput adds the network input for a Placeholder boundary node, and returns its slot.
func (c *Converter) addGraphInput(node *graphdef.NodeDef, inputShapes [][]int) (int, error) {
	slot, err := slotNumber(node.Name, InputPHPrefix)
	if err != nil {
		return 0, err
	}
	if node.Op != "Placeholder" {
		return 0, status.InvalidArgumentf("input boundary node %s must be a Placeholder", node)
	}
	dtype, err := node.DTypeAttr("dtype")
	if err != nil {
		return 0, err
	}
	var dims []int
	switch {
	case slot < len(inputShapes) && inputShapes[slot] != nil:
		dims = inputShapes[slot]
	case node.HasAttr("shape"):
		if dims, err = node.ShapeAttr("shape"); err != nil {
			return 0, err
		}
	}
	dtype, elided, batchSize, err := ValidateTensorProperties(node.Op, dtype, dims, false)
	if err != nil {
		return 0, errors.WithMessagef(err, "input %s", node)
	}
	if err := c.AddInputTensor(node.Name, dtype, elided, batchSize); err != nil {
		return 0, err
	}
	return slot, nil
}

// graphOutput returns the output declared by an Identity boundary node of g, and its slot.
func graphOutput(g *graphdef.Graph, node *graphdef.NodeDef) (EngineOutput, int, error) {
	slot, err := slotNumber(node.Name, OutputPHPrefix)
	if err != nil {
		return EngineOutput{}, 0, err
	}
	if node.Op != "Identity" {
		return EngineOutput{}, 0, status.InvalidArgumentf("output boundary node %s must be an Identity", node)
	}
	var source *graphdef.InputRef
	for _, input := range node.Inputs {
		ref, err := graphdef.ParseInput(input)
		if err != nil {
			return EngineOutput{}, 0, err
		}
		if ref.Control {
			continue
		}
		if source != nil {
			return EngineOutput{}, 0, status.InvalidArgumentf("output boundary node %s must have exactly one input", node)
		}
		source = &ref
	}
	if source == nil {
		return EngineOutput{}, 0, status.InvalidArgumentf("output boundary node %s must have exactly one input", node)
	}
	if g.Node(source.Node) == nil {
		return EngineOutput{}, 0, status.NotFoundf("output boundary node %s reads %q, which is not a node of the graph",
			node, source.Node)
	}
	dtype, err := node.DTypeAttr("T")
	if err != nil {
		return EngineOutput{}, 0, err
	}
	return EngineOutput{Source: source.Key(), Name: node.Name, DType: dtype}, slot, nil
}
