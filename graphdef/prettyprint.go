package graphdef

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer, and pretty prints graph information.
func (g *Graph) String() string {
	var buf bytes.Buffer
	// w writes lines to the buffer.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Graph:\n")
	if g.Precision != "" {
		w("\tPrecision:\t%s\n", g.Precision)
	}
	if g.UseCalibration {
		w("\tCalibration:\ttrue\n")
	}
	w("\t# nodes:\t%d\n", len(g.Nodes))
	opTypesSet := sets.Make[string]()
	for _, n := range g.Nodes {
		opTypesSet.Insert(n.Op)
	}
	w("\tOp types:\t%#v\n", slices.Sorted(maps.Keys(opTypesSet)))
	return buf.String()
}
