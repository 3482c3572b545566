package network

import (
	"bytes"
	"fmt"
	"strings"
)

// String implements fmt.Stringer, and pretty prints the network: its inputs, every layer with its
// inputs and outputs, and the outputs. The output is deterministic.
func (n *Network) String() string {
	var buf bytes.Buffer
	// w writes lines to the buffer.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Network: %d inputs, %d outputs, %d layers\n", len(n.inputs), len(n.outputs), len(n.layers))
	for _, t := range n.inputs {
		w("\tinput %s\n", t)
	}
	for _, l := range n.layers {
		w("\t#%d %s", l.index, l.kind)
		if l.name != "" {
			w(" %q", l.name)
		}
		if params := l.params.String(); params != "" {
			w(" {%s}", params)
		}
		inputs := make([]string, len(l.inputs))
		for ii, t := range l.inputs {
			inputs[ii] = t.name
		}
		w(" (%s)", strings.Join(inputs, ", "))
		for _, t := range l.outputs {
			w("\n\t\t-> %s", t)
		}
		w("\n")
	}
	for _, t := range n.outputs {
		w("\toutput %s\n", t)
	}
	return buf.String()
}
