package graphdef

import (
	"strconv"
	"strings"

	"github.com/gomlx/netlower/status"
)

// InputRef is a parsed input reference: "name", "name:index" or "^name" for control dependencies.
type InputRef struct {
	Node    string
	Index   int
	Control bool
}

// ParseInput parses an input reference string.
func ParseInput(ref string) (InputRef, error) {
	var r InputRef
	if strings.HasPrefix(ref, "^") {
		r.Control = true
		ref = ref[1:]
	}
	if ref == "" {
		return InputRef{}, status.InvalidArgumentf("empty input reference")
	}
	if pos := strings.LastIndexByte(ref, ':'); pos >= 0 {
		index, err := strconv.Atoi(ref[pos+1:])
		if err != nil || index < 0 {
			return InputRef{}, status.InvalidArgumentf("invalid output index in input reference %q", ref)
		}
		r.Node, r.Index = ref[:pos], index
	} else {
		r.Node = ref
	}
	if r.Node == "" {
		return InputRef{}, status.InvalidArgumentf("input reference %q has no node name", ref)
	}
	return r, nil
}

// Key returns the name under which the referenced output is published: the node name for output 0,
// "name:index" for the others.
func (r InputRef) Key() string {
	return OutputKey(r.Node, r.Index)
}

// OutputKey returns the name under which the output index of the given node is published.
func OutputKey(nodeName string, index int) string {
	if index == 0 {
		return nodeName
	}
	return nodeName + ":" + strconv.Itoa(index)
}
