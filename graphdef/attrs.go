package graphdef

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/status"
)

// AttrValue is the value of a node attribute. Exactly one of the fields should be set, except for
// an empty list, for which none is.
type AttrValue struct {
	I      *int64    `yaml:"i,omitempty"`
	F      *float32  `yaml:"f,omitempty"`
	B      *bool     `yaml:"b,omitempty"`
	S      *string   `yaml:"s,omitempty"`
	Type   DataType  `yaml:"type,omitempty"`
	Ints   []int64   `yaml:"ints,omitempty"`
	Floats []float32 `yaml:"floats,omitempty"`
	Shape  []int     `yaml:"shape,omitempty"`
	Tensor *Tensor   `yaml:"tensor,omitempty"`
}

// Int creates an integer attribute.
func Int(v int) AttrValue {
	i := int64(v)
	return AttrValue{I: &i}
}

// Ints creates a list of integers attribute.
func Ints(v ...int) AttrValue {
	ints := make([]int64, len(v))
	for ii, x := range v {
		ints[ii] = int64(x)
	}
	return AttrValue{Ints: ints}
}

// Float creates a float attribute.
func Float(v float32) AttrValue { return AttrValue{F: &v} }

// Bool creates a boolean attribute.
func Bool(v bool) AttrValue { return AttrValue{B: &v} }

// Str creates a string attribute.
func Str(v string) AttrValue { return AttrValue{S: &v} }

// Type creates a data type attribute.
func Type(dt DataType) AttrValue { return AttrValue{Type: dt} }

// Shape creates a shape attribute. Use -1 for unknown dimensions.
func Shape(dims ...int) AttrValue {
	if dims == nil {
		dims = []int{}
	}
	return AttrValue{Shape: dims}
}

// TensorAttr creates a tensor attribute.
func TensorAttr(t *Tensor) AttrValue { return AttrValue{Tensor: t} }

// kind returns the name of the field set, or "" if none is (an empty list).
func (a AttrValue) kind() string {
	switch {
	case a.I != nil:
		return "int"
	case a.F != nil:
		return "float"
	case a.B != nil:
		return "bool"
	case a.S != nil:
		return "string"
	case a.Type != "":
		return "type"
	case a.Ints != nil:
		return "ints"
	case a.Floats != nil:
		return "floats"
	case a.Shape != nil:
		return "shape"
	case a.Tensor != nil:
		return "tensor"
	}
	return ""
}

// HasAttr returns whether the node has the attribute set.
func (n *NodeDef) HasAttr(name string) bool {
	_, found := n.Attrs[name]
	return found
}

// getAttr returns the attribute name. If required is true, a missing attribute is an InvalidArgument error.
func (n *NodeDef) getAttr(name string, required bool) (attr AttrValue, found bool, err error) {
	attr, found = n.Attrs[name]
	if !found && required {
		err = status.InvalidArgumentf("%s is missing required attribute %q", n, name)
	}
	return
}

func (n *NodeDef) assertAttrKind(name string, attr AttrValue, kinds ...string) error {
	got := attr.kind()
	for _, kind := range kinds {
		if got == kind {
			return nil
		}
	}
	return status.InvalidArgumentf("attribute %q of %s is of kind %q, expected %q", name, n, got, kinds[0])
}

// IntAttr returns a required integer attribute.
func (n *NodeDef) IntAttr(name string) (int, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return 0, err
	}
	if err = n.assertAttrKind(name, attr, "int"); err != nil {
		return 0, err
	}
	return int(*attr.I), nil
}

// IntAttrOr returns an integer attribute if present, or the given defaultValue.
func (n *NodeDef) IntAttrOr(name string, defaultValue int) (int, error) {
	if !n.HasAttr(name) {
		return defaultValue, nil
	}
	return n.IntAttr(name)
}

// IntsAttr returns a required list of integers attribute.
func (n *NodeDef) IntsAttr(name string) ([]int, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return nil, err
	}
	if err = n.assertAttrKind(name, attr, "ints", ""); err != nil {
		return nil, err
	}
	return sliceMap(attr.Ints, func(v int64) int { return int(v) }), nil
}

// IntsAttrOr returns a list of integers attribute if present, or the given defaultValues.
func (n *NodeDef) IntsAttrOr(name string, defaultValues []int) ([]int, error) {
	if !n.HasAttr(name) {
		return defaultValues, nil
	}
	return n.IntsAttr(name)
}

// FloatAttr returns a required float attribute.
func (n *NodeDef) FloatAttr(name string) (float32, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return 0, err
	}
	if err = n.assertAttrKind(name, attr, "float"); err != nil {
		return 0, err
	}
	return *attr.F, nil
}

// FloatAttrOr returns a float attribute if present, or the given defaultValue.
func (n *NodeDef) FloatAttrOr(name string, defaultValue float32) (float32, error) {
	if !n.HasAttr(name) {
		return defaultValue, nil
	}
	return n.FloatAttr(name)
}

// BoolAttrOr returns a boolean attribute if present, or the given defaultValue.
func (n *NodeDef) BoolAttrOr(name string, defaultValue bool) (bool, error) {
	attr, found, _ := n.getAttr(name, false)
	if !found {
		return defaultValue, nil
	}
	if err := n.assertAttrKind(name, attr, "bool"); err != nil {
		return false, err
	}
	return *attr.B, nil
}

// StringAttr returns a required string attribute.
func (n *NodeDef) StringAttr(name string) (string, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return "", err
	}
	if err = n.assertAttrKind(name, attr, "string"); err != nil {
		return "", err
	}
	return *attr.S, nil
}

// StringAttrOr returns a string attribute if present, or the given defaultValue.
func (n *NodeDef) StringAttrOr(name string, defaultValue string) (string, error) {
	if !n.HasAttr(name) {
		return defaultValue, nil
	}
	return n.StringAttr(name)
}

// DTypeAttr returns a required data type attribute, converted to a GoMLX dtype.
func (n *NodeDef) DTypeAttr(name string) (dtypes.DType, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	if err = n.assertAttrKind(name, attr, "type"); err != nil {
		return dtypes.InvalidDType, err
	}
	return attr.Type.DType()
}

// DTypeAttrOr returns a data type attribute if present, or the given defaultValue.
func (n *NodeDef) DTypeAttrOr(name string, defaultValue dtypes.DType) (dtypes.DType, error) {
	if !n.HasAttr(name) {
		return defaultValue, nil
	}
	return n.DTypeAttr(name)
}

// ShapeAttr returns a required shape attribute. Unknown dimensions are -1.
func (n *NodeDef) ShapeAttr(name string) ([]int, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return nil, err
	}
	if err = n.assertAttrKind(name, attr, "shape", "ints", ""); err != nil {
		return nil, err
	}
	if attr.Shape != nil {
		return attr.Shape, nil
	}
	return sliceMap(attr.Ints, func(v int64) int { return int(v) }), nil
}

// TensorAttr returns a required tensor attribute.
func (n *NodeDef) TensorAttr(name string) (*Tensor, error) {
	attr, _, err := n.getAttr(name, true)
	if err != nil {
		return nil, err
	}
	if err = n.assertAttrKind(name, attr, "tensor"); err != nil {
		return nil, err
	}
	return attr.Tensor, nil
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
