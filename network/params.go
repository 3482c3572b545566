package network

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/shape"
)

// LayerKind enumerates the kinds of layers.
type LayerKind int

const (
	ConstantLayer LayerKind = iota
	IdentityLayer
	ShuffleLayer
	ElementWiseLayer
	ActivationLayer
	UnaryLayer
	PaddingLayer
	ConvolutionLayer
	DeconvolutionLayer
	PoolingLayer
	ScaleLayer
	ReduceLayer
	TopKLayer
	SoftMaxLayer
	ConcatenationLayer
	SliceLayer
	GatherLayer
	MatrixMultiplyLayer
)

var layerKindNames = []string{
	"Constant", "Identity", "Shuffle", "ElementWise", "Activation", "Unary", "Padding", "Convolution",
	"Deconvolution", "Pooling", "Scale", "Reduce", "TopK", "SoftMax", "Concatenation", "Slice", "Gather",
	"MatrixMultiply",
}

func (k LayerKind) String() string { return enumName(layerKindNames, int(k), "LayerKind") }

// ElementWiseOp is the binary operation of an element-wise layer.
type ElementWiseOp int

const (
	Sum ElementWiseOp = iota
	Prod
	Sub
	Div
	Min
	Max
	Pow
)

var elementWiseOpNames = []string{"Sum", "Prod", "Sub", "Div", "Min", "Max", "Pow"}

func (op ElementWiseOp) String() string { return enumName(elementWiseOpNames, int(op), "ElementWiseOp") }

// ActivationType selects the function of an activation layer.
type ActivationType int

const (
	ReLU ActivationType = iota
	Sigmoid
	Tanh
)

var activationTypeNames = []string{"ReLU", "Sigmoid", "Tanh"}

func (a ActivationType) String() string { return enumName(activationTypeNames, int(a), "ActivationType") }

// UnaryOp is the operation of a unary layer.
type UnaryOp int

const (
	Exp UnaryOp = iota
	Log
	Sqrt
	Recip
	Abs
	Neg
	Sin
	Cos
	Tan
	Sinh
	Cosh
	Asin
	Acos
	Atan
	Asinh
	Acosh
	Atanh
	Ceil
	Floor
)

var unaryOpNames = []string{
	"Exp", "Log", "Sqrt", "Recip", "Abs", "Neg", "Sin", "Cos", "Tan", "Sinh", "Cosh", "Asin", "Acos",
	"Atan", "Asinh", "Acosh", "Atanh", "Ceil", "Floor",
}

func (op UnaryOp) String() string { return enumName(unaryOpNames, int(op), "UnaryOp") }

// PoolingType selects max or average pooling.
type PoolingType int

const (
	MaxPooling PoolingType = iota
	AveragePooling
)

var poolingTypeNames = []string{"Max", "Average"}

func (p PoolingType) String() string { return enumName(poolingTypeNames, int(p), "PoolingType") }

// ScaleMode selects how the weights of a scale layer are broadcast.
type ScaleMode int

const (
	// UniformScale uses one value for the whole tensor.
	UniformScale ScaleMode = iota
	// ChannelScale uses one value per entry of the first axis.
	ChannelScale
	// ElementwiseScale uses one value per element.
	ElementwiseScale
)

var scaleModeNames = []string{"Uniform", "Channel", "Elementwise"}

func (m ScaleMode) String() string { return enumName(scaleModeNames, int(m), "ScaleMode") }

// ReduceOp is the operation of a reduce layer.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceProd
	ReduceMax
	ReduceMin
	ReduceAvg
)

var reduceOpNames = []string{"Sum", "Prod", "Max", "Min", "Avg"}

func (op ReduceOp) String() string { return enumName(reduceOpNames, int(op), "ReduceOp") }

// TopKOp selects the largest or smallest values.
type TopKOp int

const (
	TopKMax TopKOp = iota
	TopKMin
)

var topKOpNames = []string{"Max", "Min"}

func (op TopKOp) String() string { return enumName(topKOpNames, int(op), "TopKOp") }

// MatrixOp describes how an operand of a matrix multiplication is interpreted.
type MatrixOp int

const (
	MatrixNone MatrixOp = iota
	MatrixTranspose
	// MatrixVector treats the operand as a vector (its last axis).
	MatrixVector
)

var matrixOpNames = []string{"None", "Transpose", "Vector"}

func (op MatrixOp) String() string { return enumName(matrixOpNames, int(op), "MatrixOp") }

func enumName(names []string, value int, typeName string) string {
	if value >= 0 && value < len(names) {
		return names[value]
	}
	return fmt.Sprintf("%s(%d)", typeName, value)
}

// Weights is a constant buffer used by a layer. The buffer is owned by the caller and must outlive
// the network.
type Weights struct {
	DType dtypes.DType
	Count int64
	Data  []byte
}

// Empty returns whether the weights hold no values.
func (w Weights) Empty() bool { return w.Count == 0 }

func (w Weights) String() string {
	if w.Empty() {
		return "none"
	}
	return fmt.Sprintf("%s x%d", dtypeName(w.DType), w.Count)
}

// ConstantParams of a constant layer.
type ConstantParams struct {
	Weights Weights
}

func (p *ConstantParams) String() string { return p.Weights.String() }

// IdentityParams of an identity layer.
type IdentityParams struct{}

func (p *IdentityParams) String() string { return "" }

// ShuffleParams of a shuffle layer: an optional transpose, then an optional reshape, then another
// optional transpose.
//
// In Reshape, 0 copies the input dimension at the same position and -1 is inferred from the number
// of elements (at most once).
type ShuffleParams struct {
	FirstTranspose  []int
	Reshape         *shape.Dims
	SecondTranspose []int
}

func (p *ShuffleParams) String() string {
	var parts []string
	if p.FirstTranspose != nil {
		parts = append(parts, fmt.Sprintf("transpose=%v", p.FirstTranspose))
	}
	if p.Reshape != nil {
		parts = append(parts, fmt.Sprintf("reshape=%v", p.Reshape.Slice()))
	}
	if p.SecondTranspose != nil {
		parts = append(parts, fmt.Sprintf("transpose2=%v", p.SecondTranspose))
	}
	return strings.Join(parts, " ")
}

// ElementWiseParams of an element-wise layer.
type ElementWiseParams struct {
	Op ElementWiseOp
}

func (p *ElementWiseParams) String() string { return p.Op.String() }

// ActivationParams of an activation layer.
type ActivationParams struct {
	Type ActivationType
}

func (p *ActivationParams) String() string { return p.Type.String() }

// UnaryParams of a unary layer.
type UnaryParams struct {
	Op UnaryOp
}

func (p *UnaryParams) String() string { return p.Op.String() }

// PaddingParams of a padding layer: the number of elements added before and after each axis.
type PaddingParams struct {
	Pre, Post []int
}

func (p *PaddingParams) String() string { return fmt.Sprintf("pre=%v post=%v", p.Pre, p.Post) }

// ConvolutionParams of a convolution or deconvolution layer over a [C, H, W] input.
// Spatial parameters are given as (height, width).
type ConvolutionParams struct {
	NumOutputs    int
	KernelSize    [2]int
	Strides       [2]int
	Padding       [2]int
	Dilation      [2]int
	Groups        int
	KernelWeights Weights
	BiasWeights   Weights
}

func (p *ConvolutionParams) String() string {
	return fmt.Sprintf("outputs=%d kernel=%v strides=%v padding=%v dilation=%v groups=%d",
		p.NumOutputs, p.KernelSize, p.Strides, p.Padding, p.Dilation, p.Groups)
}

// PoolingParams of a pooling layer over a [C, H, W] input.
type PoolingParams struct {
	Type    PoolingType
	Window  [2]int
	Strides [2]int
	Padding [2]int
}

func (p *PoolingParams) String() string {
	return fmt.Sprintf("%s window=%v strides=%v padding=%v", p.Type, p.Window, p.Strides, p.Padding)
}

// ScaleParams of a scale layer, computing (x*Scale + Shift)^Power. Empty weights are skipped.
type ScaleParams struct {
	Mode                ScaleMode
	Shift, Scale, Power Weights
}

func (p *ScaleParams) String() string {
	return fmt.Sprintf("%s shift=%s scale=%s power=%s", p.Mode, p.Shift, p.Scale, p.Power)
}

// ReduceParams of a reduce layer. Axes is a bit mask.
type ReduceParams struct {
	Op       ReduceOp
	Axes     uint32
	KeepDims bool
}

func (p *ReduceParams) String() string {
	return fmt.Sprintf("%s axes=%#b keep_dims=%v", p.Op, p.Axes, p.KeepDims)
}

// TopKParams of a top-k layer. Axes is a bit mask with exactly one bit set.
type TopKParams struct {
	Op   TopKOp
	K    int
	Axes uint32
}

func (p *TopKParams) String() string { return fmt.Sprintf("%s k=%d axes=%#b", p.Op, p.K, p.Axes) }

// SoftMaxParams of a softmax layer. Axes is a bit mask with exactly one bit set.
type SoftMaxParams struct {
	Axes uint32
}

func (p *SoftMaxParams) String() string { return fmt.Sprintf("axes=%#b", p.Axes) }

// ConcatenationParams of a concatenation layer.
type ConcatenationParams struct {
	Axis int
}

func (p *ConcatenationParams) String() string { return fmt.Sprintf("axis=%d", p.Axis) }

// SliceParams of a slice layer.
type SliceParams struct {
	Start, Size, Stride []int
}

func (p *SliceParams) String() string {
	return fmt.Sprintf("start=%v size=%v stride=%v", p.Start, p.Size, p.Stride)
}

// GatherParams of a gather layer.
type GatherParams struct {
	Axis int
}

func (p *GatherParams) String() string { return fmt.Sprintf("axis=%d", p.Axis) }

// MatrixMultiplyParams of a matrix multiply layer.
type MatrixMultiplyParams struct {
	OpA, OpB MatrixOp
}

func (p *MatrixMultiplyParams) String() string { return fmt.Sprintf("a=%s b=%s", p.OpA, p.OpB) }
