package network

import (
	"math/bits"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

func (n *Network) checkTensors(tensors ...*Tensor) error {
	for _, t := range tensors {
		if err := n.checkTensor(t); err != nil {
			return err
		}
	}
	return nil
}

func checkWeights(w Weights, what string) error {
	if w.Count < 0 {
		return status.InvalidArgumentf("%s weights with negative count %d", what, w.Count)
	}
	if w.Count == 0 {
		return nil
	}
	if !supportedDType(w.DType) {
		return status.InvalidArgumentf("%s weights of unsupported dtype %s", what, w.DType)
	}
	if int64(len(w.Data)) != w.Count*int64(w.DType.Size()) {
		return status.InvalidArgumentf("%s weights buffer has %d bytes, expected %d values of %s",
			what, len(w.Data), w.Count, w.DType)
	}
	return nil
}

// AddConstant creates a layer that outputs the given weights with the given dims.
// The number of weights must match the element count of dims (a rank-0 constant holds one value).
func (n *Network) AddConstant(dims shape.Dims, w Weights) (*Layer, error) {
	if !shape.HasStaticShape(dims) {
		return nil, status.InvalidArgumentf("constant layer dims must be static, got %s", dims)
	}
	if err := checkWeights(w, "constant"); err != nil {
		return nil, err
	}
	if w.Count != shape.TensorElementCount(dims) {
		return nil, status.InvalidArgumentf("constant layer with %d weights doesn't match dims %s", w.Count, dims)
	}
	return n.addSimpleLayer(ConstantLayer, &ConstantParams{Weights: w}, nil, w.DType, dims), nil
}

// AddIdentity creates a layer that copies its input.
func (n *Network) AddIdentity(x *Tensor) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	return n.addSimpleLayer(IdentityLayer, &IdentityParams{}, []*Tensor{x}, x.dtype, x.dims), nil
}

// permute returns dims permuted by perm, after checking perm is a permutation of the axes.
func permute(dims shape.Dims, perm []int) (shape.Dims, error) {
	if len(perm) != dims.Rank() {
		return shape.Dims{}, status.InvalidArgumentf("permutation %v doesn't match rank of %s", perm, dims)
	}
	seen := sets.Make[int]()
	out := dims
	for ii, axis := range perm {
		if axis < 0 || axis >= dims.Rank() || seen.Has(axis) {
			return shape.Dims{}, status.InvalidArgumentf("invalid permutation %v for dims %s", perm, dims)
		}
		seen.Insert(axis)
		out = out.With(ii, dims.Dim(axis))
	}
	return out, nil
}

// reshape computes the dims of reshaping dims to target, resolving 0 (copy) and -1 (infer) entries.
func reshape(dims shape.Dims, target shape.Dims) (shape.Dims, error) {
	out := target
	inferAxis := -1
	for ii := range target.Rank() {
		switch target.Dim(ii) {
		case 0:
			if ii >= dims.Rank() {
				return shape.Dims{}, status.InvalidArgumentf("reshape to %s copies axis %d missing from %s", target, ii, dims)
			}
			out = out.With(ii, dims.Dim(ii))
		case shape.UnknownDim:
			if inferAxis >= 0 {
				return shape.Dims{}, status.InvalidArgumentf("reshape to %s has more than one inferred dimension", target)
			}
			inferAxis = ii
		}
	}
	total := shape.TensorElementCount(dims)
	if inferAxis >= 0 {
		known, unknown := int64(1), false
		for ii := range out.Rank() {
			if ii == inferAxis {
				continue
			}
			if out.Dim(ii) == shape.UnknownDim {
				unknown = true
			} else {
				known *= int64(out.Dim(ii))
			}
		}
		switch {
		case total < 0 || unknown:
			// Stays unknown.
		case known == 0 || total%known != 0:
			return shape.Dims{}, status.InvalidArgumentf("cannot reshape %s to %s", dims, target)
		default:
			out = out.With(inferAxis, int(total/known))
		}
		return out, nil
	}
	if shape.StaticWithDifferentSize(dims, out) {
		return shape.Dims{}, status.InvalidArgumentf("cannot reshape %s to %s: different number of elements", dims, target)
	}
	return out, nil
}

// AddShuffle creates a transpose/reshape/transpose layer.
func (n *Network) AddShuffle(x *Tensor, params ShuffleParams) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	dims := x.dims
	var err error
	if params.FirstTranspose != nil {
		if dims, err = permute(dims, params.FirstTranspose); err != nil {
			return nil, err
		}
	}
	if params.Reshape != nil {
		if dims, err = reshape(dims, *params.Reshape); err != nil {
			return nil, err
		}
	}
	if params.SecondTranspose != nil {
		if dims, err = permute(dims, params.SecondTranspose); err != nil {
			return nil, err
		}
	}
	return n.addSimpleLayer(ShuffleLayer, &params, []*Tensor{x}, x.dtype, dims), nil
}

// AddElementWise creates a binary element-wise layer. Both operands must have the same rank and
// dtype, and each pair of dimensions must be equal or one of them 1.
func (n *Network) AddElementWise(a, b *Tensor, op ElementWiseOp) (*Layer, error) {
	if err := n.checkTensors(a, b); err != nil {
		return nil, err
	}
	if a.dtype != b.dtype {
		return nil, status.InvalidArgumentf("element-wise %s operands have different dtypes %s and %s", op, a.dtype, b.dtype)
	}
	if a.dims.Rank() != b.dims.Rank() {
		return nil, status.InvalidArgumentf("element-wise %s operands have different ranks: %s and %s", op, a.dims, b.dims)
	}
	dims := a.dims
	for ii := range dims.Rank() {
		da, db := a.dims.Dim(ii), b.dims.Dim(ii)
		switch {
		case da == db, db == 1:
		case da == 1, da == shape.UnknownDim:
			dims = dims.With(ii, db)
		case db == shape.UnknownDim:
		default:
			return nil, status.InvalidArgumentf("element-wise %s operands are not broadcastable: %s and %s", op, a.dims, b.dims)
		}
	}
	return n.addSimpleLayer(ElementWiseLayer, &ElementWiseParams{Op: op}, []*Tensor{a, b}, a.dtype, dims), nil
}

// AddActivation creates an activation layer.
func (n *Network) AddActivation(x *Tensor, activation ActivationType) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	return n.addSimpleLayer(ActivationLayer, &ActivationParams{Type: activation}, []*Tensor{x}, x.dtype, x.dims), nil
}

// AddUnary creates a unary layer.
func (n *Network) AddUnary(x *Tensor, op UnaryOp) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	return n.addSimpleLayer(UnaryLayer, &UnaryParams{Op: op}, []*Tensor{x}, x.dtype, x.dims), nil
}

// AddPadding creates a layer that pads every axis with zeros.
func (n *Network) AddPadding(x *Tensor, pre, post []int) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if len(pre) != x.dims.Rank() || len(post) != x.dims.Rank() {
		return nil, status.InvalidArgumentf("padding %v/%v doesn't match the rank of %s", pre, post, x.dims)
	}
	dims := x.dims
	for ii := range dims.Rank() {
		if pre[ii] < 0 || post[ii] < 0 {
			return nil, status.InvalidArgumentf("negative padding %v/%v", pre, post)
		}
		if dim := dims.Dim(ii); dim != shape.UnknownDim {
			dims = dims.With(ii, dim+pre[ii]+post[ii])
		}
	}
	return n.addSimpleLayer(PaddingLayer, &PaddingParams{Pre: pre, Post: post}, []*Tensor{x}, x.dtype, dims), nil
}

// spatialInput checks that x is [C, H, W] with a known number of channels.
func spatialInput(x *Tensor, what string) error {
	if x.dims.Rank() != 3 {
		return status.InvalidArgumentf("%s input must be [C,H,W], got %s", what, x.dims)
	}
	if x.dims.Dim(0) == shape.UnknownDim {
		return status.InvalidArgumentf("%s input must have a known number of channels, got %s", what, x.dims)
	}
	return nil
}

// windowOutput computes the output size of a windowed op along one axis, or UnknownDim.
func windowOutput(input, window, stride, padding int) (int, error) {
	if input == shape.UnknownDim {
		return shape.UnknownDim, nil
	}
	if stride <= 0 || window <= 0 {
		return 0, status.InvalidArgumentf("invalid window %d or stride %d", window, stride)
	}
	out := (input+2*padding-window)/stride + 1
	if out <= 0 {
		return 0, status.InvalidArgumentf("window %d with stride %d and padding %d doesn't fit input of size %d",
			window, stride, padding, input)
	}
	return out, nil
}

func (p *ConvolutionParams) check(what string) error {
	if p.NumOutputs <= 0 || p.Groups <= 0 || p.NumOutputs%p.Groups != 0 {
		return status.InvalidArgumentf("%s with %d outputs and %d groups", what, p.NumOutputs, p.Groups)
	}
	if err := checkWeights(p.KernelWeights, what+" kernel"); err != nil {
		return err
	}
	if err := checkWeights(p.BiasWeights, what+" bias"); err != nil {
		return err
	}
	if !p.BiasWeights.Empty() && p.BiasWeights.Count != int64(p.NumOutputs) {
		return status.InvalidArgumentf("%s bias has %d values for %d outputs", what, p.BiasWeights.Count, p.NumOutputs)
	}
	return nil
}

// AddConvolution creates a 2D convolution layer over a [C, H, W] input.
func (n *Network) AddConvolution(x *Tensor, params ConvolutionParams) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := spatialInput(x, "convolution"); err != nil {
		return nil, err
	}
	if err := params.check("convolution"); err != nil {
		return nil, err
	}
	channels := x.dims.Dim(0)
	if channels%params.Groups != 0 {
		return nil, status.InvalidArgumentf("convolution of %d channels in %d groups", channels, params.Groups)
	}
	kh, kw := params.KernelSize[0], params.KernelSize[1]
	want := int64(params.NumOutputs) * int64(channels/params.Groups) * int64(kh) * int64(kw)
	if params.KernelWeights.Count != want {
		return nil, status.InvalidArgumentf("convolution kernel has %d weights, expected %d", params.KernelWeights.Count, want)
	}
	dims := shape.Make(params.NumOutputs, 0, 0)
	for ii := range 2 {
		effectiveKernel := (params.KernelSize[ii]-1)*max(params.Dilation[ii], 1) + 1
		out, err := windowOutput(x.dims.Dim(ii+1), effectiveKernel, params.Strides[ii], params.Padding[ii])
		if err != nil {
			return nil, errors.WithMessage(err, "convolution")
		}
		dims = dims.With(ii+1, out)
	}
	return n.addSimpleLayer(ConvolutionLayer, &params, []*Tensor{x}, x.dtype, dims), nil
}

// AddDeconvolution creates a 2D transposed convolution layer over a [C, H, W] input. Dilation is not supported.
func (n *Network) AddDeconvolution(x *Tensor, params ConvolutionParams) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := spatialInput(x, "deconvolution"); err != nil {
		return nil, err
	}
	if err := params.check("deconvolution"); err != nil {
		return nil, err
	}
	if params.Dilation[0] > 1 || params.Dilation[1] > 1 {
		return nil, status.InvalidArgumentf("deconvolution doesn't support dilation %v", params.Dilation)
	}
	channels := x.dims.Dim(0)
	kh, kw := params.KernelSize[0], params.KernelSize[1]
	want := int64(channels) * int64(params.NumOutputs/params.Groups) * int64(kh) * int64(kw)
	if params.KernelWeights.Count != want {
		return nil, status.InvalidArgumentf("deconvolution kernel has %d weights, expected %d", params.KernelWeights.Count, want)
	}
	dims := shape.Make(params.NumOutputs, 0, 0)
	for ii := range 2 {
		in := x.dims.Dim(ii + 1)
		out := shape.UnknownDim
		if in != shape.UnknownDim {
			out = (in-1)*params.Strides[ii] + params.KernelSize[ii] - 2*params.Padding[ii]
			if out <= 0 {
				return nil, status.InvalidArgumentf("deconvolution output of size %d along spatial axis %d", out, ii)
			}
		}
		dims = dims.With(ii+1, out)
	}
	return n.addSimpleLayer(DeconvolutionLayer, &params, []*Tensor{x}, x.dtype, dims), nil
}

// AddPooling creates a 2D pooling layer over a [C, H, W] input.
func (n *Network) AddPooling(x *Tensor, params PoolingParams) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := spatialInput(x, "pooling"); err != nil {
		return nil, err
	}
	dims := x.dims
	for ii := range 2 {
		out, err := windowOutput(x.dims.Dim(ii+1), params.Window[ii], params.Strides[ii], params.Padding[ii])
		if err != nil {
			return nil, errors.WithMessage(err, "pooling")
		}
		dims = dims.With(ii+1, out)
	}
	return n.addSimpleLayer(PoolingLayer, &params, []*Tensor{x}, x.dtype, dims), nil
}

// AddScale creates a layer computing (x*scale + shift)^power, with weights broadcast by the mode.
func (n *Network) AddScale(x *Tensor, params ScaleParams) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	var want int64
	switch params.Mode {
	case UniformScale:
		want = 1
	case ChannelScale:
		if x.dims.Rank() < 1 || x.dims.Dim(0) == shape.UnknownDim {
			return nil, status.InvalidArgumentf("channel scale needs a known first axis, got %s", x.dims)
		}
		want = int64(x.dims.Dim(0))
	case ElementwiseScale:
		want = shape.TensorElementCount(x.dims)
		if want < 0 {
			return nil, status.InvalidArgumentf("element-wise scale needs a static shape, got %s", x.dims)
		}
	default:
		return nil, status.InvalidArgumentf("unknown scale mode %s", params.Mode)
	}
	for _, w := range []Weights{params.Shift, params.Scale, params.Power} {
		if err := checkWeights(w, "scale"); err != nil {
			return nil, err
		}
		if w.Empty() {
			continue
		}
		if w.DType != x.dtype {
			return nil, status.InvalidArgumentf("scale weights of dtype %s for input of dtype %s", w.DType, x.dtype)
		}
		if w.Count != want {
			return nil, status.InvalidArgumentf("%s scale has %d weights, expected %d", params.Mode, w.Count, want)
		}
	}
	return n.addSimpleLayer(ScaleLayer, &params, []*Tensor{x}, x.dtype, x.dims), nil
}

// checkAxesMask verifies the mask only refers to axes of dims, and has exactly one bit set if single is true.
func checkAxesMask(axes uint32, dims shape.Dims, single bool) error {
	if axes == 0 || axes>>uint(dims.Rank()) != 0 {
		return status.InvalidArgumentf("invalid axes mask %#b for dims %s", axes, dims)
	}
	if single && bits.OnesCount32(axes) != 1 {
		return status.InvalidArgumentf("axes mask %#b must select exactly one axis", axes)
	}
	return nil
}

// AddReduce creates a reduction over the axes in the mask.
func (n *Network) AddReduce(x *Tensor, op ReduceOp, axes uint32, keepDims bool) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := checkAxesMask(axes, x.dims, false); err != nil {
		return nil, err
	}
	dims := x.dims
	for ii := x.dims.Rank() - 1; ii >= 0; ii-- {
		if axes&(1<<uint(ii)) == 0 {
			continue
		}
		if keepDims {
			dims = dims.With(ii, 1)
		} else {
			dims, _ = dims.Remove(ii)
		}
	}
	params := &ReduceParams{Op: op, Axes: axes, KeepDims: keepDims}
	return n.addSimpleLayer(ReduceLayer, params, []*Tensor{x}, x.dtype, dims), nil
}

// AddTopK creates a layer with two outputs: the k largest (or smallest) values along the axis and their indices.
func (n *Network) AddTopK(x *Tensor, op TopKOp, k int, axes uint32) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := checkAxesMask(axes, x.dims, true); err != nil {
		return nil, err
	}
	axis := bits.TrailingZeros32(axes)
	if k <= 0 || (x.dims.Dim(axis) != shape.UnknownDim && k > x.dims.Dim(axis)) {
		return nil, status.InvalidArgumentf("top-k with k=%d along axis %d of %s", k, axis, x.dims)
	}
	dims := x.dims.With(axis, k)
	params := &TopKParams{Op: op, K: k, Axes: axes}
	return n.addLayer(TopKLayer, params, []*Tensor{x},
		[]dtypes.DType{x.dtype, dtypes.Int32}, []shape.Dims{dims, dims}), nil
}

// AddSoftMax creates a softmax layer along the axis in the mask.
func (n *Network) AddSoftMax(x *Tensor, axes uint32) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	if err := checkAxesMask(axes, x.dims, true); err != nil {
		return nil, err
	}
	return n.addSimpleLayer(SoftMaxLayer, &SoftMaxParams{Axes: axes}, []*Tensor{x}, x.dtype, x.dims), nil
}

// AddConcatenation concatenates the inputs along the axis. All other dimensions must match.
func (n *Network) AddConcatenation(inputs []*Tensor, axis int) (*Layer, error) {
	if len(inputs) == 0 {
		return nil, status.InvalidArgumentf("concatenation needs at least one input")
	}
	if err := n.checkTensors(inputs...); err != nil {
		return nil, err
	}
	first := inputs[0]
	if axis < 0 || axis >= first.dims.Rank() {
		return nil, status.InvalidArgumentf("concatenation axis %d out of bounds for %s", axis, first.dims)
	}
	dims := first.dims
	for _, x := range inputs[1:] {
		if x.dtype != first.dtype || x.dims.Rank() != first.dims.Rank() {
			return nil, status.InvalidArgumentf("concatenation of incompatible %s and %s", first, x)
		}
		for ii := range dims.Rank() {
			if ii == axis {
				if dims.Dim(ii) == shape.UnknownDim || x.dims.Dim(ii) == shape.UnknownDim {
					dims = dims.With(ii, shape.UnknownDim)
				} else {
					dims = dims.With(ii, dims.Dim(ii)+x.dims.Dim(ii))
				}
			} else if x.dims.Dim(ii) != first.dims.Dim(ii) {
				return nil, status.InvalidArgumentf("concatenation along axis %d of %s and %s", axis, first.dims, x.dims)
			}
		}
	}
	return n.addSimpleLayer(ConcatenationLayer, &ConcatenationParams{Axis: axis}, inputs, first.dtype, dims), nil
}

// AddSlice creates a strided slice layer.
func (n *Network) AddSlice(x *Tensor, start, size, stride []int) (*Layer, error) {
	if err := n.checkTensor(x); err != nil {
		return nil, err
	}
	rank := x.dims.Rank()
	if len(start) != rank || len(size) != rank || len(stride) != rank {
		return nil, status.InvalidArgumentf("slice start=%v size=%v stride=%v doesn't match %s", start, size, stride, x.dims)
	}
	dims, err := shape.New(size...)
	if err != nil {
		return nil, err
	}
	for ii := range rank {
		if size[ii] <= 0 || stride[ii] <= 0 || start[ii] < 0 {
			return nil, status.InvalidArgumentf("invalid slice start=%v size=%v stride=%v", start, size, stride)
		}
		if dim := x.dims.Dim(ii); dim != shape.UnknownDim && start[ii]+(size[ii]-1)*stride[ii] >= dim {
			return nil, status.InvalidArgumentf("slice start=%v size=%v stride=%v out of bounds of %s", start, size, stride, x.dims)
		}
	}
	params := &SliceParams{Start: start, Size: size, Stride: stride}
	return n.addSimpleLayer(SliceLayer, params, []*Tensor{x}, x.dtype, dims), nil
}

// AddGather gathers slices of data along the axis, at the given int32 indices.
// The output dims are data[:axis] + indices + data[axis+1:].
func (n *Network) AddGather(data, indices *Tensor, axis int) (*Layer, error) {
	if err := n.checkTensors(data, indices); err != nil {
		return nil, err
	}
	if indices.dtype != dtypes.Int32 {
		return nil, status.InvalidArgumentf("gather indices must be int32, got %s", indices.dtype)
	}
	if axis < 0 || axis >= data.dims.Rank() {
		return nil, status.InvalidArgumentf("gather axis %d out of bounds for %s", axis, data.dims)
	}
	out := make([]int, 0, data.dims.Rank()+indices.dims.Rank()-1)
	out = append(out, data.dims.Slice()[:axis]...)
	out = append(out, indices.dims.Slice()...)
	out = append(out, data.dims.Slice()[axis+1:]...)
	dims, err := shape.New(out...)
	if err != nil {
		return nil, errors.WithMessage(err, "gather output")
	}
	return n.addSimpleLayer(GatherLayer, &GatherParams{Axis: axis}, []*Tensor{data, indices}, data.dtype, dims), nil
}

// matrixDims returns the (rows, cols) of a matrix operand after op, and its leading (batch) dims.
func matrixDims(x *Tensor, op MatrixOp) (rows, cols int, leading []int, err error) {
	dims := x.dims.Slice()
	if op == MatrixVector {
		if len(dims) < 1 {
			return 0, 0, nil, status.InvalidArgumentf("vector operand must have rank >= 1, got %s", x.dims)
		}
		return 1, dims[len(dims)-1], dims[:len(dims)-1], nil
	}
	if len(dims) < 2 {
		return 0, 0, nil, status.InvalidArgumentf("matrix operand must have rank >= 2, got %s", x.dims)
	}
	rows, cols = dims[len(dims)-2], dims[len(dims)-1]
	if op == MatrixTranspose {
		rows, cols = cols, rows
	}
	return rows, cols, dims[:len(dims)-2], nil
}

// AddMatrixMultiply multiplies a and b, after applying opA and opB. Leading dimensions are broadcast.
func (n *Network) AddMatrixMultiply(a *Tensor, opA MatrixOp, b *Tensor, opB MatrixOp) (*Layer, error) {
	if err := n.checkTensors(a, b); err != nil {
		return nil, err
	}
	if a.dtype != b.dtype {
		return nil, status.InvalidArgumentf("matrix multiply of different dtypes %s and %s", a.dtype, b.dtype)
	}
	if opA == MatrixVector && opB == MatrixVector {
		return nil, status.InvalidArgumentf("matrix multiply of two vectors is not supported")
	}
	rowsA, colsA, leadA, err := matrixDims(a, opA)
	if err != nil {
		return nil, err
	}
	rowsB, colsB, leadB, err := matrixDims(b, opB)
	if err != nil {
		return nil, err
	}
	if opB == MatrixVector {
		// A vector on the right is a column.
		rowsB, colsB = colsB, 1
	}
	if colsA != rowsB && colsA != shape.UnknownDim && rowsB != shape.UnknownDim {
		return nil, status.InvalidArgumentf("matrix multiply of incompatible %s (%s) and %s (%s)", a.dims, opA, b.dims, opB)
	}
	if len(leadA) != len(leadB) {
		return nil, status.InvalidArgumentf("matrix multiply operands %s and %s have different ranks", a.dims, b.dims)
	}
	out := make([]int, 0, len(leadA)+2)
	for ii := range leadA {
		da, db := leadA[ii], leadB[ii]
		switch {
		case da == db, db == 1:
			out = append(out, da)
		case da == 1:
			out = append(out, db)
		default:
			return nil, status.InvalidArgumentf("matrix multiply can't broadcast %s and %s", a.dims, b.dims)
		}
	}
	if opA != MatrixVector {
		out = append(out, rowsA)
	}
	if opB != MatrixVector {
		out = append(out, colsB)
	}
	dims, err := shape.New(out...)
	if err != nil {
		return nil, err
	}
	params := &MatrixMultiplyParams{OpA: opA, OpB: opB}
	return n.addSimpleLayer(MatrixMultiplyLayer, params, []*Tensor{a, b}, a.dtype, dims), nil
}
