package lower

import (
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

// Permutations between the NHWC layout of the source graph and the CHW layout of the network,
// batch included.
var (
	nhwcToNCHW = []int{0, 3, 1, 2}
	nchwToNHWC = []int{0, 2, 3, 1}
)

// windowAttr returns the (height, width) entries of a 4 values attribute like "strides" or "ksize".
// The batch and channel entries must be 1.
func windowAttr(p *Params, name string, defaultValue []int, format string) ([2]int, error) {
	values, err := p.Node.IntsAttrOr(name, defaultValue)
	if err != nil {
		return [2]int{}, err
	}
	if len(values) != 4 {
		return [2]int{}, status.InvalidArgumentf("%s of %s must have 4 values, got %v", name, p.Node, values)
	}
	hAxis, wAxis, cAxis := 1, 2, 3
	if format == "NCHW" {
		hAxis, wAxis, cAxis = 2, 3, 1
	}
	if values[0] != 1 || values[cAxis] != 1 {
		return [2]int{}, status.Unimplementedf("%s must be 1 for batch and channel dimensions, got %v at %s",
			name, values, p.Node.Name)
	}
	if values[hAxis] <= 0 || values[wAxis] <= 0 {
		return [2]int{}, status.InvalidArgumentf("%s of %s must be positive, got %v", name, p.Node, values)
	}
	return [2]int{values[hAxis], values[wAxis]}, nil
}

// paddingAttr returns the "padding" attribute, "SAME" or "VALID".
func paddingAttr(p *Params) (string, error) {
	padding, err := p.Node.StringAttr("padding")
	if err != nil {
		return "", err
	}
	if padding != "SAME" && padding != "VALID" {
		return "", status.Unimplementedf("padding %q is not supported, at %s", padding, p.Node.Name)
	}
	return padding, nil
}

// spatialInputDims checks x has rank 4 (batch included) and returns the index of its channel axis.
func spatialInputDims(p *Params, x *Tensor, format string) (channelAxis int, err error) {
	if x.dims.Rank() != 3 {
		return 0, status.InvalidArgumentf("%s expects an input of rank 4 (batch included), got %s, at %s",
			p.Node.Op, x.dims, p.Node.Name)
	}
	channelAxis = 2
	if format == "NCHW" {
		channelAxis = 0
	}
	if x.dims.Dim(channelAxis) == shape.UnknownDim {
		return 0, status.InvalidArgumentf("channel dimension of the input of %s must be known, got %s",
			p.Node, x.dims)
	}
	return channelAxis, nil
}

// toCHW transposes an NHWC tensor to CHW. NCHW tensors are returned as is.
func (c *Converter) toCHW(x *network.Tensor, format string) (*network.Tensor, error) {
	if format == "NCHW" {
		return x, nil
	}
	return c.transposeTensor(x, nhwcToNCHW)
}

// fromCHW reverts toCHW.
func (c *Converter) fromCHW(x *network.Tensor, format string) (*network.Tensor, error) {
	if format == "NCHW" {
		return x, nil
	}
	return c.transposeTensor(x, nchwToNHWC)
}

// padSpatial applies SAME padding to a [C,H,W] tensor for the given window. Symmetric padding is
// returned to be handled by the windowed layer itself, asymmetric padding is done by a padding layer.
func (c *Converter) padSpatial(x *network.Tensor, strides, window [2]int) (*network.Tensor, [2]int, error) {
	paddings, err := shape.SamePadding(strides[:], window[:], x.Dims().Slice()[1:])
	if err != nil {
		return nil, [2]int{}, err
	}
	if paddings[0].Symmetric() && paddings[1].Symmetric() {
		return x, [2]int{paddings[0].Pre, paddings[1].Pre}, nil
	}
	layer, err := c.net.AddPadding(x,
		[]int{0, paddings[0].Pre, paddings[1].Pre},
		[]int{0, paddings[0].Post, paddings[1].Post})
	if err != nil {
		return nil, [2]int{}, err
	}
	out := layer.Output(0)
	c.MarkQuantizationRangesAsInferable(x, out)
	return out, [2]int{}, nil
}

// checkValidWindow verifies an unpadded window fits the known spatial dimensions of x.
func checkValidWindow(p *Params, x *Tensor, format string, kh, kw int, dilations [2]int) error {
	hAxis := 0
	if format == "NCHW" {
		hAxis = 1
	}
	for ii, k := range []int{kh, kw} {
		effective := (k-1)*dilations[ii] + 1
		if dim := x.dims.Dim(hAxis + ii); dim != shape.UnknownDim && dim < effective {
			return status.InvalidArgumentf("window of size %d doesn't fit the input %s of %s with VALID padding",
				effective, x.dims, p.Node)
		}
	}
	return nil
}

type convKind int

const (
	plainConv convKind = iota
	depthwiseConv
	transposedConv
)

func convertConv2D(p *Params) (emitFn, error) { return convertConv(p, plainConv) }

func convertDepthwiseConv2D(p *Params) (emitFn, error) { return convertConv(p, depthwiseConv) }

func convertConv2DBackpropInput(p *Params) (emitFn, error) { return convertConv(p, transposedConv) }

// convAttrs are the checked parameters of a convolution.
type convAttrs struct {
	format     string
	padding    string
	strides    [2]int
	dilations  [2]int
	groups     int
	numOutputs int

	// Transposed convolutions only: the padding of the output.
	outPadding []shape.Padding
}

func convertConv(p *Params, kind convKind) (emitFn, error) {
	specs := []inputSpec{tensorInput("input"), weightsInput("filter")}
	inputIdx := 0
	if kind == transposedConv {
		specs = []inputSpec{weightsInput("input_sizes"), weightsInput("filter"), tensorInput("out_backprop")}
		inputIdx = 2
	}
	var attrs convAttrs
	err := p.validate(
		inputsAre(specs...),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T", inputIdx, 1),
		func(p *Params) error {
			filter := p.weights(1)
			if filter.dims.Rank() != 4 {
				return status.InvalidArgumentf("%s expects a kernel of rank 4, got %s, at %s",
					p.Node.Op, filter.dims, p.Node.Name)
			}
			return nil
		},
		func(p *Params) (err error) {
			if attrs.format, err = dataFormat(p); err != nil {
				return err
			}
			if attrs.strides, err = windowAttr(p, "strides", nil, attrs.format); err != nil {
				return err
			}
			if attrs.dilations, err = windowAttr(p, "dilations", []int{1, 1, 1, 1}, attrs.format); err != nil {
				return err
			}
			if kind == transposedConv && attrs.dilations != [2]int{1, 1} {
				return status.Unimplementedf("dilation with %s (conv2d_transpose) is not supported, at %s",
					p.Node.Op, p.Node.Name)
			}
			attrs.padding, err = paddingAttr(p)
			return err
		},
		func(p *Params) error {
			x, filter := p.tensor(inputIdx), p.weights(1)
			channelAxis, err := spatialInputDims(p, x, attrs.format)
			if err != nil {
				return err
			}
			channels := x.dims.Dim(channelAxis)
			switch kind {
			case plainConv:
				attrs.groups = 1
				attrs.numOutputs = filter.dims.Dim(3)
				if filter.dims.Dim(2) != channels {
					return status.InvalidArgumentf("kernel of %s expects %d input channels, the input has %d",
						p.Node, filter.dims.Dim(2), channels)
				}
			case depthwiseConv:
				attrs.groups = channels
				attrs.numOutputs = channels * filter.dims.Dim(3)
				if filter.dims.Dim(2) != channels {
					return status.InvalidArgumentf("kernel of %s expects %d input channels, the input has %d",
						p.Node, filter.dims.Dim(2), channels)
				}
			case transposedConv:
				attrs.groups = 1
				attrs.numOutputs = filter.dims.Dim(2)
				if filter.dims.Dim(3) != channels {
					return status.InvalidArgumentf("kernel of %s expects %d input channels, the input has %d",
						p.Node, filter.dims.Dim(3), channels)
				}
				return checkTransposedOutput(p, x, &attrs, [2]int{filter.dims.Dim(0), filter.dims.Dim(1)})
			}
			if attrs.padding == "VALID" {
				return checkValidWindow(p, x, attrs.format, filter.dims.Dim(0), filter.dims.Dim(1), attrs.dilations)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	x, filter := p.tensor(inputIdx), p.weights(1)
	return func(c *Converter) ([]Value, error) {
		kernel, err := c.arena.GetTempWeights(filter.dtype, kcrsDims(filter.dims, attrs.groups))
		if err != nil {
			return nil, err
		}
		reorderRSCKToKCRS(filter, kernel, attrs.groups)
		if kernel, err = c.layerWeights(kernel); err != nil {
			return nil, err
		}
		input, err := c.toCHW(x.handle, attrs.format)
		if err != nil {
			return nil, err
		}
		params := network.ConvolutionParams{
			NumOutputs:    attrs.numOutputs,
			KernelSize:    [2]int{filter.dims.Dim(0), filter.dims.Dim(1)},
			Strides:       attrs.strides,
			Dilation:      attrs.dilations,
			Groups:        attrs.groups,
			KernelWeights: kernel.netWeights(),
		}

		var out *network.Tensor
		if kind == transposedConv {
			out, err = c.addTransposedConv(p, input, params, attrs.outPadding)
			if err != nil {
				return nil, err
			}
		} else {
			if attrs.padding == "SAME" {
				var effective [2]int
				for ii := range effective {
					effective[ii] = (params.KernelSize[ii]-1)*attrs.dilations[ii] + 1
				}
				if input, params.Padding, err = c.padSpatial(input, attrs.strides, effective); err != nil {
					return nil, err
				}
			}
			layer, err := c.net.AddConvolution(input, params)
			if err != nil {
				return nil, err
			}
			layer.SetName(p.Node.Name)
			out = layer.Output(0)
		}
		if out, err = c.fromCHW(out, attrs.format); err != nil {
			return nil, err
		}
		return []Value{tensorFor(out)}, nil
	}, nil
}

// checkTransposedOutput verifies the requested output sizes of a transposed convolution and computes
// its padding.
func checkTransposedOutput(p *Params, x *Tensor, attrs *convAttrs, kernel [2]int) error {
	sizes, err := p.intWeights(0, "input_sizes")
	if err != nil {
		return err
	}
	if len(sizes) != 4 {
		return status.InvalidArgumentf("input_sizes of %s must have 4 values, got %v", p.Node, sizes)
	}
	hAxis, cAxis := 1, 3
	if attrs.format == "NCHW" {
		hAxis, cAxis = 2, 1
	}
	if sizes[cAxis] != attrs.numOutputs {
		return status.InvalidArgumentf("input_sizes %v of %s doesn't match the %d output channels of the kernel",
			sizes, p.Node, attrs.numOutputs)
	}
	target := []int{sizes[hAxis], sizes[hAxis+1]}
	if attrs.padding == "SAME" {
		attrs.outPadding, err = shape.SamePadding(attrs.strides[:], kernel[:], target)
		if err != nil {
			return errors.WithMessagef(err, "output padding of %s", p.Node)
		}
	} else {
		attrs.outPadding = make([]shape.Padding, 2)
	}
	inAxis := 0
	if attrs.format == "NCHW" {
		inAxis = 1
	}
	for ii := range 2 {
		in := x.dims.Dim(inAxis + ii)
		if in == shape.UnknownDim {
			continue
		}
		out := (in-1)*attrs.strides[ii] + kernel[ii] - attrs.outPadding[ii].Pre - attrs.outPadding[ii].Post
		if out != target[ii] {
			return status.InvalidArgumentf("%s produces a spatial size of %d on axis %d, but input_sizes requests %d",
				p.Node, out, ii, target[ii])
		}
	}
	return nil
}

// addTransposedConv adds the deconvolution layer. Asymmetric padding is done by cropping the
// unpadded output with a slice.
func (c *Converter) addTransposedConv(p *Params, x *network.Tensor, params network.ConvolutionParams,
	padding []shape.Padding) (*network.Tensor, error) {
	symmetric := padding[0].Symmetric() && padding[1].Symmetric()
	if symmetric {
		params.Padding = [2]int{padding[0].Pre, padding[1].Pre}
	}
	layer, err := c.net.AddDeconvolution(x, params)
	if err != nil {
		return nil, err
	}
	out := layer.Output(0)
	if symmetric {
		layer.SetName(p.Node.Name)
		return out, nil
	}
	dims := out.Dims()
	size := []int{dims.Dim(0), dims.Dim(1) - padding[0].Pre - padding[0].Post, dims.Dim(2) - padding[1].Pre - padding[1].Post}
	crop, err := c.net.AddSlice(out, []int{0, padding[0].Pre, padding[1].Pre}, size, []int{1, 1, 1})
	if err != nil {
		return nil, err
	}
	crop.SetName(p.Node.Name)
	c.MarkQuantizationRangesAsInferable(out, crop.Output(0))
	return crop.Output(0), nil
}

var poolingTypes = map[string]network.PoolingType{
	"MaxPool": network.MaxPooling,
	"AvgPool": network.AveragePooling,
}

func convertPool(p *Params) (emitFn, error) {
	var (
		format, padding string
		window, strides [2]int
	)
	err := p.validate(
		inputsAre(tensorInput("input")),
		dtypeIn("T", floatTypes...),
		inputDTypesAre("T"),
		func(p *Params) (err error) {
			if format, err = dataFormat(p); err != nil {
				return err
			}
			if window, err = windowAttr(p, "ksize", nil, format); err != nil {
				return err
			}
			if strides, err = windowAttr(p, "strides", nil, format); err != nil {
				return err
			}
			if padding, err = paddingAttr(p); err != nil {
				return err
			}
			if _, err = spatialInputDims(p, p.tensor(0), format); err != nil {
				return err
			}
			if padding == "VALID" {
				return checkValidWindow(p, p.tensor(0), format, window[0], window[1], [2]int{1, 1})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	x := p.tensor(0)
	poolingType := poolingTypes[p.Node.Op]
	return func(c *Converter) ([]Value, error) {
		input, err := c.toCHW(x.handle, format)
		if err != nil {
			return nil, err
		}
		params := network.PoolingParams{Type: poolingType, Window: window, Strides: strides}
		if padding == "SAME" {
			if input, params.Padding, err = c.padSpatial(input, strides, window); err != nil {
				return nil, err
			}
		}
		layer, err := c.net.AddPooling(input, params)
		if err != nil {
			return nil, err
		}
		layer.SetName(p.Node.Name)
		out := layer.Output(0)
		c.MarkQuantizationRangesAsInferable(input, out)
		if out, err = c.fromCHW(out, format); err != nil {
			return nil, err
		}
		return []Value{tensorFor(out)}, nil
	}, nil
}
