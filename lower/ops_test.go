package lower

import (
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/network"
	"github.com/gomlx/netlower/shape"
	"github.com/gomlx/netlower/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementWise(t *testing.T) {
	t.Run("BroadcastConstant", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 2, 3)
		// The leading 1 of the constant is its batch slot.
		publish(t, c, "c", floatWeights(t, c.Arena(), []int{1, 2, 3}))
		require.NoError(t, c.ConvertNode(newNode("Mul", "mul", []string{"x", "c"}, nil)))
		assert.Equal(t, shape.Make(2, 3), output(t, c, "mul").Dims())
		assert.Equal(t, []network.LayerKind{network.ConstantLayer, network.ElementWiseLayer}, layerKinds(c.Network()))

		publish(t, c, "big", floatWeights(t, c.Arena(), []int{2, 2, 3}))
		err := c.ConvertNode(newNode("Add", "add", []string{"big", "x"}, nil))
		assert.Equal(t, status.InvalidArgument, status.KindOf(err))
		err = c.ConvertNode(newNode("Add", "add", []string{"big", "c"}, nil))
		assert.Equal(t, status.Unimplemented, status.KindOf(err))
	})

	t.Run("BroadcastTensors", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 4, 1, 3)
		addInput(t, c, "y", 5, 3)
		require.NoError(t, c.ConvertNode(newNode("Sub", "sub", []string{"x", "y"}, nil)))
		assert.Equal(t, shape.Make(4, 5, 3), output(t, c, "sub").Dims())
	})

	t.Run("DType", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 2)
		err := c.ConvertNode(newNode("Add", "add", []string{"x", "x"}, attrs{"T": graphdef.Type(graphdef.DTInt32)}))
		assert.Equal(t, status.Unimplemented, status.KindOf(err))
		err = c.ConvertNode(newNode("Exp", "exp", []string{"x"}, attrs{"T": graphdef.Type("DT_STRING")}))
		assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	})

	t.Run("Relu6", func(t *testing.T) {
		c := newConverter(t, Config{Precision: INT8})
		addInput(t, c, "x", 2, 3)
		require.NoError(t, c.ConvertNode(newNode("Relu6", "relu6", []string{"x"}, nil)))
		assert.Equal(t, []network.LayerKind{network.ActivationLayer, network.ConstantLayer, network.ElementWiseLayer},
			layerKinds(c.Network()))
		six := c.Network().Layers()[1].Output(0)
		assert.Equal(t, shape.Make(1, 1), six.Dims())
		got, found := c.Ranges().Range(output(t, c, "relu6"))
		require.True(t, found)
		assert.Equal(t, float32(6), got)
	})

	t.Run("LeakyRelu", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 3)
		require.NoError(t, c.ConvertNode(newNode("LeakyRelu", "leaky", []string{"x"}, attrs{"alpha": graphdef.Float(0.1)})))
		assert.Equal(t, network.ElementWiseLayer, output(t, c, "leaky").Producer().Kind())
		err := c.ConvertNode(newNode("LeakyRelu", "leaky2", []string{"x"}, attrs{"alpha": graphdef.Float(2)}))
		assert.Equal(t, status.Unimplemented, status.KindOf(err))
	})

	t.Run("Rsqrt", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 3)
		require.NoError(t, c.ConvertNode(newNode("Rsqrt", "rsqrt", []string{"x"}, nil)))
		assert.Equal(t, []network.LayerKind{network.UnaryLayer, network.UnaryLayer}, layerKinds(c.Network()))

		quantized := newConverter(t, Config{Precision: INT8})
		addInput(t, quantized, "x", 3)
		err := quantized.ConvertNode(newNode("Rsqrt", "rsqrt", []string{"x"}, nil))
		assert.Equal(t, status.Unimplemented, status.KindOf(err))
	})

	t.Run("BiasAdd", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 4, 4, 3)
		publish(t, c, "b", floatWeights(t, c.Arena(), []int{3}, 1, 2, 3))
		require.NoError(t, c.ConvertNode(newNode("BiasAdd", "bias", []string{"x", "b"}, nil)))
		bias := c.Network().Layers()[0].Output(0)
		assert.Equal(t, shape.Make(1, 1, 3), bias.Dims())

		err := c.ConvertNode(newNode("BiasAdd", "bias2", []string{"x", "b"}, attrs{"data_format": graphdef.Str("NCHW")}))
		assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	})
}

func TestConvolutions(t *testing.T) {
	windowAttrs := func(padding string, strides ...int) attrs {
		return attrs{"padding": graphdef.Str(padding), "strides": graphdef.Ints(strides...)}
	}

	t.Run("SameAsymmetric", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 4, 4, 1)
		publish(t, c, "k", floatWeights(t, c.Arena(), []int{2, 2, 1, 1}, 1, 1, 1, 1))
		require.NoError(t, c.ConvertNode(newNode("Conv2D", "conv", []string{"x", "k"}, windowAttrs("SAME", 1, 1, 1, 1))))
		assert.Equal(t, []network.LayerKind{
			network.ShuffleLayer, network.PaddingLayer, network.ConvolutionLayer, network.ShuffleLayer,
		}, layerKinds(c.Network()))
		padding := c.Network().Layers()[1].Params().(*network.PaddingParams)
		assert.Equal(t, []int{0, 0, 0}, padding.Pre)
		assert.Equal(t, []int{0, 1, 1}, padding.Post)
		assert.Equal(t, shape.Make(4, 4, 1), output(t, c, "conv").Dims())
	})

	t.Run("SameSymmetric", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 2, 5, 5)
		publish(t, c, "k", floatWeights(t, c.Arena(), []int{3, 3, 2, 4}))
		nchw := windowAttrs("SAME", 1, 1, 1, 1)
		nchw["data_format"] = graphdef.Str("NCHW")
		require.NoError(t, c.ConvertNode(newNode("Conv2D", "conv", []string{"x", "k"}, nchw)))
		require.Equal(t, []network.LayerKind{network.ConvolutionLayer}, layerKinds(c.Network()))
		params := c.Network().Layers()[0].Params().(*network.ConvolutionParams)
		assert.Equal(t, [2]int{1, 1}, params.Padding)
		assert.Equal(t, shape.Make(4, 5, 5), output(t, c, "conv").Dims())
	})

	t.Run("Depthwise", func(t *testing.T) {
		c := newConverter(t, Config{Precision: FP16})
		addInput(t, c, "x", 5, 5, 2)
		publish(t, c, "k", floatWeights(t, c.Arena(), []int{3, 3, 2, 2}))
		require.NoError(t, c.ConvertNode(newNode("DepthwiseConv2dNative", "dw", []string{"x", "k"}, windowAttrs("VALID", 1, 1, 1, 1))))
		assert.Equal(t, shape.Make(3, 3, 4), output(t, c, "dw").Dims())
		params := c.Network().Layers()[1].Params().(*network.ConvolutionParams)
		assert.Equal(t, 2, params.Groups)
		assert.Equal(t, dtypes.Float16, params.KernelWeights.DType)
	})

	t.Run("Transposed", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 2, 2, 1)
		publish(t, c, "sizes", intWeights(t, c.Arena(), []int{4}, 1, 4, 4, 1))
		publish(t, c, "k", floatWeights(t, c.Arena(), []int{3, 3, 1, 1}))
		require.NoError(t, c.ConvertNode(newNode("Conv2DBackpropInput", "deconv", []string{"sizes", "k", "x"},
			windowAttrs("SAME", 1, 2, 2, 1))))
		assert.Equal(t, []network.LayerKind{
			network.ShuffleLayer, network.DeconvolutionLayer, network.SliceLayer, network.ShuffleLayer,
		}, layerKinds(c.Network()))
		assert.Equal(t, shape.Make(4, 4, 1), output(t, c, "deconv").Dims())

		publish(t, c, "bad_sizes", intWeights(t, c.Arena(), []int{4}, 1, 5, 5, 1))
		err := c.ConvertNode(newNode("Conv2DBackpropInput", "deconv2", []string{"bad_sizes", "k", "x"},
			windowAttrs("SAME", 1, 2, 2, 1)))
		assert.Equal(t, status.InvalidArgument, status.KindOf(err))
	})

	t.Run("Malformed", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 4, 4, 1)
		publish(t, c, "k", floatWeights(t, c.Arena(), []int{5, 5, 1, 1}))
		for _, tc := range []struct {
			name  string
			attrs attrs
			want  status.Kind
		}{
			{"batch_stride", windowAttrs("SAME", 2, 1, 1, 1), status.Unimplemented},
			{"short_strides", windowAttrs("SAME", 1, 1, 1), status.InvalidArgument},
			{"explicit_padding", windowAttrs("EXPLICIT", 1, 1, 1, 1), status.Unimplemented},
			{"window_too_large", windowAttrs("VALID", 1, 1, 1, 1), status.InvalidArgument},
		} {
			err := c.ConvertNode(newNode("Conv2D", tc.name, []string{"x", "k"}, tc.attrs))
			assert.Equalf(t, tc.want, status.KindOf(err), "case %s: %v", tc.name, err)
		}
		assert.Empty(t, c.Network().Layers())
	})

	t.Run("Pooling", func(t *testing.T) {
		c := newConverter(t, Config{})
		addInput(t, c, "x", 4, 4, 3)
		pool := windowAttrs("VALID", 1, 2, 2, 1)
		pool["ksize"] = graphdef.Ints(1, 2, 2, 1)
		require.NoError(t, c.ConvertNode(newNode("MaxPool", "pool", []string{"x"}, pool)))
		assert.Equal(t, shape.Make(2, 2, 3), output(t, c, "pool").Dims())
		params := c.Network().Layers()[1].Params().(*network.PoolingParams)
		assert.Equal(t, network.MaxPooling, params.Type)
	})
}

func TestReorder(t *testing.T) {
	arena := NewArena()
	values := make([]float32, 12)
	for ii := range values {
		values[ii] = float32(ii)
	}
	rsck := floatWeights(t, arena, []int{1, 2, 2, 3}, values...)
	kcrs, err := arena.GetTempWeights(dtypes.Float32, kcrsDims(rsck.Dims(), 1))
	require.NoError(t, err)
	assert.Equal(t, shape.Make(3, 2, 1, 2), kcrs.Dims())
	reorderRSCKToKCRS(rsck, kcrs, 1)
	assert.Equal(t, []float32{0, 6, 3, 9, 1, 7, 4, 10, 2, 8, 5, 11}, kcrs.Float32s())

	ck := floatWeights(t, arena, []int{2, 3}, values[:6]...)
	kc, err := arena.GetTempWeights(dtypes.Float32, shape.Make(3, 2))
	require.NoError(t, err)
	reorderCKToKC(ck, kc)
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, kc.Float32s())
}

func TestFusedBatchNorm(t *testing.T) {
	arena := NewArena()
	scale := floatWeights(t, arena, []int{2}, 2, 1)
	offset := floatWeights(t, arena, []int{2}, 1, 0)
	mean := floatWeights(t, arena, []int{2}, 3, 1)
	variance := floatWeights(t, arena, []int{2}, 3, 15)
	s, o, err := foldBatchNorm(arena, scale, offset, mean, variance, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.25}, s.Float32s())
	assert.Equal(t, []float32{-2, -0.25}, o.Float32s())

	c := newConverter(t, Config{})
	addInput(t, c, "x", 3, 3, 2)
	for name, w := range map[string]Weights{"scale": scale, "offset": offset, "mean": mean, "variance": variance} {
		publish(t, c, name, w)
	}
	inputs := []string{"x", "scale", "offset", "mean", "variance"}
	require.NoError(t, c.ConvertNode(newNode("FusedBatchNorm", "bn", inputs, attrs{"epsilon": graphdef.Float(1)})))
	assert.Equal(t, []network.LayerKind{network.ShuffleLayer, network.ScaleLayer, network.ShuffleLayer}, layerKinds(c.Network()))
	assert.Equal(t, shape.Make(3, 3, 2), output(t, c, "bn").Dims())

	err = c.ConvertNode(newNode("FusedBatchNorm", "bn2", inputs, attrs{"is_training": graphdef.Bool(true)}))
	assert.Equal(t, status.Unimplemented, status.KindOf(err))
}

func TestShapeOps(t *testing.T) {
	c := newConverter(t, Config{})
	arena := c.Arena()
	addInput(t, c, "x", 2, 3)
	addInput(t, c, "y", 2, 3)
	publish(t, c, "perm", intWeights(t, arena, []int{3}, 0, 2, 1))
	publish(t, c, "bad_perm", intWeights(t, arena, []int{3}, 1, 0, 2))
	publish(t, c, "flat", intWeights(t, arena, []int{2}, -1, 6))
	publish(t, c, "grow", intWeights(t, arena, []int{3}, -1, 3, 3))
	publish(t, c, "fixed_batch", intWeights(t, arena, []int{2}, 4, 6))
	publish(t, c, "last", intWeights(t, arena, []int{1}, -1))
	publish(t, c, "one", intWeights(t, arena, []int{1}, 1))
	publish(t, c, "zero", intWeights(t, arena, []int{1}, 0))

	for _, tc := range []struct {
		op, name string
		inputs   []string
		attrs    attrs
		want     shape.Dims
		err      status.Kind
	}{
		{op: "Transpose", name: "transpose", inputs: []string{"x", "perm"}, want: shape.Make(3, 2)},
		{op: "Transpose", name: "transpose_batch", inputs: []string{"x", "bad_perm"}, err: status.Unimplemented},
		{op: "Reshape", name: "reshape", inputs: []string{"x", "flat"}, want: shape.Make(6)},
		{op: "Reshape", name: "reshape_grow", inputs: []string{"x", "grow"}, err: status.Unimplemented},
		{op: "Reshape", name: "reshape_batch", inputs: []string{"x", "fixed_batch"}, err: status.Unimplemented},
		{op: "ExpandDims", name: "expand", inputs: []string{"x", "last"}, want: shape.Make(2, 3, 1)},
		{op: "ExpandDims", name: "expand_batch", inputs: []string{"x", "zero"}, err: status.Unimplemented},
		{op: "Squeeze", name: "squeeze", inputs: []string{"expand"}, attrs: attrs{"squeeze_dims": graphdef.Ints(3)},
			want: shape.Make(2, 3)},
		{op: "Squeeze", name: "squeeze_all", inputs: []string{"expand"}, err: status.Unimplemented},
		{op: "Squeeze", name: "squeeze_big", inputs: []string{"x"}, attrs: attrs{"squeeze_dims": graphdef.Ints(1)},
			err: status.InvalidArgument},
		{op: "Pack", name: "pack", inputs: []string{"x", "y"}, attrs: attrs{"axis": graphdef.Int(1)}, want: shape.Make(2, 2, 3)},
		{op: "ConcatV2", name: "concat", inputs: []string{"x", "y", "last"}, want: shape.Make(2, 6)},
		{op: "ConcatV2", name: "concat_batch", inputs: []string{"x", "y", "zero"}, err: status.Unimplemented},
		{op: "Pad", name: "pad", inputs: []string{"x", "paddings"}, want: shape.Make(4, 5)},
		{op: "Pad", name: "pad_batch", inputs: []string{"x", "batch_paddings"}, err: status.Unimplemented},
		{op: "Slice", name: "slice", inputs: []string{"x", "begin", "size"}, want: shape.Make(1, 2)},
		{op: "StridedSlice", name: "strided", inputs: []string{"x", "sbegin", "send", "sstrides"},
			attrs: attrs{"begin_mask": graphdef.Int(1), "end_mask": graphdef.Int(1)}, want: shape.Make(2, 2)},
		{op: "StridedSlice", name: "strided_shrink", inputs: []string{"x", "sbegin", "send", "sstrides"},
			attrs: attrs{"shrink_axis_mask": graphdef.Int(2)}, err: status.Unimplemented},
	} {
		switch tc.name {
		case "pad":
			publish(t, c, "paddings", intWeights(t, arena, []int{3, 2}, 0, 0, 1, 1, 0, 2))
		case "pad_batch":
			publish(t, c, "batch_paddings", intWeights(t, arena, []int{3, 2}, 1, 0, 0, 0, 0, 0))
		case "slice":
			publish(t, c, "begin", intWeights(t, arena, []int{3}, 0, 1, 1))
			publish(t, c, "size", intWeights(t, arena, []int{3}, -1, 1, -1))
		case "strided":
			publish(t, c, "sbegin", intWeights(t, arena, []int{3}, 0, 0, 0))
			publish(t, c, "send", intWeights(t, arena, []int{3}, 0, 2, 3))
			publish(t, c, "sstrides", intWeights(t, arena, []int{3}, 1, 1, 2))
		}
		err := c.ConvertNode(newNode(tc.op, tc.name, tc.inputs, tc.attrs))
		if tc.err != status.Unknown {
			assert.Equalf(t, tc.err, status.KindOf(err), "%s: %v", tc.name, err)
			continue
		}
		require.NoErrorf(t, err, "%s", tc.name)
		assert.Equalf(t, tc.want, output(t, c, tc.name).Dims(), "%s", tc.name)
	}

	// A reshape to the same dims adds no layer.
	numLayers := len(c.Network().Layers())
	publish(t, c, "same", intWeights(t, arena, []int{3}, -1, 2, 3))
	require.NoError(t, c.ConvertNode(newNode("Reshape", "reshape_same", []string{"x", "same"}, nil)))
	assert.Len(t, c.Network().Layers(), numLayers)
}

func TestSplit(t *testing.T) {
	c := newConverter(t, Config{})
	addInput(t, c, "x", 2, 6)
	publish(t, c, "dim", intWeights(t, c.Arena(), []int{1}, -1))
	require.NoError(t, c.ConvertNode(newNode("Split", "split", []string{"dim", "x"}, attrs{"num_split": graphdef.Int(3)})))
	for _, name := range []string{"split", "split:1", "split:2"} {
		assert.Equal(t, shape.Make(2, 2), output(t, c, name).Dims())
	}
	assert.False(t, c.Store().Has("split:3"))
	err := c.ConvertNode(newNode("Split", "split4", []string{"dim", "x"}, attrs{"num_split": graphdef.Int(4)}))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))

	require.NoError(t, c.ConvertNode(newNode("Unpack", "unpack", []string{"x"}, attrs{"num": graphdef.Int(2), "axis": graphdef.Int(1)})))
	assert.Equal(t, shape.Make(6), output(t, c, "unpack").Dims())
	assert.Equal(t, shape.Make(6), output(t, c, "unpack:1").Dims())
}

func TestReductions(t *testing.T) {
	c := newConverter(t, Config{Precision: INT8})
	addInput(t, c, "x", 3, 5)
	publish(t, c, "last", intWeights(t, c.Arena(), []int{1}, -1))
	publish(t, c, "batch", intWeights(t, c.Arena(), []int{1}, 0))

	require.NoError(t, c.ConvertNode(newNode("Mean", "mean", []string{"x", "last"}, nil)))
	assert.Equal(t, shape.Make(3), output(t, c, "mean").Dims())
	params := output(t, c, "mean").Producer().Params().(*network.ReduceParams)
	assert.Equal(t, network.ReduceAvg, params.Op)
	require.NoError(t, c.ConvertNode(newNode("Sum", "sum", []string{"x", "last"}, attrs{"keep_dims": graphdef.Bool(true)})))
	assert.Equal(t, shape.Make(3, 1), output(t, c, "sum").Dims())
	err := c.ConvertNode(newNode("Max", "max", []string{"x", "batch"}, nil))
	assert.Equal(t, status.Unimplemented, status.KindOf(err))

	int32Output := attrs{"output_type": graphdef.Type(graphdef.DTInt32)}
	require.NoError(t, c.ConvertNode(newNode("ArgMax", "argmax", []string{"x", "last"}, int32Output)))
	argmax := output(t, c, "argmax")
	assert.Equal(t, shape.Make(3), argmax.Dims())
	assert.Equal(t, dtypes.Int32, argmax.DType())
	err = c.ConvertNode(newNode("ArgMin", "argmin", []string{"x", "last"}, nil))
	assert.Equal(t, status.Unimplemented, status.KindOf(err))

	require.NoError(t, c.ConvertNode(newNode("Softmax", "softmax", []string{"x"}, nil)))
	got, found := c.Ranges().Range(output(t, c, "softmax"))
	require.True(t, found)
	assert.Equal(t, float32(1), got)

	publish(t, c, "k", intWeights(t, c.Arena(), []int{1}, 6))
	err = c.ConvertNode(newNode("TopKV2", "topk", []string{"x", "k"}, nil))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
}

func TestMatrixOps(t *testing.T) {
	c := newConverter(t, Config{})
	arena := c.Arena()
	addInput(t, c, "v", 4)
	addInput(t, c, "x", 2, 3, 4)
	publish(t, c, "w", floatWeights(t, arena, []int{4, 3}))
	publish(t, c, "wt", floatWeights(t, arena, []int{3, 4}, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12))
	publish(t, c, "y", floatWeights(t, arena, []int{1, 4, 5}))

	require.NoError(t, c.ConvertNode(newNode("MatMul", "mm", []string{"v", "w"}, nil)))
	assert.Equal(t, shape.Make(3), output(t, c, "mm").Dims())

	require.NoError(t, c.ConvertNode(newNode("MatMul", "mm_t", []string{"v", "wt"}, attrs{"transpose_b": graphdef.Bool(true)})))
	assert.Equal(t, shape.Make(3), output(t, c, "mm_t").Dims())
	constant := output(t, c, "mm_t").Producer().Inputs()[1].Producer()
	assert.Equal(t, network.ConstantLayer, constant.Kind())

	err := c.ConvertNode(newNode("MatMul", "mm_a", []string{"v", "w"}, attrs{"transpose_a": graphdef.Bool(true)}))
	assert.Equal(t, status.Unimplemented, status.KindOf(err))

	require.NoError(t, c.ConvertNode(newNode("BatchMatMul", "bmm", []string{"x", "y"}, nil)))
	assert.Equal(t, shape.Make(2, 3, 5), output(t, c, "bmm").Dims())
	err = c.ConvertNode(newNode("BatchMatMul", "bmm_adj", []string{"x", "y"}, attrs{"adj_x": graphdef.Bool(true)}))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
}

func TestGather(t *testing.T) {
	c := newConverter(t, Config{})
	addInput(t, c, "params", 5, 3)
	publish(t, c, "indices", intWeights(t, c.Arena(), []int{2}, 0, 4))
	publish(t, c, "out_of_bounds", intWeights(t, c.Arena(), []int{2}, 0, 5))
	publish(t, c, "axis", intWeights(t, c.Arena(), []int{1}, 1))
	gatherAttrs := attrs{"Tparams": floatT, "Tindices": graphdef.Type(graphdef.DTInt32)}

	require.NoError(t, c.ConvertNode(newNode("GatherV2", "gather", []string{"params", "indices", "axis"}, gatherAttrs)))
	assert.Equal(t, shape.Make(2, 3), output(t, c, "gather").Dims())
	err := c.ConvertNode(newNode("GatherV2", "gather2", []string{"params", "out_of_bounds", "axis"}, gatherAttrs))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))
}

func TestQuantize(t *testing.T) {
	c := newConverter(t, Config{Precision: INT8})
	x := addInput(t, c, "x", 4)
	publish(t, c, "lo", floatWeights(t, c.Arena(), []int{1}, -3))
	publish(t, c, "hi", floatWeights(t, c.Arena(), []int{1}, 2))
	require.NoError(t, c.ConvertNode(newNode("FakeQuantWithMinMaxVars", "fq", []string{"x", "lo", "hi"}, nil)))
	assert.Same(t, x.Handle(), output(t, c, "fq"))
	assert.Empty(t, c.Network().Layers())
	got, found := c.Ranges().Range(x.Handle())
	require.True(t, found)
	assert.Equal(t, float32(3), got)

	require.NoError(t, c.ConvertNode(newNode("FakeQuantWithMinMaxArgs", "fq_args", []string{"x"}, nil)))
	got, _ = c.Ranges().Range(x.Handle())
	assert.Equal(t, float32(6), got)

	err := c.ConvertNode(newNode("FakeQuantWithMinMaxVars", "fq_bad", []string{"x", "hi", "lo"}, nil))
	assert.Equal(t, status.InvalidArgument, status.KindOf(err))

	// Outside of INT8 quantization ops are not offloaded.
	v := NewValidator(Config{})
	err = v.ValidateNode(newNode("FakeQuantWithMinMaxArgs", "fq", []string{"x"}, nil), []Value{validationTensor(t, v, 4)})
	assert.Equal(t, status.Unimplemented, status.KindOf(err))
}

// opCase is a node with its inputs: tensors are given by their batch-elided dims (and their dtype, float32
// if not listed in types), weights by their value.
type opCase struct {
	node   *graphdef.NodeDef
	dims   [][]int
	consts map[int]*graphdef.NodeDef
	types  map[int]dtypes.DType
}

func constNode(dtype graphdef.DataType, dims []int, floats []float32, ints []int64) *graphdef.NodeDef {
	return &graphdef.NodeDef{Name: "const", Op: "Const", Attrs: attrs{
		"dtype": graphdef.Type(dtype),
		"value": graphdef.TensorAttr(&graphdef.Tensor{DType: dtype, Dims: dims, FloatVal: floats, IntVal: ints}),
	}}
}

// TestValidateThenBuild checks that the Validator accepts a node if and only if building it succeeds,
// and that both fail with the same kind of error.
func TestValidateThenBuild(t *testing.T) {
	intConst := func(values ...int64) *graphdef.NodeDef {
		return constNode(graphdef.DTInt32, []int{len(values)}, nil, values)
	}
	floatConst := func(dims ...int) *graphdef.NodeDef {
		return constNode(graphdef.DTFloat, dims, []float32{1}, nil)
	}
	conv := func(padding string, strides ...int) attrs {
		return attrs{"padding": graphdef.Str(padding), "strides": graphdef.Ints(strides...)}
	}
	cases := []opCase{
		{node: newNode("Relu", "relu", []string{"x"}, nil), dims: [][]int{{2, 3}}},
		{node: newNode("Relu", "relu_two", []string{"x", "y"}, nil), dims: [][]int{{2, 3}, {2, 3}}},
		{node: newNode("Add", "add", []string{"x", "c"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(1, 2, 3)}},
		{node: newNode("Add", "add_bad", []string{"x", "c"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(4, 3)}},
		{node: newNode("Add", "add_double", []string{"x", "y"}, attrs{"T": graphdef.Type(graphdef.DTDouble)}),
			dims: [][]int{{2}, {2}}},
		{node: newNode("Conv2D", "conv", []string{"x", "k"}, conv("SAME", 1, 2, 2, 1)), dims: [][]int{{8, 8, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(3, 3, 3, 4)}},
		{node: newNode("Conv2D", "conv_valid", []string{"x", "k"}, conv("VALID", 1, 1, 1, 1)), dims: [][]int{{2, 2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(3, 3, 3, 4)}},
		{node: newNode("Conv2D", "conv_strides", []string{"x", "k"}, conv("SAME", 1, 1, 1)), dims: [][]int{{8, 8, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(3, 3, 3, 4)}},
		{node: newNode("Conv2D", "conv_channels", []string{"x", "k"}, conv("SAME", 1, 1, 1, 1)), dims: [][]int{{8, 8, 2}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(3, 3, 3, 4)}},
		{node: newNode("Conv2D", "conv_tensor_kernel", []string{"x", "k"}, conv("SAME", 1, 1, 1, 1)),
			dims: [][]int{{8, 8, 3}, {3, 3, 3, 4}}},
		{node: newNode("Reshape", "reshape", []string{"x", "s"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: intConst(-1, 3, 2)}},
		{node: newNode("Reshape", "reshape_batch", []string{"x", "s"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: intConst(-1, 2)}},
		{node: newNode("Transpose", "transpose", []string{"x", "p"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: intConst(0, 1)}},
		{node: newNode("TopKV2", "topk", []string{"x", "k"}, attrs{"sorted": graphdef.Bool(false)}), dims: [][]int{{5}, nil},
			consts: map[int]*graphdef.NodeDef{1: intConst(2)}},
		{node: newNode("ConcatV2", "concat", []string{"x", "y", "a"}, nil), dims: [][]int{{2, 3}, {2, 4}, nil},
			consts: map[int]*graphdef.NodeDef{2: intConst(2)}},
		{node: newNode("ConcatV2", "concat_bad", []string{"x", "y", "a"}, nil), dims: [][]int{{2, 3}, {2, 4}, nil},
			consts: map[int]*graphdef.NodeDef{2: intConst(1)}},
		{node: newNode("ConcatV2", "concat_mixed", []string{"x", "y", "a"}, nil), dims: [][]int{{2}, {2}, nil},
			consts: map[int]*graphdef.NodeDef{2: intConst(1)}, types: map[int]dtypes.DType{1: dtypes.Int32}},
		{node: newNode("Add", "add_mixed", []string{"x", "y"}, nil), dims: [][]int{{2}, {2}},
			types: map[int]dtypes.DType{1: dtypes.Float16}},
		{node: newNode("Add", "add_half", []string{"x", "y"}, attrs{"T": graphdef.Type(graphdef.DTHalf)}),
			dims: [][]int{{2}, {2}}, types: map[int]dtypes.DType{0: dtypes.Float16, 1: dtypes.Float16}},
		{node: newNode("Add", "add_half_const", []string{"x", "c"}, nil), dims: [][]int{{2}, nil},
			consts: map[int]*graphdef.NodeDef{1: constNode(graphdef.DTHalf, []int{2}, []float32{1}, nil)}},
		{node: newNode("Pack", "pack_mixed", []string{"x", "y"}, attrs{"axis": graphdef.Int(1)}), dims: [][]int{{2}, {2}},
			types: map[int]dtypes.DType{0: dtypes.Float16}},
		{node: newNode("BiasAdd", "bias_add_half", []string{"x", "b"}, nil), dims: [][]int{{2, 3}, nil},
			consts: map[int]*graphdef.NodeDef{1: floatConst(3)}, types: map[int]dtypes.DType{0: dtypes.Float16}},
		{node: newNode("Softmax", "softmax", []string{"x"}, nil), dims: [][]int{{}}},
		{node: newNode("Einsum", "einsum", []string{"x"}, nil), dims: [][]int{{2}}},
	}

	for _, tc := range cases {
		t.Run(tc.node.Name, func(t *testing.T) {
			v := NewValidator(Config{})
			c := newConverter(t, Config{})
			var validationInputs []Value
			for ii, name := range tc.node.Inputs {
				if cn, found := tc.consts[ii]; found {
					w, err := v.ConstValue(cn)
					require.NoError(t, err)
					validationInputs = append(validationInputs, w)
					cn = &graphdef.NodeDef{Name: name, Op: cn.Op, Attrs: cn.Attrs}
					require.NoError(t, c.ConvertNode(cn))
					continue
				}
				dtype, found := tc.types[ii]
				if !found {
					dtype = dtypes.Float32
				}
				x, err := v.TensorValue("Placeholder", dtype, append([]int{-1}, tc.dims[ii]...))
				require.NoError(t, err)
				validationInputs = append(validationInputs, x)
				addTypedInput(t, c, name, dtype, tc.dims[ii]...)
			}
			validateErr := v.ValidateNode(tc.node, validationInputs)
			buildErr := c.ConvertNode(tc.node)
			assert.Equalf(t, status.KindOf(validateErr), status.KindOf(buildErr),
				"validate: %v\nbuild: %v", validateErr, buildErr)
			if validateErr == nil {
				assert.True(t, c.Store().Has(tc.node.Name))
			}
			if strings.HasSuffix(tc.node.Name, "_mixed") || strings.HasSuffix(tc.node.Name, "_half_const") ||
				tc.node.Name == "bias_add_half" {
				assert.Equal(t, status.InvalidArgument, status.KindOf(validateErr), "validate: %v", validateErr)
			}
			if tc.node.Name == "add_mixed" {
				assert.ErrorContains(t, validateErr, "is DT_HALF, but T is DT_FLOAT")
			}
		})
	}
}

func TestValidateTensorProperties(t *testing.T) {
	dtype, dims, batch, err := ValidateTensorProperties("Placeholder", dtypes.Float32, []int{8, 3, 4}, false)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, dtype)
	assert.Equal(t, shape.Make(3, 4), dims)
	assert.Equal(t, 8, batch)

	_, dims, batch, err = ValidateTensorProperties("Const", dtypes.Int32, []int{}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, dims.Rank())
	assert.Equal(t, -1, batch)

	for _, tc := range []struct {
		op             string
		dtype          dtypes.DType
		dims           []int
		validationOnly bool
		want           status.Kind
	}{
		{"Placeholder", dtypes.Float64, []int{1, 2}, false, status.InvalidArgument},
		{"Placeholder", dtypes.Float32, nil, false, status.InvalidArgument},
		{"Placeholder", dtypes.Float32, []int{}, false, status.InvalidArgument},
		{"Placeholder", dtypes.Float32, make([]int, shape.MaxRank+2), false, status.OutOfRange},
		{"Placeholder", dtypes.Float32, []int{-1, 0, 3}, true, status.Unimplemented},
		{"Placeholder", dtypes.Float32, []int{-1, -1, 3}, false, status.InvalidArgument},
	} {
		_, _, _, err := ValidateTensorProperties(tc.op, tc.dtype, tc.dims, tc.validationOnly)
		assert.Equalf(t, tc.want, status.KindOf(err), "dims %v: %v", tc.dims, err)
	}
	_, dims, batch, err = ValidateTensorProperties("Placeholder", dtypes.Float32, []int{-1, -1, 3}, true)
	require.NoError(t, err)
	assert.Equal(t, shape.Make(-1, 3), dims)
	assert.Equal(t, -1, batch)
}
