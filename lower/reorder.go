package lower

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/shape"
	"github.com/x448/float16"
)

// kcrsDims returns the dims of RSCK (height, width, input channels, output channels) kernel weights
// reordered to the KCRS layout of the network, for the given number of groups.
func kcrsDims(rsck shape.Dims, groups int) shape.Dims {
	r, s := rsck.Dim(0), rsck.Dim(1)
	c, k := rsck.Dim(2)/groups, rsck.Dim(3)*groups
	return shape.Make(k/groups, c*groups, r, s)
}

// reorderRSCKToKCRS copies the kernel in (RSCK) to out (KCRS), which must have been allocated with
// kcrsDims. For depthwise kernels (groups equal to the channels) the multiplier axis is folded into K.
func reorderRSCKToKCRS(in, out Weights, groups int) {
	r, s := in.dims.Dim(0), in.dims.Dim(1)
	c, k := in.dims.Dim(2)/groups, in.dims.Dim(3)*groups
	reorder4([4]int{k, c, r, s}, in.data, [4]int{1, k, s * k * c, c * k},
		out.data, [4]int{c * r * s, r * s, s, 1}, in.dtype.Size())
}

// reorderCKToKC transposes a [C, K] matrix to [K, C].
func reorderCKToKC(in, out Weights) {
	c, k := in.dims.Dim(0), in.dims.Dim(1)
	reorder2([2]int{k, c}, in.data, [2]int{1, k}, out.data, [2]int{c, 1}, in.dtype.Size())
}

func reorder2(dims [2]int, in []byte, inStrides [2]int, out []byte, outStrides [2]int, elemSize int) {
	for i0 := range dims[0] {
		for i1 := range dims[1] {
			src := (i0*inStrides[0] + i1*inStrides[1]) * elemSize
			dst := (i0*outStrides[0] + i1*outStrides[1]) * elemSize
			copy(out[dst:dst+elemSize], in[src:src+elemSize])
		}
	}
}

func reorder4(dims [4]int, in []byte, inStrides [4]int, out []byte, outStrides [4]int, elemSize int) {
	for i0 := range dims[0] {
		for i1 := range dims[1] {
			for i2 := range dims[2] {
				for i3 := range dims[3] {
					src := (i0*inStrides[0] + i1*inStrides[1] + i2*inStrides[2] + i3*inStrides[3]) * elemSize
					dst := (i0*outStrides[0] + i1*outStrides[1] + i2*outStrides[2] + i3*outStrides[3]) * elemSize
					copy(out[dst:dst+elemSize], in[src:src+elemSize])
				}
			}
		}
	}
}

// layerWeights returns the weights a layer should use in the precision mode of the pass:
// float32 weights are converted to float16 in FP16 mode.
func (c *Converter) layerWeights(w Weights) (Weights, error) {
	if c.cfg.Precision != FP16 || w.dtype != dtypes.Float32 {
		return w, nil
	}
	half, err := c.arena.GetTempWeights(dtypes.Float16, w.dims)
	if err != nil {
		return Weights{}, err
	}
	out := half.Float16s()
	for ii, v := range w.Float32s() {
		out[ii] = float16.Fromfloat32(v)
	}
	return half, nil
}
