package shape

import (
	"github.com/gomlx/netlower/status"
)

// Padding is the number of elements added before and after one spatial axis.
type Padding struct {
	Pre, Post int
}

// Symmetric returns whether Pre == Post.
func (p Padding) Symmetric() bool { return p.Pre == p.Post }

// SamePadding computes the padding for "SAME" windowed ops (convolutions, pooling), one entry per
// spatial axis.
//
// The total padding of an axis is max(0, ((input-1)/stride)*stride + kernel - input), with integer
// division. An odd total puts the extra element on the trailing side.
func SamePadding(strides, kernel, inputDims []int) ([]Padding, error) {
	if len(strides) != len(kernel) || len(strides) != len(inputDims) {
		return nil, status.InvalidArgumentf(
			"SAME padding needs one stride, kernel size and input dimension per axis, got %v, %v and %v",
			strides, kernel, inputDims)
	}
	paddings := make([]Padding, len(strides))
	for ii, stride := range strides {
		if stride <= 0 {
			return nil, status.InvalidArgumentf("SAME padding with non-positive stride %d (axis %d)", stride, ii)
		}
		if kernel[ii] <= 0 {
			return nil, status.InvalidArgumentf("SAME padding with non-positive kernel size %d (axis %d)", kernel[ii], ii)
		}
		input := inputDims[ii]
		if input < 0 {
			return nil, status.InvalidArgumentf("SAME padding requires known spatial dimensions, got %v", inputDims)
		}
		total := max(0, ((input-1)/stride)*stride+kernel[ii]-input)
		paddings[ii].Pre = total / 2
		paddings[ii].Post = total - paddings[ii].Pre
	}
	return paddings, nil
}
