package shape

import (
	"github.com/gomlx/netlower/status"
)

// ConvertAxis maps an axis of the source graph, which counts the batch dimension and may be negative,
// to an axis of the batch-elided target, for a target of rank targetRank.
//
// The source rank is targetRank+1 and the axis must be in [-sourceRank, sourceRank), otherwise it
// fails with OutOfRange. The batch axis can never be manipulated: it fails with Unimplemented.
// label identifies the node in error messages.
func ConvertAxis(axis, targetRank int, label string) (int, error) {
	sourceRank := targetRank + 1
	if axis < -sourceRank || axis >= sourceRank {
		return 0, status.OutOfRangef("axis value of %d is out of bounds, must be in range [%d, %d), at %s",
			axis, -sourceRank, sourceRank, label)
	}
	if axis < 0 {
		axis += sourceRank
	}
	if axis == 0 {
		return 0, status.Unimplementedf("modifications to the batch dimension are not supported, at %s", label)
	}
	return axis - 1, nil
}
