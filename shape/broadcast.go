package shape

import (
	"github.com/gomlx/netlower/status"
)

// Operand is one side of a broadcast: its batch-elided dims and whether it is a constant.
//
// Runtime tensors never carry the batch dimension in their dims, but constants may: their leading
// dimension can be a vestigial size-1 batch slot.
type Operand struct {
	Dims     Dims
	Constant bool
}

// BroadcastReconcile computes the dims each operand of a binary element-wise op must be reshaped to,
// so that both have the same rank and are broadcast compatible.
//
//  1. If one operand is a constant with a higher rank than the other, its leading dimension is taken
//     to be the batch slot: it is dropped if it is 1 or unknown, and it is an error otherwise.
//  2. The operand with lower rank is left-padded with 1s.
//  3. Every aligned pair of dimensions must be equal, or one of them 1 or unknown.
//
// All failures are InvalidArgument. The result does not depend on the order of the operands.
func BroadcastReconcile(lhs, rhs Operand) (lhsDims, rhsDims Dims, err error) {
	lhsDims, rhsDims = lhs.Dims, rhs.Dims
	if lhsDims.rank < 0 || rhsDims.rank < 0 {
		return Dims{}, Dims{}, status.InvalidArgumentf(
			"cannot broadcast operands with unknown rank: %s and %s", lhsDims, rhsDims)
	}
	if lhs.Constant && lhsDims.rank > rhsDims.rank {
		if lhsDims, err = dropBatchSlot(lhsDims, rhsDims); err != nil {
			return Dims{}, Dims{}, err
		}
	}
	if rhs.Constant && rhsDims.rank > lhsDims.rank {
		if rhsDims, err = dropBatchSlot(rhsDims, lhsDims); err != nil {
			return Dims{}, Dims{}, err
		}
	}

	lhsDims = padLeft(lhsDims, rhsDims.rank)
	rhsDims = padLeft(rhsDims, lhsDims.rank)
	for ii := range lhsDims.rank {
		l, r := lhsDims.d[ii], rhsDims.d[ii]
		if l == r || l == 1 || r == 1 || l == UnknownDim || r == UnknownDim {
			continue
		}
		return Dims{}, Dims{}, status.InvalidArgumentf(
			"infeasible broadcast scheme: %s vs %s (axis %d: %d != %d)",
			lhs.Dims, rhs.Dims, ii, l, r)
	}
	return lhsDims, rhsDims, nil
}

// dropBatchSlot removes the leading dimension of a constant, which must be 1 or unknown.
func dropBatchSlot(constant, other Dims) (Dims, error) {
	leading := constant.d[0]
	if leading != 1 && leading != UnknownDim {
		return Dims{}, status.InvalidArgumentf(
			"infeasible broadcast scheme: constant %s has a batch dimension of %d (must be 1) against %s",
			constant, leading, other)
	}
	return constant.Remove(0)
}

// padLeft prepends 1s to d until it has the given rank. It is a no-op if d already has that rank or more.
func padLeft(d Dims, rank int) Dims {
	if d.rank >= rank {
		return d
	}
	var out Dims
	out.rank = rank
	offset := rank - d.rank
	for ii := range offset {
		out.d[ii] = 1
	}
	copy(out.d[offset:rank], d.d[:d.rank])
	return out
}
