package kernel

import "github.com/sbl8/loft/expr"

// InfiniteStride is returned by StrideOf when an iname does not appear in
// any global-memory access of an instruction. It compares greater than any
// real stride in the axis assignor's ranking.
const InfiniteStride = int64(1) << 62

// StrideOf computes the minimum absolute stride with which iname appears
// as an index into any global-memory array read or written by insn. The
// stride of one access dimension is the iname's affine coefficient in the
// index expression times the array's element stride for that dimension;
// ties across accesses resolve to the minimum nonzero stride found, since
// that dominates memory-coalescing cost. The second return value is false
// (and the stride InfiniteStride) if the iname appears in no access.
func (k *Kernel) StrideOf(insn Instruction, iname string) (int64, bool) {
	best := InfiniteStride
	found := false

	for _, access := range insn.Accesses() {
		arg, ok := k.FindArg(access.Array)
		if !ok || arg.Kind != GlobalArrayArg {
			continue
		}
		dimStrides := arg.DimStrides()
		for dim, ixExpr := range access.Index {
			if dim >= len(dimStrides) {
				break
			}
			aff, affOK := expr.Coefficients(ixExpr)
			if !affOK {
				continue
			}
			coeff, present := aff.Coefficients[iname]
			if !present || coeff == 0 {
				continue
			}
			stride := coeff * dimStrides[dim]
			if stride < 0 {
				stride = -stride
			}
			if stride != 0 && stride < best {
				best = stride
				found = true
			}
		}
	}

	if !found {
		return InfiniteStride, false
	}
	return best, true
}
