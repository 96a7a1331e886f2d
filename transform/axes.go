package transform

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/kernel"
	"github.com/sbl8/loft/target"
)

// AssignAutomaticAxes resolves every "l.auto" iname to a concrete local
// axis, or to unrolling when no axis is left. Kernels without auto inames
// pass through unchanged.
//
// The pass works one resolution at a time and restarts its scan after
// each, since assigning an axis (or splitting an oversized iname) changes
// the choices available to the rest. Per instruction, the unresolved auto
// iname with the smallest memory stride gets the lowest free axis, so the
// fastest-varying axis ends up on the most coalescing-friendly dimension.
// Ties, and instructions with no array accesses at all, fall back to
// iname declaration order. The whole procedure is deterministic.
func AssignAutomaticAxes(k *kernel.Kernel, dev target.Device) (*kernel.Kernel, error) {
	for {
		if !k.HasAutoLocalInames() {
			return k, nil
		}
		next, changed, err := assignOneAxis(k, dev)
		if err != nil {
			return nil, err
		}
		if !changed {
			// Remaining auto inames are used by no instruction; there is
			// no stride to rank them by and nothing to coalesce.
			return unrollRemainingAutos(k)
		}
		k = next
	}
}

// assignOneAxis performs a single resolution step: it finds the first
// instruction (in program order) still containing an auto iname, picks
// the best candidate, and assigns, splits, or unrolls it.
func assignOneAxis(k *kernel.Kernel, dev target.Device) (*kernel.Kernel, bool, error) {
	usedAxes := localAxesInUse(k)

	for _, insn := range k.Instructions {
		autos := autoInamesOf(k, insn)
		if len(autos) == 0 {
			continue
		}

		axis := -1
		for a := 0; a < dev.MaxLocalAxes(); a++ {
			if !usedAxes[a] {
				axis = a
				break
			}
		}
		if axis < 0 {
			// Every local axis is taken. Unrolling is the slow but valid
			// fallback for whatever auto inames remain here.
			next := k
			for _, name := range autos {
				var err error
				next, err = next.WithTag(name, kernel.Unroll{})
				if err != nil {
					return nil, false, err
				}
				klog.V(1).Infof("no local axis left for iname %q, falling back to unroll", name)
			}
			return next, true, nil
		}

		name := pickSmallestStride(k, insn, autos)
		in, _ := k.FindIname(name)
		length, err := in.ConstantLength()
		if err != nil {
			return nil, false, errors.Wrap(err, "automatic axis assignment")
		}
		limit := dev.LocalAxisLimits[axis]

		if length > limit {
			innerLength := largestDivisorAtMost(length, limit)
			if innerLength < 2 {
				// The length has no usable factor below the axis limit.
				next, err := k.WithTag(name, kernel.Unroll{})
				if err != nil {
					return nil, false, err
				}
				klog.V(1).Infof("iname %q (length %d) does not fit local axis %d (limit %d), unrolling",
					name, length, axis, limit)
				return next, true, nil
			}
			next, err := SplitIname(k, name, innerLength, SplitOptions{
				OuterTag: kernel.Sequential{},
				InnerTag: kernel.LocalAxis{Axis: axis},
			})
			if err != nil {
				return nil, false, errors.Wrapf(err, "fitting iname %q to local axis %d", name, axis)
			}
			klog.V(1).Infof("split iname %q (length %d) to fit local axis %d (limit %d)",
				name, length, axis, limit)
			return next, true, nil
		}

		next, err := k.WithTag(name, kernel.LocalAxis{Axis: axis})
		if err != nil {
			return nil, false, err
		}
		klog.V(1).Infof("assigned iname %q to local axis %d (stride-ranked)", name, axis)
		return next, true, nil
	}
	return k, false, nil
}

// localAxesInUse collects the concrete local axis numbers already held by
// some iname. Concrete axes are unique kernel-wide, so availability is a
// kernel-wide question.
func localAxesInUse(k *kernel.Kernel) map[int]bool {
	used := make(map[int]bool)
	for _, in := range k.Inames {
		if t, ok := in.Tag.(kernel.LocalAxis); ok {
			used[t.Axis] = true
		}
	}
	return used
}

// autoInamesOf returns the auto-tagged inames of an instruction's nesting,
// in kernel declaration order.
func autoInamesOf(k *kernel.Kernel, insn kernel.Instruction) []string {
	within := insn.WithinSet()
	var autos []string
	for _, in := range k.Inames {
		if !within[in.Name] {
			continue
		}
		if _, ok := in.Tag.(kernel.AutoLocal); ok {
			autos = append(autos, in.Name)
		}
	}
	return autos
}

// pickSmallestStride selects the candidate iname with the smallest access
// stride in insn. Candidates are in declaration order, and a strictly
// smaller stride is required to displace an earlier candidate, so ties
// and all-infinite strides resolve to declaration order.
func pickSmallestStride(k *kernel.Kernel, insn kernel.Instruction, candidates []string) string {
	best := candidates[0]
	bestStride, _ := k.StrideOf(insn, best)
	for _, name := range candidates[1:] {
		stride, _ := k.StrideOf(insn, name)
		if stride < bestStride {
			best = name
			bestStride = stride
		}
	}
	return best
}

// largestDivisorAtMost returns the largest divisor of n that is <= limit,
// or 1 if none other than 1 exists.
func largestDivisorAtMost(n, limit int64) int64 {
	if limit >= n {
		return n
	}
	for d := limit; d >= 2; d-- {
		if n%d == 0 {
			return d
		}
	}
	return 1
}

// unrollRemainingAutos resolves auto inames that appear in no
// instruction.
func unrollRemainingAutos(k *kernel.Kernel) (*kernel.Kernel, error) {
	for _, in := range k.Inames {
		if _, ok := in.Tag.(kernel.AutoLocal); !ok {
			continue
		}
		next, err := k.WithTag(in.Name, kernel.Unroll{})
		if err != nil {
			return nil, err
		}
		k = next
	}
	return k, nil
}
