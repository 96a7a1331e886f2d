package transform

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// RealizeReductions lowers every reduce() expression into an accumulator
// temporary plus explicit init and update instructions. On a kernel
// without reductions the pass is the identity.
//
// A reduction nested inside one or more ilp.unr inames gets one
// accumulator slot per ILP replica, so the concurrently executing
// replicas never share accumulation state. After the reduction loops
// complete, a combine instruction folds the replica slots with the
// reduction operator in replica order; the fold order is fixed to keep
// floating-point results reproducible run to run.
func RealizeReductions(k *kernel.Kernel) (*kernel.Kernel, error) {
	for {
		next, changed, err := realizeOneReduction(k)
		if err != nil {
			return nil, err
		}
		if !changed {
			return k, nil
		}
		k = next
	}
}

// realizeOneReduction expands the first reduction found in program order.
// Nested reductions inside the body reappear in the generated update
// instruction and are expanded by later iterations.
func realizeOneReduction(k *kernel.Kernel) (*kernel.Kernel, bool, error) {
	for idx, insn := range k.Instructions {
		red, found := firstReduction(insn.RHS)
		if !found {
			continue
		}
		next, err := expandReduction(k, idx, red)
		if err != nil {
			return nil, false, errors.Wrapf(err, "realizing reduction in instruction %q", insn.ID)
		}
		return next, true, nil
	}
	return k, false, nil
}

func firstReduction(e expr.Expr) (expr.Reduction, bool) {
	var result expr.Reduction
	found := false
	expr.Walk(e, func(sub expr.Expr) bool {
		if found {
			return false
		}
		if r, ok := sub.(expr.Reduction); ok {
			result = r
			found = true
			return false
		}
		return true
	})
	return result, found
}

func expandReduction(k *kernel.Kernel, insnIdx int, red expr.Reduction) (*kernel.Kernel, error) {
	insn := k.Instructions[insnIdx]
	if len(red.Inames) == 0 {
		return nil, errors.New("reduction over an empty iname set")
	}
	within := insn.WithinSet()
	for _, name := range red.Inames {
		tag, err := k.TagOf(name)
		if err != nil {
			return nil, err
		}
		if kernel.IsParallel(tag) {
			return nil, errors.Errorf(
				"reduction iname %q carries parallel tag %q; accumulation over a parallel axis requires explicit duplication",
				name, tag)
		}
		if within[name] {
			return nil, errors.Errorf(
				"reduction iname %q is already in the instruction's nesting", name)
		}
	}

	ilpInames, ilpLengths, err := ilpReplicaAxes(k, insn)
	if err != nil {
		return nil, err
	}

	suffix := strings.Join(red.Inames, "_")
	accName := k.UniqueName("acc_" + suffix)
	initID := k.UniqueInstructionID(insn.ID + "_" + suffix + "_init")
	updateID := k.UniqueInstructionID(insn.ID + "_" + suffix + "_update")

	accRef := expr.Expr(expr.V(accName))
	if len(ilpInames) > 0 {
		index := make([]expr.Expr, len(ilpInames))
		for i, name := range ilpInames {
			index[i] = expr.V(name)
		}
		accRef = expr.Subscript{Array: accName, Index: index}
	}

	outerWithin := withoutNames(insn.Within, red.Inames)
	innerWithin := append(append([]string(nil), insn.Within...), red.Inames...)

	initInsn := kernel.Instruction{
		ID:       initID,
		Assignee: accRef,
		RHS:      red.Op.Neutral(),
		Within:   outerWithin,
	}
	updateInsn := kernel.Instruction{
		ID:        updateID,
		Assignee:  accRef,
		RHS:       red.Op.Combine(accRef, red.Body),
		Within:    innerWithin,
		DependsOn: append([]string{initID}, insn.DependsOn...),
	}

	clone := k.Clone()
	clone.Temporaries = append(clone.Temporaries, kernel.Temporary{
		Name:  accName,
		Shape: ilpLengths,
	})

	newInsns := []kernel.Instruction{initInsn, updateInsn}
	consumerRef := accRef
	finalDep := updateID

	if len(ilpInames) > 0 {
		// Fold the per-replica slots in replica order into one total that
		// every replica of the consuming instruction reads.
		totalName := clone.UniqueName(accName + "_total")
		combineID := clone.UniqueInstructionID(insn.ID + "_" + suffix + "_combine")
		clone.Temporaries = append(clone.Temporaries, kernel.Temporary{Name: totalName})

		newInsns = append(newInsns, kernel.Instruction{
			ID:        combineID,
			Assignee:  expr.V(totalName),
			RHS:       foldReplicas(red.Op, accName, ilpLengths),
			Within:    withoutNames(outerWithin, ilpInames),
			DependsOn: []string{updateID},
		})
		consumerRef = expr.V(totalName)
		finalDep = combineID
		klog.V(1).Infof("reduction in %q duplicated across %d ILP replica slot(s)",
			insn.ID, replicaCount(ilpLengths))
	}

	consumer := &clone.Instructions[insnIdx]
	consumer.RHS = replaceReduction(consumer.RHS, red, consumerRef)
	consumer.DependsOn = append(consumer.DependsOn, finalDep)

	clone.Instructions = append(clone.Instructions[:insnIdx],
		append(newInsns, clone.Instructions[insnIdx:]...)...)
	return clone, nil
}

// ilpReplicaAxes returns the ilp.unr inames of an instruction's nesting
// (declaration order) and their replica counts. Sequential ILP inames run
// one replica at a time and need no duplication.
func ilpReplicaAxes(k *kernel.Kernel, insn kernel.Instruction) ([]string, []int64, error) {
	within := insn.WithinSet()
	var names []string
	var lengths []int64
	for _, in := range k.Inames {
		if !within[in.Name] {
			continue
		}
		if _, ok := in.Tag.(kernel.IlpUnroll); !ok {
			continue
		}
		length, err := in.ConstantLength()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "ILP iname %q needs a constant replica count", in.Name)
		}
		names = append(names, in.Name)
		lengths = append(lengths, length)
	}
	return names, lengths, nil
}

// foldReplicas builds op(...op(op(acc[0..], acc[0..1]), ...)...) over all
// replica index combinations in lexicographic order.
func foldReplicas(op expr.ReduceOp, accName string, lengths []int64) expr.Expr {
	index := make([]int64, len(lengths))
	var result expr.Expr
	for {
		ref := make([]expr.Expr, len(index))
		for i, v := range index {
			ref[i] = expr.C(v)
		}
		slot := expr.Subscript{Array: accName, Index: ref}
		if result == nil {
			result = slot
		} else {
			result = op.Combine(result, slot)
		}
		if !advanceIndex(index, lengths) {
			return result
		}
	}
}

func advanceIndex(index, lengths []int64) bool {
	for i := len(index) - 1; i >= 0; i-- {
		index[i]++
		if index[i] < lengths[i] {
			return true
		}
		index[i] = 0
	}
	return false
}

func replicaCount(lengths []int64) int64 {
	count := int64(1)
	for _, l := range lengths {
		count *= l
	}
	return count
}

// replaceReduction substitutes repl for every occurrence of red in e.
// Identical reductions compute identical values, so replacing all of them
// with one accumulator read is sound.
func replaceReduction(e expr.Expr, red expr.Reduction, repl expr.Expr) expr.Expr {
	return expr.Transform(e, func(sub expr.Expr) expr.Expr {
		if r, ok := sub.(expr.Reduction); ok && expr.Equal(r, red) {
			return repl
		}
		return sub
	})
}

func withoutNames(names []string, drop []string) []string {
	dropSet := make(map[string]bool, len(drop))
	for _, name := range drop {
		dropSet[name] = true
	}
	var result []string
	for _, name := range names {
		if !dropSet[name] {
			result = append(result, name)
		}
	}
	return result
}
