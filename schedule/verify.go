package schedule

import (
	"github.com/pkg/errors"

	"github.com/sbl8/loft/kernel"
)

// Verify checks a schedule against its kernel: every instruction appears
// exactly once, each one runs under exactly the loops of its
// within-inames, no instruction precedes a dependency, loop items are
// balanced, and no loop is entered twice. Generate only produces
// schedules that pass, so this is a safety net for schedules that were
// stored, transported, or hand-edited.
func Verify(k *kernel.Kernel, sched *Schedule) error {
	loopInames := loopInameSet(k)

	var open []string
	openSet := make(map[string]bool)
	entered := make(map[string]bool)
	ran := make(map[string]bool)

	for _, item := range sched.Items {
		switch it := item.(type) {
		case EnterLoop:
			if !loopInames[it.Iname] {
				if _, ok := k.FindIname(it.Iname); !ok {
					return errors.Errorf("schedule enters unknown iname %q", it.Iname)
				}
				return errors.Errorf("schedule enters iname %q, which is not realized as a loop", it.Iname)
			}
			if entered[it.Iname] {
				return errors.Errorf("loop %q is entered twice", it.Iname)
			}
			entered[it.Iname] = true
			openSet[it.Iname] = true
			open = append(open, it.Iname)

		case LeaveLoop:
			if len(open) == 0 || open[len(open)-1] != it.Iname {
				return errors.Errorf("leave of loop %q does not match the innermost open loop", it.Iname)
			}
			open = open[:len(open)-1]
			delete(openSet, it.Iname)

		case RunInstruction:
			insn, ok := k.FindInstruction(it.ID)
			if !ok {
				return errors.Errorf("schedule runs unknown instruction %q", it.ID)
			}
			if ran[it.ID] {
				return errors.Errorf("instruction %q is run twice", it.ID)
			}
			ran[it.ID] = true

			for _, dep := range insn.DependsOn {
				if !ran[dep] {
					return errors.Errorf("instruction %q runs before its dependency %q", it.ID, dep)
				}
			}

			required := make(map[string]bool)
			for _, name := range insn.Within {
				if loopInames[name] {
					required[name] = true
				}
			}
			if len(required) != len(openSet) || !subsetOf(required, openSet) {
				return errors.Errorf("instruction %q runs under loops %v, needs exactly %v",
					it.ID, open, insn.Within)
			}
		}
	}

	if len(open) > 0 {
		return errors.Errorf("schedule leaves loop %q open", open[len(open)-1])
	}
	for _, insn := range k.Instructions {
		if !ran[insn.ID] {
			return errors.Errorf("instruction %q is missing from the schedule", insn.ID)
		}
	}
	return nil
}
