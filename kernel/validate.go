package kernel

import (
	"github.com/pkg/errors"
)

// Validate checks kernel-wide invariants: unique iname and instruction
// names, within-iname sets that are subsets of the kernel's inames, no
// double use of a concrete hardware axis, acyclic dependencies, and
// consistent nesting. Transformation passes revalidate the snapshot they
// produce.
func (k *Kernel) Validate() error {
	seen := make(map[string]bool, len(k.Inames))
	for _, in := range k.Inames {
		if in.Name == "" {
			return errors.New("iname with empty name")
		}
		if seen[in.Name] {
			return errors.Errorf("duplicate iname %q", in.Name)
		}
		seen[in.Name] = true
		if in.Lower == nil || in.Upper == nil {
			return errors.Errorf("iname %q has no domain bounds", in.Name)
		}
	}

	if err := k.checkAxisUniqueness(); err != nil {
		return err
	}

	insnSeen := make(map[string]bool, len(k.Instructions))
	for _, insn := range k.Instructions {
		if insn.ID == "" {
			return errors.New("instruction with empty id")
		}
		if insnSeen[insn.ID] {
			return errors.Errorf("duplicate instruction id %q", insn.ID)
		}
		insnSeen[insn.ID] = true

		if insn.Assignee == nil || insn.RHS == nil {
			return errors.Errorf("instruction %q is incomplete", insn.ID)
		}
		if insn.AssigneeName() == "" {
			return errors.Errorf("instruction %q assigns to a non-storage expression", insn.ID)
		}
		for _, name := range insn.Within {
			if !seen[name] {
				return errors.Errorf("instruction %q is nested in unknown iname %q", insn.ID, name)
			}
		}
	}
	for _, insn := range k.Instructions {
		for _, dep := range insn.DependsOn {
			if !insnSeen[dep] {
				return errors.Errorf("instruction %q depends on unknown instruction %q", insn.ID, dep)
			}
		}
	}

	for _, name := range k.LoopPriority {
		if !seen[name] {
			return errors.Errorf("loop priority names unknown iname %q", name)
		}
	}

	if err := k.CheckDependencyCycles(); err != nil {
		return err
	}
	return k.CheckNestingConsistency()
}

func (k *Kernel) checkAxisUniqueness() error {
	localUsed := make(map[int]string)
	groupUsed := make(map[int]string)
	for _, in := range k.Inames {
		switch t := in.Tag.(type) {
		case LocalAxis:
			if other, ok := localUsed[t.Axis]; ok {
				return errors.Errorf("local axis %d assigned to both %q and %q",
					t.Axis, other, in.Name)
			}
			localUsed[t.Axis] = in.Name
		case GroupAxis:
			if other, ok := groupUsed[t.Axis]; ok {
				return errors.Errorf("group axis %d assigned to both %q and %q",
					t.Axis, other, in.Name)
			}
			groupUsed[t.Axis] = in.Name
		}
	}
	return nil
}

// HasAutoLocalInames reports whether any iname still carries the "l.auto"
// tag. Scheduling requires all automatic tags to be resolved first.
func (k *Kernel) HasAutoLocalInames() bool {
	for _, in := range k.Inames {
		if _, ok := in.Tag.(AutoLocal); ok {
			return true
		}
	}
	return false
}
