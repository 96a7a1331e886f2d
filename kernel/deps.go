package kernel

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle between instructions. IDs holds
// the instruction ids on the cycle, in dependency order.
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between instructions: %s",
		strings.Join(e.IDs, " -> "))
}

// NestingError reports two instructions whose within-iname sets overlap
// without either containing the other, which cannot be realized as one
// consistent loop nest.
type NestingError struct {
	InsnA, InsnB string
	Overlap      []string
}

func (e *NestingError) Error() string {
	return fmt.Sprintf("instructions %q and %q share inames (%s) but neither "+
		"nest contains the other", e.InsnA, e.InsnB, strings.Join(e.Overlap, ", "))
}

// CompleteDataFlowDeps returns a new kernel in which each instruction's
// explicit dependencies are extended by data-flow edges: instruction B
// depends on instruction A if A writes a variable B reads. Instructions
// writing the same variable are ordered by program order (each writer
// depends on the previous one). The resulting edges may form a cycle for
// genuinely contradictory kernels; CheckDependencyCycles reports those.
func (k *Kernel) CompleteDataFlowDeps() *Kernel {
	writers := k.WriterMap()

	clone := k.Clone()
	for i := range clone.Instructions {
		insn := &clone.Instructions[i]
		deps := make(map[string]bool, len(insn.DependsOn))
		for _, dep := range insn.DependsOn {
			deps[dep] = true
		}

		for name := range insn.ReadNames() {
			for _, w := range writers[name] {
				if w != insn.ID {
					deps[w] = true
				}
			}
		}

		// Write-write ordering on the same variable is preserved by an edge
		// to the previous writer in program order.
		written := insn.AssigneeName()
		var prevWriter string
		for _, w := range writers[written] {
			if w == insn.ID {
				break
			}
			prevWriter = w
		}
		if prevWriter != "" {
			deps[prevWriter] = true
		}

		insn.DependsOn = sortedKeys(deps)
	}
	return clone
}

// CheckDependencyCycles verifies that the dependency edges are acyclic and
// returns a CycleError naming the instructions on a cycle otherwise.
func (k *Kernel) CheckDependencyCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(k.Instructions))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		state[id] = inStack
		stack = append(stack, id)

		insn, _ := k.FindInstruction(id)
		for _, dep := range insn.DependsOn {
			if _, ok := k.FindInstruction(dep); !ok {
				continue // unknown ids are caught by Validate
			}
			switch state[dep] {
			case inStack:
				// Slice the cycle out of the DFS stack.
				start := 0
				for i, sid := range stack {
					if sid == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return &CycleError{IDs: append(cycle, dep)}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, insn := range k.Instructions {
		if state[insn.ID] == unvisited {
			if err := visit(insn.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckNestingConsistency rejects kernels in which two instructions have
// overlapping within-iname sets that are not nested consistently, i.e.
// neither set contains the other. Device-parallel and ILP inames are
// exempt: they are not realized as nested loops.
func (k *Kernel) CheckNestingConsistency() error {
	loopSets := make([]map[string]bool, len(k.Instructions))
	for i, insn := range k.Instructions {
		set := make(map[string]bool)
		for _, name := range insn.Within {
			if in, ok := k.FindIname(name); ok && (IsParallel(in.Tag) || IsIlp(in.Tag)) {
				continue
			}
			set[name] = true
		}
		loopSets[i] = set
	}

	for i := range k.Instructions {
		for j := i + 1; j < len(k.Instructions); j++ {
			overlap := intersect(loopSets[i], loopSets[j])
			if len(overlap) == 0 {
				continue
			}
			if subset(loopSets[i], loopSets[j]) || subset(loopSets[j], loopSets[i]) {
				continue
			}
			return &NestingError{
				InsnA:   k.Instructions[i].ID,
				InsnB:   k.Instructions[j].ID,
				Overlap: overlap,
			}
		}
	}
	return nil
}

func intersect(a, b map[string]bool) []string {
	var result []string
	for name := range a {
		if b[name] {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

func subset(a, b map[string]bool) bool {
	for name := range a {
		if !b[name] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for name := range set {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
