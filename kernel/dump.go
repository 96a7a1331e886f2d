package kernel

import (
	"fmt"
	"strings"
)

const dumpSeparator = "---------------------------------------------------------------------------"

// String renders a human-readable kernel dump for troubleshooting. Every
// argument, iname tag, temporary, substitution rule, instruction, and
// dependency edge appears in the dump.
func (k *Kernel) String() string {
	var lines []string

	lines = append(lines, dumpSeparator)
	lines = append(lines, "KERNEL: "+k.Name)
	lines = append(lines, dumpSeparator)

	lines = append(lines, "ARGUMENTS:")
	for _, arg := range k.Args {
		switch arg.Kind {
		case GlobalArrayArg:
			lines = append(lines, fmt.Sprintf("%s: global array, shape %v", arg.Name, arg.Shape))
		default:
			lines = append(lines, fmt.Sprintf("%s: value", arg.Name))
		}
	}

	lines = append(lines, dumpSeparator)
	lines = append(lines, "INAME IMPLEMENTATION TAGS:")
	for _, in := range k.Inames {
		lines = append(lines, fmt.Sprintf("%s: %s in [%s, %s)", in.Name, in.Tag, in.Lower, in.Upper))
	}

	if len(k.Temporaries) > 0 {
		lines = append(lines, dumpSeparator)
		lines = append(lines, "TEMPORARIES:")
		for _, tv := range k.Temporaries {
			scope := "private"
			if tv.Local {
				scope = "local"
			}
			lines = append(lines, fmt.Sprintf("%s: %s, shape %v", tv.Name, scope, tv.Shape))
		}
	}

	if len(k.Substitutions) > 0 {
		lines = append(lines, dumpSeparator)
		lines = append(lines, "SUBSTITUTION RULES:")
		for _, rule := range k.Substitutions {
			lines = append(lines, fmt.Sprintf("%s(%s) := %s",
				rule.Name, strings.Join(rule.Params, ", "), rule.Body))
		}
	}

	lines = append(lines, dumpSeparator)
	lines = append(lines, "INSTRUCTIONS:")
	for _, insn := range k.Instructions {
		lines = append(lines, fmt.Sprintf("[%s] %s <- %s   # %s",
			strings.Join(insn.Within, ","), insn.Assignee, insn.RHS, insn.ID))
	}

	var depLines []string
	for _, insn := range k.Instructions {
		if len(insn.DependsOn) > 0 {
			depLines = append(depLines, fmt.Sprintf("%s : %s",
				insn.ID, strings.Join(insn.DependsOn, ",")))
		}
	}
	if len(depLines) > 0 {
		lines = append(lines, dumpSeparator)
		lines = append(lines, "DEPENDENCIES:")
		lines = append(lines, depLines...)
	}

	lines = append(lines, dumpSeparator)
	return strings.Join(lines, "\n")
}

// DependencyGraphDot renders the instruction dependency graph in Graphviz
// DOT format: nodes are instructions, edges the dependency relation.
func (k *Kernel) DependencyGraphDot() string {
	var sb strings.Builder
	sb.WriteString("digraph deps {\n")
	sb.WriteString("  rankdir=BT;\n")
	for _, insn := range k.Instructions {
		fmt.Fprintf(&sb, "  %q [label=%q];\n", insn.ID,
			fmt.Sprintf("%s\\n%s <- %s", insn.ID, insn.Assignee, insn.RHS))
	}
	for _, insn := range k.Instructions {
		for _, dep := range insn.DependsOn {
			fmt.Fprintf(&sb, "  %q -> %q;\n", insn.ID, dep)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
