package schedule

import (
	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// buildNestMap computes, for every loop-realized iname, the set of inames
// whose loops must already be open when it is entered. Two sources:
//
//   - instruction sets: if every instruction nested in iname a is also
//     nested in iname b (and b has more), then b's loop must enclose a's,
//     because nesting a outside b would trap b-only instructions inside
//     the a loop;
//   - domain bounds: an iname whose bounds reference another iname can
//     only be entered once that iname has a value.
func buildNestMap(k *kernel.Kernel) map[string]map[string]bool {
	loopInames := loopInameSet(k)

	users := make(map[string]map[string]bool, len(loopInames))
	for name := range loopInames {
		set := make(map[string]bool)
		for _, id := range k.InstructionsUsing(name) {
			set[id] = true
		}
		users[name] = set
	}

	result := make(map[string]map[string]bool, len(loopInames))
	for name := range loopInames {
		result[name] = make(map[string]bool)
	}

	for a := range loopInames {
		for b := range loopInames {
			if a == b || len(users[a]) == 0 {
				continue
			}
			if len(users[a]) < len(users[b]) && subsetOf(users[a], users[b]) {
				result[a][b] = true
			}
		}
	}

	for _, in := range k.Inames {
		if !loopInames[in.Name] {
			continue
		}
		for ref := range expr.Variables(in.Lower) {
			if loopInames[ref] && ref != in.Name {
				result[in.Name][ref] = true
			}
		}
		for ref := range expr.Variables(in.Upper) {
			if loopInames[ref] && ref != in.Name {
				result[in.Name][ref] = true
			}
		}
	}
	return result
}

// loopInameSet returns the inames realized as scheduled loops.
// Device-parallel inames are realized by the execution grid, and ILP
// inames by per-replica duplication at code emission; neither is entered
// as a loop here.
func loopInameSet(k *kernel.Kernel) map[string]bool {
	result := make(map[string]bool, len(k.Inames))
	for _, in := range k.Inames {
		if !kernel.IsParallel(in.Tag) && !kernel.IsIlp(in.Tag) {
			result[in.Name] = true
		}
	}
	return result
}

func subsetOf(a, b map[string]bool) bool {
	for key := range a {
		if !b[key] {
			return false
		}
	}
	return true
}
