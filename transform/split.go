// Package transform implements the kernel transformation passes of the
// loft compiler.
//
// Every pass follows copy-on-transform semantics: it takes an immutable
// kernel snapshot and returns a new one, never modifying its input. The
// passes are:
//
//   - SplitIname: factor one iteration dimension into an outer/inner pair
//   - AssignAutomaticAxes: resolve "l.auto" tags to concrete local axes
//   - RealizeReductions: lower reduce() expressions to init/update loops,
//     duplicating accumulators per ILP replica
//   - DuplicateILPTemporaries: give private temporaries written under an
//     ILP iname one storage slot per replica
//   - ExtractSubst / ExpandSubst: turn sub-expressions into named rules
//     and back
//   - Precompute / AddPrefetch: materialize a rule into staging storage
//   - Preprocess: the standard pass pipeline run before scheduling
package transform

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// SplitOptions controls iname splitting. Zero values pick default names
// ("<iname>_outer", "<iname>_inner") and sequential tags for both halves.
type SplitOptions struct {
	OuterName, InnerName string
	OuterTag, InnerTag   kernel.Tag
}

// SplitIname factors the named iname i into an outer and an inner iname
// with i = outer*innerLength + inner. The iname must have a constant
// domain length divisible by innerLength. All expressions mentioning the
// iname (instruction assignees, right-hand sides, substitution rule
// bodies, domain bounds of other inames) are rewritten, within-iname sets
// gain the outer/inner pair in place of the original, and loop priorities
// are updated the same way.
func SplitIname(k *kernel.Kernel, iname string, innerLength int64, opts SplitOptions) (*kernel.Kernel, error) {
	in, ok := k.FindIname(iname)
	if !ok {
		return nil, errors.Errorf("cannot split unknown iname %q", iname)
	}
	length, err := in.ConstantLength()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot split iname %q", iname)
	}
	if innerLength <= 0 {
		return nil, errors.Errorf("cannot split iname %q with inner length %d", iname, innerLength)
	}
	if length%innerLength != 0 {
		return nil, errors.Errorf("inner length %d does not divide the domain length %d of iname %q",
			innerLength, length, iname)
	}

	outerName := opts.OuterName
	if outerName == "" {
		outerName = k.UniqueName(iname + "_outer")
	}
	innerName := opts.InnerName
	if innerName == "" {
		innerName = k.UniqueName(iname + "_inner")
	}
	outerTag := opts.OuterTag
	if outerTag == nil {
		outerTag = kernel.Sequential{}
	}
	innerTag := opts.InnerTag
	if innerTag == nil {
		innerTag = kernel.Sequential{}
	}

	klog.V(1).Infof("split iname %q into %q x %q (inner length %d)",
		iname, outerName, innerName, innerLength)

	lower, _ := expr.ConstValue(in.Lower)
	replacement := expr.Expr(expr.BinOp{
		Op:    expr.Add,
		Left:  expr.BinOp{Op: expr.Mul, Left: expr.V(outerName), Right: expr.C(innerLength)},
		Right: expr.V(innerName),
	})
	if lower != 0 {
		replacement = expr.BinOp{Op: expr.Add, Left: replacement, Right: expr.C(lower)}
	}
	bindings := map[string]expr.Expr{iname: replacement}

	clone := k.Clone()

	inames := make([]kernel.Iname, 0, len(clone.Inames)+1)
	for _, other := range clone.Inames {
		if other.Name == iname {
			inames = append(inames,
				kernel.Iname{Name: outerName, Tag: outerTag,
					Lower: expr.C(0), Upper: expr.C(length / innerLength)},
				kernel.Iname{Name: innerName, Tag: innerTag,
					Lower: expr.C(0), Upper: expr.C(innerLength)})
			continue
		}
		other.Lower = expr.SubstituteVars(other.Lower, bindings)
		other.Upper = expr.SubstituteVars(other.Upper, bindings)
		inames = append(inames, other)
	}
	clone.Inames = inames

	for i := range clone.Instructions {
		insn := &clone.Instructions[i]
		insn.Assignee = expr.SubstituteVars(insn.Assignee, bindings)
		insn.RHS = expr.SubstituteVars(insn.RHS, bindings)
		insn.Within = replaceName(insn.Within, iname, outerName, innerName)
	}
	for i := range clone.Substitutions {
		clone.Substitutions[i].Body = expr.SubstituteVars(clone.Substitutions[i].Body, bindings)
	}
	clone.LoopPriority = replaceName(clone.LoopPriority, iname, outerName, innerName)

	if err := clone.Validate(); err != nil {
		return nil, errors.Wrapf(err, "after splitting iname %q", iname)
	}
	return clone, nil
}

// replaceName substitutes the outer/inner pair for old in a name list,
// preserving the position of the original entry.
func replaceName(names []string, old string, outer, inner string) []string {
	result := make([]string, 0, len(names)+1)
	for _, name := range names {
		if name == old {
			result = append(result, outer, inner)
		} else {
			result = append(result, name)
		}
	}
	return result
}
