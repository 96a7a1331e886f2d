package transform

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// DuplicateILPTemporaries gives every private temporary written under an
// ilp.unr iname one storage slot per replica, indexed by the iname. The
// unrolled replicas execute concurrently; a shared private temporary
// would serialize them.
//
// Temporaries whose accesses already index the ILP iname (for example
// accumulators produced by RealizeReductions) are left alone, so the pass
// is idempotent. A temporary replicated per some ILP iname may only be
// accessed by instructions nested in that iname.
func DuplicateILPTemporaries(k *kernel.Kernel) (*kernel.Kernel, error) {
	clone := k.Clone()
	changed := false

	for ti := range clone.Temporaries {
		tv := clone.Temporaries[ti]
		if tv.Local {
			continue
		}
		axes, lengths, err := pendingIlpAxes(clone, tv.Name)
		if err != nil {
			return nil, err
		}
		if len(axes) == 0 {
			continue
		}

		if err := rewriteReplicatedAccesses(clone, tv.Name, axes); err != nil {
			return nil, err
		}
		clone.Temporaries[ti].Shape = append(append([]int64(nil), tv.Shape...), lengths...)
		changed = true
		klog.V(1).Infof("duplicated private temporary %q per ILP iname(s) %v", tv.Name, axes)
	}

	if !changed {
		return k, nil
	}
	return clone, nil
}

// pendingIlpAxes returns the ilp.unr inames (declaration order) under
// which the temporary is written without already being indexed by them.
func pendingIlpAxes(k *kernel.Kernel, temp string) ([]string, []int64, error) {
	needed := make(map[string]bool)
	for _, insn := range k.Instructions {
		if insn.AssigneeName() != temp {
			continue
		}
		within := insn.WithinSet()
		for _, in := range k.Inames {
			if !within[in.Name] {
				continue
			}
			if _, ok := in.Tag.(kernel.IlpUnroll); !ok {
				continue
			}
			if accessIndexes(insn.Assignee, temp, in.Name) {
				continue
			}
			needed[in.Name] = true
		}
	}

	var names []string
	var lengths []int64
	for _, in := range k.Inames {
		if !needed[in.Name] {
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

// accessIndexes reports whether an access to temp in e already uses iname
// in one of its index expressions.
func accessIndexes(e expr.Expr, temp, iname string) bool {
	result := false
	expr.Walk(e, func(sub expr.Expr) bool {
		s, ok := sub.(expr.Subscript)
		if !ok || s.Array != temp {
			return true
		}
		for _, ix := range s.Index {
			if expr.Variables(ix)[iname] {
				result = true
			}
		}
		return true
	})
	return result
}

// rewriteReplicatedAccesses appends the replica indices to every access to
// the temporary. Each accessing instruction must be nested in all of the
// replication inames.
func rewriteReplicatedAccesses(k *kernel.Kernel, temp string, axes []string) error {
	replica := make([]expr.Expr, len(axes))
	for i, name := range axes {
		replica[i] = expr.V(name)
	}

	addIndex := func(e expr.Expr) expr.Expr {
		return expr.Transform(e, func(sub expr.Expr) expr.Expr {
			switch n := sub.(type) {
			case expr.Var:
				if n.Name == temp {
					return expr.Subscript{Array: temp, Index: replica}
				}
			case expr.Subscript:
				if n.Array == temp {
					return expr.Subscript{
						Array: temp,
						Index: append(append([]expr.Expr(nil), n.Index...), replica...),
					}
				}
			}
			return sub
		})
	}

	for i := range k.Instructions {
		insn := &k.Instructions[i]
		if insn.AssigneeName() != temp && !insn.ReadNames()[temp] {
			continue
		}
		within := insn.WithinSet()
		for _, name := range axes {
			if !within[name] {
				return errors.Errorf(
					"instruction %q accesses temporary %q outside its ILP replication iname %q",
					insn.ID, temp, name)
			}
		}
		insn.Assignee = addIndex(insn.Assignee)
		insn.RHS = addIndex(insn.RHS)
	}
	return nil
}
