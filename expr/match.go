package expr

// Match attempts to unify template against target. Variables in the
// template whose names appear in params are placeholders and bind to
// arbitrary sub-expressions of the target; everything else must match
// syntactically. A placeholder occurring more than once must bind to
// structurally equal expressions, otherwise the match fails.
func Match(template, target Expr, params []string) (map[string]Expr, bool) {
	paramSet := make(map[string]bool, len(params))
	for _, p := range params {
		paramSet[p] = true
	}
	bindings := make(map[string]Expr)
	if !match(template, target, paramSet, bindings) {
		return nil, false
	}
	return bindings, true
}

func match(template, target Expr, params map[string]bool, bindings map[string]Expr) bool {
	if v, ok := template.(Var); ok && params[v.Name] {
		if prev, bound := bindings[v.Name]; bound {
			return Equal(prev, target)
		}
		bindings[v.Name] = target
		return true
	}

	switch t := template.(type) {
	case Var:
		o, ok := target.(Var)
		return ok && t.Name == o.Name
	case Const:
		o, ok := target.(Const)
		return ok && t.Value == o.Value
	case BinOp:
		o, ok := target.(BinOp)
		return ok && t.Op == o.Op &&
			match(t.Left, o.Left, params, bindings) &&
			match(t.Right, o.Right, params, bindings)
	case Subscript:
		o, ok := target.(Subscript)
		if !ok || t.Array != o.Array || len(t.Index) != len(o.Index) {
			return false
		}
		for i := range t.Index {
			if !match(t.Index[i], o.Index[i], params, bindings) {
				return false
			}
		}
		return true
	case Call:
		o, ok := target.(Call)
		if !ok || t.Name != o.Name || len(t.Args) != len(o.Args) {
			return false
		}
		for i := range t.Args {
			if !match(t.Args[i], o.Args[i], params, bindings) {
				return false
			}
		}
		return true
	case Reduction:
		o, ok := target.(Reduction)
		if !ok || t.Op != o.Op || len(t.Inames) != len(o.Inames) {
			return false
		}
		for i := range t.Inames {
			if t.Inames[i] != o.Inames[i] {
				return false
			}
		}
		return match(t.Body, o.Body, params, bindings)
	default:
		return false
	}
}
