package expr

// Walk visits e and all of its sub-expressions in pre-order. If visit
// returns false for a node, its children are not visited.
func Walk(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	switch n := e.(type) {
	case BinOp:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case Subscript:
		for _, ix := range n.Index {
			Walk(ix, visit)
		}
	case Call:
		for _, a := range n.Args {
			Walk(a, visit)
		}
	case Reduction:
		Walk(n.Body, visit)
	}
}

// Transform rewrites e bottom-up: children are rewritten first, then f is
// applied to the rebuilt node. The input tree is never modified.
func Transform(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case BinOp:
		return f(BinOp{
			Op:    n.Op,
			Left:  Transform(n.Left, f),
			Right: Transform(n.Right, f),
		})
	case Subscript:
		index := make([]Expr, len(n.Index))
		for i, ix := range n.Index {
			index[i] = Transform(ix, f)
		}
		return f(Subscript{Array: n.Array, Index: index})
	case Call:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = Transform(a, f)
		}
		return f(Call{Name: n.Name, Args: args})
	case Reduction:
		inames := make([]string, len(n.Inames))
		copy(inames, n.Inames)
		return f(Reduction{Op: n.Op, Inames: inames, Body: Transform(n.Body, f)})
	default:
		return f(e)
	}
}

// ReadNames returns the set of variable and array names read by e.
// Substitution rule names (Call heads) are not included.
func ReadNames(e Expr) map[string]bool {
	result := make(map[string]bool)
	Walk(e, func(sub Expr) bool {
		switch n := sub.(type) {
		case Var:
			result[n.Name] = true
		case Subscript:
			result[n.Array] = true
		}
		return true
	})
	return result
}

// Variables returns the set of plain variable names referenced by e,
// excluding array names.
func Variables(e Expr) map[string]bool {
	result := make(map[string]bool)
	Walk(e, func(sub Expr) bool {
		if v, ok := sub.(Var); ok {
			result[v.Name] = true
		}
		return true
	})
	return result
}

// Accesses returns every array subscript occurring in e, in visit order.
func Accesses(e Expr) []Subscript {
	var result []Subscript
	Walk(e, func(sub Expr) bool {
		if s, ok := sub.(Subscript); ok {
			result = append(result, s)
		}
		return true
	})
	return result
}

// SubstituteVars replaces variable references according to bindings,
// returning a new tree. Variables without a binding are left alone.
func SubstituteVars(e Expr, bindings map[string]Expr) Expr {
	return Transform(e, func(sub Expr) Expr {
		if v, ok := sub.(Var); ok {
			if repl, found := bindings[v.Name]; found {
				return repl
			}
		}
		return sub
	})
}
