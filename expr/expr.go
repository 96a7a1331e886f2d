// Package expr provides the expression trees used throughout the loft compiler.
//
// Expressions appear as instruction right-hand sides, array index expressions,
// and iteration-domain bounds. All expression values are immutable: rewriting
// operations return new trees and never modify their input, which allows
// kernel snapshots to share subtrees freely.
//
// Key operations:
//   - Walk/Transform: traversal and bottom-up pure rewriting
//   - Coefficients: affine coefficient extraction for stride analysis
//   - Match: syntactic template matching with consistent placeholder binding
//   - SubstituteVars: capture-free variable substitution
package expr

import (
	"fmt"
	"strings"
)

// Expr is an immutable expression tree node.
type Expr interface {
	String() string
	isExpr()
}

// Var is a reference to a scalar variable, iname, or kernel parameter.
type Var struct {
	Name string
}

// Const is an integer literal.
type Const struct {
	Value int64
}

// Op identifies a binary arithmetic operation.
type Op int

const (
	Add Op = iota
	Sub
	Mul
	Div
)

func (o Op) String() string {
	switch o {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// BinOp is a binary arithmetic expression.
type BinOp struct {
	Op          Op
	Left, Right Expr
}

// Subscript is an array access a[i0, i1, ...].
type Subscript struct {
	Array string
	Index []Expr
}

// Call invokes a named substitution rule with argument expressions.
type Call struct {
	Name string
	Args []Expr
}

// Reduction marks a sub-expression reduce(op, inames, body). The reduction
// inames exist only to drive the accumulation and are eliminated from the
// final index space once the reduction is realized.
type Reduction struct {
	Op     ReduceOp
	Inames []string
	Body   Expr
}

func (Var) isExpr()       {}
func (Const) isExpr()     {}
func (BinOp) isExpr()     {}
func (Subscript) isExpr() {}
func (Call) isExpr()      {}
func (Reduction) isExpr() {}

func (v Var) String() string   { return v.Name }
func (c Const) String() string { return fmt.Sprintf("%d", c.Value) }

func (b BinOp) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

func (s Subscript) String() string {
	parts := make([]string, len(s.Index))
	for i, ix := range s.Index {
		parts[i] = ix.String()
	}
	return fmt.Sprintf("%s[%s]", s.Array, strings.Join(parts, ", "))
}

func (c Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

func (r Reduction) String() string {
	return fmt.Sprintf("reduce(%s, [%s], %s)",
		r.Op, strings.Join(r.Inames, ", "), r.Body)
}

// V is shorthand for a variable reference.
func V(name string) Var { return Var{Name: name} }

// C is shorthand for an integer constant.
func C(v int64) Const { return Const{Value: v} }

// Sum builds a left-associated sum of the given terms.
func Sum(terms ...Expr) Expr {
	if len(terms) == 0 {
		return C(0)
	}
	result := terms[0]
	for _, t := range terms[1:] {
		result = BinOp{Op: Add, Left: result, Right: t}
	}
	return result
}

// Prod builds a left-associated product of the given factors.
func Prod(factors ...Expr) Expr {
	if len(factors) == 0 {
		return C(1)
	}
	result := factors[0]
	for _, f := range factors[1:] {
		result = BinOp{Op: Mul, Left: result, Right: f}
	}
	return result
}

// Index builds an array subscript.
func Index(array string, index ...Expr) Subscript {
	return Subscript{Array: array, Index: index}
}

// Equal reports structural equality of two expressions.
func Equal(a, b Expr) bool {
	switch ea := a.(type) {
	case Var:
		eb, ok := b.(Var)
		return ok && ea.Name == eb.Name
	case Const:
		eb, ok := b.(Const)
		return ok && ea.Value == eb.Value
	case BinOp:
		eb, ok := b.(BinOp)
		return ok && ea.Op == eb.Op && Equal(ea.Left, eb.Left) && Equal(ea.Right, eb.Right)
	case Subscript:
		eb, ok := b.(Subscript)
		if !ok || ea.Array != eb.Array || len(ea.Index) != len(eb.Index) {
			return false
		}
		for i := range ea.Index {
			if !Equal(ea.Index[i], eb.Index[i]) {
				return false
			}
		}
		return true
	case Call:
		eb, ok := b.(Call)
		if !ok || ea.Name != eb.Name || len(ea.Args) != len(eb.Args) {
			return false
		}
		for i := range ea.Args {
			if !Equal(ea.Args[i], eb.Args[i]) {
				return false
			}
		}
		return true
	case Reduction:
		eb, ok := b.(Reduction)
		if !ok || ea.Op != eb.Op || len(ea.Inames) != len(eb.Inames) {
			return false
		}
		for i := range ea.Inames {
			if ea.Inames[i] != eb.Inames[i] {
				return false
			}
		}
		return Equal(ea.Body, eb.Body)
	default:
		return false
	}
}
