package expr

import (
	"math"

	"github.com/pkg/errors"
)

// ReduceOp is an associative-commutative reduction operator.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceProduct
	ReduceMax
	ReduceMin
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceSum:
		return "sum"
	case ReduceProduct:
		return "product"
	case ReduceMax:
		return "max"
	case ReduceMin:
		return "min"
	default:
		return "reduceop(?)"
	}
}

// ParseReduceOp parses the external operator vocabulary.
func ParseReduceOp(s string) (ReduceOp, error) {
	switch s {
	case "sum":
		return ReduceSum, nil
	case "product", "prod":
		return ReduceProduct, nil
	case "max":
		return ReduceMax, nil
	case "min":
		return ReduceMin, nil
	default:
		return 0, errors.Errorf("unknown reduction operator %q", s)
	}
}

// Neutral returns the operator's identity element, used to initialize
// reduction accumulators.
func (op ReduceOp) Neutral() Expr {
	switch op {
	case ReduceSum:
		return C(0)
	case ReduceProduct:
		return C(1)
	case ReduceMax:
		return C(math.MinInt64)
	case ReduceMin:
		return C(math.MaxInt64)
	default:
		return C(0)
	}
}

// Combine folds two partial results with the operator. Max and min are
// expressed as calls for the emitter to lower; sum and product stay
// arithmetic.
func (op ReduceOp) Combine(a, b Expr) Expr {
	switch op {
	case ReduceSum:
		return BinOp{Op: Add, Left: a, Right: b}
	case ReduceProduct:
		return BinOp{Op: Mul, Left: a, Right: b}
	case ReduceMax:
		return Call{Name: "max", Args: []Expr{a, b}}
	case ReduceMin:
		return Call{Name: "min", Args: []Expr{a, b}}
	default:
		return BinOp{Op: Add, Left: a, Right: b}
	}
}
