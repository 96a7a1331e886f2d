package expr

// Affine holds the result of affine coefficient extraction: a coefficient
// per variable name plus a constant offset.
type Affine struct {
	Coefficients map[string]int64
	Constant     int64
}

// Coefficients extracts the affine form of e, i.e. a linear combination of
// variables with integer coefficients plus a constant. The second return
// value is false if e is not affine (contains division, a product of two
// non-constant parts, an array access, a call, or a reduction).
func Coefficients(e Expr) (Affine, bool) {
	switch n := e.(type) {
	case Var:
		return Affine{Coefficients: map[string]int64{n.Name: 1}}, true
	case Const:
		return Affine{Coefficients: map[string]int64{}, Constant: n.Value}, true
	case BinOp:
		left, okL := Coefficients(n.Left)
		right, okR := Coefficients(n.Right)
		if !okL || !okR {
			return Affine{}, false
		}
		switch n.Op {
		case Add:
			return combine(left, right, 1), true
		case Sub:
			return combine(left, right, -1), true
		case Mul:
			// One side must be a pure constant for the product to stay affine.
			if len(right.Coefficients) == 0 {
				return scale(left, right.Constant), true
			}
			if len(left.Coefficients) == 0 {
				return scale(right, left.Constant), true
			}
			return Affine{}, false
		default:
			return Affine{}, false
		}
	default:
		return Affine{}, false
	}
}

// ConstValue returns the value of e if it is a constant affine expression.
func ConstValue(e Expr) (int64, bool) {
	aff, ok := Coefficients(e)
	if !ok || len(aff.Coefficients) != 0 {
		return 0, false
	}
	return aff.Constant, true
}

func combine(a, b Affine, sign int64) Affine {
	coeffs := make(map[string]int64, len(a.Coefficients)+len(b.Coefficients))
	for name, c := range a.Coefficients {
		coeffs[name] = c
	}
	for name, c := range b.Coefficients {
		coeffs[name] += sign * c
		if coeffs[name] == 0 {
			delete(coeffs, name)
		}
	}
	return Affine{Coefficients: coeffs, Constant: a.Constant + sign*b.Constant}
}

func scale(a Affine, factor int64) Affine {
	coeffs := make(map[string]int64, len(a.Coefficients))
	for name, c := range a.Coefficients {
		if c*factor != 0 {
			coeffs[name] = c * factor
		}
	}
	return Affine{Coefficients: coeffs, Constant: a.Constant * factor}
}
