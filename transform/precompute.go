package transform

import (
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// PrecomputeOptions tunes rule materialization. Zero values derive the
// storage and axis names from the rule name, put the staging buffer in
// private storage, and run the fetch loops sequentially.
type PrecomputeOptions struct {
	// StorageName names the staging temporary; default "<rule>_pre".
	StorageName string

	// AxisNames names the fetch inames, one per rule parameter; default
	// "<rule>_<param>".
	AxisNames []string

	// AxisTag tags every fetch iname; default sequential. AddPrefetch
	// passes l.auto so the fetch parallelizes over the local grid.
	AxisTag kernel.Tag

	// Local places the staging buffer in workgroup-shared storage.
	Local bool
}

// Precompute materializes the named substitution rule into a staging
// buffer: a new fetch instruction evaluates the rule body once per
// distinct value of its parameters, and every use site is rewritten to
// read the buffer instead of recomputing the body. Consumers gain an
// explicit dependency on the fetch.
//
// Each use-site argument must be a plain iname reference with a constant
// domain, and all use sites must sweep a parameter with the same iname;
// that iname's domain determines the corresponding storage extent. The
// rule is consumed by the transformation and leaves the rule table.
func Precompute(k *kernel.Kernel, ruleName string, opts PrecomputeOptions) (*kernel.Kernel, error) {
	rule, ok := k.FindSubstRule(ruleName)
	if !ok {
		return nil, errors.Errorf("unknown substitution rule %q", ruleName)
	}
	if len(opts.AxisNames) != 0 && len(opts.AxisNames) != len(rule.Params) {
		return nil, errors.Errorf("rule %q has %d parameter(s) but %d axis name(s) were given",
			ruleName, len(rule.Params), len(opts.AxisNames))
	}

	sweeps, err := sweepInames(k, rule)
	if err != nil {
		return nil, err
	}

	storageName := opts.StorageName
	if storageName == "" {
		storageName = k.UniqueName(ruleName + "_pre")
	}
	axisTag := opts.AxisTag
	if axisTag == nil {
		axisTag = kernel.Sequential{}
	}

	clone := k.Clone()

	// One fetch iname and one storage dimension per rule parameter.
	axisNames := make([]string, len(rule.Params))
	shape := make([]int64, len(rule.Params))
	lowers := make([]int64, len(rule.Params))
	fetchIndex := make([]expr.Expr, len(rule.Params))
	bodyBindings := make(map[string]expr.Expr, len(rule.Params))
	for i, param := range rule.Params {
		name := ""
		if len(opts.AxisNames) != 0 {
			name = opts.AxisNames[i]
		}
		if name == "" {
			name = clone.UniqueName(ruleName + "_" + param)
		}
		axisNames[i] = name
		shape[i] = sweeps[i].length
		lowers[i] = sweeps[i].lower
		clone.Inames = append(clone.Inames, kernel.Iname{
			Name:  name,
			Tag:   axisTag,
			Lower: expr.C(0),
			Upper: expr.C(sweeps[i].length),
		})
		fetchIndex[i] = expr.V(name)
		bodyBindings[param] = offsetBy(expr.V(name), sweeps[i].lower)
	}

	fetchRHS := expr.SubstituteVars(rule.Body, bodyBindings)
	fetchWithin := append([]string(nil), axisNames...)
	// The body may still reference inames that are not rule parameters;
	// the fetch must be nested in those as well.
	inameSet := make(map[string]bool, len(clone.Inames))
	for _, in := range clone.Inames {
		inameSet[in.Name] = true
	}
	axisSet := make(map[string]bool, len(axisNames))
	for _, name := range axisNames {
		axisSet[name] = true
	}
	for name := range expr.Variables(fetchRHS) {
		if inameSet[name] && !axisSet[name] {
			fetchWithin = append(fetchWithin, name)
		}
	}

	fetchID := clone.UniqueInstructionID(ruleName + "_fetch")
	clone.Temporaries = append(clone.Temporaries, kernel.Temporary{
		Name:  storageName,
		Shape: shape,
		Local: opts.Local,
	})
	fetch := kernel.Instruction{
		ID:       fetchID,
		Assignee: expr.Subscript{Array: storageName, Index: fetchIndex},
		RHS:      fetchRHS,
		Within:   fetchWithin,
	}

	// Rewrite use sites to buffer reads and order them after the fetch.
	readBuffer := func(e expr.Expr) expr.Expr {
		return expr.Transform(e, func(sub expr.Expr) expr.Expr {
			call, isCall := sub.(expr.Call)
			if !isCall || call.Name != ruleName {
				return sub
			}
			index := make([]expr.Expr, len(call.Args))
			for i, arg := range call.Args {
				index[i] = offsetBy(arg, -lowers[i])
			}
			return expr.Subscript{Array: storageName, Index: index}
		})
	}
	for i := range clone.Instructions {
		insn := &clone.Instructions[i]
		if !callsRule(insn.RHS, ruleName) && !callsRule(insn.Assignee, ruleName) {
			continue
		}
		insn.Assignee = readBuffer(insn.Assignee)
		insn.RHS = readBuffer(insn.RHS)
		insn.DependsOn = append(insn.DependsOn, fetchID)
	}

	clone.Instructions = append([]kernel.Instruction{fetch}, clone.Instructions...)
	rules := clone.Substitutions[:0]
	for _, r := range clone.Substitutions {
		if r.Name != ruleName {
			rules = append(rules, r)
		}
	}
	clone.Substitutions = rules

	klog.V(1).Infof("precomputed rule %q into %q (shape %v)", ruleName, storageName, shape)
	if err := clone.Validate(); err != nil {
		return nil, errors.Wrapf(err, "after precomputing rule %q", ruleName)
	}
	return clone, nil
}

type sweep struct {
	iname  string
	lower  int64
	length int64
}

// sweepInames determines, per rule parameter, the iname every use site
// sweeps it with, together with that iname's constant domain.
func sweepInames(k *kernel.Kernel, rule kernel.SubstRule) ([]sweep, error) {
	sweeps := make([]sweep, len(rule.Params))
	for i := range sweeps {
		sweeps[i].iname = ""
	}

	inspect := func(insnID string, e expr.Expr) error {
		var err error
		expr.Walk(e, func(sub expr.Expr) bool {
			call, isCall := sub.(expr.Call)
			if !isCall || call.Name != rule.Name || err != nil {
				return true
			}
			if len(call.Args) != len(rule.Params) {
				err = errors.Errorf("rule %q called with %d argument(s), expects %d",
					rule.Name, len(call.Args), len(rule.Params))
				return false
			}
			for pos, arg := range call.Args {
				v, isVar := arg.(expr.Var)
				if !isVar {
					err = errors.Errorf(
						"instruction %q passes non-iname argument %s to rule %q; only direct iname sweeps can be precomputed",
						insnID, arg, rule.Name)
					return false
				}
				if _, isIname := k.FindIname(v.Name); !isIname {
					err = errors.Errorf(
						"instruction %q passes %q to rule %q, which is not an iname",
						insnID, v.Name, rule.Name)
					return false
				}
				if sweeps[pos].iname == "" {
					sweeps[pos].iname = v.Name
				} else if sweeps[pos].iname != v.Name {
					err = errors.Errorf(
						"rule %q parameter %q is swept by both %q and %q; use sites must agree",
						rule.Name, rule.Params[pos], sweeps[pos].iname, v.Name)
					return false
				}
			}
			return true
		})
		return err
	}

	used := false
	for _, insn := range k.Instructions {
		if callsRule(insn.RHS, rule.Name) || callsRule(insn.Assignee, rule.Name) {
			used = true
		}
		if err := inspect(insn.ID, insn.RHS); err != nil {
			return nil, err
		}
		if err := inspect(insn.ID, insn.Assignee); err != nil {
			return nil, err
		}
	}
	if !used {
		return nil, errors.Errorf("rule %q has no use sites to precompute", rule.Name)
	}

	for i, sw := range sweeps {
		in, _ := k.FindIname(sw.iname)
		lo, okLo := expr.ConstValue(in.Lower)
		length, err := in.ConstantLength()
		if !okLo || err != nil {
			return nil, errors.Errorf(
				"iname %q sweeping rule %q parameter %q needs a constant domain",
				sw.iname, rule.Name, rule.Params[i])
		}
		sweeps[i].lower = lo
		sweeps[i].length = length
	}
	return sweeps, nil
}

func callsRule(e expr.Expr, ruleName string) bool {
	found := false
	expr.Walk(e, func(sub expr.Expr) bool {
		if call, ok := sub.(expr.Call); ok && call.Name == ruleName {
			found = true
			return false
		}
		return true
	})
	return found
}

func offsetBy(e expr.Expr, offset int64) expr.Expr {
	if offset == 0 {
		return e
	}
	if offset > 0 {
		return expr.BinOp{Op: expr.Add, Left: e, Right: expr.C(offset)}
	}
	return expr.BinOp{Op: expr.Sub, Left: e, Right: expr.C(-offset)}
}

// AddPrefetch extracts every direct access to the named global array into
// a substitution rule and immediately precomputes it into workgroup-local
// storage, with the fetch loops tagged l.auto so the automatic axis
// assignor can parallelize them. This is the usual way to stage a reused
// array tile close to the compute instructions.
func AddPrefetch(k *kernel.Kernel, array string) (*kernel.Kernel, error) {
	arg, ok := k.FindArg(array)
	if !ok || arg.Kind != kernel.GlobalArrayArg {
		return nil, errors.Errorf("cannot prefetch %q: not a global array argument", array)
	}

	rank := len(arg.Shape)
	params := make([]string, rank)
	index := make([]expr.Expr, rank)
	for i := range params {
		params[i] = k.UniqueName(array + "_dim_" + strconv.Itoa(i))
		index[i] = expr.V(params[i])
	}
	template := expr.Subscript{Array: array, Index: index}

	ruleName := k.UniqueName(array + "_subst")
	withRule, err := ExtractSubst(k, ruleName, template, params)
	if err != nil {
		return nil, errors.Wrapf(err, "prefetching array %q", array)
	}
	result, err := Precompute(withRule, ruleName, PrecomputeOptions{
		StorageName: withRule.UniqueName(array + "_fetch"),
		AxisTag:     kernel.AutoLocal{},
		Local:       true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "prefetching array %q", array)
	}
	return result, nil
}
