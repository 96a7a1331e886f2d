package transform

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// ExtractSubst scans every instruction for sub-expressions matching the
// template and replaces each occurrence with a call to a newly recorded
// substitution rule. Variables named in params are placeholders; matching
// is syntactic up to consistent placeholder binding, so an occurrence
// binding one placeholder to two different sub-expressions is left alone.
// Extraction followed by ExpandSubst reproduces the original kernel.
func ExtractSubst(k *kernel.Kernel, ruleName string, template expr.Expr, params []string) (*kernel.Kernel, error) {
	if _, exists := k.FindSubstRule(ruleName); exists {
		return nil, errors.Errorf("substitution rule %q already exists", ruleName)
	}
	templateVars := expr.Variables(template)
	for _, p := range params {
		if !templateVars[p] {
			return nil, errors.Errorf("parameter %q does not occur in the template", p)
		}
	}

	clone := k.Clone()
	matched := 0
	for i := range clone.Instructions {
		insn := &clone.Instructions[i]
		insn.Assignee = replaceMatches(insn.Assignee, template, params, ruleName, &matched)
		insn.RHS = replaceMatches(insn.RHS, template, params, ruleName, &matched)
	}
	if matched == 0 {
		return nil, errors.Errorf("no occurrence of the template found for rule %q", ruleName)
	}

	clone.Substitutions = append(clone.Substitutions, kernel.SubstRule{
		Name:   ruleName,
		Params: append([]string(nil), params...),
		Body:   template,
	})
	klog.V(1).Infof("extracted rule %q from %d occurrence(s)", ruleName, matched)
	return clone, nil
}

// replaceMatches rewrites e top-down: an outermost match becomes a rule
// call whose arguments are the placeholder bindings in parameter order;
// bound sub-expressions are not scanned again.
func replaceMatches(e expr.Expr, template expr.Expr, params []string, ruleName string, matched *int) expr.Expr {
	if e == nil {
		return nil
	}
	if bindings, ok := expr.Match(template, e, params); ok {
		args := make([]expr.Expr, len(params))
		for i, p := range params {
			args[i] = bindings[p]
		}
		*matched++
		return expr.Call{Name: ruleName, Args: args}
	}
	switch n := e.(type) {
	case expr.BinOp:
		return expr.BinOp{
			Op:    n.Op,
			Left:  replaceMatches(n.Left, template, params, ruleName, matched),
			Right: replaceMatches(n.Right, template, params, ruleName, matched),
		}
	case expr.Subscript:
		index := make([]expr.Expr, len(n.Index))
		for i, ix := range n.Index {
			index[i] = replaceMatches(ix, template, params, ruleName, matched)
		}
		return expr.Subscript{Array: n.Array, Index: index}
	case expr.Call:
		args := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = replaceMatches(a, template, params, ruleName, matched)
		}
		return expr.Call{Name: n.Name, Args: args}
	case expr.Reduction:
		return expr.Reduction{
			Op:     n.Op,
			Inames: append([]string(nil), n.Inames...),
			Body:   replaceMatches(n.Body, template, params, ruleName, matched),
		}
	default:
		return e
	}
}

// ExpandSubst inlines the named rule at every use site and removes it
// from the rule table. Use sites in other rules' bodies are expanded too.
func ExpandSubst(k *kernel.Kernel, ruleName string) (*kernel.Kernel, error) {
	rule, ok := k.FindSubstRule(ruleName)
	if !ok {
		return nil, errors.Errorf("unknown substitution rule %q", ruleName)
	}

	var expandErr error
	inline := func(e expr.Expr) expr.Expr {
		return expr.Transform(e, func(sub expr.Expr) expr.Expr {
			call, isCall := sub.(expr.Call)
			if !isCall || call.Name != ruleName {
				return sub
			}
			if len(call.Args) != len(rule.Params) {
				expandErr = errors.Errorf("rule %q called with %d argument(s), expects %d",
					ruleName, len(call.Args), len(rule.Params))
				return sub
			}
			bindings := make(map[string]expr.Expr, len(rule.Params))
			for i, p := range rule.Params {
				bindings[p] = call.Args[i]
			}
			return expr.SubstituteVars(rule.Body, bindings)
		})
	}

	clone := k.Clone()
	for i := range clone.Instructions {
		clone.Instructions[i].Assignee = inline(clone.Instructions[i].Assignee)
		clone.Instructions[i].RHS = inline(clone.Instructions[i].RHS)
	}
	rules := clone.Substitutions[:0]
	for _, r := range clone.Substitutions {
		if r.Name == ruleName {
			continue
		}
		r.Body = inline(r.Body)
		rules = append(rules, r)
	}
	clone.Substitutions = rules
	if expandErr != nil {
		return nil, expandErr
	}
	return clone, nil
}

// ExpandAllSubsts inlines every substitution rule, leaving the rule table
// empty.
func ExpandAllSubsts(k *kernel.Kernel) (*kernel.Kernel, error) {
	for len(k.Substitutions) > 0 {
		next, err := ExpandSubst(k, k.Substitutions[0].Name)
		if err != nil {
			return nil, err
		}
		k = next
	}
	return k, nil
}
