// Package kernel defines the immutable kernel representation for the loft compiler.
//
// A Kernel aggregates the iname registry, the instruction set, kernel
// arguments, temporaries, and the substitution-rule table. Kernels follow
// copy-on-transform semantics: a kernel is immutable once constructed, and
// every transformation derives a fresh snapshot via Clone and returns it.
// Expression trees are themselves immutable and are shared freely between
// snapshots.
//
// Key data structures:
//   - Iname: named iteration dimension with a tag and affine domain bounds
//   - Instruction: one assignment with its nesting inames and dependencies
//   - Argument / Temporary: kernel-scope storage descriptors
//   - SubstRule: named parameterized macro usable for inlining or precompute
//
// The package also implements the dependency model: reader/writer maps,
// automatic data-flow dependency completion, cycle detection, and the
// nesting-consistency check, plus human-readable dumps and a Graphviz
// dependency graph for troubleshooting.
package kernel

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/sbl8/loft/expr"
)

// Iname is a named iteration dimension. Its domain is the half-open
// interval [Lower, Upper), with bounds that are affine expressions of
// outer inames and kernel parameters.
type Iname struct {
	Name         string
	Tag          Tag
	Lower, Upper expr.Expr
}

// Length returns the symbolic trip count Upper - Lower.
func (in Iname) Length() expr.Expr {
	if lo, ok := in.Lower.(expr.Const); ok && lo.Value == 0 {
		return in.Upper
	}
	return expr.BinOp{Op: expr.Sub, Left: in.Upper, Right: in.Lower}
}

// ConstantLength returns the trip count if both bounds are constant.
func (in Iname) ConstantLength() (int64, error) {
	lo, okLo := expr.ConstValue(in.Lower)
	hi, okHi := expr.ConstValue(in.Upper)
	if !okLo || !okHi {
		return 0, errors.Errorf("iname %q does not have a constant domain length", in.Name)
	}
	if hi < lo {
		return 0, errors.Errorf("iname %q has negative domain length", in.Name)
	}
	return hi - lo, nil
}

// ArgKind distinguishes scalar value arguments from global array arguments.
type ArgKind int

const (
	ValueArg ArgKind = iota
	GlobalArrayArg
)

// Argument describes one kernel argument. Global arrays carry a shape;
// unless explicit strides are given, the layout is row-major.
type Argument struct {
	Name    string
	Kind    ArgKind
	Shape   []int64
	Strides []int64
}

// DimStrides returns the per-dimension element strides of an array
// argument, deriving row-major strides from the shape when none are set.
func (a Argument) DimStrides() []int64 {
	if a.Strides != nil {
		return a.Strides
	}
	strides := make([]int64, len(a.Shape))
	stride := int64(1)
	for i := len(a.Shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= a.Shape[i]
	}
	return strides
}

// Temporary is kernel-private storage created by transformation passes
// (reduction accumulators, precompute staging buffers).
type Temporary struct {
	Name  string
	Shape []int64
	Local bool // local (workgroup-shared) rather than private storage
}

// SubstRule is a named parameterized macro name(params) := body.
type SubstRule struct {
	Name   string
	Params []string
	Body   expr.Expr
}

// Instruction is one assignment statement. Within lists the inames the
// instruction is nested in; DependsOn lists instruction ids that must be
// scheduled before it (explicit dependencies plus completed data-flow
// dependencies).
type Instruction struct {
	ID        string
	Assignee  expr.Expr // Var or Subscript
	RHS       expr.Expr
	Within    []string
	DependsOn []string
	Priority  int
}

// AssigneeName returns the variable or array name written by the
// instruction.
func (insn Instruction) AssigneeName() string {
	switch a := insn.Assignee.(type) {
	case expr.Var:
		return a.Name
	case expr.Subscript:
		return a.Array
	default:
		return ""
	}
}

// ReadNames returns the variable and array names the instruction reads,
// including names used in the assignee's index expressions.
func (insn Instruction) ReadNames() map[string]bool {
	result := expr.ReadNames(insn.RHS)
	if sub, ok := insn.Assignee.(expr.Subscript); ok {
		for _, ix := range sub.Index {
			for name := range expr.ReadNames(ix) {
				result[name] = true
			}
		}
	}
	return result
}

// Accesses returns every array access the instruction performs, reads and
// the write alike.
func (insn Instruction) Accesses() []expr.Subscript {
	accesses := expr.Accesses(insn.RHS)
	if sub, ok := insn.Assignee.(expr.Subscript); ok {
		accesses = append(accesses, sub)
	}
	return accesses
}

// WithinSet returns the within-inames as a set.
func (insn Instruction) WithinSet() map[string]bool {
	result := make(map[string]bool, len(insn.Within))
	for _, name := range insn.Within {
		result[name] = true
	}
	return result
}

// Kernel is one immutable kernel snapshot.
type Kernel struct {
	Name          string
	Args          []Argument
	Inames        []Iname // declaration order; used for deterministic tiebreaks
	Instructions  []Instruction
	Temporaries   []Temporary
	Substitutions []SubstRule
	LoopPriority  []string // earlier inames are scheduled further out
}

// Clone returns a deep copy of the kernel. Expression trees are shared;
// they are immutable. Transformation passes clone, modify the fresh copy,
// and publish it as the next snapshot.
func (k *Kernel) Clone() *Kernel {
	clone := &Kernel{
		Name:          k.Name,
		Args:          append([]Argument(nil), k.Args...),
		Inames:        append([]Iname(nil), k.Inames...),
		Instructions:  make([]Instruction, len(k.Instructions)),
		Temporaries:   append([]Temporary(nil), k.Temporaries...),
		Substitutions: append([]SubstRule(nil), k.Substitutions...),
		LoopPriority:  append([]string(nil), k.LoopPriority...),
	}
	for i, insn := range k.Instructions {
		insn.Within = append([]string(nil), insn.Within...)
		insn.DependsOn = append([]string(nil), insn.DependsOn...)
		clone.Instructions[i] = insn
	}
	return clone
}

// FindIname looks up an iname by name.
func (k *Kernel) FindIname(name string) (Iname, bool) {
	for _, in := range k.Inames {
		if in.Name == name {
			return in, true
		}
	}
	return Iname{}, false
}

// InameNames returns all iname names in declaration order.
func (k *Kernel) InameNames() []string {
	names := make([]string, len(k.Inames))
	for i, in := range k.Inames {
		names[i] = in.Name
	}
	return names
}

// TagOf returns the tag of the named iname.
func (k *Kernel) TagOf(name string) (Tag, error) {
	in, ok := k.FindIname(name)
	if !ok {
		return nil, errors.Errorf("unknown iname %q", name)
	}
	return in.Tag, nil
}

// WithTag returns a new kernel in which the named iname carries the given
// tag. Assigning a concrete local or group axis already held by another
// iname is a tag-resolution error.
func (k *Kernel) WithTag(name string, tag Tag) (*Kernel, error) {
	if _, ok := k.FindIname(name); !ok {
		return nil, errors.Errorf("unknown iname %q", name)
	}
	if err := k.checkAxisConflict(name, tag); err != nil {
		return nil, err
	}
	clone := k.Clone()
	for i := range clone.Inames {
		if clone.Inames[i].Name == name {
			clone.Inames[i].Tag = tag
		}
	}
	return clone, nil
}

func (k *Kernel) checkAxisConflict(name string, tag Tag) error {
	for _, other := range k.Inames {
		if other.Name == name {
			continue
		}
		switch t := tag.(type) {
		case LocalAxis:
			if o, ok := other.Tag.(LocalAxis); ok && o.Axis == t.Axis {
				return errors.Errorf("local axis %d already assigned to iname %q", t.Axis, other.Name)
			}
		case GroupAxis:
			if o, ok := other.Tag.(GroupAxis); ok && o.Axis == t.Axis {
				return errors.Errorf("group axis %d already assigned to iname %q", t.Axis, other.Name)
			}
		}
	}
	return nil
}

// FindInstruction looks up an instruction by id.
func (k *Kernel) FindInstruction(id string) (Instruction, bool) {
	for _, insn := range k.Instructions {
		if insn.ID == id {
			return insn, true
		}
	}
	return Instruction{}, false
}

// InstructionsUsing returns the ids of all instructions nested in the
// named iname, in program order.
func (k *Kernel) InstructionsUsing(iname string) []string {
	var ids []string
	for _, insn := range k.Instructions {
		for _, name := range insn.Within {
			if name == iname {
				ids = append(ids, insn.ID)
				break
			}
		}
	}
	return ids
}

// FindArg looks up a kernel argument by name.
func (k *Kernel) FindArg(name string) (Argument, bool) {
	for _, arg := range k.Args {
		if arg.Name == name {
			return arg, true
		}
	}
	return Argument{}, false
}

// FindTemporary looks up a temporary by name.
func (k *Kernel) FindTemporary(name string) (Temporary, bool) {
	for _, tv := range k.Temporaries {
		if tv.Name == name {
			return tv, true
		}
	}
	return Temporary{}, false
}

// FindSubstRule looks up a substitution rule by name.
func (k *Kernel) FindSubstRule(name string) (SubstRule, bool) {
	for _, rule := range k.Substitutions {
		if rule.Name == name {
			return rule, true
		}
	}
	return SubstRule{}, false
}

// WriterMap maps each written variable or array name to the ids of the
// instructions writing it, in program order.
func (k *Kernel) WriterMap() map[string][]string {
	result := make(map[string][]string)
	for _, insn := range k.Instructions {
		name := insn.AssigneeName()
		result[name] = append(result[name], insn.ID)
	}
	return result
}

// ReaderMap maps each variable or array name to the sorted ids of the
// instructions reading it.
func (k *Kernel) ReaderMap() map[string][]string {
	result := make(map[string][]string)
	for _, insn := range k.Instructions {
		for name := range insn.ReadNames() {
			result[name] = append(result[name], insn.ID)
		}
	}
	for name := range result {
		sort.Strings(result[name])
	}
	return result
}

// UniqueName derives a name not yet used by any iname, argument,
// temporary, or substitution rule, by appending _0, _1, ... to base.
func (k *Kernel) UniqueName(base string) string {
	used := make(map[string]bool)
	for _, in := range k.Inames {
		used[in.Name] = true
	}
	for _, arg := range k.Args {
		used[arg.Name] = true
	}
	for _, tv := range k.Temporaries {
		used[tv.Name] = true
	}
	for _, rule := range k.Substitutions {
		used[rule.Name] = true
	}
	if !used[base] {
		return base
	}
	for i := 0; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !used[candidate] {
			return candidate
		}
	}
}

// UniqueInstructionID derives an instruction id not yet in use.
func (k *Kernel) UniqueInstructionID(base string) string {
	used := make(map[string]bool, len(k.Instructions))
	for _, insn := range k.Instructions {
		used[insn.ID] = true
	}
	if !used[base] {
		return base
	}
	for i := 0; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !used[candidate] {
			return candidate
		}
	}
}
