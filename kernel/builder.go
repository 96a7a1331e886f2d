package kernel

import (
	"github.com/pkg/errors"

	"github.com/sbl8/loft/expr"
)

// Builder constructs a kernel snapshot from an explicit enumeration of
// inames, arguments, and instructions. It replaces any ambient,
// script-driven construction: nothing is injected implicitly, and Build
// validates the result before handing out the immutable kernel.
type Builder struct {
	kernel Kernel
	err    error
}

// NewBuilder starts a kernel with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{kernel: Kernel{Name: name}}
}

// ValueArg declares a scalar kernel argument (e.g. a domain size).
func (b *Builder) ValueArg(name string) *Builder {
	b.kernel.Args = append(b.kernel.Args, Argument{Name: name, Kind: ValueArg})
	return b
}

// GlobalArg declares a global array argument with a row-major shape.
func (b *Builder) GlobalArg(name string, shape ...int64) *Builder {
	b.kernel.Args = append(b.kernel.Args, Argument{
		Name:  name,
		Kind:  GlobalArrayArg,
		Shape: shape,
	})
	return b
}

// Temporary declares kernel-private storage.
func (b *Builder) Temporary(name string, shape ...int64) *Builder {
	b.kernel.Temporaries = append(b.kernel.Temporaries, Temporary{Name: name, Shape: shape})
	return b
}

// LocalTemporary declares workgroup-shared storage.
func (b *Builder) LocalTemporary(name string, shape ...int64) *Builder {
	b.kernel.Temporaries = append(b.kernel.Temporaries, Temporary{Name: name, Shape: shape, Local: true})
	return b
}

// Iname declares an iteration dimension with constant bounds [lower, upper).
func (b *Builder) Iname(name string, lower, upper int64) *Builder {
	return b.InameExpr(name, expr.C(lower), expr.C(upper))
}

// InameExpr declares an iteration dimension with affine bounds.
func (b *Builder) InameExpr(name string, lower, upper expr.Expr) *Builder {
	b.kernel.Inames = append(b.kernel.Inames, Iname{
		Name:  name,
		Tag:   Sequential{},
		Lower: lower,
		Upper: upper,
	})
	return b
}

// Tag applies a tag, given in the external string vocabulary, to a
// previously declared iname.
func (b *Builder) Tag(iname, tag string) *Builder {
	if b.err != nil {
		return b
	}
	parsed, err := ParseTag(tag)
	if err != nil {
		b.err = err
		return b
	}
	for i := range b.kernel.Inames {
		if b.kernel.Inames[i].Name == iname {
			b.kernel.Inames[i].Tag = parsed
			return b
		}
	}
	b.err = errors.Errorf("cannot tag unknown iname %q", iname)
	return b
}

// Instruction adds an assignment nested in the given inames.
func (b *Builder) Instruction(id string, assignee, rhs expr.Expr, within ...string) *Builder {
	b.kernel.Instructions = append(b.kernel.Instructions, Instruction{
		ID:       id,
		Assignee: assignee,
		RHS:      rhs,
		Within:   within,
	})
	return b
}

// Depends adds explicit dependencies to a previously added instruction,
// beyond those implied by data flow.
func (b *Builder) Depends(id string, deps ...string) *Builder {
	if b.err != nil {
		return b
	}
	for i := range b.kernel.Instructions {
		if b.kernel.Instructions[i].ID == id {
			b.kernel.Instructions[i].DependsOn = append(
				b.kernel.Instructions[i].DependsOn, deps...)
			return b
		}
	}
	b.err = errors.Errorf("cannot add dependencies to unknown instruction %q", id)
	return b
}

// Priority sets the scheduling priority of an instruction; higher runs
// earlier when several instructions are ready.
func (b *Builder) Priority(id string, priority int) *Builder {
	if b.err != nil {
		return b
	}
	for i := range b.kernel.Instructions {
		if b.kernel.Instructions[i].ID == id {
			b.kernel.Instructions[i].Priority = priority
			return b
		}
	}
	b.err = errors.Errorf("cannot set priority on unknown instruction %q", id)
	return b
}

// LoopPriority declares a nesting preference: earlier inames are
// scheduled further out when the scheduler has a choice.
func (b *Builder) LoopPriority(inames ...string) *Builder {
	b.kernel.LoopPriority = append(b.kernel.LoopPriority, inames...)
	return b
}

// Build validates and returns the immutable kernel.
func (b *Builder) Build() (*Kernel, error) {
	if b.err != nil {
		return nil, b.err
	}
	k := b.kernel.Clone()
	if err := k.Validate(); err != nil {
		return nil, errors.Wrapf(err, "kernel %q", k.Name)
	}
	return k, nil
}
