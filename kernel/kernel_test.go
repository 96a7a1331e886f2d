package kernel

import (
	"strings"
	"testing"

	"github.com/sbl8/loft/expr"
)

func simpleKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := NewBuilder("simple").
		GlobalArg("a", 16).
		GlobalArg("b", 16).
		Iname("i", 0, 16).
		Instruction("write_b",
			expr.Index("b", expr.V("i")),
			expr.Index("a", expr.V("i")),
			"i").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}
	return k
}

func TestBuilderValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		build   func() *Builder
		wantErr bool
	}{
		{
			name: "valid kernel",
			build: func() *Builder {
				return NewBuilder("k").
					GlobalArg("a", 8).
					Iname("i", 0, 8).
					Instruction("s", expr.Index("a", expr.V("i")), expr.C(0), "i")
			},
			wantErr: false,
		},
		{
			name: "duplicate iname",
			build: func() *Builder {
				return NewBuilder("k").Iname("i", 0, 8).Iname("i", 0, 4)
			},
			wantErr: true,
		},
		{
			name: "duplicate instruction id",
			build: func() *Builder {
				return NewBuilder("k").
					Instruction("s", expr.V("x"), expr.C(0)).
					Instruction("s", expr.V("y"), expr.C(1))
			},
			wantErr: true,
		},
		{
			name: "unknown within iname",
			build: func() *Builder {
				return NewBuilder("k").
					Instruction("s", expr.V("x"), expr.C(0), "nope")
			},
			wantErr: true,
		},
		{
			name: "unknown dependency",
			build: func() *Builder {
				return NewBuilder("k").
					Instruction("s", expr.V("x"), expr.C(0)).
					Depends("s", "ghost")
			},
			wantErr: true,
		},
		{
			name: "invalid tag string",
			build: func() *Builder {
				return NewBuilder("k").Iname("i", 0, 8).Tag("i", "l.-1")
			},
			wantErr: true,
		},
		{
			name: "duplicate local axis",
			build: func() *Builder {
				return NewBuilder("k").
					Iname("i", 0, 8).Iname("j", 0, 8).
					Tag("i", "l.0").Tag("j", "l.0")
			},
			wantErr: true,
		},
		{
			name: "unknown loop priority iname",
			build: func() *Builder {
				return NewBuilder("k").Iname("i", 0, 8).LoopPriority("i", "ghost")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			if (err != nil) != tt.wantErr {
				t.Errorf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	k := simpleKernel(t)
	clone := k.Clone()

	clone.Inames[0].Tag = Unroll{}
	clone.Instructions[0].DependsOn = append(clone.Instructions[0].DependsOn, "x")

	if _, ok := k.Inames[0].Tag.(Sequential); !ok {
		t.Error("modifying the clone changed the original's tag")
	}
	if len(k.Instructions[0].DependsOn) != 0 {
		t.Error("modifying the clone changed the original's dependencies")
	}
}

func TestWithTag(t *testing.T) {
	t.Parallel()
	k, err := NewBuilder("k").
		Iname("i", 0, 8).Iname("j", 0, 8).
		Tag("i", "l.0").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	if _, err := k.WithTag("j", LocalAxis{Axis: 0}); err == nil {
		t.Error("expected axis conflict error")
	}
	if _, err := k.WithTag("ghost", Unroll{}); err == nil {
		t.Error("expected unknown iname error")
	}

	tagged, err := k.WithTag("j", LocalAxis{Axis: 1})
	if err != nil {
		t.Fatalf("WithTag failed: %v", err)
	}
	if tag, _ := tagged.TagOf("j"); tag.String() != "l.1" {
		t.Errorf("tag of j = %q, want l.1", tag)
	}
	if tag, _ := k.TagOf("j"); tag.String() != "for" {
		t.Errorf("WithTag mutated the source kernel: tag of j = %q", tag)
	}
}

func TestUniqueNames(t *testing.T) {
	t.Parallel()
	k := simpleKernel(t)

	if got := k.UniqueName("fresh"); got != "fresh" {
		t.Errorf("UniqueName(fresh) = %q", got)
	}
	if got := k.UniqueName("i"); got != "i_0" {
		t.Errorf("UniqueName(i) = %q", got)
	}
	if got := k.UniqueInstructionID("write_b"); got != "write_b_0" {
		t.Errorf("UniqueInstructionID(write_b) = %q", got)
	}
}

func TestStrideOf(t *testing.T) {
	t.Parallel()
	k, err := NewBuilder("strides").
		GlobalArg("a", 64, 8).
		GlobalArg("out", 64, 8).
		Iname("i", 0, 64).
		Iname("j", 0, 8).
		Instruction("s",
			expr.Index("out", expr.V("i"), expr.V("j")),
			expr.Index("a", expr.V("i"), expr.V("j")),
			"i", "j").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}
	insn := k.Instructions[0]

	tests := []struct {
		iname     string
		want      int64
		wantFound bool
	}{
		{iname: "i", want: 8, wantFound: true}, // row-major: dim 0 stride is 8
		{iname: "j", want: 1, wantFound: true},
		{iname: "ghost", want: InfiniteStride, wantFound: false},
	}
	for _, tt := range tests {
		t.Run(tt.iname, func(t *testing.T) {
			got, found := k.StrideOf(insn, tt.iname)
			if got != tt.want || found != tt.wantFound {
				t.Errorf("StrideOf(%q) = %d, %v; want %d, %v",
					tt.iname, got, found, tt.want, tt.wantFound)
			}
		})
	}
}

func TestCompleteDataFlowDeps(t *testing.T) {
	t.Parallel()
	k, err := NewBuilder("flow").
		GlobalArg("a", 8).
		GlobalArg("b", 8).
		Iname("i", 0, 8).
		Instruction("produce", expr.V("t"), expr.Index("a", expr.V("i")), "i").
		Instruction("consume", expr.Index("b", expr.V("i")), expr.V("t"), "i").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	completed := k.CompleteDataFlowDeps()
	consume, _ := completed.FindInstruction("consume")
	if len(consume.DependsOn) != 1 || consume.DependsOn[0] != "produce" {
		t.Errorf("consume deps = %v, want [produce]", consume.DependsOn)
	}
	if len(k.Instructions[1].DependsOn) != 0 {
		t.Error("CompleteDataFlowDeps mutated the source kernel")
	}
}

func TestDependencyCycleIsDetected(t *testing.T) {
	t.Parallel()
	// A reads what B writes and B reads what A writes; no order works.
	k, err := NewBuilder("cyclic").
		Iname("i", 0, 8).
		Instruction("a", expr.V("x"), expr.V("y"), "i").
		Instruction("b", expr.V("y"), expr.V("x"), "i").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	completed := k.CompleteDataFlowDeps()
	err = completed.CheckDependencyCycles()
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("error type = %T, want *CycleError", err)
	}
	if len(cycleErr.IDs) < 2 {
		t.Errorf("cycle ids = %v, want at least two instructions", cycleErr.IDs)
	}
}

func TestNestingConsistency(t *testing.T) {
	t.Parallel()
	k, err := NewBuilder("nesting").
		Iname("i", 0, 8).Iname("j", 0, 8).Iname("k", 0, 8).
		Instruction("a", expr.V("x"), expr.C(0), "i", "j").
		Instruction("b", expr.V("y"), expr.C(0), "i", "k").
		Build()
	if err == nil {
		t.Fatal("expected a nesting consistency error")
	}

	// The same shape is fine when the shared iname is device-parallel.
	k, err = NewBuilder("nesting_par").
		Iname("i", 0, 8).Iname("j", 0, 8).Iname("k", 0, 8).
		Tag("i", "g.0").
		Instruction("a", expr.V("x"), expr.C(0), "i", "j").
		Instruction("b", expr.V("y"), expr.C(0), "i", "k").
		Build()
	if err != nil {
		t.Fatalf("parallel overlap should be accepted, got: %v", err)
	}
	if k == nil {
		t.Fatal("expected a kernel")
	}
}

func TestDumpIsComplete(t *testing.T) {
	t.Parallel()
	k := simpleKernel(t)
	k.Instructions[0].DependsOn = []string{"write_b"} // self-loop just for dump coverage
	dump := k.String()

	for _, want := range []string{"KERNEL: simple", "a: global array", "i: for", "write_b"} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump missing %q:\n%s", want, dump)
		}
	}

	dot := k.DependencyGraphDot()
	if !strings.Contains(dot, "digraph") || !strings.Contains(dot, "write_b") {
		t.Errorf("DOT output incomplete:\n%s", dot)
	}
}
