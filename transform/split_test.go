package transform

import (
	"testing"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

func splitInput(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.NewBuilder("split_input").
		GlobalArg("a", 64).
		GlobalArg("b", 64).
		Iname("i", 0, 64).
		Instruction("copy",
			expr.Index("b", expr.V("i")),
			expr.Index("a", expr.V("i")),
			"i").
		LoopPriority("i").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}
	return k
}

func TestSplitIname(t *testing.T) {
	t.Parallel()
	k := splitInput(t)

	split, err := SplitIname(k, "i", 16, SplitOptions{})
	if err != nil {
		t.Fatalf("SplitIname failed: %v", err)
	}

	if _, ok := split.FindIname("i"); ok {
		t.Error("original iname still present after splitting")
	}
	outer, ok := split.FindIname("i_outer")
	if !ok {
		t.Fatal("outer iname missing")
	}
	inner, ok := split.FindIname("i_inner")
	if !ok {
		t.Fatal("inner iname missing")
	}
	if n, _ := outer.ConstantLength(); n != 4 {
		t.Errorf("outer length = %d, want 4", n)
	}
	if n, _ := inner.ConstantLength(); n != 16 {
		t.Errorf("inner length = %d, want 16", n)
	}

	insn := split.Instructions[0]
	wantRHS := "a[((i_outer * 16) + i_inner)]"
	if got := insn.RHS.String(); got != wantRHS {
		t.Errorf("rewritten RHS = %q, want %q", got, wantRHS)
	}
	if len(insn.Within) != 2 || insn.Within[0] != "i_outer" || insn.Within[1] != "i_inner" {
		t.Errorf("within = %v, want [i_outer i_inner]", insn.Within)
	}
	if len(split.LoopPriority) != 2 || split.LoopPriority[0] != "i_outer" {
		t.Errorf("loop priority = %v, want [i_outer i_inner]", split.LoopPriority)
	}

	// The source kernel is untouched.
	if _, ok := k.FindIname("i"); !ok {
		t.Error("SplitIname mutated its input")
	}
}

func TestSplitInameTags(t *testing.T) {
	t.Parallel()
	k := splitInput(t)

	split, err := SplitIname(k, "i", 16, SplitOptions{
		OuterTag: kernel.GroupAxis{Axis: 0},
		InnerTag: kernel.LocalAxis{Axis: 0},
	})
	if err != nil {
		t.Fatalf("SplitIname failed: %v", err)
	}
	if tag, _ := split.TagOf("i_outer"); tag.String() != "g.0" {
		t.Errorf("outer tag = %q, want g.0", tag)
	}
	if tag, _ := split.TagOf("i_inner"); tag.String() != "l.0" {
		t.Errorf("inner tag = %q, want l.0", tag)
	}
}

func TestSplitInameErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		iname       string
		innerLength int64
	}{
		{name: "unknown iname", iname: "ghost", innerLength: 8},
		{name: "non-dividing inner length", iname: "i", innerLength: 24},
		{name: "non-positive inner length", iname: "i", innerLength: 0},
	}

	k := splitInput(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SplitIname(k, tt.iname, tt.innerLength, SplitOptions{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSplitInameNonConstantDomain(t *testing.T) {
	t.Parallel()
	k, err := kernel.NewBuilder("sized").
		ValueArg("n").
		GlobalArg("a", 64).
		InameExpr("i", expr.C(0), expr.V("n")).
		Instruction("touch", expr.Index("a", expr.V("i")), expr.C(0), "i").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}
	if _, err := SplitIname(k, "i", 8, SplitOptions{}); err == nil {
		t.Error("expected an error for a non-constant domain")
	}
}
