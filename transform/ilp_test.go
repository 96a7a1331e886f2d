package transform

import (
	"testing"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

func TestDuplicateILPTemporaries(t *testing.T) {
	t.Parallel()
	k, err := kernel.NewBuilder("ilp_temp").
		GlobalArg("a", 4, 8).
		GlobalArg("out", 4, 8).
		Temporary("scratch").
		Iname("p", 0, 4).
		Iname("j", 0, 8).
		Tag("p", "ilp").
		Instruction("stage", expr.V("scratch"), expr.Index("a", expr.V("p"), expr.V("j")), "p", "j").
		Instruction("use", expr.Index("out", expr.V("p"), expr.V("j")), expr.V("scratch"), "p", "j").
		Depends("use", "stage").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	got, err := DuplicateILPTemporaries(k)
	if err != nil {
		t.Fatalf("DuplicateILPTemporaries failed: %v", err)
	}

	scratch, _ := got.FindTemporary("scratch")
	if len(scratch.Shape) != 1 || scratch.Shape[0] != 4 {
		t.Errorf("scratch shape = %v, want one slot per replica [4]", scratch.Shape)
	}

	stage, _ := got.FindInstruction("stage")
	if gotA := stage.Assignee.String(); gotA != "scratch[p]" {
		t.Errorf("stage assignee = %q, want scratch[p]", gotA)
	}
	use, _ := got.FindInstruction("use")
	if gotR := use.RHS.String(); gotR != "scratch[p]" {
		t.Errorf("use RHS = %q, want scratch[p]", gotR)
	}

	// The pass is idempotent: the replica index is already present.
	again, err := DuplicateILPTemporaries(got)
	if err != nil {
		t.Fatalf("second DuplicateILPTemporaries failed: %v", err)
	}
	if again.String() != got.String() {
		t.Error("second duplication changed the kernel")
	}
}

func TestDuplicateILPTemporariesAccessOutsideReplica(t *testing.T) {
	t.Parallel()
	k, err := kernel.NewBuilder("ilp_escape").
		GlobalArg("a", 4).
		GlobalArg("out", 1).
		Temporary("scratch").
		Iname("p", 0, 4).
		Tag("p", "ilp").
		Instruction("stage", expr.V("scratch"), expr.Index("a", expr.V("p")), "p").
		Instruction("leak", expr.Index("out", expr.C(0)), expr.V("scratch")).
		Depends("leak", "stage").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	if _, err := DuplicateILPTemporaries(k); err == nil {
		t.Error("expected an error for a read outside the replication iname")
	}
}

func TestDuplicateILPTemporariesLeavesLocalAlone(t *testing.T) {
	t.Parallel()
	k, err := kernel.NewBuilder("ilp_local").
		GlobalArg("a", 4).
		LocalTemporary("tile", 4).
		Iname("p", 0, 4).
		Tag("p", "ilp").
		Instruction("stage", expr.Index("tile", expr.V("p")), expr.Index("a", expr.V("p")), "p").
		Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}

	got, err := DuplicateILPTemporaries(k)
	if err != nil {
		t.Fatalf("DuplicateILPTemporaries failed: %v", err)
	}
	tile, _ := got.FindTemporary("tile")
	if len(tile.Shape) != 1 {
		t.Errorf("local temporary shape = %v, want unchanged [4]", tile.Shape)
	}
}
