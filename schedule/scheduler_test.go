package schedule

import (
	"testing"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

func mustBuild(t *testing.T, b *kernel.Builder) *kernel.Kernel {
	t.Helper()
	k, err := b.Build()
	if err != nil {
		t.Fatalf("building kernel failed: %v", err)
	}
	return k
}

func generate(t *testing.T, k *kernel.Kernel) *Schedule {
	t.Helper()
	sched, err := Generate(k.CompleteDataFlowDeps(), Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return sched
}

func runOrder(sched *Schedule) []string {
	var ids []string
	for _, item := range sched.Items {
		if run, ok := item.(RunInstruction); ok {
			ids = append(ids, run.ID)
		}
	}
	return ids
}

func TestGenerateNestedLoops(t *testing.T) {
	t.Parallel()
	k := mustBuild(t, kernel.NewBuilder("nested").
		GlobalArg("a", 8, 8).
		GlobalArg("row", 8).
		Iname("i", 0, 8).
		Iname("j", 0, 8).
		Instruction("init_row", expr.Index("row", expr.V("i")), expr.C(0), "i").
		Instruction("accumulate",
			expr.Index("row", expr.V("i")),
			expr.Sum(expr.Index("row", expr.V("i")), expr.Index("a", expr.V("i"), expr.V("j"))),
			"i", "j"))

	completed := k.CompleteDataFlowDeps()
	sched := generate(t, k)

	if err := Verify(completed, sched); err != nil {
		t.Fatalf("generated schedule fails verification: %v", err)
	}

	want := []Item{
		EnterLoop{Iname: "i"},
		RunInstruction{ID: "init_row"},
		EnterLoop{Iname: "j"},
		RunInstruction{ID: "accumulate"},
		LeaveLoop{Iname: "j"},
		LeaveLoop{Iname: "i"},
	}
	if len(sched.Items) != len(want) {
		t.Fatalf("schedule has %d item(s), want %d:\n%s", len(sched.Items), len(want), sched)
	}
	for i, item := range sched.Items {
		if item != want[i] {
			t.Errorf("item %d = %v, want %v", i, item, want[i])
		}
	}
}

func TestGenerateRespectsDependencies(t *testing.T) {
	t.Parallel()
	// produce/consume chain through a temporary; data-flow completion
	// provides the edges.
	k := mustBuild(t, kernel.NewBuilder("chain").
		GlobalArg("a", 8).
		GlobalArg("out", 8).
		Temporary("t1").
		Temporary("t2").
		Iname("i", 0, 8).
		Instruction("stage_two", expr.V("t2"), expr.V("t1"), "i").
		Instruction("stage_one", expr.V("t1"), expr.Index("a", expr.V("i")), "i").
		Instruction("emit", expr.Index("out", expr.V("i")), expr.V("t2"), "i"))

	completed := k.CompleteDataFlowDeps()
	sched := generate(t, k)
	if err := Verify(completed, sched); err != nil {
		t.Fatalf("generated schedule fails verification: %v", err)
	}

	order := runOrder(sched)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["stage_one"] < pos["stage_two"] && pos["stage_two"] < pos["emit"]) {
		t.Errorf("run order %v violates the dependency chain", order)
	}
}

func TestGenerateNeverReentersLoops(t *testing.T) {
	t.Parallel()
	k := mustBuild(t, kernel.NewBuilder("groups").
		GlobalArg("a", 8).
		GlobalArg("b", 8).
		Iname("i", 0, 8).
		Instruction("first", expr.Index("a", expr.V("i")), expr.C(1), "i").
		Instruction("second", expr.Index("b", expr.V("i")), expr.C(2), "i"))

	sched := generate(t, k)

	entries := make(map[string]int)
	for _, item := range sched.Items {
		if enter, ok := item.(EnterLoop); ok {
			entries[enter.Iname]++
		}
	}
	for iname, n := range entries {
		if n > 1 {
			t.Errorf("loop %q entered %d times:\n%s", iname, n, sched)
		}
	}
}

func TestGenerateHonorsLoopPriority(t *testing.T) {
	t.Parallel()
	build := func(priority ...string) *kernel.Kernel {
		return mustBuild(t, kernel.NewBuilder("prio").
			GlobalArg("c", 8, 8).
			Iname("i", 0, 8).
			Iname("j", 0, 8).
			Instruction("fill", expr.Index("c", expr.V("i"), expr.V("j")), expr.C(0), "i", "j").
			LoopPriority(priority...))
	}

	sched := generate(t, build("j", "i"))
	if first, ok := sched.Items[0].(EnterLoop); !ok || first.Iname != "j" {
		t.Errorf("first item = %v, want entering j (declared outermost)", sched.Items[0])
	}

	sched = generate(t, build("i", "j"))
	if first, ok := sched.Items[0].(EnterLoop); !ok || first.Iname != "i" {
		t.Errorf("first item = %v, want entering i", sched.Items[0])
	}
}

func TestGenerateSkipsParallelAndIlpInames(t *testing.T) {
	t.Parallel()
	k := mustBuild(t, kernel.NewBuilder("grid").
		GlobalArg("a", 8, 4).
		Iname("g", 0, 8).
		Iname("p", 0, 4).
		Tag("g", "g.0").
		Tag("p", "ilp").
		Instruction("fill", expr.Index("a", expr.V("g"), expr.V("p")), expr.C(0), "g", "p"))

	sched := generate(t, k)
	for _, item := range sched.Items {
		if enter, ok := item.(EnterLoop); ok {
			t.Errorf("iname %q entered as a loop; grid and ILP inames are not loops", enter.Iname)
		}
	}
	if len(runOrder(sched)) != 1 {
		t.Errorf("schedule = %v, want exactly one run item", sched.Items)
	}
}

func TestGenerateInfeasibleCycle(t *testing.T) {
	t.Parallel()
	// A reads what B writes and B reads what A writes.
	k := mustBuild(t, kernel.NewBuilder("cyclic").
		Iname("i", 0, 8).
		Instruction("a", expr.V("x"), expr.V("y"), "i").
		Instruction("b", expr.V("y"), expr.V("x"), "i"))

	if _, err := Generate(k.CompleteDataFlowDeps(), Options{}); err == nil {
		t.Fatal("expected a reported infeasibility, got a schedule")
	}
}

func TestGenerateInfeasibleNesting(t *testing.T) {
	t.Parallel()
	// first needs the i loop alone, bridge needs i and j together, and
	// last needs j alone after bridge: j would have to be entered both
	// inside and outside i, which the single-entry rule forbids.
	k := mustBuild(t, kernel.NewBuilder("reentry").
		Temporary("t1").
		Temporary("t2").
		GlobalArg("out", 8).
		Iname("i", 0, 8).
		Iname("j", 0, 8).
		Instruction("first", expr.V("t1"), expr.C(0), "i").
		Instruction("bridge", expr.V("t2"), expr.V("t1"), "i", "j").
		Instruction("last", expr.Index("out", expr.V("j")), expr.V("t2"), "j"))

	_, err := Generate(k.CompleteDataFlowDeps(), Options{})
	if err == nil {
		t.Fatal("expected a scheduling infeasibility")
	}
	if _, ok := err.(*InfeasibleError); !ok {
		t.Errorf("error type = %T, want *InfeasibleError", err)
	}
}

func TestGenerateRejectsUnresolvedKernels(t *testing.T) {
	t.Parallel()
	auto := mustBuild(t, kernel.NewBuilder("auto").
		GlobalArg("a", 8).
		Iname("i", 0, 8).
		Tag("i", "l.auto").
		Instruction("s", expr.Index("a", expr.V("i")), expr.C(0), "i"))
	if _, err := Generate(auto, Options{}); err == nil {
		t.Error("expected an error for unresolved l.auto inames")
	}

	red := mustBuild(t, kernel.NewBuilder("red").
		GlobalArg("a", 8).
		GlobalArg("out", 1).
		Iname("kk", 0, 8).
		Instruction("s", expr.Index("out", expr.C(0)), expr.Reduction{
			Op:     expr.ReduceSum,
			Inames: []string{"kk"},
			Body:   expr.Index("a", expr.V("kk")),
		}))
	if _, err := Generate(red, Options{}); err == nil {
		t.Error("expected an error for unrealized reductions")
	}
}

func TestVerifyRejectsBadSchedules(t *testing.T) {
	t.Parallel()
	k := mustBuild(t, kernel.NewBuilder("verify").
		GlobalArg("a", 8).
		GlobalArg("b", 8).
		Iname("i", 0, 8).
		Instruction("produce", expr.Index("a", expr.V("i")), expr.C(0), "i").
		Instruction("consume", expr.Index("b", expr.V("i")), expr.Index("a", expr.V("i")), "i").
		Depends("consume", "produce"))

	tests := []struct {
		name  string
		items []Item
	}{
		{
			name: "dependency order violated",
			items: []Item{
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "consume"},
				RunInstruction{ID: "produce"},
				LeaveLoop{Iname: "i"},
			},
		},
		{
			name: "instruction missing",
			items: []Item{
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "produce"},
				LeaveLoop{Iname: "i"},
			},
		},
		{
			name: "instruction outside its loop",
			items: []Item{
				RunInstruction{ID: "produce"},
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "consume"},
				LeaveLoop{Iname: "i"},
			},
		},
		{
			name: "loop left open",
			items: []Item{
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "produce"},
				RunInstruction{ID: "consume"},
			},
		},
		{
			name: "loop entered twice",
			items: []Item{
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "produce"},
				LeaveLoop{Iname: "i"},
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "consume"},
				LeaveLoop{Iname: "i"},
			},
		},
		{
			name: "unknown instruction",
			items: []Item{
				EnterLoop{Iname: "i"},
				RunInstruction{ID: "produce"},
				RunInstruction{ID: "consume"},
				RunInstruction{ID: "ghost"},
				LeaveLoop{Iname: "i"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(k, &Schedule{Items: tt.items}); err == nil {
				t.Error("expected a verification error")
			}
		})
	}
}

func TestScheduleString(t *testing.T) {
	t.Parallel()
	sched := &Schedule{Items: []Item{
		EnterLoop{Iname: "i"},
		RunInstruction{ID: "s"},
		LeaveLoop{Iname: "i"},
	}}
	want := "for i\n    run s\nend i\n"
	if got := sched.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
