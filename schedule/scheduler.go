package schedule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/expr"
	"github.com/sbl8/loft/kernel"
)

// Options tunes schedule generation.
type Options struct {
	// MaxSteps bounds the number of search states visited before the
	// search is abandoned as infeasible. Zero means the default of
	// 100000.
	MaxSteps int
}

// InfeasibleError reports that no schedule satisfying all dependency and
// nesting constraints exists. Scheduling failure is a hard compile error;
// the search is not retried.
type InfeasibleError struct {
	Kernel      string
	Reason      string
	Unscheduled []string
}

func (e *InfeasibleError) Error() string {
	msg := fmt.Sprintf("kernel %q cannot be scheduled: %s", e.Kernel, e.Reason)
	if len(e.Unscheduled) > 0 {
		msg += fmt.Sprintf(" (unscheduled: %s)", strings.Join(e.Unscheduled, ", "))
	}
	return msg
}

// Generate linearizes a preprocessed kernel into a schedule. All l.auto
// tags must be resolved and all reductions realized before scheduling.
//
// The search commits greedily whenever the next step is forced or safe:
// an instruction whose dependencies are met and whose loop context is
// exactly open is run immediately, and a loop no remaining instruction
// needs is left immediately. Only the choice of which loop to enter next
// can lead to a dead end, so those choices are pushed on an explicit
// stack and revisited on backtracking. Candidate ordering (declared loop
// priority first, then iname declaration order) makes the result
// deterministic.
func Generate(k *kernel.Kernel, opts Options) (*Schedule, error) {
	if err := k.Validate(); err != nil {
		return nil, errors.Wrapf(err, "kernel %q is not schedulable", k.Name)
	}
	if k.HasAutoLocalInames() {
		return nil, errors.Errorf("kernel %q still has l.auto inames; run automatic axis assignment first", k.Name)
	}
	if id, found := unrealizedReduction(k); found {
		return nil, errors.Errorf("instruction %q still contains a reduction; run reduction realization first", id)
	}
	if len(k.Instructions) == 0 {
		return &Schedule{}, nil
	}

	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = 100000
	}

	s := newSearcher(k)
	sched, err := s.search(maxSteps)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("scheduled kernel %q: %d item(s)", k.Name, len(sched.Items))
	return sched, nil
}

func unrealizedReduction(k *kernel.Kernel) (string, bool) {
	for _, insn := range k.Instructions {
		found := false
		expr.Walk(insn.RHS, func(sub expr.Expr) bool {
			if _, ok := sub.(expr.Reduction); ok {
				found = true
				return false
			}
			return true
		})
		if found {
			return insn.ID, true
		}
	}
	return "", false
}

type searcher struct {
	k          *kernel.Kernel
	loopInames map[string]bool
	nestMap    map[string]map[string]bool

	// required maps each instruction to the loop inames that must be
	// exactly open when it runs.
	required map[string]map[string]bool

	priorityIndex map[string]int // position in LoopPriority, -1 if absent
	declIndex     map[string]int
}

func newSearcher(k *kernel.Kernel) *searcher {
	s := &searcher{
		k:             k,
		loopInames:    loopInameSet(k),
		nestMap:       buildNestMap(k),
		required:      make(map[string]map[string]bool, len(k.Instructions)),
		priorityIndex: make(map[string]int, len(k.Inames)),
		declIndex:     make(map[string]int, len(k.Inames)),
	}
	for _, insn := range k.Instructions {
		req := make(map[string]bool, len(insn.Within))
		for _, name := range insn.Within {
			if s.loopInames[name] {
				req[name] = true
			}
		}
		s.required[insn.ID] = req
	}
	for i, in := range k.Inames {
		s.declIndex[in.Name] = i
		s.priorityIndex[in.Name] = -1
	}
	for i, name := range k.LoopPriority {
		if _, seen := s.priorityIndex[name]; seen && s.priorityIndex[name] == -1 {
			s.priorityIndex[name] = i
		}
	}
	return s
}

// searchState is derived entirely from a schedule prefix, so backtracking
// only needs to truncate the prefix.
type searchState struct {
	open    []string
	openSet map[string]bool
	entered map[string]bool
	done    map[string]bool
}

func (s *searcher) replay(items []Item) *searchState {
	st := &searchState{
		openSet: make(map[string]bool),
		entered: make(map[string]bool),
		done:    make(map[string]bool),
	}
	for _, item := range items {
		switch it := item.(type) {
		case EnterLoop:
			st.open = append(st.open, it.Iname)
			st.openSet[it.Iname] = true
			st.entered[it.Iname] = true
		case LeaveLoop:
			st.open = st.open[:len(st.open)-1]
			delete(st.openSet, it.Iname)
		case RunInstruction:
			st.done[it.ID] = true
		}
	}
	return st
}

// choicePoint records one loop-entry decision: the schedule prefix it was
// made against and the candidates not yet tried.
type choicePoint struct {
	prefixLen  int
	candidates []string
	next       int
}

func (s *searcher) search(maxSteps int) (*Schedule, error) {
	var items []Item
	var stack []choicePoint

	bestDone := -1
	var bestUnscheduled []string

	for step := 0; ; step++ {
		if step >= maxSteps {
			return nil, &InfeasibleError{
				Kernel:      s.k.Name,
				Reason:      fmt.Sprintf("search abandoned after %d states", maxSteps),
				Unscheduled: bestUnscheduled,
			}
		}

		items = s.extendGreedily(items)
		st := s.replay(items)

		if len(st.done) == len(s.k.Instructions) {
			for i := len(st.open) - 1; i >= 0; i-- {
				items = append(items, LeaveLoop{Iname: st.open[i]})
			}
			return &Schedule{Items: items}, nil
		}

		if candidates := s.enterCandidates(st); len(candidates) > 0 {
			stack = append(stack, choicePoint{
				prefixLen:  len(items),
				candidates: candidates,
				next:       1,
			})
			klog.V(2).Infof("entering loop %q (of %d candidate(s))", candidates[0], len(candidates))
			items = append(items, EnterLoop{Iname: candidates[0]})
			continue
		}

		// Dead end. Remember the deepest failure for diagnostics, then
		// revisit the most recent loop-entry choice with options left.
		if len(st.done) > bestDone {
			bestDone = len(st.done)
			bestUnscheduled = s.unscheduledIDs(st)
		}
		backtracked := false
		for len(stack) > 0 {
			cp := &stack[len(stack)-1]
			if cp.next < len(cp.candidates) {
				items = items[:cp.prefixLen]
				klog.V(2).Infof("backtracking to loop choice %q", cp.candidates[cp.next])
				items = append(items, EnterLoop{Iname: cp.candidates[cp.next]})
				cp.next++
				backtracked = true
				break
			}
			stack = stack[:len(stack)-1]
		}
		if !backtracked {
			return nil, &InfeasibleError{
				Kernel:      s.k.Name,
				Reason:      s.diagnose(bestUnscheduled),
				Unscheduled: bestUnscheduled,
			}
		}
	}
}

// extendGreedily runs every instruction whose dependencies are met and
// whose loop context is exactly open, and leaves loops that no remaining
// instruction needs. Neither commitment can make the rest of the search
// fail, so these steps are never backtracked over.
func (s *searcher) extendGreedily(items []Item) []Item {
	for {
		st := s.replay(items)

		if id, ok := s.pickRunnable(st); ok {
			items = append(items, RunInstruction{ID: id})
			continue
		}

		if len(st.open) > 0 {
			top := st.open[len(st.open)-1]
			if !s.loopStillNeeded(st, top) {
				items = append(items, LeaveLoop{Iname: top})
				continue
			}
		}
		return items
	}
}

// pickRunnable returns the runnable instruction with the highest declared
// priority, tiebroken by program order.
func (s *searcher) pickRunnable(st *searchState) (string, bool) {
	bestIdx := -1
	for i, insn := range s.k.Instructions {
		if st.done[insn.ID] || !s.runnable(st, insn) {
			continue
		}
		if bestIdx < 0 || insn.Priority > s.k.Instructions[bestIdx].Priority {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return "", false
	}
	return s.k.Instructions[bestIdx].ID, true
}

func (s *searcher) runnable(st *searchState, insn kernel.Instruction) bool {
	for _, dep := range insn.DependsOn {
		if !st.done[dep] {
			return false
		}
	}
	req := s.required[insn.ID]
	if len(req) != len(st.openSet) {
		return false
	}
	for name := range req {
		if !st.openSet[name] {
			return false
		}
	}
	return true
}

func (s *searcher) loopStillNeeded(st *searchState, iname string) bool {
	for _, insn := range s.k.Instructions {
		if !st.done[insn.ID] && s.required[insn.ID][iname] {
			return true
		}
	}
	return false
}

// enterCandidates lists the loops that may be entered next: not yet
// entered (a loop runs at most once), every loop that must surround them
// already open, and useful to at least one remaining instruction that is
// compatible with the currently open context.
func (s *searcher) enterCandidates(st *searchState) []string {
	var result []string
	for _, in := range s.k.Inames {
		name := in.Name
		if !s.loopInames[name] || st.entered[name] {
			continue
		}
		if !subsetOf(s.nestMap[name], st.openSet) {
			continue
		}
		useful := false
		for _, insn := range s.k.Instructions {
			if st.done[insn.ID] || !s.required[insn.ID][name] {
				continue
			}
			if subsetOf(st.openSet, s.required[insn.ID]) {
				useful = true
				break
			}
		}
		if useful {
			result = append(result, name)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		pi, pj := s.priorityIndex[result[i]], s.priorityIndex[result[j]]
		switch {
		case pi >= 0 && pj >= 0:
			return pi < pj
		case pi >= 0:
			return true
		case pj >= 0:
			return false
		default:
			return s.declIndex[result[i]] < s.declIndex[result[j]]
		}
	})
	return result
}

func (s *searcher) unscheduledIDs(st *searchState) []string {
	var ids []string
	for _, insn := range s.k.Instructions {
		if !st.done[insn.ID] {
			ids = append(ids, insn.ID)
		}
	}
	return ids
}

// diagnose names the constraint blocking the first unscheduled
// instruction at the deepest point the search reached.
func (s *searcher) diagnose(unscheduled []string) string {
	if len(unscheduled) == 0 {
		return "no feasible loop nesting found"
	}
	id := unscheduled[0]
	insn, _ := s.k.FindInstruction(id)

	undone := make(map[string]bool, len(unscheduled))
	for _, u := range unscheduled {
		undone[u] = true
	}
	for _, dep := range insn.DependsOn {
		if undone[dep] {
			return fmt.Sprintf(
				"instruction %q and its dependency %q cannot both be placed; the dependency graph admits no linear order",
				id, dep)
		}
	}

	var loops []string
	for name := range s.required[id] {
		loops = append(loops, name)
	}
	sort.Strings(loops)
	return fmt.Sprintf(
		"instruction %q needs loop nest (%s), which conflicts with the nesting already committed to",
		id, strings.Join(loops, ", "))
}
