// Package loft implements a transformation and scheduling compiler for numerical kernels.
//
// Loft takes a kernel description - a set of array-valued instructions ranging
// over named iteration dimensions ("inames") with iteration domains and a
// data-dependency structure - and produces a single valid, fully ordered loop
// nest that respects dependencies, honors parallelization decisions, and can
// be lowered to device-parallel target code (work-group/local axes typical of
// GPU-style execution).
//
// # Architecture Overview
//
// The compiler consists of several key components:
//
//   - Expression trees: immutable RHS/index expressions with affine analysis
//   - Kernel snapshots: immutable aggregates of inames, instructions, rules
//   - Transform passes: pure functions from one kernel snapshot to the next
//   - Scheduler: backtracking linearizer producing the final loop nest
//
// # Pipeline
//
// A kernel passes through the automatic axis assignor (resolving all "l.auto"
// tags against a target device), then the reduction realizer (expanding
// reductions and duplicating accumulators across ILP replicas), optionally
// through user-directed substitution extraction and precomputation, and
// finally through the scheduler. Every stage consumes and returns an
// immutable kernel value; no stage mutates a kernel in place.
//
// # Basic Usage
//
//	k, err := builder.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	k, err = transform.Preprocess(k, target.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sched, err := schedule.Generate(k, schedule.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Package Structure
//
//   - expr: expression trees, matching, and affine coefficient analysis
//   - kernel: kernel data model, iname registry, and dependency model
//   - target: device descriptors consumed by the axis assignor
//   - transform: axis assignment, reduction realization, precompute passes
//   - schedule: dependency-respecting loop scheduler
//   - examples: built-in demonstration kernels
//   - cmd: command-line tools (loftc, loftperf)
package loft
