// Package schedule linearizes a preprocessed kernel into one concrete
// loop nest.
//
// A Schedule is an ordered sequence of items: enter loop, leave loop, and
// run instruction. The Generate search places every instruction exactly
// once, nests it under exactly the loops of its within-inames, respects
// all dependency edges, and enters each loop at most once. Device-parallel
// inames (group/local axes) are realized by the execution grid, ILP
// inames by per-replica duplication at code emission; neither appears as
// a loop item.
//
// The search commits greedily to running instructions and leaving loops;
// only the choice of which loop to enter next is subject to backtracking,
// tracked on an explicit choice-point stack. Failure is terminal and is
// reported as an InfeasibleError naming what could not be placed.
package schedule

import (
	"fmt"
	"strings"
)

// Item is one schedule entry.
type Item interface {
	fmt.Stringer
	isItem()
}

// EnterLoop opens the loop over an iname.
type EnterLoop struct {
	Iname string
}

// LeaveLoop closes the loop over an iname.
type LeaveLoop struct {
	Iname string
}

// RunInstruction executes one instruction in the current loop context.
type RunInstruction struct {
	ID string
}

func (EnterLoop) isItem()      {}
func (LeaveLoop) isItem()      {}
func (RunInstruction) isItem() {}

func (it EnterLoop) String() string      { return "for " + it.Iname }
func (it LeaveLoop) String() string      { return "end " + it.Iname }
func (it RunInstruction) String() string { return "run " + it.ID }

// Schedule is the terminal scheduling artifact, consumed by code
// emission and not further mutated.
type Schedule struct {
	Items []Item
}

// String renders the schedule as an indented loop nest.
func (s *Schedule) String() string {
	var sb strings.Builder
	depth := 0
	for _, item := range s.Items {
		if _, ok := item.(LeaveLoop); ok {
			depth--
		}
		sb.WriteString(strings.Repeat("    ", depth))
		sb.WriteString(item.String())
		sb.WriteByte('\n')
		if _, ok := item.(EnterLoop); ok {
			depth++
		}
	}
	return sb.String()
}
