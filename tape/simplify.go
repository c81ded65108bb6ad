// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package tape

import (
	"fmt"

	"github.com/shapevm/shapevm/ints"
)

// Choice is the outcome of a choice instruction
// (min, max, and, or) over an interval of inputs.
//
// The values are bit flags: ChoiceBoth is
// ChoiceLeft|ChoiceRight.
type Choice uint8

const (
	// ChoiceUnknown is recorded for instructions
	// that do not make a choice.
	ChoiceUnknown Choice = 0
	// ChoiceLeft means the result is always the
	// left operand.
	ChoiceLeft Choice = 1
	// ChoiceRight means the result is always the
	// right operand.
	ChoiceRight Choice = 2
	// ChoiceBoth means either operand may be
	// the result.
	ChoiceBoth Choice = ChoiceLeft | ChoiceRight
)

func (c Choice) String() string {
	switch c {
	case ChoiceUnknown:
		return "unknown"
	case ChoiceLeft:
		return "left"
	case ChoiceRight:
		return "right"
	case ChoiceBoth:
		return "both"
	default:
		return fmt.Sprintf("Choice(%d)", uint8(c))
	}
}

// Resolved returns whether c picks exactly one operand.
func (c Choice) Resolved() bool { return c == ChoiceLeft || c == ChoiceRight }

// Simplify rewrites t given one choice per tape
// position, as produced by an interval evaluation.
//
// Every choice instruction that resolved to one
// operand is replaced by that operand (copy
// propagation), instructions that are no longer
// reachable from the outputs are dropped and the
// remaining slots are renumbered contiguously,
// preserving their relative order. Instructions whose
// choice is ChoiceBoth or ChoiceUnknown are kept.
//
// Simplify never modifies t.
func Simplify(t *Tape, choices []Choice) (*Tape, error) {
	n := len(t.Instrs)
	if len(choices) != n {
		return nil, fmt.Errorf("tape: %d choices for a tape of %d instructions", len(choices), n)
	}
	// forward[i] is the slot that holds the value
	// of slot i after copy propagation
	forward := make([]uint32, n)
	args := make([][2]uint32, n)
	for i := range t.Instrs {
		in := &t.Instrs[i]
		for j, arg := range in.Args[:in.Op.Arity()] {
			args[i][j] = forward[arg]
		}
		forward[i] = uint32(i)
		if !in.Op.IsChoice() {
			continue
		}
		switch choices[i] {
		case ChoiceLeft:
			forward[i] = args[i][0]
		case ChoiceRight:
			forward[i] = args[i][1]
		}
	}

	live := make([]uint64, ints.Words(n))
	for _, o := range t.Outputs {
		ints.SetBit(live, forward[o])
	}
	for i := n - 1; i >= 0; i-- {
		if !ints.TestBit(live, i) {
			continue
		}
		in := &t.Instrs[i]
		for _, arg := range args[i][:in.Op.Arity()] {
			ints.SetBit(live, arg)
		}
	}

	renumber := make([]uint32, n)
	out := &Tape{
		Outputs: make([]uint32, len(t.Outputs)),
		Vars:    t.Vars,
	}
	for i := range t.Instrs {
		if !ints.TestBit(live, i) {
			continue
		}
		in := t.Instrs[i]
		for j := range args[i][:in.Op.Arity()] {
			in.Args[j] = renumber[args[i][j]]
		}
		renumber[i] = uint32(len(out.Instrs))
		out.Instrs = append(out.Instrs, in)
	}
	for i, o := range t.Outputs {
		out.Outputs[i] = renumber[forward[o]]
	}
	return out, nil
}

// Resolved returns the number of choice instructions
// of t that choices resolve to a single operand.
func Resolved(t *Tape, choices []Choice) int {
	n := 0
	for i := range t.Instrs {
		if t.Instrs[i].Op.IsChoice() && i < len(choices) && choices[i].Resolved() {
			n++
		}
	}
	return n
}
