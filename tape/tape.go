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

// Package tape linearizes expression graphs into
// SSA-form tapes, assigns tape slots to registers
// and rewrites tapes using interval choices.
//
// Instruction i of a tape always writes slot i,
// and every operand refers to an earlier slot.
package tape

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/shapevm/shapevm/graph"
)

// Instr is a single tape operation.
type Instr struct {
	Op graph.Op
	// Args are the operand slots; only the
	// first Op.Arity() entries are meaningful.
	Args [2]uint32
	// Imm is the value of an OpConst instruction.
	Imm float64
	// Var is the variable index of an OpInput instruction.
	Var int
}

// Tape is an ordered SSA sequence of instructions.
// A Tape is immutable once constructed and may be
// shared between goroutines.
type Tape struct {
	Instrs []Instr
	// Outputs are the slots holding the results,
	// in the order they were requested.
	Outputs []uint32
	// Vars are the variable names, indexed by Instr.Var.
	// Evaluators expect one input per variable.
	Vars []string
}

var (
	// ErrNoOutputs is returned when a tape
	// would have no outputs.
	ErrNoOutputs = errors.New("tape: no outputs")
	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("tape: invalid tape")
	// ErrTooLarge is returned when a tape would
	// not fit 32-bit slot numbers.
	ErrTooLarge = errors.New("tape: too many instructions")
)

// OutputError is returned by Build when
// an output is not present in the graph.
type OutputError struct {
	Output graph.NodeID
	Len    int
}

func (o *OutputError) Error() string {
	return fmt.Sprintf("tape: output node %d not present in graph of %d nodes", o.Output, o.Len)
}

// Len returns the number of instructions.
func (t *Tape) Len() int { return len(t.Instrs) }

// Validate checks the SSA invariants of the tape.
func (t *Tape) Validate() error {
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	for i := range t.Instrs {
		in := &t.Instrs[i]
		if !in.Op.Valid() {
			return fmt.Errorf("%w: slot %d: bad op %d", ErrInvalid, i, in.Op)
		}
		if in.Op == graph.OpInput && (in.Var < 0 || in.Var >= len(t.Vars)) {
			return fmt.Errorf("%w: slot %d: variable %d out of range", ErrInvalid, i, in.Var)
		}
		for _, arg := range in.Args[:in.Op.Arity()] {
			if int(arg) >= i {
				return fmt.Errorf("%w: slot %d: operand %d does not precede it", ErrInvalid, i, arg)
			}
		}
	}
	for _, o := range t.Outputs {
		if int(o) >= len(t.Instrs) {
			return fmt.Errorf("%w: output slot %d out of range", ErrInvalid, o)
		}
	}
	return nil
}

// Equal returns whether two tapes are identical,
// comparing constants bitwise.
func (t *Tape) Equal(o *Tape) bool {
	if len(t.Instrs) != len(o.Instrs) || len(t.Outputs) != len(o.Outputs) || len(t.Vars) != len(o.Vars) {
		return false
	}
	for i := range t.Instrs {
		a, b := &t.Instrs[i], &o.Instrs[i]
		if a.Op != b.Op || a.Args != b.Args || a.Var != b.Var ||
			math.Float64bits(a.Imm) != math.Float64bits(b.Imm) {
			return false
		}
	}
	for i := range t.Outputs {
		if t.Outputs[i] != o.Outputs[i] {
			return false
		}
	}
	for i := range t.Vars {
		if t.Vars[i] != o.Vars[i] {
			return false
		}
	}
	return true
}

// Count returns the number of instructions with op.
func (t *Tape) Count(op graph.Op) int {
	n := 0
	for i := range t.Instrs {
		if t.Instrs[i].Op == op {
			n++
		}
	}
	return n
}

func (t *Tape) format(i int) string {
	in := &t.Instrs[i]
	switch in.Op {
	case graph.OpInput:
		if in.Var < len(t.Vars) {
			return "input " + t.Vars[in.Var]
		}
		return fmt.Sprintf("input #%d", in.Var)
	case graph.OpConst:
		return fmt.Sprintf("const %g", in.Imm)
	}
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for _, arg := range in.Args[:in.Op.Arity()] {
		fmt.Fprintf(&sb, " s%d", arg)
	}
	return sb.String()
}

// WriteTo writes a textual listing of the tape.
func (t *Tape) WriteTo(w io.Writer) (int64, error) {
	var nn int64
	for i := range t.Instrs {
		n, err := fmt.Fprintf(w, "s%d = %s\n", i, t.format(i))
		nn += int64(n)
		if err != nil {
			return nn, err
		}
	}
	n, err := io.WriteString(w, "ret:")
	nn += int64(n)
	if err != nil {
		return nn, err
	}
	for _, o := range t.Outputs {
		n, err = fmt.Fprintf(w, " s%d", o)
		nn += int64(n)
		if err != nil {
			return nn, err
		}
	}
	n, err = io.WriteString(w, "\n")
	nn += int64(n)
	return nn, err
}

func (t *Tape) String() string {
	var sb strings.Builder
	t.WriteTo(&sb)
	return sb.String()
}
