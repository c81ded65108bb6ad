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

// Package eval defines the evaluation contract shared
// by every tape backend and implements the portable
// interpreter for each evaluation mode.
//
// The interpreter is the reference implementation:
// compiled backends must produce the same results.
// Numeric edge cases (division by zero, domain errors)
// never produce errors; they propagate as infinities
// and NaNs.
package eval

import (
	"fmt"

	"github.com/shapevm/shapevm/tape"
)

// Mode is an evaluation mode.
type Mode uint8

const (
	// ModePoint evaluates one float64 point.
	ModePoint Mode = iota
	// ModeInterval evaluates float64 intervals.
	ModeInterval
	// ModeSimd4 evaluates four float32 points at once.
	ModeSimd4
	// ModeGrad evaluates a float32 value together
	// with its partial derivatives.
	ModeGrad

	NumModes
)

func (m Mode) String() string {
	switch m {
	case ModePoint:
		return "point"
	case ModeInterval:
		return "interval"
	case ModeSimd4:
		return "simd4"
	case ModeGrad:
		return "grad"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses the result of Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := ModePoint; m < NumModes; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("eval: unknown mode %q", s)
}

// Interval is a closed range [Lo, Hi].
type Interval struct {
	Lo, Hi float64
}

// Lanes holds four independent float32 points.
type Lanes [4]float32

// Grad is a float32 value with its partial
// derivatives with respect to x, y and z.
type Grad struct {
	V, Dx, Dy, Dz float32
}

// Value is the set of per-mode value types.
type Value interface {
	float64 | Interval | Lanes | Grad
}

// ModeOf returns the mode that evaluates T.
func ModeOf[T Value]() Mode {
	var zero T
	switch any(zero).(type) {
	case float64:
		return ModePoint
	case Interval:
		return ModeInterval
	case Lanes:
		return ModeSimd4
	default:
		return ModeGrad
	}
}

// Func is an evaluable tape for one mode. A Func is
// immutable and may be shared between goroutines.
type Func[T Value] interface {
	Tape() *tape.Tape
	Mode() Mode
	// Backend names the implementation,
	// e.g. "interp" or "jit".
	Backend() string
	// NewEvaluator returns an evaluator with its
	// own scratch storage.
	NewEvaluator() Evaluator[T]
}

// Evaluator evaluates a tape. An Evaluator must not
// be used by more than one goroutine at a time.
type Evaluator[T Value] interface {
	// Eval evaluates the tape with one input per
	// tape variable and writes one result per
	// tape output.
	Eval(vars, out []T) error
}

// ChoiceEvaluator is implemented by interval
// evaluators. Choices returns one choice per tape
// position from the most recent call to Eval.
// The slice is overwritten by the next call.
type ChoiceEvaluator interface {
	Choices() []tape.Choice
}

// ArityError is returned by Eval when the number
// of inputs or outputs does not match the tape.
type ArityError struct {
	What      string // "inputs" or "outputs"
	Got, Want int
}

func (a *ArityError) Error() string {
	return fmt.Sprintf("eval: got %d %s, tape needs %d", a.Got, a.What, a.Want)
}

// CheckArity validates the lengths of vars and out.
func CheckArity[T Value](t *tape.Tape, vars, out []T) error {
	if len(vars) != len(t.Vars) {
		return &ArityError{What: "inputs", Got: len(vars), Want: len(t.Vars)}
	}
	if len(out) != len(t.Outputs) {
		return &ArityError{What: "outputs", Got: len(out), Want: len(t.Outputs)}
	}
	return nil
}

// Splat returns an interval holding exactly v.
func Splat(v float64) Interval { return Interval{v, v} }

// Contains returns whether v lies in the interval.
func (i Interval) Contains(v float64) bool { return i.Lo <= v && v <= i.Hi }

// HasNaN returns whether either bound is NaN.
func (i Interval) HasNaN() bool { return i.Lo != i.Lo || i.Hi != i.Hi }

// Width returns Hi - Lo.
func (i Interval) Width() float64 { return i.Hi - i.Lo }

// Mid returns the midpoint of the interval.
func (i Interval) Mid() float64 { return i.Lo + (i.Hi-i.Lo)/2 }

func (i Interval) String() string { return fmt.Sprintf("[%g, %g]", i.Lo, i.Hi) }

// SeedGrad returns gradient inputs for a point, with
// x, y and z seeded as the identity directions and
// every other variable treated as a constant.
func SeedGrad(x, y, z float32, rest ...float32) []Grad {
	out := make([]Grad, 3, 3+len(rest))
	out[0] = Grad{V: x, Dx: 1}
	out[1] = Grad{V: y, Dy: 1}
	out[2] = Grad{V: z, Dz: 1}
	for _, v := range rest {
		out = append(out, Grad{V: v})
	}
	return out
}
