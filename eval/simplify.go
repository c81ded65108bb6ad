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

package eval

import (
	"fmt"

	"github.com/shapevm/shapevm/tape"
)

// NewInterp returns the interpreter for the mode of T.
func NewInterp[T Value](t *tape.Tape) Func[T] {
	var f any
	switch ModeOf[T]() {
	case ModePoint:
		f = NewPoint(t)
	case ModeInterval:
		f = NewInterval(t)
	case ModeSimd4:
		f = NewSimd4(t)
	default:
		f = NewGrad(t)
	}
	return f.(Func[T])
}

// Choices evaluates t over region with the interval
// interpreter and returns the value of each output
// together with one choice per tape position.
func Choices(t *tape.Tape, region []Interval) ([]Interval, []tape.Choice, error) {
	ev := NewInterval(t).NewEvaluator()
	out := make([]Interval, len(t.Outputs))
	if err := ev.Eval(region, out); err != nil {
		return nil, nil, err
	}
	c := ev.(ChoiceEvaluator).Choices()
	return out, c, nil
}

// Simplify returns a tape equivalent to t for every
// point inside region, with every min, max, and, or
// whose outcome the region determines replaced by
// the winning operand. The returned choices are the
// ones that produced the new tape; they identify it
// with region (see VerifyChoices).
//
// The result of simplifying the returned tape again
// over the same region is the same tape.
//
// Intervals carry no NaN flag, so a choice is resolved
// even when the discarded operand is NaN at some point
// of region. There the simplified tape yields the
// kept operand while t yields NaN.
func Simplify(t *tape.Tape, region []Interval) (*tape.Tape, []tape.Choice, error) {
	_, choices, err := Choices(t, region)
	if err != nil {
		return nil, nil, err
	}
	st, err := tape.Simplify(t, choices)
	if err != nil {
		return nil, nil, err
	}
	return st, choices, nil
}

// ChoiceMismatchError is returned by VerifyChoices.
type ChoiceMismatchError struct {
	Pos       int
	Got, Want tape.Choice
}

func (c *ChoiceMismatchError) Error() string {
	return fmt.Sprintf("eval: choice at position %d is %s, re-derived %s", c.Pos, c.Want, c.Got)
}

// VerifyChoices re-derives the choices of t over
// region and checks that every resolved choice in
// want is reproduced. A simplified tape is only valid
// for a region if its choices verify.
func VerifyChoices(t *tape.Tape, region []Interval, want []tape.Choice) error {
	_, got, err := Choices(t, region)
	if err != nil {
		return err
	}
	if len(want) != len(got) {
		return fmt.Errorf("eval: %d choices for a tape of %d instructions", len(want), len(got))
	}
	for i := range want {
		if want[i].Resolved() && got[i] != want[i] {
			return &ChoiceMismatchError{Pos: i, Got: got[i], Want: want[i]}
		}
	}
	return nil
}
