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
	"math"

	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/tape"
)

type intervalFunc struct {
	t *tape.Tape
}

// NewInterval returns an interpreter that evaluates
// t over boxes of inputs. The evaluators it returns
// implement ChoiceEvaluator.
func NewInterval(t *tape.Tape) Func[Interval] { return &intervalFunc{t: t} }

func (f *intervalFunc) Tape() *tape.Tape { return f.t }
func (f *intervalFunc) Mode() Mode       { return ModeInterval }
func (f *intervalFunc) Backend() string  { return BackendInterp }

func (f *intervalFunc) NewEvaluator() Evaluator[Interval] {
	return &intervalEval{
		t:       f.t,
		slots:   make([]Interval, f.t.Len()),
		choices: make([]tape.Choice, f.t.Len()),
	}
}

type intervalEval struct {
	t       *tape.Tape
	slots   []Interval
	choices []tape.Choice
}

func (e *intervalEval) Choices() []tape.Choice { return e.choices }

func (e *intervalEval) Eval(vars, out []Interval) error {
	if err := CheckArity(e.t, vars, out); err != nil {
		return err
	}
	s := e.slots
	for i := range e.t.Instrs {
		in := &e.t.Instrs[i]
		switch in.Op {
		case graph.OpInput:
			s[i] = vars[in.Var]
		case graph.OpConst:
			s[i] = Splat(in.Imm)
		default:
			a := s[in.Args[0]]
			var b Interval
			if in.Op.Arity() == 2 {
				b = s[in.Args[1]]
			}
			s[i], e.choices[i] = intervalOp(in.Op, a, b)
		}
	}
	for i, o := range e.t.Outputs {
		out[i] = s[o]
	}
	return nil
}

var (
	nanInterval = Interval{math.NaN(), math.NaN()}
	everything  = Interval{math.Inf(-1), math.Inf(1)}
)

// intervalOp evaluates a non-leaf operator. The second
// result is only meaningful for choice operators.
//
// The operators with compiled templates (arithmetic,
// min, max, rounding, abs, sqrt, recip) are written
// to produce exactly the bits the packed-double code
// produces, including the order of min/max operands.
func intervalOp(op graph.Op, a, b Interval) (Interval, tape.Choice) {
	switch op {
	case graph.OpNeg:
		return Interval{-a.Hi, -a.Lo}, 0
	case graph.OpAbs:
		return iabs(a), 0
	case graph.OpRecip:
		return irecip(a), 0
	case graph.OpSqrt:
		lo := math.Sqrt(selmax(0, a.Lo))
		hi := math.Sqrt(selmax(0, a.Hi))
		if a.Hi < 0 {
			return nanInterval, 0
		}
		return Interval{lo, hi}, 0
	case graph.OpSquare:
		m := iabs(a)
		return Interval{m.Lo * m.Lo, m.Hi * m.Hi}, 0
	case graph.OpFloor:
		return Interval{math.Floor(a.Lo), math.Floor(a.Hi)}, 0
	case graph.OpCeil:
		return Interval{math.Ceil(a.Lo), math.Ceil(a.Hi)}, 0
	case graph.OpRound:
		return Interval{math.RoundToEven(a.Lo), math.RoundToEven(a.Hi)}, 0
	case graph.OpSin:
		return periodic(a, math.Sin, math.Pi/2, -math.Pi/2), 0
	case graph.OpCos:
		return periodic(a, math.Cos, 0, math.Pi), 0
	case graph.OpTan:
		return itan(a), 0
	case graph.OpAsin:
		if a.HasNaN() || a.Hi < -1 || a.Lo > 1 {
			return nanInterval, 0
		}
		return Interval{math.Asin(math.Max(a.Lo, -1)), math.Asin(math.Min(a.Hi, 1))}, 0
	case graph.OpAcos:
		if a.HasNaN() || a.Hi < -1 || a.Lo > 1 {
			return nanInterval, 0
		}
		return Interval{math.Acos(math.Min(a.Hi, 1)), math.Acos(math.Max(a.Lo, -1))}, 0
	case graph.OpAtan:
		return Interval{math.Atan(a.Lo), math.Atan(a.Hi)}, 0
	case graph.OpExp:
		return Interval{math.Exp(a.Lo), math.Exp(a.Hi)}, 0
	case graph.OpLn:
		switch {
		case a.HasNaN() || a.Hi < 0:
			return nanInterval, 0
		case a.Lo <= 0:
			return Interval{math.Inf(-1), math.Log(a.Hi)}, 0
		}
		return Interval{math.Log(a.Lo), math.Log(a.Hi)}, 0
	case graph.OpNot:
		switch {
		case a.Lo == 0 && a.Hi == 0:
			return Splat(1), 0
		case a.Lo > 0 || a.Hi < 0:
			return Splat(0), 0
		}
		return Interval{0, 1}, 0
	case graph.OpAdd:
		return Interval{a.Lo + b.Lo, a.Hi + b.Hi}, 0
	case graph.OpSub:
		return Interval{a.Lo + -b.Hi, a.Hi + -b.Lo}, 0
	case graph.OpMul:
		p := Interval{a.Lo * b.Lo, a.Hi * b.Hi}
		q := Interval{a.Lo * b.Hi, a.Hi * b.Lo}
		return hull4(p, q), 0
	case graph.OpDiv:
		if b.Lo <= 0 && 0 <= b.Hi {
			return everything, 0
		}
		p := Interval{a.Lo / b.Lo, a.Hi / b.Hi}
		q := Interval{a.Lo / b.Hi, a.Hi / b.Lo}
		return hull4(p, q), 0
	case graph.OpMin:
		c := tape.ChoiceBoth
		if a.Hi < b.Lo {
			c = tape.ChoiceLeft
		} else if b.Hi < a.Lo {
			c = tape.ChoiceRight
		}
		return Interval{fmin(a.Lo, b.Lo), fmin(a.Hi, b.Hi)}, c
	case graph.OpMax:
		c := tape.ChoiceBoth
		if b.Hi < a.Lo {
			c = tape.ChoiceLeft
		} else if a.Hi < b.Lo {
			c = tape.ChoiceRight
		}
		return Interval{fmax(a.Lo, b.Lo), fmax(a.Hi, b.Hi)}, c
	case graph.OpMod:
		return imod(a, b), 0
	case graph.OpAtan2:
		return iatan2(a, b), 0
	case graph.OpCompare:
		switch {
		case a.HasNaN() || b.HasNaN():
			return nanInterval, 0
		case a.Hi < b.Lo:
			return Splat(-1), 0
		case a.Lo > b.Hi:
			return Splat(1), 0
		}
		r := Interval{0, 0}
		if a.Lo < b.Hi {
			r.Lo = -1
		}
		if a.Hi > b.Lo {
			r.Hi = 1
		}
		return r, 0
	case graph.OpAnd:
		switch {
		case a.HasNaN():
			return hull(a, b), tape.ChoiceBoth
		case a.Lo == 0 && a.Hi == 0:
			return a, tape.ChoiceLeft
		case a.Lo > 0 || a.Hi < 0:
			return b, tape.ChoiceRight
		}
		return hull(b, Splat(0)), tape.ChoiceBoth
	case graph.OpOr:
		switch {
		case a.HasNaN():
			return hull(a, b), tape.ChoiceBoth
		case a.Lo > 0 || a.Hi < 0:
			return a, tape.ChoiceLeft
		case a.Lo == 0 && a.Hi == 0:
			return b, tape.ChoiceRight
		}
		return hull(a, b), tape.ChoiceBoth
	case graph.OpInput, graph.OpConst, graph.OpInvalid:
	}
	panic(fmt.Sprintf("eval: unexpected op %s", op))
}

// iabs computes max(max(a, -swap(a)), 0) lane-wise
func iabs(a Interval) Interval {
	return Interval{
		selmax(selmax(a.Lo, -a.Hi), 0),
		selmax(selmax(a.Hi, -a.Lo), 0),
	}
}

func irecip(a Interval) Interval {
	if a.Lo <= 0 && 0 <= a.Hi {
		return everything
	}
	p := Interval{1 / a.Lo, 1 / a.Hi}
	return Interval{sel(p.Lo, p.Hi), selmax(p.Hi, p.Lo)}
}

// hull4 returns the hull of the four products
// (or quotients) p.Lo, p.Hi, q.Lo and q.Hi. An
// indeterminate product (0 * Inf, Inf / Inf) makes
// the result unbounded.
func hull4(p, q Interval) Interval {
	if p.HasNaN() || q.HasNaN() {
		return everything
	}
	m0, m1 := sel(p.Lo, q.Lo), sel(p.Hi, q.Hi)
	x0, x1 := selmax(p.Lo, q.Lo), selmax(p.Hi, q.Hi)
	return Interval{sel(m0, m1), selmax(x0, x1)}
}

func hull(a, b Interval) Interval {
	return Interval{fmin(a.Lo, b.Lo), fmax(a.Hi, b.Hi)}
}

// hasPhase returns whether c + 2kπ lies in [lo, hi]
// for some integer k
func hasPhase(lo, hi, c float64) bool {
	k := math.Ceil((lo - c) / (2 * math.Pi))
	return c+k*2*math.Pi <= hi
}

// periodic bounds a 2π-periodic function with range
// [-1, 1] whose maximum is at maxAt and minimum at minAt
func periodic(a Interval, fn func(float64) float64, maxAt, minAt float64) Interval {
	if a.HasNaN() {
		return nanInterval
	}
	if math.IsInf(a.Lo, 0) || math.IsInf(a.Hi, 0) || a.Hi-a.Lo >= 2*math.Pi {
		return Interval{-1, 1}
	}
	f0, f1 := fn(a.Lo), fn(a.Hi)
	r := Interval{math.Min(f0, f1), math.Max(f0, f1)}
	if hasPhase(a.Lo, a.Hi, maxAt) {
		r.Hi = 1
	}
	if hasPhase(a.Lo, a.Hi, minAt) {
		r.Lo = -1
	}
	return r
}

func itan(a Interval) Interval {
	if a.HasNaN() {
		return nanInterval
	}
	if math.IsInf(a.Lo, 0) || math.IsInf(a.Hi, 0) || a.Hi-a.Lo >= math.Pi {
		return everything
	}
	// poles at π/2 + kπ
	k := math.Ceil((a.Lo - math.Pi/2) / math.Pi)
	if math.Pi/2+k*math.Pi <= a.Hi {
		return everything
	}
	return Interval{math.Tan(a.Lo), math.Tan(a.Hi)}
}

func imod(a, b Interval) Interval {
	if a.HasNaN() || b.HasNaN() {
		return nanInterval
	}
	m := math.Max(math.Abs(b.Lo), math.Abs(b.Hi))
	if b.Lo == b.Hi && m != 0 && !math.IsInf(m, 0) &&
		!math.IsInf(a.Lo, 0) && !math.IsInf(a.Hi, 0) &&
		math.Floor(a.Lo/m) == math.Floor(a.Hi/m) {
		// a lies within a single period, where
		// the remainder is increasing
		return Interval{modEuclid(a.Lo, b.Lo), modEuclid(a.Hi, b.Lo)}
	}
	return Interval{0, m}
}

// iatan2 bounds atan2(y, x)
func iatan2(y, x Interval) Interval {
	if y.HasNaN() || x.HasNaN() {
		return nanInterval
	}
	if x.Lo > 0 {
		// monotonic in each argument on the right
		// half-plane, so the extremes are at corners
		c := [4]float64{
			math.Atan2(y.Lo, x.Lo), math.Atan2(y.Lo, x.Hi),
			math.Atan2(y.Hi, x.Lo), math.Atan2(y.Hi, x.Hi),
		}
		r := Interval{c[0], c[0]}
		for _, v := range c[1:] {
			r.Lo = math.Min(r.Lo, v)
			r.Hi = math.Max(r.Hi, v)
		}
		return r
	}
	return Interval{-math.Pi, math.Pi}
}
