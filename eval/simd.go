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
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/tape"
)

type simdFunc struct {
	t *tape.Tape
}

// NewSimd4 returns an interpreter that evaluates
// t at four float32 points per call.
func NewSimd4(t *tape.Tape) Func[Lanes] { return &simdFunc{t: t} }

func (f *simdFunc) Tape() *tape.Tape { return f.t }
func (f *simdFunc) Mode() Mode       { return ModeSimd4 }
func (f *simdFunc) Backend() string  { return BackendInterp }

func (f *simdFunc) NewEvaluator() Evaluator[Lanes] {
	return &simdEval{t: f.t, slots: make([]Lanes, f.t.Len())}
}

type simdEval struct {
	t     *tape.Tape
	slots []Lanes
}

func (e *simdEval) Eval(vars, out []Lanes) error {
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
			c := float32(in.Imm)
			s[i] = Lanes{c, c, c, c}
		default:
			a := &s[in.Args[0]]
			var b *Lanes
			if in.Op.Arity() == 2 {
				b = &s[in.Args[1]]
			} else {
				b = a
			}
			for l := range s[i] {
				s[i][l] = scalar(in.Op, a[l], b[l])
			}
		}
	}
	for i, o := range e.t.Outputs {
		out[i] = s[o]
	}
	return nil
}

// SplitLanes packs four points into simd4 inputs.
// Each point must have one coordinate per variable.
func SplitLanes(points [4][]float32) []Lanes {
	out := make([]Lanes, len(points[0]))
	for v := range out {
		for l := range points {
			out[v][l] = points[l][v]
		}
	}
	return out
}
