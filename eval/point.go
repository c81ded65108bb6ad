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

// BackendInterp is the Backend name of interpreted functions.
const BackendInterp = "interp"

type pointFunc struct {
	t *tape.Tape
}

// NewPoint returns an interpreter that evaluates
// t at single float64 points.
func NewPoint(t *tape.Tape) Func[float64] { return &pointFunc{t: t} }

func (f *pointFunc) Tape() *tape.Tape { return f.t }
func (f *pointFunc) Mode() Mode       { return ModePoint }
func (f *pointFunc) Backend() string  { return BackendInterp }

func (f *pointFunc) NewEvaluator() Evaluator[float64] {
	return &pointEval{t: f.t, slots: make([]float64, f.t.Len())}
}

type pointEval struct {
	t     *tape.Tape
	slots []float64
}

func (e *pointEval) Eval(vars, out []float64) error {
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
			s[i] = in.Imm
		default:
			var b float64
			if in.Op.Arity() == 2 {
				b = s[in.Args[1]]
			}
			s[i] = scalar(in.Op, s[in.Args[0]], b)
		}
	}
	for i, o := range e.t.Outputs {
		out[i] = s[o]
	}
	return nil
}
