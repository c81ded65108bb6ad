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

type gradFunc struct {
	t *tape.Tape
}

// NewGrad returns an interpreter that evaluates t
// together with its partial derivatives using
// forward-mode differentiation.
func NewGrad(t *tape.Tape) Func[Grad] { return &gradFunc{t: t} }

func (f *gradFunc) Tape() *tape.Tape { return f.t }
func (f *gradFunc) Mode() Mode       { return ModeGrad }
func (f *gradFunc) Backend() string  { return BackendInterp }

func (f *gradFunc) NewEvaluator() Evaluator[Grad] {
	return &gradEval{t: f.t, slots: make([]Grad, f.t.Len())}
}

type gradEval struct {
	t     *tape.Tape
	slots []Grad
}

func (e *gradEval) Eval(vars, out []Grad) error {
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
			s[i] = Grad{V: float32(in.Imm)}
		default:
			var b Grad
			if in.Op.Arity() == 2 {
				b = s[in.Args[1]]
			}
			s[i] = gradOp(in.Op, s[in.Args[0]], b)
		}
	}
	for i, o := range e.t.Outputs {
		out[i] = s[o]
	}
	return nil
}

// scale returns the derivatives of g multiplied
// by k, with value v
func (g Grad) scale(v, k float32) Grad {
	return Grad{V: v, Dx: g.Dx * k, Dy: g.Dy * k, Dz: g.Dz * k}
}

func (g Grad) neg() Grad { return Grad{-g.V, -g.Dx, -g.Dy, -g.Dz} }

func constGrad(v float32) Grad { return Grad{V: v} }

func nanGrad() Grad {
	n := float32(math.NaN())
	return Grad{n, n, n, n}
}

func f64(f float32) float64 { return float64(f) }

// gradOp evaluates a non-leaf operator. The rules for
// operators with compiled templates keep the operand
// order of the packed-single code so both round alike.
func gradOp(op graph.Op, a, b Grad) Grad {
	switch op {
	case graph.OpNeg:
		return a.neg()
	case graph.OpAbs:
		if a.V < 0 {
			return a.neg()
		}
		return a
	case graph.OpRecip:
		sq := a.V * a.V
		return Grad{1 / a.V, -a.Dx / sq, -a.Dy / sq, -a.Dz / sq}
	case graph.OpSqrt:
		v := float32(math.Sqrt(f64(a.V)))
		two := v + v
		return Grad{v, a.Dx / two, a.Dy / two, a.Dz / two}
	case graph.OpSquare:
		return a.scale(a.V*a.V, a.V+a.V)
	case graph.OpFloor:
		return constGrad(float32(math.Floor(f64(a.V))))
	case graph.OpCeil:
		return constGrad(float32(math.Ceil(f64(a.V))))
	case graph.OpRound:
		return constGrad(float32(math.RoundToEven(f64(a.V))))
	case graph.OpSin:
		return a.scale(float32(math.Sin(f64(a.V))), float32(math.Cos(f64(a.V))))
	case graph.OpCos:
		return a.scale(float32(math.Cos(f64(a.V))), float32(-math.Sin(f64(a.V))))
	case graph.OpTan:
		c := math.Cos(f64(a.V))
		return a.scale(float32(math.Tan(f64(a.V))), float32(1/(c*c)))
	case graph.OpAsin:
		v := f64(a.V)
		return a.scale(float32(math.Asin(v)), float32(1/math.Sqrt(1-v*v)))
	case graph.OpAcos:
		v := f64(a.V)
		return a.scale(float32(math.Acos(v)), float32(-1/math.Sqrt(1-v*v)))
	case graph.OpAtan:
		v := f64(a.V)
		return a.scale(float32(math.Atan(v)), float32(1/(1+v*v)))
	case graph.OpExp:
		v := float32(math.Exp(f64(a.V)))
		return a.scale(v, v)
	case graph.OpLn:
		return a.scale(float32(math.Log(f64(a.V))), 1/a.V)
	case graph.OpNot:
		return constGrad(not(a.V))
	case graph.OpAdd:
		return Grad{a.V + b.V, a.Dx + b.Dx, a.Dy + b.Dy, a.Dz + b.Dz}
	case graph.OpSub:
		return Grad{a.V - b.V, a.Dx - b.Dx, a.Dy - b.Dy, a.Dz - b.Dz}
	case graph.OpMul:
		// round each product on its own, as compiled code does
		return Grad{
			a.V * b.V,
			float32(a.Dx*b.V) + float32(a.V*b.Dx),
			float32(a.Dy*b.V) + float32(a.V*b.Dy),
			float32(a.Dz*b.V) + float32(a.V*b.Dz),
		}
	case graph.OpDiv:
		sq := b.V * b.V
		return Grad{
			a.V / b.V,
			(float32(a.Dx*b.V) - float32(a.V*b.Dx)) / sq,
			(float32(a.Dy*b.V) - float32(a.V*b.Dy)) / sq,
			(float32(a.Dz*b.V) - float32(a.V*b.Dz)) / sq,
		}
	case graph.OpMin:
		if isnan(a.V) || isnan(b.V) {
			return nanGrad()
		}
		if a.V < b.V {
			return a
		}
		return b
	case graph.OpMax:
		if isnan(a.V) || isnan(b.V) {
			return nanGrad()
		}
		if b.V < a.V {
			return a
		}
		return b
	case graph.OpMod:
		v := modEuclid(a.V, b.V)
		q := float32(math.Round(f64((a.V - v) / b.V)))
		return Grad{v, a.Dx - q*b.Dx, a.Dy - q*b.Dy, a.Dz - q*b.Dz}
	case graph.OpAtan2:
		// d atan2(y, x) = (x dy - y dx) / (x² + y²)
		den := a.V*a.V + b.V*b.V
		return Grad{
			float32(math.Atan2(f64(a.V), f64(b.V))),
			(b.V*a.Dx - a.V*b.Dx) / den,
			(b.V*a.Dy - a.V*b.Dy) / den,
			(b.V*a.Dz - a.V*b.Dz) / den,
		}
	case graph.OpCompare:
		return constGrad(compare(a.V, b.V))
	case graph.OpAnd:
		if a.V == 0 {
			return a
		}
		return b
	case graph.OpOr:
		if a.V != 0 {
			return a
		}
		return b
	case graph.OpInput, graph.OpConst, graph.OpInvalid:
	}
	panic(fmt.Sprintf("eval: unexpected op %s", op))
}
