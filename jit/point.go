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

package jit

import (
	"math"

	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/internal/amd64"
	"github.com/shapevm/shapevm/tape"
)

// pointTemplates evaluate one float64 per register
// (the low lane) with scalar double instructions.
type pointTemplates struct{}

func (pointTemplates) stride() int32      { return 8 }
func (pointTemplates) width() amd64.Width { return amd64.SD }

func (pointTemplates) konst(c *compiler, d amd64.Xmm, imm float64) {
	c.asm.Load(amd64.SD, d, c.asm.ConstU64(math.Float64bits(imm), 0))
}

func (pointTemplates) op(c *compiler, pos int, in *tape.Instr, d, a, b amd64.Xmm) bool {
	const w = amd64.SD
	switch in.Op {
	case graph.OpNeg:
		c.asm.Movaps(d, a)
		c.asm.BitMem(amd64.PD, amd64.Xor, d, c.mask64(sign64, sign64))
	case graph.OpAbs:
		c.asm.Movaps(d, a)
		c.asm.BitMem(amd64.PD, amd64.And, d, c.mask64(^uint64(sign64), ^uint64(sign64)))
	case graph.OpRecip:
		c.asm.Load(w, d, c.f64x2(1, 1))
		c.asm.Op(w, amd64.Div, d, a)
	case graph.OpSqrt:
		c.asm.Op(w, amd64.Sqrt, d, a)
	case graph.OpSquare:
		c.binop(w, amd64.Mul, d, a, a)
	case graph.OpFloor, graph.OpCeil, graph.OpRound:
		return c.round(w, in.Op, d, a)
	case graph.OpAdd:
		c.binop(w, amd64.Add, d, a, b)
	case graph.OpSub:
		c.binop(w, amd64.Sub, d, a, b)
	case graph.OpMul:
		c.binop(w, amd64.Mul, d, a, b)
	case graph.OpDiv:
		c.binop(w, amd64.Div, d, a, b)
	case graph.OpMin:
		c.minmax(w, amd64.Min, d, a, b)
	case graph.OpMax:
		c.minmax(w, amd64.Max, d, a, b)
	default:
		return false
	}
	return true
}
