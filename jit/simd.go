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
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/internal/amd64"
	"github.com/shapevm/shapevm/tape"
)

// simdTemplates evaluate four independent float32
// lanes with packed single instructions.
type simdTemplates struct{}

func (simdTemplates) stride() int32      { return 16 }
func (simdTemplates) width() amd64.Width { return amd64.PS }

func (simdTemplates) konst(c *compiler, d amd64.Xmm, imm float64) {
	f := float32(imm)
	c.asm.Load(amd64.PS, d, c.f32x4(f, f, f, f))
}

func (simdTemplates) op(c *compiler, pos int, in *tape.Instr, d, a, b amd64.Xmm) bool {
	const w = amd64.PS
	switch in.Op {
	case graph.OpNeg:
		c.asm.Movaps(d, a)
		c.asm.BitMem(w, amd64.Xor, d, c.mask32(sign32, sign32, sign32, sign32))
	case graph.OpAbs:
		const m = ^uint32(sign32)
		c.asm.Movaps(d, a)
		c.asm.BitMem(w, amd64.And, d, c.mask32(m, m, m, m))
	case graph.OpRecip:
		c.asm.Load(w, d, c.f32x4(1, 1, 1, 1))
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
