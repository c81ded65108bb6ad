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

// gradTemplates keep [v, dx, dy, dz] as four
// singles per register. Most rules compute the
// derivative lanes with packed instructions and
// then patch the value lane with a scalar one.
type gradTemplates struct{}

func (gradTemplates) stride() int32      { return 16 }
func (gradTemplates) width() amd64.Width { return amd64.PS }

func (gradTemplates) konst(c *compiler, d amd64.Xmm, imm float64) {
	c.asm.Load(amd64.PS, d, c.f32x4(float32(imm), 0, 0, 0))
}

// bcast copies the value lane of src to every lane of dst
func (c *compiler) bcast(dst, src amd64.Xmm) {
	c.asm.Movaps(dst, src)
	c.asm.Shuf(amd64.PS, dst, dst, 0)
}

func (gradTemplates) op(c *compiler, pos int, in *tape.Instr, d, a, b amd64.Xmm) bool {
	const w = amd64.PS
	signs := func() amd64.Mem { return c.mask32(sign32, sign32, sign32, sign32) }
	switch in.Op {
	case graph.OpNeg:
		c.asm.Movaps(d, a)
		c.asm.BitMem(w, amd64.Xor, d, signs())
	case graph.OpAbs:
		c.bcast(tmp0, a)
		c.asm.Bit(w, amd64.Xor, tmp1, tmp1)
		c.asm.Cmp(w, amd64.CmpLT, tmp0, tmp1)
		c.asm.BitMem(w, amd64.And, tmp0, signs())
		c.asm.Movaps(d, a)
		c.asm.Bit(w, amd64.Xor, d, tmp0)
	case graph.OpAdd:
		c.binop(w, amd64.Add, d, a, b)
	case graph.OpSub:
		c.binop(w, amd64.Sub, d, a, b)
	case graph.OpMul:
		c.bcast(tmp0, b)
		c.binop(w, amd64.Mul, d, a, tmp0) // a' * bv
		c.bcast(tmp1, a)
		c.asm.Op(w, amd64.Mul, tmp1, b) // av * b'
		c.asm.Op(w, amd64.Add, d, tmp1)
		c.asm.Movaps(tmp0, a)
		c.asm.Op(amd64.SS, amd64.Mul, tmp0, b)
		c.asm.MovLow(amd64.SS, d, tmp0)
	case graph.OpDiv:
		c.bcast(tmp0, b)
		c.binop(w, amd64.Mul, d, a, tmp0) // a' * bv
		c.bcast(tmp1, a)
		c.asm.Op(w, amd64.Mul, tmp1, b) // av * b'
		c.asm.Op(w, amd64.Sub, d, tmp1)
		c.asm.Op(w, amd64.Mul, tmp0, tmp0)
		c.asm.Op(w, amd64.Div, d, tmp0)
		c.asm.Movaps(tmp0, a)
		c.asm.Op(amd64.SS, amd64.Div, tmp0, b)
		c.asm.MovLow(amd64.SS, d, tmp0)
	case graph.OpRecip:
		c.bcast(tmp0, a)
		c.asm.Op(w, amd64.Mul, tmp0, tmp0)
		c.asm.Movaps(d, a)
		c.asm.BitMem(w, amd64.Xor, d, signs())
		c.asm.Op(w, amd64.Div, d, tmp0)
		c.asm.Load(amd64.SS, tmp1, c.f32x4(1, 0, 0, 0))
		c.asm.Op(amd64.SS, amd64.Div, tmp1, a)
		c.asm.MovLow(amd64.SS, d, tmp1)
	case graph.OpSqrt:
		c.asm.Op(amd64.SS, amd64.Sqrt, tmp1, a)
		c.bcast(tmp0, tmp1)
		c.asm.Op(w, amd64.Add, tmp0, tmp0)
		c.binop(w, amd64.Div, d, a, tmp0)
		c.asm.MovLow(amd64.SS, d, tmp1)
	case graph.OpSquare:
		c.bcast(tmp0, a)
		c.asm.Op(w, amd64.Add, tmp0, tmp0)
		c.binop(w, amd64.Mul, d, a, tmp0)
		c.asm.Movaps(tmp1, a)
		c.asm.Op(amd64.SS, amd64.Mul, tmp1, a)
		c.asm.MovLow(amd64.SS, d, tmp1)
	case graph.OpMin, graph.OpMax:
		c.bcast(tmp0, a)
		c.bcast(tmp1, b)
		if in.Op == graph.OpMin {
			c.asm.Movaps(tmp2, tmp0)
			c.asm.Cmp(w, amd64.CmpLT, tmp2, tmp1)
		} else {
			c.asm.Movaps(tmp2, tmp1)
			c.asm.Cmp(w, amd64.CmpLT, tmp2, tmp0)
		}
		c.asm.Movaps(d, a)
		c.asm.Bit(w, amd64.And, d, tmp2)
		c.asm.Bit(w, amd64.Andn, tmp2, b)
		c.asm.Bit(w, amd64.Or, d, tmp2)
		c.asm.Cmp(w, amd64.CmpUnord, tmp0, tmp1)
		c.asm.Bit(w, amd64.Or, d, tmp0)
	case graph.OpFloor, graph.OpCeil, graph.OpRound:
		if !c.round(amd64.SS, in.Op, d, a) {
			return false
		}
		c.asm.BitMem(w, amd64.And, d, c.mask32(^uint32(0), 0, 0, 0))
	default:
		return false
	}
	return true
}
