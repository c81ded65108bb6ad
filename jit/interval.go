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

// intervalTemplates keep one interval per register
// as two doubles, [lo, hi]. Choice operators also
// write one tape.Choice byte per tape position
// to the array in RCX.
type intervalTemplates struct{}

func (intervalTemplates) stride() int32      { return 16 }
func (intervalTemplates) width() amd64.Width { return amd64.PD }

func (intervalTemplates) konst(c *compiler, d amd64.Xmm, imm float64) {
	c.asm.Load(amd64.PD, d, c.f64x2(imm, imm))
}

func (intervalTemplates) op(c *compiler, pos int, in *tape.Instr, d, a, b amd64.Xmm) bool {
	const w = amd64.PD
	switch in.Op {
	case graph.OpNeg:
		c.asm.Movaps(d, a)
		c.asm.Shuf(w, d, d, 1)
		c.asm.BitMem(w, amd64.Xor, d, c.mask64(sign64, sign64))
	case graph.OpAbs:
		c.iabs(d, a)
	case graph.OpSquare:
		c.iabs(d, a)
		c.asm.Op(w, amd64.Mul, d, d)
	case graph.OpSqrt:
		c.asm.Bit(w, amd64.Xor, d, d)
		c.asm.Op(w, amd64.Max, d, a)
		c.asm.Op(w, amd64.Sqrt, d, d)
		// NaN if hi < 0
		c.asm.Movaps(tmp0, a)
		c.asm.Shuf(w, tmp0, tmp0, 3)
		c.asm.Bit(w, amd64.Xor, tmp1, tmp1)
		c.asm.Cmp(w, amd64.CmpLT, tmp0, tmp1)
		c.asm.Bit(w, amd64.Or, d, tmp0)
	case graph.OpRecip:
		c.asm.Load(w, d, c.f64x2(1, 1))
		c.asm.Op(w, amd64.Div, d, a)
		c.asm.Movaps(tmp0, d)
		c.asm.Shuf(w, tmp0, tmp0, 1)
		c.asm.Movaps(tmp1, d)
		c.asm.Op(w, amd64.Min, tmp1, tmp0)
		c.asm.Op(w, amd64.Max, d, tmp0)
		c.asm.MovLow(amd64.SD, d, tmp1)
		c.straddle(a)
		c.unbounded(d, tmp0)
	case graph.OpFloor, graph.OpCeil, graph.OpRound:
		return c.round(w, in.Op, d, a)
	case graph.OpAdd:
		c.binop(w, amd64.Add, d, a, b)
	case graph.OpSub:
		// [a.lo + -b.hi, a.hi + -b.lo]
		c.asm.Movaps(tmp0, b)
		c.asm.Shuf(w, tmp0, tmp0, 1)
		c.asm.BitMem(w, amd64.Xor, tmp0, c.mask64(sign64, sign64))
		c.binop(w, amd64.Add, d, a, tmp0)
	case graph.OpMul:
		c.ihull(amd64.Mul, d, a, b)
	case graph.OpDiv:
		c.ihull(amd64.Div, d, a, b)
	case graph.OpMin:
		c.minmax(w, amd64.Min, d, a, b)
		c.choice(pos, a, b)
	case graph.OpMax:
		c.minmax(w, amd64.Max, d, a, b)
		c.choice(pos, b, a)
	default:
		return false
	}
	return true
}

// iabs emits d = max(max(a, -swap(a)), 0)
func (c *compiler) iabs(d, a amd64.Xmm) {
	const w = amd64.PD
	c.asm.Movaps(tmp0, a)
	c.asm.Shuf(w, tmp0, tmp0, 1)
	c.asm.BitMem(w, amd64.Xor, tmp0, c.mask64(sign64, sign64))
	c.asm.Movaps(d, a)
	c.asm.Op(w, amd64.Max, d, tmp0)
	c.asm.Bit(w, amd64.Xor, tmp0, tmp0)
	c.asm.Op(w, amd64.Max, d, tmp0)
}

// straddle sets both lanes of tmp0 to all ones if
// x.lo <= 0 <= x.hi and to zero otherwise; it
// clobbers tmp1
func (c *compiler) straddle(x amd64.Xmm) {
	const w = amd64.PD
	c.asm.Movq(tmp0, x) // [lo, 0]
	c.asm.Movaps(tmp1, x)
	c.asm.BitMem(w, amd64.And, tmp1, c.mask64(0, ^uint64(0))) // [0, hi]
	c.asm.Cmp(w, amd64.CmpLE, tmp0, tmp1)
	c.asm.Movaps(tmp1, tmp0)
	c.asm.Shuf(w, tmp1, tmp1, 1)
	c.asm.Bit(w, amd64.And, tmp0, tmp1)
}

// unbounded replaces d with [-Inf, +Inf] where the
// mask m is set; m is clobbered along with tmp1
func (c *compiler) unbounded(d, m amd64.Xmm) {
	const w = amd64.PD
	c.asm.Movaps(tmp1, m)
	c.asm.BitMem(w, amd64.And, tmp1, c.f64x2(math.Inf(-1), math.Inf(1)))
	c.asm.Bit(w, amd64.Andn, m, d)
	c.asm.Bit(w, amd64.Or, m, tmp1)
	c.asm.Movaps(d, m)
}

// ihull emits the product or quotient of two
// intervals as the hull of the four corners
func (c *compiler) ihull(op amd64.Arith, d, a, b amd64.Xmm) {
	const w = amd64.PD
	c.binop(w, op, d, a, b) // p = [a.lo op b.lo, a.hi op b.hi]
	c.asm.Movaps(tmp0, b)
	c.asm.Shuf(w, tmp0, tmp0, 1)
	c.asm.Movaps(tmp1, a)
	c.asm.Op(w, op, tmp1, tmp0) // q = [a.lo op b.hi, a.hi op b.lo]
	c.asm.Movaps(tmp2, d)
	c.asm.Cmp(w, amd64.CmpUnord, tmp2, tmp1)
	c.asm.Movaps(tmp0, d)
	c.asm.Op(w, amd64.Max, tmp0, tmp1)
	c.asm.Op(w, amd64.Min, d, tmp1)
	c.asm.Movaps(tmp1, d)
	c.asm.Shuf(w, tmp1, tmp1, 1)
	c.asm.Op(amd64.SD, amd64.Min, d, tmp1)
	c.asm.Movaps(tmp1, tmp0)
	c.asm.Shuf(w, tmp1, tmp1, 1)
	c.asm.Op(amd64.SD, amd64.Max, tmp0, tmp1)
	c.asm.Unpcklpd(d, tmp0)

	// unbounded if any corner is NaN or
	// (for division) b contains zero
	c.asm.Movaps(tmp1, tmp2)
	c.asm.Shuf(w, tmp1, tmp1, 1)
	c.asm.Bit(w, amd64.Or, tmp2, tmp1)
	if op == amd64.Div {
		c.straddle(b)
		c.asm.Bit(w, amd64.Or, tmp2, tmp0)
	}
	c.unbounded(d, tmp2)
}

// choice stores the outcome of a min (x=a, y=b)
// or max (x=b, y=a) at choices[pos]: bit 0 is
// set if x.hi < y.lo and bit 1 if y.hi < x.lo,
// and neither becomes tape.ChoiceBoth
func (c *compiler) choice(pos int, x, y amd64.Xmm) {
	const w = amd64.PD
	c.asm.Movaps(tmp0, x)
	c.asm.Unpckhpd(tmp0, y) // [x.hi, y.hi]
	c.asm.Movaps(tmp1, y)
	c.asm.Unpcklpd(tmp1, x) // [y.lo, x.lo]
	c.asm.Cmp(w, amd64.CmpLT, tmp0, tmp1)
	c.asm.Movmskpd(amd64.RAX, tmp0)
	c.asm.MovImm32(amd64.R8, uint32(tape.ChoiceBoth))
	c.asm.Test32(amd64.RAX, amd64.RAX)
	c.asm.Cmovz32(amd64.RAX, amd64.R8)
	c.asm.Store8(amd64.Ptr(amd64.RCX, int32(pos)), amd64.RAX)
}
