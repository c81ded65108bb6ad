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

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/internal/amd64"
	"github.com/shapevm/shapevm/tape"
)

// templates generates the code for one mode.
//
// op emits d = in.Op(a, b) and returns false if the
// operator has no compiled form. It may write d and
// the temporaries tmp0-tmp2, and nothing else: a and
// b may hold values that are still live. d is never
// the same register as a or b.
type templates interface {
	// stride is the size of one input or output
	stride() int32
	// width is the width of a full value
	width() amd64.Width
	konst(c *compiler, d amd64.Xmm, imm float64)
	op(c *compiler, pos int, in *tape.Instr, d, a, b amd64.Xmm) bool
}

type compiler struct {
	asm   amd64.Asm
	t     *tape.Tape
	asg   *tape.Assignment
	mode  eval.Mode
	level Level
	tm    templates
}

func (c *compiler) spill(loc tape.Loc) amd64.Mem {
	return amd64.Ptr(amd64.RDX, int32(loc.Index()*tape.SpillSize))
}

// operand returns the register holding slot,
// loading it into scratch if it was spilled
func (c *compiler) operand(slot uint32, scratch amd64.Xmm) amd64.Xmm {
	loc := c.asg.Loc[slot]
	if !loc.IsSpill() {
		return amd64.Xmm(loc.Index())
	}
	c.asm.Load(c.tm.width(), scratch, c.spill(loc))
	return scratch
}

func (c *compiler) compile() error {
	w := c.tm.width()
	stride := c.tm.stride()
	for i := range c.t.Instrs {
		in := &c.t.Instrs[i]
		loc := c.asg.Loc[i]
		d := spillD
		if !loc.IsSpill() {
			d = amd64.Xmm(loc.Index())
		}
		switch in.Op {
		case graph.OpInput:
			c.asm.Load(w, d, amd64.Ptr(amd64.RDI, int32(in.Var)*stride))
		case graph.OpConst:
			c.tm.konst(c, d, in.Imm)
		default:
			a := c.operand(in.Args[0], spillA)
			b := a
			if in.Op.Arity() == 2 {
				b = c.operand(in.Args[1], spillB)
			}
			if !c.tm.op(c, i, in, d, a, b) {
				warnf("jit: %s mode has no template for %s", c.mode, in.Op)
				return &UnsupportedOpError{Mode: c.mode, Op: in.Op, Pos: i}
			}
		}
		if loc.IsSpill() {
			c.asm.Store(w, c.spill(loc), d)
		}
	}
	for j, o := range c.t.Outputs {
		r := c.operand(o, spillA)
		c.asm.Store(w, amd64.Ptr(amd64.RSI, int32(j)*stride), r)
	}
	c.asm.Ret()
	return nil
}

// helpers shared by the templates

func packed(w amd64.Width) amd64.Width {
	switch w {
	case amd64.SS:
		return amd64.PS
	case amd64.SD:
		return amd64.PD
	}
	return w
}

// binop emits d = a op b
func (c *compiler) binop(w amd64.Width, op amd64.Arith, d, a, b amd64.Xmm) {
	c.asm.Movaps(d, a)
	c.asm.Op(w, op, d, b)
}

// minmax emits d = a op b for op Min or Max, with a
// NaN in either operand producing NaN
func (c *compiler) minmax(w amd64.Width, op amd64.Arith, d, a, b amd64.Xmm) {
	c.binop(w, op, d, a, b)
	c.asm.Movaps(tmp0, a)
	c.asm.Cmp(w, amd64.CmpUnord, tmp0, b)
	c.asm.Bit(packed(w), amd64.Or, d, tmp0)
}

// round emits a rounding instruction,
// if the level allows it
func (c *compiler) round(w amd64.Width, op graph.Op, d, a amd64.Xmm) bool {
	if c.level < LevelSSE41 {
		return false
	}
	var mode uint8
	switch op {
	case graph.OpFloor:
		mode = amd64.RoundFloor
	case graph.OpCeil:
		mode = amd64.RoundCeil
	default:
		mode = amd64.RoundNearest
	}
	c.asm.Round(w, mode, d, a)
	return true
}

const (
	sign64 = 1 << 63
	sign32 = 1 << 31
)

func (c *compiler) f64x2(lo, hi float64) amd64.Mem {
	return c.asm.ConstU64(math.Float64bits(lo), math.Float64bits(hi))
}

func (c *compiler) f32x4(x0, x1, x2, x3 float32) amd64.Mem {
	f := math.Float32bits
	return c.asm.ConstU32(f(x0), f(x1), f(x2), f(x3))
}

func (c *compiler) mask64(lo, hi uint64) amd64.Mem { return c.asm.ConstU64(lo, hi) }

func (c *compiler) mask32(x0, x1, x2, x3 uint32) amd64.Mem {
	return c.asm.ConstU32(x0, x1, x2, x3)
}
