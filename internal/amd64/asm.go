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

// Package amd64 encodes the subset of x86-64
// SSE instructions that the expression compiler
// emits, into a byte buffer followed by a pool of
// 16-byte constants addressed RIP-relative.
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/shapevm/shapevm/ints"
)

// Xmm is an SSE register, X0 through X15.
type Xmm uint8

// Gpr is a general purpose register, in
// hardware encoding order.
type Gpr uint8

const (
	RAX Gpr = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// NumXmm is the number of SSE registers.
const NumXmm = 16

// Width selects the packed/scalar and single/double
// form of an SSE instruction.
type Width uint8

const (
	PS Width = iota // packed single
	PD              // packed double
	SS              // scalar single
	SD              // scalar double
)

func (w Width) prefix() byte {
	switch w {
	case PD:
		return 0x66
	case SS:
		return 0xF3
	case SD:
		return 0xF2
	}
	return 0
}

// Arith is the opcode of a two-operand SSE
// arithmetic instruction.
type Arith uint8

const (
	Sqrt Arith = 0x51
	Add  Arith = 0x58
	Mul  Arith = 0x59
	Sub  Arith = 0x5C
	Min  Arith = 0x5D
	Div  Arith = 0x5E
	Max  Arith = 0x5F
)

// Logic is the opcode of a bitwise SSE instruction.
type Logic uint8

const (
	And  Logic = 0x54
	Andn Logic = 0x55
	Or   Logic = 0x56
	Xor  Logic = 0x57
)

// Comparison predicates for Cmp.
const (
	CmpEQ    = 0
	CmpLT    = 1
	CmpLE    = 2
	CmpUnord = 3
	CmpNEQ   = 4
)

// Rounding modes for Round, with the precision
// exception suppressed.
const (
	RoundNearest = 0x08
	RoundFloor   = 0x09
	RoundCeil    = 0x0A
)

// Mem is a memory operand: either [Base + Disp]
// or an entry of the constant pool.
type Mem struct {
	Base  Gpr
	Disp  int32
	konst int // pool index + 1, or 0
}

// Ptr returns the operand [base + disp].
func Ptr(base Gpr, disp int32) Mem { return Mem{Base: base, Disp: disp} }

func (m Mem) String() string {
	if m.konst > 0 {
		return fmt.Sprintf("[rip+const%d]", m.konst-1)
	}
	return fmt.Sprintf("[r%d%+d]", m.Base, m.Disp)
}

type fixup struct {
	pos   int // offset of the disp32 field
	konst int
}

// Asm accumulates machine code. The zero value
// is ready to use.
type Asm struct {
	buf    []byte
	pool   [][16]byte
	index  map[[16]byte]int
	fixups []fixup
}

// Len returns the number of code bytes emitted so far.
func (a *Asm) Len() int { return len(a.buf) }

// Reset discards all code and constants.
func (a *Asm) Reset() {
	a.buf = a.buf[:0]
	a.pool = a.pool[:0]
	a.fixups = a.fixups[:0]
	clear(a.index)
}

// Const interns a 16-byte constant and returns
// a RIP-relative operand that addresses it.
func (a *Asm) Const(v [16]byte) Mem {
	if a.index == nil {
		a.index = make(map[[16]byte]int)
	}
	k, ok := a.index[v]
	if !ok {
		k = len(a.pool)
		a.pool = append(a.pool, v)
		a.index[v] = k
	}
	return Mem{konst: k + 1}
}

// ConstU64 interns the two quadwords lo, hi.
func (a *Asm) ConstU64(lo, hi uint64) Mem {
	var v [16]byte
	binary.LittleEndian.PutUint64(v[:], lo)
	binary.LittleEndian.PutUint64(v[8:], hi)
	return a.Const(v)
}

// ConstU32 interns four doublewords.
func (a *Asm) ConstU32(x0, x1, x2, x3 uint32) Mem {
	var v [16]byte
	for i, x := range [4]uint32{x0, x1, x2, x3} {
		binary.LittleEndian.PutUint32(v[i*4:], x)
	}
	return a.Const(v)
}

// Finish returns the code followed by the constant
// pool, which starts at the next 16-byte boundary.
// The code must be loaded at a 16-byte aligned
// address for the pool to be aligned.
func (a *Asm) Finish() []byte {
	code := a.buf
	if len(a.pool) > 0 {
		for !ints.IsAligned(uint(len(code)), 16) {
			code = append(code, 0xCC) // int3
		}
	}
	base := len(code)
	for i := range a.pool {
		code = append(code, a.pool[i][:]...)
	}
	for _, f := range a.fixups {
		target := base + f.konst*16
		rel := int32(target - (f.pos + 4))
		binary.LittleEndian.PutUint32(code[f.pos:], uint32(rel))
	}
	a.buf = code
	return code
}

func (a *Asm) byte1(b ...byte) { a.buf = append(a.buf, b...) }

// rex emits a REX prefix if any of its bits
// are needed (or force is set)
func (a *Asm) rex(w bool, reg, index, base uint8, force bool) {
	var r byte = 0x40
	if w {
		r |= 8
	}
	if reg&8 != 0 {
		r |= 4
	}
	if index&8 != 0 {
		r |= 2
	}
	if base&8 != 0 {
		r |= 1
	}
	if r != 0x40 || force {
		a.byte1(r)
	}
}

// rr encodes pfx [REX] opc modrm(reg, rm) with a
// register-direct operand
func (a *Asm) rr(pfx byte, opc []byte, reg, rm uint8) {
	if pfx != 0 {
		a.byte1(pfx)
	}
	a.rex(false, reg, 0, rm, false)
	a.byte1(opc...)
	a.byte1(0xC0 | (reg&7)<<3 | rm&7)
}

// rm encodes pfx [REX] opc modrm(reg, m) with a
// memory operand
func (a *Asm) rm(pfx byte, opc []byte, reg uint8, m Mem) {
	if pfx != 0 {
		a.byte1(pfx)
	}
	if m.konst > 0 {
		a.rex(false, reg, 0, 0, false)
		a.byte1(opc...)
		a.byte1((reg&7)<<3 | 5)
		a.fixups = append(a.fixups, fixup{pos: len(a.buf), konst: m.konst - 1})
		a.byte1(0, 0, 0, 0)
		return
	}
	base := uint8(m.Base)
	a.rex(false, reg, 0, base, false)
	a.byte1(opc...)
	var mod byte
	switch {
	case m.Disp == 0 && base&7 != 5:
		mod = 0x00
	case m.Disp >= -128 && m.Disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}
	a.byte1(mod | (reg&7)<<3 | base&7)
	if base&7 == 4 {
		a.byte1(0x24) // SIB: no index, base=rsp/r12
	}
	switch mod {
	case 0x40:
		a.byte1(byte(int8(m.Disp)))
	case 0x80:
		a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(m.Disp))
	}
}

// Op emits dst = dst op src.
func (a *Asm) Op(w Width, op Arith, dst, src Xmm) {
	a.rr(w.prefix(), []byte{0x0F, byte(op)}, uint8(dst), uint8(src))
}

// Bit emits a bitwise operation; w must be PS or PD.
func (a *Asm) Bit(w Width, op Logic, dst, src Xmm) {
	a.rr(w.prefix(), []byte{0x0F, byte(op)}, uint8(dst), uint8(src))
}

// BitMem is Bit with a memory source, which
// must be 16-byte aligned (a pool constant is).
func (a *Asm) BitMem(w Width, op Logic, dst Xmm, m Mem) {
	a.rm(w.prefix(), []byte{0x0F, byte(op)}, uint8(dst), m)
}

// Cmp emits dst = dst pred src as a lane mask.
func (a *Asm) Cmp(w Width, pred uint8, dst, src Xmm) {
	a.rr(w.prefix(), []byte{0x0F, 0xC2}, uint8(dst), uint8(src))
	a.byte1(pred)
}

// Round emits ROUNDPS/PD/SS/SD (SSE4.1).
func (a *Asm) Round(w Width, mode uint8, dst, src Xmm) {
	opc := [...]byte{PS: 0x08, PD: 0x09, SS: 0x0A, SD: 0x0B}[w]
	a.rr(0x66, []byte{0x0F, 0x3A, opc}, uint8(dst), uint8(src))
	a.byte1(mode)
}

// Movaps copies a whole register.
func (a *Asm) Movaps(dst, src Xmm) {
	if dst != src {
		a.rr(0, []byte{0x0F, 0x28}, uint8(dst), uint8(src))
	}
}

// Load emits an unaligned load of the width
// of w (MOVUPS for packed widths).
func (a *Asm) Load(w Width, dst Xmm, m Mem) {
	if w == PD {
		w = PS
	}
	a.rm(w.prefix(), []byte{0x0F, 0x10}, uint8(dst), m)
}

// Store is the inverse of Load.
func (a *Asm) Store(w Width, m Mem, src Xmm) {
	if w == PD {
		w = PS
	}
	a.rm(w.prefix(), []byte{0x0F, 0x11}, uint8(src), m)
}

// MovLow copies the low lane of src into dst;
// w must be SS or SD.
func (a *Asm) MovLow(w Width, dst, src Xmm) {
	a.rr(w.prefix(), []byte{0x0F, 0x10}, uint8(dst), uint8(src))
}

// Movq copies the low quadword of src to dst
// and zeroes the upper quadword.
func (a *Asm) Movq(dst, src Xmm) {
	a.rr(0xF3, []byte{0x0F, 0x7E}, uint8(dst), uint8(src))
}

// Shuf emits SHUFPS or SHUFPD.
func (a *Asm) Shuf(w Width, dst, src Xmm, imm uint8) {
	a.rr(w.prefix(), []byte{0x0F, 0xC6}, uint8(dst), uint8(src))
	a.byte1(imm)
}

// Unpcklpd emits dst = [dst.lo, src.lo].
func (a *Asm) Unpcklpd(dst, src Xmm) {
	a.rr(0x66, []byte{0x0F, 0x14}, uint8(dst), uint8(src))
}

// Unpckhpd emits dst = [dst.hi, src.hi].
func (a *Asm) Unpckhpd(dst, src Xmm) {
	a.rr(0x66, []byte{0x0F, 0x15}, uint8(dst), uint8(src))
}

// Movmskpd moves the sign bits of src into dst.
func (a *Asm) Movmskpd(dst Gpr, src Xmm) {
	a.rr(0x66, []byte{0x0F, 0x50}, uint8(dst), uint8(src))
}

// MovImm32 emits mov r32, imm32.
func (a *Asm) MovImm32(dst Gpr, imm uint32) {
	a.rex(false, 0, 0, uint8(dst), false)
	a.byte1(0xB8 + byte(dst&7))
	a.buf = binary.LittleEndian.AppendUint32(a.buf, imm)
}

// Test32 emits test x, y on 32-bit registers.
func (a *Asm) Test32(x, y Gpr) {
	a.rr(0, []byte{0x85}, uint8(y), uint8(x))
}

// Cmovz32 emits cmovz dst, src on 32-bit registers.
func (a *Asm) Cmovz32(dst, src Gpr) {
	a.rr(0, []byte{0x0F, 0x44}, uint8(dst), uint8(src))
}

// Store8 stores the low byte of src.
func (a *Asm) Store8(m Mem, src Gpr) {
	if m.konst > 0 {
		panic("amd64: store to constant pool")
	}
	if src >= RSP && src <= RDI {
		panic("amd64: byte store from " + fmt.Sprint(src))
	}
	a.rm(0, []byte{0x88}, uint8(src), m)
}

// Ret emits a near return.
func (a *Asm) Ret() { a.byte1(0xC3) }
