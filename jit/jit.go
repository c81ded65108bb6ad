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

// Package jit compiles tapes to native x86-64 code.
//
// Each evaluation mode has its own code generator;
// they share one skeleton that walks the tape in
// order and uses the register assignment computed
// by tape.Allocate. Compiled code is position
// independent and has no state of its own: it reads
// its inputs, spill area and (for intervals) choice
// array through registers set up by a small assembly
// trampoline.
//
// Operators without a compiled form (transcendental
// functions, mod, atan2, the logical operators) fail
// with *UnsupportedOpError; callers are expected to
// fall back to the interpreter in package eval.
package jit

import (
	"errors"
	"fmt"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/internal/amd64"
	"github.com/shapevm/shapevm/tape"
)

// MaxRegisters is the number of XMM registers
// available to the register allocator.
const MaxRegisters = 10

var (
	// ErrUnsupportedArch is returned when native
	// code cannot be executed on this platform.
	ErrUnsupportedArch = errors.New("jit: unsupported architecture")
	// ErrDisabled is returned when the selected
	// Level is LevelNone.
	ErrDisabled = errors.New("jit: disabled")
	// ErrClosed is returned by evaluators of a
	// routine that has been closed.
	ErrClosed = errors.New("jit: routine closed")
)

// UnsupportedOpError is returned when a tape contains
// an operator that has no compiled form in a mode.
type UnsupportedOpError struct {
	Mode eval.Mode
	Op   graph.Op
	Pos  int // tape position
}

func (u *UnsupportedOpError) Error() string {
	return fmt.Sprintf("jit: cannot compile %s in %s mode (position %d)", u.Op, u.Mode, u.Pos)
}

// Unsupported returns whether err means that a tape
// cannot be compiled here, as opposed to a failure
// of the compiler itself.
func Unsupported(err error) bool {
	var u *UnsupportedOpError
	return errors.Is(err, ErrUnsupportedArch) ||
		errors.Is(err, ErrDisabled) ||
		errors.As(err, &u)
}

type config struct {
	regs  int
	level Level
}

// Option configures Compile and Assemble.
type Option func(*config)

// WithRegisters limits the number of XMM registers
// given to the register allocator. Values outside
// [1, MaxRegisters] make compilation fail.
func WithRegisters(n int) Option {
	return func(c *config) { c.regs = n }
}

// WithLevel selects the instruction set level
// instead of the process-wide one (see GetLevel).
func WithLevel(l Level) Option {
	return func(c *config) { c.level = l }
}

func configure(opts []Option) (config, error) {
	c := config{regs: MaxRegisters, level: GetLevel()}
	for _, o := range opts {
		o(&c)
	}
	if c.level == LevelDetect {
		c.level = DetectLevel()
	}
	if c.regs < 1 || c.regs > MaxRegisters {
		return c, fmt.Errorf("jit: %d registers requested, need 1 to %d", c.regs, MaxRegisters)
	}
	return c, nil
}

// Program is the machine code for one tape in one mode.
type Program struct {
	Mode eval.Mode
	Tape *tape.Tape
	// Code is the instructions followed by the
	// constant pool. It must be loaded at a
	// 16-byte aligned address.
	Code []byte
	// Assignment is the register assignment
	// the code was generated from.
	Assignment *tape.Assignment
}

// SpillBytes returns the size of the spill area
// the code expects in RDX.
func (p *Program) SpillBytes() int { return p.Assignment.SpillBytes() }

// Assemble generates machine code for t without
// loading it. It works on every platform.
func Assemble(t *tape.Tape, mode eval.Mode, opts ...Option) (*Program, error) {
	cfg, err := configure(opts)
	if err != nil {
		return nil, err
	}
	if cfg.level == LevelNone {
		return nil, ErrDisabled
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	tm := templatesFor(mode)
	if tm == nil {
		return nil, fmt.Errorf("jit: unknown mode %s", mode)
	}
	asg, err := tape.Allocate(t, cfg.regs)
	if err != nil {
		return nil, err
	}
	c := &compiler{
		t:     t,
		asg:   asg,
		mode:  mode,
		level: cfg.level,
		tm:    tm,
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &Program{
		Mode:       mode,
		Tape:       t,
		Code:       c.asm.Finish(),
		Assignment: asg,
	}, nil
}

// Compile assembles t and loads the result into
// executable memory. The returned Routine holds one
// reference; see Routine.Close.
func Compile(t *tape.Tape, mode eval.Mode, opts ...Option) (*Routine, error) {
	if !supported {
		return nil, ErrUnsupportedArch
	}
	cfg, err := configure(opts)
	if err != nil {
		return nil, err
	}
	if max := levelFromCPUFeatures(); cfg.level > max && cfg.level != LevelDetect {
		return nil, fmt.Errorf("jit: level %s exceeds %s: %w", cfg.level, max, ErrUnsupportedArch)
	}
	p, err := Assemble(t, mode, opts...)
	if err != nil {
		return nil, err
	}
	return Load(p)
}

func templatesFor(mode eval.Mode) templates {
	switch mode {
	case eval.ModePoint:
		return pointTemplates{}
	case eval.ModeInterval:
		return intervalTemplates{}
	case eval.ModeSimd4:
		return simdTemplates{}
	case eval.ModeGrad:
		return gradTemplates{}
	}
	return nil
}

// scratch registers; everything below
// MaxRegisters belongs to the allocator
const (
	spillD amd64.Xmm = MaxRegisters + iota // spilled destination
	spillA                                 // spilled first operand
	spillB                                 // spilled second operand
	tmp0
	tmp1
	tmp2
)
