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
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/tape"
)

// BackendJIT is the Backend name of compiled functions.
const BackendJIT = "jit"

// Routine is a compiled tape loaded into executable
// memory. Its code is read-only and may be run by
// any number of goroutines at once, each through
// its own evaluator.
//
// A Routine is reference counted: Compile returns
// it with one reference, Retain adds one and Close
// drops one. The memory is unmapped when the last
// reference is dropped; evaluators must not be
// running at that point.
type Routine struct {
	prog *Program
	mem  []byte
	refs atomic.Int32
}

// Load copies p into executable memory.
func Load(p *Program) (*Routine, error) {
	if !supported {
		return nil, ErrUnsupportedArch
	}
	mem, err := mapExec(p.Code)
	if err != nil {
		return nil, err
	}
	r := &Routine{prog: p, mem: mem}
	r.refs.Store(1)
	return r, nil
}

// Mode returns the evaluation mode of the code.
func (r *Routine) Mode() eval.Mode { return r.prog.Mode }

// Tape returns the compiled tape.
func (r *Routine) Tape() *tape.Tape { return r.prog.Tape }

// Program returns the code and register
// assignment that were loaded.
func (r *Routine) Program() *Program { return r.prog }

// Size returns the size of the mapped code.
func (r *Routine) Size() int { return len(r.mem) }

// Retain adds a reference to r and returns r.
func (r *Routine) Retain() *Routine {
	r.refs.Add(1)
	return r
}

// Close drops a reference, unmapping the code
// when it was the last one.
func (r *Routine) Close() error {
	switch n := r.refs.Add(-1); {
	case n == 0:
		mem := r.mem
		r.mem = nil
		return unmap(mem)
	case n < 0:
		return fmt.Errorf("jit: Close called on a released routine")
	}
	return nil
}

func (r *Routine) closed() bool { return r.refs.Load() <= 0 }

// As returns r as an eval.Func for the value
// type of its mode. The Func does not hold its
// own reference.
func As[T eval.Value](r *Routine) (eval.Func[T], error) {
	if m := eval.ModeOf[T](); m != r.Mode() {
		return nil, fmt.Errorf("jit: routine for %s mode used as %s", r.Mode(), m)
	}
	return &fn[T]{r: r}, nil
}

// AsPoint is As[float64].
func AsPoint(r *Routine) (eval.Func[float64], error) { return As[float64](r) }

// AsInterval is As[eval.Interval].
func AsInterval(r *Routine) (eval.Func[eval.Interval], error) { return As[eval.Interval](r) }

// AsSimd4 is As[eval.Lanes].
func AsSimd4(r *Routine) (eval.Func[eval.Lanes], error) { return As[eval.Lanes](r) }

// AsGrad is As[eval.Grad].
func AsGrad(r *Routine) (eval.Func[eval.Grad], error) { return As[eval.Grad](r) }

type fn[T eval.Value] struct {
	r *Routine
}

func (f *fn[T]) Tape() *tape.Tape { return f.r.Tape() }
func (f *fn[T]) Mode() eval.Mode  { return f.r.Mode() }
func (f *fn[T]) Backend() string  { return BackendJIT }

func (f *fn[T]) NewEvaluator() eval.Evaluator[T] {
	e := &evaluator[T]{
		r:     f.r,
		spill: make([]uint64, f.r.prog.SpillBytes()/8),
	}
	if f.r.Mode() != eval.ModeInterval {
		return e
	}
	e.choices = make([]tape.Choice, f.r.Tape().Len())
	// only interval evaluators report choices
	return any(&choiceEvaluator[T]{e}).(eval.Evaluator[T])
}

type evaluator[T eval.Value] struct {
	r       *Routine
	spill   []uint64
	choices []tape.Choice
}

func ptr[E any](s []E) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

func (e *evaluator[T]) Eval(vars, out []T) error {
	t := e.r.Tape()
	if err := eval.CheckArity(t, vars, out); err != nil {
		return err
	}
	if e.r.closed() {
		return ErrClosed
	}
	jitcall(unsafe.Pointer(&e.r.mem[0]), ptr(vars), ptr(out), ptr(e.spill), ptr(e.choices))
	runtime.KeepAlive(vars)
	runtime.KeepAlive(out)
	runtime.KeepAlive(e)
	return nil
}

type choiceEvaluator[T eval.Value] struct {
	*evaluator[T]
}

func (c *choiceEvaluator[T]) Choices() []tape.Choice { return c.choices }
