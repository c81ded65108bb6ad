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

// Package engine picks an evaluator for each
// mode of a tape, preferring compiled code and
// falling back to the interpreter.
package engine

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/jit"
	"github.com/shapevm/shapevm/tape"
)

// Backend selects how an Engine evaluates.
type Backend string

const (
	// BackendAuto uses compiled code where the
	// tape and platform allow it and the
	// interpreter elsewhere.
	BackendAuto Backend = "auto"
	// BackendInterp always interprets.
	BackendInterp Backend = eval.BackendInterp
	// BackendJIT always compiles, and fails
	// where compilation is not possible.
	BackendJIT Backend = jit.BackendJIT
)

// ParseBackend parses the name of a Backend.
// The empty string is BackendAuto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(s)); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendInterp, BackendJIT:
		return b, nil
	}
	return "", fmt.Errorf("engine: unknown backend %q", s)
}

// ErrClosed is returned by an Engine after Close.
var ErrClosed = errors.New("engine: closed")

// Option configures an Engine.
type Option func(e *Engine)

// WithLogger sets the logger of an Engine.
// If no logger is set, nothing is logged.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBackend selects the backend.
// The default is BackendAuto.
func WithBackend(b Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithCache makes the Engine take compiled
// routines from c instead of compiling them
// itself. The cache's options apply.
func WithCache(c *jit.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithJITOptions sets the options passed to
// jit.Compile when no cache is in use.
func WithJITOptions(opts ...jit.Option) Option {
	return func(e *Engine) { e.jitopts = opts }
}

// Engine evaluates one tape in every mode. The
// Funcs it returns are created on first use and
// are safe to share between goroutines.
type Engine struct {
	t       *tape.Tape
	opts    []Option
	logger  *log.Logger
	backend Backend
	cache   *jit.Cache
	jitopts []jit.Option

	lock     sync.Mutex
	closed   bool
	funcs    [eval.NumModes]any
	routines []*jit.Routine
}

// New returns an Engine for t.
func New(t *tape.Tape, opts ...Option) *Engine {
	e := &Engine{t: t, opts: opts, backend: BackendAuto}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) logf(f string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(f, args...)
	}
}

// Tape returns the tape of e.
func (e *Engine) Tape() *tape.Tape { return e.t }

// Backend returns the configured backend.
func (e *Engine) Backend() Backend { return e.backend }

func (e *Engine) compile(mode eval.Mode) (*jit.Routine, error) {
	if e.cache != nil {
		return e.cache.Get(e.t, mode)
	}
	return jit.Compile(e.t, mode, e.jitopts...)
}

func funcFor[T eval.Value](e *Engine) (eval.Func[T], error) {
	mode := eval.ModeOf[T]()
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if f := e.funcs[mode]; f != nil {
		return f.(eval.Func[T]), nil
	}
	var f eval.Func[T]
	switch e.backend {
	case BackendAuto, BackendJIT:
		r, err := e.compile(mode)
		if err == nil {
			f, err = jit.As[T](r)
			if err != nil {
				r.Close()
				return nil, err
			}
			e.routines = append(e.routines, r)
			break
		}
		if e.backend == BackendJIT || !jit.Unsupported(err) {
			return nil, fmt.Errorf("engine: compiling %s mode: %w", mode, err)
		}
		e.logf("%s mode: interpreting: %s", mode, err)
		f = eval.NewInterp[T](e.t)
	case BackendInterp:
		f = eval.NewInterp[T](e.t)
	default:
		return nil, fmt.Errorf("engine: unknown backend %q", e.backend)
	}
	e.funcs[mode] = f
	return f, nil
}

// Point returns the single-point evaluator.
func (e *Engine) Point() (eval.Func[float64], error) { return funcFor[float64](e) }

// Interval returns the interval evaluator.
// Its evaluators implement eval.ChoiceEvaluator.
func (e *Engine) Interval() (eval.Func[eval.Interval], error) { return funcFor[eval.Interval](e) }

// Simd4 returns the four-lane evaluator.
func (e *Engine) Simd4() (eval.Func[eval.Lanes], error) { return funcFor[eval.Lanes](e) }

// Grad returns the gradient evaluator.
func (e *Engine) Grad() (eval.Func[eval.Grad], error) { return funcFor[eval.Grad](e) }

// Simplify returns a new Engine, with the options of
// e, for the tape simplified over region. The new
// Engine must be closed separately.
func (e *Engine) Simplify(region []eval.Interval) (*Engine, error) {
	st, _, err := eval.Simplify(e.t, region)
	if err != nil {
		return nil, err
	}
	e.logf("simplified %d instructions to %d", e.t.Len(), st.Len())
	return New(st, e.opts...), nil
}

// Close releases the compiled code of e. Funcs
// returned by e must not be used afterwards.
func (e *Engine) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, r := range e.routines {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.routines = nil
	e.funcs = [eval.NumModes]any{}
	return errors.Join(errs...)
}
