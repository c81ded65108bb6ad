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

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/shapevm/shapevm/engine"
	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/jit"
	"github.com/shapevm/shapevm/tape"
)

type env struct {
	out     io.Writer
	logger  *log.Logger
	mode    eval.Mode
	backend engine.Backend
	jitopts []jit.Option
	regs    int
	cache   *jit.Cache
	output  string
	history string
	verbose bool
}

func newEnv(c config, out, logw io.Writer) (*env, error) {
	mode, err := eval.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	backend, err := engine.ParseBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	level, err := jit.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := []jit.Option{jit.WithRegisters(c.Registers)}
	if level != jit.LevelDetect {
		opts = append(opts, jit.WithLevel(level))
	}
	e := &env{
		out:     out,
		mode:    mode,
		backend: backend,
		jitopts: opts,
		regs:    c.Registers,
		cache:   jit.NewCache(opts...),
		output:  c.Output,
		history: c.History,
		verbose: c.Verbose,
	}
	if c.Verbose {
		// a short run id tells interleaved runs apart
		id := uuid.New().String()[:8]
		e.logger = log.New(logw, fmt.Sprintf("shapevm[%s] ", id), log.LstdFlags|log.Lmsgprefix)
		jit.Warnf = e.logger.Printf
	}
	return e, nil
}

func (e *env) logf(f string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(f, args...)
	}
}

func (e *env) engine(t *tape.Tape) *engine.Engine {
	return engine.New(t,
		engine.WithLogger(e.logger),
		engine.WithBackend(e.backend),
		engine.WithCache(e.cache))
}

func (e *env) close() error {
	hits, misses := e.cache.Stats()
	if hits+misses > 0 {
		e.logf("jit cache: %d hits, %d misses, %s of code",
			hits, misses, units.HumanSize(float64(e.cache.Size())))
	}
	return e.cache.Close()
}

// source is a loaded expression; g is nil
// when it was loaded from a saved tape
type source struct {
	g    *graph.Graph
	root graph.NodeID
	t    *tape.Tape
}

// load reads an expression in the text format, or
// a tape saved with -o if the name ends in .zst;
// "-" is stdin
func load(path string) (*source, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if strings.HasSuffix(path, ".zst") {
		t, err := tape.ReadCompressed(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &source{t: t}, nil
	}
	g, root, err := graph.ReadText(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t, err := tape.BuildOutputs(g)
	if err != nil {
		return nil, err
	}
	return &source{g: g, root: root, t: t}, nil
}

func save(e *env, t *tape.Tape) error {
	if e.output == "" {
		return nil
	}
	f, err := os.Create(e.output)
	if err != nil {
		return err
	}
	n, err := t.WriteCompressed(f)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	e.logf("saved %d instructions to %s (%s)", t.Len(), e.output, units.HumanSize(float64(n)))
	return nil
}
