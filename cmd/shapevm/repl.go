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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/exp/slices"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/tape"
)

const (
	newprompt    = "\033[32m>\033[0m "
	resultprompt = "\033[31m=\033[0m "
)

const replHelp = `definitions use the text format, e.g. "_0 var-x" or "_2 mul _0 _1";
the last definition is the expression. Commands:
    eval <value>...      evaluate in the current mode
    mode <mode>          switch to point, interval, simd4 or grad
    simplify <lo:hi>...  print the tape simplified over a region
    tape                 print the tape
    text                 print the definitions
    reset                forget every definition
`

var errEmpty = errors.New("no expression defined yet")

// session is the state of a REPL: the text
// of the definitions entered so far and the
// tape of the last one
type session struct {
	e     *env
	lines []string
	t     *tape.Tape
}

func (s *session) define(lines ...string) error {
	src := append(slices.Clone(s.lines), lines...)
	g, _, err := graph.ReadText(strings.NewReader(strings.Join(src, "\n")))
	if err != nil {
		return err
	}
	t, err := tape.BuildOutputs(g)
	if err != nil {
		return err
	}
	s.lines, s.t = src, t
	return nil
}

func (s *session) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0][0] == '#' {
		return nil
	}
	switch fields[0] {
	case "help":
		fmt.Fprint(s.e.out, replHelp)
		return nil
	case "reset":
		s.lines, s.t = nil, nil
		return nil
	case "mode":
		if len(fields) != 2 {
			return fmt.Errorf("usage: mode <mode>")
		}
		m, err := eval.ParseMode(fields[1])
		if err != nil {
			return err
		}
		s.e.mode = m
		return nil
	case "text":
		for _, l := range s.lines {
			fmt.Fprintln(s.e.out, l)
		}
		return nil
	case "eval", "tape", "simplify":
		if s.t == nil {
			return errEmpty
		}
		switch fields[0] {
		case "eval":
			return evaluate(s.e, s.t, fields[1:])
		case "tape":
			_, err := s.t.WriteTo(s.e.out)
			return err
		default:
			return simplify(s.e, s.t, fields[1:])
		}
	}
	return s.define(line)
}

// preload defines the contents of a text file
func (s *session) preload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return s.define(lines...)
}

func repl(e *env, args []string) error {
	s := &session{e: e}
	if len(args) == 1 {
		if err := s.preload(args[0]); err != nil {
			return err
		}
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       e.history,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()
	l.CaptureExitSignal()

	out := e.out
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		var b strings.Builder
		e.out = &b
		err = s.exec(line)
		e.out = out
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if b.Len() > 0 {
			fmt.Fprint(out, resultprompt)
			fmt.Fprint(out, b.String())
		}
	}
}

func init() {
	addApplet(applet{
		name: "repl",
		help: "[expr]",
		desc: `define and evaluate expressions interactively (type "help")`,
		min:  0,
		max:  1,
		run:  repl,
	})
}
