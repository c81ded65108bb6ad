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
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/jit"
)

const circle = `# unit circle
x var-x
y var-y
xx square x
yy square y
s add xx yy
r sqrt s
one const 1
d sub r one
`

const union = circle + `ten const 10
dx sub x ten
dxx square dx
s2 add dxx yy
r2 sqrt s2
d2 sub r2 one
u min d d2
`

func write(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testEnv(t *testing.T, mode string) (*env, *bytes.Buffer) {
	t.Helper()
	c := defaultConfig()
	c.Mode = mode
	var buf bytes.Buffer
	e, err := newEnv(c, &buf, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.close() })
	return e, &buf
}

func TestParseInterval(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want eval.Interval
		ok   bool
	}{
		{"1", eval.Splat(1), true},
		{"-1:2.5", eval.Interval{Lo: -1, Hi: 2.5}, true},
		{"-inf:inf", eval.Interval{Lo: -posInf(), Hi: posInf()}, true},
		{"2:1", eval.Interval{}, false},
		{"a:1", eval.Interval{}, false},
		{"nan:1", eval.Interval{}, false},
	} {
		got, err := parseInterval(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func posInf() float64 {
	f, _ := parseFloat("inf")
	return f
}

func TestParseLanes(t *testing.T) {
	if l, err := parseLanes("1,2,3,4"); err != nil || l != (eval.Lanes{1, 2, 3, 4}) {
		t.Errorf("got %v, %v", l, err)
	}
	if l, err := parseLanes("0.5"); err != nil || l != (eval.Lanes{0.5, 0.5, 0.5, 0.5}) {
		t.Errorf("got %v, %v", l, err)
	}
	if _, err := parseLanes("1,2"); err == nil {
		t.Error("expected an error")
	}
}

func TestLoadConfig(t *testing.T) {
	path := write(t, "conf.yaml", "mode: interval\nregisters: 4\nbackend: interp\n")
	c := defaultConfig()
	if err := loadConfig(path, &c); err != nil {
		t.Fatal(err)
	}
	if c.Mode != "interval" || c.Registers != 4 || c.Backend != "interp" || c.Level != "detect" {
		t.Errorf("unexpected config %+v", c)
	}
	bad := write(t, "bad.yaml", "mode: point\nregsiters: 4\n")
	if err := loadConfig(bad, &c); err == nil {
		t.Error("expected an error for an unknown field")
	}
}

func TestNewEnvErrors(t *testing.T) {
	for _, mut := range []func(c *config){
		func(c *config) { c.Mode = "vector" },
		func(c *config) { c.Backend = "gpu" },
		func(c *config) { c.Level = "avx512" },
	} {
		c := defaultConfig()
		mut(&c)
		if _, err := newEnv(c, io.Discard, io.Discard); err == nil {
			t.Errorf("%+v: expected an error", c)
		}
	}
}

func TestEval(t *testing.T) {
	path := write(t, "circle.txt", circle)
	for _, tc := range []struct {
		mode string
		args []string
		want string
	}{
		{"point", []string{"3", "4", "0"}, "4\n"},
		{"interval", []string{"0", "-1:1", "0"}, "[-1, 0]\n"},
		{"simd4", []string{"3,0,1,0", "4,0,0,2", "0"}, "[4 -1 0 1]\n"},
		{"grad", []string{"3", "4", "0"}, "4 [0.6 0.8 0]\n"},
	} {
		e, buf := testEnv(t, tc.mode)
		if err := run(e, append([]string{"eval", path}, tc.args...)); err != nil {
			t.Fatalf("%s: %v", tc.mode, err)
		}
		if buf.String() != tc.want {
			t.Errorf("%s: got %q, want %q", tc.mode, buf.String(), tc.want)
		}
	}
	e, _ := testEnv(t, "point")
	if err := run(e, []string{"eval", path, "1"}); err == nil {
		t.Error("expected an arity error")
	}
}

func TestEvalChoices(t *testing.T) {
	path := write(t, "union.txt", union)
	e, buf := testEnv(t, "interval")
	if err := run(e, []string{"eval", path, "-0.5:0.5", "-0.5:0.5", "0"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "# 1 of 1 choices resolved") {
		t.Errorf("got %q", buf.String())
	}
}

func TestTapeSave(t *testing.T) {
	path := write(t, "union.txt", union)
	e, buf := testEnv(t, "point")
	e.output = filepath.Join(t.TempDir(), "union.zst")
	if err := run(e, []string{"tape", path}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "spill slots with 10 registers") {
		t.Errorf("got %q", buf.String())
	}
	src, err := load(path)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := load(e.output)
	if err != nil {
		t.Fatal(err)
	}
	if !saved.t.Equal(src.t) {
		t.Errorf("saved tape differs:\n%s\n%s", saved.t, src.t)
	}
	buf.Reset()
	if err := run(e, []string{"eval", e.output, "10", "1", "0"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "0\n" {
		t.Errorf("got %q", buf.String())
	}
	if err := run(e, []string{"dot", e.output}); err != errNoGraph {
		t.Errorf("expected errNoGraph, got %v", err)
	}
}

func TestSimplify(t *testing.T) {
	path := write(t, "union.txt", union)
	e, buf := testEnv(t, "point")
	e.output = filepath.Join(t.TempDir(), "near.zst")
	if err := run(e, []string{"simplify", path, "-0.5:0.5", "-0.5:0.5", "0"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "# 1 of 1 choices resolved") || strings.Contains(out, "min") {
		t.Errorf("got %q", out)
	}
	src, err := load(e.output)
	if err != nil {
		t.Fatal(err)
	}
	if src.t.Count(graph.OpMin) != 0 {
		t.Errorf("saved tape not simplified:\n%s", src.t)
	}
}

func TestDotAndCompile(t *testing.T) {
	path := write(t, "circle.txt", circle)
	e, buf := testEnv(t, "point")
	if err := run(e, []string{"dot", path}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "digraph expr {") {
		t.Errorf("got %q", buf.String())
	}
	buf.Reset()
	e.jitopts = append(e.jitopts, jit.WithLevel(jit.LevelSSE41))
	if err := run(e, []string{"compile", path}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != int(eval.NumModes) {
		t.Fatalf("got %q", buf.String())
	}
	for i, l := range lines {
		if !strings.HasPrefix(l, eval.Mode(i).String()) || !strings.Contains(l, "of code") {
			t.Errorf("line %d: %q", i, l)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	e, _ := testEnv(t, "point")
	if err := run(e, []string{"render"}); err == nil {
		t.Error("expected an error")
	}
	if err := run(e, []string{"tape"}); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected a usage error, got %v", err)
	}
}

func TestSession(t *testing.T) {
	e, buf := testEnv(t, "point")
	s := &session{e: e}
	if err := s.exec("eval 0 0 0"); err != errEmpty {
		t.Errorf("expected errEmpty, got %v", err)
	}
	for _, l := range strings.Split(circle, "\n") {
		if err := s.exec(l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
	if err := s.exec("zz frobnicate x"); err == nil {
		t.Error("expected a syntax error")
	}
	if len(s.lines) != 8 {
		t.Errorf("%d lines kept", len(s.lines))
	}
	for _, l := range []string{"eval 0 1 0", "mode interval", "eval 0:3 4 0"} {
		if err := s.exec(l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
	if want := "0\n[3, 4]\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	s.exec("reset")
	if s.t != nil || s.lines != nil {
		t.Error("reset kept state")
	}
}
