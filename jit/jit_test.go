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
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/internal/exprtest"
	"github.com/shapevm/shapevm/tape"
)

func requireJIT(t testing.TB) {
	if !supported || levelFromCPUFeatures() == LevelNone {
		t.Skip("native code not supported here")
	}
}

func build(t testing.TB, g *graph.Graph, roots ...graph.NodeID) *tape.Tape {
	t.Helper()
	tp, err := tape.Build(g, roots)
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

func TestAssembleBytes(t *testing.T) {
	g := graph.New()
	tp := build(t, g, g.Add(g.X(), g.Y()))
	p, err := Assemble(tp, eval.ModePoint, WithLevel(LevelSSE2))
	if err != nil {
		t.Fatal(err)
	}
	want := "f20f1007" + // movsd xmm0, [rdi]
		"f20f104f08" + // movsd xmm1, [rdi+8]
		"0f28d0" + // movaps xmm2, xmm0
		"f20f58d1" + // addsd xmm2, xmm1
		"f20f1116" + // movsd [rsi], xmm2
		"c3"
	if got := hex.EncodeToString(p.Code); got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
	if p.SpillBytes() != 0 {
		t.Errorf("unexpected spills: %d", p.SpillBytes())
	}
}

func TestAssembleUnsupported(t *testing.T) {
	g := graph.New()
	x := g.X()
	sin := build(t, g, g.Add(g.Sin(x), g.Y()))
	floor := build(t, g, g.Floor(x))
	and := build(t, g, g.And(x, g.Y()))
	for _, tc := range []struct {
		tape  *tape.Tape
		mode  eval.Mode
		level Level
		op    graph.Op
	}{
		{sin, eval.ModePoint, LevelSSE41, graph.OpSin},
		{sin, eval.ModeGrad, LevelSSE41, graph.OpSin},
		{floor, eval.ModeInterval, LevelSSE2, graph.OpFloor},
		{floor, eval.ModeGrad, LevelSSE2, graph.OpFloor},
		{and, eval.ModeInterval, LevelSSE41, graph.OpAnd},
	} {
		_, err := Assemble(tc.tape, tc.mode, WithLevel(tc.level))
		var u *UnsupportedOpError
		if !errors.As(err, &u) {
			t.Errorf("%s %s: expected *UnsupportedOpError, got %v", tc.mode, tc.op, err)
			continue
		}
		if u.Op != tc.op || u.Mode != tc.mode || tc.tape.Instrs[u.Pos].Op != tc.op {
			t.Errorf("unexpected error %+v", u)
		}
		if !Unsupported(err) {
			t.Errorf("Unsupported(%v) = false", err)
		}
	}
	for m := eval.ModePoint; m < eval.NumModes; m++ {
		if _, err := Assemble(floor, m, WithLevel(LevelSSE41)); err != nil {
			t.Errorf("%s: %v", m, err)
		}
	}
}

func TestAssembleOptions(t *testing.T) {
	g := graph.New()
	tp := build(t, g, g.Circle(0, 0, 1))
	if _, err := Assemble(tp, eval.ModePoint, WithLevel(LevelNone)); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	for _, n := range []int{0, MaxRegisters + 1} {
		if _, err := Assemble(tp, eval.ModePoint, WithRegisters(n), WithLevel(LevelSSE2)); err == nil {
			t.Errorf("%d registers: expected an error", n)
		}
	}
	p, err := Assemble(tp, eval.ModeInterval, WithRegisters(1), WithLevel(LevelSSE2))
	if err != nil {
		t.Fatal(err)
	}
	if p.Assignment.Spills == 0 {
		t.Error("expected spills with one register")
	}
	if err := p.Assignment.Validate(tp); err != nil {
		t.Fatal(err)
	}
}

func TestDetectLevel(t *testing.T) {
	detected := levelFromCPUFeatures()
	for _, tc := range []struct {
		env  string
		want Level
	}{
		{"", detected},
		{"none", LevelNone},
		{"OFF", LevelNone},
		{"sse2", min(LevelSSE2, detected)},
		{"sse41", min(LevelSSE41, detected)},
		{"avx9000", detected},
	} {
		t.Setenv(levelEnvVar, tc.env)
		if got := DetectLevel(); got != tc.want {
			t.Errorf("%s=%q: got %s, want %s", levelEnvVar, tc.env, got, tc.want)
		}
	}
}

func TestWarnf(t *testing.T) {
	var msgs []string
	Warnf = func(f string, args ...any) { msgs = append(msgs, fmt.Sprintf(f, args...)) }
	t.Cleanup(func() { Warnf = nil })

	t.Setenv(levelEnvVar, "sse41")
	DetectLevel()
	if len(msgs) != 0 {
		t.Fatalf("unexpected warnings %q", msgs)
	}
	t.Setenv(levelEnvVar, "avx9000")
	DetectLevel()
	if len(msgs) != 1 || !strings.Contains(msgs[0], levelEnvVar) || !strings.Contains(msgs[0], "avx9000") {
		t.Fatalf("warnings %q", msgs)
	}
}

func jitOps(level Level) exprtest.Ops {
	ops := exprtest.Ops{
		Unary:  []graph.Op{graph.OpNeg, graph.OpAbs, graph.OpSquare, graph.OpSqrt, graph.OpRecip},
		Binary: []graph.Op{graph.OpAdd, graph.OpSub, graph.OpMul, graph.OpDiv, graph.OpMin, graph.OpMax},
	}
	if level >= LevelSSE41 {
		ops.Unary = append(ops.Unary, graph.OpFloor, graph.OpCeil, graph.OpRound)
	}
	return ops
}

func same64(a, b float64) bool { return a == b || (a != a && b != b) }
func same32(a, b float32) bool { return a == b || (a != a && b != b) }

// compile compiles tp and returns the compiled
// and interpreted evaluators for T
func compile[T eval.Value](t *testing.T, tp *tape.Tape, regs int) (jit, ref eval.Evaluator[T]) {
	t.Helper()
	r, err := Compile(tp, eval.ModeOf[T](), WithRegisters(regs))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	f, err := As[T](r)
	if err != nil {
		t.Fatal(err)
	}
	if f.Backend() != BackendJIT {
		t.Fatalf("backend %q", f.Backend())
	}
	return f.NewEvaluator(), eval.NewInterp[T](tp).NewEvaluator()
}

func run[T eval.Value](t *testing.T, ev eval.Evaluator[T], in []T) T {
	t.Helper()
	out := make([]T, 1)
	if err := ev.Eval(in, out); err != nil {
		t.Fatal(err)
	}
	return out[0]
}

func TestMatchesInterpreter(t *testing.T) {
	requireJIT(t)
	r := rand.New(rand.NewSource(3))
	ops := jitOps(GetLevel())
	for i := 0; i < 60; i++ {
		tp := exprtest.Tape(r, 10+r.Intn(40), ops)
		regs := []int{1, 2, 4, MaxRegisters}[i%4]

		pj, pi := compile[float64](t, tp, regs)
		ij, ii := compile[eval.Interval](t, tp, regs)
		sj, si := compile[eval.Lanes](t, tp, regs)
		gj, gi := compile[eval.Grad](t, tp, regs)
		for j := 0; j < 10; j++ {
			box := exprtest.Box(r, 3, 4)
			p := exprtest.Point(r, box)

			if a, b := run(t, pj, p), run(t, pi, p); !same64(a, b) {
				t.Fatalf("tape %d point %v: jit %g, interp %g\n%s", i, p, a, b, tp)
			}

			reg := []eval.Interval{{Lo: box[0][0], Hi: box[0][1]}, {Lo: box[1][0], Hi: box[1][1]}, {Lo: box[2][0], Hi: box[2][1]}}
			a, b := run(t, ij, reg), run(t, ii, reg)
			if !same64(a.Lo, b.Lo) || !same64(a.Hi, b.Hi) {
				t.Fatalf("tape %d region %v: jit %s, interp %s\n%s", i, reg, a, b, tp)
			}
			jc := ij.(eval.ChoiceEvaluator).Choices()
			ic := ii.(eval.ChoiceEvaluator).Choices()
			for k := range jc {
				if jc[k] != ic[k] {
					t.Fatalf("tape %d region %v: choice %d is %s, interp %s\n%s", i, reg, k, jc[k], ic[k], tp)
				}
			}

			var pts [4][]float32
			for l := range pts {
				q := exprtest.Point(r, box)
				pts[l] = []float32{float32(q[0]), float32(q[1]), float32(q[2])}
			}
			lanes := eval.SplitLanes(pts)
			sa, sb := run(t, sj, lanes), run(t, si, lanes)
			for l := range sa {
				if !same32(sa[l], sb[l]) {
					t.Fatalf("tape %d lanes %v: jit %v, interp %v\n%s", i, pts, sa, sb, tp)
				}
			}

			seed := eval.SeedGrad(pts[0][0], pts[0][1], pts[0][2])
			ga, gb := run(t, gj, seed), run(t, gi, seed)
			if !same32(ga.V, gb.V) || !same32(ga.Dx, gb.Dx) || !same32(ga.Dy, gb.Dy) || !same32(ga.Dz, gb.Dz) {
				t.Fatalf("tape %d grad at %v: jit %+v, interp %+v\n%s", i, pts[0], ga, gb, tp)
			}
		}
	}
}

func TestEdgeValues(t *testing.T) {
	requireJIT(t)
	g := graph.New()
	x, y := g.X(), g.Y()
	roots := []graph.NodeID{
		g.Div(x, y), g.Recip(x), g.Sqrt(x), g.Min(x, y), g.Max(x, y),
		g.Mul(x, y), g.Abs(x), g.Neg(y), g.Square(x),
	}
	nan, inf := math.NaN(), math.Inf(1)
	vals := []float64{0, math.Copysign(0, -1), 1, -2.5, inf, -inf, nan}
	for _, root := range roots {
		tp := build(t, g, root)
		pj, pi := compile[float64](t, tp, MaxRegisters)
		ij, ii := compile[eval.Interval](t, tp, MaxRegisters)
		sj, si := compile[eval.Lanes](t, tp, MaxRegisters)
		gj, gi := compile[eval.Grad](t, tp, MaxRegisters)
		for _, a := range vals {
			for _, b := range vals {
				in := []float64{a, b, 0}
				if u, v := run(t, pj, in), run(t, pi, in); !same64(u, v) {
					t.Errorf("%s(%g, %g): jit %g, interp %g", tp.Instrs[len(tp.Instrs)-1].Op, a, b, u, v)
				}
				lo, hi := math.Min(a, b), math.Max(a, b)
				reg := []eval.Interval{{Lo: lo, Hi: hi}, {Lo: b, Hi: b}, eval.Splat(0)}
				u, v := run(t, ij, reg), run(t, ii, reg)
				if !same64(u.Lo, v.Lo) || !same64(u.Hi, v.Hi) {
					t.Errorf("%s(%s, %s): jit %s, interp %s", tp.Instrs[len(tp.Instrs)-1].Op, reg[0], reg[1], u, v)
				}

				a32, b32 := float32(a), float32(b)
				lanes := []eval.Lanes{{a32, b32, -b32, a32}, {b32, a32, a32, -b32}, {}}
				sa, sb := run(t, sj, lanes), run(t, si, lanes)
				for l := range sa {
					if !same32(sa[l], sb[l]) {
						t.Errorf("%s lanes %v: jit %v, interp %v", tp.Instrs[len(tp.Instrs)-1].Op, lanes[:2], sa, sb)
						break
					}
				}
				seed := eval.SeedGrad(a32, b32, 0)
				ga, gb := run(t, gj, seed), run(t, gi, seed)
				if !same32(ga.V, gb.V) || !same32(ga.Dx, gb.Dx) || !same32(ga.Dy, gb.Dy) || !same32(ga.Dz, gb.Dz) {
					t.Errorf("%s grad(%g, %g): jit %+v, interp %+v", tp.Instrs[len(tp.Instrs)-1].Op, a, b, ga, gb)
				}
			}
		}
	}
}

func TestRoutineLifetime(t *testing.T) {
	requireJIT(t)
	g := graph.New()
	tp := build(t, g, g.Circle(0, 0, 1))
	r, err := Compile(tp, eval.ModePoint)
	if err != nil {
		t.Fatal(err)
	}
	f, err := AsPoint(r)
	if err != nil {
		t.Fatal(err)
	}
	ev := f.NewEvaluator()
	out := make([]float64, 1)
	if err := ev.Eval([]float64{1, 0, 0}, out); err != nil {
		t.Fatal(err)
	}
	if math.Abs(out[0]) > 1e-15 {
		t.Errorf("circle(1, 0) = %g", out[0])
	}
	if _, err := AsInterval(r); err == nil {
		t.Error("expected a mode mismatch")
	}

	r.Retain()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ev.Eval([]float64{1, 0, 0}, out); err != nil {
		t.Fatalf("routine should still be live: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ev.Eval([]float64{1, 0, 0}, out); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := r.Close(); err == nil {
		t.Error("expected an error closing a released routine")
	}
}

func TestArity(t *testing.T) {
	requireJIT(t)
	g := graph.New()
	tp := build(t, g, g.X())
	ev, _ := compile[eval.Grad](t, tp, MaxRegisters)
	var ae *eval.ArityError
	if err := ev.Eval(make([]eval.Grad, 2), make([]eval.Grad, 1)); !errors.As(err, &ae) {
		t.Errorf("expected *eval.ArityError, got %v", err)
	}
}

func TestCache(t *testing.T) {
	requireJIT(t)
	c := NewCache()
	g := graph.New()
	a := build(t, g, g.Circle(0, 0, 1))
	b := build(t, g, g.Circle(0, 0, 1)) // equal contents
	r1, err := c.Get(a, eval.ModeSimd4)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Get(b, eval.ModeSimd4)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Error("equal tapes compiled twice")
	}
	sin := build(t, g, g.Sin(g.X()))
	if _, err := c.Get(sin, eval.ModePoint); !Unsupported(err) {
		t.Errorf("expected an unsupported error, got %v", err)
	}
	if _, err := c.Get(sin, eval.ModePoint); !Unsupported(err) {
		t.Errorf("expected the cached error, got %v", err)
	}
	if hits, misses := c.Stats(); hits != 2 || misses != 2 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
	if c.Len() != 2 || c.Size() == 0 {
		t.Errorf("len=%d size=%d", c.Len(), c.Size())
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(a, eval.ModeSimd4); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("expected ErrCacheClosed, got %v", err)
	}
	// the caller's references outlive the cache
	f, _ := AsSimd4(r1)
	out := make([]eval.Lanes, 1)
	in := eval.SplitLanes([4][]float32{{1, 0, 0}, {0, 0, 0}, {3, 4, 0}, {0, 1, 0}})
	if err := f.NewEvaluator().Eval(in, out); err != nil {
		t.Fatal(err)
	}
	if want := (eval.Lanes{0, -1, 4, 0}); out[0] != want {
		t.Errorf("got %v, want %v", out[0], want)
	}
	r1.Close()
	r2.Close()
}

func BenchmarkPoint(b *testing.B) {
	requireJIT(b)
	g := graph.New()
	tp := build(b, g, g.Min(g.Sphere(0, 0, 0, 1), g.Sphere(1, 1, 1, 1)))
	r, err := Compile(tp, eval.ModePoint)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()
	f, _ := AsPoint(r)
	ev := f.NewEvaluator()
	in := []float64{0.5, 0.25, 0.125}
	out := make([]float64, 1)
	for i := 0; i < b.N; i++ {
		ev.Eval(in, out)
	}
}
