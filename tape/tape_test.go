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

package tape

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/shapevm/shapevm/graph"
)

const circleText = `
_0 var-x
_1 var-y
_2 square _0
_3 square _1
_4 add _2 _3
_5 sqrt _4
_6 const 1
_7 sub _5 _6
`

func circleTape(t testing.TB) *Tape {
	g, root, err := graph.ReadText(strings.NewReader(circleText))
	if err != nil {
		t.Fatal(err)
	}
	tp, err := Build(g, []graph.NodeID{root})
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

// randomGraph builds a random expression over
// x, y and z using only ops that every backend
// supports
func randomGraph(r *rand.Rand, n int) (*graph.Graph, graph.NodeID) {
	g := graph.New()
	ids := []graph.NodeID{g.X(), g.Y(), g.Z()}
	unary := []graph.Op{graph.OpNeg, graph.OpAbs, graph.OpSquare, graph.OpSqrt}
	binary := []graph.Op{graph.OpAdd, graph.OpSub, graph.OpMul, graph.OpMin, graph.OpMax}
	for len(ids) < n {
		pick := func() graph.NodeID { return ids[r.Intn(len(ids))] }
		var id graph.NodeID
		var err error
		switch r.Intn(6) {
		case 0:
			id = g.Const(float64(r.Intn(9) - 4))
		case 1:
			id, err = g.Unary(unary[r.Intn(len(unary))], pick())
		default:
			id, err = g.Binary(binary[r.Intn(len(binary))], pick(), pick())
		}
		if err != nil {
			panic(err)
		}
		ids = append(ids, id)
	}
	// fold everything into one root so
	// most nodes are reachable
	root := ids[len(ids)-1]
	for i := len(ids) - 2; i >= len(ids)/2; i-- {
		root = g.Min(root, ids[i])
	}
	return g, root
}

func TestBuild(t *testing.T) {
	tp := circleTape(t)
	want := `s0 = input x
s1 = input y
s2 = square s0
s3 = square s1
s4 = add s2 s3
s5 = sqrt s4
s6 = const 1
s7 = sub s5 s6
ret: s7
`
	if got := tp.String(); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
	if err := tp.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestBuildDeadCode(t *testing.T) {
	g := graph.New()
	dead := g.Exp(g.Z())
	c := g.Circle(0, 0, 1)
	tp, err := Build(g, []graph.NodeID{c})
	if err != nil {
		t.Fatal(err)
	}
	if tp.Count(graph.OpExp) != 0 {
		t.Fatalf("dead node %d entered the tape:\n%s", dead, tp)
	}
	for i := range tp.Instrs {
		if tp.Instrs[i].Op == graph.OpInput && tp.Instrs[i].Var == 2 {
			t.Fatal("z is not used by the circle")
		}
	}
	// variables are kept even if unused
	if len(tp.Vars) != 3 {
		t.Fatalf("vars = %v", tp.Vars)
	}
}

func TestBuildDeterministic(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		g1, r1 := randomGraph(rand.New(rand.NewSource(seed)), 60)
		g2, r2 := randomGraph(rand.New(rand.NewSource(seed)), 60)
		t1, err := Build(g1, []graph.NodeID{r1})
		if err != nil {
			t.Fatal(err)
		}
		t2, err := Build(g2, []graph.NodeID{r2})
		if err != nil {
			t.Fatal(err)
		}
		if !t1.Equal(t2) || t1.String() != t2.String() {
			t.Fatalf("seed %d: tapes differ", seed)
		}
		b1, _ := t1.MarshalBinary()
		b2, _ := t2.MarshalBinary()
		if !bytes.Equal(b1, b2) {
			t.Fatalf("seed %d: encodings differ", seed)
		}
		if err := t1.Validate(); err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
	}
}

func TestBuildOutputs(t *testing.T) {
	g := graph.New()
	a := g.Circle(1, 0, 1)
	b := g.Circle(-1, 0, 1)
	x := g.X()
	tp, err := Build(g, []graph.NodeID{b, x, a})
	if err != nil {
		t.Fatal(err)
	}
	if len(tp.Outputs) != 3 {
		t.Fatalf("outputs = %v", tp.Outputs)
	}
	if in := tp.Instrs[tp.Outputs[1]]; in.Op != graph.OpInput || in.Var != 0 {
		t.Fatalf("second output should be x, found %v", in)
	}
	if tp.Outputs[2] >= tp.Outputs[0] {
		t.Fatal("outputs should keep graph order within the tape")
	}

	_, err = Build(g, []graph.NodeID{graph.NodeID(g.Len() + 3)})
	var oe *OutputError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OutputError, got %v", err)
	}
	if _, err := Build(g, nil); !errors.Is(err, ErrNoOutputs) {
		t.Fatalf("expected ErrNoOutputs, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tcs := []*Tape{
		{Instrs: []Instr{{Op: graph.OpInput}}, Vars: []string{"x"}},
		{Instrs: []Instr{{Op: graph.OpNeg, Args: [2]uint32{0}}}, Outputs: []uint32{0}, Vars: []string{"x"}},
		{Instrs: []Instr{{Op: graph.OpInput, Var: 1}}, Outputs: []uint32{0}, Vars: []string{"x"}},
		{Instrs: []Instr{{Op: graph.OpInput}}, Outputs: []uint32{1}, Vars: []string{"x"}},
		{Instrs: []Instr{{Op: 0}}, Outputs: []uint32{0}},
	}
	for i, tc := range tcs {
		if err := tc.Validate(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestLiveRanges(t *testing.T) {
	tp := circleTape(t)
	want := []Range{{0, 2}, {1, 3}, {2, 4}, {3, 4}, {4, 5}, {5, 7}, {6, 7}, {7, 8}}
	got := LiveRanges(tp)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if p := Pressure(tp); p != 3 {
		t.Errorf("pressure = %d", p)
	}
}

func TestAllocate(t *testing.T) {
	tp := circleTape(t)
	tcs := []struct {
		regs   int
		want   string
		spills int
	}{
		{3, "r0 r1 r2 r0 r1 r0 r1 r2", 0},
		{2, "r0 r1 [0] r0 r1 r0 r1 [0]", 1},
		{1, "r0 [0] [1] r0 [0] r0 [0] [1]", 2},
	}
	for _, tc := range tcs {
		a, err := Allocate(tp, tc.regs)
		if err != nil {
			t.Fatal(err)
		}
		var parts []string
		for _, l := range a.Loc {
			parts = append(parts, l.String())
		}
		if got := strings.Join(parts, " "); got != tc.want {
			t.Errorf("regs=%d: got %s, want %s", tc.regs, got, tc.want)
		}
		if a.Spills != tc.spills {
			t.Errorf("regs=%d: spills = %d, want %d", tc.regs, a.Spills, tc.spills)
		}
		if err := a.Validate(tp); err != nil {
			t.Errorf("regs=%d: %v", tc.regs, err)
		}
	}
	for _, n := range []int{0, -1, MaxRegs + 1} {
		if _, err := Allocate(tp, n); !errors.Is(err, ErrRegisterCount) {
			t.Errorf("Allocate(%d): %v", n, err)
		}
	}
}

func TestAllocateRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		g, root := randomGraph(r, 10+r.Intn(150))
		tp, err := Build(g, []graph.NodeID{root})
		if err != nil {
			t.Fatal(err)
		}
		regs := 1 + r.Intn(16)
		a, err := Allocate(tp, regs)
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Validate(tp); err != nil {
			t.Fatalf("iteration %d (regs=%d): %v\n%s", i, regs, err, tp)
		}
		// brute-force check against the live ranges
		ranges := LiveRanges(tp)
		for p := range a.Loc {
			for q := p + 1; q < len(a.Loc) && q <= ranges[p].LastUse; q++ {
				if a.Loc[p] == a.Loc[q] && ranges[p].Overlaps(ranges[q]) {
					t.Fatalf("slots %d and %d share %s", p, q, a.Loc[p])
				}
			}
		}
		if Pressure(tp) <= regs && a.Spills != 0 {
			t.Fatalf("spilled %d slots with pressure %d and %d registers", a.Spills, Pressure(tp), regs)
		}
		again, _ := Allocate(tp, regs)
		for j := range a.Loc {
			if a.Loc[j] != again.Loc[j] {
				t.Fatal("allocation is not deterministic")
			}
		}
	}
}

func TestAssignmentValidateDetectsOverlap(t *testing.T) {
	tp := circleTape(t)
	a, _ := Allocate(tp, 3)
	a.Loc[3] = a.Loc[2] // s2 and s3 are both live at 3
	if err := a.Validate(tp); err == nil {
		t.Fatal("expected an overlap error")
	}
}

func minTape(t *testing.T, outputMin bool) *Tape {
	g := graph.New()
	a := g.Add(g.X(), g.Const(1))
	b := g.Mul(g.Y(), g.Const(2))
	m := g.Min(a, b)
	out := m
	if !outputMin {
		out = g.Sub(m, g.Const(3))
	}
	tp, err := Build(g, []graph.NodeID{out})
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

func choicesAt(tp *Tape, c Choice) []Choice {
	out := make([]Choice, tp.Len())
	for i := range tp.Instrs {
		if tp.Instrs[i].Op.IsChoice() {
			out[i] = c
		}
	}
	return out
}

func TestSimplify(t *testing.T) {
	tp := minTape(t, false)
	tcs := []struct {
		choice Choice
		want   string
	}{
		{ChoiceLeft, "s0 = input x\ns1 = const 1\ns2 = add s0 s1\ns3 = const 3\ns4 = sub s2 s3\nret: s4\n"},
		{ChoiceRight, "s0 = input y\ns1 = const 2\ns2 = mul s0 s1\ns3 = const 3\ns4 = sub s2 s3\nret: s4\n"},
		{ChoiceBoth, tp.String()},
		{ChoiceUnknown, tp.String()},
	}
	for _, tc := range tcs {
		got, err := Simplify(tp, choicesAt(tp, tc.choice))
		if err != nil {
			t.Fatal(err)
		}
		if got.String() != tc.want {
			t.Errorf("%s: got\n%s\nwant\n%s", tc.choice, got, tc.want)
		}
		if err := got.Validate(); err != nil {
			t.Errorf("%s: %v", tc.choice, err)
		}
	}
	if _, err := Simplify(tp, nil); err == nil {
		t.Fatal("expected an error for a short choice slice")
	}
}

func TestSimplifyOutputIsChoice(t *testing.T) {
	tp := minTape(t, true)
	got, err := Simplify(tp, choicesAt(tp, ChoiceRight))
	if err != nil {
		t.Fatal(err)
	}
	want := "s0 = input y\ns1 = const 2\ns2 = mul s0 s1\nret: s2\n"
	if got.String() != want {
		t.Fatalf("got\n%s", got)
	}
	if n := Resolved(tp, choicesAt(tp, ChoiceRight)); n != 1 {
		t.Fatalf("resolved = %d", n)
	}
}

func TestSimplifyChained(t *testing.T) {
	// max(z, min(x, y)) resolving to x must
	// forward through both choices
	g := graph.New()
	a, b, c := g.X(), g.Y(), g.Z()
	inner := g.Min(a, b)
	outer := g.Max(inner, c) // canonicalized to max(z, inner)
	root := g.Neg(outer)
	tp, err := Build(g, []graph.NodeID{root})
	if err != nil {
		t.Fatal(err)
	}
	choices := make([]Choice, tp.Len())
	choices[3] = ChoiceLeft
	choices[4] = ChoiceRight
	got, err := Simplify(tp, choices)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "s0 = input x\ns1 = neg s0\nret: s1\n" {
		t.Fatalf("got\n%s", got)
	}
	// the original tape is untouched
	if tp.Len() != 6 {
		t.Fatalf("original modified:\n%s", tp)
	}
}

func TestCodec(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		g, root := randomGraph(r, 80)
		g.Var("extra")
		tp, err := Build(g, []graph.NodeID{root, g.X()})
		if err != nil {
			t.Fatal(err)
		}
		tp.Instrs[0].Imm = math.NaN()
		raw, err := tp.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		var back Tape
		if err := back.UnmarshalBinary(raw); err != nil {
			t.Fatal(err)
		}
		if !back.Equal(tp) {
			t.Fatal("binary round trip changed the tape")
		}
		if back.Digest() != tp.Digest() {
			t.Fatal("digest mismatch")
		}
		var buf bytes.Buffer
		if _, err := tp.WriteCompressed(&buf); err != nil {
			t.Fatal(err)
		}
		z, err := ReadCompressed(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if !z.Equal(tp) {
			t.Fatal("compressed round trip changed the tape")
		}
	}
}

func TestCodecCorrupt(t *testing.T) {
	raw, _ := circleTape(t).MarshalBinary()
	var tp Tape
	for n := 0; n < len(raw); n++ {
		if err := tp.UnmarshalBinary(raw[:n]); err == nil {
			t.Fatalf("truncation to %d bytes accepted", n)
		}
	}
	bad := append([]byte(nil), raw...)
	bad[0] = 'X'
	if err := tp.UnmarshalBinary(bad); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad magic: %v", err)
	}
	if err := tp.UnmarshalBinary(append(raw, 0)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("trailing data: %v", err)
	}
	if _, err := ReadCompressed(bytes.NewReader([]byte("not zstd"))); err == nil {
		t.Fatal("expected an error")
	}
}

func TestDigest(t *testing.T) {
	a := circleTape(t)
	b := circleTape(t)
	if a.Digest() != b.Digest() {
		t.Fatal("equal tapes have different digests")
	}
	b.Instrs[6].Imm = 2
	if a.Digest() == b.Digest() {
		t.Fatal("different tapes have equal digests")
	}
}

func BenchmarkAllocate(b *testing.B) {
	g, root := randomGraph(rand.New(rand.NewSource(1)), 2000)
	tp, err := Build(g, []graph.NodeID{root})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Allocate(tp, 11)
	}
}
