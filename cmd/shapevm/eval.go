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
	"strconv"
	"strings"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/tape"
)

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

// parseInterval parses "lo:hi" or a single value
func parseInterval(s string) (eval.Interval, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		v, err := parseFloat(s)
		return eval.Splat(v), err
	}
	var i eval.Interval
	var err error
	if i.Lo, err = parseFloat(lo); err != nil {
		return i, err
	}
	if i.Hi, err = parseFloat(hi); err != nil {
		return i, err
	}
	if !(i.Lo <= i.Hi) {
		return i, fmt.Errorf("bad interval %q", s)
	}
	return i, nil
}

// parseLanes parses "a,b,c,d" or a single
// value for all four lanes
func parseLanes(s string) (eval.Lanes, error) {
	var l eval.Lanes
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		v, err := parseFloat32(s)
		return eval.Lanes{v, v, v, v}, err
	case len(l):
		for i := range parts {
			v, err := parseFloat32(parts[i])
			if err != nil {
				return l, err
			}
			l[i] = v
		}
		return l, nil
	}
	return l, fmt.Errorf("expected %d lanes in %q", len(l), s)
}

func parseArgs[T any](args []string, parse func(string) (T, error)) ([]T, error) {
	out := make([]T, len(args))
	for i := range args {
		v, err := parse(args[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func formatGrad(g eval.Grad) string {
	return fmt.Sprintf("%g [%g %g %g]", g.V, g.Dx, g.Dy, g.Dz)
}

func countChoices(t *tape.Tape) int {
	n := 0
	for i := range t.Instrs {
		if t.Instrs[i].Op.IsChoice() {
			n++
		}
	}
	return n
}

func report[T eval.Value](e *env, f eval.Func[T], err error, in []T, format func(T) string) error {
	if err != nil {
		return err
	}
	t := f.Tape()
	e.logf("evaluating %d instructions in %s mode (%s)", t.Len(), f.Mode(), f.Backend())
	ev := f.NewEvaluator()
	out := make([]T, len(t.Outputs))
	if err := ev.Eval(in, out); err != nil {
		return err
	}
	for i := range out {
		fmt.Fprintln(e.out, format(out[i]))
	}
	if c, ok := ev.(eval.ChoiceEvaluator); ok {
		if n := countChoices(t); n > 0 {
			fmt.Fprintf(e.out, "# %d of %d choices resolved\n", tape.Resolved(t, c.Choices()), n)
		}
	}
	return nil
}

// evaluate evaluates t once in the mode of e,
// with one argument per tape variable
func evaluate(e *env, t *tape.Tape, args []string) error {
	if len(args) != len(t.Vars) {
		return fmt.Errorf("expected %d values (%s), found %d", len(t.Vars), strings.Join(t.Vars, " "), len(args))
	}
	en := e.engine(t)
	defer en.Close()
	switch e.mode {
	case eval.ModePoint:
		in, err := parseArgs(args, parseFloat)
		if err != nil {
			return err
		}
		f, err := en.Point()
		return report(e, f, err, in, formatFloat)
	case eval.ModeInterval:
		in, err := parseArgs(args, parseInterval)
		if err != nil {
			return err
		}
		f, err := en.Interval()
		return report(e, f, err, in, eval.Interval.String)
	case eval.ModeSimd4:
		in, err := parseArgs(args, parseLanes)
		if err != nil {
			return err
		}
		f, err := en.Simd4()
		return report(e, f, err, in, func(l eval.Lanes) string { return fmt.Sprint(l) })
	case eval.ModeGrad:
		v, err := parseArgs(args, parseFloat32)
		if err != nil {
			return err
		}
		if len(v) < 3 {
			return fmt.Errorf("grad mode needs x, y and z")
		}
		f, err := en.Grad()
		return report(e, f, err, eval.SeedGrad(v[0], v[1], v[2], v[3:]...), formatGrad)
	}
	return fmt.Errorf("unknown mode %s", e.mode)
}

func init() {
	addApplet(applet{
		name: "eval",
		help: "<expr> <value>...",
		desc: `evaluate an expression once; values are "v" (point, grad), "lo:hi" (interval) or "a,b,c,d" (simd4)`,
		min:  1,
		max:  -1,
		run: func(e *env, args []string) error {
			src, err := load(args[0])
			if err != nil {
				return err
			}
			return evaluate(e, src.t, args[1:])
		},
	})
}
