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
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/docker/go-units"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/jit"
	"github.com/shapevm/shapevm/tape"
)

func showTape(e *env, t *tape.Tape) error {
	if _, err := t.WriteTo(e.out); err != nil {
		return err
	}
	asg, err := tape.Allocate(t, e.regs)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "# %d instructions, pressure %d, %d spill slots with %d registers\n",
		t.Len(), tape.Pressure(t), asg.Spills, asg.Regs)
	return save(e, t)
}

func simplify(e *env, t *tape.Tape, args []string) error {
	if len(args) != len(t.Vars) {
		return fmt.Errorf("expected %d intervals, found %d", len(t.Vars), len(args))
	}
	region, err := parseArgs(args, parseInterval)
	if err != nil {
		return err
	}
	st, choices, err := eval.Simplify(t, region)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "# %d of %d choices resolved, %d -> %d instructions\n",
		tape.Resolved(t, choices), countChoices(t), t.Len(), st.Len())
	if _, err := st.WriteTo(e.out); err != nil {
		return err
	}
	return save(e, st)
}

func compile(e *env, t *tape.Tape) error {
	for m := eval.ModePoint; m < eval.NumModes; m++ {
		p, err := jit.Assemble(t, m, e.jitopts...)
		if err != nil {
			if !jit.Unsupported(err) {
				return err
			}
			fmt.Fprintf(e.out, "%-8s %s\n", m, err)
			continue
		}
		fmt.Fprintf(e.out, "%-8s %s of code, %d spill slots\n",
			m, units.HumanSize(float64(len(p.Code))), p.Assignment.Spills)
		if e.verbose {
			fmt.Fprint(e.out, hex.Dump(p.Code))
		}
	}
	return nil
}

var errNoGraph = errors.New("a saved tape has no graph; use the text form")

func init() {
	addApplet(applet{
		name: "tape",
		help: "<expr>",
		desc: `print the tape and its register pressure (and save it with -o)`,
		min:  1,
		max:  1,
		run: func(e *env, args []string) error {
			src, err := load(args[0])
			if err != nil {
				return err
			}
			return showTape(e, src.t)
		},
	})
	addApplet(applet{
		name: "simplify",
		help: "<expr> <lo:hi>...",
		desc: `simplify the tape over a region, one interval per variable`,
		min:  1,
		max:  -1,
		run: func(e *env, args []string) error {
			src, err := load(args[0])
			if err != nil {
				return err
			}
			return simplify(e, src.t, args[1:])
		},
	})
	addApplet(applet{
		name: "dot",
		help: "<expr>",
		desc: `print the expression graph for dot(1)`,
		min:  1,
		max:  1,
		run: func(e *env, args []string) error {
			src, err := load(args[0])
			if err != nil {
				return err
			}
			if src.g == nil {
				return errNoGraph
			}
			return src.g.WriteDot(e.out)
		},
	})
	addApplet(applet{
		name: "compile",
		help: "<expr>",
		desc: `assemble the tape in every mode and report the code size (-v dumps it)`,
		min:  1,
		max:  1,
		run: func(e *env, args []string) error {
			src, err := load(args[0])
			if err != nil {
				return err
			}
			return compile(e, src.t)
		},
	})
}
