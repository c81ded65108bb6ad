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

// Command shapevm loads, inspects, compiles
// and evaluates implicit-surface expressions.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dc0d/onexit"
)

var (
	dashv       bool
	dashh       bool
	dashmode    string
	dashbackend string
	dashlevel   string
	dashregs    int
	dashconfig  string
	dasho       string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.BoolVar(&dashh, "h", false, "show usage help")
	flag.StringVar(&dashmode, "mode", "point", "evaluation mode (point, interval, simd4, grad)")
	flag.StringVar(&dashbackend, "backend", "auto", "evaluation backend (auto, interp, jit)")
	flag.StringVar(&dashlevel, "level", "detect", "JIT instruction set level (none, sse2, sse41, detect)")
	flag.IntVar(&dashregs, "regs", 10, "number of registers given to the JIT register allocator")
	flag.StringVar(&dashconfig, "config", "", "YAML file with default settings")
	flag.StringVar(&dasho, "o", "", "file to save the (compressed) tape to")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

type applet struct {
	name string
	help string
	desc string
	// min and max argument counts,
	// not counting the applet name;
	// max < 0 means no limit
	min, max int
	run      func(e *env, args []string) error
}

var applets []applet

func addApplet(a applet) { applets = append(applets, a) }

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	for i := range applets {
		fmt.Fprintf(os.Stderr, "    %s [flags] %s %s\n", os.Args[0], applets[i].name, applets[i].help)
		fmt.Fprintf(os.Stderr, "        %s\n", applets[i].desc)
	}
	fmt.Fprintf(os.Stderr, "flag usage:\n")
	flag.PrintDefaults()
}

func run(e *env, args []string) error {
	for i := range applets {
		a := &applets[i]
		if a.name != args[0] {
			continue
		}
		n := len(args) - 1
		if n < a.min || (a.max >= 0 && n > a.max) {
			return fmt.Errorf("usage: %s %s", a.name, a.help)
		}
		return a.run(e, args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 || dashh {
		usage()
		os.Exit(1)
	}
	cfg, err := settings()
	if err != nil {
		exitf("%s\n", err)
	}
	e, err := newEnv(cfg, os.Stdout, os.Stderr)
	if err != nil {
		exitf("%s\n", err)
	}
	// release mapped code when interrupted
	onexit.Register(func() { e.close() })
	err = run(e, args)
	e.close()
	if err != nil {
		exitf("%s\n", err)
	}
}
