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
	"flag"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/shapevm/shapevm/jit"
)

// config holds the settings that can come from
// a -config file; flags given on the command
// line take precedence
type config struct {
	Mode      string `json:"mode"`
	Backend   string `json:"backend"`
	Level     string `json:"level"`
	Registers int    `json:"registers"`
	Verbose   bool   `json:"verbose"`
	// Output is where tape and simplify save
	// the compressed tape, if set
	Output string `json:"output,omitempty"`
	// History is the REPL history file
	History string `json:"history,omitempty"`
}

func defaultConfig() config {
	return config{
		Mode:      "point",
		Backend:   "auto",
		Level:     "detect",
		Registers: jit.MaxRegisters,
		History:   ".shapevm-history.tmp",
	}
}

func loadConfig(path string, c *config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(buf, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func settings() (config, error) {
	c := defaultConfig()
	if dashconfig != "" {
		if err := loadConfig(dashconfig, &c); err != nil {
			return c, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			c.Verbose = dashv
		case "mode":
			c.Mode = dashmode
		case "backend":
			c.Backend = dashbackend
		case "level":
			c.Level = dashlevel
		case "regs":
			c.Registers = dashregs
		case "o":
			c.Output = dasho
		}
	})
	return c, nil
}
