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

package shapevm

import (
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"slices"
	"strings"
	"testing"
)

const module = "github.com/shapevm/shapevm"

type goPackage struct {
	ImportPath string
	Imports    []string
}

func listPackages(t *testing.T) []goPackage {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}
	out, err := exec.Command("go", "list", "-json", "./...").Output()
	if err != nil {
		t.Fatal(err)
	}
	var pkgs []goPackage
	d := json.NewDecoder(strings.NewReader(string(out)))
	for {
		var p goPackage
		err := d.Decode(&p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs
}

func TestImports(t *testing.T) {
	for _, p := range listPackages(t) {
		if slices.Contains(p.Imports, "testing") {
			t.Errorf("package %s imports \"testing\"", p.ImportPath)
		}
	}
}

// the interpreter builds and runs anywhere, so
// it may not depend on the native code path
func TestPortableCore(t *testing.T) {
	portable := []string{"graph", "heap", "ints", "tape", "eval"}
	banned := []string{"unsafe", module + "/jit", module + "/engine", module + "/internal/amd64"}
	for _, p := range listPackages(t) {
		name, ok := strings.CutPrefix(p.ImportPath, module+"/")
		if !ok || !slices.Contains(portable, name) {
			continue
		}
		for _, b := range banned {
			if slices.Contains(p.Imports, b) {
				t.Errorf("package %s imports %q", p.ImportPath, b)
			}
		}
	}
}
