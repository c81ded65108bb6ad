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
	"math"

	"golang.org/x/exp/slices"

	"github.com/shapevm/shapevm/graph"
)

// Build linearizes the part of g that is reachable
// from outputs into a tape.
//
// Nodes that are not reachable from outputs never
// enter the tape. Graph insertion order is already
// a topological order (a node can only reference
// nodes inserted before it), so the tape is the
// reachable nodes in insertion order, which also
// breaks every tie deterministically.
func Build(g *graph.Graph, outputs []graph.NodeID) (*Tape, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	for _, o := range outputs {
		if int(o) >= g.Len() {
			return nil, &OutputError{Output: o, Len: g.Len()}
		}
	}
	live := g.Reachable(outputs)
	slot := make([]uint32, g.Len())
	n := 0
	for i := range live {
		if live[i] {
			n++
		}
	}
	t := &Tape{
		Instrs:  make([]Instr, 0, n),
		Outputs: make([]uint32, len(outputs)),
		Vars:    slices.Clone(g.Vars()),
	}
	for i := range live {
		if !live[i] {
			continue
		}
		if len(t.Instrs) == math.MaxUint32 {
			return nil, ErrTooLarge
		}
		node := g.Node(graph.NodeID(i))
		in := Instr{Op: node.Op, Imm: node.Imm, Var: node.Var}
		for j, arg := range node.Args[:node.Op.Arity()] {
			in.Args[j] = slot[arg]
		}
		slot[i] = uint32(len(t.Instrs))
		t.Instrs = append(t.Instrs, in)
	}
	for i, o := range outputs {
		t.Outputs[i] = slot[o]
	}
	return t, nil
}

// BuildOutputs is Build(g, g.Outputs()).
func BuildOutputs(g *graph.Graph) (*Tape, error) {
	return Build(g, g.Outputs())
}
