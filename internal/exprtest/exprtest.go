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

// Package exprtest generates random expressions
// and regions for tests.
package exprtest

import (
	"math/rand"

	"github.com/shapevm/shapevm/graph"
	"github.com/shapevm/shapevm/tape"
)

var (
	// Unary holds the unary ops that every
	// backend compiles and that are total on
	// finite inputs.
	Unary = []graph.Op{graph.OpNeg, graph.OpAbs, graph.OpSquare}
	// Binary holds the binary counterpart of Unary.
	Binary = []graph.Op{graph.OpAdd, graph.OpSub, graph.OpMul, graph.OpMin, graph.OpMax}
)

// Ops is a set of operators to draw from.
type Ops struct {
	Unary, Binary []graph.Op
}

// Total is the default operator set.
var Total = Ops{Unary: Unary, Binary: Binary}

// Graph builds a random expression over x, y and z
// with roughly n nodes, folded into one root with
// min so that most nodes are reachable.
func Graph(r *rand.Rand, n int, ops Ops) (*graph.Graph, graph.NodeID) {
	g := graph.New()
	ids := []graph.NodeID{g.X(), g.Y(), g.Z()}
	pick := func() graph.NodeID { return ids[r.Intn(len(ids))] }
	for len(ids) < n {
		var id graph.NodeID
		var err error
		switch k := r.Intn(6); {
		case k == 0:
			id = g.Const(float64(r.Intn(9)-4) / 2)
		case k == 1 && len(ops.Unary) > 0:
			id, err = g.Unary(ops.Unary[r.Intn(len(ops.Unary))], pick())
		default:
			id, err = g.Binary(ops.Binary[r.Intn(len(ops.Binary))], pick(), pick())
		}
		if err != nil {
			panic(err)
		}
		ids = append(ids, id)
	}
	root := ids[len(ids)-1]
	for i := len(ids) - 2; i >= len(ids)/2; i-- {
		root = g.Min(root, ids[i])
	}
	return g, root
}

// Tape is Graph followed by tape.Build.
func Tape(r *rand.Rand, n int, ops Ops) *tape.Tape {
	g, root := Graph(r, n, ops)
	t, err := tape.Build(g, []graph.NodeID{root})
	if err != nil {
		panic(err)
	}
	return t
}

// Box returns a random box within [-scale, scale]
// in each of dims dimensions, as lo/hi pairs.
func Box(r *rand.Rand, dims int, scale float64) [][2]float64 {
	out := make([][2]float64, dims)
	for i := range out {
		a := (r.Float64()*2 - 1) * scale
		b := (r.Float64()*2 - 1) * scale
		if a > b {
			a, b = b, a
		}
		out[i] = [2]float64{a, b}
	}
	return out
}

// Point returns a random point inside box.
func Point(r *rand.Rand, box [][2]float64) []float64 {
	out := make([]float64, len(box))
	for i, b := range box {
		out[i] = b[0] + r.Float64()*(b[1]-b[0])
		if out[i] > b[1] {
			out[i] = b[1]
		}
	}
	return out
}
