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

// Package graph implements a hash-consed expression DAG.
//
// Nodes are appended to a Graph and referenced by
// their NodeID. A node may only reference nodes that
// were inserted before it, so a Graph is acyclic by
// construction, and structurally identical nodes
// always share a single NodeID.
package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dchest/siphash"
)

// NodeID identifies a node within a Graph.
type NodeID uint32

// Node is a single expression vertex.
type Node struct {
	Op Op
	// Args holds the operands; only the first
	// Op.Arity() entries are meaningful.
	Args [2]NodeID
	// Imm is the value of an OpConst node.
	Imm float64
	// Var is the variable index of an OpInput node.
	Var int
}

func (n *Node) String() string {
	switch n.Op.Arity() {
	case 0:
		if n.Op == OpConst {
			return fmt.Sprintf("const %g", n.Imm)
		}
		return fmt.Sprintf("input %d", n.Var)
	case 1:
		return fmt.Sprintf("%s _%x", n.Op, n.Args[0])
	default:
		return fmt.Sprintf("%s _%x _%x", n.Op, n.Args[0], n.Args[1])
	}
}

// ErrBadNode is returned when a node has an
// unknown operator or a bad variable index.
var ErrBadNode = errors.New("graph: malformed node")

// CycleError is returned from Insert when a node
// references a child that has not been inserted yet.
// Referencing a node that does not exist is the only
// way a cycle could be formed.
type CycleError struct {
	Child NodeID // the offending reference
	Len   int    // number of nodes in the graph
}

func (c *CycleError) Error() string {
	return fmt.Sprintf("graph: reference to node %d which has not been inserted (graph has %d nodes)", c.Child, c.Len)
}

// canonical NaN; all NaN payloads collapse to it
const nanbits = 0x7ff8000000000000

// fixed keys; hashes never leave the process
const (
	hashk0 = 0x736861706576616c
	hashk1 = 0x6d2d636f6e732121
)

type hashcode [2]uint64

// Graph is a hash-consed DAG of expression nodes.
//
// A Graph is not safe for concurrent mutation,
// but it may be shared freely once it is no
// longer modified.
type Graph struct {
	nodes   []Node
	exprs   map[hashcode][]NodeID
	vars    []string
	varidx  map[string]int
	outputs []NodeID
	scratch [21]byte
}

// New returns an empty graph with the variables
// x, y and z pre-registered as indices 0, 1 and 2.
func New() *Graph {
	g := &Graph{
		exprs:  make(map[hashcode][]NodeID),
		varidx: make(map[string]int),
	}
	for _, name := range []string{"x", "y", "z"} {
		g.varIndex(name)
	}
	return g
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) Node { return g.nodes[id] }

// Vars returns the variable names in index order.
// The returned slice must not be modified.
func (g *Graph) Vars() []string { return g.vars }

// VarName returns the name of variable i.
func (g *Graph) VarName(i int) string { return g.vars[i] }

// VarIndex returns the index of a named variable.
func (g *Graph) VarIndex(name string) (int, bool) {
	i, ok := g.varidx[name]
	return i, ok
}

func (g *Graph) varIndex(name string) int {
	if i, ok := g.varidx[name]; ok {
		return i
	}
	i := len(g.vars)
	g.vars = append(g.vars, name)
	g.varidx[name] = i
	return i
}

// canonical rewrites n into the form used for
// equality: unused fields cleared, commutative
// operands ordered, NaN payloads collapsed
func canonical(n Node) Node {
	switch arity := n.Op.Arity(); arity {
	case 0:
		n.Args = [2]NodeID{}
		if n.Op == OpConst {
			n.Var = 0
			if math.IsNaN(n.Imm) {
				n.Imm = math.Float64frombits(nanbits)
			}
		} else {
			n.Imm = 0
		}
	case 1:
		n.Args[1] = 0
		n.Imm, n.Var = 0, 0
	case 2:
		if n.Op.Commutative() && n.Args[1] < n.Args[0] {
			n.Args[0], n.Args[1] = n.Args[1], n.Args[0]
		}
		n.Imm, n.Var = 0, 0
	}
	return n
}

func same(a, b *Node) bool {
	return a.Op == b.Op && a.Args == b.Args && a.Var == b.Var &&
		math.Float64bits(a.Imm) == math.Float64bits(b.Imm)
}

func (g *Graph) hash(n *Node) hashcode {
	buf := g.scratch[:]
	buf[0] = byte(n.Op)
	binary.LittleEndian.PutUint32(buf[1:], uint32(n.Args[0]))
	binary.LittleEndian.PutUint32(buf[5:], uint32(n.Args[1]))
	binary.LittleEndian.PutUint64(buf[9:], math.Float64bits(n.Imm))
	binary.LittleEndian.PutUint32(buf[17:], uint32(n.Var))
	lo, hi := siphash.Hash128(hashk0, hashk1, buf)
	return hashcode{lo, hi}
}

// Insert adds n to the graph, or returns the id of an
// existing node that is structurally identical to n.
// Commutative operators are canonicalized so that
// the lower operand id comes first, which makes
// Insert idempotent regardless of operand order.
//
// Every operand of n must already be present in the
// graph; otherwise a *CycleError is returned.
func (g *Graph) Insert(n Node) (NodeID, error) {
	if !n.Op.Valid() {
		return 0, fmt.Errorf("%w: op %d", ErrBadNode, n.Op)
	}
	if n.Op == OpInput && (n.Var < 0 || n.Var >= len(g.vars)) {
		return 0, fmt.Errorf("%w: variable index %d out of range", ErrBadNode, n.Var)
	}
	for _, arg := range n.Args[:n.Op.Arity()] {
		if int(arg) >= len(g.nodes) {
			return 0, &CycleError{Child: arg, Len: len(g.nodes)}
		}
	}
	n = canonical(n)
	h := g.hash(&n)
	for _, id := range g.exprs[h] {
		if same(&g.nodes[id], &n) {
			return id, nil
		}
	}
	if len(g.nodes) >= math.MaxUint32 {
		return 0, fmt.Errorf("graph: too many nodes")
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.exprs[h] = append(g.exprs[h], id)
	return id, nil
}

// Output marks id as a result of the graph.
// Marking the same node twice has no effect.
func (g *Graph) Output(id NodeID) error {
	if int(id) >= len(g.nodes) {
		return fmt.Errorf("graph: output %d not present (graph has %d nodes)", id, len(g.nodes))
	}
	for _, o := range g.outputs {
		if o == id {
			return nil
		}
	}
	g.outputs = append(g.outputs, id)
	return nil
}

// Outputs returns the designated outputs in the
// order they were marked.
func (g *Graph) Outputs() []NodeID { return g.outputs }

// Reachable returns a bitmap of the nodes that
// are reachable from roots.
func (g *Graph) Reachable(roots []NodeID) []bool {
	live := make([]bool, len(g.nodes))
	for _, r := range roots {
		if int(r) < len(live) {
			live[r] = true
		}
	}
	// children always have lower ids than parents,
	// so a single backwards sweep is sufficient
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if !live[i] {
			continue
		}
		n := &g.nodes[i]
		for _, arg := range n.Args[:n.Op.Arity()] {
			live[arg] = true
		}
	}
	return live
}
