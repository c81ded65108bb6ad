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

package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SyntaxError is returned by ReadText for
// malformed input.
type SyntaxError struct {
	Line int
	Msg  string
}

func (s *SyntaxError) Error() string {
	return fmt.Sprintf("graph: line %d: %s", s.Line, s.Msg)
}

// ReadText parses the line-oriented text format
//
//	# comment
//	_0 var-x
//	_1 const 2.5
//	_2 mul _0 _1
//	_3 var-radius
//
// Each line binds a name to a node. Variables other
// than x, y and z are registered in order of first
// appearance. The node defined on the last line is
// returned and marked as the graph output.
func ReadText(r io.Reader) (*Graph, NodeID, error) {
	g := New()
	names := make(map[string]NodeID)
	var last NodeID
	seen := false
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, 0, &SyntaxError{Line: line, Msg: "expected '<name> <op> <args...>'"}
		}
		name, opname, args := fields[0], fields[1], fields[2:]
		if _, ok := names[name]; ok {
			return nil, 0, &SyntaxError{Line: line, Msg: fmt.Sprintf("%q redefined", name)}
		}
		id, err := g.parseLine(opname, args, names)
		if err != nil {
			return nil, 0, &SyntaxError{Line: line, Msg: err.Error()}
		}
		names[name] = id
		last = id
		seen = true
	}
	if err := s.Err(); err != nil {
		return nil, 0, fmt.Errorf("graph: reading text: %w", err)
	}
	if !seen {
		return nil, 0, &SyntaxError{Line: line, Msg: "no expressions"}
	}
	if err := g.Output(last); err != nil {
		return nil, 0, err
	}
	return g, last, nil
}

func (g *Graph) parseLine(opname string, args []string, names map[string]NodeID) (NodeID, error) {
	if v, ok := strings.CutPrefix(opname, "var-"); ok {
		if len(args) != 0 || v == "" {
			return 0, fmt.Errorf("malformed variable %q", opname)
		}
		return g.Var(v), nil
	}
	if opname == "const" {
		if len(args) != 1 {
			return 0, fmt.Errorf("const takes one argument")
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return 0, fmt.Errorf("bad constant %q", args[0])
		}
		return g.Const(f), nil
	}
	op, ok := ParseOp(opname)
	if !ok {
		return 0, fmt.Errorf("unknown opcode %q", opname)
	}
	if len(args) != op.Arity() {
		return 0, fmt.Errorf("%s takes %d arguments, found %d", op, op.Arity(), len(args))
	}
	var ids [2]NodeID
	for i, arg := range args {
		id, ok := names[arg]
		if !ok {
			return 0, fmt.Errorf("undefined name %q", arg)
		}
		ids[i] = id
	}
	return g.Insert(Node{Op: op, Args: ids})
}

// WriteText writes the subgraph reachable from root
// in the format accepted by ReadText. The root node
// is always written last.
func (g *Graph) WriteText(w io.Writer, root NodeID) error {
	if int(root) >= len(g.nodes) {
		return fmt.Errorf("graph: node %d not present", root)
	}
	live := g.Reachable([]NodeID{root})
	bw := bufio.NewWriter(w)
	for i := 0; i <= int(root); i++ {
		if !live[i] {
			continue
		}
		n := &g.nodes[i]
		fmt.Fprintf(bw, "_%x ", i)
		switch n.Op {
		case OpInput:
			fmt.Fprintf(bw, "var-%s\n", g.vars[n.Var])
		case OpConst:
			fmt.Fprintf(bw, "const %s\n", strconv.FormatFloat(n.Imm, 'g', -1, 64))
		default:
			bw.WriteString(n.Op.String())
			for _, arg := range n.Args[:n.Op.Arity()] {
				fmt.Fprintf(bw, " _%x", arg)
			}
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// WriteDot writes the graph in a format that the
// dot(1) tool can turn into a visual graph.
func (g *Graph) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("digraph expr {\n")
	for i := range g.nodes {
		n := &g.nodes[i]
		name := fmt.Sprintf("_%x", i)
		label := n.String()
		if n.Op == OpInput {
			label = g.vars[n.Var]
		}
		fmt.Fprintf(bw, "\t%q [label=%q];\n", name, name+" = "+label)
		for _, arg := range n.Args[:n.Op.Arity()] {
			fmt.Fprintf(bw, "\t%q -> %q;\n", fmt.Sprintf("_%x", arg), name)
		}
	}
	for _, o := range g.outputs {
		fmt.Fprintf(bw, "\t%q -> ret;\n", fmt.Sprintf("_%x", o))
	}
	bw.WriteString("}\n")
	return bw.Flush()
}
