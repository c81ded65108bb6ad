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
	"fmt"
)

// must panics on errors that can only be caused by
// passing ids that do not belong to the graph
func (g *Graph) must(id NodeID, err error) NodeID {
	if err != nil {
		panic(err)
	}
	return id
}

// Input returns the node for the variable with index i.
func (g *Graph) Input(i int) NodeID {
	return g.must(g.Insert(Node{Op: OpInput, Var: i}))
}

// X returns the x input.
func (g *Graph) X() NodeID { return g.Input(0) }

// Y returns the y input.
func (g *Graph) Y() NodeID { return g.Input(1) }

// Z returns the z input.
func (g *Graph) Z() NodeID { return g.Input(2) }

// Var returns the input node for a named variable,
// registering the name if it has not been seen before.
func (g *Graph) Var(name string) NodeID {
	return g.Input(g.varIndex(name))
}

// Const returns a constant node.
func (g *Graph) Const(v float64) NodeID {
	return g.must(g.Insert(Node{Op: OpConst, Imm: v}))
}

// Unary inserts a unary operator node.
func (g *Graph) Unary(op Op, a NodeID) (NodeID, error) {
	if op.Arity() != 1 {
		return 0, fmt.Errorf("%w: %s is not unary", ErrBadNode, op)
	}
	return g.Insert(Node{Op: op, Args: [2]NodeID{a}})
}

// Binary inserts a binary operator node.
func (g *Graph) Binary(op Op, a, b NodeID) (NodeID, error) {
	if op.Arity() != 2 {
		return 0, fmt.Errorf("%w: %s is not binary", ErrBadNode, op)
	}
	return g.Insert(Node{Op: op, Args: [2]NodeID{a, b}})
}

func (g *Graph) unary(op Op, a NodeID) NodeID     { return g.must(g.Unary(op, a)) }
func (g *Graph) binary(op Op, a, b NodeID) NodeID { return g.must(g.Binary(op, a, b)) }

func (g *Graph) Neg(a NodeID) NodeID    { return g.unary(OpNeg, a) }
func (g *Graph) Abs(a NodeID) NodeID    { return g.unary(OpAbs, a) }
func (g *Graph) Recip(a NodeID) NodeID  { return g.unary(OpRecip, a) }
func (g *Graph) Sqrt(a NodeID) NodeID   { return g.unary(OpSqrt, a) }
func (g *Graph) Square(a NodeID) NodeID { return g.unary(OpSquare, a) }
func (g *Graph) Floor(a NodeID) NodeID  { return g.unary(OpFloor, a) }
func (g *Graph) Ceil(a NodeID) NodeID   { return g.unary(OpCeil, a) }
func (g *Graph) Round(a NodeID) NodeID  { return g.unary(OpRound, a) }
func (g *Graph) Sin(a NodeID) NodeID    { return g.unary(OpSin, a) }
func (g *Graph) Cos(a NodeID) NodeID    { return g.unary(OpCos, a) }
func (g *Graph) Tan(a NodeID) NodeID    { return g.unary(OpTan, a) }
func (g *Graph) Asin(a NodeID) NodeID   { return g.unary(OpAsin, a) }
func (g *Graph) Acos(a NodeID) NodeID   { return g.unary(OpAcos, a) }
func (g *Graph) Atan(a NodeID) NodeID   { return g.unary(OpAtan, a) }
func (g *Graph) Exp(a NodeID) NodeID    { return g.unary(OpExp, a) }
func (g *Graph) Ln(a NodeID) NodeID     { return g.unary(OpLn, a) }
func (g *Graph) Not(a NodeID) NodeID    { return g.unary(OpNot, a) }

func (g *Graph) Add(a, b NodeID) NodeID     { return g.binary(OpAdd, a, b) }
func (g *Graph) Sub(a, b NodeID) NodeID     { return g.binary(OpSub, a, b) }
func (g *Graph) Mul(a, b NodeID) NodeID     { return g.binary(OpMul, a, b) }
func (g *Graph) Div(a, b NodeID) NodeID     { return g.binary(OpDiv, a, b) }
func (g *Graph) Min(a, b NodeID) NodeID     { return g.binary(OpMin, a, b) }
func (g *Graph) Max(a, b NodeID) NodeID     { return g.binary(OpMax, a, b) }
func (g *Graph) Mod(a, b NodeID) NodeID     { return g.binary(OpMod, a, b) }
func (g *Graph) Atan2(a, b NodeID) NodeID   { return g.binary(OpAtan2, a, b) }
func (g *Graph) Compare(a, b NodeID) NodeID { return g.binary(OpCompare, a, b) }
func (g *Graph) And(a, b NodeID) NodeID     { return g.binary(OpAnd, a, b) }
func (g *Graph) Or(a, b NodeID) NodeID      { return g.binary(OpOr, a, b) }

// Circle returns sqrt((x-cx)^2 + (y-cy)^2) - r,
// the signed distance to a circle in the xy plane.
func (g *Graph) Circle(cx, cy, r float64) NodeID {
	dx := g.Sub(g.X(), g.Const(cx))
	dy := g.Sub(g.Y(), g.Const(cy))
	return g.Sub(g.Sqrt(g.Add(g.Square(dx), g.Square(dy))), g.Const(r))
}

// Sphere returns the signed distance to a sphere.
func (g *Graph) Sphere(cx, cy, cz, r float64) NodeID {
	dx := g.Sub(g.X(), g.Const(cx))
	dy := g.Sub(g.Y(), g.Const(cy))
	dz := g.Sub(g.Z(), g.Const(cz))
	sum := g.Add(g.Add(g.Square(dx), g.Square(dy)), g.Square(dz))
	return g.Sub(g.Sqrt(sum), g.Const(r))
}
