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

// Op is an expression operator.
//
// The set of operators is closed; every evaluator
// switches over all of them.
type Op uint8

const (
	OpInvalid Op = iota

	// leaves
	OpInput // an input variable (x, y, z, ...)
	OpConst // a float64 constant

	// unary
	OpNeg
	OpAbs
	OpRecip
	OpSqrt
	OpSquare
	OpFloor
	OpCeil
	OpRound // round half to even
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpExp
	OpLn
	OpNot // 1 if the argument is zero, 0 otherwise

	// binary
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax
	OpMod     // euclidean remainder
	OpAtan2   // atan2(lhs, rhs)
	OpCompare // -1, 0 or 1
	OpAnd     // lhs if lhs is zero, otherwise rhs
	OpOr      // lhs if lhs is non-zero, otherwise rhs

	_maxop
)

type opinfo struct {
	name  string
	args  int
	comm  bool // commutative
	choix bool // produces a choice in interval mode
}

var opinfos = [_maxop]opinfo{
	OpInvalid: {name: "invalid"},
	OpInput:   {name: "input"},
	OpConst:   {name: "const"},
	OpNeg:     {name: "neg", args: 1},
	OpAbs:     {name: "abs", args: 1},
	OpRecip:   {name: "recip", args: 1},
	OpSqrt:    {name: "sqrt", args: 1},
	OpSquare:  {name: "square", args: 1},
	OpFloor:   {name: "floor", args: 1},
	OpCeil:    {name: "ceil", args: 1},
	OpRound:   {name: "round", args: 1},
	OpSin:     {name: "sin", args: 1},
	OpCos:     {name: "cos", args: 1},
	OpTan:     {name: "tan", args: 1},
	OpAsin:    {name: "asin", args: 1},
	OpAcos:    {name: "acos", args: 1},
	OpAtan:    {name: "atan", args: 1},
	OpExp:     {name: "exp", args: 1},
	OpLn:      {name: "ln", args: 1},
	OpNot:     {name: "not", args: 1},
	OpAdd:     {name: "add", args: 2, comm: true},
	OpSub:     {name: "sub", args: 2},
	OpMul:     {name: "mul", args: 2, comm: true},
	OpDiv:     {name: "div", args: 2},
	OpMin:     {name: "min", args: 2, comm: true, choix: true},
	OpMax:     {name: "max", args: 2, comm: true, choix: true},
	OpMod:     {name: "mod", args: 2},
	OpAtan2:   {name: "atan2", args: 2},
	OpCompare: {name: "compare", args: 2},
	OpAnd:     {name: "and", args: 2, choix: true},
	OpOr:      {name: "or", args: 2, choix: true},
}

var opnames map[string]Op

func init() {
	opnames = make(map[string]Op, len(opinfos))
	for op := OpNeg; op < _maxop; op++ {
		opnames[opinfos[op].name] = op
	}
}

// Valid returns whether op is a known operator.
func (op Op) Valid() bool { return op > OpInvalid && op < _maxop }

func (op Op) String() string {
	if op >= _maxop {
		return "invalid"
	}
	return opinfos[op].name
}

// Arity returns the number of node arguments
// the operator consumes.
func (op Op) Arity() int {
	if op >= _maxop {
		return 0
	}
	return opinfos[op].args
}

// Commutative returns whether the operands
// of op may be swapped.
func (op Op) Commutative() bool { return op < _maxop && opinfos[op].comm }

// IsChoice returns whether op selects one of its
// two operands, and thus records a choice during
// interval evaluation.
func (op Op) IsChoice() bool { return op < _maxop && opinfos[op].choix }

// ParseOp looks up a unary or binary operator by name.
func ParseOp(name string) (Op, bool) {
	op, ok := opnames[name]
	return op, ok
}
