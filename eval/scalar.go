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

package eval

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/shapevm/shapevm/graph"
)

// minsd and maxsd return the second operand when
// the operands are unordered or equal; sel and selmax
// reproduce that so that the interpreter matches
// compiled code bit for bit

func sel[F constraints.Float](a, b F) F {
	if a < b {
		return a
	}
	return b
}

func selmax[F constraints.Float](a, b F) F {
	if a > b {
		return a
	}
	return b
}

func isnan[F constraints.Float](f F) bool { return f != f }

// fmin is min with NaN propagation
func fmin[F constraints.Float](a, b F) F {
	if isnan(a) || isnan(b) {
		return F(math.NaN())
	}
	return sel(a, b)
}

// fmax is max with NaN propagation
func fmax[F constraints.Float](a, b F) F {
	if isnan(a) || isnan(b) {
		return F(math.NaN())
	}
	return selmax(a, b)
}

// modEuclid returns the euclidean remainder of a / b,
// which is always in [0, |b|].
func modEuclid[F constraints.Float](a, b F) F {
	r := F(math.Mod(float64(a), float64(b)))
	if r < 0 {
		r += F(math.Abs(float64(b)))
	}
	return r
}

func compare[F constraints.Float](a, b F) F {
	switch {
	case isnan(a) || isnan(b):
		return F(math.NaN())
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func not[F constraints.Float](a F) F {
	if a == 0 {
		return 1
	}
	return 0
}

// call1 applies a float64 function at precision F
func call1[F constraints.Float](fn func(float64) float64, a F) F {
	return F(fn(float64(a)))
}

// scalar evaluates a non-leaf operator on plain
// floats. The point and simd4 interpreters share it.
func scalar[F constraints.Float](op graph.Op, a, b F) F {
	switch op {
	case graph.OpNeg:
		return -a
	case graph.OpAbs:
		return call1(math.Abs, a)
	case graph.OpRecip:
		return 1 / a
	case graph.OpSqrt:
		return call1(math.Sqrt, a)
	case graph.OpSquare:
		return a * a
	case graph.OpFloor:
		return call1(math.Floor, a)
	case graph.OpCeil:
		return call1(math.Ceil, a)
	case graph.OpRound:
		return call1(math.RoundToEven, a)
	case graph.OpSin:
		return call1(math.Sin, a)
	case graph.OpCos:
		return call1(math.Cos, a)
	case graph.OpTan:
		return call1(math.Tan, a)
	case graph.OpAsin:
		return call1(math.Asin, a)
	case graph.OpAcos:
		return call1(math.Acos, a)
	case graph.OpAtan:
		return call1(math.Atan, a)
	case graph.OpExp:
		return call1(math.Exp, a)
	case graph.OpLn:
		return call1(math.Log, a)
	case graph.OpNot:
		return not(a)
	case graph.OpAdd:
		return a + b
	case graph.OpSub:
		return a - b
	case graph.OpMul:
		return a * b
	case graph.OpDiv:
		return a / b
	case graph.OpMin:
		return fmin(a, b)
	case graph.OpMax:
		return fmax(a, b)
	case graph.OpMod:
		return modEuclid(a, b)
	case graph.OpAtan2:
		return F(math.Atan2(float64(a), float64(b)))
	case graph.OpCompare:
		return compare(a, b)
	case graph.OpAnd:
		if a == 0 {
			return a
		}
		return b
	case graph.OpOr:
		if a != 0 {
			return a
		}
		return b
	case graph.OpInput, graph.OpConst, graph.OpInvalid:
	}
	panic(fmt.Sprintf("eval: unexpected op %s", op))
}
