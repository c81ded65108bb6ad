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

package jit

// Warnf receives the compiler's non-fatal
// diagnostics: operators a mode has no template
// for, a malformed SHAPEVM_JIT_LEVEL, and routines
// the cache could not build. It is nil (silent) by
// default and must be set before compiling.
var Warnf func(f string, args ...any)

func warnf(f string, args ...any) {
	if w := Warnf; w != nil {
		w(f, args...)
	}
}
