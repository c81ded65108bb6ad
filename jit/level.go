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

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Level describes which instructions the
// compiler may emit.
type Level uint32

const (
	// LevelNone disables compilation.
	LevelNone Level = iota

	// LevelSSE2 is the x86-64 baseline. Rounding
	// operators are not compiled at this level.
	LevelSSE2

	// LevelSSE41 adds ROUNDSD and friends.
	LevelSSE41

	// LevelDetect selects the level from the
	// environment variable (SHAPEVM_JIT_LEVEL)
	// and the detected CPU features.
	LevelDetect = Level(0xFFFFFFFF)
)

const levelEnvVar = "SHAPEVM_JIT_LEVEL"

var globalLevel Level

func init() {
	SetLevel(LevelDetect)
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelSSE2:
		return "sse2"
	case LevelSSE41:
		return "sse41"
	case LevelDetect:
		return "detect"
	}
	return fmt.Sprintf("Level(%d)", uint32(l))
}

// levelFromCPUFeatures determines the maximum level
// that the CPU supports.
func levelFromCPUFeatures() Level {
	if runtime.GOARCH != "amd64" || !supported {
		return LevelNone
	}
	if cpu.X86.HasSSE41 {
		return LevelSSE41
	}
	return LevelSSE2
}

// ParseLevel parses the name of a level, as
// accepted in SHAPEVM_JIT_LEVEL. The empty string
// and "detect" are LevelDetect.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "detect":
		return LevelDetect, nil
	case "none", "disabled", "off":
		return LevelNone, nil
	case "sse2":
		return LevelSSE2, nil
	case "sse41", "sse4.1":
		return LevelSSE41, nil
	}
	return LevelNone, fmt.Errorf("jit: unknown level %q", s)
}

// DetectLevel detects the level to use based on
// both the CPU and the SHAPEVM_JIT_LEVEL environment
// variable, which can lower (but never raise) it.
func DetectLevel() Level {
	val, _ := os.LookupEnv(levelEnvVar)
	detected := levelFromCPUFeatures()
	envLevel, err := ParseLevel(val)
	if err != nil {
		warnf("jit: ignoring %s=%q: %s", levelEnvVar, val, err)
		return detected
	}
	if envLevel <= detected {
		return envLevel
	}
	return detected
}

// GetLevel returns the level currently in use.
func GetLevel() Level {
	return globalLevel
}

// SetLevel sets the process-wide level;
// LevelDetect re-runs detection.
//
// SetLevel is not safe to call concurrently with
// compilation and is meant for start-up and tests.
func SetLevel(l Level) {
	if l == LevelDetect {
		l = DetectLevel()
	}
	globalLevel = l
}
