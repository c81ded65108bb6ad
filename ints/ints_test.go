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

package ints

import (
	"testing"
)

func TestAlign(t *testing.T) {
	tcs := []struct {
		v, align, up uint
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{4095, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, tc := range tcs {
		if got := AlignUp(tc.v, tc.align); got != tc.up {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tc.v, tc.align, got, tc.up)
		}
		if IsAligned(tc.v, tc.align) != (tc.v == tc.up) {
			t.Errorf("IsAligned(%d, %d) wrong", tc.v, tc.align)
		}
	}
	if AlignUp[uint32](33, 8) != 40 {
		t.Error("uint32 AlignUp")
	}
}

func TestChunkCount(t *testing.T) {
	if ChunkCount[uint](0, 64) != 0 || ChunkCount[uint](1, 64) != 1 || ChunkCount[uint](129, 64) != 3 {
		t.Error("ChunkCount")
	}
	if Words(65) != 2 || Words(0) != 0 {
		t.Error("Words")
	}
}

func TestBits(t *testing.T) {
	bits := make([]uint64, Words(200))
	for _, k := range []int{0, 63, 64, 150, 199} {
		SetBit(bits, k)
	}
	for k := 0; k < 200; k++ {
		want := k == 0 || k == 63 || k == 64 || k == 150 || k == 199
		if TestBit(bits, k) != want {
			t.Fatalf("bit %d: got %v", k, !want)
		}
	}
}
