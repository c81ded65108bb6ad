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
	"github.com/shapevm/shapevm/heap"
)

// SpillSize is the size in bytes of one spill slot.
// Every evaluation mode fits its value in 16 bytes.
const SpillSize = 16

// spillmap manages the spill area. Slots are either
// fresh (taken from the end of the area) or reused
// after the value that occupied them has died.
// Freed slots are handed out lowest-first so that
// the assignment is reproducible.
type spillmap struct {
	next int             // number of slots ever allocated
	free *heap.Heap[int] // slots whose value is dead
}

func newSpillmap() spillmap {
	return spillmap{free: heap.NewOrdered[int]()}
}

func (s *spillmap) alloc() int {
	if s.free.Len() > 0 {
		return s.free.Pop()
	}
	slot := s.next
	s.next++
	return slot
}

func (s *spillmap) release(slot int) {
	s.free.Push(slot)
}

// size returns the number of slots the
// spill area must be able to hold
func (s *spillmap) size() int { return s.next }
