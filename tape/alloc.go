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
	"errors"
	"fmt"
	"math/bits"
)

// MaxRegs is the largest register file
// Allocate can assign to.
const MaxRegs = 64

// ErrRegisterCount is returned by Allocate when
// the register count is outside [1, MaxRegs].
var ErrRegisterCount = errors.New("tape: register count out of range")

// Loc is the storage location of a tape slot:
// either a register or a spill slot.
type Loc uint32

const spillbit = Loc(1 << 31)

// RegLoc returns the location of register r.
func RegLoc(r int) Loc { return Loc(r) }

// SpillLoc returns the location of spill slot s.
func SpillLoc(s int) Loc { return Loc(s) | spillbit }

// IsSpill returns whether l is a spill slot.
func (l Loc) IsSpill() bool { return l&spillbit != 0 }

// Index returns the register or spill slot number.
func (l Loc) Index() int { return int(l &^ spillbit) }

func (l Loc) String() string {
	if l.IsSpill() {
		return fmt.Sprintf("[%d]", l.Index())
	}
	return fmt.Sprintf("r%d", l.Index())
}

// Range is the live range of a slot: the closed
// interval of tape positions from its definition
// to its last use. Output slots live until Len().
type Range struct {
	Def, LastUse int
}

// Overlaps returns whether two live ranges share
// at least one tape position.
func (r Range) Overlaps(o Range) bool {
	return r.Def <= o.LastUse && o.Def <= r.LastUse
}

// LiveRanges computes the live range of every slot.
// A slot that is never used has LastUse == Def.
func LiveRanges(t *Tape) []Range {
	ranges := make([]Range, len(t.Instrs))
	for i := range t.Instrs {
		ranges[i] = Range{Def: i, LastUse: i}
		in := &t.Instrs[i]
		for _, arg := range in.Args[:in.Op.Arity()] {
			ranges[arg].LastUse = i
		}
	}
	for _, o := range t.Outputs {
		ranges[o].LastUse = len(t.Instrs)
	}
	return ranges
}

// Assignment maps every tape slot to a location.
type Assignment struct {
	// Regs is the size of the register file.
	Regs int
	// Loc is indexed by slot.
	Loc []Loc
	// Spills is the number of spill slots used.
	Spills int
}

// SpillBytes returns the size of the spill
// area needed to execute the assignment.
func (a *Assignment) SpillBytes() int { return a.Spills * SpillSize }

// Allocate assigns the slots of t to a register file
// of regs registers using a single linear scan in
// tape order.
//
// At each definition the lowest-numbered free register
// is taken; if every register is busy the slot is
// spilled. A register or spill slot becomes free once
// the last use of its value has passed, so the result
// of an instruction never shares a location with its
// operands.
func Allocate(t *Tape, regs int) (*Assignment, error) {
	if regs < 1 || regs > MaxRegs {
		return nil, fmt.Errorf("%w: %d", ErrRegisterCount, regs)
	}
	n := len(t.Instrs)
	ranges := LiveRanges(t)
	// expire[p] holds the slots whose last use is p
	expire := make([][]uint32, n+1)
	free := ^uint64(0)
	if regs < 64 {
		free = (uint64(1) << regs) - 1
	}
	sm := newSpillmap()
	a := &Assignment{
		Regs: regs,
		Loc:  make([]Loc, n),
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			for _, s := range expire[i-1] {
				if l := a.Loc[s]; l.IsSpill() {
					sm.release(l.Index())
				} else {
					free |= 1 << l.Index()
				}
			}
		}
		if free != 0 {
			r := bits.TrailingZeros64(free)
			free &^= 1 << r
			a.Loc[i] = RegLoc(r)
		} else {
			a.Loc[i] = SpillLoc(sm.alloc())
		}
		last := ranges[i].LastUse
		expire[last] = append(expire[last], uint32(i))
	}
	a.Spills = sm.size()
	return a, nil
}

// Validate checks that no two slots with
// overlapping live ranges share a location.
func (a *Assignment) Validate(t *Tape) error {
	if len(a.Loc) != len(t.Instrs) {
		return fmt.Errorf("tape: assignment covers %d slots, tape has %d", len(a.Loc), len(t.Instrs))
	}
	ranges := LiveRanges(t)
	// owner of each location and the end
	// of the owner's live range
	type owner struct {
		slot, until int
	}
	busy := make(map[Loc]owner)
	for i, l := range a.Loc {
		if l.IsSpill() {
			if l.Index() >= a.Spills {
				return fmt.Errorf("tape: slot %d: spill slot %d out of range", i, l.Index())
			}
		} else if l.Index() >= a.Regs {
			return fmt.Errorf("tape: slot %d: register %d out of range", i, l.Index())
		}
		if o, ok := busy[l]; ok && o.until >= i {
			return fmt.Errorf("tape: slots %d and %d are both live in %s at %d", o.slot, i, l, i)
		}
		busy[l] = owner{slot: i, until: ranges[i].LastUse}
	}
	return nil
}

// Pressure returns the maximum number of
// simultaneously live slots in t.
func Pressure(t *Tape) int {
	ranges := LiveRanges(t)
	delta := make([]int, len(t.Instrs)+2)
	for _, r := range ranges {
		delta[r.Def]++
		delta[r.LastUse+1]--
	}
	cur, peak := 0, 0
	for _, d := range delta {
		cur += d
		if cur > peak {
			peak = cur
		}
	}
	return peak
}
