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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/shapevm/shapevm/graph"
)

// binary layout (little-endian):
//
//	magic    [4]byte "SVTP"
//	version  uint8
//	nvars    uint32, then per var: uint16 length + bytes
//	ninstr   uint32, then per instr:
//	           op uint8, args [2]uint32, imm uint64, var uint32
//	nout     uint32, then nout * uint32
const (
	magic      = "SVTP"
	version    = 1
	instrBytes = 1 + 4 + 4 + 8 + 4
)

// ErrCorrupt is returned when decoding malformed data.
var ErrCorrupt = errors.New("tape: corrupt encoding")

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err)
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// AppendBinary appends the binary encoding of t to dst.
func (t *Tape) AppendBinary(dst []byte) []byte {
	dst = append(dst, magic...)
	dst = append(dst, version)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Vars)))
	for _, v := range t.Vars {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(v)))
		dst = append(dst, v...)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Instrs)))
	for i := range t.Instrs {
		in := &t.Instrs[i]
		dst = append(dst, byte(in.Op))
		dst = binary.LittleEndian.AppendUint32(dst, in.Args[0])
		dst = binary.LittleEndian.AppendUint32(dst, in.Args[1])
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(in.Imm))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(in.Var))
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Outputs)))
	for _, o := range t.Outputs {
		dst = binary.LittleEndian.AppendUint32(dst, o)
	}
	return dst
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *Tape) MarshalBinary() ([]byte, error) {
	for _, v := range t.Vars {
		if len(v) > math.MaxUint16 {
			return nil, fmt.Errorf("tape: variable name of %d bytes too long", len(v))
		}
	}
	return t.AppendBinary(nil), nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("%w: truncated", ErrCorrupt)
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// count reads a length prefix and checks that at
// least min bytes per item remain
func (r *reader) count(min int) int {
	n := int(r.u32())
	if r.err == nil && n > len(r.buf)/min {
		r.err = fmt.Errorf("%w: count %d exceeds remaining data", ErrCorrupt, n)
	}
	return n
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// The decoded tape is validated.
func (t *Tape) UnmarshalBinary(data []byte) error {
	r := &reader{buf: data}
	if string(r.take(len(magic))) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := r.u8(); v != version {
		if r.err != nil {
			return r.err
		}
		return fmt.Errorf("%w: unknown version %d", ErrCorrupt, v)
	}
	var out Tape
	nvars := r.count(2)
	for i := 0; i < nvars && r.err == nil; i++ {
		out.Vars = append(out.Vars, string(r.take(int(r.u16()))))
	}
	ninstr := r.count(instrBytes)
	if r.err == nil {
		out.Instrs = make([]Instr, ninstr)
	}
	for i := 0; i < ninstr && r.err == nil; i++ {
		in := &out.Instrs[i]
		in.Op = graph.Op(r.u8())
		in.Args[0] = r.u32()
		in.Args[1] = r.u32()
		in.Imm = math.Float64frombits(r.u64())
		in.Var = int(r.u32())
	}
	nout := r.count(4)
	if r.err == nil {
		out.Outputs = make([]uint32, nout)
	}
	for i := 0; i < nout && r.err == nil; i++ {
		out.Outputs[i] = r.u32()
	}
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*t = out
	return nil
}

// Digest returns the blake2b-256 hash of the binary
// encoding of t. Tapes with equal digests are Equal.
func (t *Tape) Digest() [32]byte {
	return blake2b.Sum256(t.AppendBinary(nil))
}

// WriteCompressed writes the zstd-compressed
// binary encoding of t to w.
func (t *Tape) WriteCompressed(w io.Writer) (int, error) {
	raw, err := t.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return w.Write(encoder.EncodeAll(raw, nil))
}

// ReadCompressed reads a tape written by WriteCompressed.
func ReadCompressed(r io.Reader) (*Tape, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw, err := decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("tape: decompressing: %w", err)
	}
	t := new(Tape)
	if err := t.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return t, nil
}
