/*
 * ia32core - Host instruction-byte-stream emitter.
 *
 * Copyright (c) 2025 The ia32core Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING
 * FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER
 * DEALINGS IN THE SOFTWARE.
 */

// Package hostasm is the lowest layer of the recompiler: it appends raw
// host instruction bytes into a per-block buffer (spec.md section 4.1).
// Everything above it (emu/regalloc, emu/addressing, emu/memaccess,
// emu/dispatch) is a client of Emitter, never touching block bytes
// directly.
package hostasm

const (
	// BlockData is the fixed capacity of a codeblock's host buffer.
	BlockData = 2048

	// BlockMax is the soft write cap; bytes above it are reserved for
	// the GPF tail and the common epilogue (spec.md section 3, 4.1).
	BlockMax = 1720

	// BlockGPFOffset..BlockExitOffset holds the GPF handler tail.
	BlockGPFOffset = BlockMax
	// BlockExitOffset..end holds the common epilogue: pop saved host
	// registers, return.
	BlockExitOffset = BlockData - 64
)

// Emitter appends host bytes to a fixed-capacity buffer and reports when
// the buffer has filled so the dispatcher can close the block at the next
// instruction boundary.
type Emitter struct {
	data []byte // Host buffer
	pos  int    // Next write offset

	// Full is set once pos crosses BlockMax; the dispatcher reads this
	// after every emitted instruction to decide whether to terminate
	// the block (spec.md section 4.1, 4.8 step 7).
	Full bool
}

// NewEmitter wraps a preallocated, executable-memory-backed buffer.
// The buffer must have length BlockData; it is owned by the caller
// (typically a blockcache.CodeBlock) so block data stays inline with no
// separate arena, matching spec.md section 3's "Nodes are stored inline
// in the block object; no separate arena."
func NewEmitter(data []byte) *Emitter {
	if len(data) != BlockData {
		panic("hostasm: buffer must be BlockData bytes")
	}
	return &Emitter{data: data}
}

// Pos returns the current write offset.
func (e *Emitter) Pos() int { return e.pos }

// Reset rewinds the emitter to offset 0 and clears Full, for reuse when a
// ring slot is recycled (spec.md section 3 lifecycle).
func (e *Emitter) Reset() {
	e.pos = 0
	e.Full = false
}

// Seek repositions the write offset, used when filling the reserved
// GPF/epilogue zones above BlockMax before rewinding to offset 0 for
// the entry code. Seeking below BlockMax clears Full, matching the
// original protocol of writing the tails first and then starting the
// block proper with cpu_block_end cleared.
func (e *Emitter) Seek(off int) {
	e.pos = off
	e.Full = off >= BlockMax
}

// Bytes returns the emitted prefix [0:pos).
func (e *Emitter) Bytes() []byte {
	return e.data[:e.pos]
}

// Data exposes the raw backing buffer so the dispatcher can write into
// the reserved GPF/epilogue zones during block finalization.
func (e *Emitter) Data() []byte { return e.data }

func (e *Emitter) checkFull() {
	if e.pos >= BlockMax {
		e.Full = true
	}
}

// AppendU8 appends one raw byte.
func (e *Emitter) AppendU8(b uint8) {
	e.data[e.pos] = b
	e.pos++
	e.checkFull()
}

// AppendU16 appends two bytes, little-endian (the host is always a
// little-endian x86/x86-64 target per spec.md section 1).
func (e *Emitter) AppendU16(v uint16) {
	e.AppendU8(uint8(v))
	e.AppendU8(uint8(v >> 8))
}

// AppendU32 appends four bytes, little-endian.
func (e *Emitter) AppendU32(v uint32) {
	e.AppendU16(uint16(v))
	e.AppendU16(uint16(v >> 16))
}

// AppendU64 appends eight bytes, little-endian. Only meaningful on a
// 64-bit host emitter instantiation (spec.md section 1's "two target
// word sizes"); 32-bit hosts never call this.
func (e *Emitter) AppendU64(v uint64) {
	e.AppendU32(uint32(v))
	e.AppendU32(uint32(v >> 32))
}

// PatchU32 rewrites a previously-emitted 32-bit little-endian value at
// offset off, used for back-patching branch displacements once the
// target offset is known (spec.md section 4.3: "pre-computes the exact
// byte offsets of each jump displacement").
func (e *Emitter) PatchU32(off int, v uint32) {
	e.data[off] = byte(v)
	e.data[off+1] = byte(v >> 8)
	e.data[off+2] = byte(v >> 16)
	e.data[off+3] = byte(v >> 24)
}

// PatchU8 rewrites a single previously-emitted byte, used for 8-bit
// relative branch displacements.
func (e *Emitter) PatchU8(off int, v uint8) {
	e.data[off] = v
}

// EmitPrologue writes the block prologue at offset 0: push the
// callee-saved host registers this emitter's ABI reserves, then load a
// dedicated host base register with &cpu_state + 128, so that every
// subsequent cpu_state field access in the block can use an 8-bit
// signed displacement (spec.md section 4.1's documented rationale: the
// hottest fields sit in [-128..+127] of that base).
//
// pushOpcodes are the one-byte PUSH opcodes of the ABI's callee-saved
// host registers, and loadBase, when non-nil, emits the load of the
// biased base pointer; both are host-specific and supplied by the caller's ABI
// table (see emu/regalloc).
func (e *Emitter) EmitPrologue(pushOpcodes []uint8, loadBase func(e *Emitter)) {
	for _, op := range pushOpcodes {
		e.AppendU8(op)
	}
	if loadBase != nil {
		loadBase(e)
	}
}
