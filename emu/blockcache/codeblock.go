/*
 * ia32core - Codeblock identity and the fixed-capacity host data buffer.
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

// Package blockcache implements the translated-code cache: the fixed
// ring of codeblocks, the hash table, the per-page BST, the per-page
// doubly-linked lists, and the self-modifying-code dirty-mask tracker
// (spec.md sections 3, 4.6, 4.7).
//
// Per spec.md section 9's pointer-heavy-block-graph design note, blocks
// are addressed by ring index (Ref, an int32) rather than by
// pointer, and every list/tree link is an index pair, so every lifetime
// relation stays scalar and explicit.
package blockcache

import "github.com/86Box/86Box-sub014/emu/hostasm"

// Ref is an index into the block ring; -1 denotes "no block" and plays
// the role of a nil pointer in every link field below.
type Ref int32

const NoRef Ref = -1

// Status bits captured at compile time; a block is only valid to
// execute when these match the CPU's current status (spec.md section
// 3's invariant: "(block.status ^ cpu_cur_status) & STATUS_FLAGS == 0").
type Status uint32

const (
	StatusOp32     Status = 1 << 0
	StatusStack32  Status = 1 << 1
	StatusProtect  Status = 1 << 2
	StatusV86      Status = 1 << 3
	StatusPaging   Status = 1 << 4
)

// Flags records block-level metadata independent of Status.
type Flags uint32

const (
	FlagHasFPU        Flags = 1 << 0
	FlagStaticFPUTop  Flags = 1 << 1
)

// CodeBlock is one cached translation (spec.md section 3).
type CodeBlock struct {
	// Identity: combined (phys, cs) comparator, per spec.md section 3.
	Phys uint32 // physical entry PC
	CS   uint32 // code segment base component of identity

	// Page-list links, one pair per page the block spans.
	prev, next   Ref // list in pages[Phys>>12].block[...]
	prev2, next2 Ref // list in pages[Phys2>>12].block_2[...]

	// Intra-page BST links (keyed on (phys<<32)|cs within one page).
	parent, left, right Ref

	InsnCount  int
	Recompiled bool
	Valid      bool
	FPUTopInit uint8
	PC         uint32
	EntryCS    uint32
	EndPC      uint32
	Phys2      uint32
	HasPhys2   bool

	Status Status
	Flags  Flags

	// PageMask/PageMask2: one bit per 64-byte cell this block occupies
	// within its first/second page (spec.md section 3).
	PageMask  uint64
	PageMask2 uint64
	// Quadrant index (0..3) each mask's bit 0 corresponds to, needed to
	// compare against a page's per-quadrant DirtyMask array.
	Quadrant  int
	Quadrant2 int

	data []byte // BlockData-byte buffer, owned inline (no separate arena)
	Emit *hostasm.Emitter
}

// newCodeBlock allocates a block's inline host buffer and emitter. Ring
// construction lives in ring.go; this just wires the buffer.
func newCodeBlock() *CodeBlock {
	b := &CodeBlock{
		prev: NoRef, next: NoRef, prev2: NoRef, next2: NoRef,
		parent: NoRef, left: NoRef, right: NoRef,
	}
	b.data = make([]byte, hostasm.BlockData)
	b.Emit = hostasm.NewEmitter(b.data)
	return b
}

// reset clears a block back to the "ring slot available" state, as
// happens on ring wraparound eviction (spec.md section 3 lifecycle).
func (b *CodeBlock) reset() {
	b.Phys = 0
	b.CS = 0
	b.prev, b.next = NoRef, NoRef
	b.prev2, b.next2 = NoRef, NoRef
	b.parent, b.left, b.right = NoRef, NoRef, NoRef
	b.InsnCount = 0
	b.Recompiled = false
	b.Valid = false
	b.FPUTopInit = 0
	b.PC, b.EntryCS, b.EndPC = 0, 0, 0
	b.Phys2, b.HasPhys2 = 0, false
	b.Status, b.Flags = 0, 0
	b.PageMask, b.PageMask2 = 0, 0
	b.Quadrant, b.Quadrant2 = 0, 0
	b.Emit.Reset()
}

// Identity64 is the 64-bit comparator spec.md section 3 specifies for a
// block's identity: (physical_entry_pc, code_segment_base) combined.
func (b *CodeBlock) Identity64() uint64 {
	return uint64(b.Phys)<<32 | uint64(b.CS)
}

// MatchesStatus reports whether the block is valid to execute given the
// CPU's current status bits (spec.md section 3's per-execution
// invariant).
func (b *CodeBlock) MatchesStatus(cur Status) bool {
	return b.Status == cur
}
