/*
 * ia32core - Inline TLB-backed memory access fast path.
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

// Package memaccess emits the inline fast-path memory-reference sequence
// spec.md section 4.3 describes: segment-base combine, alignment test,
// software-TLB consult, and a slow-path call on miss with an abort check
// after it returns.
package memaccess

import (
	"github.com/86Box/86Box-sub014/emu/addressing"
	"github.com/86Box/86Box-sub014/emu/hostasm"
)

// Width names the access size of one memory reference.
type Width int

const (
	WidthByte Width = 1
	WidthWord Width = 2
	WidthLong Width = 4
	WidthQuad Width = 8
)

// FlatMode reports whether DS/SS are currently "flat" (base 0, limit
// 4 GiB, no protection), letting step 1 of the fast path skip the
// segment-base combine entirely (spec.md section 4.3 step 1, glossary
// "Flat DS/SS"). statusNotFlat mirrors the guest status bit
// NOTFLATDS/NOTFLATSS that disables the shortcut even when seg is DS/SS.
func FlatMode(seg addressing.Seg, statusNotFlat bool) bool {
	if statusNotFlat {
		return false
	}
	return seg == addressing.SegDS || seg == addressing.SegSS
}

// NeedsAlignCheck reports whether width requires the fast path's
// alignment test (byte accesses are always aligned, so only W/L/Q sizes
// carry the check — spec.md section 4.3 step 2).
func NeedsAlignCheck(w Width) bool {
	return w != WidthByte
}

// Sequence is the codegen callback set a caller supplies to emit one
// memory-reference fast path. Each function receives the emitter plus
// enough context to emit its part of the five-step sequence; Sequence
// does not hard-code a host ISA, only the step order spec.md section 4.3
// mandates.
type Sequence struct {
	// CombineSegBase emits "linear = segbase + address" unless flat
	// mode made it a no-op (step 1).
	CombineSegBase func(e *hostasm.Emitter, seg addressing.Seg)

	// AlignTest emits "test offset & (size-1); jnz slowpath" for W/L/Q
	// widths (step 2).
	AlignTest func(e *hostasm.Emitter, w Width) (slowPathPatch int)

	// TLBLookup emits the direct-mapped lookup into
	// readlookup2/writelookup2 and a branch to the slow path on a
	// NotCached hit (step 3). Returns the patch offset of that branch.
	TLBLookup func(e *hostasm.Emitter, write bool) (slowPathPatch int)

	// FastAccess emits the direct load/store against the TLB-returned
	// host pointer, page offset as displacement (step 4).
	FastAccess func(e *hostasm.Emitter, w Width, write bool)

	// SlowCall emits the call into readmem*l/writemem*l with the
	// linear address (and, for stores, the data), followed by a test
	// of abrt and a branch to the block epilogue if set (step 5).
	SlowCall func(e *hostasm.Emitter, w Width, write bool) (epilogueJumpPatch int)

	// JoinFastAndSlow emits the tail that both the fast path and the
	// slow path fall through to; called once, after both have been
	// emitted, so the caller can patch the slow-path and epilogue
	// branches to land here.
	JoinFastAndSlow func(e *hostasm.Emitter, patches []int)
}

// EmitAccess emits one complete memory-reference fast path for a single
// operand, in the fixed step order spec.md section 4.3 requires. The
// emitter pre-computes exact jump-displacement offsets as it goes
// (collected into the patch list handed to JoinFastAndSlow) since the lengths of the fast
// and slow sequences are part of the size-sensitive contract spec.md
// calls out.
func EmitAccess(e *hostasm.Emitter, s Sequence, seg addressing.Seg, flat bool, w Width, write bool) {
	var patches []int

	if !flat {
		s.CombineSegBase(e, seg)
	}

	if NeedsAlignCheck(w) {
		patches = append(patches, s.AlignTest(e, w))
	}

	patches = append(patches, s.TLBLookup(e, write))
	s.FastAccess(e, w, write)

	// Slow path: a separate emitted tail the alignment/TLB-miss
	// branches above target via patch.
	patches = append(patches, s.SlowCall(e, w, write))

	s.JoinFastAndSlow(e, patches)
}
