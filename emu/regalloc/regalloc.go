/*
 * ia32core - Guest-register to host-register allocator.
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

// Package regalloc maps guest byte/word/dword register slots onto host
// registers and tracks, per block, whether a guest register is currently
// materialized in one (spec.md section 4.2).
package regalloc

import "github.com/86Box/86Box-sub014/emu/hostasm"

// Size names the guest register width being loaded/stored.
type Size int

const (
	SizeByte Size = iota
	SizeWord
	SizeLong
)

// HostHandle encodes a host register plus the flags the emitter needs to
// address it correctly: whether it refers to the high byte of a word
// register (AH/CH/DH/BH on a legacy-encoding host) and whether it lives
// in the extended register set only reachable with a REX prefix on a
// 64-bit host (spec.md section 4.2).
type HostHandle struct {
	Index    uint8
	HighByte bool
	Extended bool
}

// GuestRegCount is the number of general-purpose guest registers the
// allocator tracks (EAX..EDI on IA-32).
const GuestRegCount = 8

// CallClobberAll is the set of host calls the allocator must assume
// clobbers every mirrored guest register: any call into readmem/writemem
// slow paths or the interpreter fallback.
const CallClobberAll = -1

// Allocator tracks, per codeblock, which guest registers are currently
// materialized in a host register, and hands out host handles for
// byte/word/dword guest register accesses.
//
// codegen_reg_loaded[0..7] in spec.md section 4.2 is Allocator.loaded;
// one Allocator instance lives per in-progress block (the codeblock
// itself does not own allocator state — it is transient build-time
// state, discarded once the block is finalized).
type Allocator struct {
	loaded [GuestRegCount]bool
	// hostOf maps guest reg -> host handle while loaded[reg] is true.
	hostOf [GuestRegCount]HostHandle
	// szOf/highOf record what form of the guest register the mirror
	// holds: byte loads track which half, since AL and AH share the
	// same slot (byte registers alias their dword by index&3).
	szOf   [GuestRegCount]Size
	highOf [GuestRegCount]bool

	// hostFree is the pool of host registers available for guest
	// mirrors on this host; the caller's ABI table populates it.
	hostFree []HostHandle
	hostUsed map[uint8]bool
}

// NewAllocator constructs an allocator seeded with the host registers
// this build's ABI has set aside for guest-register mirrors (the rest
// are reserved for the cpu_state base pointer, the stack, and scratch
// use by memaccess/addressing).
func NewAllocator(hostPool []HostHandle) *Allocator {
	a := &Allocator{
		hostFree: append([]HostHandle(nil), hostPool...),
		hostUsed: make(map[uint8]bool, len(hostPool)),
	}
	return a
}

// Reset clears all loaded-flags, for reuse when starting a new block
// build (the allocator itself is not per-block-allocated to avoid GC
// churn across the hot recompile loop).
func (a *Allocator) Reset() {
	for i := range a.loaded {
		a.loaded[i] = false
	}
	for k := range a.hostUsed {
		delete(a.hostUsed, k)
	}
}

// IsLoaded reports whether guestReg is currently materialized in a host
// register.
func (a *Allocator) IsLoaded(guestReg int) bool {
	return a.loaded[guestReg]
}

// pick returns a free host register, evicting the loaded guest mirror
// with the lowest slot index if the pool is exhausted. Exhaustion with no
// loaded mirror to evict is the "out-of-host-registers" condition
// spec.md section 7 calls a fatal translator inconsistency: it can only
// happen if the caller's ABI table under-provisions the pool for the
// widest recompiler the dispatcher can invoke, which is a programming
// error, not a guest-triggerable condition.
func (a *Allocator) pick() HostHandle {
	for _, h := range a.hostFree {
		if !a.hostUsed[h.Index] {
			a.hostUsed[h.Index] = true
			return h
		}
	}
	for g := range a.loaded {
		if a.loaded[g] {
			h := a.hostOf[g]
			a.loaded[g] = false
			return h
		}
	}
	panic("regalloc: out of host registers")
}

// slotOf maps a guest register reference to its bookkeeping slot: byte
// registers fold onto their containing dword (AL/AH -> slot 0, the way
// codegen_reg_loaded[reg & 3] does it), reporting whether the high
// half was named.
func slotOf(guestReg int, sz Size) (slot int, high bool) {
	if sz == SizeByte {
		return guestReg & 3, guestReg&4 != 0
	}
	return guestReg & 7, false
}

// Load materializes guestReg of width sz into a host register, emitting
// the load only if the same form is not already resident (spec.md
// section 4.2: "skips re-loading if already materialized"). A mirror
// holding a different width — or the other byte half — of the same
// guest register is refreshed in place.
//
// emitLoad is supplied by the caller (emu/dispatch's host-specific
// codegen layer) and receives the chosen host handle plus the guest
// register index; it is responsible for emitting the actual MOV.
func (a *Allocator) Load(e *hostasm.Emitter, guestReg int, sz Size,
	emitLoad func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size),
) HostHandle {
	slot, high := slotOf(guestReg, sz)
	if a.loaded[slot] && a.szOf[slot] == sz && a.highOf[slot] == high {
		return a.hostOf[slot]
	}
	var h HostHandle
	if a.loaded[slot] {
		h = a.hostOf[slot]
	} else {
		h = a.pick()
	}
	emitLoad(e, h, guestReg, sz)
	a.hostOf[slot] = h
	a.loaded[slot] = true
	a.szOf[slot] = sz
	a.highOf[slot] = high
	return h
}

// StoreRelease writes a host register's value back to the guest
// register's memory image and releases the host register, leaving the
// guest register image authoritative in memory (the invariant spec.md
// section 4.2 requires: "After STORE_REG_*_RELEASE, the guest-register
// memory image equals the host register value").
func (a *Allocator) StoreRelease(e *hostasm.Emitter, guestReg int, sz Size,
	emitStore func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size),
) {
	slot, _ := slotOf(guestReg, sz)
	if !a.loaded[slot] {
		// Nothing resident to release; callers are expected to only
		// call StoreRelease after a prior Load of the same register
		// within the same block.
		return
	}
	h := a.hostOf[slot]
	emitStore(e, h, guestReg, sz)
	a.loaded[slot] = false
	delete(a.hostUsed, h.Index)
}

// StoreImm writes an immediate directly to a guest register's memory
// image without touching the host-register mirror state.
func (a *Allocator) StoreImm(e *hostasm.Emitter, guestReg int, sz Size, imm uint32,
	emitStoreImm func(e *hostasm.Emitter, guestReg int, sz Size, imm uint32),
) {
	emitStoreImm(e, guestReg, sz, imm)
}

// Invalidate drops guestReg's host mirror without emitting a store,
// for recompilers that rewrite the guest register's memory image
// directly (e.g. a register-to-register MOV's destination).
func (a *Allocator) Invalidate(guestReg int) {
	if !a.loaded[guestReg] {
		return
	}
	delete(a.hostUsed, a.hostOf[guestReg].Index)
	a.loaded[guestReg] = false
}

// InvalidateAllForCall marks every loaded guest register as no longer
// resident, without emitting stores. Every emitted call conservatively
// invalidates all loaded-flags because the callee may clobber
// callee-saved guest-register mirrors (spec.md section 4.2). Callers
// are responsible for having already issued a StoreRelease for any
// register whose value the call needs to observe, per the "between
// suspension points" invariant.
func (a *Allocator) InvalidateAllForCall() {
	for g := range a.loaded {
		if a.loaded[g] {
			delete(a.hostUsed, a.hostOf[g].Index)
		}
		a.loaded[g] = false
	}
}
