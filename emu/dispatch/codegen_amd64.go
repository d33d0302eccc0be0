/*
 * ia32core - amd64 codegen layer: guest-state displacements, register
 * load/store emission, the generic interpreter-call sequence, and the
 * memory-access fast-path wiring.
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

package dispatch

import (
	"fmt"
	"unsafe"

	"github.com/86Box/86Box-sub014/emu/addressing"
	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/86Box/86Box-sub014/emu/memaccess"
	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/86Box/86Box-sub014/emu/regalloc"
)

// Displacements of the JIT-hot cpustate.State fields from the block's
// base register (&State + 128), derived once at init. A field drifting
// outside int8 range is an invariant break in cpustate.State's layout,
// so it aborts immediately (spec.md section 7's translator-inconsistency
// policy).
var (
	regsDisp    [8]int8
	pcDisp      int8
	oldpcDisp   int8
	eaaddrDisp  int8
	abrtDisp    int8
	pendingDisp int8
	rmdataDisp  int8
	cyclesDisp  int8
	insDisp     int8
	flagsOpDisp int8
	flagsResDisp int8
	op32Disp    int8
	segBaseDisp [6]int8
)

func stateDisp(name string, off uintptr) int8 {
	d := int(off) - 128
	if d < -128 || d > 127 {
		panic(fmt.Sprintf("dispatch: state field %s at offset %d outside disp8 window", name, off))
	}
	return int8(d)
}

func init() {
	var s cpustate.State
	base := uintptr(unsafe.Pointer(&s))
	for i := range s.Regs {
		regsDisp[i] = stateDisp("regs", uintptr(unsafe.Pointer(&s.Regs[i]))-base)
	}
	pcDisp = stateDisp("pc", unsafe.Offsetof(s.PC))
	oldpcDisp = stateDisp("oldpc", unsafe.Offsetof(s.OldPC))
	eaaddrDisp = stateDisp("eaaddr", unsafe.Offsetof(s.EAAddr))
	abrtDisp = stateDisp("abrt", unsafe.Offsetof(s.Abrt))
	pendingDisp = stateDisp("pendingint", unsafe.Offsetof(s.PendingInt))
	rmdataDisp = stateDisp("rmdata", unsafe.Offsetof(s.RMData))
	cyclesDisp = stateDisp("cycles", unsafe.Offsetof(s.Cycles))
	insDisp = stateDisp("ins", unsafe.Offsetof(s.Ins))
	flagsOpDisp = stateDisp("flagsop", unsafe.Offsetof(s.FlagsOp))
	flagsResDisp = stateDisp("flagsres", unsafe.Offsetof(s.FlagsRes))
	op32Disp = stateDisp("op32", unsafe.Offsetof(s.Op32))

	segBaseDisp[addressing.SegES] = stateDisp("es.base", unsafe.Offsetof(s.SegES)+unsafe.Offsetof(s.SegES.Base))
	segBaseDisp[addressing.SegCS] = stateDisp("cs.base", unsafe.Offsetof(s.SegCS)+unsafe.Offsetof(s.SegCS.Base))
	segBaseDisp[addressing.SegSS] = stateDisp("ss.base", unsafe.Offsetof(s.SegSS)+unsafe.Offsetof(s.SegSS.Base))
	segBaseDisp[addressing.SegDS] = stateDisp("ds.base", unsafe.Offsetof(s.SegDS)+unsafe.Offsetof(s.SegDS.Base))
	segBaseDisp[addressing.SegFS] = stateDisp("fs.base", unsafe.Offsetof(s.SegFS)+unsafe.Offsetof(s.SegFS.Base))
	segBaseDisp[addressing.SegGS] = stateDisp("gs.base", unsafe.Offsetof(s.SegGS)+unsafe.Offsetof(s.SegGS.Base))
}

// CyclesDisp/InsDisp expose the accumulator destinations so emu/core
// can wire accumulate.Dest to the true emitted-code displacements.
func CyclesDisp() int32 { return int32(cyclesDisp) }
func InsDisp() int32    { return int32(insDisp) }

// AbortGPFCode is the abrt value the emitted GPF tail records, matching
// memory.AbortGPF. Kept as a local uint8 since the tail writes a single
// byte.
const AbortGPFCode = uint8(memory.AbortGPF)

// hostIndex flattens a regalloc handle to an amd64 register number.
func hostIndex(h regalloc.HostHandle) int {
	i := int(h.Index)
	if h.Extended {
		i += 8
	}
	return i
}

// HostHooks carries the host entry-point addresses the emitted code
// calls into and indexes: the software-TLB arrays and the slow-path
// readmem/writemem trampolines (spec.md section 6's consumed
// contracts). The integrating embedder supplies real addresses; tests
// use placeholders since emitted blocks are never executed there.
type HostHooks struct {
	ReadLookup  uint64 // &readlookup2[0]
	WriteLookup uint64 // &writelookup2[0]

	ReadMemB, ReadMemW, ReadMemL, ReadMemQ     uint64
	WriteMemB, WriteMemW, WriteMemL, WriteMemQ uint64
}

// Codegen is the per-dispatcher amd64 emission layer. It carries the
// once-per-change shadow state for operand size and segment overrides
// (spec.md section 4.8 step 1: "emitted once per change, not per use").
type Codegen struct {
	D     *Dispatcher
	Hooks HostHooks

	lastOp32  int // -1 forces the first emission
	flatDS    bool
	flatSS    bool
}

// NewCodegen binds an emission layer to d. flatDS/flatSS reflect the
// NOTFLATDS/NOTFLATSS status bits at block-compile time (glossary
// "Flat DS/SS").
func NewCodegen(d *Dispatcher, hooks HostHooks, flatDS, flatSS bool) *Codegen {
	g := &Codegen{D: d, Hooks: hooks, lastOp32: -1, flatDS: flatDS, flatSS: flatSS}
	d.Gen = g
	return g
}

// EmitLoadEA materializes a decoded effective address into EAX:
// base + scaled index + displacement, with 16-bit wraparound applied
// for 16-bit addressing (spec.md section 4.4). Register operands come
// through the allocator so already-resident mirrors are reused.
func (g *Codegen) EmitLoadEA(e *hostasm.Emitter, ea addressing.EA) {
	switch {
	case ea.Base >= 0:
		h := g.D.Alloc.Load(e, ea.Base, regalloc.SizeLong, EmitLoadGuestReg)
		e.MovRegReg32(hostasm.RegRAX, hostIndex(h))
		if ea.Disp != 0 {
			e.AddRegImm32(hostasm.RegRAX, int32(ea.Disp))
		}
	default:
		e.MovRegImm32(hostasm.RegRAX, ea.Disp)
	}

	if ea.Index >= 0 {
		h := g.D.Alloc.Load(e, ea.Index, regalloc.SizeLong, EmitLoadGuestReg)
		hi := hostIndex(h)
		if ea.Scale > 1 {
			// Scale in a scratch register so the mirror stays clean.
			e.MovRegReg32(hostasm.RegRDX, hi)
			var shift uint8
			for s := ea.Scale; s > 1; s >>= 1 {
				shift++
			}
			e.ShlRegImm32(hostasm.RegRDX, shift)
			e.AddRegReg32(hostasm.RegRAX, hostasm.RegRDX)
		} else {
			e.AddRegReg32(hostasm.RegRAX, hi)
		}
	}

	if !ea.Is32 {
		e.AndRegImm32(hostasm.RegRAX, 0xffff)
	}
}

// StateBase returns the host address the block prologue loads, biased
// by +128 inside hostasm.EmitBlockPrologue.
func (g *Codegen) StateBase() uint64 {
	return uint64(uintptr(unsafe.Pointer(g.D.State)))
}

// EmitLoadGuestReg is the regalloc load callback: MOVZX/MOV the guest
// register's memory image into the chosen host register.
func EmitLoadGuestReg(e *hostasm.Emitter, h regalloc.HostHandle, guestReg int, sz regalloc.Size) {
	hr := hostIndex(h)
	switch sz {
	case regalloc.SizeByte:
		disp := regsDisp[guestReg&3]
		if guestReg&4 != 0 {
			disp++ // AH/CH/DH/BH live one byte above their low half
		}
		e.MovzxRegState8(hr, disp)
	case regalloc.SizeWord:
		e.MovzxRegState16(hr, regsDisp[guestReg&7])
	default:
		e.MovRegState32(hr, regsDisp[guestReg&7])
	}
}

// EmitStoreGuestReg is the regalloc store-release callback.
func EmitStoreGuestReg(e *hostasm.Emitter, h regalloc.HostHandle, guestReg int, sz regalloc.Size) {
	hr := hostIndex(h)
	switch sz {
	case regalloc.SizeByte:
		disp := regsDisp[guestReg&3]
		if guestReg&4 != 0 {
			disp++
		}
		e.MovState8Reg(disp, hr)
	case regalloc.SizeWord:
		e.MovState16Reg(regsDisp[guestReg&7], hr)
	default:
		e.MovState32Reg(regsDisp[guestReg&7], hr)
	}
}

// EmitStoreImmGuestReg is the regalloc immediate-store callback.
func EmitStoreImmGuestReg(e *hostasm.Emitter, guestReg int, sz regalloc.Size, imm uint32) {
	switch sz {
	case regalloc.SizeByte:
		disp := regsDisp[guestReg&3]
		if guestReg&4 != 0 {
			disp++
		}
		e.MovState8Imm(disp, uint8(imm))
	case regalloc.SizeWord:
		e.MovState16Imm(regsDisp[guestReg&7], uint16(imm))
	default:
		e.MovState32Imm(regsDisp[guestReg&7], imm)
	}
}

// EmitAccumAdd is the accumulate flush callback: one ADD [base+disp],
// imm per live counter (spec.md section 4.5).
func EmitAccumAdd(e *hostasm.Emitter, disp int32, imm int32) {
	e.AddState32Imm(int8(disp), imm)
}

// EmitGenericCall emits the interpreter-fallback sequence of spec.md
// section 4.8 step 5: commit pc/oldpc (and op32 only on change), pass
// fetchdat as the first parameter, call the opcode handler, then merge
// the return value with the pending-interrupt byte and exit the block
// if nonzero (step 6). The handler address comes from the dispatcher's
// HandlerAddr table; a zero address still emits the full sequence so
// block sizing stays representative in tests.
func (g *Codegen) EmitGenericCall(e *hostasm.Emitter, opcode uint8, secondOpcode bool, op32 bool, fetchdat uint32, newPC, oldPC uint32) {
	op32Val := 0
	if op32 {
		op32Val = 1
	}
	if g.lastOp32 != op32Val {
		e.MovState8Imm(op32Disp, uint8(op32Val))
		g.lastOp32 = op32Val
	}

	e.MovState32Imm(pcDisp, newPC)
	e.MovState32Imm(oldpcDisp, oldPC)
	e.MovState32Imm(rmdataDisp, fetchdat)

	// Param 1 (EDI under SysV): fetchdat.
	e.MovRegImm32(hostasm.RegRDI, fetchdat)

	idx := 0
	if secondOpcode {
		idx = 1
	}
	e.CallAbs(g.D.HandlerAddr[idx][opcode])

	// The callee may have clobbered every mirrored guest register
	// (spec.md section 4.2's conservative invalidation rule).
	g.D.Alloc.InvalidateAllForCall()
}

// EmitPendingCheck emits the post-call abort/interrupt test: OR the
// handler's return value (AL) with the pending-interrupt byte and jump
// to the common epilogue when nonzero.
func (g *Codegen) EmitPendingCheck(e *hostasm.Emitter) {
	e.OrRegState8(hostasm.RegRAX, pendingDisp)
	e.JccEpilogue(hostasm.CCNE)
}

// Sequence builds the memaccess.Sequence for this host: the concrete
// amd64 rendition of the five-step fast path. Register conventions
// within the sequence (fixed by design, like the original's):
//
//	EAX — guest address in, loaded data out
//	EBX — store data in (stores only)
//	ECX — segment base, then linear address for the slow path
//	ESI — virtual page number, then TLB host pointer
//	EDI — linear address for the fast-path displacement
//	RDX — lookup table base
func (g *Codegen) Sequence(write bool) memaccess.Sequence {
	hooks := g.Hooks

	// The miss/misalign branches target the slow path's entry, and the
	// fast path jumps over it to the join point; the closures share
	// the patch bookkeeping so every displacement is resolved exactly
	// once (spec.md section 4.3's size-sensitive contract).
	var slowPatches []int
	donePatch := -1

	// The linear address (ESI for the page lookup, EDI for the in-page
	// displacement) is formed once by whichever step needs it first:
	// the alignment test when the width carries one, the TLB consult
	// otherwise (byte accesses).
	linearFormed := false
	formLinear := func(e *hostasm.Emitter) {
		if linearFormed {
			return
		}
		linearFormed = true
		e.Lea32(hostasm.RegRSI, hostasm.RegRAX, hostasm.RegRCX)
		e.MovRegReg32(hostasm.RegRDI, hostasm.RegRSI)
	}

	return memaccess.Sequence{
		CombineSegBase: func(e *hostasm.Emitter, seg addressing.Seg) {
			e.MovRegState32(hostasm.RegRCX, segBaseDisp[seg])
		},
		AlignTest: func(e *hostasm.Emitter, w memaccess.Width) int {
			formLinear(e)
			e.TestRegImm32(hostasm.RegRDI, uint32(w)-1)
			slowPatches = append(slowPatches, e.JccShort(hostasm.CCNE))
			return -1
		},
		TLBLookup: func(e *hostasm.Emitter, wr bool) int {
			table := hooks.ReadLookup
			if wr {
				table = hooks.WriteLookup
			}
			formLinear(e)
			e.ShrRegImm32(hostasm.RegRSI, uint8(memory.PageShift))
			e.MovRegImm64(hostasm.RegRDX, table)
			e.MovRegLookupSlot(hostasm.RegRSI, hostasm.RegRDX, hostasm.RegRSI)
			e.CmpRegImm8(hostasm.RegRSI, -1)
			slowPatches = append(slowPatches, e.JccShort(hostasm.CCE))
			return -1
		},
		FastAccess: func(e *hostasm.Emitter, w memaccess.Width, wr bool) {
			if wr {
				switch w {
				case memaccess.WidthByte:
					e.MovBaseIndexReg8(hostasm.RegRDI, hostasm.RegRSI, hostasm.RegRBX)
				case memaccess.WidthWord:
					e.MovBaseIndexReg16(hostasm.RegRDI, hostasm.RegRSI, hostasm.RegRBX)
				case memaccess.WidthQuad:
					e.MovBaseIndexReg64(hostasm.RegRDI, hostasm.RegRSI, hostasm.RegRBX)
				default:
					e.MovBaseIndexReg32(hostasm.RegRDI, hostasm.RegRSI, hostasm.RegRBX)
				}
			} else {
				switch w {
				case memaccess.WidthByte:
					e.MovzxRegBaseIndex8(hostasm.RegRAX, hostasm.RegRDI, hostasm.RegRSI)
				case memaccess.WidthWord:
					e.MovzxRegBaseIndex16(hostasm.RegRAX, hostasm.RegRDI, hostasm.RegRSI)
				case memaccess.WidthQuad:
					e.MovRegBaseIndex64(hostasm.RegRAX, hostasm.RegRDI, hostasm.RegRSI)
				default:
					e.MovRegBaseIndex32(hostasm.RegRAX, hostasm.RegRDI, hostasm.RegRSI)
				}
			}
			donePatch = e.JmpShort()
		},
		SlowCall: func(e *hostasm.Emitter, w memaccess.Width, wr bool) int {
			// The miss/misalign branches land here.
			for _, p := range slowPatches {
				e.PatchJumpHere(p)
			}
			slowPatches = slowPatches[:0]
			// Linear address = segbase + guest address; param 1 EDI,
			// param 2 (stores) ESI carries the data.
			e.AddRegReg32(hostasm.RegRCX, hostasm.RegRAX)
			e.MovRegReg32(hostasm.RegRDI, hostasm.RegRCX)
			if wr {
				e.MovRegReg32(hostasm.RegRSI, hostasm.RegRBX)
			}
			e.CallAbs(slowPathFor(hooks, w, wr))
			e.CmpState8Imm(abrtDisp, 0)
			e.JccEpilogue(hostasm.CCNE)
			return -1 // faults exit via the epilogue, nothing to patch
		},
		JoinFastAndSlow: func(e *hostasm.Emitter, patches []int) {
			if donePatch >= 0 {
				e.PatchJumpHere(donePatch)
			}
		},
	}
}

func slowPathFor(h HostHooks, w memaccess.Width, write bool) uint64 {
	if write {
		switch w {
		case memaccess.WidthByte:
			return h.WriteMemB
		case memaccess.WidthWord:
			return h.WriteMemW
		case memaccess.WidthQuad:
			return h.WriteMemQ
		default:
			return h.WriteMemL
		}
	}
	switch w {
	case memaccess.WidthByte:
		return h.ReadMemB
	case memaccess.WidthWord:
		return h.ReadMemW
	case memaccess.WidthQuad:
		return h.ReadMemQ
	default:
		return h.ReadMemL
	}
}

// EmitMemLoad emits a full fast-path load: guest address already in
// EAX, result in EAX. seg selects the base to combine unless the flat
// shortcut applies (spec.md section 4.3 step 1), in which case the
// base register is zeroed instead — the sequence's later steps always
// read it.
func (g *Codegen) EmitMemLoad(e *hostasm.Emitter, seg addressing.Seg, w memaccess.Width) {
	flat := g.flatFor(seg)
	if flat {
		e.XorRegReg32(hostasm.RegRCX, hostasm.RegRCX)
	}
	memaccess.EmitAccess(e, g.Sequence(false), seg, flat, w, false)
	g.D.Alloc.InvalidateAllForCall()
}

// EmitMemStore emits a full fast-path store: guest address in EAX,
// data in EBX at FastAccess time per the sequence conventions.
func (g *Codegen) EmitMemStore(e *hostasm.Emitter, seg addressing.Seg, w memaccess.Width) {
	flat := g.flatFor(seg)
	if flat {
		e.XorRegReg32(hostasm.RegRCX, hostasm.RegRCX)
	}
	memaccess.EmitAccess(e, g.Sequence(true), seg, flat, w, true)
	g.D.Alloc.InvalidateAllForCall()
}

func (g *Codegen) flatFor(seg addressing.Seg) bool {
	switch seg {
	case addressing.SegDS:
		return g.flatDS
	case addressing.SegSS:
		return g.flatSS
	default:
		return false
	}
}

// ResetShadow clears the once-per-change shadow state at block start so
// the first op-size-sensitive emission in a block always commits its
// state (the original's last_op32 = -1 reset).
func (g *Codegen) ResetShadow() {
	g.lastOp32 = -1
}
