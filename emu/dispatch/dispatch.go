/*
 * ia32core - Block builder / instruction dispatcher.
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

// Package dispatch drives one guest opcode at a time: the prefix loop,
// opcode classification, the recompile-vs-interpreter-call decision, PC
// bookkeeping, and abort/pending-interrupt checks (spec.md section 4.8).
// It is the one package that ties emu/hostasm, emu/regalloc,
// emu/memaccess, emu/addressing, emu/accumulate, emu/timing and
// emu/blockcache together into the actual per-instruction protocol.
package dispatch

import (
	"github.com/86Box/86Box-sub014/emu/accumulate"
	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/86Box/86Box-sub014/emu/regalloc"
	"github.com/86Box/86Box-sub014/emu/timing"
)

// PrefixClass classifies a prefix byte's effect on dispatcher state,
// per spec.md section 4.8 step 1.
type PrefixClass int

const (
	PrefixNone PrefixClass = iota
	PrefixSegOverride
	PrefixOpSize   // 66h
	PrefixAddrSize // 67h
	PrefixRepNZ    // F2h
	PrefixRepZ     // F3h
	PrefixLock     // F0h
)

// ClassifyPrefix reports the class of a prefix byte, or (PrefixNone,
// false) if b is not a recognized prefix (i.e. it is an opcode byte and
// the prefix loop should stop).
func ClassifyPrefix(b uint8) (PrefixClass, bool) {
	switch b {
	case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65:
		return PrefixSegOverride, true
	case 0x66:
		return PrefixOpSize, true
	case 0x67:
		return PrefixAddrSize, true
	case 0xf0:
		return PrefixLock, true
	case 0xf2:
		return PrefixRepNZ, true
	case 0xf3:
		return PrefixRepZ, true
	default:
		return PrefixNone, false
	}
}

// SegOverrideOf maps a segment-override prefix byte to the segment it
// selects.
func SegOverrideOf(b uint8) int {
	switch b {
	case 0x26:
		return 0 // ES
	case 0x2e:
		return 1 // CS
	case 0x36:
		return 2 // SS
	case 0x3e:
		return 3 // DS
	case 0x64:
		return 4 // FS
	case 0x65:
		return 5 // GS
	default:
		return -1
	}
}

// IsBlockTerminator reports whether opcode is one of the potential
// block-terminating families spec.md section 4.8 step 4 names: branch
// family, RET-with-imm (C2/CA), INT family (CC/CE/CF), CALL/JMP
// (E8..EB), far-call-style ModR/M group (FF /2../4), short Jcc
// (70..7F), and near Jcc (0F 80..8F, with the 0F prefix already
// stripped by the caller).
func IsBlockTerminator(opcode uint8, secondOpcode bool, modrmReg uint8) bool {
	switch {
	case !secondOpcode && opcode >= 0x70 && opcode <= 0x7f:
		return true
	case !secondOpcode && (opcode == 0xc2 || opcode == 0xca):
		return true
	case !secondOpcode && (opcode == 0xcc || opcode == 0xce || opcode == 0xcf):
		return true
	case !secondOpcode && opcode >= 0xe8 && opcode <= 0xeb:
		return true
	case !secondOpcode && opcode == 0xff && (modrmReg >= 2 && modrmReg <= 4):
		return true
	case secondOpcode && opcode >= 0x80 && opcode <= 0x8f:
		return true
	default:
		return false
	}
}

// isConditionalBranch reports whether the opcode has a not-taken
// fall-through path, which is what makes the jump-cycles credit-back
// meaningful (an unconditional transfer is always "taken").
func isConditionalBranch(opcode uint8, secondOpcode bool) bool {
	if secondOpcode {
		return opcode >= 0x80 && opcode <= 0x8f
	}
	return opcode >= 0x70 && opcode <= 0x7f
}

// Recompiler emits inline host code for one (opcode, operand-size)
// pairing and returns the guest PC the dispatcher should advance to.
// Returning ok=false tells the dispatcher no specialized recompiler
// exists for this instruction and it must fall back to an interpreter
// call (spec.md section 4.8 step 5).
type Recompiler func(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (newPC uint32, ok bool)

// OpFn is the interpreter fallback contract (spec.md section 6): one
// function per opcode, invoked at guest-execution time (not at
// recompile time) when no specialized recompiler exists.
type OpFn func(s *cpustate.State, fetchdat uint32) uint16

// Dispatcher owns the per-block build-time state: the allocator, the
// accumulator, the active timing backend, and the table of specialized
// recompilers and interpreter fallbacks it chooses between.
type Dispatcher struct {
	State   *cpustate.State
	Mem     memory.Memory
	Cache   *blockcache.Cache
	Alloc   *regalloc.Allocator
	Accum   *accumulate.Accumulator
	Timing  *timing.Backend
	FPUCost *timing.FPUTable

	Recompilers map[uint16]Recompiler // key: uint16(secondOpcode)<<8 | opcode
	OpTable     [2][256]OpFn          // [0]=one-byte table, [1]=0F-prefixed table

	// HandlerAddr parallels OpTable with the host entry-point address
	// of each interpreter trampoline, for the emitted CALL in the
	// generic fallback sequence. Zero entries still emit a
	// representative call so block sizing is stable.
	HandlerAddr [2][256]uint64

	// Gen is the host emission layer bound by NewCodegen; recompilers
	// that emit effective-address or memory fast-path sequences reach
	// it through here (nil means only register-form recompilers run).
	Gen *Codegen

	// inRecompile guards against the codegen_in_recompile re-entrancy
	// case (SPEC_FULL.md supplemented features): a fallback interpreter
	// call must never itself trigger a nested recompile.
	inRecompile bool

	cur *blockcache.CodeBlock
	ref blockcache.Ref
}

// NewDispatcher wires a Dispatcher over an already-constructed core
// context. Recompilers/OpTable are left zero-valued for the caller to
// populate (see RegisterRecompiler / RegisterOpFn).
func NewDispatcher(s *cpustate.State, mem memory.Memory, cache *blockcache.Cache, alloc *regalloc.Allocator, accum *accumulate.Accumulator) *Dispatcher {
	return &Dispatcher{
		State:       s,
		Mem:         mem,
		Cache:       cache,
		Alloc:       alloc,
		Accum:       accum,
		Recompilers: make(map[uint16]Recompiler),
	}
}

// RegisterRecompiler installs a specialized recompiler for one opcode.
func (d *Dispatcher) RegisterRecompiler(secondOpcode bool, opcode uint8, r Recompiler) {
	d.Recompilers[recompKey(secondOpcode, opcode)] = r
}

func recompKey(secondOpcode bool, opcode uint8) uint16 {
	k := uint16(opcode)
	if secondOpcode {
		k |= 0x100
	}
	return k
}

// RegisterOpFn installs an interpreter fallback for one opcode.
func (d *Dispatcher) RegisterOpFn(secondOpcode bool, opcode uint8, fn OpFn) {
	idx := 0
	if secondOpcode {
		idx = 1
	}
	d.OpTable[idx][opcode] = fn
}

// RegisterOpHandlerAddr records the host entry-point address of an
// interpreter trampoline for the emitted generic-call sequence. Kept
// separate from RegisterOpFn since the Go function value and the host
// call target are produced by different layers of the embedding.
func (d *Dispatcher) RegisterOpHandlerAddr(secondOpcode bool, opcode uint8, addr uint64) {
	idx := 0
	if secondOpcode {
		idx = 1
	}
	d.HandlerAddr[idx][opcode] = addr
}

// SetTiming rebinds the active timing backend/FPU table, as happens
// when the configured CPU type changes (spec.md section 4.10).
func (d *Dispatcher) SetTiming(b *timing.Backend, fpu *timing.FPUTable) {
	d.Timing = b
	d.FPUCost = fpu
}

// BeginBlock allocates a fresh ring slot and starts a new translation at
// the given physical address / CS, refusing re-entrant recompilation
// (codegen_in_recompile, SPEC_FULL.md supplemented features).
func (d *Dispatcher) BeginBlock(phys, cs, pc uint32) (*blockcache.CodeBlock, error) {
	if d.inRecompile {
		return nil, errRecompileReentry
	}
	d.inRecompile = true

	d.ref = d.Cache.Allocate()
	d.cur = d.Cache.Block(d.ref)
	d.cur.Phys = phys
	d.cur.CS = cs
	d.cur.PC = pc
	d.cur.EntryCS = cs
	d.cur.FPUTopInit = d.State.Top
	d.Alloc.Reset()
	d.Accum.Reset()

	if d.Timing != nil && d.Timing.BlockStart != nil {
		d.Timing.BlockStart()
	}
	return d.cur, nil
}

// errRecompileReentry is returned by BeginBlock when a recompile is
// already in progress on this Dispatcher; per spec.md section 7 this is
// a translator inconsistency (a programming error), not a guest fault.
var errRecompileReentry = recompileReentryError{}

type recompileReentryError struct{}

func (recompileReentryError) Error() string {
	return "dispatch: recompile invoked re-entrantly"
}

// PendingInterruptCheck models the OR-and-branch-to-epilogue sequence
// that Codegen.EmitPendingCheck emits, as spec.md section 4.8 step 6
// describes: the interpreter fallback's return value is ORed with the
// pending-interrupt byte, and a nonzero result exits the block.
// Returned as a pure function of values here so it can be unit tested
// without a real emitter.
func PendingInterruptCheck(opFnResult uint16, pendingInterruptByte uint16) bool {
	return (opFnResult | pendingInterruptByte) != 0
}

// EndBlock finalizes the in-progress block: flushes the accumulator,
// computes page masks from the physical range the block covers,
// publishes it into the cache's indices, and clears the re-entrancy
// guard. endPhysExclusive/phys2 follow spec.md section 3's two-page model;
// hasSecondPage is false for blocks that stay within one page.
func (d *Dispatcher) EndBlock(endPC, endPhysExclusive uint32, phys2 uint32, hasSecondPage bool, emitAdd func(e *hostasm.Emitter, disp int32, imm int32)) *blockcache.CodeBlock {
	if d.Timing != nil && d.Timing.BlockEnd != nil {
		d.Timing.BlockEnd()
	}
	d.Accum.Flush(d.cur.Emit, emitAdd)

	d.cur.EndPC = endPC
	d.cur.PageMask = rangeMask(d.cur.Phys, endPhysExclusive)
	if hasSecondPage {
		d.cur.Phys2 = phys2
		d.cur.HasPhys2 = true
		d.cur.PageMask2 = rangeMask(phys2&^uint32(memory.PageSize-1), phys2+uint32(endPhysExclusive&memory.PageMask))
	}
	d.cur.Recompiled = true

	d.Cache.Publish(d.ref)
	d.inRecompile = false
	done := d.cur
	d.cur = nil
	return done
}

// AbandonBlock discards the in-progress block without publishing it
// (e.g. the caller decided mid-build that this PC can never be safely
// cached). The ring slot remains allocated and will simply be recycled
// on the next wraparound since it was never marked Valid.
func (d *Dispatcher) AbandonBlock() {
	d.Accum.Reset()
	d.inRecompile = false
	d.cur = nil
}

// rangeMask computes the 64-byte-granularity bit mask [start,endExclusive)
// occupies within their shared page, per spec.md section 3/4.7.
func rangeMask(start, endExclusive uint32) uint64 {
	if endExclusive <= start {
		return 0
	}
	base := start &^ uint32(memory.PageSize-1)
	firstCell := (start - base) >> memory.CellShift
	lastCell := (endExclusive - 1 - base) >> memory.CellShift
	if lastCell > 63 {
		lastCell = 63
	}
	var mask uint64
	for c := firstCell; c <= lastCell; c++ {
		mask |= 1 << c
	}
	return mask
}

// DispatchOne drives the full per-instruction protocol from spec.md
// section 4.8: classify prefixes, fetch the opcode, try a specialized
// recompiler, and otherwise emit the generic interpreter-call sequence.
// It returns the guest PC after this instruction and whether the block
// must terminate.
func (d *Dispatcher) DispatchOne(e *hostasm.Emitter, opcode uint8, secondOpcode bool, modrm uint8, fetchdat uint32, curPC uint32,
	emitGenericCall func(e *hostasm.Emitter, opcode uint8, op32 bool, fetchdat uint32, newPC, oldPC uint32),
	emitPendingCheck func(e *hostasm.Emitter),
) (nextPC uint32, blockEnd bool) {
	if d.Timing != nil && d.Timing.Opcode != nil {
		cost := d.Timing.Opcode(opcode, fetchdat, d.State.Op32, curPC)
		d.Accum.Accumulate(e, accumulate.RegCycles, int32(cost))
	}
	d.Accum.Accumulate(e, accumulate.RegIns, 1)

	if IsBlockTerminator(opcode, secondOpcode, (modrm>>3)&7) {
		// Overlapping microarchitectures charge the branch-taken cost
		// tentatively before the branch: the taken path exits with it
		// already deducted, and the not-taken continuation credits it
		// back below (spec.md section 4.10, scenario F).
		jump := 0
		if isConditionalBranch(opcode, secondOpcode) && d.Timing != nil && d.Timing.JumpCycles != nil {
			jump = d.Timing.JumpCycles()
			d.Accum.Accumulate(e, accumulate.RegCycles, int32(jump))
		}
		// Flush before a potential exit so a taken branch carries the
		// right cycle deduction (spec.md section 4.8 step 4).
		d.Accum.Flush(e, EmitAccumAdd)
		if jump != 0 {
			d.Accum.Accumulate(e, accumulate.RegCycles, int32(-jump))
		}
	}

	if rc, ok := d.Recompilers[recompKey(secondOpcode, opcode)]; ok {
		if newPC, emitted := rc(d, e, opcode, modrm, fetchdat); emitted {
			d.State.PC = newPC
			return newPC, e.Full || IsBlockTerminator(opcode, secondOpcode, (modrm>>3)&7)
		}
	}

	// Generic interpreter-call fallback (spec.md section 4.8 step 5).
	emitGenericCall(e, opcode, d.State.Op32, fetchdat, curPC, d.State.OldPC)
	emitPendingCheck(e)

	return curPC, e.Full || IsBlockTerminator(opcode, secondOpcode, (modrm>>3)&7)
}
