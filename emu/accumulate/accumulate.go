/*
 * ia32core - Cycle/instruction-count accumulator.
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

// Package accumulate batches increments to host-visible counters across
// many emitted instructions, flushing them with a single host ADD per
// counter rather than one per guest instruction (spec.md section 4.5;
// grounded on original_source/src/codegen/codegen_accumulate_x86.c).
package accumulate

import "github.com/86Box/86Box-sub014/emu/hostasm"

// Reg names one of the host-visible counters the accumulator batches.
type Reg int

const (
	RegCycles Reg = iota
	RegIns
	RegCount
)

// Dest describes where counter Reg's memory cell lives, relative to the
// block's cpu_state base register, so Flush can emit a direct-displacement
// ADD.
type Dest struct {
	Disp int32 // signed displacement from the cpu_state base register
}

// Accumulator defers counter increments until Flush, matching the
// original's acc_regs[] table: each accumulate() call only updates an
// in-memory count, and a single ADD per nonzero counter is emitted at
// flush time.
type Accumulator struct {
	count [RegCount]int32
	dest  [RegCount]Dest

	// AuxCycles is the optional per-opcode "acycs" counter (spec.md
	// section 4.5) which some recompilers emit inline immediately
	// rather than batching, mirroring the source's special-cased
	// ACCREG_cycles/acycs interaction in codegen_accumulate.
	emitAuxCycles func(e *hostasm.Emitter, delta int32)
}

// NewAccumulator constructs an accumulator bound to the counters' memory
// locations (relative to the per-block cpu_state base register) and an
// optional inline auxiliary-cycles emitter.
func NewAccumulator(dest [RegCount]Dest, emitAuxCycles func(e *hostasm.Emitter, delta int32)) *Accumulator {
	return &Accumulator{dest: dest, emitAuxCycles: emitAuxCycles}
}

// Accumulate defers delta into the named counter. When reg is RegCycles
// and delta is nonzero, it also emits the inline auxiliary-cycles
// adjustment immediately, exactly as codegen_accumulate does for
// acycs — a second, unbatched bookkeeping counter that some timing
// backends consult before the batched counter is flushed.
func (a *Accumulator) Accumulate(e *hostasm.Emitter, reg Reg, delta int32) {
	a.count[reg] += delta
	if reg == RegCycles && delta != 0 && a.emitAuxCycles != nil {
		a.emitAuxCycles(e, -delta)
	}
}

// Flush emits one `ADD [base+disp], imm32` per nonzero counter and
// zeroes every counter. emitAdd is supplied by the caller's
// host-specific codegen layer.
func (a *Accumulator) Flush(e *hostasm.Emitter, emitAdd func(e *hostasm.Emitter, disp int32, imm int32)) {
	for r := Reg(0); r < RegCount; r++ {
		if a.count[r] != 0 {
			emitAdd(e, a.dest[r].Disp, a.count[r])
			a.count[r] = 0
		}
	}
}

// Reset clears all batched counters without emitting anything, for when
// a block is abandoned before any byte of it is committed
// (original_source's codegen_accumulate_reset, kept distinct from Flush
// per SPEC_FULL.md's supplemented-features list).
func (a *Accumulator) Reset() {
	for r := Reg(0); r < RegCount; r++ {
		a.count[r] = 0
	}
}

// Pending reports the currently-batched (unflushed) delta for reg, for
// tests and for the dispatcher's branch-taken/not-taken cycle
// bookkeeping (spec.md section 8 scenario F).
func (a *Accumulator) Pending(reg Reg) int32 {
	return a.count[reg]
}
