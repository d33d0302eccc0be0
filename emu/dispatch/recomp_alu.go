/*
 * ia32core - ALU register-form recompilers with lazy-flag recording.
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
	"unsafe"

	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/86Box/86Box-sub014/emu/regalloc"
)

// Lazy-flag operation codes for the dyadic ALU family, continuing the
// INC/DEC block in recomp.go. The width variant is the base code plus
// 0 (byte), 1 (word) or 2 (dword).
const (
	FlagsADD8 int32 = 16 + 3*iota
	FlagsSUB8
	FlagsCMP8
	FlagsAND8
	FlagsOR8
	FlagsXOR8
)

var flagsOpADisp, flagsOpBDisp int8

func init() {
	var s cpustate.State
	flagsOpADisp = stateDisp("flagsopa", unsafe.Offsetof(s.FlagsOpA))
	flagsOpBDisp = stateDisp("flagsopb", unsafe.Offsetof(s.FlagsOpB))
}

// aluSpec (via aluSpecFor) maps an ALU opcode's bits 3..5 to its flag-op base and the
// host instruction to combine the two mirrors with. CMP is the SUB row
// with no writeback.
type aluSpec struct {
	flagsBase int32
	writeback bool
	combine   func(e *hostasm.Emitter, dst, src int)
}

func aluSpecFor(opcode uint8) (aluSpec, bool) {
	switch (opcode >> 3) & 7 {
	case 0: // ADD
		return aluSpec{FlagsADD8, true, (*hostasm.Emitter).AddRegReg32}, true
	case 1: // OR
		return aluSpec{FlagsOR8, true, (*hostasm.Emitter).OrRegReg32}, true
	case 4: // AND
		return aluSpec{FlagsAND8, true, (*hostasm.Emitter).AndRegReg32}, true
	case 5: // SUB
		return aluSpec{FlagsSUB8, true, (*hostasm.Emitter).SubRegReg32}, true
	case 6: // XOR
		return aluSpec{FlagsXOR8, true, (*hostasm.Emitter).XorRegReg32}, true
	case 7: // CMP
		return aluSpec{FlagsCMP8, false, (*hostasm.Emitter).SubRegReg32}, true
	default: // ADC/SBB consume CF, which the lazy machinery would have
		// to materialize first; they stay on the interpreter path.
		return aluSpec{}, false
	}
}

// ropALUrr handles the register-direct forms of the classic ALU rows
// (00/01/08/09/20/21/28/29/30/31/38/39 and their 02/03-style reversed
// variants): combine the two guest mirrors in host registers, record
// the lazy-flag operands and result, and write back unless the row is
// CMP. Memory forms and the carry-consuming rows fall through to the
// interpreter.
func ropALUrr(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	if modrm>>6 != 3 {
		return 0, false
	}
	spec, ok := aluSpecFor(opcode)
	if !ok {
		return 0, false
	}

	regField := int(modrm>>3) & 7
	rmField := int(modrm) & 7
	dst, src := rmField, regField
	if opcode&2 != 0 { // direction bit: reg <- r/m
		dst, src = regField, rmField
	}

	var sz regalloc.Size
	fop := spec.flagsBase
	switch {
	case opcode&1 == 0:
		sz = regalloc.SizeByte
	case d.State.Op32:
		sz = regalloc.SizeLong
		fop += 2
	default:
		sz = regalloc.SizeWord
		fop++
	}

	// Two different byte halves of the same dword share one mirror
	// slot; the interpreter handles that pairing.
	if sz == regalloc.SizeByte && dst != src && dst&3 == src&3 {
		return 0, false
	}

	hd := d.Alloc.Load(e, dst, sz, EmitLoadGuestReg)
	hs := d.Alloc.Load(e, src, sz, EmitLoadGuestReg)
	e.MovState32Reg(flagsOpADisp, hostIndex(hd))
	e.MovState32Reg(flagsOpBDisp, hostIndex(hs))

	if spec.writeback {
		spec.combine(e, hostIndex(hd), hostIndex(hs))
		e.MovState32Reg(flagsResDisp, hostIndex(hd))
		d.Alloc.StoreRelease(e, dst, sz, EmitStoreGuestReg)
	} else {
		// CMP computes into a scratch copy so neither mirror changes.
		e.MovRegReg32(hostasm.RegRDX, hostIndex(hd))
		spec.combine(e, hostasm.RegRDX, hostIndex(hs))
		e.MovState32Reg(flagsResDisp, hostasm.RegRDX)
	}
	e.MovState32Imm(flagsOpDisp, uint32(fop))

	return d.State.PC + 1, true
}

// RegisterALU installs the dyadic ALU rows. Kept separate from
// RegisterStandard so an embedder favoring translation-speed over
// block quality can skip it.
func RegisterALU(d *Dispatcher) {
	for _, row := range []uint8{0x00, 0x08, 0x20, 0x28, 0x30, 0x38} {
		for variant := uint8(0); variant < 4; variant++ {
			d.RegisterRecompiler(false, row|variant, ropALUrr)
		}
	}
}
