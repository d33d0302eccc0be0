/*
 * ia32core - Specialized per-opcode recompilers.
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
	"github.com/86Box/86Box-sub014/emu/addressing"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/86Box/86Box-sub014/emu/memaccess"
	"github.com/86Box/86Box-sub014/emu/regalloc"
)

// Lazy-flag operation codes written to cpu_state.flags_op. The flag
// materializer (an external collaborator, like the interpreter it
// serves) decodes these together with flags_res when a later
// instruction actually needs EFLAGS.
const (
	FlagsUnknown int32 = iota
	FlagsINC8
	FlagsINC16
	FlagsINC32
	FlagsDEC8
	FlagsDEC16
	FlagsDEC32
)

// Recompiler calling convention: on entry, d.State.PC holds the guest
// address of the byte after the opcode, d.State.OldPC the instruction
// start, and fetchdat the next four guest code bytes (modrm in the low
// byte for ModR/M instructions). The returned newPC is the address of
// the next instruction.

// ropNOP handles 90h: nothing to emit, one byte consumed.
func ropNOP(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	return d.State.PC, true
}

// ropMOVr8imm handles B0..B7: MOV r8, imm8 as a direct immediate store
// to the guest register image.
func ropMOVr8imm(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	reg := int(opcode & 7)
	d.Alloc.StoreImm(e, reg, regalloc.SizeByte, fetchdat&0xff, EmitStoreImmGuestReg)
	d.Alloc.Invalidate(reg & 3)
	return d.State.PC + 1, true
}

// ropMOVrimm handles B8..BF: MOV r16/r32, imm.
func ropMOVrimm(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	reg := int(opcode & 7)
	if d.State.Op32 {
		d.Alloc.StoreImm(e, reg, regalloc.SizeLong, fetchdat, EmitStoreImmGuestReg)
		d.Alloc.Invalidate(reg)
		return d.State.PC + 4, true
	}
	d.Alloc.StoreImm(e, reg, regalloc.SizeWord, fetchdat&0xffff, EmitStoreImmGuestReg)
	d.Alloc.Invalidate(reg)
	return d.State.PC + 2, true
}

// ropINCr / ropDECr handle 40..47 / 48..4F: load the guest register,
// adjust it in the host mirror, release it, and record the lazy-flag
// operation so EFLAGS can be materialized on demand (CF is preserved by
// INC/DEC, which the flags_op encoding captures).
func ropINCr(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	return incDec(d, e, int(opcode&7), false)
}

func ropDECr(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	return incDec(d, e, int(opcode&7), true)
}

func incDec(d *Dispatcher, e *hostasm.Emitter, reg int, dec bool) (uint32, bool) {
	sz := regalloc.SizeWord
	fop := FlagsINC16
	if d.State.Op32 {
		sz = regalloc.SizeLong
		fop = FlagsINC32
	}
	if dec {
		fop += FlagsDEC8 - FlagsINC8
	}

	h := d.Alloc.Load(e, reg, sz, EmitLoadGuestReg)
	if dec {
		e.DecReg32(hostIndex(h))
	} else {
		e.IncReg32(hostIndex(h))
	}
	e.MovState32Reg(flagsResDisp, hostIndex(h))
	d.Alloc.StoreRelease(e, reg, sz, EmitStoreGuestReg)
	e.MovState32Imm(flagsOpDisp, uint32(fop))
	return d.State.PC, true
}

// decodeInlineEA decodes a ModR/M memory operand whose SIB byte and
// displacement fit inside fetchdat (no disp, disp8, or disp16 without
// SIB). Larger encodings return ok=false and flow to the interpreter
// fallback — the same fetch-window restriction the original's rop*
// helpers live with. The returned length counts the EA bytes after the
// ModR/M byte.
func decodeInlineEA(d *Dispatcher, modrm uint8, fetchdat uint32) (ea addressing.EA, seg addressing.Seg, length int, ok bool) {
	mod := modrm >> 6
	rm := modrm & 7

	if d.State.ASize32 {
		var sibPtr *uint8
		var sib uint8
		if rm == 4 {
			sib = uint8(fetchdat >> 8)
			sibPtr = &sib
			length = 1
		}
		switch {
		case mod == 0 && rm == 5,
			mod == 0 && sibPtr != nil && sib&7 == 5,
			mod == 2:
			return ea, seg, 0, false // disp32 exceeds the fetch window
		case mod == 1:
			disp := uint32(int32(int8(fetchdat >> uint(8*(1+length)))))
			ea = addressing.Decode32(mod, rm, sibPtr, disp)
			length++
		default:
			ea = addressing.Decode32(mod, rm, sibPtr, 0)
		}
	} else {
		switch {
		case mod == 2, mod == 0 && rm == 6:
			disp := uint32(uint16(fetchdat >> 8))
			ea = addressing.Decode16(mod, rm, disp)
			length = 2
		case mod == 1:
			ea = addressing.Decode16(mod, rm, uint32(int32(int8(fetchdat>>8))))
			length = 1
		default:
			ea = addressing.Decode16(mod, rm, 0)
		}
	}

	seg = addressing.ResolveSeg(ea, d.State.SSegS, addressing.Seg(d.State.EASeg))
	return ea, seg, length, true
}

func movWidth(sz regalloc.Size) memaccess.Width {
	switch sz {
	case regalloc.SizeByte:
		return memaccess.WidthByte
	case regalloc.SizeWord:
		return memaccess.WidthWord
	default:
		return memaccess.WidthLong
	}
}

// ropMOVrr handles 88/89/8A/8B: register-direct forms inline a pair of
// state moves; memory forms emit the effective-address sequence plus
// the TLB fast path when the encoding fits the fetch window, and fall
// back to the interpreter otherwise.
func ropMOVrr(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	if modrm>>6 != 3 {
		return ropMOVmem(d, e, opcode, modrm, fetchdat)
	}
	regField := int(modrm>>3) & 7
	rmField := int(modrm) & 7

	// 88/89 write reg into r/m; 8A/8B the reverse.
	src, dst := regField, rmField
	if opcode&2 != 0 {
		src, dst = rmField, regField
	}

	var sz regalloc.Size
	switch {
	case opcode&1 == 0:
		sz = regalloc.SizeByte
	case d.State.Op32:
		sz = regalloc.SizeLong
	default:
		sz = regalloc.SizeWord
	}

	// Byte moves between the two halves of one dword share a mirror
	// slot; leave that pairing to the interpreter.
	if sz == regalloc.SizeByte && dst != src && dst&3 == src&3 {
		return 0, false
	}

	h := d.Alloc.Load(e, src, sz, EmitLoadGuestReg)
	EmitStoreGuestReg(e, h, dst, sz)
	if sz == regalloc.SizeByte {
		d.Alloc.Invalidate(dst & 3)
	} else {
		d.Alloc.Invalidate(dst)
	}
	return d.State.PC + 1, true
}

// ropMOVmem emits the memory forms of 88/89/8A/8B over the EA and
// fast-path emitters (spec.md sections 4.3 and 4.4 working together).
func ropMOVmem(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	g := d.Gen
	if g == nil {
		return 0, false
	}
	ea, seg, eaLen, ok := decodeInlineEA(d, modrm, fetchdat)
	if !ok {
		return 0, false
	}

	regField := int(modrm>>3) & 7
	var sz regalloc.Size
	switch {
	case opcode&1 == 0:
		sz = regalloc.SizeByte
	case d.State.Op32:
		sz = regalloc.SizeLong
	default:
		sz = regalloc.SizeWord
	}

	if opcode&2 != 0 { // 8A/8B: load reg from memory
		g.EmitLoadEA(e, ea)
		g.EmitMemLoad(e, seg, movWidth(sz))
		// Loaded value lands in EAX; commit it to the guest image.
		EmitStoreGuestReg(e, regalloc.HostHandle{Index: hostasm.RegRAX}, regField, sz)
		if sz == regalloc.SizeByte {
			d.Alloc.Invalidate(regField & 3)
		} else {
			d.Alloc.Invalidate(regField)
		}
	} else { // 88/89: store reg to memory
		h := d.Alloc.Load(e, regField, sz, EmitLoadGuestReg)
		e.MovRegReg32(hostasm.RegRBX, hostIndex(h))
		g.EmitLoadEA(e, ea)
		g.EmitMemStore(e, seg, movWidth(sz))
	}
	return d.State.PC + 1 + uint32(eaLen), true
}

// ropJMPrel8 handles EB: an unconditional short jump ends the block;
// the emitted code just commits the target PC and falls through to the
// epilogue the block builder appends.
func ropJMPrel8(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	dest := d.State.PC + 1 + uint32(int32(int8(fetchdat&0xff)))
	if !d.State.Op32 {
		dest &= 0xffff
	}
	e.MovState32Imm(pcDisp, dest)
	return dest, true
}

// ropJMPrel handles E9: JMP rel16/rel32.
func ropJMPrel(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
	var dest uint32
	if d.State.Op32 {
		dest = d.State.PC + 4 + fetchdat
	} else {
		dest = (d.State.PC + 2 + uint32(int32(int16(fetchdat&0xffff)))) & 0xffff
	}
	e.MovState32Imm(pcDisp, dest)
	return dest, true
}

// RegisterStandard installs the specialized recompilers this port
// carries. Cold opcodes stay unregistered and flow through the generic
// interpreter-call path, matching the original's sparsely-populated
// recomp_opcodes table (spec.md section 9: "Cold entries are None").
func RegisterStandard(d *Dispatcher) {
	d.RegisterRecompiler(false, 0x90, ropNOP)
	for op := uint8(0xb0); op <= 0xb7; op++ {
		d.RegisterRecompiler(false, op, ropMOVr8imm)
	}
	for op := uint8(0xb8); op <= 0xbf; op++ {
		d.RegisterRecompiler(false, op, ropMOVrimm)
	}
	for op := uint8(0x40); op <= 0x47; op++ {
		d.RegisterRecompiler(false, op, ropINCr)
	}
	for op := uint8(0x48); op <= 0x4f; op++ {
		d.RegisterRecompiler(false, op, ropDECr)
	}
	d.RegisterRecompiler(false, 0x88, ropMOVrr)
	d.RegisterRecompiler(false, 0x89, ropMOVrr)
	d.RegisterRecompiler(false, 0x8a, ropMOVrr)
	d.RegisterRecompiler(false, 0x8b, ropMOVrr)
	d.RegisterRecompiler(false, 0xe9, ropJMPrel)
	d.RegisterRecompiler(false, 0xeb, ropJMPrel8)
}
