/*
 * ia32core - Concrete amd64 host-instruction emission helpers.
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

package hostasm

// Host register numbering, amd64 encoding order. Registers 8..15 need a
// REX prefix bit; the helpers below compute it from the register number
// so callers never deal with prefixes directly.
const (
	RegRAX = 0
	RegRCX = 1
	RegRDX = 2
	RegRBX = 3
	RegRSP = 4
	RegRBP = 5
	RegRSI = 6
	RegRDI = 7
	RegR8  = 8
	RegR9  = 9
	RegR10 = 10
	RegR11 = 11
	RegR12 = 12
	RegR13 = 13
	RegR14 = 14
	RegR15 = 15
)

// Condition codes for Jcc, amd64 encoding order (opcode 0x70+cc short,
// 0F 80+cc near).
const (
	CCO  = 0x0
	CCNO = 0x1
	CCB  = 0x2
	CCNB = 0x3
	CCE  = 0x4
	CCNE = 0x5
	CCBE = 0x6
	CCNBE = 0x7
	CCS  = 0x8
	CCNS = 0x9
	CCP  = 0xa
	CCNP = 0xb
	CCL  = 0xc
	CCNL = 0xd
	CCLE = 0xe
	CCNLE = 0xf
)

// rex composes a REX prefix byte; emitted only when at least one bit is
// needed so legacy-register encodings stay one byte shorter.
func (e *Emitter) rex(w bool, r, x, b int) {
	v := uint8(0x40)
	if w {
		v |= 8
	}
	if r >= 8 {
		v |= 4
	}
	if x >= 8 {
		v |= 2
	}
	if b >= 8 {
		v |= 1
	}
	if v != 0x40 || w {
		e.AppendU8(v)
	}
}

// rexAlways is rex but emitted unconditionally, needed for byte-register
// access to SIL/DIL/SPL/BPL where the bare encoding means AH/CH/DH/BH.
func (e *Emitter) rexAlways(w bool, r, x, b int) {
	v := uint8(0x40)
	if w {
		v |= 8
	}
	if r >= 8 {
		v |= 4
	}
	if x >= 8 {
		v |= 2
	}
	if b >= 8 {
		v |= 1
	}
	e.AppendU8(v)
}

// modrmBaseDisp8 emits the ModRM byte addressing [RBP+disp8] — the
// cpu_state base register form every state access in a block uses
// (spec.md section 4.1's 8-bit-displacement rationale).
func (e *Emitter) modrmBaseDisp8(reg int, disp int8) {
	e.AppendU8(0x45 | uint8(reg&7)<<3)
	e.AppendU8(uint8(disp))
}

// MovRegImm32 emits MOV r32, imm32 (B8+r id).
func (e *Emitter) MovRegImm32(reg int, imm uint32) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xb8 | uint8(reg&7))
	e.AppendU32(imm)
}

// MovRegImm64 emits MOV r64, imm64 (REX.W B8+r io), used to materialize
// host addresses for indirect calls and the cpu_state base.
func (e *Emitter) MovRegImm64(reg int, imm uint64) {
	e.rex(true, 0, 0, reg)
	e.AppendU8(0xb8 | uint8(reg&7))
	e.AppendU64(imm)
}

// MovRegState32 emits MOV r32, [RBP+disp8]: a dword guest-state load.
func (e *Emitter) MovRegState32(reg int, disp int8) {
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x8b)
	e.modrmBaseDisp8(reg, disp)
}

// MovzxRegState16 emits MOVZX r32, word [RBP+disp8] for word-register
// loads, zero-extending so the host mirror's upper bits are defined.
func (e *Emitter) MovzxRegState16(reg int, disp int8) {
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x0f)
	e.AppendU8(0xb7)
	e.modrmBaseDisp8(reg, disp)
}

// MovzxRegState8 emits MOVZX r32, byte [RBP+disp8].
func (e *Emitter) MovzxRegState8(reg int, disp int8) {
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x0f)
	e.AppendU8(0xb6)
	e.modrmBaseDisp8(reg, disp)
}

// MovState32Reg emits MOV [RBP+disp8], r32: a dword guest-state store.
func (e *Emitter) MovState32Reg(disp int8, reg int) {
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x89)
	e.modrmBaseDisp8(reg, disp)
}

// MovState16Reg emits MOV [RBP+disp8], r16.
func (e *Emitter) MovState16Reg(disp int8, reg int) {
	e.AppendU8(0x66)
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x89)
	e.modrmBaseDisp8(reg, disp)
}

// MovState8Reg emits MOV [RBP+disp8], r8. The REX prefix is emitted
// unconditionally so registers 4..7 select SPL/BPL/SIL/DIL rather than
// the legacy high-byte forms.
func (e *Emitter) MovState8Reg(disp int8, reg int) {
	e.rexAlways(false, reg, 0, 0)
	e.AppendU8(0x88)
	e.modrmBaseDisp8(reg, disp)
}

// MovState32Imm emits MOV dword [RBP+disp8], imm32 (C7 /0).
func (e *Emitter) MovState32Imm(disp int8, imm uint32) {
	e.AppendU8(0xc7)
	e.AppendU8(0x45)
	e.AppendU8(uint8(disp))
	e.AppendU32(imm)
}

// MovState16Imm emits MOV word [RBP+disp8], imm16.
func (e *Emitter) MovState16Imm(disp int8, imm uint16) {
	e.AppendU8(0x66)
	e.AppendU8(0xc7)
	e.AppendU8(0x45)
	e.AppendU8(uint8(disp))
	e.AppendU16(imm)
}

// MovState8Imm emits MOV byte [RBP+disp8], imm8 (C6 /0).
func (e *Emitter) MovState8Imm(disp int8, imm uint8) {
	e.AppendU8(0xc6)
	e.AppendU8(0x45)
	e.AppendU8(uint8(disp))
	e.AppendU8(imm)
}

// AddState32Imm emits ADD dword [RBP+disp8], imm — the single
// flush-time add the cycle accumulator batches into (spec.md section
// 4.5). The short sign-extended-imm8 form is chosen when it fits.
func (e *Emitter) AddState32Imm(disp int8, imm int32) {
	if imm >= -128 && imm < 128 {
		e.AppendU8(0x83)
		e.AppendU8(0x45)
		e.AppendU8(uint8(disp))
		e.AppendU8(uint8(imm))
		return
	}
	e.AppendU8(0x81)
	e.AppendU8(0x45)
	e.AppendU8(uint8(disp))
	e.AppendU32(uint32(imm))
}

// CmpState8Imm emits CMP byte [RBP+disp8], imm8 (80 /7) — the abrt
// test after every slow-path call (spec.md section 4.3 step 5).
func (e *Emitter) CmpState8Imm(disp int8, imm uint8) {
	e.AppendU8(0x80)
	e.AppendU8(0x7d)
	e.AppendU8(uint8(disp))
	e.AppendU8(imm)
}

// MovRegReg32 emits MOV r32, r32 (89 /r, dst in rm).
func (e *Emitter) MovRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x89)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// MovRegReg64 emits MOV r64, r64.
func (e *Emitter) MovRegReg64(dst, src int) {
	e.rex(true, src, 0, dst)
	e.AppendU8(0x89)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// XorRegReg32 emits XOR r32, r32, the canonical zeroing idiom.
func (e *Emitter) XorRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x31)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// AddRegReg32 emits ADD r32, r32 (01 /r, dst in rm).
func (e *Emitter) AddRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x01)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// SubRegReg32 emits SUB r32, r32 (29 /r, dst in rm).
func (e *Emitter) SubRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x29)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// AndRegReg32 emits AND r32, r32 (21 /r, dst in rm).
func (e *Emitter) AndRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x21)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// OrRegReg32 emits OR r32, r32 (09 /r, dst in rm).
func (e *Emitter) OrRegReg32(dst, src int) {
	e.rex(false, src, 0, dst)
	e.AppendU8(0x09)
	e.AppendU8(0xc0 | uint8(src&7)<<3 | uint8(dst&7))
}

// AddRegImm32 emits ADD r32, imm (83 /0 ib short form when it fits).
func (e *Emitter) AddRegImm32(reg int, imm int32) {
	e.rex(false, 0, 0, reg)
	if imm >= -128 && imm < 128 {
		e.AppendU8(0x83)
		e.AppendU8(0xc0 | uint8(reg&7))
		e.AppendU8(uint8(imm))
		return
	}
	e.AppendU8(0x81)
	e.AppendU8(0xc0 | uint8(reg&7))
	e.AppendU32(uint32(imm))
}

// AndRegImm32 emits AND r32, imm32 (81 /4 id).
func (e *Emitter) AndRegImm32(reg int, imm uint32) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0x81)
	e.AppendU8(0xe0 | uint8(reg&7))
	e.AppendU32(imm)
}

// ShrRegImm32 emits SHR r32, imm8 (C1 /5 ib) — the virtual-page-index
// extraction in the TLB fast path.
func (e *Emitter) ShrRegImm32(reg int, imm uint8) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xc1)
	e.AppendU8(0xe8 | uint8(reg&7))
	e.AppendU8(imm)
}

// ShlRegImm32 emits SHL r32, imm8 (C1 /4 ib) — scaled-index formation
// in the effective-address sequences.
func (e *Emitter) ShlRegImm32(reg int, imm uint8) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xc1)
	e.AppendU8(0xe0 | uint8(reg&7))
	e.AppendU8(imm)
}

// TestRegImm32 emits TEST r32, imm32 (F7 /0 id) — the alignment test.
func (e *Emitter) TestRegImm32(reg int, imm uint32) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xf7)
	e.AppendU8(0xc0 | uint8(reg&7))
	e.AppendU32(imm)
}

// CmpRegImm8 emits CMP r32, imm8 sign-extended (83 /7 ib) — the
// NotCached sentinel check in the TLB fast path.
func (e *Emitter) CmpRegImm8(reg int, imm int8) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0x83)
	e.AppendU8(0xf8 | uint8(reg&7))
	e.AppendU8(uint8(imm))
}

// IncReg32/DecReg32 emit the two-byte FF /0 and FF /1 forms (the
// one-byte 40+r encodings are REX prefixes on amd64).
func (e *Emitter) IncReg32(reg int) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xff)
	e.AppendU8(0xc0 | uint8(reg&7))
}

func (e *Emitter) DecReg32(reg int) {
	e.rex(false, 0, 0, reg)
	e.AppendU8(0xff)
	e.AppendU8(0xc8 | uint8(reg&7))
}

// PushReg/PopReg emit 50+r / 58+r with a REX.B prefix for R8..R15.
func (e *Emitter) PushReg(reg int) {
	if reg >= 8 {
		e.AppendU8(0x41)
	}
	e.AppendU8(0x50 | uint8(reg&7))
}

func (e *Emitter) PopReg(reg int) {
	if reg >= 8 {
		e.AppendU8(0x41)
	}
	e.AppendU8(0x58 | uint8(reg&7))
}

// JccShort emits a two-byte conditional jump with a zero displacement
// placeholder and returns the offset of the displacement byte for
// PatchJumpHere.
func (e *Emitter) JccShort(cc int) int {
	e.AppendU8(0x70 | uint8(cc))
	patch := e.pos
	e.AppendU8(0)
	return patch
}

// JmpShort emits EB disp8 with a placeholder, returning the patch
// offset.
func (e *Emitter) JmpShort() int {
	e.AppendU8(0xeb)
	patch := e.pos
	e.AppendU8(0)
	return patch
}

// PatchJumpHere resolves a short-jump placeholder so it lands at the
// current write position.
func (e *Emitter) PatchJumpHere(patch int) {
	e.PatchU8(patch, uint8(e.pos-(patch+1)))
}

// JccEpilogue emits a near conditional jump straight to the common
// block epilogue at BlockExitOffset, hard-coding the displacement the
// way the original does (spec.md section 4.3's size-sensitive
// contract: the epilogue lives at a fixed offset, so no patching is
// needed).
func (e *Emitter) JccEpilogue(cc int) {
	e.AppendU8(0x0f)
	e.AppendU8(0x80 | uint8(cc))
	e.AppendU32(uint32(int32(BlockExitOffset - (e.pos + 4))))
}

// JmpEpilogue emits an unconditional near jump to the common epilogue.
func (e *Emitter) JmpEpilogue() {
	e.AppendU8(0xe9)
	e.AppendU32(uint32(int32(BlockExitOffset - (e.pos + 4))))
}

// JmpGPF emits an unconditional near jump to the GPF handler tail at
// BlockGPFOffset.
func (e *Emitter) JmpGPF() {
	e.AppendU8(0xe9)
	e.AppendU32(uint32(int32(BlockGPFOffset - (e.pos + 4))))
}

// CallAbs materializes target in RAX and emits CALL RAX. The original
// uses rel32 calls where the target is within 2 GiB; the
// register-indirect form is the portable-across-address-space choice
// and costs the same number of emitted instructions in the worst case.
func (e *Emitter) CallAbs(target uint64) {
	e.MovRegImm64(RegRAX, target)
	e.AppendU8(0xff)
	e.AppendU8(0xd0)
}

// OrRegState8 emits OR r8, [RBP+disp8] (0A /r) — the pending-interrupt
// merge after a generic interpreter call (spec.md section 4.8 step 6).
func (e *Emitter) OrRegState8(reg int, disp int8) {
	e.rex(false, reg, 0, 0)
	e.AppendU8(0x0a)
	e.modrmBaseDisp8(reg, disp)
}

// TestRegReg8 emits TEST r8, r8 (84 /r).
func (e *Emitter) TestRegReg8(a, b int) {
	e.rex(false, b, 0, a)
	e.AppendU8(0x84)
	e.AppendU8(0xc0 | uint8(b&7)<<3 | uint8(a&7))
}

// Lea32 emits LEA r32, (base32, index32) with the 67h address-size
// prefix, forming a guest linear address with 32-bit wraparound — the
// segment-base combine of the memory fast path (spec.md section 4.3
// step 1).
func (e *Emitter) Lea32(dst, base, index int) {
	e.AppendU8(0x67)
	e.rex(false, dst, index, base)
	e.AppendU8(0x8d)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

// MovRegLookupSlot emits MOV r64, [table + index*8]: the direct-mapped
// software-TLB consult (spec.md section 4.3 step 3). table must already
// hold the lookup array's host base address.
func (e *Emitter) MovRegLookupSlot(dst, table, index int) {
	e.rex(true, dst, index, table)
	e.AppendU8(0x8b)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(0xc0 | uint8(index&7)<<3 | uint8(table&7))
}

// MovRegBaseIndex32 emits MOV r32, [base + index]: the fast-path load
// against the TLB-returned host pointer (spec.md section 4.3 step 4).
func (e *Emitter) MovRegBaseIndex32(dst, base, index int) {
	e.rex(false, dst, index, base)
	e.AppendU8(0x8b)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

// MovzxRegBaseIndex16 / MovzxRegBaseIndex8 are the word/byte fast-path
// load forms.
func (e *Emitter) MovzxRegBaseIndex16(dst, base, index int) {
	e.rex(false, dst, index, base)
	e.AppendU8(0x0f)
	e.AppendU8(0xb7)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

func (e *Emitter) MovzxRegBaseIndex8(dst, base, index int) {
	e.rex(false, dst, index, base)
	e.AppendU8(0x0f)
	e.AppendU8(0xb6)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

// MovRegBaseIndex64 is the quad fast-path load.
func (e *Emitter) MovRegBaseIndex64(dst, base, index int) {
	e.rex(true, dst, index, base)
	e.AppendU8(0x8b)
	e.AppendU8(0x04 | uint8(dst&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

// MovBaseIndexReg32/16/8/64 are the fast-path store forms.
func (e *Emitter) MovBaseIndexReg32(base, index, src int) {
	e.rex(false, src, index, base)
	e.AppendU8(0x89)
	e.AppendU8(0x04 | uint8(src&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

func (e *Emitter) MovBaseIndexReg16(base, index, src int) {
	e.AppendU8(0x66)
	e.rex(false, src, index, base)
	e.AppendU8(0x89)
	e.AppendU8(0x04 | uint8(src&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

func (e *Emitter) MovBaseIndexReg8(base, index, src int) {
	e.rexAlways(false, src, index, base)
	e.AppendU8(0x88)
	e.AppendU8(0x04 | uint8(src&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

func (e *Emitter) MovBaseIndexReg64(base, index, src int) {
	e.rex(true, src, index, base)
	e.AppendU8(0x89)
	e.AppendU8(0x04 | uint8(src&7)<<3)
	e.AppendU8(uint8(base&7) | uint8(index&7)<<3)
}

// Ret emits C3.
func (e *Emitter) Ret() {
	e.AppendU8(0xc3)
}

// Nop emits 90.
func (e *Emitter) Nop() {
	e.AppendU8(0x90)
}

// calleeSaved is the prologue push order; the epilogue pops in reverse.
var calleeSaved = []int{RegRBX, RegRBP, RegRSI, RegRDI, RegR12, RegR13, RegR14, RegR15}

// shadowSpace keeps RSP 16-byte aligned across the pushes and leaves
// the 32 bytes of home space the Win64 ABI requires of callers, so the
// same prologue works under both calling conventions.
const shadowSpace = 0x28

// EmitBlockPrologue writes the block entry code at offset 0: push the
// callee-saved host registers, reserve stack space, and load RBP with
// &cpu_state + 128 so every state access uses an 8-bit displacement
// (spec.md section 4.1).
func (e *Emitter) EmitBlockPrologue(stateBase uint64) {
	e.Seek(0)
	for _, r := range calleeSaved {
		e.PushReg(r)
	}
	e.AppendU8(0x48) // SUB RSP, shadowSpace
	e.AppendU8(0x83)
	e.AppendU8(0xec)
	e.AppendU8(shadowSpace)
	e.MovRegImm64(RegRBP, stateBase+128)
}

// EmitBlockEpilogue writes the common exit code at BlockExitOffset:
// unwind the prologue and return to the translator's caller. Every
// emitted abort/interrupt check jumps here (spec.md section 4.1's
// reservation zones).
func (e *Emitter) EmitBlockEpilogue() {
	e.Seek(BlockExitOffset)
	e.AppendU8(0x48) // ADD RSP, shadowSpace
	e.AppendU8(0x83)
	e.AppendU8(0xc4)
	e.AppendU8(shadowSpace)
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		e.PopReg(calleeSaved[i])
	}
	e.Ret()
}

// EmitGPFTail writes the GPF handler tail at BlockGPFOffset: record the
// abort code in cpu_state.abrt, zero the return value, and fall into
// the epilogue (spec.md section 4.1: offsets [BlockGPFOffset,
// BlockExitOffset) hold the GPF tail).
func (e *Emitter) EmitGPFTail(abrtDisp int8, abrtCode uint8) {
	e.Seek(BlockGPFOffset)
	e.MovState8Imm(abrtDisp, abrtCode)
	e.XorRegReg32(RegRAX, RegRAX)
	e.JmpEpilogue()
}
