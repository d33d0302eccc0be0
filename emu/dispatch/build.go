/*
 * ia32core - Block build driver: guest code fetch, prefix loop, length
 * decode, and the per-instruction dispatch protocol.
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
	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/memory"
)

// MaxBlockInsns caps how many guest instructions one block may carry,
// independent of the emitted-byte cap (spec.md section 2: "size caps").
const MaxBlockInsns = 32

// Instruction-shape flags for the one-byte opcode map: whether a ModR/M
// byte follows and how many immediate bytes the instruction carries.
const (
	fModRM  = 1 << 0
	fImm8   = 1 << 1
	fImm16  = 1 << 2
	fImmV   = 1 << 3 // 2 or 4 bytes by operand size
	fMoffs  = 1 << 4 // 2 or 4 bytes by address size
	fImmFar = 1 << 5 // 4 or 6 bytes by operand size (ptr16:16/32)
	fGroup3 = 1 << 6 // F6/F7: immediate only for /0 and /1 (TEST)
)

// opShape maps each one-byte opcode to its decode shape. Prefix bytes
// never reach this table (the prefix loop consumes them first).
var opShape = [256]uint8{
	// 00..0F
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0, // 0F escape handled separately
	// 10..1F
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	// 20..2F
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	// 30..3F
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	fModRM, fModRM, fModRM, fModRM, fImm8, fImmV, 0, 0,
	// 40..4F INC/DEC
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	// 50..5F PUSH/POP
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	// 60..6F
	0, 0, fModRM, fModRM, 0, 0, 0, 0,
	fImmV, fModRM | fImmV, fImm8, fModRM | fImm8, 0, 0, 0, 0,
	// 70..7F Jcc rel8
	fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8,
	fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8,
	// 80..8F
	fModRM | fImm8, fModRM | fImmV, fModRM | fImm8, fModRM | fImm8,
	fModRM, fModRM, fModRM, fModRM,
	fModRM, fModRM, fModRM, fModRM, fModRM, fModRM, fModRM, fModRM,
	// 90..9F
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, fImmFar, 0, 0, 0, 0, 0,
	// A0..AF
	fMoffs, fMoffs, fMoffs, fMoffs, 0, 0, 0, 0,
	fImm8, fImmV, 0, 0, 0, 0, 0, 0,
	// B0..BF MOV r, imm
	fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8,
	fImmV, fImmV, fImmV, fImmV, fImmV, fImmV, fImmV, fImmV,
	// C0..CF
	fModRM | fImm8, fModRM | fImm8, fImm16, 0, fModRM, fModRM,
	fModRM | fImm8, fModRM | fImmV,
	fImm16 | fImm8, 0, fImm16, 0, 0, fImm8, 0, 0,
	// D0..DF
	fModRM, fModRM, fModRM, fModRM, fImm8, fImm8, 0, 0,
	fModRM, fModRM, fModRM, fModRM, fModRM, fModRM, fModRM, fModRM,
	// E0..EF
	fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8, fImm8,
	fImmV, fImmV, fImmFar, fImm8, 0, 0, 0, 0,
	// F0..FF (F0/F2/F3 are prefixes, never reached)
	0, 0, 0, 0, 0, 0, fModRM | fGroup3, fModRM | fGroup3,
	0, 0, 0, 0, 0, 0, fModRM, fModRM,
}

// shape0F covers the 0F-prefixed table well enough for length decode:
// Jcc near carry an immediate, a handful of opcodes have no ModR/M, and
// everything else is ModR/M-only.
func shape0F(opcode uint8) uint8 {
	switch {
	case opcode >= 0x80 && opcode <= 0x8f: // Jcc rel16/32
		return fImmV
	case opcode >= 0x90 && opcode <= 0x9f: // SETcc
		return fModRM
	case opcode >= 0xc8 && opcode <= 0xcf: // BSWAP
		return 0
	}
	switch opcode {
	case 0x05, 0x06, 0x08, 0x09, 0x0b, 0x0e, 0x30, 0x31, 0x32, 0x33,
		0x77, 0xa0, 0xa1, 0xa8, 0xa9, 0xaa:
		return 0
	case 0xa4, 0xac, 0xba: // SHLD/SHRD imm8, BT group
		return fModRM | fImm8
	case 0x70, 0x71, 0x72, 0x73, 0xc2, 0xc4, 0xc5, 0xc6:
		return fModRM | fImm8
	default:
		return fModRM
	}
}

// eaBytes returns how many bytes the EA encoding consumes after the
// ModR/M byte (SIB plus displacement), per the 16/32-bit addressing
// forms of spec.md section 4.4.
func eaBytes(modrm, sib uint8, asize32 bool) int {
	mod := modrm >> 6
	rm := modrm & 7
	if mod == 3 {
		return 0
	}
	if !asize32 {
		switch mod {
		case 0:
			if rm == 6 {
				return 2
			}
			return 0
		case 1:
			return 1
		default:
			return 2
		}
	}
	n := 0
	if rm == 4 {
		n = 1
		if mod == 0 && sib&7 == 5 {
			return n + 4
		}
	}
	switch mod {
	case 0:
		if rm == 5 {
			return 4
		}
		return n
	case 1:
		return n + 1
	default:
		return n + 4
	}
}

// immBytes resolves an opcode shape's immediate size under the current
// operand/address size.
func immBytes(shape uint8, modrm uint8, op32, asize32 bool) int {
	n := 0
	if shape&fImm8 != 0 {
		n++
	}
	if shape&fImm16 != 0 {
		n += 2
	}
	if shape&fImmV != 0 {
		if op32 {
			n += 4
		} else {
			n += 2
		}
	}
	if shape&fMoffs != 0 {
		if asize32 {
			n += 4
		} else {
			n += 2
		}
	}
	if shape&fImmFar != 0 {
		if op32 {
			n += 6
		} else {
			n += 4
		}
	}
	return n
}

// BuildBlock translates guest code starting at (cs:startPC) into a
// fresh codeblock: reserved-zone tails first, then the prologue, then
// one instruction at a time through DispatchOne until a terminator,
// buffer pressure, or the instruction cap closes the block (spec.md
// section 4.8).
func (g *Codegen) BuildBlock(phys, cs, startPC uint32) (*blockcache.CodeBlock, error) {
	d := g.D
	blk, err := d.BeginBlock(phys, cs, startPC)
	if err != nil {
		return nil, err
	}
	e := blk.Emit

	e.EmitGPFTail(abrtDisp, AbortGPFCode)
	e.EmitBlockEpilogue()
	e.EmitBlockPrologue(g.StateBase())
	g.ResetShadow()

	blockOp32 := d.State.Op32
	blockASize32 := d.State.ASize32

	pc := startPC
	fetchEnd := startPC // highest code byte consumed, for the page masks
	for i := 0; i < MaxBlockInsns; i++ {
		insnStart := pc
		op32 := blockOp32
		asize32 := blockASize32
		segOverride := false
		var overrideSeg addressing.Seg

		// Prefix loop (spec.md section 4.8 step 1).
		b, abrt := g.readCode(cs, pc)
		if abrt != memory.AbortNone {
			d.AbandonBlock()
			return nil, errCodeFetch
		}
		for {
			cls, isPrefix := ClassifyPrefix(b)
			if !isPrefix {
				break
			}
			switch cls {
			case PrefixOpSize:
				op32 = !blockOp32
			case PrefixAddrSize:
				asize32 = !blockASize32
			case PrefixSegOverride:
				segOverride = true
				overrideSeg = addressing.Seg(SegOverrideOf(b))
			}
			if d.Timing != nil && d.Timing.Prefix != nil {
				d.Timing.Prefix(b, 0)
			}
			pc++
			b, abrt = g.readCode(cs, pc)
			if abrt != memory.AbortNone {
				d.AbandonBlock()
				return nil, errCodeFetch
			}
		}
		d.State.SSegS = segOverride
		if segOverride {
			d.State.EASeg = int(overrideSeg)
		}

		opcode := b
		second := false
		pc++
		if opcode == 0x0f {
			second = true
			opcode, abrt = g.readCode(cs, pc)
			if abrt != memory.AbortNone {
				d.AbandonBlock()
				return nil, errCodeFetch
			}
			pc++
		}

		shape := opShape[opcode]
		if second {
			shape = shape0F(opcode)
		}

		fetchdat := g.readCodeDword(cs, pc)
		modrm := uint8(fetchdat & 0xff)

		length := 0
		if shape&fModRM != 0 {
			sib := uint8(fetchdat >> 8)
			length = 1 + eaBytes(modrm, sib, asize32)
		}
		length += immWidth(shape, opcode, modrm, op32, asize32)
		nextPC := pc + uint32(length)

		// Commit the per-instruction shadow state the recompilers and
		// the generic-call emitter read.
		d.State.Op32 = op32
		d.State.ASize32 = asize32
		d.State.OldPC = insnStart
		d.State.PC = pc

		genericCall := func(e *hostasm.Emitter, opcode uint8, op32 bool, fetchdat uint32, newPC, oldPC uint32) {
			g.EmitGenericCall(e, opcode, second, op32, fetchdat, newPC, oldPC)
		}
		newPC, blockEnd := d.DispatchOne(e, opcode, second, modrm, fetchdat, nextPC, genericCall, g.EmitPendingCheck)
		pc = newPC
		if nextPC > fetchEnd {
			fetchEnd = nextPC
		}
		blk.InsnCount++

		if blockEnd || e.Full {
			break
		}
		// Blocks span at most two physical pages; once the stream has
		// moved a full page past its entry, the addressing
		// assumptions no longer hold (spec.md section 4.8 step 7).
		if pc-startPC >= uint32(memory.PageSize) {
			break
		}
	}

	// Restore the block-wide modes and close out.
	d.State.Op32 = blockOp32
	d.State.ASize32 = blockASize32

	d.Accum.Flush(e, EmitAccumAdd)
	e.MovState32Imm(pcDisp, pc)
	e.JmpEpilogue()

	endPhys := phys + (fetchEnd - startPC)
	phys2 := endPhys &^ uint32(memory.PageMask)
	spansSecond := (phys^endPhys)&^uint32(memory.PageMask) != 0 && fetchEnd > startPC
	return d.EndBlock(fetchEnd, endPhys, phys2, spansSecond, EmitAccumAdd), nil
}

// immWidth is immBytes with the F6/F7 group-3 special case resolved:
// TEST (/0, /1) carries an immediate whose width follows the opcode's
// own operand size (F6 byte, F7 word/dword); the other group members
// carry none.
func immWidth(shape uint8, opcode, modrm uint8, op32, asize32 bool) int {
	if shape&fGroup3 != 0 {
		if (modrm>>3)&7 > 1 {
			return 0
		}
		if opcode == 0xf6 {
			return 1
		}
		if op32 {
			return 4
		}
		return 2
	}
	return immBytes(shape, modrm, op32, asize32)
}

func (g *Codegen) readCode(cs, pc uint32) (uint8, memory.Abort) {
	return g.D.Mem.ReadByte(cs + pc)
}

// readCodeDword fetches the four bytes after the opcode; short reads at
// the end of memory zero-fill, matching a fetch that will fault only if
// the instruction actually consumes the missing bytes.
func (g *Codegen) readCodeDword(cs, pc uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		b, abrt := g.D.Mem.ReadByte(cs + pc + i)
		if abrt != memory.AbortNone {
			break
		}
		v |= uint32(b) << (8 * i)
	}
	return v
}

var errCodeFetch = codeFetchError{}

type codeFetchError struct{}

func (codeFetchError) Error() string {
	return "dispatch: guest code fetch faulted during translation"
}
