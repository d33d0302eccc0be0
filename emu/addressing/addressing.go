/*
 * ia32core - Effective-address computation (ModR/M, SIB).
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

// Package addressing decodes IA-32 ModR/M and SIB bytes into effective
// addresses, in both the interpreter's scalar sense (for the fallback
// call path) and as a prescription of which host registers/displacement
// the recompiled fast path must combine (spec.md section 4.4).
package addressing

// Seg names a guest segment register, used to determine op_ea_seg.
type Seg int

const (
	SegES Seg = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
)

// EA is the decoded effective-address description for one memory
// operand: which guest base/index registers to combine, the
// displacement, the addressing width, and which segment defaults to
// apply absent an override prefix.
type EA struct {
	Base      int  // guest register index, or -1 if none
	Index     int  // guest register index, or -1 if none
	Scale     uint8 // 1/2/4/8, only meaningful with Index in 32-bit mode
	Disp      uint32
	Is32      bool
	DefaultSS bool // true when Base is BP/SP (16-bit) or EBP/ESP (32-bit)
}

// guest register indices, IA-32 encoding order.
const (
	RegAX = 0
	RegCX = 1
	RegDX = 2
	RegBX = 3
	RegSP = 4
	RegBP = 5
	RegSI = 6
	RegDI = 7
)

// Decode16 computes the 16-bit effective address for a ModR/M byte whose
// mod field is not 11 (register-direct), per the classic 8086 base+index
// table, and reports whether the SS segment should default absent an
// override (mod/rm combinations whose base is BP) — spec.md section 4.4.
func Decode16(mod, rm uint8, disp uint32) EA {
	var ea EA
	ea.Disp = disp
	ea.Base, ea.Index = -1, -1

	switch rm {
	case 0:
		ea.Base, ea.Index = RegBX, RegSI
	case 1:
		ea.Base, ea.Index = RegBX, RegDI
	case 2:
		ea.Base, ea.Index = RegBP, RegSI
		ea.DefaultSS = true
	case 3:
		ea.Base, ea.Index = RegBP, RegDI
		ea.DefaultSS = true
	case 4:
		ea.Base = RegSI
	case 5:
		ea.Base = RegDI
	case 6:
		if mod == 0 {
			// mod==0,rm==6 is a bare disp16, no base register.
			ea.Base = -1
		} else {
			ea.Base = RegBP
			ea.DefaultSS = true
		}
	case 7:
		ea.Base = RegBX
	}
	return ea
}

// Decode32 computes the 32-bit effective address for a ModR/M byte whose
// mod field is not 11, decoding a SIB byte when rm==4 and handling the
// mod==0,rm==5 disp32-only form, per spec.md section 4.4.
func Decode32(mod, rm uint8, sib *uint8, disp uint32) EA {
	var ea EA
	ea.Is32 = true
	ea.Disp = disp
	ea.Base, ea.Index = -1, -1

	if rm == 4 && sib != nil {
		scaleBits := (*sib >> 6) & 3
		index := int((*sib >> 3) & 7)
		base := int(*sib & 7)

		ea.Scale = 1 << scaleBits
		if index != 4 { // index==4 means "no index" (ESP cannot be scaled-index)
			ea.Index = index
		}
		if base == 5 && mod == 0 {
			// disp32 base, no base register.
			ea.Base = -1
		} else {
			ea.Base = base
			if base == RegBP || base == RegSP /* EBP/ESP */ {
				ea.DefaultSS = true
			}
		}
		return ea
	}

	if rm == 5 && mod == 0 {
		// Pure disp32, no base register.
		return ea
	}

	ea.Base = int(rm)
	if rm == RegBP || rm == RegSP /* EBP/ESP */ {
		ea.DefaultSS = true
	}
	return ea
}

// ResolveSeg applies the "SS-default unless an override prefix was
// parsed" rule from spec.md section 4.4: an explicit segment-override
// prefix always wins; absent one, EA.DefaultSS selects SS, otherwise DS.
func ResolveSeg(ea EA, overridden bool, overrideSeg Seg) Seg {
	if overridden {
		return overrideSeg
	}
	if ea.DefaultSS {
		return SegSS
	}
	return SegDS
}

// StackOffset lets the POP recompiler bake in a compensating
// displacement onto an otherwise-decoded EA (spec.md section 4.4's "a
// small stack-offset parameter"), used when ESP/SP has already been
// adjusted by an emitted push/pop before the EA is materialized.
func StackOffset(ea EA, delta int32) EA {
	ea.Disp = uint32(int32(ea.Disp) + delta)
	return ea
}

// Mask16 applies the 16-bit address wraparound spec.md section 4.4
// requires ("(base + index + disp) & 0xFFFF").
func Mask16(addr uint32) uint32 {
	return addr & 0xFFFF
}
