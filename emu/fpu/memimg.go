/*
 * ia32core - FSAVE/FRSTOR memory images and packed-BCD load/store.
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

package fpu

import (
	"encoding/binary"
	"math"

	"github.com/86Box/86Box-sub014/emu/cpustate"
)

// ImageLayout selects one of the four FSAVE/FRSTOR memory layouts
// spec.md section 4.9 names: 16-bit real mode, 16-bit protected mode,
// 32-bit real mode, 32-bit protected mode. The two real-mode layouts
// differ from their protected-mode counterparts only in how the
// instruction/data pointer's selector:offset pair is packed; all four
// carry the same 80-bit register images.
type ImageLayout int

const (
	Layout16Real ImageLayout = iota
	Layout16Protected
	Layout32Real
	Layout32Protected
)

// ImageSize returns the byte size of the given layout's memory image.
func ImageSize(l ImageLayout) int {
	switch l {
	case Layout16Real, Layout16Protected:
		return 94
	default:
		return 108
	}
}

// Save writes the current FPU state into dst in the given layout,
// returning the number of bytes written. Each ST(i) is saved as its
// true 80-bit extended-precision encoding (sign, 15-bit biased
// exponent, explicit 64-bit significand with integer bit) rather than
// the host double's 64-bit form, so a round trip through Save/Restore
// is bit-exact per spec.md section 8 invariant 4.
func (c *Core) Save(dst []byte, l ImageLayout) int {
	if len(dst) < ImageSize(l) {
		panic("fpu: destination buffer too small for image layout")
	}

	off := c.SaveEnv(dst, l)
	for i := 0; i < 8; i++ {
		reg := (int(c.S.Top) + i) & 7
		encodeExtended(dst[off+i*10:off+i*10+10], c.S.ST[reg], c.S.Tag[reg])
	}
	return ImageSize(l)
}

// Restore loads FPU state from src, encoded in the given layout, the
// inverse of Save.
func (c *Core) Restore(src []byte, l ImageLayout) {
	tw, off := c.RestoreEnv(src, l)

	for i := 0; i < 8; i++ {
		reg := (int(c.S.Top) + i) & 7
		v, empty := decodeExtended(src[off+i*10 : off+i*10+10])
		c.S.ST[reg] = v
		tag := tagFromTagWord(tw, reg)
		if empty && tag != cpustate.TagZero {
			// The all-zero image is both +0.0 and an unused slot; the
			// tag word tells the two apart.
			tag = cpustate.TagEmpty
		}
		c.S.Tag[reg] = tag
	}
}

func headerSize(l ImageLayout) int {
	switch l {
	case Layout16Real, Layout16Protected:
		return 14
	default:
		return 28
	}
}

// tagWord packs the abbreviated (2-bit-per-register) tag word from the
// current Tag array, in physical-register order as the architecture
// requires (not TOP-relative).
func (c *Core) tagWord() uint16 {
	var tw uint16
	for r := 0; r < 8; r++ {
		var bits uint16
		switch c.S.Tag[r] {
		case cpustate.TagValid, cpustate.TagUint64:
			bits = 0
		case cpustate.TagZero:
			bits = 1
		case cpustate.TagSpecial:
			bits = 2
		case cpustate.TagEmpty:
			bits = 3
		}
		tw |= bits << uint(r*2)
	}
	return tw
}

// tagFromTagWord decodes physical register reg's 2-bit tag from a tag
// word packed in physical-register order (spec.md section 4.9); the
// recorded bits are trusted directly rather than re-derived from the
// restored value, since Special-vs-Valid cannot always be recovered
// from the host-double value alone.
func tagFromTagWord(tw uint16, reg int) cpustate.Tag {
	bits := (tw >> uint(reg*2)) & 3
	switch bits {
	case 0:
		return cpustate.TagValid
	case 1:
		return cpustate.TagZero
	case 2:
		return cpustate.TagSpecial
	default:
		return cpustate.TagEmpty
	}
}

// encodeExtended writes v as an 80-bit x87 extended-precision value
// into a 10-byte buffer. Empty registers are written as all zero bits,
// matching real FSAVE behavior for unused slots.
func encodeExtended(dst []byte, v float64, tag cpustate.Tag) {
	if tag == cpustate.TagEmpty {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	bits := math.Float64bits(v)
	sign := bits >> 63
	exp := int64((bits>>52)&0x7ff) - 1023
	frac := bits & ((1 << 52) - 1)

	var mantissa uint64
	var biasedExp uint16
	switch {
	case v == 0:
		mantissa = 0
		biasedExp = 0
	case math.IsInf(v, 0):
		biasedExp = 0x7fff
		mantissa = 1 << 63
	case math.IsNaN(v):
		biasedExp = 0x7fff
		mantissa = (1 << 63) | (1 << 62) | (frac << 11)
	default:
		biasedExp = uint16(exp + 16383)
		mantissa = (1 << 63) | (frac << 11)
	}

	binary.LittleEndian.PutUint64(dst[0:8], mantissa)
	se := biasedExp | uint16(sign<<15)
	binary.LittleEndian.PutUint16(dst[8:10], se)
}

// decodeExtended is the inverse of encodeExtended; empty is true when
// the 10 bytes are the canonical zero pattern FSAVE writes for unused
// registers.
func decodeExtended(src []byte) (v float64, empty bool) {
	mantissa := binary.LittleEndian.Uint64(src[0:8])
	se := binary.LittleEndian.Uint16(src[8:10])
	sign := uint64(se>>15) & 1
	biasedExp := se & 0x7fff

	if mantissa == 0 && se == 0 {
		return 0, true
	}

	exp := int64(biasedExp) - 16383
	frac := (mantissa &^ (1 << 63)) >> 11

	switch {
	case biasedExp == 0x7fff:
		if mantissa&((1<<62)-1) != 0 {
			bits := (sign << 63) | (uint64(0x7ff) << 52) | frac | 1
			return math.Float64frombits(bits), false
		}
		if sign == 1 {
			return math.Inf(-1), false
		}
		return math.Inf(1), false
	case biasedExp == 0:
		return math.Float64frombits(sign << 63), false
	default:
		bits := (sign << 63) | (uint64(exp+1023) << 52) | frac
		return math.Float64frombits(bits), false
	}
}

// BCDDigits is the number of packed-BCD digits an FBLD/FBSTP operand
// carries (spec.md section 4.9: 18 digits plus sign, in a 10-byte
// field).
const BCDDigits = 18

// maxBCDMagnitude is 10^18 - 1, the largest magnitude representable in
// 18 packed-BCD digits; values whose magnitude would require more
// raise Invalid on store, per spec.md section 4.9.
const maxBCDMagnitude = 999999999999999999

// LoadBCD implements FBLD: decodes a 10-byte packed-BCD field (byte 9's
// high bit is the sign) and pushes its host-double value.
func (c *Core) LoadBCD(src [10]byte) {
	var mag int64
	for i := 8; i >= 0; i-- {
		b := src[i]
		mag = mag*100 + int64(b>>4)*10 + int64(b&0xf)
	}
	v := float64(mag)
	if src[9]&0x80 != 0 {
		v = -v
	}
	c.Push(v)
}

// StoreBCD implements FBSTP: encodes ST(0) as a packed-BCD field,
// raising SW_Invalid and writing the architectural indefinite pattern
// when the magnitude exceeds 10^18-1 or the value is not encodable.
// The range check runs on the rounded float, not after an int64
// conversion, since an out-of-range float-to-int conversion has no
// defined result to test.
func (c *Core) StoreBCD() (out [10]byte, invalid bool) {
	v := c.Pop()
	neg := math.Signbit(v)
	abs := roundToInt(math.Abs(v), c.RoundMode())

	if math.IsNaN(abs) || abs >= maxBCDMagnitude+1 {
		c.setFlag(SWInvalid)
		c.commitExceptions()
		return bcdIndefinite(), true
	}
	mag := int64(abs)

	var enc [10]byte
	for i := 0; i < 9; i++ {
		enc[i] = byte((mag % 10) | ((mag / 10 % 10) << 4))
		mag /= 100
	}
	if neg {
		enc[9] = 0x80
	}
	return enc, false
}

// bcdIndefinite is the architectural packed-BCD indefinite: the
// significand image 0xC000000000000000 in the low 8 bytes and 0xFFFF
// in the sign/exponent bytes, both little-endian.
func bcdIndefinite() [10]byte {
	var out [10]byte
	out[7] = 0xc0
	out[8] = 0xff
	out[9] = 0xff
	return out
}
