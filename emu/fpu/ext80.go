/*
 * ia32core - Native 80-bit extended-precision arithmetic.
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
	"math"
	"math/bits"
)

// Ext80 is one x87 extended-precision value in its register format: a
// sign+exponent word and a 64-bit significand with an explicit integer
// bit (spec.md section 3's "80-bit registers"). This is the "native
// x87" arithmetic path of spec.md section 4.9: exponent and significand
// manipulated directly, no host FPU involved.
type Ext80 struct {
	SE  uint16 // sign bit 15, 15-bit biased exponent
	Sig uint64 // explicit-integer-bit significand
}

const (
	extBias   = 16383
	extExpMax = 0x7fff
)

func (x Ext80) sign() uint16   { return x.SE >> 15 }
func (x Ext80) biasedE() int32 { return int32(x.SE & extExpMax) }

// IsZero reports a zero of either sign.
func (x Ext80) IsZero() bool { return x.biasedE() == 0 && x.Sig == 0 }

// IsInf reports an infinity of either sign.
func (x Ext80) IsInf() bool {
	return x.biasedE() == extExpMax && x.Sig == 1<<63
}

// IsNaN reports any NaN encoding.
func (x Ext80) IsNaN() bool {
	return x.biasedE() == extExpMax && x.Sig&^(uint64(1)<<63) != 0
}

// ext80Indefinite is the real-indefinite QNaN in register format.
func ext80Indefinite() Ext80 {
	return Ext80{SE: 0x8000 | extExpMax, Sig: 0xc000000000000000}
}

func ext80Inf(sign uint16) Ext80 {
	return Ext80{SE: sign<<15 | extExpMax, Sig: 1 << 63}
}

func ext80Zero(sign uint16) Ext80 {
	return Ext80{SE: sign << 15}
}

// Ext80FromFloat64 widens a host double losslessly: every binary64
// value has an exact binary80 image (spec.md section 8 invariant 5's
// underpinning).
func Ext80FromFloat64(f float64) Ext80 {
	b := math.Float64bits(f)
	sign := uint16(b >> 63)
	exp := int32((b >> 52) & 0x7ff)
	frac := b & ((1 << 52) - 1)

	switch {
	case exp == 0x7ff && frac == 0:
		return ext80Inf(sign)
	case exp == 0x7ff:
		return Ext80{SE: sign<<15 | extExpMax, Sig: 1<<63 | 1<<62 | frac<<11}
	case exp == 0 && frac == 0:
		return ext80Zero(sign)
	case exp == 0:
		// Denormal double: normalize into the explicit-integer-bit form.
		shift := bits.LeadingZeros64(frac)
		sig := frac << uint(shift)
		e := int32(-1022) - int32(shift-11) + extBias
		return Ext80{SE: sign<<15 | uint16(e), Sig: sig}
	default:
		return Ext80{
			SE:  sign<<15 | uint16(exp-1023+extBias),
			Sig: 1<<63 | frac<<11,
		}
	}
}

// Ext80FromInt64 converts exactly: every int64 fits the 64-bit
// significand, which is what makes the FILDq pseudo-tag round trip
// possible (spec.md section 4.9's UINT64 tag).
func Ext80FromInt64(v int64) Ext80 {
	if v == 0 {
		return ext80Zero(0)
	}
	var sign uint16
	mag := uint64(v)
	if v < 0 {
		sign = 1
		mag = uint64(-v)
	}
	shift := bits.LeadingZeros64(mag)
	return Ext80{
		SE:  sign<<15 | uint16(63-int32(shift)+extBias),
		Sig: mag << uint(shift),
	}
}

// Float64 narrows to a host double with round-to-nearest-even,
// flushing below-range magnitudes to zero and above-range to infinity.
func (x Ext80) Float64() float64 {
	sign := uint64(x.sign()) << 63
	switch {
	case x.IsNaN():
		frac := (x.Sig &^ (uint64(1) << 63)) >> 11
		return math.Float64frombits(sign | uint64(0x7ff)<<52 | frac | 1<<51)
	case x.IsInf():
		return math.Float64frombits(sign | uint64(0x7ff)<<52)
	case x.IsZero() || x.Sig == 0:
		return math.Float64frombits(sign)
	}

	e := x.biasedE() - extBias
	sig := x.Sig
	// Renormalize unnormal encodings before narrowing.
	if sig&(1<<63) == 0 {
		shift := bits.LeadingZeros64(sig)
		sig <<= uint(shift)
		e -= int32(shift)
	}

	switch {
	case e > 1023:
		return math.Float64frombits(sign | uint64(0x7ff)<<52)
	case e < -1074:
		return math.Float64frombits(sign)
	case e < -1022:
		// Subnormal double: shift the significand down past the
		// integer bit and round.
		shift := uint(-1022 - int(e) + 11)
		return math.Float64frombits(sign | roundShiftRight(sig, shift))
	}

	frac, carry := roundSig53(sig)
	if carry {
		e++
		if e > 1023 {
			return math.Float64frombits(sign | uint64(0x7ff)<<52)
		}
	}
	return math.Float64frombits(sign | uint64(e+1023)<<52 | frac)
}

// roundSig53 rounds a 64-bit normalized significand to the 52 fraction
// bits of binary64, round-to-nearest-even, reporting a carry out of
// the integer bit.
func roundSig53(sig uint64) (frac uint64, carry bool) {
	keep := sig >> 11
	rem := sig & 0x7ff
	half := uint64(0x400)
	if rem > half || (rem == half && keep&1 == 1) {
		keep++
	}
	if keep>>53 != 0 {
		return 0, true
	}
	return keep &^ (1 << 52), false
}

func roundShiftRight(sig uint64, shift uint) uint64 {
	if shift >= 64 {
		return 0
	}
	keep := sig >> shift
	rem := sig & (1<<shift - 1)
	half := uint64(1) << (shift - 1)
	if rem > half || (rem == half && keep&1 == 1) {
		keep++
	}
	return keep
}

// applyRound rounds a 64-bit significand with guard/sticky context per
// the control word's RC field (spec.md section 4.9 "Rounding"),
// returning the rounded significand and a carry out of bit 63.
func applyRound(sig uint64, guard, sticky bool, negative bool, rc RoundMode) (uint64, bool) {
	var up bool
	switch rc {
	case RoundNearest:
		up = guard && (sticky || sig&1 == 1)
	case RoundDown:
		up = negative && (guard || sticky)
	case RoundUp:
		up = !negative && (guard || sticky)
	case RoundZero:
		up = false
	}
	if !up {
		return sig, false
	}
	sig++
	if sig == 0 {
		return 1 << 63, true
	}
	return sig, false
}

// Add computes x + y in extended precision under rc, returning status
// bits in the SW exception-flag positions.
func (x Ext80) Add(y Ext80, rc RoundMode) (Ext80, uint16) {
	switch {
	case x.IsNaN() || y.IsNaN():
		return propagateNaN(x, y), 0
	case x.IsInf() && y.IsInf():
		if x.sign() != y.sign() {
			return ext80Indefinite(), SWInvalid
		}
		return x, 0
	case x.IsInf():
		return x, 0
	case y.IsInf():
		return y, 0
	case x.IsZero() && y.IsZero():
		if x.sign() == y.sign() {
			return x, 0
		}
		if rc == RoundDown {
			return ext80Zero(1), 0
		}
		return ext80Zero(0), 0
	case x.IsZero():
		return y, 0
	case y.IsZero():
		return x, 0
	}

	if x.sign() == y.sign() {
		return addMagnitudes(x, y, rc)
	}
	return subMagnitudes(x, y, rc)
}

// Sub computes x - y.
func (x Ext80) Sub(y Ext80, rc RoundMode) (Ext80, uint16) {
	y.SE ^= 0x8000
	return x.Add(y, rc)
}

func addMagnitudes(x, y Ext80, rc RoundMode) (Ext80, uint16) {
	if x.biasedE() < y.biasedE() {
		x, y = y, x
	}
	e := x.biasedE()
	shift := uint(e - y.biasedE())

	var ysig uint64
	var guard, sticky bool
	if shift == 0 {
		ysig = y.Sig
	} else if shift <= 64 {
		ysig = y.Sig >> shift
		dropped := y.Sig & (1<<shift - 1)
		guard = shift >= 1 && y.Sig&(1<<(shift-1)) != 0
		sticky = dropped&^(1<<(shift-1)) != 0
	} else {
		sticky = true
	}

	sum, carry := bits.Add64(x.Sig, ysig, 0)
	if carry == 1 {
		guardNew := sum&1 != 0
		sticky = sticky || guard
		guard = guardNew
		sum = sum>>1 | 1<<63
		e++
	}
	sum, c := applyRound(sum, guard, sticky, x.sign() == 1, rc)
	if c {
		e++
	}
	var status uint16
	if guard || sticky {
		status |= SWPrecision
	}
	if e >= extExpMax {
		return ext80Inf(x.sign()), status | SWOverflow | SWPrecision
	}
	return Ext80{SE: x.sign()<<15 | uint16(e), Sig: sum}, status
}

func subMagnitudes(x, y Ext80, rc RoundMode) (Ext80, uint16) {
	// Order by magnitude so the result's sign follows the larger input.
	if y.biasedE() > x.biasedE() || (y.biasedE() == x.biasedE() && y.Sig > x.Sig) {
		x, y = y, x
	}
	if x.biasedE() == y.biasedE() && x.Sig == y.Sig {
		if rc == RoundDown {
			return ext80Zero(1), 0
		}
		return ext80Zero(0), 0
	}

	e := x.biasedE()
	shift := uint(e - y.biasedE())
	var ysig uint64
	var borrowBits uint64
	if shift == 0 {
		ysig = y.Sig
	} else if shift < 64 {
		ysig = y.Sig >> shift
		borrowBits = y.Sig & (1<<shift - 1)
	} else {
		borrowBits = 1
	}

	diff := x.Sig - ysig
	sticky := borrowBits != 0
	if sticky {
		diff--
	}

	if diff == 0 {
		return ext80Zero(0), 0
	}
	norm := bits.LeadingZeros64(diff)
	diff <<= uint(norm)
	e -= int32(norm)
	if e <= 0 {
		return ext80Zero(x.sign()), SWUnderflow | SWPrecision
	}
	var status uint16
	if sticky {
		status |= SWPrecision
	}
	return Ext80{SE: x.sign()<<15 | uint16(e), Sig: diff}, status
}

// Mul computes x * y in extended precision under rc.
func (x Ext80) Mul(y Ext80, rc RoundMode) (Ext80, uint16) {
	sign := x.sign() ^ y.sign()
	switch {
	case x.IsNaN() || y.IsNaN():
		return propagateNaN(x, y), 0
	case x.IsInf() || y.IsInf():
		if x.IsZero() || y.IsZero() {
			return ext80Indefinite(), SWInvalid
		}
		return ext80Inf(sign), 0
	case x.IsZero() || y.IsZero():
		return ext80Zero(sign), 0
	}

	hi, lo := bits.Mul64(x.Sig, y.Sig)
	e := x.biasedE() + y.biasedE() - extBias

	// The product of two [1,2) significands lies in [1,4): bit 127 or
	// bit 126 of the 128-bit product is the integer bit.
	if hi&(1<<63) == 0 {
		hi = hi<<1 | lo>>63
		lo <<= 1
	} else {
		e++
	}
	guard := lo&(1<<63) != 0
	sticky := lo&^(1<<63) != 0

	sig, c := applyRound(hi, guard, sticky, sign == 1, rc)
	if c {
		e++
	}
	var status uint16
	if guard || sticky {
		status |= SWPrecision
	}
	switch {
	case e >= extExpMax:
		return ext80Inf(sign), status | SWOverflow | SWPrecision
	case e <= 0:
		return ext80Zero(sign), status | SWUnderflow | SWPrecision
	}
	return Ext80{SE: sign<<15 | uint16(e), Sig: sig}, status
}

// Div computes x / y in extended precision under rc.
func (x Ext80) Div(y Ext80, rc RoundMode) (Ext80, uint16) {
	sign := x.sign() ^ y.sign()
	switch {
	case x.IsNaN() || y.IsNaN():
		return propagateNaN(x, y), 0
	case x.IsInf() && y.IsInf():
		return ext80Indefinite(), SWInvalid
	case x.IsInf():
		return ext80Inf(sign), 0
	case y.IsInf():
		return ext80Zero(sign), 0
	case y.IsZero():
		if x.IsZero() {
			return ext80Indefinite(), SWInvalid
		}
		return ext80Inf(sign), SWZeroDivide
	case x.IsZero():
		return ext80Zero(sign), 0
	}

	e := x.biasedE() - y.biasedE() + extBias
	xsig, ysig := x.Sig, y.Sig
	// Pre-shift so the quotient lands in [1,2).
	if xsig < ysig {
		e--
		q, r := bits.Div64(xsig, 0, ysig)
		rem2hi, rem2lo := r, uint64(0)
		guard, sticky := divTail(rem2hi, rem2lo, ysig)
		sig, c := applyRound(q, guard, sticky, sign == 1, rc)
		if c {
			e++
		}
		return divFinish(sign, e, sig, guard, sticky)
	}
	q, r := bits.Div64(xsig>>1, xsig<<63, ysig)
	guard, sticky := divTail(r, 0, ysig)
	sig, c := applyRound(q, guard, sticky, sign == 1, rc)
	if c {
		e++
	}
	return divFinish(sign, e, sig, guard, sticky)
}

// divTail derives guard/sticky from the division remainder: guard is
// whether 2*rem >= divisor, sticky whether anything nonzero remains
// beyond that.
func divTail(rem, _ uint64, div uint64) (guard, sticky bool) {
	if rem == 0 {
		return false, false
	}
	twice, carry := bits.Add64(rem, rem, 0)
	if carry == 1 || twice >= div {
		guard = true
		if carry == 1 {
			sticky = twice != 0 || div != 0
		} else {
			sticky = twice != div
		}
	} else {
		sticky = true
	}
	return guard, sticky
}

func divFinish(sign uint16, e int32, sig uint64, guard, sticky bool) (Ext80, uint16) {
	var status uint16
	if guard || sticky {
		status |= SWPrecision
	}
	switch {
	case e >= extExpMax:
		return ext80Inf(sign), status | SWOverflow | SWPrecision
	case e <= 0:
		return ext80Zero(sign), status | SWUnderflow | SWPrecision
	}
	return Ext80{SE: sign<<15 | uint16(e), Sig: sig}, status
}

// Cmp compares x and y: -1/0/+1, with unordered true when either is a
// NaN (spec.md section 4.9 "Compare").
func (x Ext80) Cmp(y Ext80) (int, bool) {
	if x.IsNaN() || y.IsNaN() {
		return 0, true
	}
	if x.IsZero() && y.IsZero() {
		return 0, false
	}
	xs, ys := int(x.sign()), int(y.sign())
	if xs != ys {
		if x.IsZero() && y.IsZero() {
			return 0, false
		}
		if xs == 1 {
			return -1, false
		}
		return 1, false
	}

	// Same sign: compare magnitude, then invert for negatives.
	mag := 0
	switch {
	case x.biasedE() != y.biasedE():
		if x.biasedE() < y.biasedE() {
			mag = -1
		} else {
			mag = 1
		}
	case x.Sig != y.Sig:
		if x.Sig < y.Sig {
			mag = -1
		} else {
			mag = 1
		}
	}
	if xs == 1 {
		mag = -mag
	}
	return mag, false
}

// propagateNaN returns the quieted form of whichever operand is NaN,
// preferring x, matching the x87's propagation order.
func propagateNaN(x, y Ext80) Ext80 {
	pick := x
	if !x.IsNaN() {
		pick = y
	}
	pick.Sig |= 1 << 62 // quiet it
	return pick
}
