/*
 * ia32core - x87 arithmetic and comparison operations.
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

	"github.com/86Box/86Box-sub014/emu/cpustate"
)

// Add implements FADD-family semantics: ST(dst) += src.
func (c *Core) Add(dst int, src float64) {
	c.storeArith(dst, c.ST(dst)+src)
}

// Sub implements FSUB (minuend - subtrahend) where a/b are given in
// operand order, writing the result to ST(dst).
func (c *Core) Sub(dst int, a, b float64) {
	c.storeArith(dst, a-b)
}

// Mul implements FMUL-family semantics: ST(dst) *= src.
func (c *Core) Mul(dst int, src float64) {
	c.storeArith(dst, c.ST(dst)*src)
}

// Div implements FDIV (dividend / divisor), raising SW_ZeroDivide when
// the divisor is exactly zero and the dividend is not, per spec.md
// section 4.9.
func (c *Core) Div(dst int, a, b float64) {
	if b == 0 && a != 0 && !math.IsNaN(a) {
		c.setFlag(SWZeroDivide)
		c.commitExceptions()
		if c.S.NPXC&CWZeroDivide != 0 {
			c.storeArith(dst, math.Inf(sign(a)*sign(b)))
		}
		return
	}
	c.storeArith(dst, a/b)
}

func sign(v float64) int {
	if math.Signbit(v) {
		return -1
	}
	return 1
}

// storeArith writes the result and raises SW_Invalid (QNaN propagation
// requires no extra flag beyond whatever produced the NaN already
// carries) when the result is NaN from an operation that didn't already
// flag zero-divide.
func (c *Core) storeArith(dst int, result float64) {
	if math.IsNaN(result) {
		c.setFlag(SWInvalid)
		c.commitExceptions()
	}
	c.SetST(dst, result)
}

// Abs implements FABS.
func (c *Core) Abs() {
	c.SetST(0, math.Abs(c.ST(0)))
}

// Chs implements FCHS.
func (c *Core) Chs() {
	c.SetST(0, -c.ST(0))
}

// Sqrt implements FSQRT, raising SW_Invalid for negative operands
// (other than -0) per spec.md section 4.9.
func (c *Core) Sqrt() {
	v := c.ST(0)
	if v < 0 {
		c.setFlag(SWInvalid)
		c.commitExceptions()
		c.SetST(0, math.NaN())
		return
	}
	c.SetST(0, math.Sqrt(v))
}

// Tst implements FTST: compares ST(0) against 0.0 and sets C0-C3 the
// same way Compare does, with C2 indicating an unorderable (NaN)
// comparison.
func (c *Core) Tst() {
	c.Compare(c.ST(0), 0, false)
}

// Compare implements FCOM/FUCOM family condition-code logic (spec.md
// section 4.9): C0,C2,C3 encode less-than / unordered / equal, with
// unordered raising SW_Invalid unless quiet is true (FUCOM tolerates
// QNaNs silently; FCOM does not).
func (c *Core) Compare(a, b float64, quiet bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		if !quiet {
			c.setFlag(SWInvalid)
			c.commitExceptions()
		}
		c.SetCC(true, false, true, true) // C0=1,C2=1,C3=1: unordered
		return
	}
	switch {
	case a < b:
		c.SetCC(true, false, false, false)
	case a > b:
		c.SetCC(false, false, false, false)
	default:
		c.SetCC(false, false, false, true)
	}
}

// Xch implements FXCH: swaps ST(0) and ST(i), including their tags.
func (c *Core) Xch(i int) {
	p0, pi := c.phys(0), c.phys(i)
	c.S.ST[p0], c.S.ST[pi] = c.S.ST[pi], c.S.ST[p0]
	c.S.Tag[p0], c.S.Tag[pi] = c.S.Tag[pi], c.S.Tag[p0]
}

// Free implements FFREE: marks ST(i) empty without altering TOP.
func (c *Core) Free(i int) {
	c.S.Tag[c.phys(i)] = cpustate.TagEmpty
}

// IncStp/DecStp implement FINCSTP/FDECSTP: move TOP without touching
// any register's content or tag.
func (c *Core) IncStp() { c.S.Top = uint8((int(c.S.Top) + 1) & 7) }
func (c *Core) DecStp() { c.S.Top = uint8((int(c.S.Top) - 1) & 7) }

// LoadConst loads one of the FLDZ/FLD1/FLDPI/FLDL2E/FLDLN2/FLDL2T/FLDLG2
// constants onto the stack.
type Const int

const (
	ConstZero Const = iota
	ConstOne
	ConstPi
	ConstL2E
	ConstL2T
	ConstLN2
	ConstLG2
)

func (c *Core) LoadConst(k Const) {
	var v float64
	switch k {
	case ConstZero:
		v = 0
	case ConstOne:
		v = 1
	case ConstPi:
		v = math.Pi
	case ConstL2E:
		v = math.Log2(math.E)
	case ConstL2T:
		v = math.Log2(10)
	case ConstLN2:
		v = math.Ln2
	case ConstLG2:
		v = math.Log10(2)
	}
	c.Push(v)
}

// RndInt implements FRNDINT: rounds ST(0) to an integer using the
// control word's current rounding mode.
func (c *Core) RndInt() {
	c.SetST(0, roundToInt(c.ST(0), c.RoundMode()))
}

// IStore converts v to an integer per the control word's rounding mode
// (or rc if overrideRC is true, for the codegen_set_rounding_mode
// adapter path), for FIST/FISTP. Magnitudes that don't fit in bits
// raise SW_Invalid and return the "integer indefinite" pattern for that
// width (the most negative value), with invalid set.
func (c *Core) IStore(v float64, bits int, overrideRC bool, rc RoundMode) (result int64, invalid bool) {
	mode := c.RoundMode()
	if overrideRC {
		mode = rc
	}
	rounded := roundToInt(v, mode)
	if math.IsNaN(rounded) || math.IsInf(rounded, 0) {
		c.setFlag(SWInvalid)
		c.commitExceptions()
		return indefiniteFor(bits), true
	}
	limit := math.Exp2(float64(bits - 1))
	if rounded >= limit || rounded < -limit {
		c.setFlag(SWInvalid)
		c.commitExceptions()
		return indefiniteFor(bits), true
	}
	return int64(rounded), false
}

func indefiniteFor(bits int) int64 {
	switch bits {
	case 16:
		return -32768
	case 32:
		return -2147483648
	default:
		return -9223372036854775808
	}
}

// ILoad implements FILD: pushes the host-double conversion of an
// integer operand. 64-bit loads also set the TagUint64 pseudo-tag
// (spec.md section 4.9) so a subsequent FISTP of the same register can
// round-trip the exact bit pattern instead of re-quantizing through
// float64, per SPEC_FULL.md's supplemented features.
func (c *Core) ILoad(v int64, is64 bool) {
	c.Push(float64(v))
	if is64 {
		c.S.Tag[c.S.Top] = cpustate.TagUint64
		c.S.MM[c.S.Top] = uint64(v)
	}
}
