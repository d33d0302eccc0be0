/*
 * ia32core - x87 transcendental operations (host-double backend).
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

import "math"

// F2xm1 implements F2XM1: ST(0) := 2^ST(0) - 1, valid for
// -1.0 <= ST(0) <= 1.0 per the architectural range; out-of-range inputs
// are passed through to host math.Exp2 rather than flagged, matching
// the host-double backend's documented fidelity tradeoff
// (SPEC_FULL.md's FPU-backend Open Question resolution).
func (c *Core) F2xm1() {
	c.SetST(0, math.Exp2(c.ST(0))-1)
}

// Yl2x implements FYL2X: ST(1) := ST(1) * log2(ST(0)), popping the
// stack.
func (c *Core) Yl2x() {
	x, y := c.ST(0), c.ST(1)
	c.Pop()
	c.SetST(0, y*math.Log2(x))
}

// Yl2xp1 implements FYL2XP1: ST(1) := ST(1) * log2(ST(0)+1), popping
// the stack.
func (c *Core) Yl2xp1() {
	x, y := c.ST(0), c.ST(1)
	c.Pop()
	c.SetST(0, y*math.Log2(x+1))
}

// Ptan implements FPTAN: pushes 1.0 after replacing ST(0) with
// tan(ST(0)), per the two-result architectural definition.
func (c *Core) Ptan() {
	c.SetST(0, math.Tan(c.ST(0)))
	c.Push(1.0)
}

// Patan implements FPATAN: ST(1) := atan2(ST(1), ST(0)), popping the
// stack.
func (c *Core) Patan() {
	x, y := c.ST(0), c.ST(1)
	c.Pop()
	c.SetST(0, math.Atan2(y, x))
}

// Sin implements FSIN.
func (c *Core) Sin() {
	c.SetST(0, math.Sin(c.ST(0)))
}

// Cos implements FCOS.
func (c *Core) Cos() {
	c.SetST(0, math.Cos(c.ST(0)))
}

// Sincos implements FSINCOS: replaces ST(0) with sin(ST(0)) and pushes
// cos of the original value.
func (c *Core) Sincos() {
	v := c.ST(0)
	s, cosv := math.Sincos(v)
	c.SetST(0, s)
	c.Push(cosv)
}

// Scale implements FSCALE: ST(0) := ST(0) * 2^trunc(ST(1)).
func (c *Core) Scale() {
	c.SetST(0, c.ST(0)*math.Exp2(math.Trunc(c.ST(1))))
}

// Xtract implements FXTRACT: replaces ST(0) with its unbiased exponent
// and pushes its significand, per spec.md section 4.9.
func (c *Core) Xtract() {
	v := c.ST(0)
	frac, exp := math.Frexp(v)
	// math.Frexp normalizes the fraction into [0.5,1); x87 expects a
	// significand in [1,2), so rescale by one power of two.
	c.SetST(0, float64(exp-1))
	c.Push(frac * 2)
}

// PremResult carries FPREM/FPREM1's quotient-bit outputs alongside the
// reduced remainder, per spec.md section 4.9's condition-code mapping
// (C0=Q2, C3=Q0, C1=Q1) and SPEC_FULL.md's "more reductions needed"
// pass-through (C2) for partial reductions.
type PremResult struct {
	Remainder      float64
	Q0, Q1, Q2     bool
	NeedsMoreSteps bool
}

// Prem implements FPREM's truncating (chop-toward-zero quotient, IEEE
// "partial remainder") reduction.
func (c *Core) Prem() PremResult {
	return c.prem(false)
}

// Prem1 implements FPREM1's round-to-nearest ("IEEE remainder")
// reduction.
func (c *Core) Prem1() PremResult {
	return c.prem(true)
}

func (c *Core) prem(ieee bool) PremResult {
	x, y := c.ST(0), c.ST(1)
	if y == 0 || math.IsInf(x, 0) {
		c.setFlag(SWInvalid)
		c.commitExceptions()
		c.SetST(0, math.NaN())
		return PremResult{Remainder: math.NaN()}
	}

	expDiff := exponent(x) - exponent(y)
	const maxStep = 32 // architectural cap before requiring another FPREM pass

	var quot float64
	var rem float64
	needsMore := expDiff > maxStep
	step := expDiff
	if needsMore {
		step = maxStep
	}

	scale := math.Exp2(float64(step))
	if ieee {
		quot = math.RoundToEven(x / (y * scale))
	} else {
		quot = math.Trunc(x / (y * scale))
	}
	rem = x - quot*y*scale

	c.SetST(0, rem)

	qi := int64(quot)
	return PremResult{
		Remainder:      rem,
		Q0:             qi&1 != 0,
		Q1:             qi&2 != 0,
		Q2:             qi&4 != 0,
		NeedsMoreSteps: needsMore,
	}
}

func exponent(v float64) int {
	if v == 0 {
		return 0
	}
	_, exp := math.Frexp(v)
	return exp
}

// ApplyPremCC writes FPREM/FPREM1's condition codes from a PremResult:
// C2 carries NeedsMoreSteps (spec.md section 4.9's partial-reduction
// signal), C0/C1/C3 carry the low three quotient bits.
func (c *Core) ApplyPremCC(r PremResult) {
	c.SetCC(r.Q2, r.Q1, r.NeedsMoreSteps, r.Q0)
}
