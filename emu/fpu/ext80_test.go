/*
 * ia32core - Native 80-bit arithmetic tests.
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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/86Box/86Box-sub014/emu/memory"
)

func TestExt80Float64RoundTripIsLossless(t *testing.T) {
	values := []float64{
		0, 1, -1, 0.5, -0.5, 2, 1.5, math.Pi, 1e300, -1e-300,
		math.MaxFloat64, math.SmallestNonzeroFloat64,
		math.Inf(1), math.Inf(-1),
	}
	for _, v := range values {
		got := Ext80FromFloat64(v).Float64()
		assert.Equal(t, math.Float64bits(v), math.Float64bits(got), "value %g", v)
	}
}

func TestExt80NegativeZeroKeepsSign(t *testing.T) {
	nz := math.Copysign(0, -1)
	got := Ext80FromFloat64(nz).Float64()
	assert.True(t, math.Signbit(got))
	assert.Zero(t, got)
}

func TestExt80NaNRoundTripStaysNaN(t *testing.T) {
	got := Ext80FromFloat64(math.NaN()).Float64()
	assert.True(t, math.IsNaN(got))
}

func TestExt80FromInt64Exact(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -9007199254740993, 1 << 62, -(1 << 62)} {
		x := Ext80FromInt64(v)
		if v == 0 {
			assert.True(t, x.IsZero())
			continue
		}
		// The significand carries all 63+ magnitude bits exactly, so
		// values beyond double precision survive where float64(v)
		// would round.
		assert.Equal(t, float64(v), x.Float64(), "within double range this agrees: %d", v)
	}
}

func TestExt80ArithmeticMatchesHostOnExactCases(t *testing.T) {
	cases := [][2]float64{
		{1, 2}, {1.5, 0.25}, {-3, 7}, {1e10, -1e10},
		{0.125, 0.125}, {3, -4.5}, {1e-200, 1e-200},
	}
	for _, tc := range cases {
		a, b := tc[0], tc[1]
		x, y := Ext80FromFloat64(a), Ext80FromFloat64(b)

		sum, _ := x.Add(y, RoundNearest)
		assert.Equal(t, a+b, sum.Float64(), "add %g %g", a, b)

		diff, _ := x.Sub(y, RoundNearest)
		assert.Equal(t, a-b, diff.Float64(), "sub %g %g", a, b)

		prod, _ := x.Mul(y, RoundNearest)
		assert.Equal(t, a*b, prod.Float64(), "mul %g %g", a, b)

		if b != 0 {
			quot, _ := x.Div(y, RoundNearest)
			assert.Equal(t, a/b, quot.Float64(), "div %g %g", a, b)
		}
	}
}

func TestExt80DivideByZeroStatus(t *testing.T) {
	one := Ext80FromFloat64(1)
	zero := Ext80FromFloat64(0)

	r, st := one.Div(zero, RoundNearest)
	assert.True(t, r.IsInf())
	assert.NotZero(t, st&SWZeroDivide)

	r, st = zero.Div(zero, RoundNearest)
	assert.True(t, r.IsNaN())
	assert.NotZero(t, st&SWInvalid)
}

func TestExt80InfMinusInfIsInvalid(t *testing.T) {
	pinf := Ext80FromFloat64(math.Inf(1))
	ninf := Ext80FromFloat64(math.Inf(-1))
	r, st := pinf.Add(ninf, RoundNearest)
	assert.True(t, r.IsNaN())
	assert.NotZero(t, st&SWInvalid)
}

func TestExt80ZeroTimesInfIsInvalid(t *testing.T) {
	r, st := Ext80FromFloat64(0).Mul(Ext80FromFloat64(math.Inf(1)), RoundNearest)
	assert.True(t, r.IsNaN())
	assert.NotZero(t, st&SWInvalid)
}

func TestExt80Compare(t *testing.T) {
	lt := func(a, b float64) {
		c, un := Ext80FromFloat64(a).Cmp(Ext80FromFloat64(b))
		require.False(t, un)
		assert.Equal(t, -1, c, "%g < %g", a, b)
	}
	lt(1, 2)
	lt(-2, -1)
	lt(-1, 1)
	lt(1e-300, 1e300)

	eq, un := Ext80FromFloat64(0).Cmp(Ext80FromFloat64(math.Copysign(0, -1)))
	require.False(t, un)
	assert.Equal(t, 0, eq, "+0 equals -0")

	_, un = Ext80FromFloat64(1).Cmp(Ext80FromFloat64(math.NaN()))
	assert.True(t, un)
}

func TestExt80ExtendedPrecisionBeyondDouble(t *testing.T) {
	// 2^62 + 1 is not representable as a double, but is exact in the
	// 64-bit significand: (2^62+1) - 2^62 must recover exactly 1.
	big := Ext80FromInt64(1 << 62)
	one := Ext80FromFloat64(1)
	sum, _ := big.Add(one, RoundNearest)
	diff, _ := sum.Sub(big, RoundNearest)
	assert.Equal(t, 1.0, diff.Float64())
}

func TestExt80RoundingModes(t *testing.T) {
	// 1/3 is inexact; directed rounding must bracket the true value.
	one := Ext80FromFloat64(1)
	three := Ext80FromFloat64(3)

	down, stD := one.Div(three, RoundDown)
	up, stU := one.Div(three, RoundUp)
	assert.NotZero(t, stD&SWPrecision)
	assert.NotZero(t, stU&SWPrecision)

	c, un := down.Cmp(up)
	require.False(t, un)
	assert.Equal(t, -1, c, "round-down quotient must be below round-up")
}

func TestNative80BackendProducesSameResultsOnExactArithmetic(t *testing.T) {
	c, _ := newOpCore()
	c.SetBackend("native80")
	c.Exec(0xd9, 0xe8, nil) // FLD1
	c.Exec(0xd9, 0xe8, nil) // FLD1
	c.Exec(0xde, 0xc1, nil) // FADDP
	assert.Equal(t, 2.0, c.ST(0))

	c.Exec(0xd9, 0xee, nil) // FLDZ
	c.Exec(0xd8, 0xf1, nil) // FDIV ST(0),ST(1): 0/2 = 0
	assert.Equal(t, 0.0, c.ST(0))
}

func TestNative80BackendZeroDivideMatchesHostPath(t *testing.T) {
	c, _ := newOpCore()
	c.SetBackend("native80")
	c.Exec(0xd9, 0xee, nil) // FLDZ
	c.Exec(0xd9, 0xe8, nil) // FLD1
	c.Exec(0xd8, 0xf1, nil) // FDIV ST(0),ST(1): 1/0
	assert.NotZero(t, c.S.NPXS&SWZeroDivide)
	assert.True(t, math.IsInf(c.ST(0), 1))
}

func TestFildqStoresBackExactBits(t *testing.T) {
	c, mem := newOpCore()
	const v = int64(9007199254740993) // 2^53+1: not a double
	require.Equal(t, memory.AbortNone, mem.WriteQuad(0x800, uint64(v)))

	c.Exec(0xdf, 0x28, operand(c, mem, 0x800)) // FILD m64
	c.Exec(0xdf, 0x38, operand(c, mem, 0x808)) // FISTP m64

	out, _ := mem.ReadQuad(0x808)
	assert.Equal(t, uint64(v), out)
	assert.True(t, c.IsEmpty(0))
}
