package fpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/86Box/86Box-sub014/emu/cpustate"
)

func newCore() *Core {
	s := cpustate.New()
	c := New(s)
	c.Reset()
	return c
}

func TestResetMatchesArchitecturalPowerUpState(t *testing.T) {
	c := newCore()
	assert.Equal(t, uint16(0x037F), c.S.NPXC)
	assert.Equal(t, uint16(0), c.S.NPXS)
	assert.Equal(t, uint8(0), c.S.Top)
	for i := 0; i < 8; i++ {
		assert.True(t, c.IsEmpty(i))
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	c := newCore()
	c.Push(1.5)
	c.Push(2.5)
	assert.Equal(t, 2.5, c.ST(0))
	assert.Equal(t, 1.5, c.ST(1))
	assert.Equal(t, 2.5, c.Pop())
	assert.Equal(t, 1.5, c.Pop())
	assert.True(t, c.IsEmpty(0))
}

func TestPushOverflowMaskedPushesIndefinite(t *testing.T) {
	c := newCore() // reset CW 0x037F: every exception masked
	for i := 0; i < 8; i++ {
		c.Push(float64(i))
	}
	top := c.S.Top
	c.Push(99) // stack is full; TOP-1 wraps onto an occupied slot
	assert.NotZero(t, c.S.NPXS&SWInvalid)
	assert.NotZero(t, c.S.NPXS&SWStackFault)
	assert.NotZero(t, c.S.NPXS&SWC1) // overflow

	// Masked response: the push completes with the indefinite value.
	assert.Equal(t, uint8((int(top)-1)&7), c.S.Top)
	assert.True(t, math.IsNaN(c.ST(0)))
	assert.Equal(t, cpustate.TagSpecial, c.S.Tag[c.S.Top])
}

func TestPushOverflowUnmaskedAbortsWithoutMovingTop(t *testing.T) {
	c := newCore()
	c.S.NPXC &^= CWInvalid
	for i := 0; i < 8; i++ {
		c.Push(float64(i))
	}
	top := c.S.Top
	c.Push(99)
	assert.NotZero(t, c.S.NPXS&SWInvalid)
	assert.NotZero(t, c.S.NPXS&SWStackFault)
	assert.Equal(t, top, c.S.Top, "unmasked overflow must leave the stack untouched")
	assert.Equal(t, 7.0, c.ST(0))
}

func TestPopUnderflowRaisesStackFault(t *testing.T) {
	c := newCore()
	c.Pop()
	assert.NotZero(t, c.S.NPXS&SWInvalid)
	assert.NotZero(t, c.S.NPXS&SWStackFault)
	assert.Zero(t, c.S.NPXS&SWC1) // underflow: C1 clear
}

// Scenario A (spec.md section 8): basic arithmetic plus condition codes.
func TestScenarioA_ArithmeticAndCompare(t *testing.T) {
	c := newCore()
	c.Push(2.0)
	c.Push(3.0)
	c.Add(1, c.ST(0)) // ST(1) += ST(0) -> 5.0
	assert.Equal(t, 5.0, c.ST(1))

	c.Compare(c.ST(0), c.ST(1), false)
	assert.NotZero(t, c.S.NPXS&SWC0) // 3.0 < 5.0
}

// Scenario B (spec.md section 8): divide-by-zero with the exception
// masked vs unmasked.
func TestScenarioB_DivideByZeroMaskedProducesInfinity(t *testing.T) {
	c := newCore()
	c.S.NPXC |= CWZeroDivide // masked: default reset CW already masks it
	c.Push(1.0)
	c.Div(0, 1.0, 0.0)
	assert.True(t, math.IsInf(c.ST(0), 1))
	assert.NotZero(t, c.S.NPXS&SWZeroDivide)
}

func TestScenarioB_DivideByZeroSetsSummaryWhenUnmasked(t *testing.T) {
	c := newCore()
	c.S.NPXC &^= CWZeroDivide // unmask
	c.Div(0, 1.0, 0.0)
	assert.NotZero(t, c.S.NPXS&SWZeroDivide)
	assert.NotZero(t, c.S.NPXS&SWSummary)
}

// Scenario C (spec.md section 8): FSAVE/FRSTOR bit-exact round trip.
func TestScenarioC_SaveRestoreRoundTrip(t *testing.T) {
	c := newCore()
	c.Push(1.0)
	c.Push(-0.5)
	c.Push(math.Pi)
	c.S.NPXC = 0x033F

	buf := make([]byte, ImageSize(Layout32Protected))
	n := c.Save(buf, Layout32Protected)
	assert.Equal(t, ImageSize(Layout32Protected), n)

	c2 := newCore()
	c2.Restore(buf, Layout32Protected)

	assert.Equal(t, c.S.NPXC, c2.S.NPXC)
	assert.Equal(t, c.S.Top, c2.S.Top)
	for i := 0; i < 8; i++ {
		assert.Equal(t, c.S.Tag[i], c2.S.Tag[i])
		if c.S.Tag[i] != cpustate.TagEmpty {
			assert.InDelta(t, c.S.ST[i], c2.S.ST[i], 1e-12)
		}
	}
}

func TestScenarioC_SaveRestoreAllFourLayouts(t *testing.T) {
	layouts := []ImageLayout{Layout16Real, Layout16Protected, Layout32Real, Layout32Protected}
	for _, l := range layouts {
		c := newCore()
		c.Push(42.0)
		buf := make([]byte, ImageSize(l))
		c.Save(buf, l)

		c2 := newCore()
		c2.Restore(buf, l)
		assert.Equal(t, 42.0, c2.ST(0), "layout %v", l)
	}
}

// Scenario D (spec.md section 8): packed BCD load/store round trip and
// overflow handling.
func TestScenarioD_BCDRoundTrip(t *testing.T) {
	c := newCore()
	var enc [10]byte
	// 12345 packed little-endian BCD, positive.
	enc[0] = 0x45
	enc[1] = 0x23
	enc[2] = 0x01
	c.LoadBCD(enc)
	assert.Equal(t, 12345.0, c.ST(0))

	out, invalid := c.StoreBCD()
	assert.False(t, invalid)
	assert.Equal(t, enc, out)
}

func TestScenarioD_BCDNegativeRoundTrip(t *testing.T) {
	c := newCore()
	c.Push(-99.0)
	out, invalid := c.StoreBCD()
	assert.False(t, invalid)
	assert.Equal(t, uint8(0x80), out[9])

	c2 := newCore()
	c2.LoadBCD(out)
	assert.Equal(t, -99.0, c2.ST(0))
}

func TestScenarioD_BCDOverflowRaisesInvalid(t *testing.T) {
	c := newCore()
	c.Push(1e20)
	out, invalid := c.StoreBCD()
	assert.True(t, invalid)
	assert.NotZero(t, c.S.NPXS&SWInvalid)

	// Masked response: the packed-BCD indefinite, 0xC000000000000000
	// little-endian in the digit bytes and 0xFFFF in the top two.
	want := [10]byte{0, 0, 0, 0, 0, 0, 0, 0xc0, 0xff, 0xff}
	assert.Equal(t, want, out)
}

func TestFxchSwapsValuesAndTags(t *testing.T) {
	c := newCore()
	c.Push(1.0)
	c.Push(2.0)
	c.Xch(1)
	assert.Equal(t, 1.0, c.ST(0))
	assert.Equal(t, 2.0, c.ST(1))
}

func TestClearExceptionsLeavesTopAndConditionCodesAlone(t *testing.T) {
	c := newCore()
	c.SetCC(true, false, true, false)
	c.setFlag(SWInvalid)
	c.commitExceptions()
	c.ClearExceptions()
	assert.Zero(t, c.S.NPXS&SWInvalid)
	assert.NotZero(t, c.S.NPXS&SWC0)
}

func TestStageAndCommitRoundingModeRestoresOriginalControlWord(t *testing.T) {
	c := newCore()
	orig := c.S.NPXC
	c.StageRoundingMode(RoundZero)
	assert.NotEqual(t, orig, c.S.NewNPXC)
	c.S.NPXC = c.S.NewNPXC
	c.CommitRoundingMode()
	assert.Equal(t, orig, c.S.NPXC)
}

func TestPremReportsNeedsMoreStepsForLargeExponentDifference(t *testing.T) {
	c := newCore()
	c.Push(1.0)       // ST(1): modulus
	c.Push(1e30)      // ST(0): dividend, huge exponent difference
	r := c.Prem()
	assert.True(t, r.NeedsMoreSteps)
}

func TestFildUint64TagSurvivesRoundTripIntent(t *testing.T) {
	c := newCore()
	c.ILoad(123456789012345, true)
	assert.Equal(t, cpustate.TagUint64, c.S.Tag[c.S.Top])
}

func TestIStoreFlagsInvalidOnOverflow(t *testing.T) {
	c := newCore()
	_, invalid := c.IStore(1e10, 16, false, RoundNearest)
	assert.True(t, invalid)
	assert.NotZero(t, c.S.NPXS&SWInvalid)
}

func TestIStoreRoundsWithinRange(t *testing.T) {
	c := newCore()
	v, invalid := c.IStore(41.6, 32, false, RoundNearest)
	assert.False(t, invalid)
	assert.Equal(t, int64(42), v)
}

func TestBackendDefaultsToDouble(t *testing.T) {
	c := newCore()
	assert.Equal(t, "double", c.Backend())
}

func TestSetBackendSoftfloatDegradesToNative80(t *testing.T) {
	c := newCore()
	c.SetBackend("softfloat")
	assert.Equal(t, "native80", c.Backend())
	// The register file is unaffected by the backend choice: ST pushes
	// still land in the shared mirror.
	c.Push(1.5)
	assert.Equal(t, 1.5, c.ST(0))
}

func TestSetBackendNative80IsAccepted(t *testing.T) {
	c := newCore()
	c.SetBackend("native80")
	assert.Equal(t, "native80", c.Backend())
}
