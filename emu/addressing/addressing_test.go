package addressing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode16BPDefaultsToSS(t *testing.T) {
	ea := Decode16(1, 2, 0x10) // mod=01, rm=010 -> [BP+SI+disp8]
	assert.Equal(t, RegBP, ea.Base)
	assert.Equal(t, RegSI, ea.Index)
	assert.True(t, ea.DefaultSS)
}

func TestDecode16Mod0Rm6IsDisp16Only(t *testing.T) {
	ea := Decode16(0, 6, 0x1234)
	assert.Equal(t, -1, ea.Base)
	assert.Equal(t, -1, ea.Index)
	assert.False(t, ea.DefaultSS)
	assert.EqualValues(t, 0x1234, ea.Disp)
}

func TestDecode32SIBNoIndexWhenIndexFieldIsESP(t *testing.T) {
	sib := uint8(0b00_100_011) // scale=0, index=4 (none), base=3 (EBX)
	ea := Decode32(1, 4, &sib, 8)
	assert.Equal(t, -1, ea.Index)
	assert.Equal(t, 3, ea.Base)
}

func TestDecode32ModRM5IsDisp32Only(t *testing.T) {
	ea := Decode32(0, 5, nil, 0xaabbccdd)
	assert.Equal(t, -1, ea.Base)
	assert.EqualValues(t, 0xaabbccdd, ea.Disp)
}

func TestDecode32SIBBaseEBPDefaultsToSS(t *testing.T) {
	sib := uint8(0b00_001_101) // scale=0, index=1 (ECX), base=5 (EBP)
	ea := Decode32(1, 4, &sib, 4)
	assert.Equal(t, RegBP, ea.Base)
	assert.True(t, ea.DefaultSS)
}

func TestResolveSegOverrideWins(t *testing.T) {
	ea := EA{DefaultSS: true}
	assert.Equal(t, SegFS, ResolveSeg(ea, true, SegFS))
	assert.Equal(t, SegSS, ResolveSeg(ea, false, SegFS))
}

func TestMask16Wraps(t *testing.T) {
	assert.EqualValues(t, 0x0001, Mask16(0x10001))
}
