package memaccess

import (
	"testing"

	"github.com/86Box/86Box-sub014/emu/addressing"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/stretchr/testify/assert"
)

func TestFlatModeOnlyForDSSSWithoutNotFlatBit(t *testing.T) {
	assert.True(t, FlatMode(addressing.SegDS, false))
	assert.True(t, FlatMode(addressing.SegSS, false))
	assert.False(t, FlatMode(addressing.SegDS, true), "NOTFLATDS disables the shortcut")
	assert.False(t, FlatMode(addressing.SegES, false), "ES is never flat-fast-pathed")
}

func TestNeedsAlignCheckSkipsByte(t *testing.T) {
	assert.False(t, NeedsAlignCheck(WidthByte))
	assert.True(t, NeedsAlignCheck(WidthWord))
	assert.True(t, NeedsAlignCheck(WidthLong))
	assert.True(t, NeedsAlignCheck(WidthQuad))
}

func TestEmitAccessStepOrderAndFlatSkip(t *testing.T) {
	var order []string
	seq := Sequence{
		CombineSegBase: func(e *hostasm.Emitter, seg addressing.Seg) { order = append(order, "seg") },
		AlignTest: func(e *hostasm.Emitter, w Width) int {
			order = append(order, "align")
			return 0
		},
		TLBLookup: func(e *hostasm.Emitter, write bool) int {
			order = append(order, "tlb")
			return 1
		},
		FastAccess:      func(e *hostasm.Emitter, w Width, write bool) { order = append(order, "fast") },
		SlowCall:        func(e *hostasm.Emitter, w Width, write bool) int { order = append(order, "slow"); return 2 },
		JoinFastAndSlow: func(e *hostasm.Emitter, patches []int) { order = append(order, "join") },
	}
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))

	EmitAccess(e, seq, addressing.SegDS, false, WidthLong, false)
	assert.Equal(t, []string{"seg", "align", "tlb", "fast", "slow", "join"}, order)

	order = nil
	EmitAccess(e, seq, addressing.SegDS, true, WidthLong, false)
	assert.Equal(t, []string{"align", "tlb", "fast", "slow", "join"}, order, "flat mode skips segment combine")

	order = nil
	EmitAccess(e, seq, addressing.SegDS, true, WidthByte, false)
	assert.Equal(t, []string{"tlb", "fast", "slow", "join"}, order, "byte width skips the alignment test")
}
