package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/86Box/86Box-sub014/emu/accumulate"
	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/86Box/86Box-sub014/emu/regalloc"
)

func TestClassifyPrefixRecognizesAllFamilies(t *testing.T) {
	cases := map[uint8]PrefixClass{
		0x26: PrefixSegOverride,
		0x2e: PrefixSegOverride,
		0x36: PrefixSegOverride,
		0x3e: PrefixSegOverride,
		0x64: PrefixSegOverride,
		0x65: PrefixSegOverride,
		0x66: PrefixOpSize,
		0x67: PrefixAddrSize,
		0xf0: PrefixLock,
		0xf2: PrefixRepNZ,
		0xf3: PrefixRepZ,
	}
	for b, want := range cases {
		got, ok := ClassifyPrefix(b)
		assert.True(t, ok, "byte %#x", b)
		assert.Equal(t, want, got, "byte %#x", b)
	}

	_, ok := ClassifyPrefix(0x90)
	assert.False(t, ok)
}

func TestSegOverrideOfMapsAllSix(t *testing.T) {
	assert.Equal(t, 0, SegOverrideOf(0x26))
	assert.Equal(t, 3, SegOverrideOf(0x3e))
	assert.Equal(t, -1, SegOverrideOf(0x90))
}

func TestIsBlockTerminatorCoversAllFamilies(t *testing.T) {
	assert.True(t, IsBlockTerminator(0x74, false, 0)) // JZ rel8
	assert.True(t, IsBlockTerminator(0xc2, false, 0)) // RET imm16
	assert.True(t, IsBlockTerminator(0xcc, false, 0)) // INT3
	assert.True(t, IsBlockTerminator(0xe9, false, 0)) // JMP rel32
	assert.True(t, IsBlockTerminator(0xff, false, 2))  // CALL r/m (group /2)
	assert.True(t, IsBlockTerminator(0x85, true, 0))   // 0F 85 JNZ rel32

	assert.False(t, IsBlockTerminator(0x01, false, 0))   // ADD
	assert.False(t, IsBlockTerminator(0xff, false, 0))   // INC r/m (group /0)
	assert.False(t, IsBlockTerminator(0x10, true, 0))    // 0F 10 MOVUPS
}

func newTestDispatcher() (*Dispatcher, *blockcache.Cache) {
	mem := memory.NewPages()
	cache := blockcache.NewCache(8, mem, nil)
	s := cpustate.New()
	alloc := regalloc.NewAllocator([]regalloc.HostHandle{{Index: 0}, {Index: 1}, {Index: 2}})
	accum := accumulate.NewAccumulator([accumulate.RegCount]accumulate.Dest{{Disp: 0}, {Disp: 4}}, nil)
	return NewDispatcher(s, nil, cache, alloc, accum), cache
}

func TestBeginBlockGuardsReentrancy(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)

	_, err = d.BeginBlock(0x2000, 0, 0x2000)
	assert.ErrorIs(t, err, errRecompileReentry)
}

func TestEndBlockClearsReentrancyGuard(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)

	blk := d.EndBlock(0x1010, 0x1010, 0, false, func(e *hostasm.Emitter, disp int32, imm int32) {})
	assert.True(t, blk.Recompiled)

	_, err = d.BeginBlock(0x2000, 0, 0x2000)
	assert.NoError(t, err)
}

func TestAbandonBlockAllowsRetry(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)
	d.AbandonBlock()

	_, err = d.BeginBlock(0x1000, 0, 0x1000)
	assert.NoError(t, err)
}

func TestPendingInterruptCheckOrsResultAndPendingByte(t *testing.T) {
	assert.False(t, PendingInterruptCheck(0, 0))
	assert.True(t, PendingInterruptCheck(1, 0))
	assert.True(t, PendingInterruptCheck(0, 1))
}

func TestRangeMaskCoversSingleCell(t *testing.T) {
	mask := rangeMask(0x1000, 0x1001)
	assert.Equal(t, uint64(1), mask)
}

func TestRangeMaskCoversSpanningCells(t *testing.T) {
	// 0x1040..0x1080 spans cells 1 and covers up to (but not including) cell 2's start.
	mask := rangeMask(0x1040, 0x1080)
	assert.Equal(t, uint64(1<<1), mask)
}

func TestRangeMaskEmptyRangeIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), rangeMask(0x1000, 0x1000))
}

func TestDispatchOneFallsBackToGenericCallWhenNoRecompiler(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)

	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	var calledGeneric, calledPending bool
	nextPC, blockEnd := d.DispatchOne(e, 0x01, false, 0, 0, 0x1000,
		func(e *hostasm.Emitter, opcode uint8, op32 bool, fetchdat uint32, newPC, oldPC uint32) {
			calledGeneric = true
		},
		func(e *hostasm.Emitter) {
			calledPending = true
		},
	)
	assert.True(t, calledGeneric)
	assert.True(t, calledPending)
	assert.Equal(t, uint32(0x1000), nextPC)
	assert.False(t, blockEnd)
}

func TestDispatchOneUsesRecompilerWhenRegistered(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)

	d.RegisterRecompiler(false, 0x01, func(d *Dispatcher, e *hostasm.Emitter, opcode uint8, modrm uint8, fetchdat uint32) (uint32, bool) {
		return 0x1002, true
	})

	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	nextPC, _ := d.DispatchOne(e, 0x01, false, 0, 0, 0x1000,
		func(e *hostasm.Emitter, opcode uint8, op32 bool, fetchdat uint32, newPC, oldPC uint32) {
			t.Fatal("generic call should not be invoked when a recompiler handles the opcode")
		},
		func(e *hostasm.Emitter) {},
	)
	assert.Equal(t, uint32(0x1002), nextPC)
}

func TestDispatchOneFlushesAccumulatorBeforeTerminator(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.BeginBlock(0x1000, 0, 0x1000)
	require.NoError(t, err)

	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	d.Accum.Accumulate(e, accumulate.RegIns, 1)
	assert.Equal(t, int32(1), d.Accum.Pending(accumulate.RegIns))

	// JZ rel8 is a block terminator; DispatchOne must flush the pending
	// counter before falling through to the generic call sequence.
	d.DispatchOne(e, 0x74, false, 0, 0, 0x1000,
		func(e *hostasm.Emitter, opcode uint8, op32 bool, fetchdat uint32, newPC, oldPC uint32) {},
		func(e *hostasm.Emitter) {},
	)
	assert.Equal(t, int32(0), d.Accum.Pending(accumulate.RegIns))
}
