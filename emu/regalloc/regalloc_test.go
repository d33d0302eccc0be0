package regalloc

import (
	"testing"

	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pool() []HostHandle {
	return []HostHandle{{Index: 0}, {Index: 1}, {Index: 2}}
}

func TestLoadSkipsWhenAlreadyMaterialized(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	calls := 0
	load := func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) { calls++ }

	a.Load(e, 3, SizeLong, load)
	a.Load(e, 3, SizeLong, load)

	assert.Equal(t, 1, calls, "second Load of the same still-resident register must not re-emit")
	assert.True(t, a.IsLoaded(3))
}

func TestStoreReleaseClearsLoadedFlag(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	a.Load(e, 1, SizeLong, func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) {})
	require.True(t, a.IsLoaded(1))

	a.StoreRelease(e, 1, SizeLong, func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) {})
	assert.False(t, a.IsLoaded(1))
}

func TestCallInvalidatesAllLoadedRegisters(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	noop := func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) {}
	a.Load(e, 0, SizeLong, noop)
	a.Load(e, 2, SizeWord, noop)

	a.InvalidateAllForCall()

	assert.False(t, a.IsLoaded(0))
	assert.False(t, a.IsLoaded(2))
}

func TestPickEvictsWhenPoolExhausted(t *testing.T) {
	a := NewAllocator(pool()) // 3 host registers
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	noop := func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) {}
	a.Load(e, 0, SizeLong, noop)
	a.Load(e, 1, SizeLong, noop)
	a.Load(e, 2, SizeLong, noop)

	// Fourth distinct guest register forces an eviction rather than a panic.
	assert.NotPanics(t, func() {
		a.Load(e, 3, SizeLong, noop)
	})
}

func TestResetClearsEverything(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	a.Load(e, 0, SizeLong, func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) {})
	a.Reset()
	assert.False(t, a.IsLoaded(0))
}

func TestLoadRefreshesOnWidthChange(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	calls := 0
	load := func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) { calls++ }

	hw := a.Load(e, 1, SizeWord, load)
	hl := a.Load(e, 1, SizeLong, load)

	// Same bookkeeping slot, same host register, but the wider form
	// must be re-materialized.
	assert.Equal(t, 2, calls)
	assert.Equal(t, hw.Index, hl.Index)
}

func TestByteHalvesShareOneSlot(t *testing.T) {
	a := NewAllocator(pool())
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	calls := 0
	load := func(e *hostasm.Emitter, h HostHandle, guestReg int, sz Size) { calls++ }

	a.Load(e, 0, SizeByte, load) // AL
	a.Load(e, 4, SizeByte, load) // AH: same slot, other half

	assert.Equal(t, 2, calls, "loading the other byte half must refresh the mirror")
	assert.True(t, a.IsLoaded(0))
	assert.False(t, a.IsLoaded(4), "slot 4 belongs to the fifth dword register, not AH")
}
