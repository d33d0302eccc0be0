package accumulate

import (
	"testing"

	"github.com/86Box/86Box-sub014/emu/hostasm"
	"github.com/stretchr/testify/assert"
)

func TestAccumulateDefersUntilFlush(t *testing.T) {
	a := NewAccumulator([RegCount]Dest{{Disp: 4}, {Disp: 8}}, nil)
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))

	var adds []int32
	a.Accumulate(e, RegCycles, 3)
	a.Accumulate(e, RegCycles, 2)
	assert.Empty(t, adds, "Accumulate must not emit anything by itself")
	assert.EqualValues(t, 5, a.Pending(RegCycles))

	a.Flush(e, func(e *hostasm.Emitter, disp int32, imm int32) {
		adds = append(adds, disp, imm)
	})
	assert.Equal(t, []int32{4, 5}, adds)
	assert.EqualValues(t, 0, a.Pending(RegCycles))
}

func TestFlushSkipsZeroCounters(t *testing.T) {
	a := NewAccumulator([RegCount]Dest{{Disp: 4}, {Disp: 8}}, nil)
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	a.Accumulate(e, RegIns, 1)

	var emits int
	a.Flush(e, func(e *hostasm.Emitter, disp int32, imm int32) { emits++ })
	assert.Equal(t, 1, emits, "RegCycles stayed at zero and must not emit")
}

func TestAuxCyclesEmittedInlineOnCyclesDelta(t *testing.T) {
	var auxDeltas []int32
	a := NewAccumulator([RegCount]Dest{}, func(e *hostasm.Emitter, delta int32) {
		auxDeltas = append(auxDeltas, delta)
	})
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))

	a.Accumulate(e, RegCycles, 4)
	a.Accumulate(e, RegIns, 1) // must not trigger aux emission

	assert.Equal(t, []int32{-4}, auxDeltas)
}

func TestResetDropsPendingWithoutEmitting(t *testing.T) {
	a := NewAccumulator([RegCount]Dest{{Disp: 0}}, nil)
	e := hostasm.NewEmitter(make([]byte, hostasm.BlockData))
	a.Accumulate(e, RegCycles, 9)
	a.Reset()
	assert.EqualValues(t, 0, a.Pending(RegCycles))

	emitted := false
	a.Flush(e, func(e *hostasm.Emitter, disp int32, imm int32) { emitted = true })
	assert.False(t, emitted)
}
