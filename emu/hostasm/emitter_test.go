package hostasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWidths(t *testing.T) {
	e := newTestEmitter()
	e.AppendU8(0x90)
	e.AppendU16(0x1234)
	e.AppendU32(0xdeadbeef)
	e.AppendU64(0x0102030405060708)

	want := []byte{
		0x90,
		0x34, 0x12,
		0xef, 0xbe, 0xad, 0xde,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	assert.Equal(t, want, e.Bytes())
	assert.Equal(t, len(want), e.Pos())
}

func TestFullFlagAtBlockMax(t *testing.T) {
	e := newTestEmitter()
	require.False(t, e.Full)
	for i := 0; i < BlockMax-1; i++ {
		e.AppendU8(0x90)
	}
	assert.False(t, e.Full)
	e.AppendU8(0x90)
	assert.True(t, e.Full, "Full must flip the instant pos reaches BlockMax")
}

func TestPatchRewritesInPlace(t *testing.T) {
	e := newTestEmitter()
	e.AppendU8(0xe9) // jmp rel32
	patchAt := e.Pos()
	e.AppendU32(0)
	e.PatchU32(patchAt, 0x11223344)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, e.Bytes()[patchAt:patchAt+4])
}

func TestResetRewinds(t *testing.T) {
	e := newTestEmitter()
	e.AppendU32(1)
	e.Reset()
	assert.Equal(t, 0, e.Pos())
	assert.False(t, e.Full)
	assert.Empty(t, e.Bytes())
}

func TestNewEmitterRequiresExactSize(t *testing.T) {
	assert.Panics(t, func() {
		NewEmitter(make([]byte, 16))
	})
}
