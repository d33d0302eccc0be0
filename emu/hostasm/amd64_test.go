/*
 * ia32core - amd64 emission helper tests.
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

package hostasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter() *Emitter {
	return NewEmitter(make([]byte, BlockData))
}

func TestMovEncodings(t *testing.T) {
	cases := []struct {
		name string
		emit func(e *Emitter)
		want []byte
	}{
		{"mov eax imm32", func(e *Emitter) { e.MovRegImm32(RegRAX, 0x12345678) },
			[]byte{0xb8, 0x78, 0x56, 0x34, 0x12}},
		{"mov r8d imm32 takes rex.b", func(e *Emitter) { e.MovRegImm32(RegR8, 1) },
			[]byte{0x41, 0xb8, 0x01, 0x00, 0x00, 0x00}},
		{"mov rbp imm64", func(e *Emitter) { e.MovRegImm64(RegRBP, 0x1122334455667788) },
			[]byte{0x48, 0xbd, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"mov ecx [rbp-8]", func(e *Emitter) { e.MovRegState32(RegRCX, -8) },
			[]byte{0x8b, 0x4d, 0xf8}},
		{"mov r9d [rbp+4] takes rex.r", func(e *Emitter) { e.MovRegState32(RegR9, 4) },
			[]byte{0x44, 0x8b, 0x4d, 0x04}},
		{"mov [rbp+16] edx", func(e *Emitter) { e.MovState32Reg(16, RegRDX) },
			[]byte{0x89, 0x55, 0x10}},
		{"mov byte [rbp+1] imm", func(e *Emitter) { e.MovState8Imm(1, 0xab) },
			[]byte{0xc6, 0x45, 0x01, 0xab}},
		{"mov dword [rbp-4] imm32", func(e *Emitter) { e.MovState32Imm(-4, 0xcafebabe) },
			[]byte{0xc7, 0x45, 0xfc, 0xbe, 0xba, 0xfe, 0xca}},
		{"movzx ebx word [rbp+2]", func(e *Emitter) { e.MovzxRegState16(RegRBX, 2) },
			[]byte{0x0f, 0xb7, 0x5d, 0x02}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEmitter()
			tc.emit(e)
			assert.Equal(t, tc.want, e.Bytes())
		})
	}
}

func TestAddStateImmShortForm(t *testing.T) {
	e := newTestEmitter()
	e.AddState32Imm(0x10, 5)
	assert.Equal(t, []byte{0x83, 0x45, 0x10, 0x05}, e.Bytes())

	e = newTestEmitter()
	e.AddState32Imm(0x10, 1000)
	assert.Equal(t, []byte{0x81, 0x45, 0x10, 0xe8, 0x03, 0x00, 0x00}, e.Bytes())
}

func TestShortJumpPatching(t *testing.T) {
	e := newTestEmitter()
	patch := e.JccShort(CCNE)
	e.Nop()
	e.Nop()
	e.PatchJumpHere(patch)

	// 75 02 90 90: jump over exactly the two NOPs.
	assert.Equal(t, []byte{0x75, 0x02, 0x90, 0x90}, e.Bytes())
}

func TestEpilogueJumpDisplacement(t *testing.T) {
	e := newTestEmitter()
	e.Nop()
	pos := e.Pos()
	e.JccEpilogue(CCNE)

	// 0F 85 rel32: rel must land exactly on BlockExitOffset.
	got := e.Bytes()
	require.Equal(t, uint8(0x0f), got[pos])
	require.Equal(t, uint8(0x85), got[pos+1])
	rel := int32(uint32(got[pos+2]) | uint32(got[pos+3])<<8 | uint32(got[pos+4])<<16 | uint32(got[pos+5])<<24)
	assert.Equal(t, int32(BlockExitOffset), int32(pos+6)+rel)
}

func TestPrologueEpilogueZones(t *testing.T) {
	e := newTestEmitter()
	e.EmitGPFTail(-78, 1)
	e.EmitBlockEpilogue()
	e.EmitBlockPrologue(0x7f0000001000)

	// Entry code starts with PUSH RBX (53) and must leave Full clear.
	require.False(t, e.Full)
	assert.Equal(t, uint8(0x53), e.Data()[0])

	// The epilogue zone ends in RET.
	epi := e.Data()[BlockExitOffset:]
	retAt := -1
	for i, b := range epi {
		if b == 0xc3 {
			retAt = i
			break
		}
	}
	require.NotEqual(t, -1, retAt, "epilogue must contain RET")

	// The GPF tail records the abort code via MOV byte [rbp+disp], imm.
	assert.Equal(t, uint8(0xc6), e.Data()[BlockGPFOffset])
}

func TestCallAbs(t *testing.T) {
	e := newTestEmitter()
	e.CallAbs(0xdeadbeef)
	// MOV RAX, imm64; CALL RAX.
	assert.Equal(t, uint8(0x48), e.Bytes()[0])
	assert.Equal(t, uint8(0xb8), e.Bytes()[1])
	assert.Equal(t, []byte{0xff, 0xd0}, e.Bytes()[10:12])
}
