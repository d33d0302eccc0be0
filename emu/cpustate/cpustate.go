/*
 * ia32core - Guest CPU state touched by the recompiler and FPU core.
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

// Package cpustate holds the fields of spec.md section 3's CpuState that
// the JIT and the FPU core touch directly. It is intentionally a plain
// struct with no behavior of its own — every component (emu/dispatch,
// emu/fpu, emu/blockcache) takes a *State and acts on it, the same way
// the teacher's internal cpuState is shared by cpu_standard.go,
// cpu_float.go and cpu_system.go.
package cpustate

// Seg is one segment register's descriptor-cache shadow: base, limits
// and a "validated" flag, matching spec.md section 3's seg_{cs,ss,...}
// substructures. Descriptor validation itself (CHECK_SEG_*) is an
// external collaborator per spec.md section 1 and is not implemented
// here.
type Seg struct {
	Base      uint32
	LimitLow  uint32
	LimitHigh uint32
	Checked   bool
}

// Tag is the two-bit-plus-pseudo tag code for one x87 stack slot
// (spec.md section 4.9).
type Tag uint8

const (
	TagValid Tag = iota
	TagZero
	TagSpecial
	TagEmpty
	// TagUint64 is the pseudo-tag marking FILDq-loaded registers that
	// can be stored back without conversion (spec.md section 4.9).
	TagUint64
)

// State is the shared guest-CPU context: general registers, segment
// shadows, the x87 stack, and the lazy-flag/abort/mode bits the
// recompiled fast paths and the FPU core both read and write.
//
// Field order is load-bearing: the block prologue loads a host base
// register with &State + 128 so that the hottest fields are reachable
// with 1-byte signed displacements (spec.md section 4.1). Everything
// the emitted fast paths touch therefore sits in the first 256 bytes;
// cold state (segment shadows, the x87 register file) follows.
type State struct {
	// General 32-bit integer registers; byte/word/dword aliasing is a
	// view concern handled by emu/regalloc, not by this struct.
	Regs [8]uint32

	PC     uint32
	OldPC  uint32
	EAAddr uint32
	EFlags uint32

	Abrt       uint16 // nonzero once a guest fault is pending
	PendingInt uint8  // pending-interrupt byte ORed into call results
	Top        uint8  // x87 stack top

	RMData uint32 // fetched modrm/imm dword passed to interpreter fallbacks

	Cycles int64
	Ins    int64 // retired-instruction counter, batched by emu/accumulate

	// Lazy integer-flag machinery: FlagsOp names the last operation,
	// FlagsOpA/FlagsOpB its operands, FlagsRes its result — everything
	// needed to materialize EFLAGS on demand rather than after every
	// instruction.
	FlagsOp  int32
	FlagsOpA uint32
	FlagsOpB uint32
	FlagsRes uint64

	NPXC uint16 // x87 control word
	NPXS uint16 // x87 status word

	// Rounding-mode staging for the codegen_set_rounding_mode
	// compatibility adapter (SPEC_FULL.md supplemented features).
	OldNPXC uint16
	NewNPXC uint16

	Op32    bool // current operand-size mode (66h prefix state)
	ASize32 bool // current address-size mode (67h prefix state)
	SSegS   bool // true once a segment-override prefix was parsed for this insn
	IsMMX   bool

	EASeg int // addressing.Seg value of the operand's resolved segment

	SegCS, SegSS, SegDS, SegES, SegFS, SegGS Seg

	// x87 register file (cold from the integer fast paths' view; the
	// FPU interpreter reaches it through this struct, not through
	// emitted displacements).
	ST  [8]float64 // host-double mirror (fast path)
	MM  [8]uint64  // MMX/80-bit-significand union
	Tag [8]Tag
}

// New returns a State with architectural reset values (FINIT-equivalent
// for the integer side; the FPU's own reset sequence is emu/fpu.Core.Reset).
func New() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset restores architectural power-up values.
func (s *State) Reset() {
	*s = State{}
	for i := range s.Tag {
		s.Tag[i] = TagEmpty
	}
	s.NPXC = 0x037F
	s.Top = 0
}

// PushAbort marks the current instruction as having faulted. Per
// spec.md section 3's invariant, once Abrt is set the emitted block's
// epilogue must exit without committing subsequent state; State itself
// does not enforce that — it is a contract on the dispatcher's emitted
// code.
func (s *State) PushAbort(code uint16) {
	s.Abrt = code
}

// ClearAbort clears a serviced abort condition, called by the outer
// loop after it has handled the fault.
func (s *State) ClearAbort() {
	s.Abrt = 0
}
