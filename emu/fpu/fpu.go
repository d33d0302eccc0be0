/*
 * ia32core - x87 FPU core: register stack, tag word, control/status words.
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

// Package fpu implements the x87 register stack, tag word, control and
// status words, the exception commit pipeline, and (in the sibling
// files of this package) arithmetic, transcendental, memory-image and
// packed-BCD operations (spec.md section 4.9). The host-double backend
// is the default path for every operation; SetBackend("native80")
// moves the dyadic arithmetic that writes ST(0) onto the Ext80 engine
// in ext80.go, per SPEC_FULL.md's resolution of the FPU-backend Open
// Question.
package fpu

import (
	"log/slog"
	"math"

	"github.com/86Box/86Box-sub014/emu/cpustate"
)

// Control-word and status-word bit layouts (spec.md section 4.9).
const (
	CWInvalid    = 1 << 0
	CWDenormal   = 1 << 1
	CWZeroDivide = 1 << 2
	CWOverflow   = 1 << 3
	CWUnderflow  = 1 << 4
	CWPrecision  = 1 << 5
	CWPrecCtlLo  = 1 << 8
	CWPrecCtlHi  = 1 << 9
	CWRoundCtlLo = 1 << 10
	CWRoundCtlHi = 1 << 11
	CWInfinity   = 1 << 12

	SWInvalid    = 1 << 0
	SWDenormal   = 1 << 1
	SWZeroDivide = 1 << 2
	SWOverflow   = 1 << 3
	SWUnderflow  = 1 << 4
	SWPrecision  = 1 << 5
	SWStackFault = 1 << 6
	SWSummary    = 1 << 7
	SWC0         = 1 << 8
	SWC1         = 1 << 9
	SWC2         = 1 << 10
	SWTopShift   = 11
	SWTopMask    = 7 << SWTopShift
	SWC3         = 1 << 14
	SWBackward   = 1 << 15
)

// RoundMode is the RC field of the control word.
type RoundMode uint8

const (
	RoundNearest RoundMode = iota
	RoundDown
	RoundUp
	RoundZero
)

// PrecMode is the PC field of the control word.
type PrecMode uint8

const (
	PrecSingle   PrecMode = 0
	PrecReserved PrecMode = 1
	PrecDouble   PrecMode = 2
	PrecExtended PrecMode = 3
)

// Core wraps a *cpustate.State and implements the x87 operations over
// it. It never allocates its own register file: spec.md section 3
// places ST/Tag/NPXC/NPXS directly on the shared CpuState so that the
// recompiled fast paths and the interpreter fallbacks observe the same
// memory without a marshalling step.
type Core struct {
	S *cpustate.State

	// Last-instruction pointers (FCS:FIP, FDS:FDP, FOP), recorded on
	// every executed FPU instruction and marshaled into the
	// FSAVE/FSTENV environment images (spec.md section 4.9).
	FCS uint16
	FIP uint32
	FDS uint16
	FDP uint32
	FOP uint16

	// backend names which of spec.md section 9's two surviving code
	// paths this Core answers to; see SetBackend.
	backend string
}

// New binds a Core to s, with the host-double backend active.
func New(s *cpustate.State) *Core {
	return &Core{S: s, backend: "double"}
}

// SetBackend selects the FPU backend (SPEC_FULL.md Open Question 2):
// "double" is the host-double path every operation in this package
// uses by default; "native80" routes the dyadic arithmetic that writes
// ST(0) (the D8 forms, the DC memory forms and the DA/DE integer forms)
// through the Ext80 engine, which manipulates the 80-bit
// exponent/significand form directly. The DC/DE register forms that
// write ST(i) stay on host doubles. "softfloat" is accepted for
// configuration compatibility but this port does not carry a separate
// soft-float library path — the bit-exactness-observable surfaces
// (FSAVE/FRSTOR layout, compare, packed BCD, the FILDq round trip)
// are already exact on the other two backends — so selecting it logs
// once and degrades to native80 rather than silently claiming more.
func (c *Core) SetBackend(name string) {
	c.backend = name
	if name == "softfloat" {
		slog.Warn("fpu: softfloat backend not carried; degrading to native80 arithmetic", slog.String("requested", name))
		c.backend = "native80"
	}
}

// Backend reports the active backend name.
func (c *Core) Backend() string { return c.backend }

// Reset restores the FPU's power-up state: CW=0x037F, SW=0, TOP=0, all
// tags empty (spec.md section 4.9, FINIT-equivalent).
func (c *Core) Reset() {
	c.S.NPXC = 0x037F
	c.S.NPXS = 0
	c.S.Top = 0
	for i := range c.S.Tag {
		c.S.Tag[i] = cpustate.TagEmpty
		c.S.ST[i] = 0
		c.S.MM[i] = 0
	}
	c.FCS, c.FIP = 0, 0
	c.FDS, c.FDP = 0, 0
	c.FOP = 0
}

// StatusWord returns NPXS with the live TOP field merged into bits
// 11..13, the form every FNSTSW/FSTENV/FSAVE write uses (spec.md
// section 4.9: "TOP (bits 11..13 at write-out)").
func (c *Core) StatusWord() uint16 {
	return (c.S.NPXS &^ SWTopMask) | uint16(c.S.Top)<<SWTopShift
}

// top returns the current TOP field (0..7).
func (c *Core) top() uint8 { return c.S.Top }

// phys maps a stack-relative index (0 = ST(0)) to an absolute register
// index, matching spec.md section 3's TOP-relative addressing.
func (c *Core) phys(st int) uint8 {
	return uint8((int(c.S.Top) + st) & 7)
}

// ST returns the host-double value of ST(i).
func (c *Core) ST(i int) float64 {
	return c.S.ST[c.phys(i)]
}

// SetST writes ST(i) with TagValid (or TagZero for an exact zero),
// matching spec.md section 4.9's tag-update-on-write rule.
func (c *Core) SetST(i int, v float64) {
	r := c.phys(i)
	c.S.ST[r] = v
	c.S.Tag[r] = tagFor(v)
}

func tagFor(v float64) cpustate.Tag {
	switch {
	case v == 0:
		return cpustate.TagZero
	case math.IsNaN(v), math.IsInf(v, 0):
		return cpustate.TagSpecial
	default:
		return cpustate.TagValid
	}
}

// IsEmpty reports whether ST(i)'s tag is Empty.
func (c *Core) IsEmpty(i int) bool {
	return c.S.Tag[c.phys(i)] == cpustate.TagEmpty
}

// Push decrements TOP and writes the new ST(0). A push into an
// occupied slot raises stack-fault Invalid with C1=1; when Invalid is
// unmasked the push is aborted with the stack untouched, and when
// masked the push still completes with the indefinite value as the
// new ST(0) (spec.md section 4.9's masked-response rule, mirroring
// the underflow helpers in ops.go).
func (c *Core) Push(v float64) {
	newTop := uint8((int(c.S.Top) - 1) & 7)
	if c.S.Tag[newTop] != cpustate.TagEmpty {
		c.raiseStackFault(true) // C1=1: overflow
		if c.S.NPXC&CWInvalid == 0 {
			return
		}
		v = indefiniteNaN
	}
	c.S.Top = newTop
	c.S.ST[newTop] = v
	c.S.Tag[newTop] = tagFor(v)
}

// Pop marks ST(0) empty and increments TOP, raising stack-fault Invalid
// if ST(0) was already empty (spec.md section 4.9's underflow case).
func (c *Core) Pop() float64 {
	cur := c.S.Top
	if c.S.Tag[cur] == cpustate.TagEmpty {
		c.raiseStackFault(false) // C1=0: underflow
		return 0
	}
	v := c.S.ST[cur]
	c.S.Tag[cur] = cpustate.TagEmpty
	c.S.Top = uint8((int(cur) + 1) & 7)
	return v
}

// raiseStackFault sets SW_Invalid and SW_StackFault and C1 according to
// overflow (true) vs underflow (false), per spec.md section 4.9's
// condition-code table for #IS.
func (c *Core) raiseStackFault(overflow bool) {
	c.setFlag(SWInvalid | SWStackFault)
	if overflow {
		c.S.NPXS |= SWC1
	} else {
		c.S.NPXS &^= SWC1
	}
	c.commitExceptions()
}

// pendingFlags accumulates newly-raised exception bits for the current
// operation until CommitExceptions (or an internal helper) ORs them
// into NPXS and re-derives SW_Summary/SW_Backward, matching spec.md
// section 4.9's "OR new flags into SW, AND with ~CW" pipeline.
func (c *Core) setFlag(bits uint16) {
	c.S.NPXS |= bits
}

// commitExceptions re-derives SW_Summary (set if any unmasked exception
// bit is set) and SW_Backward (a mirror of Summary, retained for
// compatibility with software that reads either bit), per spec.md
// section 4.9.
func (c *Core) commitExceptions() {
	unmasked := c.S.NPXS & 0x3f &^ c.S.NPXC & 0x3f
	if unmasked != 0 {
		c.S.NPXS |= SWSummary | SWBackward
	} else {
		c.S.NPXS &^= SWSummary | SWBackward
	}
}

// ClearExceptions implements FCLEX/FNCLEX: clears the exception flags
// and Summary/Backward/StackFault bits, leaving TOP and C0-C3 alone.
func (c *Core) ClearExceptions() {
	c.S.NPXS &^= 0x3f | SWStackFault | SWSummary | SWBackward
}

// SetCC writes condition codes C0..C3 from four booleans, per spec.md
// section 4.9's fcom/fucom/ftst encoding.
func (c *Core) SetCC(c0, c1, c2, c3 bool) {
	c.S.NPXS &^= SWC0 | SWC1 | SWC2 | SWC3
	if c0 {
		c.S.NPXS |= SWC0
	}
	if c1 {
		c.S.NPXS |= SWC1
	}
	if c2 {
		c.S.NPXS |= SWC2
	}
	if c3 {
		c.S.NPXS |= SWC3
	}
}

// RoundMode reports the control word's current rounding mode.
func (c *Core) RoundMode() RoundMode {
	return RoundMode((c.S.NPXC >> 10) & 3)
}

// PrecMode reports the control word's current precision mode.
func (c *Core) PrecMode() PrecMode {
	return PrecMode((c.S.NPXC >> 8) & 3)
}

// StageRoundingMode and CommitRoundingMode implement the
// codegen_set_rounding_mode compatibility adapter named in
// SPEC_FULL.md's supplemented features: some recompiled fast paths
// need to temporarily force a host rounding mode (e.g. for FIST's
// current-CW-independent truncal variants) and restore the
// previously-active one afterward without disturbing NPXC itself.
func (c *Core) StageRoundingMode(rc RoundMode) {
	c.S.OldNPXC = c.S.NPXC
	c.S.NewNPXC = (c.S.NPXC &^ (3 << 10)) | (uint16(rc) << 10)
}

// CommitRoundingMode restores NPXC from the value StageRoundingMode
// snapshotted, discarding the staged override.
func (c *Core) CommitRoundingMode() {
	c.S.NPXC = c.S.OldNPXC
}

// roundToInt rounds v to an integral float64 per rc.
func roundToInt(v float64, rc RoundMode) float64 {
	switch rc {
	case RoundDown:
		return math.Floor(v)
	case RoundUp:
		return math.Ceil(v)
	case RoundZero:
		return math.Trunc(v)
	default:
		return math.RoundToEven(v)
	}
}
