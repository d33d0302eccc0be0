/*
 * ia32core - FPU interpreter fallbacks: the D8..DF opcode registrations
 * and operand resolution that connect emu/dispatch's generic-call path
 * to emu/fpu.
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

package core

import (
	"github.com/86Box/86Box-sub014/emu/addressing"
	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/fpu"
	"github.com/86Box/86Box-sub014/emu/memory"
)

// registerFPUOps installs the eight x87 escape opcodes as interpreter
// fallbacks. The JIT never inlines FPU work in this port; every D8..DF
// instruction flows through the generic-call sequence into these
// handlers, which resolve the memory operand (if any) and hand off to
// the fpu package's dispatch (spec.md section 4.8 step 5's fallback
// contract).
func (c *Core) registerFPUOps() {
	for op := uint8(0xd8); op <= 0xdf; op++ {
		opc := op
		c.Disp.RegisterOpFn(false, opc, func(s *cpustate.State, fetchdat uint32) uint16 {
			modrm := uint8(fetchdat & 0xff)
			if modrm >= 0xc0 {
				c.FPU.Exec(opc, modrm, nil)
				return s.Abrt
			}

			addr, ok := c.resolveEA(s, modrm, fetchdat)
			if !ok {
				return s.Abrt
			}
			c.FPU.Exec(opc, modrm, &fpu.Operand{
				Mem:    c.Mem,
				S:      s,
				Addr:   addr,
				Layout: c.envLayout(s.Op32),
			})
			return s.Abrt
		})
	}
}

// envLayout selects the FSAVE/FSTENV image variant from the current
// operand size and the core's protection mode (spec.md section 4.9's
// (PE, op_size) table).
func (c *Core) envLayout(op32 bool) fpu.ImageLayout {
	switch {
	case op32 && c.Protected:
		return fpu.Layout32Protected
	case op32:
		return fpu.Layout32Real
	case c.Protected:
		return fpu.Layout16Protected
	default:
		return fpu.Layout16Real
	}
}

// resolveEA materializes a ModR/M memory operand's linear address at
// execution time. The displacement bytes are the trailing bytes of the
// instruction (FPU memory forms carry no immediates), so they are
// re-fetched relative to the already-committed next-instruction PC
// rather than threaded through fetchdat, which only carries four bytes
// (spec.md section 4.4).
func (c *Core) resolveEA(s *cpustate.State, modrm uint8, fetchdat uint32) (uint32, bool) {
	mod := modrm >> 6
	rm := modrm & 7

	var ea addressing.EA
	if s.ASize32 {
		var sibPtr *uint8
		var sib uint8
		if rm == 4 {
			sib = uint8(fetchdat >> 8)
			sibPtr = &sib
		}

		var disp uint32
		switch {
		case mod == 1:
			b, abrt := c.Mem.ReadByte(s.PC - 1)
			if abrt != memory.AbortNone {
				s.PushAbort(uint16(abrt))
				return 0, false
			}
			disp = uint32(int32(int8(b)))
		case mod == 2, mod == 0 && rm == 5, mod == 0 && sibPtr != nil && sib&7 == 5:
			l, abrt := c.Mem.ReadLong(s.PC - 4)
			if abrt != memory.AbortNone {
				s.PushAbort(uint16(abrt))
				return 0, false
			}
			disp = l
		}
		ea = addressing.Decode32(mod, rm, sibPtr, disp)
	} else {
		var disp uint32
		switch {
		case mod == 1:
			b, abrt := c.Mem.ReadByte(s.PC - 1)
			if abrt != memory.AbortNone {
				s.PushAbort(uint16(abrt))
				return 0, false
			}
			disp = uint32(int32(int8(b)))
		case mod == 2, mod == 0 && rm == 6:
			w, abrt := c.Mem.ReadWord(s.PC - 2)
			if abrt != memory.AbortNone {
				s.PushAbort(uint16(abrt))
				return 0, false
			}
			disp = uint32(w)
		}
		ea = addressing.Decode16(mod, rm, disp)
	}

	addr := ea.Disp
	if ea.Base >= 0 {
		addr += s.Regs[ea.Base]
	}
	if ea.Index >= 0 {
		scale := uint32(ea.Scale)
		if scale == 0 {
			scale = 1 // 16-bit forms carry no SIB scale
		}
		addr += s.Regs[ea.Index] * scale
	}
	if !ea.Is32 {
		addr = addressing.Mask16(addr)
	}
	s.EAAddr = addr

	seg := addressing.ResolveSeg(ea, s.SSegS, addressing.Seg(s.EASeg))
	return c.segBase(s, seg) + addr, true
}

func (c *Core) segBase(s *cpustate.State, seg addressing.Seg) uint32 {
	switch seg {
	case addressing.SegES:
		return s.SegES.Base
	case addressing.SegCS:
		return s.SegCS.Base
	case addressing.SegSS:
		return s.SegSS.Base
	case addressing.SegFS:
		return s.SegFS.Base
	case addressing.SegGS:
		return s.SegGS.Base
	default:
		return s.SegDS.Base
	}
}
