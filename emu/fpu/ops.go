/*
 * ia32core - x87 instruction dispatch: the D8..DF opcode space.
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

package fpu

import (
	"math"

	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/memory"
)

// Operand binds one decoded memory operand to guest memory. A nil
// Operand means the instruction's ModR/M selected a register form.
// Layout carries the (PE, op_size)-selected environment image variant
// for FLDENV/FSTENV/FSAVE/FRSTOR (spec.md section 4.9's four layouts).
type Operand struct {
	Mem    memory.Memory
	S      *cpustate.State
	Addr   uint32
	Layout ImageLayout
}

func (o *Operand) fault(a memory.Abort) bool {
	if a != memory.AbortNone {
		o.S.PushAbort(uint16(a))
		return true
	}
	return false
}

func (o *Operand) readU16() (uint16, bool) {
	v, a := o.Mem.ReadWord(o.Addr)
	return v, !o.fault(a)
}

func (o *Operand) readU32() (uint32, bool) {
	v, a := o.Mem.ReadLong(o.Addr)
	return v, !o.fault(a)
}

func (o *Operand) readU64() (uint64, bool) {
	v, a := o.Mem.ReadQuad(o.Addr)
	return v, !o.fault(a)
}

func (o *Operand) writeU16(v uint16) bool { return !o.fault(o.Mem.WriteWord(o.Addr, v)) }
func (o *Operand) writeU32(v uint32) bool { return !o.fault(o.Mem.WriteLong(o.Addr, v)) }
func (o *Operand) writeU64(v uint64) bool { return !o.fault(o.Mem.WriteQuad(o.Addr, v)) }

func (o *Operand) readF32() (float64, bool) {
	v, ok := o.readU32()
	return float64(math.Float32frombits(v)), ok
}

func (o *Operand) readF64() (float64, bool) {
	v, ok := o.readU64()
	return math.Float64frombits(v), ok
}

func (o *Operand) writeF32(v float64) bool {
	return o.writeU32(math.Float32bits(float32(v)))
}

func (o *Operand) writeF64(v float64) bool {
	return o.writeU64(math.Float64bits(v))
}

func (o *Operand) readBytes(n int) ([]byte, bool) {
	buf := make([]byte, n)
	for i := range buf {
		b, a := o.Mem.ReadByte(o.Addr + uint32(i))
		if o.fault(a) {
			return nil, false
		}
		buf[i] = b
	}
	return buf, true
}

func (o *Operand) writeBytes(buf []byte) bool {
	for i, b := range buf {
		if o.fault(o.Mem.WriteByte(o.Addr+uint32(i), b)) {
			return false
		}
	}
	return true
}

// indefiniteNaN is the real-indefinite QNaN, the masked response for
// invalid-operand arithmetic (glossary "Masked response").
var indefiniteNaN = math.Float64frombits(0xfff8000000000000)

// maxTrigArg is 2^63, the architectural argument-reduction bound: trig
// and partial-remainder inputs at or beyond it set C2 and leave the
// register unchanged so the guest reduces manually (spec.md section
// 4.9 "Transcendentals").
const maxTrigArg = 9.223372036854775808e18

// EFLAGS bits the FCOMI/FUCOMI/FCMOVcc family reads and writes.
const (
	eflagCF = 1 << 0
	eflagPF = 1 << 2
	eflagZF = 1 << 6
)

// underflowArith handles a stack-underflow operand fault in an
// arithmetic context: IE|SF with C1=0; the masked response writes the
// real indefinite to ST(dst) (spec.md section 4.9 "Stack discipline").
// It reports whether execution may continue (the exception is masked).
func (c *Core) underflowArith(dst int) bool {
	c.S.NPXS &^= SWC1
	c.setFlag(SWInvalid | SWStackFault)
	c.commitExceptions()
	if c.S.NPXC&CWInvalid == 0 {
		return false
	}
	c.SetST(dst, indefiniteNaN)
	return true
}

// underflowPush handles a stack-underflow fault whose masked response
// is a push of the indefinite value (FLD of an empty source).
func (c *Core) underflowPush() {
	c.S.NPXS &^= SWC1
	c.setFlag(SWInvalid | SWStackFault)
	c.commitExceptions()
	if c.S.NPXC&CWInvalid != 0 {
		c.Push(indefiniteNaN)
	}
}

// underflowCompare handles a stack-underflow operand fault in a compare
// context: IE|SF and C3=C2=C0=1 (unordered); no pop happens in either
// the masked or unmasked case (spec.md section 8 scenario D).
func (c *Core) underflowCompare() {
	c.setFlag(SWInvalid | SWStackFault)
	c.SetCC(true, false, true, true)
	c.commitExceptions()
}

// Exec executes one FPU instruction. opcode is the D8..DF escape byte,
// modrm its ModR/M byte, and op the bound memory operand for mod!=3
// forms (nil otherwise). The 11-bit last-opcode field is recorded here;
// the caller records FIP/FCS (and FDP/FDS via op.Addr) around the call.
func (c *Core) Exec(opcode, modrm uint8, op *Operand) {
	if !isControlOp(opcode, modrm, op != nil) {
		c.FOP = (uint16(opcode&7)<<8 | uint16(modrm)) & 0x07ff
		if op != nil {
			c.FDP = op.Addr
		}
	}

	switch opcode {
	case 0xd8:
		c.execD8(modrm, op)
	case 0xd9:
		c.execD9(modrm, op)
	case 0xda:
		c.execDA(modrm, op)
	case 0xdb:
		c.execDB(modrm, op)
	case 0xdc:
		c.execDC(modrm, op)
	case 0xdd:
		c.execDD(modrm, op)
	case 0xde:
		c.execDE(modrm, op)
	case 0xdf:
		c.execDF(modrm, op)
	}
}

// isControlOp reports whether an instruction belongs to the control
// group that must not update the last-instruction/operand pointers
// (FLDCW/FSTCW, the environment and save/restore images, FNCLEX,
// FNINIT, FNSTSW — the architectural no-update set).
func isControlOp(opcode, modrm uint8, memForm bool) bool {
	switch opcode {
	case 0xd9:
		return memForm && (modrm>>3)&7 >= 4
	case 0xdb:
		return !memForm && modrm >= 0xe0 && modrm <= 0xe3
	case 0xdd:
		if !memForm {
			return false
		}
		g := (modrm >> 3) & 7
		return g == 4 || g == 6 || g == 7
	case 0xdf:
		return !memForm && modrm == 0xe0
	}
	return false
}

// arithOp applies one of the eight /reg-encoded dyadic operations to
// ST(dst) with the given operands. a/b are already in operand order
// for the subtract/divide reversals. The native80 backend routes
// through the Ext80 engine instead of host-double arithmetic.
func (c *Core) arithOp(group int, dst int, a, b float64) {
	if c.backend == "native80" {
		c.arithOp80(group, dst, a, b)
		return
	}
	switch group {
	case 0:
		c.storeArith(dst, a+b)
	case 1:
		c.storeArith(dst, a*b)
	case 4, 5:
		c.storeArith(dst, a-b)
	default: // 6, 7
		c.Div(dst, a, b)
	}
}

// arithOp80 is the native-x87 dyadic path: operands widened to their
// exact 80-bit images, computed with explicit exponent/significand
// manipulation, and narrowed back into the host-double mirror. Status
// bits flow through the same commit pipeline as the host path.
func (c *Core) arithOp80(group int, dst int, a, b float64) {
	x, y := Ext80FromFloat64(a), Ext80FromFloat64(b)
	rc := c.RoundMode()

	var r Ext80
	var st uint16
	switch group {
	case 0:
		r, st = x.Add(y, rc)
	case 1:
		r, st = x.Mul(y, rc)
	case 4, 5:
		r, st = x.Sub(y, rc)
	default: // 6, 7
		r, st = x.Div(y, rc)
	}

	if st != 0 {
		c.setFlag(st)
		c.commitExceptions()
	}
	// An unmasked invalid or zero-divide does not commit the
	// destination (spec.md section 4.9's pipeline step 7).
	if st&SWInvalid != 0 && c.S.NPXC&CWInvalid == 0 {
		return
	}
	if st&SWZeroDivide != 0 && c.S.NPXC&CWZeroDivide == 0 {
		return
	}
	c.SetST(dst, r.Float64())
}

func (c *Core) execD8(modrm uint8, op *Operand) {
	group := int(modrm>>3) & 7

	var src float64
	if op != nil {
		v, ok := op.readF32()
		if !ok {
			return
		}
		src = v
	} else {
		i := int(modrm & 7)
		if c.IsEmpty(i) {
			if group == 2 || group == 3 {
				c.underflowCompare()
			} else {
				c.underflowArith(0)
			}
			return
		}
		src = c.ST(i)
	}

	if c.IsEmpty(0) {
		if group == 2 || group == 3 {
			c.underflowCompare()
		} else {
			c.underflowArith(0)
		}
		return
	}

	switch group {
	case 2: // FCOM
		c.Compare(c.ST(0), src, false)
	case 3: // FCOMP
		c.Compare(c.ST(0), src, false)
		c.Pop()
	case 5: // FSUBR
		c.arithOp(group, 0, src, c.ST(0))
	case 7: // FDIVR
		c.arithOp(group, 0, src, c.ST(0))
	default:
		c.arithOp(group, 0, c.ST(0), src)
	}
}

func (c *Core) execD9(modrm uint8, op *Operand) {
	if op != nil {
		switch int(modrm>>3) & 7 {
		case 0: // FLD m32
			if v, ok := op.readF32(); ok {
				c.Push(v)
			}
		case 2: // FST m32
			c.storeF(op.writeF32, false)
		case 3: // FSTP m32
			c.storeF(op.writeF32, true)
		case 4: // FLDENV
			if buf, ok := op.readBytes(headerSize(op.Layout)); ok {
				tw, _ := c.RestoreEnv(buf, op.Layout)
				c.applyTagWord(tw)
			}
		case 5: // FLDCW
			if v, ok := op.readU16(); ok {
				c.S.NPXC = v | 0x40 // reserved bit 6 reads as 1
				c.commitExceptions()
			}
		case 6: // FSTENV
			buf := make([]byte, headerSize(op.Layout))
			c.SaveEnv(buf, op.Layout)
			if op.writeBytes(buf) {
				// FSTENV masks all exceptions and clears the summary
				// bits, per the architectural definition.
				c.S.NPXC |= 0x3f
				c.S.NPXS &^= SWSummary | SWBackward
			}
		case 7: // FSTCW
			op.writeU16(c.S.NPXC)
		}
		return
	}

	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FLD ST(i)
		i := int(modrm & 7)
		if c.IsEmpty(i) {
			c.underflowPush()
			return
		}
		c.Push(c.ST(i))
	case modrm >= 0xc8 && modrm <= 0xcf: // FXCH
		c.Xch(int(modrm & 7))
	case modrm == 0xd0: // FNOP
	case modrm >= 0xd8 && modrm <= 0xdf: // FSTP ST(i) (alias)
		i := int(modrm & 7)
		if c.IsEmpty(0) {
			c.underflowArith(i)
			return
		}
		c.SetST(i, c.ST(0))
		c.Pop()
	case modrm == 0xe0:
		c.Chs()
	case modrm == 0xe1:
		c.Abs()
	case modrm == 0xe4:
		if c.IsEmpty(0) {
			c.underflowCompare()
			return
		}
		c.Tst()
	case modrm == 0xe5:
		c.Xam()
	case modrm >= 0xe8 && modrm <= 0xee:
		c.LoadConst([...]Const{ConstOne, ConstL2T, ConstL2E, ConstPi,
			ConstLG2, ConstLN2, ConstZero}[modrm-0xe8])
	case modrm >= 0xf0:
		c.execD9Trans(modrm)
	}
}

// execD9Trans covers D9 F0..FF: the transcendental and
// stack-manipulation block.
func (c *Core) execD9Trans(modrm uint8) {
	switch modrm {
	case 0xf0:
		c.F2xm1()
	case 0xf1:
		c.Yl2x()
	case 0xf2: // FPTAN
		if c.outOfTrigRange(c.ST(0)) {
			return
		}
		c.Ptan()
	case 0xf3:
		c.Patan()
	case 0xf4:
		c.Xtract()
	case 0xf5: // FPREM1
		r := c.Prem1()
		c.ApplyPremCC(r)
	case 0xf6:
		c.DecStp()
	case 0xf7:
		c.IncStp()
	case 0xf8: // FPREM
		r := c.Prem()
		c.ApplyPremCC(r)
	case 0xf9:
		c.Yl2xp1()
	case 0xfa:
		c.Sqrt()
	case 0xfb: // FSINCOS
		if c.outOfTrigRange(c.ST(0)) {
			return
		}
		c.Sincos()
	case 0xfc:
		c.RndInt()
	case 0xfd:
		c.Scale()
	case 0xfe: // FSIN
		if c.outOfTrigRange(c.ST(0)) {
			return
		}
		c.Sin()
	case 0xff: // FCOS
		if c.outOfTrigRange(c.ST(0)) {
			return
		}
		c.Cos()
	}
}

// outOfTrigRange applies the C2 protocol for arguments the reduction
// hardware cannot handle: C2 set, register untouched; in-range inputs
// clear C2 before the operation runs.
func (c *Core) outOfTrigRange(v float64) bool {
	if math.Abs(v) >= maxTrigArg {
		c.S.NPXS |= SWC2
		return true
	}
	c.S.NPXS &^= SWC2
	return false
}

func (c *Core) execDA(modrm uint8, op *Operand) {
	if op != nil {
		v, ok := op.readU32()
		if !ok {
			return
		}
		c.intArith(int(modrm>>3)&7, float64(int32(v)))
		return
	}

	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FCMOVB
		c.cmov(int(modrm&7), c.S.EFlags&eflagCF != 0)
	case modrm >= 0xc8 && modrm <= 0xcf: // FCMOVE
		c.cmov(int(modrm&7), c.S.EFlags&eflagZF != 0)
	case modrm >= 0xd0 && modrm <= 0xd7: // FCMOVBE
		c.cmov(int(modrm&7), c.S.EFlags&(eflagCF|eflagZF) != 0)
	case modrm >= 0xd8 && modrm <= 0xdf: // FCMOVU
		c.cmov(int(modrm&7), c.S.EFlags&eflagPF != 0)
	case modrm == 0xe9: // FUCOMPP
		if c.IsEmpty(0) || c.IsEmpty(1) {
			c.underflowCompare()
			return
		}
		c.Compare(c.ST(0), c.ST(1), true)
		c.Pop()
		c.Pop()
	}
}

func (c *Core) cmov(i int, cond bool) {
	if !cond {
		return
	}
	if c.IsEmpty(i) {
		c.underflowArith(0)
		return
	}
	c.SetST(0, c.ST(i))
}

func (c *Core) execDB(modrm uint8, op *Operand) {
	if op != nil {
		switch int(modrm>>3) & 7 {
		case 0: // FILD m32
			if v, ok := op.readU32(); ok {
				c.ILoad(int64(int32(v)), false)
			}
		case 2: // FIST m32
			c.istore(op, 32, false)
		case 3: // FISTP m32
			c.istore(op, 32, true)
		case 5: // FLD m80
			if buf, ok := op.readBytes(10); ok {
				v, _ := decodeExtended(buf)
				c.Push(v)
			}
		case 7: // FSTP m80
			if c.IsEmpty(0) {
				c.underflowArith(0)
				return
			}
			var buf [10]byte
			encodeExtended(buf[:], c.ST(0), c.S.Tag[c.phys(0)])
			if op.writeBytes(buf[:]) {
				c.Pop()
			}
		}
		return
	}

	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FCMOVNB
		c.cmov(int(modrm&7), c.S.EFlags&eflagCF == 0)
	case modrm >= 0xc8 && modrm <= 0xcf: // FCMOVNE
		c.cmov(int(modrm&7), c.S.EFlags&eflagZF == 0)
	case modrm >= 0xd0 && modrm <= 0xd7: // FCMOVNBE
		c.cmov(int(modrm&7), c.S.EFlags&(eflagCF|eflagZF) == 0)
	case modrm >= 0xd8 && modrm <= 0xdf: // FCMOVNU
		c.cmov(int(modrm&7), c.S.EFlags&eflagPF == 0)
	case modrm == 0xe0 || modrm == 0xe1: // FNENI/FNDISI: 8087 relics, no-ops
	case modrm == 0xe2:
		c.ClearExceptions()
	case modrm == 0xe3:
		c.Reset()
	case modrm >= 0xe8 && modrm <= 0xef: // FUCOMI
		c.comi(int(modrm&7), true, false)
	case modrm >= 0xf0 && modrm <= 0xf7: // FCOMI
		c.comi(int(modrm&7), false, false)
	}
}

func (c *Core) execDC(modrm uint8, op *Operand) {
	group := int(modrm>>3) & 7

	if op != nil {
		v, ok := op.readF64()
		if !ok {
			return
		}
		if c.IsEmpty(0) {
			if group == 2 || group == 3 {
				c.underflowCompare()
			} else {
				c.underflowArith(0)
			}
			return
		}
		switch group {
		case 2:
			c.Compare(c.ST(0), v, false)
		case 3:
			c.Compare(c.ST(0), v, false)
			c.Pop()
		case 5, 7:
			c.arithOp(group, 0, v, c.ST(0))
		default:
			c.arithOp(group, 0, c.ST(0), v)
		}
		return
	}

	// Register forms target ST(i), with the subtract/divide direction
	// reversed relative to D8 (the architectural DC quirk).
	i := int(modrm & 7)
	if c.IsEmpty(0) || c.IsEmpty(i) {
		c.underflowArith(i)
		return
	}
	switch group {
	case 0:
		c.storeArith(i, c.ST(i)+c.ST(0))
	case 1:
		c.storeArith(i, c.ST(i)*c.ST(0))
	case 4: // FSUBR ST(i),ST: ST(i) = ST(0) - ST(i)
		c.storeArith(i, c.ST(0)-c.ST(i))
	case 5: // FSUB ST(i),ST: ST(i) = ST(i) - ST(0)
		c.storeArith(i, c.ST(i)-c.ST(0))
	case 6: // FDIVR ST(i),ST: ST(i) = ST(0) / ST(i)
		c.Div(i, c.ST(0), c.ST(i))
	case 7: // FDIV ST(i),ST: ST(i) = ST(i) / ST(0)
		c.Div(i, c.ST(i), c.ST(0))
	}
}

func (c *Core) execDD(modrm uint8, op *Operand) {
	if op != nil {
		switch int(modrm>>3) & 7 {
		case 0: // FLD m64
			if v, ok := op.readF64(); ok {
				c.Push(v)
			}
		case 2: // FST m64
			c.storeF(op.writeF64, false)
		case 3: // FSTP m64
			c.storeF(op.writeF64, true)
		case 4: // FRSTOR
			if buf, ok := op.readBytes(ImageSize(op.Layout)); ok {
				c.Restore(buf, op.Layout)
			}
		case 6: // FSAVE, then reinitialize
			buf := make([]byte, ImageSize(op.Layout))
			c.Save(buf, op.Layout)
			if op.writeBytes(buf) {
				c.Reset()
			}
		case 7: // FNSTSW m16
			op.writeU16(c.StatusWord())
		}
		return
	}

	i := int(modrm & 7)
	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FFREE
		c.Free(i)
	case modrm >= 0xd0 && modrm <= 0xd7: // FST ST(i)
		if c.IsEmpty(0) {
			c.underflowArith(i)
			return
		}
		c.SetST(i, c.ST(0))
	case modrm >= 0xd8 && modrm <= 0xdf: // FSTP ST(i)
		if c.IsEmpty(0) {
			c.underflowArith(i)
			return
		}
		c.SetST(i, c.ST(0))
		c.Pop()
	case modrm >= 0xe0 && modrm <= 0xe7: // FUCOM
		if c.IsEmpty(0) || c.IsEmpty(i) {
			c.underflowCompare()
			return
		}
		c.Compare(c.ST(0), c.ST(i), true)
	case modrm >= 0xe8 && modrm <= 0xef: // FUCOMP
		if c.IsEmpty(0) || c.IsEmpty(i) {
			c.underflowCompare()
			return
		}
		c.Compare(c.ST(0), c.ST(i), true)
		c.Pop()
	}
}

func (c *Core) execDE(modrm uint8, op *Operand) {
	if op != nil {
		v, ok := op.readU16()
		if !ok {
			return
		}
		c.intArith(int(modrm>>3)&7, float64(int16(v)))
		return
	}

	i := int(modrm & 7)
	if modrm == 0xd9 { // FCOMPP
		if c.IsEmpty(0) || c.IsEmpty(1) {
			c.underflowCompare()
			return
		}
		c.Compare(c.ST(0), c.ST(1), false)
		c.Pop()
		c.Pop()
		return
	}

	if c.IsEmpty(0) || c.IsEmpty(i) {
		c.underflowArith(i)
		return
	}
	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FADDP
		c.storeArith(i, c.ST(i)+c.ST(0))
		c.Pop()
	case modrm >= 0xc8 && modrm <= 0xcf: // FMULP
		c.storeArith(i, c.ST(i)*c.ST(0))
		c.Pop()
	case modrm >= 0xe0 && modrm <= 0xe7: // FSUBRP: ST(i) = ST(0) - ST(i)
		c.storeArith(i, c.ST(0)-c.ST(i))
		c.Pop()
	case modrm >= 0xe8 && modrm <= 0xef: // FSUBP: ST(i) = ST(i) - ST(0)
		c.storeArith(i, c.ST(i)-c.ST(0))
		c.Pop()
	case modrm >= 0xf0 && modrm <= 0xf7: // FDIVRP: ST(i) = ST(0) / ST(i)
		c.Div(i, c.ST(0), c.ST(i))
		c.Pop()
	case modrm >= 0xf8: // FDIVP: ST(i) = ST(i) / ST(0)
		c.Div(i, c.ST(i), c.ST(0))
		c.Pop()
	}
}

func (c *Core) execDF(modrm uint8, op *Operand) {
	if op != nil {
		switch int(modrm>>3) & 7 {
		case 0: // FILD m16
			if v, ok := op.readU16(); ok {
				c.ILoad(int64(int16(v)), false)
			}
		case 2: // FIST m16
			c.istore(op, 16, false)
		case 3: // FISTP m16
			c.istore(op, 16, true)
		case 4: // FBLD
			if buf, ok := op.readBytes(10); ok {
				var packed [10]byte
				copy(packed[:], buf)
				c.LoadBCD(packed)
			}
		case 5: // FILD m64
			if v, ok := op.readU64(); ok {
				c.ILoad(int64(v), true)
			}
		case 6: // FBSTP
			if c.IsEmpty(0) {
				c.underflowArith(0)
				return
			}
			out, _ := c.StoreBCD()
			op.writeBytes(out[:])
		case 7: // FISTP m64
			c.istore(op, 64, true)
		}
		return
	}

	switch {
	case modrm >= 0xc0 && modrm <= 0xc7: // FFREEP
		// Free-then-increment, with no underflow check: the slot is
		// deliberately empty when TOP moves past it.
		c.Free(int(modrm & 7))
		c.IncStp()
	case modrm == 0xe0: // FNSTSW AX
		c.S.Regs[0] = (c.S.Regs[0] &^ 0xffff) | uint32(c.StatusWord())
	case modrm >= 0xe8 && modrm <= 0xef: // FUCOMIP
		c.comi(int(modrm&7), true, true)
	case modrm >= 0xf0 && modrm <= 0xf7: // FCOMIP
		c.comi(int(modrm&7), false, true)
	}
}

// intArith is the FIADD/FIMUL/FICOM/... shared body for the DA (m32)
// and DE (m16) integer-operand groups.
func (c *Core) intArith(group int, v float64) {
	if c.IsEmpty(0) {
		if group == 2 || group == 3 {
			c.underflowCompare()
		} else {
			c.underflowArith(0)
		}
		return
	}
	switch group {
	case 2: // FICOM
		c.Compare(c.ST(0), v, false)
	case 3: // FICOMP
		c.Compare(c.ST(0), v, false)
		c.Pop()
	case 5, 7: // FISUBR / FIDIVR
		c.arithOp(group, 0, v, c.ST(0))
	default:
		c.arithOp(group, 0, c.ST(0), v)
	}
}

// comi implements FCOMI/FUCOMI (and their popping variants): the
// comparison result goes to EFLAGS ZF/PF/CF instead of C0..C3
// (spec.md section 4.9 "variants with I suffix").
func (c *Core) comi(i int, quiet, pop bool) {
	if c.IsEmpty(0) || c.IsEmpty(i) {
		c.setFlag(SWInvalid | SWStackFault)
		c.commitExceptions()
		c.S.EFlags |= eflagZF | eflagPF | eflagCF
		return
	}
	a, b := c.ST(0), c.ST(i)
	c.S.EFlags &^= eflagZF | eflagPF | eflagCF
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if !quiet {
			c.setFlag(SWInvalid)
			c.commitExceptions()
		}
		c.S.EFlags |= eflagZF | eflagPF | eflagCF
	case a < b:
		c.S.EFlags |= eflagCF
	case a == b:
		c.S.EFlags |= eflagZF
	}
	if pop {
		c.Pop()
	}
}

// storeF is the FST/FSTP shared body for 32/64-bit destinations. The
// masked underflow response materializes the indefinite in ST(0) first
// (via underflowArith), so the write and any pop proceed over it.
func (c *Core) storeF(write func(float64) bool, pop bool) {
	if c.IsEmpty(0) && !c.underflowArith(0) {
		return
	}
	if write(c.ST(0)) && pop {
		c.Pop()
	}
}

// istore is the FIST/FISTP shared body: round per the control word,
// range-check against the destination width, and write the indefinite
// pattern on a masked invalid result (glossary "Indefinite").
func (c *Core) istore(op *Operand, bits int, pop bool) {
	if c.IsEmpty(0) && !c.underflowArith(0) {
		return
	}

	// A FILDq-loaded register stores back its exact 64-bit pattern
	// without re-quantizing through the double mirror (spec.md section
	// 4.9's UINT64 pseudo-tag).
	if bits == 64 && c.S.Tag[c.phys(0)] == cpustate.TagUint64 {
		if op.writeU64(c.S.MM[c.phys(0)]) && pop {
			c.Pop()
		}
		return
	}

	v, invalid := c.IStore(c.ST(0), bits, false, RoundNearest)
	if invalid && c.S.NPXC&CWInvalid == 0 {
		return // unmasked: abort without committing
	}
	var ok bool
	switch bits {
	case 16:
		ok = op.writeU16(uint16(v))
	case 32:
		ok = op.writeU32(uint32(v))
	default:
		ok = op.writeU64(uint64(v))
	}
	if ok && pop {
		c.Pop()
	}
}

// Xam implements FXAM: C3/C2/C0 classify ST(0) (empty, NaN, normal,
// infinity, zero, denormal), C1 carries its sign bit.
func (c *Core) Xam() {
	c.S.NPXS &^= SWC0 | SWC1 | SWC2 | SWC3

	if c.IsEmpty(0) {
		c.S.NPXS |= SWC3 | SWC0
		return
	}
	v := c.ST(0)
	if math.Signbit(v) {
		c.S.NPXS |= SWC1
	}
	switch {
	case math.IsNaN(v):
		c.S.NPXS |= SWC0
	case math.IsInf(v, 0):
		c.S.NPXS |= SWC2 | SWC0
	case v == 0:
		c.S.NPXS |= SWC3
	case math.Abs(v) < 2.2250738585072014e-308: // below the normal range
		c.S.NPXS |= SWC3 | SWC2
	default:
		c.S.NPXS |= SWC2
	}
}

// applyTagWord rebuilds the Tag array from a loaded abbreviated tag
// word without touching register contents (the FLDENV case; FRSTOR
// decodes the same tag word per register in Restore).
func (c *Core) applyTagWord(tw uint16) {
	for r := 0; r < 8; r++ {
		c.S.Tag[r] = tagFromTagWord(tw, r)
	}
}
