/*
 * ia32core - Concrete microarchitecture timing tables.
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

package timing

// Relative base costs, not cycle-exact to any real part: the point of
// this table is the *shape* spec.md section 4.10 asks for (distinct
// backends with distinct jump-overlap behavior), not a cycle-exact
// replica of silicon nobody can check against here.
const (
	baseOpcode = 1
	basePrefix = 1
)

func simpleOpcode(cost int) func(opcode uint8, fetchdat uint32, op32 bool, pc uint32) int {
	return func(opcode uint8, fetchdat uint32, op32 bool, pc uint32) int {
		return cost
	}
}

// Standard registers the five microarchitecture backends spec.md
// section 2 enumerates: 486, Pentium, P6, K6 and Winchip.
func Standard() *Registry {
	r := NewRegistry()

	// 486: scalar, no branch/instruction overlap, so JumpCycles is nil
	// (the dispatcher treats a nil hook as "no overlap adjustment").
	r.Register(&Backend{
		Name:       "486",
		Opcode:     simpleOpcode(2),
		JumpCycles: nil,
	}, fpu486())

	// Pentium: dual-issue, branches overlap with the next instruction
	// when predicted taken, so JumpCycles is non-nil per spec.md
	// section 4.10 and scenario F.
	r.Register(&Backend{
		Name:       "pentium",
		Opcode:     simpleOpcode(1),
		JumpCycles: func() int { return 1 },
	}, fpuPentium())

	// P6 (Pentium Pro/II/III): deeper overlap window than Pentium.
	r.Register(&Backend{
		Name:       "p6",
		Opcode:     simpleOpcode(1),
		JumpCycles: func() int { return 2 },
	}, fpuP6())

	// K6: AMD's contemporary to Pentium/P6, similar overlap behavior
	// but a cheaper FPU pipeline on some ops.
	r.Register(&Backend{
		Name:       "k6",
		Opcode:     simpleOpcode(1),
		JumpCycles: func() int { return 1 },
	}, fpuK6())

	// Winchip: in-order, no branch/instruction overlap like the 486.
	r.Register(&Backend{
		Name:       "winchip",
		Opcode:     simpleOpcode(2),
		JumpCycles: nil,
	}, fpuWinchip())

	return r
}

func fpu486() *FPUTable {
	t := NewFPUTable("486")
	t.Set(FPUFadd, Width32, 10)
	t.Set(FPUFadd, Width64, 10)
	t.Set(FPUFmul, Width32, 16)
	t.Set(FPUFmul, Width64, 16)
	t.Set(FPUFdiv, Width32, 73)
	t.Set(FPUFdiv, Width64, 73)
	t.Set(FPUFsub, Width32, 10)
	t.Set(FPUFsub, Width64, 10)
	t.Set(FPUFld, Width32, 3)
	t.Set(FPUFld, Width64, 3)
	t.Set(FPUFld, Width80, 6)
	t.Set(FPUFst, Width32, 7)
	t.Set(FPUFst, Width64, 8)
	t.Set(FPUFild, Width16, 13)
	t.Set(FPUFild, Width32, 9)
	t.Set(FPUFild, Width64, 10)
	t.Set(FPUFist, Width16, 29)
	t.Set(FPUFist, Width32, 28)
	t.Set(FPUFist, Width64, 29)
	t.Set(FPUFcom, WidthNA, 4)
	t.Set(FPUFsqrt, WidthNA, 85)
	t.Set(FPUFsincos, WidthNA, 292)
	t.Set(FPUF2XM1, WidthNA, 242)
	t.Set(FPUFabs, WidthNA, 3)
	t.Set(FPUFbld, WidthNA, 75)
	t.Set(FPUFbstp, WidthNA, 175)
	t.Set(FPUFchs, WidthNA, 6)
	t.Set(FPUFclex, WidthNA, 7)
	t.Set(FPUFcos, WidthNA, 241)
	t.Set(FPUFfree, WidthNA, 3)
	t.Set(FPUFincdecstp, WidthNA, 3)
	t.Set(FPUFinit, WidthNA, 17)
	t.Set(FPUFldConst, WidthNA, 4)
	t.Set(FPUFldcw, WidthNA, 4)
	t.Set(FPUFldenv, WidthNA, 44)
	t.Set(FPUFnop, WidthNA, 3)
	t.Set(FPUFpatan, WidthNA, 218)
	t.Set(FPUFprem, WidthNA, 70)
	t.Set(FPUFptan, WidthNA, 200)
	t.Set(FPUFrstor, WidthNA, 131)
	t.Set(FPUFsave, WidthNA, 154)
	t.Set(FPUFscale, WidthNA, 30)
	t.Set(FPUFtst, WidthNA, 4)
	t.Set(FPUFxch, WidthNA, 4)
	t.Set(FPUFxtract, WidthNA, 16)
	t.Set(FPUFyl2x, WidthNA, 196)
	t.Set(FPUFyl2xp1, WidthNA, 171)
	return t
}

func fpuPentium() *FPUTable {
	t := NewFPUTable("pentium")
	t.Set(FPUFadd, Width32, 3)
	t.Set(FPUFadd, Width64, 3)
	t.Set(FPUFmul, Width32, 3)
	t.Set(FPUFmul, Width64, 3)
	t.Set(FPUFdiv, Width32, 19)
	t.Set(FPUFdiv, Width64, 39)
	t.Set(FPUFsub, Width32, 3)
	t.Set(FPUFsub, Width64, 3)
	t.Set(FPUFld, Width32, 1)
	t.Set(FPUFld, Width64, 1)
	t.Set(FPUFld, Width80, 3)
	t.Set(FPUFst, Width32, 2)
	t.Set(FPUFst, Width64, 2)
	t.Set(FPUFild, Width16, 3)
	t.Set(FPUFild, Width32, 3)
	t.Set(FPUFild, Width64, 3)
	t.Set(FPUFist, Width16, 6)
	t.Set(FPUFist, Width32, 6)
	t.Set(FPUFist, Width64, 6)
	t.Set(FPUFcom, WidthNA, 1)
	t.Set(FPUFsqrt, WidthNA, 70)
	t.Set(FPUFsincos, WidthNA, 142)
	t.Set(FPUF2XM1, WidthNA, 53)
	t.Set(FPUFabs, WidthNA, 1)
	t.Set(FPUFbld, WidthNA, 48)
	t.Set(FPUFbstp, WidthNA, 148)
	t.Set(FPUFchs, WidthNA, 1)
	t.Set(FPUFclex, WidthNA, 9)
	t.Set(FPUFcos, WidthNA, 124)
	t.Set(FPUFfree, WidthNA, 1)
	t.Set(FPUFincdecstp, WidthNA, 2)
	t.Set(FPUFinit, WidthNA, 16)
	t.Set(FPUFldConst, WidthNA, 2)
	t.Set(FPUFldcw, WidthNA, 8)
	t.Set(FPUFldenv, WidthNA, 32)
	t.Set(FPUFnop, WidthNA, 1)
	t.Set(FPUFpatan, WidthNA, 112)
	t.Set(FPUFprem, WidthNA, 64)
	t.Set(FPUFptan, WidthNA, 173)
	t.Set(FPUFrstor, WidthNA, 75)
	t.Set(FPUFsave, WidthNA, 127)
	t.Set(FPUFscale, WidthNA, 20)
	t.Set(FPUFtst, WidthNA, 1)
	t.Set(FPUFxch, WidthNA, 1)
	t.Set(FPUFxtract, WidthNA, 13)
	t.Set(FPUFyl2x, WidthNA, 111)
	t.Set(FPUFyl2xp1, WidthNA, 103)
	return t
}

func fpuP6() *FPUTable {
	t := NewFPUTable("p6")
	t.Set(FPUFadd, Width32, 3)
	t.Set(FPUFadd, Width64, 3)
	t.Set(FPUFmul, Width32, 5)
	t.Set(FPUFmul, Width64, 5)
	t.Set(FPUFdiv, Width32, 18)
	t.Set(FPUFdiv, Width64, 32)
	t.Set(FPUFsub, Width32, 3)
	t.Set(FPUFsub, Width64, 3)
	t.Set(FPUFld, Width32, 1)
	t.Set(FPUFld, Width64, 1)
	t.Set(FPUFld, Width80, 2)
	t.Set(FPUFst, Width32, 2)
	t.Set(FPUFst, Width64, 2)
	t.Set(FPUFild, Width16, 3)
	t.Set(FPUFild, Width32, 3)
	t.Set(FPUFild, Width64, 3)
	t.Set(FPUFist, Width16, 5)
	t.Set(FPUFist, Width32, 5)
	t.Set(FPUFist, Width64, 5)
	t.Set(FPUFcom, WidthNA, 1)
	t.Set(FPUFsqrt, WidthNA, 58)
	t.Set(FPUFsincos, WidthNA, 122)
	t.Set(FPUF2XM1, WidthNA, 66)
	t.Set(FPUFabs, WidthNA, 1)
	t.Set(FPUFbld, WidthNA, 40)
	t.Set(FPUFbstp, WidthNA, 165)
	t.Set(FPUFchs, WidthNA, 1)
	t.Set(FPUFclex, WidthNA, 10)
	t.Set(FPUFcos, WidthNA, 106)
	t.Set(FPUFfree, WidthNA, 1)
	t.Set(FPUFincdecstp, WidthNA, 1)
	t.Set(FPUFinit, WidthNA, 12)
	t.Set(FPUFldConst, WidthNA, 2)
	t.Set(FPUFldcw, WidthNA, 10)
	t.Set(FPUFldenv, WidthNA, 28)
	t.Set(FPUFnop, WidthNA, 1)
	t.Set(FPUFpatan, WidthNA, 99)
	t.Set(FPUFprem, WidthNA, 56)
	t.Set(FPUFptan, WidthNA, 128)
	t.Set(FPUFrstor, WidthNA, 70)
	t.Set(FPUFsave, WidthNA, 110)
	t.Set(FPUFscale, WidthNA, 15)
	t.Set(FPUFtst, WidthNA, 1)
	t.Set(FPUFxch, WidthNA, 1)
	t.Set(FPUFxtract, WidthNA, 12)
	t.Set(FPUFyl2x, WidthNA, 103)
	t.Set(FPUFyl2xp1, WidthNA, 98)
	return t
}

func fpuK6() *FPUTable {
	t := NewFPUTable("k6")
	t.Set(FPUFadd, Width32, 2)
	t.Set(FPUFadd, Width64, 2)
	t.Set(FPUFmul, Width32, 2)
	t.Set(FPUFmul, Width64, 2)
	t.Set(FPUFdiv, Width32, 17)
	t.Set(FPUFdiv, Width64, 31)
	t.Set(FPUFsub, Width32, 2)
	t.Set(FPUFsub, Width64, 2)
	t.Set(FPUFld, Width32, 2)
	t.Set(FPUFld, Width64, 2)
	t.Set(FPUFld, Width80, 3)
	t.Set(FPUFst, Width32, 2)
	t.Set(FPUFst, Width64, 2)
	t.Set(FPUFild, Width16, 3)
	t.Set(FPUFild, Width32, 3)
	t.Set(FPUFild, Width64, 3)
	t.Set(FPUFist, Width16, 6)
	t.Set(FPUFist, Width32, 6)
	t.Set(FPUFist, Width64, 6)
	t.Set(FPUFcom, WidthNA, 2)
	t.Set(FPUFsqrt, WidthNA, 56)
	t.Set(FPUFsincos, WidthNA, 131)
	t.Set(FPUF2XM1, WidthNA, 60)
	t.Set(FPUFabs, WidthNA, 2)
	t.Set(FPUFbld, WidthNA, 45)
	t.Set(FPUFbstp, WidthNA, 155)
	t.Set(FPUFchs, WidthNA, 2)
	t.Set(FPUFclex, WidthNA, 8)
	t.Set(FPUFcos, WidthNA, 115)
	t.Set(FPUFfree, WidthNA, 2)
	t.Set(FPUFincdecstp, WidthNA, 2)
	t.Set(FPUFinit, WidthNA, 14)
	t.Set(FPUFldConst, WidthNA, 2)
	t.Set(FPUFldcw, WidthNA, 8)
	t.Set(FPUFldenv, WidthNA, 30)
	t.Set(FPUFnop, WidthNA, 2)
	t.Set(FPUFpatan, WidthNA, 105)
	t.Set(FPUFprem, WidthNA, 60)
	t.Set(FPUFptan, WidthNA, 135)
	t.Set(FPUFrstor, WidthNA, 72)
	t.Set(FPUFsave, WidthNA, 115)
	t.Set(FPUFscale, WidthNA, 18)
	t.Set(FPUFtst, WidthNA, 2)
	t.Set(FPUFxch, WidthNA, 2)
	t.Set(FPUFxtract, WidthNA, 13)
	t.Set(FPUFyl2x, WidthNA, 106)
	t.Set(FPUFyl2xp1, WidthNA, 100)
	return t
}

func fpuWinchip() *FPUTable {
	t := NewFPUTable("winchip")
	t.Set(FPUFadd, Width32, 4)
	t.Set(FPUFadd, Width64, 4)
	t.Set(FPUFmul, Width32, 6)
	t.Set(FPUFmul, Width64, 6)
	t.Set(FPUFdiv, Width32, 33)
	t.Set(FPUFdiv, Width64, 56)
	t.Set(FPUFsub, Width32, 4)
	t.Set(FPUFsub, Width64, 4)
	t.Set(FPUFld, Width32, 4)
	t.Set(FPUFld, Width64, 4)
	t.Set(FPUFld, Width80, 6)
	t.Set(FPUFst, Width32, 4)
	t.Set(FPUFst, Width64, 4)
	t.Set(FPUFild, Width16, 6)
	t.Set(FPUFild, Width32, 6)
	t.Set(FPUFild, Width64, 6)
	t.Set(FPUFist, Width16, 10)
	t.Set(FPUFist, Width32, 10)
	t.Set(FPUFist, Width64, 10)
	t.Set(FPUFcom, WidthNA, 3)
	t.Set(FPUFsqrt, WidthNA, 96)
	t.Set(FPUFsincos, WidthNA, 180)
	t.Set(FPUF2XM1, WidthNA, 120)
	t.Set(FPUFabs, WidthNA, 3)
	t.Set(FPUFbld, WidthNA, 60)
	t.Set(FPUFbstp, WidthNA, 170)
	t.Set(FPUFchs, WidthNA, 3)
	t.Set(FPUFclex, WidthNA, 8)
	t.Set(FPUFcos, WidthNA, 160)
	t.Set(FPUFfree, WidthNA, 3)
	t.Set(FPUFincdecstp, WidthNA, 3)
	t.Set(FPUFinit, WidthNA, 16)
	t.Set(FPUFldConst, WidthNA, 3)
	t.Set(FPUFldcw, WidthNA, 6)
	t.Set(FPUFldenv, WidthNA, 36)
	t.Set(FPUFnop, WidthNA, 3)
	t.Set(FPUFpatan, WidthNA, 150)
	t.Set(FPUFprem, WidthNA, 66)
	t.Set(FPUFptan, WidthNA, 165)
	t.Set(FPUFrstor, WidthNA, 95)
	t.Set(FPUFsave, WidthNA, 130)
	t.Set(FPUFscale, WidthNA, 24)
	t.Set(FPUFtst, WidthNA, 3)
	t.Set(FPUFxch, WidthNA, 3)
	t.Set(FPUFxtract, WidthNA, 14)
	t.Set(FPUFyl2x, WidthNA, 140)
	t.Set(FPUFyl2xp1, WidthNA, 130)
	return t
}
