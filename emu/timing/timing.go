/*
 * ia32core - Per-microarchitecture timing backends.
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

// Package timing supplies the pluggable per-microarchitecture cycle
// tables spec.md section 4.10 describes, selected at runtime by CPU
// type, plus the opcode/width-keyed FPU timing table
// original_source/src/cpu/x87_timings.h contributes (SPEC_FULL.md
// "Supplemented features").
package timing

// Backend is the small struct of rebindable entry points spec.md
// section 4.10 specifies. The block builder rebinds all six whenever
// the configured CPU type changes; any entry may be nil, in which case
// the dispatcher simply does not charge anything for that hook.
type Backend struct {
	Name string

	Start       func()
	BlockStart  func()
	BlockEnd    func()
	Prefix      func(prefix uint8, fetchdat uint32)
	Opcode      func(opcode uint8, fetchdat uint32, op32 bool, pc uint32) int

	// JumpCycles exists because some microarchitectures overlap branch
	// instructions with the instructions that follow them, so the
	// dispatcher must tentatively deduct branch-taken cycles before the
	// branch and credit them back on the not-taken path (spec.md
	// section 4.10, scenario F).
	JumpCycles func() int
}

// FPUOp names an x87 operation for the FPU timing table, keyed together
// with an operand width so that e.g. fadd_32 and fadd_64 stay distinct
// entries instead of collapsing to one "fadd" cost, per
// x87_timings.h and SPEC_FULL.md's supplemented-features list.
type FPUOp int

const (
	FPUF2XM1 FPUOp = iota
	FPUFabs
	FPUFadd
	FPUFbld
	FPUFbstp
	FPUFchs
	FPUFclex
	FPUFcom
	FPUFcos
	FPUFdiv
	FPUFfree
	FPUFild
	FPUFincdecstp
	FPUFinit
	FPUFist
	FPUFld
	FPUFldConst
	FPUFldcw
	FPUFldenv
	FPUFmul
	FPUFnop
	FPUFpatan
	FPUFprem
	FPUFptan
	FPUFrstor
	FPUFsave
	FPUFscale
	FPUFsincos
	FPUFsqrt
	FPUFst
	FPUFsub
	FPUFtst
	FPUFxch
	FPUFxtract
	FPUFyl2x
	FPUFyl2xp1
)

// Width distinguishes the operand size variants x87_timings.h carries
// per op (16/32/64/80-bit, or "NA" for width-independent ops).
type Width int

const (
	WidthNA Width = iota
	Width16
	Width32
	Width64
	Width80
)

type fpuKey struct {
	op FPUOp
	w  Width
}

// FPUTable is a (op,width)-keyed cycle-cost table for one
// microarchitecture's x87 unit.
type FPUTable struct {
	name    string
	entries map[fpuKey]int
}

// NewFPUTable constructs an empty table for microarchitecture name.
func NewFPUTable(name string) *FPUTable {
	return &FPUTable{name: name, entries: make(map[fpuKey]int)}
}

// Set records the cycle cost of op at width w.
func (t *FPUTable) Set(op FPUOp, w Width, cycles int) {
	t.entries[fpuKey{op, w}] = cycles
}

// Cost looks up op at width w, falling back to WidthNA if no
// width-specific entry exists, and finally to 0 (uncosted) if neither
// is present.
func (t *FPUTable) Cost(op FPUOp, w Width) int {
	if c, ok := t.entries[fpuKey{op, w}]; ok {
		return c
	}
	if c, ok := t.entries[fpuKey{op, WidthNA}]; ok {
		return c
	}
	return 0
}

// Registry is the runtime dispatch table of named backends, selected by
// CPU-type string (spec.md section 4.10: "Selected at runtime via a
// dispatch table").
type Registry struct {
	backends map[string]*Backend
	fpu      map[string]*FPUTable
}

// NewRegistry constructs an empty registry; Standard populates one with
// the five microarchitectures spec.md section 2 names.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]*Backend),
		fpu:      make(map[string]*FPUTable),
	}
}

// Register adds or replaces a named backend and its FPU table.
func (r *Registry) Register(b *Backend, fpu *FPUTable) {
	r.backends[b.Name] = b
	if fpu != nil {
		r.fpu[b.Name] = fpu
	}
}

// Select returns the named backend and FPU table, or (nil, nil, false)
// if unknown.
func (r *Registry) Select(name string) (*Backend, *FPUTable, bool) {
	b, ok := r.backends[name]
	if !ok {
		return nil, nil, false
	}
	return b, r.fpu[name], true
}

// Names lists every registered backend, for CLI/config introspection.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}
