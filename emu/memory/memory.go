/*
 * ia32core - Guest memory contracts and a flat-memory reference backing.
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

// Package memory defines the guest-memory contracts the JIT core consumes
// (spec.md section 6: readmem/writemem, the software TLB, the page array)
// and supplies one concrete flat-memory implementation so the core can run
// and be tested without a real guest memory/MMU subsystem attached.
package memory

const (
	// PageShift is the linear-address bits covered by one TLB/page entry.
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	// SubPageShift is the granularity of SMC dirty tracking: 1KB quadrants,
	// each carrying a 64-bit mask at 64-byte resolution (spec.md 4.7).
	SubPageShift = 10
	SubPages     = PageSize >> SubPageShift // 4 quadrants per page

	// CellShift is the SMC dirty-bit granularity: 64 bytes per bit.
	CellShift = 6
	CellSize  = 1 << CellShift
)

// NotCached is the sentinel stored in a TLB slot when no host pointer is
// resident for that guest virtual page (spec.md section 6).
const NotCached = -1

// Page is the external per-physical-page record the block cache indexes
// into: per spec.md section 3, it carries dirty masks at 64-byte
// granularity across four 1KB quadrants, plus an aggregate of the code
// masks of every block that occupies it.
type Page struct {
	DirtyMask       [SubPages]uint64
	CodePresentMask [SubPages]uint64
}

// Pages owns the per-physical-page records for a guest address space.
type Pages struct {
	pages map[uint32]*Page
}

// NewPages constructs an empty, lazily-populated page-record table.
func NewPages() *Pages {
	return &Pages{pages: make(map[uint32]*Page)}
}

// Page returns (creating if absent) the record for physical page ppn.
func (p *Pages) Page(ppn uint32) *Page {
	pg, ok := p.pages[ppn]
	if !ok {
		pg = &Page{}
		p.pages[ppn] = pg
	}
	return pg
}

// MarkDirty sets the dirty bit for the 64-byte cell containing phys,
// as the memory subsystem must on every guest store into a code page.
func (p *Pages) MarkDirty(phys uint32) {
	ppn := phys >> PageShift
	pg, ok := p.pages[ppn]
	if !ok {
		// No block has ever touched this page; nothing to invalidate.
		return
	}
	quad := (phys >> SubPageShift) & (SubPages - 1)
	cell := (phys & (PageSize - 1) >> CellShift) & 63
	pg.DirtyMask[quad] |= 1 << uint(cell&63)
}

// Abort records the reason the guest-visible fault-on-access mechanism
// set cpu_state.abrt; spec.md section 7 requires this never unwind the
// host, only be recorded in guest state.
type Abort uint16

const (
	AbortNone Abort = 0
	AbortGPF  Abort = 1
	AbortPage Abort = 2
	AbortMF   Abort = 3 // pending FPU exception, #MF
)

// Memory is the external collaborator contract consumed by emu/memaccess,
// emu/dispatch and emu/fpu: guest-linear reads/writes that may set an
// abort condition instead of returning an error (spec.md section 6).
//
// Implementations are expected to also maintain ReadLookup/WriteLookup
// (the software TLB) and the Pages table, since the JIT's inline fast
// path consults those arrays directly rather than calling back in on
// every hit.
type Memory interface {
	ReadByte(lin uint32) (uint8, Abort)
	ReadWord(lin uint32) (uint16, Abort)
	ReadLong(lin uint32) (uint32, Abort)
	ReadQuad(lin uint32) (uint64, Abort)

	WriteByte(lin uint32, v uint8) Abort
	WriteWord(lin uint32, v uint16) Abort
	WriteLong(lin uint32, v uint32) Abort
	WriteQuad(lin uint32, v uint64) Abort

	// TranslateReal32 resolves a linear address to a physical one,
	// pre-validating page permissions for instructions that issue
	// multiple writes against the same page (spec.md section 6).
	TranslateReal32(lin uint32, write bool) (phys uint32, abrt Abort)

	// ReadLookup/WriteLookup return a direct host slice for the page
	// containing lin, or nil if that page is not TLB-resident
	// (the NotCached sentinel in spec.md section 3/6).
	ReadLookup(lin uint32) []byte
	WriteLookup(lin uint32) []byte

	Pages() *Pages
}

// Flat is a reference Memory implementation: a single contiguous byte
// slice with an identity TLB (every page is always resident), matching
// the "flat DS/SS" fast mode the emitter special-cases. Grounded on the
// teacher's emu/memory.Mem, generalized from a 24-bit S/370 address space
// to a full 32-bit linear space and the richer guest-fault contract x87
// callers need.
type Flat struct {
	bytes []byte
	pages *Pages
}

// NewFlat allocates a flat address space of the given size in bytes.
func NewFlat(size uint32) *Flat {
	return &Flat{
		bytes: make([]byte, size),
		pages: NewPages(),
	}
}

func (f *Flat) bounds(lin uint32, width uint32) bool {
	return uint64(lin)+uint64(width) <= uint64(len(f.bytes))
}

func (f *Flat) ReadByte(lin uint32) (uint8, Abort) {
	if !f.bounds(lin, 1) {
		return 0, AbortPage
	}
	return f.bytes[lin], AbortNone
}

func (f *Flat) ReadWord(lin uint32) (uint16, Abort) {
	if !f.bounds(lin, 2) {
		return 0, AbortPage
	}
	return uint16(f.bytes[lin]) | uint16(f.bytes[lin+1])<<8, AbortNone
}

func (f *Flat) ReadLong(lin uint32) (uint32, Abort) {
	if !f.bounds(lin, 4) {
		return 0, AbortPage
	}
	v := uint32(f.bytes[lin]) | uint32(f.bytes[lin+1])<<8 |
		uint32(f.bytes[lin+2])<<16 | uint32(f.bytes[lin+3])<<24
	return v, AbortNone
}

func (f *Flat) ReadQuad(lin uint32) (uint64, Abort) {
	if !f.bounds(lin, 8) {
		return 0, AbortPage
	}
	lo, _ := f.ReadLong(lin)
	hi, _ := f.ReadLong(lin + 4)
	return uint64(lo) | uint64(hi)<<32, AbortNone
}

func (f *Flat) WriteByte(lin uint32, v uint8) Abort {
	if !f.bounds(lin, 1) {
		return AbortPage
	}
	f.bytes[lin] = v
	f.pages.MarkDirty(lin)
	return AbortNone
}

func (f *Flat) WriteWord(lin uint32, v uint16) Abort {
	if !f.bounds(lin, 2) {
		return AbortPage
	}
	f.bytes[lin] = byte(v)
	f.bytes[lin+1] = byte(v >> 8)
	f.pages.MarkDirty(lin)
	return AbortNone
}

func (f *Flat) WriteLong(lin uint32, v uint32) Abort {
	if !f.bounds(lin, 4) {
		return AbortPage
	}
	f.bytes[lin] = byte(v)
	f.bytes[lin+1] = byte(v >> 8)
	f.bytes[lin+2] = byte(v >> 16)
	f.bytes[lin+3] = byte(v >> 24)
	f.pages.MarkDirty(lin)
	return AbortNone
}

func (f *Flat) WriteQuad(lin uint32, v uint64) Abort {
	if !f.bounds(lin, 8) {
		return AbortPage
	}
	if a := f.WriteLong(lin, uint32(v)); a != AbortNone {
		return a
	}
	return f.WriteLong(lin+4, uint32(v>>32))
}

func (f *Flat) TranslateReal32(lin uint32, _ bool) (uint32, Abort) {
	if !f.bounds(lin, 1) {
		return 0, AbortPage
	}
	return lin, AbortNone
}

// ReadLookup/WriteLookup implement the identity TLB: every in-range page
// is always resident, so the fast path never has to call back in.
func (f *Flat) ReadLookup(lin uint32) []byte {
	base := lin &^ PageMask
	if !f.bounds(base, PageSize) {
		return nil
	}
	return f.bytes[base : base+PageSize]
}

func (f *Flat) WriteLookup(lin uint32) []byte {
	return f.ReadLookup(lin)
}

func (f *Flat) Pages() *Pages {
	return f.pages
}

// Size reports the number of addressable bytes.
func (f *Flat) Size() uint32 {
	return uint32(len(f.bytes))
}
