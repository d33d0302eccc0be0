/*
 * ia32core - Executable-memory platform abstraction.
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

// Package hostexec encapsulates allocating, reprotecting and freeing
// executable memory behind the three-operation platform abstraction
// spec.md section 9 specifies, plus FlushICache for hosts that need
// explicit cache maintenance after writing code. Host-side allocation
// failure here is fatal at init, per spec.md section 7.
package hostexec

import "fmt"

// Region is an allocated block of host memory the JIT writes machine
// code into.
type Region struct {
	bytes      []byte
	executable bool
}

// Bytes exposes the region's backing storage. Callers must not retain
// slices across a Free.
func (r *Region) Bytes() []byte { return r.bytes }

// Allocator is the platform abstraction spec.md section 9 asks for:
// AllocExec/ProtectRWtoRX/FreeExec, with FlushICache for architectures
// that require it. PortableAllocator below hands out plain byte slices
// that are never executable; MmapAllocator (unix) and VirtualAllocator
// (Windows) map read/write/execute memory, and their ProtectRWtoRX
// drops write permission from a region.
type Allocator interface {
	AllocExec(size int) (*Region, error)
	ProtectRWtoRX(r *Region) error
	FreeExec(r *Region) error
	FlushICache(r *Region)
}

// PortableAllocator is a non-JIT fallback: it hands out ordinary Go
// byte slices that are never actually marked executable. It exists for
// hosts spec.md section 1 puts out of scope ("host-architecture
// portability beyond the two target word sizes... [is a] Non-goal"):
// the dispatcher on such a host must route every instruction through
// the interpreter fallback rather than ever executing emitted bytes,
// and every Region PortableAllocator returns reports Executable() false.
type PortableAllocator struct{}

func (PortableAllocator) AllocExec(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hostexec: invalid region size %d", size)
	}
	return &Region{bytes: make([]byte, size), executable: false}, nil
}

func (PortableAllocator) ProtectRWtoRX(r *Region) error {
	// No-op: this allocator never grants execute permission, by design.
	return nil
}

func (PortableAllocator) FreeExec(r *Region) error {
	r.bytes = nil
	return nil
}

func (PortableAllocator) FlushICache(r *Region) {}

// Executable reports whether code written into r may actually be
// entered as host instructions on this allocator.
func (r *Region) Executable() bool { return r.executable }
