//go:build unix

/*
 * ia32core - mmap-backed executable memory allocator (unix hosts).
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

package hostexec

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator allocates the codeblock ring's backing storage with
// mmap(PROT_EXEC|PROT_READ|PROT_WRITE), the concrete unix form of the
// platform abstraction spec.md section 9 names. Architectures that need
// explicit cache maintenance for self-modifying code would implement
// FlushICache with the relevant serializing primitive; spec.md section 5
// notes x86 hosts need none, since "the architecture is coherent for
// self-modifying code via serializing instructions executed on return
// from the translator."
type MmapAllocator struct{}

func (MmapAllocator) AllocExec(size int) (*Region, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostexec: mmap %d bytes: %w", size, err)
	}
	return &Region{bytes: b, executable: true}, nil
}

func (MmapAllocator) ProtectRWtoRX(r *Region) error {
	if err := unix.Mprotect(r.bytes, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hostexec: mprotect RX: %w", err)
	}
	return nil
}

func (MmapAllocator) FreeExec(r *Region) error {
	if r.bytes == nil {
		return nil
	}
	err := unix.Munmap(r.bytes)
	r.bytes = nil
	if err != nil {
		return fmt.Errorf("hostexec: munmap: %w", err)
	}
	return nil
}

func (MmapAllocator) FlushICache(r *Region) {
	// x86/x86-64 hosts require no explicit instruction-cache
	// maintenance for self-modifying code (spec.md section 5).
}
