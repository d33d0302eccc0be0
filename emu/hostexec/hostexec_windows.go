//go:build windows

/*
 * ia32core - VirtualAlloc-backed executable memory allocator (Windows).
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
	"unsafe"

	"golang.org/x/sys/windows"
)

// VirtualAllocator is the Windows form of the executable-memory
// platform abstraction spec.md section 9 names
// ("VirtualAlloc(EXECUTE_READWRITE)").
type VirtualAllocator struct{}

func (VirtualAllocator) AllocExec(size int) (*Region, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("hostexec: VirtualAlloc %d bytes: %w", size, err)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &Region{bytes: b, executable: true}, nil
}

func (VirtualAllocator) ProtectRWtoRX(r *Region) error {
	var old uint32
	addr := uintptr(unsafe.Pointer(&r.bytes[0]))
	if err := windows.VirtualProtect(addr, uintptr(len(r.bytes)), windows.PAGE_EXECUTE_READ, &old); err != nil {
		return fmt.Errorf("hostexec: VirtualProtect RX: %w", err)
	}
	return nil
}

func (VirtualAllocator) FreeExec(r *Region) error {
	if r.bytes == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&r.bytes[0]))
	r.bytes = nil
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("hostexec: VirtualFree: %w", err)
	}
	return nil
}

func (VirtualAllocator) FlushICache(r *Region) {
	// x86/x86-64 hosts require no explicit instruction-cache
	// maintenance for self-modifying code (spec.md section 5).
}
