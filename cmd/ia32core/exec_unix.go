//go:build unix

package main

import "github.com/86Box/86Box-sub014/emu/hostexec"

func platformExecAllocator() hostexec.Allocator {
	return hostexec.MmapAllocator{}
}
