//go:build !unix && !windows

package main

import "github.com/86Box/86Box-sub014/emu/hostexec"

func platformExecAllocator() hostexec.Allocator {
	return nil
}
