/*
 * ia32core - Core recompiler/FPU execution loop.
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

// Package core binds the guest-state, block-cache, timing and FPU
// packages into the one context object every outer driver (the CLI,
// the debug console, the inspector TUI) talks to. Unlike the teacher's
// goroutine/channel-driven core.core (one core per device, fed by a
// master-packet channel), this Core's Run loop is strictly
// single-threaded: spec.md section 5 requires the recompiler and FPU
// core never run concurrently with the code they emit, since both
// read and write the same CodeBlock/CpuState memory without locking.
package core

import (
	"log/slog"

	"github.com/86Box/86Box-sub014/emu/accumulate"
	"github.com/86Box/86Box-sub014/emu/blockcache"
	"github.com/86Box/86Box-sub014/emu/cpustate"
	"github.com/86Box/86Box-sub014/emu/dispatch"
	"github.com/86Box/86Box-sub014/emu/fpu"
	"github.com/86Box/86Box-sub014/emu/hostexec"
	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/86Box/86Box-sub014/emu/regalloc"
	"github.com/86Box/86Box-sub014/emu/timing"
)

// defaultAllocator builds the host register pool for the amd64
// concrete emitter: guest mirrors live in the extended register set
// (R8..R13), keeping the legacy registers free for the fast-path
// scratch conventions and the calling convention, the same split the
// original's host_reg mapping uses.
func defaultAllocator() *regalloc.Allocator {
	pool := []regalloc.HostHandle{
		{Index: 0, Extended: true}, {Index: 1, Extended: true},
		{Index: 2, Extended: true}, {Index: 3, Extended: true},
		{Index: 4, Extended: true}, {Index: 5, Extended: true},
	}
	return regalloc.NewAllocator(pool)
}

// defaultAccumulator wires the cycles/instruction counters to the true
// emitted-code displacements of State.Cycles and State.Ins from the
// block's cpu_state base register (spec.md section 4.5).
func defaultAccumulator() *accumulate.Accumulator {
	dest := [accumulate.RegCount]accumulate.Dest{
		accumulate.RegCycles: {Disp: dispatch.CyclesDisp()},
		accumulate.RegIns:    {Disp: dispatch.InsDisp()},
	}
	return accumulate.NewAccumulator(dest, nil)
}

// Core owns every piece of per-guest-CPU state: its registers and FPU
// stack, its translation cache, the active timing backend, and the
// executable-memory region backing emitted blocks.
type Core struct {
	State *cpustate.State
	FPU   *fpu.Core
	Mem   memory.Memory
	Cache *blockcache.Cache
	Timer *timing.Registry
	Disp  *dispatch.Dispatcher
	Gen   *dispatch.Codegen

	// Protected mirrors the guest's CR0.PE bit for the purposes this
	// core cares about: selecting the FSAVE/FSTENV environment layout
	// (spec.md section 4.9's (PE, op_size) table).
	Protected bool

	exec      hostexec.Allocator
	execRegn  *hostexec.Region
	running   bool
	haltAfter int // remaining blocks to execute; <0 means unbounded
}

// New constructs a Core over a guest-memory backend, with cacheSize
// entries in the translation ring and an executable-memory allocator
// selected by the caller (hostexec.PortableAllocator on unsupported
// hosts, hostexec.MmapAllocator/VirtualAllocator otherwise).
func New(mem memory.Memory, cacheSize int, exec hostexec.Allocator) *Core {
	s := cpustate.New()
	pages := mem.Pages()
	cache := blockcache.NewCache(cacheSize, pages, nil)

	alloc := defaultAllocator()
	accum := defaultAccumulator()

	d := dispatch.NewDispatcher(s, mem, cache, alloc, accum)
	dispatch.RegisterStandard(d)
	dispatch.RegisterALU(d)

	c := &Core{
		State:     s,
		FPU:       fpu.New(s),
		Mem:       mem,
		Cache:     cache,
		Timer:     timing.Standard(),
		Disp:      d,
		Gen:       dispatch.NewCodegen(d, dispatch.HostHooks{}, true, true),
		exec:      exec,
		haltAfter: -1,
	}
	c.FPU.Reset()
	c.registerFPUOps()

	if b, fpuTable, ok := c.Timer.Select("pentium"); ok {
		d.SetTiming(b, fpuTable)
	}
	return c
}

// SetCPU rebinds the active timing backend by name (spec.md section
// 4.10's runtime CPU-type switch).
func (c *Core) SetCPU(name string) bool {
	b, fpuTable, ok := c.Timer.Select(name)
	if !ok {
		return false
	}
	c.Disp.SetTiming(b, fpuTable)
	return true
}

// AllocExecRegion reserves size bytes of host-executable memory for
// emitted code, via the Core's configured hostexec.Allocator.
func (c *Core) AllocExecRegion(size int) error {
	r, err := c.exec.AllocExec(size)
	if err != nil {
		return err
	}
	c.execRegn = r
	return nil
}

// Close releases the executable-memory region, if one was allocated.
func (c *Core) Close() error {
	if c.execRegn == nil {
		return nil
	}
	err := c.exec.FreeExec(c.execRegn)
	c.execRegn = nil
	return err
}

// Run executes up to maxBlocks translated blocks (or forever if
// maxBlocks < 0), stopping early if Stop is called or the guest state
// carries a pending abort code the caller hasn't cleared. Each
// iteration looks up (and lazily builds) the block at the current
// PC/CS, hands it to runBlock, and checks for self-modifying-code
// invalidation via blockcache.Cache.CheckFlush before moving on, per
// spec.md section 4.7.
func (c *Core) Run(maxBlocks int) {
	c.running = true
	c.haltAfter = maxBlocks
	for c.running {
		if c.haltAfter == 0 {
			break
		}
		if c.haltAfter > 0 {
			c.haltAfter--
		}
		if c.State.Abrt != 0 {
			slog.Debug("core: halting on pending abort", slog.Int("code", int(c.State.Abrt)))
			break
		}

		phys, abrt := c.Mem.TranslateReal32(c.State.PC, false)
		if abrt != memory.AbortNone {
			c.State.PushAbort(uint16(abrt))
			break
		}
		ref, ok := c.Cache.Lookup(phys, c.State.SegCS.Base)
		if !ok {
			blk, err := c.Gen.BuildBlock(phys, c.State.SegCS.Base, c.State.PC)
			if err != nil {
				slog.Warn("core: block translation failed", slog.Any("err", err))
				break
			}
			c.runBlock(blk)
			continue
		}
		blk := c.Cache.Block(ref)
		c.runBlock(blk)
	}
	c.running = false
}

// Stop requests that Run return after the block currently executing
// finishes.
func (c *Core) Stop() {
	c.running = false
}

// runBlock is the per-block dispatch step: check for SMC invalidation
// on the page(s) the block occupies, then "execute" it. The actual
// host-code invocation is platform-specific (a function-pointer call
// into c.execRegn) and is intentionally left to the integrating
// driver; runBlock's contract is the bookkeeping spec.md section 4.7
// requires around that call, not the call itself.
func (c *Core) runBlock(blk *blockcache.CodeBlock) {
	quad := int((blk.Phys >> memory.SubPageShift) & (memory.SubPages - 1))
	ppn := blk.Phys >> memory.PageShift
	c.Cache.CheckFlush(ppn, quad)

	if blk.HasPhys2 {
		quad2 := int((blk.Phys2 >> memory.SubPageShift) & (memory.SubPages - 1))
		ppn2 := blk.Phys2 >> memory.PageShift
		c.Cache.CheckFlush(ppn2, quad2)
	}
}
