/*
 * ia32core - Fixed-size block ring, hash table, per-page BST and lists.
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

package blockcache

import "github.com/86Box/86Box-sub014/emu/memory"

const (
	// HashSize is the hash-table capacity (spec.md section 4.6).
	HashSize = 131072
	hashMask = HashSize - 1
)

// pageIndex is the per-physical-page collection of list heads and the
// BST root, matching the "Page record" external contract in spec.md
// section 3 (block[4] indexed by (phys>>10)&3, block_2[4], and one BST
// keyed on (phys,cs)).
type pageIndex struct {
	head       Ref    // BST root for blocks starting in this page
	block      [4]Ref // list heads for blocks starting in this page, by quadrant
	block2     [4]Ref // list heads for blocks straddling into this page
}

// Cache is the block cache: a fixed ring of BlockSize codeblocks plus
// the three coexisting indices spec.md section 4.6 describes (hash
// table, per-page BST, per-page linked lists).
type Cache struct {
	blocks []*CodeBlock
	next   int // next ring slot to (re)allocate from

	hash [HashSize]Ref

	pages map[uint32]*pageIndex

	// pageRecords is the external page-record table (spec.md section 3)
	// that SMC dirty bits live in; the cache consults it on block entry
	// and the memory subsystem mutates it on guest stores.
	pageRecords *memory.Pages

	onEvict func(b *CodeBlock)
}

// NewCache constructs a ring of the given size. pageRecords is the
// shared per-page dirty/code-present-mask table (emu/memory.Pages);
// onEvict, if non-nil, is invoked whenever a block is torn down (ring
// pressure, SMC, or reset), so callers (e.g. a debug logger) can observe
// cache churn without the cache itself depending on a logger.
func NewCache(size int, pageRecords *memory.Pages, onEvict func(b *CodeBlock)) *Cache {
	c := &Cache{
		blocks:      make([]*CodeBlock, size),
		pages:       make(map[uint32]*pageIndex),
		pageRecords: pageRecords,
		onEvict:     onEvict,
	}
	for i := range c.hash {
		c.hash[i] = NoRef
	}
	for i := range c.blocks {
		c.blocks[i] = newCodeBlock()
	}
	return c
}

func hashOf(phys uint32) uint32 {
	return phys & hashMask
}

func (c *Cache) block(r Ref) *CodeBlock {
	if r == NoRef {
		return nil
	}
	return c.blocks[r]
}

func (c *Cache) pageIdx(ppn uint32) *pageIndex {
	p, ok := c.pages[ppn]
	if !ok {
		p = &pageIndex{head: NoRef, block: [4]Ref{NoRef, NoRef, NoRef, NoRef}, block2: [4]Ref{NoRef, NoRef, NoRef, NoRef}}
		c.pages[ppn] = p
	}
	return p
}

func quadrantOf(phys uint32) int {
	return int((phys >> memory.SubPageShift) & (memory.SubPages - 1))
}

// Allocate hands out the next ring slot for a fresh translation,
// evicting whatever block currently occupies it first. This matches
// spec.md section 3's ring lifecycle: "On wraparound the previous
// tenant is deleted (list-unlinked, tree-removed, hash-cleared,
// valid=0)."
func (c *Cache) Allocate() Ref {
	idx := c.next
	c.next = (c.next + 1) % len(c.blocks)

	r := Ref(idx)
	old := c.blocks[r]
	if old.Valid {
		c.remove(r)
	}
	old.reset()
	return r
}

// Block returns the codeblock at ref for the caller to populate (PC,
// CS, page masks, ...) before calling Publish.
func (c *Cache) Block(ref Ref) *CodeBlock {
	return c.blocks[ref]
}

// Publish makes a freshly-built block live: appends it to the relevant
// page lists, inserts it into the per-page BST, and installs it as the
// hash table's guess for its physical address. This is block_end's
// cache-side responsibility (spec.md section 3: "A block becomes live
// after block_end appends it to page lists and computes page masks").
func (c *Cache) Publish(ref Ref) {
	b := c.blocks[ref]
	b.Valid = true

	ppn := b.Phys >> memory.PageShift
	pg := c.pageIdx(ppn)
	b.Quadrant = quadrantOf(b.Phys)
	c.listPush(&pg.block[b.Quadrant], ref, false)
	if rp := c.pageRecords; rp != nil {
		rp.Page(ppn).CodePresentMask[b.Quadrant] |= b.PageMask
	}

	c.bstInsert(pg, ref)

	if b.HasPhys2 {
		ppn2 := b.Phys2 >> memory.PageShift
		pg2 := c.pageIdx(ppn2)
		b.Quadrant2 = quadrantOf(b.Phys2)
		c.listPush(&pg2.block2[b.Quadrant2], ref, true)
		if rp := c.pageRecords; rp != nil {
			rp.Page(ppn2).CodePresentMask[b.Quadrant2] |= b.PageMask2
		}
	}

	c.hash[hashOf(b.Phys)] = ref
}

// listPush inserts ref at the head of the doubly-linked list rooted at
// *head, using the primary (prev/next) or secondary (prev2/next2) link
// pair depending on secondary.
func (c *Cache) listPush(head *Ref, ref Ref, secondary bool) {
	b := c.blocks[ref]
	if secondary {
		b.next2 = *head
		b.prev2 = NoRef
		if *head != NoRef {
			c.blocks[*head].prev2 = ref
		}
	} else {
		b.next = *head
		b.prev = NoRef
		if *head != NoRef {
			c.blocks[*head].prev = ref
		}
	}
	*head = ref
}

func (c *Cache) listUnlink(head *Ref, ref Ref, secondary bool) {
	b := c.blocks[ref]
	var prev, next Ref
	if secondary {
		prev, next = b.prev2, b.next2
	} else {
		prev, next = b.prev, b.next
	}
	if prev != NoRef {
		if secondary {
			c.blocks[prev].next2 = next
		} else {
			c.blocks[prev].next = next
		}
	} else {
		*head = next
	}
	if next != NoRef {
		if secondary {
			c.blocks[next].prev2 = prev
		} else {
			c.blocks[next].prev = prev
		}
	}
	if secondary {
		b.prev2, b.next2 = NoRef, NoRef
	} else {
		b.prev, b.next = NoRef, NoRef
	}
}

// Lookup implements codeblock_tree_find: the hash-table guess first,
// falling back to a BST walk if the guess misses or belongs to a
// different (phys,cs) (spec.md sections 4.6, 6).
func (c *Cache) Lookup(phys, cs uint32) (Ref, bool) {
	if r := c.hash[hashOf(phys)]; r != NoRef {
		b := c.blocks[r]
		if b.Valid && b.Phys == phys && b.CS == cs {
			return r, true
		}
	}
	ppn := phys >> memory.PageShift
	pg, ok := c.pages[ppn]
	if !ok {
		return NoRef, false
	}
	return c.bstFind(pg.head, phys, cs)
}

// remove tears a block out of every index that references it: the
// per-page lists (both page 1 and, if spanned, page 2), the BST, and
// the hash table if it currently points at this block. This is the
// shared teardown path for ring eviction, SMC eviction, and reset.
func (c *Cache) remove(ref Ref) {
	b := c.blocks[ref]
	if !b.Valid {
		return
	}

	ppn := b.Phys >> memory.PageShift
	if pg, ok := c.pages[ppn]; ok {
		c.listUnlink(&pg.block[b.Quadrant], ref, false)
		c.bstDelete(pg, ref)
	}
	if b.HasPhys2 {
		ppn2 := b.Phys2 >> memory.PageShift
		if pg2, ok := c.pages[ppn2]; ok {
			c.listUnlink(&pg2.block2[b.Quadrant2], ref, true)
		}
	}

	if c.hash[hashOf(b.Phys)] == ref {
		c.hash[hashOf(b.Phys)] = NoRef
	}

	b.Valid = false
	if c.onEvict != nil {
		c.onEvict(b)
	}
}

// Remove is the exported form of remove, for codegen_block_remove.
func (c *Cache) Remove(ref Ref) {
	c.remove(ref)
}

// Flush tears down every live block and clears all page indices
// (codegen_flush / codegen_reset, spec.md section 6).
func (c *Cache) Flush() {
	for i := range c.blocks {
		if c.blocks[i].Valid {
			c.remove(Ref(i))
		}
	}
	c.pages = make(map[uint32]*pageIndex)
	for i := range c.hash {
		c.hash[i] = NoRef
	}
	c.next = 0
}

// CheckFlush implements codegen_check_flush (spec.md section 4.7): if
// the page's accumulated dirty mask overlaps the code-present mask for
// quadrant quad, walk every block anchored to that quadrant (both the
// "starts here" and "straddles into here" lists) and evict any whose own
// page mask overlaps the dirty bits, then clear the dirty bits that were
// serviced.
func (c *Cache) CheckFlush(ppn uint32, quad int) {
	if c.pageRecords == nil {
		return
	}
	pg, ok := c.pages[ppn]
	if !ok {
		return
	}
	rec := c.pageRecords.Page(ppn)
	dirty := rec.DirtyMask[quad]
	if dirty == 0 || (rec.CodePresentMask[quad]&dirty) == 0 {
		return
	}

	c.evictOverlapping(&pg.block[quad], dirty, false)
	c.evictOverlapping(&pg.block2[quad], dirty, true)

	rec.DirtyMask[quad] &^= dirty
	rec.CodePresentMask[quad] &^= dirty
}

func (c *Cache) evictOverlapping(head *Ref, dirty uint64, secondary bool) {
	ref := *head
	for ref != NoRef {
		b := c.blocks[ref]
		var next Ref
		if secondary {
			next = b.next2
		} else {
			next = b.next
		}
		mask := b.PageMask
		if secondary {
			mask = b.PageMask2
		}
		if mask&dirty != 0 {
			c.remove(ref)
		}
		ref = next
	}
}

// Occupancy reports how many of the ring's slots currently hold a valid
// block, for the inspector/debug console.
func (c *Cache) Occupancy() int {
	n := 0
	for _, b := range c.blocks {
		if b.Valid {
			n++
		}
	}
	return n
}

// ForEachValid calls fn for every live block in ring order, for the
// debug console's "ring" listing and the inspector TUI's occupancy
// view. fn must not mutate the cache.
func (c *Cache) ForEachValid(fn func(ref Ref, b *CodeBlock)) {
	for i, b := range c.blocks {
		if b.Valid {
			fn(Ref(i), b)
		}
	}
}

// FindByPhys scans the ring for the first valid block whose entry
// physical address matches phys, regardless of code-segment identity.
// Lookup is the fast (phys,cs)-keyed path used by the dispatcher;
// FindByPhys is the slower phys-only convenience the debug console
// uses when an operator names a block by address alone.
func (c *Cache) FindByPhys(phys uint32) (Ref, bool) {
	for i, b := range c.blocks {
		if b.Valid && b.Phys == phys {
			return Ref(i), true
		}
	}
	return NoRef, false
}

// Size reports the ring's total capacity.
func (c *Cache) Size() int {
	return len(c.blocks)
}
