package blockcache

import (
	"testing"

	"github.com/86Box/86Box-sub014/emu/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildBlock(c *Cache, phys, cs uint32, pageMask uint64) Ref {
	ref := c.Allocate()
	b := c.Block(ref)
	b.Phys = phys
	b.CS = cs
	b.PageMask = pageMask
	c.Publish(ref)
	return ref
}

func TestLookupHitsHashFirstThenBST(t *testing.T) {
	pages := memory.NewPages()
	c := NewCache(16, pages, nil)

	r1 := buildBlock(c, 0x1000, 1, 1)
	ref, ok := c.Lookup(0x1000, 1)
	require.True(t, ok)
	assert.Equal(t, r1, ref)

	// Same phys, different cs: hash guess misses (different CS), BST
	// must disambiguate.
	r2 := buildBlock(c, 0x1000, 2, 1)
	ref, ok = c.Lookup(0x1000, 2)
	require.True(t, ok)
	assert.Equal(t, r2, ref)

	// Original (phys,cs) must still resolve via the BST even though the
	// hash slot now points at r2.
	ref, ok = c.Lookup(0x1000, 1)
	require.True(t, ok)
	assert.Equal(t, r1, ref)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	c := NewCache(4, memory.NewPages(), nil)
	_, ok := c.Lookup(0xdead, 0)
	assert.False(t, ok)
}

func TestRingWraparoundEvictsPreviousTenant(t *testing.T) {
	var evicted []uint32
	c := NewCache(2, memory.NewPages(), func(b *CodeBlock) {
		evicted = append(evicted, b.Phys)
	})

	buildBlock(c, 0x1000, 0, 1)
	buildBlock(c, 0x2000, 0, 1)
	assert.Empty(t, evicted)

	buildBlock(c, 0x3000, 0, 1) // wraps onto slot 0, evicting phys=0x1000
	assert.Equal(t, []uint32{0x1000}, evicted)

	_, ok := c.Lookup(0x1000, 0)
	assert.False(t, ok, "evicted block must no longer be reachable")
}

func TestCheckFlushEvictsOverlappingBlockAndClearsConsistently(t *testing.T) {
	// Scenario E: block spans 0x1200..0x1280 inside page 0x1000, two
	// 64-byte cells. Cells are numbered within the page, so these are
	// cells 8 and 9; the block starts in quadrant 0 (0x1200>>10 & 3 == 0).
	pages := memory.NewPages()
	var evicted []uint32
	c := NewCache(4, pages, func(b *CodeBlock) { evicted = append(evicted, b.Phys) })

	ref := c.Allocate()
	b := c.Block(ref)
	b.Phys = 0x1200
	quad := quadrantOf(0x1200)
	b.PageMask = 0b11 << 8 // cells 8 and 9 (0x1200..0x127F)
	c.Publish(ref)
	require.Equal(t, quad, b.Quadrant)

	// Simulate a write to 0x1240: sets the dirty bit for cell 9.
	pages.MarkDirty(0x1240)

	c.CheckFlush(0x1200>>memory.PageShift, quad)

	assert.Equal(t, []uint32{0x1200}, evicted)
	_, ok := c.Lookup(0x1200, 0)
	assert.False(t, ok)

	rec := pages.Page(0x1200 >> memory.PageShift)
	assert.Equal(t, uint64(0), rec.DirtyMask[quad], "serviced dirty bits must clear")
}

func TestCheckFlushNoOpWhenMasksDisjoint(t *testing.T) {
	pages := memory.NewPages()
	var evicted []uint32
	c := NewCache(4, pages, func(b *CodeBlock) { evicted = append(evicted, b.Phys) })

	ref := c.Allocate()
	b := c.Block(ref)
	b.Phys = 0x1000
	b.PageMask = 1 << 5 // only cell 5
	quad := quadrantOf(0x1000)
	c.Publish(ref)

	// Dirty a different cell (bit 10) in the same quadrant.
	rec := pages.Page(0x1000 >> memory.PageShift)
	rec.DirtyMask[quad] = 1 << 10

	c.CheckFlush(0x1000>>memory.PageShift, quad)

	assert.Empty(t, evicted, "disjoint masks must not evict")
	_, ok := c.Lookup(0x1000, 0)
	assert.True(t, ok)
}

func TestFlushTearsDownEveryBlockAndLeavesRingConsistent(t *testing.T) {
	c := NewCache(8, memory.NewPages(), nil)
	buildBlock(c, 0x1000, 0, 1)
	buildBlock(c, 0x2000, 0, 1)
	buildBlock(c, 0x1000, 1, 1) // same page, different CS -> BST collision

	c.Flush()

	assert.Equal(t, 0, c.Occupancy())
	for _, phys := range []uint32{0x1000, 0x2000} {
		_, ok := c.Lookup(phys, 0)
		assert.False(t, ok)
	}
}

func TestBSTDeleteTwoChildrenNonDirectSuccessor(t *testing.T) {
	// Force a shape where the in-order successor of the deleted node is
	// not its direct right child, exercising the re-hook path the
	// original C was flagged as getting wrong.
	c := NewCache(16, memory.NewPages(), nil)

	// All share one physical page so they land in the same BST.
	keys := []uint32{50, 20, 80, 10, 30, 70, 90, 60, 65}
	refs := make(map[uint32]Ref)
	for _, k := range keys {
		refs[k] = buildBlock(c, 0x4000, k, 1)
	}

	// Delete 50 (root): successor is 60 (leftmost of right subtree
	// rooted at 80 -> 70 -> 60), not 80's direct child.
	c.Remove(refs[50])

	for _, k := range keys {
		if k == 50 {
			continue
		}
		ref, ok := c.Lookup(0x4000, k)
		require.True(t, ok, "key %d must still be reachable after deleting 50", k)
		assert.Equal(t, refs[k], ref)
	}
	_, ok := c.Lookup(0x4000, 50)
	assert.False(t, ok)
}

func TestPublishAppendsToBothPagesWhenBlockSpans(t *testing.T) {
	c := NewCache(4, memory.NewPages(), nil)
	ref := c.Allocate()
	b := c.Block(ref)
	b.Phys = 0x1f00
	b.PageMask = 1
	b.Phys2 = 0x2000
	b.PageMask2 = 1
	b.HasPhys2 = true
	c.Publish(ref)

	pg1 := c.pageIdx(0x1f00 >> memory.PageShift)
	pg2 := c.pageIdx(0x2000 >> memory.PageShift)
	assert.Equal(t, ref, pg1.block[b.Quadrant])
	assert.Equal(t, ref, pg2.block2[b.Quadrant2])
}
