/*
 * ia32core - Per-page binary search tree over (phys,cs) identity.
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

// This BST is deliberately a fresh, textbook unbalanced-BST
// implementation rather than a port of the original C's in-place
// deletion, per spec.md section 9's explicit flag: the source's
// two-child deletion case leaves a dangling successor-right-child link
// in one sub-branch, and re-implementations are told to derive the
// structure fresh rather than carry that bug forward.
//
// Blocks that collide on the hash guess (same physical page, different
// CS or mode status) are disambiguated by walking this tree, so a
// correct delete matters for cache correctness, not just for avoiding a
// leak: a dangling node would make codeblock_tree_find occasionally
// return a stale or wrong block.

func (c *Cache) bstFind(root Ref, phys, cs uint32) (Ref, bool) {
	key := uint64(phys)<<32 | uint64(cs)
	cur := root
	for cur != NoRef {
		b := c.blocks[cur]
		bKey := b.Identity64()
		switch {
		case key == bKey:
			if b.Valid {
				return cur, true
			}
			return NoRef, false
		case key < bKey:
			cur = b.left
		default:
			cur = b.right
		}
	}
	return NoRef, false
}

func (c *Cache) bstInsert(pg *pageIndex, ref Ref) {
	b := c.blocks[ref]
	key := b.Identity64()

	if pg.head == NoRef {
		pg.head = ref
		b.parent, b.left, b.right = NoRef, NoRef, NoRef
		return
	}

	cur := pg.head
	for {
		cb := c.blocks[cur]
		cKey := cb.Identity64()
		if key < cKey {
			if cb.left == NoRef {
				cb.left = ref
				b.parent = cur
				b.left, b.right = NoRef, NoRef
				return
			}
			cur = cb.left
		} else {
			if cb.right == NoRef {
				cb.right = ref
				b.parent = cur
				b.left, b.right = NoRef, NoRef
				return
			}
			cur = cb.right
		}
	}
}

// replaceChild rewires n's parent (or pg.head if n was the root) to
// point at repl instead.
func (c *Cache) replaceChild(pg *pageIndex, n, repl Ref) {
	b := c.blocks[n]
	if b.parent == NoRef {
		pg.head = repl
	} else {
		p := c.blocks[b.parent]
		if p.left == n {
			p.left = repl
		} else {
			p.right = repl
		}
	}
	if repl != NoRef {
		c.blocks[repl].parent = b.parent
	}
}

// bstDelete removes ref from pg's tree, handling all three textbook
// cases: leaf, one child, and two children via in-order-successor
// promotion (the successor is spliced out of its original location and
// its right subtree is re-hooked to the successor's old parent — the
// step the ported-from-C version was flagged as dropping).
func (c *Cache) bstDelete(pg *pageIndex, ref Ref) {
	b := c.blocks[ref]

	switch {
	case b.left == NoRef && b.right == NoRef:
		// Leaf.
		c.replaceChild(pg, ref, NoRef)

	case b.left == NoRef:
		c.replaceChild(pg, ref, b.right)

	case b.right == NoRef:
		c.replaceChild(pg, ref, b.left)

	default:
		// Two children: find the in-order successor (leftmost node of
		// the right subtree).
		succ := b.right
		for c.blocks[succ].left != NoRef {
			succ = c.blocks[succ].left
		}
		sb := c.blocks[succ]

		if sb.parent != ref {
			// Successor is not b's direct right child: splice it out
			// of its current spot first, re-hooking its right child
			// (it has no left child by construction) to its parent.
			c.replaceChild(pg, succ, sb.right)
			sb.right = b.right
			c.blocks[b.right].parent = succ
		}
		// Successor becomes the new subtree root in ref's place.
		c.replaceChild(pg, ref, succ)
		sb.left = b.left
		if b.left != NoRef {
			c.blocks[b.left].parent = succ
		}
	}

	b.parent, b.left, b.right = NoRef, NoRef, NoRef
}
