package allocator

// freeIndex is the segregated free list: numBuckets doubly-linked chains,
// each holding free blocks sorted ascending by size, ties broken by
// insertion order (a later insert with an equal size lands after the
// earlier one).
type freeIndex struct {
	buckets [numBuckets]*blockHeader
	count   int
}

// insert links h into its bucket, keeping the bucket sorted ascending by
// size. h must already have isFree set; insert does not set it.
func (f *freeIndex) insert(h *blockHeader) {
	b := bucketFor(h.size)

	var prev *blockHeader

	cur := f.buckets[b]
	for cur != nil && cur.size <= h.size {
		prev = cur
		cur = cur.nextFree
	}

	h.prevFree = prev
	h.nextFree = cur

	if prev != nil {
		prev.nextFree = h
	} else {
		f.buckets[b] = h
	}

	if cur != nil {
		cur.prevFree = h
	}

	f.count++
}

// remove unlinks h from its bucket. It does not alter h.isFree; callers
// decide the resulting state. h must currently be linked in the index.
func (f *freeIndex) remove(h *blockHeader) {
	b := bucketFor(h.size)

	if h.prevFree != nil {
		h.prevFree.nextFree = h.nextFree
	} else {
		f.buckets[b] = h.nextFree
	}

	if h.nextFree != nil {
		h.nextFree.prevFree = h.prevFree
	}

	h.prevFree = nil
	h.nextFree = nil
	f.count--
}

// findFit returns the smallest free block able to satisfy a payload
// request of size, scanning from size's own bucket upward through
// larger-size buckets, stopping at the first block that fits. It does not
// remove the block from the index.
func (f *freeIndex) findFit(size uintptr) *blockHeader {
	for b := bucketFor(size); b < numBuckets; b++ {
		for cur := f.buckets[b]; cur != nil; cur = cur.nextFree {
			if cur.size >= size {
				return cur
			}
		}
	}

	return nil
}

// contains reports whether h is linked somewhere in the bucket it claims
// to belong to, for use by the invariant checker.
func (f *freeIndex) contains(h *blockHeader) bool {
	b := bucketFor(h.size)
	for cur := f.buckets[b]; cur != nil; cur = cur.nextFree {
		if cur == h {
			return true
		}
	}

	return false
}
