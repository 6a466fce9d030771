package allocator

import "unsafe"

// split carves b down to exactly requested payload bytes, turning the
// leftover into a new free block immediately after b in the heap list, but
// only when the leftover is large enough to be worth the header overhead
// of a standalone block. Otherwise b keeps its full size and the caller
// observes a small over-allocation. A new remainder is coalesced with a
// free right neighbour, so no two free blocks end up adjacent.
func (h *Heap) split(b *blockHeader, requested uintptr) {
	leftover := b.size - requested
	if leftover < headerSize+minSplitPayload {
		return
	}

	remainderAddr := uintptr(payloadOf(b)) + requested
	remainder := (*blockHeader)(unsafe.Pointer(remainderAddr))
	remainder.size = leftover - headerSize
	remainder.isFree = true
	remainder.isMapped = false
	remainder.next = b.next
	remainder.prev = b

	if b.next != nil {
		b.next.prev = remainder
	}

	b.next = remainder
	if b == h.tail {
		h.tail = remainder
	}

	b.size = requested

	h.free.insert(remainder)
	h.coalesce(remainder)
}

// coalesce merges b, which the caller has just marked free and inserted
// into the free index, with any physically adjacent free neighbours. At
// most one merge to the right and one to the left ever fires, since no two
// adjacent blocks are ever both free outside of this function's own
// execution.
func (h *Heap) coalesce(b *blockHeader) {
	if b.next != nil && b.next.isFree {
		right := b.next
		h.free.remove(right)
		h.free.remove(b)

		b.size += headerSize + right.size
		b.next = right.next
		if right.next != nil {
			right.next.prev = b
		}

		if right == h.tail {
			h.tail = b
		}

		h.free.insert(b)
	}

	if b.prev != nil && b.prev.isFree {
		left := b.prev
		h.free.remove(left)
		h.free.remove(b)

		left.size += headerSize + b.size
		left.next = b.next
		if b.next != nil {
			b.next.prev = left
		}

		if b == h.tail {
			h.tail = left
		}

		h.free.insert(left)
	}
}

// growFresh extends the break by exactly enough for one new header plus
// size bytes and appends the resulting block to the tail of the heap list.
func (h *Heap) growFresh(size uintptr) unsafe.Pointer {
	base, ok := h.mem.sbrk(headerSize + size)
	if !ok {
		return nil
	}

	hdr := (*blockHeader)(unsafe.Pointer(base))
	hdr.size = size
	hdr.isFree = false
	hdr.isMapped = false

	h.appendHeap(hdr)

	return payloadOf(hdr)
}

// appendHeap links hdr as the new tail of the heap list.
func (h *Heap) appendHeap(hdr *blockHeader) {
	hdr.prev = h.tail
	hdr.next = nil

	if h.tail != nil {
		h.tail.next = hdr
	} else {
		h.head = hdr
	}

	h.tail = hdr
}

// enlargeWilderness grows the topmost block in place when it is free but
// too small to satisfy size, the one block the allocator is ever willing
// to extend rather than replace. It returns nil when the tail is absent,
// not free, or already big enough (the caller is expected to have tried
// findFit first in that last case).
func (h *Heap) enlargeWilderness(size uintptr) unsafe.Pointer {
	if h.tail == nil || !h.tail.isFree || h.tail.size >= size {
		return nil
	}

	delta := size - h.tail.size
	if _, ok := h.mem.sbrk(delta); !ok {
		return nil
	}

	h.free.remove(h.tail)
	h.tail.size = size
	h.tail.isFree = false

	return payloadOf(h.tail)
}

// allocateMapped serves a large request with its own anonymous mapping,
// appended to the mapped list and never indexed, split, or coalesced.
func (h *Heap) allocateMapped(size uintptr) unsafe.Pointer {
	base, ok := h.mem.mmapAnon(headerSize + size)
	if !ok {
		return nil
	}

	hdr := (*blockHeader)(unsafe.Pointer(base))
	hdr.size = size
	hdr.isFree = false
	hdr.isMapped = true
	hdr.prev = nil
	hdr.next = nil

	if h.mappedHead == nil {
		h.mappedHead = hdr
	} else {
		last := h.mappedHead
		for last.next != nil {
			last = last.next
		}

		hdr.prev = last
		last.next = hdr
	}

	p := payloadOf(hdr)
	h.mappedActive[uintptr(p)] = true

	return p
}

// releaseMapped unlinks and destroys the mapping backing p. p is known to
// be a live mapped address by the time this is called.
func (h *Heap) releaseMapped(p unsafe.Pointer) {
	hdr := headerOf(p)

	if hdr.prev != nil {
		hdr.prev.next = hdr.next
	} else {
		h.mappedHead = hdr.next
	}

	if hdr.next != nil {
		hdr.next.prev = hdr.prev
	}

	h.mem.munmapAnon(uintptr(unsafe.Pointer(hdr)), headerSize+hdr.size)
	h.mappedActive[uintptr(p)] = false
}

// resizeMapped relocates a live mapped allocation to a fresh allocation of
// size bytes, preserving the lesser of the old and new sizes worth of
// content. The new allocation may itself land on either path depending on
// size.
func (h *Heap) resizeMapped(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	old := headerOf(p)
	if size == old.size {
		return p
	}

	newP := h.Allocate(size)
	if newP == nil {
		return nil
	}

	moveOverlap(newP, p, min(old.size, size))
	h.Release(p)

	return newP
}

// resizeToMapped relocates a heap block to the mapped path because the
// new size crossed largeThreshold.
func (h *Heap) resizeToMapped(b *blockHeader, size uintptr) unsafe.Pointer {
	oldSize := b.size
	p := payloadOf(b)

	newP := h.allocateMapped(size)
	if newP == nil {
		return nil
	}

	moveOverlap(newP, p, min(oldSize, size))
	h.Release(p)

	return newP
}

// resizeGrow satisfies a larger in-heap request, preferring to extend b in
// place before ever relocating it. The order mirrors the priority given to
// each neighbour: a free left neighbour alone, then a free right neighbour
// alone, then both together, then extending the break if b is the
// wilderness block, and only as a last resort a fresh allocation.
func (h *Heap) resizeGrow(b *blockHeader, size uintptr) unsafe.Pointer {
	switch {
	case canMergeLeft(b, size):
		return h.mergeLeft(b, size)
	case canMergeRight(b, size):
		h.mergeRight(b)
		h.split(b, size)

		return payloadOf(b)
	case canMergeBoth(b, size):
		return h.mergeBoth(b, size)
	}

	if b == h.tail {
		if h.growTail(b, size) {
			return payloadOf(b)
		}
	}

	return h.relocate(b, size)
}

func canMergeLeft(b *blockHeader, size uintptr) bool {
	return b.prev != nil && b.prev.isFree && b.prev.size+headerSize+b.size >= size
}

func canMergeRight(b *blockHeader, size uintptr) bool {
	return b.next != nil && b.next.isFree && b.size+headerSize+b.next.size >= size
}

func canMergeBoth(b *blockHeader, size uintptr) bool {
	return b.prev != nil && b.prev.isFree && b.next != nil && b.next.isFree &&
		b.prev.size+headerSize+b.size+headerSize+b.next.size >= size
}

// mergeRight absorbs b's free right neighbour into b in place. Only the
// neighbour is removed from the free index; b is allocated and was never
// indexed.
func (h *Heap) mergeRight(b *blockHeader) {
	right := b.next
	h.free.remove(right)

	b.size += headerSize + right.size
	b.next = right.next
	if right.next != nil {
		right.next.prev = b
	}

	if right == h.tail {
		h.tail = b
	}
}

// mergeLeft absorbs b entirely into its free left neighbour, which becomes
// the surviving header; the payload has to move leftward into its new
// position since the surviving header starts at a lower address than b's
// did. It returns the resulting payload address after trimming any excess
// back out via split.
func (h *Heap) mergeLeft(b *blockHeader, size uintptr) unsafe.Pointer {
	prev := b.prev
	used := b.size
	oldPayload := payloadOf(b)

	h.free.remove(prev)
	prev.isFree = false

	prev.size += headerSize + b.size
	prev.next = b.next
	if b.next != nil {
		b.next.prev = prev
	}

	if b == h.tail {
		h.tail = prev
	}

	moveOverlap(payloadOf(prev), oldPayload, used)
	h.split(prev, size)

	return payloadOf(prev)
}

// mergeBoth absorbs b and both of its free neighbours into the left
// neighbour, which becomes the surviving header, moving the payload
// leftward the same way mergeLeft does.
func (h *Heap) mergeBoth(b *blockHeader, size uintptr) unsafe.Pointer {
	prev := b.prev
	next := b.next
	used := b.size
	oldPayload := payloadOf(b)

	h.free.remove(prev)
	h.free.remove(next)
	prev.isFree = false

	prev.size += headerSize + b.size + headerSize + next.size
	prev.next = next.next
	if next.next != nil {
		next.next.prev = prev
	}

	if next == h.tail {
		h.tail = prev
	}

	moveOverlap(payloadOf(prev), oldPayload, used)
	h.split(prev, size)

	return payloadOf(prev)
}

// growTail extends the break to grow b, the wilderness block, to size
// bytes in place.
func (h *Heap) growTail(b *blockHeader, size uintptr) bool {
	delta := size - b.size
	if _, ok := h.mem.sbrk(delta); !ok {
		return false
	}

	b.size = size

	return true
}

// relocate is the fallback for a grow that cannot happen in place: a fresh
// allocation, a copy of the overlapping prefix, and a release of the old
// block.
func (h *Heap) relocate(b *blockHeader, size uintptr) unsafe.Pointer {
	old := payloadOf(b)

	newP := h.Allocate(size)
	if newP == nil {
		return nil
	}

	moveOverlap(newP, old, min(b.size, size))
	h.Release(old)

	return newP
}
