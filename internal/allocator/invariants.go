package allocator

import (
	"fmt"
	"unsafe"
)

// Verify walks the heap list, the mapped list, and the free index,
// checking every invariant the allocator is meant to preserve. It is
// exported so callers embedding the allocator can assert on its internal
// consistency without relying on test-only hooks, and so tests can call it
// after every operation in a scenario rather than only at the end.
func (h *Heap) Verify() error {
	if err := h.verifyHeapList(); err != nil {
		return err
	}

	if err := h.verifyMappedList(); err != nil {
		return err
	}

	return h.verifyFreeIndex()
}

func (h *Heap) verifyHeapList() error {
	var prev *blockHeader

	freeRun := false
	indexed := 0

	for b := h.head; b != nil; b = b.next {
		if b.isMapped {
			return fmt.Errorf("allocator: heap list block %p marked mapped", b)
		}

		if b.size == 0 {
			return fmt.Errorf("allocator: heap block %p has zero size", b)
		}

		if b.size >= largeThreshold {
			return fmt.Errorf("allocator: heap block %p size %d meets large threshold", b, b.size)
		}

		if b.prev != prev {
			return fmt.Errorf("allocator: heap block %p has inconsistent prev link", b)
		}

		if prev != nil {
			wantAddr := uintptr(unsafe.Pointer(prev)) + headerSize + prev.size
			if uintptr(unsafe.Pointer(b)) != wantAddr {
				return fmt.Errorf("allocator: heap block %p not contiguous with predecessor", b)
			}
		}

		if b.isFree {
			if freeRun {
				return fmt.Errorf("allocator: adjacent free heap blocks at %p", b)
			}

			freeRun = true

			if !h.free.contains(b) {
				return fmt.Errorf("allocator: free heap block %p missing from free index", b)
			}

			indexed++
		} else {
			freeRun = false
		}

		if b.next == nil && b != h.tail {
			return fmt.Errorf("allocator: heap list end %p is not the recorded tail", b)
		}

		prev = b
	}

	if h.tail != nil && h.tail.next != nil {
		return fmt.Errorf("allocator: tail %p has a successor", h.tail)
	}

	if indexed != h.free.count {
		return fmt.Errorf("allocator: free index count %d does not match %d free heap blocks", h.free.count, indexed)
	}

	return nil
}

func (h *Heap) verifyMappedList() error {
	var prev *blockHeader

	for b := h.mappedHead; b != nil; b = b.next {
		if !b.isMapped {
			return fmt.Errorf("allocator: mapped list block %p not marked mapped", b)
		}

		if b.isFree {
			return fmt.Errorf("allocator: mapped block %p marked free", b)
		}

		if b.size < largeThreshold {
			return fmt.Errorf("allocator: mapped block %p size %d below large threshold", b, b.size)
		}

		if b.prev != prev {
			return fmt.Errorf("allocator: mapped block %p has inconsistent prev link", b)
		}

		prev = b
	}

	return nil
}

func (h *Heap) verifyFreeIndex() error {
	for bucket, head := range h.free.buckets {
		var prev *blockHeader

		for cur := head; cur != nil; cur = cur.nextFree {
			if !cur.isFree {
				return fmt.Errorf("allocator: free index bucket %d holds non-free block %p", bucket, cur)
			}

			if bucketFor(cur.size) != bucket {
				return fmt.Errorf("allocator: block %p indexed in wrong bucket %d", cur, bucket)
			}

			if cur.prevFree != prev {
				return fmt.Errorf("allocator: free block %p has inconsistent prevFree link", cur)
			}

			if prev != nil && prev.size > cur.size {
				return fmt.Errorf("allocator: free index bucket %d out of order at %p", bucket, cur)
			}

			prev = cur
		}
	}

	return nil
}
