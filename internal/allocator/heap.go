package allocator

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrInvalidSize describes a requested size outside (0, maxRequestSize].
// The Heap operations do not return it: they report every failure as a nil
// pointer.
var ErrInvalidSize = errors.New("allocator: invalid size")

// ErrOutOfMemory describes a request that neither the heap nor the mapped
// path can satisfy. The Heap operations do not return it: they report every
// failure as a nil pointer.
var ErrOutOfMemory = errors.New("allocator: out of memory")

// Heap is a userspace general-purpose allocator over a simulated program
// break plus an independent mapped region for large requests. A zero Heap
// is not usable; construct one with New.
//
// Heap is not safe for concurrent use.
type Heap struct {
	mem osMemory

	head *blockHeader
	tail *blockHeader

	mappedHead *blockHeader

	free freeIndex

	// mappedActive tracks liveness of blocks served by the mapped path,
	// keyed by the payload address. It must be consulted before ever
	// dereferencing a pointer that might have already been munmap'd: a
	// released mapping cannot be safely read back to check an is-free
	// flag the way a heap block's header can.
	mappedActive map[uintptr]bool
}

// New constructs a Heap backed by the real OS memory primitives.
func New() (*Heap, error) {
	mem, err := newUnixMemory()
	if err != nil {
		return nil, fmt.Errorf("allocator: reserve heap arena: %w", err)
	}

	return newHeap(mem), nil
}

// newHeap constructs a Heap over an arbitrary osMemory backend, letting
// tests substitute a fake in place of the real unix mappings.
func newHeap(mem osMemory) *Heap {
	return &Heap{
		mem:          mem,
		mappedActive: make(map[uintptr]bool),
	}
}

// Allocate reserves size bytes and returns a pointer to an uninitialized
// payload of that many bytes, or nil if size is invalid or memory is
// exhausted.
func (h *Heap) Allocate(size uintptr) unsafe.Pointer {
	if !validateSize(size) {
		return nil
	}

	if size >= largeThreshold {
		return h.allocateMapped(size)
	}

	if b := h.free.findFit(size); b != nil {
		h.free.remove(b)
		b.isFree = false
		h.split(b, size)

		return payloadOf(b)
	}

	if h.tail != nil {
		if p := h.enlargeWilderness(size); p != nil {
			return p
		}
	}

	return h.growFresh(size)
}

// ZeroedAllocate reserves space for count elements of size bytes each and
// returns a pointer to a zero-filled payload, or nil on invalid input or
// exhaustion. Overflow of count*size is not guarded against, matching the
// bounds validateSize already applies to the product.
func (h *Heap) ZeroedAllocate(count, size uintptr) unsafe.Pointer {
	total := count * size
	if !validateSize(total) {
		return nil
	}

	p := h.Allocate(total)
	if p == nil {
		return nil
	}

	zeroFill(p, total)

	return p
}

// Resize changes the size of the allocation at p to size bytes, preserving
// the lesser of the old and new sizes worth of payload content, and
// returns a pointer to the resized payload (which may or may not equal p).
// A nil p behaves as Allocate(size); a size of 0 is invalid, matching
// Allocate's own validation.
func (h *Heap) Resize(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return h.Allocate(size)
	}

	if !validateSize(size) {
		return nil
	}

	if live, ok := h.mappedActive[uintptr(p)]; ok {
		if !live {
			return nil
		}

		return h.resizeMapped(p, size)
	}

	b := headerOf(p)
	if size == b.size {
		return p
	}

	if size >= largeThreshold {
		return h.resizeToMapped(b, size)
	}

	if size < b.size {
		h.split(b, size)

		return p
	}

	return h.resizeGrow(b, size)
}

// Release returns the allocation at p to the allocator. Releasing nil, or
// an address already released, is a no-op.
func (h *Heap) Release(p unsafe.Pointer) {
	if p == nil {
		return
	}

	if live, ok := h.mappedActive[uintptr(p)]; ok {
		if !live {
			return
		}

		h.releaseMapped(p)

		return
	}

	b := headerOf(p)
	if b.isFree {
		return
	}

	b.isFree = true
	h.free.insert(b)
	h.coalesce(b)
}

// FreeBlocks returns the number of free blocks currently indexed on the
// heap list. Mapped blocks are never free; they are always either live or
// released entirely.
func (h *Heap) FreeBlocks() int {
	return h.free.count
}

// FreeBytes returns the total payload capacity, in bytes, of all free
// blocks on the heap list.
func (h *Heap) FreeBytes() uintptr {
	var total uintptr

	for b := h.head; b != nil; b = b.next {
		if b.isFree {
			total += b.size
		}
	}

	return total
}

// AllocatedBlocks returns the number of blocks currently tracked, across
// both the heap list and the mapped list, regardless of free state.
func (h *Heap) AllocatedBlocks() int {
	n := 0

	for b := h.head; b != nil; b = b.next {
		n++
	}

	for b := h.mappedHead; b != nil; b = b.next {
		n++
	}

	return n
}

// AllocatedBytes returns the total payload capacity, in bytes, of every
// block currently tracked across both lists, regardless of free state.
func (h *Heap) AllocatedBytes() uintptr {
	var total uintptr

	for b := h.head; b != nil; b = b.next {
		total += b.size
	}

	for b := h.mappedHead; b != nil; b = b.next {
		total += b.size
	}

	return total
}

// HeaderSize returns the constant per-block metadata overhead.
func (h *Heap) HeaderSize() uintptr {
	return headerSize
}

// TotalHeaderBytes returns headerSize times the number of blocks currently
// tracked across both lists, free or allocated.
func (h *Heap) TotalHeaderBytes() uintptr {
	var n uintptr

	for b := h.head; b != nil; b = b.next {
		n++
	}

	for b := h.mappedHead; b != nil; b = b.next {
		n++
	}

	return n * headerSize
}

// HeapStats bundles the bookkeeping queries into a single snapshot.
type HeapStats struct {
	FreeBlocks       int
	FreeBytes        uintptr
	AllocatedBlocks  int
	AllocatedBytes   uintptr
	HeaderSize       uintptr
	TotalHeaderBytes uintptr
}

// Stats returns a snapshot of every bookkeeping query at once.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		FreeBlocks:       h.FreeBlocks(),
		FreeBytes:        h.FreeBytes(),
		AllocatedBlocks:  h.AllocatedBlocks(),
		AllocatedBytes:   h.AllocatedBytes(),
		HeaderSize:       h.HeaderSize(),
		TotalHeaderBytes: h.TotalHeaderBytes(),
	}
}
