package allocator

import (
	"testing"
	"unsafe"
)

const testArenaSize = 8 * 1024 * 1024

func newTestHeap(t *testing.T) *Heap {
	t.Helper()

	return newHeap(newFakeMemory(testArenaSize))
}

func writeBytes(p unsafe.Pointer, n int, fill byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = fill
	}
}

func readBytes(p unsafe.Pointer, n int) []byte {
	b := unsafe.Slice((*byte)(p), n)
	out := make([]byte, n)
	copy(out, b)

	return out
}

func mustVerify(t *testing.T, h *Heap) {
	t.Helper()

	if err := h.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestAllocateInvalidSize(t *testing.T) {
	h := newTestHeap(t)

	if p := h.Allocate(0); p != nil {
		t.Errorf("Allocate(0) = %v, want nil", p)
	}

	if p := h.Allocate(maxRequestSize + 1); p != nil {
		t.Errorf("Allocate(oversize) = %v, want nil", p)
	}
}

func TestAllocateWriteRelease(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(128)
	if p == nil {
		t.Fatal("Allocate returned nil")
	}

	writeBytes(p, 128, 0xAB)
	mustVerify(t, h)

	h.Release(p)
	mustVerify(t, h)

	if got := h.FreeBlocks(); got != 1 {
		t.Errorf("FreeBlocks = %d, want 1", got)
	}
}

func TestReleaseNilIsNoop(t *testing.T) {
	h := newTestHeap(t)
	h.Release(nil)
	mustVerify(t, h)
}

func TestReleaseIdempotent(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(64)
	h.Release(p)

	before := h.Stats()
	h.Release(p)
	after := h.Stats()

	if before != after {
		t.Errorf("double release changed stats: before %+v, after %+v", before, after)
	}

	mustVerify(t, h)
}

func TestZeroedAllocateClearsStaleData(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(64)
	writeBytes(p, 64, 0xFF)
	h.Release(p)

	z := h.ZeroedAllocate(8, 8)
	if z == nil {
		t.Fatal("ZeroedAllocate returned nil")
	}

	for i, b := range readBytes(z, 64) {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	mustVerify(t, h)
}

func TestSplitReusesRemainderAsFreeBlock(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(5000)
	h.Release(p)
	mustVerify(t, h)

	small := h.Allocate(100)
	if small == nil {
		t.Fatal("Allocate(100) returned nil")
	}

	mustVerify(t, h)

	stats := h.Stats()
	if stats.FreeBlocks != 1 {
		t.Errorf("FreeBlocks = %d, want 1 (the split remainder)", stats.FreeBlocks)
	}

	if stats.AllocatedBlocks != 2 {
		t.Errorf("AllocatedBlocks = %d, want 2 (the busy block plus the free remainder)", stats.AllocatedBlocks)
	}
}

func TestCoalesceMergesBothNeighbours(t *testing.T) {
	h := newTestHeap(t)

	a := h.Allocate(100)
	b := h.Allocate(100)
	c := h.Allocate(100)

	h.Release(a)
	mustVerify(t, h)
	h.Release(c)
	mustVerify(t, h)
	h.Release(b)
	mustVerify(t, h)

	if got := h.FreeBlocks(); got != 1 {
		t.Errorf("FreeBlocks = %d, want 1 after releasing three adjacent blocks", got)
	}
}

func TestResizeShrinkPreservesAddressAndPrefix(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(1000)
	writeBytes(p, 1000, 0x11)

	shrunk := h.Resize(p, 100)
	if shrunk != p {
		t.Errorf("Resize shrinking should keep the same address")
	}

	for i, b := range readBytes(shrunk, 100) {
		if b != 0x11 {
			t.Fatalf("byte %d = %x, want 0x11", i, b)
		}
	}

	mustVerify(t, h)
}

func TestResizeGrowWildernessInPlace(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(100)
	writeBytes(p, 100, 0x22)

	grown := h.Resize(p, 500)
	if grown != p {
		t.Errorf("Resize growing the wilderness block should keep the same address")
	}

	for i, b := range readBytes(grown, 100) {
		if b != 0x22 {
			t.Fatalf("byte %d = %x, want 0x22", i, b)
		}
	}

	mustVerify(t, h)
}

func TestResizeGrowRelocatesWhenNotWilderness(t *testing.T) {
	h := newTestHeap(t)

	a := h.Allocate(100)
	writeBytes(a, 100, 0x33)
	_ = h.Allocate(100) // b, keeps a from being the wilderness block

	grown := h.Resize(a, 400)
	if grown == a {
		t.Errorf("Resize growing a non-wilderness block with no free neighbour should relocate")
	}

	for i, b := range readBytes(grown, 100) {
		if b != 0x33 {
			t.Fatalf("byte %d = %x, want 0x33", i, b)
		}
	}

	mustVerify(t, h)
}

func TestResizeGrowMergesLeftNeighbor(t *testing.T) {
	h := newTestHeap(t)

	a := h.Allocate(100)
	b := h.Allocate(100)
	_ = h.Allocate(100) // c, keeps b from being the wilderness block

	h.Release(a)
	mustVerify(t, h)

	writeBytes(b, 100, 0x66)

	grown := h.Resize(b, 100+headerSize+100)
	if grown != a {
		t.Errorf("Resize should merge into the free left neighbour's address")
	}

	for i, v := range readBytes(grown, 100) {
		if v != 0x66 {
			t.Fatalf("byte %d = %x, want 0x66", i, v)
		}
	}

	mustVerify(t, h)
}

func TestResizeGrowMergesBothNeighbors(t *testing.T) {
	h := newTestHeap(t)

	a := h.Allocate(100)
	b := h.Allocate(100)
	c := h.Allocate(100)

	h.Release(a)
	h.Release(c)
	mustVerify(t, h)

	writeBytes(b, 100, 0x77)

	// large enough that neither neighbour alone suffices, but both together do.
	grown := h.Resize(b, 100+headerSize+100+1)
	if grown != a {
		t.Errorf("Resize should merge both neighbours into the left neighbour's address")
	}

	for i, v := range readBytes(grown, 100) {
		if v != 0x77 {
			t.Fatalf("byte %d = %x, want 0x77", i, v)
		}
	}

	mustVerify(t, h)
}

func TestResizeNilActsAsAllocate(t *testing.T) {
	h := newTestHeap(t)

	p := h.Resize(nil, 64)
	if p == nil {
		t.Fatal("Resize(nil, size) returned nil")
	}

	mustVerify(t, h)
}

func TestLargeAllocationUsesMappedPath(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(largeThreshold)
	if p == nil {
		t.Fatal("Allocate(largeThreshold) returned nil")
	}

	if h.FreeBlocks() != 0 || h.head != nil {
		t.Errorf("large allocation should not touch the heap list")
	}

	if h.mappedHead == nil {
		t.Errorf("large allocation should be linked into the mapped list")
	}

	mustVerify(t, h)

	h.Release(p)
	mustVerify(t, h)

	if h.mappedHead != nil {
		t.Errorf("mapped list should be empty after releasing its only block")
	}
}

func TestLargeReleaseIdempotent(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(largeThreshold)
	h.Release(p)
	h.Release(p)
	mustVerify(t, h)
}

func TestResizeMappedRelocates(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(largeThreshold)
	writeBytes(p, 256, 0x44)

	grown := h.Resize(p, largeThreshold*2)
	if grown == nil {
		t.Fatal("Resize on mapped block returned nil")
	}

	for i, b := range readBytes(grown, 256) {
		if b != 0x44 {
			t.Fatalf("byte %d = %x, want 0x44", i, b)
		}
	}

	mustVerify(t, h)
}

func TestResizeCrossesIntoMappedPath(t *testing.T) {
	h := newTestHeap(t)

	p := h.Allocate(100)
	writeBytes(p, 100, 0x55)

	grown := h.Resize(p, largeThreshold)
	if grown == nil {
		t.Fatal("Resize crossing largeThreshold returned nil")
	}

	if _, ok := h.mappedActive[uintptr(grown)]; !ok {
		t.Errorf("resized allocation should now be tracked as mapped")
	}

	for i, b := range readBytes(grown, 100) {
		if b != 0x55 {
			t.Fatalf("byte %d = %x, want 0x55", i, b)
		}
	}

	mustVerify(t, h)
}

func TestStatsBookkeeping(t *testing.T) {
	h := newTestHeap(t)

	a := h.Allocate(100)
	_ = h.Allocate(200)

	stats := h.Stats()
	if stats.AllocatedBlocks != 2 {
		t.Errorf("AllocatedBlocks = %d, want 2", stats.AllocatedBlocks)
	}

	if stats.HeaderSize != headerSize {
		t.Errorf("HeaderSize = %d, want %d", stats.HeaderSize, headerSize)
	}

	h.Release(a)

	stats = h.Stats()
	if stats.FreeBlocks != 1 || stats.AllocatedBlocks != 2 {
		t.Errorf("unexpected stats after one release: %+v", stats)
	}

	if stats.TotalHeaderBytes != uintptr(stats.AllocatedBlocks)*stats.HeaderSize {
		t.Errorf("TotalHeaderBytes %d should equal AllocatedBlocks*HeaderSize (%d*%d)",
			stats.TotalHeaderBytes, stats.AllocatedBlocks, stats.HeaderSize)
	}
}
