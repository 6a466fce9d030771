package allocator

import "sync"

// osMemory abstracts the two OS-level memory primitives the heap needs.
// sbrk simulates the classic monotonic program-break extension: it grows a
// single contiguous region and never shrinks or relocates it. mmapAnon and
// munmapAnon back the independent large-allocation path, one mapping per
// block.
type osMemory interface {
	// sbrk extends the simulated break by delta bytes and returns the base
	// address of the newly available region. ok is false if the region's
	// upfront reservation has been exhausted.
	sbrk(delta uintptr) (base uintptr, ok bool)
	// mmapAnon creates a new, independently addressed anonymous mapping of
	// exactly size bytes.
	mmapAnon(size uintptr) (base uintptr, ok bool)
	// munmapAnon destroys a mapping previously returned by mmapAnon.
	munmapAnon(base uintptr, size uintptr) bool
}

// breakArena implements the sbrk half of osMemory over a single upfront
// reservation, advancing a logical cursor within it rather than asking the
// kernel to move the process break: the real brk() syscall would fight the
// Go runtime for the same address space, so the reservation stands in for
// it. mmapAnon/munmapAnon are supplied by the embedding backend since they
// differ between the real unix implementation and tests.
type breakArena struct {
	mu    sync.Mutex
	base  uintptr
	brk   uintptr
	limit uintptr
}

func (a *breakArena) init(base, size uintptr) {
	a.base = base
	a.brk = base
	a.limit = base + size
}

func (a *breakArena) sbrk(delta uintptr) (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delta > a.limit-a.brk {
		return 0, false
	}

	base := a.brk
	a.brk += delta

	return base, true
}
