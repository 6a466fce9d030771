package allocator

import "unsafe"

// Policy constants fixed by the allocator's design. None of these are
// configurable: they are load-bearing for the invariants checked by Verify.
const (
	// minRequestSize is the exclusive lower bound on a valid request; zero
	// is refused rather than returning a unique non-null sentinel.
	minRequestSize = 0
	// maxRequestSize is the inclusive upper bound on a valid request. It is
	// a policy cap, not a kernel limit.
	maxRequestSize = 100_000_000
	// largeThreshold is the size at or above which a request bypasses the
	// heap entirely and is served by an independent anonymous mapping.
	largeThreshold = 128 * 1024
	// minSplitPayload is the smallest payload worth carving a remainder
	// block out of a free block for. Below this, the requester observes a
	// slight over-allocation attributed to the original block.
	minSplitPayload = 128
	// numBuckets is the width of the segregated free list.
	numBuckets = 128
	// bucketUnit is the size granularity of each free-list bucket.
	bucketUnit = 1024
)

// blockHeader is the fixed-size metadata record immediately preceding every
// payload, whether the payload lives on the heap list or in an independent
// mapping. size never includes the header itself.
//
// prev/next link a block to its neighbours: the physically adjacent blocks
// along the heap list when isMapped is false, or the neighbouring entries
// of the mapped list (separate mappings, not adjacent in memory) when it is
// true. A block never belongs to both lists. prevFree/nextFree link the
// block within its free-index bucket and are meaningful only while isFree
// is true.
type blockHeader struct {
	size     uintptr
	isFree   bool
	isMapped bool
	prev     *blockHeader
	next     *blockHeader
	prevFree *blockHeader
	nextFree *blockHeader
}

// headerSize is the constant width of blockHeader, reported verbatim by
// Heap.HeaderSize and used throughout for address arithmetic.
const headerSize = unsafe.Sizeof(blockHeader{})

// validateSize reports whether size falls within the half-open range
// (0, maxRequestSize] every public operation enforces.
func validateSize(size uintptr) bool {
	return size > minRequestSize && size <= maxRequestSize
}

// payloadOf returns the address immediately following h's header: the
// bounded-unsafe primitive every allocation path uses to hand a payload
// pointer back to the caller.
func payloadOf(h *blockHeader) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(h)) + headerSize)
}

// headerOf recovers the header preceding a previously returned payload
// pointer. It is the inverse of payloadOf and the only other place that
// performs this address arithmetic.
func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(p) - headerSize))
}

// bucketFor returns the free-index bucket a free block of the given size
// belongs in: bucket i holds [i*bucketUnit, (i+1)*bucketUnit), and the last
// bucket additionally absorbs anything at or above its lower bound.
func bucketFor(size uintptr) int {
	b := int(size / bucketUnit)
	if b >= numBuckets {
		b = numBuckets - 1
	}

	return b
}

// moveOverlap copies n bytes from src to dst, tolerating overlap between
// the two ranges (Go's builtin copy is memmove-safe for slices, overlapping
// or not).
func moveOverlap(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}

	d := unsafe.Slice((*byte)(dst), int(n))
	s := unsafe.Slice((*byte)(src), int(n))
	copy(d, s)
}

// zeroFill sets n bytes starting at p to zero.
func zeroFill(p unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}

	b := unsafe.Slice((*byte)(p), int(n))
	clear(b)
}
