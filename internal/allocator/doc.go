// Package allocator implements a userspace general-purpose heap allocator.
//
// It is a drop-in allocation surface for programs that want to manage their
// own heap rather than delegate to Go's runtime allocator: Allocate,
// ZeroedAllocate, Resize, and Release, backed directly by anonymous memory
// mappings that stand in for the process data segment and for individually
// mapped large regions.
//
// The engine partitions the heap into metadata-prefixed blocks, indexes free
// blocks in a 128-bucket segregated free list, coalesces adjacent free
// blocks on release, splits oversized free blocks when only part of one is
// needed, enlarges the topmost ("wilderness") block in place when possible,
// and routes large requests to an independent mapped region instead of the
// heap.
//
// The allocator is not safe for concurrent use: it assumes a single
// requester at a time, and Heap performs no internal synchronization. The
// only lock is the one guarding the simulated break cursor of the OS
// memory backend.
package allocator
