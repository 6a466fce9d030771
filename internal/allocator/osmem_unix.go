//go:build unix

package allocator

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// arenaReservation is the size of the single upfront anonymous mapping the
// simulated break cursor advances within. It bounds total heap growth but
// is large enough that maxRequestSize-sized allocations are never the
// limiting factor.
const arenaReservation = 1 << 30 // 1 GiB

// unixMemory is the real osMemory backend: one large PROT_READ|PROT_WRITE
// anonymous mapping stands in for the process data segment, and individual
// mmap/munmap calls serve the large-allocation path.
type unixMemory struct {
	breakArena
	reservation []byte
}

func newUnixMemory() (*unixMemory, error) {
	b, err := unix.Mmap(-1, 0, arenaReservation,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	m := &unixMemory{reservation: b}
	m.breakArena.init(uintptr(unsafe.Pointer(&b[0])), arenaReservation)

	return m, nil
}

func (m *unixMemory) mmapAnon(size uintptr) (uintptr, bool) {
	b, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, false
	}

	return uintptr(unsafe.Pointer(&b[0])), true
}

func (m *unixMemory) munmapAnon(base uintptr, size uintptr) bool {
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), int(size))

	return unix.Munmap(b) == nil
}
