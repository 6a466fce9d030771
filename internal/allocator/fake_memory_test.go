package allocator

import "unsafe"

// fakeMemory is an osMemory backend over plain Go-managed byte slices, for
// tests that must not depend on real OS mappings. It retains every buffer
// it hands out so the garbage collector never reclaims memory a Heap still
// holds pointers into.
type fakeMemory struct {
	breakArena
	arena  []byte
	mapped map[uintptr][]byte
}

func newFakeMemory(arenaSize uintptr) *fakeMemory {
	m := &fakeMemory{
		arena:  make([]byte, arenaSize),
		mapped: make(map[uintptr][]byte),
	}
	m.breakArena.init(uintptr(unsafe.Pointer(&m.arena[0])), arenaSize)

	return m
}

func (m *fakeMemory) mmapAnon(size uintptr) (uintptr, bool) {
	b := make([]byte, size)
	base := uintptr(unsafe.Pointer(&b[0]))
	m.mapped[base] = b

	return base, true
}

func (m *fakeMemory) munmapAnon(base uintptr, _ uintptr) bool {
	if _, ok := m.mapped[base]; !ok {
		return false
	}

	delete(m.mapped, base)

	return true
}
