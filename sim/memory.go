package sim

import (
	"sync"
	"unsafe"
)

type span struct {
	lower, upper uintptr
}

// Memory classifies host buffers for the simulated EasyDMA. All memory is data
// RAM except the regions passed to Protect, which behave like flash.
type Memory struct {
	mu        sync.Mutex
	protected []span
	keep      [][]byte
}

func NewMemory() *Memory {
	return &Memory{}
}

// Protect marks b as unreachable by EasyDMA. The slice is retained so the
// region stays allocated for the lifetime of the Memory.
func (m *Memory) Protect(b []byte) {
	if len(b) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p := uintptr(unsafe.Pointer(&b[0]))
	m.protected = append(m.protected, span{p, p + uintptr(len(b))})
	m.keep = append(m.keep, b)
}

// Protected returns a new buffer holding a copy of data that EasyDMA cannot
// read.
func (m *Memory) Protected(data []byte) []byte {
	b := append([]byte(nil), data...)
	m.Protect(b)
	return b
}

// Contains reports whether b may be handed to EasyDMA. Empty slices always
// qualify.
func (m *Memory) Contains(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lower := uintptr(unsafe.Pointer(&b[0]))
	upper := lower + uintptr(len(b))
	for _, s := range m.protected {
		if lower < s.upper && s.lower < upper {
			return false
		}
	}
	return true
}
