package nrf

import (
	"sync/atomic"
	"unsafe"
)

// MMIO is a register block mapped at a fixed physical address. It is only
// meaningful when running on the chip itself.
type MMIO struct {
	name string
	base uintptr
}

func NewMMIO(name string, base uintptr) *MMIO {
	return &MMIO{name: name, base: base}
}

func (m *MMIO) String() string {
	return m.name
}

// Base returns the physical base address of the block.
func (m *MMIO) Base() uintptr {
	return m.base
}

func (m *MMIO) reg(r Register) *uint32 {
	return (*uint32)(unsafe.Pointer(m.base + uintptr(r)))
}

// Load reads a register. sync/atomic accesses are never elided or merged by
// the compiler, which is what volatile peripheral access needs.
func (m *MMIO) Load(r Register) uint32 {
	return atomic.LoadUint32(m.reg(r))
}

func (m *MMIO) Store(r Register, v uint32) {
	atomic.StoreUint32(m.reg(r), v)
}

// StorePointer writes the 32-bit bus address of p.
func (m *MMIO) StorePointer(r Register, p unsafe.Pointer) {
	m.Store(r, uint32(uintptr(p)))
}
