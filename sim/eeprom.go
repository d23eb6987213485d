package sim

import (
	"fmt"
	"sync"
)

// EEPROM models a 24Cxx serial EEPROM. Devices larger than 256 bytes use the
// low bits of the bus address as block select, like the 24C04 to 24C16.
//
// A write transaction starts with the word address followed by data. The data
// is latched and committed at STOP, wrapping within the page. For BusyPolls
// address attempts after that the device is busy and does not acknowledge.
type EEPROM struct {
	mu sync.Mutex

	base     uint8
	data     []byte
	pageSize int

	// BusyPolls is the number of NACKed address attempts after a write cycle.
	BusyPolls int

	busy    int
	cycles  int
	ptr     int
	active  bool
	addrSet bool
	latched []byte
}

// NewEEPROM creates a device of size bytes at base, filled with 0xFF. Like the
// real parts, size and pageSize must be powers of two, with at most 2 KiB of
// memory split into whole pages.
func NewEEPROM(base uint8, size int, pageSize int) (*EEPROM, error) {
	if !powerOfTwo(size) || size > 2048 {
		return nil, fmt.Errorf("sim: unsupported EEPROM size %d", size)
	}
	if !powerOfTwo(pageSize) || pageSize > size {
		return nil, fmt.Errorf("sim: unsupported page size %d for %d bytes", pageSize, size)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &EEPROM{
		base:     base,
		data:     data,
		pageSize: pageSize,
	}, nil
}

func powerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Blocks returns the number of bus addresses the device occupies.
func (e *EEPROM) Blocks() int {
	return (len(e.data) + 255) / 256
}

// Attach connects every block address of the device to m.
func (e *EEPROM) Attach(m *Mux) {
	for i := 0; i < e.Blocks(); i++ {
		m.Attach(e.base+uint8(i), e)
	}
}

// Bytes returns a copy of the memory contents.
func (e *EEPROM) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]byte(nil), e.data...)
}

// Cycles returns the number of completed write cycles.
func (e *EEPROM) Cycles() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cycles
}

// begin handles the address phase. It reports false when the device is busy.
func (e *EEPROM) begin() bool {
	if e.active {
		return true
	}
	if e.busy > 0 {
		e.busy--
		return false
	}
	e.active = true
	return true
}

func (e *EEPROM) block(addr uint8) int {
	return int(addr-e.base) << 8
}

func (e *EEPROM) Write(addr uint8, p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.begin() {
		return 0, ErrNack
	}

	n := 0
	if !e.addrSet && len(p) > 0 {
		e.ptr = (e.block(addr) | int(p[0])) % len(e.data)
		e.addrSet = true
		e.latched = e.latched[:0]
		p = p[1:]
		n++
	}

	e.latched = append(e.latched, p...)
	return n + len(p), nil
}

func (e *EEPROM) Read(addr uint8, p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.begin() {
		return 0, ErrNack
	}

	// A repeated start after the word address turns the write into a
	// random read. Latched data is dropped.
	e.latched = e.latched[:0]

	for i := range p {
		p[i] = e.data[e.ptr]
		e.ptr = (e.ptr + 1) % len(e.data)
	}
	return len(p), nil
}

func (e *EEPROM) Stop(addr uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.latched) > 0 {
		page := e.ptr - e.ptr%e.pageSize
		offset := e.ptr % e.pageSize
		for i, b := range e.latched {
			e.data[(page+(offset+i)%e.pageSize)%len(e.data)] = b
		}
		e.ptr = (page + (offset+len(e.latched))%e.pageSize) % len(e.data)

		e.busy = e.BusyPolls
		e.cycles++
	}

	e.active = false
	e.addrSet = false
	e.latched = e.latched[:0]
	return nil
}
