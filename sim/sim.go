// Package sim simulates the TWIM and GPIO register blocks on a host, so the
// driver can be exercised without a chip. Task writes act synchronously: when
// a Store to TASKS_STARTTX returns, the burst has run against the attached
// Target and the events are set.
package sim

import (
	"errors"
	"sort"
	"sync"
	"unsafe"

	"github.com/BertoldVdb/twim/nrf"
)

// ErrNack is returned by a Target that does not acknowledge its address.
var ErrNack = errors.New("sim: address NACK")

// Target is a simulated slave. Write and Read are called once per EasyDMA
// burst with the address of the transaction; Stop ends it. A Write or Read
// that returns ErrNack did not acknowledge the address. Any other error is a
// data NACK after the returned number of bytes.
type Target interface {
	Write(addr uint8, p []byte) (int, error)
	Read(addr uint8, p []byte) (int, error)
	Stop(addr uint8) error
}

// TargetFuncs builds a Target from functions. Nil functions acknowledge
// everything, reads return zeros.
type TargetFuncs struct {
	WriteFunc func(addr uint8, p []byte) (int, error)
	ReadFunc  func(addr uint8, p []byte) (int, error)
	StopFunc  func(addr uint8) error
}

func (f TargetFuncs) Write(addr uint8, p []byte) (int, error) {
	if f.WriteFunc == nil {
		return len(p), nil
	}
	return f.WriteFunc(addr, p)
}

func (f TargetFuncs) Read(addr uint8, p []byte) (int, error) {
	if f.ReadFunc == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	return f.ReadFunc(addr, p)
}

func (f TargetFuncs) Stop(addr uint8) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(addr)
}

// Op is one logged register store.
type Op struct {
	Reg   nrf.Register
	Value uint32
}

// regFile is a register block backed by a map. Every store is logged.
type regFile struct {
	mu   sync.Mutex
	regs map[nrf.Register]uint32
	ptrs map[nrf.Register]unsafe.Pointer
	log  []Op
}

func newRegFile() *regFile {
	return &regFile{
		regs: make(map[nrf.Register]uint32),
		ptrs: make(map[nrf.Register]unsafe.Pointer),
	}
}

func (f *regFile) load(r nrf.Register) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.regs[r]
}

// Log returns a copy of all stores since creation or the last ResetLog.
func (f *regFile) Log() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Op(nil), f.log...)
}

func (f *regFile) ResetLog() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.log = nil
}

// Count returns how often r was written.
func (f *regFile) Count(r nrf.Register) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, op := range f.log {
		if op.Reg == r {
			n++
		}
	}
	return n
}

// Written returns the distinct registers that were stored to, in offset
// order.
func (f *regFile) Written() []nrf.Register {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[nrf.Register]bool)
	var regs []nrf.Register
	for _, op := range f.log {
		if !seen[op.Reg] {
			seen[op.Reg] = true
			regs = append(regs, op.Reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	return regs
}
