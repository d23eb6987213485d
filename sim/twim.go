package sim

import (
	"errors"
	"unsafe"

	"github.com/BertoldVdb/twim/nrf"
)

// BusState is the state of the simulated wires.
type BusState uint8

const (
	// BusIdle: no transaction, a START is needed before the next burst.
	BusIdle BusState = iota
	// BusActive: a START was sent and no STOP yet.
	BusActive
)

func (s BusState) String() string {
	if s == BusActive {
		return "Active"
	}
	return "Idle"
}

// TWIM is a simulated TWIM register block. It implements nrf.Registers.
type TWIM struct {
	*regFile

	name   string
	target Target
	memory *Memory

	bus    BusState
	addr   uint8
	starts int
}

// NewTWIM creates a TWIM whose bus is connected to target. EasyDMA can only
// read buffers memory accepts; nil means all memory is RAM.
func NewTWIM(name string, target Target, memory *Memory) *TWIM {
	if memory == nil {
		memory = NewMemory()
	}
	return &TWIM{
		regFile: newRegFile(),
		name:    name,
		target:  target,
		memory:  memory,
	}
}

func (t *TWIM) String() string {
	return t.name
}

// Memory returns the classifier used by the simulated EasyDMA.
func (t *TWIM) Memory() *Memory {
	return t.memory
}

// Bus returns the current state of the wires.
func (t *TWIM) Bus() BusState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bus
}

// Starts returns the number of START and repeated START conditions sent.
func (t *TWIM) Starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.starts
}

func (t *TWIM) Load(r nrf.Register) uint32 {
	return t.load(r)
}

func (t *TWIM) Store(r nrf.Register, v uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log = append(t.log, Op{Reg: r, Value: v})

	switch r {
	case nrf.TasksStartTX:
		if v == nrf.Trigger {
			t.startTX()
		}
	case nrf.TasksStartRX:
		if v == nrf.Trigger {
			t.startRX()
		}
	case nrf.TasksStop:
		if v == nrf.Trigger {
			t.stop()
		}
	case nrf.ErrorSrc:
		t.regs[r] &^= v
	case nrf.TxdAmount, nrf.RxdAmount:
		// Read-only.
	default:
		t.regs[r] = v
	}
}

func (t *TWIM) StorePointer(r nrf.Register, p unsafe.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := uint32(uintptr(p))
	t.log = append(t.log, Op{Reg: r, Value: v})
	t.ptrs[r] = p
	t.regs[r] = v
}

// dma returns the buffer described by a PTR/MAXCNT pair.
func (t *TWIM) dma(ptr, maxcnt nrf.Register) []byte {
	n := int(t.regs[maxcnt])
	p := t.ptrs[ptr]
	if n == 0 || p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

func (t *TWIM) start() {
	t.starts++
	t.bus = BusActive
	t.addr = uint8(t.regs[nrf.Address])
}

func (t *TWIM) startTX() {
	t.start()

	buf := t.dma(nrf.TxdPtr, nrf.TxdMaxCnt)
	if !t.memory.Contains(buf) {
		// EasyDMA cannot fetch from here, nothing gets clocked out.
		buf = buf[:0]
	}

	n, err := t.target.Write(t.addr, buf)
	t.complete(nrf.TxdAmount, nrf.EventsLastTX, n, err)
}

func (t *TWIM) startRX() {
	t.start()

	buf := t.dma(nrf.RxdPtr, nrf.RxdMaxCnt)
	n, err := t.target.Read(t.addr, buf)
	t.complete(nrf.RxdAmount, nrf.EventsLastRX, n, err)
}

func (t *TWIM) complete(amount, last nrf.Register, n int, err error) {
	switch {
	case errors.Is(err, ErrNack):
		t.regs[nrf.ErrorSrc] |= nrf.ErrorSrcANACK
		t.regs[nrf.EventsError] = nrf.Generated
		n = 0
	case err != nil:
		t.regs[nrf.ErrorSrc] |= nrf.ErrorSrcDNACK
		t.regs[nrf.EventsError] = nrf.Generated
	}

	t.regs[amount] = uint32(n)
	t.regs[last] = nrf.Generated
}

func (t *TWIM) stop() {
	if t.bus == BusActive {
		// Targets that only talk to the slave at the end of a transaction
		// report its NACK here.
		if err := t.target.Stop(t.addr); err != nil {
			if errors.Is(err, ErrNack) {
				t.regs[nrf.ErrorSrc] |= nrf.ErrorSrcANACK
			} else {
				t.regs[nrf.ErrorSrc] |= nrf.ErrorSrcDNACK
			}
			t.regs[nrf.EventsError] = nrf.Generated
			t.regs[nrf.TxdAmount] = 0
		}
	}

	t.bus = BusIdle
	t.regs[nrf.EventsStopped] = nrf.Generated
}
