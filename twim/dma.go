package twim

import (
	"sync/atomic"
	"unsafe"

	"github.com/BertoldVdb/twim/nrf"
)

// State is the logical phase of the bus as seen by the driver.
type State uint8

const (
	StateIdle State = iota
	StateAddress
	StateTx
	StateRx
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAddress:
		return "Address"
	case StateTx:
		return "Tx"
	case StateRx:
		return "Rx"
	case StateStop:
		return "Stop"
	}
	return "Unknown"
}

var fenceWord uint32

// fence is a full memory barrier. Buffer accesses are not moved across it,
// which keeps them out of the window where EasyDMA owns the buffer.
func fence() {
	atomic.AddUint32(&fenceWord, 1)
}

// waitUntil spins until cond holds. There is no timeout.
func waitUntil(cond func() bool) {
	for !cond() {
	}
}

type direction struct {
	ptr    nrf.Register
	maxcnt nrf.Register
	amount nrf.Register
	start  nrf.Register
	last   nrf.Register
	state  State
}

var (
	txd = direction{
		ptr:    nrf.TxdPtr,
		maxcnt: nrf.TxdMaxCnt,
		amount: nrf.TxdAmount,
		start:  nrf.TasksStartTX,
		last:   nrf.EventsLastTX,
		state:  StateTx,
	}
	rxd = direction{
		ptr:    nrf.RxdPtr,
		maxcnt: nrf.RxdMaxCnt,
		amount: nrf.RxdAmount,
		start:  nrf.TasksStartRX,
		last:   nrf.EventsLastRX,
		state:  StateRx,
	}
)

// setDescriptor points one EasyDMA channel at buf. Lengths were checked by the
// caller, so MAXCNT cannot overflow.
func (t *TWIM) setDescriptor(d direction, buf []byte) {
	var p unsafe.Pointer
	if len(buf) > 0 {
		p = unsafe.Pointer(&buf[0])
	}
	t.inst.StorePointer(d.ptr, p)
	t.inst.Store(d.maxcnt, uint32(len(buf)))
}

func (t *TWIM) addressNack() bool {
	return t.inst.Load(nrf.ErrorSrc)&nrf.ErrorSrcANACK != 0
}

// clearAddressNack clears ERRORSRC.ANACK, which is write-1-to-clear.
func (t *TWIM) clearAddressNack() {
	t.inst.Store(nrf.ErrorSrc, nrf.ErrorSrcANACK)
}

// run triggers the start task of d and waits for its LAST event. With
// watchNack the wait also ends on an address NACK.
func (t *TWIM) run(d direction, watchNack bool) {
	t.inst.Store(d.start, nrf.Trigger)
	t.state = d.state

	waitUntil(func() bool {
		return t.inst.Load(d.last) == nrf.Generated || (watchNack && t.addressNack())
	})
	t.inst.Store(d.last, nrf.Cleared)
}

// stop issues STOP and waits for STOPPED. The events in clear are reset
// together with STOPPED.
func (t *TWIM) stop(clear ...nrf.Register) {
	t.state = StateStop
	t.inst.Store(nrf.TasksStop, nrf.Trigger)

	waitUntil(func() bool {
		return t.inst.Load(nrf.EventsStopped) == nrf.Generated
	})
	for _, r := range clear {
		t.inst.Store(r, nrf.Cleared)
	}
	t.inst.Store(nrf.EventsStopped, nrf.Cleared)
	t.state = StateIdle
}

// burst runs one complete single-direction transaction and returns the number
// of bytes EasyDMA transferred.
func (t *TWIM) burst(d direction, address uint8, buf []byte) uint32 {
	fence()

	t.state = StateAddress
	t.inst.Store(nrf.Address, uint32(address))
	t.setDescriptor(d, buf)
	t.clearAddressNack()

	t.run(d, true)
	t.stop()

	fence()

	return t.inst.Load(d.amount)
}
