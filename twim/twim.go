// Package twim is a blocking driver for the TWIM peripheral, the EasyDMA
// capable I2C master of nRF52 and nRF91 chips.
//
// This is a very basic interface that comes with the following limitation:
// the TWIM instances share the same address space with instances of SPIM,
// SPIS, SPI, TWIS and TWI. For example, TWIM0 conflicts with SPIM0, SPIS0,
// etc. Conflicting instances must be disabled before using a TWIM.
//
// Every transaction busy-waits on the peripheral's events without a timeout.
// A slave that holds the bus forever blocks the caller forever.
package twim

import (
	"encoding/hex"

	"github.com/BertoldVdb/twim/nrf"
)

// LogFunc receives the transfer and configuration log when set.
type LogFunc func(format string, params ...interface{})

// Instance is a TWIM register block.
type Instance interface {
	nrf.Registers
	String() string
}

// Memory decides whether EasyDMA can read a buffer.
type Memory interface {
	Contains(b []byte) bool
}

// Pins are the lines used by the TWIM. They are configured by New and owned
// by the TWIM afterwards.
type Pins struct {
	// Serial Clock Line.
	SCL nrf.Pin

	// Serial Data Line.
	SDA nrf.Pin
}

// Config holds the optional settings of NewWithConfig.
type Config struct {
	// Variant defaults to nrf.Target.
	Variant *nrf.Variant
	// Memory defaults to the variant's SRAM window.
	Memory Memory

	LogFunc LogFunc
}

// TWIM owns one TWIM instance. It is not safe for concurrent use; wrap it in a
// Bus to share it.
type TWIM struct {
	noCopy noCopy

	inst    Instance
	variant *nrf.Variant
	memory  Memory
	logFunc LogFunc

	state State
}

// noCopy makes go vet report copies of a TWIM.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// pinConfig puts a pin in the mode the TWIM expects: input with the buffer
// connected, pull-up, standard 0 disconnect 1 drive.
const pinConfig = nrf.PinCnfDirInput |
	nrf.PinCnfInputConnect |
	nrf.PinCnfPullUp |
	nrf.PinCnfDriveS0D1 |
	nrf.PinCnfSenseDisabled

// New takes ownership of inst and pins and enables the peripheral.
func New(inst Instance, pins Pins, frequency Frequency) *TWIM {
	return NewWithConfig(inst, pins, frequency, Config{})
}

// NewWithConfig is New with the settings of cfg.
func NewWithConfig(inst Instance, pins Pins, frequency Frequency, cfg Config) *TWIM {
	if cfg.Variant == nil {
		cfg.Variant = nrf.Target
	}
	if cfg.Memory == nil {
		cfg.Memory = cfg.Variant.SRAM
	}

	t := &TWIM{
		inst:    inst,
		variant: cfg.Variant,
		memory:  cfg.Memory,
		logFunc: cfg.LogFunc,
	}

	// The pin mode is not exposed through a GPIO API, so PIN_CNF is written
	// directly. We own the pins from here on.
	pins.SCL.Configure(pinConfig)
	pins.SDA.Configure(pinConfig)

	inst.Store(nrf.PselSCL, pins.SCL.PSEL())
	inst.Store(nrf.PselSDA, pins.SDA.PSEL())
	inst.Store(nrf.Enable, nrf.EnableTWIM)
	inst.Store(nrf.Frequency, uint32(frequency))

	t.log("%s enabled on %s: SCL=%s SDA=%s %s", inst, t.variant, pins.SCL, pins.SDA, frequency)

	return t
}

func (t *TWIM) log(format string, params ...interface{}) {
	if t.logFunc != nil {
		t.logFunc(" * "+format, params...)
	}
}

func (t *TWIM) logResult(op string, address uint8, data []byte, err error) {
	if t.logFunc == nil {
		return
	}
	if err != nil {
		t.log("%-9s 0x%02x: %v", op, address, err)
		return
	}
	t.log("%-9s 0x%02x: %s", op, address, hex.EncodeToString(data))
}

// regs returns the register block, panicking once the TWIM was freed.
func (t *TWIM) regs() Instance {
	if t.inst == nil {
		panic("twim: use of freed TWIM")
	}
	return t.inst
}

// Variant returns the chip variant the TWIM was configured for.
func (t *TWIM) Variant() *nrf.Variant {
	return t.variant
}

// State returns the logical bus state. It is Idle whenever no call is in
// progress.
func (t *TWIM) State() State {
	return t.state
}

// SetFrequency reprograms the bus clock. It must not be called during a
// transaction, which the single owner rule guarantees.
func (t *TWIM) SetFrequency(frequency Frequency) {
	t.regs().Store(nrf.Frequency, uint32(frequency))
	t.log("%s frequency set to %s", t.inst, frequency)
}

// Free returns the underlying TWIM instance. The TWIM must not be used
// afterwards.
func (t *TWIM) Free() Instance {
	inst := t.regs()
	t.inst = nil
	return inst
}

// Write writes buffer to the slave at address.
//
// The buffer must be in data RAM and at most Variant().EasyDMASize bytes long:
// 255 bytes on the nRF52832 and 65535 bytes on the nRF52840.
func (t *TWIM) Write(address uint8, buffer []byte) error {
	regs := t.regs()

	if !t.memory.Contains(buffer) {
		return ErrDMABufferNotInDataMemory
	}
	if len(buffer) > t.variant.EasyDMASize {
		return ErrTxBufferTooLong
	}

	amount := t.burst(txd, address, buffer)

	var err error
	if regs.Load(nrf.ErrorSrc)&nrf.ErrorSrcANACK != 0 {
		err = ErrAddressNack
	} else if amount != uint32(len(buffer)) {
		err = ErrTransmit
	}

	t.logResult("Write", address, buffer, err)
	return err
}

// Read fills buffer from the slave at address.
//
// A writable buffer always lives in RAM, so no location check is done. The
// length limit of Write applies.
func (t *TWIM) Read(address uint8, buffer []byte) error {
	regs := t.regs()

	if len(buffer) > t.variant.EasyDMASize {
		return ErrRxBufferTooLong
	}

	amount := t.burst(rxd, address, buffer)

	var err error
	if regs.Load(nrf.ErrorSrc)&nrf.ErrorSrcANACK != 0 {
		err = ErrAddressNack
	} else if amount != uint32(len(buffer)) {
		err = ErrReceive
	}

	t.logResult("Read", address, buffer, err)
	return err
}

// WriteThenRead writes wrBuffer to the slave and then reads rdBuffer from it
// with a repeated start, without a stop condition in between.
//
// If the slave does not acknowledge its address the read phase never starts
// and rdBuffer is left untouched.
func (t *TWIM) WriteThenRead(address uint8, wrBuffer []byte, rdBuffer []byte) error {
	regs := t.regs()

	if !t.memory.Contains(wrBuffer) {
		return ErrDMABufferNotInDataMemory
	}
	if len(wrBuffer) > t.variant.EasyDMASize {
		return ErrTxBufferTooLong
	}
	if len(rdBuffer) > t.variant.EasyDMASize {
		return ErrRxBufferTooLong
	}

	fence()

	t.state = StateAddress
	regs.Store(nrf.Address, uint32(address))
	t.setDescriptor(txd, wrBuffer)
	t.setDescriptor(rxd, rdBuffer)
	t.clearAddressNack()

	t.run(txd, true)

	if t.addressNack() {
		t.stop()
		fence()
		t.state = StateIdle

		t.logResult("WriteRead", address, nil, ErrAddressNack)
		return ErrAddressNack
	}

	// Repeated start.
	t.state = StateAddress
	t.run(rxd, false)
	t.stop(nrf.EventsLastTX, nrf.EventsLastRX)

	fence()
	t.state = StateIdle

	badWrite := regs.Load(nrf.TxdAmount) != uint32(len(wrBuffer))
	badRead := regs.Load(nrf.RxdAmount) != uint32(len(rdBuffer))

	var err error
	if badWrite {
		err = ErrTransmit
	} else if badRead {
		err = ErrReceive
	}

	t.logResult("WriteRead", address, rdBuffer, err)
	return err
}

// CopyWriteThenRead is WriteThenRead for a write buffer that may live outside
// data RAM, e.g. in flash. The write buffer is staged through a RAM buffer of
// Variant().ForceCopyBufferSize bytes, one burst per window, so its length is
// not limited. The read buffer obeys the usual limit.
//
// Address NACKs are not checked between windows: a slave that stops
// acknowledging shows up as ErrTransmit.
func (t *TWIM) CopyWriteThenRead(address uint8, txBuffer []byte, rxBuffer []byte) error {
	regs := t.regs()

	if len(rxBuffer) > t.variant.EasyDMASize {
		return ErrRxBufferTooLong
	}

	fence()

	t.state = StateAddress
	regs.Store(nrf.Address, uint32(address))
	t.setDescriptor(rxd, rxBuffer)
	t.clearAddressNack()

	var staging [nrf.MaxForceCopyBufferSize]byte
	scratch := staging[:t.variant.ForceCopyBufferSize]

	for len(txBuffer) > 0 {
		chunk := scratch[:copy(scratch, txBuffer)]
		txBuffer = txBuffer[len(chunk):]

		t.setDescriptor(txd, chunk)
		t.run(txd, false)

		if regs.Load(nrf.TxdAmount) != uint32(len(chunk)) {
			// Release the bus before reporting, the stop is part of every
			// failed transaction.
			t.stop()
			fence()
			t.state = StateIdle

			t.logResult("CopyWR", address, nil, ErrTransmit)
			return ErrTransmit
		}
	}

	t.state = StateAddress
	t.run(rxd, false)
	t.stop()

	fence()
	t.state = StateIdle

	var err error
	if regs.Load(nrf.RxdAmount) != uint32(len(rxBuffer)) {
		err = ErrReceive
	}

	t.logResult("CopyWR", address, rxBuffer, err)
	return err
}
