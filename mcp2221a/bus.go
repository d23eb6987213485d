package mcp2221a

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Bus exposes the I²C module as a periph i2c.BusCloser. A write followed by a
// read is sent without STOP in between, as a combined transaction.
type Bus struct {
	mu  sync.Mutex
	dev *MCP2221A
}

func NewBus(dev *MCP2221A) *Bus {
	return &Bus{dev: dev}
}

func (b *Bus) String() string {
	return "MCP2221A"
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("mcp2221a: invalid address 0x%X", addr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	a := uint8(addr)
	switch {
	case len(w) > 0 && len(r) > 0:
		if err := b.dev.I2C.Write(false, a, w); err != nil {
			return err
		}
		return b.dev.I2C.Read(true, a, r)
	case len(r) > 0:
		return b.dev.I2C.Read(false, a, r)
	default:
		return b.dev.I2C.Write(true, a, w)
	}
}

func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.I2C.SetConfig(uint32(f / physic.Hertz))
}

// Close closes the USB device.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dev.Close()
}

// MaxTxSize implements conn.Limits.
func (b *Bus) MaxTxSize() int {
	return I2CMaxCount
}

var _ i2c.BusCloser = &Bus{}
var _ conn.Limits = &Bus{}
