package twim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BertoldVdb/twim/nrf"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
)

// Bus adapts a TWIM to the generic write, read and write-read calls used by
// device drivers, and to periph's i2c.Bus.
//
// Unlike the TWIM, a Bus is safe for concurrent use.
type Bus struct {
	mu    sync.Mutex
	t     *TWIM
	name  string
	limit int
}

// ErrBusFreed is returned by a Bus after Free.
var ErrBusFreed = errors.New("twim: bus freed")

// NewBus wraps t. The name is returned by String and used when registering.
func NewBus(t *TWIM, name string) *Bus {
	return &Bus{t: t, name: name, limit: t.variant.EasyDMASize}
}

// TWIM returns the wrapped engine, or nil after Free. Callers must not use it
// concurrently with the Bus.
func (b *Bus) TWIM() *TWIM {
	return b.t
}

// Free waits for the running transaction, frees the TWIM and returns its
// instance. Later calls on the Bus, including those through i2creg, return
// ErrBusFreed. Free returns nil when the TWIM was already freed.
func (b *Bus) Free() Instance {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return nil
	}
	inst := b.t.Free()
	b.t = nil
	return inst
}

// Write sends data to address. A buffer outside data RAM is sent as a series
// of separate transactions, each at most ForceCopyBufferSize bytes long.
func (b *Bus) Write(address uint8, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return ErrBusFreed
	}
	return b.write(address, data)
}

func (b *Bus) write(address uint8, data []byte) error {
	if b.t.memory.Contains(data) {
		return b.t.Write(address, data)
	}

	var staging [nrf.MaxForceCopyBufferSize]byte
	scratch := staging[:b.t.variant.ForceCopyBufferSize]

	for len(data) > 0 {
		chunk := scratch[:copy(scratch, data)]
		data = data[len(chunk):]

		if err := b.t.Write(address, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Read fills buffer from address.
func (b *Bus) Read(address uint8, buffer []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return ErrBusFreed
	}
	return b.t.Read(address, buffer)
}

// WriteRead writes w and reads r in one combined transaction.
func (b *Bus) WriteRead(address uint8, w []byte, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return ErrBusFreed
	}
	return b.writeRead(address, w, r)
}

func (b *Bus) writeRead(address uint8, w []byte, r []byte) error {
	if b.t.memory.Contains(w) {
		return b.t.WriteThenRead(address, w, r)
	}
	return b.t.CopyWriteThenRead(address, w, r)
}

// Tx implements i2c.Bus. Only 7-bit addresses are supported. With both
// buffers empty a zero-length write is sent, which probes for the device.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("twim: invalid address 0x%X, only 7-bit addresses are supported", addr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return ErrBusFreed
	}

	address := uint8(addr)
	switch {
	case len(r) == 0:
		return b.write(address, w)
	case len(w) == 0:
		return b.t.Read(address, r)
	default:
		return b.writeRead(address, w, r)
	}
}

// SetSpeed implements i2c.Bus. The peripheral supports 100, 250 and 400 kHz.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	freq, err := FrequencyFromHertz(f)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.t == nil {
		return ErrBusFreed
	}
	b.t.SetFrequency(freq)
	return nil
}

func (b *Bus) String() string {
	return b.name
}

// Close implements io.Closer. The TWIM stays enabled and owned by the caller,
// use Free to release it.
func (b *Bus) Close() error {
	return nil
}

// MaxTxSize implements conn.Limits.
func (b *Bus) MaxTxSize() int {
	return b.limit
}

// Register publishes the bus in periph's i2creg under its name.
func (b *Bus) Register(aliases []string, number int) error {
	if b.name == "" {
		return errors.New("twim: cannot register a bus without a name")
	}
	return i2creg.Register(b.name, aliases, number, func() (i2c.BusCloser, error) {
		return b, nil
	})
}

var _ i2c.BusCloser = &Bus{}
var _ conn.Limits = &Bus{}
