// Package bridge connects a simulated TWIM to a real I2C bus. Bursts are
// collected until the transaction reads or stops and then sent as a single
// periph Tx, so a write followed by a read keeps the combined format.
package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BertoldVdb/twim/sim"
	"periph.io/x/conn/v3/i2c"
)

// Target is a sim.Target forwarding to Bus.
type Target struct {
	Bus i2c.Bus

	mu      sync.Mutex
	pending []byte
	write   bool
}

func New(bus i2c.Bus) *Target {
	return &Target{Bus: bus}
}

// nackError converts the NACK reports of the various host drivers into
// sim.ErrNack. Linux i2c-dev reports an absent device as EIO or ENXIO, the
// MCP2221A driver mentions NACK.
func nackError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "input/output") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "NACK") {
		return fmt.Errorf("%w: %v", sim.ErrNack, err)
	}
	return err
}

// Write only buffers, the data is sent with the following read or stop.
func (t *Target) Write(addr uint8, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, p...)
	t.write = true
	return len(p), nil
}

func (t *Target) Read(addr uint8, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.pending
	t.pending = nil
	t.write = false

	if err := nackError(t.Bus.Tx(uint16(addr), w, p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Stop flushes a pending write. A NACK found here is reported to the
// simulated peripheral as an address NACK at stop.
func (t *Target) Stop(addr uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.write {
		return nil
	}
	w := t.pending
	t.pending = nil
	t.write = false

	return nackError(t.Bus.Tx(uint16(addr), w, nil))
}
