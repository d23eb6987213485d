// Package eeprom drives 24Cxx serial EEPROMs over any bus that offers plain
// writes and combined write-read transactions, such as a twim.Bus or a periph
// i2c.Bus wrapped with FromI2C.
//
// Devices up to 2 KiB are supported. Larger parts of the family use two byte
// word addresses.
package eeprom

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BertoldVdb/twim/mcp2221a"
	"github.com/BertoldVdb/twim/twim"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

type LogFunc func(format string, params ...interface{})

// Bus is the transfer capability the driver needs.
type Bus interface {
	Write(address uint8, data []byte) error
	WriteRead(address uint8, w []byte, r []byte) error
}

const (
	blockSize = 256
	maxSize   = 8 * blockSize
)

type Config struct {
	// Size of the device in bytes. Defaults to 256 (24C02).
	Size int
	// PageSize is the write page of the device. Defaults to 8.
	PageSize int
	// WriteTimeout bounds the ACK polling after a write cycle.
	WriteTimeout time.Duration
	// MaxTransfer limits the length of a single transaction. It defaults to
	// the bus's MaxTxSize when the bus implements conn.Limits.
	MaxTransfer int
	// IsNack reports whether err means the device did not answer. The default
	// recognizes the errors of twim, mcp2221a and Linux i2c-dev.
	IsNack func(err error) bool

	LogFunc LogFunc
}

type EEPROM struct {
	mu sync.Mutex

	bus  Bus
	addr uint8

	size        int
	pageSize    int
	maxTransfer int
	timeout     time.Duration
	isNack      func(err error) bool

	logFunc LogFunc
}

// IsNack is the default NACK classifier.
func IsNack(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, twim.ErrAddressNack) || errors.Is(err, mcp2221a.ErrNack) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "input/output") || strings.Contains(msg, "no such device")
}

// New returns a driver for the device at addr. For devices with several
// blocks, addr is the address of block 0 and its block select bits must be
// clear.
func New(bus Bus, addr uint8, cfg Config) (*EEPROM, error) {
	if cfg.Size == 0 {
		cfg.Size = blockSize
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 8
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 25 * time.Millisecond
	}
	if cfg.IsNack == nil {
		cfg.IsNack = IsNack
	}
	if cfg.MaxTransfer == 0 {
		if l, ok := bus.(conn.Limits); ok {
			cfg.MaxTransfer = l.MaxTxSize()
		}
	}

	if cfg.Size < 0 || cfg.Size > maxSize || (cfg.Size > blockSize && cfg.Size%blockSize != 0) {
		return nil, fmt.Errorf("eeprom: unsupported size %d", cfg.Size)
	}
	if cfg.PageSize < 0 || blockSize%cfg.PageSize != 0 {
		return nil, fmt.Errorf("eeprom: unsupported page size %d", cfg.PageSize)
	}
	if cfg.MaxTransfer < 0 || (cfg.MaxTransfer > 0 && cfg.MaxTransfer < cfg.PageSize+1) {
		return nil, fmt.Errorf("eeprom: transfer limit %d too small for %d byte pages", cfg.MaxTransfer, cfg.PageSize)
	}

	blocks := (cfg.Size + blockSize - 1) / blockSize
	if addr > 0x7F || int(addr)&(blocks-1) != 0 || int(addr)+blocks > 0x80 {
		return nil, fmt.Errorf("eeprom: address 0x%02x cannot hold %d blocks", addr, blocks)
	}

	return &EEPROM{
		bus:         bus,
		addr:        addr,
		size:        cfg.Size,
		pageSize:    cfg.PageSize,
		maxTransfer: cfg.MaxTransfer,
		timeout:     cfg.WriteTimeout,
		isNack:      cfg.IsNack,
		logFunc:     cfg.LogFunc,
	}, nil
}

func (e *EEPROM) log(format string, params ...interface{}) {
	if e.logFunc != nil {
		e.logFunc(" * "+format, params...)
	}
}

func (e *EEPROM) Size() int {
	return e.size
}

// location returns the bus address and word address of off.
func (e *EEPROM) location(off int) (uint8, byte) {
	return e.addr + uint8(off/blockSize), byte(off % blockSize)
}

// txfrRetry runs txfr until the device acknowledges or the write timeout
// passes. A device in its write cycle does not acknowledge its address.
func (e *EEPROM) txfrRetry(address uint8, txfr func() error) error {
	timeout := time.Now().Add(e.timeout)

	for {
		err := txfr()
		if err == nil || !e.isNack(err) {
			return err
		}

		if !time.Now().Before(timeout) {
			return fmt.Errorf("eeprom: no ACK from 0x%02x within %v: %w", address, e.timeout, err)
		}
	}
}

// ReadAt implements io.ReaderAt.
func (e *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("eeprom: negative offset")
	}
	if off >= int64(e.size) {
		return 0, io.EOF
	}

	var err error
	if rest := int64(e.size) - off; int64(len(p)) > rest {
		p = p[:rest]
		err = io.EOF
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := int(off)
	done := 0
	for done < len(p) {
		buf := p[done:]
		if n := blockSize - pos%blockSize; len(buf) > n {
			buf = buf[:n]
		}
		if e.maxTransfer > 0 && len(buf) > e.maxTransfer {
			buf = buf[:e.maxTransfer]
		}

		address, word := e.location(pos)
		if rerr := e.txfrRetry(address, func() error {
			return e.bus.WriteRead(address, []byte{word}, buf)
		}); rerr != nil {
			return done, rerr
		}

		e.log("Read    0x%03x: %s", pos, hex.EncodeToString(buf))

		pos += len(buf)
		done += len(buf)
	}

	return done, err
}

// WriteAt implements io.WriterAt. Data is written page by page and WriteAt
// only returns after the last write cycle has finished.
func (e *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(e.size) {
		return 0, fmt.Errorf("eeprom: write of %d bytes at %d does not fit in %d bytes", len(p), off, e.size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := int(off)
	done := 0
	for done < len(p) {
		chunk := p[done:]
		if n := e.pageSize - pos%e.pageSize; len(chunk) > n {
			chunk = chunk[:n]
		}

		address, word := e.location(pos)
		tx := make([]byte, len(chunk)+1)
		tx[0] = word
		copy(tx[1:], chunk)

		e.log("Writing 0x%03x: %s", pos, hex.EncodeToString(chunk))

		if err := e.txfrRetry(address, func() error {
			return e.bus.Write(address, tx)
		}); err != nil {
			return done, err
		}

		if err := e.sync(address); err != nil {
			return done, err
		}

		pos += len(chunk)
		done += len(chunk)
	}

	return done, nil
}

// sync polls the device with empty writes until it leaves its write cycle.
func (e *EEPROM) sync(address uint8) error {
	return e.txfrRetry(address, func() error {
		return e.bus.Write(address, nil)
	})
}

// Probe checks that the device answers at its base address.
func (e *EEPROM) Probe() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sync(e.addr)
}

type i2cBus struct {
	bus i2c.Bus
}

func (b i2cBus) Write(address uint8, data []byte) error {
	return b.bus.Tx(uint16(address), data, nil)
}

func (b i2cBus) WriteRead(address uint8, w []byte, r []byte) error {
	return b.bus.Tx(uint16(address), w, r)
}

func (b i2cBus) MaxTxSize() int {
	if l, ok := b.bus.(conn.Limits); ok {
		return l.MaxTxSize()
	}
	return 0
}

// FromI2C adapts a periph bus.
func FromI2C(bus i2c.Bus) Bus {
	return i2cBus{bus: bus}
}

var _ io.ReaderAt = &EEPROM{}
var _ io.WriterAt = &EEPROM{}
