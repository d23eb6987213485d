// Package mcp2221a drives the I²C master and GPIO pins of the Microchip
// MCP2221A USB to GPIO/I²C/UART protocol converter over USB HID. It is used to
// back a simulated TWIM with a real bus from a desktop machine.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
package mcp2221a

// Original source: https://github.com/ardnew/mcp2221a
// MIT License
//
// Copyright (c) 2020 ardnew
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

import (
	"errors"
	"fmt"
	"time"

	usb "github.com/karalabe/hid"
)

// USB identifiers of the adapter.
const (
	VID = 0x04D8
	PID = 0x00DD

	// pidAlt is reported by adapters reprogrammed with a custom descriptor.
	pidAlt = 0xE87B
)

// MsgSz is the size of every HID report, in both directions.
const MsgSz = 64

// ClkHz is the clock the I²C divider is derived from.
const ClkHz = 12000000

const (
	WordSet byte = 0xFF
	WordClr byte = 0x00
)

// ErrNack is wrapped by every error caused by a slave not acknowledging its
// address.
var ErrNack = errors.New("I²C NACK")

// pollDelay is the pause between status polls of a running transfer.
var pollDelay = 300 * time.Microsecond

func makeMsg() []byte { return make([]byte, MsgSz) }

// Report codes. The response echoes the code in its first byte.
const (
	cmdStatus    byte = 0x10
	cmdSetParams byte = 0x10

	cmdI2CWrite        byte = 0x90
	cmdI2CWriteNoStop  byte = 0x94
	cmdI2CRead         byte = 0x91
	cmdI2CReadRepStart byte = 0x93
	cmdI2CReadGetData  byte = 0x40

	cmdGPIOSet byte = 0x50
	cmdGPIOGet byte = 0x51
)

// hidDevice is the part of a HID device the driver talks to.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221A is an opened adapter.
type MCP2221A struct {
	Device hidDevice

	GPIO *GPIO
	I2C  *I2C
}

// Open opens the adapter with the given serial number, or the first one found
// when serial is empty.
func Open(serial string) (*MCP2221A, error) {
	for _, pid := range []uint16{PID, pidAlt} {
		for _, info := range usb.Enumerate(VID, pid) {
			if serial != "" && info.Serial != serial {
				continue
			}

			dev, err := info.Open()
			if err != nil {
				return nil, fmt.Errorf("mcp2221a: failed to open %s: %v", info.Path, err)
			}
			return NewFromDev(dev), nil
		}
	}

	if serial == "" {
		return nil, errors.New("mcp2221a: no device found")
	}
	return nil, fmt.Errorf("mcp2221a: no device with serial %q", serial)
}

// NewFromDev wraps an opened HID device.
func NewFromDev(dev hidDevice) *MCP2221A {
	mcp := &MCP2221A{Device: dev}
	mcp.GPIO = &GPIO{mcp: mcp}
	mcp.I2C = &I2C{mcp: mcp}
	return mcp
}

var errNotOpen = errors.New("mcp2221a: device not open")

func (mcp *MCP2221A) Close() error {
	if mcp == nil || mcp.Device == nil {
		return errNotOpen
	}
	return mcp.Device.Close()
}

// exchange sends report cmd and returns the response. When the chip reports a
// failure the response is returned with the error, it carries the I²C state.
func (mcp *MCP2221A) exchange(cmd byte, msg []byte) ([]byte, error) {
	if mcp == nil || mcp.Device == nil {
		return nil, errNotOpen
	}

	msg[0] = cmd
	if _, err := mcp.Device.Write(msg); err != nil {
		return nil, fmt.Errorf("mcp2221a: command 0x%02X: %v", cmd, err)
	}

	rsp := makeMsg()
	n, err := mcp.Device.Read(rsp)
	switch {
	case err != nil:
		return nil, fmt.Errorf("mcp2221a: response to 0x%02X: %v", cmd, err)
	case n < MsgSz:
		return rsp, fmt.Errorf("mcp2221a: short response to 0x%02X: %d bytes", cmd, n)
	case rsp[0] != cmd || rsp[1] != WordClr:
		return rsp, fmt.Errorf("mcp2221a: command 0x%02X failed", cmd)
	}
	return rsp, nil
}

// status is a response to cmdStatus.
type status []byte

// parseStatus returns nil when msg is not a full report.
func parseStatus(msg []byte) status {
	if len(msg) < MsgSz {
		return nil
	}
	return status(msg)
}

func (s status) cancel() byte { return s[2] }
func (s status) speed() byte  { return s[3] }
func (s status) state() byte  { return s[8] }

func (mcp *MCP2221A) status() (status, error) {
	rsp, err := mcp.exchange(cmdStatus, makeMsg())
	if err != nil {
		return nil, err
	}
	return parseStatus(rsp), nil
}

// Revision returns the hardware and firmware revisions, e.g. "A6" and "1.2".
func (mcp *MCP2221A) Revision() (hw string, fw string, err error) {
	s, err := mcp.status()
	if err != nil {
		return "", "", err
	}
	return string(s[46:48]), string([]byte{s[48], '.', s[49]}), nil
}

// GPIO drives the GP pins. They must be in GPIO mode, the factory default.
type GPIO struct {
	mcp *MCP2221A
}

// GPPinCount is the number of GP pins.
const GPPinCount = 4

const (
	dirOutput   byte = 0x00
	modeInvalid byte = 0xEE
)

// Set makes pin an output driving val.
func (g *GPIO) Set(pin byte, val byte) error {
	if pin >= GPPinCount {
		return fmt.Errorf("mcp2221a: invalid GPIO pin %d", pin)
	}

	// Per pin: change value, value, change direction, direction.
	msg := makeMsg()
	copy(msg[2+4*pin:], []byte{WordSet, val, WordSet, dirOutput})

	_, err := g.mcp.exchange(cmdGPIOSet, msg)
	return err
}

// Get reads the level of pin.
func (g *GPIO) Get(pin byte) (byte, error) {
	if pin >= GPPinCount {
		return 0, fmt.Errorf("mcp2221a: invalid GPIO pin %d", pin)
	}

	rsp, err := g.mcp.exchange(cmdGPIOGet, makeMsg())
	if err != nil {
		return 0, err
	}

	v := rsp[2+2*pin]
	if v == modeInvalid {
		return 0, fmt.Errorf("mcp2221a: pin %d not in GPIO mode", pin)
	}
	return v, nil
}
