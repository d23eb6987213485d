package mcp2221a

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// I2C is the I²C master of the adapter.
type I2C struct {
	mcp *MCP2221A
}

const (
	I2CBaudRate = 100000
	// I2CMaxCount is the longest transfer a single command can request.
	I2CMaxCount = 0xFFFF
)

const (
	// Payload per report.
	i2cReadMax  = 60
	i2cWriteMax = 60

	maxPolls = 50
)

// I²C engine states. Most of them are not in the datasheet, they are the
// codes the chip is seen to report.
const (
	i2cStateStartTimeout    byte = 0x12
	i2cStateRepStartTimeout byte = 0x17
	i2cStateAddrTimeout     byte = 0x23
	i2cStateAddrNACK        byte = 0x25
	i2cStatePartialData     byte = 0x41
	i2cStateWriteTimeout    byte = 0x44
	i2cStateWritingNoStop   byte = 0x45
	i2cStateReadTimeout     byte = 0x52
	i2cStateReadPartial     byte = 0x54
	i2cStateReadComplete    byte = 0x55
	i2cStateStopTimeout     byte = 0x62
	i2cStateReadError       byte = 0x7F
)

// stateError returns the error a state stands for, nil while the transfer can
// go on.
func stateError(addr uint8, state byte) error {
	switch state {
	case i2cStateAddrNACK:
		return fmt.Errorf("%w from address (0x%02X)", ErrNack, addr)
	case i2cStateStartTimeout, i2cStateRepStartTimeout, i2cStateStopTimeout,
		i2cStateAddrTimeout, i2cStateWriteTimeout, i2cStateReadTimeout:
		return fmt.Errorf("mcp2221a: timeout in state 0x%02X talking to 0x%02X", state, addr)
	}
	return nil
}

// poll calls f until it is done or fails, pausing pollDelay in between.
func poll(f func() (bool, error)) error {
	for i := 0; i < maxPolls; i++ {
		done, err := f()
		if done || err != nil {
			return err
		}
		time.Sleep(pollDelay)
	}
	return errors.New("mcp2221a: transfer did not complete")
}

// header starts a transfer report with its total length and address byte.
func header(length int, addrByte byte) []byte {
	msg := makeMsg()
	binary.LittleEndian.PutUint16(msg[1:], uint16(length))
	msg[3] = addrByte
	return msg
}

// SetConfig sets the bus clock. The setting is lost at reset.
func (i *I2C) SetConfig(baud uint32) error {
	if baud > ClkHz/3 || baud < ClkHz/258 {
		return fmt.Errorf("mcp2221a: unsupported bus speed %d", baud)
	}

	msg := makeMsg()
	msg[3] = 0x20
	msg[4] = byte(ClkHz/baud - 3)

	rsp, err := i.mcp.exchange(cmdSetParams, msg)
	if err != nil {
		return err
	}
	if parseStatus(rsp).speed() == 0x21 {
		return errors.New("mcp2221a: speed not changed, transfer in progress")
	}
	return nil
}

// Cancel aborts the running transfer.
func (i *I2C) Cancel() error {
	msg := makeMsg()
	msg[2] = 0x10

	rsp, err := i.mcp.exchange(cmdSetParams, msg)
	if err != nil {
		return err
	}
	if parseStatus(rsp).cancel() == 0x10 {
		time.Sleep(pollDelay)
	}
	return nil
}

// idle cancels whatever a previous transfer left behind, unless the engine is
// idle or in state keep.
func (i *I2C) idle(keep byte) error {
	s, err := i.mcp.status()
	if err != nil {
		return err
	}
	if st := s.state(); st == WordClr || st == keep {
		return nil
	}
	return i.Cancel()
}

// Write writes out to the slave at addr. With stop false no STOP condition is
// generated and the bus stays active for a following Read with rep set.
func (i *I2C) Write(stop bool, addr uint8, out []byte) error {
	if len(out) > I2CMaxCount {
		return fmt.Errorf("mcp2221a: write of %d bytes too long", len(out))
	}
	if err := i.idle(WordClr); err != nil {
		return err
	}

	cmd := cmdI2CWrite
	if !stop {
		cmd = cmdI2CWriteNoStop
	}

	// Every report repeats the total length. An empty write is one report.
	for pos := 0; ; {
		n := len(out) - pos
		if n > i2cWriteMax {
			n = i2cWriteMax
		}

		msg := header(len(out), addr<<1)
		copy(msg[4:], out[pos:pos+n])

		if err := poll(func() (bool, error) {
			rsp, err := i.mcp.exchange(cmd, msg)
			if err == nil {
				return true, nil
			}
			if rsp == nil {
				return false, err
			}
			return false, stateError(addr, rsp[2])
		}); err != nil {
			return err
		}

		// Errors show up in the final state check.
		poll(func() (bool, error) {
			s, err := i.mcp.status()
			return err != nil || s.state() != i2cStatePartialData, nil
		})

		pos += n
		if pos >= len(out) {
			break
		}
	}

	return poll(func() (bool, error) {
		s, err := i.mcp.status()
		if err != nil {
			return false, err
		}

		st := s.state()
		if st == WordClr || (!stop && st == i2cStateWritingNoStop) {
			return true, nil
		}
		return false, stateError(addr, st)
	})
}

// Read fills in from the slave at addr. With rep set a repeated START is
// generated, continuing a Write without stop.
func (i *I2C) Read(rep bool, addr uint8, in []byte) error {
	if len(in) == 0 {
		return nil
	}
	if len(in) > I2CMaxCount {
		return fmt.Errorf("mcp2221a: read of %d bytes too long", len(in))
	}
	if err := i.idle(i2cStateWritingNoStop); err != nil {
		return err
	}

	cmd := cmdI2CRead
	if rep {
		cmd = cmdI2CReadRepStart
	}
	if _, err := i.mcp.exchange(cmd, header(len(in), addr<<1|1)); err != nil {
		return err
	}

	for pos := 0; pos < len(in); {
		var data []byte
		if err := poll(func() (bool, error) {
			rsp, err := i.mcp.exchange(cmdI2CReadGetData, makeMsg())
			switch {
			case rsp == nil:
				return false, err
			case rsp[2] == i2cStateAddrNACK:
				return false, stateError(addr, rsp[2])
			case rsp[1] == i2cStatePartialData || rsp[3] == i2cStateReadError:
				return false, nil
			case err != nil:
				return false, err
			}

			switch rsp[2] {
			case WordClr, i2cStateReadPartial, i2cStateReadComplete:
				data = rsp[4 : 4+i2cReadMax]
				return true, nil
			}
			return false, nil
		}); err != nil {
			return err
		}

		pos += copy(in[pos:], data)
	}
	return nil
}

// Scan returns the addresses in [start, stop] that acknowledge a one byte
// read.
func (i *I2C) Scan(start uint8, stop uint8) ([]uint8, error) {
	if start > stop || stop > 0x7F {
		return nil, fmt.Errorf("mcp2221a: invalid address range [0x%02X, 0x%02X]", start, stop)
	}

	var found []uint8
	b := make([]byte, 1)
	for addr := int(start); addr <= int(stop); addr++ {
		if i.Read(false, uint8(addr), b) == nil {
			found = append(found, uint8(addr))
		}
	}
	return found, nil
}
