// Package twimopen opens a TWIM by path. The register block is simulated, its
// bus is either a model or a real I2C bus reached through periph.
//
// Paths have the form kind:arg:arg:
//
//	sim[:addr[:size]]           24Cxx model at addr (0x50) of size bytes (256)
//	usb[:serial[:powerpin]]     MCP2221A USB bridge, optional GP power pin
//	platform[:bus[:powerpin]]   periph host bus, optional power GPIO by name
package twimopen

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BertoldVdb/twim/mcp2221a"
	"github.com/BertoldVdb/twim/nrf"
	"github.com/BertoldVdb/twim/sim"
	"github.com/BertoldVdb/twim/sim/bridge"
	"github.com/BertoldVdb/twim/twim"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Pins the simulated TWIM is routed to.
const (
	PinSCL = 27
	PinSDA = 26
)

// Bus is a twim.Bus that also owns its backend.
type Bus struct {
	*twim.Bus

	// Regs is the simulated register block driven by the TWIM.
	Regs *sim.TWIM
	// Port is the GPIO port holding the bus pins.
	Port *sim.Port
	// EEPROM is the modelled device of a sim path.
	EEPROM *sim.EEPROM

	backend io.Closer
	power   func(enable bool) error
}

// Close frees the TWIM, switches the power off and closes the backend. It
// waits for a running transaction, later ones fail with twim.ErrBusFreed.
func (b *Bus) Close() error {
	if b.Free() == nil {
		return nil
	}

	var err error
	if b.power != nil {
		err = b.power(false)
	}
	if b.backend != nil {
		if cerr := b.backend.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func newBus(name string, target sim.Target, variant *nrf.Variant, logFunc twim.LogFunc) *Bus {
	if variant == nil {
		variant = nrf.Target
	}

	regs := sim.NewTWIM("TWIM0", target, nil)
	port := sim.NewPort(0, variant)

	t := twim.NewWithConfig(regs, twim.Pins{SCL: port.Pin(PinSCL), SDA: port.Pin(PinSDA)}, twim.K100, twim.Config{
		Variant: variant,
		Memory:  regs.Memory(),
		LogFunc: logFunc,
	})

	return &Bus{
		Bus:  twim.NewBus(t, name),
		Regs: regs,
		Port: port,
	}
}

// busName turns a path into a name usable in i2creg.
func busName(path string) string {
	return strings.ToUpper(strings.NewReplacer(":", "-", "/", "-").Replace(path))
}

func OpenSim(addr uint8, size int, variant *nrf.Variant, logFunc twim.LogFunc) (*Bus, error) {
	pageSize := 8
	if size > 256 {
		pageSize = 16
	}

	dev, err := sim.NewEEPROM(addr, size, pageSize)
	if err != nil {
		return nil, err
	}
	if int(addr)+dev.Blocks() > 0x80 {
		return nil, fmt.Errorf("EEPROM at 0x%02x does not fit the address space", addr)
	}

	mux := sim.NewMux()
	dev.Attach(mux)

	b := newBus(busName(fmt.Sprintf("sim:0x%02x:%d", addr, size)), mux, variant, logFunc)
	b.EEPROM = dev
	return b, nil
}

func OpenUSB(serial string, powerPin int, variant *nrf.Variant, logFunc twim.LogFunc) (*Bus, error) {
	dev, err := mcp2221a.Open(serial)
	if err != nil {
		return nil, fmt.Errorf("failed to open MCP2221A: %v", err)
	}

	if logFunc != nil {
		if hw, fw, err := dev.Revision(); err == nil {
			logFunc(" * MCP2221A hardware %s firmware %s", hw, fw)
		}
	}

	var power func(enable bool) error
	if powerPin >= 0 {
		power = func(enable bool) error {
			var value byte
			if enable {
				value = 1
			}
			return dev.GPIO.Set(byte(powerPin), value)
		}

		if err := power(true); err != nil {
			dev.Close()
			return nil, fmt.Errorf("failed to enable power: %v", err)
		}
	}

	usbBus := mcp2221a.NewBus(dev)
	if err := usbBus.SetSpeed(twim.K100.Hertz()); err != nil {
		dev.Close()
		return nil, err
	}

	b := newBus(busName("usb:"+serial), bridge.New(usbBus), variant, logFunc)
	b.backend = usbBus
	b.power = power
	return b, nil
}

func OpenPlatform(busID string, powerPin string, variant *nrf.Variant, logFunc twim.LogFunc) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %v", err)
	}

	var power func(enable bool) error
	if powerPin != "" {
		powerGPIO := gpioreg.ByName(powerPin)
		if powerGPIO == nil {
			return nil, errors.New("power gpio not found")
		}

		power = func(enable bool) error {
			value := gpio.Low
			if enable {
				value = gpio.High
			}

			return powerGPIO.Out(value)
		}

		if err := power(true); err != nil {
			return nil, err
		}
	}

	hostBus, err := i2creg.Open(busID)
	if err != nil {
		return nil, fmt.Errorf("could not open bus: %v", err)
	}

	b, err := OpenTarget(busName("platform:"+busID), hostBus, variant, logFunc)
	if err != nil {
		hostBus.Close()
		return nil, err
	}
	b.power = power
	return b, nil
}

// OpenTarget bridges the simulated TWIM to an already opened periph bus. The
// bus is closed with the returned Bus.
func OpenTarget(name string, bus i2c.BusCloser, variant *nrf.Variant, logFunc twim.LogFunc) (*Bus, error) {
	if err := bus.SetSpeed(twim.K100.Hertz()); err != nil {
		return nil, fmt.Errorf("could not set bus speed: %v", err)
	}

	b := newBus(name, bridge.New(bus), variant, logFunc)
	b.backend = bus
	return b, nil
}

func getPart(parts []string, index int, def string) string {
	if index >= len(parts) || parts[index] == "" {
		return def
	}
	return parts[index]
}

// Open opens the TWIM described by path. A nil variant selects nrf.Target.
func Open(path string, variant *nrf.Variant, logFunc twim.LogFunc) (*Bus, error) {
	parts := strings.Split(path, ":")

	switch parts[0] {
	case "sim":
		addr, err := strconv.ParseUint(getPart(parts, 1, "0x50"), 0, 7)
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(getPart(parts, 2, "256"))
		if err != nil {
			return nil, err
		}
		return OpenSim(uint8(addr), size, variant, logFunc)

	case "usb":
		powerPin, err := strconv.Atoi(getPart(parts, 2, "-1"))
		if err != nil {
			return nil, err
		}
		return OpenUSB(getPart(parts, 1, ""), powerPin, variant, logFunc)

	case "platform":
		return OpenPlatform(getPart(parts, 1, ""), getPart(parts, 2, ""), variant, logFunc)
	}

	return nil, errors.New("device type not supported, use 'sim', 'usb' or 'platform'")
}
