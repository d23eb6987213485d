package nrf

import (
	"fmt"
	"strings"
	"unsafe"
)

// MaxForceCopyBufferSize is the largest ForceCopyBufferSize of any variant. It
// sizes the staging buffers of the copy fallback at compile time.
const MaxForceCopyBufferSize = 1024

// Region is an address window EasyDMA can reach.
type Region struct {
	Lower uintptr
	Upper uintptr
}

// ContainsRange reports whether the n bytes starting at p lie in the region.
func (r Region) ContainsRange(p uintptr, n int) bool {
	return p >= r.Lower && p+uintptr(n) < r.Upper
}

// Contains reports whether b lies in the region. Empty slices are never
// dereferenced by EasyDMA and are accepted.
func (r Region) Contains(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return r.ContainsRange(uintptr(unsafe.Pointer(&b[0])), len(b))
}

// SRAM is the data RAM window of all supported variants.
var SRAM = Region{Lower: 0x2000_0000, Upper: 0x3000_0000}

// Variant holds the constants that differ between chip models sharing the
// driver.
type Variant struct {
	Name string

	// EasyDMASize is the largest MAXCNT of a single burst.
	EasyDMASize int
	// ForceCopyBufferSize is the size of the RAM staging buffer used when a
	// transmit buffer is outside SRAM.
	ForceCopyBufferSize int

	SRAM     Region
	HasPort1 bool

	TWIMBase     []uintptr
	GPIOBase     []uintptr
	PinCnfOffset Register
}

// PinCnf returns the PIN_CNF register of pin n.
func (v *Variant) PinCnf(n uint8) Register {
	return v.PinCnfOffset + Register(n)*4
}

// TWIM returns the register block of TWIM instance n.
func (v *Variant) TWIM(n int) *MMIO {
	if n < 0 || n >= len(v.TWIMBase) {
		panic(fmt.Sprintf("nrf: %s has no TWIM%d", v.Name, n))
	}
	return NewMMIO(fmt.Sprintf("TWIM%d", n), v.TWIMBase[n])
}

// Port returns GPIO port n.
func (v *Variant) Port(n uint8) *Port {
	if int(n) >= len(v.GPIOBase) {
		panic(fmt.Sprintf("nrf: %s has no P%d", v.Name, n))
	}
	return NewPort(NewMMIO(fmt.Sprintf("P%d", n), v.GPIOBase[n]), n, v)
}

func (v *Variant) String() string {
	return v.Name
}

var nrf52TWIM = []uintptr{0x4000_3000, 0x4000_4000}

var (
	NRF52810 = &Variant{
		Name:                "nrf52810",
		EasyDMASize:         (1 << 10) - 1,
		ForceCopyBufferSize: 255,
		SRAM:                SRAM,
		TWIMBase:            nrf52TWIM[:1],
		GPIOBase:            []uintptr{0x5000_0000},
		PinCnfOffset:        0x700,
	}

	NRF52811 = &Variant{
		Name:                "nrf52811",
		EasyDMASize:         (1 << 14) - 1,
		ForceCopyBufferSize: 1024,
		SRAM:                SRAM,
		TWIMBase:            nrf52TWIM[:1],
		GPIOBase:            []uintptr{0x5000_0000},
		PinCnfOffset:        0x700,
	}

	NRF52832 = &Variant{
		Name:                "nrf52832",
		EasyDMASize:         (1 << 8) - 1,
		ForceCopyBufferSize: 255,
		SRAM:                SRAM,
		TWIMBase:            nrf52TWIM,
		GPIOBase:            []uintptr{0x5000_0000},
		PinCnfOffset:        0x700,
	}

	NRF52833 = &Variant{
		Name:                "nrf52833",
		EasyDMASize:         (1 << 16) - 1,
		ForceCopyBufferSize: 1024,
		SRAM:                SRAM,
		HasPort1:            true,
		TWIMBase:            nrf52TWIM,
		GPIOBase:            []uintptr{0x5000_0000, 0x5000_0300},
		PinCnfOffset:        0x700,
	}

	NRF52840 = &Variant{
		Name:                "nrf52840",
		EasyDMASize:         (1 << 16) - 1,
		ForceCopyBufferSize: 1024,
		SRAM:                SRAM,
		HasPort1:            true,
		TWIMBase:            nrf52TWIM,
		GPIOBase:            []uintptr{0x5000_0000, 0x5000_0300},
		PinCnfOffset:        0x700,
	}

	// NRF9160 uses the non-secure aliases of its peripherals.
	NRF9160 = &Variant{
		Name:                "nrf9160",
		EasyDMASize:         (1 << 12) - 1,
		ForceCopyBufferSize: 1024,
		SRAM:                SRAM,
		TWIMBase:            []uintptr{0x4000_8000, 0x4000_9000, 0x4000_A000, 0x4000_B000},
		GPIOBase:            []uintptr{0x4084_2500},
		PinCnfOffset:        0x200,
	}
)

// Variants lists every supported chip model.
var Variants = []*Variant{NRF52810, NRF52811, NRF52832, NRF52833, NRF52840, NRF9160}

// VariantByName looks up a variant by its name, e.g. "nrf52840".
func VariantByName(name string) (*Variant, error) {
	for _, v := range Variants {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unknown variant '%s'", name)
}
