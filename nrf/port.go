package nrf

import "fmt"

// Port is a GPIO port register block.
type Port struct {
	Registers
	num     uint8
	variant *Variant
}

// NewPort wraps the registers of GPIO port num. Port 1 only exists on
// variants with HasPort1.
func NewPort(regs Registers, num uint8, variant *Variant) *Port {
	if num > 1 || (num == 1 && !variant.HasPort1) {
		panic(fmt.Sprintf("nrf: %s has no P%d", variant.Name, num))
	}
	return &Port{Registers: regs, num: num, variant: variant}
}

func (p *Port) Num() uint8 {
	return p.num
}

// Pin returns pin n of the port.
func (p *Port) Pin(n uint8) Pin {
	if n > 31 {
		panic(fmt.Sprintf("nrf: pin P%d.%02d does not exist", p.num, n))
	}
	return Pin{port: p, num: n}
}

// Pin is one GPIO pin. Its value can only be obtained from Port.Pin, so port
// and pin number always form a valid pair.
type Pin struct {
	port *Port
	num  uint8
}

func (p Pin) Port() uint8 {
	return p.port.num
}

func (p Pin) Pin() uint8 {
	return p.num
}

// PSEL returns the value selecting this pin in a peripheral PSEL register,
// with the CONNECT field set to connected.
func (p Pin) PSEL() uint32 {
	v := uint32(p.num) & PselPinMask
	if p.port.variant.HasPort1 {
		v |= uint32(p.port.num) << PselPortShift
	}
	return v
}

// CnfRegister returns the pin's PIN_CNF register in its port block.
func (p Pin) CnfRegister() Register {
	return p.port.variant.PinCnf(p.num)
}

// Configure writes the pin's PIN_CNF register.
func (p Pin) Configure(cnf uint32) {
	p.port.Store(p.CnfRegister(), cnf)
}

func (p Pin) String() string {
	return fmt.Sprintf("P%d.%02d", p.port.num, p.num)
}
