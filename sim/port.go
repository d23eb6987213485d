package sim

import (
	"unsafe"

	"github.com/BertoldVdb/twim/nrf"
)

// Port is a simulated GPIO port. The embedded nrf.Port hands out pins whose
// configuration lands in the simulated registers.
type Port struct {
	*nrf.Port
	regs *regFile
}

type portRegs struct {
	*regFile
}

func (p portRegs) Load(r nrf.Register) uint32 {
	return p.load(r)
}

func (p portRegs) Store(r nrf.Register, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.log = append(p.log, Op{Reg: r, Value: v})
	p.regs[r] = v
}

func (p portRegs) StorePointer(r nrf.Register, ptr unsafe.Pointer) {
	p.Store(r, uint32(uintptr(ptr)))
}

func NewPort(num uint8, variant *nrf.Variant) *Port {
	regs := newRegFile()
	return &Port{
		Port: nrf.NewPort(portRegs{regs}, num, variant),
		regs: regs,
	}
}

// PinCnf returns the PIN_CNF value last written for pin n.
func (p *Port) PinCnf(n uint8) uint32 {
	return p.regs.load(p.Pin(n).CnfRegister())
}

// Log returns the register stores of the port.
func (p *Port) Log() []Op {
	return p.regs.Log()
}
