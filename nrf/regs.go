// Package nrf describes the parts of the nRF52/nRF91 register map used by the
// TWIM driver: register offsets and field values for TWIM and GPIO, the chip
// variant table and a memory mapped register block.
//
// See product specification:
//
//   - nRF52832: Section 33
//   - nRF52840: Section 6.31
//   - nRF9160: Section 5.19
package nrf

import (
	"fmt"
	"unsafe"
)

// Register is the byte offset of a register from the base address of its
// peripheral.
type Register uintptr

// Registers is the access surface of one peripheral register block. Loads and
// stores are volatile: every call reaches the peripheral.
type Registers interface {
	Load(r Register) uint32
	Store(r Register, v uint32)

	// StorePointer stores the address of p, used for EasyDMA pointer
	// registers.
	StorePointer(r Register, p unsafe.Pointer)
}

// TWIM registers.
const (
	TasksStartRX  Register = 0x000
	TasksStartTX  Register = 0x008
	TasksStop     Register = 0x014
	EventsStopped Register = 0x104
	EventsError   Register = 0x124
	EventsLastRX  Register = 0x15C
	EventsLastTX  Register = 0x160
	ErrorSrc      Register = 0x4C4
	Enable        Register = 0x500
	PselSCL       Register = 0x508
	PselSDA       Register = 0x50C
	Frequency     Register = 0x524
	RxdPtr        Register = 0x534
	RxdMaxCnt     Register = 0x538
	RxdAmount     Register = 0x53C
	TxdPtr        Register = 0x544
	TxdMaxCnt     Register = 0x548
	TxdAmount     Register = 0x54C
	Address       Register = 0x588
)

var registerNames = map[Register]string{
	TasksStartRX:  "TASKS_STARTRX",
	TasksStartTX:  "TASKS_STARTTX",
	TasksStop:     "TASKS_STOP",
	EventsStopped: "EVENTS_STOPPED",
	EventsError:   "EVENTS_ERROR",
	EventsLastRX:  "EVENTS_LASTRX",
	EventsLastTX:  "EVENTS_LASTTX",
	ErrorSrc:      "ERRORSRC",
	Enable:        "ENABLE",
	PselSCL:       "PSEL.SCL",
	PselSDA:       "PSEL.SDA",
	Frequency:     "FREQUENCY",
	RxdPtr:        "RXD.PTR",
	RxdMaxCnt:     "RXD.MAXCNT",
	RxdAmount:     "RXD.AMOUNT",
	TxdPtr:        "TXD.PTR",
	TxdMaxCnt:     "TXD.MAXCNT",
	TxdAmount:     "TXD.AMOUNT",
	Address:       "ADDRESS",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("0x%03X", uintptr(r))
}

// Task and event values.
const (
	Trigger   uint32 = 1
	Generated uint32 = 1
	Cleared   uint32 = 0
)

// ERRORSRC fields. Bits are cleared by writing 1.
const (
	ErrorSrcOverrun uint32 = 1 << 0
	ErrorSrcANACK   uint32 = 1 << 1
	ErrorSrcDNACK   uint32 = 1 << 2
)

// ENABLE values.
const (
	EnableDisabled uint32 = 0
	EnableTWIM     uint32 = 6
)

// PSEL fields.
const (
	PselPinMask      uint32 = 0x1F
	PselPortShift           = 5
	PselDisconnected uint32 = 1 << 31
)

// FREQUENCY values.
const (
	FrequencyK100 uint32 = 0x01980000
	FrequencyK250 uint32 = 0x04000000
	FrequencyK400 uint32 = 0x06400000
)

// GPIO PIN_CNF fields.
const (
	PinCnfDirInput  uint32 = 0 << 0
	PinCnfDirOutput uint32 = 1 << 0

	PinCnfInputConnect    uint32 = 0 << 1
	PinCnfInputDisconnect uint32 = 1 << 1

	PinCnfPullDisabled uint32 = 0 << 2
	PinCnfPullDown     uint32 = 1 << 2
	PinCnfPullUp       uint32 = 3 << 2

	PinCnfDriveS0S1 uint32 = 0 << 8
	PinCnfDriveS0D1 uint32 = 6 << 8
	PinCnfDriveH0D1 uint32 = 7 << 8

	PinCnfSenseDisabled uint32 = 0 << 16
)
