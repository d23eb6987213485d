package twim

// Error is the outcome of a failed transaction.
type Error uint8

const (
	// ErrTxBufferTooLong: the write buffer exceeds the EasyDMA burst size.
	ErrTxBufferTooLong Error = iota + 1
	// ErrRxBufferTooLong: the read buffer exceeds the EasyDMA burst size.
	ErrRxBufferTooLong
	// ErrTransmit: fewer bytes were written than requested.
	ErrTransmit
	// ErrReceive: fewer bytes were read than requested.
	ErrReceive
	// ErrDMABufferNotInDataMemory: a write buffer lies outside data RAM.
	ErrDMABufferNotInDataMemory
	// ErrAddressNack: the slave did not acknowledge its address.
	ErrAddressNack
)

var errorText = map[Error]string{
	ErrTxBufferTooLong:          "twim: tx buffer too long",
	ErrRxBufferTooLong:          "twim: rx buffer too long",
	ErrTransmit:                 "twim: short transmit",
	ErrReceive:                  "twim: short receive",
	ErrDMABufferNotInDataMemory: "twim: dma buffer not in data memory",
	ErrAddressNack:              "twim: address not acknowledged",
}

func (e Error) Error() string {
	if s, ok := errorText[e]; ok {
		return s
	}
	return "twim: unknown error"
}
