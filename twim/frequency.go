package twim

import (
	"fmt"

	"github.com/BertoldVdb/twim/nrf"
	"periph.io/x/conn/v3/physic"
)

// Frequency is a FREQUENCY register value.
type Frequency uint32

const (
	K100 Frequency = Frequency(nrf.FrequencyK100)
	K250 Frequency = Frequency(nrf.FrequencyK250)
	K400 Frequency = Frequency(nrf.FrequencyK400)
)

var frequencies = []struct {
	f  Frequency
	hz physic.Frequency
}{
	{K100, 100 * physic.KiloHertz},
	{K250, 250 * physic.KiloHertz},
	{K400, 400 * physic.KiloHertz},
}

// Hertz returns the nominal bus clock, or 0 for an unknown register value.
func (f Frequency) Hertz() physic.Frequency {
	for _, m := range frequencies {
		if m.f == f {
			return m.hz
		}
	}
	return 0
}

func (f Frequency) String() string {
	if hz := f.Hertz(); hz != 0 {
		return hz.String()
	}
	return fmt.Sprintf("Frequency(0x%08X)", uint32(f))
}

// FrequencyFromHertz maps a bus clock to the register value. Only the three
// clocks the peripheral supports are accepted.
func FrequencyFromHertz(hz physic.Frequency) (Frequency, error) {
	for _, m := range frequencies {
		if m.hz == hz {
			return m.f, nil
		}
	}
	return 0, fmt.Errorf("twim: unsupported bus frequency %s", hz)
}
