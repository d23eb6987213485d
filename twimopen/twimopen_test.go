package twimopen

import (
	"bytes"
	"errors"
	"testing"

	"github.com/BertoldVdb/twim/eeprom"
	"github.com/BertoldVdb/twim/nrf"
	"github.com/BertoldVdb/twim/twim"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestOpenSim(t *testing.T) {
	b, err := Open("sim", nil, t.Logf)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer b.Close()

	if b.String() != "SIM-0X50-256" {
		t.Errorf("String = %s", b.String())
	}
	if b.TWIM().Variant() != nrf.Target {
		t.Errorf("Variant = %s, want %s", b.TWIM().Variant(), nrf.Target)
	}
	if b.EEPROM == nil || len(b.EEPROM.Bytes()) != 256 {
		t.Fatal("no 256 byte EEPROM attached")
	}

	psel := nrf.NewPort(nil, 0, nrf.Target).Pin(PinSCL).PSEL()
	if got := b.Regs.Load(nrf.PselSCL); got != psel {
		t.Errorf("PSEL.SCL = 0x%08x, want 0x%08x", got, psel)
	}
	if b.Port.PinCnf(PinSDA) == 0 {
		t.Error("SDA pin not configured")
	}

	if err := b.Write(0x50, []byte{0x10, 0xAB, 0xCD}); err != nil {
		t.Fatalf("Write = %v", err)
	}
	if got := b.EEPROM.Bytes()[0x10:0x12]; !bytes.Equal(got, []byte{0xAB, 0xCD}) {
		t.Errorf("EEPROM = %x, want abcd", got)
	}

	if err := b.Write(0x51, []byte{0}); !errors.Is(err, twim.ErrAddressNack) {
		t.Errorf("Write to absent device = %v, want ErrAddressNack", err)
	}
}

func TestOpenSimEEPROM(t *testing.T) {
	b, err := Open("sim:0x54:1024", nrf.NRF52840, nil)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer b.Close()

	e, err := eeprom.New(b, 0x54, eeprom.Config{Size: 1024, PageSize: 16})
	if err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte{0x5A, 0xA5}, 300)
	if _, err := e.WriteAt(data, 100); err != nil {
		t.Fatalf("WriteAt = %v", err)
	}
	if got := b.EEPROM.Bytes()[100:700]; !bytes.Equal(got, data) {
		t.Error("EEPROM contents do not match")
	}
}

func TestOpenSimSmall(t *testing.T) {
	b, err := OpenSim(0x50, 128, nil, nil)
	if err != nil {
		t.Fatalf("OpenSim = %v", err)
	}
	defer b.Close()

	// A raw write into the last page wraps within it.
	if err := b.Tx(0x50, []byte{0x7A, 1, 2, 3, 4, 5, 6, 7}, nil); err != nil {
		t.Fatalf("Tx = %v", err)
	}
	if got := b.EEPROM.Bytes()[0x78:0x80]; !bytes.Equal(got, []byte{7, 0xFF, 1, 2, 3, 4, 5, 6}) {
		t.Errorf("last page = %x", got)
	}

	if _, err := OpenSim(0x50, 100, nil, nil); err == nil {
		t.Error("OpenSim accepted 100 bytes")
	}
}

func TestOpenErrors(t *testing.T) {
	for _, path := range []string{
		"",
		"spi",
		"sim:0x80",
		"sim:foo",
		"sim:0x50:300",
		"sim:0x50:100",
		"sim:0x50:4",
		"sim:0x50:bar",
		"sim:0x7E:1024",
		"usb::x",
	} {
		if b, err := Open(path, nil, nil); err == nil {
			b.Close()
			t.Errorf("Open(%q) succeeded", path)
		}
	}
}

func TestOpenTarget(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x3C, W: []byte{0x00}, R: []byte{0x42}},
		},
	}

	b, err := OpenTarget("TEST", pb, nrf.NRF52832, t.Logf)
	if err != nil {
		t.Fatal(err)
	}

	dev := &i2c.Dev{Bus: b, Addr: 0x3C}
	r := make([]byte, 1)
	if err := dev.Tx([]byte{0x00}, r); err != nil {
		t.Fatalf("Tx = %v", err)
	}
	if r[0] != 0x42 {
		t.Errorf("read 0x%02x, want 0x42", r[0])
	}

	if err := b.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if err := b.Tx(0x3C, []byte{0x00}, nil); !errors.Is(err, twim.ErrBusFreed) {
		t.Errorf("Tx after Close = %v, want ErrBusFreed", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestBusName(t *testing.T) {
	tests := []struct {
		path string
		name string
	}{
		{"sim:0x50:256", "SIM-0X50-256"},
		{"platform:/dev/i2c-1", "PLATFORM--DEV-I2C-1"},
		{"usb:", "USB-"},
	}

	for _, test := range tests {
		if got := busName(test.path); got != test.name {
			t.Errorf("busName(%q) = %q, want %q", test.path, got, test.name)
		}
	}
}
