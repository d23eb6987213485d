package twim

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BertoldVdb/twim/nrf"
	"github.com/BertoldVdb/twim/sim"
)

// slave records everything sent to it and answers reads from a fixed
// response. It NACKs every address except addr.
type slave struct {
	addr     uint8
	written  []byte
	response []byte

	// Short transfers: the number of bytes accepted per burst, -1 for all.
	writeLimit int
	readLimit  int
}

func newSlave(addr uint8) *slave {
	return &slave{addr: addr, writeLimit: -1, readLimit: -1}
}

func (s *slave) Write(addr uint8, p []byte) (int, error) {
	if addr != s.addr {
		return 0, sim.ErrNack
	}
	n := len(p)
	if s.writeLimit >= 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.written = append(s.written, p[:n]...)
	if n < len(p) {
		return n, errors.New("data NACK")
	}
	return n, nil
}

func (s *slave) Read(addr uint8, p []byte) (int, error) {
	if addr != s.addr {
		return 0, sim.ErrNack
	}
	n := len(p)
	if s.readLimit >= 0 && n > s.readLimit {
		n = s.readLimit
	}
	copy(p[:n], s.response)
	return n, nil
}

func (s *slave) Stop(addr uint8) error {
	return nil
}

func newTestTWIM(t *testing.T, target sim.Target, variant *nrf.Variant) (*TWIM, *sim.TWIM) {
	t.Helper()

	regs := sim.NewTWIM("TWIM0", target, nil)
	port := sim.NewPort(0, variant)

	tw := NewWithConfig(regs, Pins{SCL: port.Pin(27), SDA: port.Pin(26)}, K100, Config{
		Variant: variant,
		Memory:  regs.Memory(),
		LogFunc: t.Logf,
	})
	regs.ResetLog()

	return tw, regs
}

func checkIdle(t *testing.T, tw *TWIM, regs *sim.TWIM) {
	t.Helper()

	if s := tw.State(); s != StateIdle {
		t.Errorf("State = %s, want Idle", s)
	}
	if b := regs.Bus(); b != sim.BusIdle {
		t.Errorf("bus = %s, want Idle", b)
	}
	for _, ev := range []nrf.Register{nrf.EventsLastTX, nrf.EventsLastRX, nrf.EventsStopped} {
		if v := regs.Load(ev); v != nrf.Cleared {
			t.Errorf("%s = %d, want cleared", ev, v)
		}
	}
}

// =============================================================================
// Initialization
// =============================================================================

func TestNew(t *testing.T) {
	regs := sim.NewTWIM("TWIM1", newSlave(0x50), nil)
	port := sim.NewPort(1, nrf.NRF52840)

	tw := NewWithConfig(regs, Pins{SCL: port.Pin(2), SDA: port.Pin(3)}, K400, Config{Variant: nrf.NRF52840})

	want := map[nrf.Register]uint32{
		nrf.PselSCL:   1<<5 | 2,
		nrf.PselSDA:   1<<5 | 3,
		nrf.Enable:    nrf.EnableTWIM,
		nrf.Frequency: nrf.FrequencyK400,
	}
	for r, v := range want {
		if got := regs.Load(r); got != v {
			t.Errorf("%s = 0x%08x, want 0x%08x", r, got, v)
		}
	}

	// Input, buffer connected, pull-up, S0D1.
	const cnf = 0x0000060C
	for _, n := range []uint8{2, 3} {
		if got := port.PinCnf(n); got != cnf {
			t.Errorf("PIN_CNF[%d] = 0x%08x, want 0x%08x", n, got, cnf)
		}
	}

	if tw.Variant() != nrf.NRF52840 {
		t.Errorf("Variant = %s, want nrf52840", tw.Variant())
	}
	if tw.State() != StateIdle {
		t.Errorf("State = %s, want Idle", tw.State())
	}
}

func TestNewSinglePortPSEL(t *testing.T) {
	regs := sim.NewTWIM("TWIM0", newSlave(0x50), nil)
	port := sim.NewPort(0, nrf.NRF52832)

	NewWithConfig(regs, Pins{SCL: port.Pin(31), SDA: port.Pin(30)}, K100, Config{Variant: nrf.NRF52832})

	if got := regs.Load(nrf.PselSCL); got != 31 {
		t.Errorf("PSEL.SCL = %d, want 31", got)
	}
	if got := regs.Load(nrf.PselSDA); got != 30 {
		t.Errorf("PSEL.SDA = %d, want 30", got)
	}
}

func TestSetFrequency(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	tw.SetFrequency(K250)
	if got := regs.Load(nrf.Frequency); got != nrf.FrequencyK250 {
		t.Errorf("FREQUENCY = 0x%08x, want 0x%08x", got, nrf.FrequencyK250)
	}
}

// =============================================================================
// Write / Read
// =============================================================================

func TestWrite(t *testing.T) {
	s := newSlave(0x50)
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	if err := tw.Write(0x50, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Write = %v, want nil", err)
	}

	if got := regs.Load(nrf.TxdAmount); got != 3 {
		t.Errorf("TXD.AMOUNT = %d, want 3", got)
	}
	if !bytes.Equal(s.written, []byte{1, 2, 3}) {
		t.Errorf("slave got %x, want 010203", s.written)
	}
	if n := regs.Count(nrf.TasksStop); n != 1 {
		t.Errorf("STOP issued %d times, want 1", n)
	}
	checkIdle(t, tw, regs)
}

func TestWriteEmpty(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	if err := tw.Write(0x50, nil); err != nil {
		t.Errorf("Write(nil) = %v, want nil", err)
	}
	if err := tw.Write(0x51, nil); !errors.Is(err, ErrAddressNack) {
		t.Errorf("Write(nil) to absent slave = %v, want ErrAddressNack", err)
	}
	checkIdle(t, tw, regs)
}

func TestWriteErrors(t *testing.T) {
	s := newSlave(0x50)
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	if err := tw.Write(0x20, []byte{1}); !errors.Is(err, ErrAddressNack) {
		t.Errorf("Write to absent slave = %v, want ErrAddressNack", err)
	}
	if n := regs.Count(nrf.TasksStop); n != 1 {
		t.Errorf("STOP issued %d times after NACK, want 1", n)
	}
	checkIdle(t, tw, regs)

	s.writeLimit = 1
	if err := tw.Write(0x50, []byte{1, 2, 3}); !errors.Is(err, ErrTransmit) {
		t.Errorf("short write = %v, want ErrTransmit", err)
	}
	checkIdle(t, tw, regs)
}

func TestRead(t *testing.T) {
	s := newSlave(0x20)
	s.response = []byte{9, 8, 7, 6}
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	buf := make([]byte, 4)
	if err := tw.Read(0x20, buf); err != nil {
		t.Fatalf("Read = %v, want nil", err)
	}
	if !bytes.Equal(buf, s.response) {
		t.Errorf("read %x, want %x", buf, s.response)
	}
	if got := regs.Load(nrf.RxdAmount); got != 4 {
		t.Errorf("RXD.AMOUNT = %d, want 4", got)
	}
	checkIdle(t, tw, regs)
}

func TestReadShort(t *testing.T) {
	s := newSlave(0x20)
	s.readLimit = 2
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	buf := make([]byte, 4)
	if err := tw.Read(0x20, buf); !errors.Is(err, ErrReceive) {
		t.Errorf("Read = %v, want ErrReceive", err)
	}
	if err := tw.Read(0x21, buf); !errors.Is(err, ErrAddressNack) {
		t.Errorf("Read from absent slave = %v, want ErrAddressNack", err)
	}
	checkIdle(t, tw, regs)
}

func TestReadSkipsResidencyCheck(t *testing.T) {
	s := newSlave(0x20)
	s.response = []byte{1, 2}
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	buf := regs.Memory().Protected(make([]byte, 2))
	if err := tw.Read(0x20, buf); err != nil {
		t.Errorf("Read into protected buffer = %v, want nil", err)
	}
}

func TestTooLong(t *testing.T) {
	for _, v := range nrf.Variants {
		t.Run(v.Name, func(t *testing.T) {
			tw, regs := newTestTWIM(t, newSlave(0x50), v)

			long := make([]byte, v.EasyDMASize+1)
			ok := make([]byte, 1)

			cases := []struct {
				name string
				call func() error
				want error
			}{
				{"Write", func() error { return tw.Write(0x50, long) }, ErrTxBufferTooLong},
				{"Read", func() error { return tw.Read(0x50, long) }, ErrRxBufferTooLong},
				{"WriteThenRead tx", func() error { return tw.WriteThenRead(0x50, long, ok) }, ErrTxBufferTooLong},
				{"WriteThenRead rx", func() error { return tw.WriteThenRead(0x50, ok, long) }, ErrRxBufferTooLong},
				{"CopyWriteThenRead rx", func() error { return tw.CopyWriteThenRead(0x50, ok, long) }, ErrRxBufferTooLong},
			}
			for _, c := range cases {
				if err := c.call(); !errors.Is(err, c.want) {
					t.Errorf("%s = %v, want %v", c.name, err, c.want)
				}
				if n := len(regs.Log()); n != 0 {
					t.Errorf("%s wrote %d registers, want none", c.name, n)
				}
			}
		})
	}
}

// The 261 byte write from the nRF52832 documentation example.
func TestWriteTooLongNRF52832(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	if err := tw.Write(0x50, make([]byte, 261)); !errors.Is(err, ErrTxBufferTooLong) {
		t.Errorf("Write = %v, want ErrTxBufferTooLong", err)
	}
	if n := len(regs.Log()); n != 0 {
		t.Errorf("%d register writes observed, want 0", n)
	}
}

func TestNotInDataMemory(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)
	flash := regs.Memory().Protected([]byte{1, 2, 3})

	if err := tw.Write(0x50, flash); !errors.Is(err, ErrDMABufferNotInDataMemory) {
		t.Errorf("Write = %v, want ErrDMABufferNotInDataMemory", err)
	}
	if err := tw.WriteThenRead(0x50, flash, make([]byte, 1)); !errors.Is(err, ErrDMABufferNotInDataMemory) {
		t.Errorf("WriteThenRead = %v, want ErrDMABufferNotInDataMemory", err)
	}
	if n := len(regs.Log()); n != 0 {
		t.Errorf("%d register writes observed, want 0", n)
	}

	// Residency is checked before the length.
	long := regs.Memory().Protected(make([]byte, 300))
	if err := tw.Write(0x50, long); !errors.Is(err, ErrDMABufferNotInDataMemory) {
		t.Errorf("Write of long protected buffer = %v, want ErrDMABufferNotInDataMemory", err)
	}
}

func TestDefaultMemoryIsSRAMWindow(t *testing.T) {
	regs := sim.NewTWIM("TWIM0", newSlave(0x50), nil)
	port := sim.NewPort(0, nrf.NRF52832)
	tw := NewWithConfig(regs, Pins{SCL: port.Pin(0), SDA: port.Pin(1)}, K100, Config{Variant: nrf.NRF52832})
	regs.ResetLog()

	// Host heap addresses are far outside 0x2000_0000..0x3000_0000 on 64-bit
	// hosts, so every non-empty buffer is rejected.
	buf := make([]byte, 4)
	if nrf.SRAM.Contains(buf) {
		t.Skip("buffer happens to be in the SRAM window")
	}
	if err := tw.Write(0x50, buf); !errors.Is(err, ErrDMABufferNotInDataMemory) {
		t.Errorf("Write = %v, want ErrDMABufferNotInDataMemory", err)
	}
}

// =============================================================================
// WriteThenRead
// =============================================================================

func TestWriteThenRead(t *testing.T) {
	s := newSlave(0x20)
	s.response = []byte{0x11, 0x22, 0x33, 0x44}
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	rd := make([]byte, 4)
	if err := tw.WriteThenRead(0x20, []byte{0xAA}, rd); err != nil {
		t.Fatalf("WriteThenRead = %v, want nil", err)
	}

	if !bytes.Equal(rd, s.response) {
		t.Errorf("read %x, want %x", rd, s.response)
	}
	if !bytes.Equal(s.written, []byte{0xAA}) {
		t.Errorf("slave got %x, want aa", s.written)
	}

	// One transaction: START, repeated START, one STOP.
	if n := regs.Count(nrf.TasksStop); n != 1 {
		t.Errorf("STOP issued %d times, want 1", n)
	}
	if n := regs.Count(nrf.TasksStartTX); n != 1 {
		t.Errorf("STARTTX issued %d times, want 1", n)
	}
	if n := regs.Count(nrf.TasksStartRX); n != 1 {
		t.Errorf("STARTRX issued %d times, want 1", n)
	}

	var order []nrf.Register
	for _, op := range regs.Log() {
		switch op.Reg {
		case nrf.TasksStartTX, nrf.TasksStartRX, nrf.TasksStop:
			order = append(order, op.Reg)
		}
	}
	if fmt.Sprint(order) != fmt.Sprint([]nrf.Register{nrf.TasksStartTX, nrf.TasksStartRX, nrf.TasksStop}) {
		t.Errorf("task order = %v", order)
	}

	checkIdle(t, tw, regs)
}

func TestWriteThenReadNack(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	rd := make([]byte, 4)
	if err := tw.WriteThenRead(0x20, []byte{0xAA}, rd); !errors.Is(err, ErrAddressNack) {
		t.Fatalf("WriteThenRead = %v, want ErrAddressNack", err)
	}

	if !bytes.Equal(rd, make([]byte, 4)) {
		t.Errorf("read buffer modified: %x", rd)
	}
	if n := regs.Count(nrf.TasksStop); n != 1 {
		t.Errorf("STOP issued %d times, want 1", n)
	}
	if n := regs.Count(nrf.TasksStartRX); n != 0 {
		t.Errorf("STARTRX issued %d times, want 0", n)
	}
	if s := tw.State(); s != StateIdle {
		t.Errorf("State = %s, want Idle", s)
	}
	if b := regs.Bus(); b != sim.BusIdle {
		t.Errorf("bus = %s, want Idle", b)
	}
}

func TestWriteThenReadLengthErrors(t *testing.T) {
	cases := []struct {
		name       string
		writeLimit int
		readLimit  int
		want       error
	}{
		{"short write", 0, -1, ErrTransmit},
		{"short read", -1, 1, ErrReceive},
		{"both short", 0, 1, ErrTransmit},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newSlave(0x20)
			s.writeLimit = c.writeLimit
			s.readLimit = c.readLimit
			tw, regs := newTestTWIM(t, s, nrf.NRF52832)

			err := tw.WriteThenRead(0x20, []byte{1, 2}, make([]byte, 2))
			if !errors.Is(err, c.want) {
				t.Errorf("WriteThenRead = %v, want %v", err, c.want)
			}
			checkIdle(t, tw, regs)
		})
	}
}

func TestWriteThenReadEmptyRead(t *testing.T) {
	s := newSlave(0x20)
	tw, regs := newTestTWIM(t, s, nrf.NRF52832)

	if err := tw.WriteThenRead(0x20, []byte{1}, nil); err != nil {
		t.Errorf("WriteThenRead = %v, want nil", err)
	}
	checkIdle(t, tw, regs)
}

// =============================================================================
// CopyWriteThenRead
// =============================================================================

func maxCounts(regs *sim.TWIM) []int {
	var counts []int
	for _, op := range regs.Log() {
		if op.Reg == nrf.TxdMaxCnt {
			counts = append(counts, int(op.Value))
		}
	}
	return counts
}

func TestCopyWriteThenReadChunks(t *testing.T) {
	cases := []struct {
		variant *nrf.Variant
		n       int
		chunks  []int
	}{
		{nrf.NRF52832, 0, nil},
		{nrf.NRF52832, 1, []int{1}},
		{nrf.NRF52832, 255, []int{255}},
		{nrf.NRF52832, 256, []int{255, 1}},
		{nrf.NRF52832, 510, []int{255, 255}},
		{nrf.NRF52832, 600, []int{255, 255, 90}},
		{nrf.NRF52840, 2048, []int{1024, 1024}},
		{nrf.NRF52840, 2500, []int{1024, 1024, 452}},
		{nrf.NRF52810, 300, []int{255, 45}},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("%s/%d", c.variant, c.n), func(t *testing.T) {
			s := newSlave(0x50)
			s.response = []byte{0x5A, 0xA5}
			tw, regs := newTestTWIM(t, s, c.variant)

			src := make([]byte, c.n)
			for i := range src {
				src[i] = byte(i * 7)
			}
			flash := regs.Memory().Protected(src)

			rd := make([]byte, 2)
			if err := tw.CopyWriteThenRead(0x50, flash, rd); err != nil {
				t.Fatalf("CopyWriteThenRead = %v, want nil", err)
			}

			if got := maxCounts(regs); fmt.Sprint(got) != fmt.Sprint(c.chunks) {
				t.Errorf("chunks = %v, want %v", got, c.chunks)
			}
			if !bytes.Equal(s.written, src) {
				t.Errorf("slave got %d bytes, want %d in order", len(s.written), len(src))
			}
			if !bytes.Equal(rd, s.response) {
				t.Errorf("read %x, want %x", rd, s.response)
			}
			if n := regs.Count(nrf.RxdMaxCnt); n != 1 {
				t.Errorf("RXD.MAXCNT programmed %d times, want once", n)
			}
			if n := regs.Count(nrf.TasksStop); n != 1 {
				t.Errorf("STOP issued %d times, want 1", n)
			}
			checkIdle(t, tw, regs)
		})
	}
}

func TestCopyWriteThenReadShortChunk(t *testing.T) {
	s := newSlave(0x50)

	// The slave gives up inside the second chunk.
	calls := 0
	target := sim.TargetFuncs{
		WriteFunc: func(addr uint8, p []byte) (int, error) {
			calls++
			if calls == 2 {
				return 10, errors.New("data NACK")
			}
			return s.Write(addr, p)
		},
		ReadFunc: s.Read,
	}
	tw, regs := newTestTWIM(t, target, nrf.NRF52832)
	src := make([]byte, 600)

	rd := []byte{0xEE}
	if err := tw.CopyWriteThenRead(0x50, src, rd); !errors.Is(err, ErrTransmit) {
		t.Fatalf("CopyWriteThenRead = %v, want ErrTransmit", err)
	}
	if n := regs.Count(nrf.TasksStartTX); n != 2 {
		t.Errorf("STARTTX issued %d times, want 2", n)
	}
	if n := regs.Count(nrf.TasksStartRX); n != 0 {
		t.Errorf("STARTRX issued %d times, want 0", n)
	}
	if rd[0] != 0xEE {
		t.Errorf("read buffer modified: %x", rd)
	}
	checkIdle(t, tw, regs)
}

func TestCopyWriteThenReadNackIsTransmit(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	err := tw.CopyWriteThenRead(0x20, []byte{1, 2, 3}, make([]byte, 1))
	if !errors.Is(err, ErrTransmit) {
		t.Errorf("CopyWriteThenRead = %v, want ErrTransmit", err)
	}
	checkIdle(t, tw, regs)
}

// =============================================================================
// Release
// =============================================================================

func TestFree(t *testing.T) {
	tw, regs := newTestTWIM(t, newSlave(0x50), nrf.NRF52832)

	inst := tw.Free()
	if inst != Instance(regs) {
		t.Error("Free did not return the instance")
	}
	if n := len(regs.Log()); n != 0 {
		t.Errorf("Free wrote %d registers, want none", n)
	}

	defer func() {
		r := recover()
		if r == nil || !strings.Contains(fmt.Sprint(r), "freed") {
			t.Errorf("use after Free: recover() = %v, want panic", r)
		}
	}()
	tw.Write(0x50, []byte{1})
}

// =============================================================================
// Misc
// =============================================================================

func TestErrorText(t *testing.T) {
	if s := ErrAddressNack.Error(); s != "twim: address not acknowledged" {
		t.Errorf("Error = %q", s)
	}
	if s := Error(0).Error(); s != "twim: unknown error" {
		t.Errorf("Error(0) = %q", s)
	}

	var err error = ErrReceive
	var e Error
	if !errors.As(fmt.Errorf("wrapped: %w", err), &e) || e != ErrReceive {
		t.Errorf("errors.As = %v, want ErrReceive", e)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle:    "Idle",
		StateAddress: "Address",
		StateTx:      "Tx",
		StateRx:      "Rx",
		StateStop:    "Stop",
		State(99):    "Unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d) = %s, want %s", s, s.String(), w)
		}
	}
}

func TestLogging(t *testing.T) {
	var lines []string
	logf := func(format string, params ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, params...))
	}

	s := newSlave(0x50)
	regs := sim.NewTWIM("TWIM0", s, nil)
	port := sim.NewPort(0, nrf.NRF52832)
	tw := NewWithConfig(regs, Pins{SCL: port.Pin(0), SDA: port.Pin(1)}, K100, Config{
		Variant: nrf.NRF52832,
		Memory:  regs.Memory(),
		LogFunc: logf,
	})

	tw.Write(0x50, []byte{0xBE, 0xEF})
	tw.Write(0x51, []byte{0xBE, 0xEF})

	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "TWIM0 enabled on nrf52832") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], " * ") || !strings.Contains(lines[1], "0x50: beef") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], ErrAddressNack.Error()) {
		t.Errorf("line 2 = %q", lines[2])
	}
}
