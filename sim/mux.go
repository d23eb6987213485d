package sim

import "sync"

// Mux is a bus with several slaves. Addresses nobody listens on are not
// acknowledged.
type Mux struct {
	mu      sync.Mutex
	targets map[uint8]Target
}

func NewMux() *Mux {
	return &Mux{targets: make(map[uint8]Target)}
}

// Attach connects t at addr, replacing any previous slave there.
func (m *Mux) Attach(addr uint8, t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.targets[addr] = t
}

func (m *Mux) Detach(addr uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.targets, addr)
}

func (m *Mux) lookup(addr uint8) Target {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.targets[addr]
}

func (m *Mux) Write(addr uint8, p []byte) (int, error) {
	t := m.lookup(addr)
	if t == nil {
		return 0, ErrNack
	}
	return t.Write(addr, p)
}

func (m *Mux) Read(addr uint8, p []byte) (int, error) {
	t := m.lookup(addr)
	if t == nil {
		return 0, ErrNack
	}
	return t.Read(addr, p)
}

func (m *Mux) Stop(addr uint8) error {
	t := m.lookup(addr)
	if t == nil {
		return nil
	}
	return t.Stop(addr)
}
