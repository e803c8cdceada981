package sim

import "github.com/RaresCon/tock/mem"

// MPU models the region protection unit: a handful of windows and an
// enable bit. It keeps a history of every configuration so tests can
// check exactly what was exposed before each resume.
type MPU struct {
	windows []mem.Window
	enabled bool

	history [][]mem.Window
}

func NewMPU() *MPU {
	return &MPU{}
}

func (m *MPU) Configure(windows []mem.Window) error {
	m.windows = append([]mem.Window(nil), windows...)
	m.history = append(m.history, m.windows)

	return nil
}

func (m *MPU) Enable() {
	m.enabled = true
}

func (m *MPU) Disable() {
	m.enabled = false
}

// Windows returns the currently programmed regions.
func (m *MPU) Windows() []mem.Window {
	return m.windows
}

// History returns every configuration ever programmed, in order.
func (m *MPU) History() [][]mem.Window {
	return m.history
}

// allowed checks one access against the programmed windows, the way
// the hardware would on every bus transaction.
func (m *MPU) allowed(addr uint32, write bool) bool {
	if !m.enabled {
		return false
	}

	for _, w := range m.windows {
		if !w.Contains(addr) {
			continue
		}

		if write && !w.Writable() {
			return false
		}

		return true
	}

	return false
}
