// Package module maps the 32-bit activation mask onto feature modules.
//
// Each module declares the buses and GPIO pins it needs. Starting a module
// claims those resources through the arbiter; stopping releases them. Buses
// are shared: the first user claims the bus pins and the last one to stop
// releases them. Modules in one exclusive group (the UART users) never run
// together; the lowest bit wins.
package module

import (
	"errors"
	"fmt"

	"github.com/nerrad567/bmac-node/internal/store"
)

// Claimer is the arbiter surface the manager needs.
type Claimer interface {
	Claim(pin int) error
	Release(pin int) error
}

// Feature is optional per-module behavior. Start runs after the module's
// resources are claimed; Stop runs before they are released.
type Feature interface {
	Start() error
	Stop() error
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the active module set. It is not safe for concurrent use.
type Manager struct {
	claims   Claimer
	store    store.Store
	logger   Logger
	features map[ID]Feature
	busUsers map[Bus]int
	active   uint32
}

// New creates a Manager with no active modules.
func New(claims Claimer, st store.Store) *Manager {
	return &Manager{
		claims:   claims,
		store:    st,
		logger:   noopLogger{},
		features: make(map[ID]Feature),
		busUsers: make(map[Bus]int),
	}
}

// SetLogger sets the logger for activation outcomes.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Register attaches behavior to a module. Replaces any earlier registration.
func (m *Manager) Register(id ID, f Feature) error {
	if _, ok := lookup(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, uint(id))
	}
	m.features[id] = f
	return nil
}

// ActiveMask returns the mask of running modules.
func (m *Manager) ActiveMask() uint32 {
	return m.active
}

// Active returns the running modules in bit order.
func (m *Manager) Active() []ID {
	var ids []ID
	for _, s := range table {
		if m.active&s.ID.Bit() != 0 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// ApplyBitmask reconciles the running modules with newMask and returns the
// resulting active mask. A module that cannot start is skipped without
// affecting the others. The active mask is persisted when it differs from
// the stored one.
func (m *Manager) ApplyBitmask(newMask uint32) uint32 {
	desired := m.resolve(newMask)

	for i := len(table) - 1; i >= 0; i-- {
		s := table[i]
		if m.active&s.ID.Bit() != 0 && desired&s.ID.Bit() == 0 {
			m.stop(s)
		}
	}

	for _, s := range table {
		if desired&s.ID.Bit() == 0 || m.active&s.ID.Bit() != 0 {
			continue
		}
		if err := m.start(s); err != nil {
			m.logger.Error("module not started", "module", s.Name, "error", err)
			continue
		}
		m.logger.Info("module started", "module", s.Name)
	}

	m.persist()
	return m.active
}

// resolve drops unknown bits and all but the lowest bit of each exclusive group.
func (m *Manager) resolve(mask uint32) uint32 {
	if unknown := mask &^ knownMask; unknown != 0 {
		m.logger.Warn("ignoring unknown module bits", "bits", fmt.Sprintf("%#x", unknown))
		mask &= knownMask
	}

	honored := make(map[string]ID)
	for _, s := range table {
		if s.Group == "" || mask&s.ID.Bit() == 0 {
			continue
		}
		if winner, ok := honored[s.Group]; ok {
			m.logger.Warn("exclusive module skipped", "module", s.Name, "group", s.Group, "active", winner.String())
			mask &^= s.ID.Bit()
			continue
		}
		honored[s.Group] = s.ID
	}
	return mask
}

func (m *Manager) start(s Spec) error {
	var buses []Bus
	var pins []int
	rollback := func() {
		for i := len(pins) - 1; i >= 0; i-- {
			m.claims.Release(pins[i]) //nolint:errcheck // Releasing a pin we just claimed
		}
		for i := len(buses) - 1; i >= 0; i-- {
			m.releaseBus(buses[i])
		}
	}

	for _, b := range s.Buses {
		if err := m.acquireBus(b); err != nil {
			rollback()
			return fmt.Errorf("%w: %s bus: %w", ErrStartFailed, b, err)
		}
		buses = append(buses, b)
	}
	for _, p := range s.Pins {
		if err := m.claims.Claim(p); err != nil {
			rollback()
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
		pins = append(pins, p)
	}

	if f, ok := m.features[s.ID]; ok && f != nil {
		if err := f.Start(); err != nil {
			rollback()
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
	}

	m.active |= s.ID.Bit()
	return nil
}

func (m *Manager) stop(s Spec) {
	if f, ok := m.features[s.ID]; ok && f != nil {
		if err := f.Stop(); err != nil {
			m.logger.Warn("module stop reported error", "module", s.Name, "error", err)
		}
	}
	for i := len(s.Pins) - 1; i >= 0; i-- {
		if err := m.claims.Release(s.Pins[i]); err != nil {
			m.logger.Error("releasing module pin", "module", s.Name, "pin", s.Pins[i], "error", err)
		}
	}
	for i := len(s.Buses) - 1; i >= 0; i-- {
		m.releaseBus(s.Buses[i])
	}
	m.active &^= s.ID.Bit()
	m.logger.Info("module stopped", "module", s.Name)
}

func (m *Manager) acquireBus(b Bus) error {
	if m.busUsers[b] > 0 {
		m.busUsers[b]++
		return nil
	}
	pins := busPins[b]
	for i, p := range pins {
		if err := m.claims.Claim(p); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.claims.Release(pins[j]) //nolint:errcheck // Releasing a pin we just claimed
			}
			return err
		}
	}
	m.busUsers[b] = 1
	return nil
}

func (m *Manager) releaseBus(b Bus) {
	if m.busUsers[b] == 0 {
		return
	}
	m.busUsers[b]--
	if m.busUsers[b] > 0 {
		return
	}
	for _, p := range busPins[b] {
		if err := m.claims.Release(p); err != nil {
			m.logger.Error("releasing bus pin", "bus", b.String(), "pin", p, "error", err)
		}
	}
}

func (m *Manager) persist() {
	stored, err := store.ReadModuleMask(m.store)
	switch {
	case err == nil && stored == m.active:
		return
	case err != nil && !errors.Is(err, store.ErrNotFound):
		m.logger.Warn("stored module mask unreadable, rewriting", "error", err)
	}

	if err := store.WriteModuleMask(m.store, m.active); err != nil {
		m.logger.Error("persisting module mask", "mask", fmt.Sprintf("%#x", m.active), "error", err)
		return
	}
	m.logger.Info("module mask persisted", "mask", fmt.Sprintf("%#x", m.active))
}
