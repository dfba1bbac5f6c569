// Package ota runs the dual-bank firmware update state machine.
//
// An update always targets the bank that is not running. The image is
// downloaded and written by a FlashDriver; only after it reports success is
// the target marked bootable and the node restarted. Any failure before
// MarkBootable leaves the boot selection untouched, so the node keeps
// booting the current bank.
package ota

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/bmac-node/internal/eventloop"
	"github.com/nerrad567/bmac-node/internal/node"
)

// Bank is a firmware bank number, 0 or 1.
type Bank int

// Valid reports whether b names one of the two banks.
func (b Bank) Valid() bool {
	return b == 0 || b == 1
}

// Other returns the bank that is not b.
func (b Bank) Other() Bank {
	return 1 - b
}

// State is the update state.
type State int

// States.
const (
	StateIdle State = iota
	StateDownloading
	StateFlashed
	StateRebooting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateFlashed:
		return "flashed"
	case StateRebooting:
		return "rebooting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FlashDriver writes images to banks and selects the boot bank.
type FlashDriver interface {
	// CurrentBank returns the bank the node booted from.
	CurrentBank() (Bank, error)

	// FlashToBank downloads url into bank asynchronously and calls done
	// exactly once, from any goroutine. Cancelling ctx aborts the download.
	FlashToBank(ctx context.Context, bank Bank, url string, done func(error))

	// MarkBootable selects bank for the next boot.
	MarkBootable(bank Bank) error
}

// System restarts the node.
type System interface {
	Restart(reason string) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is one update attempt.
type Session struct {
	ID     uuid.UUID
	Target Bank
	URL    string

	cancel context.CancelFunc
}

// Machine is the update state machine. All methods must be called on the
// event loop.
type Machine struct {
	sched  eventloop.Scheduler
	flash  FlashDriver
	system System
	node   *node.Context
	logger Logger

	state   State
	session *Session
	lastErr error
}

// New creates an idle Machine.
func New(sched eventloop.Scheduler, flash FlashDriver, system System, nc *node.Context) *Machine {
	return &Machine{
		sched:  sched,
		flash:  flash,
		system: system,
		node:   nc,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Progress and failures are reported through it.
func (m *Machine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Session returns the pending session, or nil.
func (m *Machine) Session() *Session {
	return m.session
}

// LastError returns the reason the most recent attempt failed, if any.
func (m *Machine) LastError() error {
	return m.lastErr
}

// Trigger starts an update, discarding any pending session first.
func (m *Machine) Trigger() {
	if prev := m.session; prev != nil {
		m.logger.Warn("discarding pending OTA session", "session", prev.ID.String())
		prev.cancel()
		m.session = nil
	}

	current, err := m.flash.CurrentBank()
	if err != nil {
		m.fail(nil, fmt.Errorf("%w: reading current bank: %w", ErrUpdateFailed, err))
		return
	}
	if !current.Valid() {
		m.fail(nil, fmt.Errorf("%w: %w: current bank %d", ErrUpdateFailed, ErrInvalidBank, current))
		return
	}

	base := m.node.OTABaseURL()
	if base == "" {
		m.fail(nil, fmt.Errorf("%w: no OTA base URL", ErrUpdateFailed))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.New(),
		Target: current.Other(),
		URL:    base + m.node.Fingerprint(),
		cancel: cancel,
	}
	m.session = s
	m.state = StateDownloading
	m.lastErr = nil

	m.logger.Info("updating firmware", "url", s.URL, "session", s.ID.String(), "bank", int(s.Target))
	m.flash.FlashToBank(ctx, s.Target, s.URL, func(err error) {
		m.sched.Post(func() { m.complete(s, err) })
	})
}

func (m *Machine) complete(s *Session, err error) {
	if m.session != s {
		m.logger.Debug("ignoring completion of discarded OTA session", "session", s.ID.String())
		return
	}
	if err != nil {
		m.fail(s, fmt.Errorf("%w: flashing bank %d: %w", ErrUpdateFailed, s.Target, err))
		return
	}

	m.state = StateFlashed
	if err := m.flash.MarkBootable(s.Target); err != nil {
		m.fail(s, fmt.Errorf("%w: marking bank %d bootable: %w", ErrUpdateFailed, s.Target, err))
		return
	}

	m.state = StateRebooting
	s.cancel()
	m.logger.Info("firmware updated, restarting", "session", s.ID.String(), "bank", int(s.Target))
	if err := m.system.Restart(fmt.Sprintf("firmware update to bank %d", s.Target)); err != nil {
		// The new bank is selected; it boots on the next start.
		m.logger.Error("restart after update failed", "error", err)
		m.session = nil
		m.state = StateIdle
	}
}

func (m *Machine) fail(s *Session, err error) {
	m.state = StateFailed
	m.lastErr = err
	m.logger.Error("firmware update failed", "error", err)

	if s != nil {
		s.cancel()
	}
	m.session = nil
	m.state = StateIdle
}
