// Package arbiter tracks which GPIO pins are owned by an active module.
//
// GPIO numbers are mapped to fixed bit positions in a 32-bit claim table.
// Numbers outside the map are rejected before the table is consulted.
package arbiter

import (
	"fmt"
	"sort"
)

// pinBits maps a GPIO number to its bit in the claim table.
var pinBits = map[int]uint{
	0:  0,
	1:  1,
	2:  2,
	3:  3,
	4:  4,
	5:  5,
	9:  6,
	10: 7,
	12: 8,
	13: 9,
	14: 10,
	15: 11,
	16: 12,
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Arbiter owns the claim table.
//
// It is not safe for concurrent use; all calls come from the event loop.
type Arbiter struct {
	claimed uint32
	logger  Logger
}

// New creates an Arbiter with an empty claim table.
func New() *Arbiter {
	return &Arbiter{logger: noopLogger{}}
}

// SetLogger sets the logger for claim/release outcomes.
func (a *Arbiter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// Claim takes ownership of a GPIO pin.
func (a *Arbiter) Claim(pin int) error {
	bit, ok := pinBits[pin]
	if !ok {
		a.logger.Error("pin claim rejected", "pin", pin, "error", ErrInvalidPin)
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	mask := uint32(1) << bit
	if a.claimed&mask != 0 {
		a.logger.Error("pin already claimed", "pin", pin)
		return fmt.Errorf("%w: pin %d already claimed", ErrResourceConflict, pin)
	}
	a.claimed |= mask
	a.logger.Info("pin claimed", "pin", pin)
	return nil
}

// Release gives up ownership of a GPIO pin.
func (a *Arbiter) Release(pin int) error {
	bit, ok := pinBits[pin]
	if !ok {
		a.logger.Error("pin release rejected", "pin", pin, "error", ErrInvalidPin)
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	mask := uint32(1) << bit
	if a.claimed&mask == 0 {
		a.logger.Error("pin not claimed", "pin", pin)
		return fmt.Errorf("%w: pin %d not claimed", ErrResourceConflict, pin)
	}
	a.claimed ^= mask
	a.logger.Info("pin released", "pin", pin)
	return nil
}

// IsClaimed reports whether pin is currently claimed. Unmapped pins are never claimed.
func (a *Arbiter) IsClaimed(pin int) bool {
	bit, ok := pinBits[pin]
	return ok && a.claimed&(uint32(1)<<bit) != 0
}

// Claimed returns the raw claim table.
func (a *Arbiter) Claimed() uint32 {
	return a.claimed
}

// ClaimedPins returns the claimed GPIO numbers in ascending order.
func (a *Arbiter) ClaimedPins() []int {
	var pins []int
	for pin, bit := range pinBits {
		if a.claimed&(uint32(1)<<bit) != 0 {
			pins = append(pins, pin)
		}
	}
	sort.Ints(pins)
	return pins
}

// ValidPin reports whether pin is in the pin map.
func ValidPin(pin int) bool {
	_, ok := pinBits[pin]
	return ok
}
