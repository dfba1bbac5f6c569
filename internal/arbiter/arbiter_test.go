package arbiter

import (
	"errors"
	"testing"
)

// recordingLogger counts log calls by level.
type recordingLogger struct {
	infos  int
	errors int
}

func (l *recordingLogger) Info(string, ...any)  { l.infos++ }
func (l *recordingLogger) Error(string, ...any) { l.errors++ }

var mappedPins = []int{0, 1, 2, 3, 4, 5, 9, 10, 12, 13, 14, 15, 16}

func TestClaim_InvalidPinLeavesTableUnchanged(t *testing.T) {
	a := New()
	if err := a.Claim(4); err != nil {
		t.Fatalf("Claim(4) error = %v", err)
	}
	before := a.Claimed()

	for _, pin := range []int{-1, 6, 7, 8, 11, 17, 31, 32, 1000} {
		if err := a.Claim(pin); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("Claim(%d) error = %v, want ErrInvalidPin", pin, err)
		}
		if err := a.Release(pin); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("Release(%d) error = %v, want ErrInvalidPin", pin, err)
		}
		if a.Claimed() != before {
			t.Fatalf("claim table changed after invalid pin %d: %#x -> %#x", pin, before, a.Claimed())
		}
	}
}

func TestClaim_TwiceConflicts(t *testing.T) {
	for _, pin := range mappedPins {
		a := New()
		if err := a.Claim(pin); err != nil {
			t.Fatalf("Claim(%d) error = %v", pin, err)
		}
		before := a.Claimed()
		if err := a.Claim(pin); !errors.Is(err, ErrResourceConflict) {
			t.Errorf("second Claim(%d) error = %v, want ErrResourceConflict", pin, err)
		}
		if a.Claimed() != before {
			t.Errorf("claim table changed on conflicting claim of %d", pin)
		}
	}
}

func TestRelease_ThenClaimSucceeds(t *testing.T) {
	a := New()
	if err := a.Claim(12); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := a.Release(12); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if a.IsClaimed(12) {
		t.Error("pin 12 still claimed after release")
	}
	if err := a.Claim(12); err != nil {
		t.Errorf("Claim() after release error = %v", err)
	}
}

func TestRelease_UnclaimedConflicts(t *testing.T) {
	a := New()
	if err := a.Claim(0); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	before := a.Claimed()

	if err := a.Release(5); !errors.Is(err, ErrResourceConflict) {
		t.Errorf("Release(5) error = %v, want ErrResourceConflict", err)
	}
	if a.Claimed() != before {
		t.Errorf("claim table changed: %#x -> %#x", before, a.Claimed())
	}
}

func TestClaim_BitPositions(t *testing.T) {
	a := New()
	for i, pin := range mappedPins {
		if err := a.Claim(pin); err != nil {
			t.Fatalf("Claim(%d) error = %v", pin, err)
		}
		want := uint32(1)<<(i+1) - 1
		if a.Claimed() != want {
			t.Errorf("after claiming %d table = %#x, want %#x", pin, a.Claimed(), want)
		}
	}
	if got := a.ClaimedPins(); len(got) != len(mappedPins) {
		t.Errorf("ClaimedPins() = %v", got)
	}
}

func TestLogging(t *testing.T) {
	a := New()
	logger := &recordingLogger{}
	a.SetLogger(logger)

	_ = a.Claim(4)
	_ = a.Claim(4)
	_ = a.Release(4)
	_ = a.Release(4)
	_ = a.Claim(99)

	if logger.infos != 2 {
		t.Errorf("info logs = %d, want 2", logger.infos)
	}
	if logger.errors != 3 {
		t.Errorf("error logs = %d, want 3", logger.errors)
	}
}

func TestValidPin(t *testing.T) {
	for _, pin := range mappedPins {
		if !ValidPin(pin) {
			t.Errorf("ValidPin(%d) = false", pin)
		}
	}
	if ValidPin(8) {
		t.Error("ValidPin(8) = true")
	}
}
