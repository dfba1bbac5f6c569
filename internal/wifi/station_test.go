package wifi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
	"github.com/nerrad567/bmac-node/internal/store"
)

// ============================================================================
// Station
// ============================================================================

type outcome struct {
	up   chan struct{}
	down chan error
}

func newOutcome() *outcome {
	return &outcome{up: make(chan struct{}, 1), down: make(chan error, 1)}
}

func (o *outcome) onUp()            { o.up <- struct{}{} }
func (o *outcome) onDown(err error) { o.down <- err }

func newTestStation(link *atomic.Bool) *Station {
	st := NewStation(config.WiFiConfig{}, "wlan-test")
	st.poll = 5 * time.Millisecond
	st.timeout = 200 * time.Millisecond
	st.probe = func(string) bool { return link.Load() }
	return st
}

func TestStation_UpThenLost(t *testing.T) {
	var link atomic.Bool
	st := newTestStation(&link)
	defer st.Stop()

	o := newOutcome()
	st.Associate(store.WiFiCredentials{SSID: "lab"}, o.onUp, o.onDown)
	link.Store(true)

	select {
	case <-o.up:
	case err := <-o.down:
		t.Fatalf("onDown(%v) before link up", err)
	case <-time.After(2 * time.Second):
		t.Fatal("onUp not called")
	}

	link.Store(false)
	select {
	case err := <-o.down:
		if !errors.Is(err, ErrLinkLost) {
			t.Errorf("onDown(%v), want ErrLinkLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onDown not called after link loss")
	}
}

func TestStation_Timeout(t *testing.T) {
	var link atomic.Bool
	st := newTestStation(&link)
	defer st.Stop()

	o := newOutcome()
	st.Associate(store.WiFiCredentials{SSID: "lab"}, o.onUp, o.onDown)

	select {
	case err := <-o.down:
		if !errors.Is(err, ErrAssociationTimeout) {
			t.Errorf("onDown(%v), want ErrAssociationTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("association did not time out")
	}
}

func TestStation_ReassociateAbandonsPrevious(t *testing.T) {
	var link atomic.Bool
	st := newTestStation(&link)
	defer st.Stop()

	first := newOutcome()
	st.Associate(store.WiFiCredentials{SSID: "a"}, first.onUp, first.onDown)
	second := newOutcome()
	st.Associate(store.WiFiCredentials{SSID: "b"}, second.onUp, second.onDown)
	link.Store(true)

	select {
	case <-second.up:
	case <-time.After(2 * time.Second):
		t.Fatal("second attempt did not report up")
	}
	select {
	case <-first.up:
		t.Error("abandoned attempt reported up")
	case <-first.down:
		t.Error("abandoned attempt reported down")
	default:
	}
}

func TestStation_AssociateReturnsWhileSupplicantRestarts(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	var link atomic.Bool
	link.Store(true)
	st := newTestStation(&link)
	st.timeout = 5 * time.Second
	// Ignores SIGTERM, so every restart waits out the graceful timeout.
	st.supplicant = NewSupplicant(SupplicantOptions{
		Binary:          "/bin/sh",
		Args:            []string{"-c", "trap '' TERM; sleep 60"},
		ConfigPath:      filepath.Join(t.TempDir(), "wpa_supplicant.conf"),
		GracefulTimeout: 300 * time.Millisecond,
	})
	if err := st.supplicant.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer st.Stop()

	o := newOutcome()
	start := time.Now()
	st.Associate(store.WiFiCredentials{SSID: "lab"}, o.onUp, o.onDown)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Associate() took %v, want it to return before the supplicant restarts", elapsed)
	}

	select {
	case <-o.up:
	case err := <-o.down:
		t.Fatalf("onDown(%v), want onUp", err)
	case <-time.After(3 * time.Second):
		t.Fatal("onUp not called after supplicant restart")
	}
	if !st.supplicant.IsRunning() {
		t.Error("supplicant not running after association")
	}
}

func TestStation_SupplicantFailureReportedDown(t *testing.T) {
	var link atomic.Bool
	st := newTestStation(&link)
	st.supplicant = NewSupplicant(SupplicantOptions{
		Binary:     "/nonexistent/wpa_supplicant",
		ConfigPath: filepath.Join(t.TempDir(), "wpa_supplicant.conf"),
	})
	defer st.Stop()

	o := newOutcome()
	st.Associate(store.WiFiCredentials{SSID: "lab"}, o.onUp, o.onDown)

	select {
	case err := <-o.down:
		if err == nil || errors.Is(err, ErrAssociationTimeout) {
			t.Errorf("onDown(%v), want the supplicant start error", err)
		}
	case <-o.up:
		t.Fatal("onUp called although the supplicant failed")
	case <-time.After(2 * time.Second):
		t.Fatal("supplicant failure not reported")
	}
}

// ============================================================================
// Supplicant
// ============================================================================

func TestSupplicant_WriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa", "wpa_supplicant.conf")
	s := NewSupplicant(SupplicantOptions{ConfigPath: path})

	if err := s.WriteConfig(store.WiFiCredentials{SSID: "lab", Password: "s3cret"}); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	conf := string(data)
	if !strings.Contains(conf, "ssid=6c6162") || !strings.Contains(conf, `psk="s3cret"`) {
		t.Errorf("config = %q", conf)
	}

	if err := s.WriteConfig(store.WiFiCredentials{SSID: "open"}); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "key_mgmt=NONE") {
		t.Errorf("open network config = %q", data)
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestSupplicant_StartAndStop(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("/bin/sleep not available")
	}
	s := NewSupplicant(SupplicantOptions{
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %v, want stopped", s.Status())
	}
	if s.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d after requested stop", s.RestartCount())
	}
}

func TestSupplicant_RestartsOnExit(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}
	s := NewSupplicant(SupplicantOptions{
		Binary:       "/bin/true",
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop() //nolint:errcheck // Test cleanup

	deadline := time.Now().Add(2 * time.Second)
	for s.RestartCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.RestartCount() < 2 {
		t.Errorf("RestartCount() = %d, want >= 2", s.RestartCount())
	}
}

func TestSupplicant_InvalidBinary(t *testing.T) {
	s := NewSupplicant(SupplicantOptions{Binary: "/nonexistent/wpa_supplicant"})
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() with invalid binary succeeded")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %v, want failed", s.Status())
	}
}

func TestSupplicantArgs(t *testing.T) {
	got := strings.Join(SupplicantArgs("wlan0", "/etc/wpa.conf"), " ")
	if got != "-i wlan0 -c /etc/wpa.conf" {
		t.Errorf("SupplicantArgs() = %q", got)
	}
}
