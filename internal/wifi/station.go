// Package wifi brings the node's network interface up and reports
// association changes.
//
// On a Linux-class node association is done either by the OS or by a
// wpa_supplicant the Station manages itself. Either way the Station watches
// the interface and reports "associated" once it is up with a routable IPv4
// address.
package wifi

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
	"github.com/nerrad567/bmac-node/internal/store"
)

// DefaultAssociateTimeout bounds a single association attempt.
const DefaultAssociateTimeout = 30 * time.Second

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

// Station watches one interface.
type Station struct {
	iface      string
	poll       time.Duration
	timeout    time.Duration
	supplicant *Supplicant
	logger     Logger

	// probe reports whether the link is usable; replaced in tests.
	probe func(iface string) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStation creates a Station for iface. A managed supplicant is created
// when cfg.Supplicant.Managed is set.
func NewStation(cfg config.WiFiConfig, iface string) *Station {
	st := &Station{
		iface:   iface,
		poll:    time.Duration(cfg.PollInterval) * time.Second,
		timeout: DefaultAssociateTimeout,
		logger:  noopLogger{},
		probe:   linkUp,
	}
	if st.poll <= 0 {
		st.poll = 2 * time.Second
	}
	if cfg.Supplicant.Managed {
		st.supplicant = NewSupplicant(SupplicantOptions{
			Binary:       cfg.Supplicant.Binary,
			Args:         SupplicantArgs(iface, cfg.Supplicant.ConfigPath),
			ConfigPath:   cfg.Supplicant.ConfigPath,
			RestartDelay: time.Duration(cfg.Supplicant.RestartDelay) * time.Second,
		})
	}
	return st
}

// SetLogger sets the logger for the station and its supplicant.
func (s *Station) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
	if s.supplicant != nil {
		s.supplicant.SetLogger(logger)
	}
}

// Associate starts an association attempt with creds. Exactly one of the
// outcomes is reported per call: onUp when the link comes up (followed by
// onDown if it later drops), or onDown alone on timeout or supplicant
// failure. Callbacks run on the station's goroutine. A previous attempt is
// abandoned silently. Associate does not block: supplicant restarts happen
// on the attempt's goroutine.
func (s *Station) Associate(creds store.WiFiCredentials, onUp func(), onDown func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
	}

	s.logger.Info("associating", "interface", s.iface, "ssid", creds.SSID)
	go s.attempt(ctx, prevDone, done, creds, onUp, onDown)
}

// Stop abandons the current attempt and stops a managed supplicant.
func (s *Station) Stop() {
	s.stopWatcher()
	if s.supplicant != nil {
		if err := s.supplicant.Stop(); err != nil {
			s.logger.Warn("stopping supplicant", "error", err)
		}
	}
}

// attempt serialises behind the previous attempt so supplicant restarts
// never overlap.
func (s *Station) attempt(ctx context.Context, prev, done chan struct{}, creds store.WiFiCredentials, onUp func(), onDown func(error)) {
	if prev != nil {
		<-prev
	}
	if s.supplicant != nil && ctx.Err() == nil {
		if err := s.configureSupplicant(ctx, creds); err != nil {
			defer close(done)
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("supplicant setup failed", "error", err)
			onDown(err)
			return
		}
	}
	s.watch(ctx, done, onUp, onDown)
}

func (s *Station) configureSupplicant(ctx context.Context, creds store.WiFiCredentials) error {
	if err := s.supplicant.WriteConfig(creds); err != nil {
		return err
	}
	// wpa_supplicant only reads its config at start.
	if err := s.supplicant.Stop(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.supplicant.Start(context.Background())
}

func (s *Station) stopWatcher() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Station) watch(ctx context.Context, done chan struct{}, onUp func(), onDown func(error)) {
	defer close(done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	up := false
	for {
		if s.probe(s.iface) != up {
			up = !up
			if up {
				s.logger.Info("link up", "interface", s.iface)
				deadline.Stop()
				if ctx.Err() != nil {
					return
				}
				onUp()
			} else {
				s.logger.Warn("link down", "interface", s.iface)
				if ctx.Err() != nil {
					return
				}
				onDown(ErrLinkLost)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.logger.Warn("association timed out", "interface", s.iface, "timeout", s.timeout)
			onDown(ErrAssociationTimeout)
			return
		case <-ticker.C:
		}
	}
}

// linkUp reports whether iface is up with a non-link-local IPv4 address.
func linkUp(iface string) bool {
	ifi, err := net.InterfaceByName(iface)
	if err != nil || ifi.Flags&net.FlagUp == 0 {
		return false
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLinkLocalUnicast() {
			return true
		}
	}
	return false
}
