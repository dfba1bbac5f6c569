package wifi

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/bmac-node/internal/store"
)

// Status is the supplicant process state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the buffer size for capturing supplicant output.
const outputBufferSize = 4096

// SupplicantOptions configures a managed wpa_supplicant.
type SupplicantOptions struct {
	Binary     string
	Args       []string
	ConfigPath string

	// RestartDelay is the wait before restarting after an unexpected exit.
	RestartDelay time.Duration

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// SupplicantArgs returns the standard wpa_supplicant command line.
func SupplicantArgs(iface, configPath string) []string {
	return []string{"-i", iface, "-c", configPath}
}

// Supplicant runs wpa_supplicant as a child process and restarts it if it
// exits unexpectedly.
type Supplicant struct {
	opts   SupplicantOptions
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	stopRequested bool
	done          chan struct{}
}

// NewSupplicant creates a stopped Supplicant.
func NewSupplicant(opts SupplicantOptions) *Supplicant {
	if opts.RestartDelay == 0 {
		opts.RestartDelay = 5 * time.Second
	}
	if opts.GracefulTimeout == 0 {
		opts.GracefulTimeout = 5 * time.Second
	}
	return &Supplicant{opts: opts, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger for process lifecycle events.
func (s *Supplicant) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// WriteConfig writes a single-network configuration for creds.
// The SSID is hex-encoded so any byte sequence is accepted.
func (s *Supplicant) WriteConfig(creds store.WiFiCredentials) error {
	var b strings.Builder
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(creds.SSID)))
	if creds.Password == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		fmt.Fprintf(&b, "\tpsk=%q\n", creds.Password)
	}
	b.WriteString("}\n")

	if err := os.MkdirAll(filepath.Dir(s.opts.ConfigPath), 0750); err != nil {
		return fmt.Errorf("creating supplicant config directory: %w", err)
	}
	if err := os.WriteFile(s.opts.ConfigPath, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing supplicant config: %w", err)
	}
	return nil
}

// Start launches the supplicant and monitors it until Stop or ctx ends.
func (s *Supplicant) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.monitoring() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.startProcess(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.monitor(ctx)
	return nil
}

// monitoring reports whether a monitor goroutine is active. Caller holds mu.
func (s *Supplicant) monitoring() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supplicant) startProcess(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.opts.Binary, s.opts.Args...) //nolint:gosec // Binary comes from node configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting supplicant: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.mu.Unlock()

	go s.captureOutput("stdout", stdout)
	go s.captureOutput("stderr", stderr)

	s.logger.Info("supplicant started", "binary", s.opts.Binary, "pid", cmd.Process.Pid)
	return nil
}

func (s *Supplicant) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.logger.Debug("supplicant output", "stream", stream, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (s *Supplicant) monitor(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := cmd.Wait()

		s.mu.Lock()
		stopRequested := s.stopRequested
		if stopRequested {
			s.status = StatusStopped
		} else {
			s.status = StatusFailed
			s.lastError = err
			s.restartCount++
		}
		s.mu.Unlock()

		if stopRequested {
			s.logger.Info("supplicant stopped")
			return
		}

		s.logger.Warn("supplicant exited unexpectedly", "error", err, "restart_in", s.opts.RestartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RestartDelay):
		}

		s.mu.Lock()
		stopRequested = s.stopRequested
		if stopRequested {
			s.status = StatusStopped
		}
		s.mu.Unlock()
		if stopRequested {
			return
		}

		if err := s.startProcess(ctx); err != nil {
			s.logger.Error("restarting supplicant failed", "error", err)
			s.mu.Lock()
			s.lastError = err
			s.mu.Unlock()
			return
		}
	}
}

// Stop terminates the supplicant: SIGTERM to its process group, then SIGKILL
// after the graceful timeout. A pending restart is cancelled.
func (s *Supplicant) Stop() error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-done:
		s.mu.Unlock()
		return nil
	default:
	}
	s.stopRequested = true
	cmd := s.cmd
	running := s.status == StatusRunning
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("sending SIGTERM to supplicant", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.GracefulTimeout):
		s.logger.Warn("supplicant did not exit, sending SIGKILL", "timeout", s.opts.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing supplicant: %w", err)
	}
	<-done
	return nil
}

// Status returns the process state.
func (s *Supplicant) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether the process is running.
func (s *Supplicant) IsRunning() bool {
	return s.Status() == StatusRunning
}

// RestartCount returns how often the process exited unexpectedly.
func (s *Supplicant) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// LastError returns the most recent exit or start error.
func (s *Supplicant) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}
