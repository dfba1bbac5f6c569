// Package system restarts the node process.
//
// A restart replaces the running process image with the binary selected for
// the next boot (see package flash), keeping the pid, arguments and
// environment. Hooks registered with OnRestart run first so connections and
// buffered telemetry are closed cleanly.
package system

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// ImageSource reports the image to boot. An empty path means the binary
// that is currently running.
type ImageSource interface {
	BootImage() (string, error)
}

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Restarter re-executes the boot image.
type Restarter struct {
	images ImageSource
	logger Logger

	mu    sync.Mutex
	hooks []func()

	// exec and executable are replaced in tests.
	exec       func(argv0 string, argv []string, envv []string) error
	executable func() (string, error)
}

// NewRestarter creates a Restarter. images may be nil to always re-exec the
// running binary.
func NewRestarter(images ImageSource) *Restarter {
	return &Restarter{
		images:     images,
		logger:     noopLogger{},
		exec:       syscall.Exec,
		executable: os.Executable,
	}
}

// SetLogger sets the logger.
func (r *Restarter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// OnRestart registers fn to run before the process image is replaced.
// Hooks run in reverse registration order.
func (r *Restarter) OnRestart(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Restart replaces the process. It only returns on failure.
func (r *Restarter) Restart(reason string) error {
	path, err := r.bootPath()
	if err != nil {
		return fmt.Errorf("resolving boot image: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("boot image %s: %w", path, err)
	}

	r.logger.Warn("restarting", "reason", reason, "image", path)

	r.mu.Lock()
	hooks := append([]func(){}, r.hooks...)
	r.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	argv := append([]string{path}, os.Args[1:]...)
	if err := r.exec(path, argv, os.Environ()); err != nil {
		r.logger.Error("exec failed", "image", path, "error", err)
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}

func (r *Restarter) bootPath() (string, error) {
	if r.images != nil {
		path, err := r.images.BootImage()
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
	return r.executable()
}
