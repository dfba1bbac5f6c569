// Package flash stores firmware images in two on-disk banks.
//
// Each bank is a file (bank0.bin, bank1.bin) in the banks directory; the
// boot selection lives in boot.yaml beside them. Images are downloaded to a
// temporary file, verified and renamed into place. The boot selection only
// changes in MarkBootable, and never changes which bank this process is
// running from: that is fixed when New reads boot.yaml.
package flash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
	"github.com/nerrad567/bmac-node/internal/ota"
)

// ChecksumHeader, when present on the download response, must match the
// hex SHA-256 of the body.
const ChecksumHeader = "X-Checksum-Sha256"

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// FileBanks implements ota.FlashDriver on the local filesystem.
type FileBanks struct {
	dir     string
	client  *http.Client
	maxSize int64
	logger  Logger

	// running is the bank selected when the process started.
	running    ota.Bank
	runningErr error

	// mu guards boot.yaml read-modify-write cycles.
	mu sync.Mutex
}

var _ ota.FlashDriver = (*FileBanks)(nil)

// New prepares the banks directory.
func New(cfg config.OTAConfig) (*FileBanks, error) {
	if cfg.BanksDir == "" {
		return nil, fmt.Errorf("flash: banks directory is empty")
	}
	if err := os.MkdirAll(cfg.BanksDir, 0750); err != nil {
		return nil, fmt.Errorf("creating banks directory: %w", err)
	}
	b := &FileBanks{
		dir:     cfg.BanksDir,
		client:  &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second},
		maxSize: cfg.MaxImageSize,
		logger:  noopLogger{},
	}

	// A corrupt boot.yaml must not stop the node from starting; it only
	// makes updates fail until an image is marked bootable again.
	boot, err := readBootConfig(b.dir)
	if err != nil {
		b.runningErr = err
	} else {
		b.running = ota.Bank(boot.Current)
	}
	return b, nil
}

// SetLogger sets the logger for download progress.
func (b *FileBanks) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// ImagePath returns the file that holds bank's image.
func (b *FileBanks) ImagePath(bank ota.Bank) string {
	return filepath.Join(b.dir, fmt.Sprintf("bank%d.bin", int(bank)))
}

// CurrentBank implements ota.FlashDriver. It reports the bank the process
// was started from, even after MarkBootable selected the other one.
func (b *FileBanks) CurrentBank() (ota.Bank, error) {
	if b.runningErr != nil {
		return 0, b.runningErr
	}
	return b.running, nil
}

// NextBank returns the bank selected for the next boot.
func (b *FileBanks) NextBank() (ota.Bank, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, err := readBootConfig(b.dir)
	if err != nil {
		return 0, err
	}
	return ota.Bank(cfg.Current), nil
}

// BootImage returns the image selected for the next boot, or "" when the
// selected bank has never been written (the installed binary is bank 0).
func (b *FileBanks) BootImage() (string, error) {
	bank, err := b.NextBank()
	if err != nil {
		return "", err
	}
	path := b.ImagePath(bank)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return path, nil
}

// FlashToBank implements ota.FlashDriver.
func (b *FileBanks) FlashToBank(ctx context.Context, bank ota.Bank, url string, done func(error)) {
	go func() {
		done(b.flash(ctx, bank, url))
	}()
}

// MarkBootable implements ota.FlashDriver.
func (b *FileBanks) MarkBootable(bank ota.Bank) error {
	if !bank.Valid() {
		return fmt.Errorf("%w: %d", ota.ErrInvalidBank, bank)
	}
	if _, err := os.Stat(b.ImagePath(bank)); err != nil {
		return fmt.Errorf("%w: bank %d: %w", ErrNoImage, bank, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, err := readBootConfig(b.dir)
	if err != nil {
		return err
	}
	cfg.Current = int(bank)
	if err := writeBootConfig(b.dir, cfg); err != nil {
		return fmt.Errorf("selecting bank %d: %w", bank, err)
	}
	b.logger.Info("boot bank selected", "bank", int(bank))
	return nil
}

func (b *FileBanks) flash(ctx context.Context, bank ota.Bank, url string) error {
	if !bank.Valid() {
		return fmt.Errorf("%w: %d", ota.ErrInvalidBank, bank)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", ErrDownload, url, resp.Status)
	}
	if b.maxSize > 0 && resp.ContentLength > b.maxSize {
		return fmt.Errorf("%w: image is %d bytes, limit %d", ErrVerify, resp.ContentLength, b.maxSize)
	}

	tmp, err := os.CreateTemp(b.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // No-op after a successful rename

	body := io.Reader(resp.Body)
	if b.maxSize > 0 {
		body = io.LimitReader(resp.Body, b.maxSize+1)
	}
	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	switch {
	case n == 0:
		return fmt.Errorf("%w: empty image", ErrVerify)
	case b.maxSize > 0 && n > b.maxSize:
		return fmt.Errorf("%w: image exceeds %d bytes", ErrVerify, b.maxSize)
	case resp.ContentLength >= 0 && n != resp.ContentLength:
		return fmt.Errorf("%w: got %d of %d bytes", ErrVerify, n, resp.ContentLength)
	}
	if want := resp.Header.Get(ChecksumHeader); want != "" && !strings.EqualFold(want, sum) {
		return fmt.Errorf("%w: sha256 %s, want %s", ErrVerify, sum, want)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if err := os.Chmod(tmpPath, 0750); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Rename(tmpPath, b.ImagePath(bank)); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	cfg, err := readBootConfig(b.dir)
	if err != nil {
		return err
	}
	cfg.Banks[bank] = BankInfo{
		Image:     filepath.Base(b.ImagePath(bank)),
		Size:      n,
		SHA256:    sum,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeBootConfig(b.dir, cfg); err != nil {
		return fmt.Errorf("recording bank %d: %w", bank, err)
	}

	b.logger.Info("image written", "bank", int(bank), "bytes", n, "sha256", sum)
	return nil
}
