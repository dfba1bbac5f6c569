package flash

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// bootFile is the boot selection file inside the banks directory.
const bootFile = "boot.yaml"

// BootConfig is the persisted boot selection.
//
// Example boot.yaml:
//
//	current: 1
//	banks:
//	  - {}
//	  - image: bank1.bin
//	    size: 482304
//	    sha256: 9f86d0...
//	    updated_at: 2026-10-17T09:12:44Z
type BootConfig struct {
	// Current is the bank booted on the next start.
	Current int        `yaml:"current"`
	Banks   []BankInfo `yaml:"banks"`
}

// BankInfo describes the image held in one bank.
type BankInfo struct {
	Image     string `yaml:"image,omitempty"`
	Size      int64  `yaml:"size,omitempty"`
	SHA256    string `yaml:"sha256,omitempty"`
	UpdatedAt string `yaml:"updated_at,omitempty"`
}

func defaultBootConfig() BootConfig {
	return BootConfig{Current: 0, Banks: make([]BankInfo, 2)}
}

func readBootConfig(dir string) (BootConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, bootFile))
	if errors.Is(err, fs.ErrNotExist) {
		return defaultBootConfig(), nil
	}
	if err != nil {
		return BootConfig{}, fmt.Errorf("reading %s: %w", bootFile, err)
	}

	var cfg BootConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BootConfig{}, fmt.Errorf("parsing %s: %w", bootFile, err)
	}
	for len(cfg.Banks) < 2 {
		cfg.Banks = append(cfg.Banks, BankInfo{})
	}
	return cfg, nil
}

func writeBootConfig(dir string, cfg BootConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", bootFile, err)
	}
	return writeFileAtomic(filepath.Join(dir, bootFile), data, 0600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
