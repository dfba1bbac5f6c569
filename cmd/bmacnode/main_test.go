package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("BMAC_CONFIG", "/nonexistent/path/node.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_UnknownStorageBackend verifies validation stops startup.
func TestRun_UnknownStorageBackend(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: flash
  path: /tmp/bmac
logging:
  level: error
  format: text
  output: stdout
`)
	t.Setenv("BMAC_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with unknown storage backend")
	}
}

// TestRun_StartsAndStopsWithoutCredentials boots with no WiFi credentials
// stored; bootstrap logs the problem and the process waits for shutdown.
func TestRun_StartsAndStopsWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
node:
  interface: lo
storage:
  backend: file
  path: %s
wifi:
  poll_interval: 1
ota:
  banks_dir: %s
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`, filepath.Join(dir, "store"), filepath.Join(dir, "banks")))
	t.Setenv("BMAC_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("BMAC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/node.yaml"
	t.Setenv("BMAC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestBootstrapOptions(t *testing.T) {
	cfg := &config.Config{
		Node:      config.NodeConfig{Interface: "wlan1"},
		Discovery: config.DiscoveryConfig{Enabled: false, WindowMS: 750, Filter: "mqtt"},
		MQTT: config.MQTTConfig{
			Broker:         config.MQTTBrokerConfig{Host: "10.1.1.1", Port: 1884},
			ReconnectDelay: 3,
		},
	}

	opts := bootstrapOptions(cfg)

	if opts.Interface != "wlan1" {
		t.Errorf("Interface = %q", opts.Interface)
	}
	if opts.DiscoveryEnabled {
		t.Error("DiscoveryEnabled = true, want false")
	}
	if opts.DiscoveryWindow != 750*time.Millisecond {
		t.Errorf("DiscoveryWindow = %v", opts.DiscoveryWindow)
	}
	if opts.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay = %v", opts.ReconnectDelay)
	}
	if got := opts.StaticBroker.URL(); got != "tcp://10.1.1.1:1884" {
		t.Errorf("StaticBroker.URL() = %q", got)
	}
}
