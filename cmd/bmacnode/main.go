// BMaC node - Building Management and Control sensor/actuator node.
//
// This is the main entry point for the node process. It joins the site WiFi,
// finds the MQTT broker, and then takes its orders from the control channel:
// module activation, location, presence, restarts and firmware updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nerrad567/bmac-node/internal/arbiter"
	"github.com/nerrad567/bmac-node/internal/bootstrap"
	"github.com/nerrad567/bmac-node/internal/control"
	"github.com/nerrad567/bmac-node/internal/discovery"
	"github.com/nerrad567/bmac-node/internal/eventloop"
	"github.com/nerrad567/bmac-node/internal/flash"
	"github.com/nerrad567/bmac-node/internal/infrastructure/config"
	"github.com/nerrad567/bmac-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/bmac-node/internal/infrastructure/logging"
	"github.com/nerrad567/bmac-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/bmac-node/internal/module"
	"github.com/nerrad567/bmac-node/internal/node"
	"github.com/nerrad567/bmac-node/internal/ota"
	"github.com/nerrad567/bmac-node/internal/store"
	"github.com/nerrad567/bmac-node/internal/system"
	"github.com/nerrad567/bmac-node/internal/wifi"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/node.yaml"

// shutdownTimeout bounds how long the loop gets to tear the session down.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting BMaC node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"storage", cfg.Storage.Backend,
	)

	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing config store", "error", closeErr)
		}
	}()

	nc := node.New(version, cfg.OTA.BaseURL)
	topics := mqtt.Topics{Prefix: cfg.MQTT.Prefix}
	qos := byte(cfg.MQTT.QoS) // #nosec G115 -- validated to 0..2

	// Every log record is mirrored to the broker once a session is attached.
	logSink := control.NewLogSink(topics.LogAll(), qos, nc.Fingerprint)
	log.AddSink(logSink)
	defer logSink.Close()

	influxClient := openTelemetry(cfg.InfluxDB, nc, log)
	if influxClient != nil {
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Local().Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	loop := eventloop.New(log.Local())

	arb := arbiter.New()
	arb.SetLogger(log.With("component", "arbiter"))
	modules := module.New(arb, backend)
	modules.SetLogger(log.With("component", "modules"))

	banks, err := flash.New(cfg.OTA)
	if err != nil {
		return fmt.Errorf("opening flash banks: %w", err)
	}
	banks.SetLogger(log.With("component", "flash"))

	restarter := system.NewRestarter(banks)
	restarter.SetLogger(log.With("component", "system"))

	updater := ota.New(loop, banks, restarter, nc)
	updater.SetLogger(log.With("component", "ota"))

	channel := control.New(control.Deps{
		Scheduler: loop,
		Node:      nc,
		Store:     backend,
		Modules:   modules,
		Updater:   updater,
		System:    restarter,
		LogSink:   logSink,
	}, topics, qos)
	channel.SetLogger(log.With("component", "control"))

	station := wifi.NewStation(cfg.WiFi, cfg.Node.Interface)
	station.SetLogger(log.With("component", "wifi"))

	udp := discovery.NewUDPTransport(cfg.Discovery.BroadcastAddress)
	udp.SetLogger(log.With("component", "discovery"))
	discoverer := discovery.New(udp, loop, cfg.Discovery.Port, cfg.Discovery.Filter)
	discoverer.SetLogger(log.With("component", "discovery"))

	var session atomic.Pointer[mqtt.Client]
	boot := bootstrap.New(bootstrap.Deps{
		Scheduler:  loop,
		Station:    station,
		Discoverer: discoverer,
		Dial:       dialer(cfg.MQTT, log.Local(), &session),
		Channel:    channel,
		Modules:    modules,
		Store:      backend,
		Node:       nc,
	}, bootstrapOptions(cfg))
	boot.SetLogger(log.With("component", "bootstrap"))

	if influxClient != nil {
		boot.OnConnected(func() {
			bank, bankErr := banks.CurrentBank()
			if bankErr != nil {
				bank = -1
			}
			influxClient.WriteState(nc.Fingerprint(), nc.Location(), modules.ActiveMask(), int(bank))

			go func() {
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				if pingErr := influxClient.Ping(pingCtx); pingErr != nil {
					log.Local().Warn("InfluxDB unreachable, buffering telemetry", "error", pingErr)
				}
			}()
		})
	}

	// Restart replaces the process image, so deferred cleanup never runs.
	restarter.OnRestart(func() {
		if influxClient != nil {
			influxClient.Flush()
		}
	})
	restarter.OnRestart(func() {
		if c := session.Load(); c != nil {
			c.Close() //nolint:errcheck // Restarting regardless
		}
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx) //nolint:errcheck // Always context.Canceled
	}()

	loop.Post(func() {
		if startErr := boot.Start(); startErr != nil {
			log.Error("bootstrap failed to start", "error", startErr)
		}
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stopped := make(chan struct{})
	loop.Post(func() {
		boot.Stop()
		close(stopped)
	})
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		log.Warn("timed out stopping bootstrap")
	}
	stopLoop()
	<-loopDone

	log.Local().Info("BMaC node stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BMAC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BMAC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bootstrapOptions converts configuration into bootstrap tunables.
func bootstrapOptions(cfg *config.Config) bootstrap.Options {
	return bootstrap.Options{
		Interface:        cfg.Node.Interface,
		DiscoveryEnabled: cfg.Discovery.Enabled,
		DiscoveryWindow:  cfg.GetDiscoveryWindow(),
		StaticBroker: discovery.Endpoint{
			Address: cfg.MQTT.Broker.Host,
			Port:    uint16(cfg.MQTT.Broker.Port), // #nosec G115 -- validated port range
			Service: cfg.Discovery.Filter,
		},
		ReconnectDelay: cfg.GetReconnectDelay(),
	}
}

// dialer returns the bootstrap's broker dialer. The latest session is kept
// in current so the restart path can close it.
func dialer(cfg config.MQTTConfig, log *logging.Logger, current *atomic.Pointer[mqtt.Client]) bootstrap.Dialer {
	return func(ctx context.Context, sess mqtt.Session) (bootstrap.BrokerConn, error) {
		client, err := mqtt.Connect(ctx, cfg, sess)
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		current.Store(client)
		return client, nil
	}
}

// openTelemetry creates the optional telemetry sink. Telemetry is never
// required for the node to operate, so failures only disable it.
func openTelemetry(cfg config.InfluxDBConfig, nc *node.Context, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.New(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB misconfigured, telemetry disabled", "error", err)
		return nil
	}

	local := log.Local()
	client.SetOnError(func(err error) {
		local.Error("InfluxDB write error", "error", err)
	})
	log.AddSink(influxdb.NewLogSink(client, nc.Fingerprint))
	log.Info("InfluxDB telemetry enabled", "url", cfg.URL, "bucket", cfg.Bucket)
	return client
}
