// Command miscale-bridge keeps a BLE link to a Mi Body Composition Scale 2
// and forwards every settled measurement to the measurement store (and
// optionally Kafka).
//
// Usage:
//
//	miscale-bridge [--config path] [--write-config]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/chaz8081/miscale-bridge/internal/ble"
	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
	"github.com/chaz8081/miscale-bridge/internal/config"
	"github.com/chaz8081/miscale-bridge/internal/pipeline"
	"github.com/chaz8081/miscale-bridge/internal/report"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ~/.config/miscale-bridge/config.yaml)")
	writeConfig := pflag.Bool("write-config", false, "write the default config file and exit")
	pflag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	cfg, source, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if source != "" {
		slog.Info("config loaded", "path", source)
	} else {
		slog.Info("no config file found, using defaults")
	}

	printBanner(cfg)

	reporter, closeSinks, err := newReporter(cfg)
	if err != nil {
		log.Fatalf("reporter: %v", err)
	}
	defer closeSinks()

	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		log.Fatalf("Failed to enable BLE adapter: %v\n\nEnsure Bluetooth is powered on and this process is allowed to use it.", err)
	}

	locator := ble.NewLocator(adapter, ble.LocatorOptions{
		Address:        cfg.Scale.Address,
		Names:          cfg.Scale.Names,
		AddressTimeout: cfg.Scale.AddressTimeout,
		NameTimeout:    cfg.Scale.NameTimeout,
	})

	pipeOpts := pipeline.Options{
		QueueSize: cfg.Report.QueueSize,
		Gate:      protocol.Gate{ImpedanceLimit: cfg.Scale.ImpedanceLimit},
	}

	supervisor := ble.NewSupervisor(func() ble.Runner {
		return ble.NewSession(adapter, locator, ble.SessionOptions{
			NewPipeline: func() ble.Pipeline {
				return pipeline.New(reporter, pipeOpts)
			},
		})
	}, ble.SupervisorOptions{
		BaseDelay: cfg.Reconnect.BaseDelay,
		MaxDelay:  cfg.Reconnect.MaxDelay,
		Jitter:    cfg.Reconnect.Jitter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Ready! Step on the scale. Ctrl+C to quit.")

	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("supervisor stopped", "error", err)
	}
	log.Println("Goodbye!")
}

// newReporter builds the HTTP reporter and, when brokers are configured, a
// Kafka reporter alongside it. An unreachable Kafka cluster at startup is
// logged and skipped.
func newReporter(cfg *config.Config) (pipeline.Reporter, func(), error) {
	httpReporter, err := report.NewHTTPReporter(cfg.Report.URL, cfg.Report.Timeout)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Kafka.Enabled() {
		return httpReporter, func() {}, nil
	}

	producer, err := report.NewKafkaProducer(cfg.Kafka.Brokers)
	if err != nil {
		slog.Warn("[REPORT] kafka disabled", "error", err)
		return httpReporter, func() {}, nil
	}
	kafkaReporter := report.NewKafkaReporter(producer, cfg.Kafka.Topic, cfg.Scale.Address)
	closeFn := func() {
		if err := kafkaReporter.Close(); err != nil {
			slog.Warn("[REPORT] closing kafka producer", "error", err)
		}
	}
	return report.Multi{httpReporter, kafkaReporter}, closeFn, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	address := cfg.Scale.Address
	if address == "" {
		address = "(any)"
	}
	fmt.Println("=== miscale-bridge ===")
	fmt.Printf("  Scale:     %s (names: %s)\n", address, strings.Join(cfg.Scale.Names, ", "))
	fmt.Printf("  Impedance: < %d ohm\n", cfg.Scale.ImpedanceLimit)
	fmt.Printf("  Store:     %s\n", cfg.Report.URL)
	if cfg.Kafka.Enabled() {
		fmt.Printf("  Kafka:     %s (topic: %s)\n", strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic)
	}
	fmt.Printf("  Backoff:   %s..%s\n", cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("======================")
}
