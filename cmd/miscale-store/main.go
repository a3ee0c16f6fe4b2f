// Command miscale-store serves the bounded measurement store over HTTP.
//
// Usage:
//
//	miscale-store [--config path] [--listen addr] [--path file]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/chaz8081/miscale-bridge/internal/api"
	"github.com/chaz8081/miscale-bridge/internal/config"
	"github.com/chaz8081/miscale-bridge/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ~/.config/miscale-bridge/config.yaml)")
	listen := pflag.StringP("listen", "l", "", "listen address (overrides store.listen)")
	dataPath := pflag.StringP("path", "p", "", "measurements file (overrides store.path)")
	pflag.Parse()

	cfg, source, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *listen != "" {
		cfg.Store.Listen = *listen
	}
	if *dataPath != "" {
		cfg.Store.Path = *dataPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if source != "" {
		slog.Info("config loaded", "path", source)
	}

	st, err := store.Open(cfg.Store.Path, cfg.Store.MaxRecords)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	printBanner(cfg, st.Len())

	srv := &http.Server{
		Addr:              cfg.Store.Listen,
		Handler:           api.NewServer(st, cfg.Store.Prefix).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("[API] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[API] shutdown", "error", err)
		}
	}()

	slog.Info("[API] listening", "addr", cfg.Store.Listen, "prefix", cfg.Store.Prefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to serve: %v", err)
	}
	<-shutdownDone
	log.Println("Goodbye!")
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, records int) {
	fmt.Println("=== miscale-store ===")
	fmt.Printf("  Listen:  %s%s\n", cfg.Store.Listen, cfg.Store.Prefix)
	fmt.Printf("  File:    %s (%d/%d records)\n", cfg.Store.Path, records, cfg.Store.MaxRecords)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}
