package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hyperdrive/ledger"
	"hyperdrive/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.SetupWithOptions(logging.Options{
		Service:    "campaign-gateway",
		Env:        cfg.Env,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	log := slog.Default()

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Error("open sqlite store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	auth := NewAuthenticator(cfg.APIKeys, cfg.AllowedTimestampSkew, cfg.NonceTTL, cfg.NonceCapacity, nil)

	var adapter ledger.Adapter
	switch cfg.Mode {
	case ModeRPC:
		adapter = ledger.NewClient(cfg.NodeURL, cfg.NodeAuthToken)
	default:
		adapter = ledger.NewMemory()
	}

	server := NewServer(auth, adapter, store, log, cfg)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		log.Info("campaign gateway listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("mode", cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down campaign gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
	}
}
