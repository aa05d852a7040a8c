package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hectorm/portunus/internal/config"
	"github.com/hectorm/portunus/internal/keys"
	"github.com/hectorm/portunus/internal/ports"
	"github.com/hectorm/portunus/internal/session"
	"github.com/hectorm/portunus/internal/sftpd"
)

func main() {
	cfg := config.NewConfig()

	alloc, err := ports.NewAllocator(cfg.SSHDPortMin, cfg.SSHDPortMax)
	if err != nil {
		slog.Error("failed to create port allocator", "error", err)
		os.Exit(1)
	}

	baseDir, err := os.MkdirTemp("", "portunus-")
	if err != nil {
		slog.Error("failed to create base directory", "error", err)
		os.Exit(1)
	}

	pool, err := sftpd.NewPool(alloc, baseDir)
	if err != nil {
		slog.Error("failed to create daemon pool", "error", err)
		os.Exit(1)
	}

	master, err := keys.Generate(keys.DefaultBits)
	if err != nil {
		slog.Error("failed to generate client key", "error", err)
		os.Exit(1)
	}

	if err := session.EstablishFleet(pool, master); err != nil {
		slog.Error("failed to establish daemon fleet", "error", err)
		os.Exit(1)
	}

	keyFile := filepath.Join(baseDir, "client_key")
	if err := os.WriteFile(keyFile, master.EncodePrivatePEM(), 0600); err != nil {
		slog.Error("failed to write client key", "error", err)
		os.Exit(1)
	}

	for _, daemon := range pool.Daemons() {
		slog.Info("daemon ready", "addr", daemon.Addr(), "root", daemon.Root())
	}
	slog.Info("fleet ready", "client_key", keyFile, "user", session.DefaultUser)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	if err := pool.Shutdown(cfg.SSHDStateTimeout); err != nil {
		slog.Error("failed to shut down daemon pool", "error", err)
		os.Exit(1)
	}
	if err := os.RemoveAll(baseDir); err != nil {
		slog.Error("failed to remove base directory", "error", err)
		os.Exit(1)
	}
}
