package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentdirectory/backend/internal/api"
	"github.com/agentdirectory/backend/internal/capabilities"
	"github.com/agentdirectory/backend/internal/config"
	"github.com/agentdirectory/backend/internal/directory"
	"github.com/agentdirectory/backend/internal/gate"
	"github.com/agentdirectory/backend/internal/metrics"
	"github.com/agentdirectory/backend/internal/registrar"
	"github.com/agentdirectory/backend/internal/verify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Directory contract client
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dir, err := directory.Dial(ctx, cfg.RPCURLs, cfg.ContractAddress, cfg.SponsorKey, logger)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to directory contract: %v", err)
	}
	defer dir.Close()
	if !dir.SponsorConfigured() {
		logger.Warn("sponsor wallet NOT configured, registrations will fail")
	}

	// Gate state: Redis when configured, else in-process
	var store gate.Store = gate.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisStore, err := gate.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-memory gate state", "err", err)
		} else {
			defer redisStore.Close()
			store = redisStore
		}
	}
	g := gate.New(store, cfg.Cooldown)

	// Platform verifiers
	policy, err := verify.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load platform policy: %v", err)
	}
	registry := verify.NewRegistry(verify.WithLogger(logger), verify.WithPolicy(policy))

	// Capability index
	caps, err := capabilities.Open(cfg.CapabilitiesFile, logger)
	if err != nil {
		log.Fatalf("Failed to open capability index: %v", err)
	}

	m := metrics.New()
	pipeline := registrar.New(registry, g, dir, cfg.GasBufferWei, m, logger)

	server := api.NewServer(api.Options{
		Pipeline:      pipeline,
		Directory:     dir,
		Capabilities:  caps,
		Platforms:     registry,
		Metrics:       m,
		Logger:        logger,
		Network:       cfg.NetworkName,
		ContractAddr:  cfg.ContractAddress,
		ExplorerTxURL: cfg.ExplorerTxURL,
		DirectoryURL:  cfg.DirectoryURL,
		Cooldown:      cfg.Cooldown,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // confirmation waits span block times
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	logger.Info("🚀 Agent Directory API starting",
		"port", cfg.Port,
		"contract", cfg.ContractAddress,
		"network", cfg.NetworkName,
		"sponsor_configured", dir.SponsorConfigured(),
	)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	logger.Info("server stopped")
}
