// Command stormstackd runs the StormStack platform process: the REST and
// WebSocket surface, the fixed-rate game loop ticking every tenant's
// containers, and the Prometheus metrics endpoint, sharing one container
// service, connection manager, and resource store across all three.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stormstack/platform/internal/auth"
	"stormstack/platform/internal/command"
	"stormstack/platform/internal/config"
	"stormstack/platform/internal/connection"
	"stormstack/platform/internal/containersvc"
	"stormstack/platform/internal/gameloop"
	"stormstack/platform/internal/hostfuncs"
	"stormstack/platform/internal/httpapi"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/logging"
	"stormstack/platform/internal/metrics"
	"stormstack/platform/internal/resources"
	"stormstack/platform/internal/sandbox"
	"stormstack/platform/internal/session"
	"stormstack/platform/internal/subscription"
	"stormstack/platform/internal/world"
	"stormstack/platform/internal/wsgateway"
)

// sessionSweepInterval is how often the expiration sweep scans for
// inactive sessions; independent of cfg.SessionTimeout, which is the
// inactivity threshold each sweep checks sessions against.
const sessionSweepInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Warn("STORMSTACK_JWT_SECRET is not set; authenticated endpoints will report service_unavailable")
	}

	registry := command.NewRegistry()
	containers := containersvc.New(registry, logger)
	store := resources.New(cfg.ResourcesPath)
	fabric := subscription.New()
	conns := connection.New(fabric)

	sessions := session.New()
	sessionCtx, stopSessionSweep := context.WithCancel(context.Background())
	go runSessionSweep(sessionCtx, sessions, cfg.SessionTimeout, logger)
	defer stopSessionSweep()

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.EpochTick = cfg.Wasm.EpochTick
	sbx, err := sandbox.New(sandboxCfg)
	if err != nil {
		logger.Fatal("failed to construct sandbox engine", logging.Err(err))
	}
	defer sbx.Close()

	sandboxLimits := sandbox.Limits{
		MaxFuel:          cfg.Wasm.Fuel,
		EpochDeadline:    cfg.Wasm.EpochDeadline,
		MaxMemoryBytes:   cfg.Wasm.MemoryLimitBytes,
		MaxStackBytes:    cfg.Wasm.StackLimitBytes,
		MaxTables:        uint32(cfg.Wasm.MaxTables),
		MaxTableElements: uint32(cfg.Wasm.MaxTableElements),
		MaxInstances:     uint32(cfg.Wasm.MaxInstances),
		MaxMemories:      uint32(cfg.Wasm.MaxMemories),
	}

	// The host-call surface is registered once against the sandbox's shared
	// linker; every module instantiated through it gets the same capability
	// contract. hostState is a process-scoped placeholder world; no module is
	// bound to a specific container's world.
	hostState := hostfuncs.NewTickState(id.TenantID{}, world.New(), 0)
	if err := hostfuncs.NewProvider(hostState).Register(sbx.Linker()); err != nil {
		logger.Fatal("failed to register host function surface", logging.Err(err))
	}

	var verifier *auth.Verifier
	var issuer *auth.Issuer
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
		issuer = auth.NewIssuer(cfg.JWTSecret)
	}

	gateway := wsgateway.New(containers, conns, logger, wsgateway.WithMaxPayloadBytes(cfg.MaxPayloadBytes))

	loop := gameloop.New(cfg.TickRateHz, containers, conns, logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	defer stopLoop()

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:        logger,
		Containers:    containers,
		Registry:      registry,
		Resources:     store,
		Verifier:      verifier,
		Issuer:        issuer,
		Connections:   conns,
		WSGateway:     gateway,
		Sandbox:       sbx,
		SandboxLimits: sandboxLimits,
	})
	mux := http.NewServeMux()
	handlers.Register(mux)

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: logging.HTTPTraceMiddleware(logger)(mux),
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddress,
		Handler: metrics.Handler(),
	}

	go func() {
		logger.Info("metrics server listening", logging.String("address", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server terminated", logging.Err(err))
		}
	}()

	go func() {
		logger.Info("stormstackd listening",
			logging.String("address", cfg.Address),
			logging.Int("max_clients", cfg.MaxClients),
			logging.Int64("max_payload_bytes", cfg.MaxPayloadBytes))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server terminated", logging.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	stopLoop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", logging.Err(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", logging.Err(err))
	}
}

// runSessionSweep periodically expires sessions that have exceeded timeout,
// until ctx is cancelled.
func runSessionSweep(ctx context.Context, sessions *session.Service, timeout time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := sessions.ExpireInactive(timeout)
			if len(expired) > 0 {
				logger.Info("session sweep expired inactive sessions", logging.Int("count", len(expired)))
			}
		}
	}
}
