package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"negotiation-hub/auth"
	"negotiation-hub/contract"
	"negotiation-hub/infrastructure/api"
	"negotiation-hub/infrastructure/cache"
	"negotiation-hub/infrastructure/identity"
	"negotiation-hub/infrastructure/storage"
	"negotiation-hub/infrastructure/ws"
	"negotiation-hub/internal"
	"negotiation-hub/observability"
	"negotiation-hub/runtime"
	"negotiation-hub/runtime/workers"
	"negotiation-hub/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Negotiator terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Every defer runs before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env file is fine, the environment wins anyway.
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, storage.InspectMapper)
	}

	// 3. Shared state
	var jobs contract.IJobStatus = runtime.NewJobStatus()
	ready := func(context.Context) error {
		if db.IsClosed() {
			return errors.New("database closed")
		}
		return nil
	}
	if config.RedisURL != "" {
		redisJobs, err := cache.NewRedisJobStatus(config.RedisURL, config.BookedTTL)
		if err != nil {
			return exitConfig, err
		}
		defer func() { _ = redisJobs.Close() }()
		jobs = redisJobs
		ready = func(ctx context.Context) error {
			if db.IsClosed() {
				return errors.New("database closed")
			}
			return redisJobs.Ping(ctx)
		}
		logger.Info("Booked markers shared through Redis")
	}

	signer := auth.NewSigner(config.JWTSecret, config.TokenTTL)
	var resolver contract.IIdentityResolver = identity.NewClaimsResolver(signer)
	if config.IdentityURL != "" {
		resolver = identity.NewHTTPResolver(config.IdentityURL, config.IdentityTimeout)
	} else {
		logger.Warn("IDENTITY_URL not set, identities are read from token claims")
	}

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registerer)

	// 4. Engine, services & workers
	repository := storage.NewNegotiationRepository(db, logger)
	registry := runtime.NewRegistry()
	engine := runtime.NewDeliveryEngine(registry, repository, metrics, logger, config.AckTimeout)
	fanout := runtime.NewNotificationFanout(engine, jobs, resolver, metrics, logger, config.FanoutConcurrency, config.SinkTimeout)
	replay := workers.NewOutboxReplay(repository, engine, logger, config.ReplayBuffer, config.ReplayBatch)
	expiry := workers.NewConversationExpiry(repository, logger, config.ConversationTTL, config.ExpiryInterval)

	presence := services.NewPresenceService(registry, resolver, replay, metrics, logger)
	negotiation := services.NewNegotiationService(repository, engine, jobs, resolver, metrics, logger)
	connections := services.NewConnectionService(registry, presence, engine)

	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(logger).WithRestartDelay(config.RestartInterval)
	sup.Add(replay, expiry)
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		sup.Run(ctx)
	}()

	errChan := make(chan error, 2)

	// 5. HTTP & websocket
	socket := ws.NewHandler(signer, presence, negotiation, logger, ws.Options{
		SendBuffer:  config.ConnectionBufferSize,
		ReadTimeout: config.ReadTimeout,
	})
	e := api.NewEcho(api.Deps{
		Signer:      signer,
		Auth:        services.NewAuthService(config.OperatorName, config.OperatorPasswordHash, signer),
		Negotiation: negotiation,
		Connections: connections,
		Fanout:      fanout,
		Socket:      socket.Handle,
		Gatherer:    registerer,
		Ready:       ready,
		Log:         logger,
	})
	httpAddress := fmt.Sprintf("%s:%d", config.Host, config.HTTPPort)
	go func() {
		logger.Info("Starting HTTP server", "address", httpAddress, "at", time.Now().UTC())
		if err := e.Start(httpAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 6. gRPC health
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(logger)))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		logger.Info("Starting gRPC server", "address", grpcAddress, "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
		stop()
	}

	// 8. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutting down gracefully...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	s.GracefulStop()
	<-supervised
	logger.Info("Program stopped cleanly")

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
