package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	categoryrepo "fleet-control-plane/internal/category/repository"
	"fleet-control-plane/internal/config"
	"fleet-control-plane/internal/db"
	devicehandler "fleet-control-plane/internal/device/handler"
	devicerepo "fleet-control-plane/internal/device/repository"
	deviceservice "fleet-control-plane/internal/device/service"
	"fleet-control-plane/internal/devicelock"
	healthhandler "fleet-control-plane/internal/health/handler"
	hbhandler "fleet-control-plane/internal/heartbeat/handler"
	hbrepo "fleet-control-plane/internal/heartbeat/repository"
	hbservice "fleet-control-plane/internal/heartbeat/service"
	"fleet-control-plane/internal/history"
	historyhandler "fleet-control-plane/internal/history/handler"
	historyrepo "fleet-control-plane/internal/history/repository"
	insthandler "fleet-control-plane/internal/installation/handler"
	instservice "fleet-control-plane/internal/installation/service"
	"fleet-control-plane/internal/integrity"
	loanrepo "fleet-control-plane/internal/loan/repository"
	"fleet-control-plane/internal/logger"
	mgmthandler "fleet-control-plane/internal/management/handler"
	mgmtrepo "fleet-control-plane/internal/management/repository"
	mgmtservice "fleet-control-plane/internal/management/service"
	"fleet-control-plane/internal/platform/validate"
	"fleet-control-plane/internal/security"
	"fleet-control-plane/internal/server"
	"fleet-control-plane/internal/tamper"
	"fleet-control-plane/internal/tamper/publisher"
	tamperrepo "fleet-control-plane/internal/tamper/repository"
	telemetryotel "fleet-control-plane/internal/telemetry/otel"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	_, pub, err := security.LoadKeys("", cfg.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}
	tokens := security.NewTokenProvider(nil, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	var locker devicelock.Locker = devicelock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		locker = devicelock.NewRedisLocker(rdb, cfg.LockTTL(), log)
		log.Info("device locks shared through redis", zap.String("addr", cfg.RedisAddr))
	}

	var pubs []publisher.Publisher
	if kp := publisher.NewKafkaPublisher(cfg.KafkaBrokersList(), cfg.TamperKafkaTopic); kp != nil {
		pubs = append(pubs, kp)
	}
	pubs = append(pubs, publisher.NewOTelPublisher(providers.LoggerProvider))

	devices := devicerepo.NewPostgresRepository(conn)
	loans := loanrepo.NewPostgresRepository(conn)
	categories := categoryrepo.NewPostgresRepository(conn)
	historyRepo := historyrepo.NewPostgresRepository(conn)
	recorder := history.NewRecorder(historyRepo, log)
	signals := tamper.NewRecorder(tamperrepo.NewPostgresRepository(conn), log, pubs...)

	mgmt := mgmtservice.NewService(mgmtrepo.NewPostgresRepository(conn), devices, locker, recorder, log)
	deviceSvc := deviceservice.NewService(deviceservice.NewPostgresTransactor(conn), devices, loans, categories, recorder, log)
	heartbeats := hbservice.NewService(hbservice.Deps{
		Devices:     devices,
		Categories:  categories,
		Comparer:    integrity.NewEngine(integrity.NewBaselineResolver(historyRepo), log),
		Snapshots:   hbrepo.NewPostgresRepository(conn),
		History:     recorder,
		Signals:     signals,
		Locker:      mgmt,
		Deactivator: deviceSvc,
		Loans:       loans,
		Location:    loc,
		Log:         log,
	})

	installs := instservice.NewService(instservice.Deps{
		Devices:  devices,
		Loans:    loans,
		Payments: heartbeats,
		History:  recorder,
		Signals:  signals,
		Location: loc,
		Log:      log,
	})

	health := healthhandler.NewServer(conn, log)
	go health.Run(ctx, healthInterval)

	v := validate.New()
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Heartbeat:       hbhandler.NewHandler(heartbeats, log),
			Devices:         devicehandler.NewHandler(deviceSvc, v, log),
			Management:      mgmthandler.NewHandler(mgmt, v, log),
			History:         historyhandler.NewHandler(devices, historyRepo, log),
			Installation:    insthandler.NewHandler(installs, v, log),
			Health:          health,
			DeviceAPIKey:    cfg.DeviceAPIKey,
			DeviceAPIHeader: cfg.DeviceAPIHeader,
			Tokens:          tokens,
			Log:             log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGRPCServer(health)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()

	// Let in-flight tamper publishes finish before closing their sinks.
	time.Sleep(tamper.ShutdownDrainDuration)
	if err := signals.Close(); err != nil {
		log.Warn("close tamper publishers", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
	log.Info("servers stopped")
	return serveErr
}
