package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"pagehall.org/internal/auth"
	"pagehall.org/internal/catalog"
	"pagehall.org/internal/config"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/gateway"
	"pagehall.org/internal/httpapi"
	"pagehall.org/internal/obs"
	"pagehall.org/internal/store/memory"
	"pagehall.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what both stores provide.
type backend interface {
	auth.UserStore
	auth.RefreshTokenStore
	catalog.Store
	delivery.Store
	httpapi.Pinger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pagehall-api:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	obs.Init()
	obs.SetBuildInfo(version, commit)
	shutdownTracing := obs.SetupTracing("pagehall-api", version)

	var store backend
	if cfg.PGDSN != "" {
		pgs, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgs.Close()
		store = pgs
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("PAGEHALL_PG_DSN not set; using in-memory store")
	}

	authSvc, err := auth.NewService(store, store, cfg.AuthSecret,
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithReusePolicy(cfg.RefreshReusePolicy),
		auth.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	gw := gateway.New(authSvc, store, gateway.WithLogger(logger))
	deliverySvc := delivery.NewService(store, delivery.WithPusher(gw), delivery.WithLogger(logger))

	ready := httpapi.ReadyProbe{DB: store}
	api := httpapi.New(httpapi.Services{
		Auth:     authSvc,
		Catalog:  catalog.NewService(store, nil),
		Delivery: deliverySvc,
		Gateway:  gw,
	}, ready, httpapi.Config{
		Version:      version,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	})

	// WriteTimeout stays zero: real-time sessions hold responses open.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewHealthServer(ready, 5*time.Second)
	health.Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go health.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return runErr
}
