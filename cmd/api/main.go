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

	"github.com/spf13/pflag"

	"guardian.org/internal/auth"
	"guardian.org/internal/config"
	"guardian.org/internal/grpcapi"
	"guardian.org/internal/guard"
	"guardian.org/internal/httpapi"
	"guardian.org/internal/obs"
	"guardian.org/internal/ratelimit"
	"guardian.org/internal/rbac"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error("guardian: exiting", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("guardian-api", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("GUARDIAN_CONFIG"), "path to a YAML config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.SecretGenerated {
		obs.Warn("guardian: GUARDIAN_JWT_SECRET not set, using a random per-process secret", nil)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, backend.store.Revocations(ctx),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithRevocationTTL(cfg.RevocationTTL),
	)
	if err != nil {
		return err
	}
	accounts, err := auth.NewAuthenticator(backend.store, tokens,
		auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		auth.WithTOTPIssuer(cfg.TOTPIssuer),
	)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return err
	}
	evaluator := rbac.NewEvaluator(backend.store)
	pipeline, err := guard.New(limiter, tokens, evaluator)
	if err != nil {
		return err
	}

	go limiter.Run(ctx)
	go guard.Janitor{Revocations: backend.store.Revocations(ctx), Interval: time.Hour}.Run(ctx)

	api, err := httpapi.New(httpapi.Deps{
		Pipeline:       pipeline,
		Accounts:       accounts,
		Permissions:    evaluator,
		Ready:          backend.probe,
		Version:        version,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Info("guardian: http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv = grpcapi.NewServer(pipeline, evaluator, backend.probe)
		go grpcSrv.WatchHealth(ctx, 15*time.Second)
		go func() {
			obs.Info("guardian: grpc listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	return awaitShutdown(ctx, errCh, func(shutdownCtx context.Context) {
		_ = srv.Shutdown(shutdownCtx)
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
	})
}

// awaitShutdown blocks until ctx ends or a server fails, then runs stop. A
// server failure is returned so the process exits non-zero.
func awaitShutdown(ctx context.Context, errCh <-chan error, stop func(context.Context)) error {
	var runErr error
	select {
	case <-ctx.Done():
		obs.Info("guardian: shutting down", nil)
	case runErr = <-errCh:
		obs.Error("guardian: server failure", map[string]any{"error": runErr.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stop(shutdownCtx)
	obs.Info("guardian: stopped", nil)
	return runErr
}
