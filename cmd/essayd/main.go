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

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
)

func main() {
	configPath := flag.String("config", os.Getenv("ESSAY_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "essayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := bootstrap.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			logger.Error("app.close.failed", "error", err)
		}
	}()

	if err := app.Recover(ctx); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           app.HTTPServer().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	reflection.Register(grpcSrv)

	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http.listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			logger.Info("grpc.listening", "addr", grpcLis.Addr().String())
			return grpcSrv.Serve(grpcLis)
		})
	}

	// Mirror the dependency checks into the gRPC health service.
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			status := healthpb.HealthCheckResponse_SERVING
			for name, c := range app.HealthChecks() {
				pingCtx, cancel := context.WithTimeout(gctx, 3*time.Second)
				err := c.Ping(pingCtx)
				cancel()
				if err != nil {
					logger.Warn("health.check.failed", "check", name, "error", err)
					status = healthpb.HealthCheckResponse_NOT_SERVING
				}
			}
			hs.SetServingStatus("", status)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return err
	})

	return g.Wait()
}
