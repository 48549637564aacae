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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradepost.app/internal/apidoc"
	"tradepost.app/internal/config"
	"tradepost.app/internal/httpapi"
	"tradepost.app/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRADEPOST_CONFIG"), "path to YAML config file")
	flag.Parse()

	// .env is optional; real environments inject variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		obs.InitLogger(obs.LogConfig{Env: "dev"}).Fatal("invalid configuration", zap.Error(err))
	}

	log := obs.InitLogger(obs.LogConfig{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "tradepost-api",
		Version:     version,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("stopped")
}

func run(cfg config.Config, log *zap.Logger) error {
	obs.Init()
	bi := obs.InitBuildInfo(version, commit)
	log.Info("starting", zap.String("version", bi.Version), zap.String("commit", bi.Commit), zap.String("go", bi.GoVersion))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := apidoc.Load(ctx); err != nil {
		return err
	}

	a, err := build(ctx, cfg, version, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(a.ready)
	grpcSrv := httpapi.NewGRPCServer(health)

	httpLis, grpcLis, err := listen(cfg.Server)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", httpLis.Addr().String()), zap.String("version", version))
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			log.Info("grpc listening", zap.String("addr", grpcLis.Addr().String()))
			return grpcSrv.Serve(grpcLis)
		})
		g.Go(func() error {
			health.Run(gctx, 5*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// listen binds every configured address before any server starts, so a
// bind failure leaves nothing running. The gRPC listener is nil when no
// address is configured.
func listen(cfg config.Server) (httpLis, grpcLis net.Listener, err error) {
	httpLis, err = net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen http %s: %w", cfg.Addr, err)
	}
	if cfg.GRPCAddr == "" {
		return httpLis, nil, nil
	}
	grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return nil, nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	return httpLis, grpcLis, nil
}
