package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"linekv/internal/config"
	adminhttp "linekv/internal/http"
	"linekv/internal/logging"
	"linekv/internal/metrics"
	"linekv/internal/server"
	"linekv/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath = pflag.String("config", "", "path to a TOML config file")
		addr       = pflag.String("addr", "", "listen address, overrides the config file")
		strategy   = pflag.String("strategy", "", "concurrency strategy: single, pool or async")
		workers    = pflag.Int("workers", 0, "worker count for the pool strategy")
	)
	pflag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.FromFile(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *strategy != "" {
		cfg.Strategy = *strategy
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync()

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	db := store.NewStore()
	m := metrics.NewMetrics()
	srv := server.NewServer(db, m, logger, cfg)

	strat, err := srv.Strategy()
	if err != nil {
		logger.Fatal("invalid strategy", zap.Error(err))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := strat.Serve(ctx, ln); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	if cfg.Admin.Enabled {
		admin := adminhttp.NewAdminServer(srv, m, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Start(ctx, cfg.Admin.Addr); err != nil {
				logger.Error("admin server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("linekv is running",
		zap.String("addr", cfg.ListenAddr),
		zap.String("strategy", cfg.Strategy))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timeout exceeded")
	}
}

func fatal(err error) {
	os.Stderr.WriteString("linekv: " + err.Error() + "\n")
	os.Exit(1)
}
