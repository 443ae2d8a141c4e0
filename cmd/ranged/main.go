package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"secrange/internal/engine"
	"secrange/pkg/utils/logger"
)

const defaultConfigPath = "configs/ranged.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "engine init failed", zap.Error(err))
		return
	}
	defer func() {
		_ = eng.Close()
	}()

	logger.Info(ctx, "challenge engine started",
		zap.Int("challenges", eng.Catalog.Len()))

	eng.Sweeper.Start(ctx)
	if eng.Monitor != nil {
		eng.Monitor.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info(ctx, "shutting down", zap.String("signal", sig.String()))

	if eng.Monitor != nil {
		eng.Monitor.Close()
	}
	eng.Sweeper.Close()

	// The registry is in-process: draining on exit is the only way to avoid
	// orphaned containers across a restart.
	eng.Sessions.Shutdown(ctx)
	cancel()
}
