package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"secrange/internal/cli"
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
		os.Exit(1)
	}

	// Operator tool: keep the engine's logs out of the prompt.
	cfg.Logger.Level = "warn"
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = eng.Close()
	}()

	session := cli.New(eng)

	// One-shot mode when a command is given, REPL otherwise.
	if args := flag.Args(); len(args) > 0 {
		if err := session.Dispatch(ctx, os.Stdout, args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := session.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
