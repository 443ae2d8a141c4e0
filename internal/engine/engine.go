// Package engine assembles the orchestration components into one runnable
// unit shared by the daemon and the operator CLI.
package engine

import (
	"context"

	"secrange/internal/catalog"
	"secrange/internal/flags"
	"secrange/internal/health"
	"secrange/internal/hints"
	"secrange/internal/orchestrator"
	"secrange/internal/runtime"
	"secrange/internal/security"
	"secrange/internal/session"
)

// Engine wires the catalog, resolver, flag engine, orchestrator, session
// manager, sweep and health monitor over one Docker runtime.
type Engine struct {
	Catalog      *catalog.Index
	Resolver     *security.Resolver
	Flags        *flags.Engine
	Runtime      *runtime.DockerRuntime
	Registry     *orchestrator.Registry
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Manager
	Hints        *hints.Service
	Sweeper      *session.Sweeper
	Monitor      *health.Monitor
}

// New builds a fully wired engine from configuration. Registries are fresh
// per call; nothing here is process-global.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	defs, err := catalog.LoadWithImports(cfg.Catalog.Path, cfg.Catalog.ImportedPath)
	if err != nil {
		return nil, err
	}
	idx := catalog.NewIndex(defs)

	flagEngine, err := flags.NewEngine(cfg.Flag.SecretKey)
	if err != nil {
		return nil, err
	}

	dockerRT, err := runtime.NewDockerRuntime(ctx)
	if err != nil {
		return nil, err
	}

	resolver := security.NewResolver(security.DefaultCeilings())
	registry := orchestrator.NewRegistry()
	orch := orchestrator.New(idx, resolver,
		flagEngine, dockerRT, registry, orchestrator.Config{
			SessionTTL:         cfg.Orchestrator.SessionTTL.Std(),
			StartupTimeout:     cfg.Orchestrator.StartupTimeout.Std(),
			HealthPollInterval: cfg.Orchestrator.HealthPollInterval.Std(),
		})

	sessions := session.NewManager(orch, session.Config{
		TTL:           cfg.Orchestrator.SessionTTL.Std(),
		MaxPerUser:    cfg.Session.MaxPerUser,
		SweepInterval: cfg.Session.SweepInterval.Std(),
	})

	eng := &Engine{
		Catalog:      idx,
		Resolver:     resolver,
		Flags:        flagEngine,
		Runtime:      dockerRT,
		Registry:     registry,
		Orchestrator: orch,
		Sessions:     sessions,
		Hints:        hints.NewService(idx, sessions),
		Sweeper:      session.NewSweeper(sessions),
	}
	if cfg.Health.Enabled {
		eng.Monitor = health.NewMonitor(dockerRT, registry, orch, health.Config{
			Interval:         cfg.Health.Interval.Std(),
			FailureThreshold: cfg.Health.FailureThreshold,
			MaxRecoveries:    cfg.Health.MaxRecoveries,
		})
	}
	return eng, nil
}

// Close releases the runtime connection.
func (e *Engine) Close() error {
	return e.Runtime.Close()
}
