package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/anvilcode/anvil/internal/config"
	"github.com/anvilcode/anvil/internal/executor"
	"github.com/anvilcode/anvil/internal/hooks"
	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/pricing"
	"github.com/anvilcode/anvil/internal/state"
)

// app bundles the wired components every command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *state.Store
	prices *pricing.Table
	exec   executor.Executor
	loops  *looper.Looper
	hooks  *hooks.Runner
}

// newApp wires configuration, logging, state, pricing, and the executor
// backend. needExecutor skips backend setup for read-only commands.
func newApp(needExecutor bool) (*app, error) {
	cfg, err := config.Load(flagConfigRoot)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(cfg.State.Dir, logger)
	if err != nil {
		return nil, err
	}

	prices := pricing.Default()
	if cfg.PriceFile != "" {
		prices, err = pricing.Load(cfg.PriceFile)
		if err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		prices: prices,
		hooks:  hooks.NewRunner(cfg.Hooks, logger),
	}

	if needExecutor {
		a.exec, err = buildExecutor(cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	a.loops = looper.New(a.exec, store, prices, logger)
	return a, nil
}

func buildExecutor(cfg *config.Config, logger *zap.Logger) (executor.Executor, error) {
	switch cfg.Executor.Backend {
	case "", "cli":
		if err := checkAgentCLI(); err != nil {
			return nil, err
		}
		return executor.NewCLIExecutor(logger), nil
	case "api":
		return executor.NewAPIExecutor(executor.APIConfig{
			APIKey:        cfg.Executor.APIKey,
			UseAWSBedrock: cfg.Executor.UseAWSBedrock,
			AWSRegion:     cfg.Executor.AWSRegion,
			AWSProfile:    cfg.Executor.AWSProfile,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown executor backend %q (want cli or api)", cfg.Executor.Backend)
	}
}

// loopConfig assembles the per-task loop settings from config and flags.
func (a *app) loopConfig(marker string) looper.Config {
	if marker == "" {
		marker = a.cfg.Defaults.CompletionMarker
	}
	return looper.Config{
		Completion:       looper.NewMarkerCompletion(marker),
		AllowedTools:     a.cfg.Executor.AllowedTools,
		ContextCarryOver: a.cfg.Defaults.ContextCarryOver,
		IterationDelay:   a.cfg.Defaults.IterationDelay,
		Sink:             a.hooks.Sink(),
	}
}

func (a *app) close() {
	_ = a.logger.Sync()
}
