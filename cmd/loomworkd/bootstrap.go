package main

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/loomwork/loomwork/internal/capabilities"
	"github.com/loomwork/loomwork/internal/config"
	"github.com/loomwork/loomwork/internal/evolution"
	"github.com/loomwork/loomwork/internal/governor"
	"github.com/loomwork/loomwork/internal/lockfile"
	"github.com/loomwork/loomwork/internal/router"
	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
	"github.com/loomwork/loomwork/internal/tiers"
	"github.com/loomwork/loomwork/internal/workflow"
)

// app is the fully wired runtime: every subcommand operates against one of
// these. Grounded on the teacher's cmd/overhuman/main.go bootstrap(), which
// builds the same kind of struct (store, provider, pipeline) before
// dispatching to runCLI/runDaemon/runStatus.
type app struct {
	cfg      config.Config
	lock     *lockfile.Lock
	store    *store.Store
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	governor *governor.Governor
	router   *router.Router
	tiers    *tiers.Resolver
	evolver  *evolution.Engine
	executor *workflow.Executor
}

// bootstrap loads configuration, acquires the single-writer lock, opens the
// store, and wires every subsystem together. Callers must call app.Close
// when done.
func bootstrap(userConfigPath, projectConfigPath string) (*app, error) {
	cfg, err := config.Load(userConfigPath, projectConfigPath, "LOOMWORK")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lock := lockfile.New(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	logger := telemetry.NewLogger("loomworkd", os.Stderr)
	metrics := telemetry.NewMetrics()

	gov := governor.New(st, governorThresholds(cfg), cfg.DataDir, logger, metrics)
	rt := router.New(defaultModelCatalog(), st, gov, routerConfig(cfg), logger, metrics)
	tr := tiers.New(defaultTier0Tools(), defaultTierCategories(), defaultTierCatalog(), tierConfig(cfg), "")
	ev := evolution.New(st, evolution.WithLogger(logger), evolution.WithAlpha(cfg.Router.Alpha), evolution.WithTierResolver(tr))

	caps := capabilities.Set{Governor: gov, Router: rt, Tiers: tr, Evolver: ev}
	executor := workflow.New(st, caps.Handlers(), workflow.WithLogger(logger), workflow.WithMetrics(metrics))

	return &app{
		cfg: cfg, lock: lock, store: st, logger: logger, metrics: metrics,
		governor: gov, router: rt, tiers: tr, evolver: ev, executor: executor,
	}, nil
}

func openStore(cfg config.Config) (*store.Store, error) {
	checkpoint, err := time.ParseDuration(cfg.Store.CheckpointInterval)
	if err != nil {
		return nil, fmt.Errorf("parse store.checkpointInterval: %w", err)
	}
	busyTimeout, err := time.ParseDuration(cfg.Store.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse store.busyTimeout: %w", err)
	}
	st, err := store.Open(cfg.Store.Path,
		store.WithCheckpointInterval(checkpoint),
		store.WithBusyTimeout(busyTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func governorThresholds(cfg config.Config) governor.Thresholds {
	return governor.Thresholds{
		WarnPercent:      cfg.Governor.WarnThreshold,
		ErrorPercent:     cfg.Governor.ErrorThreshold,
		WarningQuota:     cfg.Governor.WarningQuota,
		CriticalQuota:    cfg.Governor.CriticalQuota,
		DefaultMaxTokens: int64(cfg.Governor.DefaultMaxTokens),
	}
}

func routerConfig(cfg config.Config) router.Config {
	return router.Config{
		Weights:              router.DefaultWeights(),
		PrimaryProvider:      "anthropic",
		PrimaryWeight:        cfg.Router.PrimaryProviderWeight,
		OtherWeight:          cfg.Router.OtherProviderWeight,
		DefaultSuccessRate:   cfg.Router.DefaultSuccessRate,
		ObservationThreshold: cfg.Router.ObservationThreshold,
		Alpha:                cfg.Router.Alpha,
	}
}

func tierConfig(cfg config.Config) tiers.Config {
	return tiers.Config{
		MaxTier1Tools:       cfg.Tiers.MaxTier1Tools,
		PromotionThreshold:  cfg.Tiers.PromotionThreshold,
		DemotionWindow:      cfg.Tiers.DemotionWindow,
		UsageFloor:          cfg.Tiers.UsageFloor,
		FingerprintCacheCap: cfg.Tiers.FingerprintCacheCap,
	}
}

// defaultModelCatalog is the built-in model catalog an operator's project
// config is expected to override; it exists so `loomworkd run` has
// something to route against out of the box.
func defaultModelCatalog() []router.ModelCandidate {
	return []router.ModelCandidate{
		{Model: "claude-haiku", Provider: "anthropic", Tier: router.TierCheap, CostPer1K: 0.001, Strengths: []string{"speed"}},
		{Model: "claude-sonnet", Provider: "anthropic", Tier: router.TierMid, CostPer1K: 0.003, Strengths: []string{"coding", "reasoning"}},
		{Model: "claude-opus", Provider: "anthropic", Tier: router.TierPowerful, CostPer1K: 0.015, Strengths: []string{"reasoning", "long-context"}},
		{Model: "gpt-4o-mini", Provider: "openai", Tier: router.TierCheap, CostPer1K: 0.0006, Strengths: []string{"speed"}},
		{Model: "gpt-4o", Provider: "openai", Tier: router.TierMid, CostPer1K: 0.0025, Strengths: []string{"coding"}},
	}
}

// defaultTier0Tools/defaultTierCategories/defaultTierCatalog seed the Tier
// Resolver with a minimal always-available toolset; an operator's project
// config is expected to extend these for their own skill catalog.
func defaultTier0Tools() []string {
	return []string{"read_file", "write_file", "list_directory", "run_command"}
}

func defaultTierCategories() []tiers.Category {
	return []tiers.Category{
		{Name: "testing", Pattern: regexp.MustCompile(`(?i)\b(test|spec|coverage)\b`), Tools: []string{"run_tests"}},
		{Name: "deployment", Pattern: regexp.MustCompile(`(?i)\b(deploy|release|rollout)\b`), Tools: []string{"deploy"}},
		{Name: "research", Pattern: regexp.MustCompile(`(?i)\b(research|investigate|survey)\b`), Skills: []string{"web-search"}},
	}
}

func defaultTierCatalog() map[string]tiers.SkillDef {
	return map[string]tiers.SkillDef{
		"systematic-debugging": {Name: "systematic-debugging", Description: "Form a hypothesis before changing code"},
		"context-gathering":    {Name: "context-gathering", Description: "Read surrounding state before acting"},
	}
}

// Close releases every resource bootstrap acquired, in reverse order.
func (a *app) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
