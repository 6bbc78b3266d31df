package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/internal/pipeline"
	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/dap"
	"github.com/ajitpratap0/dapsync/pkg/logger"
	"github.com/ajitpratap0/dapsync/pkg/metrics"
	"github.com/ajitpratap0/dapsync/pkg/notify"
	"github.com/ajitpratap0/dapsync/pkg/replicator"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// runFlags are the run command flags.
type runFlags struct {
	Init        bool
	Sync        bool
	Main        bool
	Logs        bool
	Debug       bool
	InitFailure string
	NoInitRetry bool
	Marker      string
}

// selection merges positional tokens and flags.
func selection(tokens []string, flags runFlags) (pipeline.Selection, error) {
	sel, err := pipeline.ParseTokens(tokens)
	if err != nil {
		return pipeline.Selection{}, err
	}
	if flags.Init {
		sel.Ops |= pipeline.OpInit
	}
	if flags.Sync {
		sel.Ops |= pipeline.OpSync
	}
	sel.Main = sel.Main || flags.Main
	sel.Logs = sel.Logs || flags.Logs
	sel.Debug = sel.Debug || flags.Debug
	return sel, nil
}

// applyFlags overrides run settings given on the command line.
func applyFlags(cfg *config.Config, sel pipeline.Selection, flags runFlags) {
	if flags.InitFailure != "" {
		cfg.Run.InitFailurePolicy = flags.InitFailure
	}
	if flags.NoInitRetry {
		cfg.Run.InitRetry = false
	}
	if flags.Marker != "" {
		cfg.Run.CompletionMarker = flags.Marker
	}
	if sel.Debug {
		cfg.Log.Debug = true
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, func() error, error) {
	return logger.New(logger.Config{
		Debug:      cfg.Log.Debug,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
}

// runSync executes one replication run and writes the completion marker
// when it finishes normally.
func runSync(ctx context.Context, envFile string, tokens []string, flags runFlags) error {
	sel, err := selection(tokens, flags)
	if err != nil {
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, sel, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	opts := sel.Options(cfg.Run)
	log = log.With(zap.String("run_ops", opts.Ops.String()))

	api := dap.NewClient(cfg.API, log)
	repl := replicator.New(cfg.Database, api, log)
	sessions := pipeline.SessionFactoryFunc(func(ctx context.Context) (pipeline.Session, error) {
		sess, err := repl.Open(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})

	collector := metrics.NewCollector(cfg.Metrics)
	orchestrator := pipeline.NewOrchestrator(
		api,
		pipeline.NewTableInitializer(sessions, cfg.Run.InitRetry, log),
		pipeline.NewTableSynchronizer(sessions, log),
		log,
		pipeline.WithInitFailurePolicy(pipeline.InitFailurePolicy(cfg.Run.InitFailurePolicy)),
		pipeline.WithMetrics(collector),
	)
	runner := pipeline.NewRunner(
		opts,
		schema.NewInspector(cfg.Database.ConnectionString, cfg.Database.ConnectTimeout, log),
		orchestrator,
		notify.NewMailer(cfg.Mail, log),
		log,
		pipeline.WithRunMetrics(collector),
	)

	if _, err := runner.Run(ctx); err != nil {
		log.Error("Run failed", zap.Error(err))
		return err
	}

	if err := writeMarker(cfg.Run.CompletionMarker); err != nil {
		log.Error("Failed to write completion marker",
			zap.String("path", cfg.Run.CompletionMarker), zap.Error(err))
		return err
	}
	return nil
}

// writeMarker creates or truncates the zero-byte completion marker.
func writeMarker(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("failed to write completion marker %s: %w", path, err)
	}
	return nil
}

// listTables prints the remote tables of a namespace, marking the ones
// that already exist in the target database.
func listTables(ctx context.Context, envFile, namespace string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	tables, err := dap.NewClient(cfg.API, log).GetTables(ctx, namespace)
	if err != nil {
		return err
	}
	existing, err := schema.NewInspector(cfg.Database.ConnectionString, cfg.Database.ConnectTimeout, log).
		GetTableNames(ctx, namespace)
	if err != nil {
		return err
	}

	for _, t := range tables {
		state := "missing"
		if existing.Has(t) {
			state = "replicated"
		}
		fmt.Printf("%-48s %s\n", t, state)
	}
	return nil
}
