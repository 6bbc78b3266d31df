package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/errors"
	"github.com/ajitpratap0/dapsync/pkg/metrics"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// Initializer initializes single tables.
type Initializer interface {
	Initialize(ctx context.Context, namespace, table string) (InitOutcome, error)
}

// Synchronizer synchronizes single tables.
type Synchronizer interface {
	Synchronize(ctx context.Context, namespace, table string) error
}

// InitFailurePolicy decides what an unrecovered init failure does to the
// rest of its namespace.
type InitFailurePolicy string

const (
	// InitFailureAbort propagates the error and aborts the run
	InitFailureAbort InitFailurePolicy = config.InitFailureAbort
	// InitFailureSkipSync records the failure, stops the init phase and
	// skips the namespace's sync phase
	InitFailureSkipSync InitFailurePolicy = config.InitFailureSkipSync
	// InitFailureContinue records the failure and moves on to the next table
	InitFailureContinue InitFailurePolicy = config.InitFailureContinue
)

// Orchestrator processes the tables of one namespace.
type Orchestrator struct {
	catalog Catalog
	init    Initializer
	sync    Synchronizer
	policy  InitFailurePolicy
	metrics *metrics.Collector
	logger  *zap.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithInitFailurePolicy sets the init failure policy. The default is InitFailureAbort.
func WithInitFailurePolicy(p InitFailurePolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithMetrics records per-table metrics into c.
func WithMetrics(c *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(catalog Catalog, initializer Initializer, synchronizer Synchronizer, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		init:    initializer,
		sync:    synchronizer,
		policy:  InitFailureAbort,
		logger:  logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the requested operations over every remote table of a
// namespace, in remote order. existing is the snapshot of tables already in
// the target database, taken once before the namespace started.
//
// Sync failures are always recorded and never stop processing. An
// unrecovered init failure is handled per the configured policy; under
// InitFailureAbort it is returned as the error together with the failures
// collected so far.
func (o *Orchestrator) Process(ctx context.Context, namespace string, ops Ops, existing schema.TableSet) ([]Failure, error) {
	log := o.logger.With(zap.String("namespace", namespace))

	tables, err := o.catalog.GetTables(ctx, namespace)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to list remote tables").
			WithDetail("namespace", namespace)
	}
	log.Info("Processing namespace",
		zap.Int("tables", len(tables)),
		zap.Stringer("ops", ops))

	var failures []Failure
	skipSync := false

	if ops.Has(OpInit) {
	initLoop:
		for _, table := range tables {
			if err := ctx.Err(); err != nil {
				return failures, err
			}
			if existing.Has(table) {
				log.Info("Skipping initialization of existing table", zap.String("table", table))
				o.metrics.ObserveTable(namespace, metrics.OpInit, metrics.OutcomeSkipped, 0)
				continue
			}

			log.Info("Init Beginning", zap.String("table", table))
			timer := metrics.NewTimer()
			outcome, err := o.init.Initialize(ctx, namespace, table)
			o.metrics.ObserveTable(namespace, metrics.OpInit, metrics.OutcomeOf(err), timer.Stop())

			if err == nil {
				if outcome == InitAlreadyInitialized {
					log.Info("Table already initialized", zap.String("table", table))
				} else {
					log.Info("Init Completed", zap.String("table", table))
				}
				continue
			}

			log.Error("Init failed", zap.String("table", table), zap.Error(err))
			switch o.policy {
			case InitFailureContinue:
				failures = append(failures, Failure{Table: table, Message: err.Error()})
			case InitFailureSkipSync:
				failures = append(failures, Failure{Table: table, Message: err.Error()})
				skipSync = true
				break initLoop
			default:
				return failures, fmt.Errorf("namespace %s: %w", namespace, err)
			}
		}
	}

	if ops.Has(OpSync) {
		if skipSync {
			log.Warn("Skipping sync phase after init failure")
			return failures, nil
		}
		for _, table := range tables {
			if err := ctx.Err(); err != nil {
				return failures, err
			}

			log.Info("Sync Beginning", zap.String("table", table))
			timer := metrics.NewTimer()
			err := o.sync.Synchronize(ctx, namespace, table)
			o.metrics.ObserveTable(namespace, metrics.OpSync, metrics.OutcomeOf(err), timer.Stop())

			if err != nil {
				msg := syncFailureMessage(table, err)
				log.Error(msg, zap.String("table", table))
				failures = append(failures, Failure{Table: table, Message: msg})
				continue
			}
			log.Info("Sync Completed", zap.String("table", table))
		}
	}

	return failures, nil
}

// syncFailureMessage formats a sync error as "Sync failed for table <t>: <cause>".
func syncFailureMessage(table string, err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Error()
	}
	return (&SyncError{Table: table, Err: err}).Error()
}
