package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/errors"
	"github.com/ajitpratap0/dapsync/pkg/metrics"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// NamespaceProcessor processes one namespace. *Orchestrator implements it.
type NamespaceProcessor interface {
	Process(ctx context.Context, namespace string, ops Ops, existing schema.TableSet) ([]Failure, error)
}

// Runner coordinates a full run over the selected namespaces.
type Runner struct {
	opts      Options
	inspector Inspector
	processor NamespaceProcessor
	notifier  Notifier
	metrics   *metrics.Collector
	now       func() time.Time
	logger    *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the wall clock used to time the run.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithRunMetrics records run totals into c and pushes them when the run ends.
func WithRunMetrics(c *metrics.Collector) RunnerOption {
	return func(r *Runner) {
		r.metrics = c
	}
}

// NewRunner creates a Runner.
func NewRunner(opts Options, inspector Inspector, processor NamespaceProcessor, notifier Notifier, logger *zap.Logger, options ...RunnerOption) *Runner {
	r := &Runner{
		opts:      opts,
		inspector: inspector,
		processor: processor,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "runner")),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Run processes the selected namespaces in order and then calls the
// notifier exactly once with the accumulated failures. A namespace-fatal
// error stops the run before the notifier is reached and is returned along
// with the partial SyncRun.
func (r *Runner) Run(ctx context.Context) (*SyncRun, error) {
	run := &SyncRun{Start: r.now()}

	r.logger.Info("Run started",
		zap.Strings("namespaces", r.opts.Namespaces),
		zap.Stringer("ops", r.opts.Ops))

	for _, ns := range r.opts.Namespaces {
		existing, err := r.inspector.GetTableNames(ctx, ns)
		if err != nil {
			run.Elapsed = r.now().Sub(run.Start)
			return run, errors.Wrap(err, errors.TypeOf(err), "failed to inspect existing tables").
				WithDetail("namespace", ns)
		}

		failures, err := r.processor.Process(ctx, ns, r.opts.Ops, existing)
		run.Namespaces = append(run.Namespaces, ns)
		run.Failures = append(run.Failures, failures...)
		if err != nil {
			run.Elapsed = r.now().Sub(run.Start)
			r.logger.Error("Run aborted", zap.String("namespace", ns), zap.Error(err))
			return run, err
		}
	}

	run.Elapsed = r.now().Sub(run.Start)

	if err := r.notifier.Notify(ctx, run.Failures, run.Elapsed); err != nil {
		r.logger.Error("Failed to send failure report", zap.Error(err))
	}

	r.metrics.ObserveRun(run.Elapsed, len(run.Failures))
	if err := r.metrics.Push(ctx); err != nil {
		r.logger.Warn("Failed to push metrics", zap.Error(err))
	}

	r.logger.Info("Run completed",
		zap.Duration("elapsed", run.Elapsed),
		zap.Int("failures", len(run.Failures)))
	return run, nil
}
