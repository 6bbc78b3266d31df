package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// TableInitializer creates target tables and performs their first load.
type TableInitializer struct {
	sessions SessionFactory
	retry    bool
	logger   *zap.Logger
}

// NewTableInitializer creates a TableInitializer. When retry is set, a
// failed init reconciles the schema version, drops the table and tries
// exactly once more.
func NewTableInitializer(sessions SessionFactory, retry bool, logger *zap.Logger) *TableInitializer {
	return &TableInitializer{
		sessions: sessions,
		retry:    retry,
		logger:   logger.With(zap.String("component", "table_initializer")),
	}
}

// Initialize creates and loads a table. Any failure that is not benign and
// not recovered is returned as an *InitializationError.
func (i *TableInitializer) Initialize(ctx context.Context, namespace, table string) (InitOutcome, error) {
	log := i.logger.With(zap.String("namespace", namespace), zap.String("table", table))

	outcome, err := i.attempt(ctx, namespace, table)
	if err == nil {
		return outcome, nil
	}
	if !i.retry || ctx.Err() != nil {
		return 0, &InitializationError{Table: table, Err: err}
	}

	log.Warn("Init failed, dropping table and retrying once", zap.Error(err))

	if rerr := i.reset(ctx, namespace, table); rerr != nil {
		log.Error("Failed to reset table before retry", zap.Error(rerr))
		return 0, &InitializationError{Table: table, Err: rerr}
	}

	outcome, err = i.attempt(ctx, namespace, table)
	if err != nil {
		return 0, &InitializationError{Table: table, Err: err}
	}
	return outcome, nil
}

// attempt runs one init in its own session. Benign conditions are
// reported as InitAlreadyInitialized.
func (i *TableInitializer) attempt(ctx context.Context, namespace, table string) (InitOutcome, error) {
	err := withSession(ctx, i.sessions, i.logger, func(s Session) error {
		return s.Initialize(ctx, namespace, table)
	})
	switch {
	case err == nil:
		return InitSucceeded, nil
	case isAlreadyInitialized(err):
		return InitAlreadyInitialized, nil
	default:
		return 0, err
	}
}

// reset reconciles the schema version while any replication state still
// exists, then drops the target table and its replication state, in a fresh
// session. A reconcile failure does not prevent the drop.
func (i *TableInitializer) reset(ctx context.Context, namespace, table string) error {
	return withSession(ctx, i.sessions, i.logger, func(s Session) error {
		if err := s.ReconcileSchemaVersion(ctx, namespace, table); err != nil {
			i.logger.Warn("Failed to reconcile schema version before drop",
				zap.String("namespace", namespace),
				zap.String("table", table),
				zap.Error(err))
		}
		return s.DropTable(ctx, namespace, table)
	})
}

// isAlreadyInitialized matches both benign init conditions: replication
// state already present, and the target table already existing.
func isAlreadyInitialized(err error) bool {
	return errors.Is(err, errors.ErrTableAlreadyReplicated) || errors.IsType(err, errors.ErrorTypeConflict)
}
