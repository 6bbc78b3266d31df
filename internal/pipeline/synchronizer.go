package pipeline

import (
	"context"

	"go.uber.org/zap"
)

// TableSynchronizer applies incremental changes to replicated tables.
type TableSynchronizer struct {
	sessions SessionFactory
	logger   *zap.Logger
}

// NewTableSynchronizer creates a TableSynchronizer.
func NewTableSynchronizer(sessions SessionFactory, logger *zap.Logger) *TableSynchronizer {
	return &TableSynchronizer{
		sessions: sessions,
		logger:   logger.With(zap.String("component", "table_synchronizer")),
	}
}

// Synchronize reconciles the schema version and then applies the changes
// since the last sync. Errors are returned as *SyncError and never retried.
func (s *TableSynchronizer) Synchronize(ctx context.Context, namespace, table string) error {
	err := withSession(ctx, s.sessions, s.logger, func(sess Session) error {
		if err := sess.ReconcileSchemaVersion(ctx, namespace, table); err != nil {
			return err
		}
		return sess.Synchronize(ctx, namespace, table)
	})
	if err != nil {
		return &SyncError{Table: table, Err: err}
	}
	return nil
}
