// Package replicator copies remote export tables into PostgreSQL.
//
// A Session pairs one query API session with one database connection and
// serves a single table operation. Replication state (last watermark,
// schema version and schema document per table) lives in the meta table
// instructure_dap.table_sync; target tables live in a database schema named
// after the namespace.
//
//	sess, err := repl.Open(ctx)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close(ctx)
//	err = sess.Synchronize(ctx, "canvas", "submissions")
package replicator

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/dap"
	"github.com/ajitpratap0/dapsync/pkg/errors"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

const (
	// copyChunkSize is the number of rows sent per COPY during a bootstrap load
	copyChunkSize = 10000
	// batchSize is the number of statements queued per batch during a sync
	batchSize = 1000

	pgDuplicateTable = "42P07"
)

// Replicator opens replication sessions.
type Replicator struct {
	db     config.DatabaseConfig
	api    *dap.Client
	logger *zap.Logger
}

// New creates a Replicator.
func New(db config.DatabaseConfig, api *dap.Client, logger *zap.Logger) *Replicator {
	return &Replicator{
		db:     db,
		api:    api,
		logger: logger.With(zap.String("component", "replicator")),
	}
}

// Open authenticates against the query API and connects to the database.
// The returned Session must be closed by the caller.
func (r *Replicator) Open(ctx context.Context) (*Session, error) {
	api, err := r.api.Open(ctx)
	if err != nil {
		return nil, err
	}

	connCtx := ctx
	if r.db.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, r.db.ConnectTimeout)
		defer cancel()
	}
	conn, err := pgx.Connect(connCtx, r.db.ConnectionString)
	if err != nil {
		api.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to database")
	}

	return &Session{api: api, conn: conn, logger: r.logger}, nil
}

// Session performs table operations over one API session and one connection.
type Session struct {
	api    *dap.Session
	conn   *pgx.Conn
	logger *zap.Logger
}

// Close releases the database connection and the API session.
func (s *Session) Close(ctx context.Context) error {
	s.api.Close()
	if err := s.conn.Close(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close database connection")
	}
	return nil
}

type tableState struct {
	Timestamp     time.Time
	SchemaVersion int64
	Description   []byte
}

// Initialize creates the target table and performs a full load. It fails
// with ErrTableAlreadyReplicated when replication state already exists, and
// with a conflict error when the target table already exists.
func (s *Session) Initialize(ctx context.Context, namespace, table string) error {
	log := s.logger.With(zap.String("namespace", namespace), zap.String("table", table))

	if err := s.ensureMeta(ctx); err != nil {
		return err
	}
	state, err := s.loadState(ctx, namespace, table)
	if err != nil {
		return err
	}
	if state != nil {
		return errors.Wrap(errors.ErrTableAlreadyReplicated, errors.ErrorTypeConflict, "replication state exists").
			WithDetail("table", table)
	}

	doc, err := s.api.GetTableSchema(ctx, namespace, table)
	if err != nil {
		return err
	}
	ts, err := schema.Parse(doc.Schema, doc.Version)
	if err != nil {
		return err
	}

	job, err := s.api.QuerySnapshot(ctx, namespace, table)
	if err != nil {
		return err
	}
	at, ok := job.Watermark()
	if !ok {
		return errors.New(errors.ErrorTypeJob, "snapshot job has no consistency timestamp").
			WithDetail("job_id", job.ID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, createSchemaSQL(namespace)); err != nil {
		return wrapPgError(err, "failed to create target schema")
	}
	if _, err := tx.Exec(ctx, createTableSQL(namespace, table, ts)); err != nil {
		return wrapPgError(err, "failed to create target table")
	}

	loaded, err := s.copySnapshot(ctx, tx, namespace, table, ts, job)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, insertMetaSQL, namespace, table, at, ts.Version, namespace, table, []byte(doc.Schema)); err != nil {
		return wrapPgError(err, "failed to record replication state")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgError(err, "failed to commit initial load")
	}

	log.Info("Initial load complete",
		zap.Int64("rows", loaded),
		zap.Int64("schema_version", ts.Version),
		zap.Time("watermark", at))
	return nil
}

func (s *Session) copySnapshot(ctx context.Context, tx pgx.Tx, namespace, table string, ts *schema.TableSchema, job *dap.Job) (int64, error) {
	ident := tableIdent(namespace, table)
	names := ts.ColumnNames()

	var total int64
	rows := make([][]interface{}, 0, copyChunkSize)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, ident, names, pgx.CopyFromRows(rows))
		if err != nil {
			return wrapPgError(err, "failed to copy rows")
		}
		total += n
		rows = rows[:0]
		return nil
	}

	err := s.api.ForEachRecord(ctx, job, func(rec *dap.Record) error {
		if rec.IsDelete() {
			return nil
		}
		row, err := rowValues(ts, rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		if len(rows) >= copyChunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// Synchronize applies the changes made to a table since its last watermark.
func (s *Session) Synchronize(ctx context.Context, namespace, table string) error {
	log := s.logger.With(zap.String("namespace", namespace), zap.String("table", table))

	if err := s.ensureMeta(ctx); err != nil {
		return err
	}
	state, err := s.loadState(ctx, namespace, table)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.Wrap(errors.ErrTableNotInitialized, errors.ErrorTypeNotFound, "no replication state").
			WithDetail("table", table)
	}

	ts, err := schema.Parse(state.Description, state.SchemaVersion)
	if err != nil {
		return err
	}

	job, err := s.api.QueryIncremental(ctx, namespace, table, state.Timestamp)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	upsert := upsertSQL(namespace, table, ts)
	remove := deleteSQL(namespace, table, ts)

	var upserted, deleted int
	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return wrapPgError(err, "failed to apply changes")
		}
		batch = &pgx.Batch{}
		return nil
	}

	err = s.api.ForEachRecord(ctx, job, func(rec *dap.Record) error {
		if rec.IsDelete() {
			keys, err := keyValues(ts, rec)
			if err != nil {
				return err
			}
			batch.Queue(remove, keys...)
			deleted++
		} else {
			row, err := rowValues(ts, rec)
			if err != nil {
				return err
			}
			batch.Queue(upsert, row...)
			upserted++
		}
		if batch.Len() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	watermark := state.Timestamp
	if until, ok := job.Watermark(); ok {
		watermark = until
	}
	if _, err := tx.Exec(ctx, updateMetaTimestampSQL, namespace, table, watermark); err != nil {
		return wrapPgError(err, "failed to update replication state")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgError(err, "failed to commit changes")
	}

	log.Info("Applied changes",
		zap.Int("upserted", upserted),
		zap.Int("deleted", deleted),
		zap.Time("watermark", watermark))
	return nil
}

// ReconcileSchemaVersion brings a replicated table up to the current remote
// schema version by adding new columns. Tables without replication state are
// left alone.
func (s *Session) ReconcileSchemaVersion(ctx context.Context, namespace, table string) error {
	if err := s.ensureMeta(ctx); err != nil {
		return err
	}
	state, err := s.loadState(ctx, namespace, table)
	if err != nil || state == nil {
		return err
	}

	doc, err := s.api.GetTableSchema(ctx, namespace, table)
	if err != nil {
		return err
	}
	if doc.Version == state.SchemaVersion {
		return nil
	}

	current, err := schema.Parse(state.Description, state.SchemaVersion)
	if err != nil {
		return err
	}
	next, err := schema.Parse(doc.Schema, doc.Version)
	if err != nil {
		return err
	}
	added := current.AddedColumns(next)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	for _, c := range added {
		if _, err := tx.Exec(ctx, addColumnSQL(namespace, table, c)); err != nil {
			return wrapPgError(err, "failed to add column").WithDetail("column", c.Name)
		}
	}
	if _, err := tx.Exec(ctx, updateMetaSchemaSQL, namespace, table, doc.Version, []byte(doc.Schema)); err != nil {
		return wrapPgError(err, "failed to update schema version")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgError(err, "failed to commit schema change")
	}

	s.logger.Info("Reconciled schema version",
		zap.String("namespace", namespace),
		zap.String("table", table),
		zap.Int64("from", state.SchemaVersion),
		zap.Int64("to", doc.Version),
		zap.Int("added_columns", len(added)))
	return nil
}

// DropTable removes the target table and its replication state.
func (s *Session) DropTable(ctx context.Context, namespace, table string) error {
	if err := s.ensureMeta(ctx); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, dropTableSQL(namespace, table)); err != nil {
		return wrapPgError(err, "failed to drop table")
	}
	if _, err := tx.Exec(ctx, deleteMetaSQL, namespace, table); err != nil {
		return wrapPgError(err, "failed to delete replication state")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgError(err, "failed to commit drop")
	}

	s.logger.Info("Dropped table",
		zap.String("namespace", namespace),
		zap.String("table", table))
	return nil
}

func (s *Session) ensureMeta(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, createMetaSchemaSQL); err != nil {
		return wrapPgError(err, "failed to create meta schema")
	}
	if _, err := s.conn.Exec(ctx, createMetaTableSQL); err != nil {
		return wrapPgError(err, "failed to create meta table")
	}
	return nil
}

// loadState returns nil when the table has no replication state.
func (s *Session) loadState(ctx context.Context, namespace, table string) (*tableState, error) {
	var st tableState
	err := s.conn.QueryRow(ctx, selectMetaSQL, namespace, table).
		Scan(&st.Timestamp, &st.SchemaVersion, &st.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPgError(err, "failed to read replication state")
	}
	return &st, nil
}

// wrapPgError classifies a database error; duplicate_table becomes a conflict.
func wrapPgError(err error, message string) *errors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateTable {
		return errors.Wrap(err, errors.ErrorTypeConflict, "table already exists")
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errors.Wrap(err, errors.ErrorTypeConnection, message)
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, message)
}
