package schema

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// TableSet is a read-only snapshot of table names in one database schema.
type TableSet map[string]struct{}

// NewTableSet builds a TableSet from names.
func NewTableSet(names ...string) TableSet {
	set := make(TableSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s TableSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set members in sorted order.
func (s TableSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const listTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name
`

// Inspector lists tables already present in the target database.
type Inspector struct {
	connString     string
	connectTimeout time.Duration
	logger         *zap.Logger
}

// NewInspector creates an Inspector for the given connection string.
func NewInspector(connString string, connectTimeout time.Duration, logger *zap.Logger) *Inspector {
	return &Inspector{
		connString:     connString,
		connectTimeout: connectTimeout,
		logger:         logger.With(zap.String("component", "schema_inspector")),
	}
}

// GetTableNames returns the tables in the database schema named after the namespace.
// The connection is opened for this call only.
func (i *Inspector) GetTableNames(ctx context.Context, namespace string) (TableSet, error) {
	connCtx := ctx
	if i.connectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, i.connectTimeout)
		defer cancel()
	}

	conn, err := pgx.Connect(connCtx, i.connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to database")
	}
	defer func() {
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil {
			i.logger.Warn("failed to close database connection", zap.Error(cerr))
		}
	}()

	rows, err := conn.Query(ctx, listTablesQuery, namespace)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables").
			WithDetail("namespace", namespace)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read table names").
			WithDetail("namespace", namespace)
	}

	i.logger.Debug("inspected existing tables",
		zap.String("namespace", namespace),
		zap.Int("count", len(names)))

	return NewTableSet(names...), nil
}
