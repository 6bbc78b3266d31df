package testutil

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// PostgresSuite provides a database connection for integration tests. The
// suite is skipped unless DAPSYNC_TEST_DATABASE_URL is set.
type PostgresSuite struct {
	suite.Suite
	DSN  string
	Conn *pgx.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *PostgresSuite) SetupSuite() {
	s.DSN = DatabaseURL(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	conn, err := pgx.Connect(s.ctx, s.DSN)
	require.NoError(s.T(), err)
	s.Conn = conn
}

// TearDownSuite runs after all tests in the suite
func (s *PostgresSuite) TearDownSuite() {
	if s.Conn != nil {
		_ = s.Conn.Close(context.Background())
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.T().Logf("Integration suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *PostgresSuite) Context() context.Context {
	return s.ctx
}

// ResetNamespace drops the namespace schema and its replication state.
func (s *PostgresSuite) ResetNamespace(namespace string) {
	_, err := s.Conn.Exec(s.ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{namespace}.Sanitize()+" CASCADE")
	require.NoError(s.T(), err)

	var exists bool
	err = s.Conn.QueryRow(s.ctx, "SELECT to_regclass('instructure_dap.table_sync') IS NOT NULL").Scan(&exists)
	require.NoError(s.T(), err)
	if exists {
		_, err = s.Conn.Exec(s.ctx, "DELETE FROM instructure_dap.table_sync WHERE namespace = $1", namespace)
		require.NoError(s.T(), err)
	}
}

// CountRows returns the number of rows in a namespace table.
func (s *PostgresSuite) CountRows(namespace, table string) int {
	var n int
	err := s.Conn.QueryRow(s.ctx, "SELECT count(*) FROM "+pgx.Identifier{namespace, table}.Sanitize()).Scan(&n)
	require.NoError(s.T(), err)
	return n
}
