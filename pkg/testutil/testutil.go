// Package testutil provides shared fixtures for dapsync tests: a fake
// export API server and a PostgreSQL integration suite.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"
)

// EnvDatabaseURL names the database used by integration tests.
const EnvDatabaseURL = "DAPSYNC_TEST_DATABASE_URL"

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test completes.
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// IntegrationTest skips the test in short mode.
func IntegrationTest(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// DatabaseURL returns the integration database URL, skipping the test when
// it is not configured.
func DatabaseURL(t testing.TB) string {
	t.Helper()
	IntegrationTest(t)
	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvDatabaseURL)
	}
	return dsn
}
