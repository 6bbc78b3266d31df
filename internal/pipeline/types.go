// Package pipeline orchestrates a replication run: which namespaces and
// tables are processed, in which order, and how per-table failures are
// recovered from, recorded and reported.
//
// # Overview
//
// A run is strictly sequential:
//
//	Runner ─► for each selected namespace (main, then logs)
//	          Inspector snapshot ─► Orchestrator
//	                                 ├─ Catalog.GetTables
//	                                 ├─ init phase:  TableInitializer per table
//	                                 └─ sync phase:  TableSynchronizer per table
//	       ─► Notifier (exactly once)
//
// Each table operation opens its own Session (remote API session plus
// database connection) and closes it before the next table starts.
//
// # Failure handling
//
//   - An already-initialized table is logged at info and never a failure.
//   - A failed init may be recovered once: reconcile the schema version,
//     drop the table, retry.
//   - A sync failure is recorded and the next table proceeds.
//   - What an unrecovered init failure does to the rest of the namespace
//     is set by InitFailurePolicy.
//   - Notifier errors are logged and swallowed.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/dapsync/pkg/notify"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// Ops is the set of table operations requested for a run.
type Ops uint8

const (
	// OpInit creates and bootstraps tables that do not exist yet
	OpInit Ops = 1 << iota
	// OpSync applies incremental changes to every remote table
	OpSync
)

// Has reports whether all operations in o are requested.
func (ops Ops) Has(o Ops) bool {
	return o != 0 && ops&o == o
}

func (ops Ops) String() string {
	var parts []string
	if ops.Has(OpInit) {
		parts = append(parts, "init")
	}
	if ops.Has(OpSync) {
		parts = append(parts, "sync")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Failure is one table-scoped failure of a run.
type Failure = notify.Failure

// SyncRun is the record of one invocation. It is not persisted.
type SyncRun struct {
	Start      time.Time
	Namespaces []string
	Failures   []Failure
	Elapsed    time.Duration
}

// InitOutcome is the result of a successful or benign initialization.
type InitOutcome int

const (
	// InitSucceeded means the table was created and loaded
	InitSucceeded InitOutcome = iota + 1
	// InitAlreadyInitialized means the table was already replicated or
	// already existed in the target database
	InitAlreadyInitialized
)

func (o InitOutcome) String() string {
	switch o {
	case InitSucceeded:
		return "succeeded"
	case InitAlreadyInitialized:
		return "already_initialized"
	default:
		return "unknown"
	}
}

// InitializationError is an init failure that was not benign and was not
// recovered.
type InitializationError struct {
	Table string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("Init failed for table %s: %v", e.Table, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// SyncError is a failed synchronization of one table.
type SyncError struct {
	Table string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("Sync failed for table %s: %v", e.Table, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Session performs operations on single tables. Implementations hold a
// remote API session and a database connection.
type Session interface {
	Initialize(ctx context.Context, namespace, table string) error
	Synchronize(ctx context.Context, namespace, table string) error
	ReconcileSchemaVersion(ctx context.Context, namespace, table string) error
	DropTable(ctx context.Context, namespace, table string) error
	Close(ctx context.Context) error
}

// SessionFactory opens a Session for one table operation.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// Open calls f.
func (f SessionFactoryFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Catalog lists the tables of a remote namespace.
type Catalog interface {
	GetTables(ctx context.Context, namespace string) ([]string, error)
}

// Inspector lists the tables already present in the target database.
type Inspector interface {
	GetTableNames(ctx context.Context, namespace string) (schema.TableSet, error)
}

// Notifier delivers the end-of-run failure report.
type Notifier interface {
	Notify(ctx context.Context, failures []Failure, elapsed time.Duration) error
}
