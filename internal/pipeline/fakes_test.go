package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// recorder collects the calls made against fake sessions in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeSessions scripts the outcome of session operations per table. Init
// errors are consumed in order, one per attempt.
type fakeSessions struct {
	rec          *recorder
	openErr      error
	initErrs     map[string][]error
	syncErrs     map[string]error
	reconcileErr map[string]error
	dropErr      map[string]error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		rec:          &recorder{},
		initErrs:     make(map[string][]error),
		syncErrs:     make(map[string]error),
		reconcileErr: make(map[string]error),
		dropErr:      make(map[string]error),
	}
}

func (f *fakeSessions) Open(context.Context) (Session, error) {
	if f.openErr != nil {
		f.rec.add("open-failed")
		return nil, f.openErr
	}
	f.rec.add("open")
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f *fakeSessions
}

func (s *fakeSession) Initialize(_ context.Context, _, table string) error {
	s.f.rec.add("init:" + table)
	errs := s.f.initErrs[table]
	if len(errs) == 0 {
		return nil
	}
	s.f.initErrs[table] = errs[1:]
	return errs[0]
}

func (s *fakeSession) Synchronize(_ context.Context, _, table string) error {
	s.f.rec.add("sync:" + table)
	return s.f.syncErrs[table]
}

func (s *fakeSession) ReconcileSchemaVersion(_ context.Context, _, table string) error {
	s.f.rec.add("reconcile:" + table)
	return s.f.reconcileErr[table]
}

func (s *fakeSession) DropTable(_ context.Context, _, table string) error {
	s.f.rec.add("drop:" + table)
	return s.f.dropErr[table]
}

func (s *fakeSession) Close(context.Context) error {
	s.f.rec.add("close")
	return nil
}

type fakeCatalog struct {
	tables map[string][]string
	err    error
}

func (c *fakeCatalog) GetTables(_ context.Context, namespace string) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.tables[namespace], nil
}

type fakeInitializer struct {
	rec      *recorder
	outcomes map[string]InitOutcome
	errs     map[string]error
}

func (i *fakeInitializer) Initialize(_ context.Context, _, table string) (InitOutcome, error) {
	i.rec.add("init:" + table)
	if err := i.errs[table]; err != nil {
		return 0, err
	}
	if o, ok := i.outcomes[table]; ok {
		return o, nil
	}
	return InitSucceeded, nil
}

type fakeSynchronizer struct {
	rec  *recorder
	errs map[string]error
}

func (s *fakeSynchronizer) Synchronize(_ context.Context, _, table string) error {
	s.rec.add("sync:" + table)
	if err := s.errs[table]; err != nil {
		return &SyncError{Table: table, Err: err}
	}
	return nil
}

type fakeInspector struct {
	rec    *recorder
	tables map[string][]string
	err    error
}

func (i *fakeInspector) GetTableNames(_ context.Context, namespace string) (schema.TableSet, error) {
	i.rec.add("inspect:" + namespace)
	if i.err != nil {
		return nil, i.err
	}
	return schema.NewTableSet(i.tables[namespace]...), nil
}

type fakeProcessor struct {
	rec      *recorder
	failures map[string][]Failure
	errs     map[string]error
}

func (p *fakeProcessor) Process(_ context.Context, namespace string, ops Ops, _ schema.TableSet) ([]Failure, error) {
	p.rec.add("process:" + namespace + ":" + ops.String())
	return p.failures[namespace], p.errs[namespace]
}

type notifyCall struct {
	failures []Failure
	elapsed  time.Duration
}

type fakeNotifier struct {
	calls []notifyCall
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, failures []Failure, elapsed time.Duration) error {
	n.calls = append(n.calls, notifyCall{failures: failures, elapsed: elapsed})
	return n.err
}

// stepClock returns start, then advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	current := start.Add(-step)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}
