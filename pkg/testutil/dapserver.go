package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/ajitpratap0/dapsync/pkg/config"
)

const (
	dapClientID     = "dapsync-test"
	dapClientSecret = "dapsync-secret"
	dapToken        = "dapsync-token"
)

// DAPTable is the content served for one remote table.
type DAPTable struct {
	// Schema is the JSON Schema document of the table
	Schema  string
	Version int64
	// Snapshot is served as JSON lines for full exports
	Snapshot string
	// Changes is served as JSON lines for incremental exports
	Changes string
	// At is the consistency timestamp of every export
	At time.Time
}

// DAPServer is an in-memory export API. Jobs complete immediately and each
// export is served as one gzip-compressed object.
type DAPServer struct {
	server *httptest.Server

	mu      sync.Mutex
	tables  map[string]map[string]DAPTable
	objects map[string][]byte
	seq     int
	queries []DAPQuery
}

// DAPQuery records one export request.
type DAPQuery struct {
	Namespace string
	Table     string
	Since     *time.Time
}

// NewDAPServer starts a server that is closed when the test completes.
func NewDAPServer(t testing.TB) *DAPServer {
	s := &DAPServer{
		tables:  make(map[string]map[string]DAPTable),
		objects: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ids/auth/login", s.login)
	mux.HandleFunc("GET /dap/query/{namespace}/table", s.authorized(s.listTables))
	mux.HandleFunc("GET /dap/query/{namespace}/table/{table}/schema", s.authorized(s.tableSchema))
	mux.HandleFunc("POST /dap/query/{namespace}/table/{table}/data", s.authorized(s.query))
	mux.HandleFunc("POST /dap/object/url", s.authorized(s.objectURLs))
	mux.HandleFunc("GET /objects/{id}", s.download)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL is the server base URL.
func (s *DAPServer) URL() string {
	return s.server.URL
}

// APIConfig returns a client configuration pointing at the server.
func (s *DAPServer) APIConfig() config.APIConfig {
	return config.APIConfig{
		BaseURL:         s.server.URL,
		ClientID:        dapClientID,
		ClientSecret:    dapClientSecret,
		RequestTimeout:  5 * time.Second,
		MaxRetries:      1,
		JobPollInterval: time.Millisecond,
		JobTimeout:      5 * time.Second,
	}
}

// SetTable adds or replaces a remote table.
func (s *DAPServer) SetTable(namespace, name string, table DAPTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[namespace] == nil {
		s.tables[namespace] = make(map[string]DAPTable)
	}
	s.tables[namespace][name] = table
}

// Queries returns the export requests received so far.
func (s *DAPServer) Queries() []DAPQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DAPQuery(nil), s.queries...)
}

func (s *DAPServer) login(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != dapClientID || secret != dapClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]interface{}{
		"access_token": dapToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *DAPServer) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+dapToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *DAPServer) lookup(w http.ResponseWriter, r *http.Request) (DAPTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[r.PathValue("namespace")][r.PathValue("table")]
	if !ok {
		http.NotFound(w, r)
	}
	return table, ok
}

func (s *DAPServer) listTables(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tables[r.PathValue("namespace")]))
	for name := range s.tables[r.PathValue("namespace")] {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	writeJSON(w, map[string]interface{}{"tables": names})
}

func (s *DAPServer) tableSchema(w http.ResponseWriter, r *http.Request) {
	table, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]interface{}{
		"version": table.Version,
		"schema":  json.RawMessage(table.Schema),
	})
}

func (s *DAPServer) query(w http.ResponseWriter, r *http.Request) {
	table, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Format string     `json:"format"`
		Since  *time.Time `json:"since"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Format != "jsonl" {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}

	content := table.Snapshot
	if req.Since != nil {
		content = table.Changes
	}
	compressed, err := gzipBytes(content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("obj-%d", s.seq)
	s.objects[id] = compressed
	s.queries = append(s.queries, DAPQuery{
		Namespace: r.PathValue("namespace"),
		Table:     r.PathValue("table"),
		Since:     req.Since,
	})
	jobID := fmt.Sprintf("job-%d", s.seq)
	s.mu.Unlock()

	at := table.At.UTC()
	job := map[string]interface{}{
		"id":             jobID,
		"status":         "complete",
		"objects":        []map[string]string{{"id": id}},
		"schema_version": table.Version,
	}
	if req.Since != nil {
		job["since"] = req.Since
		job["until"] = at
	} else {
		job["at"] = at
	}
	writeJSON(w, job)
}

func (s *DAPServer) objectURLs(w http.ResponseWriter, r *http.Request) {
	var objects []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&objects); err != nil {
		http.Error(w, "bad object list", http.StatusBadRequest)
		return
	}
	urls := make(map[string]map[string]string, len(objects))
	for _, o := range objects {
		urls[o.ID] = map[string]string{"url": s.server.URL + "/objects/" + o.ID}
	}
	writeJSON(w, map[string]interface{}{"urls": urls})
}

func (s *DAPServer) download(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.objects[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func gzipBytes(s string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
