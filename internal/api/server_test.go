package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/activator"
	"github.com/JakeFAU/freegame-watcher/internal/collector"
	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	"github.com/JakeFAU/freegame-watcher/internal/harvest"
	"github.com/JakeFAU/freegame-watcher/internal/storage/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(config.ServerConfig{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(config.ServerConfig{}), http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"alice", "bob"}, resp.Accounts)
	require.Len(t, resp.Cycles, 1)
	require.Equal(t, "cycle-7", resp.Cycles[0].CycleID)
	require.Equal(t, 3, resp.Cycles[0].Accepted)
}

func TestServer_Account(t *testing.T) {
	t.Parallel()

	s := newTestServer(config.ServerConfig{})
	rec := serve(s, http.MethodGet, "/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "alice", resp.Account)
	require.Len(t, resp.Processed, 1)
	require.Equal(t, uint32(440), resp.Processed[0].ID)
	require.Len(t, resp.Invalid, 1)
	require.Equal(t, harvest.KindPackage, resp.Invalid[0].Kind)

	rec = serve(s, http.MethodGet, "/v1/accounts/mallory", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RequestCycle(t *testing.T) {
	t.Parallel()

	trig := &fakeTrigger{}
	s := NewServer(newFakeCollector(), trig, config.ServerConfig{}, zap.NewNop())

	rec := serve(s, http.MethodPost, "/v1/cycles", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "queued")

	trig.busy = true
	rec = serve(s, http.MethodPost, "/v1/cycles", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 2, trig.calls)

	rec = serve(NewServer(newFakeCollector(), nil, config.ServerConfig{}, nil), http.MethodPost, "/v1/cycles", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(config.ServerConfig{APIKey: "secret"})

	rec := serve(s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/status", http.Header{"X-Api-Key": []string{"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/status?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, "probes stay unauthenticated")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(config.ServerConfig{})
	serve(s, http.MethodGet, "/healthz", nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(panickingCollector{}, nil, config.ServerConfig{}, zap.NewNop())
	rec := serve(s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(config.ServerConfig{}), http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeCollector struct {
	accounts []*collector.Account
	reports  []collector.Report
}

func newFakeCollector() *fakeCollector {
	persister := dedupstore.NewPersister(memory.NewBlobStore(), zap.NewNop())
	alice := collector.NewAccount("alice", persister, nil)
	alice.Register(harvest.GameIdentifier{Kind: harvest.KindApp, ID: 440, Valid: true}, activator.Accepted)
	alice.Register(harvest.GameIdentifier{Kind: harvest.KindPackage, ID: 12, Valid: true}, activator.Invalid)
	bob := collector.NewAccount("bob", persister, nil)
	return &fakeCollector{
		accounts: []*collector.Account{alice, bob},
		reports: []collector.Report{{
			CycleID:    "cycle-7",
			Account:    "alice",
			StartedAt:  time.Unix(100, 0).UTC(),
			FinishedAt: time.Unix(101, 0).UTC(),
			Accepted:   3,
		}},
	}
}

func (f *fakeCollector) Status() []collector.Report      { return f.reports }
func (f *fakeCollector) Accounts() []*collector.Account { return f.accounts }

type panickingCollector struct{}

func (panickingCollector) Status() []collector.Report      { panic("status exploded") }
func (panickingCollector) Accounts() []*collector.Account { return nil }

type fakeTrigger struct {
	mu    sync.Mutex
	busy  bool
	calls int
}

func (f *fakeTrigger) Trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return !f.busy
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(cfg config.ServerConfig) *Server {
	return NewServer(newFakeCollector(), &fakeTrigger{}, cfg, zap.NewNop())
}
