package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wakegate/internal/auth"
	"wakegate/internal/config"
	"wakegate/internal/logring"

	"github.com/gin-gonic/gin"

	apidocs "wakegate/docs/api"
)

type fakeController struct {
	mu          sync.Mutex
	running     bool
	powerOns    int
	shutdowns   int
	shutdownErr error
	block       chan struct{}
}

func (f *fakeController) IsRunning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeController) PowerOn(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.powerOns++
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	if f.shutdownErr != nil {
		return f.shutdownErr
	}
	f.running = false
	return nil
}

func (f *fakeController) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.powerOns, f.shutdowns
}

type fakeProbe struct {
	mu      sync.Mutex
	up      bool
	players int
}

func (p *fakeProbe) IsReachable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up
}

func (p *fakeProbe) PlayerCount(context.Context) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.players, p.up
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Listen.Address = "127.0.0.1"
	cfg.Backend.Host = "127.0.0.1"
	cfg.Backend.Port = 25565
	cfg.Instance.Provider = "static"
	cfg.Lifecycle.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.Dashboard.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, ctrl *fakeController, p *fakeProbe, opts ...GinServerOption) *GinServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts = append(opts, WithController(ctrl), WithProbe(p), WithGinVersion("test"))
	srv, err := NewGinServer(cfg, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Orchestrator().Close(ctx)
	})
	return srv
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *APIError       `json:"error"`
}

func do(t *testing.T, srv *GinServer, method, path string, mutate func(*http.Request)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

type statusBody struct {
	State             string  `json:"state"`
	ActiveConnections int     `json:"active_connections"`
	PlayerCount       *int    `json:"player_count"`
	BackendAddress    string  `json:"backend_address"`
	ListenPort        int     `json:"listen_port"`
	Sessions          []any   `json:"sessions"`
	LastError         string  `json:"last_error"`
	Idle              idleDTO `json:"idle"`
}

type idleDTO struct {
	Threshold int64 `json:"threshold_ns"`
}

func TestStatusWhileOffline(t *testing.T) {
	srv := newTestServer(t, testConfig(), &fakeController{}, &fakeProbe{players: 5, up: true})
	w, env := do(t, srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var st statusBody
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "offline" {
		t.Fatalf("state = %q", st.State)
	}
	if st.PlayerCount != nil {
		t.Fatalf("player count must be absent while offline, got %d", *st.PlayerCount)
	}
	if st.BackendAddress != "127.0.0.1:25565" || st.ListenPort != 25565 {
		t.Fatalf("addresses = %q / %d", st.BackendAddress, st.ListenPort)
	}
	if st.ActiveConnections != 0 {
		t.Fatalf("active = %d", st.ActiveConnections)
	}
	if st.Idle.Threshold != int64(15*time.Minute) {
		t.Fatalf("idle threshold = %d", st.Idle.Threshold)
	}
}

func TestStatusReportsPlayersWhenReady(t *testing.T) {
	srv := newTestServer(t, testConfig(), &fakeController{running: true}, &fakeProbe{players: 3, up: true})
	srv.Orchestrator().Initialize(context.Background())

	_, env := do(t, srv, http.MethodGet, "/api/v1/status", nil)
	var st statusBody
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "ready" {
		t.Fatalf("state = %q", st.State)
	}
	if st.PlayerCount == nil || *st.PlayerCount != 3 {
		t.Fatalf("player count = %v", st.PlayerCount)
	}
}

func manualResult(t *testing.T, env envelope) (string, string) {
	t.Helper()
	var out struct {
		Result string `json:"result"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode manual response: %v", err)
	}
	return out.Result, out.State
}

func TestManualStartWakesBackend(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, testConfig(), ctrl, &fakeProbe{up: true})

	w, env := do(t, srv, http.MethodPost, "/api/v1/backend/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if result, state := manualResult(t, env); result != "accepted" || state != "starting" {
		t.Fatalf("got %s/%s", result, state)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Orchestrator().State().String() != "ready" {
		if time.Now().After(deadline) {
			t.Fatalf("backend never became ready, state %s", srv.Orchestrator().State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if on, _ := ctrl.counts(); on != 1 {
		t.Fatalf("power-on calls = %d", on)
	}

	_, env = do(t, srv, http.MethodPost, "/api/v1/backend/start", nil)
	if result, _ := manualResult(t, env); result != "already_in_state" {
		t.Fatalf("second start result = %s", result)
	}
}

func TestManualStop(t *testing.T) {
	ctrl := &fakeController{running: true}
	srv := newTestServer(t, testConfig(), ctrl, &fakeProbe{up: true})
	srv.Orchestrator().Initialize(context.Background())

	w, env := do(t, srv, http.MethodPost, "/api/v1/backend/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if result, state := manualResult(t, env); result != "accepted" || state != "offline" {
		t.Fatalf("got %s/%s", result, state)
	}
	if _, off := ctrl.counts(); off != 1 {
		t.Fatalf("shutdown calls = %d", off)
	}

	_, env = do(t, srv, http.MethodPost, "/api/v1/backend/stop", nil)
	if result, _ := manualResult(t, env); result != "already_in_state" {
		t.Fatalf("second stop result = %s", result)
	}
}

func TestManualStopProviderFailure(t *testing.T) {
	ctrl := &fakeController{running: true, shutdownErr: errors.New("droplet locked")}
	srv := newTestServer(t, testConfig(), ctrl, &fakeProbe{up: true})
	srv.Orchestrator().Initialize(context.Background())

	w, env := do(t, srv, http.MethodPost, "/api/v1/backend/stop", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if env.Error == nil || env.Error.Code != http.StatusBadGateway || !strings.Contains(env.Error.Message, "droplet locked") {
		t.Fatalf("error envelope = %+v", env.Error)
	}
	if got := srv.Orchestrator().State().String(); got != "ready" {
		t.Fatalf("state after failed shutdown = %s", got)
	}
}

func TestManualStopDuringStartupConflicts(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ctrl := &fakeController{block: block}
	srv := newTestServer(t, testConfig(), ctrl, &fakeProbe{up: true})

	if w, _ := do(t, srv, http.MethodPost, "/api/v1/backend/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start status %d", w.Code)
	}
	w, env := do(t, srv, http.MethodPost, "/api/v1/backend/stop", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if env.Error == nil || env.Error.Code != http.StatusConflict {
		t.Fatalf("error envelope = %+v", env.Error)
	}
}

func TestAdminAuthGuardsBackendControl(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := testConfig()
	cfg.Dashboard.AdminUser = "ops"
	cfg.Dashboard.AdminPasswordHash = hash
	ctrl := &fakeController{running: true}
	srv := newTestServer(t, cfg, ctrl, &fakeProbe{up: true})
	srv.Orchestrator().Initialize(context.Background())

	w, env := do(t, srv, http.MethodPost, "/api/v1/backend/stop", nil)
	if w.Code != http.StatusUnauthorized || env.Error == nil {
		t.Fatalf("anonymous stop: status %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate challenge")
	}
	w, _ = do(t, srv, http.MethodPost, "/api/v1/backend/stop", func(r *http.Request) { r.SetBasicAuth("ops", "wrong") })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d", w.Code)
	}
	if _, off := ctrl.counts(); off != 0 {
		t.Fatalf("unauthorized request reached the controller")
	}
	w, _ = do(t, srv, http.MethodPost, "/api/v1/backend/stop", func(r *http.Request) { r.SetBasicAuth("ops", "hunter2") })
	if w.Code != http.StatusOK {
		t.Fatalf("authorized stop: status %d: %s", w.Code, w.Body.String())
	}

	// Read-only endpoints stay public.
	if w, _ := do(t, srv, http.MethodGet, "/api/v1/status", nil); w.Code != http.StatusOK {
		t.Fatalf("status endpoint: %d", w.Code)
	}
}

func TestNewGinServerRejectsBadHash(t *testing.T) {
	cfg := testConfig()
	cfg.Dashboard.AdminPasswordHash = "not-a-hash"
	if _, err := NewGinServer(cfg, WithController(&fakeController{}), WithProbe(&fakeProbe{})); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestLogsEndpoint(t *testing.T) {
	ring := logring.New(10)
	ring.Add("INFO: first")
	ring.Add("WARN: second")
	ring.Add("ERROR: third")
	srv := newTestServer(t, testConfig(), &fakeController{}, &fakeProbe{}, WithLogRing(ring))

	_, env := do(t, srv, http.MethodGet, "/api/v1/logs?limit=2", nil)
	var entries []logring.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Type != "warning" || entries[1].Type != "error" || entries[1].Message != "ERROR: third" {
		t.Fatalf("entries = %+v", entries)
	}

	for _, bad := range []string{"0", "-1", "abc", "1001"} {
		w, env := do(t, srv, http.MethodGet, "/api/v1/logs?limit="+bad, nil)
		if w.Code != http.StatusBadRequest || env.Error == nil {
			t.Fatalf("limit=%s: status %d", bad, w.Code)
		}
	}
}

func TestVersionOpenAPIAndHeaders(t *testing.T) {
	srv := newTestServer(t, testConfig(), &fakeController{}, &fakeProbe{})

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var v map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil || v["version"] != "test" {
		t.Fatalf("version body %q (%v)", w.Body.String(), err)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("X-Service-Version") != "test" {
		t.Fatalf("missing security headers: %v", w.Header())
	}
	if w.Header().Get("X-API-Validation") != "disabled" {
		t.Fatalf("validation header = %q", w.Header().Get("X-API-Validation"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), apidocs.Spec) {
		t.Fatalf("openapi: status %d, %d bytes", w.Code, w.Body.Len())
	}
}

func TestValidationRejectsUndocumentedRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Dashboard.ValidateAPI = true
	srv := newTestServer(t, cfg, &fakeController{}, &fakeProbe{})

	w, _ := do(t, srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("documented route: %d", w.Code)
	}
	if w.Header().Get("X-API-Validation") != "enabled" {
		t.Fatalf("validation header = %q", w.Header().Get("X-API-Validation"))
	}
	w, _ = do(t, srv, http.MethodDelete, "/api/v1/status", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("undocumented method: %d", w.Code)
	}
}

func readiness(t *testing.T, srv *GinServer) (int, bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var body struct {
		Ready bool `json:"ready"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body.Ready
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Listen.Port = 0
	srv := newTestServer(t, cfg, &fakeController{}, &fakeProbe{})

	if code, ready := readiness(t, srv); code != http.StatusServiceUnavailable || ready {
		t.Fatalf("before start: %d ready=%v", code, ready)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if srv.ListenerAddr() == nil {
		t.Fatalf("listener not bound")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		code, ready := readiness(t, srv)
		if code == http.StatusOK && ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener never reported ready: %d", code)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if srv.ListenerAddr() != nil {
		t.Fatalf("listener still bound after stop")
	}
}

func metricValue(t *testing.T, srv *GinServer, name string) int64 {
	t.Helper()
	w, env := do(t, srv, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d: %s", w.Code, w.Body.String())
	}
	var samples []struct {
		Name  string `json:"name"`
		Value int64  `json:"value"`
	}
	if err := json.Unmarshal(env.Data, &samples); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	for _, s := range samples {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}

func TestMetricsEndpointCountsWakeAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Dashboard.ValidateAPI = true
	srv := newTestServer(t, cfg, &fakeController{}, &fakeProbe{up: true})
	const name = "wakegate.lifecycle.wake.attempts"

	before := metricValue(t, srv, name)
	if w, _ := do(t, srv, http.MethodPost, "/api/v1/backend/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start status %d: %s", w.Code, w.Body.String())
	}
	if after := metricValue(t, srv, name); after-before != 1 {
		t.Fatalf("expected one wake attempt recorded, got %d -> %d", before, after)
	}
	direct, err := srv.Metrics().Value(context.Background(), name)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if direct != metricValue(t, srv, name) {
		t.Fatalf("endpoint and reader disagree")
	}
}
