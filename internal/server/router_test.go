package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/profilr/internal/config"
	"github.com/loykin/profilr/internal/devtools"
	"github.com/loykin/profilr/internal/gpm"
	"github.com/loykin/profilr/internal/inject"
	mng "github.com/loykin/profilr/internal/manager"
)

const (
	noDebugBody = `{"success":true,"data":{}}`
	testWSURL   = "ws://127.0.0.1:1/devtools/browser/test-target"
)

func startedBody(addr string) string {
	return `{"success":true,"data":{"remote_debugging_address":"` + addr + `"}}`
}

type fakeInjector struct {
	addr      string
	scriptURL string
	inlineJS  string
	stats     inject.Stats
	err       error
	calls     int
}

func (f *fakeInjector) Inject(_ context.Context, addr, scriptURL, inlineJS string) (inject.Stats, error) {
	f.calls++
	f.addr = addr
	f.scriptURL = scriptURL
	f.inlineJS = inlineJS
	return f.stats, f.err
}

// setupRouter wires a router to a manager whose upstream is the given stub.
// Discovery is tuned down so tests with dead debug ports stay fast.
func setupRouter(t *testing.T, upstream http.HandlerFunc, inj Injector, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	mgr := mng.New(mng.Config{
		Launcher: gpm.New(gpm.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}),
		Discovery: devtools.Options{
			Timeout:      150 * time.Millisecond,
			PollInterval: 20 * time.Millisecond,
			ProbeTimeout: 50 * time.Millisecond,
		},
	})
	t.Cleanup(mgr.Close)
	return NewRouter(mgr, inj, base).Handler()
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func doForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// waitForStatus polls the single-profile endpoint until the wanted status shows up.
func waitForStatus(t *testing.T, h http.Handler, id, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := doGet(t, h, "/status/"+id)
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err == nil {
			if st, _ := body["status"].(string); st == want {
				return body
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("profile %s never reached status %s", id, want)
	return nil
}

// setupStartedProfile drives p1 to started with a live devtools stub so the
// stored record carries a websocket URL.
func setupStartedProfile(t *testing.T, inj Injector) http.Handler {
	t.Helper()
	devtoolsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/version" {
			_, _ = io.WriteString(w, `{"webSocketDebuggerUrl":"`+testWSURL+`"}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(devtoolsSrv.Close)
	addr := strings.TrimPrefix(devtoolsSrv.URL, "http://")
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, startedBody(addr))
	}, inj, "")
	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	waitForStatus(t, h, "p1", "started")
	return h
}

func TestStartProfileMissingID(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doForm(t, h, "/start_profile", url.Values{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStartProfileUnsafeID(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	for _, id := range []string{"../etc", "a/b", "a b", "p..1"} {
		rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {id}})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("id %q expected 400, got %d", id, rec.Code)
		}
	}
}

func TestStartProfileAccepted(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true: %v", body)
	}
	if body["message"] != "starting profile p1" || body["profile_id"] != "p1" {
		t.Fatalf("unexpected response: %v", body)
	}
	waitForStatus(t, h, "p1", "started_no_debug")
}

func TestStartProfileRejectedWhileActive(t *testing.T) {
	release := make(chan struct{})
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	defer close(release)

	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("first start expected 200, got %d", rec.Code)
	}

	rec = doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("second start expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); ok {
		t.Fatalf("expected rejection: %v", body)
	}
	if body["message"] != "profile p1 already active" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	state, _ := body["state"].(map[string]any)
	if state == nil || state["profile_id"] != "p1" {
		t.Fatalf("expected state record: %v", body)
	}
}

func TestStatusEndpoints(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d", rec.Code)
	}
	waitForStatus(t, h, "p1", "started_no_debug")

	rec = doGet(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status expected 200, got %d", rec.Code)
	}
	var all map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	entry, ok := all["p1"]
	if !ok {
		t.Fatalf("expected p1 in status map: %v", all)
	}
	if human, _ := entry["started_at_human"].(string); human == "" {
		t.Fatalf("expected started_at_human: %v", entry)
	}

	one := waitForStatus(t, h, "p1", "started_no_debug")
	if exists, _ := one["exists"].(bool); !exists {
		t.Fatalf("expected exists=true: %v", one)
	}

	rec = doGet(t, h, "/status/ghost")
	var missing map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &missing); err != nil {
		t.Fatalf("parse missing: %v", err)
	}
	if exists, _ := missing["exists"].(bool); exists {
		t.Fatalf("expected exists=false: %v", missing)
	}
	if _, ok := missing["status"]; ok {
		t.Fatalf("missing profile should not carry a record: %v", missing)
	}
}

func TestInjectUnknownProfile(t *testing.T) {
	inj := &fakeInjector{}
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, inj, "")
	rec := doForm(t, h, "/inject", url.Values{"profile_id": {"ghost"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); ok {
		t.Fatalf("expected ok=false: %v", body)
	}
	if body["message"] != "profile not started or missing debug host/port" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if inj.calls != 0 {
		t.Fatalf("engine must not run without a debug address, got %d calls", inj.calls)
	}
}

func TestInjectProfileWithoutDebugInfo(t *testing.T) {
	inj := &fakeInjector{}
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, inj, "")
	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d", rec.Code)
	}
	waitForStatus(t, h, "p1", "started_no_debug")

	rec = doForm(t, h, "/inject", url.Values{"profile_id": {"p1"}})
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); ok {
		t.Fatalf("expected ok=false: %v", body)
	}
	if inj.calls != 0 {
		t.Fatalf("engine must not run for a profile without debug info")
	}
}

func TestInjectRunsEngine(t *testing.T) {
	inj := &fakeInjector{stats: inject.Stats{Contexts: 1, Pages: 2, InjectedURL: 2, InjectedInline: 2}}
	h := setupStartedProfile(t, inj)

	rec := doForm(t, h, "/inject", url.Values{
		"profile_id": {"p1"},
		"script_url": {"https://cdn.example.com/x.js"},
		"inline_js":  {"console.log(1)"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true: %v", body)
	}
	stats, _ := body["stats"].(map[string]any)
	if stats == nil || stats["pages"] != float64(2) || stats["injected_url"] != float64(2) {
		t.Fatalf("unexpected stats: %v", body)
	}
	if inj.calls != 1 {
		t.Fatalf("expected 1 engine call, got %d", inj.calls)
	}
	if inj.addr != testWSURL {
		t.Fatalf("engine should receive the stored websocket URL, got %q", inj.addr)
	}
	if inj.scriptURL != "https://cdn.example.com/x.js" || inj.inlineJS != "console.log(1)" {
		t.Fatalf("payload not forwarded: %q %q", inj.scriptURL, inj.inlineJS)
	}
}

func TestInjectEngineFailure(t *testing.T) {
	inj := &fakeInjector{err: errors.New("boom")}
	h := setupStartedProfile(t, inj)

	rec := doForm(t, h, "/inject", url.Values{"profile_id": {"p1"}, "inline_js": {"1"}})
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok, _ := body["ok"].(bool); ok {
		t.Fatalf("expected ok=false: %v", body)
	}
	if body["message"] != "inject failed: boom" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doGet(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doGet(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus output, got: %.100s", rec.Body.String())
	}
}

func TestIndexPage(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "")
	rec := doForm(t, h, "/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d", rec.Code)
	}
	waitForStatus(t, h, "p1", "started_no_debug")

	rec = doGet(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	page := rec.Body.String()
	if !strings.Contains(page, "p1") || !strings.Contains(page, "at most 3 launching") {
		t.Fatalf("page missing snapshot or ceiling: %.200s", page)
	}
}

func TestBasePathRouting(t *testing.T) {
	h := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, noDebugBody)
	}, &fakeInjector{}, "/api/")
	rec := doGet(t, h, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = doForm(t, h, "/api/start_profile", url.Values{"profile_id": {"p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNewServerStartClose(t *testing.T) {
	mgr := mng.New(mng.Config{})
	t.Cleanup(mgr.Close)
	srv, err := NewServer("127.0.0.1:0", "/x", mgr, &fakeInjector{})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	_ = srv.Close()
}

func TestNewTLSServerStartClose(t *testing.T) {
	mgr := mng.New(mng.Config{})
	t.Cleanup(mgr.Close)
	tc := config.TLS{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, ValidDays: 1}
	srv, err := NewTLSServer("127.0.0.1:0", "", tc, mgr, &fakeInjector{})
	if err != nil {
		t.Fatalf("NewTLSServer error: %v", err)
	}
	if srv.TLSConfig == nil || srv.TLSConfig.GetCertificate == nil {
		t.Fatalf("expected a TLS config with certificate loader")
	}
	_ = srv.Close()
}

func TestNewTLSServerRejectsBadConfig(t *testing.T) {
	mgr := mng.New(mng.Config{})
	t.Cleanup(mgr.Close)
	if _, err := NewTLSServer("127.0.0.1:0", "", config.TLS{}, mgr, &fakeInjector{}); err == nil {
		t.Fatalf("expected error for disabled tls")
	}
	if _, err := NewTLSServer("127.0.0.1:0", "", config.TLS{Enabled: true}, mgr, &fakeInjector{}); err == nil {
		t.Fatalf("expected error without certificate configuration")
	}
}
