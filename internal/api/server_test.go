package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
	"github.com/wesm/formvault/internal/testutil"
	"github.com/wesm/formvault/internal/testutil/storetest"
)

// testLogger returns a logger for tests that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testUsers = []config.UserConfig{
	{ID: 1, Name: "alice", APIKey: "key-alice", Roles: []string{"editor"}},
	{ID: 2, Name: "bob", APIKey: "key-bob", Roles: []string{"manager"}},
	{ID: 3, Name: "carol", APIKey: "key-carol"},
	{ID: 9, Name: "root", APIKey: "key-root", Roles: []string{authz.AdminRole}},
}

var testRoles = []authz.Role{
	{Name: "editor", Permissions: []string{authz.FormsViewOwn, authz.FormsEditOwn, authz.FormsCreate}},
	{Name: "manager", Permissions: []string{authz.FormsViewOther, authz.FormsEditOther}, Inherits: []string{"editor"}},
}

type apiFixture struct {
	*storetest.Fixture
	srv *Server
}

// newAPIFixture wires a Server over a temp SQLite store with a page size of
// pageLimit. With users nil, requests run unauthenticated.
func newAPIFixture(t *testing.T, pageLimit int, users []config.UserConfig) *apiFixture {
	t.Helper()
	f := storetest.New(t)
	tr := search.NewTranslator("en")
	engine := query.NewSQLiteEngine(f.Store.DB(), tr)

	enf, err := authz.NewEnforcer(testRoles, testLogger())
	testutil.MustNoErr(t, err, "NewEnforcer")

	opts := results.DefaultOptions()
	opts.PageLimit = pageLimit
	lister := results.NewLister(engine, prefs.NewSQLiteStore(f.Store.DB()), enf, export.NewRegistry(), tr, opts, testLogger())

	cfg := config.NewDefaultConfig()
	cfg.Users = users
	srv := NewServer(cfg, Backend{Results: lister, Forms: engine, Store: f.Store, Auth: enf}, testLogger())
	t.Cleanup(func() { srv.rateLimiter.Close() })
	return &apiFixture{Fixture: f, srv: srv}
}

func (a *apiFixture) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	a.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	a := newAPIFixture(t, 10, testUsers)

	w := a.do(t, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("health status = %q, want 'ok'", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPIFixture(t, 10, nil)
	a.do(t, "GET", "/api/v1/forms", "", "")

	w := a.do(t, "GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "formvault_http_requests_total") {
		t.Error("metrics output missing formvault_http_requests_total")
	}
}

func TestAuthMiddleware(t *testing.T) {
	a := newAPIFixture(t, 10, testUsers)

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no auth", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "wrong-key", http.StatusUnauthorized},
		{"correct key", "Authorization", "key-root", http.StatusOK},
		{"bearer prefix", "Authorization", "Bearer key-root", http.StatusOK},
		{"x-api-key header", "X-API-Key", "key-root", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			a.srv.Router().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddlewareNoUsersConfigured(t *testing.T) {
	a := newAPIFixture(t, 10, nil)
	a.CreateForm("Contact", storetest.FormOpts{Owner: 5})

	w := a.do(t, "GET", "/api/v1/forms", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d when no users configured", w.Code, http.StatusOK)
	}
	resp := decode[FormListResponse](t, w)
	if resp.Total != 1 || resp.OwnOnly {
		t.Errorf("anonymous admin: total %d own-only %v", resp.Total, resp.OwnOnly)
	}
}

func TestStatsEndpoint(t *testing.T) {
	a := newAPIFixture(t, 10, nil)
	formID := a.CreateForm("Contact", storetest.FormOpts{Fields: []string{"Email", "Name"}})
	a.AddSubmissions(formID, 3)

	w := a.do(t, "GET", "/api/v1/stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[StatsResponse](t, w)
	if resp.TotalForms != 1 || resp.TotalFields != 2 || resp.TotalSubmissions != 3 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestNilStoreReturns503(t *testing.T) {
	srv := NewServer(config.NewDefaultConfig(), Backend{}, testLogger())
	defer srv.rateLimiter.Close()

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestStartRefusesPublicBindWithoutUsers(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.BindAddr = "0.0.0.0"
	srv := NewServer(cfg, Backend{}, testLogger())
	defer srv.rateLimiter.Close()

	if err := srv.Start(); err == nil || !strings.Contains(err.Error(), "without authentication") {
		t.Errorf("Start() = %v, want authentication error", err)
	}
}
