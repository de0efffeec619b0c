package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/acm/internal/auth"
	"github.com/hitoshi/acm/internal/metrics"
	"github.com/hitoshi/acm/internal/model"
)

func newTestRouter(mgr AuthManager, gatherer prometheus.Gatherer) http.Handler {
	return NewRouter(&RouterDeps{
		Manager:           mgr,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		Gatherer:          gatherer,
	})
}

// TestNewRouter_Routes は各エンドポイントがManagerの操作に到達することを検証する。
func TestNewRouter_Routes(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		body     string
		wantCall string
	}{
		{http.MethodGet, "/auth/state", "", ""},
		{http.MethodPost, "/auth/session/check", "", "check_session"},
		{http.MethodPost, "/auth/signup", `{"email":"a@example.com","password":"pw123456","full_name":"A"}`, "sign_up"},
		{http.MethodPost, "/auth/signin", `{"email":"a@example.com","password":"pw123456"}`, "sign_in"},
		{http.MethodPost, "/auth/signout", "", "sign_out"},
		{http.MethodPost, "/auth/password/reset", `{"email":"a@example.com"}`, "reset_password"},
		{http.MethodPost, "/auth/profile/refresh", "", "fetch_profile"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			mgr := &mockManager{state: auth.State{Status: auth.StatusSignedOut}}
			router := newTestRouter(mgr, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
			}
			if tt.wantCall == "" {
				if len(mgr.calls) != 0 {
					t.Errorf("calls = %v, want none", mgr.calls)
				}
				return
			}
			if len(mgr.calls) != 1 || mgr.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", mgr.calls, tt.wantCall)
			}
		})
	}
}

func TestNewRouter_Health(t *testing.T) {
	router := newTestRouter(&mockManager{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_NotFound_UnifiedError(t *testing.T) {
	router := newTestRouter(&mockManager{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/unknown", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeNotFound)
	}
}

func TestNewRouter_MethodNotAllowed_UnifiedError(t *testing.T) {
	router := newTestRouter(&mockManager{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/signin", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeMethodNotAllowed {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeMethodNotAllowed)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	mgr := &mockManager{}
	router := newTestRouter(mgr, nil)

	req := httptest.NewRequest(http.MethodOptions, "/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
	if len(mgr.calls) != 0 {
		t.Errorf("preflight should not reach the manager, got %v", mgr.calls)
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.RecordOperation("sign_in", metrics.ResultSuccess)
	router := newTestRouter(&mockManager{}, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "acm_auth_operations_total") {
		t.Errorf("metrics output should contain acm_auth_operations_total, got:\n%s", w.Body.String())
	}
}

func TestNewRouter_NoGatherer_NoMetricsRoute(t *testing.T) {
	router := newTestRouter(&mockManager{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_StateJSONShape(t *testing.T) {
	mgr := &mockManager{state: auth.State{
		Status:          auth.StatusSignedIn,
		IsAuthenticated: true,
		UserEmail:       "a@example.com",
	}}
	router := newTestRouter(mgr, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/state", nil))

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, key := range []string{"status", "is_authenticated", "user_email", "is_loading"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing field %q in %v", key, raw)
		}
	}
	if _, ok := raw["profile"]; ok {
		t.Error("profile should be omitted when nil")
	}
}
