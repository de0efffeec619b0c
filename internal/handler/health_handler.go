package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/acm/internal/middleware"
)

// healthCheckTimeout は依存先1件あたりの確認時間の上限。
const healthCheckTimeout = 2 * time.Second

// HealthCheck は依存先の疎通を確認する関数。
type HealthCheck func(ctx context.Context) error

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler は依存先の疎通を確認するハンドラー。
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler はHealthHandlerを生成する。checksはnilでもよい。
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health はすべての依存先が応答すれば200、1つでも失敗すれば503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			slog.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	middleware.WriteJSON(w, status, resp)
}
