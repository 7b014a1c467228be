package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vendsite/internal/middleware"
)

const healthPingTimeout = 2 * time.Second

// HealthChecker はストアへの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// ストアに到達できなくてもカタログはスナップショットで応答できるため、常に200を返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Database: "unconfigured"}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.WarnContext(r.Context(), "health check: database unreachable", slog.String("error", err.Error()))
				resp.Database = "down"
			} else {
				resp.Database = "up"
			}
		}
		w.Header().Set("Cache-Control", "no-store")
		middleware.WriteJSON(w, http.StatusOK, resp)
	}
}
