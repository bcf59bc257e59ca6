package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// HealthChecker はストアへの到達性を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthResponse はヘルスチェックのレスポンス。
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Store    string `json:"store"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// ストアに到達できない場合は503を返す。接続情報はレスポンスに含めない。
// GET /health
func NewHealthHandler(checker HealthChecker, storeKind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Database: "connected", Store: storeKind}
		status := http.StatusOK
		if err := checker.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			resp.Status = "unavailable"
			resp.Database = "disconnected"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
