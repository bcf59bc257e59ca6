package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// PrincipalCounter はロールごとのPrincipal数を返す。
type PrincipalCounter interface {
	CountByRole(ctx context.Context) (map[model.Role]int, error)
}

// ProjectCounter は全プロジェクト数を返す。
type ProjectCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatsHandler は管理者向けと開発用の統計エンドポイント。
type StatsHandler struct {
	principals PrincipalCounter
	projects   ProjectCounter
	storeKind  string
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(principals PrincipalCounter, projects ProjectCounter, storeKind string) *StatsHandler {
	return &StatsHandler{principals: principals, projects: projects, storeKind: storeKind}
}

// AdminStatsResponse は管理者向け統計のレスポンス。
type AdminStatsResponse struct {
	TotalPrincipals  int                `json:"total_principals"`
	PrincipalsByRole map[model.Role]int `json:"principals_by_role"`
}

// DBStatsResponse は開発用DB統計のレスポンス。
type DBStatsResponse struct {
	Store            string             `json:"store"`
	TotalPrincipals  int                `json:"total_principals"`
	PrincipalsByRole map[model.Role]int `json:"principals_by_role"`
	TotalProjects    int                `json:"total_projects"`
}

// AdminStats はロール別のPrincipal数を返す。
// GET /admin/stats
func (h *StatsHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	byRole, total, err := h.principalCounts(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AdminStatsResponse{
		TotalPrincipals:  total,
		PrincipalsByRole: byRole,
	})
}

// DBStats はストアの統計を返す。開発環境でのみルーティングされる。
// GET /dev/db-stats
func (h *StatsHandler) DBStats(w http.ResponseWriter, r *http.Request) {
	byRole, total, err := h.principalCounts(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}
	projects, err := h.projects.Count(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DBStatsResponse{
		Store:            h.storeKind,
		TotalPrincipals:  total,
		PrincipalsByRole: byRole,
		TotalProjects:    projects,
	})
}

func (h *StatsHandler) principalCounts(ctx context.Context) (map[model.Role]int, int, error) {
	byRole, err := h.principals.CountByRole(ctx)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for _, n := range byRole {
		total += n
	}
	return byRole, total, nil
}

func writeStorageError(w http.ResponseWriter, err error) {
	slog.Error("failed to collect stats", slog.String("error", err.Error()))
	if errors.Is(err, model.ErrStorageUnavailable) {
		middleware.WriteStorageUnavailable(w)
		return
	}
	middleware.WriteInternalServerError(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
