package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

const (
	dashboardRecentLimit = 5
	projectListLimit     = 50
)

// ProjectReader はページ描画に必要なプロジェクトの参照操作。
type ProjectReader interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ProjectRecord, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}

// PageHandler はサーバー描画ページのハンドラー。
type PageHandler struct {
	projects ProjectReader
	renderer *Renderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(projects ProjectReader, renderer *Renderer) *PageHandler {
	return &PageHandler{projects: projects, renderer: renderer}
}

// DashboardData はダッシュボードの表示データ。
type DashboardData struct {
	ProjectCount int
	Recent       []*model.ProjectRecord
}

// ProjectsData はプロジェクト一覧の表示データ。
type ProjectsData struct {
	Projects []*model.ProjectRecord
}

// Home はトップページを表示する。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	var message string
	if r.URL.Query().Get("message") == logoutMessage {
		message = "You have been logged out."
	}
	h.renderer.Render(w, r, http.StatusOK, pageHome, PageData{Title: "Home", Message: message})
}

// Dashboard はログイン後のランディングページを表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	count, err := h.projects.CountByOwner(r.Context(), ownerID)
	if err != nil {
		h.storageFailure(w, r, err)
		return
	}
	recent, err := h.projects.ListByOwner(r.Context(), ownerID, dashboardRecentLimit)
	if err != nil {
		h.storageFailure(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, pageDashboard, PageData{
		Title: "Dashboard",
		Data:  DashboardData{ProjectCount: count, Recent: recent},
	})
}

// Profile はPrincipalのプロフィールを表示する。
// GET /dashboard/profile
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, pageProfile, PageData{Title: "Profile"})
}

// Settings は設定ページを表示する。
// GET /dashboard/settings
func (h *PageHandler) Settings(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, pageSettings, PageData{Title: "Settings"})
}

// Projects はPrincipalのプロジェクト一覧を表示する。
// GET /dashboard/projects
func (h *PageHandler) Projects(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	projects, err := h.projects.ListByOwner(r.Context(), ownerID, projectListLimit)
	if err != nil {
		h.storageFailure(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, pageProjects, PageData{
		Title: "Projects",
		Data:  ProjectsData{Projects: projects},
	})
}

// NotFound は404ページを表示する。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderer.Failure(w, r, http.StatusNotFound)
}

// ownerID は認証済みPrincipalのIDを返す。
// ゲートを通らずに到達した場合はログインへリダイレクトし、falseを返す。
func (h *PageHandler) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := middleware.PrincipalIDFromContext(r.Context())
	if err != nil {
		slog.Warn("page requires an authenticated principal",
			slog.String("path", r.URL.Path),
		)
		http.Redirect(w, r, "/auth/provider", http.StatusFound)
		return "", false
	}
	return id, true
}

func (h *PageHandler) storageFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("failed to load projects",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	h.renderer.Failure(w, r, http.StatusInternalServerError)
}
