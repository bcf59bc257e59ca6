package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名。templates/<name>.html に対応する。
const (
	pageHome      = "home"
	pageLogin     = "login"
	pageDashboard = "dashboard"
	pageProfile   = "profile"
	pageSettings  = "settings"
	pageProjects  = "projects"
	pageError     = "error"
)

var pageNames = []string{
	pageHome, pageLogin, pageDashboard, pageProfile, pageSettings, pageProjects, pageError,
}

// PageData はテンプレートに渡す共通データ。
type PageData struct {
	Title   string
	Viewer  middleware.Viewer
	Message string
	Error   string
	Data    any
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを解析する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// Render はページを描画する。Viewerはリクエストコンテキストから補完する。
// 描画に失敗した場合は書き込み前に500を返す。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data PageData) {
	tmpl, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("name", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	data.Viewer = middleware.ViewerFromContext(r.Context())

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Failure は汎用のエラーページを描画する。middleware.FailureRendererとして使う。
// JSONを要求するクライアントには統一エラーフォーマットで返す。接続情報などの詳細は含めない。
func (rd *Renderer) Failure(w http.ResponseWriter, r *http.Request, status int) {
	if middleware.WantsJSON(r) {
		middleware.WriteStatusError(w, status)
		return
	}
	title := "Something went wrong"
	switch status {
	case http.StatusForbidden:
		title = "You do not have access to this page"
	case http.StatusNotFound:
		title = "Page not found"
	}
	rd.Render(w, r, status, pageError, PageData{Title: title})
}
