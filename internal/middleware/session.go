// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// viewerContextKey はリクエストコンテキストにViewerを格納するためのキー。
var viewerContextKey = contextKey("viewer")

// Viewer はリクエストごとの読み取り専用の認証状態。
// ハンドラーとテンプレートはこれだけを参照し、セッションストアを直接触らない。
type Viewer struct {
	Principal     *model.Principal
	Authenticated bool
	SessionID     string

	err error
}

// Err はセッションの読み込みに失敗した場合のエラーを返す。
func (v Viewer) Err() error {
	return v.err
}

// SessionStore はセッションローダーが必要とするセッション操作。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	ClearPrincipal(ctx context.Context, id string) error
}

// PrincipalResolver はセッションの参照からPrincipalを復元する。
type PrincipalResolver interface {
	Deserialize(ctx context.Context, ref string) (*model.Principal, error)
}

// CookieReader は署名付きCookieからセッションIDを読み取る。
type CookieReader interface {
	Read(r *http.Request) (id string, ok bool, err error)
}

// NewSessionLoader はCookieからセッションを読み込み、Viewerをリクエストコンテキストに注入する
// ミドルウェアを返す。
// Cookieがない、署名が不正、セッションが期限切れの場合は匿名として扱う。
// 参照先のPrincipalが存在しない場合はセッションから参照を外して匿名に戻す。
// ストレージエラーはViewer.Errに保持し、判断はアクセスゲートに委ねる。
func NewSessionLoader(sessions SessionStore, resolver PrincipalResolver, cookies CookieReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer := loadViewer(r, sessions, resolver, cookies)
			if viewer.Authenticated {
				setLogPrincipal(r.Context(), viewer.Principal)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithViewer(r.Context(), viewer)))
		})
	}
}

func loadViewer(r *http.Request, sessions SessionStore, resolver PrincipalResolver, cookies CookieReader) Viewer {
	ctx := r.Context()

	// 1. CookieからセッションIDを取得
	sessionID, ok, err := cookies.Read(r)
	if err != nil {
		slog.Debug("ignoring invalid session cookie", slog.String("error", err.Error()))
		return Viewer{}
	}
	if !ok {
		return Viewer{}
	}

	// 2. セッションの有効性を検証
	sess, err := sessions.FindByID(ctx, sessionID)
	if err != nil {
		return Viewer{err: fmt.Errorf("failed to load session: %w", err)}
	}
	if sess == nil {
		return Viewer{}
	}
	viewer := Viewer{SessionID: sess.ID}
	if !sess.Authenticated() {
		return viewer
	}

	// 3. Principalを復元
	p, err := resolver.Deserialize(ctx, sess.PrincipalRef)
	if err != nil {
		viewer.err = err
		return viewer
	}
	if p == nil {
		if err := sessions.ClearPrincipal(ctx, sess.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
			slog.Warn("failed to clear stale principal reference",
				slog.String("error", err.Error()),
			)
		}
		return viewer
	}

	viewer.Principal = p
	viewer.Authenticated = true
	return viewer
}

// ViewerFromContext はリクエストコンテキストからViewerを取得する。
// セッションローダーを通過していない場合は匿名のViewerを返す。
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerContextKey).(Viewer)
	return v
}

// ContextWithViewer はコンテキストにViewerを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey, v)
}

// ErrNoPrincipal はコンテキストに認証済みPrincipalがないことを示す。
var ErrNoPrincipal = errors.New("authenticated principal not found in context")

// PrincipalIDFromContext はリクエストコンテキストから認証済みPrincipalのIDを取得する。
// アクセスゲートを通らずに呼ばれた場合はErrNoPrincipalを返す。
func PrincipalIDFromContext(ctx context.Context) (string, error) {
	v := ViewerFromContext(ctx)
	if !v.Authenticated || v.Principal == nil || v.Principal.ID == "" {
		return "", ErrNoPrincipal
	}
	return v.Principal.ID, nil
}
