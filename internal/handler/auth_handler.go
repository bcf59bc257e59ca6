// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

const (
	oauthStateCookie = "oauth_state"

	// ログインページに渡すエラー種別
	loginErrorAuthFailed = "authentication_failed"
	loginErrorConflict   = "account_conflict"

	logoutMessage = "logged_out"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) string
	Resolve(ctx context.Context, code string) (*model.Principal, error)
	Complete(ctx context.Context, previousSessionID string, p *model.Principal) (*model.Session, string, error)
}

// LogoutRunner はログアウト時のセッション破棄を実行する。
type LogoutRunner interface {
	Run(ctx context.Context, sessionID string) error
}

// SessionCookies はセッションCookieの読み書きを行う。
type SessionCookies interface {
	Read(r *http.Request) (id string, ok bool, err error)
	Write(w http.ResponseWriter, sessionID string) error
	Clear(w http.ResponseWriter)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	logout   LogoutRunner
	cookies  SessionCookies
	renderer *Renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, logout LogoutRunner, cookies SessionCookies, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		logout:   logout,
		cookies:  cookies,
		renderer: renderer,
		config:   config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/provider
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.renderer.Failure(w, r, http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/provider",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/provider/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// stateクッキーは結果に関わらず1回で使い捨てる
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	// 1. プロバイダー側のエラー（ユーザーが同意を拒否した場合など）
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
		redirectLoginError(w, r, loginErrorAuthFailed)
		return
	}

	// 2. stateの検証（CSRF対策）
	state := q.Get("state")
	if cookieErr != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		redirectLoginError(w, r, loginErrorAuthFailed)
		return
	}

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		slog.Warn("oauth callback without authorization code")
		redirectLoginError(w, r, loginErrorAuthFailed)
		return
	}

	// 4. Principalの解決（初回ログインまたは再ログイン）
	p, err := h.service.Resolve(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrIdentityConflict):
			slog.Warn("oauth callback rejected: identity conflict", slog.String("error", err.Error()))
			redirectLoginError(w, r, loginErrorConflict)
		case errors.Is(err, model.ErrProvider):
			slog.Error("oauth callback failed", slog.String("error", err.Error()))
			redirectLoginError(w, r, loginErrorAuthFailed)
		default:
			slog.Error("oauth callback storage failure", slog.String("error", err.Error()))
			h.renderer.Failure(w, r, http.StatusInternalServerError)
		}
		return
	}

	// 5. セッションの再発行
	viewer := middleware.ViewerFromContext(r.Context())
	sess, redirectTo, err := h.service.Complete(r.Context(), viewer.SessionID, p)
	if err != nil {
		slog.Error("failed to establish session", slog.String("error", err.Error()))
		h.renderer.Failure(w, r, http.StatusInternalServerError)
		return
	}

	// 6. セッションCookieを設定（HTTP Only）
	if err := h.cookies.Write(w, sess.ID); err != nil {
		slog.Error("failed to write session cookie", slog.String("error", err.Error()))
		h.renderer.Failure(w, r, http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// LoginPage はログインページを表示する。
// GET /auth/login?error=xxx
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, pageLogin, PageData{
		Title: "Log in",
		Error: loginErrorMessage(r.URL.Query().Get("error")),
	})
}

// Logout はセッションを破棄する。破棄の途中で失敗してもクライアントには常に成功を返す。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.ViewerFromContext(r.Context()).SessionID
	if sessionID == "" {
		// ストア障害でローダーがセッションを読めなかった場合もCookieから破棄を試みる
		if id, ok, err := h.cookies.Read(r); err == nil && ok {
			sessionID = id
		}
	}

	if err := h.logout.Run(r.Context(), sessionID); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.cookies.Clear(w)
	http.Redirect(w, r, "/?message="+logoutMessage, http.StatusFound)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/provider",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func redirectLoginError(w http.ResponseWriter, r *http.Request, kind string) {
	http.Redirect(w, r, "/auth/login?error="+kind, http.StatusFound)
}

// loginErrorMessage はエラー種別を表示用メッセージに変換する。
// 未知の値はそのまま表示せず汎用メッセージにする。
func loginErrorMessage(kind string) string {
	switch kind {
	case "":
		return ""
	case loginErrorConflict:
		return "This email address is already linked to a different Google account."
	default:
		return "Authentication failed. Please try again."
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
