package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/session"
)

// GateSessions はアクセスゲートがreturnToを保存するのに必要なセッション操作。
type GateSessions interface {
	Create(ctx context.Context, session *model.Session) error
	SetReturnTo(ctx context.Context, id, returnTo string) error
}

// CookieWriter はセッションIDを署名付きCookieに書き込む。
type CookieWriter interface {
	Write(w http.ResponseWriter, sessionID string) error
}

// FailureRenderer はエラーページを描画する。
type FailureRenderer func(w http.ResponseWriter, r *http.Request, status int)

// GateConfig はアクセスゲートの設定。
type GateConfig struct {
	LoginPath   string
	LandingPath string
	SessionTTL  time.Duration
}

// Gate は認証要件・匿名要件・ロール要件を強制するミドルウェア群。
// 保護されたルートは401を返さず、常にログインへリダイレクトする。
type Gate struct {
	sessions GateSessions
	cookies  CookieWriter
	metrics  metrics.AuthRecorder
	cfg      GateConfig
	fail     FailureRenderer
}

// NewGate はGateを生成する。
func NewGate(sessions GateSessions, cookies CookieWriter, recorder metrics.AuthRecorder, cfg GateConfig, fail FailureRenderer) *Gate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/provider"
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/dashboard"
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if fail == nil {
		fail = func(w http.ResponseWriter, _ *http.Request, status int) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Gate{sessions: sessions, cookies: cookies, metrics: recorder, cfg: cfg, fail: fail}
}

// RequireAuthenticated は認証済みの場合のみ次のハンドラーを呼ぶ。
// 未認証の場合は要求されたURLをセッションのreturnToに上書き保存し、ログインへリダイレクトする。
func (g *Gate) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := ViewerFromContext(r.Context())
		if err := viewer.Err(); err != nil {
			g.storageFailure(w, r, err)
			return
		}
		if viewer.Authenticated {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			if err := g.rememberReturnTo(w, r, viewer.SessionID); err != nil {
				g.storageFailure(w, r, err)
				return
			}
		}

		g.metrics.RecordGate(metrics.GateLogin)
		http.Redirect(w, r, g.cfg.LoginPath, http.StatusFound)
	})
}

// rememberReturnTo は既存の匿名セッションにreturnToを保存する。
// セッションがない、または失効している場合は新しい匿名セッションを作成しCookieを発行する。
func (g *Gate) rememberReturnTo(w http.ResponseWriter, r *http.Request, sessionID string) error {
	ctx := r.Context()
	returnTo := r.URL.RequestURI()

	if sessionID != "" {
		err := g.sessions.SetReturnTo(ctx, sessionID, returnTo)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}

	id, err := session.NewID()
	if err != nil {
		return err
	}
	now := time.Now()
	sess := &model.Session{
		ID:        id,
		ReturnTo:  returnTo,
		ExpiresAt: now.Add(g.cfg.SessionTTL),
		CreatedAt: now,
	}
	if err := g.sessions.Create(ctx, sess); err != nil {
		return err
	}
	return g.cookies.Write(w, id)
}

// RequireAnonymous は認証済みのクライアントをランディングページへリダイレクトする。
func (g *Gate) RequireAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := ViewerFromContext(r.Context())
		if err := viewer.Err(); err != nil {
			g.storageFailure(w, r, err)
			return
		}
		if viewer.Authenticated {
			g.metrics.RecordGate(metrics.GateLanding)
			http.Redirect(w, r, g.cfg.LandingPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole は指定されたいずれかのロールを持つ場合のみ次のハンドラーを呼ぶ。
// 未認証の場合はRequireAuthenticatedと同じくログインへ、ロール不足の場合は403を返す。
func (g *Gate) RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewer := ViewerFromContext(r.Context())
			if !viewer.Principal.HasRole(roles...) {
				g.metrics.RecordGate(metrics.GateForbidden)
				slog.Warn("access denied by role",
					slog.String("principal_id", viewer.Principal.ID),
					slog.String("role", string(viewer.Principal.Role)),
					slog.String("path", r.URL.Path),
				)
				g.fail(w, r, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (g *Gate) storageFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("session storage unavailable",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	g.fail(w, r, http.StatusInternalServerError)
}
