package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// SessionTerminator はログアウトに必要なセッション操作。
type SessionTerminator interface {
	ClearPrincipal(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
}

// LogoutSequencer はログアウト時のサーバー側の後始末を順に実行する。
// 各ステップの失敗はログに残し、後続のステップは継続する。
type LogoutSequencer struct {
	sessions SessionTerminator
	metrics  metrics.AuthRecorder
}

// NewLogoutSequencer はLogoutSequencerを生成する。
func NewLogoutSequencer(sessions SessionTerminator, recorder metrics.AuthRecorder) *LogoutSequencer {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &LogoutSequencer{sessions: sessions, metrics: recorder}
}

// Run はセッションからPrincipalを外し、セッションを削除する。
// 発生したエラーはまとめて返すが、呼び出し側はクライアントに成功として応答する。
// Cookieの失効とリダイレクトはハンドラーが行う。
func (l *LogoutSequencer) Run(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	var errs []error

	// 1. 認証状態の解除
	if err := l.sessions.ClearPrincipal(ctx, sessionID); err != nil && !errors.Is(err, model.ErrNotFound) {
		slog.Warn("logout: failed to clear session principal",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("clear principal: %w", err))
	}

	// 2. セッションストアからの削除
	if err := l.sessions.DeleteByID(ctx, sessionID); err != nil {
		slog.Warn("logout: failed to delete session",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("delete session: %w", err))
	}

	l.metrics.RecordLogout()
	slog.Info("principal logged out")
	return errors.Join(errs...)
}
