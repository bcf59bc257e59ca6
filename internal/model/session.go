package model

import "time"

// Session はサーバー側に保存されるクライアントごとのセッションを表す。
// PrincipalRefが空の場合は匿名セッション、設定済みの場合は認証済みセッション。
type Session struct {
	ID           string
	PrincipalRef string
	ReturnTo     string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Authenticated はセッションが認証済みかどうかを返す。
func (s *Session) Authenticated() bool {
	return s.PrincipalRef != ""
}
