// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はPrincipalの権限区分を表す。
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
)

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleCreator:
		return true
	}
	return false
}

// Principal は認証済みユーザーの永続的な識別レコードを表す。
// ExternalIDとEmailはそれぞれストレージ側の一意制約で一意性が保証される。
type Principal struct {
	ID          string
	ExternalID  string `validate:"required,max=255"`
	Email       string `validate:"required,email,max=320"`
	DisplayName string `validate:"required,max=255"`
	FirstName   string `validate:"omitempty,max=255"`
	LastName    string `validate:"omitempty,max=255"`
	PictureURL  string `validate:"omitempty,url"`
	Role        Role   `validate:"required,oneof=user admin creator"`
	IsActive    bool
	LastLoginAt time.Time
	LoginCount  int `validate:"gte=1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPrincipal は初回ログイン時のPrincipalを生成する。
// 既定値（role=user、有効、ログイン回数1）はここで明示的に設定する。
func NewPrincipal(externalID, email, displayName, pictureURL string, now time.Time) *Principal {
	return &Principal{
		ExternalID:  strings.TrimSpace(externalID),
		Email:       NormalizeEmail(email),
		DisplayName: strings.TrimSpace(displayName),
		PictureURL:  strings.TrimSpace(pictureURL),
		Role:        RoleUser,
		IsActive:    true,
		LastLoginAt: now,
		LoginCount:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NormalizeEmail はメールアドレスを前後の空白除去と小文字化で正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName は表示用の氏名を返す。
// 姓名が両方揃っている場合のみ連結し、それ以外はDisplayNameを返す。
func (p *Principal) FullName() string {
	if p.FirstName != "" && p.LastName != "" {
		return p.FirstName + " " + p.LastName
	}
	return p.DisplayName
}

// HasRole はPrincipalが指定されたいずれかのロールを持つかを返す。
func (p *Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// IsAdmin は管理者ロールかどうかを返す。
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
