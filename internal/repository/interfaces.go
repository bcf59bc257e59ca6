// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// PrincipalRepository は外部IdPのIDとローカルのPrincipalを対応付ける永続化インターフェース。
// 一意性と原子性はストレージ側（一意制約・アトミックな更新）で担保し、アプリ層ではロックしない。
type PrincipalRepository interface {
	// FindByID は指定IDのPrincipalを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Principal, error)

	// FindByExternalID は外部IdPのIDでPrincipalを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Principal, error)

	// FindByEmail は正規化したメールアドレスでPrincipalを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Principal, error)

	// Create はPrincipalを作成し、採番したIDをp.IDに設定する。
	// external_idまたはemailが既に存在する場合は*model.DuplicateIdentityErrorを返す。
	Create(ctx context.Context, p *model.Principal) error

	// RecordLogin はlogin_countを1増やしlast_login_atを現在時刻へ進める。
	// 単一のアトミックな更新で行い、更新後のPrincipalを返す。
	// 指定IDが存在しない場合はmodel.ErrNotFoundを返す。
	RecordLogin(ctx context.Context, id string) (*model.Principal, error)

	// CountByRole はロールごとのPrincipal数を返す。
	CountByRole(ctx context.Context) (map[model.Role]int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// SetReturnTo はreturn_toを上書きする。既存の値は保持しない。
	// セッションが存在しない場合はmodel.ErrNotFoundを返す。
	SetReturnTo(ctx context.Context, id, returnTo string) error

	// ConsumeReturnTo はreturn_toを読み出すと同時にクリアする。
	// 値がない、またはセッションが存在しない場合は空文字列を返す。
	ConsumeReturnTo(ctx context.Context, id string) (string, error)

	// ClearPrincipal はセッションからprincipal_refを外し匿名セッションに戻す。
	ClearPrincipal(ctx context.Context, id string) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProjectRepository はPrincipalごとのプロジェクトレコードを参照するインターフェース。
type ProjectRepository interface {
	// Create はプロジェクトレコードを作成し、採番したIDをrec.IDに設定する。
	// 開発用のシードとテストでのみ使用する。
	Create(ctx context.Context, rec *model.ProjectRecord) error

	// ListByOwner は指定Principalのプロジェクトを作成日時の降順で最大limit件返す。
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ProjectRecord, error)

	// CountByOwner は指定Principalのプロジェクト数を返す。
	CountByOwner(ctx context.Context, ownerID string) (int, error)

	// Count は全プロジェクト数を返す。
	Count(ctx context.Context) (int, error)
}

// Repositories はバックエンドごとのリポジトリ実装をまとめる。
type Repositories struct {
	Principals PrincipalRepository
	Sessions   SessionRepository
	Projects   ProjectRepository
}
