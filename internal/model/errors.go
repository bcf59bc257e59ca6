// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証コアで扱うエラー分類。errors.Isで判定する。
var (
	// ErrProvider は外部IdPがエラーを返した、またはハンドシェイクが中断されたことを示す。
	ErrProvider = errors.New("identity provider error")
	// ErrDuplicateIdentity は初回ログイン時の作成でストレージの一意制約に違反したことを示す。
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrIdentityConflict はメールアドレスが別の外部IDで既に登録されていることを示す。
	ErrIdentityConflict = errors.New("email already claimed by another identity")
	// ErrNotFound は指定されたレコードが存在しないことを示す。
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable は永続化ストアに到達できないことを示す。
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// 一意制約の対象フィールド
const (
	FieldExternalID = "external_id"
	FieldEmail      = "email"
)

// DuplicateIdentityError はどのフィールドで一意制約違反が発生したかを保持する。
type DuplicateIdentityError struct {
	Field string
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateIdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("duplicate identity on %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("duplicate identity on %s", e.Field)
}

// Is はerrors.Is(err, ErrDuplicateIdentity)を成立させる。
func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// Unwrap は元のドライバエラーを返す。
func (e *DuplicateIdentityError) Unwrap() error {
	return e.Err
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeNotFound           = "NOT_FOUND"
)

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You do not have permission to access this resource.",
		Category: "auth",
		Action:   "Sign in with an account that has the required role.",
	}
}

// NewStorageUnavailableError はストレージ到達不可エラーを生成する。
// 接続先の詳細は含めない。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "The service is temporarily unavailable.",
		Category: "system",
		Action:   "Please try again in a few moments.",
	}
}

// NewNotFoundError は存在しないパスへのアクセスを表すエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "The requested resource was not found.",
		Category: "validation",
		Action:   "Check the URL and try again.",
	}
}
