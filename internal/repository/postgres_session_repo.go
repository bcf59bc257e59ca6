package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal_ref, return_to, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, nullString(session.PrincipalRef), nullString(session.ReturnTo),
		session.ExpiresAt, session.CreatedAt, session.CreatedAt,
	)
	if err != nil {
		return wrapPQError("failed to create session", err)
	}
	session.UpdatedAt = session.CreatedAt
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var principalRef, returnTo sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, principal_ref, return_to, expires_at, created_at, updated_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &principalRef, &returnTo, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPQError("failed to find session", err)
	}

	session.PrincipalRef = principalRef.String
	session.ReturnTo = returnTo.String
	return session, nil
}

// SetReturnTo はreturn_toを上書きする。
func (r *PostgresSessionRepo) SetReturnTo(ctx context.Context, id, returnTo string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET return_to = $2, updated_at = now()
		 WHERE id = $1 AND expires_at > now()`,
		id, nullString(returnTo),
	)
	if err != nil {
		return wrapPQError("failed to set return_to", err)
	}
	return requireAffected(result, "session", id)
}

// ConsumeReturnTo はreturn_toを読み出すと同時にクリアする。
// 行ロックを取った上で旧値を返すため、同じ値が2回読み出されることはない。
func (r *PostgresSessionRepo) ConsumeReturnTo(ctx context.Context, id string) (string, error) {
	var returnTo sql.NullString
	err := r.db.QueryRowContext(ctx,
		`UPDATE sessions AS s
		 SET return_to = NULL, updated_at = now()
		 FROM (SELECT id, return_to FROM sessions WHERE id = $1 AND expires_at > now() FOR UPDATE) AS old
		 WHERE s.id = old.id
		 RETURNING old.return_to`,
		id,
	).Scan(&returnTo)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapPQError("failed to consume return_to", err)
	}
	return returnTo.String, nil
}

// ClearPrincipal はセッションからprincipal_refを外す。
func (r *PostgresSessionRepo) ClearPrincipal(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET principal_ref = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return wrapPQError("failed to clear session principal", err)
	}
	return requireAffected(result, "session", id)
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return wrapPQError("failed to delete session", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, wrapPQError("failed to delete expired sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, model.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
