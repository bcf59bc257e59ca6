package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

const principalColumns = `id, external_id, email, display_name, first_name, last_name, picture_url,
	role, is_active, last_login_at, login_count, created_at, updated_at`

// PostgresPrincipalRepo はPostgreSQLを使用したPrincipalリポジトリ。
type PostgresPrincipalRepo struct {
	db *sql.DB
}

// NewPostgresPrincipalRepo はPostgresPrincipalRepoを生成する。
func NewPostgresPrincipalRepo(db *sql.DB) *PostgresPrincipalRepo {
	return &PostgresPrincipalRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*model.Principal, error) {
	p := &model.Principal{}
	var role string
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Email, &p.DisplayName, &p.FirstName, &p.LastName, &p.PictureURL,
		&role, &p.IsActive, &p.LastLoginAt, &p.LoginCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}

// FindByID は指定IDのPrincipalを取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDは存在しないものとして扱う。
func (r *PostgresPrincipalRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findOne(ctx, "find principal by ID",
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
}

// FindByExternalID は外部IdPのIDでPrincipalを検索する。見つからない場合はnilを返す。
func (r *PostgresPrincipalRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Principal, error) {
	return r.findOne(ctx, "find principal by external ID",
		`SELECT `+principalColumns+` FROM principals WHERE external_id = $1`, externalID)
}

// FindByEmail は正規化したメールアドレスでPrincipalを検索する。見つからない場合はnilを返す。
func (r *PostgresPrincipalRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	return r.findOne(ctx, "find principal by email",
		`SELECT `+principalColumns+` FROM principals WHERE email = $1`, model.NormalizeEmail(email))
}

func (r *PostgresPrincipalRepo) findOne(ctx context.Context, op, query string, arg any) (*model.Principal, error) {
	p, err := scanPrincipal(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPQError("failed to "+op, err)
	}
	return p, nil
}

// Create はPrincipalを作成する。
// 一意性はprincipals_external_id_key / principals_email_key制約で担保する。
func (r *PostgresPrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	id := uuid.New().String()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.LastLoginAt.IsZero() {
		p.LastLoginAt = p.CreatedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, p.ExternalID, model.NormalizeEmail(p.Email), p.DisplayName, p.FirstName, p.LastName, p.PictureURL,
		string(p.Role), p.IsActive, p.LastLoginAt, p.LoginCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert principal", err)
	}

	p.ID = id
	p.Email = model.NormalizeEmail(p.Email)
	return nil
}

// RecordLogin はlogin_countをインクリメントしlast_login_atを進める。
// GREATESTによりlast_login_atは後退しない。
func (r *PostgresPrincipalRepo) RecordLogin(ctx context.Context, id string) (*model.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}

	p, err := scanPrincipal(r.db.QueryRowContext(ctx,
		`UPDATE principals
		 SET login_count = login_count + 1,
		     last_login_at = GREATEST(last_login_at, now()),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+principalColumns,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, wrapPQError("failed to record login", err)
	}
	return p, nil
}

// CountByRole はロールごとのPrincipal数を返す。
func (r *PostgresPrincipalRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM principals GROUP BY role`)
	if err != nil {
		return nil, wrapPQError("failed to count principals by role", err)
	}
	defer rows.Close()

	counts := make(map[model.Role]int)
	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		counts[model.Role(role)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQError("failed to iterate role counts", err)
	}
	return counts, nil
}

// compile-time interface check
var _ PrincipalRepository = (*PostgresPrincipalRepo)(nil)
