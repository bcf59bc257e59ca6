package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトレコードリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// Create はプロジェクトレコードを作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, rec *model.ProjectRecord) error {
	id := uuid.New().String()
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = model.ProjectStatusDraft
	}
	if rec.Priority == "" {
		rec.Priority = model.ProjectPriorityMedium
	}
	rec.Score = model.ClampScore(rec.Score)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_records
		   (id, owner_id, title, description, category, status, priority, score, tags, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, rec.OwnerID, rec.Title, rec.Description, rec.Category, string(rec.Status), string(rec.Priority),
		rec.Score, pq.Array(rec.Tags), rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return wrapPQError("failed to insert project record", err)
	}
	rec.ID = id
	return nil
}

// ListByOwner は指定Principalのプロジェクトを作成日時の降順で返す。
func (r *PostgresProjectRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ProjectRecord, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return []*model.ProjectRecord{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, title, description, category, status, priority, score, tags, completed_at, created_at, updated_at
		 FROM project_records
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, wrapPQError("failed to list project records", err)
	}
	defer rows.Close()

	records := []*model.ProjectRecord{}
	for rows.Next() {
		rec := &model.ProjectRecord{}
		var status, priority string
		var completedAt sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.Title, &rec.Description, &rec.Category, &status, &priority,
			&rec.Score, pq.Array(&rec.Tags), &completedAt, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project record: %w", err)
		}
		rec.Status = model.ProjectStatus(status)
		rec.Priority = model.ProjectPriority(priority)
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPQError("failed to iterate project records", err)
	}
	return records, nil
}

// CountByOwner は指定Principalのプロジェクト数を返す。
func (r *PostgresProjectRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_records WHERE owner_id = $1`, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, wrapPQError("failed to count project records", err)
	}
	return n, nil
}

// Count は全プロジェクト数を返す。
func (r *PostgresProjectRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_records`).Scan(&n); err != nil {
		return 0, wrapPQError("failed to count all project records", err)
	}
	return n, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
