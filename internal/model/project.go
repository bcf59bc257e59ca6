package model

import "time"

// ProjectStatus はプロジェクトレコードの進行状態を表す。
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusInProgress ProjectStatus = "in-progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusArchived   ProjectStatus = "archived"
)

// ProjectPriority はプロジェクトレコードの優先度を表す。
type ProjectPriority string

const (
	ProjectPriorityLow    ProjectPriority = "low"
	ProjectPriorityMedium ProjectPriority = "medium"
	ProjectPriorityHigh   ProjectPriority = "high"
)

// ProjectRecord はPrincipalごとに保持されるプロジェクトデータを表す。
type ProjectRecord struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Category    string
	Status      ProjectStatus
	Priority    ProjectPriority
	Score       int
	Tags        []string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsCompleted は完了済みかどうかを返す。
func (p *ProjectRecord) IsCompleted() bool {
	return p.Status == ProjectStatusCompleted
}

// ClampScore はスコアを0〜100の範囲に丸める。
func ClampScore(score int) int {
	return max(0, min(100, score))
}
