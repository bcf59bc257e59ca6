package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
)

type projectDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	OwnerID     string        `bson:"owner_id"`
	Title       string        `bson:"title"`
	Description string        `bson:"description,omitempty"`
	Category    string        `bson:"category"`
	Status      string        `bson:"status"`
	Priority    string        `bson:"priority"`
	Score       int           `bson:"score"`
	Tags        []string      `bson:"tags"`
	CompletedAt *time.Time    `bson:"completed_at,omitempty"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

func (d *projectDoc) toModel() *model.ProjectRecord {
	return &model.ProjectRecord{
		ID:          d.ID.Hex(),
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Status:      model.ProjectStatus(d.Status),
		Priority:    model.ProjectPriority(d.Priority),
		Score:       d.Score,
		Tags:        d.Tags,
		CompletedAt: d.CompletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// ProjectRepo はMongoDBを使用したプロジェクトレコードリポジトリ。
type ProjectRepo struct {
	coll *mongo.Collection
}

// NewProjectRepo はProjectRepoを生成する。
func NewProjectRepo(db *mongo.Database) *ProjectRepo {
	return &ProjectRepo{coll: db.Collection(projectsCollection)}
}

// Create はプロジェクトレコードを作成する。
func (r *ProjectRepo) Create(ctx context.Context, rec *model.ProjectRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
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

	doc := &projectDoc{
		ID:          bson.NewObjectID(),
		OwnerID:     rec.OwnerID,
		Title:       rec.Title,
		Description: rec.Description,
		Category:    rec.Category,
		Status:      string(rec.Status),
		Priority:    string(rec.Priority),
		Score:       rec.Score,
		Tags:        rec.Tags,
		CompletedAt: rec.CompletedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return wrapMongoError("failed to insert project record", err)
	}
	rec.ID = doc.ID.Hex()
	return nil
}

// ListByOwner は指定Principalのプロジェクトを作成日時の降順で返す。
func (r *ProjectRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.ProjectRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, bson.D{{Key: "owner_id", Value: ownerID}}, opts)
	if err != nil {
		return nil, wrapMongoError("failed to list project records", err)
	}

	var docs []projectDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapMongoError("failed to decode project records", err)
	}

	records := make([]*model.ProjectRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toModel())
	}
	return records, nil
}

// CountByOwner は指定Principalのプロジェクト数を返す。
func (r *ProjectRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "owner_id", Value: ownerID}})
	if err != nil {
		return 0, wrapMongoError("failed to count project records", err)
	}
	return int(n), nil
}

// Count は全プロジェクト数を返す。
func (r *ProjectRepo) Count(ctx context.Context) (int, error) {
	n, err := r.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, wrapMongoError("failed to count all project records", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ repository.ProjectRepository = (*ProjectRepo)(nil)
