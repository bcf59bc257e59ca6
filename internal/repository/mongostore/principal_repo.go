package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
)

type principalDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	ExternalID  string        `bson:"external_id"`
	Email       string        `bson:"email"`
	DisplayName string        `bson:"display_name"`
	FirstName   string        `bson:"first_name,omitempty"`
	LastName    string        `bson:"last_name,omitempty"`
	PictureURL  string        `bson:"picture_url,omitempty"`
	Role        string        `bson:"role"`
	IsActive    bool          `bson:"is_active"`
	LastLoginAt time.Time     `bson:"last_login_at"`
	LoginCount  int           `bson:"login_count"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

func (d *principalDoc) toModel() *model.Principal {
	return &model.Principal{
		ID:          d.ID.Hex(),
		ExternalID:  d.ExternalID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		PictureURL:  d.PictureURL,
		Role:        model.Role(d.Role),
		IsActive:    d.IsActive,
		LastLoginAt: d.LastLoginAt,
		LoginCount:  d.LoginCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func principalDocFrom(p *model.Principal) *principalDoc {
	return &principalDoc{
		ExternalID:  p.ExternalID,
		Email:       model.NormalizeEmail(p.Email),
		DisplayName: p.DisplayName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		PictureURL:  p.PictureURL,
		Role:        string(p.Role),
		IsActive:    p.IsActive,
		LastLoginAt: p.LastLoginAt,
		LoginCount:  p.LoginCount,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PrincipalRepo はMongoDBを使用したPrincipalリポジトリ。
type PrincipalRepo struct {
	coll *mongo.Collection
}

// NewPrincipalRepo はPrincipalRepoを生成する。
func NewPrincipalRepo(db *mongo.Database) *PrincipalRepo {
	return &PrincipalRepo{coll: db.Collection(principalsCollection)}
}

func (r *PrincipalRepo) findOne(ctx context.Context, op string, filter bson.D) (*model.Principal, error) {
	var doc principalDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoError("failed to "+op, err)
	}
	return doc.toModel(), nil
}

// FindByID は指定IDのPrincipalを取得する。ObjectIDとして不正なIDは存在しないものとして扱う。
func (r *PrincipalRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, nil
	}
	return r.findOne(ctx, "find principal by ID", bson.D{{Key: "_id", Value: oid}})
}

// FindByExternalID は外部IdPのIDでPrincipalを検索する。
func (r *PrincipalRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Principal, error) {
	return r.findOne(ctx, "find principal by external ID", bson.D{{Key: "external_id", Value: externalID}})
}

// FindByEmail は正規化したメールアドレスでPrincipalを検索する。
func (r *PrincipalRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	return r.findOne(ctx, "find principal by email", bson.D{{Key: "email", Value: model.NormalizeEmail(email)}})
}

// Create はPrincipalを作成する。重複はユニークインデックスで検出する。
func (r *PrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	now := nowUTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.LastLoginAt.IsZero() {
		p.LastLoginAt = p.CreatedAt
	}

	doc := principalDocFrom(p)
	doc.ID = bson.NewObjectID()
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return wrapMongoError("failed to insert principal", err)
	}

	p.ID = doc.ID.Hex()
	p.Email = doc.Email
	return nil
}

// RecordLogin は$incと$maxによる単一の更新でログインを記録する。
func (r *PrincipalRepo) RecordLogin(ctx context.Context, id string) (*model.Principal, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}

	now := nowUTC()
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "login_count", Value: 1}}},
		{Key: "$max", Value: bson.D{{Key: "last_login_at", Value: now}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc principalDoc
	err := r.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, wrapMongoError("failed to record login", err)
	}
	return doc.toModel(), nil
}

// CountByRole はロールごとのPrincipal数を返す。
func (r *PrincipalRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$role"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, wrapMongoError("failed to count principals by role", err)
	}

	var rows []struct {
		Role  string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrapMongoError("failed to decode role counts", err)
	}

	counts := make(map[model.Role]int, len(rows))
	for _, row := range rows {
		counts[model.Role(row.Role)] = row.Count
	}
	return counts, nil
}

// compile-time interface check
var _ repository.PrincipalRepository = (*PrincipalRepo)(nil)
