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

type sessionDoc struct {
	ID           string    `bson:"_id"`
	PrincipalRef string    `bson:"principal_ref,omitempty"`
	ReturnTo     string    `bson:"return_to,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d *sessionDoc) toModel() *model.Session {
	return &model.Session{
		ID:           d.ID,
		PrincipalRef: d.PrincipalRef,
		ReturnTo:     d.ReturnTo,
		ExpiresAt:    d.ExpiresAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// SessionRepo はMongoDBを使用したセッションリポジトリ。
type SessionRepo struct {
	coll *mongo.Collection
}

// NewSessionRepo はSessionRepoを生成する。
func NewSessionRepo(db *mongo.Database) *SessionRepo {
	return &SessionRepo{coll: db.Collection(sessionsCollection)}
}

// liveFilter は期限内の指定セッションに一致するフィルタを返す。
// TTLモニタの削除は即時ではないため、読み出し側でも期限を判定する。
func liveFilter(id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: nowUTC()}}},
	}
}

// Create はセッションを作成する。
func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowUTC()
	}
	session.UpdatedAt = session.CreatedAt
	_, err := r.coll.InsertOne(ctx, &sessionDoc{
		ID:           session.ID,
		PrincipalRef: session.PrincipalRef,
		ReturnTo:     session.ReturnTo,
		ExpiresAt:    session.ExpiresAt,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	})
	if err != nil {
		return wrapMongoError("failed to create session", err)
	}
	return nil
}

// FindByID は期限内のセッションを返す。
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var doc sessionDoc
	err := r.coll.FindOne(ctx, liveFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoError("failed to find session", err)
	}
	return doc.toModel(), nil
}

// SetReturnTo はreturn_toを上書きする。
func (r *SessionRepo) SetReturnTo(ctx context.Context, id, returnTo string) error {
	result, err := r.coll.UpdateOne(ctx, liveFilter(id), bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "return_to", Value: returnTo},
			{Key: "updated_at", Value: nowUTC()},
		}},
	})
	if err != nil {
		return wrapMongoError("failed to set return_to", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("session %q: %w", id, model.ErrNotFound)
	}
	return nil
}

// ConsumeReturnTo は$unsetと更新前ドキュメントの返却で読み出しとクリアを一度に行う。
func (r *SessionRepo) ConsumeReturnTo(ctx context.Context, id string) (string, error) {
	filter := liveFilter(id)
	filter = append(filter, bson.E{Key: "return_to", Value: bson.D{{Key: "$exists", Value: true}}})
	update := bson.D{
		{Key: "$unset", Value: bson.D{{Key: "return_to", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: nowUTC()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var doc sessionDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", wrapMongoError("failed to consume return_to", err)
	}
	return doc.ReturnTo, nil
}

// ClearPrincipal はセッションを匿名に戻す。
func (r *SessionRepo) ClearPrincipal(ctx context.Context, id string) error {
	result, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "principal_ref", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: nowUTC()}}},
	})
	if err != nil {
		return wrapMongoError("failed to clear session principal", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("session %q: %w", id, model.ErrNotFound)
	}
	return nil
}

// DeleteByID はセッションを削除する。
func (r *SessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return wrapMongoError("failed to delete session", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: nowUTC()}}},
	})
	if err != nil {
		return 0, wrapMongoError("failed to delete expired sessions", err)
	}
	return result.DeletedCount, nil
}

// compile-time interface check
var _ repository.SessionRepository = (*SessionRepo)(nil)
