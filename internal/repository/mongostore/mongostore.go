// Package mongostore はMongoDBを使用したリポジトリ実装を提供する。
// 一意性はユニークインデックス、原子性はFindOneAndUpdateで担保する。
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
)

// コレクション名
const (
	principalsCollection = "principals"
	sessionsCollection   = "sessions"
	projectsCollection   = "projects"
)

// ユニークインデックス名。重複キーエラーのメッセージからフィールドを特定するのに使う。
const (
	indexExternalIDUnique = "external_id_unique"
	indexEmailUnique      = "email_unique"
)

// NewRepositories はMongoDB上のリポジトリ一式を生成する。
func NewRepositories(db *mongo.Database) repository.Repositories {
	return repository.Repositories{
		Principals: NewPrincipalRepo(db),
		Sessions:   NewSessionRepo(db),
		Projects:   NewProjectRepo(db),
	}
}

// EnsureIndexes は必要なインデックスを作成する。既に存在する場合は何もしない。
// 起動時に一度だけ呼び出す。
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(principalsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexExternalIDUnique),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexEmailUnique),
		},
	})
	if err != nil {
		return wrapMongoError("failed to create principal indexes", err)
	}

	// expires_atを過ぎたセッションはTTLモニタが削除する
	_, err = db.Collection(sessionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	if err != nil {
		return wrapMongoError("failed to create session indexes", err)
	}

	_, err = db.Collection(projectsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return wrapMongoError("failed to create project indexes", err)
	}
	return nil
}

// wrapMongoError はドライバエラーをドメインのエラー分類に変換する。
func wrapMongoError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, &model.DuplicateIdentityError{Field: duplicateField(err), Err: err})
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// duplicateField は重複キーエラーのメッセージに含まれるインデックス名からフィールドを判定する。
func duplicateField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, indexExternalIDUnique):
		return model.FieldExternalID
	case strings.Contains(msg, indexEmailUnique):
		return model.FieldEmail
	default:
		return "unknown"
	}
}

// parseObjectID はhex文字列をObjectIDに変換する。不正な値はok=falseを返す。
func parseObjectID(id string) (bson.ObjectID, bool) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, false
	}
	return oid, true
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
