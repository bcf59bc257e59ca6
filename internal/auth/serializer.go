package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// PrincipalFinder はID指定でPrincipalを取得するインターフェース。
// repository.PrincipalRepositoryの部分集合として定義する。
type PrincipalFinder interface {
	FindByID(ctx context.Context, id string) (*model.Principal, error)
}

// Serializer はPrincipalとセッションに保存する参照文字列を相互変換する。
// セッションにはPrincipalのIDのみを保存する。
type Serializer struct {
	principals PrincipalFinder
}

// NewSerializer はSerializerを生成する。
func NewSerializer(principals PrincipalFinder) *Serializer {
	return &Serializer{principals: principals}
}

// Serialize はPrincipalのIDを返す。
func (s *Serializer) Serialize(p *model.Principal) (string, error) {
	if p == nil || p.ID == "" {
		return "", errors.New("cannot serialize principal without ID")
	}
	return p.ID, nil
}

// Deserialize は参照からPrincipalを取得する。
// 参照先が存在しない、または無効化されている場合はnilを返し、呼び出し側は匿名として扱う。
func (s *Serializer) Deserialize(ctx context.Context, ref string) (*model.Principal, error) {
	if ref == "" {
		return nil, nil
	}
	p, err := s.principals.FindByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize principal: %w", err)
	}
	if p == nil || !p.IsActive {
		return nil, nil
	}
	return p, nil
}
