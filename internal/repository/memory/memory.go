// Package memory はプロセス内で完結するリポジトリ実装を提供する。
// 開発用のmemory://バックエンドとテストで使用し、PostgreSQL/MongoDB実装と同じ
// 一意性・原子性の契約をミューテックスで満たす。
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
)

// NewRepositories はメモリ上のリポジトリ一式を生成する。
func NewRepositories() repository.Repositories {
	return repository.Repositories{
		Principals: NewPrincipalStore(),
		Sessions:   NewSessionStore(),
		Projects:   NewProjectStore(),
	}
}

// PrincipalStore はメモリ上のPrincipalリポジトリ。
type PrincipalStore struct {
	mu         sync.Mutex
	byID       map[string]*model.Principal
	byExternal map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

// NewPrincipalStore はPrincipalStoreを生成する。
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		byID:       make(map[string]*model.Principal),
		byExternal: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (s *PrincipalStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func clonePrincipal(p *model.Principal) *model.Principal {
	c := *p
	return &c
}

// FindByID は指定IDのPrincipalを取得する。
func (s *PrincipalStore) FindByID(_ context.Context, id string) (*model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[id]; ok {
		return clonePrincipal(p), nil
	}
	return nil, nil
}

// FindByExternalID は外部IdPのIDでPrincipalを検索する。
func (s *PrincipalStore) FindByExternalID(_ context.Context, externalID string) (*model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byExternal[externalID]; ok {
		return clonePrincipal(s.byID[id]), nil
	}
	return nil, nil
}

// FindByEmail は正規化したメールアドレスでPrincipalを検索する。
func (s *PrincipalStore) FindByEmail(_ context.Context, email string) (*model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[model.NormalizeEmail(email)]; ok {
		return clonePrincipal(s.byID[id]), nil
	}
	return nil, nil
}

// Create はPrincipalを作成する。external_id、emailの順に一意性を検査する。
func (s *PrincipalStore) Create(_ context.Context, p *model.Principal) error {
	email := model.NormalizeEmail(p.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExternal[p.ExternalID]; ok {
		return &model.DuplicateIdentityError{Field: model.FieldExternalID}
	}
	if _, ok := s.byEmail[email]; ok {
		return &model.DuplicateIdentityError{Field: model.FieldEmail}
	}

	now := s.now()
	p.ID = uuid.New().String()
	p.Email = email
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.LastLoginAt.IsZero() {
		p.LastLoginAt = p.CreatedAt
	}

	s.byID[p.ID] = clonePrincipal(p)
	s.byExternal[p.ExternalID] = p.ID
	s.byEmail[email] = p.ID
	return nil
}

// RecordLogin はlogin_countを増やしlast_login_atを進める。
func (s *PrincipalStore) RecordLogin(_ context.Context, id string) (*model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}
	now := s.now()
	p.LoginCount++
	if now.After(p.LastLoginAt) {
		p.LastLoginAt = now
	}
	p.UpdatedAt = now
	return clonePrincipal(p), nil
}

// CountByRole はロールごとのPrincipal数を返す。
func (s *PrincipalStore) CountByRole(_ context.Context) (map[model.Role]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Role]int)
	for _, p := range s.byID {
		counts[p.Role]++
	}
	return counts, nil
}

// SetRole はPrincipalのロールを変更する。開発時の管理者付与とテストで使用する。
func (s *PrincipalStore) SetRole(id string, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}
	p.Role = role
	return nil
}

// SetActive はPrincipalの有効フラグを変更する。
func (s *PrincipalStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("principal %q: %w", id, model.ErrNotFound)
	}
	p.IsActive = active
	return nil
}

// Delete はPrincipalを削除する。
func (s *PrincipalStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byExternal, p.ExternalID)
	delete(s.byEmail, p.Email)
	delete(s.byID, id)
}

// Len は保持しているPrincipal数を返す。
func (s *PrincipalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// SessionStore はメモリ上のセッションリポジトリ。
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewSessionStore はSessionStoreを生成する。
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (s *SessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live は期限内のセッションを返す。呼び出し側でロックを保持すること。
func (s *SessionStore) live(id string) (*model.Session, bool) {
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return nil, false
	}
	return sess, true
}

// Create はセッションを作成する。
func (s *SessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.UpdatedAt = session.CreatedAt
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

// FindByID は期限内のセッションを返す。
func (s *SessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(id)
	if !ok {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

// SetReturnTo はreturn_toを上書きする。
func (s *SessionStore) SetReturnTo(_ context.Context, id, returnTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(id)
	if !ok {
		return fmt.Errorf("session %q: %w", id, model.ErrNotFound)
	}
	sess.ReturnTo = returnTo
	sess.UpdatedAt = s.now()
	return nil
}

// ConsumeReturnTo はreturn_toを読み出してクリアする。
func (s *SessionStore) ConsumeReturnTo(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live(id)
	if !ok {
		return "", nil
	}
	returnTo := sess.ReturnTo
	sess.ReturnTo = ""
	sess.UpdatedAt = s.now()
	return returnTo, nil
}

// ClearPrincipal はセッションを匿名に戻す。
func (s *SessionStore) ClearPrincipal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, model.ErrNotFound)
	}
	sess.PrincipalRef = ""
	sess.UpdatedAt = s.now()
	return nil
}

// DeleteByID はセッションを削除する。
func (s *SessionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (s *SessionStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len は保持しているセッション数を返す（期限切れを含む）。
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ProjectStore はメモリ上のプロジェクトレコードリポジトリ。
type ProjectStore struct {
	mu      sync.Mutex
	records []*model.ProjectRecord
}

// NewProjectStore はProjectStoreを生成する。
func NewProjectStore() *ProjectStore {
	return &ProjectStore{}
}

// Create はプロジェクトレコードを追加する。
func (s *ProjectStore) Create(_ context.Context, rec *model.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = model.ProjectStatusDraft
	}
	if rec.Priority == "" {
		rec.Priority = model.ProjectPriorityMedium
	}
	rec.Score = model.ClampScore(rec.Score)
	c := *rec
	c.Tags = slices.Clone(rec.Tags)
	s.records = append(s.records, &c)
	return nil
}

// ListByOwner は作成日時の降順で最大limit件返す。
func (s *ProjectStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.ProjectRecord{}
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByOwner は指定Principalのプロジェクト数を返す。
func (s *ProjectStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// Count は全プロジェクト数を返す。
func (s *ProjectStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// compile-time interface checks
var (
	_ repository.PrincipalRepository = (*PrincipalStore)(nil)
	_ repository.SessionRepository   = (*SessionStore)(nil)
	_ repository.ProjectRepository   = (*ProjectStore)(nil)
)
