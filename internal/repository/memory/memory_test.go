package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

func TestPrincipalStore_Create_Uniqueness(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	if err := s.Create(ctx, model.NewPrincipal("g-123", "a@x.com", "Ada", "", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name      string
		p         *model.Principal
		wantField string
	}{
		{"同一external_id", model.NewPrincipal("g-123", "b@x.com", "B", "", time.Now()), model.FieldExternalID},
		{"大文字違いの同一email", model.NewPrincipal("g-456", "A@X.COM", "C", "", time.Now()), model.FieldEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Create(ctx, tt.p)
			var dup *model.DuplicateIdentityError
			if !errors.As(err, &dup) || dup.Field != tt.wantField {
				t.Errorf("err = %v, want DuplicateIdentityError{%s}", err, tt.wantField)
			}
		})
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestPrincipalStore_ConcurrentCreate_ExactlyOne(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var created atomic.Int32
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create(ctx, model.NewPrincipal("g-1", "a@x.com", "A", "", time.Now()))
			if err == nil {
				created.Add(1)
			} else if !errors.Is(err, model.ErrDuplicateIdentity) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 || s.Len() != 1 {
		t.Errorf("created = %d, Len = %d; want 1, 1", created.Load(), s.Len())
	}
}

func TestPrincipalStore_RecordLogin_NeverMovesBackwards(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := model.NewPrincipal("g-1", "a@x.com", "A", "", start)
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.SetClock(func() time.Time { return start.Add(-time.Hour) })
	got, err := s.RecordLogin(ctx, p.ID)
	if err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if !got.LastLoginAt.Equal(start) {
		t.Errorf("LastLoginAt = %v, want %v（後退しない）", got.LastLoginAt, start)
	}
	if got.LoginCount != 2 {
		t.Errorf("LoginCount = %d, want 2", got.LoginCount)
	}

	if _, err := s.RecordLogin(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPrincipalStore_ReturnsCopies(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()
	p := model.NewPrincipal("g-1", "a@x.com", "A", "", time.Now())
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := s.FindByID(ctx, p.ID)
	got.Role = model.RoleAdmin

	again, _ := s.FindByID(ctx, p.ID)
	if again.Role != model.RoleUser {
		t.Error("返却値の変更がストアに反映されています")
	}
}

func TestSessionStore_ReturnToConsumedOnce(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	if err := s.Create(ctx, &model.Session{ID: "s1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetReturnTo(ctx, "s1", "/dashboard/settings"); err != nil {
		t.Fatalf("SetReturnTo: %v", err)
	}

	var wg sync.WaitGroup
	var hits atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, _ := s.ConsumeReturnTo(ctx, "s1"); v == "/dashboard/settings" {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("returnToが%d回読み出されました, want 1", hits.Load())
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	now := time.Now()
	_ = s.Create(ctx, &model.Session{ID: "old", ExpiresAt: now.Add(-time.Second)})
	_ = s.Create(ctx, &model.Session{ID: "new", ExpiresAt: now.Add(time.Hour)})

	if got, _ := s.FindByID(ctx, "old"); got != nil {
		t.Error("期限切れセッションが返されました")
	}
	if err := s.SetReturnTo(ctx, "old", "/x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetReturnTo(expired) = %v, want ErrNotFound", err)
	}
	n, _ := s.DeleteExpired(ctx)
	if n != 1 || s.Len() != 1 {
		t.Errorf("DeleteExpired = %d, Len = %d; want 1, 1", n, s.Len())
	}
}

func TestProjectStore_ListByOwner(t *testing.T) {
	s := NewProjectStore()
	ctx := context.Background()
	base := time.Now()
	for i, owner := range []string{"a", "b", "a", "a"} {
		_ = s.Create(ctx, &model.ProjectRecord{
			OwnerID:   owner,
			Title:     owner,
			Score:     -5,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	list, _ := s.ListByOwner(ctx, "a", 2)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("作成日時の降順になっていません")
	}
	if list[0].Score != 0 || list[0].Status != model.ProjectStatusDraft {
		t.Errorf("既定値が設定されていません: %+v", list[0])
	}
	if n, _ := s.CountByOwner(ctx, "a"); n != 3 {
		t.Errorf("CountByOwner = %d, want 3", n)
	}
	if n, _ := s.Count(ctx); n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}
}
