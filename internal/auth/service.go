// Package auth はOAuth認証フロー、Principalの解決、セッションの発行と破棄を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/session"
)

// DefaultLandingPath はreturnToがない場合のログイン後の遷移先。
const DefaultLandingPath = "/dashboard"

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL  time.Duration
	LandingPath string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider   Provider
	principals repository.PrincipalRepository
	sessions   repository.SessionRepository
	serializer *Serializer
	metrics    metrics.AuthRecorder
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider Provider,
	principals repository.PrincipalRepository,
	sessions repository.SessionRepository,
	recorder metrics.AuthRecorder,
	config ServiceConfig,
) *Service {
	if config.LandingPath == "" {
		config.LandingPath = DefaultLandingPath
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		provider:   provider,
		principals: principals,
		sessions:   sessions,
		serializer: NewSerializer(principals),
		metrics:    recorder,
		config:     config,
		now:        time.Now,
	}
}

// LoginURL はOAuth認証URLを生成する。
func (s *Service) LoginURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// Resolve は認可コードを交換し、外部IDに対応するPrincipalを返す。
// 既存のPrincipalはログインを記録し、存在しない場合は作成する。
//
// 同じ外部IDの初回ログインが並行した場合、一方の作成は一意制約違反になるため
// 外部IDで再検索して既存ログインとして扱う。メールアドレスだけが衝突した場合は
// model.ErrIdentityConflictを返し、アカウントの自動統合は行わない。
func (s *Service) Resolve(ctx context.Context, code string) (*model.Principal, error) {
	if code == "" {
		s.metrics.RecordLogin(metrics.OutcomeFailed)
		return nil, fmt.Errorf("%w: missing authorization code", model.ErrProvider)
	}

	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeFailed)
		return nil, fmt.Errorf("%w: %w", model.ErrProvider, err)
	}

	p, outcome, err := s.resolveProfile(ctx, profile)
	s.metrics.RecordLogin(outcome)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) resolveProfile(ctx context.Context, profile *ProviderProfile) (*model.Principal, string, error) {
	existing, err := s.principals.FindByExternalID(ctx, profile.Subject)
	if err != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("failed to find principal: %w", err)
	}
	if existing != nil {
		return s.returningLogin(ctx, existing)
	}

	// 未確認のメールアドレスで一意制約の枠を取らせない
	if !profile.EmailVerified {
		return nil, metrics.OutcomeFailed, fmt.Errorf("%w: email %q is not verified", model.ErrProvider, profile.Email)
	}

	p := model.NewPrincipal(profile.Subject, profile.Email, displayName(profile), profile.Picture, s.now())
	p.FirstName = strings.TrimSpace(profile.GivenName)
	p.LastName = strings.TrimSpace(profile.FamilyName)
	if err := model.ValidatePrincipal(p); err != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("%w: %w", model.ErrProvider, err)
	}

	err = s.principals.Create(ctx, p)
	if err == nil {
		slog.Info("new principal created",
			slog.String("principal_id", p.ID),
			slog.String("email", p.Email),
		)
		return p, metrics.OutcomeFirst, nil
	}

	var dup *model.DuplicateIdentityError
	if !errors.As(err, &dup) {
		return nil, metrics.OutcomeFailed, fmt.Errorf("failed to create principal: %w", err)
	}

	// 一意制約違反: 並行した初回ログインが先に作成した可能性がある
	existing, ferr := s.principals.FindByExternalID(ctx, profile.Subject)
	if ferr != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("%w: re-query after duplicate: %w", model.ErrProvider, ferr)
	}
	if existing != nil {
		return s.returningLogin(ctx, existing)
	}
	if dup.Field == model.FieldEmail {
		attrs := []any{slog.String("email", p.Email), slog.String("external_id", p.ExternalID)}
		if owner, ferr := s.principals.FindByEmail(ctx, p.Email); ferr == nil && owner != nil {
			attrs = append(attrs, slog.String("owner_principal_id", owner.ID))
		}
		slog.Warn("email already claimed by another identity", attrs...)
		return nil, metrics.OutcomeConflict, fmt.Errorf("%w: %w", model.ErrIdentityConflict, err)
	}
	return nil, metrics.OutcomeFailed, fmt.Errorf("%w: %w", model.ErrProvider, err)
}

func (s *Service) returningLogin(ctx context.Context, existing *model.Principal) (*model.Principal, string, error) {
	if !existing.IsActive {
		return nil, metrics.OutcomeFailed, fmt.Errorf("%w: principal %s is inactive", model.ErrProvider, existing.ID)
	}

	p, err := s.principals.RecordLogin(ctx, existing.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, metrics.OutcomeFailed, fmt.Errorf("%w: %w", model.ErrProvider, err)
	}
	if err != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("failed to record login: %w", err)
	}

	slog.Info("existing principal logged in",
		slog.String("principal_id", p.ID),
		slog.Int("login_count", p.LoginCount),
	)
	return p, metrics.OutcomeReturning, nil
}

// displayName はプロフィールから表示名を決める。名前がない場合はメールアドレスのローカル部を使う。
func displayName(profile *ProviderProfile) string {
	if name := strings.TrimSpace(profile.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(profile.Email), "@")
	return local
}

// Complete は認証済みPrincipalに新しいセッションを発行し、遷移先を返す。
// 匿名セッションのIDは引き継がず新しいIDを採番する。匿名セッションに保存されたreturnToは
// 新しいセッションの保存後にアトミックに読み出してクリアし、ローカルパスであればその値を遷移先にする。
// 保存に失敗した場合returnToは残るため、再ログインで同じページへ戻れる。
func (s *Service) Complete(ctx context.Context, previousSessionID string, p *model.Principal) (*model.Session, string, error) {
	ref, err := s.serializer.Serialize(p)
	if err != nil {
		return nil, "", err
	}

	id, err := session.NewID()
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	sess := &model.Session{
		ID:           id,
		PrincipalRef: ref,
		ExpiresAt:    now.Add(s.config.SessionTTL),
		CreatedAt:    now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}

	// returnToは新しいセッションの保存に成功してから消費する
	var returnTo string
	if previousSessionID != "" {
		returnTo, err = s.sessions.ConsumeReturnTo(ctx, previousSessionID)
		if err != nil {
			if derr := s.sessions.DeleteByID(ctx, sess.ID); derr != nil {
				slog.Warn("failed to discard unfinished session",
					slog.String("error", derr.Error()),
				)
			}
			return nil, "", fmt.Errorf("failed to consume return_to: %w", err)
		}
		if err := s.sessions.DeleteByID(ctx, previousSessionID); err != nil {
			slog.Warn("failed to delete anonymous session",
				slog.String("error", err.Error()),
			)
		}
	}

	redirectTo := s.config.LandingPath
	if IsLocalPath(returnTo) {
		redirectTo = returnTo
	}
	return sess, redirectTo, nil
}

// IsLocalPath は同一オリジン内の絶対パスかどうかを返す。
// "//host" や "/\host" のようなスキーム相対URLは除外する。
func IsLocalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(p, "\r\n")
}
