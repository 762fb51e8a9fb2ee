// Package auth はロール指定によるログインシミュレーションとセッション管理を提供する。
//
// 実際のIdPによる認証は行わない。ログイン時は現在のスナップショットから
// 指定ロールを持つ最初のユーザーを選び、そのユーザーとしてセッションを発行する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/repository"
)

// UserLister は現在のスナップショットのユーザー一覧を返す。
type UserLister interface {
	Users() []model.User
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users       UserLister
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users UserLister,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		users:       users,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// LoginAsRole は指定ロールを持つ最初のユーザーとしてセッションを発行する。
// 該当ユーザーがいない場合はNO_USER_FOR_ROLEのAPIErrorを返す。
func (s *Service) LoginAsRole(ctx context.Context, role model.UserRole) (*model.Session, error) {
	user, ok := firstWithRole(s.users.Users(), role)
	if !ok {
		return nil, model.NewNoUserForRoleError(role)
	}

	now := s.now()
	session := &model.Session{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Mail:        user.Mail,
		Role:        user.Role,
		ExpiresAt:   now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:   now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return session, nil
}

// firstWithRole はusersの中で最初に指定ロールを持つユーザーを返す。
func firstWithRole(users []model.User, role model.UserRole) (model.User, bool) {
	for _, u := range users {
		if u.Role == role {
			return u, true
		}
	}
	return model.User{}, false
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetSession は有効なセッションを返す。存在しないか期限切れの場合はエラーを返す。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}
	return session, nil
}
