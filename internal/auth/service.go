// Package auth はユーザー登録、パスワード認証、ベアラートークンの発行・検証・失効を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/repository"
)

const (
	minPasswordLength = 8
	// bcrypt は72バイトを超える入力を扱えない
	maxPasswordLength = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	issuer      TokenIssuer
	hasher      PasswordHasher
	userRepo    repository.UserRepository
	revokedRepo repository.RevokedTokenRepository
}

// NewService はServiceを生成する。
func NewService(
	issuer TokenIssuer,
	hasher PasswordHasher,
	userRepo repository.UserRepository,
	revokedRepo repository.RevokedTokenRepository,
) *Service {
	return &Service{
		issuer:      issuer,
		hasher:      hasher,
		userRepo:    userRepo,
		revokedRepo: revokedRepo,
	}
}

// Register はユーザーを登録する。ユーザー名が既に存在する場合は Conflict を返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	if !usernamePattern.MatchString(username) {
		return nil, model.NewInvalidRequestError("username は英数字と _ . - の64文字以内で指定してください")
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("password は%d〜%dバイトで指定してください", minPasswordLength, maxPasswordLength))
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateUserError(username)
		}
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login はユーザー名とパスワードを検証し、トークンを発行する。
// ユーザー未登録とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("パスワードの検証に失敗しました: %w", err)
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("ユーザーがログインしました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// Authenticate はベアラートークンを検証し、Principal を返す。
// 署名不正・期限切れ・失効済みのトークンは Unauthenticated とする。
func (s *Service) Authenticate(ctx context.Context, credential string) (*model.Principal, error) {
	if credential == "" {
		return nil, model.NewUnauthenticatedError()
	}

	principal, err := s.issuer.Parse(credential)
	if err != nil {
		slog.Debug("トークンの検証に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewUnauthenticatedError()
	}

	revoked, err := s.revokedRepo.IsRevoked(ctx, principal.TokenID)
	if err != nil {
		return nil, fmt.Errorf("トークン失効状態の確認に失敗しました: %w", err)
	}
	if revoked {
		return nil, model.NewUnauthenticatedError()
	}

	return principal, nil
}

// Logout はトークンを有効期限まで失効させる。
func (s *Service) Logout(ctx context.Context, principal *model.Principal) error {
	if principal == nil || principal.TokenID == "" {
		return model.NewUnauthenticatedError()
	}

	token := &model.RevokedToken{
		TokenID:   principal.TokenID,
		Username:  principal.Username,
		ExpiresAt: principal.ExpiresAt,
		RevokedAt: time.Now(),
	}
	if err := s.revokedRepo.Revoke(ctx, token); err != nil {
		return fmt.Errorf("トークンの失効に失敗しました: %w", err)
	}

	slog.Info("ユーザーがログアウトしました",
		slog.String("username", principal.Username),
		slog.String("token_id", principal.TokenID),
	)
	return nil
}
