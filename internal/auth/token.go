package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/model"
)

// DefaultIssuer はトークンの iss クレームの既定値。
const DefaultIssuer = "hwledger"

// Token はクライアントへ発行するベアラートークン。
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer はベアラートークンの発行と検証のインターフェース。
// 署名方式を差し替えられるよう抽象化している。
type TokenIssuer interface {
	// Issue はユーザーに対するトークンを発行する。
	Issue(user *model.User) (*Token, error)
	// Parse はトークンを検証し、含まれる認証情報を返す。失効確認は行わない。
	Parse(value string) (*model.Principal, error)
}

// ledgerClaims はトークンに含めるクレーム。sub にはユーザー名を入れる。
type ledgerClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// JWTIssuer はHS256署名のJWTを発行する。
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer はJWTIssuerを生成する。issuer が空の場合は DefaultIssuer を使用する。
func NewJWTIssuer(secret, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive: %s", ttl)
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &JWTIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue はユーザーに対するJWTを発行する。jti は発行ごとに一意。
func (i *JWTIssuer) Issue(user *model.User) (*Token, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	tokenID := uuid.New().String()

	claims := ledgerClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    i.issuer,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Value: signed, ID: tokenID, ExpiresAt: expiresAt}, nil
}

// Parse はHS256署名・発行者・有効期限を検証し、Principal を返す。
func (i *JWTIssuer) Parse(value string) (*model.Principal, error) {
	claims := &ledgerClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("token verification failed: missing sub or jti")
	}

	return &model.Principal{
		UserID:    claims.UserID,
		Username:  claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// compile-time interface check
var _ TokenIssuer = (*JWTIssuer)(nil)
