package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User // key: username
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// Create はユーザーを作成する。ユーザー名が重複する場合は ErrDuplicate を返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.Username]; ok {
		return ErrDuplicate
	}
	r.users[user.Username] = *user
	return nil
}

// FindByUsername はユーザー名で検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// MemoryRevokedTokenRepo はプロセス内メモリを使用した失効トークンリポジトリ。
type MemoryRevokedTokenRepo struct {
	mu     sync.RWMutex
	tokens map[string]model.RevokedToken
}

// NewMemoryRevokedTokenRepo はMemoryRevokedTokenRepoを生成する。
func NewMemoryRevokedTokenRepo() *MemoryRevokedTokenRepo {
	return &MemoryRevokedTokenRepo{tokens: make(map[string]model.RevokedToken)}
}

// Revoke はトークンを失効させる。既に失効済みの場合も成功する。
func (r *MemoryRevokedTokenRepo) Revoke(_ context.Context, token *model.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.TokenID]; !ok {
		r.tokens[token.TokenID] = *token
	}
	return nil
}

// IsRevoked はトークンが失効済みかどうかを返す。
func (r *MemoryRevokedTokenRepo) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tokens[tokenID]
	return ok, nil
}

// DeleteExpired は before より前に期限切れとなった失効レコードを削除し、削除件数を返す。
func (r *MemoryRevokedTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, tok := range r.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

// compile-time interface checks
var (
	_ UserRepository         = (*MemoryUserRepo)(nil)
	_ RevokedTokenRepository = (*MemoryRevokedTokenRepo)(nil)
)
