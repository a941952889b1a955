package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// PostgresRevokedTokenRepo はPostgreSQLを使用した失効トークンリポジトリ。
type PostgresRevokedTokenRepo struct {
	db *sql.DB
}

// NewPostgresRevokedTokenRepo はPostgresRevokedTokenRepoを生成する。
func NewPostgresRevokedTokenRepo(db *sql.DB) *PostgresRevokedTokenRepo {
	return &PostgresRevokedTokenRepo{db: db}
}

// Revoke はトークンを失効させる。既に失効済みの場合も成功する。
func (r *PostgresRevokedTokenRepo) Revoke(ctx context.Context, token *model.RevokedToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, username, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token_id) DO NOTHING`,
		token.TokenID, token.Username, token.ExpiresAt, token.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked はトークンが失効済みかどうかを返す。
func (r *PostgresRevokedTokenRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id = $1)`,
		tokenID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

// DeleteExpired は before より前に期限切れとなった失効レコードを削除し、削除件数を返す。
func (r *PostgresRevokedTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ RevokedTokenRepository = (*PostgresRevokedTokenRepo)(nil)
