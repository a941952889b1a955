package model

import "time"

// User はサービス利用ユーザーを表す。
// プロジェクトのメンバー管理には Username を識別子として使用する。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Principal はリクエストごとに解決される認証済みユーザー。
// コアのコンポーネントはリクエストをまたいで保持しない。
type Principal struct {
	UserID    string
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// RevokedToken はログアウトにより失効したトークンを表す。
// ExpiresAt を過ぎたレコードはクリーンアップジョブで削除される。
type RevokedToken struct {
	TokenID   string
	Username  string
	ExpiresAt time.Time
	RevokedAt time.Time
}
