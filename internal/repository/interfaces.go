// Package repository はデータ永続化のインターフェースを定義する。
// PostgreSQL実装（postgres_*.go）とインメモリ実装（memory_*.go）を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// HardwareSetRepository はハードウェアセットの永続化インターフェース。
// Available を変更できるのは Adjust のみ。
type HardwareSetRepository interface {
	// Create はハードウェアセットを作成する。
	Create(ctx context.Context, hwset *model.HardwareSet) error

	// FindByID は指定IDのハードウェアセットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.HardwareSet, error)

	// ListAll は全ハードウェアセットを名前順で返す。
	ListAll(ctx context.Context) ([]*model.HardwareSet, error)

	// ListByIDs は指定IDのハードウェアセットを引数の順序で返す。存在しないIDは無視する。
	ListByIDs(ctx context.Context, ids []string) ([]*model.HardwareSet, error)

	// Adjust は Available に delta を加算する。
	// 範囲検査と更新は同一ハードウェアセットに対して直列化された1ステップで行う。
	// 結果が [0, Capacity] を外れる場合は何も変更せず *OutOfBoundsError を返す。
	// 存在しない場合は ErrNotFound を返す。
	Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error)

	// UpdateCapacity は容量を変更する。Available は変更しない。
	// 新しい容量が Available を下回る場合は *OutOfBoundsError を返す。
	UpdateCapacity(ctx context.Context, id string, capacity int) (*model.HardwareSet, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// Create はプロジェクト、ハードウェアセット参照、作成者のメンバー登録を同一トランザクションで作成する。
	// 同名プロジェクトが存在する場合は ErrDuplicate、参照先が存在しない場合は ErrNotFound を返す。
	Create(ctx context.Context, project *model.Project) error

	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// FindByName はプロジェクト名で検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Project, error)

	// List は全プロジェクトを作成日時順で返す。
	List(ctx context.Context) ([]*model.Project, error)

	// AddMember はメンバーを追加する。既にメンバーの場合は何もせず false を返す。
	// プロジェクトが存在しない場合は ErrNotFound を返す。
	AddMember(ctx context.Context, projectID, userID string) (bool, error)

	// RemoveMember はメンバーを削除する。メンバーでない場合は何もせず false を返す。
	// プロジェクトが存在しない場合は ErrNotFound を返す。
	RemoveMember(ctx context.Context, projectID, userID string) (bool, error)

	// IsMember は指定ユーザーがメンバーかどうかを返す。
	IsMember(ctx context.Context, projectID, userID string) (bool, error)

	// AddHardwareSets はハードウェアセット参照を追加する。既存の参照は無視する。
	AddHardwareSets(ctx context.Context, projectID string, hwsetIDs []string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。ユーザー名が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, user *model.User) error

	// FindByUsername はユーザー名で検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// RevokedTokenRepository は失効トークンの永続化インターフェース。
type RevokedTokenRepository interface {
	// Revoke はトークンを失効させる。既に失効済みの場合も成功する。
	Revoke(ctx context.Context, token *model.RevokedToken) error

	// IsRevoked はトークンが失効済みかどうかを返す。
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// DeleteExpired は before より前に期限切れとなった失効レコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
