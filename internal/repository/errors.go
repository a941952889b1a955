package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/hwledger/internal/model"
)

var (
	// ErrNotFound は操作対象のエンティティが存在しないことを示す。
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate は一意制約に違反したことを示す。
	ErrDuplicate = errors.New("duplicate entity")
	// ErrOutOfBounds は Available が [0, Capacity] を外れる変更であることを示す。
	ErrOutOfBounds = errors.New("available out of bounds")
)

// OutOfBoundsError は拒否された変更と、拒否時点のハードウェアセットの状態を保持する。
// errors.Is(err, ErrOutOfBounds) で判定できる。
type OutOfBoundsError struct {
	Current model.HardwareSet
	Delta   int
}

// Error はerrorインターフェースを実装する。
func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("hardware set %s: available %d%+d outside [0, %d]",
		e.Current.ID, e.Current.Available, e.Delta, e.Current.Capacity)
}

// Is は ErrOutOfBounds との比較を可能にする。
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQError(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// isUniqueViolation は一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	return isPQError(err, pqUniqueViolation)
}

// isForeignKeyViolation は外部キー制約違反かどうかを判定する。
func isForeignKeyViolation(err error) bool {
	return isPQError(err, pqForeignKeyViolation)
}

// isValidID はUUID形式のIDかどうかを判定する。
// UUID列に不正な文字列を渡すとクエリ自体が失敗するため、事前に未検出として扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
