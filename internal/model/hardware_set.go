package model

import (
	"math"
	"strings"
	"time"
)

// MaxCapacity は容量の上限。capacity/available 列は INTEGER で保存される。
const MaxCapacity = math.MaxInt32

// HardwareSet は容量固定の物理ハードウェアのプールを表す。
// Available は常に [0, Capacity] の範囲に収まる。
// 複数プロジェクトから参照される場合も Available は1つの共有プールである。
type HardwareSet struct {
	ID        string
	Name      string
	Capacity  int
	Available int
	Version   int64 // 変更のたびに増加する
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InUse は現在チェックアウトされている台数を返す。
func (h *HardwareSet) InUse() int {
	return h.Capacity - h.Available
}

// WithinBounds は Available に delta を加えた結果が [0, Capacity] に収まるかを判定する。
// 加算結果を作らずに比較するため delta が極端な値でもオーバーフローしない。
func (h *HardwareSet) WithinBounds(delta int) bool {
	if delta >= 0 {
		return delta <= h.Capacity-h.Available
	}
	return delta >= -h.Available
}

// InitialStock は新規ハードウェアセット作成時の Available 初期値ポリシー。
type InitialStock string

const (
	// InitialStockEmpty は Available=0 で作成する。利用前にチェックインが必要。
	InitialStockEmpty InitialStock = "empty"
	// InitialStockFull は Available=Capacity で作成する。
	InitialStockFull InitialStock = "full"
)

// ParseInitialStock は文字列を InitialStock に変換する。
// 大文字小文字と前後の空白は無視する。
func ParseInitialStock(s string) (InitialStock, bool) {
	switch InitialStock(strings.ToLower(strings.TrimSpace(s))) {
	case InitialStockEmpty:
		return InitialStockEmpty, true
	case InitialStockFull:
		return InitialStockFull, true
	default:
		return "", false
	}
}

// InitialAvailable はポリシーに従った Available の初期値を返す。
func (p InitialStock) InitialAvailable(capacity int) int {
	if p == InitialStockFull {
		return capacity
	}
	return 0
}
