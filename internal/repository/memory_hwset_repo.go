package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// memoryHardwareSet は1つのハードウェアセットとその排他制御を保持する。
type memoryHardwareSet struct {
	mu  sync.Mutex
	set model.HardwareSet
}

func (e *memoryHardwareSet) snapshot() *model.HardwareSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.set
	return &h
}

// MemoryHardwareSetRepo はプロセス内メモリを使用したハードウェアセットリポジトリ。
// 索引マップは RWMutex、各ハードウェアセットは個別の Mutex で保護する。
// そのため異なるハードウェアセットへの Adjust は互いに待たない。
type MemoryHardwareSetRepo struct {
	mu   sync.RWMutex
	sets map[string]*memoryHardwareSet
}

// NewMemoryHardwareSetRepo はMemoryHardwareSetRepoを生成する。
func NewMemoryHardwareSetRepo() *MemoryHardwareSetRepo {
	return &MemoryHardwareSetRepo{sets: make(map[string]*memoryHardwareSet)}
}

func (r *MemoryHardwareSetRepo) entry(id string) *memoryHardwareSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[id]
}

// exists は指定IDのハードウェアセットが存在するかを返す。
func (r *MemoryHardwareSetRepo) exists(id string) bool {
	return r.entry(id) != nil
}

// Create はハードウェアセットを作成する。
func (r *MemoryHardwareSetRepo) Create(_ context.Context, hwset *model.HardwareSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sets[hwset.ID]; ok {
		return ErrDuplicate
	}
	r.sets[hwset.ID] = &memoryHardwareSet{set: *hwset}
	return nil
}

// FindByID は指定IDのハードウェアセットを取得する。見つからない場合はnilを返す。
func (r *MemoryHardwareSetRepo) FindByID(_ context.Context, id string) (*model.HardwareSet, error) {
	e := r.entry(id)
	if e == nil {
		return nil, nil
	}
	return e.snapshot(), nil
}

// ListAll は全ハードウェアセットを名前順で返す。
func (r *MemoryHardwareSetRepo) ListAll(_ context.Context) ([]*model.HardwareSet, error) {
	r.mu.RLock()
	entries := make([]*memoryHardwareSet, 0, len(r.sets))
	for _, e := range r.sets {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	hwsets := make([]*model.HardwareSet, 0, len(entries))
	for _, e := range entries {
		hwsets = append(hwsets, e.snapshot())
	}
	sort.Slice(hwsets, func(i, j int) bool {
		if hwsets[i].Name != hwsets[j].Name {
			return hwsets[i].Name < hwsets[j].Name
		}
		return hwsets[i].ID < hwsets[j].ID
	})
	return hwsets, nil
}

// ListByIDs は指定IDのハードウェアセットを引数の順序で返す。存在しないIDは無視する。
func (r *MemoryHardwareSetRepo) ListByIDs(_ context.Context, ids []string) ([]*model.HardwareSet, error) {
	hwsets := make([]*model.HardwareSet, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e := r.entry(id); e != nil {
			hwsets = append(hwsets, e.snapshot())
		}
	}
	return hwsets, nil
}

// Adjust は Available に delta を加算する。
// 範囲検査と更新は同じロック区間で行う。
func (r *MemoryHardwareSetRepo) Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error) {
	e := r.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// ロック待ちの間にキャンセルされた場合は変更しない
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.set.WithinBounds(delta) {
		return nil, &OutOfBoundsError{Current: e.set, Delta: delta}
	}

	e.set.Available += delta
	e.set.Version++
	e.set.UpdatedAt = time.Now()
	h := e.set
	return &h, nil
}

// UpdateCapacity は容量を変更する。新しい容量が Available を下回る場合は変更しない。
func (r *MemoryHardwareSetRepo) UpdateCapacity(ctx context.Context, id string, capacity int) (*model.HardwareSet, error) {
	e := r.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if capacity < e.set.Available {
		return nil, &OutOfBoundsError{Current: e.set}
	}

	e.set.Capacity = capacity
	e.set.Version++
	e.set.UpdatedAt = time.Now()
	h := e.set
	return &h, nil
}

// compile-time interface check
var _ HardwareSetRepository = (*MemoryHardwareSetRepo)(nil)
