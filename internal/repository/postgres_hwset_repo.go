package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/hwledger/internal/model"
)

const hwsetColumns = `id, name, capacity, available, version, created_at, updated_at`

// PostgresHardwareSetRepo はPostgreSQLを使用したハードウェアセットリポジトリ。
// Available の更新は条件付きUPDATE1文で行い、行ロックにより同一セットへの更新のみを直列化する。
type PostgresHardwareSetRepo struct {
	db *sql.DB
}

// NewPostgresHardwareSetRepo はPostgresHardwareSetRepoを生成する。
func NewPostgresHardwareSetRepo(db *sql.DB) *PostgresHardwareSetRepo {
	return &PostgresHardwareSetRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHardwareSet(row rowScanner) (*model.HardwareSet, error) {
	h := &model.HardwareSet{}
	if err := row.Scan(&h.ID, &h.Name, &h.Capacity, &h.Available, &h.Version, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	return h, nil
}

// Create はハードウェアセットを作成する。
func (r *PostgresHardwareSetRepo) Create(ctx context.Context, hwset *model.HardwareSet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hardware_sets (id, name, capacity, available, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hwset.ID, hwset.Name, hwset.Capacity, hwset.Available, hwset.Version, hwset.CreatedAt, hwset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hardware set: %w", err)
	}
	return nil
}

// FindByID は指定IDのハードウェアセットを取得する。見つからない場合はnilを返す。
func (r *PostgresHardwareSetRepo) FindByID(ctx context.Context, id string) (*model.HardwareSet, error) {
	if !isValidID(id) {
		return nil, nil
	}

	h, err := scanHardwareSet(r.db.QueryRowContext(ctx,
		`SELECT `+hwsetColumns+` FROM hardware_sets WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find hardware set: %w", err)
	}
	return h, nil
}

// ListAll は全ハードウェアセットを名前順で返す。
func (r *PostgresHardwareSetRepo) ListAll(ctx context.Context) ([]*model.HardwareSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hwsetColumns+` FROM hardware_sets ORDER BY name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware sets: %w", err)
	}
	defer rows.Close()

	return collectHardwareSets(rows)
}

// ListByIDs は指定IDのハードウェアセットを引数の順序で返す。存在しないIDは無視する。
func (r *PostgresHardwareSetRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.HardwareSet, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isValidID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*model.HardwareSet{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hwsetColumns+` FROM hardware_sets WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware sets by IDs: %w", err)
	}
	defer rows.Close()

	found, err := collectHardwareSets(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(found, valid), nil
}

// Adjust は Available に delta を加算する。
// 範囲検査をWHERE句に含めた単一のUPDATEで行うため、拒否された変更が部分的に適用されることはない。
// delta は bigint として比較するため、INTEGER の範囲を超える値も範囲外として扱われる。
func (r *PostgresHardwareSetRepo) Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error) {
	if !isValidID(id) {
		return nil, ErrNotFound
	}

	h, err := scanHardwareSet(r.db.QueryRowContext(ctx,
		`UPDATE hardware_sets
		 SET available = available + $2::bigint, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND available + $2::bigint BETWEEN 0 AND capacity
		 RETURNING `+hwsetColumns,
		id, delta,
	))
	if err == nil {
		return h, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to adjust available: %w", err)
	}

	// 更新対象なし: 未存在か範囲外かを判別する
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return nil, &OutOfBoundsError{Current: *current, Delta: delta}
}

// UpdateCapacity は容量を変更する。新しい容量が Available を下回る場合は変更しない。
func (r *PostgresHardwareSetRepo) UpdateCapacity(ctx context.Context, id string, capacity int) (*model.HardwareSet, error) {
	if !isValidID(id) {
		return nil, ErrNotFound
	}

	h, err := scanHardwareSet(r.db.QueryRowContext(ctx,
		`UPDATE hardware_sets
		 SET capacity = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND available <= $2
		 RETURNING `+hwsetColumns,
		id, capacity,
	))
	if err == nil {
		return h, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to update capacity: %w", err)
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return nil, &OutOfBoundsError{Current: *current}
}

func collectHardwareSets(rows *sql.Rows) ([]*model.HardwareSet, error) {
	hwsets := []*model.HardwareSet{}
	for rows.Next() {
		h, err := scanHardwareSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hardware set: %w", err)
		}
		hwsets = append(hwsets, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hardware sets: %w", err)
	}
	return hwsets, nil
}

// orderByIDs は ids の順序に並べ替える。重複IDは1件にまとめる。
func orderByIDs(hwsets []*model.HardwareSet, ids []string) []*model.HardwareSet {
	byID := make(map[string]*model.HardwareSet, len(hwsets))
	for _, h := range hwsets {
		byID[h.ID] = h
	}

	ordered := make([]*model.HardwareSet, 0, len(hwsets))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		h, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, h)
	}
	return ordered
}

// compile-time interface check
var _ HardwareSetRepository = (*PostgresHardwareSetRepo)(nil)
