package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/hwledger/internal/model"
)

// projectSelect はプロジェクトとその参照・メンバーを1行で取得するSELECT句。
// 参照は登録順、メンバーは参加順に並ぶ。
const projectSelect = `
	SELECT p.id, p.name, p.description, p.created_by, p.created_at, p.updated_at,
	       COALESCE((SELECT array_agg(phs.hardware_set_id::text ORDER BY phs.position)
	                 FROM project_hardware_sets phs WHERE phs.project_id = p.id), '{}'::text[]),
	       COALESCE((SELECT array_agg(pm.user_id::text ORDER BY pm.joined_at, pm.user_id)
	                 FROM project_members pm WHERE pm.project_id = p.id), '{}'::text[])
	FROM projects p`

// appendRefsSQL は既存の末尾に続く位置でハードウェアセット参照を追加する。既存の参照は無視される。
const appendRefsSQL = `
	INSERT INTO project_hardware_sets (project_id, hardware_set_id, position)
	SELECT $1, u.id,
	       (SELECT COALESCE(MAX(position), 0) FROM project_hardware_sets WHERE project_id = $1) + u.ord
	FROM unnest($2::uuid[]) WITH ORDINALITY AS u(id, ord)
	ON CONFLICT (project_id, hardware_set_id) DO NOTHING`

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

func scanProject(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	var hwsetIDs, members pq.StringArray
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &hwsetIDs, &members); err != nil {
		return nil, err
	}
	p.HardwareSetIDs = []string(hwsetIDs)
	p.AuthorizedUsers = []string(members)
	return p, nil
}

// Create はプロジェクト、ハードウェアセット参照、作成者のメンバー登録を同一トランザクションで作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	for _, id := range project.HardwareSetIDs {
		if !isValidID(id) {
			return ErrNotFound
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		project.ID, project.Name, project.Description, project.CreatedBy, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}

	if len(project.HardwareSetIDs) > 0 {
		if _, err := tx.ExecContext(ctx, appendRefsSQL, project.ID, pq.Array(project.HardwareSetIDs)); err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to insert project hardware sets: %w", err)
		}
	}

	for _, userID := range project.AuthorizedUsers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, joined_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (project_id, user_id) DO NOTHING`,
			project.ID, userID, project.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert project member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if !isValidID(id) {
		return nil, nil
	}

	p, err := scanProject(r.db.QueryRowContext(ctx, projectSelect+` WHERE p.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}
	return p, nil
}

// FindByName はプロジェクト名で検索する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByName(ctx context.Context, name string) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, projectSelect+` WHERE p.name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by name: %w", err)
	}
	return p, nil
}

// List は全プロジェクトを作成日時順で返す。
func (r *PostgresProjectRepo) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx, projectSelect+` ORDER BY p.created_at ASC, p.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// AddMember はメンバーを追加する。既にメンバーの場合は何もせず false を返す。
func (r *PostgresProjectRepo) AddMember(ctx context.Context, projectID, userID string) (bool, error) {
	if !isValidID(projectID) {
		return false, ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to add project member: %w", err)
	}

	return r.changed(ctx, result, projectID)
}

// RemoveMember はメンバーを削除する。メンバーでない場合は何もせず false を返す。
func (r *PostgresProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) (bool, error) {
	if !isValidID(projectID) {
		return false, ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove project member: %w", err)
	}

	return r.changed(ctx, result, projectID)
}

// changed は更新件数からメンバー集合が変化したかを判定する。
// 0件の場合はプロジェクト未存在と冪等な再実行を区別する。
func (r *PostgresProjectRepo) changed(ctx context.Context, result sql.Result, projectID string) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`,
		projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// IsMember は指定ユーザーがメンバーかどうかを返す。
func (r *PostgresProjectRepo) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	if !isValidID(projectID) {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project membership: %w", err)
	}
	return exists, nil
}

// AddHardwareSets はハードウェアセット参照を末尾に追加する。既存の参照は無視する。
func (r *PostgresProjectRepo) AddHardwareSets(ctx context.Context, projectID string, hwsetIDs []string) error {
	if !isValidID(projectID) {
		return ErrNotFound
	}
	for _, id := range hwsetIDs {
		if !isValidID(id) {
			return ErrNotFound
		}
	}
	if len(hwsetIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 同一プロジェクトへの並行追加で position が衝突しないよう行ロックを取る
	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&locked)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, appendRefsSQL, projectID, pq.Array(hwsetIDs)); err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add project hardware sets: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
