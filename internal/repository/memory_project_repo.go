package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// MemoryProjectRepo はプロセス内メモリを使用したプロジェクトリポジトリ。
// メンバー集合と参照集合の更新はマップ全体のロック下で行う。
type MemoryProjectRepo struct {
	mu       sync.RWMutex
	projects map[string]*model.Project
	byName   map[string]string
	hwsets   *MemoryHardwareSetRepo
}

// NewMemoryProjectRepo はMemoryProjectRepoを生成する。
// hwsets は参照先ハードウェアセットの存在確認に使用する。
func NewMemoryProjectRepo(hwsets *MemoryHardwareSetRepo) *MemoryProjectRepo {
	return &MemoryProjectRepo{
		projects: make(map[string]*model.Project),
		byName:   make(map[string]string),
		hwsets:   hwsets,
	}
}

func cloneProject(p *model.Project) *model.Project {
	c := *p
	c.HardwareSetIDs = slices.Clone(p.HardwareSetIDs)
	c.AuthorizedUsers = slices.Clone(p.AuthorizedUsers)
	if c.HardwareSetIDs == nil {
		c.HardwareSetIDs = []string{}
	}
	if c.AuthorizedUsers == nil {
		c.AuthorizedUsers = []string{}
	}
	return &c
}

func (r *MemoryProjectRepo) hwsetsExist(ids []string) bool {
	if r.hwsets == nil {
		return true
	}
	for _, id := range ids {
		if !r.hwsets.exists(id) {
			return false
		}
	}
	return true
}

// Create はプロジェクトを作成する。
func (r *MemoryProjectRepo) Create(_ context.Context, project *model.Project) error {
	if !r.hwsetsExist(project.HardwareSetIDs) {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[project.Name]; ok {
		return ErrDuplicate
	}
	if _, ok := r.projects[project.ID]; ok {
		return ErrDuplicate
	}

	stored := cloneProject(project)
	stored.HardwareSetIDs = appendUnique(nil, project.HardwareSetIDs)
	stored.AuthorizedUsers = appendUnique(nil, project.AuthorizedUsers)
	r.projects[stored.ID] = stored
	r.byName[stored.Name] = stored.ID
	return nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *MemoryProjectRepo) FindByID(_ context.Context, id string) (*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, nil
	}
	return cloneProject(p), nil
}

// FindByName はプロジェクト名で検索する。見つからない場合はnilを返す。
func (r *MemoryProjectRepo) FindByName(_ context.Context, name string) (*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return nil, nil
	}
	return cloneProject(r.projects[id]), nil
}

// List は全プロジェクトを作成日時順で返す。
func (r *MemoryProjectRepo) List(_ context.Context) ([]*model.Project, error) {
	r.mu.RLock()
	projects := make([]*model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, cloneProject(p))
	}
	r.mu.RUnlock()

	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.Before(projects[j].CreatedAt)
		}
		return projects[i].Name < projects[j].Name
	})
	return projects, nil
}

// AddMember はメンバーを追加する。既にメンバーの場合は何もせず false を返す。
func (r *MemoryProjectRepo) AddMember(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectID]
	if !ok {
		return false, ErrNotFound
	}
	if p.IsMember(userID) {
		return false, nil
	}
	p.AuthorizedUsers = append(p.AuthorizedUsers, userID)
	p.UpdatedAt = time.Now()
	return true, nil
}

// RemoveMember はメンバーを削除する。メンバーでない場合は何もせず false を返す。
func (r *MemoryProjectRepo) RemoveMember(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectID]
	if !ok {
		return false, ErrNotFound
	}
	idx := slices.Index(p.AuthorizedUsers, userID)
	if idx < 0 {
		return false, nil
	}
	p.AuthorizedUsers = slices.Delete(p.AuthorizedUsers, idx, idx+1)
	p.UpdatedAt = time.Now()
	return true, nil
}

// IsMember は指定ユーザーがメンバーかどうかを返す。
func (r *MemoryProjectRepo) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[projectID]
	if !ok {
		return false, nil
	}
	return p.IsMember(userID), nil
}

// AddHardwareSets はハードウェアセット参照を末尾に追加する。既存の参照は無視する。
func (r *MemoryProjectRepo) AddHardwareSets(_ context.Context, projectID string, hwsetIDs []string) error {
	if !r.hwsetsExist(hwsetIDs) {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	p.HardwareSetIDs = appendUnique(p.HardwareSetIDs, hwsetIDs)
	p.UpdatedAt = time.Now()
	return nil
}

// appendUnique は dst に含まれない要素のみを順序を保って追加する。
func appendUnique(dst, src []string) []string {
	if dst == nil {
		dst = []string{}
	}
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

// compile-time interface check
var _ ProjectRepository = (*MemoryProjectRepo)(nil)
