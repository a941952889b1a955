// Package project はプロジェクトレジストリのドメインロジックを提供する。
// プロジェクトはハードウェアセットへの参照と承認済みユーザーの集合を持ち、
// ハードウェアの数量は常にハードウェアセットから読み取る。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/repository"
	"github.com/hitoshi/hwledger/internal/security"
)

const (
	maxNameLength        = 255
	maxDescriptionLength = 2000
)

// HardwareSetReader はハードウェアセットの読み取りインターフェース。
type HardwareSetReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]*model.HardwareSet, error)
}

// Service はプロジェクトレジストリのサービス層。
type Service struct {
	repo      repository.ProjectRepository
	hwsets    HardwareSetReader
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProjectRepository, hwsets HardwareSetReader, sanitizer security.TextSanitizer) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		repo:      repo,
		hwsets:    hwsets,
		sanitizer: sanitizer,
	}
}

// Create はプロジェクトを作成する。作成者は作成時点で唯一のメンバーとなる。
// 参照するハードウェアセットはすべて存在していなければならない。
func (s *Service) Create(ctx context.Context, name, description string, hwsetIDs []string, creator string) (*model.Project, error) {
	if creator == "" {
		return nil, model.NewUnauthenticatedError()
	}

	name = s.sanitizer.Clean(name)
	description = s.sanitizer.Clean(description)
	if name == "" {
		return nil, model.NewInvalidRequestError("name は必須です")
	}
	if len(name) > maxNameLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("name は%d文字以内で指定してください", maxNameLength))
	}
	if len(description) > maxDescriptionLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("description は%d文字以内で指定してください", maxDescriptionLength))
	}

	ids := dedup(hwsetIDs)
	if err := s.requireHardwareSets(ctx, ids); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Project{
		ID:              uuid.New().String(),
		Name:            name,
		Description:     description,
		HardwareSetIDs:  ids,
		AuthorizedUsers: []string{creator},
		CreatedBy:       creator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewDuplicateProjectError(name)
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewHardwareSetNotFoundError(strings.Join(ids, ","))
		default:
			return nil, fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
		}
	}

	slog.Info("プロジェクトを作成しました",
		slog.String("project_id", p.ID),
		slog.String("name", p.Name),
		slog.String("created_by", creator),
		slog.Int("hwset_count", len(ids)),
	)

	return p, nil
}

// Get は指定IDのプロジェクトを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	return p, nil
}

// Resolve はIDまたはプロジェクト名からプロジェクトを返す。
// IDを優先し、一致しない場合のみ名前で検索する。
func (s *Service) Resolve(ctx context.Context, ref string) (*model.Project, error) {
	p, err := s.repo.FindByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p != nil {
		return p, nil
	}

	p, err = s.repo.FindByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(ref)
	}
	return p, nil
}

// List は全プロジェクトを、参照先ハードウェアセットの読み取り時点の状態と合わせて返す。
func (s *Service) List(ctx context.Context) ([]model.ProjectView, error) {
	projects, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}

	var allIDs []string
	for _, p := range projects {
		allIDs = append(allIDs, p.HardwareSetIDs...)
	}
	byID, err := s.loadHardwareSets(ctx, dedup(allIDs))
	if err != nil {
		return nil, err
	}

	views := make([]model.ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, buildView(p, byID))
	}
	return views, nil
}

// View は1件のプロジェクトと参照先ハードウェアセットの状態を返す。
// ハードウェアセットは参照の登録順に並ぶ。
func (s *Service) View(ctx context.Context, p *model.Project) (*model.ProjectView, error) {
	hwsets, err := s.ListJoined(ctx, p.HardwareSetIDs)
	if err != nil {
		return nil, err
	}
	v := model.ProjectView{Project: *p, HardwareSets: make([]model.HardwareSet, 0, len(hwsets))}
	for _, h := range hwsets {
		v.HardwareSets = append(v.HardwareSets, *h)
	}
	return &v, nil
}

// ListJoined は指定ハードウェアセットの読み取り時点の状態を引数の順序で返す。
// 存在しないIDは結果に含めない。
func (s *Service) ListJoined(ctx context.Context, hwsetIDs []string) ([]*model.HardwareSet, error) {
	if len(hwsetIDs) == 0 {
		return []*model.HardwareSet{}, nil
	}
	hwsets, err := s.hwsets.ListByIDs(ctx, hwsetIDs)
	if err != nil {
		return nil, fmt.Errorf("ハードウェアセットの取得に失敗しました: %w", err)
	}
	return hwsets, nil
}

// IsAuthorized は指定ユーザーがプロジェクトの承認済みユーザーかどうかを返す。
func (s *Service) IsAuthorized(ctx context.Context, projectID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ok, err := s.repo.IsMember(ctx, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("メンバーの確認に失敗しました: %w", err)
	}
	return ok, nil
}

// AddUser はユーザーを承認済みユーザーに追加する。集合が変化したかを返す。
func (s *Service) AddUser(ctx context.Context, projectID, userID string) (bool, error) {
	changed, err := s.repo.AddMember(ctx, projectID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, model.NewProjectNotFoundError(projectID)
	}
	if err != nil {
		return false, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}
	return changed, nil
}

// RemoveUser はユーザーを承認済みユーザーから削除する。集合が変化したかを返す。
func (s *Service) RemoveUser(ctx context.Context, projectID, userID string) (bool, error) {
	changed, err := s.repo.RemoveMember(ctx, projectID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, model.NewProjectNotFoundError(projectID)
	}
	if err != nil {
		return false, fmt.Errorf("メンバーの削除に失敗しました: %w", err)
	}
	return changed, nil
}

// AddHardwareSets はプロジェクトにハードウェアセット参照を追加する（管理操作）。
// 既存の参照は無視する。
func (s *Service) AddHardwareSets(ctx context.Context, projectID string, hwsetIDs []string, actor string) (*model.ProjectView, error) {
	ids := dedup(hwsetIDs)
	if len(ids) == 0 {
		return nil, model.NewInvalidRequestError("hardware_sets を1件以上指定してください")
	}
	if err := s.requireHardwareSets(ctx, ids); err != nil {
		return nil, err
	}

	if err := s.repo.AddHardwareSets(ctx, projectID, ids); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewProjectNotFoundError(projectID)
		}
		return nil, fmt.Errorf("ハードウェアセット参照の追加に失敗しました: %w", err)
	}

	slog.Info("プロジェクトにハードウェアセットを追加しました",
		slog.String("project_id", projectID),
		slog.Any("hwset_ids", ids),
		slog.String("actor", actor),
	)

	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.View(ctx, p)
}

// requireHardwareSets は全IDのハードウェアセットが存在することを確認する。
func (s *Service) requireHardwareSets(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	byID, err := s.loadHardwareSets(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return model.NewHardwareSetNotFoundError(id)
		}
	}
	return nil
}

func (s *Service) loadHardwareSets(ctx context.Context, ids []string) (map[string]*model.HardwareSet, error) {
	hwsets, err := s.ListJoined(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.HardwareSet, len(hwsets))
	for _, h := range hwsets {
		byID[h.ID] = h
	}
	return byID, nil
}

func buildView(p *model.Project, byID map[string]*model.HardwareSet) model.ProjectView {
	v := model.ProjectView{Project: *p, HardwareSets: make([]model.HardwareSet, 0, len(p.HardwareSetIDs))}
	for _, id := range p.HardwareSetIDs {
		if h, ok := byID[id]; ok {
			v.HardwareSets = append(v.HardwareSets, *h)
		}
	}
	return v
}

// dedup は空文字列と重複を取り除き、最初の出現順を保つ。
func dedup(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
