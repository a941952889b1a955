// Package hwset はハードウェアセット（容量固定の物理ハードウェアのプール）のドメインロジックを提供する。
// Available を変更する唯一の経路は Adjust で、範囲検査と更新はリポジトリが1ステップで行う。
package hwset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/notify"
	"github.com/hitoshi/hwledger/internal/repository"
)

// maxNameLength はハードウェアセット名の最大長。
const maxNameLength = 255

// Service はハードウェアセットのサービス層。
type Service struct {
	repo      repository.HardwareSetRepository
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// publisher と m はnilでもよい。
func NewService(repo repository.HardwareSetRepository, publisher notify.Publisher, m metrics.MetricsCollector) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
	}
}

// Create はハードウェアセットを作成する。
// Available の初期値は initialStock に従う（empty: 0、full: capacity）。
func (s *Service) Create(ctx context.Context, name string, capacity int, initialStock model.InitialStock) (*model.HardwareSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewInvalidRequestError("name は必須です")
	}
	if len(name) > maxNameLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("name は%d文字以内で指定してください", maxNameLength))
	}
	if capacity < 0 || capacity > model.MaxCapacity {
		return nil, model.NewInvalidCapacityError(capacity)
	}
	stock, ok := model.ParseInitialStock(string(initialStock))
	if !ok {
		return nil, model.NewInvalidInitialStockError(string(initialStock))
	}

	now := time.Now()
	h := &model.HardwareSet{
		ID:        uuid.New().String(),
		Name:      name,
		Capacity:  capacity,
		Available: stock.InitialAvailable(capacity),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("ハードウェアセットの作成に失敗しました: %w", err)
	}

	slog.Info("ハードウェアセットを作成しました",
		slog.String("hwset_id", h.ID),
		slog.String("name", h.Name),
		slog.Int("capacity", h.Capacity),
		slog.Int("available", h.Available),
	)
	s.observe(h)
	s.publisher.Publish(ctx, notify.HardwareSetEvent(model.EventHardwareSetCreated, h, "", "", 0))

	return h, nil
}

// Get は指定IDのハードウェアセットを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.HardwareSet, error) {
	h, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ハードウェアセットの取得に失敗しました: %w", err)
	}
	if h == nil {
		return nil, model.NewHardwareSetNotFoundError(id)
	}
	return h, nil
}

// List は全ハードウェアセットの読み取り時点のスナップショットを返す。
func (s *Service) List(ctx context.Context) ([]*model.HardwareSet, error) {
	hwsets, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ハードウェアセット一覧の取得に失敗しました: %w", err)
	}
	return hwsets, nil
}

// ListByIDs は指定IDのハードウェアセットを引数の順序で返す。存在しないIDは含まれない。
func (s *Service) ListByIDs(ctx context.Context, ids []string) ([]*model.HardwareSet, error) {
	if len(ids) == 0 {
		return []*model.HardwareSet{}, nil
	}
	hwsets, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ハードウェアセットの一括取得に失敗しました: %w", err)
	}
	return hwsets, nil
}

// Adjust は Available に delta を加算する。
// 結果が [0, Capacity] を外れる場合は何も変更せず CapacityViolation を返す。
func (s *Service) Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error) {
	h, err := s.repo.Adjust(ctx, id, delta)
	if err != nil {
		var oob *repository.OutOfBoundsError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewHardwareSetNotFoundError(id)
		case errors.As(err, &oob):
			cur := oob.Current
			if delta > 0 {
				return nil, model.NewCapacityExceededError(cur.Name, delta, cur.Available, cur.Capacity)
			}
			return nil, model.NewInsufficientUnitsError(cur.Name, -delta, cur.Available)
		default:
			return nil, fmt.Errorf("利用可能台数の更新に失敗しました: %w", err)
		}
	}

	s.observe(h)
	return h, nil
}

// SetCapacity は容量を変更する。Available は変更しない。
// 新しい容量が現在の Available を下回る場合は CapacityViolation を返す。
func (s *Service) SetCapacity(ctx context.Context, id string, capacity int, actor string) (*model.HardwareSet, error) {
	if capacity < 0 || capacity > model.MaxCapacity {
		return nil, model.NewInvalidCapacityError(capacity)
	}

	h, err := s.repo.UpdateCapacity(ctx, id, capacity)
	if err != nil {
		var oob *repository.OutOfBoundsError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewHardwareSetNotFoundError(id)
		case errors.As(err, &oob):
			return nil, model.NewCapacityBelowAvailableError(capacity, oob.Current.Available)
		default:
			return nil, fmt.Errorf("容量の更新に失敗しました: %w", err)
		}
	}

	slog.Info("ハードウェアセットの容量を変更しました",
		slog.String("hwset_id", h.ID),
		slog.Int("capacity", h.Capacity),
		slog.Int("available", h.Available),
		slog.String("actor", actor),
	)
	s.observe(h)
	s.publisher.Publish(ctx, notify.HardwareSetEvent(model.EventCapacityChanged, h, "", actor, 0))

	return h, nil
}

func (s *Service) observe(h *model.HardwareSet) {
	if s.metrics != nil {
		s.metrics.SetHardwareSetLevels(h.ID, h.Name, h.Available, h.Capacity)
	}
}
