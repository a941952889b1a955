// Package membership はプロジェクトへの参加・離脱を扱う。
// 参加・離脱はいずれも冪等で、離脱時に保有ハードウェアは確認しない。
package membership

import (
	"context"
	"log/slog"

	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/notify"
)

const (
	opJoin  = "join"
	opLeave = "leave"
)

// Registry はメンバー集合を管理するプロジェクトレジストリのインターフェース。
type Registry interface {
	Get(ctx context.Context, id string) (*model.Project, error)
	AddUser(ctx context.Context, projectID, userID string) (bool, error)
	RemoveUser(ctx context.Context, projectID, userID string) (bool, error)
}

// Result は参加・離脱の結果。
type Result struct {
	ProjectID       string
	ProjectName     string
	Changed         bool // メンバー集合が実際に変化したか
	AuthorizedUsers []string
}

// Service はメンバー管理のサービス層。
type Service struct {
	registry  Registry
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(registry Registry, publisher notify.Publisher, m metrics.MetricsCollector) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		registry:  registry,
		publisher: publisher,
		metrics:   m,
	}
}

// Join はユーザーをプロジェクトの承認済みユーザーに追加する。既に参加済みでも成功する。
func (s *Service) Join(ctx context.Context, projectID, userID string) (*Result, error) {
	return s.apply(ctx, opJoin, projectID, userID, s.registry.AddUser, model.EventMemberJoined)
}

// Leave はユーザーをプロジェクトの承認済みユーザーから削除する。未参加でも成功する。
func (s *Service) Leave(ctx context.Context, projectID, userID string) (*Result, error) {
	return s.apply(ctx, opLeave, projectID, userID, s.registry.RemoveUser, model.EventMemberLeft)
}

func (s *Service) apply(
	ctx context.Context,
	op, projectID, userID string,
	mutate func(ctx context.Context, projectID, userID string) (bool, error),
	eventType model.EventType,
) (*Result, error) {
	if userID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	changed, err := mutate(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordMembershipChange(op, changed)
	}
	if changed {
		slog.Info("プロジェクトのメンバーを変更しました",
			slog.String("operation", op),
			slog.String("project_id", projectID),
			slog.String("user_id", userID),
		)
		s.publisher.Publish(ctx, notify.MembershipEvent(eventType, projectID, userID))
	}

	return &Result{
		ProjectID:       p.ID,
		ProjectName:     p.Name,
		Changed:         changed,
		AuthorizedUsers: p.AuthorizedUsers,
	}, nil
}
