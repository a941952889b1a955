// Package reservation はチェックイン・チェックアウトを処理する予約エンジンを提供する。
// エンジン自体は状態を持たず、数量の変更はすべてハードウェアセットストアの Adjust に委譲する。
package reservation

import (
	"context"
	"log/slog"

	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/notify"
)

// Operation は予約操作の種類。
type Operation string

const (
	// OpCheckIn はハードウェアをプールへ返却する（Available が増える）。
	OpCheckIn Operation = "checkin"
	// OpCheckOut はハードウェアをプールから持ち出す（Available が減る）。
	OpCheckOut Operation = "checkout"
)

// Registry はプロジェクトの読み取りインターフェース。
type Registry interface {
	Get(ctx context.Context, id string) (*model.Project, error)
}

// Store はハードウェアセットストアのインターフェース。
type Store interface {
	Adjust(ctx context.Context, id string, delta int) (*model.HardwareSet, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.HardwareSet, error)
}

// Request はチェックイン・チェックアウトの要求。
// HardwareSetID にはIDのほか、プロジェクト内で一意なハードウェアセット名も指定できる。
type Request struct {
	ProjectID     string
	HardwareSetID string
	UserID        string
	Quantity      int
}

// Result は成功した操作の結果。HardwareSet は操作直後の状態。
type Result struct {
	Operation   Operation
	ProjectID   string
	HardwareSet model.HardwareSet
	Quantity    int
}

// Engine は予約エンジン。
type Engine struct {
	registry  Registry
	store     Store
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(registry Registry, store Store, publisher notify.Publisher, m metrics.MetricsCollector) *Engine {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Engine{
		registry:  registry,
		store:     store,
		publisher: publisher,
		metrics:   m,
	}
}

// CheckIn は req.Quantity 台をプールへ返却する。
// Available + Quantity が Capacity を超える場合は何も変更せず CapacityViolation を返す。
func (e *Engine) CheckIn(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, OpCheckIn, req)
}

// CheckOut は req.Quantity 台をプールから持ち出す。
// Available が不足する場合は何も変更せず CapacityViolation を返す。
func (e *Engine) CheckOut(ctx context.Context, req Request) (*Result, error) {
	return e.execute(ctx, OpCheckOut, req)
}

// execute は検証を以下の順で行い、最後に1回だけ Adjust を呼ぶ。
//  1. 未認証
//  2. プロジェクト未存在
//  3. メンバー外（数量の検証より先）
//  4. 数量不正、プロジェクトが参照していないハードウェアセット
//  5. 容量範囲外
func (e *Engine) execute(ctx context.Context, op Operation, req Request) (*Result, error) {
	res, err := e.run(ctx, op, req)
	e.record(op, err)
	if err != nil {
		return nil, err
	}

	slog.Info("ハードウェアを"+opLabel(op)+"しました",
		slog.String("project_id", res.ProjectID),
		slog.String("hwset_id", res.HardwareSet.ID),
		slog.String("user_id", req.UserID),
		slog.Int("qty", res.Quantity),
		slog.Int("available", res.HardwareSet.Available),
		slog.Int("capacity", res.HardwareSet.Capacity),
	)

	eventType := model.EventCheckedIn
	if op == OpCheckOut {
		eventType = model.EventCheckedOut
	}
	e.publisher.Publish(ctx, notify.HardwareSetEvent(eventType, &res.HardwareSet, res.ProjectID, req.UserID, res.Quantity))

	return res, nil
}

func (e *Engine) run(ctx context.Context, op Operation, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	p, err := e.registry.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.IsMember(req.UserID) {
		return nil, model.NewNotAuthorizedError(req.UserID, p.Name)
	}

	if req.Quantity <= 0 {
		return nil, model.NewInvalidQuantityError(req.Quantity)
	}
	hwsetID, err := e.resolveHardwareSet(ctx, p, req.HardwareSetID)
	if err != nil {
		return nil, err
	}

	delta := req.Quantity
	if op == OpCheckOut {
		delta = -req.Quantity
	}
	h, err := e.store.Adjust(ctx, hwsetID, delta)
	if err != nil {
		return nil, err
	}

	return &Result{
		Operation:   op,
		ProjectID:   p.ID,
		HardwareSet: *h,
		Quantity:    req.Quantity,
	}, nil
}

// resolveHardwareSet はプロジェクトが参照するハードウェアセットのIDを返す。
// ref がIDとして参照されていない場合、プロジェクト内で名前が一意に一致するものを探す。
func (e *Engine) resolveHardwareSet(ctx context.Context, p *model.Project, ref string) (string, error) {
	if p.HasHardwareSet(ref) {
		return ref, nil
	}
	if ref == "" || len(p.HardwareSetIDs) == 0 {
		return "", model.NewHardwareSetNotLinkedError(ref, p.Name)
	}

	hwsets, err := e.store.ListByIDs(ctx, p.HardwareSetIDs)
	if err != nil {
		return "", err
	}
	var match string
	for _, h := range hwsets {
		if h.Name != ref {
			continue
		}
		if match != "" {
			// 同名のハードウェアセットが複数ある場合は名前では特定しない
			return "", model.NewHardwareSetNotLinkedError(ref, p.Name)
		}
		match = h.ID
	}
	if match == "" {
		return "", model.NewHardwareSetNotLinkedError(ref, p.Name)
	}
	return match, nil
}

func (e *Engine) record(op Operation, err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case err == nil:
		e.metrics.RecordReservation(string(op), metrics.OutcomeSuccess)
	case model.IsKind(err, model.KindCapacityViolation):
		e.metrics.RecordCapacityViolation(string(op))
		e.metrics.RecordReservation(string(op), metrics.OutcomeRejected)
	case model.IsKind(err, model.KindInternal):
		e.metrics.RecordReservation(string(op), metrics.OutcomeError)
	default:
		e.metrics.RecordReservation(string(op), metrics.OutcomeRejected)
	}
}

func opLabel(op Operation) string {
	if op == OpCheckIn {
		return "チェックイン"
	}
	return "チェックアウト"
}
