package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hwledger/internal/model"
)

// HardwareSetEvent は変更後のハードウェアセットの状態からイベントを組み立てる。
func HardwareSetEvent(eventType model.EventType, h *model.HardwareSet, projectID, actor string, qty int) model.LedgerEvent {
	return model.LedgerEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		HardwareSetID: h.ID,
		ProjectID:     projectID,
		Actor:         actor,
		Quantity:      qty,
		Available:     h.Available,
		Capacity:      h.Capacity,
		Version:       h.Version,
		OccurredAt:    time.Now().UTC(),
	}
}

// MembershipEvent はメンバー参加・離脱のイベントを組み立てる。
func MembershipEvent(eventType model.EventType, projectID, username string) model.LedgerEvent {
	return model.LedgerEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		ProjectID:  projectID,
		Actor:      username,
		OccurredAt: time.Now().UTC(),
	}
}
