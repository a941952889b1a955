package model

import "time"

// EventType は台帳イベントの種類を表す。
type EventType string

const (
	EventHardwareSetCreated EventType = "hwset.created"
	EventCapacityChanged    EventType = "hwset.capacity_changed"
	EventCheckedIn          EventType = "hwset.checked_in"
	EventCheckedOut         EventType = "hwset.checked_out"
	EventMemberJoined       EventType = "project.member_joined"
	EventMemberLeft         EventType = "project.member_left"
)

// LedgerEvent は台帳の変更通知。
// ハードウェアセット関連のイベントでは変更後の Available/Capacity/Version を含む。
type LedgerEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	HardwareSetID string    `json:"hwset_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Quantity      int       `json:"qty,omitempty"`
	Available     int       `json:"available"`
	Capacity      int       `json:"capacity"`
	Version       int64     `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
}
