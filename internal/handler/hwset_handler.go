package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hwledger/internal/model"
)

// HardwareSetServiceInterface はハードウェアセットハンドラーが必要とするサービスインターフェース。
type HardwareSetServiceInterface interface {
	Create(ctx context.Context, name string, capacity int, initialStock model.InitialStock) (*model.HardwareSet, error)
	Get(ctx context.Context, id string) (*model.HardwareSet, error)
	List(ctx context.Context) ([]*model.HardwareSet, error)
	SetCapacity(ctx context.Context, id string, capacity int, actor string) (*model.HardwareSet, error)
}

// HardwareSetHandler はハードウェアセットのHTTPハンドラー。
type HardwareSetHandler struct {
	service      HardwareSetServiceInterface
	initialStock model.InitialStock
}

// NewHardwareSetHandler はHardwareSetHandlerを生成する。
// initialStock は作成リクエストで initial_stock が省略された場合に使用する。
func NewHardwareSetHandler(service HardwareSetServiceInterface, initialStock model.InitialStock) *HardwareSetHandler {
	return &HardwareSetHandler{service: service, initialStock: initialStock}
}

type createHardwareSetRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	Capacity     *int   `json:"capacity" validate:"required"`
	InitialStock string `json:"initial_stock"`
}

type updateCapacityRequest struct {
	Capacity *int `json:"capacity" validate:"required"`
}

// hardwareSetResponse はハードウェアセットのAPIレスポンス。
type hardwareSetResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"capacity"`
	Available int       `json:"available"`
	InUse     int       `json:"in_use"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// catalogEntryResponse はプロジェクト画面向けのハードウェアセット一覧の要素。
// _id と hwset_id はどちらもハードウェアセットIDで、既存クライアントとの互換のために両方返す。
type catalogEntryResponse struct {
	LegacyID  string `json:"_id"`
	ID        string `json:"hwset_id"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
}

func toHardwareSetResponse(h *model.HardwareSet) hardwareSetResponse {
	return hardwareSetResponse{
		ID:        h.ID,
		Name:      h.Name,
		Capacity:  h.Capacity,
		Available: h.Available,
		InUse:     h.InUse(),
		Version:   h.Version,
		UpdatedAt: h.UpdatedAt,
	}
}

// List は全ハードウェアセットを返す。
// GET /hwsets
func (h *HardwareSetHandler) List(w http.ResponseWriter, r *http.Request) {
	hwsets, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]hardwareSetResponse, len(hwsets))
	for i, hs := range hwsets {
		resp[i] = toHardwareSetResponse(hs)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Catalog は全ハードウェアセットをプロジェクト作成画面向けの形式で返す。
// GET /projects/hwsets
func (h *HardwareSetHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	hwsets, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]catalogEntryResponse, len(hwsets))
	for i, hs := range hwsets {
		resp[i] = catalogEntryResponse{
			LegacyID:  hs.ID,
			ID:        hs.ID,
			Name:      hs.Name,
			Capacity:  hs.Capacity,
			Available: hs.Available,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はハードウェアセットを1件返す。
// GET /hwsets/{id}
func (h *HardwareSetHandler) Get(w http.ResponseWriter, r *http.Request) {
	hs, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHardwareSetResponse(hs))
}

// Create はハードウェアセットを作成する（管理操作）。
// POST /hwsets
func (h *HardwareSetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createHardwareSetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	stock := h.initialStock
	if req.InitialStock != "" {
		stock = model.InitialStock(req.InitialStock)
	}

	hs, err := h.service.Create(r.Context(), req.Name, *req.Capacity, stock)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHardwareSetResponse(hs))
}

// UpdateCapacity はハードウェアセットの容量を変更する（管理操作）。
// PUT /hwsets/{id}/capacity
func (h *HardwareSetHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req updateCapacityRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	hs, err := h.service.SetCapacity(r.Context(), chi.URLParam(r, "id"), *req.Capacity, principal.Username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHardwareSetResponse(hs))
}
