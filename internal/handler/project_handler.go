package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hwledger/internal/membership"
	"github.com/hitoshi/hwledger/internal/model"
	"github.com/hitoshi/hwledger/internal/reservation"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするレジストリのインターフェース。
type ProjectServiceInterface interface {
	Create(ctx context.Context, name, description string, hwsetIDs []string, creator string) (*model.Project, error)
	Resolve(ctx context.Context, ref string) (*model.Project, error)
	List(ctx context.Context) ([]model.ProjectView, error)
	View(ctx context.Context, p *model.Project) (*model.ProjectView, error)
	AddHardwareSets(ctx context.Context, projectID string, hwsetIDs []string, actor string) (*model.ProjectView, error)
}

// MembershipServiceInterface は参加・離脱のインターフェース。
type MembershipServiceInterface interface {
	Join(ctx context.Context, projectID, userID string) (*membership.Result, error)
	Leave(ctx context.Context, projectID, userID string) (*membership.Result, error)
}

// ReservationEngineInterface はチェックイン・チェックアウトのインターフェース。
type ReservationEngineInterface interface {
	CheckIn(ctx context.Context, req reservation.Request) (*reservation.Result, error)
	CheckOut(ctx context.Context, req reservation.Request) (*reservation.Result, error)
}

// ProjectHandler はプロジェクト・参加・予約のHTTPハンドラー。
// URLの {ref} にはプロジェクトIDまたはプロジェクト名を指定できる。
type ProjectHandler struct {
	projects    ProjectServiceInterface
	memberships MembershipServiceInterface
	engine      ReservationEngineInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(projects ProjectServiceInterface, memberships MembershipServiceInterface, engine ReservationEngineInterface) *ProjectHandler {
	return &ProjectHandler{
		projects:    projects,
		memberships: memberships,
		engine:      engine,
	}
}

type createProjectRequest struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Description  string   `json:"description" validate:"max=2000"`
	HardwareSets []string `json:"hardware_sets" validate:"omitempty,dive,required"`
}

type addHardwareSetsRequest struct {
	HardwareSets []string `json:"hardware_sets" validate:"required,min=1,dive,required"`
}

type quantityRequest struct {
	Quantity int `json:"qty"`
}

// projectHardwareSetResponse はプロジェクトが参照するハードウェアセットの読み取り時点の状態。
type projectHardwareSetResponse struct {
	ID        string `json:"hwset_id"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
}

// projectResponse はプロジェクトのAPIレスポンス。
type projectResponse struct {
	ID              string                       `json:"id"`
	Name            string                       `json:"name"`
	Description     string                       `json:"description"`
	HardwareSets    []projectHardwareSetResponse `json:"hwsets"`
	AuthorizedUsers []string                     `json:"authorized_users"`
	CreatedBy       string                       `json:"created_by"`
	CreatedAt       time.Time                    `json:"created_at"`
}

type membershipResponse struct {
	Message         string   `json:"message"`
	Changed         bool     `json:"changed"`
	AuthorizedUsers []string `json:"authorized_users"`
}

type reservationResponse struct {
	Message   string `json:"message"`
	ID        string `json:"hwset_id"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
	Version   int64  `json:"version"`
}

func toProjectResponse(v *model.ProjectView) projectResponse {
	hwsets := make([]projectHardwareSetResponse, len(v.HardwareSets))
	for i, h := range v.HardwareSets {
		hwsets[i] = projectHardwareSetResponse{
			ID:        h.ID,
			Name:      h.Name,
			Available: h.Available,
			Capacity:  h.Capacity,
		}
	}
	users := v.AuthorizedUsers
	if users == nil {
		users = []string{}
	}
	return projectResponse{
		ID:              v.ID,
		Name:            v.Name,
		Description:     v.Description,
		HardwareSets:    hwsets,
		AuthorizedUsers: users,
		CreatedBy:       v.CreatedBy,
		CreatedAt:       v.CreatedAt,
	}
}

// List は全プロジェクトを返す。
// GET /projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.projects.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]projectResponse, len(views))
	for i := range views {
		resp[i] = toProjectResponse(&views[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はプロジェクトを1件返す。
// GET /projects/{ref}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	v, err := h.projects.View(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(v))
}

// Create はプロジェクトを作成する。作成者は唯一のメンバーとなる。
// POST /projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.projects.Create(r.Context(), req.Name, req.Description, req.HardwareSets, principal.Username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	v, err := h.projects.View(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(v))
}

// AddHardwareSets はプロジェクトにハードウェアセット参照を追加する（管理操作）。
// POST /projects/{ref}/hwsets
func (h *ProjectHandler) AddHardwareSets(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req addHardwareSetsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.projects.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	v, err := h.projects.AddHardwareSets(r.Context(), p.ID, req.HardwareSets, principal.Username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(v))
}

// Join は認証済みユーザーをプロジェクトに参加させる。
// POST /projects/{ref}/join
func (h *ProjectHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, h.memberships.Join, "%s はプロジェクト %s に参加しました。", "%s は既にプロジェクト %s のメンバーです。")
}

// Leave は認証済みユーザーをプロジェクトから離脱させる。
// POST /projects/{ref}/leave
func (h *ProjectHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, h.memberships.Leave, "%s はプロジェクト %s から離脱しました。", "%s はプロジェクト %s のメンバーではありません。")
}

func (h *ProjectHandler) changeMembership(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, projectID, userID string) (*membership.Result, error),
	changedMsg, unchangedMsg string,
) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	p, err := h.projects.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := apply(r.Context(), p.ID, principal.Username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	msg := unchangedMsg
	if res.Changed {
		msg = changedMsg
	}
	writeJSON(w, http.StatusOK, membershipResponse{
		Message:         fmt.Sprintf(msg, principal.Username, res.ProjectName),
		Changed:         res.Changed,
		AuthorizedUsers: res.AuthorizedUsers,
	})
}

// CheckIn はハードウェアをプールへ返却する。
// POST /projects/{ref}/hwsets/{hwset}/checkin
func (h *ProjectHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.reserve(w, r, h.engine.CheckIn, "%s を %d 台チェックインしました。")
}

// CheckOut はハードウェアをプールから持ち出す。
// POST /projects/{ref}/hwsets/{hwset}/checkout
func (h *ProjectHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.reserve(w, r, h.engine.CheckOut, "%s を %d 台チェックアウトしました。")
}

func (h *ProjectHandler) reserve(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, req reservation.Request) (*reservation.Result, error),
	msg string,
) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	// 数量の検証はメンバー確認の後にエンジンが行うため、ここでは形式のみ確認する
	var req quantityRequest
	if err := decodeJSON(r, &req, true); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.projects.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := op(r.Context(), reservation.Request{
		ProjectID:     p.ID,
		HardwareSetID: chi.URLParam(r, "hwset"),
		UserID:        principal.Username,
		Quantity:      req.Quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reservationResponse{
		Message:   fmt.Sprintf(msg, res.HardwareSet.Name, res.Quantity),
		ID:        res.HardwareSet.ID,
		Name:      res.HardwareSet.Name,
		Available: res.HardwareSet.Available,
		Capacity:  res.HardwareSet.Capacity,
		Version:   res.HardwareSet.Version,
	})
}
