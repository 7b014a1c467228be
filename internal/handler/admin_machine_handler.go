package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vendsite/internal/machine"
	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

// MachineServiceInterface は機種管理ハンドラーが必要とするサービスインターフェース。
type MachineServiceInterface interface {
	List(ctx context.Context) ([]model.Machine, error)
	Get(ctx context.Context, id string) (*model.Machine, error)
	Create(ctx context.Context, actor *model.AdminUser, in machine.Input) (*model.Machine, error)
	Update(ctx context.Context, actor *model.AdminUser, id string, in machine.Input) (*model.Machine, error)
	SetPublished(ctx context.Context, actor *model.AdminUser, id string, published bool) (*model.Machine, error)
	Delete(ctx context.Context, actor *model.AdminUser, id string) error
}

// AdminMachineHandler は管理画面の機種管理HTTPハンドラー。
type AdminMachineHandler struct {
	service MachineServiceInterface
}

// NewAdminMachineHandler はAdminMachineHandlerを生成する。
func NewAdminMachineHandler(service MachineServiceInterface) *AdminMachineHandler {
	return &AdminMachineHandler{service: service}
}

// publishRequest は公開状態切り替えリクエストのボディ。
type publishRequest struct {
	Published *bool `json:"published"`
}

// List は非公開を含む全機種を返す。
// GET /api/admin/machines
func (h *AdminMachineHandler) List(w http.ResponseWriter, r *http.Request) {
	machines, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, machineListResponse{Machines: machines, Count: len(machines)})
}

// Get は機種を1件返す。
// GET /api/admin/machines/{id}
func (h *AdminMachineHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}

// Create は機種を登録する。
// POST /api/admin/machines
func (h *AdminMachineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in machine.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.service.Create(r.Context(), middleware.AdminFromContext(r.Context()), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, m)
}

// Update は機種を更新する。
// PUT /api/admin/machines/{id}
func (h *AdminMachineHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in machine.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.service.Update(r.Context(), middleware.AdminFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}

// Publish は機種の公開状態を切り替える。
// POST /api/admin/machines/{id}/publish
func (h *AdminMachineHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Published == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("published は必須です"))
		return
	}
	m, err := h.service.SetPublished(r.Context(), middleware.AdminFromContext(r.Context()), chi.URLParam(r, "id"), *req.Published)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}

// Delete は機種を削除する。
// DELETE /api/admin/machines/{id}
func (h *AdminMachineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.AdminFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
