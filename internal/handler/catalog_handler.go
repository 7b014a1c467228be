package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

// publicCacheControl は公開カタログのレスポンスに付与するキャッシュ指定。
const publicCacheControl = "public, max-age=60"

// CatalogServiceInterface は公開カタログハンドラーが必要とするサービスインターフェース。
// catalog.Resolverが満たす。いずれのメソッドもエラーを返さない。
type CatalogServiceInterface interface {
	GetAll(ctx context.Context) []model.Machine
	GetByKey(ctx context.Context, slug string) *model.Machine
	GetByCategory(ctx context.Context, category model.Category) []model.Machine
}

// CatalogHandler は公開カタログのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// machineListResponse は機種一覧のAPIレスポンス。
type machineListResponse struct {
	Machines []model.Machine `json:"machines"`
	Count    int             `json:"count"`
}

// ListMachines は公開中の全機種を返す。
// GET /api/machines
func (h *CatalogHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines := h.service.GetAll(r.Context())
	writeCatalogJSON(w, machineListResponse{Machines: machines, Count: len(machines)})
}

// GetMachine はスラッグで機種を1件返す。
// GET /api/machines/{slug}
func (h *CatalogHandler) GetMachine(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	m := h.service.GetByKey(r.Context(), slug)
	if m == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewMachineNotFoundError(slug))
		return
	}
	writeCatalogJSON(w, m)
}

// ListByCategory はカテゴリ内の公開中の機種を返す。
// GET /api/machines/category/{category}
func (h *CatalogHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	category := model.Category(chi.URLParam(r, "category"))
	if !category.Valid() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidCategoryError(string(category)))
		return
	}
	machines := h.service.GetByCategory(r.Context(), category)
	writeCatalogJSON(w, machineListResponse{Machines: machines, Count: len(machines)})
}

func writeCatalogJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Cache-Control", publicCacheControl)
	middleware.WriteJSON(w, http.StatusOK, v)
}
