package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/vendsite/internal/lead"
	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

// LeadServiceInterface は見込み客ハンドラーが必要とするサービスインターフェース。
type LeadServiceInterface interface {
	Submit(ctx context.Context, in lead.Input) (*model.Lead, error)
	List(ctx context.Context, limit int) ([]model.Lead, error)
}

// LeadHandler は見込み客のHTTPハンドラー。
type LeadHandler struct {
	service LeadServiceInterface
}

// NewLeadHandler はLeadHandlerを生成する。
func NewLeadHandler(service LeadServiceInterface) *LeadHandler {
	return &LeadHandler{service: service}
}

type leadCreatedResponse struct {
	ID string `json:"id"`
}

type leadListResponse struct {
	Leads []model.Lead `json:"leads"`
	Count int          `json:"count"`
}

// Submit は公開フォームからの問い合わせを受け付ける。
// POST /api/leads
func (h *LeadHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in lead.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	l, err := h.service.Submit(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, leadCreatedResponse{ID: l.ID})
}

// List は新しい順に見込み客を返す。
// GET /api/admin/leads?limit=50
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit は整数で指定してください"))
			return
		}
		limit = n
	}

	leads, err := h.service.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, leadListResponse{Leads: leads, Count: len(leads)})
}
