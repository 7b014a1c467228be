package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vendsite/internal/machine"
	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

// --- モック定義 ---

type mockMachineService struct {
	listFn         func(ctx context.Context) ([]model.Machine, error)
	getFn          func(ctx context.Context, id string) (*model.Machine, error)
	createFn       func(ctx context.Context, actor *model.AdminUser, in machine.Input) (*model.Machine, error)
	updateFn       func(ctx context.Context, actor *model.AdminUser, id string, in machine.Input) (*model.Machine, error)
	setPublishedFn func(ctx context.Context, actor *model.AdminUser, id string, published bool) (*model.Machine, error)
	deleteFn       func(ctx context.Context, actor *model.AdminUser, id string) error
}

func (m *mockMachineService) List(ctx context.Context) ([]model.Machine, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []model.Machine{}, nil
}

func (m *mockMachineService) Get(ctx context.Context, id string) (*model.Machine, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewMachineNotFoundError(id)
}

func (m *mockMachineService) Create(ctx context.Context, actor *model.AdminUser, in machine.Input) (*model.Machine, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return &model.Machine{ID: "new", Slug: in.Slug, Name: in.Name}, nil
}

func (m *mockMachineService) Update(ctx context.Context, actor *model.AdminUser, id string, in machine.Input) (*model.Machine, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, id, in)
	}
	return &model.Machine{ID: id, Slug: in.Slug}, nil
}

func (m *mockMachineService) SetPublished(ctx context.Context, actor *model.AdminUser, id string, published bool) (*model.Machine, error) {
	if m.setPublishedFn != nil {
		return m.setPublishedFn(ctx, actor, id, published)
	}
	return &model.Machine{ID: id, IsActive: published}, nil
}

func (m *mockMachineService) Delete(ctx context.Context, actor *model.AdminUser, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, id)
	}
	return nil
}

// adminMachineRouter は認証済みの管理者をコンテキストに入れた状態でハンドラーを呼ぶ。
func adminMachineRouter(svc MachineServiceInterface, admin *model.AdminUser) http.Handler {
	h := NewAdminMachineHandler(svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithAdmin(r.Context(), admin)))
		})
	})
	r.Get("/machines", h.List)
	r.Post("/machines", h.Create)
	r.Get("/machines/{id}", h.Get)
	r.Put("/machines/{id}", h.Update)
	r.Delete("/machines/{id}", h.Delete)
	r.Post("/machines/{id}/publish", h.Publish)
	return r
}

// --- テスト ---

func TestAdminMachineHandler_CreatePassesActor(t *testing.T) {
	var gotActor *model.AdminUser
	var gotInput machine.Input
	r := adminMachineRouter(&mockMachineService{
		createFn: func(ctx context.Context, actor *model.AdminUser, in machine.Input) (*model.Machine, error) {
			gotActor, gotInput = actor, in
			return &model.Machine{ID: "m-new", Slug: in.Slug}, nil
		},
	}, testAdmin)

	body := `{"slug":"mini-cooler","name":"ミニクーラー","category":"refrigerated","related_slugs":["combo-cooler-pro"]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/machines", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotActor == nil || gotActor.ID != testAdmin.ID {
		t.Errorf("actor = %+v", gotActor)
	}
	if gotInput.Slug != "mini-cooler" || gotInput.Category != model.CategoryRefrigerated || len(gotInput.RelatedSlugs) != 1 {
		t.Errorf("input = %+v", gotInput)
	}
}

func TestAdminMachineHandler_ServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", model.NewValidationError("slug", "不正です"), http.StatusBadRequest},
		{"slug taken", model.NewMachineSlugTakenError("combo-cooler-pro"), http.StatusConflict},
		{"wrapped slug taken", fmt.Errorf("機種の更新に失敗しました: %w", model.NewMachineSlugTakenError("combo-cooler-pro")), http.StatusConflict},
		{"not found", model.NewMachineNotFoundError("x"), http.StatusNotFound},
		{"wrapped internal", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := adminMachineRouter(&mockMachineService{
				updateFn: func(ctx context.Context, actor *model.AdminUser, id string, in machine.Input) (*model.Machine, error) {
					return nil, tt.err
				},
			}, testAdmin)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/machines/m1", strings.NewReader(`{"slug":"x"}`)))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeAPIError(t, w)
			if tt.wantStatus == http.StatusInternalServerError {
				if body.Code != "INTERNAL_ERROR" || strings.Contains(body.Message, "db down") {
					t.Errorf("body = %+v", body)
				}
			}
		})
	}
}

func TestAdminMachineHandler_Publish(t *testing.T) {
	var got *bool
	r := adminMachineRouter(&mockMachineService{
		setPublishedFn: func(ctx context.Context, actor *model.AdminUser, id string, published bool) (*model.Machine, error) {
			got = &published
			return &model.Machine{ID: id, IsActive: published}, nil
		},
	}, testAdmin)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/machines/m1/publish", strings.NewReader(`{"published":false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil || *got {
		t.Errorf("published = %v, want false", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/machines/m1/publish", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAdminMachineHandler_Delete(t *testing.T) {
	var gotID string
	r := adminMachineRouter(&mockMachineService{
		deleteFn: func(ctx context.Context, actor *model.AdminUser, id string) error {
			gotID = id
			return nil
		},
	}, testAdmin)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/machines/m9", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != "m9" {
		t.Errorf("id = %q, want m9", gotID)
	}
}

func TestAdminMachineHandler_GetNotFound(t *testing.T) {
	r := adminMachineRouter(&mockMachineService{}, testAdmin)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/machines/unknown", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
