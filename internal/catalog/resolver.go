// Package catalog は公開カタログの読み取りを提供する。
// ストアから取得できない場合は埋め込みスナップショットへ切り替え、呼び出し側にエラーを返さない。
package catalog

import (
	"context"
	"log/slog"

	"github.com/hitoshi/vendsite/internal/model"
)

// フォールバック理由
const (
	ReasonUnconfigured = "unconfigured"
	ReasonError        = "error"
	ReasonEmpty        = "empty"
)

// 操作名（ログとメトリクスのラベル）
const (
	OpGetAll        = "get_all"
	OpGetByKey      = "get_by_key"
	OpGetByCategory = "get_by_category"
)

// MachineStore はカタログの読み取り元。repository.MachineRepositoryが満たす。
type MachineStore interface {
	ListActive(ctx context.Context) ([]model.Machine, error)
	FindActiveBySlug(ctx context.Context, slug string) (*model.Machine, error)
	ListActiveByCategory(ctx context.Context, category model.Category) ([]model.Machine, error)
}

// FallbackPolicy はストアの結果が空の場合にスナップショットへ切り替えるかを表す。
type FallbackPolicy int

const (
	// FallbackOnEmptyOrError はエラーと空結果の両方でスナップショットを返す。
	FallbackOnEmptyOrError FallbackPolicy = iota
	// FallbackOnErrorOnly はエラー時のみスナップショットを返し、空結果はそのまま返す。
	FallbackOnErrorOnly
)

// Metrics はフォールバック回数を記録する。
type Metrics interface {
	RecordCatalogFallback(operation, reason string)
}

type nopMetrics struct{}

func (nopMetrics) RecordCatalogFallback(string, string) {}

// Config はResolverの設定。
type Config struct {
	Policy  FallbackPolicy
	Logger  *slog.Logger
	Metrics Metrics
}

// Resolver はストアを優先し、失敗時にスナップショットを返すカタログ読み取り器。
// 呼び出しごとに状態を持たないため、複数goroutineから同時に使える。
type Resolver struct {
	store    MachineStore
	snapshot *Snapshot
	policy   FallbackPolicy
	logger   *slog.Logger
	metrics  Metrics
}

// NewResolver はResolverを生成する。storeがnilの場合は常にスナップショットを返す。
func NewResolver(store MachineStore, snapshot *Snapshot, cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if snapshot == nil {
		snapshot = &Snapshot{bySlug: map[string]int{}}
	}
	return &Resolver{
		store:    store,
		snapshot: snapshot,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// StoreConfigured はストアが設定されているかを返す。
func (r *Resolver) StoreConfigured() bool {
	return r.store != nil
}

// GetAll は公開中の全機種を表示順で返す。
func (r *Resolver) GetAll(ctx context.Context) []model.Machine {
	if r.store == nil {
		r.fallback(ctx, OpGetAll, ReasonUnconfigured)
		return r.snapshot.All()
	}

	machines, err := r.store.ListActive(ctx)
	if err != nil {
		r.fallback(ctx, OpGetAll, ReasonError, slog.Any("error", err))
		return r.snapshot.All()
	}
	if len(machines) == 0 && r.policy == FallbackOnEmptyOrError {
		r.fallback(ctx, OpGetAll, ReasonEmpty)
		return r.snapshot.All()
	}
	return normalize(machines)
}

// GetByKey はスラッグで機種を1件返す。どちらの取得元にも存在しない場合はnilを返す。
func (r *Resolver) GetByKey(ctx context.Context, slug string) *model.Machine {
	if slug == "" {
		return nil
	}
	if r.store == nil {
		r.fallback(ctx, OpGetByKey, ReasonUnconfigured, slog.String("slug", slug))
		return r.snapshot.BySlug(slug)
	}

	m, err := r.store.FindActiveBySlug(ctx, slug)
	if err != nil {
		r.fallback(ctx, OpGetByKey, ReasonError, slog.String("slug", slug), slog.Any("error", err))
		return r.snapshot.BySlug(slug)
	}
	if m == nil {
		if r.policy == FallbackOnEmptyOrError {
			r.fallback(ctx, OpGetByKey, ReasonEmpty, slog.String("slug", slug))
			return r.snapshot.BySlug(slug)
		}
		return nil
	}
	m.SortImages()
	return m
}

// GetByCategory は指定カテゴリの公開中機種を表示順で返す。
// 未定義のカテゴリはストアに問い合わせず空スライスを返す。
func (r *Resolver) GetByCategory(ctx context.Context, category model.Category) []model.Machine {
	if !category.Valid() {
		return []model.Machine{}
	}
	attr := slog.String("category", string(category))
	if r.store == nil {
		r.fallback(ctx, OpGetByCategory, ReasonUnconfigured, attr)
		return r.snapshot.ByCategory(category)
	}

	machines, err := r.store.ListActiveByCategory(ctx, category)
	if err != nil {
		r.fallback(ctx, OpGetByCategory, ReasonError, attr, slog.Any("error", err))
		return r.snapshot.ByCategory(category)
	}
	if len(machines) == 0 && r.policy == FallbackOnEmptyOrError {
		r.fallback(ctx, OpGetByCategory, ReasonEmpty, attr)
		return r.snapshot.ByCategory(category)
	}
	return normalize(machines)
}

// fallback は1回の呼び出しにつき1行だけWARNログを出力する。
func (r *Resolver) fallback(ctx context.Context, operation, reason string, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("operation", operation),
		slog.String("reason", reason),
	}, attrs...)
	r.logger.LogAttrs(ctx, slog.LevelWarn, "catalog fallback", all...)
	r.metrics.RecordCatalogFallback(operation, reason)
}

func normalize(machines []model.Machine) []model.Machine {
	if machines == nil {
		return []model.Machine{}
	}
	for i := range machines {
		machines[i].SortImages()
	}
	model.SortMachines(machines)
	return machines
}
