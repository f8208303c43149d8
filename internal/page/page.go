// Package page はビューごとの同期コントローラを提供する。
//
// 各ページはマウント時にPageInstanceIDとコンテキストを受け取り、リモートAPIから
// 取得したスナップショットをviewmodel.Storeに保持する。ポーリングループは
// ページのコンテキストに紐づき、Unmountで全て停止する。
package page

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/auth"
	"github.com/hitoshi/socialsync/internal/ingest"
	"github.com/hitoshi/socialsync/internal/metrics"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/reconcile"
	"github.com/hitoshi/socialsync/internal/viewmodel"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

// ページ種別
const (
	KindFeed     = "feed"
	KindProfile  = "profile"
	KindGroup    = "group"
	KindGroups   = "groups"
	KindMessages = "messages"
	KindPolls    = "polls"
	KindUsers    = "users"
)

var (
	// ErrForbidden はログインユーザーに許可されていない操作が要求されたことを示す。
	ErrForbidden = errors.New("operation not permitted for current user")
	// ErrInvalidInput は操作の引数が不正であることを示す。リモートAPIは呼ばない。
	ErrInvalidInput = errors.New("invalid input")
)

// Deps はページが利用するコンポーネント。
type Deps struct {
	API        *api.Client
	Session    *auth.Service
	Ingest     *ingest.Ingestor
	Scheduler  *poller.Scheduler
	Reconciler *reconcile.Reconciler
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger

	ChatInterval    time.Duration
	RequestInterval time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Reconciler == nil {
		d.Reconciler = reconcile.New(d.Logger)
	}
	if d.ChatInterval <= 0 {
		d.ChatInterval = poller.ChatInterval
	}
	if d.RequestInterval <= 0 {
		d.RequestInterval = poller.RequestInterval
	}
	return d
}

// Page はマウント中のページ。
type Page interface {
	ID() string
	Kind() string
	Store() *viewmodel.Store
	Load(ctx context.Context) error
	Mounted() bool
	Unmount()
}

// base は全ページ共通の状態。
type base struct {
	deps   Deps
	kind   string
	page   *poller.Page
	store  *viewmodel.Store
	viewer string
	logger *slog.Logger
}

// newBase はログインユーザーを確定してページをマウントする。
// 未ログインの場合はErrNotLoggedIn。
func newBase(parent context.Context, deps Deps, kind string) (*base, error) {
	deps = deps.withDefaults()
	viewer, err := deps.Session.Username()
	if err != nil {
		return nil, err
	}
	p := deps.Scheduler.Mount(parent)
	b := &base{
		deps:   deps,
		kind:   kind,
		page:   p,
		store:  viewmodel.NewStore(),
		viewer: viewer,
		logger: deps.Logger.With(slog.String("page_id", p.ID), slog.String("page", kind)),
	}
	b.logger.Info("ページをマウントしました")
	return b, nil
}

// ID はPageInstanceIDを返す。
func (b *base) ID() string { return b.page.ID }

// Kind はページ種別を返す。
func (b *base) Kind() string { return b.kind }

// Store はページのビューモデルを返す。
func (b *base) Store() *viewmodel.Store { return b.store }

// Viewer はログインユーザー名を返す。
func (b *base) Viewer() string { return b.viewer }

// Mounted はページがマウント中かを返す。
func (b *base) Mounted() bool { return b.page.Mounted() }

// Unmount はポーリングを全て停止してページを破棄する。
func (b *base) Unmount() {
	if !b.page.Mounted() {
		return
	}
	b.page.Unmount()
	b.logger.Info("ページをアンマウントしました")
}

func (b *base) guard() error {
	if !b.page.Mounted() {
		return model.ErrNotMounted
	}
	return nil
}

// refresh はfetchの結果でkeyを置き換える。アンマウント後に届いた結果は捨てる。
func refresh[T any](ctx context.Context, b *base, key viewmodel.Key, fetch func(ctx context.Context) ([]T, error)) ([]T, error) {
	items, err := fetch(ctx)
	if !b.page.Mounted() {
		return nil, model.ErrNotMounted
	}
	if err != nil {
		b.store.ReportError(key, err)
		b.logger.Warn("取得に失敗しました",
			slog.String("collection", string(key)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	viewmodel.Replace(b.store, key, items)
	return items, nil
}

// refreshValue は単一値版のrefresh。
func refreshValue[T any](ctx context.Context, b *base, key viewmodel.Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	items, err := refresh(ctx, b, key, func(ctx context.Context) ([]T, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return []T{v}, nil
	})
	if err != nil || len(items) == 0 {
		var zero T
		return zero, err
	}
	return items[0], nil
}

// optimistic はpatchを楽観的に適用してからmutateを実行する。
// 失敗時はmatchに一致する要素の変更だけを取り消す。
func optimistic[T any](ctx context.Context, b *base, key viewmodel.Key, match func(T) bool, patch func([]T) []T, mutate func(ctx context.Context) error) error {
	if err := viewmodel.ApplyOptimistic(b.store, key, patch); err != nil {
		return err
	}
	if err := mutate(ctx); err != nil {
		rollbackWhere(b, key, match, err)
		return err
	}
	return nil
}

// rollback はkeyの楽観的変更とフラグを全て取り消す。
func (b *base) rollback(key viewmodel.Key, cause error) {
	b.rolledBack(key, b.store.Rollback(key), cause)
}

// rollbackWhere はkeyのうちmatchに一致する要素の楽観的変更だけを取り消す。
func rollbackWhere[T any](b *base, key viewmodel.Key, match func(T) bool, cause error) {
	b.rolledBack(key, viewmodel.RollbackWhere(b.store, key, match), cause)
}

func (b *base) rolledBack(key viewmodel.Key, reverted bool, cause error) {
	if reverted {
		b.deps.Metrics.RecordOptimisticRollback(string(key))
	}
	b.logger.Warn("更新に失敗したため楽観的な変更を取り消しました",
		slog.String("collection", string(key)),
		slog.String("error", cause.Error()),
	)
}

// poll はページのポーリングループを起動する。
func (b *base) poll(purpose string, interval time.Duration, task poller.Task, opts ...poller.Option) bool {
	return b.page.Start(purpose, interval, task, opts...)
}
