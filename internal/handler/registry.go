package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
)

// ErrUnknownKind は未知のページ種別がマウント要求されたことを示す。
var ErrUnknownKind = errors.New("unknown page kind")

// MountParams はページのマウント引数。
type MountParams struct {
	Target string `json:"target,omitempty"` // profileページの対象ユーザー
	Group  string `json:"group,omitempty"`  // groupページのグループ名
}

// Factory は種別とパラメータからページをマウントする。
type Factory func(ctx context.Context, kind string, params MountParams) (page.Page, error)

// NewPageFactory はpage.Depsを使うFactoryを返す。
func NewPageFactory(deps page.Deps) Factory {
	return func(ctx context.Context, kind string, params MountParams) (page.Page, error) {
		switch kind {
		case page.KindFeed:
			return page.NewFeedPage(ctx, deps)
		case page.KindProfile:
			return page.NewProfilePage(ctx, deps, params.Target)
		case page.KindGroup:
			return page.NewGroupPage(ctx, deps, params.Group)
		case page.KindGroups:
			return page.NewGroupsPage(ctx, deps)
		case page.KindMessages:
			return page.NewMessagesPage(ctx, deps)
		case page.KindPolls:
			return page.NewPollsPage(ctx, deps)
		case page.KindUsers:
			return page.NewUsersPage(ctx, deps)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
	}
}

type mounted struct {
	page       page.Page
	lastAccess time.Time
}

// Registry はブリッジ経由でマウントされたページを保持する。
// ページはリクエストではなくRegistryのコンテキストに紐づくため、
// レスポンス後もポーリングを続ける。
type Registry struct {
	ctx       context.Context
	factory   Factory
	logger    *slog.Logger
	now       func() time.Time
	onUnmount []func(id string)

	mu    sync.Mutex
	pages map[string]*mounted
}

// NewRegistry はRegistryを生成する。ctxがキャンセルされると全ページのポーリングが止まる。
func NewRegistry(ctx context.Context, factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:     ctx,
		factory: factory,
		logger:  logger,
		now:     time.Now,
		pages:   make(map[string]*mounted),
	}
}

// OnUnmount はページがアンマウントされた際に呼ばれるコールバックを登録する。
func (r *Registry) OnUnmount(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnmount = append(r.onUnmount, fn)
}

// Mount はページをマウントして初回読み込みを行う。
// 読み込みの失敗はコレクションのエラーとしてスナップショットに残し、ページは保持する。
// 401の場合のみページを破棄してエラーを返す。
func (r *Registry) Mount(ctx context.Context, kind string, params MountParams) (page.Page, error) {
	p, err := r.factory(r.ctx, kind, params)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pages[p.ID()] = &mounted{page: p, lastAccess: r.now()}
	r.mu.Unlock()

	if err := p.Load(ctx); err != nil {
		if model.CategoryOf(err) == model.CategoryAuth || errors.Is(err, model.ErrNotMounted) {
			r.Unmount(p.ID())
			return nil, err
		}
		r.logger.Warn("ページの初回読み込みに失敗しました",
			slog.String("page_id", p.ID()),
			slog.String("page", kind),
			slog.String("error", err.Error()),
		)
	}
	return p, nil
}

// Get はマウント中のページを返し、最終アクセス時刻を更新する。
func (r *Registry) Get(id string) (page.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.pages[id]
	if !ok {
		return nil, false
	}
	if !m.page.Mounted() {
		delete(r.pages, id)
		return nil, false
	}
	m.lastAccess = r.now()
	return m.page, true
}

// Unmount はページをアンマウントする。存在しない場合はfalse。
func (r *Registry) Unmount(id string) bool {
	r.mu.Lock()
	m, ok := r.pages[id]
	delete(r.pages, id)
	callbacks := append([]func(string){}, r.onUnmount...)
	r.mu.Unlock()

	if !ok {
		return false
	}
	m.page.Unmount()
	for _, fn := range callbacks {
		fn(id)
	}
	return true
}

// UnmountAll は全ページをアンマウントし、その件数を返す。
// ログアウトとセッション破棄の際に呼ばれる。
func (r *Registry) UnmountAll() int {
	n := 0
	for _, id := range r.IDs() {
		if r.Unmount(id) {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("全ページをアンマウントしました", slog.Int("count", n))
	}
	return n
}

// ReapIdle はmaxIdle以上アクセスの無いページをアンマウントし、その件数を返す。
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var idle []string
	for id, m := range r.pages {
		if m.lastAccess.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range idle {
		if r.Unmount(id) {
			n++
		}
	}
	return n
}

// IDs はマウント中のページIDを昇順で返す。
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pages))
	for id := range r.pages {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Count はマウント中のページ数を返す。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}
