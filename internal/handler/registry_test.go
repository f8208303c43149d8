package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// stubPage はRegistryのテスト用のpage.Page実装。
type stubPage struct {
	id      string
	kind    string
	store   *viewmodel.Store
	loadErr error

	mu       sync.Mutex
	unmounts int
}

func (p *stubPage) ID() string                     { return p.id }
func (p *stubPage) Kind() string                   { return p.kind }
func (p *stubPage) Store() *viewmodel.Store        { return p.store }
func (p *stubPage) Load(ctx context.Context) error { return p.loadErr }

func (p *stubPage) Mounted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmounts == 0
}

func (p *stubPage) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unmounts++
}

type stubFactory struct {
	next    int
	loadErr error
	pages   []*stubPage
}

func (f *stubFactory) factory(_ context.Context, kind string, _ MountParams) (page.Page, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnknownKind)
	}
	f.next++
	p := &stubPage{id: fmt.Sprintf("page-%d", f.next), kind: kind, store: viewmodel.NewStore(), loadErr: f.loadErr}
	f.pages = append(f.pages, p)
	return p, nil
}

func newStubRegistry(t *testing.T, f *stubFactory) (*Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewRegistry(context.Background(), f.factory, newTestLogger(&buf)), &buf
}

func TestRegistry_MountGetUnmount(t *testing.T) {
	f := &stubFactory{}
	r, _ := newStubRegistry(t, f)

	var unmounted []string
	r.OnUnmount(func(id string) { unmounted = append(unmounted, id) })

	p, err := r.Mount(context.Background(), "feed", MountParams{})
	if err != nil {
		t.Fatalf("Mount() がエラーを返した: %v", err)
	}
	if got, ok := r.Get(p.ID()); !ok || got != p {
		t.Fatalf("Get(%q) = %v, %v", p.ID(), got, ok)
	}
	if !r.Unmount(p.ID()) {
		t.Fatal("Unmount() should return true")
	}
	if r.Unmount(p.ID()) {
		t.Error("second Unmount() should return false")
	}
	if _, ok := r.Get(p.ID()); ok {
		t.Error("page should be gone")
	}
	if f.pages[0].unmounts != 1 {
		t.Errorf("page Unmount called %d times, want 1", f.pages[0].unmounts)
	}
	if len(unmounted) != 1 || unmounted[0] != p.ID() {
		t.Errorf("OnUnmount callbacks = %v", unmounted)
	}
}

func TestRegistry_MountUnknownKind(t *testing.T) {
	r, _ := newStubRegistry(t, &stubFactory{})

	if _, err := r.Mount(context.Background(), "", MountParams{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistry_MountKeepsPageOnReadError(t *testing.T) {
	f := &stubFactory{loadErr: model.NewFetchFailedError("feed", 503, "", nil)}
	r, logs := newStubRegistry(t, f)

	p, err := r.Mount(context.Background(), "feed", MountParams{})
	if err != nil {
		t.Fatalf("Mount() がエラーを返した: %v", err)
	}
	if _, ok := r.Get(p.ID()); !ok {
		t.Error("page should stay mounted after a read failure")
	}
	if !strings.Contains(logs.String(), "ページの初回読み込みに失敗しました") {
		t.Errorf("warning not logged: %s", logs.String())
	}
}

func TestRegistry_MountDropsPageOnUnauthorized(t *testing.T) {
	f := &stubFactory{loadErr: model.NewUnauthorizedError()}
	r, _ := newStubRegistry(t, f)

	if _, err := r.Mount(context.Background(), "feed", MountParams{}); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	if f.pages[0].Mounted() {
		t.Error("page should be unmounted")
	}
}

func TestRegistry_GetDropsUnmountedPage(t *testing.T) {
	f := &stubFactory{}
	r, _ := newStubRegistry(t, f)

	p, _ := r.Mount(context.Background(), "feed", MountParams{})
	f.pages[0].Unmount()

	if _, ok := r.Get(p.ID()); ok {
		t.Error("Get should not return an unmounted page")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistry_UnmountAll(t *testing.T) {
	f := &stubFactory{}
	r, _ := newStubRegistry(t, f)

	for i := 0; i < 3; i++ {
		r.Mount(context.Background(), "feed", MountParams{})
	}
	if n := r.UnmountAll(); n != 3 {
		t.Errorf("UnmountAll() = %d, want 3", n)
	}
	for _, p := range f.pages {
		if p.Mounted() {
			t.Errorf("page %s still mounted", p.id)
		}
	}
}

func TestRegistry_ReapIdle(t *testing.T) {
	f := &stubFactory{}
	r, _ := newStubRegistry(t, f)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	old, _ := r.Mount(context.Background(), "feed", MountParams{})
	now = now.Add(20 * time.Minute)
	fresh, _ := r.Mount(context.Background(), "polls", MountParams{})
	now = now.Add(15 * time.Minute)

	if n := r.ReapIdle(30 * time.Minute); n != 1 {
		t.Fatalf("ReapIdle() = %d, want 1", n)
	}
	if _, ok := r.Get(old.ID()); ok {
		t.Error("idle page should be reaped")
	}
	if _, ok := r.Get(fresh.ID()); !ok {
		t.Error("recent page should stay mounted")
	}
}

func TestRegistry_GetRefreshesLastAccess(t *testing.T) {
	f := &stubFactory{}
	r, _ := newStubRegistry(t, f)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	p, _ := r.Mount(context.Background(), "feed", MountParams{})
	now = now.Add(25 * time.Minute)
	r.Get(p.ID())
	now = now.Add(25 * time.Minute)

	if n := r.ReapIdle(30 * time.Minute); n != 0 {
		t.Errorf("ReapIdle() = %d, want 0", n)
	}
}

func TestNewPageFactory_UnknownKind(t *testing.T) {
	factory := NewPageFactory(page.Deps{})

	if _, err := factory(context.Background(), "settings", MountParams{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
