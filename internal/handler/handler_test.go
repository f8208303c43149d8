package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/auth"
	"github.com/hitoshi/socialsync/internal/ingest"
	"github.com/hitoshi/socialsync/internal/media"
	"github.com/hitoshi/socialsync/internal/metrics"
	"github.com/hitoshi/socialsync/internal/middleware"
	"github.com/hitoshi/socialsync/internal/page"
	"github.com/hitoshi/socialsync/internal/reconcile"
	"github.com/hitoshi/socialsync/internal/security"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// fakeRemote はリモートAPIのうちブリッジのテストで使う部分だけを実装する。
type fakeRemote struct {
	mu       sync.Mutex
	feed     []map[string]any
	likes    int
	feedFail int
}

func (f *fakeRemote) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-" + r.FormValue("username")})
	})
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		json.NewEncoder(w).Encode(map[string]string{"username": token, "name": strings.ToUpper(token)})
	})
	r.Get("/feed/{username}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.feedFail != 0 {
			w.WriteHeader(f.feedFail)
			json.NewEncoder(w).Encode(map[string]string{"detail": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(f.feed)
	})
	r.Post("/new_like", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.likes++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{})
	})
	r.Get("/all_groups", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"name": "go", "admin": "alice"}})
	})
	return r
}

func (f *fakeRemote) failFeed(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedFail = status
}

func (f *fakeRemote) likeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likes
}

type testBridge struct {
	handler  http.Handler
	registry *Registry
	sessions *auth.Service
	remote   *fakeRemote
	limiter  *middleware.ActionLimiter
}

func newTestBridge(t *testing.T, viewer string, limiterCfg middleware.ActionLimiterConfig) *testBridge {
	t.Helper()
	remote := &fakeRemote{feed: []map[string]any{
		{"tweetid": "t1", "username": "bob", "author": "Bob", "content_": "hello", "like_count": 3},
	}}
	server := httptest.NewServer(remote.router())
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	authClient := api.NewClient(server.URL, server.Client(), nil, logger)
	sess := auth.NewService(authClient, nil, logger, collector)
	if viewer != "" {
		if _, err := sess.Login(context.Background(), viewer, "secret"); err != nil {
			t.Fatalf("Login() がエラーを返した: %v", err)
		}
	}

	sched := poller.NewScheduler(logger, collector)
	t.Cleanup(sched.StopAll)

	deps := page.Deps{
		API:        api.NewClient(server.URL, server.Client(), sess, logger, api.WithRecorder(collector)),
		Session:    sess,
		Ingest:     ingest.New(media.NewCodec(media.DefaultMinLength, logger, collector), security.NewContentSanitizer()),
		Scheduler:  sched,
		Reconciler: reconcile.New(logger),
		Metrics:    collector,
		Logger:     logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry := NewRegistry(ctx, NewPageFactory(deps), logger)
	t.Cleanup(func() { registry.UnmountAll() })

	limiter := middleware.NewActionLimiter(limiterCfg, logger)
	t.Cleanup(limiter.Stop)
	registry.OnUnmount(limiter.Forget)

	h := NewRouter(&RouterDeps{
		Sessions:          sess,
		Registry:          registry,
		ActionLimiter:     limiter,
		Gatherer:          reg,
		CORSAllowedOrigin: "http://localhost:3000",
		Logger:            logger,
	})
	return &testBridge{handler: h, registry: registry, sessions: sess, remote: remote, limiter: limiter}
}

func (b *testBridge) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() がエラーを返した: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v (body=%s)", err, w.Body.String())
	}
	return v
}

// collectionJSON はスナップショットから1コレクションを取り出す。
type collectionJSON struct {
	Key        string          `json:"key"`
	Items      json.RawMessage `json:"items"`
	Flags      map[string]bool `json:"flags"`
	Version    uint64          `json:"version"`
	Optimistic bool            `json:"optimistic"`
	Error      string          `json:"error"`
}

type pageJSON struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Collections []collectionJSON `json:"collections"`
}

func (p pageJSON) collection(key string) (collectionJSON, bool) {
	for _, c := range p.Collections {
		if c.Key == key {
			return c, true
		}
	}
	return collectionJSON{}, false
}
