// Package app はコマンドラインのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/auth"
	"github.com/hitoshi/socialsync/internal/config"
	"github.com/hitoshi/socialsync/internal/handler"
	"github.com/hitoshi/socialsync/internal/ingest"
	"github.com/hitoshi/socialsync/internal/logger"
	"github.com/hitoshi/socialsync/internal/media"
	"github.com/hitoshi/socialsync/internal/metrics"
	"github.com/hitoshi/socialsync/internal/middleware"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
	"github.com/hitoshi/socialsync/internal/reconcile"
	"github.com/hitoshi/socialsync/internal/security"
	"github.com/hitoshi/socialsync/internal/viewmodel"
	"github.com/hitoshi/socialsync/internal/worker/cleanup"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで終了する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("BRIDGE_PORT")
		if port == "" {
			port = "8090"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log := slog.Default()

	log.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	switch cmd {
	case CommandWatch:
		group := ""
		if len(args) > 1 {
			group = args[1]
		}
		return runWatch(ctx, cfg, log, group)
	default:
		return runServe(ctx, cfg, log)
	}
}

// components はserveとwatchで共有する依存関係。
type components struct {
	sessions  *auth.Service
	scheduler *poller.Scheduler
	deps      page.Deps
	gatherer  prometheus.Gatherer
}

// newComponents はConfigから全コンポーネントを組み立てる。
// 認証用クライアントはトークンを持たず、ページ用クライアントはセッションのトークンを使う。
func newComponents(cfg *config.Config, log *slog.Logger) *components {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	opts := []api.Option{
		api.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
		api.WithRecorder(collector),
	}

	var store auth.Store
	if cfg.SessionFile != "" {
		store = auth.NewFileStore(cfg.SessionFile)
	}
	authClient := api.NewClient(cfg.APIBaseURL, httpClient, nil, log, opts...)
	sessions := auth.NewService(authClient, store, log, collector)

	scheduler := poller.NewScheduler(log, collector)
	deps := page.Deps{
		API:             api.NewClient(cfg.APIBaseURL, httpClient, sessions, log, opts...),
		Session:         sessions,
		Ingest:          ingest.New(media.NewCodec(cfg.ImageMinLength, log, collector), security.NewContentSanitizer()),
		Scheduler:       scheduler,
		Reconciler:      reconcile.New(log),
		Metrics:         collector,
		Logger:          log,
		ChatInterval:    cfg.ChatPollInterval,
		RequestInterval: cfg.RequestPollInterval,
	}

	return &components{sessions: sessions, scheduler: scheduler, deps: deps, gatherer: reg}
}

// ensureLogin は保存済みセッションを復元し、無ければ環境変数の資格情報でログインする。
// どちらも無い場合は未ログインのままnilを返す。
func (c *components) ensureLogin(ctx context.Context, cfg *config.Config) error {
	if err := c.sessions.Restore(); err != nil {
		return err
	}
	if c.sessions.LoggedIn() || cfg.Username == "" {
		return nil
	}
	if _, err := c.sessions.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("login as %s failed: %w", cfg.Username, err)
	}
	return nil
}

// runServe はローカルブリッジを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行い、全ページを停止する。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c := newComponents(cfg, log)
	if err := c.ensureLogin(ctx, cfg); err != nil {
		return err
	}
	defer c.scheduler.StopAll()

	registry := handler.NewRegistry(ctx, handler.NewPageFactory(c.deps), log)
	defer registry.UnmountAll()
	c.sessions.OnInvalidate(func() { registry.UnmountAll() })

	limiter := middleware.NewActionLimiter(middleware.DefaultActionLimiterConfig(), log)
	defer limiter.Stop()
	registry.OnUnmount(limiter.Forget)

	// 放置されたページのクリーンアップをバックグラウンドで実行
	cleanupJob := cleanup.NewCleanupJob(registry, cfg.PageIdleTimeout, log)
	go cleanupJob.Start(ctx, cleanup.DefaultInterval)

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          c.sessions,
		Registry:          registry,
		ActionLimiter:     limiter,
		Gatherer:          c.gatherer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
	})

	server := &http.Server{
		Addr:        ":" + cfg.BridgePort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ブリッジを起動します",
			slog.String("addr", server.Addr),
			slog.Bool("logged_in", c.sessions.LoggedIn()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("bridge server failed: %w", err)
	}

	log.Info("ブリッジを停止します")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("ブリッジを停止しました")
	return nil
}

// runWatch はグループページをマウントし、コレクションの更新をログに出し続ける。
// ctxのキャンセルまたはセッション破棄で終了する。
func runWatch(ctx context.Context, cfg *config.Config, log *slog.Logger, group string) error {
	if group == "" {
		return fmt.Errorf("watch requires a group name: socialsync watch <group>")
	}

	c := newComponents(cfg, log)
	if err := c.ensureLogin(ctx, cfg); err != nil {
		return err
	}
	if !c.sessions.LoggedIn() {
		return fmt.Errorf("watch requires a login: set SOCIAL_USERNAME/SOCIAL_PASSWORD or SESSION_FILE: %w", model.ErrNotLoggedIn)
	}
	defer c.scheduler.StopAll()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.sessions.OnInvalidate(cancel)

	p, err := page.NewGroupPage(ctx, c.deps, group)
	if err != nil {
		return err
	}
	defer p.Unmount()

	store := p.Store()
	unsubscribe := store.Subscribe(func(key viewmodel.Key) {
		logCollection(log, p.ID(), store, key)
	})
	defer unsubscribe()

	if err := p.Load(ctx); err != nil {
		if model.CategoryOf(err) == model.CategoryAuth {
			return err
		}
		log.Warn("グループの読み込みに失敗しました", slog.String("group", group), slog.String("error", err.Error()))
	}

	log.Info("グループの監視を開始しました",
		slog.String("page_id", p.ID()),
		slog.String("group", group),
		slog.String("membership", string(p.Membership())),
		slog.Bool("admin", p.IsAdmin()),
	)

	<-ctx.Done()

	if !c.sessions.LoggedIn() {
		return model.ErrUnauthorized
	}
	log.Info("グループの監視を終了しました", slog.String("group", group))
	return nil
}

func logCollection(log *slog.Logger, pageID string, store *viewmodel.Store, key viewmodel.Key) {
	st, ok := store.State(key)
	if !ok {
		return
	}
	attrs := []any{
		slog.String("page_id", pageID),
		slog.String("collection", string(key)),
		slog.Uint64("version", st.Version),
		slog.Bool("optimistic", st.Optimistic),
	}
	if st.Error != "" {
		log.Warn("コレクションの取得に失敗しています", append(attrs, slog.String("error", st.Error))...)
		return
	}
	log.Info("コレクションが更新されました", attrs...)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
