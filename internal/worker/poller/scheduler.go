// Package poller はページごとの定期再取得ループを管理する。
// チャット、グループ参加申請、フォロー申請の一覧をプッシュではなく一定間隔の
// ポーリングで最新化する。
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 呼び出し元が使うポーリング間隔。
const (
	ChatInterval    = 5 * time.Second
	RequestInterval = 10 * time.Second
)

// ループの用途。同じページ内で用途ごとに最大1ループ。
const (
	PurposeChat           = "chat"
	PurposeJoinRequests   = "join-requests"
	PurposeFollowRequests = "follow-requests"
)

// Task は1回分の再取得処理。
type Task func(ctx context.Context) error

// Recorder はポーリングのメトリクス記録先。
type Recorder interface {
	RecordPollTick(purpose string)
	RecordPollFailure(purpose string)
	SetActivePolls(count int)
}

// Option はループごとの設定。
type Option func(*loopOptions)

type loopOptions struct {
	condition func() bool
}

// WithCondition はtick毎に評価される継続条件を設定する。
// falseを返した時点でループは停止し登録解除される（管理者でなくなった、メンバーでなくなった等）。
func WithCondition(fn func() bool) Option {
	return func(o *loopOptions) {
		o.condition = fn
	}
}

type loopKey struct {
	pageID  string
	purpose string
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler はポーリングループの起動と停止を行う。
// (pageID, purpose) ごとにループは高々1つで、二重起動は何もしない。
type Scheduler struct {
	mu       sync.Mutex
	loops    map[loopKey]*loop
	logger   *slog.Logger
	recorder Recorder
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewScheduler(logger *slog.Logger, recorder Recorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		loops:    make(map[loopKey]*loop),
		logger:   logger,
		recorder: recorder,
	}
}

// Start はinterval毎にtaskを実行するループを起動する。
// 最初の実行はinterval経過後（初回取得はページのロード処理が行う）。
// 同じ(pageID, purpose)のループが既に動いている場合は何もせずfalseを返す。
// ctxがキャンセルされるとループは停止し登録解除される。
func (s *Scheduler) Start(ctx context.Context, pageID, purpose string, interval time.Duration, task Task, opts ...Option) bool {
	var o loopOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := loopKey{pageID: pageID, purpose: purpose}

	s.mu.Lock()
	if _, exists := s.loops[key]; exists {
		s.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[key] = l
	count := len(s.loops)
	s.mu.Unlock()

	s.setActive(count)
	s.logger.Info("ポーリングを開始しました",
		slog.String("page_id", pageID),
		slog.String("purpose", purpose),
		slog.Duration("interval", interval),
	)

	go s.run(loopCtx, key, l, interval, task, o)
	return true
}

func (s *Scheduler) run(ctx context.Context, key loopKey, l *loop, interval time.Duration, task Task, o loopOptions) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.release(key, l)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if o.condition != nil && !o.condition() {
				s.logger.Info("継続条件を満たさなくなったためポーリングを停止します",
					slog.String("page_id", key.pageID),
					slog.String("purpose", key.purpose),
				)
				return
			}

			if s.recorder != nil {
				s.recorder.RecordPollTick(key.purpose)
			}
			// 失敗しても次のtickはそのまま実行する（バックオフなし）
			if err := task(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("ポーリングタスクが失敗しました",
					slog.String("page_id", key.pageID),
					slog.String("purpose", key.purpose),
					slog.String("error", err.Error()),
				)
				if s.recorder != nil {
					s.recorder.RecordPollFailure(key.purpose)
				}
			}
		}
	}
}

// release はループ終了時に登録を解除する。
// Stop後に同じキーで再起動されたループは解除しない。
func (s *Scheduler) release(key loopKey, l *loop) {
	l.cancel()

	s.mu.Lock()
	if cur, ok := s.loops[key]; ok && cur == l {
		delete(s.loops, key)
	}
	count := len(s.loops)
	s.mu.Unlock()

	s.setActive(count)
	close(l.done)
}

// Stop は指定ループを停止する。存在しない場合はfalseを返す。
func (s *Scheduler) Stop(pageID, purpose string) bool {
	key := loopKey{pageID: pageID, purpose: purpose}

	s.mu.Lock()
	l, ok := s.loops[key]
	if ok {
		delete(s.loops, key)
	}
	count := len(s.loops)
	s.mu.Unlock()

	if !ok {
		return false
	}
	l.cancel()
	s.setActive(count)
	s.logger.Info("ポーリングを停止しました",
		slog.String("page_id", pageID),
		slog.String("purpose", purpose),
	)
	return true
}

// StopPage はページに属する全ループを停止し、停止した数を返す。
func (s *Scheduler) StopPage(pageID string) int {
	s.mu.Lock()
	var stopped []*loop
	for key, l := range s.loops {
		if key.pageID == pageID {
			stopped = append(stopped, l)
			delete(s.loops, key)
		}
	}
	count := len(s.loops)
	s.mu.Unlock()

	for _, l := range stopped {
		l.cancel()
	}
	if len(stopped) > 0 {
		s.setActive(count)
	}
	return len(stopped)
}

// StopAll は全ループを停止し、終了を待つ。
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	loops := make([]*loop, 0, len(s.loops))
	for key, l := range s.loops {
		loops = append(loops, l)
		delete(s.loops, key)
	}
	s.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
	s.setActive(0)
}

// Active は指定ループが稼働中かを返す。
func (s *Scheduler) Active(pageID, purpose string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[loopKey{pageID: pageID, purpose: purpose}]
	return ok
}

// Count は稼働中のループ数を返す。
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

func (s *Scheduler) setActive(count int) {
	if s.recorder != nil {
		s.recorder.SetActivePolls(count)
	}
}

// Page はマウント中のページ1インスタンスを表す。
// Unmountでページのコンテキストがキャンセルされ、全ループが停止する。
type Page struct {
	ID        string
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *Scheduler
}

// Mount は新しいPageInstanceIDを払い出してページを生成する。
func (s *Scheduler) Mount(parent context.Context) *Page {
	ctx, cancel := context.WithCancel(parent)
	return &Page{
		ID:        uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		scheduler: s,
	}
}

// Context はページの生存期間に紐づくコンテキストを返す。
func (p *Page) Context() context.Context {
	return p.ctx
}

// Mounted はページがまだアンマウントされていないかを返す。
func (p *Page) Mounted() bool {
	return p.ctx.Err() == nil
}

// Start はこのページのループを起動する。
func (p *Page) Start(purpose string, interval time.Duration, task Task, opts ...Option) bool {
	if !p.Mounted() {
		return false
	}
	return p.scheduler.Start(p.ctx, p.ID, purpose, interval, task, opts...)
}

// Stop はこのページの指定ループを停止する。
func (p *Page) Stop(purpose string) bool {
	return p.scheduler.Stop(p.ID, purpose)
}

// Active はこのページの指定ループが稼働中かを返す。
func (p *Page) Active(purpose string) bool {
	return p.scheduler.Active(p.ID, purpose)
}

// Unmount はページのコンテキストをキャンセルし、全ループを停止する。
func (p *Page) Unmount() {
	p.cancel()
	p.scheduler.StopPage(p.ID)
}
