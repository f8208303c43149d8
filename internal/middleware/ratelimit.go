package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActionLimiterConfig はアクション送信のレート制限の設定を保持する。
type ActionLimiterConfig struct {
	Rate            rate.Limit    // キーごとのレート（req/sec）
	Burst           int           // キーごとのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultActionLimiterConfig はデフォルトのレート制限設定を返す。
// 1ページあたり 60 actions/min。連打による二重送信を抑える。
func DefaultActionLimiterConfig() ActionLimiterConfig {
	return ActionLimiterConfig{
		Rate:            rate.Limit(60.0 / 60.0),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyFunc はリクエストからレート制限のキーを取り出す。空文字の場合は制限しない。
type KeyFunc func(r *http.Request) string

// ActionLimiter はキー（ページID）ごとのレート制限を管理する。
type ActionLimiter struct {
	config ActionLimiterConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewActionLimiter は新しいActionLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewActionLimiter(config ActionLimiterConfig, logger *slog.Logger) *ActionLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	al := &ActionLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}

	go al.cleanupLoop()

	return al
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (al *ActionLimiter) Stop() {
	al.stopOnce.Do(func() { close(al.stopCh) })
}

// Middleware はkeyFnで得たキーごとにレート制限するミドルウェアを返す。
func (al *ActionLimiter) Middleware(keyFn KeyFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !al.Allow(key) {
				writeRateLimitResponse(w, al.config.Rate)
				al.logger.Warn("アクションのレート制限を超過",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow はkeyのトークンを1つ消費できたかを返す。
func (al *ActionLimiter) Allow(key string) bool {
	al.mu.Lock()
	kl, ok := al.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(al.config.Rate, al.config.Burst)}
		al.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	al.mu.Unlock()

	return kl.limiter.Allow()
}

// Forget はkeyのリミッターを破棄する。ページのアンマウント時に呼ぶ。
func (al *ActionLimiter) Forget(key string) {
	al.mu.Lock()
	delete(al.limiters, key)
	al.mu.Unlock()
}

// Count は現在管理されているエントリ数を返す。
func (al *ActionLimiter) Count() int {
	al.mu.Lock()
	defer al.mu.Unlock()
	return len(al.limiters)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (al *ActionLimiter) cleanupLoop() {
	ticker := time.NewTicker(al.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			al.cleanup(time.Now())
		case <-al.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (al *ActionLimiter) cleanup(now time.Time) {
	ttl := al.config.CleanupInterval * 2

	al.mu.Lock()
	defer al.mu.Unlock()
	for key, kl := range al.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(al.limiters, key)
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many actions. Please try again later.",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
