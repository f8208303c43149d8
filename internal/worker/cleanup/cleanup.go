// Package cleanup はブリッジに放置されたページの自動アンマウントジョブを提供する。
// プレゼンテーション層がアンマウントを送らずに終了した場合でも、
// 最終アクセスから保持期間（デフォルト30分）を超えたページのポーリングを止める。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Minute

// Reaper はアイドルページのアンマウントを抽象化するインターフェース。
// handler.Registry が実装する。
type Reaper interface {
	ReapIdle(maxIdle time.Duration) int
	Count() int
}

// CleanupJob は保持期間を超えてアクセスの無いページをアンマウントするジョブ。
// 冪等で、対象が無い場合も成功する。
type CleanupJob struct {
	pages   Reaper
	logger  *slog.Logger
	MaxIdle time.Duration // ページの保持期間（デフォルト: 30分）
}

// NewCleanupJob は新しいCleanupJobを生成する。maxIdleが0以下の場合は30分。
func NewCleanupJob(pages Reaper, maxIdle time.Duration, logger *slog.Logger) *CleanupJob {
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		pages:   pages,
		logger:  logger,
		MaxIdle: maxIdle,
	}
}

// Run はアイドルページを1回アンマウントし、その件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("ページクリーンアップを中断: %w", err)
	}

	start := time.Now()
	reaped := j.pages.ReapIdle(j.MaxIdle)

	if reaped > 0 {
		j.logger.Info("アイドルページをアンマウントしました",
			slog.Int("reaped_count", reaped),
			slog.Int("remaining", j.pages.Count()),
			slog.Duration("max_idle", j.MaxIdle),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return reaped, nil
}

// Start はintervalごとにRunを実行し、ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("ページクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("max_idle", j.MaxIdle),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ページクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("ページクリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
