// Package reconcile は申請（グループ参加申請・フォロー申請）の承認/却下と、
// その後のコレクション再取得をまとめて行う。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// ApplyFunc は申請への判定をリモートAPIに送る。
type ApplyFunc func(ctx context.Context, requestID string, decision model.Decision) error

// Refresher は判定成功後に再取得するコレクション。
type Refresher interface {
	refresh(ctx context.Context) error
	key() viewmodel.Key
}

// Target は再取得対象のコレクションとその取得関数。
type Target[T any] struct {
	Store   *viewmodel.Store
	Key     viewmodel.Key
	Refetch func(ctx context.Context) ([]T, error)
}

func (t Target[T]) refresh(ctx context.Context) error {
	_, err := viewmodel.Refresh(ctx, t.Store, t.Key, t.Refetch)
	return err
}

func (t Target[T]) key() viewmodel.Key {
	return t.Key
}

// Reconciler は判定と再取得を実行する。
type Reconciler struct {
	logger *slog.Logger
}

// New はReconcilerを生成する。
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

// Act はrequestIDの申請にdecisionを適用し、成功したらtargetを1回だけ再取得する。
//
// applyが失敗した場合はスナップショットに触れずにエラーを返す。自動リトライはしない。
// also に渡したコレクションも成功後にそれぞれ1回再取得する（参加承認後のメンバー一覧など）。
// 呼び出し元は事前に CanApproveJoin / CanApproveFollow で操作可否を判断すること。
// ここでは再検証しない。
func Act[T any](ctx context.Context, r *Reconciler, target Target[T], requestID string, decision model.Decision, apply ApplyFunc, also ...Refresher) ([]T, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidDecision, decision)
	}

	if err := apply(ctx, requestID, decision); err != nil {
		r.logger.Warn("申請の処理に失敗しました",
			slog.String("request_id", requestID),
			slog.String("decision", string(decision)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("apply %s to request %s: %w", decision, requestID, err)
	}

	r.logger.Info("申請を処理しました",
		slog.String("request_id", requestID),
		slog.String("decision", string(decision)),
	)

	items, err := viewmodel.Refresh(ctx, target.Store, target.Key, target.Refetch)
	if err != nil {
		r.logger.Warn("申請処理後の再取得に失敗しました",
			slog.String("collection", string(target.Key)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("refetch %s: %w", target.Key, err)
	}

	for _, extra := range also {
		if err := extra.refresh(ctx); err != nil {
			// 付随コレクションの失敗はStoreに記録済み。主コレクションの結果は返す
			r.logger.Warn("申請処理後の再取得に失敗しました",
				slog.String("collection", string(extra.key())),
				slog.String("error", err.Error()),
			)
		}
	}

	return items, nil
}

// CanApproveJoin はviewerが参加申請を承認/却下できるかを返す。
// グループ管理者であり、申請が保留中であること。
func CanApproveJoin(req model.JoinRequest, viewer string) bool {
	return viewer != "" && req.Admin == viewer && req.Pending()
}

// CanApproveFollow はviewerがフォロー申請を承認/却下できるかを返す。
// 申請先本人であり、申請が保留中であること。
func CanApproveFollow(req model.FollowRequest, viewer string) bool {
	return viewer != "" && req.Target == viewer && req.Pending()
}

// PendingJoinRequests は保留中の参加申請だけを返す。
func PendingJoinRequests(reqs []model.JoinRequest) []model.JoinRequest {
	out := make([]model.JoinRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Pending() {
			out = append(out, r)
		}
	}
	return out
}

// PendingFollowRequests は保留中のフォロー申請だけを返す。
func PendingFollowRequests(reqs []model.FollowRequest) []model.FollowRequest {
	out := make([]model.FollowRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Pending() {
			out = append(out, r)
		}
	}
	return out
}
