package page

import (
	"context"
	"log/slog"

	"github.com/hitoshi/socialsync/internal/identity"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/reconcile"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// ProfilePage のコレクション
const (
	KeyProfile        viewmodel.Key = "profile"
	KeyPosts          viewmodel.Key = "posts"
	KeyFollowers      viewmodel.Key = "followers"
	KeyFollowing      viewmodel.Key = "following"
	KeyRelationship   viewmodel.Key = "relationship"
	KeyFollowRequests viewmodel.Key = "follow_requests"
)

// FlagFollowRequested はフォロー申請送信済みを示す楽観的フラグ。
// KeyRelationship に付くため、フォロー申請一覧の再取得では消えない。
const FlagFollowRequested = "followRequested"

// Relationship は閲覧ユーザーとプロフィールユーザーの関係。
type Relationship struct {
	Target    string `json:"target"`
	Following bool   `json:"following"`
	Requested bool   `json:"requested"`
}

// ProfilePage はユーザーのプロフィール、フォロワー、フォロー申請を扱う。
type ProfilePage struct {
	*base
	target string
}

// NewProfilePage はtargetのProfilePageをマウントする。
func NewProfilePage(ctx context.Context, deps Deps, target string) (*ProfilePage, error) {
	b, err := newBase(ctx, deps, KindProfile)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = b.viewer
	}
	return &ProfilePage{base: b, target: target}, nil
}

// Target はプロフィールのユーザー名を返す。
func (p *ProfilePage) Target() string { return p.target }

// Own は自分のプロフィールかを返す。
func (p *ProfilePage) Own() bool { return p.target == p.viewer }

// Load はプロフィール、投稿、フォロワー、フォロー中、関係、フォロー申請を取得する。
// プロフィール以外の取得失敗はそのコレクションのエラーとして記録し、読み込みを続ける。
func (p *ProfilePage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}

	if _, err := refreshValue(ctx, p.base, KeyProfile, p.fetchProfile); err != nil {
		return err
	}
	refresh(ctx, p.base, KeyPosts, p.fetchPosts)

	followers, _ := refresh(ctx, p.base, KeyFollowers, p.fetchFollowers)
	refresh(ctx, p.base, KeyFollowing, p.fetchFollowing)

	requests, _ := refresh(ctx, p.base, KeyFollowRequests, p.fetchFollowRequests)

	if !p.Own() {
		rel := Relationship{
			Target:    p.target,
			Following: identity.Contains(followers, p.viewer),
		}
		for _, r := range requests {
			if r.Requester == p.viewer && r.Target == p.target && r.Pending() {
				rel.Requested = true
			}
		}
		viewmodel.ReplaceValue(p.store, KeyRelationship, rel)
	}
	return nil
}

func (p *ProfilePage) fetchProfile(ctx context.Context) (model.UserSummary, error) {
	rec, err := p.deps.API.UserProfile(ctx, p.target)
	if err != nil {
		return model.UserSummary{}, err
	}
	// /user/{name} は {"profile": {...}} で包んで返す
	if inner, ok := rec["profile"].(map[string]any); ok {
		rec = inner
	}
	u := p.deps.Ingest.User(rec)
	if u.Username == "" {
		u.Username = p.target
	}
	return u, nil
}

func (p *ProfilePage) fetchPosts(ctx context.Context) ([]model.ContentItem, error) {
	recs, err := p.deps.API.UserPosts(ctx, p.target)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.Tweets(recs), nil
}

func (p *ProfilePage) fetchFollowers(ctx context.Context) ([]model.Edge, error) {
	raw, err := p.deps.API.Followers(ctx, p.target)
	if err != nil {
		return nil, err
	}
	return identity.NormalizeFollowers(p.target, raw), nil
}

func (p *ProfilePage) fetchFollowing(ctx context.Context) ([]model.Edge, error) {
	raw, err := p.deps.API.Following(ctx, p.target)
	if err != nil {
		return nil, err
	}
	return identity.NormalizeFollowing(p.target, raw), nil
}

// fetchFollowRequests は閲覧ユーザーに関するフォロー申請を取得する。
// 自分のプロフィールでは受信した申請、他人のプロフィールでは送信済み申請の判定に使う。
func (p *ProfilePage) fetchFollowRequests(ctx context.Context) ([]model.FollowRequest, error) {
	recs, err := p.deps.API.FollowRequests(ctx, p.viewer)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.FollowRequests(recs), nil
}

// Relationship は表示用の関係を返す。楽観的フラグも反映する。
func (p *ProfilePage) Relationship() Relationship {
	rel, _ := viewmodel.Value[Relationship](p.store, KeyRelationship)
	rel.Target = p.target
	if v, ok := p.store.Flag(KeyRelationship, FlagFollowRequested); ok {
		rel.Requested = v
	}
	return rel
}

// Followers はフォロワー一覧を返す。
func (p *ProfilePage) Followers() []model.Edge {
	return viewmodel.Snapshot[model.Edge](p.store, KeyFollowers)
}

// Following はフォロー中一覧を返す。
func (p *ProfilePage) Following() []model.Edge {
	return viewmodel.Snapshot[model.Edge](p.store, KeyFollowing)
}

// FollowRequests は受信したフォロー申請を返す（自分のプロフィールのみ）。
func (p *ProfilePage) FollowRequests() []model.FollowRequest {
	return viewmodel.Snapshot[model.FollowRequest](p.store, KeyFollowRequests)
}

// FollowAction はフォロー中なら解除、未フォローならフォロー申請を送る。
// 申請は送信前にfollowRequestedを楽観的に立てる。
// 「既にフォロー中」「既に申請中」の応答はエラーとせず状態に反映する。
// 最後にフォロワー一覧を再取得する。
func (p *ProfilePage) FollowAction(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.Own() {
		return ErrForbidden
	}

	rel := p.Relationship()
	switch {
	case rel.Following:
		if err := p.deps.API.Unfollow(ctx, p.viewer, p.target); err != nil {
			return err
		}
		p.setFollowing(false)
	case !rel.Requested:
		p.store.SetFlag(KeyRelationship, FlagFollowRequested, true)
		if _, err := p.deps.API.RequestFollow(ctx, p.viewer, p.target); err != nil {
			switch {
			case model.DetailContains(err, "Already following"):
				p.store.SetFlag(KeyRelationship, FlagFollowRequested, false)
				p.setFollowing(true)
			case model.DetailContains(err, "Follow request already pending"):
				// フラグはそのまま
			default:
				p.rollback(KeyRelationship, err)
				return err
			}
		}
	default:
		return nil
	}

	_, err := refresh(ctx, p.base, KeyFollowers, p.fetchFollowers)
	return err
}

func (p *ProfilePage) setFollowing(following bool) {
	_ = viewmodel.ApplyOptimistic(p.store, KeyRelationship, func(items []Relationship) []Relationship {
		if len(items) == 0 {
			return []Relationship{{Target: p.target, Following: following}}
		}
		items[0].Following = following
		return items
	})
}

// RefreshFollowRequests はフォロー申請一覧を再取得する。
// followRequested フラグはこの再取得では消えない。
func (p *ProfilePage) RefreshFollowRequests(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyFollowRequests, p.fetchFollowRequests)
	return err
}

// RemoveFollower は自分のフォロワーからfollowerを外し、フォロワー一覧を再取得する。
func (p *ProfilePage) RemoveFollower(ctx context.Context, follower string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if !p.Own() {
		return ErrForbidden
	}
	if err := p.deps.API.RemoveFollower(ctx, p.viewer, follower); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyFollowers, p.fetchFollowers)
	return err
}

// DecideFollowRequest は受信したフォロー申請を承認/却下し、申請一覧とフォロワー一覧を再取得する。
func (p *ProfilePage) DecideFollowRequest(ctx context.Context, requestID string, decision model.Decision) error {
	if err := p.guard(); err != nil {
		return err
	}
	if req, ok := findFollowRequest(p.FollowRequests(), requestID); !ok || !reconcile.CanApproveFollow(req, p.viewer) {
		return ErrForbidden
	}

	target := reconcile.Target[model.FollowRequest]{Store: p.store, Key: KeyFollowRequests, Refetch: p.fetchFollowRequests}
	followers := reconcile.Target[model.Edge]{Store: p.store, Key: KeyFollowers, Refetch: p.fetchFollowers}
	_, err := reconcile.Act(ctx, p.deps.Reconciler, target, requestID, decision, p.deps.API.ApproveFollowRequest, followers)
	if err != nil {
		p.logger.Warn("フォロー申請の処理に失敗しました",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func findFollowRequest(reqs []model.FollowRequest, id string) (model.FollowRequest, bool) {
	for _, r := range reqs {
		if r.ID == id {
			return r, true
		}
	}
	return model.FollowRequest{}, false
}
