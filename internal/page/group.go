package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/reconcile"
	"github.com/hitoshi/socialsync/internal/viewmodel"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

// GroupPage のコレクション
const (
	KeyGroup        viewmodel.Key = "group"
	KeyMembers      viewmodel.Key = "members"
	KeyGroupPosts   viewmodel.Key = "group_posts"
	KeyGroupChat    viewmodel.Key = "group_chat"
	KeyJoinRequests viewmodel.Key = "join_requests"
	KeyMembership   viewmodel.Key = "membership"
	// KeyFollowRequests は管理者向けにProfilePageと同じキーで保持する
)

// GroupPage はグループ詳細を扱う。
// メンバーはチャット（とメンバー一覧）を5秒ごと、管理者は参加申請とフォロー申請を10秒ごとに再取得する。
type GroupPage struct {
	*base
	name string
}

// NewGroupPage はグループnameのGroupPageをマウントする。
func NewGroupPage(ctx context.Context, deps Deps, name string) (*GroupPage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	b, err := newBase(ctx, deps, KindGroup)
	if err != nil {
		return nil, err
	}
	p := &GroupPage{base: b, name: name}
	b.store.Subscribe(p.membersChanged)
	return p, nil
}

// Name はグループ名を返す。
func (p *GroupPage) Name() string { return p.name }

// Load はグループ詳細とメンバーを取得し、閲覧ユーザーの立場に応じて
// 投稿・チャット・申請一覧を取得してポーリングを開始する。
func (p *GroupPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}

	if _, err := refreshValue(ctx, p.base, KeyGroup, p.fetchGroup); err != nil {
		return err
	}
	members, err := refresh(ctx, p.base, KeyMembers, p.fetchMembers)
	if err != nil {
		return err
	}

	status := model.MembershipNone
	if containsString(members, p.viewer) {
		status = model.MembershipMember
		refresh(ctx, p.base, KeyGroupPosts, p.fetchPosts)
		refresh(ctx, p.base, KeyGroupChat, p.fetchChat)
	} else if reqs, err := p.fetchJoinRequests(ctx); err == nil {
		for _, r := range reqs {
			if r.Username == p.viewer && r.Pending() {
				status = model.MembershipPending
				break
			}
		}
	}
	viewmodel.ReplaceValue(p.store, KeyMembership, status)

	if p.IsAdmin() {
		refresh(ctx, p.base, KeyJoinRequests, p.fetchJoinRequests)
		refresh(ctx, p.base, KeyFollowRequests, p.fetchFollowRequests)
	}

	p.schedule()
	return nil
}

// schedule は現在の立場に応じてポーリングを開始する。
// 既に動いているループは二重に起動されない。
func (p *GroupPage) schedule() {
	if p.Membership() == model.MembershipMember {
		p.poll(poller.PurposeChat, p.deps.ChatInterval, func(ctx context.Context) error {
			// 管理者に削除された場合はメンバー一覧の置き換えで所属状態が外れる
			if _, err := refresh(ctx, p.base, KeyMembers, p.fetchMembers); err != nil {
				return err
			}
			if p.Membership() != model.MembershipMember {
				return nil
			}
			_, err := refresh(ctx, p.base, KeyGroupChat, p.fetchChat)
			return err
		}, poller.WithCondition(func() bool { return p.Membership() == model.MembershipMember }))
	}
	if p.IsAdmin() {
		p.poll(poller.PurposeJoinRequests, p.deps.RequestInterval, func(ctx context.Context) error {
			_, err := refresh(ctx, p.base, KeyJoinRequests, p.fetchJoinRequests)
			return err
		}, poller.WithCondition(p.IsAdmin))
		p.poll(poller.PurposeFollowRequests, p.deps.RequestInterval, func(ctx context.Context) error {
			_, err := refresh(ctx, p.base, KeyFollowRequests, p.fetchFollowRequests)
			return err
		}, poller.WithCondition(p.IsAdmin))
	}
}

// membersChanged はメンバー一覧が置き換わるたびに所属状態を合わせる。
// メンバーから外れた場合はチャットのポーリングを止める。
func (p *GroupPage) membersChanged(key viewmodel.Key) {
	if key != KeyMembers {
		return
	}
	if _, loaded := viewmodel.Value[model.MembershipStatus](p.store, KeyMembership); !loaded {
		return
	}
	member := containsString(viewmodel.Authoritative[string](p.store, KeyMembers), p.viewer)
	switch current := p.Membership(); {
	case member && current != model.MembershipMember:
		viewmodel.ReplaceValue(p.store, KeyMembership, model.MembershipMember)
	case !member && current == model.MembershipMember:
		viewmodel.ReplaceValue(p.store, KeyMembership, model.MembershipNone)
		p.page.Stop(poller.PurposeChat)
		p.logger.Info("メンバーから外れたためチャットの取得を停止しました",
			slog.String("group", p.name),
		)
	}
}

func (p *GroupPage) fetchGroup(ctx context.Context) (model.Group, error) {
	rec, err := p.deps.API.GroupDetail(ctx, p.name, p.viewer)
	if err != nil {
		return model.Group{}, err
	}
	g := p.deps.Ingest.Group(rec)
	if g.Name == "" {
		g.Name = p.name
	}
	return g, nil
}

func (p *GroupPage) fetchMembers(ctx context.Context) ([]string, error) {
	recs, err := p.deps.API.GroupMembers(ctx, p.name)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.Members(recs), nil
}

func (p *GroupPage) fetchPosts(ctx context.Context) ([]model.ContentItem, error) {
	recs, err := p.deps.API.GroupPosts(ctx, p.name)
	if err != nil {
		return nil, err
	}
	items := p.deps.Ingest.Tweets(recs)
	for i := range items {
		items[i].Group = p.name
	}
	return items, nil
}

func (p *GroupPage) fetchChat(ctx context.Context) ([]model.ChatMessage, error) {
	recs, err := p.deps.API.GroupChat(ctx, p.name)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.GroupMessages(p.name, recs), nil
}

func (p *GroupPage) fetchJoinRequests(ctx context.Context) ([]model.JoinRequest, error) {
	recs, err := p.deps.API.GroupJoinRequests(ctx, p.name)
	if err != nil {
		return nil, err
	}
	reqs := p.deps.Ingest.JoinRequests(recs)
	admin := p.Group().Admin
	for i := range reqs {
		if reqs[i].Group == "" {
			reqs[i].Group = p.name
		}
		if reqs[i].Admin == "" {
			reqs[i].Admin = admin
		}
	}
	return reqs, nil
}

func (p *GroupPage) fetchFollowRequests(ctx context.Context) ([]model.FollowRequest, error) {
	recs, err := p.deps.API.FollowRequests(ctx, p.viewer)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.FollowRequests(recs), nil
}

// Group はグループ詳細を返す。
func (p *GroupPage) Group() model.Group {
	g, _ := viewmodel.Value[model.Group](p.store, KeyGroup)
	return g
}

// IsAdmin は閲覧ユーザーがグループ管理者かを返す。
func (p *GroupPage) IsAdmin() bool {
	return p.Group().IsAdmin(p.viewer)
}

// Membership は閲覧ユーザーの所属状態を返す。
func (p *GroupPage) Membership() model.MembershipStatus {
	s, ok := viewmodel.Value[model.MembershipStatus](p.store, KeyMembership)
	if !ok {
		return model.MembershipNone
	}
	return s
}

// Members はメンバー一覧を返す。
func (p *GroupPage) Members() []string {
	return viewmodel.Snapshot[string](p.store, KeyMembers)
}

// Chat はグループチャットを返す。
func (p *GroupPage) Chat() []model.ChatMessage {
	return viewmodel.Snapshot[model.ChatMessage](p.store, KeyGroupChat)
}

// JoinRequests は参加申請一覧を返す（管理者のみ取得される）。
func (p *GroupPage) JoinRequests() []model.JoinRequest {
	return viewmodel.Snapshot[model.JoinRequest](p.store, KeyJoinRequests)
}

// PendingJoinRequests は保留中の参加申請を返す。
func (p *GroupPage) PendingJoinRequests() []model.JoinRequest {
	return reconcile.PendingJoinRequests(p.JoinRequests())
}

// RequestJoin は参加を申請する。公開グループで即時参加になった場合は
// メンバー・投稿・チャットを取得してチャットのポーリングを開始する。
func (p *GroupPage) RequestJoin(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.Membership() != model.MembershipNone {
		return nil
	}

	res, err := p.deps.API.RequestJoinGroup(ctx, p.name, p.viewer)
	if err != nil {
		return err
	}
	if !res.Joined() {
		viewmodel.ReplaceValue(p.store, KeyMembership, model.MembershipPending)
		return nil
	}

	viewmodel.ReplaceValue(p.store, KeyMembership, model.MembershipMember)
	refresh(ctx, p.base, KeyMembers, p.fetchMembers)
	refresh(ctx, p.base, KeyGroupPosts, p.fetchPosts)
	refresh(ctx, p.base, KeyGroupChat, p.fetchChat)
	p.schedule()
	return nil
}

// Leave はグループから脱退する。チャットのポーリングは次のtickで停止する。
func (p *GroupPage) Leave(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.Membership() != model.MembershipMember {
		return ErrForbidden
	}
	if err := p.deps.API.LeaveGroup(ctx, p.name, p.viewer); err != nil {
		return err
	}
	viewmodel.ReplaceValue(p.store, KeyMembership, model.MembershipNone)
	p.page.Stop(poller.PurposeChat)
	_, err := refresh(ctx, p.base, KeyMembers, p.fetchMembers)
	return err
}

// DecideJoinRequest は参加申請を承認/却下し、申請一覧とメンバー一覧を再取得する。
func (p *GroupPage) DecideJoinRequest(ctx context.Context, requestID string, decision model.Decision) ([]model.JoinRequest, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	req, ok := findJoinRequest(p.JoinRequests(), requestID)
	if !ok || !reconcile.CanApproveJoin(req, p.viewer) {
		return nil, ErrForbidden
	}

	target := reconcile.Target[model.JoinRequest]{Store: p.store, Key: KeyJoinRequests, Refetch: p.fetchJoinRequests}
	members := reconcile.Target[string]{Store: p.store, Key: KeyMembers, Refetch: p.fetchMembers}
	return reconcile.Act(ctx, p.deps.Reconciler, target, requestID, decision, p.deps.API.ApproveGroupRequest, members)
}

// DecideFollowRequest は管理者宛てのフォロー申請を承認/却下し、申請一覧を再取得する。
func (p *GroupPage) DecideFollowRequest(ctx context.Context, requestID string, decision model.Decision) ([]model.FollowRequest, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	reqs := viewmodel.Snapshot[model.FollowRequest](p.store, KeyFollowRequests)
	req, ok := findFollowRequest(reqs, requestID)
	if !ok || !reconcile.CanApproveFollow(req, p.viewer) {
		return nil, ErrForbidden
	}

	target := reconcile.Target[model.FollowRequest]{Store: p.store, Key: KeyFollowRequests, Refetch: p.fetchFollowRequests}
	return reconcile.Act(ctx, p.deps.Reconciler, target, requestID, decision, p.deps.API.ApproveFollowRequest)
}

// RemoveMember は管理者としてメンバーを外す。管理者自身は外せない。
func (p *GroupPage) RemoveMember(ctx context.Context, username string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if !p.IsAdmin() || username == p.viewer || username == p.Group().Admin {
		return ErrForbidden
	}
	if err := p.deps.API.RemoveGroupMember(ctx, p.name, p.viewer, username); err != nil {
		return err
	}
	p.logger.Info("メンバーを削除しました", slog.String("username", username))
	_, err := refresh(ctx, p.base, KeyMembers, p.fetchMembers)
	return err
}

// Post はグループに投稿し、投稿一覧を再取得する。
func (p *GroupPage) Post(ctx context.Context, content string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.Membership() != model.MembershipMember {
		return ErrForbidden
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: post content is empty", ErrInvalidInput)
	}
	if _, err := p.deps.API.CreateTweet(ctx, api.NewTweet{Username: p.viewer, Content: content, Group: p.name}); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyGroupPosts, p.fetchPosts)
	return err
}

// SendMessage はグループチャットに送信し、チャットを再取得する。
func (p *GroupPage) SendMessage(ctx context.Context, message string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if p.Membership() != model.MembershipMember {
		return ErrForbidden
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if err := p.deps.API.SendGroupMessage(ctx, p.name, p.viewer, message); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyGroupChat, p.fetchChat)
	return err
}

func findJoinRequest(reqs []model.JoinRequest, id string) (model.JoinRequest, bool) {
	for _, r := range reqs {
		if r.ID == id {
			return r, true
		}
	}
	return model.JoinRequest{}, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
