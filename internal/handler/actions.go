package handler

import (
	"context"
	"fmt"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
)

// actionRequest はアクションの引数。アクションごとに使うフィールドが異なる。
type actionRequest struct {
	TweetID   string         `json:"tweet_id,omitempty"`
	CommentID string         `json:"comment_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Decision  model.Decision `json:"decision,omitempty"`
	PollID    string         `json:"poll_id,omitempty"`
	Option    string         `json:"option,omitempty"`
	Question  string         `json:"question,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Peer      string         `json:"peer,omitempty"`
	Name      string         `json:"name,omitempty"`
	Bio       string         `json:"bio,omitempty"`
	Query     string         `json:"query,omitempty"`
	Photo     *uploadRequest `json:"photo,omitempty"`
}

// uploadRequest は画像添付。dataはbase64文字列で受け取る。
type uploadRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

func (u *uploadRequest) upload() *api.Upload {
	if u == nil || len(u.Data) == 0 {
		return nil
	}
	name := u.Filename
	if name == "" {
		name = "photo.jpg"
	}
	return &api.Upload{Filename: name, Data: u.Data}
}

// action は1つのアクションの実装。戻り値のanyはレスポンスのresultになる。
type action func(ctx context.Context, p page.Page, req actionRequest) (any, error)

// on はページの具象型を取り出してfnを呼ぶactionを作る。
func on[P page.Page](fn func(ctx context.Context, p P, req actionRequest) (any, error)) action {
	return func(ctx context.Context, p page.Page, req actionRequest) (any, error) {
		typed, ok := p.(P)
		if !ok {
			return nil, fmt.Errorf("%w: page %s does not support this action", page.ErrInvalidInput, p.Kind())
		}
		return fn(ctx, typed, req)
	}
}

// none は結果を返さないアクションを作る。
func none[P page.Page](fn func(ctx context.Context, p P, req actionRequest) error) action {
	return on(func(ctx context.Context, p P, req actionRequest) (any, error) {
		return nil, fn(ctx, p, req)
	})
}

func reload(ctx context.Context, p page.Page, _ actionRequest) (any, error) {
	return nil, p.Load(ctx)
}

// actions はページ種別ごとのアクション表。
var actions = map[string]map[string]action{
	page.KindFeed: {
		"like": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.Like(ctx, req.TweetID)
		}),
		"unlike": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.Unlike(ctx, req.TweetID)
		}),
		"toggle_like": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.ToggleLike(ctx, req.TweetID)
		}),
		"post": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.Post(ctx, req.Content, req.Photo.upload())
		}),
		"delete": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.Delete(ctx, req.TweetID)
		}),
		"open_tweet": on(func(ctx context.Context, p *page.FeedPage, req actionRequest) (any, error) {
			return p.OpenTweet(ctx, req.TweetID)
		}),
		"comment": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.Comment(ctx, req.TweetID, req.Content)
		}),
		"delete_comment": none(func(ctx context.Context, p *page.FeedPage, req actionRequest) error {
			return p.DeleteComment(ctx, req.TweetID, req.CommentID)
		}),
	},
	page.KindProfile: {
		"follow": none(func(ctx context.Context, p *page.ProfilePage, _ actionRequest) error {
			return p.FollowAction(ctx)
		}),
		"refresh_follow_requests": none(func(ctx context.Context, p *page.ProfilePage, _ actionRequest) error {
			return p.RefreshFollowRequests(ctx)
		}),
		"remove_follower": none(func(ctx context.Context, p *page.ProfilePage, req actionRequest) error {
			return p.RemoveFollower(ctx, req.Username)
		}),
		"decide_follow_request": none(func(ctx context.Context, p *page.ProfilePage, req actionRequest) error {
			return p.DecideFollowRequest(ctx, req.RequestID, req.Decision)
		}),
	},
	page.KindGroup: {
		"request_join": none(func(ctx context.Context, p *page.GroupPage, _ actionRequest) error {
			return p.RequestJoin(ctx)
		}),
		"leave": none(func(ctx context.Context, p *page.GroupPage, _ actionRequest) error {
			return p.Leave(ctx)
		}),
		"decide_join_request": on(func(ctx context.Context, p *page.GroupPage, req actionRequest) (any, error) {
			return p.DecideJoinRequest(ctx, req.RequestID, req.Decision)
		}),
		"decide_follow_request": on(func(ctx context.Context, p *page.GroupPage, req actionRequest) (any, error) {
			return p.DecideFollowRequest(ctx, req.RequestID, req.Decision)
		}),
		"remove_member": none(func(ctx context.Context, p *page.GroupPage, req actionRequest) error {
			return p.RemoveMember(ctx, req.Username)
		}),
		"post": none(func(ctx context.Context, p *page.GroupPage, req actionRequest) error {
			return p.Post(ctx, req.Content)
		}),
		"send_message": none(func(ctx context.Context, p *page.GroupPage, req actionRequest) error {
			return p.SendMessage(ctx, req.Content)
		}),
	},
	page.KindGroups: {
		"create": none(func(ctx context.Context, p *page.GroupsPage, req actionRequest) error {
			return p.Create(ctx, req.Name, req.Bio, req.Photo.upload())
		}),
	},
	page.KindMessages: {
		"open": none(func(ctx context.Context, p *page.MessagesPage, req actionRequest) error {
			return p.Open(ctx, req.Peer)
		}),
		"send": none(func(ctx context.Context, p *page.MessagesPage, req actionRequest) error {
			return p.Send(ctx, req.Content)
		}),
	},
	page.KindPolls: {
		"vote": none(func(ctx context.Context, p *page.PollsPage, req actionRequest) error {
			return p.Vote(ctx, req.PollID, req.Option)
		}),
		"create": none(func(ctx context.Context, p *page.PollsPage, req actionRequest) error {
			return p.Create(ctx, req.Question, req.Options...)
		}),
		"delete": none(func(ctx context.Context, p *page.PollsPage, req actionRequest) error {
			return p.Delete(ctx, req.PollID)
		}),
	},
	page.KindUsers: {
		"search": on(func(_ context.Context, p *page.UsersPage, req actionRequest) (any, error) {
			return p.Search(req.Query), nil
		}),
		"request_follow": none(func(ctx context.Context, p *page.UsersPage, req actionRequest) error {
			return p.RequestFollow(ctx, req.Username)
		}),
		"unfollow": none(func(ctx context.Context, p *page.UsersPage, req actionRequest) error {
			return p.Unfollow(ctx, req.Username)
		}),
	},
}

// lookupAction はページ種別とアクション名から実装を引く。reloadは全種別で使える。
func lookupAction(kind, name string) (action, bool) {
	if name == "reload" {
		return reload, true
	}
	fn, ok := actions[kind][name]
	return fn, ok
}
