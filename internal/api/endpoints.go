package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/socialsync/internal/model"
)

// --- 認証・ユーザー ---

// IssueToken はユーザー名とパスワードをアクセストークンに交換する。
func (c *Client) IssueToken(ctx context.Context, username, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	body, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "/token",
		path:     "/token",
		form:     url.Values{"username": {username}, "password": {password}},
		what:     "login",
		write:    true,
	})
	if err != nil {
		return "", err
	}
	if err := c.decode(body, "login", &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// CurrentUser はtokenの持ち主を取得する。
// ログイン処理中はセッションにまだトークンが無いため明示的に渡す。
func (c *Client) CurrentUser(ctx context.Context, token string) (*model.UserSummary, error) {
	body, err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/me",
		path:     "/me",
		token:    token,
		what:     "user info",
	})
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := c.decode(body, "user info", &rec); err != nil {
		return nil, err
	}
	return UserSummaryFromRecord(rec), nil
}

// Me は現在のセッションのユーザーレコードを取得する。
func (c *Client) Me(ctx context.Context) (Record, error) {
	var out Record
	err := c.getJSON(ctx, "/me", "/me", nil, "user info", &out)
	return out, err
}

// NewUser はユーザー登録フォーム。
type NewUser struct {
	Username    string
	Password    string
	Email       string
	FirstName   string
	LastName    string
	Location    string
	Bio         string
	Website     string
	DateOfBirth string
	Photo       *Upload
}

func (u NewUser) form() url.Values {
	f := url.Values{}
	set := func(k, v string) {
		if v != "" {
			f.Set(k, v)
		}
	}
	set("username", u.Username)
	set("password", u.Password)
	set("mailid", u.Email)
	set("firstname", u.FirstName)
	set("lastname", u.LastName)
	set("location", u.Location)
	set("bio", u.Bio)
	set("website", u.Website)
	set("dateofbirth", u.DateOfBirth)
	return f
}

// Register はユーザーを登録する。
func (c *Client) Register(ctx context.Context, u NewUser) (Record, error) {
	var out Record
	body, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "/new_user",
		path:     "/new_user",
		form:     u.form(),
		upload:   u.Photo,
		uploadAs: "photo",
		what:     "create user",
		write:    true,
	})
	if err != nil {
		return nil, err
	}
	err = c.decode(body, "create user", &out)
	return out, err
}

// VerifyUser はusernameが現在のセッションで認証済みかを確認する。
// 失敗は全てfalseとして扱う。
func (c *Client) VerifyUser(ctx context.Context, username string) bool {
	_, err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/auth/{username}",
		path:     pathf("/auth/%s", username),
		what:     "verify user",
	})
	return err == nil
}

// UserProfile はユーザーのプロフィールを取得する。
func (c *Client) UserProfile(ctx context.Context, username string) (Record, error) {
	var out Record
	err := c.getJSON(ctx, "/user/{username}", pathf("/user/%s", username), nil, "user profile", &out)
	return out, err
}

// AllUsers は全ユーザーを取得する。
func (c *Client) AllUsers(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/all_users", "/all_users", nil, "users", &out)
	return out, err
}

// --- ツイート ---

// Feed はusernameのタイムラインを取得する。
func (c *Client) Feed(ctx context.Context, username string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/feed/{username}", pathf("/feed/%s", username), nil, "feed", &out)
	return out, err
}

// UserPosts はusernameの投稿一覧を取得する。
func (c *Client) UserPosts(ctx context.Context, username string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/user_posts/{username}", pathf("/user_posts/%s", username), nil, "user posts", &out)
	return out, err
}

// NewTweet は投稿フォーム。Groupが空でない場合はグループ投稿になる。
type NewTweet struct {
	Username string
	Content  string
	Group    string
	Photo    *Upload
}

// CreateTweet は投稿を作成する。
func (c *Client) CreateTweet(ctx context.Context, t NewTweet) (Record, error) {
	form := url.Values{"username": {t.Username}, "content": {t.Content}}
	if t.Group != "" {
		form.Set("group_name", t.Group)
	}
	var out Record
	body, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "/new_tweet",
		path:     "/new_tweet",
		form:     form,
		upload:   t.Photo,
		uploadAs: "photo",
		what:     "create tweet",
		write:    true,
	})
	if err != nil {
		return nil, err
	}
	err = c.decode(body, "create tweet", &out)
	return out, err
}

// DeleteTweet は投稿を削除する。
func (c *Client) DeleteTweet(ctx context.Context, tweetID string) error {
	return c.mutateGET(ctx, "/delete_tweet/{id}", pathf("/delete_tweet/%s", tweetID), nil, "delete tweet", nil)
}

// FullTweet は投稿とコメント、いいねしたユーザーを取得する。
func (c *Client) FullTweet(ctx context.Context, tweetID string) (Record, error) {
	var out Record
	err := c.getJSON(ctx, "/full_tweet/{id}", pathf("/full_tweet/%s", tweetID), nil, "tweet", &out)
	return out, err
}

// Like は投稿にいいねする。
func (c *Client) Like(ctx context.Context, tweetID, username string) error {
	return c.postForm(ctx, "/new_like", "/new_like", url.Values{"tweet_id": {tweetID}, "user_id": {username}}, "like tweet", nil)
}

// Unlike はいいねを取り消す。
func (c *Client) Unlike(ctx context.Context, tweetID, username string) error {
	return c.postForm(ctx, "/new_unlike", "/new_unlike", url.Values{"tweet_id": {tweetID}, "user_id": {username}}, "unlike tweet", nil)
}

// AddComment はコメントを投稿する。
func (c *Client) AddComment(ctx context.Context, tweetID, username, content string) error {
	return c.postForm(ctx, "/new_comment", "/new_comment",
		url.Values{"tweet_id": {tweetID}, "username": {username}, "content": {content}}, "add comment", nil)
}

// DeleteComment はコメントを削除する。
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.mutateGET(ctx, "/delete_comment/{id}", pathf("/delete_comment/%s", commentID), nil, "delete comment", nil)
}

// --- フォロー ---

func followQuery(current, target string) url.Values {
	return url.Values{"curuser": {current}, "user": {target}}
}

// Follow はtargetをフォローする。
func (c *Client) Follow(ctx context.Context, current, target string) error {
	return c.mutateGET(ctx, "/new_follow", "/new_follow", followQuery(current, target), "follow user", nil)
}

// Unfollow はフォローを解除する。
func (c *Client) Unfollow(ctx context.Context, current, target string) error {
	return c.mutateGET(ctx, "/new_unfollow", "/new_unfollow", followQuery(current, target), "unfollow user", nil)
}

// IsFollowing はcurrentがtargetをフォローしているかを返す。
func (c *Client) IsFollowing(ctx context.Context, current, target string) (bool, error) {
	var out struct {
		IsFollowing bool `json:"is_following"`
	}
	err := c.getJSON(ctx, "/is_following", "/is_following", followQuery(current, target), "follow status", &out)
	return out.IsFollowing, err
}

// RequestFollow は非公開アカウントへのフォロー申請を送る。
func (c *Client) RequestFollow(ctx context.Context, requester, target string) (Record, error) {
	var out Record
	err := c.postForm(ctx, "/request_follow/{requester}/{target}",
		pathf("/request_follow/%s/%s", requester, target), url.Values{}, "send follow request", &out)
	return out, err
}

// FollowRequests はusernameが受け取ったフォロー申請を取得する。
func (c *Client) FollowRequests(ctx context.Context, username string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/follow_requests/{username}", pathf("/follow_requests/%s", username), nil, "follow requests", &out)
	return out, err
}

// ApproveFollowRequest はフォロー申請を承認または却下する。
func (c *Client) ApproveFollowRequest(ctx context.Context, requestID string, decision model.Decision) error {
	return c.postForm(ctx, "/approve_follow_request", "/approve_follow_request",
		url.Values{"request_id": {requestID}, "action": {string(decision)}}, "process request", nil)
}

// Followers はusernameのフォロワー一覧を取得する。要素は文字列またはレコード。
func (c *Client) Followers(ctx context.Context, username string) ([]any, error) {
	var out []any
	err := c.getJSON(ctx, "/all_followers/{username}", pathf("/all_followers/%s", username), nil, "followers", &out)
	return out, err
}

// Following はusernameがフォローしているユーザー一覧を取得する。要素は文字列またはレコード。
func (c *Client) Following(ctx context.Context, username string) ([]any, error) {
	var out []any
	err := c.getJSON(ctx, "/user_following/{username}", pathf("/user_following/%s", username), nil, "users being followed", &out)
	return out, err
}

// RemoveFollower はfollowerをuserのフォロワーから外す。
func (c *Client) RemoveFollower(ctx context.Context, user, follower string) error {
	return c.postForm(ctx, "/remove_follower", "/remove_follower",
		url.Values{"user": {user}, "follower": {follower}}, "remove follower", nil)
}

// --- 投票 ---

// NewPoll は投票作成フォーム。
type NewPoll struct {
	Username string
	Question string
	OptionA  string
	OptionB  string
	OptionC  string
}

// CreatePoll は投票を作成する。
func (c *Client) CreatePoll(ctx context.Context, p NewPoll) error {
	form := url.Values{"username": {p.Username}, "Question": {p.Question}, "optiona": {p.OptionA}, "optionb": {p.OptionB}}
	if p.OptionC != "" {
		form.Set("optionc", p.OptionC)
	}
	return c.postForm(ctx, "/new_poll", "/new_poll", form, "create poll", nil)
}

// Poll は投票の詳細（選択肢、集計、投票済みユーザー）を取得する。
func (c *Client) Poll(ctx context.Context, pollID string) (Record, error) {
	var out Record
	err := c.getJSON(ctx, "/poll/{id}", pathf("/poll/%s", pollID), nil, "poll", &out)
	return out, err
}

// PollFeed は投票一覧を取得する。
func (c *Client) PollFeed(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/poll_feed", "/poll_feed", nil, "poll feed", &out)
	return out, err
}

// CastVote は投票する。
func (c *Client) CastVote(ctx context.Context, username, pollID, option string) error {
	return c.postForm(ctx, "/cast_vote", "/cast_vote",
		url.Values{"username": {username}, "poll_id": {pollID}, "option": {option}}, "cast vote", nil)
}

// DeletePoll は投票を削除する。
func (c *Client) DeletePoll(ctx context.Context, pollID string) error {
	return c.mutateGET(ctx, "/delete_poll/{id}", pathf("/delete_poll/%s", pollID), nil, "delete poll", nil)
}

// --- グループ ---

// NewGroup はグループ作成フォーム。
type NewGroup struct {
	Admin string
	Name  string
	Bio   string
	Photo *Upload
}

// CreateGroup はグループを作成する。
func (c *Client) CreateGroup(ctx context.Context, g NewGroup) error {
	form := url.Values{"admin": {g.Admin}, "groupname": {g.Name}}
	if g.Bio != "" {
		form.Set("groupbio", g.Bio)
	}
	_, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "/new_group",
		path:     "/new_group",
		form:     form,
		upload:   g.Photo,
		uploadAs: "groupphoto",
		what:     "create group",
		write:    true,
	})
	return err
}

// AllGroups は全グループを取得する。
func (c *Client) AllGroups(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/all_groups", "/all_groups", nil, "groups", &out)
	return out, err
}

// GroupDetail はグループの詳細を取得する。
func (c *Client) GroupDetail(ctx context.Context, group, username string) (Record, error) {
	var out Record
	err := c.getJSON(ctx, "/group_detail/{group}/{username}", pathf("/group_detail/%s/%s", group, username), nil, "group details", &out)
	return out, err
}

// GroupMembers はグループのメンバー一覧を取得する。
func (c *Client) GroupMembers(ctx context.Context, group string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/group_members/{group}", pathf("/group_members/%s", group), nil, "group members", &out)
	return out, err
}

// GroupPosts はグループの投稿一覧を取得する。
func (c *Client) GroupPosts(ctx context.Context, group string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/group_posts/{group}", pathf("/group_posts/%s", group), nil, "group posts", &out)
	return out, err
}

// JoinGroup はグループに参加する。
func (c *Client) JoinGroup(ctx context.Context, group, username string) error {
	return c.postForm(ctx, "/join_group", "/join_group", url.Values{"grpname": {group}, "username": {username}}, "join group", nil)
}

// LeaveGroup はグループから脱退する。
func (c *Client) LeaveGroup(ctx context.Context, group, username string) error {
	return c.postForm(ctx, "/leave_group", "/leave_group", url.Values{"grpname": {group}, "username": {username}}, "leave group", nil)
}

// JoinResult はグループ参加申請の結果。
type JoinResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Joined は申請が即時参加として処理されたかを返す（公開グループ）。
func (r JoinResult) Joined() bool {
	return r.Status == "success" && strings.Contains(r.Message, "joined successfully")
}

// RequestJoinGroup はグループへの参加を申請する。
func (c *Client) RequestJoinGroup(ctx context.Context, group, username string) (JoinResult, error) {
	var out JoinResult
	err := c.postForm(ctx, "/request_join_group", "/request_join_group",
		url.Values{"grpname": {group}, "username": {username}}, "send join request", &out)
	return out, err
}

// GroupJoinRequests はグループへの参加申請を取得する。
func (c *Client) GroupJoinRequests(ctx context.Context, group string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/group_join_requests/{group}", pathf("/group_join_requests/%s", group), nil, "join requests", &out)
	return out, err
}

// ApproveGroupRequest は参加申請を承認または却下する。
func (c *Client) ApproveGroupRequest(ctx context.Context, requestID string, decision model.Decision) error {
	return c.postForm(ctx, "/approve_group_request", "/approve_group_request",
		url.Values{"request_id": {requestID}, "action": {string(decision)}}, "process request", nil)
}

// RemoveGroupMember は管理者としてメンバーを外す。
func (c *Client) RemoveGroupMember(ctx context.Context, group, admin, username string) error {
	return c.postForm(ctx, "/remove_group_member", "/remove_group_member",
		url.Values{"grp_name": {group}, "admin": {admin}, "username": {username}}, "remove member", nil)
}

// GroupChat はグループチャットを取得する。
func (c *Client) GroupChat(ctx context.Context, group string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/group_chat/{group}", pathf("/group_chat/%s", group), nil, "group chat", &out)
	return out, err
}

// SendGroupMessage はグループチャットに送信する。
func (c *Client) SendGroupMessage(ctx context.Context, group, sender, message string) error {
	return c.postForm(ctx, "/send_group_message", "/send_group_message",
		url.Values{"grp_name": {group}, "sender": {sender}, "message": {message}}, "send message", nil)
}

// --- ダイレクトメッセージ ---

// Chat はuser1とuser2の間のメッセージを取得する。
func (c *Client) Chat(ctx context.Context, user1, user2 string) ([]Record, error) {
	var out []Record
	err := c.getJSON(ctx, "/get_chat/{user1}/{user2}", pathf("/get_chat/%s/%s", user1, user2), nil, "chat", &out)
	return out, err
}

// SendMessage はダイレクトメッセージを送信する。
func (c *Client) SendMessage(ctx context.Context, sender, receiver, msg string) error {
	return c.postForm(ctx, "/new_chat_msg", "/new_chat_msg",
		url.Values{"sender": {sender}, "receiver": {receiver}, "msg": {msg}}, "send message", nil)
}

// UserSummaryFromRecord はユーザーレコードから基本情報を取り出す。
// 画像はここでは解決しない。
func UserSummaryFromRecord(rec Record) *model.UserSummary {
	if rec == nil {
		return nil
	}
	u := &model.UserSummary{
		Username: stringField(rec, "username"),
		Bio:      stringField(rec, "bio"),
		Email:    stringField(rec, "email", "mailid"),
	}
	u.Name = stringField(rec, "name")
	if u.Name == "" {
		u.Name = strings.TrimSpace(stringField(rec, "firstname") + " " + stringField(rec, "lastname"))
	}
	return u
}

// stringField はkeysのうち最初に見つかった文字列値を返す。
func stringField(rec Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
