// Package ingest はリモートAPIの生レコードをドメインモデルに変換する。
//
// 変換時にユーザー識別子を文字列に揃え（identity）、画像をdata URIに正規化し（media）、
// ユーザー入力テキストをサニタイズする（security）。ここを通過した値だけがビューモデルに入る。
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/socialsync/internal/identity"
	"github.com/hitoshi/socialsync/internal/media"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/security"
)

// Record はAPIが返すJSONオブジェクト1件。
type Record = map[string]any

// Ingestor はレコードの変換を行う。複数goroutineから同時に利用できる。
type Ingestor struct {
	codec     *media.Codec
	sanitizer security.ContentSanitizerService
}

// New はIngestorを生成する。
func New(codec *media.Codec, sanitizer security.ContentSanitizerService) *Ingestor {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &Ingestor{codec: codec, sanitizer: sanitizer}
}

// User はユーザーレコードを変換する。
func (in *Ingestor) User(rec Record) model.UserSummary {
	u := model.UserSummary{
		Username: identity.CurrentUsername(rec),
		Name:     in.text(firstString(rec, "name", "displayName")),
		Email:    firstString(rec, "email", "mailid"),
		Bio:      in.sanitizer.Bio(firstString(rec, "bio")),
	}
	if u.Name == "" {
		u.Name = in.text(strings.TrimSpace(firstString(rec, "firstname") + " " + firstString(rec, "lastname")))
	}
	if ref, ok := in.codec.ResolveImage(rec); ok {
		u.PhotoRef = ref
	}
	return u
}

// Users はユーザーレコードの一覧を変換する。
func (in *Ingestor) Users(recs []Record) []model.UserSummary {
	out := make([]model.UserSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.User(rec))
	}
	return out
}

// Tweet はツイート（グループ投稿を含む）を変換する。
// photo は投稿画像、userphoto は作成者のアバター。
func (in *Ingestor) Tweet(rec Record) model.ContentItem {
	item := model.ContentItem{
		ID:         firstString(rec, "tweetid", "id", "_id"),
		Author:     firstString(rec, "username"),
		AuthorName: in.text(firstString(rec, "author")),
		Body:       in.text(firstString(rec, "content_", "content")),
		Group:      firstString(rec, "group_name", "grpname"),
		Timestamp:  firstString(rec, "time_", "time"),
		LikeCount:  intOf(rec["like_count"]),
	}
	if item.Author == "" {
		item.Author = item.AuthorName
	}
	if n, ok := rec["comment_count"]; ok {
		item.CommentCount = intOf(n)
	}
	item.PhotoRef = in.imageAt(rec, "photo")
	item.AuthorPhotoRef = in.imageAt(rec, "userphoto")
	return item
}

// Tweets はツイート一覧を変換する。
func (in *Ingestor) Tweets(recs []Record) []model.ContentItem {
	out := make([]model.ContentItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.Tweet(rec))
	}
	return out
}

// Comment はコメントを変換する。
func (in *Ingestor) Comment(rec Record) model.ContentItem {
	item := model.ContentItem{
		ID:         firstString(rec, "_id", "id", "commentid"),
		Author:     firstString(rec, "username"),
		AuthorName: in.text(firstString(rec, "author")),
		Body:       in.text(firstString(rec, "content_", "content")),
		Timestamp:  firstString(rec, "time_", "time"),
	}
	if item.Author == "" {
		item.Author = item.AuthorName
	}
	item.AuthorPhotoRef = in.imageAt(rec, "userphoto")
	return item
}

// TweetDetail は /full_tweet のレスポンスを変換する。
// tweet 配列が空の場合はエラーを返す。
func (in *Ingestor) TweetDetail(rec Record, viewer string) (model.TweetDetail, error) {
	tweets := records(rec["tweet"])
	if len(tweets) == 0 {
		return model.TweetDetail{}, model.NewInvalidResponseError("tweet", fmt.Errorf("tweet not found"))
	}

	d := model.TweetDetail{
		Tweet:      in.Tweet(tweets[0]),
		Comments:   []model.ContentItem{},
		LikedUsers: []string{},
	}
	for _, c := range records(rec["comments"]) {
		d.Comments = append(d.Comments, in.Comment(c))
	}
	if raw, ok := rec["liked_users"].([]any); ok {
		for _, u := range raw {
			if name := identity.CurrentUsername(u); name != "" {
				d.LikedUsers = append(d.LikedUsers, name)
			}
		}
	}

	d.Tweet.CommentCount = len(d.Comments)
	d.Tweet.LikeCount = len(d.LikedUsers)
	for _, u := range d.LikedUsers {
		if u == viewer {
			d.Tweet.LikedByMe = true
			break
		}
	}
	return d, nil
}

// Group はグループを変換する。
func (in *Ingestor) Group(rec Record) model.Group {
	return model.Group{
		Name:     firstString(rec, "grpname", "groupname", "name"),
		Admin:    identity.CurrentUsername(rec["admin"]),
		Bio:      in.sanitizer.Bio(firstString(rec, "bio", "groupbio")),
		PhotoRef: in.imageAt(rec, "photo", "groupphoto"),
	}
}

// Groups はグループ一覧を変換する。
func (in *Ingestor) Groups(recs []Record) []model.Group {
	out := make([]model.Group, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.Group(rec))
	}
	return out
}

// Members はメンバーレコードをユーザー名の一覧に変換する。
// 識別できないレコードも件数を保つため Unknown-<index> として残す。
func (in *Ingestor) Members(recs []Record) []string {
	raw := make([]any, len(recs))
	for i, r := range recs {
		raw[i] = r
	}
	edges := identity.NormalizeEdgeList(raw, "username")
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Identifier
	}
	return out
}

// JoinRequest はグループ参加申請を変換する。
func (in *Ingestor) JoinRequest(rec Record) model.JoinRequest {
	return model.JoinRequest{
		ID:          firstString(rec, "id", "_id", "request_id"),
		Username:    identity.CurrentUsername(rec["username"]),
		Group:       firstString(rec, "grp_name", "grpname"),
		Admin:       identity.CurrentUsername(rec["admin"]),
		Status:      status(rec),
		RequestedAt: firstString(rec, "time_", "created_at"),
	}
}

// JoinRequests は参加申請一覧を変換する。
func (in *Ingestor) JoinRequests(recs []Record) []model.JoinRequest {
	out := make([]model.JoinRequest, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.JoinRequest(rec))
	}
	return out
}

// FollowRequest はフォロー申請を変換する。
func (in *Ingestor) FollowRequest(rec Record) model.FollowRequest {
	return model.FollowRequest{
		ID:          firstString(rec, "id", "_id", "request_id"),
		Requester:   identity.CurrentUsername(rec["requester"]),
		Target:      identity.CurrentUsername(rec["target"]),
		Status:      status(rec),
		RequestedAt: firstString(rec, "time_", "created_at"),
	}
}

// FollowRequests はフォロー申請一覧を変換する。
func (in *Ingestor) FollowRequests(recs []Record) []model.FollowRequest {
	out := make([]model.FollowRequest, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.FollowRequest(rec))
	}
	return out
}

// GroupMessages はグループチャットを変換する。
func (in *Ingestor) GroupMessages(group string, recs []Record) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.ChatMessage{
			ID:        firstString(rec, "id", "_id"),
			Sender:    identity.CurrentUsername(rec["sender"]),
			Group:     group,
			Body:      in.text(firstString(rec, "message", "msg")),
			Timestamp: firstString(rec, "time_", "time"),
		})
	}
	return out
}

// DirectMessages はダイレクトメッセージを変換する。
// receiver を含まないレコードは送信者でない方の参加者を受信者とする。
func (in *Ingestor) DirectMessages(user1, user2 string, recs []Record) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(recs))
	for _, rec := range recs {
		msg := model.ChatMessage{
			ID:        firstString(rec, "id", "_id"),
			Sender:    identity.CurrentUsername(rec["sender"]),
			Receiver:  identity.CurrentUsername(rec["receiver"]),
			Body:      in.text(firstString(rec, "msg", "message")),
			Timestamp: firstString(rec, "time_", "time"),
		}
		if msg.Receiver == "" {
			if msg.Sender == user1 {
				msg.Receiver = user2
			} else {
				msg.Receiver = user1
			}
		}
		out = append(out, msg)
	}
	return out
}

// Poll は投票一覧の1件を変換する。選択肢と集計は PollDetails で補う。
func (in *Ingestor) Poll(rec Record) model.Poll {
	return model.Poll{
		ID:       firstString(rec, "id_", "id", "_id"),
		Author:   firstString(rec, "username"),
		Name:     in.text(firstString(rec, "name")),
		Question: in.text(firstString(rec, "content_", "Question", "question")),
		PhotoRef: in.imageAt(rec, "photo"),
	}
}

// Polls は投票一覧を変換する。
func (in *Ingestor) Polls(recs []Record) []model.Poll {
	out := make([]model.Poll, 0, len(recs))
	for _, rec := range recs {
		out = append(out, in.Poll(rec))
	}
	return out
}

// PollDetails は /poll/{id} のレスポンス（options, count: [[option, n]...], voted）をpollに反映する。
func (in *Ingestor) PollDetails(poll model.Poll, rec Record) model.Poll {
	poll.Options = nil
	if raw, ok := rec["options"].([]any); ok {
		for _, o := range raw {
			if s := stringOf(o); s != "" {
				poll.Options = append(poll.Options, in.text(s))
			}
		}
	}

	poll.Counts = make(map[string]int)
	if raw, ok := rec["count"].([]any); ok {
		for _, pair := range raw {
			p, ok := pair.([]any)
			if !ok || len(p) < 2 {
				continue
			}
			poll.Counts[in.text(stringOf(p[0]))] += intOf(p[1])
		}
	}

	poll.Voters = nil
	if raw, ok := rec["voted"].([]any); ok {
		for _, v := range raw {
			if name := identity.CurrentUsername(v); name != "" {
				poll.Voters = append(poll.Voters, name)
			}
		}
	}
	return poll
}

func (in *Ingestor) text(s string) string {
	return in.sanitizer.PlainText(s)
}

// imageAt はkeysの値だけを対象に画像を解決する。解決できない場合は空文字列。
func (in *Ingestor) imageAt(rec Record, keys ...string) string {
	ref, _ := in.codec.ResolveField(rec, keys...)
	return ref
}

func status(rec Record) model.EdgeStatus {
	s := strings.ToLower(firstString(rec, "status"))
	if s == "" {
		return model.EdgeStatusPending
	}
	return model.EdgeStatus(s)
}

func records(v any) []Record {
	raw, ok := v.([]any)
	if !ok {
		if recs, ok := v.([]Record); ok {
			return recs
		}
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		if rec, ok := r.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

// firstString はkeysのうち最初に見つかった値を文字列で返す。数値IDも文字列化する。
func firstString(rec Record, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(rec[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

func intOf(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	default:
		return 0
	}
}
