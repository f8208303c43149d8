package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// FeedPage のコレクション
const (
	KeyFeed        viewmodel.Key = "feed"
	KeyTweetDetail viewmodel.Key = "tweet_detail"
)

// FeedPage はタイムラインとツイート詳細を扱う。
type FeedPage struct {
	*base
}

// NewFeedPage はFeedPageをマウントする。
func NewFeedPage(ctx context.Context, deps Deps) (*FeedPage, error) {
	b, err := newBase(ctx, deps, KindFeed)
	if err != nil {
		return nil, err
	}
	return &FeedPage{base: b}, nil
}

// Load はタイムラインを取得する。
func (p *FeedPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyFeed, p.fetchFeed)
	return err
}

func (p *FeedPage) fetchFeed(ctx context.Context) ([]model.ContentItem, error) {
	recs, err := p.deps.API.Feed(ctx, p.viewer)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.Tweets(recs), nil
}

// Feed はタイムラインの表示値を返す。
func (p *FeedPage) Feed() []model.ContentItem {
	return viewmodel.Snapshot[model.ContentItem](p.store, KeyFeed)
}

// Detail は開いているツイート詳細を返す。
func (p *FeedPage) Detail() (model.TweetDetail, bool) {
	return viewmodel.Value[model.TweetDetail](p.store, KeyTweetDetail)
}

// Like はいいね数を楽観的に+1してからAPIに送る。失敗時は表示を戻す。
func (p *FeedPage) Like(ctx context.Context, tweetID string) error {
	return p.setLiked(ctx, tweetID, true)
}

// Unlike はいいね数を楽観的に-1してからAPIに送る。失敗時は表示を戻す。
func (p *FeedPage) Unlike(ctx context.Context, tweetID string) error {
	return p.setLiked(ctx, tweetID, false)
}

// ToggleLike は現在の表示状態に応じていいね/取り消しを行う。
func (p *FeedPage) ToggleLike(ctx context.Context, tweetID string) error {
	liked := false
	if d, ok := p.Detail(); ok && d.Tweet.ID == tweetID {
		liked = d.Tweet.LikedByMe
	} else {
		for _, it := range p.Feed() {
			if it.ID == tweetID {
				liked = it.LikedByMe
				break
			}
		}
	}
	return p.setLiked(ctx, tweetID, !liked)
}

func (p *FeedPage) setLiked(ctx context.Context, tweetID string, liked bool) error {
	if err := p.guard(); err != nil {
		return err
	}
	delta := 1
	if !liked {
		delta = -1
	}

	isTweet := func(it model.ContentItem) bool { return it.ID == tweetID }
	isDetail := func(d model.TweetDetail) bool { return d.Tweet.ID == tweetID }
	patchFeed := func(items []model.ContentItem) []model.ContentItem {
		for i := range items {
			if items[i].ID == tweetID {
				items[i] = applyLike(items[i], liked, delta)
			}
		}
		return items
	}
	patchDetail := func(items []model.TweetDetail) []model.TweetDetail {
		for i := range items {
			if items[i].Tweet.ID != tweetID {
				continue
			}
			d := items[i]
			d.Tweet = applyLike(d.Tweet, liked, delta)
			d.LikedUsers = toggleUser(d.LikedUsers, p.viewer, liked)
			items[i] = d
		}
		return items
	}

	if err := viewmodel.ApplyOptimistic(p.store, KeyFeed, patchFeed); err != nil {
		return err
	}
	_, hasDetail := p.Detail()
	if hasDetail {
		if err := viewmodel.ApplyOptimistic(p.store, KeyTweetDetail, patchDetail); err != nil {
			rollbackWhere(p.base, KeyFeed, isTweet, err)
			return err
		}
	}

	var err error
	if liked {
		err = p.deps.API.Like(ctx, tweetID, p.viewer)
	} else {
		err = p.deps.API.Unlike(ctx, tweetID, p.viewer)
	}
	if err != nil {
		rollbackWhere(p.base, KeyFeed, isTweet, err)
		if hasDetail {
			rollbackWhere(p.base, KeyTweetDetail, isDetail, err)
		}
		return err
	}
	return nil
}

func applyLike(it model.ContentItem, liked bool, delta int) model.ContentItem {
	if it.LikedByMe == liked {
		return it
	}
	it.LikedByMe = liked
	it.LikeCount += delta
	if it.LikeCount < 0 {
		it.LikeCount = 0
	}
	return it
}

func toggleUser(users []string, user string, add bool) []string {
	out := make([]string, 0, len(users)+1)
	for _, u := range users {
		if u != user {
			out = append(out, u)
		}
	}
	if add {
		out = append(out, user)
	}
	return out
}

// Post はツイートを投稿し、タイムラインを再取得する。
func (p *FeedPage) Post(ctx context.Context, content string, photo *api.Upload) error {
	if err := p.guard(); err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" && photo == nil {
		return fmt.Errorf("%w: tweet content is empty", ErrInvalidInput)
	}
	if _, err := p.deps.API.CreateTweet(ctx, api.NewTweet{Username: p.viewer, Content: content, Photo: photo}); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyFeed, p.fetchFeed)
	return err
}

// Delete は自分のツイートを削除し、タイムラインを再取得する。
func (p *FeedPage) Delete(ctx context.Context, tweetID string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if author, ok := p.authorOf(tweetID); ok && author != p.viewer {
		return ErrForbidden
	}
	if err := p.deps.API.DeleteTweet(ctx, tweetID); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyFeed, p.fetchFeed)
	return err
}

func (p *FeedPage) authorOf(tweetID string) (string, bool) {
	for _, it := range viewmodel.Authoritative[model.ContentItem](p.store, KeyFeed) {
		if it.ID == tweetID {
			return it.Author, true
		}
	}
	if d, ok := p.Detail(); ok && d.Tweet.ID == tweetID {
		return d.Tweet.Author, true
	}
	return "", false
}

// OpenTweet はツイート詳細（コメント、いいねしたユーザー）を取得する。
func (p *FeedPage) OpenTweet(ctx context.Context, tweetID string) (model.TweetDetail, error) {
	if err := p.guard(); err != nil {
		return model.TweetDetail{}, err
	}
	return refreshValue(ctx, p.base, KeyTweetDetail, func(ctx context.Context) (model.TweetDetail, error) {
		rec, err := p.deps.API.FullTweet(ctx, tweetID)
		if err != nil {
			return model.TweetDetail{}, err
		}
		return p.deps.Ingest.TweetDetail(rec, p.viewer)
	})
}

// Comment はコメントを投稿し、詳細を再取得する。
func (p *FeedPage) Comment(ctx context.Context, tweetID, content string) error {
	if err := p.guard(); err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: comment is empty", ErrInvalidInput)
	}
	if err := p.deps.API.AddComment(ctx, tweetID, p.viewer, content); err != nil {
		return err
	}
	_, err := p.OpenTweet(ctx, tweetID)
	return err
}

// DeleteComment は自分のコメントを削除し、詳細を再取得する。
func (p *FeedPage) DeleteComment(ctx context.Context, tweetID, commentID string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if d, ok := p.Detail(); ok && d.Tweet.ID == tweetID {
		for _, c := range d.Comments {
			if c.ID == commentID && c.Author != p.viewer {
				return ErrForbidden
			}
		}
	}
	if err := p.deps.API.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	_, err := p.OpenTweet(ctx, tweetID)
	return err
}
