package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// KeyPolls は投票一覧のコレクション。
const KeyPolls viewmodel.Key = "polls"

// ErrAlreadyVoted は投票済みの投票に再度投票しようとしたことを示す。
var ErrAlreadyVoted = errors.New("already voted")

// PollsPage は投票一覧、投票、作成、削除を扱う。
type PollsPage struct {
	*base
}

// NewPollsPage はPollsPageをマウントする。
func NewPollsPage(ctx context.Context, deps Deps) (*PollsPage, error) {
	b, err := newBase(ctx, deps, KindPolls)
	if err != nil {
		return nil, err
	}
	return &PollsPage{base: b}, nil
}

// Load は投票一覧と各投票の詳細を取得する。
func (p *PollsPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyPolls, p.fetchPolls)
	return err
}

// fetchPolls は一覧を取得し、詳細を1件ずつ補う。
// 詳細の取得に失敗した投票は選択肢なしのまま残す。
func (p *PollsPage) fetchPolls(ctx context.Context) ([]model.Poll, error) {
	recs, err := p.deps.API.PollFeed(ctx)
	if err != nil {
		return nil, err
	}
	polls := p.deps.Ingest.Polls(recs)
	for i := range polls {
		detailed, err := p.fetchDetails(ctx, polls[i])
		if err != nil {
			p.logger.Warn("投票の詳細取得に失敗しました",
				slog.String("poll_id", polls[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		polls[i] = detailed
	}
	return polls, nil
}

func (p *PollsPage) fetchDetails(ctx context.Context, poll model.Poll) (model.Poll, error) {
	rec, err := p.deps.API.Poll(ctx, poll.ID)
	if err != nil {
		return poll, err
	}
	return p.deps.Ingest.PollDetails(poll, rec), nil
}

// Polls は投票一覧を返す。
func (p *PollsPage) Polls() []model.Poll {
	return viewmodel.Snapshot[model.Poll](p.store, KeyPolls)
}

func (p *PollsPage) find(pollID string) (model.Poll, bool) {
	for _, poll := range p.Polls() {
		if poll.ID == pollID {
			return poll, true
		}
	}
	return model.Poll{}, false
}

// Vote はoptionに投票する。集計は楽観的に反映し、送信後にその投票だけ再取得する。
func (p *PollsPage) Vote(ctx context.Context, pollID, option string) error {
	if err := p.guard(); err != nil {
		return err
	}
	poll, ok := p.find(pollID)
	if !ok {
		return fmt.Errorf("%w: poll %s not found", ErrInvalidInput, pollID)
	}
	if poll.HasVoted(p.viewer) {
		return ErrAlreadyVoted
	}
	if len(poll.Options) > 0 && !containsString(poll.Options, option) {
		return fmt.Errorf("%w: poll %s has no option %q", ErrInvalidInput, pollID, option)
	}

	err := optimistic(ctx, p.base, KeyPolls, func(it model.Poll) bool { return it.ID == pollID }, func(polls []model.Poll) []model.Poll {
		for i := range polls {
			if polls[i].ID != pollID {
				continue
			}
			counts := make(map[string]int, len(polls[i].Counts)+1)
			for k, v := range polls[i].Counts {
				counts[k] = v
			}
			counts[option]++
			polls[i].Counts = counts
			polls[i].Voters = append(append([]string(nil), polls[i].Voters...), p.viewer)
		}
		return polls
	}, func(ctx context.Context) error {
		return p.deps.API.CastVote(ctx, p.viewer, pollID, option)
	})
	if err != nil {
		return err
	}
	return p.refreshPoll(ctx, pollID)
}

// refreshPoll はpollIDの詳細だけを再取得し、一覧の該当要素を置き換える。
func (p *PollsPage) refreshPoll(ctx context.Context, pollID string) error {
	_, err := refresh(ctx, p.base, KeyPolls, func(ctx context.Context) ([]model.Poll, error) {
		polls := viewmodel.Authoritative[model.Poll](p.store, KeyPolls)
		for i := range polls {
			if polls[i].ID != pollID {
				continue
			}
			detailed, err := p.fetchDetails(ctx, polls[i])
			if err != nil {
				return nil, err
			}
			polls[i] = detailed
		}
		return polls, nil
	})
	return err
}

// Create は投票を作成し、一覧を再取得する。選択肢は2つ以上3つ以下。
func (p *PollsPage) Create(ctx context.Context, question string, options ...string) error {
	if err := p.guard(); err != nil {
		return err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	opts := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	if len(opts) < 2 || len(opts) > 3 {
		return fmt.Errorf("%w: poll needs 2 or 3 options, got %d", ErrInvalidInput, len(opts))
	}

	np := api.NewPoll{Username: p.viewer, Question: question, OptionA: opts[0], OptionB: opts[1]}
	if len(opts) == 3 {
		np.OptionC = opts[2]
	}
	if err := p.deps.API.CreatePoll(ctx, np); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyPolls, p.fetchPolls)
	return err
}

// Delete は自分の投票を削除し、一覧を再取得する。
func (p *PollsPage) Delete(ctx context.Context, pollID string) error {
	if err := p.guard(); err != nil {
		return err
	}
	poll, ok := p.find(pollID)
	if !ok {
		return fmt.Errorf("%w: poll %s not found", ErrInvalidInput, pollID)
	}
	if poll.Author != p.viewer {
		return ErrForbidden
	}
	if err := p.deps.API.DeletePoll(ctx, pollID); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyPolls, p.fetchPolls)
	return err
}
