package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// KeyUsers はユーザー一覧のコレクション。
const KeyUsers viewmodel.Key = "users"

// UserRow はユーザー一覧の1行。閲覧ユーザーから見た関係を含む。
type UserRow struct {
	model.UserSummary
	Following bool `json:"following"`
	Requested bool `json:"requested"`
}

// UsersPage はユーザー一覧、検索、フォロー申請を扱う。
type UsersPage struct {
	*base
}

// NewUsersPage はUsersPageをマウントする。
func NewUsersPage(ctx context.Context, deps Deps) (*UsersPage, error) {
	b, err := newBase(ctx, deps, KindUsers)
	if err != nil {
		return nil, err
	}
	return &UsersPage{base: b}, nil
}

// Load は自分以外のユーザーと、それぞれのフォロー状態・申請状態を取得する。
func (p *UsersPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyUsers, p.fetchUsers)
	return err
}

func (p *UsersPage) fetchUsers(ctx context.Context) ([]UserRow, error) {
	recs, err := p.deps.API.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := excludeUser(p.deps.Ingest.Users(recs), p.viewer)

	requested := make(map[string]bool)
	if reqRecs, err := p.deps.API.FollowRequests(ctx, p.viewer); err != nil {
		p.logger.Warn("送信済みフォロー申請の取得に失敗しました", slog.String("error", err.Error()))
	} else {
		for _, r := range p.deps.Ingest.FollowRequests(reqRecs) {
			if r.Requester == p.viewer && r.Pending() {
				requested[r.Target] = true
			}
		}
	}

	rows := make([]UserRow, 0, len(users))
	for _, u := range users {
		following, err := p.deps.API.IsFollowing(ctx, p.viewer, u.Username)
		if err != nil {
			p.logger.Warn("フォロー状態の取得に失敗しました",
				slog.String("username", u.Username),
				slog.String("error", err.Error()),
			)
		}
		rows = append(rows, UserRow{UserSummary: u, Following: following, Requested: requested[u.Username]})
	}
	return rows, nil
}

// Users はユーザー一覧を返す。
func (p *UsersPage) Users() []UserRow {
	return viewmodel.Snapshot[UserRow](p.store, KeyUsers)
}

// Search はユーザー名、表示名、メールアドレスの部分一致で絞り込む。
// 空のクエリは全件を返す。
func (p *UsersPage) Search(query string) []UserRow {
	rows := p.Users()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Username), q) ||
			strings.Contains(strings.ToLower(r.Name), q) ||
			strings.Contains(strings.ToLower(r.Email), q) {
			out = append(out, r)
		}
	}
	return out
}

func (p *UsersPage) row(username string) (UserRow, bool) {
	for _, r := range p.Users() {
		if r.Username == username {
			return r, true
		}
	}
	return UserRow{}, false
}

func isRow(username string) func(UserRow) bool {
	return func(r UserRow) bool { return r.Username == username }
}

func (p *UsersPage) patchRow(username string, fn func(*UserRow)) func([]UserRow) []UserRow {
	return func(rows []UserRow) []UserRow {
		for i := range rows {
			if rows[i].Username == username {
				fn(&rows[i])
			}
		}
		return rows
	}
}

// RequestFollow はusernameにフォロー申請を送る。申請済み表示は楽観的に反映し、
// 送信に失敗した場合は取り消す。「既にフォロー中」の応答はフォロー中として反映する。
func (p *UsersPage) RequestFollow(ctx context.Context, username string) error {
	if err := p.guard(); err != nil {
		return err
	}
	r, ok := p.row(username)
	if !ok {
		return fmt.Errorf("%w: user %s not found", ErrInvalidInput, username)
	}
	if r.Following || r.Requested {
		return nil
	}

	err := optimistic(ctx, p.base, KeyUsers, isRow(username), p.patchRow(username, func(r *UserRow) { r.Requested = true }),
		func(ctx context.Context) error {
			_, err := p.deps.API.RequestFollow(ctx, p.viewer, username)
			switch {
			case err == nil, model.DetailContains(err, "Follow request already pending"):
				return nil
			case model.DetailContains(err, "Already following"):
				_ = viewmodel.ApplyOptimistic(p.store, KeyUsers, p.patchRow(username, func(r *UserRow) {
					r.Requested = false
					r.Following = true
				}))
				return nil
			default:
				return err
			}
		})
	return err
}

// Unfollow はusernameのフォローを解除する。解除は楽観的に反映する。
func (p *UsersPage) Unfollow(ctx context.Context, username string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if r, ok := p.row(username); !ok || !r.Following {
		return nil
	}
	return optimistic(ctx, p.base, KeyUsers, isRow(username), p.patchRow(username, func(r *UserRow) { r.Following = false }),
		func(ctx context.Context) error {
			return p.deps.API.Unfollow(ctx, p.viewer, username)
		})
}
