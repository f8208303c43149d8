package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/socialsync/internal/api"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// KeyGroups はグループ一覧のコレクション。
const KeyGroups viewmodel.Key = "groups"

// GroupsPage はグループ一覧と作成を扱う。
type GroupsPage struct {
	*base
}

// NewGroupsPage はGroupsPageをマウントする。
func NewGroupsPage(ctx context.Context, deps Deps) (*GroupsPage, error) {
	b, err := newBase(ctx, deps, KindGroups)
	if err != nil {
		return nil, err
	}
	return &GroupsPage{base: b}, nil
}

// Load はグループ一覧を取得する。
func (p *GroupsPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyGroups, p.fetchGroups)
	return err
}

func (p *GroupsPage) fetchGroups(ctx context.Context) ([]model.Group, error) {
	recs, err := p.deps.API.AllGroups(ctx)
	if err != nil {
		return nil, err
	}
	return p.deps.Ingest.Groups(recs), nil
}

// Groups はグループ一覧を返す。
func (p *GroupsPage) Groups() []model.Group {
	return viewmodel.Snapshot[model.Group](p.store, KeyGroups)
}

// Create はログインユーザーを管理者としてグループを作成し、一覧を再取得する。
func (p *GroupsPage) Create(ctx context.Context, name, bio string, photo *api.Upload) error {
	if err := p.guard(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	if err := p.deps.API.CreateGroup(ctx, api.NewGroup{Admin: p.viewer, Name: name, Bio: bio, Photo: photo}); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyGroups, p.fetchGroups)
	return err
}
