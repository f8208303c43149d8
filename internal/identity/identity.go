// Package identity は「現在のユーザー」と関係レコードの表現を1つの形に揃える。
//
// 呼び出し元はユーザーを文字列で渡すこともレコードで渡すこともあるため、
// 取り込み時点でCurrentUsernameにより文字列へ畳み込み、以降は両方の形を流さない。
package identity

import (
	"fmt"

	"github.com/hitoshi/socialsync/internal/model"
)

// UnknownIdentifier は識別子を読み取れなかったエントリに付与する名前。
const UnknownIdentifier = "Unknown"

// Role は関係リストの種類を表す。
const (
	RoleFollower  = "follower"
	RoleFollowing = "following"
)

// CurrentUsername はactorからusernameを取り出す。
// 文字列ならそのまま、レコードならusernameフィールドを返す。読み取れない場合は空文字列。
func CurrentUsername(actor any) string {
	switch v := actor.(type) {
	case string:
		return v
	case model.UserSummary:
		return v.Username
	case *model.UserSummary:
		if v == nil {
			return ""
		}
		return v.Username
	case model.Session:
		return v.User.Username
	case *model.Session:
		if v == nil {
			return ""
		}
		return v.User.Username
	case map[string]any:
		if s, ok := v["username"].(string); ok {
			return s
		}
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// NormalizeEdgeList はフォロワー/フォロー中リストを正規化する。
//
// 各エントリは文字列（空文字列も含めそのまま使用）か、roleKey、usernameの順で識別子を読むレコード。
// どちらにも該当しないエントリは削除せず "Unknown-<index>" とする。
// 件数はユーザーに表示されるため、重複の除去も行わない。
func NormalizeEdgeList(raw []any, roleKey string) []model.Edge {
	edges := make([]model.Edge, 0, len(raw))
	for i, entry := range raw {
		id, ok := identifierOf(entry, roleKey)
		if !ok {
			id = fmt.Sprintf("%s-%d", UnknownIdentifier, i)
		}
		edges = append(edges, model.Edge{
			Kind:       model.EdgeKindFollow,
			Status:     model.EdgeStatusActive,
			Identifier: id,
		})
	}
	return edges
}

// NormalizeFollowers はownerのフォロワー一覧を正規化し、Source/Targetを埋める。
func NormalizeFollowers(owner string, raw []any) []model.Edge {
	edges := NormalizeEdgeList(raw, RoleFollower)
	for i := range edges {
		edges[i].Source = edges[i].Identifier
		edges[i].Target = owner
	}
	return edges
}

// NormalizeFollowing はownerのフォロー中一覧を正規化し、Source/Targetを埋める。
func NormalizeFollowing(owner string, raw []any) []model.Edge {
	edges := NormalizeEdgeList(raw, RoleFollowing)
	for i := range edges {
		edges[i].Source = owner
		edges[i].Target = edges[i].Identifier
	}
	return edges
}

// Contains はedgesにidentifierが含まれるかを返す。
func Contains(edges []model.Edge, identifier string) bool {
	for _, e := range edges {
		if e.Identifier == identifier {
			return true
		}
	}
	return false
}

func identifierOf(entry any, roleKey string) (string, bool) {
	switch v := entry.(type) {
	case string:
		return v, true
	case map[string]any:
		if roleKey != "" {
			if s, ok := v[roleKey].(string); ok && s != "" {
				return s, true
			}
		}
		if s, ok := v["username"].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Actor は取り込み済みのユーザー識別子。
// ページ境界を越えて受け渡す「現在のユーザー」は常にこの型にする。
type Actor string

// FromAny はactorをActorに変換する。usernameを読み取れない場合はErrNotLoggedInを返す。
func FromAny(actor any) (Actor, error) {
	name := CurrentUsername(actor)
	if name == "" {
		return "", model.ErrNotLoggedIn
	}
	return Actor(name), nil
}

// String はusernameを返す。
func (a Actor) String() string {
	return string(a)
}
