// Package model はドメインモデルを定義する。
package model

// UserSummary はビューに渡すユーザー情報を表す。
// Usernameがすべての関係レコードの結合キーとなる。
type UserSummary struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
	PhotoRef string `json:"photo_ref,omitempty"` // 正規化済みdata URI。無い場合は空
}

// Session はログインセッションを表す。
// ログイン/登録成功時に生成され、ログアウトまたは401で破棄される。
type Session struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// Valid はトークンとユーザー名が揃っているかを返す。
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.User.Username != ""
}

// EdgeKind は関係の種類を表す。
type EdgeKind string

const (
	// EdgeKindFollow はフォロー関係。
	EdgeKindFollow EdgeKind = "follow"
	// EdgeKindMembership はグループ所属関係。
	EdgeKindMembership EdgeKind = "group-membership"
)

// EdgeStatus は関係の状態を表す。
// 申請中の関係と承認後の関係は同一エンティティの状態遷移として扱う。
type EdgeStatus string

const (
	EdgeStatusPending  EdgeStatus = "pending"
	EdgeStatusApproved EdgeStatus = "approved"
	EdgeStatusRejected EdgeStatus = "rejected"
	EdgeStatusActive   EdgeStatus = "active"
)

// Edge はユーザー間（またはユーザーとグループ間）の有向関係を表す。
type Edge struct {
	Source string     `json:"source"`
	Target string     `json:"target"`
	Kind   EdgeKind   `json:"kind"`
	Status EdgeStatus `json:"status"`
	// Identifier は一覧表示上の相手側ユーザー名。
	// 不正なレコードは "Unknown-<index>" となる。
	Identifier string `json:"identifier"`
}

// MembershipStatus は閲覧ユーザーのグループ所属状態を表す。
type MembershipStatus string

const (
	MembershipNone    MembershipStatus = "not-member"
	MembershipPending MembershipStatus = "pending"
	MembershipMember  MembershipStatus = "member"
)
