package model

// Decision は申請に対する判定を表す。
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid はapproved/rejectedのいずれかであるかを返す。
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// JoinRequest はグループ参加申請を表す。承認者はグループ管理者。
type JoinRequest struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Group       string     `json:"group"`
	Admin       string     `json:"admin,omitempty"`
	Status      EdgeStatus `json:"status"`
	RequestedAt string     `json:"requested_at,omitempty"`
}

// Pending は申請が未処理かを返す。
func (r JoinRequest) Pending() bool {
	return r.Status == EdgeStatusPending
}

// Edge は申請を関係エッジとして返す。
func (r JoinRequest) Edge() Edge {
	return Edge{Source: r.Username, Target: r.Group, Kind: EdgeKindMembership, Status: r.Status, Identifier: r.Username}
}

// FollowRequest はフォロー申請を表す。承認者はフォロー対象ユーザー。
type FollowRequest struct {
	ID          string     `json:"id"`
	Requester   string     `json:"requester"`
	Target      string     `json:"target"`
	Status      EdgeStatus `json:"status"`
	RequestedAt string     `json:"requested_at,omitempty"`
}

// Pending は申請が未処理かを返す。
func (r FollowRequest) Pending() bool {
	return r.Status == EdgeStatusPending
}

// Edge は申請を関係エッジとして返す。
func (r FollowRequest) Edge() Edge {
	return Edge{Source: r.Requester, Target: r.Target, Kind: EdgeKindFollow, Status: r.Status, Identifier: r.Requester}
}
