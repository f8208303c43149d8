package model

// ContentItem はツイート、グループ投稿、コメントを表す。
// 作成者のみ削除できる。
type ContentItem struct {
	ID             string `json:"id"`
	Author         string `json:"author"`      // 作成者のusername
	AuthorName     string `json:"author_name"` // 表示名
	Body           string `json:"body"`        // サニタイズ済み
	PhotoRef       string `json:"photo_ref,omitempty"`
	AuthorPhotoRef string `json:"author_photo_ref,omitempty"`
	Group          string `json:"group,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	LikeCount      int    `json:"like_count"`
	CommentCount   int    `json:"comment_count"`
	LikedByMe      bool   `json:"liked_by_me"`
}

// TweetDetail はツイート詳細ページの表示内容を表す。
type TweetDetail struct {
	Tweet      ContentItem   `json:"tweet"`
	Comments   []ContentItem `json:"comments"`
	LikedUsers []string      `json:"liked_users"`
}

// ChatMessage はダイレクトメッセージまたはグループチャットの1件を表す。
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver,omitempty"`
	Group     string `json:"group,omitempty"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Poll は投票を表す。
type Poll struct {
	ID       string         `json:"id"`
	Author   string         `json:"author"`
	Name     string         `json:"name,omitempty"`
	Question string         `json:"question"`
	PhotoRef string         `json:"photo_ref,omitempty"`
	Options  []string       `json:"options,omitempty"`
	Counts   map[string]int `json:"counts,omitempty"`
	Voters   []string       `json:"voters,omitempty"`
}

// HasVoted はusernameが投票済みかを返す。
func (p Poll) HasVoted(username string) bool {
	for _, v := range p.Voters {
		if v == username {
			return true
		}
	}
	return false
}

// TotalVotes は全選択肢の投票数の合計を返す。
func (p Poll) TotalVotes() int {
	total := 0
	for _, c := range p.Counts {
		total += c
	}
	return total
}
