package model

// Group はグループを表す。Nameが一意キー。
// メンバーと参加申請はビューモデル上の別コレクションとして保持する。
type Group struct {
	Name     string `json:"name"`
	Admin    string `json:"admin"`
	Bio      string `json:"bio,omitempty"`
	PhotoRef string `json:"photo_ref,omitempty"`
}

// IsAdmin はusernameがグループ管理者かを返す。
func (g Group) IsAdmin(username string) bool {
	return username != "" && g.Admin == username
}
