package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/socialsync/internal/middleware"
	"github.com/hitoshi/socialsync/internal/model"
)

// SessionService は認証ハンドラーが必要とするセッション操作。
type SessionService interface {
	Login(ctx context.Context, username, password string) (model.Session, error)
	Logout() error
	User() (model.UserSummary, bool)
	Username() (string, error)
}

// PageCloser はログアウト時にマウント中のページを全て閉じる。
type PageCloser interface {
	UnmountAll() int
}

// AuthHandler はログインセッションのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	pages    PageCloser
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, pages PageCloser, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{sessions: sessions, pages: pages, logger: logger}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login は資格情報でログインし、ログインユーザーを返す。トークンは返さない。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeBadRequest(w, "username と password は必須です。")
		return
	}

	sess, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("ログインに失敗しました",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.User)
}

// Logout はマウント中のページを閉じてからセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.pages != nil {
		h.pages.UnmountAll()
	}
	if err := h.sessions.Logout(); err != nil {
		h.logger.Error("ログアウトに失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザーを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessions.User()
	if !ok {
		middleware.WriteError(w, model.ErrNotLoggedIn)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
