// Package auth はログインセッション（トークンとログインユーザー）を管理する。
//
// セッションはページをまたいで共有される唯一の可変状態で、書き込みは
// Login / Logout / Invalidate の3つの入口に限られる。読み取りは
// 全てのAPIリクエストから行われる。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/socialsync/internal/model"
)

// Authenticator はリモートAPIの認証エンドポイント。
type Authenticator interface {
	// IssueToken は資格情報をアクセストークンに交換する。
	IssueToken(ctx context.Context, username, password string) (string, error)
	// CurrentUser はトークンの持ち主のユーザー情報を取得する。
	CurrentUser(ctx context.Context, token string) (*model.UserSummary, error)
}

// InvalidationRecorder はセッション破棄の記録先。
type InvalidationRecorder interface {
	RecordSessionInvalidated()
}

// Service はログインセッションを保持する。
type Service struct {
	mu        sync.RWMutex
	session   model.Session
	authn     Authenticator
	store     Store
	logger    *slog.Logger
	recorder  InvalidationRecorder
	listeners []func()
}

// NewService はServiceを生成する。
// storeがnilの場合はメモリ上にのみ保持する。
func NewService(authn Authenticator, store Store, logger *slog.Logger, recorder InvalidationRecorder) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		authn:    authn,
		store:    store,
		logger:   logger,
		recorder: recorder,
	}
}

// Restore は永続化されたセッションを読み込む。
// 保存されていない場合は未ログイン状態のままnilを返す。
func (s *Service) Restore() error {
	sess, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Valid() {
		return nil
	}

	s.mu.Lock()
	s.session = *sess
	s.mu.Unlock()

	s.logger.Info("保存済みセッションを復元しました", slog.String("username", sess.User.Username))
	return nil
}

// Login は資格情報でトークンを取得し、ログインユーザーを読み込んでセッションを確立する。
func (s *Service) Login(ctx context.Context, username, password string) (model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.Session{}, fmt.Errorf("username and password are required")
	}

	token, err := s.authn.IssueToken(ctx, username, password)
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to issue token: %w", err)
	}
	if token == "" {
		return model.Session{}, model.NewNoAccessTokenError()
	}

	user, err := s.authn.CurrentUser(ctx, token)
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to load current user: %w", err)
	}
	if user == nil || user.Username == "" {
		// /me がユーザー名を返さない場合は入力値を使う
		user = &model.UserSummary{Username: username}
	}

	sess := model.Session{Token: token, User: *user}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	if err := s.store.Save(&sess); err != nil {
		s.logger.Warn("セッションの保存に失敗しました", slog.String("error", err.Error()))
	}

	s.logger.Info("ログインしました", slog.String("username", sess.User.Username))
	return sess, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout() error {
	username := s.clear()
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("ログアウトしました", slog.String("username", username))
	return nil
}

// Invalidate はAPIが401を返した際に呼ばれ、セッションを破棄して
// OnInvalidateで登録されたコールバックを実行する。
// 未ログイン状態で呼ばれた場合は何もしない。
func (s *Service) Invalidate() {
	s.mu.RLock()
	had := s.session.Token != ""
	s.mu.RUnlock()
	if !had {
		return
	}

	username := s.clear()
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("セッションの削除に失敗しました", slog.String("error", err.Error()))
	}
	if s.recorder != nil {
		s.recorder.RecordSessionInvalidated()
	}
	s.logger.Warn("セッションが無効になりました。再ログインが必要です", slog.String("username", username))

	s.mu.RLock()
	fns := make([]func(), len(s.listeners))
	copy(fns, s.listeners)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// OnInvalidate はセッション破棄時のコールバックを登録する。
func (s *Service) OnInvalidate(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Token は現在のアクセストークンを返す。未ログインの場合は空。
func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

// User はログインユーザーを返す。
func (s *Service) User() (model.UserSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.Valid() {
		return model.UserSummary{}, false
	}
	return s.session.User, true
}

// Username はログインユーザー名を返す。未ログインの場合はErrNotLoggedIn。
func (s *Service) Username() (string, error) {
	u, ok := s.User()
	if !ok {
		return "", model.ErrNotLoggedIn
	}
	return u.Username, nil
}

// Session は現在のセッションのコピーを返す。
func (s *Service) Session() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// LoggedIn はセッションが有効かを返す。
func (s *Service) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Valid()
}

func (s *Service) clear() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := s.session.User.Username
	s.session = model.Session{}
	return username
}

// IsUnauthorized はerrがセッション切れを示すかを返す。
func IsUnauthorized(err error) bool {
	return errors.Is(err, model.ErrUnauthorized)
}
