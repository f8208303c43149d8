// Package middleware はローカルブリッジのHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/socialsync/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// usernameContextKey はリクエストコンテキストにログインユーザー名を格納するためのキー。
var usernameContextKey = contextKey("username")

// SessionChecker はログインセッションの参照に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionChecker interface {
	Username() (string, error)
}

// NewSessionMiddleware はログインセッションが存在するリクエストだけを通すミドルウェアを返す。
// ログインユーザー名をリクエストコンテキストに注入する。
// 未ログイン（または401でセッションが破棄された後）は統一フォーマットの401を返す。
func NewSessionMiddleware(sessions SessionChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := sessions.Username()
			if err != nil || username == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := context.WithValue(r.Context(), usernameContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsernameFromContext はリクエストコンテキストからログインユーザー名を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameContextKey).(string)
	if !ok || username == "" {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// ContextWithUsername はコンテキストにログインユーザー名を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameContextKey, username)
}
