// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// エラーカテゴリ。ページ側はカテゴリで表示方法を切り替える。
const (
	CategoryAuth   = "auth"   // 401。セッション破棄と再ログインが必要
	CategoryRead   = "read"   // 取得失敗。前回スナップショットを表示し続ける
	CategoryWrite  = "write"  // 更新失敗。自動リトライしない
	CategoryDecode = "decode" // 画像デコード失敗。ユーザーには表示しない
)

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeMutationFailed  = "MUTATION_FAILED"
	ErrCodeInvalidResponse = "INVALID_RESPONSE"
	ErrCodeNoAccessToken   = "NO_ACCESS_TOKEN"
)

var (
	// ErrUnauthorized はAPIが401を返したことを示す。
	ErrUnauthorized = errors.New("session expired")
	// ErrNotLoggedIn はセッションが存在しない状態でログインユーザーが必要になったことを示す。
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidDecision はapproved/rejected以外の判定が渡されたことを示す。
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrNotMounted はアンマウント済みのページに操作が行われたことを示す。
	ErrNotMounted = errors.New("page is not mounted")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, read, write, decode
	Action   string // ユーザー向け対処方法
	Status   int    // リモートAPIのHTTPステータス（不明な場合は0）
	Detail   string // リモートAPIが返したdetail
	Err      error  // 原因となったエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("[%s] %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewUnauthorizedError はセッション切れエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Session expired. Please login again.",
		Category: CategoryAuth,
		Action:   "再度ログインしてください。",
		Status:   401,
		Err:      ErrUnauthorized,
	}
}

// NewFetchFailedError は取得失敗エラーを生成する。
func NewFetchFailedError(what string, status int, detail string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Failed to fetch %s", what),
		Category: CategoryRead,
		Action:   "しばらく待ってから再読み込みしてください。",
		Status:   status,
		Detail:   detail,
		Err:      cause,
	}
}

// NewMutationFailedError は更新失敗エラーを生成する。
func NewMutationFailedError(what string, status int, detail string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeMutationFailed,
		Message:  fmt.Sprintf("Failed to %s", what),
		Category: CategoryWrite,
		Action:   "内容を確認してから再度お試しください。",
		Status:   status,
		Detail:   detail,
		Err:      cause,
	}
}

// NewInvalidResponseError はレスポンスのパース失敗エラーを生成する。
func NewInvalidResponseError(what string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResponse,
		Message:  fmt.Sprintf("Unexpected response for %s", what),
		Category: CategoryRead,
		Action:   "しばらく待ってから再読み込みしてください。",
		Err:      cause,
	}
}

// NewNoAccessTokenError はログイン応答にトークンが含まれない場合のエラーを生成する。
func NewNoAccessTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeNoAccessToken,
		Message:  "No access token received",
		Category: CategoryAuth,
		Action:   "ユーザー名とパスワードを確認してください。",
	}
}

// DetailContains はerrがAPIErrorで、そのdetailにsubstrを含むかを返す。
func DetailContains(err error, substr string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return substr != "" && strings.Contains(strings.ToLower(apiErr.Detail), strings.ToLower(substr))
}

// CategoryOf はエラーのカテゴリを返す。APIError以外はwriteとして扱う。
func CategoryOf(err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return CategoryAuth
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryWrite
}
