package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/socialsync/internal/model"
)

// ErrorResponseBody はブリッジのエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、リモートAPIが返したdetailを含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Detail   string `json:"detail,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Detail:   apiErr.Detail,
	})
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はmodelのエラーをHTTPステータスに対応付けて書き込む。
// 対応付けできないエラーは500として扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		WriteErrorResponse(w, statusForAPIError(apiErr), apiErr)
	case errors.Is(err, model.ErrUnauthorized), errors.Is(err, model.ErrNotLoggedIn):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.Is(err, model.ErrInvalidDecision):
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_DECISION",
			Message:  err.Error(),
			Category: model.CategoryWrite,
			Action:   "approved または rejected を指定してください。",
		})
	case errors.Is(err, model.ErrNotMounted):
		WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "PAGE_NOT_MOUNTED",
			Message:  err.Error(),
			Category: "system",
			Action:   "ページを再度マウントしてください。",
		})
	default:
		WriteInternalServerError(w)
	}
}

// statusForAPIError はリモートAPI由来のエラーをブリッジのステータスに変換する。
// 401は401のまま、リモートの4xxは422、それ以外はリモート側の障害として502を返す。
func statusForAPIError(e *model.APIError) int {
	switch {
	case e.Category == model.CategoryAuth:
		return http.StatusUnauthorized
	case e.Status >= 400 && e.Status < 500:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
