// Package handler はプレゼンテーション層向けのローカルブリッジ（JSON API）を提供する。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/socialsync/internal/middleware"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	})
}

// handlePageError はページ操作のエラーをHTTPレスポンスに変換する。
// ページ固有のエラー以外はmiddleware.WriteErrorに委ねる。
func handlePageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, page.ErrInvalidInput), errors.Is(err, ErrUnknownKind):
		writeBadRequest(w, err.Error())
	case errors.Is(err, page.ErrForbidden):
		middleware.WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:     "FORBIDDEN",
			Message:  "この操作は許可されていません。",
			Category: "permission",
			Action:   "ログインユーザーの権限を確認してください。",
		})
	case errors.Is(err, page.ErrAlreadyVoted):
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "ALREADY_VOTED",
			Message:  "この投票には既に回答済みです。",
			Category: model.CategoryWrite,
			Action:   "結果を確認してください。",
		})
	default:
		middleware.WriteError(w, err)
	}
}
