package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/page"
	"github.com/hitoshi/socialsync/internal/viewmodel"
)

// PageHandler はページのマウント、スナップショット取得、アクション実行を扱う。
type PageHandler struct {
	registry *Registry
	logger   *slog.Logger
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(registry *Registry, logger *slog.Logger) *PageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{registry: registry, logger: logger}
}

// mountRequest はページマウントリクエストのボディ。
type mountRequest struct {
	Kind string `json:"kind"`
	MountParams
}

// pageResponse はページのスナップショット。
type pageResponse struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Collections []viewmodel.State `json:"collections"`
}

// actionResponse はアクション実行結果。resultはアクションが値を返す場合のみ含む。
type actionResponse struct {
	Result any          `json:"result,omitempty"`
	Page   pageResponse `json:"page"`
}

func toPageResponse(p page.Page) pageResponse {
	store := p.Store()
	keys := store.Keys()
	states := make([]viewmodel.State, 0, len(keys))
	for _, k := range keys {
		if st, ok := store.State(k); ok {
			states = append(states, st)
		}
	}
	return pageResponse{ID: p.ID(), Kind: p.Kind(), Collections: states}
}

// Mount はページをマウントして初回スナップショットを返す。
// POST /api/pages
func (h *PageHandler) Mount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.Kind == "" {
		writeBadRequest(w, "kind が指定されていません。")
		return
	}

	p, err := h.registry.Mount(r.Context(), req.Kind, req.MountParams)
	if err != nil {
		handlePageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPageResponse(p))
}

// Get はページの現在のスナップショットを返す。
// GET /api/pages/{id}
func (h *PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		handlePageError(w, model.ErrNotMounted)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(p))
}

// Unmount はページをアンマウントし、ポーリングを停止する。
// DELETE /api/pages/{id}
func (h *PageHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Unmount(chi.URLParam(r, "id")) {
		handlePageError(w, model.ErrNotMounted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Action はページのアクションを実行し、実行後のスナップショットを返す。
// POST /api/pages/{id}/actions/{action}
func (h *PageHandler) Action(w http.ResponseWriter, r *http.Request) {
	p, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		handlePageError(w, model.ErrNotMounted)
		return
	}

	name := chi.URLParam(r, "action")
	fn, ok := lookupAction(p.Kind(), name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":    "UNKNOWN_ACTION",
			"message": "未知のアクションです: " + name,
		})
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	result, err := fn(r.Context(), p, req)
	if err != nil {
		h.logger.Warn("アクションの実行に失敗しました",
			slog.String("page_id", p.ID()),
			slog.String("page", p.Kind()),
			slog.String("action", name),
			slog.String("error", err.Error()),
		)
		handlePageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Result: result, Page: toPageResponse(p)})
}
