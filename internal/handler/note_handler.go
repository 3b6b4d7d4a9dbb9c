package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
)

// NoteServiceInterface はメモハンドラーが必要とするサービスインターフェース。
type NoteServiceInterface interface {
	List(ctx context.Context, ownerID string) ([]*model.Note, error)
	Create(ctx context.Context, ownerID string, in model.NoteInput) (*model.Note, error)
	Update(ctx context.Context, ownerID, id string, in model.NoteInput) error
	Delete(ctx context.Context, ownerID, id string) error
}

// NoteHandler はメモ管理のHTTPハンドラー。
// 所有者IDは常にセッションから取得し、リクエストボディやパスからは受け取らない。
type NoteHandler struct {
	service NoteServiceInterface
}

// NewNoteHandler はNoteHandlerを生成する。
func NewNoteHandler(service NoteServiceInterface) *NoteHandler {
	return &NoteHandler{service: service}
}

// noteRequest はメモ作成・更新リクエストのボディ。
type noteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// noteResponse はメモのAPIレスポンス。
type noteResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toNoteResponse(n *model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: n.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ListNotes は自分のメモ一覧を返す。
// GET /api/notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	notes, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		resp = append(resp, toNoteResponse(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateNote はメモを作成する。
// POST /api/notes
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	in, ok := decodeNoteRequest(w, r)
	if !ok {
		return
	}

	n, err := h.service.Create(r.Context(), ownerID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": n.ID})
}

// UpdateNote はメモのタイトルと本文を更新する。
// PUT /api/notes/{id}
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	in, ok := decodeNoteRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Update(r.Context(), ownerID, chi.URLParam(r, "id"), in); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// DeleteNote はメモを削除する。
// DELETE /api/notes/{id}
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *NoteHandler) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return ownerID, true
}

// decodeNoteRequest はボディを解析する。解析できない場合やサイズ超過の場合は400を書き込む。
func decodeNoteRequest(w http.ResponseWriter, r *http.Request) (model.NoteInput, bool) {
	var req noteRequest
	if err := decodeJSONBody(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("request body too large", slog.Int64("limit", maxErr.Limit))
		}
		middleware.WriteAPIError(w, model.NewMalformedRequestError())
		return model.NoteInput{}, false
	}
	return model.NoteInput{Title: req.Title, Body: req.Body}, true
}
