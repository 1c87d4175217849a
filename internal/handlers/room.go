package handlers

import (
	"errors"
	"net/http"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/service"
	"github.com/go-chi/chi/v5"
)

// RoomHandler はルーム情報の読み取り専用HTTPエンドポイントを提供します
// 書き込みはすべてWebSocketプロトコル経由で行われます
type RoomHandler struct {
	svc *service.ChatService
}

// NewRoomHandler は新しいRoomHandlerを作成します
func NewRoomHandler(s *service.ChatService) *RoomHandler {
	return &RoomHandler{svc: s}
}

// Get はルームの完全なスナップショットを返します
// GET /api/v1/room/{roomId}?userId=
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId, err := requireID("roomId", chi.URLParam(r, "roomId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userId := normalizeID(r.URL.Query().Get("userId"))

	snap, err := h.svc.JoinRoom(r.Context(), roomId, userId)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			respondError(w, http.StatusNotFound, "room not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListTracks はユーザーのスクロールチェックポイント一覧を返します
// GET /api/v1/tracks/{userId}
func (h *RoomHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	userId, err := requireID("userId", chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tracks, err := h.svc.ListTracks(r.Context(), userId)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load tracks")
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}
