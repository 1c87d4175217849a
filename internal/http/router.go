package http

import (
	"net/http"

	"github.com/TeleHive/TeleHive_Chat/backend/chat-server/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *handlers.RoomHandler, wsHandler *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	// WebSocketエンドポイント（プロトコルの本体）
	r.Get("/api/v1/ws", wsHandler.HandleWebSocket)

	// 読み取り専用の補助エンドポイント
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/room/{roomId}", h.Get)
		r.Get("/tracks/{userId}", h.ListTracks)
	})

	return r
}
