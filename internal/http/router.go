package http

import (
	"net/http"

	"github.com/Sooly64/Confusion-Heatmap/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *handlers.RoomHandler, gw *handlers.GatewayHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	// ストアのWebSocketエンドポイント
	r.Get("/api/v1/store/ws", gw.HandleWebSocket)

	r.Get("/api/v1/rooms", h.List)
	r.Route("/api/v1/room/{room}", func(r chi.Router) {
		r.Get("/tally", h.Tally)
		r.Get("/feedback", h.Feedback)
		r.Post("/feedback", h.SubmitFeedback)
		r.Post("/status", h.SetStatus)
	})

	return r
}
