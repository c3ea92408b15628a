package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sketchwire/backend/internal/metrics"
	"github.com/sketchwire/backend/internal/ws"
)

// Router wires the HTTP surface: room lifecycle endpoints, the WebSocket
// upgrade, and operational endpoints. Static assets and page routing live in
// the frontend deployment, not here.
func (a *API) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(metrics.Middleware)

	r.Post("/api/rooms/create", a.CreateRoomHandler)
	r.Get("/api/rooms/validate", a.ValidateRoomHandler)
	r.Get("/api/stats", a.StatsHandler)

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWS(a.hub, w, req)
	})

	r.Get("/healthz", a.HealthHandler)
	r.Handle("/metrics", metrics.Handler())

	return r
}
