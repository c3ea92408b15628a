package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/ratelimit"
	"github.com/sketchwire/backend/internal/room"
	"github.com/sketchwire/backend/internal/store"
	"github.com/sketchwire/backend/internal/ws"
)

// Per-IP budget for room creation. Keeps a misbehaving client from churning
// through the code space; never touches drawing traffic.
const (
	createRoomsPerSecond = 1
	createRoomsBurst     = 10
)

type API struct {
	hub          *ws.Hub
	registry     *room.Registry
	strokes      *store.Store
	log          *zap.Logger
	createLimits *ratelimit.KeyedLimiters
}

func New(hub *ws.Hub, registry *room.Registry, strokes *store.Store, log *zap.Logger) *API {
	return &API{
		hub:          hub,
		registry:     registry,
		strokes:      strokes,
		log:          log,
		createLimits: ratelimit.NewKeyedLimiters(createRoomsPerSecond, createRoomsBurst),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing left to do but note it.
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateRoomHandler registers a fresh empty room and returns its code. The
// request carries no body; there is nothing to configure.
func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if !a.createLimits.Allow(r.RemoteAddr) {
		errorResponse(w, http.StatusTooManyRequests, "Too many rooms created, slow down")
		return
	}

	code, _ := a.registry.Create()
	jsonResponse(w, http.StatusCreated, map[string]string{"code": code})
}

// ValidateRoomHandler reports whether a code belongs to a live room. Rooms die
// with their last member, so a code that once validated can stop validating.
func (a *API) ValidateRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		errorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]bool{"exists": a.registry.Exists(code)})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.registry.RoomCount(),
		"active_users":   a.registry.TotalUsers(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if total, err := a.strokes.TotalStrokes(); err == nil {
		stats["total_strokes"] = total
	}

	jsonResponse(w, http.StatusOK, stats)
}
