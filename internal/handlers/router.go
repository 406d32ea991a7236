// internal/handlers/router.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/auth"
	"github.com/jason-s-yu/storyteller/internal/game"
	"github.com/jason-s-yu/storyteller/internal/middleware"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/sirupsen/logrus"
)

// AdminKeyHeader carries the plaintext admin key checked against ADMIN_KEY_HASH.
const AdminKeyHeader = "X-Admin-Key"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API bundles what the HTTP surface needs.
type API struct {
	Coordinator *game.Coordinator
	Hub         *Hub
	Store       Pinger
	// AdminKeyHash is an encoded argon2id hash; empty disables admin routes.
	AdminKeyHash string
	// AllowedOrigins for CORS; empty allows any http(s) origin.
	AllowedOrigins []string
	Logger         *logrus.Logger
}

// NewRouter builds the HTTP routes, including the room websocket at /room/ws.
func NewRouter(api API) http.Handler {
	if api.Logger == nil {
		api.Logger = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(api.Logger))
	r.Use(chimw.Heartbeat("/ping"))

	origins := api.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", AdminKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/healthz", api.healthz)
	r.Get("/artists", api.artists)
	r.Get("/rooms/{roomID}", api.roomState)
	r.Get("/rooms/{roomID}/roster", api.roster)

	r.Route("/admin", func(r chi.Router) {
		r.Use(api.requireAdmin)
		r.Delete("/rooms/{roomID}", api.deleteRoom)
	})

	r.Handle("/room/ws", NewRoomHandler(api.Coordinator, api.Hub, api.Logger))
	return r
}

func (api API) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := api.Store.Ping(ctx); err != nil {
		api.Logger.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"rooms":       api.Coordinator.LoadedRooms(),
		"connections": api.Hub.Connections(),
	})
}

func (api API) artists(w http.ResponseWriter, r *http.Request) {
	counts, err := api.Coordinator.Artists(r.Context())
	if err != nil {
		api.writeError(w, err)
		return
	}
	if counts == nil {
		counts = []models.ArtistCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (api API) roomState(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	st, err := api.Coordinator.State(r.Context(), roomID)
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (api API) roster(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	rows, err := api.Coordinator.Roster(r.Context(), roomID)
	if err != nil {
		api.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []game.RosterRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (api API) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	if err := api.Coordinator.DeleteRoom(r.Context(), roomID); err != nil {
		api.writeError(w, err)
		return
	}
	api.Logger.WithField("room_id", roomID).Info("room deleted by admin")
	w.WriteHeader(http.StatusNoContent)
}

func (api API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.AdminKeyHash == "" {
			http.NotFound(w, r)
			return
		}
		key := r.Header.Get(AdminKeyHeader)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": "admin_key_required"})
			return
		}
		ok, err := auth.VerifyKey(key, api.AdminKeyHash)
		if err != nil {
			api.Logger.WithError(err).Error("ADMIN_KEY_HASH is not a valid argon2id hash")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"reason": "internal"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusForbidden, map[string]string{"reason": "admin_key_invalid"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api API) writeError(w http.ResponseWriter, err error) {
	reason := game.Reason(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrPersistence):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		api.Logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"reason": reason})
}

func roomParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "bad_request"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
