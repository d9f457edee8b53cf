// Package server is the HTTP/websocket gateway in front of the sync core. It
// serves read endpoints for board state and presence and upgrades clients to a
// websocket session that runs a full sync orchestrator per connection.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/boardsync/internal/presence"
	"github.com/prudhvinik1/boardsync/internal/repositories"
	"github.com/redis/go-redis/v9"
)

type Handler struct {
	repo         repositories.ObjectRepository
	redis        *redis.Client
	moveThrottle time.Duration
	textThrottle time.Duration
	historyDepth int
	presenceTTL  time.Duration
}

func NewHandler(pool *pgxpool.Pool, redisClient *redis.Client, moveThrottle, textThrottle time.Duration, historyDepth int, presenceTTL time.Duration) *Handler {
	return &Handler{
		repo:         repositories.NewPostgresObjectRepository(pool),
		redis:        redisClient,
		moveThrottle: moveThrottle,
		textThrottle: textThrottle,
		historyDepth: historyDepth,
		presenceTTL:  presenceTTL,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/boards/{boardID}/objects", h.listObjects)
	r.Get("/boards/{boardID}/presence", h.listPresence)
	r.Get("/boards/{boardID}/ws", h.serveWS)
}

func (h *Handler) listObjects(w http.ResponseWriter, r *http.Request) {
	boardID, err := uuid.Parse(chi.URLParam(r, "boardID"))
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}
	objects, err := h.repo.List(r.Context(), boardID)
	if err != nil {
		log.Printf("server: list objects failed board=%s: %v", boardID, err)
		http.Error(w, "failed to list objects", http.StatusInternalServerError)
		return
	}
	writeJSON(w, objects)
}

func (h *Handler) listPresence(w http.ResponseWriter, r *http.Request) {
	boardID, err := uuid.Parse(chi.URLParam(r, "boardID"))
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}
	members, err := presence.Snapshot(r.Context(), h.redis, boardID)
	if err != nil {
		log.Printf("server: list presence failed board=%s: %v", boardID, err)
		http.Error(w, "failed to list presence", http.StatusInternalServerError)
		return
	}
	out := make([]any, 0, len(members))
	keys := make([]uuid.UUID, 0, len(members))
	for id := range members {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, id := range keys {
		out = append(out, members[id])
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response failed: %v", err)
	}
}
