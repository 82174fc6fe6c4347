// Package control serves the JSON command endpoint that lets operators and
// deploy tooling poke the running gateway: promote a waiting cache
// generation, ask for the cache footprint, or wipe it entirely.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chanfm/cachefront/internal/cache"
)

// Command types accepted on the control endpoint. Unknown types are
// acknowledged without effect so newer deploy tooling can talk to older
// gateways.
const (
	CommandSkipWaiting  = "SKIP_WAITING"
	CommandGetCacheSize = "GET_CACHE_SIZE"
	CommandClearCache   = "CLEAR_CACHE"
)

// Lifecycle is the slice of the lifecycle manager the endpoint needs.
type Lifecycle interface {
	SkipWaiting(ctx context.Context) error
	CurrentGeneration() string
}

type command struct {
	Type string `json:"type"`
}

type sizeReply struct {
	Size int64 `json:"size"`
}

type clearReply struct {
	Success bool `json:"success"`
}

// Handler implements the control endpoint.
type Handler struct {
	store     cache.Store
	lifecycle Lifecycle
	logger    *slog.Logger
}

// NewHandler builds the control endpoint handler.
func NewHandler(logger *slog.Logger, store cache.Store, lifecycle Lifecycle) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     store,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("agent", "control")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}

	switch cmd.Type {
	case CommandSkipWaiting:
		h.skipWaiting(w, r)
	case CommandGetCacheSize:
		h.cacheSize(w, r)
	case CommandClearCache:
		h.clearCache(w, r)
	default:
		// Acknowledged, not acted on.
		h.logger.Debug("ignoring unknown control command", slog.String("type", cmd.Type))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) skipWaiting(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.SkipWaiting(r.Context()); err != nil {
		h.logger.Error("skip waiting failed", slog.Any("error", err))
		http.Error(w, "activation failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) cacheSize(w http.ResponseWriter, r *http.Request) {
	generation := h.lifecycle.CurrentGeneration()
	var size int64
	if generation != "" {
		var err error
		size, err = h.store.BytesUsed(r.Context(), generation)
		if err != nil {
			h.logger.Error("cache size probe failed", slog.Any("error", err))
			http.Error(w, "cache unavailable", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, h.logger, sizeReply{Size: size})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	generations, err := h.store.ListGenerations(r.Context())
	if err != nil {
		h.logger.Error("cache clear failed", slog.Any("error", err))
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	for _, generation := range generations {
		if err := h.store.DeleteGeneration(r.Context(), generation); err != nil {
			h.logger.Error("cache clear failed",
				slog.String("generation", generation), slog.Any("error", err))
			http.Error(w, "cache unavailable", http.StatusInternalServerError)
			return
		}
	}
	h.logger.Info("cache cleared", slog.Int("generations", len(generations)))
	writeJSON(w, h.logger, clearReply{Success: true})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("control reply write failed", slog.Any("error", err))
	}
}
