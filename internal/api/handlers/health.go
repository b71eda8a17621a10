// Package handlers provides HTTP handlers for the SAGE API.
// This file serves health and system status endpoints.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rshinytools/sage/internal/cache"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health and system status.
type HealthHandler struct {
	warehouse Pinger
	cache     *cache.QueryCache
	logger    *slog.Logger
}

// HealthHandlerConfig holds configuration for the HealthHandler.
type HealthHandlerConfig struct {
	Warehouse Pinger
	Cache     *cache.QueryCache
	Logger    *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HealthHandler{
		warehouse: cfg.Warehouse,
		cache:     cfg.Cache,
		logger:    cfg.Logger.With(slog.String("component", "health_handler")),
	}
}

// HandleHealth handles GET /health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	warehouseStatus := "healthy"

	if h.warehouse != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.warehouse.Ping(ctx); err != nil {
			status = "degraded"
			warehouseStatus = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"warehouse": warehouseStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleCacheStats handles GET /system/cache/stats.
func (h *HealthHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.cache.DetailedStats())
}

// HandleCacheClear handles POST /system/cache/clear.
func (h *HealthHandler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache is disabled")
		return
	}
	h.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
