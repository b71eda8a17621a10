// Package handlers provides HTTP handlers for the SAGE API.
// This file serves the settings endpoints. Sensitive values never leave the
// store in cleartext; the store masks them before they reach this layer.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rshinytools/sage/internal/api/middleware"
	"github.com/rshinytools/sage/internal/audit"
	"github.com/rshinytools/sage/internal/settings"
)

// SettingsHandler serves the settings endpoints.
type SettingsHandler struct {
	store  *settings.Store
	audit  *audit.Service
	logger *slog.Logger
}

// SettingsHandlerConfig holds configuration for the SettingsHandler.
type SettingsHandlerConfig struct {
	Store  *settings.Store
	Audit  *audit.Service
	Logger *slog.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(cfg SettingsHandlerConfig) *SettingsHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SettingsHandler{
		store:  cfg.Store,
		audit:  cfg.Audit,
		logger: cfg.Logger.With(slog.String("component", "settings_handler")),
	}
}

// HandleGetCategory handles GET /settings/{category}.
func (h *SettingsHandler) HandleGetCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	items, err := h.store.GetCategory(r.Context(), category)
	if err != nil {
		h.logger.Error("failed to read settings", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	if len(items) == 0 {
		writeJSONError(w, http.StatusNotFound, "unknown settings category")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"settings": items,
	})
}

// updateRequest is the body of PUT /settings/{category}.
type updateRequest struct {
	Values map[string]string `json:"values"`
}

// HandleUpdateCategory handles PUT /settings/{category}, recording a
// CONFIG_CHANGE audit event per changed key.
func (h *SettingsHandler) HandleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Values) == 0 {
		writeJSONError(w, http.StatusBadRequest, "values map is required")
		return
	}

	changedBy := "anonymous"
	identity := middleware.GetIdentity(r.Context())
	if identity != nil {
		changedBy = identity.UserID
	}

	for key, value := range req.Values {
		if err := h.store.Set(r.Context(), category, key, value, changedBy); err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown setting "+category+"."+key)
			return
		}

		if h.audit != nil {
			event := audit.Event{
				UserID:       changedBy,
				Username:     changedBy,
				Action:       audit.ActionConfigChange,
				ResourceType: "setting",
				ResourceID:   category + "." + key,
				Status:       audit.StatusSuccess,
				RequestMethod: r.Method,
				RequestPath:   r.URL.Path,
			}
			if identity != nil {
				event.Username = identity.Username
			}
			h.audit.LogEvent(r.Context(), event)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
