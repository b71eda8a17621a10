// Package handlers provides HTTP handlers for the SAGE API.
// This file serves the audit trail: listing, integrity verification and
// electronic signatures.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rshinytools/sage/internal/api/middleware"
	"github.com/rshinytools/sage/internal/audit"
)

// AuditHandler serves the audit endpoints.
type AuditHandler struct {
	service *audit.Service
	logger  *slog.Logger
}

// AuditHandlerConfig holds configuration for the AuditHandler.
type AuditHandlerConfig struct {
	Service *audit.Service
	Logger  *slog.Logger
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(cfg AuditHandlerConfig) *AuditHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuditHandler{
		service: cfg.Service,
		logger:  cfg.Logger.With(slog.String("component", "audit_handler")),
	}
}

// HandleList handles GET /audit/logs with filters and pagination.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filters := audit.Filters{
		UserID:       query.Get("user_id"),
		Action:       audit.Action(query.Get("action")),
		Status:       audit.Status(query.Get("status")),
		ResourceType: query.Get("resource_type"),
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(query.Get("page_size")); err == nil {
		filters.PageSize = size
	}
	if from, err := time.Parse(time.RFC3339, query.Get("from")); err == nil {
		filters.From = &from
	}
	if to, err := time.Parse(time.RFC3339, query.Get("to")); err == nil {
		filters.To = &to
	}

	result, err := h.service.Store().List(r.Context(), filters)
	if err != nil {
		h.logger.Error("failed to list audit logs", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleVerify handles GET /audit/logs/{id}/verify.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid audit log id")
		return
	}

	result, err := h.service.Store().VerifyIntegrity(r.Context(), id)
	if err != nil {
		h.logger.Error("integrity verification failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "integrity verification failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// signRequest is the body of POST /audit/logs/{id}/sign.
type signRequest struct {
	Meaning string `json:"meaning"`
}

// HandleSign handles POST /audit/logs/{id}/sign, attaching an electronic
// signature from the authenticated user.
func (h *AuditHandler) HandleSign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid audit log id")
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Meaning == "" {
		writeJSONError(w, http.StatusBadRequest, "signature meaning is required")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeJSONError(w, http.StatusUnauthorized, "signature requires an authenticated user")
		return
	}

	sigID, err := h.service.Store().InsertSignature(r.Context(), id, identity.UserID, identity.Username, req.Meaning)
	if err != nil {
		h.logger.Error("failed to attach signature", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to attach signature")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"signature_id": sigID})
}
