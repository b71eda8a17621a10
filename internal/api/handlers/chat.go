// Package handlers provides HTTP handlers for the SAGE API.
//
// This file implements the chat endpoint: one question in, one answered
// response out, with machine-readable provenance in the metadata block.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rshinytools/sage/internal/api/middleware"
	"github.com/rshinytools/sage/internal/engine"
)

// ChatRequest is the inbound body of POST /chat/message.
type ChatRequest struct {
	// Message is the natural-language question.
	Message string `json:"message"`
}

// ChatResponse is the outward envelope. Failures use the same envelope with
// a humanised message in Content and the taxonomy tag in Metadata.Error.
type ChatResponse struct {
	Content  string       `json:"content"`
	Metadata ChatMetadata `json:"metadata"`
}

// ChatMetadata carries the provenance a reviewer needs to judge the answer.
type ChatMetadata struct {
	PipelineUsed   bool                          `json:"pipeline_used"`
	CacheHit       bool                          `json:"cache_hit"`
	Intent         string                        `json:"intent,omitempty"`
	Confidence     engine.ConfidenceScore        `json:"confidence"`
	Methodology    *engine.Methodology           `json:"methodology,omitempty"`
	SQL            string                        `json:"sql,omitempty"`
	RowCount       int                           `json:"row_count"`
	Warnings       []string                      `json:"warnings,omitempty"`
	TotalTimeMS    int64                         `json:"total_time_ms"`
	PipelineStages map[string]engine.StageTiming `json:"pipeline_stages,omitempty"`
	Error          string                        `json:"error,omitempty"`
	ErrorStage     string                        `json:"error_stage,omitempty"`
}

// ChatHandler serves the question-answering endpoints.
type ChatHandler struct {
	pipeline        *engine.Pipeline
	pipelineTimeout time.Duration
	logger          *slog.Logger
}

// ChatHandlerConfig holds configuration for the ChatHandler.
type ChatHandlerConfig struct {
	Pipeline *engine.Pipeline

	// PipelineTimeout bounds one whole question. Default 180s.
	PipelineTimeout time.Duration

	Logger *slog.Logger
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	if cfg.PipelineTimeout == 0 {
		cfg.PipelineTimeout = 180 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChatHandler{
		pipeline:        cfg.Pipeline,
		pipelineTimeout: cfg.PipelineTimeout,
		logger:          cfg.Logger.With(slog.String("component", "chat_handler")),
	}
}

// HandleMessage handles POST /chat/message.
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	question := questionFrom(r, req.Message)

	h.logger.Info("processing question",
		slog.String("session_id", question.SessionID),
		slog.String("user_id", question.UserID),
		slog.Int("length", len(req.Message)),
	)

	ctx, cancel := contextWithTimeout(r, h.pipelineTimeout)
	defer cancel()

	result := h.pipeline.Ask(ctx, question)

	writeJSON(w, http.StatusOK, toChatResponse(result))
}

// questionFrom assembles the pipeline input from the request.
func questionFrom(r *http.Request, message string) engine.Question {
	question := engine.Question{
		Text:      message,
		Timestamp: time.Now(),
		UserID:    "anonymous",
		Username:  "anonymous",
	}
	if identity := middleware.GetIdentity(r.Context()); identity != nil {
		question.UserID = identity.UserID
		question.Username = identity.Username
		question.SessionID = identity.SessionID
	}
	return question
}

// toChatResponse maps a pipeline result onto the outward envelope.
func toChatResponse(result *engine.PipelineResult) ChatResponse {
	return ChatResponse{
		Content: result.Answer,
		Metadata: ChatMetadata{
			PipelineUsed:   result.PipelineUsed,
			CacheHit:       result.CacheHit,
			Intent:         string(result.Intent),
			Confidence:     result.Confidence,
			Methodology:    result.Methodology,
			SQL:            result.SQL,
			RowCount:       result.RowCount,
			Warnings:       result.Warnings,
			TotalTimeMS:    result.TotalTimeMS,
			PipelineStages: result.PipelineStages,
			Error:          result.Error,
			ErrorStage:     result.ErrorStage,
		},
	}
}
