// Package handlers provides HTTP handlers for the SAGE API.
// This file implements the websocket variant of the chat endpoint, which
// streams pipeline stage progress before delivering the final answer.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rshinytools/sage/internal/engine"
)

// Stream event types.
const (
	StreamEventStage  = "stage"
	StreamEventAnswer = "answer"
	StreamEventError  = "error"
)

// StreamEvent is one websocket frame.
type StreamEvent struct {
	// Type is stage, answer or error.
	Type string `json:"type"`

	// Stage names the pipeline stage for stage events.
	Stage string `json:"stage,omitempty"`

	// TimeMS is the stage duration for stage events.
	TimeMS int64 `json:"time_ms,omitempty"`

	// Response carries the full envelope for answer and error events.
	Response *ChatResponse `json:"response,omitempty"`
}

// StreamHandler serves GET /chat/stream.
type StreamHandler struct {
	pipeline        *engine.Pipeline
	pipelineTimeout time.Duration
	upgrader        websocket.Upgrader
	logger          *slog.Logger
}

// StreamHandlerConfig holds configuration for the StreamHandler.
type StreamHandlerConfig struct {
	Pipeline *engine.Pipeline

	// PipelineTimeout bounds one whole question. Default 180s.
	PipelineTimeout time.Duration

	Logger *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(cfg StreamHandlerConfig) *StreamHandler {
	if cfg.PipelineTimeout == 0 {
		cfg.PipelineTimeout = 180 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamHandler{
		pipeline:        cfg.Pipeline,
		pipelineTimeout: cfg.PipelineTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: cfg.Logger.With(slog.String("component", "stream_handler")),
	}
}

// HandleStream upgrades the connection, reads one question per message and
// streams stage progress followed by the final envelope.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed", slog.Any("error", err))
			}
			return
		}
		if req.Message == "" {
			conn.WriteJSON(StreamEvent{Type: StreamEventError, Response: &ChatResponse{
				Content: "message is required",
			}})
			continue
		}

		h.serveQuestion(r, conn, req.Message)
	}
}

// serveQuestion runs the pipeline and streams its stage timings and result.
func (h *StreamHandler) serveQuestion(r *http.Request, conn *websocket.Conn, message string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.pipelineTimeout)
	defer cancel()

	question := questionFrom(r, message)
	result := h.pipeline.Ask(ctx, question)

	// Stage events replay in pipeline order once the run finishes; clients
	// render them as the analysis trace beneath the answer.
	for _, stage := range orderedStages(result.PipelineStages) {
		timing := result.PipelineStages[stage]
		if err := conn.WriteJSON(StreamEvent{
			Type:   StreamEventStage,
			Stage:  stage,
			TimeMS: timing.TimeMS,
		}); err != nil {
			return
		}
	}

	response := toChatResponse(result)
	eventType := StreamEventAnswer
	if !result.Success {
		eventType = StreamEventError
	}
	conn.WriteJSON(StreamEvent{Type: eventType, Response: &response})
}

// stageOrder fixes the replay order of stage events.
var stageOrder = map[string]int{
	engine.StageSanitization: 1,
	engine.StageIntent:       2,
	engine.StageEntities:     3,
	engine.StageResolution:   4,
	engine.StageContext:      5,
	engine.StageGeneration:   6,
	engine.StageValidation:   7,
	engine.StageExecution:    8,
	engine.StageScoring:      9,
	engine.StageFormatting:   10,
}

// orderedStages returns the recorded stages in pipeline order.
func orderedStages(stages map[string]engine.StageTiming) []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return stageOrder[names[i]] < stageOrder[names[j]]
	})
	return names
}
