// Package events provides NATS publishing for SAGE query lifecycle events.
//
// Dashboards and monitors subscribe to sage.query.* subjects to observe
// query traffic in real time. Publishing is strictly best-effort: a failure
// to publish never fails the request that produced the event.
//
// Usage:
//
//	publisher, err := events.NewPublisher(events.PublisherConfig{URL: cfg.Events.URL})
//	if err != nil {
//	    log.Fatal("Failed to create NATS publisher:", err)
//	}
//	defer publisher.Close()
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/rshinytools/sage/internal/engine"
)

// Event subjects.
const (
	// SubjectQueryStarted is published when a question enters the pipeline.
	SubjectQueryStarted = "sage.query.started"
	// SubjectQueryCompleted is published at every terminal outcome.
	SubjectQueryCompleted = "sage.query.completed"
)

// QueryStartedEvent is the payload for SubjectQueryStarted.
type QueryStartedEvent struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryCompletedEvent is the payload for SubjectQueryCompleted.
type QueryCompletedEvent struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id,omitempty"`
	UserID      string    `json:"user_id"`
	Success     bool      `json:"success"`
	Intent      string    `json:"intent,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	ErrorStage  string    `json:"error_stage,omitempty"`
	Confidence  float64   `json:"confidence"`
	RowCount    int       `json:"row_count"`
	TotalTimeMS int64     `json:"total_time_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher publishes query lifecycle events over NATS. It implements
// engine.EventSink.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// PublisherConfig holds configuration for creating a Publisher.
type PublisherConfig struct {
	// URL is the NATS server URL.
	URL string

	// Name is the client connection name.
	Name string

	// MaxReconnects is the maximum reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the wait duration between reconnection attempts.
	ReconnectWait time.Duration

	Logger *slog.Logger
}

// NewPublisher connects to NATS and returns a publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "sage-publisher"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With(slog.String("component", "events"))

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("connected to NATS", slog.String("url", cfg.URL))

	return &Publisher{
		conn:   conn,
		logger: logger,
	}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}

// QueryStarted implements engine.EventSink.
func (p *Publisher) QueryStarted(_ context.Context, question engine.Question) {
	p.publish(SubjectQueryStarted, QueryStartedEvent{
		EventID:   uuid.NewString(),
		SessionID: question.SessionID,
		UserID:    question.UserID,
		Timestamp: time.Now(),
	})
}

// QueryCompleted implements engine.EventSink.
func (p *Publisher) QueryCompleted(_ context.Context, question engine.Question, result *engine.PipelineResult) {
	p.publish(SubjectQueryCompleted, QueryCompletedEvent{
		EventID:     uuid.NewString(),
		SessionID:   question.SessionID,
		UserID:      question.UserID,
		Success:     result.Success,
		Intent:      string(result.Intent),
		CacheHit:    result.CacheHit,
		ErrorStage:  result.ErrorStage,
		Confidence:  result.Confidence.Score,
		RowCount:    result.RowCount,
		TotalTimeMS: result.TotalTimeMS,
		Timestamp:   time.Now(),
	})
}

// publish sends one event, logging failures instead of returning them.
func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal event",
			slog.String("subject", subject),
			slog.Any("error", err),
		)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event",
			slog.String("subject", subject),
			slog.Any("error", err),
		)
		return
	}

	p.logger.Debug("event published", slog.String("subject", subject))
}
