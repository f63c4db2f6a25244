// Package events publishes kernel lifecycle events over NATS JetStream so
// downstream consumers (dashboards, audit sinks) can follow summarization
// and threshold activity without polling.
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/jsonx"
	"github.com/adaptive-context-kernel/internal/summarize"
)

const (
	streamName     = "CONTEXT_EVENTS"
	subjectPrefix  = "context.events."
	eventRetention = 24 * time.Hour * 7
)

// Event is the wire form of a kernel event.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	TargetID       string    `json:"target_id,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Threshold      float64   `json:"threshold,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher emits events to JetStream. A nil *Publisher is a no-op, so
// callers can wire it unconditionally. Satisfies summarize.Notifier.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Config holds NATS connection settings.
type Config struct {
	Address string `yaml:"address"`
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(cfg.Address,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   eventRetention,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	logger.Info("event publisher connected", zap.String("address", cfg.Address))
	return &Publisher{conn: conn, js: js, logger: logger.Named("events")}, nil
}

func (p *Publisher) publish(subject string, ev Event) {
	if p == nil {
		return
	}
	ev.At = time.Now().UTC()
	data, err := jsonx.Marshal(ev)
	if err != nil {
		p.logger.Warn("event encode failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	// Async publish; event loss is tolerable, kernel progress is not.
	if _, err := p.js.PublishAsync(subjectPrefix+subject, data); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("subject", subjectPrefix+subject),
			zap.Error(err))
	}
}

// SummaryCompleted implements summarize.Notifier.
func (p *Publisher) SummaryCompleted(conversationID, targetID string, kind summarize.Kind) {
	p.publish("summary.completed", Event{
		Type:           "summary.completed",
		ConversationID: conversationID,
		TargetID:       targetID,
		Kind:           string(kind),
	})
}

// SummaryFailed implements summarize.Notifier.
func (p *Publisher) SummaryFailed(conversationID, targetID string, kind summarize.Kind) {
	p.publish("summary.failed", Event{
		Type:           "summary.failed",
		ConversationID: conversationID,
		TargetID:       targetID,
		Kind:           string(kind),
	})
}

// ThresholdAdapted reports a feedback-driven threshold change.
func (p *Publisher) ThresholdAdapted(projectID, retrievalType string, threshold float64) {
	p.publish("threshold.adapted", Event{
		Type:           "threshold.adapted",
		ConversationID: projectID + "/" + retrievalType,
		Threshold:      threshold,
	})
}

// FeedbackRecorded reports that retrieval feedback was applied.
func (p *Publisher) FeedbackRecorded(projectID, retrievalType string) {
	p.publish("feedback.recorded", Event{
		Type:           "feedback.recorded",
		ConversationID: projectID + "/" + retrievalType,
	})
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(2 * time.Second):
	}
	p.conn.Close()
}
