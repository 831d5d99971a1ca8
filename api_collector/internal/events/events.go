// Package events publishes entity state changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"billingstack/api_collector/internal/flows"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// DefaultTopic is the topic state events go to unless configured otherwise.
const DefaultTopic = "collector_state_events"

// StateEvent is the message body published for every state write.
type StateEvent struct {
	EventID   string       `json:"event_id"`
	Entity    string       `json:"entity"`
	EntityID  string       `json:"entity_id"`
	From      models.State `json:"from,omitempty"`
	To        models.State `json:"to"`
	Reason    string       `json:"reason,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// RequestIDFunc extracts a request id from ctx for correlation.
type RequestIDFunc func(ctx context.Context) string

// Publisher turns state changes into Kafka messages keyed by entity id. A nil
// Producer turns it into a no-op. Failures are logged and counted, never
// returned.
type Publisher struct {
	producer  Producer
	topic     string
	logger    logging.Logger
	published *prometheus.CounterVec
	requestID RequestIDFunc
	now       func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithCounter counts publish outcomes on c, labelled by status.
func WithCounter(c *prometheus.CounterVec) Option {
	return func(p *Publisher) { p.published = c }
}

// WithRequestID stamps events with the request id found in ctx.
func WithRequestID(fn RequestIDFunc) Option {
	return func(p *Publisher) { p.requestID = fn }
}

func NewPublisher(producer Producer, topic string, logger logging.Logger, opts ...Option) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	p := &Publisher{producer: producer, topic: topic, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ flows.Notifier = (*Publisher)(nil)

// StateChanged implements flows.Notifier.
func (p *Publisher) StateChanged(ctx context.Context, c flows.StateChange) {
	if p == nil || p.producer == nil {
		return
	}
	ev := StateEvent{
		EventID:   uuid.NewString(),
		Entity:    c.Entity,
		EntityID:  c.EntityID,
		From:      c.From,
		To:        c.To,
		Reason:    c.Reason,
		Timestamp: p.now().UTC(),
	}
	if p.requestID != nil {
		ev.RequestID = p.requestID(ctx)
	}
	log := p.logger.WithFields(logging.Fields{
		"event_id":  ev.EventID,
		"entity":    ev.Entity,
		"entity_id": ev.EntityID,
		"to":        ev.To,
	})

	body, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Warn("Failed to encode state event")
		p.count("error")
		return
	}
	headers := map[string]string{
		"event_type": ev.Entity + "_state_changed",
		"source":     "collector",
	}
	if err := p.producer.Produce(ctx, p.topic, []byte(ev.EntityID), body, headers); err != nil {
		log.WithError(err).Warn("Failed to publish state event")
		p.count("error")
		return
	}
	p.count("success")
}

func (p *Publisher) count(status string) {
	if p.published != nil {
		p.published.WithLabelValues(status).Inc()
	}
}
