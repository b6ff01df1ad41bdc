package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// StreamName is the JetStream stream holding session events
const StreamName = "SESSION_EVENTS"

// Publisher delivers lifecycle events to whoever persists sessions
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NATSPublisher publishes events to NATS JetStream
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS and makes sure the events stream exists
func NewNATSPublisher(ctx context.Context, url string, logger *zap.Logger) (*NATSPublisher, error) {
	logger = logger.Named("events")
	nc, err := nats.Connect(url,
		nats.Name("interviewcoach"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// the stream may be managed elsewhere or the server still starting
		logger.Warn("failed to ensure events stream", zap.String("stream", StreamName), zap.Error(err))
	}

	return &NATSPublisher{nc: nc, js: js, logger: logger}, nil
}

// Publish sends one event. The session id doubles as the message id so
// JetStream drops redelivered duplicates.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := event.Subject()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.SessionID+":"+string(event.Kind)))
	if err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}

// LogPublisher writes events to the log. It is used when no NATS server is
// configured so lifecycle events remain visible.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("session event",
		zap.String("subject", event.Subject()),
		zap.String("session_id", event.SessionID),
		zap.String("state", string(event.State)),
		zap.String("failure_reason", string(event.FailureReason)),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() {}
