package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Stream and subjects used on the bus.
const (
	StreamName             = "GASNELIO"
	SubjectRoutingDecision = "gasnelio.routing"
	SubjectMessageAppended = "gasnelio.message"
	SubjectFallbackState   = "gasnelio.fallback"

	publishTimeout = 2 * time.Second
	stallWait      = 50 * time.Millisecond
	maxPendingAcks = 1024
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// streamPublisher is the part of jetstream.JetStream used here.
type streamPublisher interface {
	PublishAsync(subject string, data []byte, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
	PublishAsyncComplete() <-chan struct{}
}

// NATSPublisher publishes notifications to a JetStream stream without
// waiting for acks. Publish failures are logged and never reach the chat.
type NATSPublisher struct {
	nc     *nats.Conn
	js     streamPublisher
	now    func() time.Time
	logger *zap.Logger
}

// NewNATSPublisher connects to url and makes sure the stream exists.
func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := newPublisher(nil, logger)
	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
			p.ackFailed(msg.Subject, err)
		}),
		jetstream.WithPublishAsyncMaxPending(maxPendingAcks),
		jetstream.WithPublishAsyncTimeout(publishTimeout),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"gasnelio.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// The stream may be managed elsewhere; publishing still works if
		// it exists.
		logger.Warn("failed to ensure stream", zap.String("stream", StreamName), zap.Error(err))
	}

	p.js = js
	p.nc = nc
	return p, nil
}

func newPublisher(js streamPublisher, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{js: js, now: time.Now, logger: logger}
}

func (p *NATSPublisher) OnRoutingDecision(conversationID string, d models.RoutingDecision) {
	p.publish(SubjectRoutingDecision, "routing_decision", conversationID, d)
}

func (p *NATSPublisher) OnMessageAppended(msg models.ConversationMessage) {
	p.publish(SubjectMessageAppended, "message_appended", msg.ConversationID, msg)
}

func (p *NATSPublisher) OnFallbackStateChanged(s models.FallbackState) {
	p.publish(SubjectFallbackState, "fallback_state_changed", "", s)
}

func (p *NATSPublisher) publish(subject, typ, conversationID string, payload interface{}) {
	data, err := encode(typ, conversationID, p.now(), payload)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	// A full ack window drops the event after stallWait instead of
	// blocking the caller.
	if _, err := p.js.PublishAsync(subject, data, jetstream.WithStallWait(stallWait)); err != nil {
		p.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *NATSPublisher) ackFailed(subject string, err error) {
	p.logger.Warn("event not acknowledged", zap.String("subject", subject), zap.Error(err))
}

func encode(typ, conversationID string, ts time.Time, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, ConversationID: conversationID, Timestamp: ts, Payload: raw})
}

// Close waits up to publishTimeout for outstanding acks, then drains the
// connection.
func (p *NATSPublisher) Close() error {
	if p.js != nil {
		timer := time.NewTimer(publishTimeout)
		select {
		case <-p.js.PublishAsyncComplete():
		case <-timer.C:
			p.logger.Warn("closing with unacknowledged events")
		}
		timer.Stop()
	}
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
