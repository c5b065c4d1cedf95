// Package events fans chat notifications out to interested parties: the UI
// layer, logs and the message bus.
package events

import (
	"github.com/hyperjump/gasnelio/internal/models"
	"go.uber.org/zap"
)

// Observer receives the chat's outward notifications. Implementations must
// be safe for concurrent use and must not block for long; they are called
// inline by the chat.
type Observer interface {
	OnRoutingDecision(conversationID string, d models.RoutingDecision)
	OnMessageAppended(msg models.ConversationMessage)
	OnFallbackStateChanged(s models.FallbackState)
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnRoutingDecision(string, models.RoutingDecision) {}
func (Nop) OnMessageAppended(models.ConversationMessage)     {}
func (Nop) OnFallbackStateChanged(models.FallbackState)      {}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	RoutingDecision      func(conversationID string, d models.RoutingDecision)
	MessageAppended      func(msg models.ConversationMessage)
	FallbackStateChanged func(s models.FallbackState)
}

func (f Funcs) OnRoutingDecision(conversationID string, d models.RoutingDecision) {
	if f.RoutingDecision != nil {
		f.RoutingDecision(conversationID, d)
	}
}

func (f Funcs) OnMessageAppended(msg models.ConversationMessage) {
	if f.MessageAppended != nil {
		f.MessageAppended(msg)
	}
}

func (f Funcs) OnFallbackStateChanged(s models.FallbackState) {
	if f.FallbackStateChanged != nil {
		f.FallbackStateChanged(s)
	}
}

// Multi forwards every notification to each observer in order.
type Multi []Observer

func (m Multi) OnRoutingDecision(conversationID string, d models.RoutingDecision) {
	for _, o := range m {
		o.OnRoutingDecision(conversationID, d)
	}
}

func (m Multi) OnMessageAppended(msg models.ConversationMessage) {
	for _, o := range m {
		o.OnMessageAppended(msg)
	}
}

func (m Multi) OnFallbackStateChanged(s models.FallbackState) {
	for _, o := range m {
		o.OnFallbackStateChanged(s)
	}
}

// Logging writes every notification to a zap logger.
type Logging struct {
	Logger *zap.Logger
}

func (l Logging) OnRoutingDecision(conversationID string, d models.RoutingDecision) {
	l.Logger.Info("routing decision",
		zap.String("conversation_id", conversationID),
		zap.String("persona", string(d.RecommendedPersona)),
		zap.Float64("confidence", d.Confidence))
}

func (l Logging) OnMessageAppended(msg models.ConversationMessage) {
	l.Logger.Info("message appended",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.String("role", string(msg.Role)),
		zap.String("persona", string(msg.Persona)),
		zap.String("retry_of", msg.RetryOf))
}

func (l Logging) OnFallbackStateChanged(s models.FallbackState) {
	l.Logger.Warn("fallback state changed",
		zap.String("status", string(s.Status)),
		zap.Int("consecutive_failures", s.ConsecutiveFailures),
		zap.Bool("degraded", s.IsDegraded))
}
