// Package chat coordinates a conversation: it picks the persona for each
// user message, delivers it and tracks delivery health.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/gasnelio/internal/events"
	"github.com/hyperjump/gasnelio/internal/fallback"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/persona"
	"github.com/hyperjump/gasnelio/internal/routing"
	"github.com/hyperjump/gasnelio/internal/sender"
	"github.com/hyperjump/gasnelio/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultMaxRetries      = 3
	DefaultMaxContextTerms = 5
)

// Router is the routing surface the orchestrator needs.
type Router interface {
	Analyze(text string, history routing.History) models.RoutingDecision
	ShouldPresent(d models.RoutingDecision, pinned bool) bool
	Sentiment(d models.RoutingDecision) models.Sentiment
}

// Expander finds taxonomy terms related to a text.
type Expander interface {
	ExpandWithSynonyms(query string) []string
}

// Orchestrator runs conversations. It is safe for concurrent use; calls on
// the same conversation run one at a time in arrival order.
type Orchestrator struct {
	router   Router
	health   *fallback.Controller
	sender   sender.Sender
	catalog  persona.Catalog
	store    storage.Storage
	observer events.Observer
	expander Expander
	logger   *zap.Logger

	timeout         time.Duration
	maxRetries      int
	maxContextTerms int
	defaultPersona  models.PersonaID
	now             func() time.Time
	newID           func() string

	queue       *queue
	resolutions *routing.Resolutions
	usage       *routing.UsageLog

	mu       sync.Mutex
	messages map[string][]models.ConversationMessage
	// loaded marks conversations whose stored messages are in messages.
	loaded  map[string]bool
	retries map[string]int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists every appended message.
func WithStore(s storage.Storage) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.store = s
		}
	}
}

// WithObserver receives routing, message and fallback notifications.
func WithObserver(obs events.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTermIndex enriches requests with related taxonomy terms.
func WithTermIndex(x Expander) Option {
	return func(o *Orchestrator) {
		o.expander = x
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets how many times one message may be retried.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithMaxContextTerms caps the related terms sent with a request.
func WithMaxContextTerms(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxContextTerms = n
		}
	}
}

// WithDefaultPersona answers unpinned messages whose recommendation is not
// confident enough to be offered.
func WithDefaultPersona(p models.PersonaID) Option {
	return func(o *Orchestrator) {
		o.defaultPersona = p
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the message id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New builds an orchestrator. The default persona, when set, must exist in
// catalog.
func New(router Router, health *fallback.Controller, s sender.Sender, catalog persona.Catalog, opts ...Option) (*Orchestrator, error) {
	if router == nil || health == nil || s == nil || catalog == nil {
		return nil, errors.New("chat: router, fallback controller, sender and catalog are required")
	}
	o := &Orchestrator{
		router:          router,
		health:          health,
		sender:          s,
		catalog:         catalog,
		store:           storage.Nop{},
		observer:        events.Nop{},
		logger:          zap.NewNop(),
		timeout:         DefaultTimeout,
		maxRetries:      DefaultMaxRetries,
		maxContextTerms: DefaultMaxContextTerms,
		now:             time.Now,
		newID:           uuid.NewString,
		queue:           newQueue(),
		resolutions:     routing.NewResolutions(),
		usage:           routing.NewUsageLog(0),
		messages:        make(map[string][]models.ConversationMessage),
		loaded:          make(map[string]bool),
		retries:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.defaultPersona != "" {
		if _, ok := catalog.Get(o.defaultPersona); !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownPersona, o.defaultPersona)
		}
	}
	health.OnChange(func(s models.FallbackState) {
		o.observer.OnFallbackStateChanged(s)
	})
	return o, nil
}

// Analyze scores text for the conversation using its persona history and
// notifies observers of the decision.
func (o *Orchestrator) Analyze(conversationID, text string) models.RoutingDecision {
	d := o.router.Analyze(text, o.usage.Snapshot(conversationID))
	o.observer.OnRoutingDecision(conversationID, d)
	return d
}

// ShouldPresent reports whether the recommendation in d should be offered
// for text. A text the user already resolved is never offered again.
func (o *Orchestrator) ShouldPresent(conversationID, text string, d models.RoutingDecision, pinned bool) bool {
	if _, ok := o.resolutions.Lookup(conversationID, text); ok {
		return false
	}
	return o.router.ShouldPresent(d, pinned)
}

// ResolveRouting records the user's answer to a recommendation for text:
// later submits of the same text use p without asking again.
func (o *Orchestrator) ResolveRouting(conversationID, text string, p models.PersonaID) error {
	if _, ok := o.catalog.Get(p); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPersona, p)
	}
	o.resolutions.Record(conversationID, text, p)
	return nil
}

// Submit delivers text on behalf of a persona and returns the assistant
// reply. An empty pinned persona lets routing pick one.
//
// When delivery fails the error wraps ErrDeliveryFailed or
// ErrServiceDegraded together with the *sender.Error cause, and the
// returned message is the stored user message, ready for Retry.
func (o *Orchestrator) Submit(ctx context.Context, conversationID, text string, pinned models.PersonaID) (*models.ConversationMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	release, err := o.queue.acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, sentiment, err := o.pickPersona(conversationID, text, pinned)
	if err != nil {
		return nil, err
	}
	return o.deliver(ctx, conversationID, text, p, sentiment, "")
}

// Retry resubmits the user message id with its original persona. Retries
// of a retry count against the original message.
func (o *Orchestrator) Retry(ctx context.Context, conversationID, messageID string) (*models.ConversationMessage, error) {
	release, err := o.queue.acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	orig, err := o.lookup(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if orig.Role != models.RoleUser {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, messageID)
	}
	root := orig.ID
	if orig.RetryOf != "" {
		root = orig.RetryOf
	}

	o.mu.Lock()
	if o.retries[root] >= o.maxRetries {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s retried %d times", ErrRetryLimitExceeded, root, o.maxRetries)
	}
	o.retries[root]++
	o.mu.Unlock()

	d := o.router.Analyze(orig.Content, o.usage.Snapshot(conversationID))
	return o.deliver(ctx, conversationID, orig.Content, orig.Persona, o.router.Sentiment(d), root)
}

// pickPersona resolves the persona for an unretried submit: pinned, then a
// recorded resolution, then the routing decision.
func (o *Orchestrator) pickPersona(conversationID, text string, pinned models.PersonaID) (models.PersonaID, models.Sentiment, error) {
	history := o.usage.Snapshot(conversationID)
	if pinned != "" {
		if _, ok := o.catalog.Get(pinned); !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownPersona, pinned)
		}
		d := o.router.Analyze(text, history)
		return pinned, o.router.Sentiment(d), nil
	}

	d := o.router.Analyze(text, history)
	o.observer.OnRoutingDecision(conversationID, d)
	sentiment := o.router.Sentiment(d)

	if p, ok := o.resolutions.Lookup(conversationID, text); ok {
		return p, sentiment, nil
	}
	if o.ShouldPresent(conversationID, text, d, false) {
		return "", "", fmt.Errorf("%w: %s recommended with confidence %.2f", ErrNoPersonaSelected, d.RecommendedPersona, d.Confidence)
	}
	if o.defaultPersona == "" {
		return "", "", ErrNoPersonaSelected
	}
	return o.defaultPersona, sentiment, nil
}

func (o *Orchestrator) deliver(ctx context.Context, conversationID, text string, p models.PersonaID, sentiment models.Sentiment, retryOf string) (*models.ConversationMessage, error) {
	userMsg := models.ConversationMessage{
		ID:             o.newID(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        text,
		Persona:        p,
		Timestamp:      o.now(),
		RetryOf:        retryOf,
	}
	o.appendMessage(ctx, userMsg)

	req := sender.Request{
		Text:         text,
		Persona:      p,
		Sentiment:    sentiment,
		ContextTerms: o.contextTerms(text),
	}
	if info, ok := o.catalog.Get(p); ok {
		req.SystemPrompt = info.SystemPrompt
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.timeout)
	reply, err := o.sender.Send(sendCtx, req)
	cancel()
	if err != nil {
		return &userMsg, o.fail(conversationID, err)
	}

	o.health.RecordSuccess()
	if !reply.Persona.Valid() {
		reply.Persona = p
	}
	assistant := models.ConversationMessage{
		ID:             o.newID(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        reply.Content,
		Persona:        reply.Persona,
		Timestamp:      o.now(),
	}
	o.appendMessage(ctx, assistant)
	o.usage.Record(conversationID, text, p)
	return &assistant, nil
}

func (o *Orchestrator) fail(conversationID string, err error) error {
	var se *sender.Error
	if !errors.As(err, &se) {
		se = sender.NewError(sender.KindOf(err), err)
	}
	state := o.health.RecordFailure(se.Kind)
	o.logger.Warn("delivery failed",
		zap.String("conversation_id", conversationID),
		zap.String("kind", string(se.Kind)),
		zap.Int("consecutive_failures", state.ConsecutiveFailures),
		zap.Error(err))
	if state.IsDegraded {
		return fmt.Errorf("%w: %w", ErrServiceDegraded, se)
	}
	return fmt.Errorf("%w: %w", ErrDeliveryFailed, se)
}

func (o *Orchestrator) contextTerms(text string) []string {
	if o.expander == nil || o.maxContextTerms == 0 {
		return nil
	}
	terms := o.expander.ExpandWithSynonyms(text)
	if len(terms) > o.maxContextTerms {
		terms = terms[:o.maxContextTerms]
	}
	return terms
}

func (o *Orchestrator) appendMessage(ctx context.Context, msg models.ConversationMessage) {
	if err := o.hydrate(ctx, msg.ConversationID); err != nil {
		o.logger.Warn("failed to load stored history",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
	}
	o.mu.Lock()
	o.messages[msg.ConversationID] = append(o.messages[msg.ConversationID], msg)
	o.mu.Unlock()

	stored := msg
	if err := o.store.AppendMessage(ctx, &stored); err != nil {
		o.logger.Error("failed to persist message",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
	o.observer.OnMessageAppended(msg)
}

func (o *Orchestrator) lookup(ctx context.Context, conversationID, id string) (models.ConversationMessage, error) {
	o.mu.Lock()
	for _, msg := range o.messages[conversationID] {
		if msg.ID == id {
			o.mu.Unlock()
			return msg, nil
		}
	}
	o.mu.Unlock()

	msg, err := o.store.GetMessage(ctx, conversationID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ConversationMessage{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return models.ConversationMessage{}, err
	}
	return *msg, nil
}

// hydrate loads the stored messages of a conversation the first time it is
// touched, so conversations started before this process keep their history.
// Messages already in memory but missing from the store are kept after the
// stored ones.
func (o *Orchestrator) hydrate(ctx context.Context, conversationID string) error {
	o.mu.Lock()
	done := o.loaded[conversationID]
	o.mu.Unlock()
	if done {
		return nil
	}

	stored, err := o.store.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded[conversationID] {
		return nil
	}
	o.loaded[conversationID] = true
	if len(stored) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(stored))
	merged := make([]models.ConversationMessage, 0, len(stored)+len(o.messages[conversationID]))
	for _, msg := range stored {
		seen[msg.ID] = struct{}{}
		merged = append(merged, *msg)
	}
	for _, msg := range o.messages[conversationID] {
		if _, ok := seen[msg.ID]; !ok {
			merged = append(merged, msg)
		}
	}
	o.messages[conversationID] = merged
	return nil
}

// History returns the conversation in append order. Conversations started
// before this process are read from the store.
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	if err := o.hydrate(ctx, conversationID); err != nil {
		o.mu.Lock()
		_, inMemory := o.messages[conversationID]
		o.mu.Unlock()
		if !inMemory {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		o.logger.Warn("failed to load stored history",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.ConversationMessage(nil), o.messages[conversationID]...), nil
}

// DeleteConversation drops the conversation's messages, resolutions, retry
// counts and persona usage.
func (o *Orchestrator) DeleteConversation(ctx context.Context, conversationID string) error {
	release, err := o.queue.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()

	o.mu.Lock()
	for _, msg := range o.messages[conversationID] {
		delete(o.retries, msg.ID)
	}
	delete(o.messages, conversationID)
	delete(o.loaded, conversationID)
	o.mu.Unlock()
	o.resolutions.Forget(conversationID)
	o.usage.Forget(conversationID)
	return o.store.DeleteConversation(ctx, conversationID)
}

// FallbackState returns the delivery health.
func (o *Orchestrator) FallbackState() models.FallbackState {
	return o.health.State()
}

// ResetFallback clears degraded mode by hand.
func (o *Orchestrator) ResetFallback() models.FallbackState {
	return o.health.ManualReset()
}
