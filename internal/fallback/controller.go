// Package fallback tracks consecutive delivery failures and decides when the
// chat service is degraded.
package fallback

import (
	"sync"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"go.uber.org/zap"
)

// DefaultThreshold is the number of consecutive failures that degrades the
// service.
const DefaultThreshold = 3

// Controller is the HEALTHY -> DEGRADING -> DEGRADED state machine. A single
// success returns it to HEALTHY. It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	state     models.FallbackState
	threshold int
	now       func() time.Time
	listeners []func(models.FallbackState)
	logger    *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithThreshold sets how many consecutive failures degrade the service.
func WithThreshold(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithClock sets the source of DegradedSince timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController returns a healthy controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		state:     models.Healthy(),
		threshold: DefaultThreshold,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to be called with the new state after every
// transition that changes it. Listeners run outside the controller lock, in
// registration order.
func (c *Controller) OnChange(fn func(models.FallbackState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Threshold returns the failure count that degrades the service.
func (c *Controller) Threshold() int {
	return c.threshold
}

// RecordFailure counts one failed delivery.
func (c *Controller) RecordFailure(kind models.ErrorKind) models.FallbackState {
	return c.transition(func(s *models.FallbackState) {
		s.ConsecutiveFailures++
		k := kind
		s.LastFailureReason = &k
		if s.ConsecutiveFailures < c.threshold {
			s.Status = models.StatusDegrading
			return
		}
		s.Status = models.StatusDegraded
		s.IsDegraded = true
		if s.DegradedSince == nil {
			t := c.now()
			s.DegradedSince = &t
		}
	})
}

// RecordSuccess restores health regardless of the current state.
func (c *Controller) RecordSuccess() models.FallbackState {
	return c.transition(func(s *models.FallbackState) {
		*s = models.Healthy()
	})
}

// ManualReset restores health. It is a no-op when already healthy.
func (c *Controller) ManualReset() models.FallbackState {
	return c.transition(func(s *models.FallbackState) {
		if s.Status == models.StatusHealthy {
			return
		}
		*s = models.Healthy()
	})
}

// IsDegraded reports whether the service is degraded.
func (c *Controller) IsDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsDegraded
}

// State returns a snapshot of the current state.
func (c *Controller) State() models.FallbackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.state)
}

func (c *Controller) transition(apply func(*models.FallbackState)) models.FallbackState {
	c.mu.Lock()
	before := copyState(c.state)
	apply(&c.state)
	after := copyState(c.state)
	listeners := c.listeners
	c.mu.Unlock()

	if changed(before, after) {
		c.logger.Info("fallback state changed",
			zap.String("from", string(before.Status)),
			zap.String("to", string(after.Status)),
			zap.Int("consecutive_failures", after.ConsecutiveFailures))
		for _, fn := range listeners {
			fn(copyState(after))
		}
	}
	return after
}

func changed(a, b models.FallbackState) bool {
	if a.Status != b.Status || a.ConsecutiveFailures != b.ConsecutiveFailures || a.IsDegraded != b.IsDegraded {
		return true
	}
	if (a.LastFailureReason == nil) != (b.LastFailureReason == nil) {
		return true
	}
	return a.LastFailureReason != nil && *a.LastFailureReason != *b.LastFailureReason
}

// copyState detaches the pointer fields so callers cannot mutate the
// controller's state.
func copyState(s models.FallbackState) models.FallbackState {
	if s.LastFailureReason != nil {
		k := *s.LastFailureReason
		s.LastFailureReason = &k
	}
	if s.DegradedSince != nil {
		t := *s.DegradedSince
		s.DegradedSince = &t
	}
	return s
}
