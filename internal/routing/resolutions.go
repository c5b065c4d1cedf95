package routing

import (
	"sync"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
)

// Resolutions records the persona the user settled on for a given text in a
// conversation, whether by accepting or rejecting a recommendation. A
// resolved text is not presented again.
type Resolutions struct {
	mu   sync.RWMutex
	byID map[string]map[string]models.PersonaID
}

// NewResolutions returns an empty record.
func NewResolutions() *Resolutions {
	return &Resolutions{byID: make(map[string]map[string]models.PersonaID)}
}

// Record stores the persona chosen for text.
func (r *Resolutions) Record(conversationID, text string, p models.PersonaID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[conversationID]
	if !ok {
		m = make(map[string]models.PersonaID)
		r.byID[conversationID] = m
	}
	m[terms.Normalize(text)] = p
}

// Lookup returns the persona chosen for text, if any.
func (r *Resolutions) Lookup(conversationID, text string) (models.PersonaID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[conversationID][terms.Normalize(text)]
	return p, ok
}

// Forget drops every resolution of a conversation.
func (r *Resolutions) Forget(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, conversationID)
}
