package routing

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
)

// minHistoryTokenLength drops articles and prepositions from similarity.
const minHistoryTokenLength = 3

// HistoryEntry is one prior message and the persona that answered it.
type HistoryEntry struct {
	Text    string           `json:"text"`
	Persona models.PersonaID `json:"persona"`
}

// History is prior persona usage, oldest first.
type History []HistoryEntry

// historySignals emits one prior_persona signal per recent entry similar to
// the current text. The newest entry has age 0; each older one halves (by
// default) the weight.
func (c *Classifier) historySignals(tokens []string, h History) []models.RoutingSignal {
	r := c.rules
	if len(h) == 0 || r.HistoryWeight <= 0 {
		return nil
	}
	current := tokenSet(tokens)
	if len(current) == 0 {
		return nil
	}

	window := r.HistoryWindow
	if window <= 0 || window > len(h) {
		window = len(h)
	}
	var out []models.RoutingSignal
	for age := 0; age < window; age++ {
		e := h[len(h)-1-age]
		if !e.Persona.Valid() {
			continue
		}
		sim := jaccard(current, tokenSet(terms.Tokenize(e.Text)))
		if sim < r.HistorySimilarity {
			continue
		}
		out = append(out, models.RoutingSignal{
			Name:     SignalPriorPersona,
			Persona:  e.Persona,
			Weight:   r.HistoryWeight * math.Pow(r.HistoryDecay, float64(age)),
			Evidence: fmt.Sprintf("age=%d similarity=%.2f", age, sim),
		})
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if utf8.RuneCountInString(t) >= minHistoryTokenLength {
			set[t] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// UsageLog remembers, per conversation, which persona answered which text.
// It keeps at most limit entries per conversation.
type UsageLog struct {
	mu    sync.Mutex
	limit int
	byID  map[string]History
}

// NewUsageLog returns a log that keeps the last limit entries per
// conversation.
func NewUsageLog(limit int) *UsageLog {
	if limit <= 0 {
		limit = DefaultRules().HistoryWindow
	}
	return &UsageLog{limit: limit, byID: make(map[string]History)}
}

// Record appends an entry for the conversation.
func (u *UsageLog) Record(conversationID, text string, p models.PersonaID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h := append(u.byID[conversationID], HistoryEntry{Text: strings.TrimSpace(text), Persona: p})
	if len(h) > u.limit {
		h = append(History(nil), h[len(h)-u.limit:]...)
	}
	u.byID[conversationID] = h
}

// Snapshot returns a copy of the conversation's history.
func (u *UsageLog) Snapshot(conversationID string) History {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append(History(nil), u.byID[conversationID]...)
}

// Forget drops the conversation's history.
func (u *UsageLog) Forget(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.byID, conversationID)
}
