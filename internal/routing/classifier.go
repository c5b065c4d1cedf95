// Package routing recommends which persona should answer a piece of user
// input.
package routing

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/persona"
	"github.com/hyperjump/gasnelio/internal/terms"
	"go.uber.org/zap"
)

const (
	DefaultMinAnalysisLength = 10
	DefaultPresentThreshold  = 0.6

	epsilon = 1e-9
)

// Signal names.
const (
	SignalTechnicalTerm   = "technical_term"
	SignalClinicalPattern = "clinical_pattern"
	SignalEmotionalMarker = "emotional_marker"
	SignalFirstPerson     = "first_person"
	SignalEmpathyPattern  = "empathy_pattern"
	SignalAffinity        = "persona_affinity"
	SignalPriorPersona    = "prior_persona"
)

// TechnicalPersona and EmpatheticPersona are the two scoring sides.
const (
	TechnicalPersona  = models.PersonaGasnelio
	EmpatheticPersona = models.PersonaGa
)

// Classifier scores text against persona signals. Scoring uses no clock and
// no randomness: the same text and history always give the same
// recommendation and confidence.
type Classifier struct {
	rules     *compiledRules
	affinity  []affinityPhrase
	minLength int
	threshold float64
	now       func() time.Time
	logger    *zap.Logger
}

type affinityPhrase struct {
	phrase  string
	persona models.PersonaID
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithRules replaces the default rules.
func WithRules(r Rules) Option {
	return func(c *Classifier) error {
		compiled, err := compile(r)
		if err != nil {
			return err
		}
		c.rules = compiled
		return nil
	}
}

// WithMinAnalysisLength sets the shortest text, in runes, that is analyzed.
func WithMinAnalysisLength(n int) Option {
	return func(c *Classifier) error {
		if n > 0 {
			c.minLength = n
		}
		return nil
	}
}

// WithPresentThreshold sets the confidence from which a recommendation is
// shown to the user.
func WithPresentThreshold(t float64) Option {
	return func(c *Classifier) error {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
		return nil
	}
}

// WithClock sets the source of decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// NewClassifier builds a classifier. Affinity keywords are read from catalog
// once; catalog may be nil.
func NewClassifier(catalog persona.Catalog, opts ...Option) (*Classifier, error) {
	rules, err := compile(DefaultRules())
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		rules:     rules,
		minLength: DefaultMinAnalysisLength,
		threshold: DefaultPresentThreshold,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if catalog != nil {
		for _, p := range catalog.List() {
			for _, kw := range normalizePhrases(p.AffinityKeywords) {
				c.affinity = append(c.affinity, affinityPhrase{phrase: kw, persona: p.ID})
			}
		}
	}
	return c, nil
}

// Threshold returns the presentation threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Analyze scores text and recommends a persona. Text shorter than the
// minimum analysis length yields a zero-confidence decision for the
// technical persona with no signals.
func (c *Classifier) Analyze(text string, history History) models.RoutingDecision {
	d := models.RoutingDecision{
		RecommendedPersona: TechnicalPersona,
		Signals:            []models.RoutingSignal{},
		Timestamp:          c.now(),
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.minLength {
		return d
	}

	normalized := terms.Normalize(text)
	tokens := terms.Tokenize(text)
	padded := " " + strings.Join(tokens, " ") + " "
	r := c.rules

	add := func(name string, p models.PersonaID, w float64, evidence string) {
		if w <= 0 {
			return
		}
		d.Signals = append(d.Signals, models.RoutingSignal{Name: name, Persona: p, Weight: w, Evidence: evidence})
	}

	for _, v := range r.technical {
		if strings.Contains(padded, " "+v+" ") {
			add(SignalTechnicalTerm, TechnicalPersona, r.TechnicalWeight, v)
		}
	}
	for _, re := range r.clinical {
		if m := re.FindString(normalized); m != "" {
			add(SignalClinicalPattern, TechnicalPersona, r.ClinicalPatternWeight, m)
		}
	}
	for _, v := range r.emotional {
		if strings.Contains(padded, " "+v+" ") {
			add(SignalEmotionalMarker, EmpatheticPersona, r.EmotionalWeight, v)
		}
	}
	for _, v := range r.firstPerson {
		if strings.Contains(padded, " "+v+" ") {
			add(SignalFirstPerson, EmpatheticPersona, r.FirstPersonWeight, v)
			break
		}
	}
	for _, re := range r.empathy {
		if m := re.FindString(normalized); m != "" {
			add(SignalEmpathyPattern, EmpatheticPersona, r.EmpathyPatternWeight, m)
		}
	}
	for _, a := range c.affinity {
		if strings.Contains(padded, " "+a.phrase+" ") {
			add(SignalAffinity, a.persona, r.AffinityWeight, a.phrase)
		}
	}
	for _, s := range c.historySignals(tokens, history) {
		add(s.Name, s.Persona, s.Weight, s.Evidence)
	}

	for _, s := range d.Signals {
		switch s.Persona {
		case TechnicalPersona:
			d.TechnicalScore += s.Weight
		case EmpatheticPersona:
			d.EmpathyScore += s.Weight
		}
	}
	d.Confidence = confidence(d.TechnicalScore, d.EmpathyScore)
	if d.EmpathyScore > d.TechnicalScore {
		d.RecommendedPersona = EmpatheticPersona
	}

	c.logger.Debug("routing decision",
		zap.String("persona", string(d.RecommendedPersona)),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("technical", d.TechnicalScore),
		zap.Float64("empathy", d.EmpathyScore),
		zap.Int("signals", len(d.Signals)))
	return d
}

// confidence is |t-e| / (t+e+ε) clamped to [0,1]. Balanced or sparse
// signals give low confidence.
func confidence(t, e float64) float64 {
	v := math.Abs(t-e) / (t + e + epsilon)
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ShouldPresent reports whether the recommendation should be offered to the
// user: only when no persona is pinned and confidence reaches the
// threshold.
func (c *Classifier) ShouldPresent(d models.RoutingDecision, pinned bool) bool {
	return !pinned && d.Confidence >= c.threshold
}

// Sentiment derives the emotional register of the analyzed text from its
// empathy signals.
func (c *Classifier) Sentiment(d models.RoutingDecision) models.Sentiment {
	emotional := false
	for _, s := range d.Signals {
		if s.Name == SignalEmotionalMarker || s.Name == SignalEmpathyPattern {
			emotional = true
			break
		}
	}
	switch {
	case !emotional:
		return models.SentimentNeutral
	case d.EmpathyScore >= c.rules.DistressThreshold:
		return models.SentimentDistressed
	default:
		return models.SentimentConcerned
	}
}
