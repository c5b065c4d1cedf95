package routing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/persona"
)

func newClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	c, err := NewClassifier(persona.Default(), opts...)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestAnalyze_Scenarios(t *testing.T) {
	c := newClassifier(t)

	tests := []struct {
		name          string
		text          string
		wantPersona   models.PersonaID
		minConfidence float64
	}{
		{"dose question", "Qual a dose de rifampicina para adulto de 70kg?", models.PersonaGasnelio, 0.6},
		{"fear of treatment", "Estou com medo de começar o tratamento", models.PersonaGa, 0.5},
		{"interaction", "Posso tomar dapsona junto com anticoncepcional?", models.PersonaGasnelio, 0.6},
		{"coping", "Como lidar com a vergonha das manchas na pele?", models.PersonaGa, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Analyze(tt.text, nil)
			if d.RecommendedPersona != tt.wantPersona {
				t.Errorf("RecommendedPersona = %s, want %s (signals %+v)", d.RecommendedPersona, tt.wantPersona, d.Signals)
			}
			if d.Confidence < tt.minConfidence {
				t.Errorf("Confidence = %v, want >= %v", d.Confidence, tt.minConfidence)
			}
		})
	}
}

func TestAnalyze_ShortTextIsNoOp(t *testing.T) {
	c := newClassifier(t)
	d := c.Analyze("medo!", nil)
	if d.Confidence != 0 || len(d.Signals) != 0 || d.RecommendedPersona != models.PersonaGasnelio {
		t.Errorf("short text decision = %+v, want zero-confidence technical no-op", d)
	}
	if d.Signals == nil {
		t.Error("Signals should be empty, not nil")
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	clock := func() time.Time { return time.Now() }
	c := newClassifier(t, WithClock(clock))
	history := History{
		{Text: "qual a dose de clofazimina", Persona: models.PersonaGasnelio},
		{Text: "estou com medo das manchas", Persona: models.PersonaGa},
	}
	texts := []string{
		"Qual a dose de rifampicina para adulto de 70kg?",
		"Estou com medo de começar o tratamento",
		"tenho medo da dose de dapsona",
		"uma pergunta qualquer sem sinais",
	}
	for _, text := range texts {
		a := c.Analyze(text, history)
		b := c.Analyze(text, history)
		if a.Confidence != b.Confidence || a.RecommendedPersona != b.RecommendedPersona {
			t.Errorf("Analyze(%q) not deterministic: %v/%s vs %v/%s",
				text, a.Confidence, a.RecommendedPersona, b.Confidence, b.RecommendedPersona)
		}
	}
}

func TestAnalyze_BalancedSignalsLowConfidence(t *testing.T) {
	c := newClassifier(t)
	d := c.Analyze("tenho medo da dose", nil)
	if d.Confidence >= 0.6 {
		t.Errorf("Confidence = %v for balanced input, want < 0.6", d.Confidence)
	}
	if d.TechnicalScore != d.EmpathyScore || d.RecommendedPersona != models.PersonaGasnelio {
		t.Errorf("tie should go to the technical persona: %+v", d)
	}
}

func TestAnalyze_NoSignals(t *testing.T) {
	c := newClassifier(t)
	d := c.Analyze("bom dia, tudo bem por aí?", nil)
	if d.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", d.Confidence)
	}
}

func TestAnalyze_HistoryDecay(t *testing.T) {
	c := newClassifier(t)
	text := "sobre as manchas na pele depois do tratamento"
	history := History{
		{Text: "manchas na pele depois do tratamento", Persona: models.PersonaGa},
		{Text: "assunto completamente diferente aqui", Persona: models.PersonaGasnelio},
	}
	d := c.Analyze(text, history)

	var prior []models.RoutingSignal
	for _, s := range d.Signals {
		if s.Name == SignalPriorPersona {
			prior = append(prior, s)
		}
	}
	if len(prior) != 1 {
		t.Fatalf("prior persona signals = %+v, want 1", prior)
	}
	if prior[0].Persona != models.PersonaGa || prior[0].Weight != 0.3*0.5 {
		t.Errorf("prior signal = %+v, want ga with weight 0.15", prior[0])
	}
	if d.RecommendedPersona != models.PersonaGa {
		t.Errorf("RecommendedPersona = %s, want ga", d.RecommendedPersona)
	}
}

func TestShouldPresent(t *testing.T) {
	c := newClassifier(t)
	high := models.RoutingDecision{Confidence: 0.8}
	low := models.RoutingDecision{Confidence: 0.3}

	if !c.ShouldPresent(high, false) {
		t.Error("high confidence, unpinned: want present")
	}
	if c.ShouldPresent(high, true) {
		t.Error("pinned persona: never present")
	}
	if c.ShouldPresent(low, false) {
		t.Error("low confidence: do not present")
	}
	if !c.ShouldPresent(models.RoutingDecision{Confidence: 0.6}, false) {
		t.Error("confidence at threshold should be presented")
	}
}

func TestSentiment(t *testing.T) {
	c := newClassifier(t)
	tests := []struct {
		text string
		want models.Sentiment
	}{
		{"Qual a dose de rifampicina para adulto?", models.SentimentNeutral},
		{"Estou com medo de começar o tratamento", models.SentimentConcerned},
		{"Estou com medo e muito ansiosa, não aguento mais", models.SentimentDistressed},
	}
	for _, tt := range tests {
		if got := c.Sentiment(c.Analyze(tt.text, nil)); got != tt.want {
			t.Errorf("Sentiment(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestNewClassifier_BadPattern(t *testing.T) {
	r := DefaultRules()
	r.ClinicalPatterns = []string{"("}
	if _, err := NewClassifier(nil, WithRules(r)); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestLoadRules_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "emotional_markers: [saudade]\nemotional_weight: 2.5\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(r.EmotionalMarkers) != 1 || r.EmotionalWeight != 2.5 {
		t.Errorf("overrides not applied: %v %v", r.EmotionalMarkers, r.EmotionalWeight)
	}
	if r.FirstPersonWeight != 0.4 {
		t.Errorf("FirstPersonWeight = %v, want default 0.4", r.FirstPersonWeight)
	}
}

func TestResolutions(t *testing.T) {
	r := NewResolutions()
	r.Record("c1", "Estou com MEDO", models.PersonaGa)

	if p, ok := r.Lookup("c1", "estou com medo"); !ok || p != models.PersonaGa {
		t.Errorf("Lookup = %s, %v", p, ok)
	}
	if _, ok := r.Lookup("c2", "estou com medo"); ok {
		t.Error("resolutions must be per conversation")
	}
	r.Forget("c1")
	if _, ok := r.Lookup("c1", "estou com medo"); ok {
		t.Error("Forget did not drop resolutions")
	}
}

func TestUsageLog_KeepsLastEntries(t *testing.T) {
	u := NewUsageLog(2)
	u.Record("c", "a", models.PersonaGa)
	u.Record("c", "b", models.PersonaGasnelio)
	u.Record("c", "c", models.PersonaGa)

	h := u.Snapshot("c")
	if len(h) != 2 || h[0].Text != "b" || h[1].Text != "c" {
		t.Errorf("Snapshot = %+v", h)
	}
}
