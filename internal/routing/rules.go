package routing

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hyperjump/gasnelio/internal/terms"
	"gopkg.in/yaml.v3"
)

// Rules are the tunable vocabularies and weights used for scoring. Words
// and phrases are matched after normalization, so accents and case in the
// lists do not matter. Patterns are regular expressions run against the
// normalized text.
type Rules struct {
	TechnicalVocabulary []string `yaml:"technical_vocabulary"`
	EmotionalMarkers    []string `yaml:"emotional_markers"`
	FirstPersonCues     []string `yaml:"first_person_cues"`
	ClinicalPatterns    []string `yaml:"clinical_patterns"`
	EmpathyPatterns     []string `yaml:"empathy_patterns"`

	TechnicalWeight       float64 `yaml:"technical_weight"`
	EmotionalWeight       float64 `yaml:"emotional_weight"`
	FirstPersonWeight     float64 `yaml:"first_person_weight"`
	ClinicalPatternWeight float64 `yaml:"clinical_pattern_weight"`
	EmpathyPatternWeight  float64 `yaml:"empathy_pattern_weight"`
	AffinityWeight        float64 `yaml:"affinity_weight"`

	// HistoryWeight is the weight of the newest similar prior message;
	// older ones decay by HistoryDecay per step.
	HistoryWeight     float64 `yaml:"history_weight"`
	HistoryDecay      float64 `yaml:"history_decay"`
	HistorySimilarity float64 `yaml:"history_similarity"`
	HistoryWindow     int     `yaml:"history_window"`

	// DistressThreshold is the empathy score at which sentiment is
	// reported as distressed rather than concerned.
	DistressThreshold float64 `yaml:"distress_threshold"`
}

// DefaultRules returns the built-in Portuguese rules.
func DefaultRules() Rules {
	return Rules{
		TechnicalVocabulary: []string{
			"dose", "doses", "dosagem", "posologia", "mg", "miligramas", "kg",
			"rifampicina", "clofazimina", "dapsona", "pqt", "pqt-u", "poliquimioterapia",
			"farmacocinética", "mecanismo", "meia-vida", "biodisponibilidade",
			"interação", "interações", "contraindicação", "contraindicado",
			"efeito adverso", "reação adversa", "hepatotoxicidade", "hemólise",
			"g6pd", "metemoglobinemia", "bactericida", "bacteriostático",
			"paucibacilar", "multibacilar", "supervisionada", "comprimido", "cápsula",
			"protocolo", "esquema terapêutico", "adulto", "peso",
		},
		EmotionalMarkers: []string{
			"medo", "receio", "ansioso", "ansiosa", "ansiedade", "preocupado", "preocupada",
			"preocupação", "triste", "tristeza", "assustado", "assustada", "nervoso", "nervosa",
			"angústia", "vergonha", "sozinho", "sozinha", "desesperado", "desesperada",
			"chorar", "chorando", "inseguro", "insegura", "desanimado", "desanimada",
		},
		FirstPersonCues: []string{"estou", "sinto", "sentindo", "eu", "comigo"},
		ClinicalPatterns: []string{
			`\bqual (e )?(a )?(dose|posologia|dosagem)\b`,
			`\bquantos? (mg|miligramas|comprimidos|capsulas)\b`,
			`\b\d+([.,]\d+)?\s*(mg|kg|g|ml)\b`,
			`\b(posso|pode) (tomar|usar) .+ (com|junto)\b`,
			`\bcomo (age|funciona) (a|o)\b`,
			`\bqual (e )?o mecanismo\b`,
			`\binterage\b`,
		},
		EmpathyPatterns: []string{
			`\bcomo (lidar|enfrentar)\b`,
			`\be normal (sentir|ter|ficar)\b`,
			`\bvou ficar bem\b`,
			`\bnao (aguento|consigo)\b`,
			`\bpreciso de (ajuda|apoio)\b`,
			`\bo que (eu )?faco\b`,
		},
		TechnicalWeight:       1.0,
		EmotionalWeight:       1.0,
		FirstPersonWeight:     0.4,
		ClinicalPatternWeight: 0.8,
		EmpathyPatternWeight:  0.8,
		AffinityWeight:        0.5,
		HistoryWeight:         0.3,
		HistoryDecay:          0.5,
		HistorySimilarity:     0.3,
		HistoryWindow:         10,
		DistressThreshold:     2.0,
	}
}

// LoadRules reads rules from a YAML file. Fields left out keep their
// default values.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read routing rules: %w", err)
	}
	r := DefaultRules()
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("failed to parse routing rules: %w", err)
	}
	return r, nil
}

// compiledRules is Rules with phrases normalized and patterns compiled.
type compiledRules struct {
	Rules
	technical   []string
	emotional   []string
	firstPerson []string
	clinical    []*regexp.Regexp
	empathy     []*regexp.Regexp
}

func compile(r Rules) (*compiledRules, error) {
	c := &compiledRules{
		Rules:       r,
		technical:   normalizePhrases(r.TechnicalVocabulary),
		emotional:   normalizePhrases(r.EmotionalMarkers),
		firstPerson: normalizePhrases(r.FirstPersonCues),
	}
	var err error
	if c.clinical, err = compilePatterns(r.ClinicalPatterns); err != nil {
		return nil, err
	}
	if c.empathy, err = compilePatterns(r.EmpathyPatterns); err != nil {
		return nil, err
	}
	return c, nil
}

// normalizePhrases turns each entry into its space-joined token form and
// drops duplicates, keeping first occurrence order.
func normalizePhrases(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		k := strings.Join(terms.Tokenize(p), " ")
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func compilePatterns(in []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(in))
	for _, p := range in {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid routing pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
