// Package terms holds the in-memory medical taxonomy used by suggestion
// search, routing and message enrichment.
package terms

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hyperjump/gasnelio/internal/models"
	"go.uber.org/zap"
)

// maxExpansionSynonyms caps how many synonyms ExpandWithSynonyms emits per
// matched term.
const maxExpansionSynonyms = 3

// Match is one term matched by a query, before scoring.
type Match struct {
	// Index is the term's position in the loaded taxonomy.
	Index    int
	Term     models.Term
	Type     models.MatchType
	Position int
}

// entry holds the normalized forms of one term.
type entry struct {
	text     string
	key      string
	synonyms []string
	synKeys  []string
	keywords []string
}

type snapshot struct {
	terms   []models.Term
	entries []entry
	// phrases maps the phrase key of every text and synonym to the terms
	// that carry it, in taxonomy order.
	phrases   map[string][]int
	maxPhrase int
	vocab     *vocabulary
	fuzzy     *fuzzyIndex
}

// Index is a goroutine-safe taxonomy. Loads replace the whole term set
// atomically; readers always see one consistent snapshot.
type Index struct {
	mu     sync.RWMutex
	snap   *snapshot
	logger *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewIndex returns an empty index.
func NewIndex(opts ...Option) *Index {
	x := &Index{
		snap:   &snapshot{phrases: map[string][]int{}, vocab: newVocabulary(map[string]struct{}{})},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Load validates terms and replaces the active set. On error the previous
// set stays active.
func (x *Index) Load(terms []models.Term) error {
	if err := validate(terms); err != nil {
		return err
	}
	snap, err := buildSnapshot(terms)
	if err != nil {
		return err
	}

	x.mu.Lock()
	old := x.snap
	x.snap = snap
	if old.fuzzy != nil {
		if err := old.fuzzy.close(); err != nil {
			x.logger.Warn("failed to close previous fuzzy index", zap.Error(err))
		}
	}
	x.mu.Unlock()

	x.logger.Info("taxonomy loaded", zap.Int("terms", len(terms)))
	return nil
}

func validate(terms []models.Term) error {
	seen := make(map[string]int, len(terms))
	for i, t := range terms {
		switch {
		case strings.TrimSpace(t.Text) == "":
			return fmt.Errorf("%w: term %d (%q): empty text", ErrValidation, i, t.ID)
		case math.IsNaN(t.Weight) || t.Weight <= 0 || t.Weight > 1:
			return fmt.Errorf("%w: term %q: weight %v outside (0,1]", ErrValidation, t.Text, t.Weight)
		case !t.Category.Valid():
			return fmt.Errorf("%w: term %q: unknown category %q", ErrValidation, t.Text, t.Category)
		case !t.Complexity.Valid():
			return fmt.Errorf("%w: term %q: unknown complexity %q", ErrValidation, t.Text, t.Complexity)
		}
		if t.ID == "" {
			continue
		}
		if j, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q (terms %d and %d)", ErrValidation, t.ID, j, i)
		}
		seen[t.ID] = i
	}
	return nil
}

func buildSnapshot(terms []models.Term) (*snapshot, error) {
	s := &snapshot{
		terms:   make([]models.Term, len(terms)),
		entries: make([]entry, len(terms)),
		phrases: make(map[string][]int),
	}
	words := make(map[string]struct{})
	addWords := func(text string) {
		for _, w := range Tokenize(text) {
			if utf8.RuneCountInString(w) >= 3 {
				words[w] = struct{}{}
			}
		}
	}
	addPhrase := func(key string, i int) {
		if key == "" {
			return
		}
		idx := s.phrases[key]
		if len(idx) > 0 && idx[len(idx)-1] == i {
			return
		}
		s.phrases[key] = append(idx, i)
		if n := strings.Count(key, " ") + 1; n > s.maxPhrase {
			s.maxPhrase = n
		}
	}

	for i, t := range terms {
		t = cloneTerm(t)
		if t.ID == "" {
			t.ID = strings.ReplaceAll(phraseKey(t.Text), " ", "-")
		}
		if t.Complexity == "" {
			t.Complexity = models.ComplexityStandard
		}
		t.Synonyms = dedupe(t.Synonyms, t.Text)
		s.terms[i] = t

		e := entry{text: Normalize(t.Text), key: phraseKey(t.Text)}
		addPhrase(e.key, i)
		addWords(t.Text)
		for _, syn := range t.Synonyms {
			k := phraseKey(syn)
			e.synonyms = append(e.synonyms, Normalize(syn))
			e.synKeys = append(e.synKeys, k)
			addPhrase(k, i)
			addWords(syn)
		}
		for _, kw := range t.Keywords {
			e.keywords = append(e.keywords, Normalize(kw))
			addWords(kw)
		}
		s.entries[i] = e
	}
	s.vocab = newVocabulary(words)

	fuzzy, err := newFuzzyIndex(s.entries)
	if err != nil {
		return nil, err
	}
	s.fuzzy = fuzzy
	return s, nil
}

// dedupe removes synonyms that repeat, after normalization, either each
// other or the canonical text.
func dedupe(synonyms []string, text string) []string {
	if len(synonyms) == 0 {
		return nil
	}
	seen := map[string]struct{}{phraseKey(text): {}}
	out := make([]string, 0, len(synonyms))
	for _, syn := range synonyms {
		k := phraseKey(syn)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, syn)
	}
	return out
}

func cloneTerm(t models.Term) models.Term {
	t.Synonyms = append([]string(nil), t.Synonyms...)
	t.Keywords = append([]string(nil), t.Keywords...)
	t.Medications = append([]string(nil), t.Medications...)
	t.Populations = append([]string(nil), t.Populations...)
	return t
}

func (x *Index) current() *snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snap
}

// Len returns the number of loaded terms.
func (x *Index) Len() int {
	return len(x.current().terms)
}

// Terms returns a copy of the loaded terms in taxonomy order.
func (x *Index) Terms() []models.Term {
	s := x.current()
	out := make([]models.Term, len(s.terms))
	for i, t := range s.terms {
		out[i] = cloneTerm(t)
	}
	return out
}

// Lookup returns the term whose text or synonym equals phrase.
func (x *Index) Lookup(phrase string) (models.Term, bool) {
	s := x.current()
	idx := s.phrases[phraseKey(phrase)]
	if len(idx) == 0 {
		return models.Term{}, false
	}
	return cloneTerm(s.terms[idx[0]]), true
}

// ExpandWithSynonyms walks the query tokens and, for every phrase equal to a
// term's text or synonym, emits the canonical text followed by up to three of
// its synonyms. Longer phrases win over their prefixes. Output keeps first
// match order and holds no duplicates.
func (x *Index) ExpandWithSynonyms(query string) []string {
	s := x.current()
	tokens := Tokenize(query)
	out := []string{}
	seen := make(map[string]struct{})
	emit := func(v string) {
		k := phraseKey(v)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}

	for i := 0; i < len(tokens); {
		advanced := false
		for n := min(s.maxPhrase, len(tokens)-i); n > 0; n-- {
			idx, ok := s.phrases[strings.Join(tokens[i:i+n], " ")]
			if !ok {
				continue
			}
			for _, ti := range idx {
				t := s.terms[ti]
				emit(t.Text)
				for j, syn := range t.Synonyms {
					if j == maxExpansionSynonyms {
						break
					}
					emit(syn)
				}
			}
			i += n
			advanced = true
			break
		}
		if !advanced {
			i++
		}
	}
	return out
}

// Match classifies every term against query and returns the matching ones
// in taxonomy order. Each term appears once with its best match type:
// exact text, then synonym, then substring on text, synonyms or keywords,
// then fuzzy.
func (x *Index) Match(query string) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := x.snap

	q, qk := Normalize(query), phraseKey(query)
	if qk == "" {
		return nil
	}

	matched := make([]bool, len(s.entries))
	var out []Match
	for i, e := range s.entries {
		typ, pos := matchEntry(e, q, qk)
		if typ == models.MatchTypeNone {
			continue
		}
		matched[i] = true
		out = append(out, Match{Index: i, Term: cloneTerm(s.terms[i]), Type: typ, Position: pos})
	}

	fuzzy, err := x.fuzzyLocked(s, qk, 0)
	if err != nil {
		x.logger.Warn("fuzzy match failed", zap.String("query", query), zap.Error(err))
		return out
	}
	for _, m := range fuzzy {
		if !matched[m.Index] {
			out = append(out, m)
		}
	}
	return out
}

func matchEntry(e entry, q, qk string) (models.MatchType, int) {
	if e.key == qk {
		return models.MatchTypeExact, 0
	}
	for _, k := range e.synKeys {
		if k == qk {
			return models.MatchTypeSynonym, 0
		}
	}

	fields := make([]string, 0, 1+len(e.synonyms)+len(e.keywords))
	fields = append(fields, e.text)
	fields = append(fields, e.synonyms...)
	fields = append(fields, e.keywords...)
	for _, f := range fields {
		if i := strings.Index(f, q); i >= 0 {
			return models.MatchTypeKeyword, utf8.RuneCountInString(f[:i])
		}
	}

	// A longer query that mentions the term, e.g. "dose de rifampicina
	// para adulto" mentions "rifampicina".
	padded := " " + qk + " "
	keys := append([]string{e.key}, e.synKeys...)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if i := strings.Index(padded, " "+k+" "); i >= 0 {
			return models.MatchTypeKeyword, utf8.RuneCountInString(qk[:i])
		}
	}
	return models.MatchTypeNone, 0
}

// Fuzzy returns up to limit typo-tolerant matches for query, best first.
// limit <= 0 means no limit.
func (x *Index) Fuzzy(query string, limit int) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fuzzyLocked(x.snap, phraseKey(query), limit)
}

func (x *Index) fuzzyLocked(s *snapshot, qk string, limit int) ([]Match, error) {
	if s.fuzzy == nil || qk == "" {
		return nil, nil
	}
	hits, err := s.fuzzy.search(strings.Fields(qk), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, i := range hits {
		if i < 0 || i >= len(s.terms) {
			continue
		}
		out = append(out, Match{Index: i, Term: cloneTerm(s.terms[i]), Type: models.MatchTypeFuzzy})
	}
	return out, nil
}

// DidYouMean suggests a corrected query by replacing unknown words with the
// nearest taxonomy word. It returns "" when no correction applies.
func (x *Index) DidYouMean(query string) string {
	return x.current().vocab.correct(query)
}

// Close releases the fuzzy index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.snap.fuzzy == nil {
		return nil
	}
	err := x.snap.fuzzy.close()
	x.snap.fuzzy = nil
	return err
}
