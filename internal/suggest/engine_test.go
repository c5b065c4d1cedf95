package suggest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
	"go.uber.org/goleak"
)

func newDefaultEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	idx := terms.NewIndex()
	if err := idx.LoadFile(""); err != nil {
		t.Fatalf("load default taxonomy: %v", err)
	}
	e := NewEngine(idx, opts...)
	t.Cleanup(func() {
		e.Close()
		_ = idx.Close()
	})
	return e
}

// staticMatcher reports a keyword match for every term whose text contains
// the normalized query.
type staticMatcher struct {
	terms []models.Term
	calls int
}

func (s *staticMatcher) Match(query string) []terms.Match {
	s.calls++
	q := terms.Normalize(query)
	var out []terms.Match
	for i, t := range s.terms {
		if strings.Contains(terms.Normalize(t.Text), q) {
			out = append(out, terms.Match{Index: i, Term: t, Type: models.MatchTypeKeyword})
		}
	}
	return out
}

func (s *staticMatcher) DidYouMean(string) string { return "" }

type panicMatcher struct{}

func (panicMatcher) Match(string) []terms.Match { panic("index corrupted") }
func (panicMatcher) DidYouMean(string) string   { return "" }

func TestSearch_MinQueryLength(t *testing.T) {
	e := newDefaultEngine(t)

	if res := e.Search("a", Options{}); len(res.Suggestions) != 0 || res.Err != nil {
		t.Errorf("Search(a) = %d suggestions, err %v; want none", len(res.Suggestions), res.Err)
	}
	if res := e.Search("  d ", Options{}); len(res.Suggestions) != 0 {
		t.Errorf("Search of one padded rune returned %d suggestions", len(res.Suggestions))
	}
	if res := e.Search("da", Options{}); len(res.Suggestions) == 0 {
		t.Error("Search(da) should return suggestions")
	}
}

func TestSearch_RifampicinaExactFirst(t *testing.T) {
	e := newDefaultEngine(t)

	res := e.Search("rifampicina", Options{MaxResults: 5})
	if res.Err != nil {
		t.Fatalf("Search error: %v", res.Err)
	}
	if len(res.Suggestions) != 5 {
		t.Fatalf("got %d suggestions, want 5", len(res.Suggestions))
	}
	first := res.Suggestions[0]
	if first.Term.ID != "rifampicina" || first.MatchType != models.MatchTypeExact {
		t.Errorf("first = %s (%s), want rifampicina (exact)", first.Term.ID, first.MatchType)
	}
	for i := 1; i < len(res.Suggestions); i++ {
		prev, cur := res.Suggestions[i-1], res.Suggestions[i]
		if cur.MatchType > prev.MatchType {
			t.Errorf("suggestion %d (%s) ranked after weaker match %s", i, cur.MatchType, prev.MatchType)
		}
		if cur.MatchType == prev.MatchType && cur.Term.Weight > prev.Term.Weight {
			t.Errorf("suggestion %d weight %v ranked after lower weight %v", i, cur.Term.Weight, prev.Term.Weight)
		}
	}
}

func TestSearch_TieBreakIsTaxonomyOrder(t *testing.T) {
	m := &staticMatcher{terms: []models.Term{
		{ID: "b", Text: "dose b", Category: models.CategoryDose, Weight: 0.5},
		{ID: "a", Text: "dose a", Category: models.CategoryDose, Weight: 0.9},
		{ID: "c", Text: "dose c", Category: models.CategoryDose, Weight: 0.5},
	}}
	e := NewEngine(m)
	defer e.Close()

	res := e.Search("dose", Options{})
	var got []string
	for _, s := range res.Suggestions {
		got = append(got, s.Term.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_CacheIdempotence(t *testing.T) {
	e := newDefaultEngine(t)
	opts := Options{MaxResults: 5, Categories: []models.Category{models.CategoryDose, models.CategoryMedication}}

	first := e.Search("dose", opts)
	second := e.Search("DOSE", Options{MaxResults: 5, Categories: []models.Category{models.CategoryMedication, models.CategoryDose}})

	if first.FromCache {
		t.Error("first search should not come from cache")
	}
	if !second.FromCache {
		t.Error("second search with equivalent options should hit the cache")
	}
	if diff := cmp.Diff(first.Suggestions, second.Suggestions); diff != "" {
		t.Errorf("cached result differs (-first +second):\n%s", diff)
	}
}

func TestSearch_CachedSlicesAreCopies(t *testing.T) {
	e := newDefaultEngine(t)

	first := e.Search("dapsona", Options{})
	if len(first.Suggestions) == 0 {
		t.Fatal("expected suggestions")
	}
	first.Suggestions[0].Term.Text = "mutated"

	second := e.Search("dapsona", Options{})
	if second.Suggestions[0].Term.Text == "mutated" {
		t.Error("mutating a returned result changed the cache")
	}
}

func TestSearch_InvalidOptions(t *testing.T) {
	e := newDefaultEngine(t)

	tests := []struct {
		name string
		opts Options
	}{
		{"negative max", Options{MaxResults: -1}},
		{"unknown category", Options{Categories: []models.Category{"surgery"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Search("dose", tt.opts)
			if !errors.Is(res.Err, ErrInvalidArgument) {
				t.Errorf("Err = %v, want ErrInvalidArgument", res.Err)
			}
			if res.Suggestions == nil || len(res.Suggestions) != 0 {
				t.Errorf("Suggestions = %v, want empty non-nil", res.Suggestions)
			}
		})
	}
}

func TestSearch_RecoversPanics(t *testing.T) {
	e := NewEngine(panicMatcher{})
	defer e.Close()

	res := e.Search("dose", Options{})
	if res.Err == nil {
		t.Fatal("expected error from panicking matcher")
	}
	if len(res.Suggestions) != 0 {
		t.Errorf("got %d suggestions, want 0", len(res.Suggestions))
	}
}

func TestSearch_Filters(t *testing.T) {
	e := newDefaultEngine(t)

	res := e.Search("rifampicina", Options{Categories: []models.Category{models.CategoryDose}})
	if len(res.Suggestions) == 0 {
		t.Fatal("expected dose suggestions")
	}
	for _, s := range res.Suggestions {
		if s.Term.Category != models.CategoryDose {
			t.Errorf("term %s has category %s, want dose", s.Term.ID, s.Term.Category)
		}
	}

	res = e.Search("dose", Options{Medications: []string{"Dapsona"}})
	if len(res.Suggestions) == 0 {
		t.Fatal("expected dapsona suggestions")
	}
	for _, s := range res.Suggestions {
		found := false
		for _, m := range s.Term.Medications {
			if m == "dapsona" {
				found = true
			}
		}
		if !found {
			t.Errorf("term %s does not mention dapsona: %v", s.Term.ID, s.Term.Medications)
		}
	}
}

func TestSearch_DidYouMean(t *testing.T) {
	e := newDefaultEngine(t)

	res := e.Search("rifanpicina", Options{})
	if res.DidYouMean != "rifampicina" {
		t.Errorf("DidYouMean = %q, want rifampicina", res.DidYouMean)
	}
	if len(res.Suggestions) == 0 || res.Suggestions[0].MatchType != models.MatchTypeFuzzy {
		t.Errorf("expected fuzzy suggestions, got %v", res.Suggestions)
	}
}

func TestSearch_InvalidateAndTTL(t *testing.T) {
	m := &staticMatcher{terms: []models.Term{{ID: "d", Text: "dapsona", Category: models.CategoryMedication, Weight: 1}}}
	e := NewEngine(m, WithTTL(30*time.Millisecond), WithSweepInterval(10*time.Millisecond))
	defer e.Close()

	e.Search("dapsona", Options{})
	if res := e.Search("dapsona", Options{}); !res.FromCache {
		t.Fatal("expected cache hit")
	}

	e.Invalidate()
	if res := e.Search("dapsona", Options{}); res.FromCache {
		t.Error("cache hit after Invalidate")
	}

	time.Sleep(60 * time.Millisecond)
	if res := e.Search("dapsona", Options{}); res.FromCache {
		t.Error("expired entry was returned")
	}
	if m.calls != 3 {
		t.Errorf("matcher calls = %d, want 3", m.calls)
	}
}

func TestRelevance_Ordering(t *testing.T) {
	term := models.Term{Weight: 1}
	exact := relevance(terms.Match{Term: term, Type: models.MatchTypeExact})
	syn := relevance(terms.Match{Term: term, Type: models.MatchTypeSynonym})
	kwStart := relevance(terms.Match{Term: term, Type: models.MatchTypeKeyword})
	kwLate := relevance(terms.Match{Term: term, Type: models.MatchTypeKeyword, Position: 10})

	if !(exact > syn && syn > kwStart && kwStart > kwLate) {
		t.Errorf("unexpected relevance ordering: exact=%v syn=%v kw=%v kwLate=%v", exact, syn, kwStart, kwLate)
	}
	if exact != 1.0 {
		t.Errorf("exact match on weight 1 = %v, want 1", exact)
	}
}

func TestEngine_SweepsExpiredAndCloseStopsSweeper(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	m := &staticMatcher{terms: []models.Term{{ID: "d", Text: "dapsona", Category: models.CategoryMedication, Weight: 1}}}
	e := NewEngine(m, WithTTL(10*time.Millisecond), WithSweepInterval(5*time.Millisecond))

	e.Search("dapsona", Options{})
	if e.cache.len() != 1 {
		t.Fatalf("cached entries = %d, want 1", e.cache.len())
	}
	deadline := time.Now().Add(time.Second)
	for e.cache.len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := e.cache.len(); n != 0 {
		t.Errorf("expired entries not swept: %d left", n)
	}

	e.Close()
	e.Close()
}
