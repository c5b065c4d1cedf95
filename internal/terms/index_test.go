package terms

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hyperjump/gasnelio/internal/models"
)

func sampleTerms() []models.Term {
	return []models.Term{
		{ID: "rif", Text: "rifampicina", Category: models.CategoryMedication, Synonyms: []string{"rifampin", "rifampicin", "RMP", "R"}, Weight: 1},
		{ID: "dose-rif", Text: "dose de rifampicina", Category: models.CategoryDose, Synonyms: []string{"posologia da rifampicina"}, Keywords: []string{"600 mg"}, Weight: 0.9},
		{ID: "hans", Text: "hanseníase", Category: models.CategoryEducation, Synonyms: []string{"lepra", "Lepra"}, Weight: 0.8},
		{ID: "urina", Text: "urina avermelhada", Category: models.CategoryEffect, Keywords: []string{"rifampicina"}, Weight: 0.5},
	}
}

func newLoaded(t *testing.T) *Index {
	t.Helper()
	x := NewIndex()
	if err := x.Load(sampleTerms()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hanseníase", "hanseniase"},
		{"  REAÇÃO   hansênica ", "reacao hansenica"},
		{"Clofazimina", "clofazimina"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Qual a dose de rifampicina para adulto de 70kg?")
	want := []string{"qual", "a", "dose", "de", "rifampicina", "para", "adulto", "de", "70kg"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tokenize mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		term models.Term
	}{
		{"empty text", models.Term{ID: "x", Text: "  ", Category: models.CategoryDose, Weight: 0.5}},
		{"zero weight", models.Term{ID: "x", Text: "x", Category: models.CategoryDose, Weight: 0}},
		{"weight above one", models.Term{ID: "x", Text: "x", Category: models.CategoryDose, Weight: 1.5}},
		{"unknown category", models.Term{ID: "x", Text: "x", Category: "surgery", Weight: 0.5}},
		{"duplicate id", models.Term{ID: "rif", Text: "outra", Category: models.CategoryDose, Weight: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newLoaded(t)
			before := x.Len()
			err := x.Load(append(sampleTerms(), tt.term))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Load error = %v, want ErrValidation", err)
			}
			if x.Len() != before {
				t.Errorf("Len = %d after failed load, want %d", x.Len(), before)
			}
		})
	}
}

func TestLoad_DedupesSynonymsAndCopies(t *testing.T) {
	in := sampleTerms()
	x := NewIndex()
	if err := x.Load(in); err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	in[0].Synonyms[0] = "mutated"
	got := x.Terms()
	if got[0].Synonyms[0] != "rifampin" {
		t.Errorf("loaded term changed with caller slice: %v", got[0].Synonyms)
	}
	if diff := cmp.Diff([]string{"lepra"}, got[2].Synonyms); diff != "" {
		t.Errorf("synonyms not deduplicated (-want +got):\n%s", diff)
	}
}

func TestExpandWithSynonyms(t *testing.T) {
	x := newLoaded(t)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "longest phrase first then single term",
			query: "Qual a dose de rifampicina e a RIFAMPICINA?",
			want:  []string{"dose de rifampicina", "posologia da rifampicina", "rifampicina", "rifampin", "rifampicin", "RMP"},
		},
		{
			name:  "synonym maps back to canonical",
			query: "lepra tem cura",
			want:  []string{"hanseníase", "lepra"},
		},
		{
			name:  "accent insensitive",
			query: "hanseniase",
			want:  []string{"hanseníase", "lepra"},
		},
		{
			name:  "no match",
			query: "bom dia",
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := x.ExpandWithSynonyms(tt.query)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExpandWithSynonyms(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestMatch_Tiers(t *testing.T) {
	x := newLoaded(t)

	byID := func(ms []Match) map[string]models.MatchType {
		out := make(map[string]models.MatchType, len(ms))
		for _, m := range ms {
			out[m.Term.ID] = m.Type
		}
		return out
	}

	got := byID(x.Match("rifampicina"))
	want := map[string]models.MatchType{
		"rif":      models.MatchTypeExact,
		"dose-rif": models.MatchTypeKeyword,
		"urina":    models.MatchTypeKeyword,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Match(rifampicina) mismatch (-want +got):\n%s", diff)
	}

	if got := byID(x.Match("RMP")); got["rif"] != models.MatchTypeSynonym {
		t.Errorf("Match(RMP)[rif] = %v, want synonym", got["rif"])
	}
	if got := byID(x.Match("rifanpicina")); got["rif"] != models.MatchTypeFuzzy {
		t.Errorf("Match(rifanpicina)[rif] = %v, want fuzzy", got["rif"])
	}
}

func TestMatch_Position(t *testing.T) {
	x := newLoaded(t)
	for _, m := range x.Match("avermelhada") {
		if m.Term.ID == "urina" && m.Position != 6 {
			t.Errorf("Position = %d, want 6", m.Position)
		}
	}
}

func TestDidYouMean(t *testing.T) {
	x := newLoaded(t)
	tests := []struct {
		query string
		want  string
	}{
		{"rifanpicina", "rifampicina"},
		{"dose de rifampicna", "dose de rifampicina"},
		{"rifampicina", ""},
		{"xyzw", ""},
	}
	for _, tt := range tests {
		if got := x.DidYouMean(tt.query); got != tt.want {
			t.Errorf("DidYouMean(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	x := newLoaded(t)
	term, ok := x.Lookup("Posologia da Rifampicina")
	if !ok || term.ID != "dose-rif" {
		t.Errorf("Lookup = %v, %v; want dose-rif", term.ID, ok)
	}
	if _, ok := x.Lookup("dipirona"); ok {
		t.Error("Lookup(dipirona) should miss")
	}
}

func TestDefaultTaxonomy(t *testing.T) {
	x := NewIndex()
	defer x.Close()
	if err := x.LoadFile(""); err != nil {
		t.Fatalf("LoadFile(default): %v", err)
	}
	if x.Len() < 20 {
		t.Errorf("default taxonomy has %d terms, want at least 20", x.Len())
	}
	term, ok := x.Lookup("rifampicina")
	if !ok || term.Category != models.CategoryMedication {
		t.Errorf("rifampicina lookup = %+v, %v", term, ok)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(t.TempDir() + "/missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseTaxonomy_Empty(t *testing.T) {
	_, err := ParseTaxonomy([]byte("version: 1\nterms: []\n"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
