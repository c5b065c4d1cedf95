// Package filter holds the active search filters of a UI session as
// immutable snapshots.
package filter

import (
	"net/url"
	"sort"
	"strings"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
)

// Query parameter names used by Encode and Decode.
const (
	ParamCategory   = "category"
	ParamMedication = "medication"
	ParamPopulation = "population"
	ParamQuery      = "q"
)

// Set is an immutable filter snapshot. Every slice is sorted and free of
// duplicates; empty slices are nil so that equal filters compare equal.
// Operations return a new Set and never modify the receiver.
type Set struct {
	Categories  []models.Category `json:"categories,omitempty"`
	Medications []string          `json:"medications,omitempty"`
	Populations []string          `json:"populations,omitempty"`
	Query       string            `json:"query,omitempty"`
}

// Clear returns the empty filter.
func Clear() Set {
	return Set{}
}

// Toggle adds c when absent and removes it when present.
func (s Set) Toggle(c models.Category) Set {
	raw := make([]string, len(s.Categories))
	for i, v := range s.Categories {
		raw[i] = string(v)
	}
	raw = toggle(raw, string(c))

	out := s.clone()
	out.Categories = nil
	for _, v := range raw {
		out.Categories = append(out.Categories, models.Category(v))
	}
	return out
}

// ToggleMedication adds or removes a medication. Names are matched after
// normalization, so "Dapsona" and "dapsona" are the same entry.
func (s Set) ToggleMedication(name string) Set {
	out := s.clone()
	out.Medications = toggle(out.Medications, terms.Normalize(name))
	return out
}

// TogglePopulation adds or removes a population.
func (s Set) TogglePopulation(name string) Set {
	out := s.clone()
	out.Populations = toggle(out.Populations, terms.Normalize(name))
	return out
}

// WithQuery returns s with the free-text query replaced.
func (s Set) WithQuery(q string) Set {
	out := s.clone()
	out.Query = strings.TrimSpace(q)
	return out
}

// IsEmpty reports whether no filter is active.
func (s Set) IsEmpty() bool {
	return len(s.Categories) == 0 && len(s.Medications) == 0 && len(s.Populations) == 0 && s.Query == ""
}

// Has reports whether c is active.
func (s Set) Has(c models.Category) bool {
	for _, v := range s.Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold the same filters.
func (s Set) Equal(o Set) bool {
	if s.Query != o.Query || len(s.Categories) != len(o.Categories) ||
		len(s.Medications) != len(o.Medications) || len(s.Populations) != len(o.Populations) {
		return false
	}
	for i := range s.Categories {
		if s.Categories[i] != o.Categories[i] {
			return false
		}
	}
	for i := range s.Medications {
		if s.Medications[i] != o.Medications[i] {
			return false
		}
	}
	for i := range s.Populations {
		if s.Populations[i] != o.Populations[i] {
			return false
		}
	}
	return true
}

// Matches reports whether a term passes every active dimension. Within a
// dimension any value matches; dimensions combine with AND. The query is
// not applied here.
func (s Set) Matches(t models.Term) bool {
	if len(s.Categories) > 0 && !s.Has(t.Category) {
		return false
	}
	if len(s.Medications) > 0 && !intersects(s.Medications, t.Medications) {
		return false
	}
	if len(s.Populations) > 0 && !intersects(s.Populations, t.Populations) {
		return false
	}
	return true
}

// Apply returns the suggestions whose terms match s, preserving order.
func (s Set) Apply(results []models.Suggestion) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(results))
	for _, r := range results {
		if s.Matches(r.Term) {
			out = append(out, r)
		}
	}
	return out
}

// Counts tallies results per category. Every known category is present,
// with zero when no result falls in it.
func Counts(results []models.Suggestion) map[models.Category]int {
	counts := make(map[models.Category]int, len(models.AllCategories()))
	for _, c := range models.AllCategories() {
		counts[c] = 0
	}
	for _, r := range results {
		if _, ok := counts[r.Term.Category]; ok {
			counts[r.Term.Category]++
		}
	}
	return counts
}

func (s Set) clone() Set {
	return Set{
		Categories:  append([]models.Category(nil), s.Categories...),
		Medications: append([]string(nil), s.Medications...),
		Populations: append([]string(nil), s.Populations...),
		Query:       s.Query,
	}
}

// toggle returns the sorted symmetric difference of set and {v}. It never
// modifies set.
func toggle(set []string, v string) []string {
	out := make([]string, 0, len(set)+1)
	found := false
	for _, x := range set {
		if x == v {
			found = true
			continue
		}
		out = append(out, x)
	}
	if !found && v != "" {
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func intersects(active, values []string) bool {
	for _, v := range values {
		n := terms.Normalize(v)
		for _, a := range active {
			if a == n {
				return true
			}
		}
	}
	return false
}

// Encode renders s as URL query parameters. Values are sorted, so the same
// filters always produce the same address.
func Encode(s Set) url.Values {
	v := url.Values{}
	for _, c := range s.Categories {
		v.Add(ParamCategory, string(c))
	}
	for _, m := range s.Medications {
		v.Add(ParamMedication, m)
	}
	for _, p := range s.Populations {
		v.Add(ParamPopulation, p)
	}
	if s.Query != "" {
		v.Set(ParamQuery, s.Query)
	}
	return v
}

// Decode rebuilds a Set from URL query parameters. Unknown categories and
// repeated values are dropped.
func Decode(v url.Values) Set {
	s := Set{Query: strings.TrimSpace(v.Get(ParamQuery))}
	for _, raw := range v[ParamCategory] {
		if c, ok := models.ParseCategory(strings.ToLower(strings.TrimSpace(raw))); ok && !s.Has(c) {
			s = s.Toggle(c)
		}
	}
	for _, raw := range v[ParamMedication] {
		if n := terms.Normalize(raw); n != "" && !contains(s.Medications, n) {
			s = s.ToggleMedication(n)
		}
	}
	for _, raw := range v[ParamPopulation] {
		if n := terms.Normalize(raw); n != "" && !contains(s.Populations, n) {
			s = s.TogglePopulation(n)
		}
	}
	return s
}

func contains(set []string, v string) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
