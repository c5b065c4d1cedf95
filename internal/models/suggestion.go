package models

// MatchType represents how a query matched a term. Higher values rank first.
type MatchType int

const (
	// MatchTypeNone indicates no match was found.
	MatchTypeNone MatchType = iota
	// MatchTypeFuzzy indicates a typo-tolerant match.
	MatchTypeFuzzy
	// MatchTypeKeyword indicates a substring match on text, synonyms, or keywords.
	MatchTypeKeyword
	// MatchTypeSynonym indicates the query equals one of the term's synonyms.
	MatchTypeSynonym
	// MatchTypeExact indicates the query equals the term's canonical text.
	MatchTypeExact
)

// String returns a string representation of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchTypeNone:
		return "none"
	case MatchTypeFuzzy:
		return "fuzzy"
	case MatchTypeKeyword:
		return "keyword"
	case MatchTypeSynonym:
		return "synonym"
	case MatchTypeExact:
		return "exact"
	default:
		return "unknown"
	}
}

// MarshalText renders the match type by name.
func (m MatchType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Suggestion is a scored match of a query against a Term.
type Suggestion struct {
	Term           Term      `json:"term"`
	MatchType      MatchType `json:"match_type"`
	RelevanceScore float64   `json:"relevance_score"`
	// Position is the rune offset of the match inside the matched field.
	Position int `json:"position"`
}
