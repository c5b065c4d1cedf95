package suggest

import (
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
)

// matchBase is the score contribution of each match type.
var matchBase = map[models.MatchType]float64{
	models.MatchTypeExact:   1.0,
	models.MatchTypeSynonym: 0.8,
	models.MatchTypeKeyword: 0.6,
	models.MatchTypeFuzzy:   0.4,
}

// relevance scores a match from its type, the term weight and how far into
// the matched field the query was found. Matches near the start score higher.
func relevance(m terms.Match) float64 {
	weightFactor := 0.5 + 0.5*m.Term.Weight
	positionFactor := 1.0 / (1.0 + 0.1*float64(m.Position))
	return matchBase[m.Type] * weightFactor * positionFactor
}
