package models

import "time"

// PersonaID identifies one of the two assistant personas.
type PersonaID string

const (
	// PersonaGasnelio is the technical persona.
	PersonaGasnelio PersonaID = "dr_gasnelio"
	// PersonaGa is the empathetic persona.
	PersonaGa PersonaID = "ga"
)

// Valid reports whether p names a known persona.
func (p PersonaID) Valid() bool {
	return p == PersonaGasnelio || p == PersonaGa
}

// ParsePersona returns the persona named s, if any.
func ParsePersona(s string) (PersonaID, bool) {
	p := PersonaID(s)
	return p, p.Valid()
}

// Sentiment is the emotional register detected in user input.
type Sentiment string

const (
	SentimentNeutral    Sentiment = "neutral"
	SentimentConcerned  Sentiment = "concerned"
	SentimentDistressed Sentiment = "distressed"
)

// RoutingSignal is one weighted feature extracted from input text.
type RoutingSignal struct {
	Name     string    `json:"name"`
	Persona  PersonaID `json:"persona"`
	Weight   float64   `json:"weight"`
	Evidence string    `json:"evidence,omitempty"`
}

// RoutingDecision is the result of classifying a piece of input text.
type RoutingDecision struct {
	RecommendedPersona PersonaID       `json:"recommended_persona"`
	Confidence         float64         `json:"confidence"`
	TechnicalScore     float64         `json:"technical_score"`
	EmpathyScore       float64         `json:"empathy_score"`
	Signals            []RoutingSignal `json:"signals"`
	Timestamp          time.Time       `json:"timestamp"`
}
