// Package persona describes the assistant personas available to the chat.
package persona

import (
	"fmt"
	"sort"

	"github.com/hyperjump/gasnelio/internal/models"
)

// Persona is the metadata of one assistant identity.
type Persona struct {
	ID               models.PersonaID `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description" yaml:"description"`
	AffinityKeywords []string         `json:"affinity_keywords" yaml:"affinity_keywords"`
	Color            string           `json:"color" yaml:"color"`
	// SystemPrompt is sent to model-backed senders to set the voice.
	SystemPrompt string `json:"-" yaml:"system_prompt"`
}

// Catalog resolves persona metadata by id.
type Catalog interface {
	Get(id models.PersonaID) (Persona, bool)
	List() []Persona
}

// StaticCatalog is an immutable in-memory Catalog.
type StaticCatalog struct {
	byID map[models.PersonaID]Persona
}

// NewCatalog builds a catalog. Every persona must carry a known id, and ids
// must be unique.
func NewCatalog(personas ...Persona) (*StaticCatalog, error) {
	c := &StaticCatalog{byID: make(map[models.PersonaID]Persona, len(personas))}
	for _, p := range personas {
		if !p.ID.Valid() {
			return nil, fmt.Errorf("unknown persona id %q", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		p.AffinityKeywords = append([]string(nil), p.AffinityKeywords...)
		c.byID[p.ID] = p
	}
	return c, nil
}

// Get returns the persona with the given id.
func (c *StaticCatalog) Get(id models.PersonaID) (Persona, bool) {
	p, ok := c.byID[id]
	if ok {
		p.AffinityKeywords = append([]string(nil), p.AffinityKeywords...)
	}
	return p, ok
}

// List returns every persona ordered by id.
func (c *StaticCatalog) List() []Persona {
	out := make([]Persona, 0, len(c.byID))
	for _, p := range c.byID {
		p.AffinityKeywords = append([]string(nil), p.AffinityKeywords...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Default returns the two built-in personas.
func Default() *StaticCatalog {
	c, err := NewCatalog(
		Persona{
			ID:          models.PersonaGasnelio,
			Name:        "Dr. Gasnelio",
			Description: "Farmacêutico clínico: respostas técnicas sobre doses, interações e protocolos.",
			AffinityKeywords: []string{
				"farmacocinética", "mecanismo", "protocolo", "interação", "contraindicação", "evidência",
			},
			Color: "#1e40af",
			SystemPrompt: "Você é o Dr. Gasnelio, farmacêutico clínico especialista em hanseníase e PQT-U. " +
				"Responda com precisão técnica, cite doses e protocolos do Ministério da Saúde e seja objetivo.",
		},
		Persona{
			ID:          models.PersonaGa,
			Name:        "Gá",
			Description: "Acolhedora: explica o tratamento em linguagem simples e oferece apoio.",
			AffinityKeywords: []string{
				"explica", "simples", "ajuda", "apoio", "entender", "conversar",
			},
			Color: "#059669",
			SystemPrompt: "Você é a Gá, uma assistente acolhedora que explica o tratamento da hanseníase " +
				"em linguagem simples, valida sentimentos e incentiva a adesão ao tratamento.",
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
