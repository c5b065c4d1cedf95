// Package models defines core data structures for the taxonomy, suggestions,
// routing decisions, conversations, and delivery health.
package models

// Category is the fixed set of taxonomy categories a Term can belong to.
type Category string

const (
	CategoryDose             Category = "dose"
	CategoryContraindication Category = "contraindication"
	CategoryEffect           Category = "effect"
	CategoryInteraction      Category = "interaction"
	CategoryPopulation       Category = "population"
	CategoryMedication       Category = "medication"
	CategoryProtocol         Category = "protocol"
	CategoryEducation        Category = "education"
)

var categories = []Category{
	CategoryDose,
	CategoryContraindication,
	CategoryEffect,
	CategoryInteraction,
	CategoryPopulation,
	CategoryMedication,
	CategoryProtocol,
	CategoryEducation,
}

// AllCategories returns every category in its canonical order.
func AllCategories() []Category {
	return append([]Category(nil), categories...)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory returns the category named s, if any.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, c.Valid()
}

// Complexity grades how technical a term's explanation is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// Valid reports whether c is a known complexity. The empty value is accepted
// and treated as standard.
func (c Complexity) Valid() bool {
	switch c {
	case "", ComplexitySimple, ComplexityStandard, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Term is one entry of the medical search taxonomy.
type Term struct {
	ID          string     `json:"id" yaml:"id"`
	Text        string     `json:"text" yaml:"text"`
	Category    Category   `json:"category" yaml:"category"`
	Synonyms    []string   `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	Keywords    []string   `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Weight      float64    `json:"weight" yaml:"weight"`
	Complexity  Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Medications []string   `json:"medications,omitempty" yaml:"medications,omitempty"`
	Populations []string   `json:"populations,omitempty" yaml:"populations,omitempty"`
}
