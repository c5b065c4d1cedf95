package terms

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/hyperjump/gasnelio/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// taxonomyFile is the on-disk YAML layout.
type taxonomyFile struct {
	Version int           `yaml:"version"`
	Terms   []models.Term `yaml:"terms"`
}

// ParseTaxonomy decodes a YAML taxonomy document.
func ParseTaxonomy(data []byte) ([]models.Term, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(f.Terms) == 0 {
		return nil, fmt.Errorf("%w: taxonomy has no terms", ErrValidation)
	}
	return f.Terms, nil
}

// ReadFile reads and decodes the YAML taxonomy at path.
func ReadFile(path string) ([]models.Term, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// DefaultTerms returns the built-in hanseníase PQT-U taxonomy.
func DefaultTerms() ([]models.Term, error) {
	return ParseTaxonomy(defaultTaxonomy)
}

// LoadFile loads the taxonomy at path, or the built-in one when path is empty.
func (x *Index) LoadFile(path string) error {
	var (
		ts  []models.Term
		err error
	)
	if path == "" {
		ts, err = DefaultTerms()
	} else {
		ts, err = ReadFile(path)
	}
	if err != nil {
		return err
	}
	return x.Load(ts)
}
