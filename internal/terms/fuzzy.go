package terms

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// minFuzzyTokenLength is the shortest token sent to the fuzzy tier. Shorter
// tokens match too much of the vocabulary within one edit.
const minFuzzyTokenLength = 4

// fuzzyDoc is the document shape indexed for each term. All fields hold
// normalized text.
type fuzzyDoc struct {
	Text     string   `json:"text"`
	Synonyms []string `json:"synonyms"`
	Keywords []string `json:"keywords"`
}

// fuzzyIndex is an in-memory bleve index over the loaded terms, used for
// typo-tolerant matching.
type fuzzyIndex struct {
	index bleve.Index
	size  int
}

func newFuzzyIndex(entries []entry) (*fuzzyIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: no stemming, so drug names stay intact.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("synonyms", textFieldMapping)
	docMapping.AddFieldMappingsAt("keywords", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create fuzzy index: %w", err)
	}

	batch := index.NewBatch()
	for i, e := range entries {
		doc := fuzzyDoc{Text: e.text, Synonyms: e.synonyms, Keywords: e.keywords}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to index term %q: %w", e.text, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to build fuzzy index: %w", err)
	}
	return &fuzzyIndex{index: index, size: len(entries)}, nil
}

// fuzzinessFor allows one edit for short tokens and two for longer ones.
func fuzzinessFor(token string) int {
	if utf8.RuneCountInString(token) >= 6 {
		return 2
	}
	return 1
}

// search returns term positions, best score first, for terms that match any
// query token within its fuzziness.
func (f *fuzzyIndex) search(tokens []string, limit int) ([]int, error) {
	queries := make([]blevequery.Query, 0, len(tokens))
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < minFuzzyTokenLength {
			continue
		}
		fq := bleve.NewFuzzyQuery(tok)
		fq.SetFuzziness(fuzzinessFor(tok))
		queries = append(queries, fq)
	}
	if len(queries) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > f.size {
		limit = f.size
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(queries...), limit, 0, false)
	res, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search failed: %w", err)
	}
	out := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

func (f *fuzzyIndex) close() error {
	return f.index.Close()
}
