// Package suggest provides ranked, cached and debounced term suggestions
// over the taxonomy.
package suggest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultTTL            = 5 * time.Minute
	DefaultSweepInterval  = 10 * time.Minute
	DefaultMinQueryLength = 2
	DefaultMaxResults     = 10
)

// Matcher is the taxonomy lookup the engine ranks over. *terms.Index
// implements it.
type Matcher interface {
	Match(query string) []terms.Match
	DidYouMean(query string) string
}

// Options narrows a search.
type Options struct {
	// MaxResults caps the result count. Zero means the engine default.
	MaxResults  int               `json:"max_results"`
	Categories  []models.Category `json:"categories,omitempty"`
	Medications []string          `json:"medications,omitempty"`
}

// Result is the outcome of a search. Errors are reported in Err alongside an
// empty suggestion list; Search never panics into its caller.
type Result struct {
	Query       string              `json:"query"`
	Suggestions []models.Suggestion `json:"suggestions"`
	DidYouMean  string              `json:"did_you_mean,omitempty"`
	FromCache   bool                `json:"from_cache"`
	Err         error               `json:"-"`
}

// Engine ranks taxonomy matches for a query. It is safe for concurrent use.
type Engine struct {
	index  Matcher
	cache  *resultCache
	group  singleflight.Group
	logger *zap.Logger

	debounce          time.Duration
	ttl               time.Duration
	sweep             time.Duration
	minQueryLength    int
	defaultMaxResults int

	// generation changes on Invalidate so that results computed against a
	// previous taxonomy are not cached.
	generation atomic.Uint64

	mu      sync.Mutex
	pending *Task
	seq     uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce sets the SearchDebounced quiet window.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithTTL sets how long results stay cached.
func WithTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithSweepInterval sets how often expired cache entries are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweep = d
		}
	}
}

// WithMinQueryLength sets the shortest query, in runes, that is searched.
func WithMinQueryLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minQueryLength = n
		}
	}
}

// WithDefaultMaxResults sets the cap used when Options.MaxResults is zero.
func WithDefaultMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultMaxResults = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine over index.
func NewEngine(index Matcher, opts ...Option) *Engine {
	e := &Engine{
		index:             index,
		logger:            zap.NewNop(),
		debounce:          DefaultDebounce,
		ttl:               DefaultTTL,
		sweep:             DefaultSweepInterval,
		minQueryLength:    DefaultMinQueryLength,
		defaultMaxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = newResultCache(e.ttl, e.sweep)
	return e
}

// Search returns suggestions for query. Queries shorter than the minimum
// length return an empty list. Results are ordered by match type (exact,
// synonym, keyword, fuzzy), then by descending term weight, then by taxonomy
// order.
func (e *Engine) Search(query string, opts Options) (res Result) {
	res = Result{Query: query, Suggestions: []models.Suggestion{}}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("suggestion search panicked", zap.String("query", query), zap.Any("panic", r))
			res = Result{Query: query, Suggestions: []models.Suggestion{}, Err: fmt.Errorf("suggestion search failed: %v", r)}
		}
	}()

	maxResults, err := e.validate(opts)
	if err != nil {
		res.Err = err
		return res
	}
	if utf8.RuneCountInString(strings.TrimSpace(query)) < e.minQueryLength {
		return res
	}

	key := cacheKey(query, opts.Categories, opts.Medications, maxResults)
	if cr, ok := e.cache.get(key); ok {
		res.Suggestions, res.DidYouMean, res.FromCache = cr.suggestions, cr.didYouMean, true
		return res
	}

	gen := e.generation.Load()
	v, err, _ := e.group.Do(fmt.Sprintf("%d#%s", gen, key), func() (interface{}, error) {
		cr := e.compute(query, opts, maxResults)
		if e.generation.Load() == gen {
			e.cache.set(key, cr)
		}
		return cr, nil
	})
	if err != nil {
		res.Err = err
		return res
	}
	cr := v.(cachedResult)
	res.Suggestions, res.DidYouMean = copySuggestions(cr.suggestions), cr.didYouMean
	return res
}

func (e *Engine) validate(opts Options) (int, error) {
	if opts.MaxResults < 0 {
		return 0, fmt.Errorf("%w: max results %d is negative", ErrInvalidArgument, opts.MaxResults)
	}
	for _, c := range opts.Categories {
		if !c.Valid() {
			return 0, fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, c)
		}
	}
	if opts.MaxResults == 0 {
		return e.defaultMaxResults, nil
	}
	return opts.MaxResults, nil
}

func (e *Engine) compute(query string, opts Options, maxResults int) cachedResult {
	matches := filterMatches(e.index.Match(query), opts)

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Type != b.Type {
			return a.Type > b.Type
		}
		if a.Term.Weight != b.Term.Weight {
			return a.Term.Weight > b.Term.Weight
		}
		return a.Index < b.Index
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	out := make([]models.Suggestion, len(matches))
	for i, m := range matches {
		out[i] = models.Suggestion{
			Term:           m.Term,
			MatchType:      m.Type,
			RelevanceScore: relevance(m),
			Position:       m.Position,
		}
	}

	cr := cachedResult{suggestions: out}
	if len(out) == 0 || out[0].MatchType == models.MatchTypeFuzzy {
		cr.didYouMean = e.index.DidYouMean(query)
	}
	return cr
}

// filterMatches keeps matches whose term is in one of the active categories
// and mentions one of the active medications. An empty filter passes all.
func filterMatches(ms []terms.Match, opts Options) []terms.Match {
	if len(opts.Categories) == 0 && len(opts.Medications) == 0 {
		return ms
	}
	cats := make(map[models.Category]struct{}, len(opts.Categories))
	for _, c := range opts.Categories {
		cats[c] = struct{}{}
	}
	meds := make(map[string]struct{}, len(opts.Medications))
	for _, m := range opts.Medications {
		meds[terms.Normalize(m)] = struct{}{}
	}

	out := ms[:0]
	for _, m := range ms {
		if len(cats) > 0 {
			if _, ok := cats[m.Term.Category]; !ok {
				continue
			}
		}
		if len(meds) > 0 && !mentionsAny(m.Term.Medications, meds) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func mentionsAny(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := set[terms.Normalize(v)]; ok {
			return true
		}
	}
	return false
}

// Invalidate drops every cached result. Call it after the taxonomy changes.
func (e *Engine) Invalidate() {
	e.generation.Add(1)
	e.cache.flush()
	e.logger.Debug("suggestion cache invalidated")
}

// Close cancels any pending debounced search, stops the cache sweeper and
// empties the cache.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.pending != nil {
		e.pending.Cancel()
		e.pending = nil
	}
	e.mu.Unlock()
	e.cache.close()
}
