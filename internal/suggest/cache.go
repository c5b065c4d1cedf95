package suggest

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/terms"
	"github.com/patrickmn/go-cache"
)

// cachedResult is what the TTL cache stores per key. Suggestions are copied
// on the way in and out, so cached slices are never shared with callers.
type cachedResult struct {
	suggestions []models.Suggestion
	didYouMean  string
}

// resultCache is a TTL cache of search results. Expired entries are never
// returned and are swept every sweep interval until close.
type resultCache struct {
	c *cache.Cache

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// newResultCache runs its own sweeper instead of the go-cache janitor, whose
// goroutine cannot be stopped.
func newResultCache(ttl, sweep time.Duration) *resultCache {
	r := &resultCache{
		c:    cache.New(ttl, 0),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.sweepLoop(sweep)
	return r
}

func (r *resultCache) sweepLoop(every time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.c.DeleteExpired()
		case <-r.stop:
			return
		}
	}
}

// close stops the sweeper and empties the cache. Safe to call twice.
func (r *resultCache) close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	r.c.Flush()
}

func (r *resultCache) get(key string) (cachedResult, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return cachedResult{}, false
	}
	cr, ok := v.(cachedResult)
	if !ok {
		return cachedResult{}, false
	}
	return cachedResult{suggestions: copySuggestions(cr.suggestions), didYouMean: cr.didYouMean}, true
}

func (r *resultCache) set(key string, cr cachedResult) {
	r.c.SetDefault(key, cachedResult{suggestions: copySuggestions(cr.suggestions), didYouMean: cr.didYouMean})
}

func (r *resultCache) flush() {
	r.c.Flush()
}

func (r *resultCache) len() int {
	return r.c.ItemCount()
}

// cacheKey builds the normalized (query, categories, medications, max) key.
// Option order and letter case do not produce distinct entries.
func cacheKey(query string, categories []models.Category, medications []string, maxResults int) string {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	meds := make([]string, 0, len(medications))
	for _, m := range medications {
		meds = append(meds, terms.Normalize(m))
	}

	var b strings.Builder
	b.WriteString(terms.Normalize(query))
	b.WriteByte('|')
	b.WriteString(strings.Join(sortedUnique(cats), ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(sortedUnique(meds), ","))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(maxResults))
	return b.String()
}

func sortedUnique(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if s == "" || (i > 0 && s == in[i-1]) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func copySuggestions(in []models.Suggestion) []models.Suggestion {
	out := make([]models.Suggestion, len(in))
	for i, s := range in {
		s.Term.Synonyms = append([]string(nil), s.Term.Synonyms...)
		s.Term.Keywords = append([]string(nil), s.Term.Keywords...)
		s.Term.Medications = append([]string(nil), s.Term.Medications...)
		s.Term.Populations = append([]string(nil), s.Term.Populations...)
		out[i] = s
	}
	return out
}
