package suggest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is a handle to one debounced search. Cancelling it before its window
// elapses guarantees its callback never runs.
type Task struct {
	timer     *time.Timer
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Cancel stops the task. It is safe to call more than once and after the
// task finished.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	if t.timer != nil && t.timer.Stop() {
		t.finish()
	}
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once the task either ran its callback or will never run it.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) finish() {
	t.once.Do(func() { close(t.done) })
}

// SearchDebounced runs Search after the debounce window and hands the result
// to callback. A newer call cancels the pending one, so callback fires at
// most once per quiet window and never for a superseded query. Cached
// results skip the window and invoke callback before returning.
func (e *Engine) SearchDebounced(query string, opts Options, callback func(Result)) *Task {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	if e.pending != nil {
		e.pending.Cancel()
		e.pending = nil
	}

	if res, ok := e.cachedResult(query, opts); ok {
		e.mu.Unlock()
		t := newTask()
		callback(res)
		t.finish()
		return t
	}

	t := newTask()
	t.timer = time.AfterFunc(e.debounce, func() { e.fire(t, seq, query, opts, callback) })
	e.pending = t
	e.mu.Unlock()
	return t
}

func (e *Engine) fire(t *Task, seq uint64, query string, opts Options, callback func(Result)) {
	defer t.finish()

	e.mu.Lock()
	if t.Cancelled() || seq != e.seq {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	e.mu.Unlock()

	res := e.Search(query, opts)
	if t.Cancelled() {
		return
	}
	callback(res)
}

// cachedResult returns a cached result for a valid, long-enough query.
func (e *Engine) cachedResult(query string, opts Options) (Result, bool) {
	maxResults, err := e.validate(opts)
	if err != nil {
		return Result{}, false
	}
	cr, ok := e.cache.get(cacheKey(query, opts.Categories, opts.Medications, maxResults))
	if !ok {
		return Result{}, false
	}
	return Result{Query: query, Suggestions: cr.suggestions, DidYouMean: cr.didYouMean, FromCache: true}, true
}
