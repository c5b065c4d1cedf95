package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/gasnelio/internal/suggest"
	"github.com/hyperjump/gasnelio/internal/terms"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	w := NewWatcher([]string{path, ""}, rec.add, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if files := w.Files(); len(files) != 1 {
		t.Fatalf("Files() = %v", files)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("v"+string(rune('2'+i))), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(other, []byte("ignored"), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(150 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("onChange calls = %v, want exactly one", got)
	}
	want, _ := filepath.Abs(path)
	if got[0] != want {
		t.Errorf("onChange path = %s, want %s", got[0], want)
	}
}

func TestWatcher_RenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := NewWatcher([]string{path}, rec.add, WithDebounce(20*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tmp := filepath.Join(dir, "rules.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := NewWatcher([]string{path}, rec.add, WithDebounce(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("onChange called after stop: %v", got)
	}
}

func TestWatcher_ContextCancelStops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	w := NewWatcher([]string{path}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.started
	})
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing", "taxonomy.yaml")}, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error watching a missing directory")
	}
}

type fakeLoader struct {
	err   error
	paths []string
}

func (f *fakeLoader) LoadFile(path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

type countInvalidator struct{ n int }

func (c *countInvalidator) Invalidate() { c.n++ }

func TestReloadOnChange(t *testing.T) {
	loader := &fakeLoader{}
	inv := &countInvalidator{}
	reload := ReloadOnChange(loader, nil, inv)

	reload("/tmp/taxonomy.yaml")
	if len(loader.paths) != 1 || inv.n != 1 {
		t.Errorf("loads = %v invalidations = %d", loader.paths, inv.n)
	}

	loader.err = errors.New("bad yaml")
	reload("/tmp/taxonomy.yaml")
	if inv.n != 1 {
		t.Errorf("failed reload invalidated caches: %d", inv.n)
	}
}

func TestReloadOnChange_TermIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	write := func(text string) {
		t.Helper()
		content := "version: 1\nterms:\n  - id: t1\n    text: " + text + "\n    category: medication\n    weight: 1\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("rifampicina")

	idx := terms.NewIndex()
	defer idx.Close()
	if err := idx.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	engine := suggest.NewEngine(idx)
	defer engine.Close()

	if res := engine.Search("rifampicina", suggest.Options{}); len(res.Suggestions) != 1 {
		t.Fatalf("initial search = %+v", res)
	}

	write("clofazimina")
	ReloadOnChange(idx, nil, engine)(path)

	if res := engine.Search("rifampicina", suggest.Options{}); res.FromCache {
		t.Error("cache survived a taxonomy reload")
	}
	if res := engine.Search("clofazimina", suggest.Options{}); len(res.Suggestions) != 1 {
		t.Errorf("reloaded term not found: %+v", res)
	}
}
