package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/gasnelio/internal/chat"
	"github.com/hyperjump/gasnelio/internal/config"
	"github.com/hyperjump/gasnelio/internal/fallback"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/persona"
	"github.com/hyperjump/gasnelio/internal/routing"
	"github.com/hyperjump/gasnelio/internal/sender"
	"github.com/hyperjump/gasnelio/internal/storage"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"github.com/hyperjump/gasnelio/internal/terms"
	"go.uber.org/zap"
)

type testEnv struct {
	handler http.Handler
	fail    *bool
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	idx := terms.NewIndex()
	if err := idx.LoadFile(""); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	engine := suggest.NewEngine(idx)
	t.Cleanup(engine.Close)

	catalog := persona.Default()
	router, err := routing.NewClassifier(catalog)
	if err != nil {
		t.Fatal(err)
	}
	fail := new(bool)
	s := sender.Func(func(_ context.Context, req sender.Request) (sender.Reply, error) {
		if *fail {
			return sender.Reply{}, sender.NewError(models.ErrorKindNetwork, errors.New("connection refused"))
		}
		return sender.Reply{Content: "resposta para " + req.Text}, nil
	})
	orch, err := chat.New(router, fallback.NewController(), s, catalog,
		chat.WithStore(storage.NewMemoryStorage()),
		chat.WithTermIndex(idx),
		chat.WithDefaultPersona(models.PersonaGasnelio),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(engine, idx, router, orch, catalog, &config.ServerConfig{Host: "localhost", Port: 8080}, zap.NewNop())
	return &testEnv{handler: srv.Handler(), fail: fail}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

type suggestionsOut struct {
	Query       string `json:"query"`
	Suggestions []struct {
		Term      models.Term `json:"term"`
		MatchType string      `json:"match_type"`
	} `json:"suggestions"`
	FromCache bool           `json:"from_cache"`
	Counts    map[string]int `json:"counts"`
	Filters   string         `json:"filters"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHandleSuggestions(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/suggestions", map[string]interface{}{"query": "rifampicina", "max_results": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var out suggestionsOut
	decode(t, w, &out)
	if len(out.Suggestions) == 0 || out.Suggestions[0].Term.ID != "rifampicina" || out.Suggestions[0].MatchType != "exact" {
		t.Fatalf("suggestions: got %+v", out.Suggestions)
	}
	if len(out.Counts) != len(models.AllCategories()) {
		t.Errorf("counts should include every category: got %v", out.Counts)
	}

	w = env.do(t, http.MethodPost, "/api/v1/suggestions", map[string]interface{}{"query": "rifampicina", "max_results": 5})
	decode(t, w, &out)
	if !out.FromCache {
		t.Error("second identical search should be served from cache")
	}
}

func TestHandleSuggestions_InvalidOptions(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodPost, "/api/v1/suggestions", map[string]interface{}{"query": "dose", "max_results": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/suggestions", "not an object")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/suggestions?q=dose&max=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleSuggestionsQuery(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/suggestions?q=dose&category=dose&category=bogus", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	var out suggestionsOut
	decode(t, w, &out)
	if len(out.Suggestions) == 0 {
		t.Fatal("expected dose suggestions")
	}
	for _, s := range out.Suggestions {
		if s.Term.Category != models.CategoryDose {
			t.Errorf("suggestion %s has category %s", s.Term.ID, s.Term.Category)
		}
	}
	if out.Filters != "category=dose&q=dose" {
		t.Errorf("filters: got %q", out.Filters)
	}
	if out.Counts[string(models.CategoryDose)] != len(out.Suggestions) {
		t.Errorf("counts: got %v", out.Counts)
	}
}

func TestHandleExpand(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodPost, "/api/v1/expand", map[string]string{"query": "rifampicina"})
	var out struct {
		Terms []string `json:"terms"`
	}
	decode(t, w, &out)
	if len(out.Terms) == 0 || out.Terms[0] != "rifampicina" {
		t.Errorf("terms: got %v", out.Terms)
	}
}

func TestHandleRoute(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodPost, "/api/v1/route", map[string]string{
		"conversation_id": "c1",
		"text":            "Qual a dose de rifampicina para adulto de 70kg?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Decision      models.RoutingDecision `json:"decision"`
		ShouldPresent bool                   `json:"should_present"`
	}
	decode(t, w, &out)
	if out.Decision.RecommendedPersona != models.PersonaGasnelio || !out.ShouldPresent {
		t.Errorf("route: got %+v", out)
	}

	w = env.do(t, http.MethodPost, "/api/v1/route", map[string]string{
		"text":   "Qual a dose de rifampicina para adulto de 70kg?",
		"pinned": "ga",
	})
	decode(t, w, &out)
	if out.ShouldPresent {
		t.Error("should not present when a persona is pinned")
	}
}

func TestHandleRoute_ResolvedTextNotPresentedAgain(t *testing.T) {
	env := newTestServer(t)
	const text = "Qual a dose de rifampicina para adulto de 70kg?"
	route := func() bool {
		t.Helper()
		w := env.do(t, http.MethodPost, "/api/v1/route", map[string]string{"conversation_id": "c1", "text": text})
		if w.Code != http.StatusOK {
			t.Fatalf("route: got %d", w.Code)
		}
		var out struct {
			ShouldPresent bool `json:"should_present"`
		}
		decode(t, w, &out)
		return out.ShouldPresent
	}

	if !route() {
		t.Fatal("expected a recommendation before the user chose")
	}
	w := env.do(t, http.MethodPost, "/api/v1/conversations/c1/resolutions", map[string]string{"text": text, "persona": "ga"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: got %d", w.Code)
	}
	if route() {
		t.Error("recommendation presented again after the user chose ga")
	}
}

func TestHandleSubmit_FlowAndStatusMapping(t *testing.T) {
	env := newTestServer(t)
	const text = "Qual a dose de rifampicina para adulto de 70kg?"
	base := "/api/v1/conversations/c1"

	w := env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": text})
	if w.Code != http.StatusConflict {
		t.Fatalf("unresolved routing: got %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, base+"/resolutions", map[string]string{"text": text, "persona": "dr_gasnelio"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": text})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: got %d (%s)", w.Code, w.Body.String())
	}
	var reply models.ConversationMessage
	decode(t, w, &reply)
	if reply.Role != models.RoleAssistant || reply.Persona != models.PersonaGasnelio {
		t.Errorf("reply: got %+v", reply)
	}

	w = env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "oi", "persona": "nurse"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown persona: got %d, want 400", w.Code)
	}

	*env.fail = true
	var failed struct {
		Kind      string `json:"kind"`
		MessageID string `json:"message_id"`
	}
	for i, want := range []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusServiceUnavailable} {
		w = env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": fmt.Sprintf("pergunta %d", i), "persona": "ga"})
		if w.Code != want {
			t.Fatalf("failure %d: got %d, want %d", i+1, w.Code, want)
		}
		decode(t, w, &failed)
		if failed.Kind != "network" || failed.MessageID == "" {
			t.Errorf("failure body: got %+v", failed)
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/fallback", nil)
	var state models.FallbackState
	decode(t, w, &state)
	if !state.IsDegraded {
		t.Errorf("fallback: got %+v", state)
	}

	*env.fail = false
	retryPath := fmt.Sprintf("%s/messages/%s/retry", base, failed.MessageID)
	w = env.do(t, http.MethodPost, retryPath, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("retry: got %d (%s)", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, base+"/messages/missing/retry", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("retry unknown: got %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/fallback/reset", nil)
	decode(t, w, &state)
	if state.IsDegraded {
		t.Errorf("after reset: got %+v", state)
	}

	w = env.do(t, http.MethodGet, base+"/messages", nil)
	var history struct {
		Messages []models.ConversationMessage `json:"messages"`
	}
	decode(t, w, &history)
	// 2 for the resolved submit, 3 failed user messages, 2 for the retry.
	if len(history.Messages) != 7 {
		t.Errorf("history: got %d messages", len(history.Messages))
	}

	w = env.do(t, http.MethodDelete, base, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.ErrNoPersonaSelected, http.StatusConflict},
		{fmt.Errorf("%w: %w", chat.ErrServiceDegraded, sender.NewError(models.ErrorKindTimeout, errors.New("x"))), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", chat.ErrDeliveryFailed), http.StatusBadGateway},
		{chat.ErrRetryLimitExceeded, http.StatusTooManyRequests},
		{chat.ErrMessageNotFound, http.StatusNotFound},
		{chat.ErrUnknownPersona, http.StatusBadRequest},
		{chat.ErrNotRetryable, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleHealthAndPersonas(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
	var health map[string]interface{}
	decode(t, w, &health)
	if health["status"] != "ok" || health["delivery"] != "healthy" {
		t.Errorf("health: got %v", health)
	}

	w = env.do(t, http.MethodGet, "/api/v1/personas", nil)
	var out struct {
		Personas []persona.Persona `json:"personas"`
	}
	decode(t, w, &out)
	if len(out.Personas) != 2 {
		t.Errorf("personas: got %d", len(out.Personas))
	}
}
