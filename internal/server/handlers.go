package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/gasnelio/internal/chat"
	"github.com/hyperjump/gasnelio/internal/filter"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/sender"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"go.uber.org/zap"
)

type suggestionsRequest struct {
	Query       string            `json:"query"`
	MaxResults  int               `json:"max_results"`
	Categories  []models.Category `json:"categories,omitempty"`
	Medications []string          `json:"medications,omitempty"`
	Populations []string          `json:"populations,omitempty"`
}

type suggestionsResponse struct {
	Query       string                  `json:"query"`
	Suggestions []models.Suggestion     `json:"suggestions"`
	DidYouMean  string                  `json:"did_you_mean,omitempty"`
	FromCache   bool                    `json:"from_cache"`
	Counts      map[models.Category]int `json:"counts"`
	Filters     string                  `json:"filters,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v := url.Values{filter.ParamQuery: {req.Query}}
	for _, c := range req.Categories {
		v.Add(filter.ParamCategory, string(c))
	}
	v[filter.ParamMedication] = req.Medications
	v[filter.ParamPopulation] = req.Populations
	set := filter.Decode(v)
	// Unknown categories are rejected by the engine, so pass the raw list.
	s.suggest(w, req.Query, suggest.Options{
		MaxResults:  req.MaxResults,
		Categories:  req.Categories,
		Medications: req.Medications,
	}, set)
}

// handleSuggestionsQuery serves the URL form of the filters:
// ?q=...&category=...&medication=...&population=...&max=N.
func (s *Server) handleSuggestionsQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	set := filter.Decode(q)
	maxResults := 0
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "max must be an integer")
			return
		}
		maxResults = n
	}
	s.suggest(w, set.Query, suggest.Options{
		MaxResults:  maxResults,
		Categories:  set.Categories,
		Medications: set.Medications,
	}, set)
}

func (s *Server) suggest(w http.ResponseWriter, query string, opts suggest.Options, set filter.Set) {
	res := s.suggestions.Search(query, opts)
	if errors.Is(res.Err, suggest.ErrInvalidArgument) {
		s.respondError(w, http.StatusBadRequest, res.Err.Error())
		return
	}
	results := set.Apply(res.Suggestions)
	resp := suggestionsResponse{
		Query:       res.Query,
		Suggestions: results,
		DidYouMean:  res.DidYouMean,
		FromCache:   res.FromCache,
		Counts:      filter.Counts(results),
		Filters:     filter.Encode(set).Encode(),
	}
	if res.Err != nil {
		s.logger.Error("suggestion search failed", zap.String("query", query), zap.Error(res.Err))
		resp.Error = res.Err.Error()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"query": req.Query,
		"terms": s.terms.ExpandWithSynonyms(req.Query),
	})
}

type routeRequest struct {
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"text"`
	Pinned         models.PersonaID `json:"pinned,omitempty"`
}

type routeResponse struct {
	Decision      models.RoutingDecision `json:"decision"`
	ShouldPresent bool                   `json:"should_present"`
	Sentiment     models.Sentiment       `json:"sentiment"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d := s.chat.Analyze(req.ConversationID, req.Text)
	s.respondJSON(w, http.StatusOK, routeResponse{
		Decision:      d,
		ShouldPresent: s.chat.ShouldPresent(req.ConversationID, req.Text, d, req.Pinned != ""),
		Sentiment:     s.router.Sentiment(d),
	})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"personas": s.catalog.List()})
}

type submitRequest struct {
	Text    string           `json:"text"`
	Persona models.PersonaID `json:"persona,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("submit request", zap.String("conversation_id", id), zap.String("persona", string(req.Persona)))
	msg, err := s.chat.Submit(r.Context(), id, req.Text, req.Persona)
	if err != nil {
		s.respondChatError(w, err, msg)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")
	s.logger.Debug("retry request", zap.String("conversation_id", id), zap.String("message_id", messageID))
	msg, err := s.chat.Retry(r.Context(), id, messageID)
	if err != nil {
		s.respondChatError(w, err, msg)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.chat.ResolveRouting(id, req.Text, req.Persona); err != nil {
		s.respondChatError(w, err, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "resolved", "persona": string(req.Persona)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.chat.History(r.Context(), id)
	if err != nil {
		s.logger.Error("history failed", zap.String("conversation_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"conversation_id": id, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.chat.DeleteConversation(r.Context(), id); err != nil {
		s.logger.Error("delete conversation failed", zap.String("conversation_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFallbackState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.chat.FallbackState())
}

func (s *Server) handleFallbackReset(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.chat.ResetFallback())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.chat.FallbackState()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"terms":    s.terms.Len(),
		"delivery": state.Status,
	})
}

// statusFor maps chat errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNoPersonaSelected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrServiceDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrRetryLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUnknownPersona),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNotRetryable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type chatErrorResponse struct {
	Error string `json:"error"`
	// Kind is the delivery failure kind, when the error came from the sender.
	Kind models.ErrorKind `json:"kind,omitempty"`
	// MessageID is the stored user message to retry.
	MessageID string `json:"message_id,omitempty"`
}

func (s *Server) respondChatError(w http.ResponseWriter, err error, msg *models.ConversationMessage) {
	status := statusFor(err)
	resp := chatErrorResponse{Error: err.Error()}
	var se *sender.Error
	if errors.As(err, &se) {
		resp.Kind = se.Kind
	}
	if msg != nil && msg.Role == models.RoleUser {
		resp.MessageID = msg.ID
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("chat request failed", zap.Error(err))
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
