// Package cli provides CLI output helpers for gasnelio.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"github.com/hyperjump/gasnelio/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to a format, defaulting to text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSuggestions writes a suggestion result to w in the given format.
func WriteSuggestions(w io.Writer, res suggest.Result, format OutputFormat) error {
	if format == OutputJSON {
		out := struct {
			suggest.Result
			Error string `json:"error,omitempty"`
		}{Result: res}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		return writeJSON(w, out)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "error: %v\n", res.Err)
	}
	if len(res.Suggestions) == 0 {
		fmt.Fprintf(w, "No suggestions for %q\n", res.Query)
	} else {
		fmt.Fprintf(w, "\n%d suggestions for %q\n\n", len(res.Suggestions), res.Query)
		for i, s := range res.Suggestions {
			fmt.Fprintf(w, "%2d. %-32s [%s] %-8s score %.4f\n",
				i+1, utils.Truncate(s.Term.Text, 32), s.Term.Category, s.MatchType, s.RelevanceScore)
		}
	}
	if res.DidYouMean != "" {
		fmt.Fprintf(w, "\nDid you mean: %s?\n", res.DidYouMean)
	}
	return nil
}

// Decision bundles a routing decision with what the UI would do with it.
type Decision struct {
	models.RoutingDecision
	ShouldPresent bool             `json:"should_present"`
	Sentiment     models.Sentiment `json:"sentiment"`
}

// WriteDecision writes a routing decision to w in the given format.
func WriteDecision(w io.Writer, d Decision, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	fmt.Fprintf(w, "Recommended persona: %s (confidence %.2f)\n", d.RecommendedPersona, d.Confidence)
	fmt.Fprintf(w, "Technical score: %.2f | Empathy score: %.2f | Sentiment: %s\n",
		d.TechnicalScore, d.EmpathyScore, d.Sentiment)
	if d.ShouldPresent {
		fmt.Fprintln(w, "The recommendation would be offered to the user.")
	}
	if len(d.Signals) > 0 {
		fmt.Fprintln(w, "Signals:")
		for _, s := range d.Signals {
			fmt.Fprintf(w, "  %-18s %-12s %+.2f  %s\n", s.Name, s.Persona, s.Weight, utils.Truncate(s.Evidence, 40))
		}
	}
	return nil
}

// WriteTerms writes an expanded term list to w.
func WriteTerms(w io.Writer, query string, terms []string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"query": query, "terms": terms})
	}
	if len(terms) == 0 {
		fmt.Fprintf(w, "No taxonomy terms in %q\n", query)
		return nil
	}
	for _, t := range terms {
		fmt.Fprintln(w, t)
	}
	return nil
}

// WriteHistory writes conversation messages to w.
func WriteHistory(w io.Writer, msgs []models.ConversationMessage, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, msgs)
	}
	for _, m := range msgs {
		who := string(m.Role)
		if m.Role == models.RoleAssistant {
			who = string(m.Persona)
		}
		retry := ""
		if m.RetryOf != "" {
			retry = " (retry of " + m.RetryOf + ")"
		}
		fmt.Fprintf(w, "[%s] %s%s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), who, retry, utils.Truncate(m.Content, 200))
	}
	return nil
}
