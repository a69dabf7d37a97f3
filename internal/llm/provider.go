package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Rodons/CitationMap/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Summarize generates a narrative of the report restricted to allowed identifiers
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// SummarizeRequest contains the input for LLM summarization
type SummarizeRequest struct {
	// Report is the finalized CitationMap run
	Report model.Report

	// Identifiers is the allowlist of publications the narrative may name.
	// Anything else it mentions is reported as a warning.
	Identifiers []string

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// SummarizeResponse contains the LLM's summary output
type SummarizeResponse struct {
	Summary string

	// CitedIdentifiers are the normalized DOIs/PMIDs found in the summary
	CitedIdentifiers []string

	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	Model   string
	APIKey  string
	BaseURL string // Custom endpoint; Ollama defaults to its OpenAI-compatible API

	Timeout   time.Duration
	MaxTokens int

	// Proxy settings; empty means from environment
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   30 * time.Second,
		MaxTokens: 1000,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(c model.LLMConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = c.Provider
	cfg.Model = c.Model
	cfg.APIKey = c.APIKey
	cfg.BaseURL = c.BaseURL
	return cfg
}

// maxPromptIdentifiers caps the allowlist printed in the prompt
const maxPromptIdentifiers = 20

// BuildPrompt constructs the default prompt. Every number in it comes from the report.
func BuildPrompt(report model.Report, identifiers []string) string {
	s := report.Summary
	var b strings.Builder

	fmt.Fprintf(&b, `You are summarizing a CitationMap report. CitationMap aggregates citation evidence for a set of publications; it does not judge research quality.

RULES:
1. You may ONLY mention publications from this list of identifiers:
%s

2. Do not introduce numbers that are not given below.
3. If data is incomplete or missing, say so explicitly.
4. Describe evidence ("cited by", "field percentile"), never merit.

Portfolio:
- Publications: %d (%d-%d)
- Total citations: %d
- h-index: %d, i10-index: %d
- Independence ratio: %.2f
- Top 10%% of field: %d, top 1%%: %d
- Translational score: %.1f

Key Signals:
`, joinIdentifiers(identifiers), s.Publications, s.FirstYear, s.LastYear, s.TotalCitations,
		s.HIndex, s.I10Index, s.IndependenceRatio, s.TopTenPercent, s.TopOnePercent, s.TranslationalSum)

	for i, signal := range s.Signals {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", signal.Type, signal.Severity, signal.Description)
	}

	b.WriteString("\nProvide a 3-5 sentence summary of the citation evidence.")
	return b.String()
}

func joinIdentifiers(ids []string) string {
	if len(ids) == 0 {
		return "(No publications)"
	}
	var b strings.Builder
	for i, id := range ids {
		if i >= maxPromptIdentifiers {
			fmt.Fprintf(&b, "\n... and %d more", len(ids)-maxPromptIdentifiers)
			break
		}
		fmt.Fprintf(&b, "\n- %s", id)
	}
	return b.String()
}

// reportIdentifiers returns every normalized identifier in the report, sorted
func reportIdentifiers(report model.Report) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range report.Identifiers {
		add(id)
	}
	for _, rec := range report.Records {
		add(rec.Identifier)
		add(rec.DOI)
		if rec.PMID != "" {
			add("pmid:" + rec.PMID)
		}
	}
	sort.Strings(ids)
	return ids
}
