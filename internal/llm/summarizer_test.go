package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Rodons/CitationMap/internal/model"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	name      string
	available bool
	response  *SummarizeResponse
	err       error

	lastRequest SummarizeRequest
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.available
}

func testReport() model.Report {
	return model.Report{
		Identifiers: []string{"10.1000/a", "pmid:42"},
		Records: []model.PublicationRecord{
			{Identifier: "10.1000/a", DOI: "10.1000/a"},
			{Identifier: "pmid:42", PMID: "42", DOI: "10.1000/b"},
		},
		Summary: model.Summary{
			Publications:   2,
			TotalCitations: 57,
			HIndex:         2,
			Signals: []model.Signal{
				{Type: model.SignalCoverage, Severity: model.SeverityInfo, Description: "All identifiers resolved"},
			},
		},
	}
}

func hasWarning(summary *model.LLMSummary, parts ...string) bool {
	for _, w := range summary.Warnings {
		all := true
		for _, p := range parts {
			if !strings.Contains(w, p) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func TestNewSummarizer_DisabledProvider(t *testing.T) {
	summarizer, err := NewSummarizer(Config{Provider: ""})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if summarizer.IsEnabled() {
		t.Error("Expected summarizer to be disabled")
	}
	if summarizer.ProviderName() != "" {
		t.Error("Expected empty provider name when disabled")
	}

	summary, err := summarizer.GenerateSummary(context.Background(), testReport())
	if err != nil || summary != nil {
		t.Errorf("Expected nil summary and no error when disabled, got %+v, %v", summary, err)
	}
}

func TestNewSummarizer_UnknownProvider(t *testing.T) {
	if _, err := NewSummarizer(Config{Provider: "anthropic"}); err == nil {
		t.Error("Expected error for unsupported provider")
	}
}

func TestSummarizer_GenerateSummary_ProviderUnavailable(t *testing.T) {
	summarizer := &Summarizer{provider: &MockProvider{name: "test-provider"}}

	summary, err := summarizer.GenerateSummary(context.Background(), testReport())
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if summary == nil {
		t.Fatal("Expected summary object with warnings")
	}
	if summary.Enabled {
		t.Error("Expected summary to be marked as disabled")
	}
	if !hasWarning(summary, "not available") {
		t.Errorf("Expected warning about provider unavailability, got %v", summary.Warnings)
	}
}

func TestSummarizer_GenerateSummary_Success(t *testing.T) {
	provider := &MockProvider{
		name:      "test-provider",
		available: true,
		response: &SummarizeResponse{
			Summary:          "Two publications, led by 10.1000/a.",
			CitedIdentifiers: []string{"10.1000/a", "pmid:42"},
			Model:            "test-model",
			TokensUsed:       150,
		},
	}
	summarizer := &Summarizer{provider: provider, config: Config{Model: "test-model"}}

	summary, err := summarizer.GenerateSummary(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !summary.Enabled || summary.Provider != "test-provider" || summary.Model != "test-model" {
		t.Errorf("Unexpected summary header: %+v", summary)
	}
	if summary.SummaryMD != "Two publications, led by 10.1000/a." {
		t.Errorf("Unexpected summary text %q", summary.SummaryMD)
	}
	if !hasWarning(summary, "Tokens used: 150") {
		t.Errorf("Expected token usage note, got %v", summary.Warnings)
	}
	if !hasWarning(summary, "Verified 2") {
		t.Errorf("Expected verification note, got %v", summary.Warnings)
	}

	// Allowlist covers identifiers, DOIs and PMIDs of the records
	want := []string{"10.1000/a", "10.1000/b", "pmid:42"}
	got := provider.lastRequest.Identifiers
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected allowlist %v, got %v", want, got)
	}
}

func TestSummarizer_GenerateSummary_UnknownIdentifiers(t *testing.T) {
	provider := &MockProvider{
		name:      "test-provider",
		available: true,
		response: &SummarizeResponse{
			Summary:          "Cites 10.9999/invented.",
			CitedIdentifiers: []string{"10.1000/a", "10.9999/invented"},
		},
	}
	summarizer := &Summarizer{provider: provider}

	summary, err := summarizer.GenerateSummary(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !hasWarning(summary, "not in this run", "10.9999/invented") {
		t.Errorf("Expected warning about invented identifier, got %v", summary.Warnings)
	}
	if hasWarning(summary, "Verified") {
		t.Error("Should not report verification when an identifier is unknown")
	}
}

func TestSummarizer_GenerateSummary_ProviderError(t *testing.T) {
	summarizer := &Summarizer{provider: &MockProvider{
		name:      "test-provider",
		available: true,
		err:       errors.New("API rate limit exceeded"),
	}}

	summary, err := summarizer.GenerateSummary(context.Background(), testReport())
	if err != nil {
		t.Errorf("Expected no error (graceful degradation), got %v", err)
	}
	if summary == nil || !summary.Enabled {
		t.Fatalf("Expected enabled summary with warnings, got %+v", summary)
	}
	if !hasWarning(summary, "failed", "rate limit") {
		t.Errorf("Expected warning to mention error: %v", summary.Warnings)
	}
}

func TestRenderSeparateMarkdown(t *testing.T) {
	if RenderSeparateMarkdown(nil) != "" {
		t.Error("Expected empty markdown when nil")
	}
	if RenderSeparateMarkdown(&model.LLMSummary{Enabled: false}) != "" {
		t.Error("Expected empty markdown when disabled")
	}

	md := RenderSeparateMarkdown(&model.LLMSummary{
		Enabled:   true,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		SummaryMD: "This is the generated summary content.",
		Warnings:  []string{"Tokens used: 150"},
	})
	for _, section := range []string{
		"# LLM Summary",
		"GENERATED CONTENT",
		"determined independently",
		"openai",
		"gpt-4o-mini",
		"This is the generated summary content.",
		"## Notes",
		"Tokens used: 150",
	} {
		if !strings.Contains(md, section) {
			t.Errorf("Expected markdown to contain %q", section)
		}
	}

	empty := RenderSeparateMarkdown(&model.LLMSummary{Enabled: true, Provider: "ollama"})
	if !strings.Contains(empty, "No summary generated") {
		t.Error("Expected message about no summary")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(testReport(), []string{"10.1000/a", "pmid:42"})
	for _, element := range []string{
		"ONLY mention publications",
		"10.1000/a",
		"pmid:42",
		"Publications: 2",
		"Total citations: 57",
		"h-index: 2",
		"coverage (info): All identifiers resolved",
		"never merit",
	} {
		if !strings.Contains(prompt, element) {
			t.Errorf("Expected prompt to contain %q", element)
		}
	}

	if !strings.Contains(BuildPrompt(model.Report{}, nil), "(No publications)") {
		t.Error("Expected placeholder for empty allowlist")
	}
}

func TestBuildPrompt_ManyIdentifiers(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = "pmid:" + strings.Repeat("1", i+1)
	}
	prompt := BuildPrompt(model.Report{}, ids)
	if !strings.Contains(prompt, "and 5 more") {
		t.Error("Expected truncation message for many identifiers")
	}
	if strings.Contains(prompt, ids[24]) {
		t.Error("Identifiers past the cap should not be listed")
	}
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(model.LLMConfig{Provider: "ollama", Model: "llama3"})
	if cfg.Provider != "ollama" || cfg.Model != "llama3" {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.Timeout <= 0 || cfg.MaxTokens <= 0 {
		t.Error("Expected defaults for timeout and max tokens")
	}
}
