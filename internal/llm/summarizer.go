package llm

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
)

// Summarizer produces the optional narrative for a finished report.
// Its output is attached to the report and never changes a computed number.
type Summarizer struct {
	provider Provider
	config   Config
}

// NewSummarizer creates a summarizer; a disabled provider yields a no-op summarizer
func NewSummarizer(config Config) (*Summarizer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	return &Summarizer{provider: provider, config: config}, nil
}

func (s *Summarizer) IsEnabled() bool {
	return s.provider != nil
}

func (s *Summarizer) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// GenerateSummary asks the provider for a narrative of the report.
// Provider failures are reported as warnings so the run itself never fails.
func (s *Summarizer) GenerateSummary(ctx context.Context, report model.Report) (*model.LLMSummary, error) {
	if s.provider == nil {
		return nil, nil
	}

	summary := &model.LLMSummary{
		Provider: s.provider.Name(),
		Model:    s.config.Model,
	}

	if !s.provider.IsAvailable(ctx) {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("LLM provider %s is not available", s.provider.Name()))
		return summary, nil
	}
	summary.Enabled = true

	allowed := reportIdentifiers(report)
	resp, err := s.provider.Summarize(ctx, SummarizeRequest{
		Report:      report,
		Identifiers: allowed,
		Model:       s.config.Model,
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		log.WithField("provider", s.provider.Name()).WithError(err).Warn("LLM summary failed")
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Summary generation failed: %v", err))
		return summary, nil
	}

	summary.SummaryMD = resp.Summary
	if resp.Model != "" {
		summary.Model = resp.Model
	}
	if resp.TokensUsed > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("Tokens used: %d", resp.TokensUsed))
	}

	known := mapset.NewThreadUnsafeSet(allowed...)
	var unknown []string
	for _, id := range resp.CitedIdentifiers {
		if !known.Contains(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("Summary mentions %d identifiers not in this run: %s", len(unknown), strings.Join(unknown, ", ")))
	} else if len(resp.CitedIdentifiers) > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("Verified %d cited identifiers", len(resp.CitedIdentifiers)))
	}

	return summary, nil
}

// RenderSeparateMarkdown renders the narrative as its own document, apart from the report
func RenderSeparateMarkdown(summary *model.LLMSummary) string {
	if summary == nil || !summary.Enabled {
		return ""
	}

	var b strings.Builder
	b.WriteString("# LLM Summary\n\n")
	b.WriteString("> **GENERATED CONTENT.** Every number in the CitationMap report was determined independently of this text.\n\n")
	fmt.Fprintf(&b, "- **Provider:** %s\n", summary.Provider)
	if summary.Model != "" {
		fmt.Fprintf(&b, "- **Model:** %s\n", summary.Model)
	}
	b.WriteString("\n")

	if summary.SummaryMD == "" {
		b.WriteString("_No summary generated._\n")
	} else {
		b.WriteString(summary.SummaryMD)
		b.WriteString("\n")
	}

	if len(summary.Warnings) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, w := range summary.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}
