package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Rodons/CitationMap/internal/model"
)

// Renderer writes reports as JSON, CSV and Markdown
type Renderer struct {
	includeFooter bool
}

func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the full report as indented JSON
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf, report); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

func (r *Renderer) WriteJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// RenderCSV writes the normalized table, one row per publication
func (r *Renderer) RenderCSV(report *model.Report, path string) error {
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf, report); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

var csvHeader = []string{
	"identifier", "doi", "pmid", "title", "year", "primary_field",
	"citation_count", "field_percentile", "percentile_field", "cohort_size", "cohort_source",
	"rcr", "source_percentile", "citation_z_score", "field_outlier",
	"independent", "self", "ambiguous", "independence_ratio",
	"patents", "clinical_trials", "guidelines", "translational_score", "breakthrough",
	"sources", "incomplete",
}

func (r *Renderer) WriteCSV(w io.Writer, report *model.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range report.Records {
		rec := &report.Records[i]
		row := []string{
			rec.Identifier, rec.DOI, rec.PMID, rec.Title, intPtr(rec.Year), rec.PrimaryField(),
			intPtr(rec.CitationCount), "", "", "", "",
			floatPtr(rec.RCR, 2), floatPtr(rec.SourcePercentile, 1), floatPtr(rec.CitationZScore, 2),
			strconv.FormatBool(rec.FieldOutlier),
			"", "", "", "",
			"", "", "", "", "",
			sourcesOf(rec.Audit), incompleteOf(rec.Audit),
		}
		if fp := rec.FieldPercentile; fp != nil {
			row[7] = strconv.FormatFloat(fp.Percentile, 'f', 1, 64)
			row[8] = fp.Field
			row[9] = strconv.Itoa(fp.CohortSize)
			row[10] = fp.CohortSource
		}
		if ind := rec.Independence; ind != nil {
			row[15] = strconv.Itoa(ind.Independent)
			row[16] = strconv.Itoa(ind.Self)
			row[17] = strconv.Itoa(ind.Ambiguous)
			row[18] = strconv.FormatFloat(ind.Ratio, 'f', 3, 64)
		}
		if up := rec.Uptake; up != nil {
			row[19] = strconv.Itoa(up.Counts[model.MentionPatent])
			row[20] = strconv.Itoa(up.Counts[model.MentionClinicalTrial])
			row[21] = strconv.Itoa(up.Counts[model.MentionGuideline])
			row[22] = strconv.FormatFloat(up.Score, 'f', 1, 64)
			row[23] = strconv.FormatBool(up.Breakthrough)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// RenderMarkdown writes a human-readable summary of the report
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	var buf bytes.Buffer
	r.WriteMarkdown(&buf, report)
	return writeFile(path, buf.Bytes())
}

func (r *Renderer) WriteMarkdown(w io.Writer, report *model.Report) {
	s := report.Summary

	fmt.Fprintf(w, "# CitationMap Report\n\n")
	fmt.Fprintf(w, "- **Run:** `%s`\n", report.RunID)
	if report.ORCID != "" {
		fmt.Fprintf(w, "- **ORCID:** [%s](https://orcid.org/%s)\n", report.ORCID, report.ORCID)
	}
	fmt.Fprintf(w, "- **Started:** %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "- **Duration:** %s\n\n", report.FinishedAt.Sub(report.StartedAt).Round(1e6))

	fmt.Fprintf(w, "## Summary\n\n")
	fmt.Fprintf(w, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(w, "| Publications | %d |\n", s.Publications)
	if s.FirstYear > 0 {
		fmt.Fprintf(w, "| Years | %d-%d |\n", s.FirstYear, s.LastYear)
	}
	fmt.Fprintf(w, "| Total citations | %s |\n", humanize.Comma(int64(s.TotalCitations)))
	fmt.Fprintf(w, "| h-index | %d |\n", s.HIndex)
	fmt.Fprintf(w, "| i10-index | %d |\n", s.I10Index)
	fmt.Fprintf(w, "| Independence ratio | %.2f |\n", s.IndependenceRatio)
	fmt.Fprintf(w, "| Top 10%% of field | %d |\n", s.TopTenPercent)
	fmt.Fprintf(w, "| Top 1%% of field | %d |\n", s.TopOnePercent)
	fmt.Fprintf(w, "| Translational score | %.1f |\n\n", s.TranslationalSum)

	if len(s.Signals) > 0 {
		fmt.Fprintf(w, "## Signals\n\n")
		for _, sig := range s.Signals {
			fmt.Fprintf(w, "- **%s** (%s): %s\n", sig.Type, sig.Severity, sig.Description)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "## Publications\n\n")
	fmt.Fprintf(w, "| Identifier | Year | Citations | Field percentile | Independence | Uptake |\n")
	fmt.Fprintf(w, "|---|---|---|---|---|---|\n")
	for i := range report.Records {
		rec := &report.Records[i]
		pct := "n/a"
		if fp := rec.FieldPercentile; fp != nil {
			pct = fmt.Sprintf("%.1f (%s, n=%d)", fp.Percentile, fp.Field, fp.CohortSize)
		}
		ind := "n/a"
		if rec.Independence != nil {
			ind = fmt.Sprintf("%.2f (%d/%d)", rec.Independence.Ratio, rec.Independence.Independent,
				rec.Independence.Independent+rec.Independence.Self)
		}
		up := "0"
		if rec.Uptake != nil {
			up = strconv.FormatFloat(rec.Uptake.Score, 'f', 1, 64)
			if rec.Uptake.Breakthrough {
				up += " (breakthrough)"
			}
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s |\n",
			escapeCell(rec.Identifier), orNA(intPtr(rec.Year)), orNA(intPtr(rec.CitationCount)), pct, ind, up)
	}
	fmt.Fprintln(w)

	if p := report.Patterns; p != nil && len(p.ByField) > 0 {
		fmt.Fprintf(w, "## Independence by Field\n\n")
		fmt.Fprintf(w, "| Field | Papers | Independent | Self | Ratio |\n|---|---|---|---|---|\n")
		fields := make([]string, 0, len(p.ByField))
		for f := range p.ByField {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fp := p.ByField[f]
			fmt.Fprintf(w, "| %s | %d | %d | %d | %.2f |\n", escapeCell(f), fp.Papers, fp.Independent, fp.Self, fp.IndependenceRate)
		}
		fmt.Fprintln(w)
	}

	if t := report.Trend; t != nil && len(t.ByYear) > 0 {
		fmt.Fprintf(w, "## Uptake Timeline\n\nTrend: **%s**\n\n", t.Trend)
		years := make([]int, 0, len(t.ByYear))
		for y := range t.ByYear {
			years = append(years, y)
		}
		sort.Ints(years)
		for _, y := range years {
			fmt.Fprintf(w, "- %d: %d\n", y, t.ByYear[y])
		}
		fmt.Fprintln(w)
	}

	if len(report.Incomplete) > 0 {
		fmt.Fprintf(w, "## Incomplete Data\n\n")
		for _, inc := range report.Incomplete {
			fmt.Fprintf(w, "- `%s` %s: %s\n", inc.Identifier, inc.Source, inc.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(report.Conflicts) > 0 {
		fmt.Fprintf(w, "## Source Conflicts\n\n")
		for _, c := range report.Conflicts {
			fmt.Fprintf(w, "- `%s` %s: kept %s=%q over %s=%q\n", c.Identifier, c.Field, c.Winner, c.WinnerValue, c.Loser, c.LoserValue)
		}
		fmt.Fprintln(w)
	}

	if len(report.Rejected) > 0 {
		fmt.Fprintf(w, "## Rejected Inputs\n\n")
		for _, in := range report.Rejected {
			fmt.Fprintf(w, "- `%s`\n", in)
		}
		fmt.Fprintln(w)
	}

	if r.includeFooter {
		fmt.Fprintf(w, "---\n\n_Generated by CitationMap. Figures describe citation evidence from public sources; they are not a judgement of research quality._\n")
	}
}

// RenderSummary prints a short run summary
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	s := report.Summary
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Run:            %s\n", report.RunID)
	if report.ORCID != "" {
		fmt.Fprintf(w, "  ORCID:          %s\n", report.ORCID)
	}
	fmt.Fprintf(w, "  Publications:   %d\n", s.Publications)
	fmt.Fprintf(w, "  Citations:      %s\n", humanize.Comma(int64(s.TotalCitations)))
	fmt.Fprintf(w, "  h-index:        %d\n", s.HIndex)
	fmt.Fprintf(w, "  Independence:   %.2f\n", s.IndependenceRatio)
	fmt.Fprintf(w, "  Translational:  %.1f\n", s.TranslationalSum)
	if len(report.Incomplete) > 0 {
		fmt.Fprintf(w, "  Incomplete:     %d source fetches\n", len(report.Incomplete))
	}
	if len(report.Conflicts) > 0 {
		fmt.Fprintf(w, "  Conflicts:      %d\n", len(report.Conflicts))
	}
	fmt.Fprintf(w, "\n")
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func llmMarkdownPath(mdPath string) string {
	return strings.TrimSuffix(mdPath, ".md") + ".llm.md"
}

func intPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatPtr(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// sourcesOf lists contributing sources, semicolon separated
func sourcesOf(a model.AuditTrail) string {
	names := make([]string, 0, len(a.Contributions))
	for _, c := range a.Contributions {
		names = append(names, string(c.Source))
	}
	return strings.Join(names, ";")
}

func incompleteOf(a model.AuditTrail) string {
	parts := make([]string, 0, len(a.Incomplete))
	for _, inc := range a.Incomplete {
		parts = append(parts, string(inc.Source)+":"+string(inc.Reason))
	}
	return strings.Join(parts, ";")
}
