package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/pipeline"
)

var (
	statsOpts runFlags
	statsTop  int
)

var statsCmd = &cobra.Command{
	Use:   "stats <orcid>",
	Short: "Print portfolio statistics for an author's works",
	Long: `Stats resolves every work OpenAlex lists for an ORCID iD, runs the full
pipeline over them and prints the summary with the most cited works.
No report files are written and the run is not recorded.

Example:
  citationmap stats 0000-0002-1825-0097
  citationmap stats https://orcid.org/0000-0002-1825-0097 --sources openalex --top 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orcid, ok := model.NormalizeORCID(args[0])
		if !ok {
			return fmt.Errorf("%q is not a valid ORCID iD", args[0])
		}
		statsOpts.orcid = orcid
		statsOpts.noStore = true

		report, cfg, err := runPipeline(cmd, &statsOpts, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		pipeline.NewRenderer(cfg.Output.IncludeFooter).RenderSummary(out, report)
		printTopWorks(out, report, statsTop)
		return nil
	},
}

func init() {
	f := statsCmd.Flags()
	f.IntVar(&statsOpts.workers, "workers", 4, "publications processed concurrently")
	f.DurationVar(&statsOpts.timeout, "timeout", 10*time.Minute, "run timeout; slower sources are recorded as incomplete")
	f.StringSliceVar(&statsOpts.sources, "sources", nil, "sources to query (openalex, icite, lens, trials, guidelines)")
	f.BoolVar(&statsOpts.noCache, "no-cache", false, "disable cache (force fresh fetch)")
	f.StringVar(&statsOpts.cohortFile, "cohort-file", "", "YAML/JSON file of reference cohorts")
	f.IntVar(&statsTop, "top", 5, "most cited works to list (0 for none)")

	rootCmd.AddCommand(statsCmd)
}

// printTopWorks lists the n most cited records
func printTopWorks(w io.Writer, report *model.Report, n int) {
	if n <= 0 || len(report.Records) == 0 {
		return
	}

	records := make([]model.PublicationRecord, len(report.Records))
	copy(records, report.Records)
	count := func(r model.PublicationRecord) int {
		if r.CitationCount == nil {
			return -1
		}
		return *r.CitationCount
	}
	sort.SliceStable(records, func(i, j int) bool { return count(records[i]) > count(records[j]) })
	if len(records) > n {
		records = records[:n]
	}

	fmt.Fprintf(w, "  Most cited:\n")
	for _, r := range records {
		title := r.Identifier
		if r.Title != "" {
			title = r.Title
		}
		citations := "n/a"
		if r.CitationCount != nil {
			citations = humanize.Comma(int64(*r.CitationCount))
		}
		year := "    "
		if r.Year != nil {
			year = fmt.Sprintf("%d", *r.Year)
		}
		fmt.Fprintf(w, "    %8s  %s  %s\n", citations, year, title)
	}
	fmt.Fprintf(w, "\n")
}
