package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/pipeline"
	"github.com/Rodons/CitationMap/internal/store"
)

// runFlags are shared by run and batch
type runFlags struct {
	outJSON       string
	outCSV        string
	outMD         string
	workers       int
	timeout       time.Duration
	sources       []string
	noCache       bool
	noStore       bool
	noFooter      bool
	keepCitations bool
	ambiguousAs   string
	cohortFile    string
	llmProvider   string
	llmModel      string
	orcid         string
}

var runOpts runFlags

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [doi|pmid]...",
	Short: "Aggregate citation evidence for identifiers given on the command line",
	Long: `Run fetches every enabled source for each identifier and writes:
- a JSON report with merged records, derived annotations and audit trail
- an optional CSV table, one row per publication
- an optional Markdown summary

Example:
  citationmap run 10.1038/nature12373 pmid:23456789
  citationmap run 10.1038/nature12373 --csv table.csv --md summary.md
  citationmap run 10.1038/nature12373 --sources openalex,icite --ambiguous-as self
  citationmap run --orcid 0000-0002-1825-0097 --md summary.md`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && runOpts.orcid == "" {
			return fmt.Errorf("requires at least 1 identifier or --orcid")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd, &runOpts, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd, &runOpts)
}

func addRunFlags(cmd *cobra.Command, o *runFlags) {
	// Output flags
	cmd.Flags().StringVar(&o.outJSON, "json", "citationmap.json", "output JSON path (empty to skip)")
	cmd.Flags().StringVar(&o.outCSV, "csv", "", "output CSV path (optional)")
	cmd.Flags().StringVar(&o.outMD, "md", "", "output Markdown path (optional)")
	cmd.Flags().BoolVar(&o.noFooter, "no-footer", false, "disable footer in Markdown reports")
	cmd.Flags().BoolVar(&o.keepCitations, "keep-citations", false, "keep per-citation labels in the JSON report")

	// Run flags
	cmd.Flags().IntVar(&o.workers, "workers", 4, "publications processed concurrently")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Minute, "run timeout; slower sources are recorded as incomplete")
	cmd.Flags().StringSliceVar(&o.sources, "sources", nil, "sources to query (openalex, icite, lens, trials, guidelines)")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "disable cache (force fresh fetch)")
	cmd.Flags().BoolVar(&o.noStore, "no-store", false, "do not record the run in the audit database")
	cmd.Flags().StringVar(&o.ambiguousAs, "ambiguous-as", model.AmbiguousAsIndependent, "label for ambiguous citations (independent, self)")
	cmd.Flags().StringVar(&o.cohortFile, "cohort-file", "", "YAML/JSON file of reference cohorts")
	cmd.Flags().StringVar(&o.orcid, "orcid", "", "also run every work OpenAlex lists for this ORCID iD")

	// LLM flags
	cmd.Flags().StringVar(&o.llmProvider, "llm", "", "generate an LLM narrative (openai, ollama)")
	cmd.Flags().StringVar(&o.llmModel, "llm-model", "", "LLM model name")
}

// apply overrides cfg with flags the user actually set
func (o *runFlags) apply(cmd *cobra.Command, cfg *model.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Concurrency.Workers = o.workers
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = o.timeout
	}
	if flags.Changed("sources") {
		cfg.Sources.Enabled = o.sources
	}
	if o.noCache {
		cfg.Cache.Enabled = false
	}
	if o.noFooter {
		cfg.Output.IncludeFooter = false
	}
	if o.keepCitations {
		cfg.Output.KeepCitations = true
	}
	if flags.Changed("ambiguous-as") {
		cfg.Independence.AmbiguousAs = o.ambiguousAs
	}
	if o.cohortFile != "" {
		cfg.Normalize.CohortFile = o.cohortFile
	}
	if o.llmProvider != "" {
		cfg.LLM.Provider = o.llmProvider
	}
	if o.llmModel != "" {
		cfg.LLM.Model = o.llmModel
	}
	cfg.Output.Verbose = verbose
}

// execute runs the pipeline over raw identifiers and renders the outputs
func execute(cmd *cobra.Command, o *runFlags, identifiers []string) error {
	report, cfg, err := runPipeline(cmd, o, identifiers)
	if err != nil {
		return err
	}

	written, err := pipeline.RenderReport(report, pipeline.Outputs{
		JSON:     o.outJSON,
		CSV:      o.outCSV,
		Markdown: o.outMD,
	}, cfg.Output.IncludeFooter)
	for _, path := range written {
		log.WithField("path", path).Info("wrote output")
	}
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	pipeline.NewRenderer(cfg.Output.IncludeFooter).RenderSummary(cmd.ErrOrStderr(), report)
	return nil
}

// runPipeline loads config, applies flags and runs identifiers, plus the
// works of o.orcid when set
func runPipeline(cmd *cobra.Command, o *runFlags, identifiers []string) (*model.Report, model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	o.apply(cmd, &cfg)

	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		return nil, cfg, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	var opts []pipeline.Option
	if !o.noStore {
		path := cfg.Store.Path
		if path == "" {
			if path, err = store.DefaultPath(); err != nil {
				return nil, cfg, err
			}
		}
		s, err := store.Open(path)
		if err != nil {
			return nil, cfg, fmt.Errorf("open audit store: %w", err)
		}
		defer s.Close()
		opts = append(opts, pipeline.WithStore(s))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return nil, cfg, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("closing cache failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var report *model.Report
	if o.orcid != "" {
		report, err = p.RunORCID(ctx, o.orcid, identifiers)
	} else {
		report, err = p.Run(ctx, identifiers)
	}
	if err != nil {
		return nil, cfg, fmt.Errorf("run failed: %w", err)
	}
	return report, cfg, nil
}
