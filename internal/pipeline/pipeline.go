// Package pipeline runs a CitationMap batch end to end: fetch, merge, annotate,
// summarize, persist and render.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Rodons/CitationMap/internal/cache"
	"github.com/Rodons/CitationMap/internal/independence"
	"github.com/Rodons/CitationMap/internal/llm"
	"github.com/Rodons/CitationMap/internal/merge"
	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/normalize"
	"github.com/Rodons/CitationMap/internal/score"
	"github.com/Rodons/CitationMap/internal/source"
	"github.com/Rodons/CitationMap/internal/store"
	"github.com/Rodons/CitationMap/internal/uptake"
	"github.com/Rodons/CitationMap/internal/util"
	"github.com/Rodons/CitationMap/internal/worker"
)

// minRunCohort is the smallest run-local cohort used for percentiles
const minRunCohort = 3

// Pipeline orchestrates a complete run
type Pipeline struct {
	config model.Config

	clients    []source.Client
	cache      *cache.LayeredCache // nil when caching is disabled or clients are injected
	cohorts    []normalize.Provider
	fileCohort *normalize.FileProvider
	openalex   *source.OpenAlex
	resolver   Resolver

	classifier *independence.Classifier
	aggregator *uptake.Aggregator
	scorer     *score.Scorer
	store      *store.AuditStore // Optional
	summarizer *llm.Summarizer   // Optional LLM summarizer (nil if disabled)

	now func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithClients replaces the configured source clients
func WithClients(clients ...source.Client) Option {
	return func(p *Pipeline) {
		p.clients = clients
	}
}

// WithStore persists every finished run to s
func WithStore(s *store.AuditStore) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithCohortProviders adds cohort providers tried before the configured ones
func WithCohortProviders(providers ...normalize.Provider) Option {
	return func(p *Pipeline) {
		p.cohorts = append(p.cohorts, providers...)
	}
}

// Resolver expands an author's ORCID iD into publication identifiers
type Resolver interface {
	WorksByORCID(ctx context.Context, orcid string) ([]string, error)
}

// WithResolver replaces the OpenAlex ORCID resolver
func WithResolver(r Resolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// New validates cfg and builds a pipeline with its source clients, shared cache and limiter
func New(cfg model.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:     cfg,
		classifier: independence.NewClassifier(cfg.Independence),
		aggregator: uptake.NewAggregator(cfg.Uptake),
		scorer:     score.NewScorer(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.clients == nil {
		if err := p.buildClients(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	if cfg.Normalize.CohortFile != "" && hasProvider(cfg.Normalize.Providers, "file") {
		fp, err := normalize.LoadFile(cfg.Normalize.CohortFile)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.fileCohort = fp
	}

	// Create LLM summarizer if configured
	if cfg.LLM.Provider != "" {
		s, err := llm.NewSummarizer(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			log.WithError(err).Warn("failed to initialize LLM provider, continuing without summary")
		} else {
			p.summarizer = s
		}
	}

	return p, nil
}

func (p *Pipeline) buildClients() error {
	cfg := p.config

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.Cache.Dir, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		p.cache = c
	}

	client := util.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.InsecureTLS, util.NewProxyFunc("", "", ""))
	opts := []source.FetcherOption{
		source.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)),
	}
	if p.cache != nil {
		opts = append(opts, source.WithCache(p.cache, cfg.Cache.TTL))
	}
	fetcher := source.NewFetcher(client, cfg.HTTP, opts...)

	clients, err := source.NewClients(cfg, fetcher)
	if err != nil {
		return err
	}
	p.clients = clients

	oa := source.NewOpenAlex(fetcher, cfg.Sources.OpenAlex, cfg.HTTP.Mailto)
	if p.resolver == nil {
		p.resolver = oa
	}
	if hasProvider(cfg.Normalize.Providers, "openalex") {
		p.openalex = oa
	}
	return nil
}

// Close flushes and closes the shared cache
func (p *Pipeline) Close() error {
	if p.cache == nil {
		return nil
	}
	if err := p.cache.Flush(); err != nil {
		log.WithError(err).Warn("cache flush failed")
	}
	return p.cache.Close()
}

// fetchResult is everything the sources said about one identifier
type fetchResult struct {
	identifier string
	raws       []model.RawRecord
	incomplete []model.IncompleteSource
}

// Run processes a batch of raw identifiers. Fetch failures and timeouts are
// recorded on the report; only cancellation before any work starts is an error.
func (p *Pipeline) Run(ctx context.Context, rawIdentifiers []string) (*model.Report, error) {
	return p.run(ctx, rawIdentifiers, "")
}

// RunORCID resolves the works of an author and runs them together with any
// extra identifiers. A failed or empty resolution is an error.
func (p *Pipeline) RunORCID(ctx context.Context, orcid string, extra []string) (*model.Report, error) {
	id, ok := model.NormalizeORCID(orcid)
	if !ok {
		return nil, fmt.Errorf("%q is not a valid ORCID iD", orcid)
	}
	if p.resolver == nil {
		return nil, errors.New("no ORCID resolver configured")
	}

	works, err := p.resolver.WorksByORCID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(works) == 0 && len(extra) == 0 {
		return nil, fmt.Errorf("no works with a DOI or PMID found for ORCID %s", id)
	}
	log.WithFields(log.Fields{"orcid": id, "works": len(works)}).Info("resolved ORCID")

	return p.run(ctx, append(works, extra...), id)
}

func (p *Pipeline) run(ctx context.Context, rawIdentifiers []string, orcid string) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list := worker.ParseIdentifiers(rawIdentifiers)
	report := &model.Report{
		RunID:       uuid.NewString(),
		StartedAt:   p.now(),
		Identifiers: list.Identifiers,
		ORCID:       orcid,
		Rejected:    list.Rejected,
	}
	logger := log.WithField("run", report.RunID)
	for _, r := range list.Rejected {
		logger.WithField("input", r).Warn("not a DOI or PMID, skipping")
	}
	logger.WithFields(log.Fields{"identifiers": len(list.Identifiers), "sources": len(p.clients)}).Info("run started")

	// 1. Fetch with bounded parallelism under the run timeout.
	// Cohort lookups in step 3 share the same deadline.
	runCtx, cancel := context.WithTimeout(ctx, p.config.Run.Timeout)
	defer cancel()
	results := worker.Map(runCtx, p.config.Concurrency.Workers, list.Identifiers, p.fetchAll)

	raws := make(map[string][]model.RawRecord, len(results))
	incomplete := make(map[string][]model.IncompleteSource)
	for _, r := range results {
		raws[r.identifier] = r.raws
		if len(r.incomplete) > 0 {
			incomplete[r.identifier] = r.incomplete
			report.Incomplete = append(report.Incomplete, r.incomplete...)
		}
	}

	// 2. Merge
	records, conflicts := merge.MergeAll(raws)
	for i := range records {
		records[i].Audit.Incomplete = incomplete[records[i].Identifier]
	}
	report.Conflicts = conflicts

	// 3. Annotate
	p.classifier.ClassifyAll(records)
	report.Patterns = independence.Patterns(records, p.config.Independence)

	normalizer := normalize.New(p.config.Normalize, p.cohortProviders(records)...)
	if cut := normalizer.AnnotateAll(runCtx, records, p.config.Concurrency.Workers); len(cut) > 0 {
		logger.WithField("records", len(cut)).Warn("cohort lookups cut off by run timeout")
		byID := make(map[string]int, len(records))
		for i := range records {
			byID[records[i].Identifier] = i
		}
		for _, inc := range cut {
			if i, ok := byID[inc.Identifier]; ok {
				records[i].Audit.Incomplete = append(records[i].Audit.Incomplete, inc)
			}
		}
		report.Incomplete = append(report.Incomplete, cut...)
	}
	cancel()
	if outliers := normalize.FlagOutliers(records, p.config.Normalize.OutlierZ); len(outliers) > 0 {
		logger.WithField("fields", len(outliers)).Debug("field outliers flagged")
	}

	p.aggregator.SummarizeAll(records)
	report.Trend = p.aggregator.Trend(records)

	// 4. Summarize
	report.Summary = p.scorer.Calculate(records, report.Incomplete, conflicts)

	if !p.config.Output.KeepCitations {
		for i := range records {
			if records[i].Independence != nil {
				records[i].Independence.Citations = nil
			}
		}
	}
	report.Records = records
	report.FinishedAt = p.now()

	// 5. Persist the audit trail
	if p.store != nil {
		if err := p.store.SaveRun(ctx, report); err != nil {
			logger.WithError(err).Error("failed to persist audit trail")
		}
	}

	// 6. Generate LLM summary if enabled (AFTER scoring, never affects numbers)
	if p.summarizer != nil && p.summarizer.IsEnabled() {
		summary, err := p.summarizer.GenerateSummary(ctx, *report)
		if err != nil {
			logger.WithError(err).Warn("LLM summary generation failed")
		} else {
			report.LLM = summary
		}
	}

	logger.WithFields(log.Fields{
		"records":    len(records),
		"incomplete": len(report.Incomplete),
		"conflicts":  len(conflicts),
		"elapsed":    report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	}).Info("run finished")

	return report, nil
}

// fetchAll asks every source about one identifier, at most SourceFetches at a time.
// It returns only after every fetch has returned or been cancelled.
func (p *Pipeline) fetchAll(ctx context.Context, identifier string) fetchResult {
	records := make([]*model.RawRecord, len(p.clients))
	failures := make([]*model.IncompleteSource, len(p.clients))

	var g errgroup.Group
	g.SetLimit(p.config.Concurrency.SourceFetches)

	for i, client := range p.clients {
		i, client := i, client
		g.Go(func() error {
			logger := log.WithFields(log.Fields{"source": client.Name(), "id": identifier})

			rec, err := client.Fetch(ctx, identifier)
			if rec != nil && (err == nil || source.IsPartial(err)) {
				records[i] = rec
			}
			switch {
			case err == nil:
			case source.IsNotFound(err) && records[i] == nil:
				logger.Debug("not found")
			default:
				failures[i] = incompleteFetch(ctx, client.Name(), identifier, err)
				if failures[i].Reason == model.ReasonFetchTimeout {
					logger.WithError(err).Warn("fetch timed out")
				} else {
					logger.WithError(err).Warn("fetch failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	result := fetchResult{identifier: identifier}
	for i := range p.clients {
		if records[i] != nil {
			result.raws = append(result.raws, *records[i])
		}
		if failures[i] != nil {
			result.incomplete = append(result.incomplete, *failures[i])
		}
	}
	return result
}

// incompleteFetch describes a failed or partial fetch. Timeouts are wrapped in
// a model.FetchTimeout so the detail names the source and identifier.
func incompleteFetch(ctx context.Context, name model.SourceName, identifier string, err error) *model.IncompleteSource {
	if isTimeout(ctx, err) && !model.IsFetchTimeout(err) {
		err = &model.FetchTimeout{Source: name, Identifier: identifier, Err: err}
	}
	reason := model.ReasonFetchError
	if model.IsFetchTimeout(err) {
		reason = model.ReasonFetchTimeout
	}
	return &model.IncompleteSource{Identifier: identifier, Source: name, Reason: reason, Detail: err.Error()}
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// cohortProviders returns injected providers, then the configured ones in order
func (p *Pipeline) cohortProviders(records []model.PublicationRecord) []normalize.Provider {
	providers := append([]normalize.Provider(nil), p.cohorts...)
	for _, name := range p.config.Normalize.Providers {
		switch name {
		case "file":
			if p.fileCohort != nil {
				providers = append(providers, p.fileCohort)
			}
		case "openalex":
			if p.openalex != nil {
				providers = append(providers, normalize.NewOpenAlexProvider(p.openalex))
			}
		case "run":
			providers = append(providers, normalize.NewRunProvider(records, minRunCohort))
		}
	}
	return providers
}

func hasProvider(providers []string, name string) bool {
	for _, p := range providers {
		if p == name {
			return true
		}
	}
	return false
}

// Outputs names the files a report is rendered to. Empty paths are skipped.
type Outputs struct {
	JSON     string
	CSV      string
	Markdown string
}

// RenderReport renders the report to the specified outputs
func RenderReport(report *model.Report, out Outputs, includeFooter bool) ([]string, error) {
	renderer := NewRenderer(includeFooter)
	var written []string

	// Render JSON
	if out.JSON != "" {
		if err := renderer.RenderJSON(report, out.JSON); err != nil {
			return written, fmt.Errorf("render JSON: %w", err)
		}
		written = append(written, out.JSON)
	}

	// Render CSV
	if out.CSV != "" {
		if err := renderer.RenderCSV(report, out.CSV); err != nil {
			return written, fmt.Errorf("render CSV: %w", err)
		}
		written = append(written, out.CSV)
	}

	// Render Markdown
	if out.Markdown != "" {
		if err := renderer.RenderMarkdown(report, out.Markdown); err != nil {
			return written, fmt.Errorf("render markdown: %w", err)
		}
		written = append(written, out.Markdown)

		// LLM summary goes to a separate file so it is never mistaken for computed output
		if md := llm.RenderSeparateMarkdown(report.LLM); md != "" {
			llmPath := llmMarkdownPath(out.Markdown)
			if err := writeFile(llmPath, []byte(md)); err != nil {
				log.WithError(err).Warn("failed to write LLM summary")
			} else {
				written = append(written, llmPath)
			}
		}
	}

	return written, nil
}
