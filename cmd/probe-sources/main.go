// Probe program that queries every source for a few well-known publications
// and prints what each one returned. Useful when a provider changes its API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/source"
	"github.com/Rodons/CitationMap/internal/util"
	"github.com/Rodons/CitationMap/internal/worker"
)

func main() {
	fmt.Println("=== CitationMap Source Probe ===")
	fmt.Println()

	identifiers := os.Args[1:]
	if len(identifiers) == 0 {
		identifiers = []string{
			"10.1038/nature12373",  // Highly cited, many patents
			"10.1056/NEJMoa2034577", // Trial publication
			"pmid:23456789",
		}
	}

	cfg := model.DefaultConfig()
	cfg.Sources.Enabled = nil
	for _, s := range model.KnownSources {
		cfg.Sources.Enabled = append(cfg.Sources.Enabled, string(s))
	}
	cfg.Sources.Lens.Token = os.Getenv("LENS_API_TOKEN")
	cfg.HTTP.Mailto = os.Getenv("OPENALEX_MAILTO")

	client := util.NewHTTPClient(cfg.HTTP.Timeout, false, util.NewProxyFunc("", "", ""))
	fetcher := source.NewFetcher(client, cfg.HTTP,
		source.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)))

	clients, err := source.NewClients(cfg, fetcher)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build clients: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, raw := range identifiers {
		id, ok := model.NormalizeIdentifier(raw)
		if !ok {
			fmt.Printf("Skipping %q: not a DOI or PMID\n\n", raw)
			continue
		}
		fmt.Printf("Probing: %s\n", id)
		fmt.Println(strings.Repeat("-", 60))

		for _, c := range clients {
			start := time.Now()
			rec, err := c.Fetch(ctx, id)
			elapsed := time.Since(start).Round(time.Millisecond)

			switch {
			case errors.Is(err, source.ErrNotFound):
				fmt.Printf("  %-10s not found (%s)\n", c.Name(), elapsed)
			case err != nil:
				fmt.Printf("  %-10s ERROR %v (%s)\n", c.Name(), err, elapsed)
			default:
				printRecord(c.Name(), rec, elapsed)
			}
		}
		fmt.Println()
	}

	fmt.Println("=== Probe Complete ===")
	fmt.Println("\nLens is skipped unless LENS_API_TOKEN is set.")
}

func printRecord(name model.SourceName, rec *model.RawRecord, elapsed time.Duration) {
	fmt.Printf("  %-10s ok %s (%s)\n", name, rec.RecordID, elapsed)
	if rec.Title != nil {
		fmt.Printf("             title: %s\n", *rec.Title)
	}
	if rec.Year != nil {
		fmt.Printf("             year: %d\n", *rec.Year)
	}
	if rec.CitationCount != nil {
		fmt.Printf("             citations: %d (%d citing works listed)\n", *rec.CitationCount, len(rec.CitingWorks))
	}
	if rec.RCR != nil {
		fmt.Printf("             rcr: %.2f\n", *rec.RCR)
	}
	if len(rec.Mentions) > 0 {
		counts := make(map[model.MentionType]int)
		for _, m := range rec.Mentions {
			counts[m.Type]++
		}
		for t, n := range counts {
			fmt.Printf("             %s mentions: %d\n", t, n)
		}
	}
}
