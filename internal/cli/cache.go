package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Rodons/CitationMap/internal/cache"
	"github.com/Rodons/CitationMap/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the source response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entries per source and size on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, dir, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Stats()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache:    %s\n", dir)
		fmt.Fprintf(out, "Entries:  %s (%d expired)\n", humanize.Comma(int64(stats.Entries)), stats.Expired)
		fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(stats.Bytes)))

		sources := make([]string, 0, len(stats.BySource))
		for s := range stats.BySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			fmt.Fprintf(out, "  %-12s %s\n", s, humanize.Comma(int64(stats.BySource[s])))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [source]",
	Short: "Clear the cache, or only the entries of one source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := openCache()
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			if err := c.Clear(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(out, "✓ Cache cleared")
			return nil
		}

		source := args[0]
		if !knownSource(source) {
			return fmt.Errorf("unknown source %q", source)
		}
		n, err := c.ClearSource(source)
		if err != nil {
			return fmt.Errorf("clear %s entries: %w", source, err)
		}
		fmt.Fprintf(out, "✓ Removed %d %s entries\n", n, source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache() (*cache.LayeredCache, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	dir := cfg.Cache.Dir
	if dir == "" {
		if dir, err = cache.DefaultDir(); err != nil {
			return nil, "", err
		}
	}
	c, err := cache.Open(dir, cfg.Cache.TTL)
	return c, dir, err
}

func knownSource(name string) bool {
	for _, s := range model.KnownSources {
		if string(s) == name {
			return true
		}
	}
	return false
}
