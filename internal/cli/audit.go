package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/store"
)

var (
	auditJSON bool
	runsLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit <doi|pmid>",
	Short: "Show which sources supplied a publication in past runs",
	Long: `Audit reads the run database and lists, for every run that saw the
identifier, the source records that contributed, the conflicts resolved by
source priority and the sources that timed out or failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := model.NormalizeIdentifier(args[0])
		if !ok {
			return fmt.Errorf("%q is not a DOI or PMID", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		audits, err := s.AuditFor(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(audits)
		}
		if len(audits) == 0 {
			fmt.Fprintf(out, "No runs recorded for %s\n", id)
			return nil
		}
		for _, a := range audits {
			printAudit(out, a)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.Runs(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(out, "%s  %s  %d identifiers, %d records, %d incomplete, %d conflicts (%s)\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Identifiers, r.Records,
				r.Incomplete, r.Conflicts, humanize.Time(r.StartedAt))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print the audit trail as JSON")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list (0 for all)")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore() (*store.AuditStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Store.Path
	if path == "" {
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func printAudit(w io.Writer, a store.RunAudit) {
	fmt.Fprintf(w, "Run %s (%s)\n", a.RunID, humanize.Time(a.StartedAt))
	for _, c := range a.Audit.Contributions {
		fmt.Fprintf(w, "  + %-10s %s\n", c.Source, c.RecordID)
	}
	for _, c := range a.Audit.Conflicts {
		fmt.Fprintf(w, "  ! %-10s kept %s=%q over %s=%q\n", c.Field, c.Winner, c.WinnerValue, c.Loser, c.LoserValue)
	}
	for _, inc := range a.Audit.Incomplete {
		fmt.Fprintf(w, "  - %-10s %s", inc.Source, inc.Reason)
		if inc.Detail != "" {
			fmt.Fprintf(w, ": %s", inc.Detail)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}
