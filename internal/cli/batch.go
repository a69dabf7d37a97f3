package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rodons/CitationMap/internal/worker"
)

var batchOpts runFlags

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Aggregate citation evidence for identifiers listed in a file",
	Long: `Batch reads one DOI or PMID per line ("-" for stdin). Blank lines and
lines starting with # are skipped; anything after a comma or tab is ignored,
so the first column of an exported CSV can be fed directly.

Example:
  citationmap batch papers.txt
  citationmap batch papers.txt --workers 8 --csv table.csv --md summary.md
  cut -d, -f1 export.csv | citationmap batch -`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addRunFlags(batchCmd, &batchOpts)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	var (
		list worker.IdentifierList
		err  error
	)
	if file == "-" {
		list, err = worker.ReadIdentifiers(os.Stdin)
	} else {
		list, err = worker.ReadIdentifiersFromFile(file)
	}
	if err != nil {
		return fmt.Errorf("read identifiers: %w", err)
	}
	if len(list.Identifiers) == 0 && batchOpts.orcid == "" {
		return fmt.Errorf("no DOIs or PMIDs found in %s", file)
	}

	log.WithFields(log.Fields{
		"file":        file,
		"identifiers": len(list.Identifiers),
		"rejected":    len(list.Rejected),
	}).Info("loaded identifiers")

	// Rejected lines are passed on so the report lists them
	return execute(cmd, &batchOpts, append(list.Identifiers, list.Rejected...))
}
