package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rodons/CitationMap/internal/logging"
	"github.com/Rodons/CitationMap/internal/model"
)

// Version is set at build time with -ldflags "-X github.com/Rodons/CitationMap/internal/cli.Version=..."
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
	logJSON bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "citationmap",
	Short: "CitationMap - citation evidence aggregation for publication lists",
	Long: `CitationMap collects citation evidence for a list of DOIs or PMIDs.

It merges records from OpenAlex, NIH iCite, Lens.org, ClinicalTrials.gov and
guideline pages into one table with field-normalized percentiles,
self-citation analysis and translational uptake, and keeps an audit trail of
which source supplied each value.

CitationMap reports evidence. It does not rank research quality.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(os.Stderr, verbose, logJSON)
		if f := viper.ConfigFileUsed(); f != "" {
			log.WithField("file", f).Debug("using config file")
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "citationmap %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.citationmap/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON even on a terminal")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// envBindings are the configuration keys that can be set from the environment.
// Extra names are read without the CITATIONMAP_ prefix.
var envBindings = map[string][]string{
	"http.timeout":               nil,
	"http.mailto":                {"OPENALEX_MAILTO"},
	"cache.enabled":              nil,
	"cache.dir":                  nil,
	"cache.ttl":                  nil,
	"concurrency.workers":        nil,
	"concurrency.source_fetches": nil,
	"run.timeout":                nil,
	"sources.enabled":            nil,
	"sources.lens.token":         {"LENS_API_TOKEN"},
	"independence.ambiguous_as":  nil,
	"normalize.providers":        nil,
	"normalize.cohort_file":      nil,
	"store.path":                 nil,
	"llm.provider":               nil,
	"llm.model":                  nil,
	"llm.base_url":               {"OLLAMA_BASE_URL"},
	"llm.api_key":                {"OPENAI_API_KEY"},
}

// initConfig reads in .env, the config file and ENV variables
func initConfig() {
	// API keys usually live in .env; a missing file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match CITATIONMAP_*
	viper.SetEnvPrefix("CITATIONMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, extra := range envBindings {
		prefixed := "CITATIONMAP_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = viper.BindEnv(append([]string{key, prefixed}, extra...)...)
	}

	// A missing config file means defaults
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".citationmap"), nil
}

// loadConfig layers the config file and environment over the defaults
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}
