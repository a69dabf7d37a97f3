package model

import (
	"errors"
	"fmt"
	"time"
)

// Ambiguity policies for citations that match only fuzzily
const (
	AmbiguousAsIndependent = "independent"
	AmbiguousAsSelf        = "self"
)

// Config holds all runtime configuration for a CitationMap run
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig    `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Run          RunConfig          `yaml:"run" mapstructure:"run"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Independence IndependenceConfig `yaml:"independence" mapstructure:"independence"`
	Normalize    NormalizeConfig    `yaml:"normalize" mapstructure:"normalize"`
	Uptake       UptakeConfig       `yaml:"uptake" mapstructure:"uptake"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
}

// HTTPConfig controls outbound requests to source APIs
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"` // Per request
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	InsecureTLS  bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	Mailto       string        `yaml:"mailto" mapstructure:"mailto"` // OpenAlex polite pool
}

// CacheConfig controls the shared source-response cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"` // Empty means ~/.citationmap/cache
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`               // Publications in flight
	SourceFetches int `yaml:"source_fetches" mapstructure:"source_fetches"` // Source fetches per publication
}

// RateLimitConfig sets the default per-host request rate
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// RunConfig holds run-level limits
type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SourcesConfig selects and configures source clients
type SourcesConfig struct {
	Enabled    []string         `yaml:"enabled" mapstructure:"enabled"`
	OpenAlex   OpenAlexConfig   `yaml:"openalex" mapstructure:"openalex"`
	ICite      ICiteConfig      `yaml:"icite" mapstructure:"icite"`
	Lens       LensConfig       `yaml:"lens" mapstructure:"lens"`
	Trials     TrialsConfig     `yaml:"trials" mapstructure:"trials"`
	Guidelines GuidelinesConfig `yaml:"guidelines" mapstructure:"guidelines"`
}

type OpenAlexConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	MaxCitingWorks int     `yaml:"max_citing_works" mapstructure:"max_citing_works"`
	MaxAuthorWorks int     `yaml:"max_author_works" mapstructure:"max_author_works"` // Cap on works resolved from one ORCID
	CitingPageSize int     `yaml:"citing_page_size" mapstructure:"citing_page_size"`
	MaxFields      int     `yaml:"max_fields" mapstructure:"max_fields"`
	MinFieldScore  float64 `yaml:"min_field_score" mapstructure:"min_field_score"`
}

type ICiteConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type LensConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"` // Usually from LENS_API_TOKEN
}

type TrialsConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	PageSize int    `yaml:"page_size" mapstructure:"page_size"`
}

type GuidelinesConfig struct {
	Pages []string `yaml:"pages" mapstructure:"pages"` // Guideline pages whose reference lists are scanned
}

// IndependenceConfig controls self-citation classification
type IndependenceConfig struct {
	AffiliationThreshold float64 `yaml:"affiliation_threshold" mapstructure:"affiliation_threshold"`
	AmbiguityFloor       float64 `yaml:"ambiguity_floor" mapstructure:"ambiguity_floor"`
	AmbiguousAs          string  `yaml:"ambiguous_as" mapstructure:"ambiguous_as"`
	HighIndependence     float64 `yaml:"high_independence" mapstructure:"high_independence"`
	HighSelfCitation     float64 `yaml:"high_self_citation" mapstructure:"high_self_citation"`
	MinCitations         int     `yaml:"min_citations" mapstructure:"min_citations"` // For the highly independent list
}

// NormalizeConfig controls field-normalized percentiles
type NormalizeConfig struct {
	Providers  []string `yaml:"providers" mapstructure:"providers"` // Tried in order: file, openalex, run
	CohortFile string   `yaml:"cohort_file" mapstructure:"cohort_file"`
	YearWindow int      `yaml:"year_window" mapstructure:"year_window"` // +/- years pooled into a cohort
	OutlierZ   float64  `yaml:"outlier_z" mapstructure:"outlier_z"`
}

// UptakeConfig controls the translational-impact score
type UptakeConfig struct {
	Weights               map[string]float64 `yaml:"weights" mapstructure:"weights"`
	BreakthroughThreshold float64            `yaml:"breakthrough_threshold" mapstructure:"breakthrough_threshold"`
}

// StoreConfig locates the audit database
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // Empty means ~/.citationmap/audit.db
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `yaml:"include_footer" mapstructure:"include_footer"`
	KeepCitations bool `yaml:"keep_citations" mapstructure:"keep_citations"` // Per-citation labels in JSON
}

// LLMConfig controls the optional narrative summary
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "", openai, ollama
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"-" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "CitationMap/0.1 (+https://github.com/Rodons/CitationMap)",
			MaxBodyBytes: 10_000_000,
			MaxRetries:   3,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     7 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Workers:       4,
			SourceFetches: 3,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             5,
			RespectRobots:     true,
		},
		Run: RunConfig{
			Timeout: 10 * time.Minute,
		},
		Sources: SourcesConfig{
			Enabled: []string{string(SourceOpenAlex), string(SourceICite), string(SourceTrials)},
			OpenAlex: OpenAlexConfig{
				BaseURL:        "https://api.openalex.org",
				MaxCitingWorks: 500,
				MaxAuthorWorks: 1000,
				CitingPageSize: 200,
				MaxFields:      3,
				MinFieldScore:  0.3,
			},
			ICite: ICiteConfig{
				BaseURL: "https://icite.od.nih.gov/api",
			},
			Lens: LensConfig{
				BaseURL: "https://api.lens.org",
			},
			Trials: TrialsConfig{
				BaseURL:  "https://clinicaltrials.gov/api/v2",
				PageSize: 100,
			},
		},
		Independence: IndependenceConfig{
			AffiliationThreshold: 0.75,
			AmbiguityFloor:       0.5,
			AmbiguousAs:          AmbiguousAsIndependent,
			HighIndependence:     0.8,
			HighSelfCitation:     0.5,
			MinCitations:         5,
		},
		Normalize: NormalizeConfig{
			Providers:  []string{"file", "openalex", "run"},
			YearWindow: 0,
			OutlierZ:   2.0,
		},
		Uptake: UptakeConfig{
			Weights: map[string]float64{
				string(MentionPatent):        3,
				string(MentionClinicalTrial): 2,
				string(MentionGuideline):     4,
			},
			BreakthroughThreshold: 10,
		},
		Output: OutputConfig{
			IncludeFooter: true,
		},
	}
}

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects configuration that would make a run meaningless.
// All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, a ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, a...)...))
	}

	if c.Concurrency.Workers < 1 {
		bad("concurrency.workers must be >= 1, got %d", c.Concurrency.Workers)
	}
	if c.Concurrency.SourceFetches < 1 {
		bad("concurrency.source_fetches must be >= 1, got %d", c.Concurrency.SourceFetches)
	}
	if c.RateLimiting.RequestsPerSecond <= 0 {
		bad("rate_limiting.requests_per_second must be > 0, got %v", c.RateLimiting.RequestsPerSecond)
	}
	if c.Run.Timeout <= 0 {
		bad("run.timeout must be > 0, got %v", c.Run.Timeout)
	}
	if c.HTTP.MaxRetries < 0 {
		bad("http.max_retries must be >= 0, got %d", c.HTTP.MaxRetries)
	}

	for _, name := range c.Sources.Enabled {
		if !isKnownSource(name) {
			bad("unknown source %q", name)
		}
	}

	ind := c.Independence
	if ind.AffiliationThreshold <= 0 || ind.AffiliationThreshold > 1 {
		bad("independence.affiliation_threshold must be in (0,1], got %v", ind.AffiliationThreshold)
	}
	if ind.AmbiguityFloor < 0 || ind.AmbiguityFloor > ind.AffiliationThreshold {
		bad("independence.ambiguity_floor must be in [0,affiliation_threshold], got %v", ind.AmbiguityFloor)
	}
	if ind.AmbiguousAs != AmbiguousAsIndependent && ind.AmbiguousAs != AmbiguousAsSelf {
		bad("independence.ambiguous_as must be %q or %q, got %q", AmbiguousAsIndependent, AmbiguousAsSelf, ind.AmbiguousAs)
	}
	if ind.HighIndependence < 0 || ind.HighIndependence > 1 {
		bad("independence.high_independence must be in [0,1], got %v", ind.HighIndependence)
	}
	if ind.HighSelfCitation < 0 || ind.HighSelfCitation > 1 {
		bad("independence.high_self_citation must be in [0,1], got %v", ind.HighSelfCitation)
	}

	for _, p := range c.Normalize.Providers {
		switch p {
		case "file", "openalex", "run":
		default:
			bad("unknown cohort provider %q", p)
		}
	}
	if c.Normalize.YearWindow < 0 {
		bad("normalize.year_window must be >= 0, got %d", c.Normalize.YearWindow)
	}
	if c.Normalize.OutlierZ <= 0 {
		bad("normalize.outlier_z must be > 0, got %v", c.Normalize.OutlierZ)
	}

	for _, t := range MentionTypes {
		w, ok := c.Uptake.Weights[string(t)]
		if !ok {
			bad("uptake.weights is missing %q", t)
			continue
		}
		if w < 0 {
			bad("uptake.weights.%s must be >= 0, got %v", t, w)
		}
	}
	for k := range c.Uptake.Weights {
		if !isMentionType(k) {
			bad("uptake.weights has unknown mention type %q", k)
		}
	}
	if c.Uptake.BreakthroughThreshold < 0 {
		bad("uptake.breakthrough_threshold must be >= 0, got %v", c.Uptake.BreakthroughThreshold)
	}

	switch c.LLM.Provider {
	case "", "openai", "ollama":
	default:
		bad("unknown llm provider %q", c.LLM.Provider)
	}

	return errors.Join(errs...)
}

// Weight returns the uptake weight for a mention type
func (u UptakeConfig) Weight(t MentionType) float64 {
	return u.Weights[string(t)]
}

// SourceEnabled reports whether a source is enabled
func (s SourcesConfig) SourceEnabled(name SourceName) bool {
	for _, n := range s.Enabled {
		if n == string(name) {
			return true
		}
	}
	return false
}

func isKnownSource(name string) bool {
	for _, s := range KnownSources {
		if string(s) == name {
			return true
		}
	}
	return false
}

func isMentionType(name string) bool {
	for _, t := range MentionTypes {
		if string(t) == name {
			return true
		}
	}
	return false
}
