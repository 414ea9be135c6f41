package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/factorrun/internal/attribution"
)

// AppConfig is the complete factorrun configuration
type AppConfig struct {
	Factors                []string                     `yaml:"factors"`
	Interpretations        map[string]string            `yaml:"interpretations"`
	FallbackInterpretation string                       `yaml:"fallback_interpretation"`
	TopK                   int                          `yaml:"top_k"`
	Comparator             attribution.ComparatorConfig `yaml:"comparator"`
	Engine                 EngineConfig                 `yaml:"engine"`
	Output                 OutputConfig                 `yaml:"output"`
	Database               DatabaseConfig               `yaml:"database"`
	Cache                  CacheConfig                  `yaml:"cache"`
	HTTP                   HTTPConfig                   `yaml:"http"`
}

// EngineConfig holds pipeline safeguards
type EngineConfig struct {
	MaxDuration             time.Duration `yaml:"max_duration"`
	RankTolerance           float64       `yaml:"rank_tolerance"`
	ReconstructionTolerance float64       `yaml:"reconstruction_tolerance"`
}

// OutputConfig names the artifact directory and files
type OutputConfig struct {
	Dir           string `yaml:"dir"`
	Coefficients  string `yaml:"coefficients"`
	Contributions string `yaml:"contributions"`
	Summary       string `yaml:"summary"`
}

// DatabaseConfig configures the optional PostgreSQL run store
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// CacheConfig configures the optional Redis result cache
type CacheConfig struct {
	Redis struct {
		Addr   string        `yaml:"addr"`
		DB     int           `yaml:"db"`
		TTL    time.Duration `yaml:"ttl"`
		Prefix string        `yaml:"prefix"`
	} `yaml:"redis"`
}

// HTTPConfig configures the serve command
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	RateLimit    struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// DefaultFactors is the factor set of the reference dataset
var DefaultFactors = []string{"CPI", "Interest_Rate", "Oil", "FX", "VIX"}

// DefaultInterpretations returns the built-in factor sentences
func DefaultInterpretations() map[string]string {
	return map[string]string{
		"CPI":           "Inflation changes can affect purchasing power and stock valuations",
		"Interest_Rate": "Rate changes affect borrowing costs and company valuations",
		"Oil":           "Changes in oil prices affect energy and industrial sectors",
		"FX":            "Currency fluctuations influence export/import-heavy companies",
		"VIX":           "Higher market volatility negatively impacts returns",
	}
}

// Default returns the configuration used when no file is given
func Default() *AppConfig {
	cfg := &AppConfig{
		Factors:                append([]string(nil), DefaultFactors...),
		Interpretations:        DefaultInterpretations(),
		FallbackInterpretation: attribution.DefaultFallbackInterpretation,
		TopK:                   3,
		Comparator:             attribution.DefaultComparatorConfig(),
		Engine: EngineConfig{
			MaxDuration:             2 * time.Minute,
			RankTolerance:           attribution.DefaultFitterConfig().RankTolerance,
			ReconstructionTolerance: 1e-9,
		},
		Output: OutputConfig{
			Dir:           "outputs",
			Coefficients:  "regression_coefficients.csv",
			Contributions: "factor_contributions.json",
			Summary:       "summary_report.txt",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8090,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxBodyBytes: 32 << 20,
		},
	}
	cfg.Cache.Redis.TTL = time.Hour
	cfg.Cache.Redis.Prefix = "factorrun:attribution:"
	cfg.HTTP.RateLimit.RPS = 2
	cfg.HTTP.RateLimit.Burst = 5
	return cfg
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if dsn := os.Getenv("FACTORRUN_PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Enabled = true
	}

	if addr := os.Getenv("FACTORRUN_REDIS_ADDR"); addr != "" {
		cfg.Cache.Redis.Addr = addr
	}

	if dir := os.Getenv("FACTORRUN_OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}

	if port := os.Getenv("FACTORRUN_HTTP_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = val
		}
	}
}

// Validate returns every problem found; an empty slice means the config is usable
func (c *AppConfig) Validate() []string {
	var problems []string

	seen := make(map[string]bool, len(c.Factors))
	for _, f := range c.Factors {
		switch {
		case f == "":
			problems = append(problems, "factors: empty factor name")
		case seen[f]:
			problems = append(problems, fmt.Sprintf("factors: duplicate factor %q", f))
		}
		seen[f] = true
	}

	if c.TopK < 1 {
		problems = append(problems, "top_k must be at least 1")
	}

	cmp := c.Comparator
	if cmp.SplitRatio <= 0 || cmp.SplitRatio >= 1 {
		problems = append(problems, "comparator.split_ratio must be in (0, 1)")
	}
	if cmp.RidgeAlpha < 0 {
		problems = append(problems, "comparator.ridge_alpha must be non-negative")
	}
	if cmp.LassoAlpha < 0 {
		problems = append(problems, "comparator.lasso_alpha must be non-negative")
	}
	if cmp.MaxIter < 1 {
		problems = append(problems, "comparator.max_iter must be at least 1")
	}
	if cmp.Tolerance <= 0 {
		problems = append(problems, "comparator.tolerance must be positive")
	}

	if c.Engine.MaxDuration < 0 {
		problems = append(problems, "engine.max_duration must not be negative")
	}

	if c.Output.Dir == "" {
		problems = append(problems, "output.dir is required")
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required when database is enabled")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.RateLimit.RPS <= 0 || c.HTTP.RateLimit.Burst < 1 {
		problems = append(problems, "http.rate_limit needs positive rps and burst")
	}

	return problems
}

// EngineOptions maps the config onto attribution engine options
func (c *AppConfig) EngineOptions() attribution.Options {
	opts := attribution.DefaultOptions()
	opts.Factors = append([]string(nil), c.Factors...)
	opts.MaxDuration = c.Engine.MaxDuration
	if c.Engine.RankTolerance > 0 {
		opts.Fitter.RankTolerance = c.Engine.RankTolerance
	}
	if c.Engine.ReconstructionTolerance > 0 {
		opts.ReconstructionTolerance = c.Engine.ReconstructionTolerance
	}
	opts.Comparator = c.Comparator
	opts.Summarizer = attribution.SummarizerConfig{
		TopK:            c.TopK,
		Interpretations: c.Interpretations,
		Fallback:        c.FallbackInterpretation,
	}
	return opts
}
