package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Region   RegionConfig   `yaml:"region" mapstructure:"region"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Scorer   ScorerConfig   `yaml:"scorer" mapstructure:"scorer"`
	Merge    MergeConfig    `yaml:"merge" mapstructure:"merge"`
	Verify   VerifyConfig   `yaml:"verify" mapstructure:"verify"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string     `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional Postgres connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegionConfig bounds the deployment's geographic region. When Polygon is
// set it takes precedence over the rectangle.
type RegionConfig struct {
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLon float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLon float64 `yaml:"max_lon" mapstructure:"max_lon"`

	// Polygon is a closed ring of lon,lat pairs, flat-packed.
	Polygon []float64 `yaml:"polygon" mapstructure:"polygon"`
}

// EnrichConfig configures the upstream geospatial client.
type EnrichConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts  int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	CacheTTLMins   int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	GridDecimals   int     `yaml:"grid_decimals" mapstructure:"grid_decimals"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	HealthWindow   int     `yaml:"health_window" mapstructure:"health_window"`
	FallbackRadius float64 `yaml:"fallback_radius_m" mapstructure:"fallback_radius_m"`
}

// ScorerConfig holds the confidence formula weights. The three weights
// must sum to 1.
type ScorerConfig struct {
	PriorWeight        float64 `yaml:"prior_weight" mapstructure:"prior_weight"`
	PrecisionWeight    float64 `yaml:"precision_weight" mapstructure:"precision_weight"`
	CompletenessWeight float64 `yaml:"completeness_weight" mapstructure:"completeness_weight"`

	CorroborationBonus float64 `yaml:"corroboration_bonus" mapstructure:"corroboration_bonus"`
	CorroborationCap   float64 `yaml:"corroboration_cap" mapstructure:"corroboration_cap"`
	DegradedPenalty    float64 `yaml:"degraded_penalty" mapstructure:"degraded_penalty"`
}

// MergeConfig configures spatial deduplication.
type MergeConfig struct {
	DistanceThresholdM float64 `yaml:"distance_threshold_m" mapstructure:"distance_threshold_m"`
	NameSimThreshold   float64 `yaml:"name_sim_threshold" mapstructure:"name_sim_threshold"`
	CellResolution     int     `yaml:"cell_resolution" mapstructure:"cell_resolution"`
	EnrichMergedSpots  bool    `yaml:"enrich_merged_spots" mapstructure:"enrich_merged_spots"`
}

// VerifyConfig configures the verification state machine.
type VerifyConfig struct {
	QuarantineFloor    float64 `yaml:"quarantine_floor" mapstructure:"quarantine_floor"`
	AutoDemoteVerified bool    `yaml:"auto_demote_verified" mapstructure:"auto_demote_verified"`
}

// PipelineConfig configures one batch run.
type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// IngestConfig points at the source registry and feed locations.
type IngestConfig struct {
	SourcesFile string `yaml:"sources_file" mapstructure:"sources_file"`
	FeedDir     string `yaml:"feed_dir" mapstructure:"feed_dir"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ServerConfig configures the read-only catalog server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "spotpipe.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("region.min_lat", 42.5)
	v.SetDefault("region.max_lat", 45.0)
	v.SetDefault("region.min_lon", 0.0)
	v.SetDefault("region.max_lon", 3.5)
	v.SetDefault("enrich.timeout_secs", 5)
	v.SetDefault("enrich.retry_attempts", 2)
	v.SetDefault("enrich.cache_ttl_mins", 15)
	v.SetDefault("enrich.grid_decimals", 3)
	v.SetDefault("enrich.rate_per_second", 10)
	v.SetDefault("enrich.health_window", 50)
	v.SetDefault("enrich.fallback_radius_m", 5000)
	v.SetDefault("scorer.prior_weight", 0.5)
	v.SetDefault("scorer.precision_weight", 0.3)
	v.SetDefault("scorer.completeness_weight", 0.2)
	v.SetDefault("scorer.corroboration_bonus", 0.05)
	v.SetDefault("scorer.corroboration_cap", 0.15)
	v.SetDefault("scorer.degraded_penalty", 0.05)
	v.SetDefault("merge.distance_threshold_m", 75)
	v.SetDefault("merge.name_sim_threshold", 0.8)
	v.SetDefault("merge.cell_resolution", 10)
	v.SetDefault("merge.enrich_merged_spots", true)
	v.SetDefault("verify.quarantine_floor", 0.25)
	v.SetDefault("verify.auto_demote_verified", false)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("ingest.sources_file", "sources.yaml")
	v.SetDefault("ingest.feed_dir", "feeds")
	v.SetDefault("ingest.temp_dir", "/tmp/spotpipe")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Scorer.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the scoring weights form a proper convex combination.
func (s ScorerConfig) Validate() error {
	sum := s.PriorWeight + s.PrecisionWeight + s.CompletenessWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return eris.Errorf("config: scorer weights must sum to 1, got %.4f", sum)
	}
	if s.PriorWeight < 0 || s.PrecisionWeight < 0 || s.CompletenessWeight < 0 {
		return eris.New("config: scorer weights must be non-negative")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
