package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminKey    string `yaml:"admin_key"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	RiderGeoKey      string `yaml:"rider_geo_key"`
	RiderStatsPrefix string `yaml:"rider_stats_prefix"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// Candidate sources understood by DispatchConfig.CandidateSource.
const (
	CandidateSourcePostgres = "postgres"
	CandidateSourceRedis    = "redis"
)

type DispatchConfig struct {
	RadiusKm              float64           `yaml:"radius_km"`
	PriorityWindowSeconds int               `yaml:"priority_window_seconds"`
	RateLimitPerMinute    int               `yaml:"rate_limit_per_minute"`
	CandidateSource       string            `yaml:"candidate_source"`
	FallbackPickup        FallbackPickup    `yaml:"fallback_pickup"`
	ExpirySweep           ExpirySweepConfig `yaml:"expiry_sweep"`
}

// FallbackPickup is used only for orders that carry neither coordinates nor a zone.
type FallbackPickup struct {
	Enabled bool    `yaml:"enabled"`
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
}

type ExpirySweepConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
	BatchSize  int  `yaml:"batch_size"`
}

type ScoringConfig struct {
	Weights       ScoringWeights `yaml:"weights"`
	ParetoEnabled bool           `yaml:"pareto_enabled"`
}

type ScoringWeights struct {
	Proximity      float64 `yaml:"proximity"`
	Rating         float64 `yaml:"rating"`
	Acceptance     float64 `yaml:"acceptance"`
	Specialization float64 `yaml:"specialization"`
	Availability   float64 `yaml:"availability"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) PriorityWindow() time.Duration {
	return time.Duration(c.Dispatch.PriorityWindowSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Dispatch.ExpirySweep.IntervalMs) * time.Millisecond
}

// Validate rejects configurations the dispatch engine cannot run with.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	sum := w.Proximity + w.Rating + w.Acceptance + w.Specialization + w.Availability
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("scoring weights sum to %.4f, must sum to 1.0", sum)
	}
	if c.Dispatch.RadiusKm <= 0 {
		return fmt.Errorf("dispatch radius must be positive, got %v", c.Dispatch.RadiusKm)
	}
	if c.Dispatch.PriorityWindowSeconds <= 0 {
		return fmt.Errorf("priority window must be positive, got %d", c.Dispatch.PriorityWindowSeconds)
	}
	switch c.Dispatch.CandidateSource {
	case CandidateSourcePostgres, CandidateSourceRedis:
	default:
		return fmt.Errorf("unknown candidate source %q", c.Dispatch.CandidateSource)
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8600,
			MetricsPort: 8601,
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			RiderGeoKey:      "riders:online",
			RiderStatsPrefix: "rider:stats:",
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Dispatch: DispatchConfig{
			RadiusKm:              5.0,
			PriorityWindowSeconds: 60,
			RateLimitPerMinute:    30,
			CandidateSource:       CandidateSourcePostgres,
			FallbackPickup: FallbackPickup{
				Enabled: false,
				Lat:     40.9219,
				Lng:     14.3094,
			},
			ExpirySweep: ExpirySweepConfig{
				Enabled:    false,
				IntervalMs: 15000,
				BatchSize:  50,
			},
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeights{
				Proximity:      0.40,
				Rating:         0.30,
				Acceptance:     0.15,
				Specialization: 0.10,
				Availability:   0.05,
			},
			ParetoEnabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISPATCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("DISPATCH_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("DISPATCH_ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("DISPATCH_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DISPATCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DISPATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DISPATCH_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("DISPATCH_RADIUS_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dispatch.RadiusKm = f
		}
	}
	if v := os.Getenv("DISPATCH_PRIORITY_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.PriorityWindowSeconds = n
		}
	}
	if v := os.Getenv("DISPATCH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DISPATCH_CANDIDATE_SOURCE"); v != "" {
		cfg.Dispatch.CandidateSource = v
	}
	if v := os.Getenv("DISPATCH_FALLBACK_PICKUP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.FallbackPickup.Enabled = b
		}
	}
	if v := os.Getenv("DISPATCH_EXPIRY_SWEEP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.ExpirySweep.Enabled = b
		}
	}
	if v := os.Getenv("DISPATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DISPATCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
