// Package config loads jax-marketdata-core's configuration from a JSON file
// with environment-variable overrides, following the same load pattern as
// the rest of the jax service family.
package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds every tunable named across spec.md §6.
type Config struct {
	DatabaseDSN string       `json:"database_dsn"`
	RedisURL    string       `json:"redis_url"`
	HTTPAddr    string       `json:"http_addr"`
	Polygon     PolygonConfig `json:"polygon"`
	Alpaca      AlpacaConfig  `json:"alpaca"`

	DefaultChartPoints     int     `json:"default_chart_points"`
	DefaultPluginChunkSize int     `json:"default_plugin_chunk_size"`
	MaxBackfillChunks      int     `json:"max_backfill_chunks"`
	BackfillChunkDelaySec  float64 `json:"backfill_chunk_delay_sec"`
	DefaultBackfillPeriodMs int64  `json:"default_backfill_period_ms"`

	CacheTTL1mBarGroupSec int `json:"cache_ttl_1m_bar_group_sec"`
	CacheTTLResampledSec  int `json:"cache_ttl_resampled_sec"`

	MinPollIntervalSec           int     `json:"min_poll_interval_sec"`
	MaxPollIntervalSec           int     `json:"max_poll_interval_sec"`
	InitialPollDelaySec          int     `json:"initial_poll_delay_sec"`
	PollJitterFactor             float64 `json:"poll_jitter_factor"`
	MaxPollFailuresBeforeBackoff int     `json:"max_poll_failures_before_backoff"`
	PollBackoffBaseSec           int     `json:"poll_backoff_base_sec"`
	MaxPollBackoffSec            int     `json:"max_poll_backoff_sec"`

	WSPingIntervalSec int `json:"ws_ping_interval_sec"`
}

// PolygonConfig holds Polygon.io plugin configuration.
type PolygonConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
}

// AlpacaConfig holds Alpaca plugin configuration.
type AlpacaConfig struct {
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// DefaultConfig returns the spec.md §6 default values.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                     ":8080",
		DefaultChartPoints:           200,
		DefaultPluginChunkSize:       500,
		MaxBackfillChunks:            100,
		BackfillChunkDelaySec:        1.5,
		DefaultBackfillPeriodMs:      30 * 24 * 60 * 60 * 1000,
		CacheTTL1mBarGroupSec:        3600,
		CacheTTLResampledSec:         300,
		MinPollIntervalSec:           1,
		MaxPollIntervalSec:           30,
		InitialPollDelaySec:          2,
		PollJitterFactor:             0.2,
		MaxPollFailuresBeforeBackoff: 3,
		PollBackoffBaseSec:           5,
		MaxPollBackoffSec:            300,
		WSPingIntervalSec:            30,
	}
}

// Load reads path as JSON over DefaultConfig(), then applies environment
// variable overrides for the values operators most often need to rotate
// per-deployment: credentials and connection strings.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if redis := os.Getenv("REDIS_URL"); redis != "" {
		cfg.RedisURL = redis
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if key := os.Getenv("POLYGON_API_KEY"); key != "" {
		cfg.Polygon.APIKey = key
	}
	if key := os.Getenv("ALPACA_API_KEY"); key != "" {
		cfg.Alpaca.APIKey = key
	}
	if secret := os.Getenv("ALPACA_API_SECRET"); secret != "" {
		cfg.Alpaca.APISecret = secret
	}
	if v := os.Getenv("POLYGON_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Polygon.Enabled = b
		}
	}
	if v := os.Getenv("ALPACA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Alpaca.Enabled = b
		}
	}

	return &cfg, nil
}
