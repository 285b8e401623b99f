package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultChartPoints != 200 {
		t.Fatalf("got %d, want default 200", cfg.DefaultChartPoints)
	}
	if cfg.WSPingIntervalSec != 30 {
		t.Fatalf("got %d, want default 30", cfg.WSPingIntervalSec)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"default_chart_points": 500, "polygon": {"enabled": true, "api_key": "file-key"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultChartPoints != 500 {
		t.Fatalf("got %d, want 500", cfg.DefaultChartPoints)
	}
	if !cfg.Polygon.Enabled || cfg.Polygon.APIKey != "file-key" {
		t.Fatalf("got %+v, want enabled with file-key", cfg.Polygon)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"polygon": {"api_key": "file-key"}}`), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("POLYGON_API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Polygon.APIKey != "env-key" {
		t.Fatalf("got %q, want env-key", cfg.Polygon.APIKey)
	}
	if cfg.DatabaseDSN != "postgres://env" {
		t.Fatalf("got %q, want postgres://env", cfg.DatabaseDSN)
	}
}
