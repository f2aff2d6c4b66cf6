package main

import (
	"testing"

	"github.com/metaldb/archive-crawler/pkg/catalog"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()

	if cfg.PageSize != catalog.DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", cfg.PageSize, catalog.DefaultPageSize)
	}
	if cfg.RecordPath != "bands.csv" {
		t.Errorf("RecordPath = %q, want bands.csv", cfg.RecordPath)
	}
	if cfg.ErrorPath != "crawl_errors.csv" {
		t.Errorf("ErrorPath = %q, want crawl_errors.csv", cfg.ErrorPath)
	}
	if cfg.BaseURL != catalog.BaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, catalog.BaseURL)
	}
	if cfg.Workers <= 0 {
		t.Errorf("Workers = %d, want > 0", cfg.Workers)
	}
	if !cfg.Verbose {
		t.Error("Verbose should default to true")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WORKERS", "12")
	t.Setenv("PAGE_SIZE", "100")
	t.Setenv("RECORDS_FILE", "/tmp/out.csv")
	t.Setenv("BASE_URL", "http://localhost:9999")
	t.Setenv("VERBOSE", "false")

	cfg := loadConfig()

	if cfg.Workers != 12 {
		t.Errorf("Workers = %d, want 12", cfg.Workers)
	}
	if cfg.PageSize != 100 {
		t.Errorf("PageSize = %d, want 100", cfg.PageSize)
	}
	if cfg.RecordPath != "/tmp/out.csv" {
		t.Errorf("RecordPath = %q, want /tmp/out.csv", cfg.RecordPath)
	}
	if cfg.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q, want override", cfg.BaseURL)
	}
	if cfg.Verbose {
		t.Error("Verbose should be false when overridden")
	}
}

func TestGetEnvInt_Invalid(t *testing.T) {
	t.Setenv("WORKERS", "not-a-number")

	if got := getEnvInt("WORKERS", 7); got != 7 {
		t.Errorf("getEnvInt with invalid value = %d, want default 7", got)
	}
}

func TestGetEnvBool_Invalid(t *testing.T) {
	t.Setenv("VERBOSE", "maybe")

	if got := getEnvBool("VERBOSE", true); got != true {
		t.Errorf("getEnvBool with invalid value = %v, want default true", got)
	}
}
