package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		testMsg  string
		contains string
	}{
		{
			name: "info_level",
			config: Config{
				Level:  LevelInfo,
				Pretty: false,
				Output: &bytes.Buffer{},
			},
			testMsg:  "Starting catalogue crawl",
			contains: "Starting catalogue crawl",
		},
		{
			name: "debug_level",
			config: Config{
				Level:  LevelDebug,
				Pretty: false,
				Output: &bytes.Buffer{},
			},
			testMsg:  "Fetching page",
			contains: "Fetching page",
		},
		{
			name: "warn_level",
			config: Config{
				Level:  LevelWarn,
				Pretty: false,
				Output: &bytes.Buffer{},
			},
			testMsg:  "Page fetch did not succeed",
			contains: "Page fetch did not succeed",
		},
		{
			name: "error_level",
			config: Config{
				Level:  LevelError,
				Pretty: false,
				Output: &bytes.Buffer{},
			},
			testMsg:  "Fatal response, abandoning partition",
			contains: "Fatal response, abandoning partition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Output = buf

			logger := Setup(tt.config)

			// Test that logger writes to the configured output
			switch tt.config.Level {
			case LevelDebug:
				logger.Debug().Msg(tt.testMsg)
			case LevelInfo:
				logger.Info().Msg(tt.testMsg)
			case LevelWarn:
				logger.Warn().Msg(tt.testMsg)
			case LevelError:
				logger.Error().Msg(tt.testMsg)
			}

			output := buf.String()
			if !strings.Contains(output, tt.contains) {
				t.Errorf("Expected output to contain %q, got %q", tt.contains, output)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("fetcher")
	logger.Info().Str("partition", "A").Msg("Fetching page")

	output := buf.String()
	if !strings.Contains(output, "fetcher") {
		t.Errorf("Expected output to contain component 'fetcher', got %q", output)
	}
	if !strings.Contains(output, `"partition":"A"`) {
		t.Errorf("Expected output to carry the partition field, got %q", output)
	}
	if !strings.Contains(output, "Fetching page") {
		t.Errorf("Expected output to contain 'Fetching page', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("crawler")

	// These should NOT appear (below warn level)
	logger.Debug().Msg("Queue scheduling decision")
	logger.Info().Msg("Partition complete")

	// These SHOULD appear (warn level and above)
	logger.Warn().Msg("Status store update failed")
	logger.Error().Msg("Record sink write failed")

	output := buf.String()

	if strings.Contains(output, "Queue scheduling decision") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "Partition complete") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "Status store update failed") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "Record sink write failed") {
		t.Error("Error message should be included at Warn level")
	}
}
