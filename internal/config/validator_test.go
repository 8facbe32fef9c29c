package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty plan dir", func(c *Config) { c.Plan.Dir = " " }, "plan.dir"},
		{"empty actor", func(c *Config) { c.Plan.Actor = "" }, "plan.actor"},
		{"zero retention", func(c *Config) { c.Recovery.LogsBackupRetention = 0 }, "recovery.logs_backup_retention"},
		{"tiny audit file", func(c *Config) { c.Audit.MaxSizeBytes = 100 }, "audit.max_size_bytes"},
		{"negative generations", func(c *Config) { c.Audit.MaxGenerations = -1 }, "audit.max_generations"},
		{"zero snapshot cap", func(c *Config) { c.Audit.MaxSnapshotBytes = 0 }, "audit.max_snapshot_bytes"},
		{"headroom below one", func(c *Config) { c.Scheduler.BudgetHeadroom = 0.9 }, "scheduler.budget_headroom"},
		{"parallel too high", func(c *Config) { c.Scheduler.DefaultMaxParallel = 33 }, "scheduler.default_max_parallel"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log size too large", func(c *Config) { c.Logging.MaxSizeMB = 2000 }, "logging.max_size_mb"},
		{"log size zero", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -2 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_Validate_UppercaseLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("uppercase level should be accepted, got %v", errs)
	}
}

func TestConfig_Validate_Messages(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.DefaultMaxParallel = 0
	cfg.Logging.Format = "xml"

	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	got := ValidationErrors(errs).Error()
	for _, want := range []string{
		"scheduler.default_max_parallel: must be at least 1 (got: 0)",
		"logging.format: must be one of: json, text (got: xml)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("errors %q do not contain %q", got, want)
		}
	}
}
