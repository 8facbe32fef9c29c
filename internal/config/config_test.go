package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Plan.Dir != "." {
		t.Errorf("Plan.Dir = %q, want %q", cfg.Plan.Dir, ".")
	}
	if cfg.Plan.Actor != "cli" {
		t.Errorf("Plan.Actor = %q, want %q", cfg.Plan.Actor, "cli")
	}
	if cfg.Backup.Dir != "" {
		t.Errorf("Backup.Dir = %q, want empty", cfg.Backup.Dir)
	}
	if cfg.Backup.PruneOnSuccess {
		t.Error("Backup.PruneOnSuccess = true, want false")
	}
	if cfg.Recovery.LogsBackupRetention != 5 {
		t.Errorf("Recovery.LogsBackupRetention = %d, want 5", cfg.Recovery.LogsBackupRetention)
	}
	if cfg.Audit.MaxSizeBytes != 10*1024*1024 {
		t.Errorf("Audit.MaxSizeBytes = %d, want 10MiB", cfg.Audit.MaxSizeBytes)
	}
	if cfg.Audit.MaxGenerations != 5 {
		t.Errorf("Audit.MaxGenerations = %d, want 5", cfg.Audit.MaxGenerations)
	}
	if cfg.Audit.MaxSnapshotBytes != 10*1024 {
		t.Errorf("Audit.MaxSnapshotBytes = %d, want 10KiB", cfg.Audit.MaxSnapshotBytes)
	}
	if cfg.Scheduler.BudgetHeadroom != 1.5 {
		t.Errorf("Scheduler.BudgetHeadroom = %v, want 1.5", cfg.Scheduler.BudgetHeadroom)
	}
	if cfg.Scheduler.DefaultMaxParallel != 3 {
		t.Errorf("Scheduler.DefaultMaxParallel = %d, want 3", cfg.Scheduler.DefaultMaxParallel)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoggerOptions(t *testing.T) {
	cfg := Default()
	cfg.Logging.File = "/tmp/planstore.log"

	opts := cfg.Logging.LoggerOptions()
	if opts.File != cfg.Logging.File || opts.Level != "info" || opts.Format != "text" {
		t.Errorf("LoggerOptions() = %+v", opts)
	}
	if opts.Rotation.MaxSizeMB != 10 || opts.Rotation.MaxBackups != 3 {
		t.Errorf("LoggerOptions().Rotation = %+v", opts.Rotation)
	}
}

func TestAuditRotation(t *testing.T) {
	cfg := Default()
	cfg.Audit.Compress = true

	rot := cfg.Audit.AuditRotation()
	if rot.MaxSizeBytes != cfg.Audit.MaxSizeBytes || rot.MaxBackups != 5 || !rot.Compress {
		t.Errorf("AuditRotation() = %+v", rot)
	}
}

func TestLoadFrom_DefaultsAndOverrides(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() with defaults failed: %v", err)
	}
	if cfg.Audit.MaxGenerations != 5 {
		t.Errorf("Audit.MaxGenerations = %d, want 5", cfg.Audit.MaxGenerations)
	}

	v.Set("plan.actor", "release-bot")
	v.Set("scheduler.default_max_parallel", 8)
	cfg, err = LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() with overrides failed: %v", err)
	}
	if cfg.Plan.Actor != "release-bot" {
		t.Errorf("Plan.Actor = %q, want release-bot", cfg.Plan.Actor)
	}
	if cfg.Scheduler.DefaultMaxParallel != 8 {
		t.Errorf("Scheduler.DefaultMaxParallel = %d, want 8", cfg.Scheduler.DefaultMaxParallel)
	}
}

func TestLoadFrom_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
plan:
  dir: /plans/checkout
audit:
  max_generations: 2
  compress: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := viper.New()
	SetDefaultsOn(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Plan.Dir != "/plans/checkout" {
		t.Errorf("Plan.Dir = %q", cfg.Plan.Dir)
	}
	if cfg.Audit.MaxGenerations != 2 || !cfg.Audit.Compress {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	// Unset keys keep their defaults
	if cfg.Plan.Actor != "cli" {
		t.Errorf("Plan.Actor = %q, want default", cfg.Plan.Actor)
	}
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)
	v.Set("scheduler.budget_headroom", 0.5)
	v.Set("logging.level", "verbose")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() should fail on invalid values")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verrs), verrs)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/planstore" {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != "/custom/config/planstore/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "planstore")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}
