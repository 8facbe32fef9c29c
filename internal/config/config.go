package config

import (
	"os"
	"path/filepath"

	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/spf13/viper"
)

// Config represents the complete planstore configuration
type Config struct {
	Plan      PlanConfig      `mapstructure:"plan"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PlanConfig controls which plan directory commands operate on
type PlanConfig struct {
	// Dir is the plan directory holding orchestration.json (default: ".")
	Dir string `mapstructure:"dir" validate:"notblank"`
	// Actor is recorded in audit entries as the originator of a change (default: "cli")
	Actor string `mapstructure:"actor" validate:"notblank"`
}

// BackupConfig controls where full-tree backups are written
type BackupConfig struct {
	// Dir is the directory backups are created in.
	// Empty means next to the plan directory.
	Dir string `mapstructure:"dir"`
	// PruneOnSuccess deletes a batch backup once the whole batch applied.
	// Failed and partial batches keep theirs.
	PruneOnSuccess bool `mapstructure:"prune_on_success"`
}

// RecoveryConfig controls the rollback-and-replan workflow
type RecoveryConfig struct {
	// LogsBackupRetention is how many .logs-backup generations to keep (default: 5)
	LogsBackupRetention int `mapstructure:"logs_backup_retention" validate:"min=1"`
}

// AuditConfig controls the update-history.jsonl audit trail
type AuditConfig struct {
	// MaxSizeBytes is the size at which the live audit file is rotated (default: 10MiB)
	MaxSizeBytes int64 `mapstructure:"max_size_bytes" validate:"min=1024"`
	// MaxGenerations is how many rotated generations are retained (default: 5)
	MaxGenerations int `mapstructure:"max_generations" validate:"min=0"`
	// MaxSnapshotBytes caps before/after snapshots; larger ones are replaced by a preview (default: 10KiB)
	MaxSnapshotBytes int `mapstructure:"max_snapshot_bytes" validate:"gt=0"`
	// Compress gzips rotated generations
	Compress bool `mapstructure:"compress"`
}

// SchedulerConfig controls the dependency-level scheduler
type SchedulerConfig struct {
	// BudgetHeadroom is the multiple of the per-phase token budget two phases
	// may consume together and still run in parallel (default: 1.5)
	BudgetHeadroom float64 `mapstructure:"budget_headroom" validate:"gte=1"`
	// DefaultMaxParallel is used when a plan does not set maxParallelPhases (default: 3)
	DefaultMaxParallel int `mapstructure:"default_max_parallel" validate:"min=1,max=32"`
}

// LoggingConfig controls the diagnostic log
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn, error (default: "info")
	Level string `mapstructure:"level" validate:"omitempty,loglevel"`
	// Format is json or text (default: "text")
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	// File is the log file path. Empty writes to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the log file size that triggers rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" validate:"gt=0,max=1000"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" validate:"min=0"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Plan: PlanConfig{
			Dir:   ".",
			Actor: "cli",
		},
		Recovery: RecoveryConfig{
			LogsBackupRetention: 5,
		},
		Audit: AuditConfig{
			MaxSizeBytes:     10 * 1024 * 1024,
			MaxGenerations:   5,
			MaxSnapshotBytes: 10 * 1024,
			Compress:         false,
		},
		Scheduler: SchedulerConfig{
			BudgetHeadroom:     1.5,
			DefaultMaxParallel: 3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// AuditRotation returns the rotation settings for the audit trail.
func (c *AuditConfig) AuditRotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeBytes: c.MaxSizeBytes,
		MaxBackups:   c.MaxGenerations,
		Compress:     c.Compress,
	}
}

// LogRotation returns the rotation settings for the diagnostic log.
func (c *LoggingConfig) LogRotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
}

// LoggerOptions returns the options for opening the diagnostic log.
func (c *LoggingConfig) LoggerOptions() logging.Options {
	return logging.Options{
		File:     c.File,
		Level:    c.Level,
		Format:   logging.Format(c.Format),
		Rotation: c.LogRotation(),
	}
}

// SetDefaultsOn registers default values with a specific viper instance.
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Plan defaults
	v.SetDefault("plan.dir", defaults.Plan.Dir)
	v.SetDefault("plan.actor", defaults.Plan.Actor)

	// Backup defaults
	v.SetDefault("backup.dir", defaults.Backup.Dir)
	v.SetDefault("backup.prune_on_success", defaults.Backup.PruneOnSuccess)

	// Recovery defaults
	v.SetDefault("recovery.logs_backup_retention", defaults.Recovery.LogsBackupRetention)

	// Audit defaults
	v.SetDefault("audit.max_size_bytes", defaults.Audit.MaxSizeBytes)
	v.SetDefault("audit.max_generations", defaults.Audit.MaxGenerations)
	v.SetDefault("audit.max_snapshot_bytes", defaults.Audit.MaxSnapshotBytes)
	v.SetDefault("audit.compress", defaults.Audit.Compress)

	// Scheduler defaults
	v.SetDefault("scheduler.budget_headroom", defaults.Scheduler.BudgetHeadroom)
	v.SetDefault("scheduler.default_max_parallel", defaults.Scheduler.DefaultMaxParallel)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// LoadFrom reads the configuration from v into a Config struct and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planstore"
	}
	return filepath.Join(home, ".config", "planstore")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
