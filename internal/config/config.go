// Package config implements SPEC_FULL.md §4.K: a process-wide viper
// singleton carrying defaults and environment-variable overrides for log
// level, default localDir, and sync retry tuning. Grounded directly on the
// teacher's internal/config/config.go — same viper.Viper singleton,
// SetEnvKeyReplacer for "." / "-" -> "_", same Get*/Set accessor shape —
// but without the project-local config.yaml search: a library has no CLI
// project root to search from, so configuration here is environment-
// variable and explicit-option only.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix gitddb recognizes, e.g.
// GITDDB_LOG_LEVEL, GITDDB_LOCAL_DIR, GITDDB_RETRY, GITDDB_RETRY_INTERVAL.
const EnvPrefix = "GITDDB"

var v *viper.Viper

func init() {
	Initialize()
}

// Initialize (re)creates the viper singleton with gitddb's defaults. Safe
// to call more than once; later calls reset state, which test packages use
// to isolate env-var overrides between cases.
func Initialize() {
	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("local-dir", "./git-documentdb")
	v.SetDefault("serialize", "json")
	v.SetDefault("debounce-time", "3s")
	v.SetDefault("retry", 3)
	v.SetDefault("retry-interval", "1s")
	v.SetDefault("remote-sync-interval", "30s")
}

// GetString retrieves a string configuration value.
func GetString(key string) string { return v.GetString(key) }

// GetInt retrieves an integer configuration value.
func GetInt(key string) int { return v.GetInt(key) }

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration { return v.GetDuration(key) }

// Set overrides a configuration value in-process (used by tests and by
// explicit constructor options that should take precedence over the
// environment).
func Set(key string, value any) { v.Set(key, value) }

// LogLevel returns the configured log level, for slog.Level parsing by the
// caller.
func LogLevel() string { return GetString("log-level") }

// DefaultLocalDir is the Repository "localDir" default (spec.md §6).
func DefaultLocalDir() string { return GetString("local-dir") }

// DefaultSerialize is the Repository "serialize" default (spec.md §6).
func DefaultSerialize() string { return GetString("serialize") }

// DefaultRetry and DefaultRetryInterval are the Sync "retry"/"retryInterval"
// defaults (spec.md §6).
func DefaultRetry() int                      { return GetInt("retry") }
func DefaultRetryInterval() time.Duration    { return GetDuration("retry-interval") }
func DefaultDebounceTime() time.Duration     { return GetDuration("debounce-time") }
