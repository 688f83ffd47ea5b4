// Package engconfig provides environment-variable configuration loading for
// the engine, following the teacher's infrastructure/config helper style
// (GetEnv/GetEnvBool/GetEnvInt) without the Marble/TEE secret-manager layer,
// which has no seam in this single-process engine.
package engconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruleforge/engine/durationutil"
)

// GetEnv retrieves an environment variable, falling back to defaultValue.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable. Accepts
// "true"/"1"/"yes"/"y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return defaultValue
	}
}

// GetEnvInt retrieves an integer environment variable, returning
// defaultValue if unset or invalid.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration retrieves a duration-literal environment variable (per the
// engine's own duration grammar), returning defaultValue if unset or invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := durationutil.Parse(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// Config is the engine's top-level runtime configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	MaxForwardDepth int
	MaxConcurrency  int
	QueueBuffer     int

	ReloadInterval time.Duration

	BaselineMinSamples int
}

// Default returns the documented defaults from spec §4.
func Default() Config {
	return Config{
		LogLevel:           "info",
		LogFormat:          "json",
		MaxForwardDepth:    10,
		MaxConcurrency:     10,
		QueueBuffer:        256,
		ReloadInterval:     30 * time.Second,
		BaselineMinSamples: 5,
	}
}

// Load builds a Config from RULE_ENGINE_* environment variables plus
// LOG_LEVEL and LOG_FORMAT, falling back to Default() for anything unset.
func Load() Config {
	d := Default()
	return Config{
		LogLevel:           GetEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:          GetEnv("LOG_FORMAT", d.LogFormat),
		MaxForwardDepth:    GetEnvInt("RULE_ENGINE_MAX_FORWARD_DEPTH", d.MaxForwardDepth),
		MaxConcurrency:     GetEnvInt("RULE_ENGINE_MAX_CONCURRENCY", d.MaxConcurrency),
		QueueBuffer:        GetEnvInt("RULE_ENGINE_QUEUE_BUFFER", d.QueueBuffer),
		ReloadInterval:     GetEnvDuration("RULE_ENGINE_RELOAD_INTERVAL", d.ReloadInterval),
		BaselineMinSamples: GetEnvInt("RULE_ENGINE_BASELINE_MIN_SAMPLES", d.BaselineMinSamples),
	}
}
