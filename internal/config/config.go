// Package config loads hub configuration from the environment. It follows
// the same GetEnv/GetEnvAsX pattern the rest of this codebase's ancestry
// uses rather than a struct-tag binder: GetEnv logs when a variable is unset
// and falls back to its default, and the int/duration helpers log when a set
// value cannot be parsed, which is handy when chasing a misconfigured deploy.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/gpuhub/internal/logger"
)

// Config holds every environment-tunable knob named in the hub's external
// interface section: Store connection, listen port, log mode, sweep
// periods, and the heartbeat/claim thresholds that drive reclamation.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogMode string

	ListenPort string

	// Reclamation tuning.
	StaleClaimSweepInterval  time.Duration
	DefaultClaimTimeout      time.Duration
	StaleWorkerSweepInterval time.Duration
	OutOfServiceThreshold    time.Duration
	DeepSweepInterval        time.Duration
	DeepSweepThreshold       time.Duration
	IdleFreshnessThreshold   time.Duration

	// Stats broadcaster tick.
	StatsBroadcastInterval time.Duration

	// Shutdown drain deadline for the supervised background tasks.
	ShutdownDrain time.Duration
}

func Load(log *logger.Logger) Config {
	return Config{
		RedisAddr:     GetEnv("REDIS_ADDR", "127.0.0.1:6379", log),
		RedisPassword: GetEnv("REDIS_PASSWORD", "", log),
		RedisDB:       GetEnvAsInt("REDIS_DB", 0, log),

		LogMode: GetEnv("LOG_MODE", "development", log),

		ListenPort: GetEnv("PORT", "8080", log),

		StaleClaimSweepInterval:  GetEnvAsDuration("CLAIM_SWEEP_INTERVAL", 15*time.Second, log),
		DefaultClaimTimeout:      GetEnvAsDuration("DEFAULT_CLAIM_TIMEOUT", 30*time.Second, log),
		StaleWorkerSweepInterval: GetEnvAsDuration("WORKER_SWEEP_INTERVAL", 30*time.Second, log),
		OutOfServiceThreshold:    GetEnvAsDuration("WORKER_OUT_OF_SERVICE_AGE", 120*time.Second, log),
		DeepSweepInterval:        GetEnvAsDuration("DEEP_SWEEP_INTERVAL", 5*time.Minute, log),
		DeepSweepThreshold:       GetEnvAsDuration("DEEP_SWEEP_WORKER_AGE", 600*time.Second, log),
		IdleFreshnessThreshold:   GetEnvAsDuration("WORKER_IDLE_FRESHNESS", 30*time.Second, log),

		StatsBroadcastInterval: GetEnvAsDuration("STATS_BROADCAST_INTERVAL", 1*time.Second, log),

		ShutdownDrain: GetEnvAsDuration("SHUTDOWN_DRAIN", 5*time.Second, log),
	}
}

func GetEnv(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	return val
}

func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as int, using default", "providedVal", valStr, "defaultVal", defaultVal, "error", err)
		}
		return defaultVal
	}
	return i
}

func GetEnvAsDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	// Allow a bare integer (seconds) as well as a Go duration string.
	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as duration, using default", "providedVal", valStr, "defaultVal", defaultVal, "error", err)
		}
		return defaultVal
	}
	return d
}

func GetEnvAsBool(key string, defaultVal bool, log *logger.Logger) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
