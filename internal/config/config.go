package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Hindsight learning plane.
type Config struct {
	Port       int
	Version    string
	DataDir    string
	Learning   LearningConfig
	Goals      GoalConfig
	Progress   ProgressConfig
	Prediction PredictionConfig
	Audit      AuditConfig
	Telemetry  TelemetryConfig
}

// LearningConfig tunes the routing preference learner.
type LearningConfig struct {
	// Rate is the EMA learning rate pulling the score toward the
	// empirical success rate.
	Rate float64
	// Dampening bounds how much a learned boost can move an externally
	// computed confidence.
	Dampening float64
}

// GoalConfig tunes emergent goal discovery.
type GoalConfig struct {
	ErrorThreshold   float64
	PatternThreshold int
	TimeWindow       time.Duration
	MaxGoals         int
	HistorySize      int
}

// ProgressConfig tunes the rolling success-rate tracker.
type ProgressConfig struct {
	WindowSize       int
	SnapshotInterval int64
	MaxSnapshots     int
}

// PredictionConfig tunes the prediction tracker.
type PredictionConfig struct {
	DefaultTimeout time.Duration
	ErrorThreshold float64
	SweepInterval  time.Duration
}

// AuditConfig tunes the bounded audit log.
type AuditConfig struct {
	MaxEvents int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("HINDSIGHT_PORT", 8090),
		Version: envStr("HINDSIGHT_VERSION", "0.2.0"),
		DataDir: envStr("HINDSIGHT_DATA_DIR", ""),
		Learning: LearningConfig{
			Rate:      envFloat("HINDSIGHT_LEARNING_RATE", 0.1),
			Dampening: envFloat("HINDSIGHT_BOOST_DAMPENING", 0.3),
		},
		Goals: GoalConfig{
			ErrorThreshold:   envFloat("HINDSIGHT_GOAL_ERROR_THRESHOLD", 0.3),
			PatternThreshold: envInt("HINDSIGHT_GOAL_PATTERN_THRESHOLD", 5),
			TimeWindow:       envDuration("HINDSIGHT_GOAL_TIME_WINDOW", time.Hour),
			MaxGoals:         envInt("HINDSIGHT_MAX_GOALS", 50),
			HistorySize:      envInt("HINDSIGHT_GOAL_HISTORY_SIZE", 1000),
		},
		Progress: ProgressConfig{
			WindowSize:       envInt("HINDSIGHT_PROGRESS_WINDOW", 100),
			SnapshotInterval: int64(envInt("HINDSIGHT_SNAPSHOT_INTERVAL", 10)),
			MaxSnapshots:     envInt("HINDSIGHT_MAX_SNAPSHOTS", 500),
		},
		Prediction: PredictionConfig{
			DefaultTimeout: envDuration("HINDSIGHT_PREDICTION_TIMEOUT", 5*time.Minute),
			ErrorThreshold: envFloat("HINDSIGHT_PREDICTION_ERROR_THRESHOLD", 0.3),
			SweepInterval:  envDuration("HINDSIGHT_PREDICTION_SWEEP_INTERVAL", time.Minute),
		},
		Audit: AuditConfig{
			MaxEvents: envInt("HINDSIGHT_AUDIT_MAX_EVENTS", 500),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "hindsight-learning-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
