package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Detection DetectionConfig
	EHR       EHRConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// RateLimitRPS is the per-IP request budget for the ingestion endpoints
	RateLimitRPS   int
	RateLimitBurst int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// DetectionConfig holds the tunable parameters of the deviation engine.
// Severity thresholds and the temporal policy are configuration rather than
// constants so they can be overridden per surgery type.
type DetectionConfig struct {
	// RedThreshold and YellowThreshold are inclusive lower bounds on the
	// combined score (a score exactly at a bound takes the higher severity).
	RedThreshold    float64
	YellowThreshold float64

	// ConfidenceIntervalScale widens the interval as confidence drops:
	// interval = (1 - confidence) * scale.
	ConfidenceIntervalScale float64

	// MinConsecutiveAbnormal is the consecutive-abnormal-reading gate before a
	// yellow composition becomes an alert.
	MinConsecutiveAbnormal int

	// HysteresisHours admits a yellow composition once the abnormal episode has
	// persisted this long, even below the consecutive gate.
	HysteresisHours int

	// SurgeryOverrides maps surgery type (e.g. "TKR") to policy overrides.
	SurgeryOverrides map[string]SurgeryPolicy
}

// SurgeryPolicy overrides the temporal policy and severity bands for one
// surgery type. Zero fields fall back to the global defaults.
type SurgeryPolicy struct {
	RedThreshold           float64
	YellowThreshold        float64
	MinConsecutiveAbnormal int
	HysteresisHours        int
}

// Hysteresis returns the persistence window as a duration.
func (d DetectionConfig) Hysteresis() time.Duration {
	return time.Duration(d.HysteresisHours) * time.Hour
}

// ForSurgery resolves the effective policy for a surgery type.
func (d DetectionConfig) ForSurgery(surgeryType string) DetectionConfig {
	o, ok := d.SurgeryOverrides[surgeryType]
	if !ok {
		return d
	}
	resolved := d
	if o.RedThreshold > 0 {
		resolved.RedThreshold = o.RedThreshold
	}
	if o.YellowThreshold > 0 {
		resolved.YellowThreshold = o.YellowThreshold
	}
	if o.MinConsecutiveAbnormal > 0 {
		resolved.MinConsecutiveAbnormal = o.MinConsecutiveAbnormal
	}
	if o.HysteresisHours > 0 {
		resolved.HysteresisHours = o.HysteresisHours
	}
	return resolved
}

// EHRConfig holds configuration for the hospital EHR discharge feed
// (SQL Server) that supplies patient baselines.
type EHRConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// PollInterval between discharge-feed scans
	PollInterval time.Duration
}

type NotifyConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			RateLimitRPS:   getEnvInt("SERVER_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("SERVER_RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "recoverguard"),
			Password: getEnv("DB_PASSWORD", "recoverguard"),
			Database: getEnv("DB_NAME", "recoverguard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Detection: DetectionConfig{
			RedThreshold:            getEnvFloat("DETECTION_RED_THRESHOLD", 0.75),
			YellowThreshold:         getEnvFloat("DETECTION_YELLOW_THRESHOLD", 0.4),
			ConfidenceIntervalScale: getEnvFloat("DETECTION_CI_SCALE", 0.5),
			MinConsecutiveAbnormal:  getEnvInt("DETECTION_MIN_CONSECUTIVE", 2),
			HysteresisHours:         getEnvInt("DETECTION_HYSTERESIS_HOURS", 6),
			SurgeryOverrides:        map[string]SurgeryPolicy{},
		},
		EHR: EHRConfig{
			Enabled:      getEnvBool("EHR_ENABLED", false),
			Host:         getEnv("EHR_HOST", "localhost"),
			Port:         getEnvInt("EHR_PORT", 1433),
			User:         getEnv("EHR_USER", "sa"),
			Password:     getEnv("EHR_PASSWORD", ""),
			Database:     getEnv("EHR_DATABASE", "hospital"),
			SSLMode:      getEnv("EHR_SSLMODE", "disable"),
			PollInterval: time.Duration(getEnvInt("EHR_POLL_SECONDS", 300)) * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:    getEnvBool("NOTIFY_ENABLED", true),
			Workers:    getEnvInt("NOTIFY_WORKERS", 2),
			BufferSize: getEnvInt("NOTIFY_BUFFER_SIZE", 256),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
