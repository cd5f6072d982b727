// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finledger/reconcile/internal/domain/classifier"
	"github.com/finledger/reconcile/internal/domain/record"
	"github.com/finledger/reconcile/internal/domain/scorer"
)

// Config represents the entire application configuration
type Config struct {
	Matching      MatchingConfig      `yaml:"matching"`
	Storage       StorageConfig       `yaml:"storage"`
	API           APIConfig           `yaml:"api"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MatchingConfig holds every tunable of the matching model. Weights and
// thresholds live here, not in business logic.
type MatchingConfig struct {
	DateToleranceDays   int            `yaml:"date_tolerance_days"`
	NearDayMax          int            `yaml:"near_day_max"`
	AutoApplyMin        int            `yaml:"auto_apply_min"`
	ReviewMin           int            `yaml:"review_min"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	Weights             scorer.Weights `yaml:"weights"`

	// BoilerplateTokens are stripped from descriptors before similarity
	// scoring (processor names, "POINT OF SALE PURCHASE", branch codes).
	BoilerplateTokens []string `yaml:"boilerplate_tokens"`

	// MethodHintKeywords maps a ledger method hint to external
	// description tokens consistent with it.
	MethodHintKeywords map[string][]string `yaml:"method_hint_keywords"`

	// DirectionRules maps a source tag to its sign convention. The exact
	// mapping is source-specific and must be supplied, not guessed.
	DirectionRules map[string]string `yaml:"direction_rules"`

	// LedgerRule and ExternalRule are the default sign conventions used
	// when a source has no entry in DirectionRules.
	LedgerRule   string `yaml:"ledger_rule"`
	ExternalRule string `yaml:"external_rule"`

	// Workers bounds the candidate generation/scoring fan-out. Selection
	// itself is always single-threaded.
	Workers int `yaml:"workers"`
}

// StorageConfig holds database configuration. Driver is "sqlite" or
// "postgres".
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DatabasePath string `yaml:"database_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
}

// APIConfig holds review API server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EventsConfig holds Kafka event publishing settings. Empty brokers disable
// publishing.
type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILE_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Matching: MatchingConfig{
			DateToleranceDays:   3,
			NearDayMax:          3,
			AutoApplyMin:        3,
			ReviewMin:           1,
			SimilarityThreshold: 0.6,
			Weights:             scorer.DefaultWeights(),
			MethodHintKeywords:  scorer.DefaultConfig().MethodHintKeywords,
			LedgerRule:          string(record.AlwaysOutflow),
			ExternalRule:        string(record.NegativeIsOutflow),
			Workers:             4,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			DatabasePath: "reconcile.db",
		},
		API: APIConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Events: EventsConfig{
			Topic: "reconciliation.links.applied",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := Default()

	cfg.Matching.DateToleranceDays = getEnvInt("RECONCILE_DATE_TOLERANCE_DAYS", cfg.Matching.DateToleranceDays)
	cfg.Matching.AutoApplyMin = getEnvInt("RECONCILE_AUTO_APPLY_MIN", cfg.Matching.AutoApplyMin)
	cfg.Matching.ReviewMin = getEnvInt("RECONCILE_REVIEW_MIN", cfg.Matching.ReviewMin)
	cfg.Matching.Workers = getEnvInt("RECONCILE_WORKERS", cfg.Matching.Workers)

	cfg.Storage.Driver = getEnv("RECONCILE_DB_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DatabasePath = getEnv("RECONCILE_DB_PATH", cfg.Storage.DatabasePath)
	cfg.Storage.PostgresDSN = os.Getenv("RECONCILE_POSTGRES_DSN")

	cfg.API.Port = getEnvInt("RECONCILE_API_PORT", cfg.API.Port)

	if brokers := os.Getenv("RECONCILE_KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Brokers = splitAndTrim(brokers)
	}
	cfg.Events.Topic = getEnv("RECONCILE_KAFKA_TOPIC", cfg.Events.Topic)

	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)

	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// ScorerConfig assembles the scorer configuration from the matching section.
func (m MatchingConfig) ScorerConfig() scorer.Config {
	return scorer.Config{
		Weights:             m.Weights,
		NearDayMax:          m.NearDayMax,
		SimilarityThreshold: m.SimilarityThreshold,
		BoilerplateTokens:   m.BoilerplateTokens,
		MethodHintKeywords:  m.MethodHintKeywords,
		LedgerRule:          record.DirectionRule(m.LedgerRule),
		ExternalRule:        record.DirectionRule(m.ExternalRule),
	}
}

// Thresholds assembles the classifier thresholds from the matching section.
func (m MatchingConfig) Thresholds() classifier.Thresholds {
	return classifier.Thresholds{
		AutoApplyMin: m.AutoApplyMin,
		ReviewMin:    m.ReviewMin,
	}
}

// DirectionRule returns the sign convention configured for a source,
// falling back to the given default.
func (m MatchingConfig) DirectionRule(source string, fallback record.DirectionRule) record.DirectionRule {
	if rule, ok := m.DirectionRules[source]; ok {
		return record.DirectionRule(rule)
	}
	return fallback
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
