package services

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianCare/pkg/envutil"
)

// DefaultTimezone is the zone of the optional current time in answers.
const DefaultTimezone = "Asia/Jakarta"

// Config holds pipeline switches of the chat service.
type Config struct {
	// ClassifyIntent routes each question through the intent classifier and
	// the plan of its topic. When false every question runs the combined plan.
	// Default: true (can be set via CLASSIFY_INTENT)
	ClassifyIntent bool
}

// DefaultConfig returns the chat service configuration from the environment.
func DefaultConfig() Config {
	return Config{
		ClassifyIntent: envutil.Bool("CLASSIFY_INTENT", true),
	}
}

// GeneratorConfigFromEnv returns the answer settings from the environment:
// INCLUDE_CURRENT_TIME (default false), TIMEZONE (default Asia/Jakarta) and
// ANSWER_MAX_TOKENS (default 0, the model default).
// model is the chat model name, empty for the client default.
func GeneratorConfigFromEnv(model string) GeneratorConfig {
	cfg := DefaultGeneratorConfig()
	cfg.Model = model
	cfg.IncludeCurrentTime = envutil.Bool("INCLUDE_CURRENT_TIME", false)
	cfg.Location = LoadLocation(envutil.String("TIMEZONE", DefaultTimezone))
	cfg.MaxTokens = envutil.Int("ANSWER_MAX_TOKENS", 0)
	return cfg
}

// RetrievalKFromEnv returns RETRIEVAL_K, defaulting to 10.
func RetrievalKFromEnv() int {
	return envutil.Int("RETRIEVAL_K", 10)
}

// LoadLocation resolves a time zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Unknown time zone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}
