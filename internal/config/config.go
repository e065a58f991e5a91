// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	DBPath      string
	ArtifactDir string
	Debug       bool
	CORSOrigins []string
	LLM         LLMConfig
	Bot         BotConfig
}

// LLMConfig controls the text-generation backend.
type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// BotConfig controls the chat bot process.
type BotConfig struct {
	Token             string
	APIURL            string
	APIGRPCAddr       string
	APITimeout        time.Duration
	GenerationTimeout time.Duration
	HistoryPageSize   int
	WSAddr            string
	PollTimeout       time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	pageSize := getEnvInt("HISTORY_PAGE_SIZE", 5)
	if pageSize <= 0 {
		pageSize = 5
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		GRPCPort:    getEnv("GRPC_PORT", "8001"),
		DBPath:      getEnv("DB_PATH", "./data/studiora.db"),
		ArtifactDir: getEnv("ARTIFACT_DIR", "./data/artifacts"),
		Debug:       getEnvBool("DEBUG", false),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		LLM: LLMConfig{
			BaseURL:    getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     getEnv("LLM_API_KEY", ""),
			Model:      getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvDuration("LLM_TIMEOUT", 90*time.Second),
			MaxRetries: getEnvInt("LLM_MAX_RETRIES", 2),
		},
		Bot: BotConfig{
			Token:             getEnv("BOT_TOKEN", ""),
			APIURL:            strings.TrimRight(getEnv("API_URL", "http://localhost:8000"), "/"),
			APIGRPCAddr:       getEnv("API_GRPC_ADDR", ""),
			APITimeout:        getEnvDuration("API_TIMEOUT", 10*time.Second),
			GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 2*time.Minute),
			HistoryPageSize:   pageSize,
			WSAddr:            getEnv("WS_ADDR", ""),
			PollTimeout:       getEnvDuration("BOT_POLL_TIMEOUT", 10*time.Second),
		},
	}

	return cfg, nil
}

// ValidateServer checks the fields the lesson API needs.
func (c *Config) ValidateServer() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("ARTIFACT_DIR cannot be empty")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	return nil
}

// ValidateBot checks the fields the chat bot needs.
func (c *Config) ValidateBot() error {
	if c.Bot.Token == "" && c.Bot.WSAddr == "" {
		return fmt.Errorf("BOT_TOKEN or WS_ADDR must be set")
	}
	if c.Bot.APIURL == "" {
		return fmt.Errorf("API_URL cannot be empty")
	}
	if c.Bot.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Bot.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// LogLevel returns the slog level selected by DEBUG.
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
