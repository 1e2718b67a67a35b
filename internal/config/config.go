package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Backends for the processed-id store.
const (
	DedupBackendGist  = "gist"
	DedupBackendAzure = "azure"
)

// Config holds all configuration for the application. It is built once at
// startup and passed into every component; nothing reads the environment
// afterwards.
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Logging
	LogFile string

	// Twitter API
	TwitterBearerToken string
	StreamRule         string

	// Telegram
	TelegramBotToken string
	TelegramChatID   string

	// Matching
	CandidateNames []string
	Blocklist      []string

	// Output
	OutputCSV string

	// Batch ingestion
	BatchWindowMinutes int
	BatchSchedule      string // cron expression; empty means single-shot

	// Dedup store
	DedupBackend     string
	GithubToken      string
	GistID           string
	GistFilename     string
	StorageAccount   string
	StorageContainer string
	StorageBlob      string

	// Optional email notifications
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		Debug:   getBoolEnv("DEBUG", false),
		LogFile: getEnv("LOG_FILE", "poll_detector.log"),

		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		StreamRule: getEnv("STREAM_RULE",
			"-is:retweet (vote OR pick OR choose OR candidate) (place_country:KE OR -place_country:KE)"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		CandidateNames: getSliceEnv("CANDIDATE_NAMES", []string{
			"Ruto", "Gachagua", "Matiangi", "Musyoka",
			"Omtatah", "Maraga", "Kalonzo",
		}),
		Blocklist: getSliceEnv("BLOCKLIST", []string{
			"movie", "food", "sport", "city", "music",
		}),

		OutputCSV: getEnv("OUTPUT_CSV", ""),

		BatchWindowMinutes: getIntEnv("BATCH_WINDOW_MINUTES", 120),
		BatchSchedule:      getEnv("BATCH_SCHEDULE", ""),

		DedupBackend:     getEnv("DEDUP_BACKEND", DedupBackendGist),
		GithubToken:      getEnv("GITHUB_TOKEN", ""),
		GistID:           getEnv("GIST_ID", ""),
		GistFilename:     getEnv("GIST_FILENAME", "processed_ids.txt"),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "pollbot"),
		StorageBlob:      getEnv("AZURE_STORAGE_BLOB", "processed_ids.txt"),

		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TwitterBearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required")
	}
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.OutputCSV == "" {
		return fmt.Errorf("OUTPUT_CSV is required")
	}

	if c.DedupBackend != DedupBackendGist && c.DedupBackend != DedupBackendAzure {
		return fmt.Errorf("DEDUP_BACKEND must be %q or %q", DedupBackendGist, DedupBackendAzure)
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// ValidateDedup checks the credentials of the selected dedup backend. The
// batch strategy calls this; the streaming strategy never touches the store
// and must not require its secrets.
func (c *Config) ValidateDedup() error {
	switch c.DedupBackend {
	case DedupBackendGist:
		if c.GithubToken == "" || c.GistID == "" {
			return fmt.Errorf("GITHUB_TOKEN and GIST_ID are required for the gist dedup backend")
		}
	case DedupBackendAzure:
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required for the azure dedup backend")
		}
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
