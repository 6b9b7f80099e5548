// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TRANSCRIPT_TZ must resolve in minimal images
)

// Transport selectors.
const (
	TransportTelegram = "telegram"
	TransportWebChat  = "webchat"
	TransportBoth     = "both"
)

// Text backend selectors.
const (
	TextBackendOpenAI = "openai"
	TextBackendGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port                string
	DBPath              string
	LogLevel            slog.Level
	Transport           string
	AdminToken          string
	AllowedOrigins      []string
	OfflineChats        []string
	TranscriptZone      *time.Location
	IncidentRetention   time.Duration
	DispatchBacklogWarn int

	Telegram  TelegramConfig
	Text      TextConfig
	Replicate ReplicateConfig
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Token       string
	PollTimeout int // seconds
	Debug       bool
}

// TextConfig configures the text-generation backend.
type TextConfig struct {
	Backend      string
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	GRPCAddr     string
	Timeout      time.Duration
}

// ReplicateConfig configures the image-generation backend.
type ReplicateConfig struct {
	APIToken string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadSidecar reads the configuration of the completion sidecar. Only the
// OpenAI settings are checked, and the text backend is always openai.
func LoadSidecar() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	cfg.Text.Backend = TextBackendOpenAI
	if err := cfg.validateText(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func read() (*Config, error) {
	zoneName := getEnv("TRANSCRIPT_TZ", "UTC")
	zone, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid TRANSCRIPT_TZ %q: %w", zoneName, err)
	}

	backendTimeout := getEnvDuration("BACKEND_TIMEOUT", 90*time.Second)

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/groupmind.db"),
		LogLevel:            parseLevel(getEnv("LOG_LEVEL", "info")),
		Transport:           strings.ToLower(getEnv("TRANSPORT", TransportTelegram)),
		AdminToken:          getEnv("ADMIN_TOKEN", ""),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		OfflineChats:        getEnvList("OFFLINE_CHATS", nil),
		TranscriptZone:      zone,
		IncidentRetention:   getEnvDuration("INCIDENT_RETENTION", 7*24*time.Hour),
		DispatchBacklogWarn: getEnvInt("DISPATCH_BACKLOG_WARN", 64),
		Telegram: TelegramConfig{
			Token:       getEnv("TELEGRAM_TOKEN", ""),
			PollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 60),
			Debug:       getEnvBool("TELEGRAM_DEBUG", false),
		},
		Text: TextConfig{
			Backend:      strings.ToLower(getEnv("TEXT_BACKEND", TextBackendOpenAI)),
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:        getEnv("OPENAI_MODEL", ""),
			SystemPrompt: getEnv("SYSTEM_PROMPT", ""),
			GRPCAddr:     getEnv("COMPLETION_GRPC_ADDR", "localhost:50051"),
			Timeout:      backendTimeout,
		},
		Replicate: ReplicateConfig{
			APIToken: getEnv("REPLICATE_API_TOKEN", ""),
			BaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
			Model:    getEnv("REPLICATE_MODEL", ""),
			Timeout:  backendTimeout,
		},
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Transport {
	case TransportTelegram, TransportBoth:
		if c.Telegram.Token == "" {
			return fmt.Errorf("TELEGRAM_TOKEN is required for transport %q", c.Transport)
		}
	case TransportWebChat:
	default:
		return fmt.Errorf("TRANSPORT must be one of telegram, webchat, both; got %q", c.Transport)
	}
	if err := c.validateText(); err != nil {
		return err
	}
	if c.IncidentRetention <= 0 {
		return fmt.Errorf("INCIDENT_RETENTION must be > 0")
	}
	if c.DispatchBacklogWarn <= 0 {
		return fmt.Errorf("DISPATCH_BACKLOG_WARN must be > 0")
	}
	return nil
}

func (c *Config) validateText() error {
	switch c.Text.Backend {
	case TextBackendOpenAI:
		if c.Text.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai text backend")
		}
	case TextBackendGRPC:
		if c.Text.GRPCAddr == "" {
			return fmt.Errorf("COMPLETION_GRPC_ADDR cannot be empty for the grpc text backend")
		}
	default:
		return fmt.Errorf("TEXT_BACKEND must be openai or grpc; got %q", c.Text.Backend)
	}
	if c.Text.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	return nil
}

// WantsTelegram reports whether the Telegram transport should run.
func (c *Config) WantsTelegram() bool {
	return c.Transport == TransportTelegram || c.Transport == TransportBoth
}

// WantsWebChat reports whether the web chat transport should run.
func (c *Config) WantsWebChat() bool {
	return c.Transport == TransportWebChat || c.Transport == TransportBoth
}

// ImageEnabled reports whether an image backend is configured.
func (c *Config) ImageEnabled() bool {
	return c.Replicate.APIToken != ""
}

// IsDevelopment returns true when only local origins are allowed.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
	return out
}
