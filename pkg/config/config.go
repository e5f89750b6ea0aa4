package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envConfigPath         = "FLOWRELAY_CONFIG"
	envTelegramBotToken   = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom  = "TELEGRAM_ALLOW_FROM"
	envVoiceflowAPIKey    = "VOICEFLOW_API_KEY"
	envVoiceflowProjectID = "VOICEFLOW_PROJECT_ID"
	envVoiceflowVersionID = "VOICEFLOW_VERSION_ID"
	envRedisAddr          = "REDIS_ADDR"
)

const (
	BackendVoiceflow = "voiceflow"
	BackendOpenAI    = "openai"

	TelegramModePolling = "polling"
	TelegramModeWebhook = "webhook"

	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Channels ChannelsConfig `json:"channels"`
	Sessions SessionsConfig `json:"sessions"`
	Gateway  GatewayConfig  `json:"gateway"`
	Dedup    DedupConfig    `json:"dedup"`
	Journal  JournalConfig  `json:"journal"`
	Secrets  SecretsConfig  `json:"secrets"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	File      string `json:"file,omitempty"`
}

// BackendConfig selects the dialogue backend and stores its connection settings.
type BackendConfig struct {
	Kind            string                 `json:"kind"`
	Voiceflow       VoiceflowBackendConfig `json:"voiceflow"`
	OpenAI          OpenAIBackendConfig    `json:"openai"`
	LaunchVariables map[string]any         `json:"launch_variables,omitempty"`
}

// VoiceflowBackendConfig configures the Voiceflow general runtime client.
type VoiceflowBackendConfig struct {
	BaseURL               string `json:"base_url"`
	APIKey                string `json:"api_key"`
	ProjectID             string `json:"project_id"`
	VersionID             string `json:"version_id"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	UnavailableMessage    string `json:"unavailable_message"`
	UnreadableMessage     string `json:"unreadable_message"`
}

// OpenAIBackendConfig configures the OpenAI backend client.
type OpenAIBackendConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	Model                 string `json:"model"`
	LaunchPrompt          string `json:"launch_prompt"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	UnavailableMessage    string `json:"unavailable_message"`
	UnreadableMessage     string `json:"unreadable_message"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Websocket WebsocketConfig `json:"websocket"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled       bool     `json:"enabled"`
	Token         string   `json:"token"`
	Mode          string   `json:"mode"`
	WebhookSecret string   `json:"webhook_secret"`
	AllowFrom     []string `json:"allow_from"`
}

// WebsocketConfig configures the browser chat channel.
type WebsocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// SessionsConfig controls session validity, reaping and startup seeds.
type SessionsConfig struct {
	TTLSeconds          int64         `json:"ttl_seconds"`
	ReapIntervalSeconds int           `json:"reap_interval_seconds"`
	SeedFile            string        `json:"seed_file"`
	Seeds               []SessionSeed `json:"seeds"`
}

// SessionSeed is one session restored at startup.
type SessionSeed struct {
	ChatID          string `json:"chat_id"`
	LastInteraction *int64 `json:"last_interaction,omitempty"`
	IsActive        bool   `json:"is_active"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DedupConfig selects where seen update ids are remembered.
type DedupConfig struct {
	Kind          string `json:"kind"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// JournalConfig enables the SQLite turn journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SecretsConfig configures resolution of ssm: secret references.
type SecretsConfig struct {
	AWSRegion string `json:"aws_region"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one explicit config file and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// ReadSeedFile loads a JSON array of session seeds.
func ReadSeedFile(path string) ([]SessionSeed, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seeds []SessionSeed
	if err := json.Unmarshal(content, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	for i, seed := range seeds {
		if strings.TrimSpace(seed.ChatID) == "" {
			return nil, fmt.Errorf("seed %d has no chat_id", i)
		}
	}

	return seeds, nil
}

// AllSeeds returns inline seeds followed by the ones from seed_file, if set.
func (c SessionsConfig) AllSeeds() ([]SessionSeed, error) {
	seeds := slices.Clone(c.Seeds)
	if path := strings.TrimSpace(c.SeedFile); path != "" {
		fromFile, err := ReadSeedFile(path)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, fromFile...)
	}

	return seeds, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	overrideString(&cfg.Backend.Voiceflow.APIKey, envVoiceflowAPIKey)
	overrideString(&cfg.Backend.Voiceflow.ProjectID, envVoiceflowProjectID)
	overrideString(&cfg.Backend.Voiceflow.VersionID, envVoiceflowVersionID)
	overrideString(&cfg.Dedup.RedisAddr, envRedisAddr)
}

func overrideString(target *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*target = value
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is FLOWRELAY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
