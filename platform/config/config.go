// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Component-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// StoreConfig provides settings for the file-backed lead store.
type StoreConfig interface {
	GetDataFile() string
	GetBackupDir() string
	GetBackupMaxFiles() int
	GetBackupInterval() time.Duration
}

// BackupMirrorConfig provides settings for mirroring backups to S3-compatible storage.
type BackupMirrorConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBackupBucket() string
	IsMinIOEnabled() bool
}

// GenerationConfig provides settings for the reply generator and its providers.
type GenerationConfig interface {
	GetGenerationProvider() string
	GetMoonshotAPIKey() string
	GetMoonshotModel() string
	GetAnthropicAPIKey() string
	GetAnthropicModel() string
	GetAnthropicBaseURL() string
	GetGenerationMaxAttempts() int
	GetGenerationBaseDelay() time.Duration
	GetGenerationTimeout() time.Duration
	GetIntentTablePath() string
	GetABVariants() []string
}

// DispatchConfig provides settings for the outbound dispatcher.
type DispatchConfig interface {
	GetDailySendLimit() int
	GetLeadDailySendLimit() int
	GetTypingDelayPerChar() time.Duration
	GetMaxTypingDelay() time.Duration
	GetInboundBatchWindow() time.Duration
}

// FollowUpConfig provides settings for the follow-up scheduler.
type FollowUpConfig interface {
	GetFollowUpDelay() time.Duration
	GetFollowUpMaxAttempts() int
	GetFollowUpInterval() time.Duration
	GetNightStartHour() int
	GetNightEndHour() int
	GetDefaultUTCOffsetHours() int
}

// TransportConfig provides settings for the messaging gateway.
type TransportConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetManagerChatID() string
}

// VoiceConfig provides settings for speech synthesis and recognition.
type VoiceConfig interface {
	GetElevenLabsAPIKey() string
	GetElevenLabsVoiceID() string
	GetElevenLabsBaseURL() string
	GetVoiceRatio() float64
	IsVoiceEnabled() bool
}

// MarketConfig provides settings for market-data lookups.
type MarketConfig interface {
	GetMarketCacheTTL() time.Duration
	GetMarketProviderTimeout() time.Duration
	GetMarketRedisURL() string
}

// SchedulerConfig provides settings for the optional task queue.
type SchedulerConfig interface {
	GetSchedulerRedisURL() string
	IsTaskQueueEnabled() bool
}

// AMQPConfig provides settings for the inbound AMQP consumer.
type AMQPConfig interface {
	GetAMQPURL() string
	GetAMQPQueue() string
	IsAMQPEnabled() bool
}

// EmailConfig provides settings for manager notices over SMTP.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromAddress() string
	GetManagerEmail() string
	IsEmailEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetVersion() string
	GetWebhookSecret() string
}

// JWTConfig provides JWT validation settings for operator commands.
type JWTConfig interface {
	GetJWTSecret() string
	IsDebugEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	Version               string
	HTTPAddr              string
	CORSAllowAll          bool
	CORSOrigins           []string
	JWTSecret             string
	DebugEnabled          bool
	DataFile              string
	BackupDir             string
	BackupMaxFiles        int
	BackupInterval        time.Duration
	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOUseSSL           bool
	MinIOBackupBucket     string
	GenerationProvider    string
	MoonshotAPIKey        string
	MoonshotModel         string
	AnthropicAPIKey       string
	AnthropicModel        string
	AnthropicBaseURL      string
	GenerationMaxAttempts int
	GenerationBaseDelay   time.Duration
	GenerationTimeout     time.Duration
	IntentTablePath       string
	ABVariants            []string
	DailySendLimit        int
	LeadDailySendLimit    int
	TypingDelayPerChar    time.Duration
	MaxTypingDelay        time.Duration
	InboundBatchWindow    time.Duration
	FollowUpDelay         time.Duration
	FollowUpMaxAttempts   int
	FollowUpInterval      time.Duration
	NightStartHour        int
	NightEndHour          int
	DefaultUTCOffsetHours int
	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDeviceID      string
	ManagerChatID         string
	ElevenLabsAPIKey      string
	ElevenLabsVoiceID     string
	ElevenLabsBaseURL     string
	VoiceRatio            float64
	MarketCacheTTL        time.Duration
	MarketProviderTimeout time.Duration
	MarketRedisURL        string
	SchedulerRedisURL     string
	AMQPURL               string
	AMQPQueue             string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailFromAddress      string
	ManagerEmail          string
	WebhookSecret         string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// StoreConfig implementation
func (c *Config) GetDataFile() string              { return c.DataFile }
func (c *Config) GetBackupDir() string             { return c.BackupDir }
func (c *Config) GetBackupMaxFiles() int           { return c.BackupMaxFiles }
func (c *Config) GetBackupInterval() time.Duration { return c.BackupInterval }

// BackupMirrorConfig implementation
func (c *Config) GetMinIOEndpoint() string     { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string    { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string    { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool         { return c.MinIOUseSSL }
func (c *Config) GetMinIOBackupBucket() string { return c.MinIOBackupBucket }
func (c *Config) IsMinIOEnabled() bool         { return c.MinIOEndpoint != "" }

// GenerationConfig implementation
func (c *Config) GetGenerationProvider() string         { return c.GenerationProvider }
func (c *Config) GetMoonshotAPIKey() string             { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotModel() string              { return c.MoonshotModel }
func (c *Config) GetAnthropicAPIKey() string            { return c.AnthropicAPIKey }
func (c *Config) GetAnthropicModel() string             { return c.AnthropicModel }
func (c *Config) GetAnthropicBaseURL() string           { return c.AnthropicBaseURL }
func (c *Config) GetGenerationMaxAttempts() int         { return c.GenerationMaxAttempts }
func (c *Config) GetGenerationBaseDelay() time.Duration { return c.GenerationBaseDelay }
func (c *Config) GetGenerationTimeout() time.Duration   { return c.GenerationTimeout }
func (c *Config) GetIntentTablePath() string            { return c.IntentTablePath }
func (c *Config) GetABVariants() []string               { return c.ABVariants }

// DispatchConfig implementation
func (c *Config) GetDailySendLimit() int               { return c.DailySendLimit }
func (c *Config) GetLeadDailySendLimit() int           { return c.LeadDailySendLimit }
func (c *Config) GetTypingDelayPerChar() time.Duration { return c.TypingDelayPerChar }
func (c *Config) GetMaxTypingDelay() time.Duration     { return c.MaxTypingDelay }
func (c *Config) GetInboundBatchWindow() time.Duration { return c.InboundBatchWindow }

// FollowUpConfig implementation
func (c *Config) GetFollowUpDelay() time.Duration    { return c.FollowUpDelay }
func (c *Config) GetFollowUpMaxAttempts() int        { return c.FollowUpMaxAttempts }
func (c *Config) GetFollowUpInterval() time.Duration { return c.FollowUpInterval }
func (c *Config) GetNightStartHour() int             { return c.NightStartHour }
func (c *Config) GetNightEndHour() int               { return c.NightEndHour }
func (c *Config) GetDefaultUTCOffsetHours() int      { return c.DefaultUTCOffsetHours }

// TransportConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }
func (c *Config) GetManagerChatID() string    { return c.ManagerChatID }

// VoiceConfig implementation
func (c *Config) GetElevenLabsAPIKey() string  { return c.ElevenLabsAPIKey }
func (c *Config) GetElevenLabsVoiceID() string { return c.ElevenLabsVoiceID }
func (c *Config) GetElevenLabsBaseURL() string { return c.ElevenLabsBaseURL }
func (c *Config) GetVoiceRatio() float64       { return c.VoiceRatio }
func (c *Config) IsVoiceEnabled() bool {
	return c.ElevenLabsAPIKey != "" && c.ElevenLabsVoiceID != ""
}

// MarketConfig implementation
func (c *Config) GetMarketCacheTTL() time.Duration        { return c.MarketCacheTTL }
func (c *Config) GetMarketProviderTimeout() time.Duration { return c.MarketProviderTimeout }
func (c *Config) GetMarketRedisURL() string               { return c.MarketRedisURL }

// SchedulerConfig implementation
func (c *Config) GetSchedulerRedisURL() string { return c.SchedulerRedisURL }
func (c *Config) IsTaskQueueEnabled() bool     { return c.SchedulerRedisURL != "" }

// AMQPConfig implementation
func (c *Config) GetAMQPURL() string   { return c.AMQPURL }
func (c *Config) GetAMQPQueue() string { return c.AMQPQueue }
func (c *Config) IsAMQPEnabled() bool  { return c.AMQPURL != "" }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetManagerEmail() string     { return c.ManagerEmail }
func (c *Config) IsEmailEnabled() bool {
	return c.SMTPHost != "" && c.ManagerEmail != ""
}

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetVersion() string       { return c.Version }
func (c *Config) GetWebhookSecret() string { return c.WebhookSecret }

// JWTConfig implementation
func (c *Config) GetJWTSecret() string { return c.JWTSecret }
func (c *Config) IsDebugEnabled() bool { return c.DebugEnabled }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		Version:               getEnv("APP_VERSION", "dev"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		JWTSecret:             getEnv("JWT_SECRET", ""),
		DebugEnabled:          strings.EqualFold(getEnv("DEBUG_COMMANDS", "false"), "true"),
		DataFile:              getEnv("DATA_FILE", "data/leads.json"),
		BackupDir:             getEnv("BACKUP_DIR", "data/backups"),
		BackupMaxFiles:        mustInt(getEnv("BACKUP_MAX_FILES", "48")),
		BackupInterval:        mustDuration(getEnv("BACKUP_INTERVAL", "1h")),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:           strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBackupBucket:     getEnv("MINIO_BUCKET_BACKUPS", "lead-backups"),
		GenerationProvider:    strings.ToLower(getEnv("GENERATION_PROVIDER", "anthropic")),
		MoonshotAPIKey:        getEnv("MOONSHOT_API_KEY", ""),
		MoonshotModel:         getEnv("MOONSHOT_MODEL", "kimi-k2-0711-preview"),
		AnthropicAPIKey:       getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:        getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		AnthropicBaseURL:      getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		GenerationMaxAttempts: mustInt(getEnv("GENERATION_MAX_ATTEMPTS", "3")),
		GenerationBaseDelay:   mustDuration(getEnv("GENERATION_BASE_DELAY", "2s")),
		GenerationTimeout:     mustDuration(getEnv("GENERATION_TIMEOUT", "30s")),
		IntentTablePath:       getEnv("INTENT_TABLE_PATH", ""),
		ABVariants:            splitCSV(getEnv("AB_VARIANTS", "a,b")),
		DailySendLimit:        mustInt(getEnv("DAILY_SEND_LIMIT", "200")),
		LeadDailySendLimit:    mustInt(getEnv("LEAD_DAILY_SEND_LIMIT", "50")),
		TypingDelayPerChar:    mustDuration(getEnv("TYPING_DELAY_PER_CHAR", "30ms")),
		MaxTypingDelay:        mustDuration(getEnv("MAX_TYPING_DELAY", "8s")),
		InboundBatchWindow:    mustDuration(getEnv("INBOUND_BATCH_WINDOW", "3s")),
		FollowUpDelay:         mustDuration(getEnv("FOLLOWUP_DELAY", "3h")),
		FollowUpMaxAttempts:   mustInt(getEnv("FOLLOWUP_MAX_ATTEMPTS", "2")),
		FollowUpInterval:      mustDuration(getEnv("FOLLOWUP_CHECK_INTERVAL", "5m")),
		NightStartHour:        mustInt(getEnv("NIGHT_START_HOUR", "23")),
		NightEndHour:          mustInt(getEnv("NIGHT_END_HOUR", "7")),
		DefaultUTCOffsetHours: mustInt(getEnv("DEFAULT_UTC_OFFSET_HOURS", "3")),
		WhatsAppURL:           getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:           getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:      getEnv("WHATSAPP_DEVICE_ID", ""),
		ManagerChatID:         getEnv("MANAGER_CHAT_ID", ""),
		ElevenLabsAPIKey:      getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		ElevenLabsBaseURL:     getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		VoiceRatio:            mustFloat(getEnv("VOICE_RATIO", "0.25")),
		MarketCacheTTL:        mustDuration(getEnv("MARKET_CACHE_TTL", "30m")),
		MarketProviderTimeout: mustDuration(getEnv("MARKET_PROVIDER_TIMEOUT", "10s")),
		MarketRedisURL:        getEnv("MARKET_REDIS_URL", ""),
		SchedulerRedisURL:     getEnv("SCHEDULER_REDIS_URL", ""),
		AMQPURL:               getEnv("AMQP_URL", ""),
		AMQPQueue:             getEnv("AMQP_QUEUE", "chat.inbound"),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		ManagerEmail:          getEnv("MANAGER_EMAIL", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.GenerationProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when GENERATION_PROVIDER is anthropic")
		}
	case "moonshot":
		if c.MoonshotAPIKey == "" {
			return fmt.Errorf("MOONSHOT_API_KEY is required when GENERATION_PROVIDER is moonshot")
		}
	default:
		return fmt.Errorf("GENERATION_PROVIDER must be anthropic or moonshot, got %q", c.GenerationProvider)
	}
	if c.WhatsAppURL == "" {
		return fmt.Errorf("WHATSAPP_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GenerationMaxAttempts < 1 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.GenerationBaseDelay <= 0 || c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_BASE_DELAY and GENERATION_TIMEOUT must be positive durations")
	}
	if c.FollowUpDelay <= 0 || c.FollowUpInterval <= 0 {
		return fmt.Errorf("FOLLOWUP_DELAY and FOLLOWUP_CHECK_INTERVAL must be positive durations")
	}
	if c.BackupMaxFiles < 1 {
		return fmt.Errorf("BACKUP_MAX_FILES must be at least 1")
	}
	if c.NightStartHour < 0 || c.NightStartHour > 23 || c.NightEndHour < 0 || c.NightEndHour > 23 {
		return fmt.Errorf("NIGHT_START_HOUR and NIGHT_END_HOUR must be between 0 and 23")
	}
	if len(c.ABVariants) == 0 {
		return fmt.Errorf("AB_VARIANTS must list at least one variant")
	}
	if c.MinIOEndpoint != "" && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if c.IsEmailEnabled() && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP_HOST and MANAGER_EMAIL are set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
