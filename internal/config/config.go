package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	ProviderTwilio  = "twilio"
	ProviderWebhook = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// Without a broker, vendor callbacks are reconciled inside the webhook request.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	PhoneProvider string `env:"PHONE_PROVIDER,default=webhook"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	TwilioAccountSID       string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken        string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber       string `env:"TWILIO_FROM_NUMBER"`
	TwilioVerifyServiceSID string `env:"TWILIO_VERIFY_SERVICE_SID"`

	WebhookProviderURL     string `env:"WEBHOOK_PROVIDER_URL"`
	WebhookProviderCallURL string `env:"WEBHOOK_PROVIDER_CALL_URL"`

	SubmissionTimeout       time.Duration `env:"SUBMISSION_TIMEOUT,default=10s"`
	VerificationTTL         time.Duration `env:"VERIFICATION_TTL,default=10m"`
	VerificationMaxAttempts int           `env:"VERIFICATION_MAX_ATTEMPTS,default=5"`
	RateLimitPerSec         int           `env:"RATE_LIMIT_PER_SEC,default=10"`
	WorkerConcurrency       int           `env:"WORKER_CONCURRENCY,default=4"`

	StatusPollInterval  time.Duration `env:"STATUS_POLL_INTERVAL,default=1m"`
	StatusPollAge       time.Duration `env:"STATUS_POLL_AGE,default=5m"`
	StatusPollBatchSize int           `env:"STATUS_POLL_BATCH_SIZE,default=100"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.PhoneProvider = strings.ToLower(strings.TrimSpace(cfg.PhoneProvider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the default provider has credentials.
func (c *Config) Validate() error {
	enabled := c.EnabledProviders()
	if len(enabled) == 0 {
		return fmt.Errorf("no phone provider configured: set WEBHOOK_PROVIDER_URL or TWILIO_* credentials")
	}
	if !slices.Contains(enabled, c.PhoneProvider) {
		return fmt.Errorf("PHONE_PROVIDER %q is not configured (enabled: %s)", c.PhoneProvider, strings.Join(enabled, ", "))
	}
	if c.SubmissionTimeout <= 0 {
		return fmt.Errorf("SUBMISSION_TIMEOUT must be positive")
	}
	return nil
}

// EnabledProviders lists aliases whose credentials are present, in sorted order.
func (c *Config) EnabledProviders() []string {
	providers := make([]string, 0, 2)
	if c.TwilioEnabled() {
		providers = append(providers, ProviderTwilio)
	}
	if strings.TrimSpace(c.WebhookProviderURL) != "" {
		providers = append(providers, ProviderWebhook)
	}
	return providers
}

func (c *Config) TwilioEnabled() bool {
	return strings.TrimSpace(c.TwilioAccountSID) != "" &&
		strings.TrimSpace(c.TwilioAuthToken) != "" &&
		strings.TrimSpace(c.TwilioFromNumber) != ""
}

// BrokerEnabled reports whether callbacks go through RabbitMQ.
func (c *Config) BrokerEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

// CLIConfig is the subset providerctl needs to edit live settings.
type CLIConfig struct {
	RedisURL      string `env:"REDIS_URL,required=true"`
	PhoneProvider string `env:"PHONE_PROVIDER,default=webhook"`
	LogLevel      string `env:"LOG_LEVEL,default=warn"`
}

func LoadCLI() (*CLIConfig, error) {
	var cfg CLIConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.PhoneProvider = strings.ToLower(strings.TrimSpace(cfg.PhoneProvider))
	if cfg.PhoneProvider == "" {
		return nil, fmt.Errorf("failed to load config: PHONE_PROVIDER is empty")
	}
	return &cfg, nil
}

// KnownProviders lists every alias this build can construct.
func KnownProviders() []string {
	return []string{ProviderTwilio, ProviderWebhook}
}
