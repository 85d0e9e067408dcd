package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// GatewayConfig holds payment-gateway credentials and tuning resolved from env.
type GatewayConfig struct {
	APIBaseURL         string `validate:"required,url"`
	APIKey             string `validate:"required"`
	WebhookSecret      string `validate:"required"`
	SignatureTolerance time.Duration
	RequestTimeout     time.Duration
}

// MailConfig holds transactional-mail provider credentials resolved from env.
type MailConfig struct {
	APIBaseURL  string `validate:"required,url"`
	APIKey      string `validate:"required"`
	FromAddress string `validate:"required,email"`
	FromName    string
}

var validate = validator.New()

// LoadGatewayConfig resolves gateway settings from env and validates them.
// Env:
// - GATEWAY_API_BASE_URL (default https://api.paygate.dev)
// - GATEWAY_API_KEY
// - GATEWAY_WEBHOOK_SECRET
// - GATEWAY_SIGNATURE_TOLERANCE_SECONDS (default 300)
// - GATEWAY_REQUEST_TIMEOUT_SECONDS (default 15)
func LoadGatewayConfig() (GatewayConfig, error) {
	cfg := GatewayConfig{
		APIBaseURL:         strings.TrimSpace(os.Getenv("GATEWAY_API_BASE_URL")),
		APIKey:             strings.TrimSpace(os.Getenv("GATEWAY_API_KEY")),
		WebhookSecret:      strings.TrimSpace(os.Getenv("GATEWAY_WEBHOOK_SECRET")),
		SignatureTolerance: time.Duration(IntFromEnv("GATEWAY_SIGNATURE_TOLERANCE_SECONDS", 300)) * time.Second,
		RequestTimeout:     time.Duration(IntFromEnv("GATEWAY_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.paygate.dev"
	}
	if err := validate.Struct(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// LoadMailConfig resolves mail provider settings from env and validates them.
// Env:
// - MAIL_API_BASE_URL
// - MAIL_API_KEY
// - MAIL_FROM_ADDRESS
// - MAIL_FROM_NAME (default "darkmart")
func LoadMailConfig() (MailConfig, error) {
	cfg := MailConfig{
		APIBaseURL:  strings.TrimSpace(os.Getenv("MAIL_API_BASE_URL")),
		APIKey:      strings.TrimSpace(os.Getenv("MAIL_API_KEY")),
		FromAddress: strings.TrimSpace(os.Getenv("MAIL_FROM_ADDRESS")),
		FromName:    strings.TrimSpace(os.Getenv("MAIL_FROM_NAME")),
	}
	if cfg.FromName == "" {
		cfg.FromName = "darkmart"
	}
	if err := validate.Struct(cfg); err != nil {
		return MailConfig{}, err
	}
	return cfg, nil
}
