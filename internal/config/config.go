package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PolicyCredits = "credits"
	PolicyQuota   = "quota"
)

type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	JWTSecret   string

	GoogleAPIKey   string
	MistralAPIKey  string
	MistralBaseURL string
	AnalysisModel  string
	MarkupModel    string
	ModelTimeout   time.Duration

	FlowchartPolicy      string
	DailyLimit           int
	SignupCredits        int
	RequireVerifiedEmail bool
	MaxPayloadBytes      int64

	RedisURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	PublicBaseURL       string
	AllowedOrigins      []string
}

// Load reads .env (if any) into the environment and resolves every key
// through viper so defaults live in one place.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		HTTPPort:    v.GetString("HTTP_PORT"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),
		JWTSecret:   v.GetString("JWT_SECRET"),

		GoogleAPIKey:   v.GetString("GOOGLE_API_KEY"),
		MistralAPIKey:  v.GetString("MISTRAL_API_KEY"),
		MistralBaseURL: v.GetString("MISTRAL_BASE_URL"),
		AnalysisModel:  v.GetString("ANALYSIS_MODEL"),
		MarkupModel:    v.GetString("MARKUP_MODEL"),
		ModelTimeout:   v.GetDuration("MODEL_TIMEOUT"),

		FlowchartPolicy:      strings.ToLower(v.GetString("FLOWCHART_POLICY")),
		DailyLimit:           v.GetInt("DAILY_LIMIT"),
		SignupCredits:        v.GetInt("SIGNUP_CREDITS"),
		RequireVerifiedEmail: v.GetBool("REQUIRE_VERIFIED_EMAIL"),
		MaxPayloadBytes:      v.GetInt64("MAX_PAYLOAD_BYTES"),

		RedisURL: v.GetString("REDIS_URL"),

		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		PublicBaseURL:       strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		AllowedOrigins:      splitList(v.GetString("ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DATABASE_URL", "codetoflows.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("MISTRAL_BASE_URL", "https://api.mistral.ai")
	v.SetDefault("ANALYSIS_MODEL", "gemini-2.0-flash")
	v.SetDefault("MARKUP_MODEL", "codestral-latest")
	v.SetDefault("MODEL_TIMEOUT", "60s")
	v.SetDefault("FLOWCHART_POLICY", PolicyCredits)
	v.SetDefault("DAILY_LIMIT", 50)
	v.SetDefault("SIGNUP_CREDITS", 3)
	v.SetDefault("REQUIRE_VERIFIED_EMAIL", true)
	v.SetDefault("MAX_PAYLOAD_BYTES", 100*1024)
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("ALLOWED_ORIGINS", "*")
}

// Validate checks the settings every command needs. Model keys are only
// required by the server and are checked there.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	if c.FlowchartPolicy != PolicyCredits && c.FlowchartPolicy != PolicyQuota {
		return fmt.Errorf("FLOWCHART_POLICY must be %q or %q, got %q", PolicyCredits, PolicyQuota, c.FlowchartPolicy)
	}
	if c.DailyLimit <= 0 {
		return fmt.Errorf("DAILY_LIMIT must be positive, got %d", c.DailyLimit)
	}
	if c.SignupCredits < 0 {
		return fmt.Errorf("SIGNUP_CREDITS must not be negative, got %d", c.SignupCredits)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive, got %s", c.ModelTimeout)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
