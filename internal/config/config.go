package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	DatabaseURL string

	RedisEnabled bool
	RedisAddr    string
	RedisDB      int

	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RefreshPepper string

	VerificationCodeTTL     time.Duration
	VerificationCodeDigits  int
	VerificationMaxAttempts int

	EmailEnabled bool
	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	CORSOrigins []string

	APIRateLimitRPM            int
	AuthRateLimitRPM           int
	PasswordForgotRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, with an optional .env file
// that never overrides already-set variables.
func Load(ctx context.Context) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			recordConfigValidationEvent(ctx, envOr("APP_ENV", "dev"), "failure", "load")
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:   envOr("APP_ENV", "dev"),
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisEnabled: envBool("REDIS_ENABLED", false),
		RedisAddr:    envOr("REDIS_ADDR", "localhost:6379"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     envOr("JWT_ISSUER", "credential-session-service"),
		JWTAudience:   envOr("JWT_AUDIENCE", "credential-session-users"),
		RefreshPepper: os.Getenv("REFRESH_TOKEN_PEPPER"),

		EmailEnabled: envBool("EMAIL_ENABLED", false),
		SMTPAddr:     envOr("SMTP_ADDR", "localhost:25"),
		SMTPFrom:     envOr("SMTP_FROM", "no-reply@localhost"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		OTELServiceName:          envOr("OTEL_SERVICE_NAME", "credential-session-service"),
		OTELEnvironment:          envOr("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:       envBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:        envBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:          envBool("OTEL_LOGS_ENABLED", false),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.AccessTTL, err = envDurationSeconds("JWT_ACCESS_TOKEN_EXPIRATION", 1800); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.RefreshTTL, err = envDurationSeconds("JWT_REFRESH_TOKEN_EXPIRATION", 86400); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.VerificationCodeTTL, err = envDurationSeconds("VERIFICATION_CODE_TTL", 3600); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.VerificationCodeDigits, err = envInt("VERIFICATION_CODE_DIGITS", 6); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.VerificationMaxAttempts, err = envInt("VERIFICATION_MAX_ATTEMPTS", 5); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.APIRateLimitRPM, err = envInt("API_RATE_LIMIT_RPM", 600); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.AuthRateLimitRPM, err = envInt("AUTH_RATE_LIMIT_RPM", 60); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.PasswordForgotRateLimitRPM, err = envInt("PASSWORD_FORGOT_RATE_LIMIT_RPM", 5); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.OTELMetricsExportInterval, err = envDurationSeconds("OTEL_METRICS_EXPORT_INTERVAL", 30); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}
	if cfg.ShutdownTimeout, err = envDurationSeconds("SHUTDOWN_TIMEOUT", 15); err != nil {
		return nil, classifyAndFail(ctx, cfg.AppEnv, err)
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.AppEnv, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.AppEnv, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.RefreshPepper == "" {
		problems = append(problems, "REFRESH_TOKEN_PEPPER is required")
	}
	if c.AccessTTL <= 0 {
		problems = append(problems, "JWT_ACCESS_TOKEN_EXPIRATION must be positive")
	}
	if c.RefreshTTL <= 0 {
		problems = append(problems, "JWT_REFRESH_TOKEN_EXPIRATION must be positive")
	}
	if c.VerificationCodeTTL <= 0 {
		problems = append(problems, "VERIFICATION_CODE_TTL must be positive")
	}
	if c.VerificationMaxAttempts <= 0 {
		problems = append(problems, "VERIFICATION_MAX_ATTEMPTS must be positive")
	}
	if c.EmailEnabled && c.SMTPAddr == "" {
		problems = append(problems, "SMTP_ADDR is required when EMAIL_ENABLED")
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func classifyAndFail(ctx context.Context, profile string, err error) error {
	recordConfigValidationEvent(ctx, profile, "failure", classifyConfigLoadError(err))
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envDurationSeconds(key string, fallbackSeconds int) (time.Duration, error) {
	n, err := envInt(key, fallbackSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
