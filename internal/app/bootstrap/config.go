package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for M04.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool

	BcryptCost   int
	CookieSecure bool

	DefaultRole string
	TokenTTL    time.Duration
	SessionTTL  time.Duration

	OTPTTL    time.Duration
	OTPDigits int

	ReferralCodeLength      int
	ReferralCodeMaxAttempts int

	SuspensionThreshold int
	DailyTargetSeconds  int
	SweepInterval       time.Duration
	SweepBatchSize      int

	KYCFeeCents          int64
	ReactivationFeeCents int64
	Currency             string

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayHTTPTimeout   time.Duration
	GatewayVerifyTimeout time.Duration

	LoginRateLimitThreshold     int
	SignupRateLimitThreshold    int
	VerifyOTPRateLimitThreshold int
	ResendOTPRateLimitThreshold int
	RateLimitWindow             time.Duration
	ResendOTPRateLimitWindow    time.Duration

	MaxDBConns         int32
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Gateway struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"gateway"`
	Gating struct {
		DailyTargetSeconds   int    `yaml:"daily_target_seconds"`
		SuspensionThreshold  int    `yaml:"suspension_threshold"`
		KYCFeeCents          int64  `yaml:"kyc_fee_cents"`
		ReactivationFeeCents int64  `yaml:"reactivation_fee_cents"`
		Currency             string `yaml:"currency"`
	} `yaml:"gating"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                   "M04-Account-Gating-Service",
		HTTPPort:                    8080,
		GRPCPort:                    9090,
		JWTKeyID:                    "m04-gating-key-1",
		AllowEphemeralJWT:           true,
		BcryptCost:                  12,
		DefaultRole:                 "user",
		TokenTTL:                    24 * time.Hour,
		SessionTTL:                  30 * 24 * time.Hour,
		OTPTTL:                      10 * time.Minute,
		OTPDigits:                   6,
		ReferralCodeLength:          8,
		ReferralCodeMaxAttempts:     10,
		SuspensionThreshold:         3,
		DailyTargetSeconds:          28800,
		SweepInterval:               time.Hour,
		SweepBatchSize:              200,
		KYCFeeCents:                 9900,
		ReactivationFeeCents:        4900,
		Currency:                    "USD",
		GatewayHTTPTimeout:          8 * time.Second,
		GatewayVerifyTimeout:        10 * time.Second,
		LoginRateLimitThreshold:     5,
		SignupRateLimitThreshold:    3,
		VerifyOTPRateLimitThreshold: 5,
		ResendOTPRateLimitThreshold: 3,
		RateLimitWindow:             time.Minute,
		ResendOTPRateLimitWindow:    5 * time.Minute,
		MaxDBConns:                  20,
		OutboxPollInterval:          2 * time.Second,
		OutboxBatchSize:             100,
		OutboxClaimTTL:              30 * time.Second,
		OutboxMaxRetries:            5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Gateway.BaseURL != "" {
			cfg.GatewayBaseURL = f.Gateway.BaseURL
		}
		if f.Gateway.APIKey != "" {
			cfg.GatewayAPIKey = f.Gateway.APIKey
		}
		if f.Gating.DailyTargetSeconds > 0 {
			cfg.DailyTargetSeconds = f.Gating.DailyTargetSeconds
		}
		if f.Gating.SuspensionThreshold > 0 {
			cfg.SuspensionThreshold = f.Gating.SuspensionThreshold
		}
		if f.Gating.KYCFeeCents > 0 {
			cfg.KYCFeeCents = f.Gating.KYCFeeCents
		}
		if f.Gating.ReactivationFeeCents > 0 {
			cfg.ReactivationFeeCents = f.Gating.ReactivationFeeCents
		}
		if f.Gating.Currency != "" {
			cfg.Currency = f.Gating.Currency
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.CookieSecure = envBool("SESSION_COOKIE_SECURE", cfg.CookieSecure)
	cfg.DefaultRole = envOrDefault("DEFAULT_ROLE", cfg.DefaultRole)
	cfg.GatewayBaseURL = envOrDefault("PAYMENT_GATEWAY_URL", cfg.GatewayBaseURL)
	cfg.GatewayAPIKey = envOrDefault("PAYMENT_GATEWAY_API_KEY", cfg.GatewayAPIKey)
	cfg.Currency = envOrDefault("PAYMENT_CURRENCY", cfg.Currency)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.OTPDigits = envInt("OTP_DIGITS", cfg.OTPDigits)
	cfg.ReferralCodeLength = envInt("REFERRAL_CODE_LENGTH", cfg.ReferralCodeLength)
	cfg.SuspensionThreshold = envInt("SUSPENSION_THRESHOLD_DAYS", cfg.SuspensionThreshold)
	cfg.DailyTargetSeconds = envInt("DAILY_TARGET_SECONDS", cfg.DailyTargetSeconds)
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.KYCFeeCents = int64(envInt("KYC_FEE_CENTS", int(cfg.KYCFeeCents)))
	cfg.ReactivationFeeCents = int64(envInt("REACTIVATION_FEE_CENTS", int(cfg.ReactivationFeeCents)))
	cfg.LoginRateLimitThreshold = envInt("LOGIN_RATE_LIMIT_THRESHOLD", cfg.LoginRateLimitThreshold)
	cfg.SignupRateLimitThreshold = envInt("SIGNUP_RATE_LIMIT_THRESHOLD", cfg.SignupRateLimitThreshold)
	cfg.VerifyOTPRateLimitThreshold = envInt("VERIFY_OTP_RATE_LIMIT_THRESHOLD", cfg.VerifyOTPRateLimitThreshold)
	cfg.ResendOTPRateLimitThreshold = envInt("RESEND_OTP_RATE_LIMIT_THRESHOLD", cfg.ResendOTPRateLimitThreshold)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.TokenTTL = time.Duration(envInt("TOKEN_EXPIRY_HOURS", int(cfg.TokenTTL.Hours()))) * time.Hour
	cfg.SessionTTL = time.Duration(envInt("SESSION_EXPIRY_DAYS", int(cfg.SessionTTL.Hours()/24))) * 24 * time.Hour
	cfg.OTPTTL = time.Duration(envInt("OTP_TTL_MINUTES", int(cfg.OTPTTL.Minutes()))) * time.Minute
	cfg.SweepInterval = time.Duration(envInt("SWEEP_INTERVAL_MINUTES", int(cfg.SweepInterval.Minutes()))) * time.Minute
	cfg.GatewayHTTPTimeout = time.Duration(envInt("GATEWAY_HTTP_TIMEOUT_SECONDS", int(cfg.GatewayHTTPTimeout.Seconds()))) * time.Second
	cfg.GatewayVerifyTimeout = time.Duration(envInt("GATEWAY_VERIFY_TIMEOUT_SECONDS", int(cfg.GatewayVerifyTimeout.Seconds()))) * time.Second
	cfg.RateLimitWindow = time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", int(cfg.RateLimitWindow.Seconds()))) * time.Second
	cfg.ResendOTPRateLimitWindow = time.Duration(envInt("RESEND_OTP_RATE_LIMIT_WINDOW_SECONDS", int(cfg.ResendOTPRateLimitWindow.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if cfg.GatewayBaseURL == "" {
		return Config{}, fmt.Errorf("missing PAYMENT_GATEWAY_URL")
	}
	if (cfg.JWTPrivateKeyPEM == "" || cfg.JWTPublicKeyPEM == "") && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
