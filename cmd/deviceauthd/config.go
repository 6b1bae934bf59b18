package main

import "time"

// Config holds server configuration loaded from environment variables.
type Config struct {
	Addr            string `envconfig:"ADDR" default:":8080"`
	VerificationURI string `envconfig:"VERIFICATION_URI" required:"true"`
	ClientsFile     string `envconfig:"CLIENTS_FILE" required:"true"`

	// RedisURL selects the Redis-backed store; empty runs in-memory.
	RedisURL string `envconfig:"REDIS_URL"`

	CodeLifetime time.Duration `envconfig:"CODE_LIFETIME" default:"30m"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`

	SigningSecret  string        `envconfig:"SIGNING_SECRET" required:"true"`
	Issuer         string        `envconfig:"ISSUER" default:"deviceauthd"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokens  bool          `envconfig:"REFRESH_TOKENS" default:"false"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}
