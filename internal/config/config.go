package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Calls     CallsConfig
	Quality   QualityConfig
	Signaling SignalingConfig
	Media     MediaConfig
	Groups    GroupsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// Store backends for call sessions.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Signaling backends.
const (
	SignalingBackendRedis  = "redis"
	SignalingBackendMemory = "memory"
)

type DBConfig struct {
	// Backend selects where sessions and audit events live: postgres or memory.
	Backend string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies embedded migrations at startup.
	AutoMigrate bool
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type CallsConfig struct {
	RingTimeout     time.Duration
	SweepInterval   time.Duration
	SweepMaxBackoff time.Duration
}

type QualityConfig struct {
	// StaleAfter marks a participant's latest sample stale in snapshots.
	StaleAfter time.Duration
}

type SignalingConfig struct {
	// Backend is redis (cross-node fan-out) or memory (single node).
	Backend string
	// MaxSocketsPerUser caps concurrent devices per user; 0 disables the cap.
	MaxSocketsPerUser int
}

type MediaConfig struct {
	// WebhookSecret signs failure reports from the media transport.
	WebhookSecret string
}

type GroupsConfig struct {
	// MembershipURL is the base URL of the chat service that answers group
	// membership. Empty disables joining group calls without an invite.
	MembershipURL string
	Timeout       time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if c.DB.Backend == "" {
		c.DB.Backend = StoreBackendPostgres
	}
	c.Signaling.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("SIGNALING_BACKEND")))
	if c.Signaling.Backend == "" {
		c.Signaling.Backend = SignalingBackendRedis
	}

	if c.DB.Backend == StoreBackendPostgres {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
		c.DB.AutoMigrate = optionalBool("DB_AUTO_MIGRATE")
	}

	if c.Signaling.Backend == SignalingBackendRedis {
		c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
		{
			n, err := mustInt("REDIS_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.Redis.Port = n
		}
		{
			n, err := optionalInt("SIGNALING_MAX_SOCKETS_PER_USER")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.Signaling.MaxSocketsPerUser = n
		}
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Calls.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	c.Calls.SweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Calls.SweepMaxBackoff = mustDuration("CALL_SWEEP_MAX_BACKOFF")
	c.Quality.StaleAfter = mustDuration("QUALITY_STALE_AFTER")

	c.Media.WebhookSecret = os.Getenv("MEDIA_WEBHOOK_SECRET")

	c.Groups.MembershipURL = strings.TrimSpace(os.Getenv("GROUP_MEMBERSHIP_URL"))
	c.Groups.Timeout = mustDuration("GROUP_MEMBERSHIP_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Backend == "" {
		c.DB.Backend = StoreBackendPostgres
	}
	switch c.DB.Backend {
	case StoreBackendPostgres:
		errs = append(errs, c.validateDB()...)
	case StoreBackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of postgres, memory, got %q", c.DB.Backend))
	}

	if c.Signaling.Backend == "" {
		c.Signaling.Backend = SignalingBackendRedis
	}
	switch c.Signaling.Backend {
	case SignalingBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Signaling.MaxSocketsPerUser < 0 {
			errs = append(errs, errors.New("SIGNALING_MAX_SOCKETS_PER_USER must be >= 0"))
		}
	case SignalingBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("SIGNALING_BACKEND must be one of redis, memory, got %q", c.Signaling.Backend))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Media.WebhookSecret == "" {
			errs = append(errs, errors.New("MEDIA_WEBHOOK_SECRET is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Calls.RingTimeout <= 0 {
		c.Calls.RingTimeout = 45 * time.Second
	}
	if c.Calls.SweepInterval <= 0 {
		c.Calls.SweepInterval = 5 * time.Second
	}
	if c.Calls.SweepMaxBackoff <= 0 {
		c.Calls.SweepMaxBackoff = time.Minute
	}
	if c.Calls.SweepInterval > c.Calls.RingTimeout {
		errs = append(errs, errors.New("CALL_SWEEP_INTERVAL must not exceed CALL_RING_TIMEOUT"))
	}
	if c.Calls.SweepMaxBackoff < c.Calls.SweepInterval {
		errs = append(errs, errors.New("CALL_SWEEP_MAX_BACKOFF must be >= CALL_SWEEP_INTERVAL"))
	}
	if c.Quality.StaleAfter <= 0 {
		c.Quality.StaleAfter = 15 * time.Second
	}

	if c.Groups.MembershipURL != "" {
		u, err := url.Parse(c.Groups.MembershipURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("GROUP_MEMBERSHIP_URL must be an absolute http(s) url, got %q", c.Groups.MembershipURL))
		}
	}
	if c.Groups.Timeout <= 0 {
		c.Groups.Timeout = 3 * time.Second
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
