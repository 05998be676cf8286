package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		DB:        DBConfig{Backend: StoreBackendPostgres, Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379},
		Signaling: SignalingConfig{Backend: SignalingBackendRedis},
		Auth:      AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndWebhookSecret(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and MEDIA_WEBHOOK_SECRET")
	}

	c = validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.DB.SSLMode = "require"
	c.Media.WebhookSecret = "whsec"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Calls.RingTimeout != 45*time.Second || c.Calls.SweepInterval != 5*time.Second || c.Calls.SweepMaxBackoff != time.Minute {
		t.Fatalf("unexpected call defaults: %+v", c.Calls)
	}
	if c.Quality.StaleAfter != 15*time.Second {
		t.Fatalf("unexpected stale-after default: %v", c.Quality.StaleAfter)
	}
}

func TestValidate_MemoryBackendsSkipInfra(t *testing.T) {
	c := Config{
		App:       AppConfig{Env: "dev", Port: 8080},
		DB:        DBConfig{Backend: StoreBackendMemory},
		Signaling: SignalingConfig{Backend: SignalingBackendMemory},
		Auth:      AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected memory store to be rejected in production")
	}
}

func TestValidate_RejectsSweepSlowerThanRing(t *testing.T) {
	c := validLocal()
	c.Calls.RingTimeout = 10 * time.Second
	c.Calls.SweepInterval = 30 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sweep interval above ring timeout")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SIGNALING_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_RING_TIMEOUT", "30s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if c.Calls.RingTimeout != 30*time.Second {
		t.Fatalf("expected 30s ring timeout, got %v", c.Calls.RingTimeout)
	}
}

func TestValidate_GroupMembershipURL(t *testing.T) {
	c := validLocal()
	c.Groups.MembershipURL = "chat-service/groups"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected relative membership url rejected")
	}

	c = validLocal()
	c.Groups.MembershipURL = "https://chat.internal"
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Groups.Timeout != 3*time.Second {
		t.Fatalf("expected default membership timeout, got %v", c.Groups.Timeout)
	}
}
