package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FILE", "RUNTIME_CONFIG", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"TRANSPORT", "EVENT_CODEC", "TRANSPORT_BUFFER",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "REDIS_CHANNEL_PREFIX",
	"RABBITMQ_URL", "RABBITMQ_POOL_SIZE", "RABBITMQ_EXCHANGE_PREFIX",
	"KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_TOPIC_PREFIX", "KAFKA_SECURITY_PROTOCOL",
	"KAFKA_SASL_MECHANISM", "KAFKA_SASL_USERNAME", "KAFKA_SASL_PASSWORD",
	"GCP_PROJECT_ID", "GCP_CREDENTIALS_PATH", "GCP_PUBSUB_ENDPOINT", "GCP_TOPIC_PREFIX",
	"NATS_URL", "NATS_USERNAME", "NATS_PASSWORD", "NATS_TOKEN", "NATS_SUBJECT_PREFIX",
	"SESSION_START_ATTEMPTS", "SESSION_START_BACKOFF", "SEND_TIMEOUT", "STATS_EVERY", "BATCH_SIZE",
	"DATABASE_TYPE", "DATABASE_PATH", "DATABASE_URL",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"JWT_SECRET", "API_RATE_LIMIT", "API_RATE_BURST", "API_RATE_LIMIT_BACKEND",
	"DSHIELD_ASNS", "DSHIELD_ROOM", "DSHIELD_SCHEDULE", "DSHIELD_URL", "DSHIELD_USE_CYMRU_WHOIS", "DSHIELD_TIMEOUT",
	"DSHIELD_LOCK", "DSHIELD_LOCK_TTL",
}

// clearTestEnvVars unsets every variable Load reads for the duration of the test
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want %v", config.LogLevel, "info")
	}
	if config.Transport != "memory" {
		t.Errorf("Load() Transport = %v, want %v", config.Transport, "memory")
	}
	if config.EventCodec != "json" {
		t.Errorf("Load() EventCodec = %v, want %v", config.EventCodec, "json")
	}
	if config.SessionStartAttempts != 5 {
		t.Errorf("Load() SessionStartAttempts = %v, want %v", config.SessionStartAttempts, 5)
	}
	if config.SendTimeout != 5*time.Second {
		t.Errorf("Load() SendTimeout = %v, want %v", config.SendTimeout, 5*time.Second)
	}
	if config.StatsEvery != 100 {
		t.Errorf("Load() StatsEvery = %v, want %v", config.StatsEvery, 100)
	}
	if config.DatabaseType != "none" {
		t.Errorf("Load() DatabaseType = %v, want %v", config.DatabaseType, "none")
	}
	if config.PersistenceEnabled() {
		t.Error("Load() PersistenceEnabled = true, want false")
	}
	if config.AuthEnabled() {
		t.Error("Load() AuthEnabled = true, want false")
	}
	if config.DShieldLock != "none" {
		t.Errorf("Load() DShieldLock = %v, want none", config.DShieldLock)
	}
	if len(config.DShieldASNs) != 0 {
		t.Errorf("Load() DShieldASNs = %v, want empty", config.DShieldASNs)
	}
	if !reflect.DeepEqual(config.KafkaBrokers, []string{"localhost:9092"}) {
		t.Errorf("Load() KafkaBrokers = %v", config.KafkaBrokers)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadWithEnvironment(t *testing.T) {
	clearTestEnvVars(t)

	t.Setenv("PORT", "9090")
	t.Setenv("TRANSPORT", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("EVENT_CODEC", "cbor")
	t.Setenv("SESSION_START_BACKOFF", "2s")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DSHIELD_ASNS", "3,1234")
	t.Setenv("DSHIELD_USE_CYMRU_WHOIS", "true")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Port = %v, want 9090", config.Port)
	}
	if !reflect.DeepEqual(config.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("KafkaBrokers = %v", config.KafkaBrokers)
	}
	if config.SessionStartBackoff != 2*time.Second {
		t.Errorf("SessionStartBackoff = %v, want 2s", config.SessionStartBackoff)
	}
	if !config.PersistenceEnabled() {
		t.Error("PersistenceEnabled = false, want true")
	}
	if !reflect.DeepEqual(config.DShieldASNs, []string{"3", "1234"}) {
		t.Errorf("DShieldASNs = %v", config.DShieldASNs)
	}
	if !config.DShieldUseCymruWhois {
		t.Error("DShieldUseCymruWhois = false, want true")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "bad port", modify: func(c *Config) { c.Port = "99999" }, wantErr: "PORT"},
		{name: "half tls", modify: func(c *Config) { c.TLSCertFile = "cert.pem" }, wantErr: "TLS_CERT_FILE"},
		{name: "unknown transport", modify: func(c *Config) { c.Transport = "carrier-pigeon" }, wantErr: "TRANSPORT"},
		{name: "unknown codec", modify: func(c *Config) { c.EventCodec = "xml" }, wantErr: "EVENT_CODEC"},
		{name: "redis db out of range", modify: func(c *Config) { c.Transport = "redis"; c.RedisDB = 16 }, wantErr: "REDIS_DB"},
		{name: "gcp needs project", modify: func(c *Config) { c.Transport = "gcp" }, wantErr: "GCP_PROJECT_ID"},
		{name: "kafka needs brokers", modify: func(c *Config) { c.Transport = "kafka"; c.KafkaBrokers = nil }, wantErr: "KAFKA_BROKERS"},
		{name: "unparseable attempts", modify: func(c *Config) { c.SessionStartAttempts = -1 }, wantErr: "SESSION_START_ATTEMPTS"},
		{name: "unparseable send timeout", modify: func(c *Config) { c.SendTimeout = -1 }, wantErr: "SEND_TIMEOUT"},
		{name: "zero batch", modify: func(c *Config) { c.BatchSize = 0 }, wantErr: "BATCH_SIZE"},
		{name: "unknown database", modify: func(c *Config) { c.DatabaseType = "mongo" }, wantErr: "DATABASE_TYPE"},
		{name: "postgres without host", modify: func(c *Config) { c.DatabaseType = "postgres"; c.PostgresHost = "" }, wantErr: "POSTGRES_HOST"},
		{name: "postgres url skips fields", modify: func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = ""
			c.DatabaseURL = "postgres://u@h/db"
		}},
		{name: "short jwt secret", modify: func(c *Config) { c.JWTSecret = "short" }, wantErr: "JWT_SECRET"},
		{name: "long jwt secret", modify: func(c *Config) { c.JWTSecret = strings.Repeat("s", 32) }},
		{name: "negative rate", modify: func(c *Config) { c.APIRateLimit = -1 }, wantErr: "API_RATE_LIMIT"},
		{name: "unknown rate backend", modify: func(c *Config) { c.APIRateLimit = 5; c.APIRateLimitBackend = "memcached" }, wantErr: "API_RATE_LIMIT_BACKEND"},
		{name: "zero burst", modify: func(c *Config) { c.APIRateLimit = 5; c.APIRateBurst = 0 }, wantErr: "API_RATE_BURST"},
		{name: "redis rate limiter", modify: func(c *Config) { c.APIRateLimit = 5; c.APIRateLimitBackend = "redis" }},
		{name: "bad asn", modify: func(c *Config) { c.DShieldASNs = []string{"AS3"} }, wantErr: "DSHIELD_ASNS"},
		{name: "unknown dshield lock", modify: func(c *Config) { c.DShieldASNs = []string{"3"}; c.DShieldLock = "etcd" }, wantErr: "DSHIELD_LOCK"},
		{name: "redis dshield lock", modify: func(c *Config) { c.DShieldASNs = []string{"3"}; c.DShieldLock = "redis" }},
		{name: "bad dshield room", modify: func(c *Config) { c.DShieldASNs = []string{"3"}; c.DShieldRoom = "a b" }, wantErr: "DSHIELD_ROOM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			config := Load()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetIntEnvReportsGarbage(t *testing.T) {
	t.Setenv("STATS_EVERY", "lots")
	if got := getIntEnv("STATS_EVERY", 100); got != -1 {
		t.Errorf("getIntEnv() = %d, want -1", got)
	}
}
