package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"roomgraph/internal/config"
	"roomgraph/internal/locks"
	"roomgraph/internal/storage"
	"roomgraph/internal/storage/postgres"
	"roomgraph/internal/storage/sqlite"
	"roomgraph/internal/transport/gcp"
	"roomgraph/internal/transport/kafka"
	"roomgraph/internal/transport/memory"
	"roomgraph/internal/transport/nats"
	"roomgraph/internal/transport/rabbitmq"
	"roomgraph/internal/transport/redis"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const testRuntime = `
prefix: abuse
sources:
  - name: clean
    sanitized: true
types:
  - name: malware
customers:
  - name: isp
    asns: ["3"]
`

// testConfig is the default configuration with the memory transport and
// no persistence, independent of the environment
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Port:                 "8080",
		LogLevel:             "error",
		Transport:            "memory",
		EventCodec:           "json",
		TransportBuffer:      64,
		SessionStartAttempts: 1,
		SendTimeout:          time.Second,
		StatsEvery:           0,
		BatchSize:            16,
		DatabaseType:         "none",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Shutdown(ctx)
		app.Cleanup()
	})
	return app
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRestoreSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseType = "sqlite"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "sessions.db")

	seed, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})
	require.NoError(t, err)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, seed.Save(ctx, &storage.SessionRecord{
		ID: "old", Source: "feeds", Destination: "malware", Rule: "CONTAINS(type=malware)", CreatedAt: created,
	}))
	require.NoError(t, seed.Save(ctx, &storage.SessionRecord{
		ID: "broken", Source: "feeds", Destination: "junk", Rule: "CONTAINS(", CreatedAt: created.Add(time.Second),
	}))
	require.NoError(t, seed.Close())

	app := newTestApp(t, cfg)
	require.NoError(t, app.Start(ctx))

	sessions := app.Service.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "feeds", sessions[0].Source)
	assert.Equal(t, "malware", sessions[0].Destination)
	assert.Equal(t, "CONTAINS(type=malware)", sessions[0].Rule)

	records, err := app.Store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	ids := []string{records[0].ID, records[1].ID}
	assert.Contains(t, ids, sessions[0].ID)
	assert.Contains(t, ids, "broken")
	assert.NotContains(t, ids, "old")
	assert.True(t, records[0].CreatedAt.Equal(created))
}

func TestStartAppliesRuntime(t *testing.T) {
	cfg := testConfig(t)
	cfg.RuntimeConfig = writeFile(t, "runtime.yaml", testRuntime)

	app := newTestApp(t, cfg)
	require.NoError(t, app.Start(context.Background()))

	edges := make(map[string]string)
	for _, s := range app.Service.Sessions() {
		edges[s.Source+" -> "+s.Destination] = s.Rule
	}
	assert.Equal(t, map[string]string{
		"abuse.source.clean -> abuse.sources": "CONTAINS()",
		"abuse.sources -> abuse.type.malware": "CONTAINS(type=malware)",
		"abuse.type.malware -> abuse.types":   "CONTAINS()",
		"abuse.types -> abuse.customer.isp":   "OR(AND(OR(CONTAINS(asn=3))))",
	}, edges)
}

func TestStartRejectsBadRuntime(t *testing.T) {
	cfg := testConfig(t)
	cfg.RuntimeConfig = writeFile(t, "runtime.yaml", "prefix: [")

	app := newTestApp(t, cfg)
	assert.Error(t, app.Start(context.Background()))
	assert.Empty(t, app.Service.Sessions())
}

func TestRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = testSecret
	app := newTestApp(t, cfg)
	router := app.Router()

	token, err := app.Auth.GenerateJWT("ops", "api", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
	}{
		{name: "health is public", method: http.MethodGet, path: "/health", status: http.StatusOK},
		{name: "metrics are public", method: http.MethodGet, path: "/metrics", status: http.StatusOK},
		{name: "api needs token", method: http.MethodGet, path: "/api/sessions", status: http.StatusUnauthorized},
		{name: "api with token", method: http.MethodGet, path: "/api/sessions", token: token, status: http.StatusOK},
		{
			name: "create with token", method: http.MethodPost, path: "/api/sessions", token: token,
			body: `{"src_room": "a", "dst_room": "b"}`, status: http.StatusCreated,
		},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", token: token, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// The session created above shows up in the metrics
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "roomgraph_")
}

func TestRoutesRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIRateLimit = 1
	cfg.APIRateBurst = 1
	cfg.APIRateLimitBackend = "local"
	app := newTestApp(t, cfg)
	router := app.Router()

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	// Health checks are never limited
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, writeFile(t, "runtime.yaml", testRuntime)))

	out := buf.String()
	assert.Contains(t, out, "src_room: abuse.source.clean")
	assert.Contains(t, out, "dst_room: abuse.customer.isp")
	assert.Contains(t, out, "runtime: customer:isp")

	assert.Error(t, printSessions(&buf, ""))
}

func TestIssueToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = testSecret

	var buf bytes.Buffer
	require.NoError(t, issueToken(&buf, cfg, "ops", time.Hour))

	app := newTestApp(t, cfg)
	claims, err := app.Auth.ValidateJWT(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	cfg.JWTSecret = ""
	assert.Error(t, issueToken(&buf, cfg, "ops", time.Hour))
}

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	opts, err := parseFlags([]string{"--runtime-config", "rt.yaml", "--print-sessions", "--token-ttl", "2h"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "rt.yaml", opts.runtimeConfig)
	assert.True(t, opts.printSessions)
	assert.Equal(t, 2*time.Hour, opts.tokenTTL)

	_, err = parseFlags([]string{"--bogus"}, &out)
	assert.Error(t, err)
}

func TestTransportConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddress = "redis:6379"
	cfg.RabbitMQURL = "amqp://rabbit/"
	cfg.KafkaBrokers = []string{"k1:9092"}
	cfg.GCPProjectID = "proj"
	cfg.NATSURL = "nats://nats:4222"

	tests := []struct {
		transport string
		check     func(*testing.T, interface{})
	}{
		{"memory", func(t *testing.T, c interface{}) { assert.Equal(t, 64, c.(*memory.Config).Buffer) }},
		{"redis", func(t *testing.T, c interface{}) { assert.Equal(t, "redis:6379", c.(*redis.Config).Address) }},
		{"rabbitmq", func(t *testing.T, c interface{}) { assert.Equal(t, "amqp://rabbit/", c.(*rabbitmq.Config).URL) }},
		{"kafka", func(t *testing.T, c interface{}) { assert.Equal(t, []string{"k1:9092"}, c.(*kafka.Config).Brokers) }},
		{"gcp", func(t *testing.T, c interface{}) { assert.Equal(t, "proj", c.(*gcp.Config).ProjectID) }},
		{"nats", func(t *testing.T, c interface{}) { assert.Equal(t, "nats://nats:4222", c.(*nats.Config).URL) }},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg.Transport = tt.transport
			tc, err := transportConfig(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.transport, tc.GetType())
			tt.check(t, tc)
		})
	}

	cfg.Transport = "carrier-pigeon"
	_, err := transportConfig(cfg)
	assert.Error(t, err)
}

func TestStorageConfig(t *testing.T) {
	cfg := testConfig(t)

	sc, err := storageConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, sc)

	cfg.DatabaseType = "postgres"
	cfg.DatabaseURL = "postgres://user:secret@db:5433/sessions"
	sc, err = storageConfig(cfg)
	require.NoError(t, err)
	pg := sc.(*postgres.Config)
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, 5433, pg.Port)
	assert.NotContains(t, redactedTarget(sc), "secret")

	cfg.DatabaseType = "sqlite"
	cfg.DatabasePath = "x.db"
	sc, err = storageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "x.db", redactedTarget(sc))
}

func TestFeedLocker(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		lock  string
		check func(t *testing.T, m locks.Manager)
	}{
		{name: "none", lock: "none", check: func(t *testing.T, m locks.Manager) { assert.Nil(t, m) }},
		{name: "local", lock: "local", check: func(t *testing.T, m locks.Manager) { assert.IsType(t, &locks.LocalManager{}, m) }},
		{name: "redis", lock: "redis", check: func(t *testing.T, m locks.Manager) {
			require.IsType(t, &locks.RedsyncManager{}, m)
			lock, err := m.TryAcquire(context.Background(), "probe", time.Minute)
			require.NoError(t, err)
			assert.True(t, mr.Exists(locks.DefaultPrefix+"probe"))
			require.NoError(t, lock.Release(context.Background()))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.RedisAddress = mr.Addr()
			cfg.DShieldASNs = []string{"3"}
			cfg.DShieldRoom = "dshield"
			cfg.DShieldSchedule = "@every 1h"
			cfg.DShieldURL = "http://127.0.0.1:1/report"
			cfg.DShieldTimeout = time.Second
			cfg.DShieldLock = tt.lock
			cfg.DShieldLockTTL = time.Minute
			require.NoError(t, cfg.Validate())

			app := newTestApp(t, cfg)
			require.NotNil(t, app.Feed)
			tt.check(t, app.Locker)
		})
	}
}
