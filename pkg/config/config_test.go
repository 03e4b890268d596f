package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var configKeys = []string{
	"PORT", "ENVIRONMENT", "DATABASE_PATH", "JWT_SECRET", "TOKEN_TTL", "CORS_ORIGINS", "MAX_UPLOAD_SIZE",
	"FILE_STORAGE_PATH", "VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBSCRIBER",
	"WS_EVENTS_PER_SECOND", "WS_EVENT_BURST",
}

// clearEnv unsets keys now and again after the test, since the env file
// loader writes straight into the process environment.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		_ = os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for _, key := range keys {
			_ = os.Unsetenv(key)
		}
	})
}

func writeEnvFile(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}

func TestLoadReadsExplicitEnvFile(t *testing.T) {
	clearEnv(t, configKeys...)

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
ENVIRONMENT=production
DATABASE_PATH=/var/lib/hellochat/hellochat.db
JWT_SECRET=super-secret
TOKEN_TTL=2h
CORS_ORIGINS=https://example.com
MAX_UPLOAD_SIZE=2048
FILE_STORAGE_PATH=/var/lib/hellochat/uploads
VAPID_PUBLIC_KEY=pub
VAPID_PRIVATE_KEY=priv
WS_EVENTS_PER_SECOND=2.5
WS_EVENT_BURST=5
`)
	t.Setenv("HELLOCHAT_ENV_FILE", envPath)

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "/var/lib/hellochat/hellochat.db", cfg.DatabasePath)
	assert.Equal(t, "/var/lib/hellochat/uploads", cfg.FileStoragePath)
	assert.Equal(t, "super-secret", cfg.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "https://example.com", cfg.CORSOrigins)
	assert.Equal(t, int64(2048), cfg.MaxUploadSize)
	assert.Equal(t, "pub", cfg.VAPIDPublicKey)
	assert.Equal(t, "priv", cfg.VAPIDPrivateKey)
	assert.Equal(t, "mailto:push@hellochat.local", cfg.VAPIDSubscriber)
	assert.Equal(t, 2.5, cfg.WSEventsPerSecond)
	assert.Equal(t, 5, cfg.WSEventBurst)
}

func TestLoadEnvVarOverridesEnvFile(t *testing.T) {
	clearEnv(t, "PORT", "DATABASE_PATH", "FILE_STORAGE_PATH", "JWT_SECRET")

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
DATABASE_PATH=/var/lib/hellochat/hellochat.db
FILE_STORAGE_PATH=/var/lib/hellochat/uploads
JWT_SECRET=file-secret
`)
	t.Setenv("HELLOCHAT_ENV_FILE", envPath)
	t.Setenv("DATABASE_PATH", "/override.db")
	t.Setenv("PORT", "7777")

	cfg := Load()

	assert.Equal(t, "7777", cfg.Port)
	assert.Equal(t, "/override.db", cfg.DatabasePath)
	assert.Equal(t, "/var/lib/hellochat/uploads", cfg.FileStoragePath)
	assert.Equal(t, "file-secret", cfg.JWTSecret)
}

func TestLoadFallsBackToDefaultsWhenNoEnvFile(t *testing.T) {
	clearEnv(t, append(configKeys, "HELLOCHAT_ENV_FILE")...)
	t.Chdir(t.TempDir())

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/hellochat.db", cfg.DatabasePath)
	assert.Equal(t, "./data/uploads", cfg.FileStoragePath)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(10485760), cfg.MaxUploadSize)
	assert.Empty(t, cfg.VAPIDPublicKey)
	assert.Equal(t, 10.0, cfg.WSEventsPerSecond)
	assert.Equal(t, 20, cfg.WSEventBurst)
}

func TestLoadReadsDotEnvInWorkingDir(t *testing.T) {
	clearEnv(t, append(configKeys, "HELLOCHAT_ENV_FILE")...)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=6060\nMAX_UPLOAD_SIZE=bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg := Load()

	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, int64(10485760), cfg.MaxUploadSize)
}
