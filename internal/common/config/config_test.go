package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test inside an empty directory so no stray config.yaml or .env is picked up
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("presensi-service")
	require.NoError(t, err)

	assert.Equal(t, "presensi-service", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "Asia/Jakarta", cfg.Attendance.Timezone)
	assert.Equal(t, 5*time.Second, cfg.Attendance.ZoneLookupTimeout)
	assert.Equal(t, 200.0, cfg.Attendance.MaxPlausibleSpeedKmh)
	assert.Equal(t, 10*time.Second, cfg.Attendance.SubmissionLockTTL)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)

	assert.Equal(t, 30, cfg.Risk.Weights.MockLocation)
	assert.Equal(t, 25, cfg.Risk.Weights.FakeGPSApp)
	assert.Equal(t, 15, cfg.Risk.Weights.OutOfZone)
	assert.Equal(t, 85, cfg.Risk.Thresholds.Critical)
	assert.Equal(t, 50, cfg.Risk.Thresholds.Review)

	assert.Equal(t, "Asia/Jakarta", cfg.Attendance.Location().String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PORT", "9090")
	t.Setenv("PRESENSI_ATTENDANCE_ZONE_LOOKUP_TIMEOUT", "2s")
	t.Setenv("PRESENSI_RISK_WEIGHTS_MOCK_LOCATION", "40")

	cfg, err := Load("presensi-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Attendance.ZoneLookupTimeout)
	assert.Equal(t, 40, cfg.Risk.Weights.MockLocation)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRESENSI_JOURNAL_PATH=/tmp/journal.jsonl\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PRESENSI_JOURNAL_PATH") })

	cfg, err := Load("presensi-service")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/journal.jsonl", cfg.JournalPath)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	yaml := []byte(`
attendance:
  timezone: Asia/Makassar
risk:
  thresholds:
    review: 40
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := Load("presensi-service")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Makassar", cfg.Attendance.Timezone)
	assert.Equal(t, 40, cfg.Risk.Thresholds.Review)
	assert.Equal(t, 60, cfg.Risk.Thresholds.Spoof)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PRESENSI_ATTENDANCE_TIMEZONE", "Mars/Olympus")

	_, err := Load("presensi-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attendance.timezone")
}

func TestGetCORSOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: "*"}
	assert.Equal(t, []string{"*"}, cfg.GetCORSOrigins())

	cfg.CORSAllowedOrigins = "https://a.example,https://b.example"
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.GetCORSOrigins())
}

func TestLoad_ProductionRequiresJWTSecret(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load("presensi-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestProductionWarnings(t *testing.T) {
	insecure := &Config{
		JWTSecret:          "short",
		CORSAllowedOrigins: "*",
		DatabaseURL:        "postgres://u:p@db/presensi?sslmode=disable",
		RedisURL:           "redis://cache:6379",
	}
	assert.Len(t, insecure.ProductionWarnings(), 5)

	secure := &Config{
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		CORSAllowedOrigins: "https://presensi.example",
		DatabaseURL:        "postgres://u:p@db/presensi?sslmode=require",
		RedisURL:           "redis://:secret@cache:6379",
		RateLimitRequests:  60,
	}
	assert.Empty(t, secure.ProductionWarnings())
}

func TestLoad_TLSRequiresKeyPair(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PRESENSI_TLS_ENABLED", "true")
	t.Setenv("PRESENSI_TLS_CERT_FILE", "/etc/presensi/tls.crt")

	_, err := Load("presensi-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls.key_file")

	t.Setenv("PRESENSI_TLS_KEY_FILE", "/etc/presensi/tls.key")
	cfg, err := Load("presensi-service")
	require.NoError(t, err)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "/etc/presensi/tls.key", cfg.TLS.KeyFile)
}
