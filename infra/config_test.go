package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("mongodb:\n  uri: mongodb://localhost:27017\n"))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Taipei", cfg.App.Timezone)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTTL())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 5*time.Second, cfg.PaymentTimeout())
	assert.Equal(t, int64(5000), cfg.Presence.CommissionThreshold)
	assert.Equal(t, 8, cfg.Presence.ReconcileWorkers)
	assert.Equal(t, 2, cfg.ExpiryJob.Hour)
	assert.Equal(t, 7, cfg.ExpiryJob.ThresholdDays)
	assert.Equal(t, 7, cfg.ExpiryJob.MinNotificationIntervalDays)
}

func TestParseConfig_ExpiryJobHour(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		hour int
	}{
		{"未設定 expiry_job", "app:\n  timezone: Asia/Taipei\n", 2},
		{"只設定分鐘", "expiry_job:\n  minute: 30\n", 2},
		{"明確設定 0 點", "expiry_job:\n  hour: 0\n", 0},
		{"超出範圍", "expiry_job:\n  hour: 25\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.hour, cfg.ExpiryJob.Hour)
		})
	}
}

func TestParseConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	cfg, err := ParseConfig([]byte(`
redis:
  addr: localhost:6379
  password: ${TEST_REDIS_PASSWORD}
  enable_keyspace_notifications: true
presence:
  heartbeat_ttl_seconds: 30
expiry_job:
  hour: 3
  minute: 15
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.True(t, cfg.Redis.EnableKeyspaceNotifications)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTTL())
	assert.Equal(t, 3, cfg.ExpiryJob.Hour)
	assert.Equal(t, 15, cfg.ExpiryJob.Minute)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  app_version: 1.2.3\n"), 0o600))

	require.NoError(t, LoadConfig(path))
	assert.Equal(t, "1.2.3", AppConfig.App.AppVersion)

	assert.Error(t, LoadConfig(filepath.Join(dir, "missing.yml")))
	_, err := ParseConfig([]byte("app: [unclosed"))
	assert.Error(t, err)
}
