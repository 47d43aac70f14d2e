package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testcases := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "dynamodb", cfg.StoreDriver)
				assert.Equal(t, "Printers", cfg.PrinterTableName)
				assert.Equal(t, "PrintJobs", cfg.PrintJobTableName)
				assert.Equal(t, "kafka", cfg.PublisherDriver)
				assert.Equal(t, "printq", cfg.EventSource)
				assert.Equal(t, 3*time.Second, cfg.OutboxPollingInterval)
				assert.Equal(t, 100, cfg.OutboxBatchSize)
				assert.Zero(t, cfg.OutboxMaxPublishRate)
				assert.Equal(t, 2*time.Minute, cfg.PrinterOnlineWindow)
				assert.True(t, cfg.MetricsEnabled)
			},
		},
		{
			name: "custom store",
			envVars: map[string]string{
				"STORE_DRIVER":         "postgres",
				"DB_CONNECTION_STRING": "postgres://u:p@db:5432/x",
				"PRINTER_TABLE_NAME":   "p",
				"PRINT_JOB_TABLE_NAME": "j",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.StoreDriver)
				assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DBConnectionString)
				assert.Equal(t, "p", cfg.PrinterTableName)
				assert.Equal(t, "j", cfg.PrintJobTableName)
			},
		},
		{
			name: "custom publisher",
			envVars: map[string]string{
				"PUBLISHER_DRIVER": "redis",
				"REDIS_ADDR":       "cache:6379",
				"REDIS_DB":         "2",
				"EVENT_SOURCE":     "stickerlandia/print-service",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.PublisherDriver)
				assert.Equal(t, "cache:6379", cfg.RedisAddr)
				assert.Equal(t, 2, cfg.RedisDB)
				assert.Equal(t, "stickerlandia/print-service", cfg.EventSource)
			},
		},
		{
			name: "custom timings",
			envVars: map[string]string{
				"OUTBOX_POLLING_INTERVAL_SECONDS": "10",
				"OUTBOX_BATCH_SIZE":               "5",
				"OUTBOX_MAX_PUBLISH_RATE":         "12.5",
				"PRINTER_ONLINE_WINDOW_SECONDS":   "30",
				"METRICS_ENABLED":                 "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10*time.Second, cfg.OutboxPollingInterval)
				assert.Equal(t, 5, cfg.OutboxBatchSize)
				assert.Equal(t, 12.5, cfg.OutboxMaxPublishRate)
				assert.Equal(t, 30*time.Second, cfg.PrinterOnlineWindow)
				assert.False(t, cfg.MetricsEnabled)
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.envVars {
				t.Setenv(key, value)
			}
			tc.validate(t, Load())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("PRINTQ_DOTENV_PROBE=found\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Unsetenv("PRINTQ_DOTENV_PROBE") })

	loadDotEnv()
	assert.Equal(t, "found", os.Getenv("PRINTQ_DOTENV_PROBE"))
}
