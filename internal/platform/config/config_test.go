package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, warnings := FromEnv()

	assert.Empty(t, warnings)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "admin", cfg.Authz.SuperAdminRole)
	assert.Equal(t, 2, cfg.Audit.SyncRetries)
	assert.Equal(t, 30*24*time.Hour, cfg.Compliance.RetentionGrace)
	assert.Equal(t, domain.DefaultTerritories, cfg.Audit.SupportedTerritories)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AEGIS_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AUDIT_TERRITORIES", "de,ch")
	t.Setenv("AUTHZ_REFRESH_INTERVAL", "1m")

	cfg, warnings := FromEnv()

	assert.Empty(t, warnings)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, []domain.Territory{"DE", "CH"}, cfg.Audit.SupportedTerritories)
	assert.Equal(t, time.Minute, cfg.Authz.RefreshInterval)
}

func TestFromEnv_MalformedFallsBack(t *testing.T) {
	t.Setenv("AUDIT_BUFFER_SIZE", "lots")
	t.Setenv("AUDIT_FLUSH_INTERVAL", "-1s")

	cfg, warnings := FromEnv()

	assert.Len(t, warnings, 2)
	assert.Equal(t, 10000, cfg.Audit.BufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Audit.FlushInterval)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, _ := FromEnv()
	require.Error(t, cfg.Validate(), "database url required")

	cfg.Database.URL = "postgres://localhost/aegis"
	require.NoError(t, cfg.Validate())

	cfg.Audit.SupportedTerritories = []domain.Territory{"FR"}
	require.Error(t, cfg.Validate())
}
