package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aegis/pkg/domain"
	pstrings "aegis/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server     Server
	Database   Database
	Redis      RedisConfig
	Kafka      Kafka
	Authz      Authz
	Audit      Audit
	Compliance Compliance
	Log        Log
}

// Server captures HTTP server level configuration. UpstreamToken, when set,
// must accompany every request carrying security attribute headers.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	UpstreamToken   string
	RequestTimeout  time.Duration
}

// Database configures the postgres pool.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
	MigrateOnStart  bool
}

// RedisConfig configures the optional reference-data cache. Empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CatalogTTL   time.Duration
}

// Kafka configures the async audit transport. No brokers means async entries
// are written straight to the store.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
	Partitions    int32
	Replication   int16
}

// Enabled reports whether brokers are configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Authz configures the evaluator and reference catalog.
type Authz struct {
	SuperAdminRole  string
	RefreshInterval time.Duration
	SeedFile        string
}

// Audit configures recording and publishing.
type Audit struct {
	BufferSize           int
	BatchSize            int
	FlushInterval        time.Duration
	SyncRetries          int
	SyncTimeout          time.Duration
	ChecksumKey          string
	SupportedTerritories []domain.Territory
}

// Compliance configures the monitor and retention job.
type Compliance struct {
	ScanInterval         time.Duration
	ScanWindow           time.Duration
	DeniedThreshold      int
	ExportThreshold      int
	ApproachingThreshold int64
	PendingMaxAge        time.Duration
	RetentionGrace       time.Duration
	PurgeOnStart         bool
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

// FromEnv builds the configuration from environment variables so main stays lean.
// Malformed values fall back to defaults and are returned as warnings.
func FromEnv() (Config, []string) {
	e := &env{}
	cfg := Config{
		Server: Server{
			Addr:            e.str("AEGIS_ADDR", ":8080"),
			ShutdownTimeout: e.duration("AEGIS_SHUTDOWN_TIMEOUT", 10*time.Second),
			UpstreamToken:   e.str("AEGIS_UPSTREAM_TOKEN", ""),
			RequestTimeout:  e.duration("AEGIS_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: Database{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.int("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    e.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       e.duration("DATABASE_TX_TIMEOUT", 5*time.Second),
			MigrateOnStart:  e.bool("DATABASE_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CatalogTTL:   e.duration("REDIS_CATALOG_TTL", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers:       e.list("KAFKA_BROKERS"),
			AuditTopic:    e.str("KAFKA_AUDIT_TOPIC", "aegis.audit.entries"),
			ConsumerGroup: e.str("KAFKA_CONSUMER_GROUP", "aegis-audit-materializer"),
			Partitions:    int32(e.int("KAFKA_AUDIT_PARTITIONS", 3)),
			Replication:   int16(e.int("KAFKA_AUDIT_REPLICATION", 1)),
		},
		Authz: Authz{
			SuperAdminRole:  e.str("AUTHZ_SUPER_ADMIN_ROLE", "admin"),
			RefreshInterval: e.duration("AUTHZ_REFRESH_INTERVAL", 30*time.Second),
			SeedFile:        e.str("AUTHZ_SEED_FILE", ""),
		},
		Audit: Audit{
			BufferSize:           e.int("AUDIT_BUFFER_SIZE", 10000),
			BatchSize:            e.int("AUDIT_BATCH_SIZE", 100),
			FlushInterval:        e.duration("AUDIT_FLUSH_INTERVAL", 500*time.Millisecond),
			SyncRetries:          e.int("AUDIT_SYNC_RETRIES", 2),
			SyncTimeout:          e.duration("AUDIT_SYNC_TIMEOUT", 3*time.Second),
			ChecksumKey:          e.str("AUDIT_CHECKSUM_KEY", ""),
			SupportedTerritories: e.territories("AUDIT_TERRITORIES"),
		},
		Compliance: Compliance{
			ScanInterval:         e.duration("COMPLIANCE_SCAN_INTERVAL", 15*time.Minute),
			ScanWindow:           e.duration("COMPLIANCE_SCAN_WINDOW", time.Hour),
			DeniedThreshold:      e.int("COMPLIANCE_DENIED_THRESHOLD", 10),
			ExportThreshold:      e.int("COMPLIANCE_EXPORT_THRESHOLD", 5),
			ApproachingThreshold: int64(e.int("COMPLIANCE_APPROACHING_THRESHOLD", 10000)),
			PendingMaxAge:        e.duration("COMPLIANCE_PENDING_MAX_AGE", 24*time.Hour),
			RetentionGrace:       e.duration("COMPLIANCE_RETENTION_GRACE", 30*24*time.Hour),
			PurgeOnStart:         e.bool("COMPLIANCE_PURGE_ON_START", false),
		},
		Log: Log{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
	}
	return cfg, e.warnings
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Audit.BufferSize <= 0 || c.Audit.BatchSize <= 0 {
		return fmt.Errorf("audit buffer and batch sizes must be positive")
	}
	if c.Audit.SyncRetries < 0 {
		return fmt.Errorf("AUDIT_SYNC_RETRIES must not be negative")
	}
	// The audit_entries territory constraint only admits the default set.
	allowed := domain.NewTerritorySet(domain.DefaultTerritories...)
	for _, t := range c.Audit.SupportedTerritories {
		if !allowed.Contains(t) {
			return fmt.Errorf("territory %q is not admitted by the audit schema", t)
		}
	}
	return nil
}

type env struct {
	warnings []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not an integer, using %d", key, raw, def))
		return def
	}
	return v
}

func (e *env) bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a boolean, using %t", key, raw, def))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, raw, def))
		return def
	}
	return v
}

func (e *env) list(key string) []string {
	return pstrings.SplitList(os.Getenv(key), ",")
}

func (e *env) territories(key string) []domain.Territory {
	raw := e.list(key)
	if len(raw) == 0 {
		return domain.DefaultTerritories
	}
	out := make([]domain.Territory, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.NormalizeTerritory(r))
	}
	return out
}
