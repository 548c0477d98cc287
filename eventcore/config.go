package eventcore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BackendKind selects which storage.Backend implementation Config builds.
type BackendKind string

const (
	BackendSQLite   BackendKind = "sqlite"
	BackendPostgres BackendKind = "postgres"
)

// StorageConfig is the backend config surface: SQLite{database_path,
// max_connections?, table_name?} or its Postgres equivalent.
type StorageConfig struct {
	Kind           BackendKind `validate:"required,oneof=sqlite postgres"`
	DatabasePath   string      `validate:"required_if=Kind sqlite"`
	DSN            string      `validate:"required_if=Kind postgres"`
	MaxConnections int         `validate:"omitempty,min=1"`
	TableName      string      `validate:"omitempty,alphanum"`
	WALPreset      string      `validate:"omitempty,oneof=high-performance memory-optimized safety-first default"`
}

// QuotaConfig pairs a tenant's ResourceLimits with its billing tier.
type QuotaConfig struct {
	Tier   string `validate:"required,oneof=starter standard professional enterprise"`
	Limits ResourceLimitsConfig
}

// ResourceLimitsConfig is the per-tenant quota vector; zero means
// unbounded for that resource.
type ResourceLimitsConfig struct {
	EventsPerDay      int64
	StorageMB         int64
	ConcurrentStreams int64
	Projections       int64
	Aggregates        int64
	APICallsPerDay    int64
}

// Config is the top-level, validated configuration surface for an
// eventcore process.
type Config struct {
	Storage StorageConfig `validate:"required"`
	Quota   QuotaConfig   `validate:"required"`
}

// Validate resolves the sqlite database path to an absolute path,
// creating parent directories, then runs struct validation, returning a
// ConfigurationError (never the raw validator error) on any problem so
// callers get a stable error kind regardless of backend.
func (c *Config) Validate() error {
	if c.Storage.Kind == BackendSQLite && c.Storage.DatabasePath != "" && c.Storage.DatabasePath != ":memory:" {
		abs, err := filepath.Abs(c.Storage.DatabasePath)
		if err != nil {
			return &ConfigurationError{Field: "storage.database_path", Reason: err.Error()}
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return &ConfigurationError{Field: "storage.database_path", Reason: fmt.Sprintf("create parent dir: %v", err)}
		}
		c.Storage.DatabasePath = abs
	}
	if err := validate.Struct(c); err != nil {
		return &ConfigurationError{Field: "config", Reason: err.Error()}
	}
	return nil
}
