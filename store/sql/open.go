package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-entitlements/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const defaultPingTimeout = 5 * time.Second

// PersistenceConfig describes the database behind the profile store.
// Driver is a database/sql driver name: "postgres" or "sqlite3".
type PersistenceConfig struct {
	Driver         string        `koanf:"driver" json:"driver"`
	DSN            string        `koanf:"dsn" json:"dsn"`
	Debug          bool          `koanf:"debug" json:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout" json:"ping_timeout"`
	OtelIdentifier string        `koanf:"otel_identifier" json:"otel_identifier"`
	MaxOpenConns   int           `koanf:"max_open_conns" json:"max_open_conns"`
	SkipMigrations bool          `koanf:"skip_migrations" json:"skip_migrations"`
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Debug
}

func (c PersistenceConfig) GetDriver() string {
	return strings.TrimSpace(c.Driver)
}

func (c PersistenceConfig) GetServer() string {
	return strings.TrimSpace(c.DSN)
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if id := strings.TrimSpace(c.OtelIdentifier); id != "" {
		return id
	}
	return "go-entitlements"
}

// Open connects to the configured database, registers the embedded profile
// migrations for its dialect and applies them unless SkipMigrations is set.
func Open(ctx context.Context, cfg PersistenceConfig) (*persistence.Client, error) {
	dialectName, err := migrations.DialectForDriver(cfg.GetDriver())
	if err != nil {
		return nil, err
	}
	if cfg.GetServer() == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	sqlDB, err := sql.Open(cfg.GetDriver(), cfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.GetDriver(), err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if dialectName == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg, sqlDB, dialectFor(dialectName))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if cfg.SkipMigrations {
		return client, nil
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func dialectFor(name string) schema.Dialect {
	if name == migrations.DialectPostgres {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}
