// Package instancedb manages the per-instance embedded SQLite database:
// connection setup, schema migrations, and the encrypted-column support
// used for MCP OAuth tokens. Every agent instance owns exactly one file,
// opened lazily on first use and closed when the instance hibernates.
package instancedb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself as
	// "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the configuration required to open one instance's database.
type Config struct {
	// DataDir is the root directory under which per-namespace subdirectories
	// of instance database files live.
	DataDir  string
	Namespace string
	Name      string
	Logger    *zap.Logger
	LogLevel  gormlogger.LogLevel
}

// FilePath returns the on-disk path an instance's database file would be
// opened at, without opening it.
func FilePath(dataDir, namespace, name string) string {
	return filepath.Join(dataDir, namespace, name+".db")
}

// Open opens (creating if necessary) the SQLite file for one agent
// instance, applies pending migrations, and returns the ready-to-use
// *gorm.DB. Each instance gets its own file — there is no shared server to
// connect to, so there is no postgres branch here the way the ancestor
// store supported.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("instancedb: logger is required")
	}
	if cfg.Namespace == "" || cfg.Name == "" {
		return nil, fmt.Errorf("instancedb: namespace and name are required")
	}

	dir := filepath.Join(cfg.DataDir, cfg.Namespace)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("instancedb: creating data directory %q: %w", dir, err)
	}
	path := FilePath(cfg.DataDir, cfg.Namespace, cfg.Name)

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("instancedb: opening sqlite at %q: %w", path, err)
	}
	// A single instance is single-writer by construction (§5): one open
	// connection avoids SQLITE_BUSY entirely instead of relying on retries.
	sqlDB.SetMaxOpenConns(1)

	gormCfg := &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel),
	}
	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("instancedb: initializing gorm for %q: %w", path, err)
	}

	if err := runMigrations(sqlDB, cfg.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("instancedb: migrations failed for %q: %w", path, err)
	}

	return database, nil
}

// Close releases the instance's underlying *sql.DB. Called when an instance
// hibernates so its file handle does not linger for idle instances.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("instancedb: getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies that the database connection is still alive.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("instancedb: getting sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// runMigrations applies all pending up-migrations from the embedded SQL
// files. ErrNoChange is treated as success, since most instance opens find
// the schema already at the latest version.
func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	log.Debug("instance database migrations applied")
	return nil
}
