package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/GuiaBolso/darwin"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skylantern/voicetime/internal/database/migrations"
	"github.com/skylantern/voicetime/internal/models"
)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	driver  string
	dialect darwin.Dialect
}

// New opens the database named by dsn and brings its schema up to date.
// postgres:// and postgresql:// DSNs use lib/pq; anything else is a sqlite path.
func New(dsn string) (*DB, error) {
	driver, dialect := driverFor(dsn)

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", transient(err))
	}

	db := &DB{conn: conn, driver: driver, dialect: dialect}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.checkSchema(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

func driverFor(dsn string) (string, darwin.Dialect) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", darwin.PostgresDialect{}
	}
	return "sqlite3", darwin.SqliteDialect{}
}

// migrate applies the embedded scripts in file name order.
func (db *DB) migrate() error {
	list, err := loadMigrations(migrations.Files)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w: %w", models.ErrStoragePermanent, err)
	}

	driver := darwin.NewGenericDriver(db.conn, db.dialect)
	if err := darwin.New(driver, list, nil).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w: %w", models.ErrStoragePermanent, err)
	}
	return nil
}

// loadMigrations turns NNNN_description.sql files into darwin migrations.
func loadMigrations(files fs.FS) ([]darwin.Migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	list := make([]darwin.Migration, 0, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(name, ".sql")
		prefix, desc, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: expected NNNN_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		script, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		list = append(list, darwin.Migration{
			Version:     float64(version),
			Description: strings.ReplaceAll(desc, "_", " "),
			Script:      string(script),
		})
	}
	return list, nil
}

// checkSchema queries every table the repository depends on.
func (db *DB) checkSchema() error {
	queries := []string{
		`SELECT user_id, channel_id, local_date, seconds FROM voice_time WHERE 1 = 0`,
		`SELECT id, tag FROM tracked_channel WHERE 1 = 0`,
		`SELECT channel_id, category_id FROM deleted_channel WHERE 1 = 0`,
		`SELECT user_id, quest_key, window_key, awarded_at FROM quest_award WHERE 1 = 0`,
	}
	for _, q := range queries {
		rows, err := db.conn.Query(q)
		if err != nil {
			return fmt.Errorf("schema mismatch: %w: %w", models.ErrStoragePermanent, err)
		}
		rows.Close()
	}
	return nil
}

func transient(err error) error {
	return fmt.Errorf("%w: %w", models.ErrStorageTransient, err)
}
