package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"fleetwatch/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type LogFunc func(format string, args ...any)

type DB struct {
	*sql.DB
	dialect Dialect
	driver  string
	logFn   LogFunc
	now     func() time.Time
}

func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := newDB(sqlDB, sqliteDialect{}, "sqlite")
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(cfg *config.DatabaseConfig) (*DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		pg := cfg.Postgres
		dsn = fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			pg.Host, pg.Port, pg.Database, pg.User, pg.Password, pg.SSLMode)
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := newDB(sqlDB, postgresDialect{}, "postgres")
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

func newDB(sqlDB *sql.DB, d Dialect, driver string) *DB {
	return &DB{DB: sqlDB, dialect: d, driver: driver, logFn: log.Printf, now: time.Now}
}

// SetLogFunc replaces the logger used for skipped-row warnings.
func (db *DB) SetLogFunc(fn LogFunc) {
	if fn != nil {
		db.logFn = fn
	}
}

func (db *DB) Dialect() Dialect { return db.dialect }
func (db *DB) Driver() string   { return db.driver }

// Q rewrites ? placeholders for PostgreSQL, passes through for SQLite.
func (db *DB) Q(query string) string {
	if db.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

// ts converts t to the column representation of the active driver.
// SQLite stores a fixed-width UTC string so that text comparison orders
// correctly; PostgreSQL takes the time value directly.
func (db *DB) ts(t time.Time) any {
	if db.driver == "postgres" {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func (db *DB) migrate() error {
	if db.dialect == nil {
		return fmt.Errorf("no schema for driver: %s", db.driver)
	}
	_, err := db.Exec(renderSchema(schema, db.dialect))
	return err
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
