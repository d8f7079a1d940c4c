package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps the shared SQLite connection pool backing the tokens,
// archives, keys, stats and files repositories. They all embed the
// same *sql.DB rather than keeping separate pools, since SQLite
// serializes writers across connections anyway.
type DB struct {
	conn *sql.DB
}

// Config holds the on-disk location of the database file.
type Config struct {
	Path string
}

// Open opens (creating if necessary) the SQLite database at
// config.Path, tunes it for a read-heavy streaming workload, and
// applies any pending migrations.
func Open(config Config) (*DB, error) {
	connString := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_busy_timeout=30000", config.Path)

	conn, err := sql.Open("sqlite3", connString)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	conn.SetMaxOpenConns(15)
	conn.SetMaxIdleConns(8)
	conn.SetConnMaxIdleTime(45 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn returns the underlying connection pool, for repositories in
// sibling packages (tokens, archives, keys, stats) that share this
// database file.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// runMigrations applies embedded .sql files in lexical order, tracking
// applied versions in a schema_migrations table. Migration files are
// authored in goose's annotated format for readability (-- +goose Up /
// -- +goose Down) but are applied by stripping those annotations and
// executing the Up section directly, rather than through the goose
// library: the original codebase this was adapted from lists goose as
// a dependency but its own migration runner never calls it either, so
// there is no precedent here for wiring the library in for real.
func runMigrations(db *sql.DB) error {
	const createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.TrimSuffix(filename, ".sql")

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration status %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := embedMigrations.ReadFile(filepath.Join("migrations", filename))
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(cleanMigrationSQL(string(content))); err != nil {
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	return nil
}

// cleanMigrationSQL strips goose section annotations and returns the
// Up section only.
func cleanMigrationSQL(sql string) string {
	lines := strings.Split(sql, "\n")
	var clean []string

	inUp := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-- +goose Up"):
			inUp = true
			continue
		case strings.HasPrefix(trimmed, "-- +goose Down"):
			return strings.Join(clean, "\n")
		case strings.HasPrefix(trimmed, "-- +goose StatementBegin"),
			strings.HasPrefix(trimmed, "-- +goose StatementEnd"):
			continue
		}
		if inUp {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}
