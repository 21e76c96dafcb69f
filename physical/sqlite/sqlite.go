package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/stephnangue/stash/physical"
)

// Verify interfaces are satisfied
var (
	_ physical.Driver  = (*SQLiteDriver)(nil)
	_ physical.Clearer = (*SQLiteDriver)(nil)
)

// SQLiteDriver is a driver backed by a local SQLite database file.
type SQLiteDriver struct {
	db     *sql.DB
	table  string
	logger hclog.Logger
}

type driverConfig struct {
	Path        string `mapstructure:"path"`
	Table       string `mapstructure:"table"`
	BusyTimeout int    `mapstructure:"busy_timeout"`
}

// NewSQLiteDriver constructs a driver from the given configuration.
// Required: "path". Optional: "table" (default "kv"), "busy_timeout"
// in milliseconds.
func NewSQLiteDriver(conf map[string]string, logger hclog.Logger) (physical.Driver, error) {
	var cfg driverConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(conf); err != nil {
		return nil, fmt.Errorf("invalid sqlite configuration: %w", err)
	}

	if cfg.Path == "" {
		return nil, errors.New("'path' must be set")
	}
	if cfg.Table == "" {
		cfg.Table = "kv"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	table := quoteIdentifier(cfg.Table)
	createQuery := "CREATE TABLE IF NOT EXISTS " + table + " (k TEXT PRIMARY KEY, v BLOB)"
	if _, err := db.Exec(createQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteDriver{
		db:     db,
		table:  table,
		logger: logger,
	}, nil
}

func quoteIdentifier(name string) string {
	if end := strings.IndexRune(name, 0); end > -1 {
		name = name[:end]
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Put is used to insert or update an entry
func (s *SQLiteDriver) Put(ctx context.Context, entry *physical.Entry) error {
	query := "INSERT INTO " + s.table + " (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v"
	_, err := s.db.ExecContext(ctx, query, entry.Key, entry.Value)
	return err
}

// Get is used to fetch an entry
func (s *SQLiteDriver) Get(ctx context.Context, key string) (*physical.Entry, error) {
	query := "SELECT v FROM " + s.table + " WHERE k = ?"

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &physical.Entry{
		Key:   key,
		Value: value,
	}, nil
}

// Delete is used to permanently delete an entry
func (s *SQLiteDriver) Delete(ctx context.Context, key string) error {
	query := "DELETE FROM " + s.table + " WHERE k = ?"
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// keyRangeEnd returns the smallest string sorting after every key
// carrying the given prefix under BINARY collation, or "" when no
// such bound exists (empty prefix, or a prefix of only 0xff bytes).
func keyRangeEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// prefixRangeClause builds the WHERE clause and arguments selecting
// every key carrying prefix.
func prefixRangeClause(prefix string) (string, []any) {
	if end := keyRangeEnd(prefix); end != "" {
		return "k >= ? AND k < ?", []any{prefix, end}
	}
	return "k >= ?", []any{prefix}
}

// List is used to list all the keys under a given prefix, up to the
// next prefix.
func (s *SQLiteDriver) List(ctx context.Context, prefix string) ([]string, error) {
	clause, args := prefixRangeClause(prefix)
	query := "SELECT k FROM " + s.table + " WHERE " + clause
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	seen := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		trimmed := strings.TrimPrefix(key, prefix)
		if sep := strings.Index(trimmed, "/"); sep != -1 {
			trimmed = trimmed[:sep+1]
		}
		if _, ok := seen[trimmed]; !ok {
			out = append(out, trimmed)
			seen[trimmed] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(out)
	return out, nil
}

// Clear removes every entry under the given prefix
func (s *SQLiteDriver) Clear(ctx context.Context, prefix string) error {
	clause, args := prefixRangeClause(prefix)
	query := "DELETE FROM " + s.table + " WHERE " + clause
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Close releases the database handle
func (s *SQLiteDriver) Close() error {
	return s.db.Close()
}
