package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const indexColumnPrefix = "ix_"

// Compile-time check that SQLiteDB implements DB.
var _ DB = (*SQLiteDB)(nil)

// SQLiteDB implements DB on top of an embedded SQLite file.
// It holds no connection: every operation opens the file, runs in its own
// statement or transaction and closes it again.
type SQLiteDB struct {
	path        string
	busyTimeout time.Duration
	logger      *slog.Logger
	stores      map[string]liveStore
}

// liveStore is a configured store as found in the database file.
type liveStore struct {
	spec    StoreSpec
	indexes []IndexSpec // only indexes that exist in the file, sorted by name
}

func (s liveStore) hasIndex(name string) bool {
	for _, idx := range s.indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// Option configures a SQLiteDB.
type Option func(*SQLiteDB)

// WithLogger sets the logger used for schema and fallback messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *SQLiteDB) {
		d.logger = logger
	}
}

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(db *SQLiteDB) {
		db.busyTimeout = d
	}
}

// Init opens the database <dir>/<cfg.Name>.sqlite, creating or upgrading its
// schema when the stored version is lower than cfg.Version. All failures are
// reported as ErrStoreUnavailable.
func Init(ctx context.Context, dir string, cfg Config, opts ...Option) (*SQLiteDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %w", ErrStoreUnavailable, err)
	}

	d := &SQLiteDB{
		path:        filepath.Join(dir, cfg.Name+".sqlite"),
		busyTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	err := d.withConn(ctx, func(db *sql.DB) error {
		var current int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if current > cfg.Version {
			return fmt.Errorf("%w: stored %d, requested %d", ErrVersion, current, cfg.Version)
		}
		if current < cfg.Version {
			if err := upgrade(ctx, db, cfg); err != nil {
				return err
			}
			d.logger.Info("object store upgraded",
				slog.String("path", d.path),
				slog.Int("from_version", current),
				slog.Int("to_version", cfg.Version),
			)
		}

		stores, err := loadSchema(ctx, db, cfg)
		if err != nil {
			return err
		}
		d.stores = stores
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return d, nil
}

// Path returns the database file path.
func (d *SQLiteDB) Path() string {
	return d.path
}

// Put upserts value by its primary key.
func (d *SQLiteDB) Put(ctx context.Context, store string, value any) error {
	s, err := d.store(store)
	if err != nil {
		return err
	}

	rec, err := encodeRecord(s.spec, s.indexes, value)
	if err != nil {
		return err
	}

	cols := []string{`"key"`, `"value"`}
	args := []any{rec.key, rec.data}
	for _, idx := range s.indexes {
		cols = append(cols, quote(indexColumnPrefix+idx.Name))
		args = append(args, rec.index[idx.Name])
	}
	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
		quote(store),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	return d.withConn(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("objectstore: put %s/%s: %w", store, rec.key, err)
		}
		return nil
	})
}

// Delete removes the record with the given key; a missing key is a no-op.
func (d *SQLiteDB) Delete(ctx context.Context, store, key string) error {
	if _, err := d.store(store); err != nil {
		return err
	}

	return d.withConn(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "key" = ?`, quote(store)), key)
		if err != nil {
			return fmt.Errorf("objectstore: delete %s/%s: %w", store, key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			d.logger.Debug("delete of missing key ignored",
				slog.String("store", store),
				slog.String("key", key),
			)
		}
		return nil
	})
}

// GetAll returns every record of store, ordered by index when it exists.
func (d *SQLiteDB) GetAll(ctx context.Context, store, index string) ([][]byte, error) {
	s, err := d.store(store)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT "value" FROM %s ORDER BY "key"`, quote(store))
	if index != "" {
		if s.hasIndex(index) {
			col := quote(indexColumnPrefix + index)
			query = fmt.Sprintf(`SELECT "value" FROM %s WHERE %s IS NOT NULL ORDER BY %s, "key"`,
				quote(store), col, col)
		} else {
			d.logger.Warn("index not found, falling back to full scan",
				slog.String("store", store),
				slog.String("index", index),
			)
		}
	}

	var out [][]byte
	err = d.withConn(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("objectstore: query %s: %w", store, err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var v []byte
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("objectstore: scan %s: %w", store, err)
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes every record of store.
func (d *SQLiteDB) Clear(ctx context.Context, store string) error {
	if _, err := d.store(store); err != nil {
		return err
	}

	return d.withConn(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quote(store))); err != nil {
			return fmt.Errorf("objectstore: clear %s: %w", store, err)
		}
		return nil
	})
}

func (d *SQLiteDB) store(name string) (liveStore, error) {
	s, ok := d.stores[name]
	if !ok {
		return liveStore{}, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return s, nil
}

// open opens a fresh connection to the database file.
func (d *SQLiteDB) open(ctx context.Context) (*sql.DB, error) {
	// The path is escaped so '?', '#' and '%' in it are not read as URI syntax.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)",
		(&url.URL{Path: d.path}).EscapedPath(), d.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %w", ErrStoreUnavailable, err)
	}
	return db, nil
}

// withConn runs fn on a connection that is closed when fn returns.
func (d *SQLiteDB) withConn(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := d.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

// upgrade creates missing tables, index columns and indexes, then stores the
// new version, all in one transaction.
func upgrade(ctx context.Context, db *sql.DB, cfg Config) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range cfg.Stores {
		create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("key" TEXT PRIMARY KEY, "value" BLOB NOT NULL)`, quote(s.Name))
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("create store %s: %w", s.Name, err)
		}

		cols, err := tableColumns(ctx, tx, s.Name)
		if err != nil {
			return err
		}
		for _, idx := range s.Indexes {
			col := indexColumnPrefix + idx.Name
			if !cols[col] {
				alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, quote(s.Name), quote(col))
				if _, err := tx.ExecContext(ctx, alter); err != nil {
					return fmt.Errorf("add index column %s.%s: %w", s.Name, idx.Name, err)
				}
			}
			createIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
				quote(indexName(s.Name, idx.Name)), quote(s.Name), quote(col))
			if _, err := tx.ExecContext(ctx, createIdx); err != nil {
				return fmt.Errorf("create index %s.%s: %w", s.Name, idx.Name, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, cfg.Version)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// loadSchema matches the configured stores against the tables and indexes
// present in the file.
func loadSchema(ctx context.Context, db *sql.DB, cfg Config) (map[string]liveStore, error) {
	rows, err := db.QueryContext(ctx, `SELECT type, name FROM sqlite_master WHERE type IN ('table', 'index')`)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string]bool)
	indexes := make(map[string]bool)
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		if typ == "table" {
			tables[name] = true
		} else {
			indexes[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	stores := make(map[string]liveStore, len(cfg.Stores))
	for _, s := range cfg.Stores {
		if !tables[s.Name] {
			continue
		}
		live := liveStore{spec: s}
		for _, idx := range s.Indexes {
			if indexes[indexName(s.Name, idx.Name)] {
				live.indexes = append(live.indexes, idx)
			}
		}
		sort.Slice(live.indexes, func(i, j int) bool { return live.indexes[i].Name < live.indexes[j].Name })
		stores[s.Name] = live
	}
	return stores, nil
}

func indexName(store, index string) string {
	return store + "__" + index
}

// quote returns name as a quoted SQL identifier. Names are validated to be
// alphanumeric before they get here.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
