package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

// DB wraps the sql pool and keeps the queries portable: the stores write
// '?' placeholders and the wrapper rewrites them to $N when the postgres
// driver is active.
type DB struct {
	*sql.DB
	postgres bool
}

// NewDB opens the configured database. Postgres (via pgx) is the production
// target; sqlite backs local development and the test suite. The initial ping
// retries with exponential backoff so the app survives a database that is
// still starting up.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	driver, dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	notify := func(err error, next time.Duration) {
		if logger != nil {
			logger.Errorf("db ping failed, retrying in %s: %v", next, err)
		}
	}
	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if logger != nil {
		logger.Printf("database ready driver=%s", driver)
	}
	return &DB{DB: db, postgres: driver == "pgx"}, nil
}

func resolveDSN(cfg *config.AppConfig) (driver, dsn string, err error) {
	d := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch {
	case d == "postgres" || (d == "" && strings.TrimSpace(cfg.DBURL) != ""):
		if strings.TrimSpace(cfg.DBURL) == "" {
			return "", "", fmt.Errorf("postgres driver selected but AGD_DB_URL is empty")
		}
		return "pgx", cfg.DBURL, nil
	case d == "sqlite" || d == "":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = "data/agente-digital.db"
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", "", fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		return "sqlite", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// rebind rewrites '?' placeholders to postgres positional parameters. The
// store queries never put '?' inside string literals, so a byte scan is
// enough.
func (d *DB) rebind(query string) string {
	if !d.postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.rebind(query), args...)
}

// insertID runs an INSERT and reports the generated key. pgx does not
// implement LastInsertId, so the postgres path appends RETURNING id instead.
func (d *DB) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	if d.postgres {
		var id int64
		err := d.DB.QueryRowContext(ctx, d.rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, db: d}, nil
}

// Tx carries the placeholder rewrite into transactions.
type Tx struct {
	tx *sql.Tx
	db *DB
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.rebind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.db.rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.db.rebind(query), args...)
}

func (t *Tx) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	if t.db.postgres {
		var id int64
		err := t.tx.QueryRowContext(ctx, t.db.rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
