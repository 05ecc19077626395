// Package sqlstore keeps the document log in a SQL table. SQLite serves
// single-node deployments; PostgreSQL lets the log live in a managed
// database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/postgres"
)

// Dialect carries the statements that differ between databases.
type Dialect struct {
	Name   string
	Schema []string
	Insert string
}

var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS document_log (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			op         TEXT    NOT NULL,
			doc_id     TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			payload    TEXT    NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_log_doc ON document_log (doc_id, version)`,
	},
	Insert: `INSERT INTO document_log (op, doc_id, version, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
}

var Postgres = Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS document_log (
			seq        BIGSERIAL PRIMARY KEY,
			op         TEXT        NOT NULL,
			doc_id     TEXT        NOT NULL,
			version    BIGINT      NOT NULL,
			payload    JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_log_doc ON document_log (doc_id, version)`,
	},
	Insert: `INSERT INTO document_log (op, doc_id, version, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
}

// Log is a store.Backend over a document_log table. Records replay in seq
// order, which is insertion order.
type Log struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool
	logger  *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Log, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// a single writer connection avoids SQLITE_BUSY between our own appends
	db.SetMaxOpenConns(1)
	l, err := New(ctx, db, SQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// OpenPostgres uses an established PostgreSQL client. The client stays owned
// by the caller.
func OpenPostgres(ctx context.Context, client *postgres.Client) (*Log, error) {
	return New(ctx, client.DB, Postgres)
}

// New migrates the schema on db and returns the backend.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Log, error) {
	err := postgres.InTx(ctx, db, func(tx *sql.Tx) error {
		for _, stmt := range dialect.Schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migrating %s document log: %w", dialect.Name, err)
	}
	return &Log{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "sql-log", "dialect", dialect.Name),
	}, nil
}

func (l *Log) Append(ctx context.Context, rec store.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	_, err = l.db.ExecContext(ctx, l.dialect.Insert,
		string(rec.Op),
		rec.Document.ID,
		rec.Document.Version,
		string(payload),
		rec.At,
	)
	if err != nil {
		return fmt.Errorf("inserting %s record for %s: %w", rec.Op, rec.Document.ID, err)
	}
	return nil
}

func (l *Log) Replay(ctx context.Context, fn func(store.Record) error) error {
	rows, err := l.db.QueryContext(ctx, `SELECT seq, payload FROM document_log ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("querying document log: %w", err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("scanning document log: %w", err)
		}
		var rec store.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return fmt.Errorf("decoding record seq %d: %w", seq, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating document log: %w", err)
	}
	l.logger.Debug("document log replayed", "records", n)
	return nil
}

// Ping reports whether the database is reachable.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Log) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}
