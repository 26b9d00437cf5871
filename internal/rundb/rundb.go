// Package rundb persists per-run account state in a standalone SQLite file,
// so an interrupted run can be resumed against the same database.
package rundb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	address     TEXT PRIMARY KEY,
	private_key TEXT NOT NULL,
	proxy       TEXT NOT NULL DEFAULT '',
	last_task   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	balance     TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);`

// Record is one account row.
type Record struct {
	Address    string
	PrivateKey string
	Proxy      string
	LastTask   string
	Status     string
	Balance    string
	UpdatedAt  time.Time
}

// Statuses recorded per account.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

type DB struct {
	db   *sql.DB
	path string
}

// NewPath returns a fresh database file name inside dir.
func NewPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("run-%s.db", uuid.NewString()[:8]))
}

// Open opens (creating if needed) the run database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "rundb: open")
	}
	// modernc sqlite does not tolerate concurrent writers on one connection pool
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "rundb: create schema")
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Path() string { return d.path }

func (d *DB) Close() error { return d.db.Close() }

// Seed inserts the starting row for an account; existing rows are kept, so a
// resumed run keeps its recorded progress.
func (d *DB) Seed(ctx context.Context, address, privateKey, proxy string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (address, private_key, proxy, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING`,
		address, privateKey, proxy, now())
	return errors.Wrap(err, "rundb: seed account")
}

// SetStatus records the account's current task and status.
func (d *DB) SetStatus(ctx context.Context, address, task, status string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE accounts SET last_task = ?, status = ?, updated_at = ?
		WHERE address = ?`,
		task, status, now(), address)
	if err != nil {
		return errors.Wrap(err, "rundb: set status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("rundb: unknown account %s", address)
	}
	return nil
}

// SetBalance records the last observed native balance for the account.
func (d *DB) SetBalance(ctx context.Context, address, balance string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, updated_at = ? WHERE address = ?`,
		balance, now(), address)
	return errors.Wrap(err, "rundb: set balance")
}

// All returns every account row, insertion order preserved via rowid.
func (d *DB) All(ctx context.Context) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT address, private_key, proxy, last_task, status, balance, updated_at
		FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "rundb: query accounts")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.Address, &r.PrivateKey, &r.Proxy, &r.LastTask, &r.Status, &r.Balance, &ts); err != nil {
			return nil, errors.Wrap(err, "rundb: scan account")
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Unfinished returns the rows a resumed run still has to process.
func (d *DB) Unfinished(ctx context.Context) ([]Record, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.Status != StatusDone {
			out = append(out, r)
		}
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
