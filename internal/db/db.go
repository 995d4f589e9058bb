package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS jobs (
  guid TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  url TEXT NOT NULL,
  save_path TEXT NOT NULL,
  proxy_usage INTEGER NOT NULL DEFAULT 0,
  engine TEXT DEFAULT 'aria2',
  engine_gid TEXT,
  state TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name);

CREATE TABLE IF NOT EXISTS job_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_guid TEXT NOT NULL,
  level TEXT NOT NULL,
  message TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY(job_guid) REFERENCES jobs(guid) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_job_events_job_guid ON job_events(job_guid);
`

// Open opens the SQLite database and ensures schema exists. Schema setup is
// serialized across processes by a lock file next to the database.
func Open(path string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: timed out", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureColumn(ctx, db, "priority", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureColumn(ctx context.Context, db *sql.DB, name, colType string) error {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(jobs)`)
	if err != nil {
		return err
	}
	defer rows.Close()
	hasCol := false
	for rows.Next() {
		var cid int
		var colName string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &colName, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if colName == name {
			hasCol = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !hasCol {
		_, err = db.ExecContext(ctx, `ALTER TABLE jobs ADD COLUMN `+name+` `+colType)
		return err
	}
	return nil
}
