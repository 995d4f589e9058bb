package aria2

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Witriol/bgxfer/internal/protocol"
)

// Registry states. A job with a non-null state is finished and no longer
// visible to callers.
const (
	StateAcknowledged = "acknowledged"
	StateCancelled    = "cancelled"
)

type Record struct {
	GUID       string
	Name       string
	URL        string
	SavePath   string
	ProxyUsage protocol.ProxyUsage
	Priority   protocol.Priority
	Engine     string
	EngineGID  string
	State      sql.NullString
	CreatedAt  string
	UpdatedAt  string
}

// Store wraps DB access for the job registry and its events.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, r *Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (guid, name, url, save_path, proxy_usage, priority, engine, engine_gid, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 'aria2', ?, ?, ?)
`, r.GUID, r.Name, r.URL, r.SavePath, int(r.ProxyUsage), int(r.Priority), r.EngineGID, now, now)
	return err
}

// Get returns the live record for guid owned by name, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, name, guid string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT guid, name, url, save_path, proxy_usage, priority, engine, engine_gid, state, created_at, updated_at
FROM jobs WHERE guid = ? AND name = ? AND state IS NULL
`, guid, name)
	var (
		r        Record
		proxy    int
		priority int
		gid      sql.NullString
	)
	err := row.Scan(&r.GUID, &r.Name, &r.URL, &r.SavePath, &proxy, &priority, &r.Engine, &gid, &r.State, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	r.ProxyUsage = protocol.ProxyUsage(proxy)
	r.Priority = protocol.Priority(priority)
	r.EngineGID = gid.String
	return &r, nil
}

func (s *Store) SetProxyUsage(ctx context.Context, guid string, p protocol.ProxyUsage) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET proxy_usage = ?, updated_at = ? WHERE guid = ?
`, int(p), now, guid)
	return err
}

func (s *Store) SetPriority(ctx context.Context, guid string, p protocol.Priority) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET priority = ?, updated_at = ? WHERE guid = ?
`, int(p), now, guid)
	return err
}

// Finish records the terminal registry state of a job.
func (s *Store) Finish(ctx context.Context, guid, state string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET state = ?, updated_at = ?, completed_at = ? WHERE guid = ?
`, state, now, now, guid)
	return err
}

func (s *Store) AddEvent(ctx context.Context, guid, level, msg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_events (job_guid, level, message, created_at) VALUES (?, ?, ?, ?)
`, guid, level, msg, now)
	return err
}

func (s *Store) ListEvents(ctx context.Context, guid string, limit int) ([]string, error) {
	query := `SELECT created_at || ' ' || level || ' ' || message FROM job_events WHERE job_guid = ? ORDER BY id DESC`
	args := []any{guid}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}
