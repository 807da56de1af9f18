package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zeusync/hubsync/internal/core/resources"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_releases (
    id            TEXT PRIMARY KEY,
    briefcase_id  INTEGER NOT NULL,
    kind          TEXT NOT NULL,
    request       TEXT NOT NULL,
    created_ns    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_briefcase ON pending_releases(briefcase_id, created_ns);
`

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" keeps it in
// process.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// One connection so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r PendingRelease) error {
	if !r.Kind.valid() {
		return ErrInvalidKind
	}
	payload, err := json.Marshal(r.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_releases (id, briefcase_id, kind, request, created_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, request = excluded.request`,
		r.ID, r.BriefcaseID, string(r.Kind), string(payload), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert pending release: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_releases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending release: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, briefcaseID int) ([]PendingRelease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, briefcase_id, kind, request, created_ns
		FROM pending_releases
		WHERE briefcase_id = ?
		ORDER BY created_ns, id`, briefcaseID)
	if err != nil {
		return nil, fmt.Errorf("query pending releases: %w", err)
	}
	defer rows.Close()

	var out []PendingRelease
	for rows.Next() {
		var (
			r       PendingRelease
			kind    string
			payload string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.BriefcaseID, &kind, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan pending release: %w", err)
		}
		var req resources.Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return nil, fmt.Errorf("decode request %s: %w", r.ID, err)
		}
		r.Kind = ReleaseKind(kind)
		r.Request = req
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, briefcaseID int) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_releases WHERE briefcase_id = ?`, briefcaseID)
	if err != nil {
		return 0, fmt.Errorf("clear pending releases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
