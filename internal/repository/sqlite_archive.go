package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	xlogger "BrentBreaks/pkg/logger"

	_ "modernc.org/sqlite"
)

// SQLiteArchive keeps every snapshot ever stored so results survive cache
// eviction and restarts.
type SQLiteArchive struct {
	db *sql.DB
	mu sync.Mutex
	l  *xlogger.Logger
}

func NewSQLiteArchive(path string, l *xlogger.Logger) (*SQLiteArchive, error) {
	if l == nil {
		l = xlogger.Nop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	l.Info("sqlite archive opened", xlogger.String("path", path))
	return &SQLiteArchive{db: db, l: l}, nil
}

func (a *SQLiteArchive) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			fingerprint TEXT PRIMARY KEY,
			id          TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			status      TEXT NOT NULL,
			body        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at)`,
		`CREATE TABLE IF NOT EXISTS snapshot_change_points (
			change_point_id TEXT PRIMARY KEY,
			fingerprint     TEXT NOT NULL REFERENCES snapshots(fingerprint)
		)`,
	}
	for _, s := range stmts {
		if _, err := a.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Save stores s once; saving an existing fingerprint again is a no-op.
func (a *SQLiteArchive) Save(ctx context.Context, s *models.Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (fingerprint, id, created_at, status, body) VALUES (?, ?, ?, ?, ?)`,
		s.Fingerprint, s.ID, s.CreatedAt.UnixMilli(), string(s.Status), string(body))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	for _, cp := range s.ChangePoints {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO snapshot_change_points (change_point_id, fingerprint) VALUES (?, ?)`,
			cp.ID, s.Fingerprint); err != nil {
			return fmt.Errorf("insert change point %s: %w", cp.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.l.Debug("snapshot archived",
		xlogger.String("fingerprint", s.Fingerprint),
		xlogger.Int("change_points", len(s.ChangePoints)))
	return nil
}

func (a *SQLiteArchive) Load(ctx context.Context, fingerprint string) (*models.Snapshot, error) {
	row := a.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE fingerprint = ?`, fingerprint)
	return scanSnapshot(row)
}

func (a *SQLiteArchive) LoadByChangePoint(ctx context.Context, changePointID string) (*models.Snapshot, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT s.body FROM snapshots s
		JOIN snapshot_change_points c ON c.fingerprint = s.fingerprint
		WHERE c.change_point_id = ?`, changePointID)
	return scanSnapshot(row)
}

// LoadLatest returns the most recently created snapshot.
func (a *SQLiteArchive) LoadLatest(ctx context.Context) (*models.Snapshot, error) {
	row := a.db.QueryRowContext(ctx, `SELECT body FROM snapshots ORDER BY created_at DESC LIMIT 1`)
	return scanSnapshot(row)
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func scanSnapshot(row *sql.Row) (*models.Snapshot, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domrepo.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	var s models.Snapshot
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
