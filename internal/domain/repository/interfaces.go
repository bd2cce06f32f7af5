package repository

import (
	"context"
	"errors"
	"time"

	"BrentBreaks/internal/domain/models"
)

// ErrSnapshotNotFound is returned by stores on a lookup miss.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore holds immutable run snapshots keyed by fingerprint.
type SnapshotStore interface {
	Get(ctx context.Context, fingerprint string) (*models.Snapshot, error)
	// FindByChangePoint resolves the snapshot that produced a change point.
	FindByChangePoint(ctx context.Context, changePointID string) (*models.Snapshot, error)
	// Put stores s unless a snapshot with the same fingerprint exists.
	Put(ctx context.Context, s *models.Snapshot) error
	Latest(ctx context.Context) (*models.Snapshot, error)
}

// SnapshotArchive is durable storage for snapshots that outlives the cache.
type SnapshotArchive interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, s *models.Snapshot) error
	Load(ctx context.Context, fingerprint string) (*models.Snapshot, error)
	LoadByChangePoint(ctx context.Context, changePointID string) (*models.Snapshot, error)
	Close() error
}

// Publisher announces stored snapshots to downstream consumers.
type Publisher interface {
	PublishRun(ctx context.Context, n models.RunNotification) error
	Close() error
}

type Metrics interface {
	RecordRun(strategy, status string, d time.Duration)
	RecordChains(total, diverged, timedOut int)
	RecordChangePoints(n int)
	RecordSnapshotLookup(hit bool)
	RecordError(kind string)
}
