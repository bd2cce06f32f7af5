package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	"BrentBreaks/pkg/cache"
	xlogger "BrentBreaks/pkg/logger"
)

const (
	snapshotPrefix    = "snapshot"
	changePointPrefix = "cp"
	latestKey         = "snapshot:latest"
)

// archiveLatest is implemented by archives that can resolve the newest snapshot.
type archiveLatest interface {
	LoadLatest(ctx context.Context) (*models.Snapshot, error)
}

// CachedSnapshotStore keeps snapshots in a cache and, when an archive is
// configured, writes them through so cache misses can be served durably.
type CachedSnapshotStore struct {
	cache   cache.Service
	archive domrepo.SnapshotArchive
	ttl     time.Duration
	metrics domrepo.Metrics
	l       *xlogger.Logger
}

type SnapshotStoreOption func(*CachedSnapshotStore)

func WithArchive(a domrepo.SnapshotArchive) SnapshotStoreOption {
	return func(s *CachedSnapshotStore) { s.archive = a }
}

func WithSnapshotTTL(ttl time.Duration) SnapshotStoreOption {
	return func(s *CachedSnapshotStore) { s.ttl = ttl }
}

func WithStoreMetrics(m domrepo.Metrics) SnapshotStoreOption {
	return func(s *CachedSnapshotStore) { s.metrics = m }
}

func WithStoreLogger(l *xlogger.Logger) SnapshotStoreOption {
	return func(s *CachedSnapshotStore) { s.l = l }
}

func NewCachedSnapshotStore(c cache.Service, opts ...SnapshotStoreOption) *CachedSnapshotStore {
	s := &CachedSnapshotStore{cache: c, ttl: 7 * 24 * time.Hour, l: xlogger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CachedSnapshotStore) Get(ctx context.Context, fingerprint string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.cache.Get(ctx, cache.GenerateKey(snapshotPrefix, fingerprint), &snap)
	if err == nil {
		s.lookup(true)
		return &snap, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.l.Warn("snapshot cache read failed", xlogger.String("fingerprint", fingerprint), xlogger.Error(err))
	}
	if s.archive == nil {
		s.lookup(false)
		return nil, domrepo.ErrSnapshotNotFound
	}
	got, err := s.archive.Load(ctx, fingerprint)
	if err != nil {
		s.lookup(false)
		return nil, err
	}
	s.lookup(true)
	s.warm(ctx, got)
	return got, nil
}

func (s *CachedSnapshotStore) FindByChangePoint(ctx context.Context, changePointID string) (*models.Snapshot, error) {
	var fingerprint string
	err := s.cache.Get(ctx, cache.GenerateKey(changePointPrefix, changePointID), &fingerprint)
	if err == nil {
		snap, err := s.Get(ctx, fingerprint)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domrepo.ErrSnapshotNotFound) {
			return nil, err
		}
	}
	if s.archive == nil {
		return nil, domrepo.ErrSnapshotNotFound
	}
	snap, err := s.archive.LoadByChangePoint(ctx, changePointID)
	if err != nil {
		return nil, err
	}
	s.warm(ctx, snap)
	return snap, nil
}

// Put stores s unless its fingerprint is already known. Snapshots are never
// overwritten.
func (s *CachedSnapshotStore) Put(ctx context.Context, snap *models.Snapshot) error {
	key := cache.GenerateKey(snapshotPrefix, snap.Fingerprint)
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		s.l.Warn("snapshot cache exists check failed", xlogger.Error(err))
	}
	if exists {
		return nil
	}
	if s.archive != nil {
		if err := s.archive.Save(ctx, snap); err != nil {
			return fmt.Errorf("archive snapshot: %w", err)
		}
	}
	if err := s.cache.Set(ctx, key, snap, s.ttl); err != nil {
		if s.archive == nil {
			return fmt.Errorf("cache snapshot: %w", err)
		}
		s.l.Warn("snapshot cache write failed", xlogger.String("fingerprint", snap.Fingerprint), xlogger.Error(err))
	}
	s.index(ctx, snap)
	if err := s.cache.Set(ctx, latestKey, snap.Fingerprint, s.ttl); err != nil {
		s.l.Warn("latest pointer write failed", xlogger.Error(err))
	}
	return nil
}

func (s *CachedSnapshotStore) Latest(ctx context.Context) (*models.Snapshot, error) {
	var fingerprint string
	if err := s.cache.Get(ctx, latestKey, &fingerprint); err == nil {
		return s.Get(ctx, fingerprint)
	}
	if al, ok := s.archive.(archiveLatest); ok {
		return al.LoadLatest(ctx)
	}
	return nil, domrepo.ErrSnapshotNotFound
}

// warm re-populates the cache from an archived snapshot.
func (s *CachedSnapshotStore) warm(ctx context.Context, snap *models.Snapshot) {
	if err := s.cache.Set(ctx, cache.GenerateKey(snapshotPrefix, snap.Fingerprint), snap, s.ttl); err != nil {
		s.l.Debug("snapshot cache warm failed", xlogger.Error(err))
		return
	}
	s.index(ctx, snap)
}

func (s *CachedSnapshotStore) index(ctx context.Context, snap *models.Snapshot) {
	for _, cp := range snap.ChangePoints {
		if err := s.cache.Set(ctx, cache.GenerateKey(changePointPrefix, cp.ID), snap.Fingerprint, s.ttl); err != nil {
			s.l.Warn("change point index write failed", xlogger.String("change_point", cp.ID), xlogger.Error(err))
		}
	}
}

func (s *CachedSnapshotStore) lookup(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordSnapshotLookup(hit)
	}
}
