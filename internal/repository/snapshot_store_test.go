package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	"BrentBreaks/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupCounter struct {
	hits, misses int
}

func (c *lookupCounter) RecordRun(string, string, time.Duration) {}
func (c *lookupCounter) RecordChains(int, int, int)              {}
func (c *lookupCounter) RecordChangePoints(int)                  {}
func (c *lookupCounter) RecordError(string)                      {}
func (c *lookupCounter) RecordSnapshotLookup(hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func snapshot(fp string, created time.Time, cpIDs ...string) *models.Snapshot {
	s := &models.Snapshot{
		ID:          "snap-" + fp[:8],
		Fingerprint: fp,
		CreatedAt:   created,
		Status:      models.StatusOK,
		Reliable:    true,
	}
	for _, id := range cpIDs {
		s.ChangePoints = append(s.ChangePoints, models.ChangePointPosterior{ID: id, Date: created})
	}
	return s
}

func fingerprint(c byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func newArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "snapshots.db"), nil)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSnapshotStore_CacheOnly(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	m := &lookupCounter{}
	store := NewCachedSnapshotStore(mc, WithStoreMetrics(m))

	_, err := store.Get(ctx, fingerprint('a'))
	assert.ErrorIs(t, err, domrepo.ErrSnapshotNotFound)
	_, err = store.Latest(ctx)
	assert.ErrorIs(t, err, domrepo.ErrSnapshotNotFound)

	first := snapshot(fingerprint('a'), time.Unix(100, 0).UTC(), "cp-a1", "cp-a2")
	require.NoError(t, store.Put(ctx, first))

	got, err := store.Get(ctx, first.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Len(t, got.ChangePoints, 2)

	byCP, err := store.FindByChangePoint(ctx, "cp-a2")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, byCP.Fingerprint)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	assert.Equal(t, 1, m.misses)
	assert.GreaterOrEqual(t, m.hits, 3)
}

func TestSnapshotStore_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCachedSnapshotStore(mc, WithArchive(newArchive(t)))

	fp := fingerprint('b')
	require.NoError(t, store.Put(ctx, snapshot(fp, time.Unix(100, 0).UTC(), "cp-1")))
	replay := snapshot(fp, time.Unix(200, 0).UTC(), "cp-2")
	replay.ID = "other"
	require.NoError(t, store.Put(ctx, replay))

	got, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "snap-bbbbbbbb", got.ID)
	_, err = store.FindByChangePoint(ctx, "cp-2")
	assert.ErrorIs(t, err, domrepo.ErrSnapshotNotFound)
}

func TestSnapshotStore_ArchiveServesCacheMisses(t *testing.T) {
	ctx := context.Background()
	archive := newArchive(t)

	writer := cache.NewMemoryCache()
	require.NoError(t, NewCachedSnapshotStore(writer, WithArchive(archive)).Put(ctx, snapshot(fingerprint('c'), time.Unix(100, 0).UTC(), "cp-c")))
	require.NoError(t, NewCachedSnapshotStore(writer, WithArchive(archive)).Put(ctx, snapshot(fingerprint('d'), time.Unix(300, 0).UTC(), "cp-d")))
	writer.Close()

	// A fresh cache simulates a restart.
	cold := cache.NewMemoryCache()
	defer cold.Close()
	store := NewCachedSnapshotStore(cold, WithArchive(archive))

	got, err := store.FindByChangePoint(ctx, "cp-c")
	require.NoError(t, err)
	assert.Equal(t, fingerprint('c'), got.Fingerprint)

	ok, err := cold.Exists(ctx, cache.GenerateKey(snapshotPrefix, fingerprint('c')))
	require.NoError(t, err)
	assert.True(t, ok, "archive hits warm the cache")

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, fingerprint('d'), latest.Fingerprint)
}

func TestSQLiteArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	s := snapshot(fingerprint('e'), time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), "cp-e")
	s.Links = map[string][]models.EventImpactLink{"cp-e": {{ChangePointID: "cp-e", Rank: 1, Caveat: models.TemporalCaveat}}}
	require.NoError(t, a.Save(ctx, s))
	require.NoError(t, a.Save(ctx, s))

	got, err := a.Load(ctx, s.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt, got.CreatedAt)
	assert.Equal(t, s.Links, got.Links)

	_, err = a.Load(ctx, fingerprint('f'))
	assert.ErrorIs(t, err, domrepo.ErrSnapshotNotFound)
}
