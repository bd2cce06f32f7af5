package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	sent     []models.RunNotification
	closed   bool
}

func (f *flakyPublisher) PublishRun(_ context.Context, n models.RunNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *flakyPublisher) Close() error {
	f.closed = true
	return nil
}

func (f *flakyPublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type errorCounter struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (c *errorCounter) RecordRun(string, string, time.Duration) {}
func (c *errorCounter) RecordChains(int, int, int)              {}
func (c *errorCounter) RecordChangePoints(int)                  {}
func (c *errorCounter) RecordSnapshotLookup(bool)               {}
func (c *errorCounter) RecordError(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = map[string]int{}
	}
	c.kinds[kind]++
}

func note(fp string) models.RunNotification {
	return models.RunNotification{SnapshotID: "s-" + fp, Fingerprint: fp, Status: models.StatusOK, ChangePoints: 2}
}

func TestPipeline_ValidatesAndSuppressesRepeats(t *testing.T) {
	pub := &flakyPublisher{}
	m := &errorCounter{}
	p := NewNotificationPipeline(pub, m, WithQuietWindow(time.Hour))

	assert.Error(t, p.PublishRun(context.Background(), models.RunNotification{SnapshotID: "x", Status: models.StatusOK}))
	require.NoError(t, p.PublishRun(context.Background(), note("a")))
	require.NoError(t, p.PublishRun(context.Background(), note("a")))
	require.NoError(t, p.PublishRun(context.Background(), note("b")))

	assert.Equal(t, 2, pub.count())
	assert.Equal(t, 1, m.kinds["pipeline_validate"])
}

func TestPipeline_BuffersAndFlushes(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	m := &errorCounter{}
	p := NewNotificationPipeline(pub, m, WithQuietWindow(0), WithBackoff(time.Millisecond, 4*time.Millisecond))

	err := p.PublishRun(context.Background(), note("a"))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	assert.True(t, pub.closed)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.kinds["pipeline_publish"])
	assert.Equal(t, 1, m.kinds["pipeline_flush"])
}

func TestPipeline_BufferFull(t *testing.T) {
	pub := &flakyPublisher{failures: 10}
	m := &errorCounter{}
	p := NewNotificationPipeline(pub, m, WithQuietWindow(0), WithBufferSize(1))

	_ = p.PublishRun(context.Background(), note("a"))
	_ = p.PublishRun(context.Background(), note("b"))
	assert.Equal(t, 1, p.Buffered())
	assert.Equal(t, 1, m.kinds["pipeline_buffer_full"])
}
