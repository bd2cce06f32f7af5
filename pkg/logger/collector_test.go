package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollector_DeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "chain diverged", map[string]interface{}{"chain": 1}, "changepoint/engine.go:10")
	}
	c.AddLog("warn", "slow run", nil, "usecase/runner.go:42")

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, 3, pending[0].Count)

	c.Close()
	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, []string{"logs"}, pub.topics)
	assert.Empty(t, c.Pending())
}

func TestCollector_ThresholdFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	c.AddLog("error", "a", nil, "x:1")
	c.AddLog("error", "b", nil, "x:2")
	c.Close()

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestLogger_ErrorsReachCollector(t *testing.T) {
	l := Nop()
	pub := &capturePublisher{}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub})

	// Same call site, so both land in one entry.
	for i := 0; i < 2; i++ {
		l.Error("run failed", Error(errors.New("boom")), String("fingerprint", "abc"))
	}
	l.Info("ignored")

	pending := l.collector.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Count)
	assert.Equal(t, "boom", pending[0].Fields["error"])
	l.RemoveCollector()
}
