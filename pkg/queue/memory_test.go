package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runPayload struct {
	Fingerprint string `json:"fingerprint"`
}

func TestMemoryQueue_RunsJob(t *testing.T) {
	q := NewMemoryQueue(nil, &QueueConfig{Workers: 2})
	got := make(chan string, 1)
	q.RegisterJob(JobFunc{MsgType: "analysis.run", Fn: func(_ context.Context, raw json.RawMessage) error {
		p, err := ParsePayload[runPayload](raw)
		if err != nil {
			return err
		}
		got <- p.Fingerprint
		return nil
	}})
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Enqueue(context.Background(), "analysis.run", runPayload{Fingerprint: "abc"}))
	select {
	case fp := <-got:
		assert.Equal(t, "abc", fp)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestMemoryQueue_RetriesThenDeadLetters(t *testing.T) {
	q := NewMemoryQueue(nil, &QueueConfig{RetryLimit: 2, RetryDelay: time.Millisecond})
	var calls atomic.Int32
	q.RegisterJob(JobFunc{MsgType: "x", Fn: func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("fail")
	}})
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Enqueue(context.Background(), "x", nil))
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, q.DeadLetters()[0].Attempts)
}

func TestMemoryQueue_RejectsUnknownTypeAndStopped(t *testing.T) {
	q := NewMemoryQueue(nil, nil)
	assert.ErrorContains(t, q.Enqueue(context.Background(), "x", nil), "not running")

	require.NoError(t, q.Start())
	assert.ErrorContains(t, q.Enqueue(context.Background(), "x", nil), "no job registered")
	require.NoError(t, q.Stop(context.Background()))
}
