package queue

import (
	"context"
	"encoding/json"
)

// Job defines a queue job handler.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the type of message that the job handles.
	Type() string

	// Handle processes the job with the given payload.
	Handle(ctx context.Context, payload json.RawMessage) error
}

// JobFunc adapts a function into a Job whose name equals its type.
type JobFunc struct {
	MsgType string
	Fn      func(ctx context.Context, payload json.RawMessage) error
}

func (j JobFunc) Name() string { return j.MsgType }
func (j JobFunc) Type() string { return j.MsgType }

func (j JobFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return j.Fn(ctx, payload)
}
