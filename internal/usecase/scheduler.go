package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/pkg/cache"
	xlogger "BrentBreaks/pkg/logger"
	"BrentBreaks/pkg/queue"
)

// RunJobType is the queue message type of a background analysis run.
const RunJobType = "analysis.run"

type runRequest struct {
	Config      models.AnalysisConfig `json:"config"`
	Fingerprint string                `json:"fingerprint"`
}

// Scheduler queues background runs, at most one per fingerprint at a time.
type Scheduler struct {
	runner *Runner
	q      queue.Queue
	locks  cache.Service
	l      *xlogger.Logger
}

func NewScheduler(runner *Runner, q queue.Queue, locks cache.Service, l *xlogger.Logger) *Scheduler {
	if l == nil {
		l = xlogger.Nop()
	}
	return &Scheduler{runner: runner, q: q, locks: locks, l: l}
}

func lockKey(fingerprint string) string {
	return cache.GenerateKey("run-lock", fingerprint)
}

// Schedule enqueues a run of cfg unless one is already queued or running.
// It reports whether a new run was queued.
func (s *Scheduler) Schedule(ctx context.Context, cfg models.AnalysisConfig, fingerprint string) (bool, error) {
	ttl := 2*cfg.Engine.RunTimeout + time.Minute
	ok, err := s.locks.TryLock(ctx, lockKey(fingerprint), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.q.Enqueue(ctx, RunJobType, runRequest{Config: cfg, Fingerprint: fingerprint}); err != nil {
		_ = s.locks.Unlock(ctx, lockKey(fingerprint))
		return false, fmt.Errorf("enqueue run: %w", err)
	}
	s.l.Info("analysis run scheduled", xlogger.String("fingerprint", fingerprint))
	return true, nil
}

// Job returns the queue job that executes scheduled runs.
func (s *Scheduler) Job() queue.Job {
	return queue.JobFunc{MsgType: RunJobType, Fn: s.handle}
}

func (s *Scheduler) handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[runRequest](payload)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Unlock(context.WithoutCancel(ctx), lockKey(req.Fingerprint)); err != nil {
			s.l.Warn("run lock release failed", xlogger.String("fingerprint", req.Fingerprint), xlogger.Error(err))
		}
	}()

	snap, err := s.runner.Run(ctx, req.Config)
	if err != nil {
		return err
	}
	if snap.Fingerprint != req.Fingerprint {
		// The series changed between scheduling and running.
		s.l.Info("scheduled run produced a newer fingerprint",
			xlogger.String("requested", req.Fingerprint),
			xlogger.String("stored", snap.Fingerprint))
	}
	return nil
}
