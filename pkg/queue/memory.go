package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BrentBreaks/pkg/logger"
)

// MemoryQueue is the in-process Queue used when Redis is disabled.
// Messages do not survive a restart.
type MemoryQueue struct {
	logger *logger.Logger
	config *QueueConfig
	jobs   map[string]Job
	msgs   chan Message
	dead   []Message
	wg     sync.WaitGroup
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	isRunning bool
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig) *MemoryQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

// Stop cancels running jobs and waits for workers to exit.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	running := q.isRunning
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return fmt.Errorf("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full (%d messages)", cap(q.msgs))
	}
}

// DeadLetters returns the messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job := q.jobs[msg.Type]
	q.mu.RUnlock()

	err := job.Handle(q.ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= q.config.RetryLimit {
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		return
	}
	msg.Attempts++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-q.ctx.Done():
		case <-time.After(q.config.RetryDelay):
			select {
			case q.msgs <- msg:
			case <-q.ctx.Done():
			}
		}
	}()
}
