package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	xlogger "BrentBreaks/pkg/logger"
)

// NotificationPipeline sits between the analysis runner and the downstream
// publisher. It validates notifications, drops repeats of the same fingerprint
// inside a quiet window and buffers when the publisher is unavailable.
// It satisfies repository.Publisher itself.
type NotificationPipeline struct {
	next    domrepo.Publisher
	metrics domrepo.Metrics
	l       *xlogger.Logger

	quiet   time.Duration
	bufSize int
	bufCh   chan models.RunNotification

	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
}

type PipelineOption func(*NotificationPipeline)

// WithQuietWindow sets how long repeats of one fingerprint are suppressed.
func WithQuietWindow(d time.Duration) PipelineOption {
	return func(p *NotificationPipeline) { p.quiet = d }
}

// WithBufferSize sets the buffer used while the publisher is failing.
func WithBufferSize(n int) PipelineOption {
	return func(p *NotificationPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithBackoff(minDelay, maxDelay time.Duration) PipelineOption {
	return func(p *NotificationPipeline) {
		if minDelay > 0 && maxDelay >= minDelay {
			p.minBackoff, p.maxBackoff = minDelay, maxDelay
		}
	}
}

func WithPipelineLogger(l *xlogger.Logger) PipelineOption {
	return func(p *NotificationPipeline) { p.l = l }
}

func NewNotificationPipeline(next domrepo.Publisher, metrics domrepo.Metrics, opts ...PipelineOption) *NotificationPipeline {
	p := &NotificationPipeline{
		next:       next,
		metrics:    metrics,
		l:          xlogger.Nop(),
		quiet:      time.Minute,
		bufSize:    256,
		minBackoff: 50 * time.Millisecond,
		maxBackoff: 2 * time.Second,
		lastSeen:   make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.RunNotification, p.bufSize)
	return p
}

// Start launches the background flush of buffered notifications.
func (p *NotificationPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		backoff := p.minBackoff
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case n := <-p.bufCh:
				if err := p.next.PublishRun(ctx, n); err != nil {
					p.recordError("pipeline_flush")
					p.l.Warn("buffered notification publish failed",
						xlogger.String("fingerprint", n.Fingerprint),
						xlogger.Duration("backoff", backoff),
						xlogger.Error(err))
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					}
					backoff = min(backoff*2, p.maxBackoff)
					select {
					case p.bufCh <- n:
					default:
						p.recordError("pipeline_buffer_drop")
					}
					continue
				}
				backoff = p.minBackoff
			}
		}
	}()
}

// Stop ends the background flush and waits for it to exit.
func (p *NotificationPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// PublishRun validates, de-duplicates and forwards n, buffering on failure.
func (p *NotificationPipeline) PublishRun(ctx context.Context, n models.RunNotification) error {
	if err := validateNotification(n); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if !p.allow(n.Fingerprint, time.Now()) {
		p.l.Debug("notification suppressed", xlogger.String("fingerprint", n.Fingerprint))
		return nil
	}
	if err := p.next.PublishRun(ctx, n); err != nil {
		p.recordError("pipeline_publish")
		select {
		case p.bufCh <- n:
		default:
			p.recordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

// Buffered returns the number of notifications waiting for a retry.
func (p *NotificationPipeline) Buffered() int { return len(p.bufCh) }

// Close stops the pipeline and closes the downstream publisher.
func (p *NotificationPipeline) Close() error {
	p.Stop()
	return p.next.Close()
}

func validateNotification(n models.RunNotification) error {
	if n.Fingerprint == "" {
		return fmt.Errorf("notification fingerprint empty")
	}
	if n.SnapshotID == "" {
		return fmt.Errorf("notification snapshot id empty")
	}
	if n.Status == "" {
		return fmt.Errorf("notification status empty")
	}
	if n.ChangePoints < 0 {
		return fmt.Errorf("negative change point count")
	}
	return nil
}

func (p *NotificationPipeline) allow(fingerprint string, now time.Time) bool {
	if p.quiet <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSeen[fingerprint]; ok && now.Sub(last) < p.quiet {
		return false
	}
	p.lastSeen[fingerprint] = now
	for fp, t := range p.lastSeen {
		if now.Sub(t) >= p.quiet {
			delete(p.lastSeen, fp)
		}
	}
	return true
}

func (p *NotificationPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
