package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BrentBreaks/internal/domain/models"
	xhttp "BrentBreaks/pkg/http"
	xlogger "BrentBreaks/pkg/logger"
)

// HTTPEventSource fetches the event catalog from a remote service that
// answers with the standard {status, message, data} envelope.
type HTTPEventSource struct {
	url      string
	client   *xhttp.Client
	attempts int
	backoff  time.Duration
	l        *xlogger.Logger
}

type HTTPEventOption func(*HTTPEventSource)

func WithHTTPAttempts(n int) HTTPEventOption {
	return func(s *HTTPEventSource) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithHTTPBackoff(d time.Duration) HTTPEventOption {
	return func(s *HTTPEventSource) { s.backoff = d }
}

func WithHTTPClient(c *xhttp.Client) HTTPEventOption {
	return func(s *HTTPEventSource) { s.client = c }
}

func WithHTTPLogger(l *xlogger.Logger) HTTPEventOption {
	return func(s *HTTPEventSource) { s.l = l }
}

func NewHTTPEventSource(url string, opts ...HTTPEventOption) *HTTPEventSource {
	s := &HTTPEventSource{
		url:      url,
		attempts: 3,
		backoff:  50 * time.Millisecond,
		l:        xlogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = xhttp.NewClient(xhttp.WithTimeout(5 * time.Second))
	}
	return s
}

type eventEnvelope struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Data    []catalogEntry `json:"data"`
}

func (s *HTTPEventSource) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if s.url == "" {
		return nil, fmt.Errorf("event source url not configured")
	}
	query := map[string][]string{}
	for _, t := range filter.Types {
		query["type"] = append(query["type"], string(t))
	}
	if !filter.Start.IsZero() {
		query["start"] = []string{filter.Start.Format(catalogLayout)}
	}
	if !filter.End.IsZero() {
		query["end"] = []string{filter.End.Format(catalogLayout)}
	}

	var env eventEnvelope
	start := time.Now()
	if err := s.getWithRetry(ctx, query, &env); err != nil {
		s.l.Error("event catalog fetch failed", xlogger.String("url", s.url), xlogger.Error(err))
		return nil, err
	}
	// The remote filter is advisory; the catalog is filtered again locally.
	events, err := buildCatalog(env.Data, filter)
	if err != nil {
		return nil, fmt.Errorf("remote event catalog: %w", err)
	}
	s.l.Info("event catalog fetched",
		xlogger.String("url", s.url),
		xlogger.Int("events", len(events)),
		xlogger.Duration("duration_ms", time.Since(start)))
	return events, nil
}

// getWithRetry retries transport errors and temporary statuses with a linear backoff.
func (s *HTTPEventSource) getWithRetry(ctx context.Context, query map[string][]string, dest *eventEnvelope) error {
	var err error
	for i := 1; i <= s.attempts; i++ {
		err = s.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         s.url,
			Headers:     map[string]string{"Accept": "application/json"},
			QueryParams: query,
		}, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return fmt.Errorf("get %s: %w", s.url, err)
		}
		if i == s.attempts {
			break
		}
		s.l.Warn("event catalog fetch retry",
			xlogger.Int("attempt", i),
			xlogger.Error(err))
		select {
		case <-time.After(time.Duration(i) * s.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("get %s after %d attempts: %w", s.url, s.attempts, err)
}
