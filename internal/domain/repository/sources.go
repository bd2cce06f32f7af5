package repository

import (
	"context"
	"time"

	"BrentBreaks/internal/domain/models"
)

// PriceSource provides read-only access to raw daily price records.
// Zero start/end bounds are open.
type PriceSource interface {
	Prices(ctx context.Context, start, end time.Time) ([]models.RawRecord, error)
}

// EventSource provides read-only access to the curated event catalog.
type EventSource interface {
	Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
}
