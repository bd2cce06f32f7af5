package models

import (
	"math"
	"time"
)

// RawRecord is one unparsed (date, price) pair as delivered by a price source.
// Line is the 1-based position in the source and is used in validation errors.
type RawRecord struct {
	Line  int    `json:"line"`
	Date  string `json:"date"`
	Price string `json:"price"`
}

// PricePoint is a validated observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// Series is a chronologically sorted, duplicate-free sequence of observations
// with its derived log fields. LogReturn[0] is NaN.
type Series struct {
	Points    []PricePoint `json:"points"`
	LogPrice  []float64    `json:"log_price"`
	LogReturn []float64    `json:"log_return"`
}

// NewSeries derives log fields for already validated points.
func NewSeries(points []PricePoint) Series {
	s := Series{
		Points:    points,
		LogPrice:  make([]float64, len(points)),
		LogReturn: make([]float64, len(points)),
	}
	for i, p := range points {
		s.LogPrice[i] = math.Log(p.Price)
		if i == 0 {
			s.LogReturn[i] = math.NaN()
			continue
		}
		s.LogReturn[i] = s.LogPrice[i] - s.LogPrice[i-1]
	}
	return s
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Points) }

// Start returns the first observation date, zero if empty.
func (s Series) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Date
}

// End returns the last observation date, zero if empty.
func (s Series) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Prices returns a copy of the raw price column.
func (s Series) Prices() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// Between returns the sub-series with start <= date <= end. Zero bounds are open.
func (s Series) Between(start, end time.Time) Series {
	out := make([]PricePoint, 0, len(s.Points))
	for _, p := range s.Points {
		if !start.IsZero() && p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return NewSeries(out)
}

// DateRange is an inclusive pair of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
