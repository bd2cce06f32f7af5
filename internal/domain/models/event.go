package models

import (
	"strings"
	"time"
)

// EventType classifies a catalog event.
type EventType string

const (
	EventGeopolitical EventType = "Geopolitical"
	EventFinancial    EventType = "Financial"
	EventPolicy       EventType = "Policy"
	EventOther        EventType = "Other"
)

// EventTypes lists every supported type in display order.
var EventTypes = []EventType{EventGeopolitical, EventFinancial, EventPolicy, EventOther}

// ParseEventType maps catalog labels onto the supported types.
// Labels outside the taxonomy (e.g. "Health", "Market") become Other.
func ParseEventType(s string) EventType {
	for _, t := range EventTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t
		}
	}
	return EventOther
}

// Severity grades the expected magnitude of an event.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// ParseSeverity parses a severity label, case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	}
	return "", false
}

// Weight returns a rank weight used for deterministic tie-breaks.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Event is one entry of the curated event catalog.
type Event struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Date     time.Time `json:"date" yaml:"-"`
	Type     EventType `json:"type" yaml:"-"`
	Severity Severity  `json:"severity" yaml:"-"`
	Region   string    `json:"region,omitempty" yaml:"region"`
}

// EventFilter bounds an event query. Empty Types means all types.
type EventFilter struct {
	Types []EventType
	Start time.Time
	End   time.Time
}

// Matches reports whether e satisfies the filter.
func (f EventFilter) Matches(e Event) bool {
	if !f.Start.IsZero() && e.Date.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Date.After(f.End) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// TemporalCaveat is attached to every event association.
const TemporalCaveat = "temporal association only: proximity in time does not establish that the event caused the change point"

// EventImpactLink associates one event with one change point.
// LagDays is the event date minus the change-point date, in days.
type EventImpactLink struct {
	Event           Event     `json:"event"`
	ChangePointID   string    `json:"change_point_id"`
	ChangePointDate time.Time `json:"change_point_date"`
	LagDays         int       `json:"lag_days"`
	Proximity       float64   `json:"proximity"`
	Overlap         float64   `json:"overlap"`
	Confidence      float64   `json:"confidence"`
	Rank            int       `json:"rank"`
	Caveat          string    `json:"caveat"`
}

// ImpactPoint is one price observation relative to an event date.
type ImpactPoint struct {
	Date          time.Time `json:"date"`
	Price         float64   `json:"price"`
	DaysFromEvent int       `json:"days_from_event"`
}

// EventPriceImpact compares the average price before and after an event
// inside a fixed calendar window.
type EventPriceImpact struct {
	Event          Event         `json:"event"`
	WindowDays     int           `json:"window_days"`
	PriceBefore    *float64      `json:"price_before"`
	PriceAfter     *float64      `json:"price_after"`
	PriceChangePct *float64      `json:"price_change_pct"`
	DataPoints     []ImpactPoint `json:"data_points"`
}
