package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"BrentBreaks/internal/domain/models"
)

// catalogLayout is the date layout of every event catalog representation.
const catalogLayout = "2006-01-02"

// catalogEntry is the wire shape shared by the YAML, JSON and ClickHouse catalogs.
type catalogEntry struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Date     string `yaml:"date" json:"date"`
	Type     string `yaml:"type" json:"type"`
	Severity string `yaml:"severity" json:"severity"`
	Region   string `yaml:"region" json:"region"`
}

func (c catalogEntry) toEvent() (models.Event, error) {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return models.Event{}, fmt.Errorf("event %q: missing id", c.Name)
	}
	raw := strings.TrimSpace(c.Date)
	if len(raw) > len(catalogLayout) {
		// Tolerates RFC 3339 timestamps from JSON producers.
		raw = raw[:len(catalogLayout)]
	}
	date, err := time.Parse(catalogLayout, raw)
	if err != nil {
		return models.Event{}, fmt.Errorf("event %s: malformed date %q", id, c.Date)
	}
	sev, ok := models.ParseSeverity(c.Severity)
	if !ok {
		return models.Event{}, fmt.Errorf("event %s: unknown severity %q", id, c.Severity)
	}
	return models.Event{
		ID:       id,
		Name:     strings.TrimSpace(c.Name),
		Date:     date.UTC(),
		Type:     models.ParseEventType(c.Type),
		Severity: sev,
		Region:   strings.TrimSpace(c.Region),
	}, nil
}

// buildCatalog converts entries, rejects duplicate IDs, applies the filter
// and orders the result by date then ID.
func buildCatalog(entries []catalogEntry, filter models.EventFilter) ([]models.Event, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]models.Event, 0, len(entries))
	for _, entry := range entries {
		ev, err := entry.toEvent()
		if err != nil {
			return nil, err
		}
		if seen[ev.ID] {
			return nil, fmt.Errorf("event %s: duplicate id", ev.ID)
		}
		seen[ev.ID] = true
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})
}
