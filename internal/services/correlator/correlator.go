package correlator

import (
	"math"
	"sort"
	"time"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"
	xutil "BrentBreaks/pkg/util"
)

// Correlator ranks catalog events by temporal proximity to change points.
// It is deterministic: identical inputs always produce identical rankings.
type Correlator struct {
	cfg models.CorrelatorConfig
	l   *xlogger.Logger
}

func New(cfg models.CorrelatorConfig, l *xlogger.Logger) *Correlator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 90
	}
	if cfg.DistanceWeight+cfg.OverlapWeight <= 0 {
		cfg.DistanceWeight, cfg.OverlapWeight = 0.7, 0.3
	}
	if l == nil {
		l = xlogger.Nop()
	}
	return &Correlator{cfg: cfg, l: l}
}

// Correlate returns the ranked links of every change point, keyed by change-point ID.
// A change point without candidates maps to an empty list.
func (c *Correlator) Correlate(cps []models.ChangePointPosterior, events []models.Event) map[string][]models.EventImpactLink {
	out := make(map[string][]models.EventImpactLink, len(cps))
	total := 0
	for _, cp := range cps {
		links := c.Links(cp, events)
		out[cp.ID] = links
		total += len(links)
	}
	c.l.Debug("events correlated",
		xlogger.Int("change_points", len(cps)),
		xlogger.Int("events", len(events)),
		xlogger.Int("links", total))
	return out
}

// Links ranks the events inside the window around one change point.
func (c *Correlator) Links(cp models.ChangePointPosterior, events []models.Event) []models.EventImpactLink {
	window := float64(c.cfg.WindowDays)
	links := make([]models.EventImpactLink, 0)
	for _, ev := range events {
		lag := xutil.DaysBetween(cp.Date, ev.Date)
		if math.Abs(float64(lag)) > window {
			continue
		}
		proximity := 1 - math.Abs(float64(lag))/window
		overlap := c.overlap(ev.Date, cp.CredibleDates)
		conf := (c.cfg.DistanceWeight*proximity + c.cfg.OverlapWeight*overlap) / (c.cfg.DistanceWeight + c.cfg.OverlapWeight)
		if conf < c.cfg.MinConfidence {
			continue
		}
		links = append(links, models.EventImpactLink{
			Event:           ev,
			ChangePointID:   cp.ID,
			ChangePointDate: cp.Date,
			LagDays:         lag,
			Proximity:       proximity,
			Overlap:         overlap,
			Confidence:      conf,
			Caveat:          models.TemporalCaveat,
		})
	}

	sort.SliceStable(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if wa, wb := a.Event.Severity.Weight(), b.Event.Severity.Weight(); wa != wb {
			return wa > wb
		}
		if la, lb := abs(a.LagDays), abs(b.LagDays); la != lb {
			return la < lb
		}
		return a.Event.ID < b.Event.ID
	})
	if c.cfg.MaxLinks > 0 && len(links) > c.cfg.MaxLinks {
		links = links[:c.cfg.MaxLinks]
	}
	for i := range links {
		links[i].Rank = i + 1
	}
	return links
}

// overlap is the share of the event's window [date-h, date+h] covered by the
// change point's credible interval, counted in whole days.
func (c *Correlator) overlap(date time.Time, ci models.DateRange) float64 {
	if ci.Start.IsZero() || ci.End.IsZero() {
		return 0
	}
	h := c.cfg.EventHalfWidthDays
	evStart := xutil.TruncateDay(date).AddDate(0, 0, -h)
	evEnd := xutil.TruncateDay(date).AddDate(0, 0, h)
	start, end := evStart, evEnd
	if s := xutil.TruncateDay(ci.Start); s.After(start) {
		start = s
	}
	if e := xutil.TruncateDay(ci.End); e.Before(end) {
		end = e
	}
	if end.Before(start) {
		return 0
	}
	return float64(xutil.DaysBetween(start, end)+1) / float64(2*h+1)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
