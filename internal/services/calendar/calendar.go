package calendar

import (
	"fmt"
	"math"
	"time"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"
	xutil "BrentBreaks/pkg/util"
)

// WorkingPoint is one position of the working calendar.
// SourceIndex is -1 for inserted points.
type WorkingPoint struct {
	Date        time.Time
	Price       float64
	Observed    bool
	Filled      bool
	SourceIndex int
}

// Gap is a run of missing calendar units between two observations.
type Gap struct {
	After   time.Time `json:"after"`
	Before  time.Time `json:"before"`
	Missing int       `json:"missing"`
}

// Segment is an inclusive range of working indices.
type Segment struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

// WorkingSeries is the calendar-normalised series.
type WorkingSeries struct {
	Policy     string
	Unit       string
	Points     []WorkingPoint
	Gaps       []Gap
	Unreliable []Segment
}

func (w WorkingSeries) Len() int { return len(w.Points) }

// Dates returns the date column.
func (w WorkingSeries) Dates() []time.Time {
	out := make([]time.Time, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Date
	}
	return out
}

// Normalizer places a validated series on a working calendar.
type Normalizer struct {
	cfg models.CalendarConfig
	l   *xlogger.Logger
}

func NewNormalizer(cfg models.CalendarConfig, l *xlogger.Logger) *Normalizer {
	if cfg.Policy == "" {
		cfg.Policy = models.PolicyObservedOnly
	}
	if cfg.Unit == "" {
		cfg.Unit = models.UnitTradingDay
	}
	if cfg.MaxFillGap <= 0 {
		cfg.MaxFillGap = 10
	}
	return &Normalizer{cfg: cfg, l: l}
}

// Normalize applies the configured policy. Every source observation is kept.
func (n *Normalizer) Normalize(s models.Series) (WorkingSeries, error) {
	ws := WorkingSeries{Policy: n.cfg.Policy, Unit: n.cfg.Unit}
	switch n.cfg.Policy {
	case models.PolicyObservedOnly, models.PolicyForwardFill, models.PolicyGapAsMissing:
	default:
		return ws, fmt.Errorf("unknown calendar policy %q", n.cfg.Policy)
	}
	switch n.cfg.Unit {
	case models.UnitTradingDay, models.UnitCalendarDay:
	default:
		return ws, fmt.Errorf("unknown calendar unit %q", n.cfg.Unit)
	}

	ws.Points = make([]WorkingPoint, 0, s.Len())
	for i, p := range s.Points {
		if i > 0 {
			prev := s.Points[i-1]
			missing := n.between(prev.Date, p.Date)
			if len(missing) > 0 {
				ws.Gaps = append(ws.Gaps, Gap{After: prev.Date, Before: p.Date, Missing: len(missing)})
				n.insert(&ws, prev.Price, missing)
			}
		}
		ws.Points = append(ws.Points, WorkingPoint{Date: p.Date, Price: p.Price, Observed: true, SourceIndex: i})
	}

	if n.l != nil {
		n.l.Debug("calendar normalised",
			xlogger.String("policy", ws.Policy),
			xlogger.String("unit", ws.Unit),
			xlogger.Int("observations", s.Len()),
			xlogger.Int("working_points", ws.Len()),
			xlogger.Int("gaps", len(ws.Gaps)),
			xlogger.Int("unreliable", len(ws.Unreliable)))
	}
	return ws, nil
}

func (n *Normalizer) insert(ws *WorkingSeries, last float64, missing []time.Time) {
	switch n.cfg.Policy {
	case models.PolicyForwardFill:
		start := len(ws.Points)
		for _, d := range missing {
			ws.Points = append(ws.Points, WorkingPoint{Date: d, Price: last, Observed: true, Filled: true, SourceIndex: -1})
		}
		if len(missing) > n.cfg.MaxFillGap {
			ws.Unreliable = append(ws.Unreliable, Segment{
				Start:  start,
				End:    len(ws.Points) - 1,
				Reason: fmt.Sprintf("forward-filled %d units, above limit %d", len(missing), n.cfg.MaxFillGap),
			})
		}
	case models.PolicyGapAsMissing:
		for _, d := range missing {
			ws.Points = append(ws.Points, WorkingPoint{Date: d, Price: math.NaN(), SourceIndex: -1})
		}
	}
}

// between lists the calendar units strictly between a and b.
func (n *Normalizer) between(a, b time.Time) []time.Time {
	var out []time.Time
	for d := xutil.NextDay(a); d.Before(b); d = xutil.NextDay(d) {
		if n.cfg.Unit == models.UnitTradingDay && !xutil.IsWeekday(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// GapCount counts calendar gaps in s under unit without building a working series.
func GapCount(s models.Series, unit string) int {
	n := NewNormalizer(models.CalendarConfig{Unit: unit}, nil)
	count := 0
	for i := 1; i < s.Len(); i++ {
		if len(n.between(s.Points[i-1].Date, s.Points[i].Date)) > 0 {
			count++
		}
	}
	return count
}
