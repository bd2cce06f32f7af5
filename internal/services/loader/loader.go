package loader

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"

	"github.com/shopspring/decimal"
)

// DefaultLayouts are used when no layout is configured.
var DefaultLayouts = []string{"2006-01-02"}

// Result is the outcome of a load. Series holds the accepted records; it is
// empty unless the report is clean or partial loads are allowed.
type Result struct {
	Series models.Series
	Report *models.ValidationReport
}

// OK reports whether every record was accepted.
func (r Result) OK() bool { return r.Report == nil || len(r.Report.Errors) == 0 }

// Loader validates raw price records into a Series.
type Loader struct {
	layouts      []string
	allowPartial bool
	l            *xlogger.Logger
}

type Option func(*Loader)

// WithLayouts declares the accepted date layouts, tried in order.
func WithLayouts(layouts ...string) Option {
	return func(ld *Loader) {
		if len(layouts) > 0 {
			ld.layouts = layouts
		}
	}
}

// WithAllowPartial returns the accepted records alongside a non-empty report.
func WithAllowPartial(allow bool) Option {
	return func(ld *Loader) { ld.allowPartial = allow }
}

func WithLogger(l *xlogger.Logger) Option {
	return func(ld *Loader) { ld.l = l }
}

func New(opts ...Option) *Loader {
	ld := &Loader{layouts: DefaultLayouts}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

type accepted struct {
	line  int
	point models.PricePoint
}

// Load parses and validates records. It has no side effects besides logging.
func (ld *Loader) Load(records []models.RawRecord) Result {
	report := &models.ValidationReport{Total: len(records)}
	rows := make([]accepted, 0, len(records))
	seen := make(map[string]int, len(records))

	for _, rec := range records {
		date, err := ld.parseDate(rec)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		price, err := parsePrice(rec)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		key := date.Format("2006-01-02")
		if first, ok := seen[key]; ok {
			report.Errors = append(report.Errors, &models.DuplicateDateError{Line: rec.Line, FirstLine: first, Date: key})
			continue
		}
		seen[key] = rec.Line
		rows = append(rows, accepted{line: rec.Line, point: models.PricePoint{Date: date, Price: price}})
	}

	// A duplicate discovered later must also disqualify the first occurrence.
	dupFirst := make(map[int]bool)
	for _, err := range report.Errors {
		if d, ok := err.(*models.DuplicateDateError); ok {
			dupFirst[d.FirstLine] = true
		}
	}
	points := make([]models.PricePoint, 0, len(rows))
	for _, r := range rows {
		if dupFirst[r.line] {
			continue
		}
		points = append(points, r.point)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	report.Accepted = len(points)

	if ld.l != nil {
		ld.l.Info("price records loaded",
			xlogger.Int("total", report.Total),
			xlogger.Int("accepted", report.Accepted),
			xlogger.Int("rejected", report.Rejected()))
	}

	res := Result{Report: report}
	if len(report.Errors) == 0 || ld.allowPartial {
		res.Series = models.NewSeries(points)
	}
	return res
}

func (ld *Loader) parseDate(rec models.RawRecord) (time.Time, error) {
	v := strings.TrimSpace(rec.Date)
	for _, layout := range ld.layouts {
		if t, err := time.Parse(layout, v); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &models.MalformedDateError{Line: rec.Line, Value: rec.Date, Layouts: ld.layouts}
}

func parsePrice(rec models.RawRecord) (float64, error) {
	v := strings.TrimSpace(rec.Price)
	if v == "" {
		return 0, &models.InvalidPriceError{Line: rec.Line, Value: rec.Price, Reason: "empty"}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, &models.InvalidPriceError{Line: rec.Line, Value: rec.Price, Reason: "not a number"}
	}
	if !d.IsPositive() {
		return 0, &models.InvalidPriceError{Line: rec.Line, Value: rec.Price, Reason: "must be positive"}
	}
	f, _ := d.Float64()
	return f, nil
}

// Describe renders a one-line summary of a report for logs and CLIs.
func Describe(r *models.ValidationReport) string {
	if r == nil {
		return "no report"
	}
	return fmt.Sprintf("%d records, %d accepted, %d rejected", r.Total, r.Accepted, r.Rejected())
}
