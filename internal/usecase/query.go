package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	svccache "BrentBreaks/internal/service/cache"
	qmetrics "BrentBreaks/internal/service/metrics"
	"BrentBreaks/internal/services/calendar"
	"BrentBreaks/internal/services/summary"
	"BrentBreaks/internal/services/transform"
	xlogger "BrentBreaks/pkg/logger"
	xutil "BrentBreaks/pkg/util"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when a queried entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery is returned for arguments that pass request validation
	// but are inconsistent with each other.
	ErrInvalidQuery = errors.New("invalid query")
)

const (
	defaultPriceLimit  = 5000
	maxImpactPoints    = 100
	statsCacheTTL      = time.Hour
	pendingRunWarning  = "analysis scheduled; query again for the result"
	failedRetryWarning = "last run failed; it will be retried after a short delay"
)

// RunScheduler queues a background run for a fingerprint.
type RunScheduler interface {
	Schedule(ctx context.Context, cfg models.AnalysisConfig, fingerprint string) (bool, error)
}

// QueryService is the read-only query surface of the dashboard. It never
// computes change points on the request path when a scheduler is configured.
type QueryService struct {
	base      models.AnalysisConfig
	dataset   *DatasetService
	events    domrepo.EventSource
	store     domrepo.SnapshotStore
	runner    *Runner
	scheduler RunScheduler
	validate  *validator.Validate
	stats     *svccache.TTLCache[models.SummaryStats]
	l         *xlogger.Logger
}

type QueryOption func(*QueryService)

// WithScheduler makes change-point misses asynchronous. Without a scheduler
// the query runs the analysis inline.
func WithScheduler(s RunScheduler) QueryOption {
	return func(q *QueryService) { q.scheduler = s }
}

func WithQueryLogger(l *xlogger.Logger) QueryOption {
	return func(q *QueryService) { q.l = l }
}

func NewQueryService(base models.AnalysisConfig, dataset *DatasetService, events domrepo.EventSource, store domrepo.SnapshotStore, runner *Runner, opts ...QueryOption) *QueryService {
	q := &QueryService{
		base:     base,
		dataset:  dataset,
		events:   events,
		store:    store,
		runner:   runner,
		validate: validator.New(),
		stats:    svccache.NewTTLCache[models.SummaryStats](),
		l:        xlogger.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Prices returns the validated series between start and end, thinned to at
// most limit points by taking every step-th observation.
func (q *QueryService) Prices(ctx context.Context, req models.PriceSeriesRequest) (s models.Series, err error) {
	defer observe("prices", &err)()

	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		return models.Series{}, err
	}
	ds, err := q.dataset.Load(ctx)
	if err != nil {
		return models.Series{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPriceLimit
	}
	return thin(ds.Series.Between(start, end), limit), nil
}

// thin keeps every step-th point, step being len/limit rounded down, so the
// result holds at least limit and fewer than 2*limit points. The log fields
// are copied from the full series so that returns stay daily returns.
func thin(s models.Series, limit int) models.Series {
	if s.Len() <= limit {
		return s
	}
	step := s.Len() / limit
	out := models.Series{}
	for i := 0; i < s.Len(); i += step {
		out.Points = append(out.Points, s.Points[i])
		out.LogPrice = append(out.LogPrice, s.LogPrice[i])
		out.LogReturn = append(out.LogReturn, s.LogReturn[i])
	}
	return out
}

// Events returns catalog events matching the type filter and date range.
func (q *QueryService) Events(ctx context.Context, req models.EventsRequest) (events []models.Event, err error) {
	defer observe("events", &err)()

	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	filter := models.EventFilter{Start: start, End: end}
	for _, t := range req.Types {
		if t == "" || t == "all" {
			continue
		}
		filter.Types = append(filter.Types, models.ParseEventType(t))
	}
	events, err = q.events.Events(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// EventTypes lists the supported event types.
func (q *QueryService) EventTypes() []models.EventType {
	return append([]models.EventType(nil), models.EventTypes...)
}

// Stats summarises the whole series on its observed dates. The result only
// depends on the series, so it is cached per series hash.
func (q *QueryService) Stats(ctx context.Context) (st models.SummaryStats, err error) {
	defer observe("stats", &err)()

	ds, err := q.dataset.Load(ctx)
	if err != nil {
		return models.SummaryStats{}, err
	}
	if cached, ok := q.stats.Get(ds.SeriesHash); ok {
		return cached, nil
	}
	if ds.Series.Len() == 0 {
		return models.SummaryStats{}, fmt.Errorf("%w: no valid price records", ErrNotFound)
	}

	ccfg := q.base.Calendar
	ccfg.Policy = models.PolicyObservedOnly
	ws, err := calendar.NewNormalizer(ccfg, q.l).Normalize(ds.Series)
	if err != nil {
		return models.SummaryStats{}, fmt.Errorf("normalize calendar: %w", err)
	}
	report := transform.Stationarity(transform.Transform(ws), q.base.Engine.StationarityThreshold, q.base.Engine.ADFMaxLag, models.DomainAuto)
	st = summary.New(q.base.Calendar.Unit, q.l).Compute(ds.Series, report)
	q.stats.Set(ds.SeriesHash, st, statsCacheTTL)
	return st, nil
}

// ChangePoints answers from the snapshot of the requested configuration.
// A missing snapshot is scheduled once and reported as pending.
func (q *QueryService) ChangePoints(ctx context.Context, req models.ChangePointsRequest) (resp *models.ChangePointsResponse, err error) {
	defer observe("change_points", &err)()

	cfg := req.Apply(q.base)
	if err := q.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	_, fp, err := q.runner.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	snap, err := q.store.Get(ctx, fp)
	switch {
	case err == nil:
		return changePointsResponse(snap), nil
	case !errors.Is(err, domrepo.ErrSnapshotNotFound):
		return nil, fmt.Errorf("snapshot lookup: %w", err)
	}

	if failed, ok := q.runner.Failure(fp); ok {
		resp := changePointsResponse(failed)
		resp.Warnings = append(resp.Warnings, failedRetryWarning)
		return resp, nil
	}

	if q.scheduler == nil {
		snap, err := q.runner.Run(ctx, cfg)
		if err != nil {
			if failed, ok := q.runner.Failure(fp); ok {
				return changePointsResponse(failed), nil
			}
			return nil, err
		}
		return changePointsResponse(snap), nil
	}

	if _, err := q.scheduler.Schedule(ctx, cfg, fp); err != nil {
		return nil, err
	}
	return &models.ChangePointsResponse{
		Status:       models.StatusPending,
		Fingerprint:  fp,
		Strategy:     cfg.Engine.Strategy,
		ChangePoints: []models.ChangePointPosterior{},
		Warnings:     []string{pendingRunWarning},
	}, nil
}

func changePointsResponse(s *models.Snapshot) *models.ChangePointsResponse {
	resp := &models.ChangePointsResponse{
		Status:       s.Status,
		Fingerprint:  s.Fingerprint,
		SnapshotID:   s.ID,
		Domain:       s.Domain,
		Strategy:     s.Config.Engine.Strategy,
		ChangePoints: s.ChangePoints,
		Reason:       s.Reason,
		Warnings:     append([]string(nil), s.Warnings...),
		Reliable:     s.Reliable,
	}
	if resp.ChangePoints == nil {
		resp.ChangePoints = []models.ChangePointPosterior{}
	}
	if s.Status != models.StatusFailed {
		created := s.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}

// EventImpact returns the ranked candidate events of one change point.
func (q *QueryService) EventImpact(ctx context.Context, changePointID string) (resp *models.EventImpactResponse, err error) {
	defer observe("event_impact", &err)()

	snap, err := q.store.FindByChangePoint(ctx, changePointID)
	if errors.Is(err, domrepo.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("%w: change point %s", ErrNotFound, changePointID)
	}
	if err != nil {
		return nil, fmt.Errorf("change point lookup: %w", err)
	}
	cp, ok := snap.ChangePoint(changePointID)
	if !ok {
		return nil, fmt.Errorf("%w: change point %s", ErrNotFound, changePointID)
	}
	links := snap.Links[changePointID]
	if links == nil {
		links = []models.EventImpactLink{}
	}
	return &models.EventImpactResponse{
		ChangePoint: cp,
		Links:       links,
		Caveat:      models.TemporalCaveat,
	}, nil
}

// EventPriceImpact compares mean prices before and after an event inside a
// window of ±WindowDays calendar days.
func (q *QueryService) EventPriceImpact(ctx context.Context, req models.EventPriceImpactRequest) (impact *models.EventPriceImpact, err error) {
	defer observe("event_price_impact", &err)()

	ev, err := q.event(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	ds, err := q.dataset.Load(ctx)
	if err != nil {
		return nil, err
	}
	pad := time.Duration(req.WindowDays) * 24 * time.Hour
	window := ds.Series.Between(ev.Date.Add(-pad), ev.Date.Add(pad))
	if window.Len() == 0 {
		return nil, fmt.Errorf("%w: no prices within %d days of event %s", ErrNotFound, req.WindowDays, ev.ID)
	}

	impact = &models.EventPriceImpact{Event: ev, WindowDays: req.WindowDays}
	var sumBefore, sumAfter float64
	var nBefore, nAfter int
	for _, p := range window.Points {
		days := int(p.Date.Sub(ev.Date).Hours() / 24)
		switch {
		case days < 0:
			sumBefore += p.Price
			nBefore++
		case days > 0:
			sumAfter += p.Price
			nAfter++
		}
		if len(impact.DataPoints) < maxImpactPoints {
			impact.DataPoints = append(impact.DataPoints, models.ImpactPoint{Date: p.Date, Price: p.Price, DaysFromEvent: days})
		}
	}
	if nBefore > 0 {
		v := sumBefore / float64(nBefore)
		impact.PriceBefore = &v
	}
	if nAfter > 0 {
		v := sumAfter / float64(nAfter)
		impact.PriceAfter = &v
	}
	if impact.PriceBefore != nil && impact.PriceAfter != nil {
		pct := (*impact.PriceAfter - *impact.PriceBefore) / *impact.PriceBefore * 100
		impact.PriceChangePct = &pct
	}
	return impact, nil
}

func (q *QueryService) event(ctx context.Context, id string) (models.Event, error) {
	events, err := q.events.Events(ctx, models.EventFilter{})
	if err != nil {
		return models.Event{}, fmt.Errorf("query events: %w", err)
	}
	for _, e := range events {
		if e.ID == id {
			return e, nil
		}
	}
	return models.Event{}, fmt.Errorf("%w: event %s", ErrNotFound, id)
}

// Validation exposes the loader's batch report for the current dataset.
func (q *QueryService) Validation(ctx context.Context) (*models.ValidationResponse, error) {
	ds, err := q.dataset.Load(ctx)
	if err != nil {
		return nil, err
	}
	r := ds.Report
	if r == nil {
		r = &models.ValidationReport{Total: ds.Series.Len(), Accepted: ds.Series.Len()}
	}
	return &models.ValidationResponse{
		Total:    r.Total,
		Accepted: r.Accepted,
		Rejected: r.Rejected(),
		Errors:   r.Messages(),
	}, nil
}

// Snapshot returns a stored snapshot by fingerprint.
func (q *QueryService) Snapshot(ctx context.Context, fingerprint string) (snap *models.Snapshot, err error) {
	defer observe("snapshot", &err)()

	snap, err = q.store.Get(ctx, fingerprint)
	if errors.Is(err, domrepo.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("%w: snapshot %s", ErrNotFound, fingerprint)
	}
	return snap, err
}

// Status reports what the service currently serves.
func (q *QueryService) Status(ctx context.Context) (*models.ServiceStatus, error) {
	ds, err := q.dataset.Load(ctx)
	if err != nil {
		return nil, err
	}
	events, err := q.events.Events(ctx, models.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	st := &models.ServiceStatus{
		Status:     "running",
		PriceCount: ds.Series.Len(),
		EventCount: len(events),
		DateRange:  models.DateRange{Start: ds.Series.Start(), End: ds.Series.End()},
	}
	if latest, err := q.store.Latest(ctx); err == nil {
		st.Fingerprint = latest.Fingerprint
	}
	return st, nil
}

func observe(query string, err *error) func() {
	start := time.Now()
	return func() { qmetrics.ObserveQuery(query, start, *err) }
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	if start != "" {
		t, ok := xutil.ParseTime(start)
		if !ok {
			return s, e, fmt.Errorf("%w: start %q is not a date", ErrInvalidQuery, start)
		}
		s = xutil.TruncateDay(t)
	}
	if end != "" {
		t, ok := xutil.ParseTime(end)
		if !ok {
			return s, e, fmt.Errorf("%w: end %q is not a date", ErrInvalidQuery, end)
		}
		e = xutil.TruncateDay(t)
	}
	if !s.IsZero() && !e.IsZero() && s.After(e) {
		return s, e, fmt.Errorf("%w: start %s after end %s", ErrInvalidQuery, start, end)
	}
	return s, e, nil
}
