package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"BrentBreaks/internal/domain/models"
	domrepo "BrentBreaks/internal/domain/repository"
	svccache "BrentBreaks/internal/service/cache"
	"BrentBreaks/internal/services/calendar"
	"BrentBreaks/internal/services/changepoint"
	"BrentBreaks/internal/services/correlator"
	"BrentBreaks/internal/services/summary"
	"BrentBreaks/internal/services/transform"
	xlogger "BrentBreaks/pkg/logger"
	"BrentBreaks/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// Broadcaster pushes run notifications to live clients.
type Broadcaster interface {
	Broadcast(n models.RunNotification)
}

// failureTTL bounds how long a failed run is reported before it may be retried.
const failureTTL = time.Minute

// Runner executes the analysis pipeline and stores one immutable snapshot per
// fingerprint. Concurrent runs of the same fingerprint share one computation.
type Runner struct {
	dataset   *DatasetService
	events    domrepo.EventSource
	store     domrepo.SnapshotStore
	publisher domrepo.Publisher
	metrics   domrepo.Metrics
	broadcast Broadcaster
	l         *xlogger.Logger

	group    singleflight.Group
	failures *svccache.TTLCache[*models.Snapshot]
	now      func() time.Time
}

type RunnerOption func(*Runner)

func WithPublisher(p domrepo.Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

func WithBroadcaster(b Broadcaster) RunnerOption {
	return func(r *Runner) { r.broadcast = b }
}

func WithRunnerMetrics(m domrepo.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithRunnerLogger(l *xlogger.Logger) RunnerOption {
	return func(r *Runner) { r.l = l }
}

func NewRunner(dataset *DatasetService, events domrepo.EventSource, store domrepo.SnapshotStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		dataset:  dataset,
		events:   events,
		store:    store,
		l:        xlogger.Nop(),
		failures: svccache.NewTTLCache[*models.Snapshot](),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fingerprint identifies a run by its configuration and series content.
func Fingerprint(cfg models.AnalysisConfig, seriesHash string) (fingerprint, configHash string, err error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", "", fmt.Errorf("encode config: %w", err)
	}
	ch := sha256.Sum256(b)
	configHash = hex.EncodeToString(ch[:])
	fp := sha256.Sum256([]byte(configHash + "|" + seriesHash))
	return hex.EncodeToString(fp[:]), configHash, nil
}

// Resolve loads the dataset and returns the fingerprint cfg would run under.
func (r *Runner) Resolve(ctx context.Context, cfg models.AnalysisConfig) (*Dataset, string, error) {
	ds, err := r.dataset.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	fp, _, err := Fingerprint(cfg, ds.SeriesHash)
	if err != nil {
		return nil, "", err
	}
	return ds, fp, nil
}

// Failure returns the snapshot of a recent failed run of fingerprint, if any.
func (r *Runner) Failure(fingerprint string) (*models.Snapshot, bool) {
	return r.failures.Get(fingerprint)
}

// Run returns the stored snapshot for cfg, computing it when none exists.
func (r *Runner) Run(ctx context.Context, cfg models.AnalysisConfig) (*models.Snapshot, error) {
	ds, fp, err := r.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if snap, err := r.store.Get(ctx, fp); err == nil {
		return snap, nil
	} else if !errors.Is(err, domrepo.ErrSnapshotNotFound) {
		r.l.Warn("snapshot lookup failed", xlogger.String("fingerprint", fp), xlogger.Error(err))
	}

	v, err, shared := r.group.Do(fp, func() (interface{}, error) {
		// A computation that finished between the lookup above and Do.
		if snap, err := r.store.Get(ctx, fp); err == nil {
			return snap, nil
		}
		return r.compute(ctx, cfg, ds, fp)
	})
	if shared {
		r.l.Debug("run shared with in-flight computation", xlogger.String("fingerprint", fp))
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Snapshot), nil
}

func (r *Runner) compute(ctx context.Context, cfg models.AnalysisConfig, ds *Dataset, fp string) (*models.Snapshot, error) {
	ctx, span := tracing.Start(ctx, "runner.compute",
		attribute.String("fingerprint", fp),
		attribute.String("strategy", cfg.Engine.Strategy))
	defer span.End()

	started := r.now()
	_, configHash, _ := Fingerprint(cfg, ds.SeriesHash)
	snap := &models.Snapshot{
		ID:           uuid.NewString(),
		Fingerprint:  fp,
		ConfigHash:   configHash,
		SeriesHash:   ds.SeriesHash,
		Config:       cfg,
		ChangePoints: []models.ChangePointPosterior{},
		Links:        map[string][]models.EventImpactLink{},
	}
	l := r.l.With(xlogger.String("fingerprint", fp[:12]), xlogger.String("snapshot", snap.ID))

	if ds.Series.Len() == 0 {
		return r.fail(snap, started, fmt.Errorf("no valid price records: %v", ds.Report))
	}

	ws, err := calendar.NewNormalizer(cfg.Calendar, l).Normalize(ds.Series)
	if err != nil {
		return r.fail(snap, started, fmt.Errorf("normalize calendar: %w", err))
	}
	tr := transform.Transform(ws)
	snap.Stationarity = transform.Stationarity(tr, cfg.Engine.StationarityThreshold, cfg.Engine.ADFMaxLag, cfg.Engine.Domain)
	snap.Domain = snap.Stationarity.Chosen
	for _, seg := range ws.Unreliable {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("unreliable segment %d..%d: %s", seg.Start, seg.End, seg.Reason))
	}

	engine := changepoint.NewEngine(cfg.Engine, changepoint.WithLogger(l), changepoint.WithMetrics(r.metrics))
	det, err := engine.Detect(ctx, tr.Observations(snap.Domain))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return r.fail(snap, started, err)
	}
	changepoint.AssignIDs(det.ChangePoints, fp)
	snap.ChangePoints = det.ChangePoints
	snap.Reason = det.Reason
	snap.Reliable = det.Reliable
	snap.Warnings = append(snap.Warnings, det.Warnings...)

	events, err := r.eventsFor(ctx, ds.Series, cfg.Correlator.WindowDays)
	if err != nil {
		l.Warn("event catalog unavailable, links omitted", xlogger.Error(err))
		snap.Warnings = append(snap.Warnings, "event catalog unavailable: "+err.Error())
	}

	// Correlator and summary read the same immutable inputs; both wait for
	// the detection above.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		snap.Links = correlator.New(cfg.Correlator, l).Correlate(snap.ChangePoints, events)
	}()
	go func() {
		defer wg.Done()
		snap.Summary = summary.New(cfg.Calendar.Unit, l).Compute(ds.Series, snap.Stationarity)
	}()
	wg.Wait()

	snap.Status = runStatus(det)
	snap.CreatedAt = r.now().UTC()
	snap.Duration = r.now().Sub(started)

	if err := r.store.Put(ctx, snap); err != nil {
		if r.metrics != nil {
			r.metrics.RecordError("snapshot_store")
		}
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	r.failures.Delete(fp)
	r.announce(ctx, snap)

	if r.metrics != nil {
		r.metrics.RecordRun(det.Strategy, string(snap.Status), snap.Duration)
	}
	span.SetAttributes(attribute.Int("change_points", len(snap.ChangePoints)), attribute.String("status", string(snap.Status)))
	l.Info("analysis run stored",
		xlogger.String("status", string(snap.Status)),
		xlogger.String("domain", string(snap.Domain)),
		xlogger.Int("change_points", len(snap.ChangePoints)),
		xlogger.Bool("reliable", snap.Reliable),
		xlogger.Uint64("seed", cfg.Engine.Seed),
		xlogger.Duration("duration_ms", snap.Duration))
	return snap, nil
}

// eventsFor fetches the catalog over the series range widened by the window.
func (r *Runner) eventsFor(ctx context.Context, s models.Series, windowDays int) ([]models.Event, error) {
	if r.events == nil {
		return nil, nil
	}
	pad := time.Duration(windowDays) * 24 * time.Hour
	return r.events.Events(ctx, models.EventFilter{
		Start: s.Start().Add(-pad),
		End:   s.End().Add(pad),
	})
}

// fail records a failed run. Failures are kept briefly for status queries and
// never stored as snapshots.
func (r *Runner) fail(snap *models.Snapshot, started time.Time, err error) (*models.Snapshot, error) {
	snap.Status = models.StatusFailed
	snap.Reason = err.Error()
	snap.CreatedAt = r.now().UTC()
	snap.Duration = r.now().Sub(started)
	r.failures.Set(snap.Fingerprint, snap, failureTTL)
	if r.metrics != nil {
		r.metrics.RecordRun(snap.Config.Engine.Strategy, string(models.StatusFailed), snap.Duration)
		r.metrics.RecordError("run_failed")
	}
	r.l.Error("analysis run failed",
		xlogger.String("fingerprint", snap.Fingerprint),
		xlogger.Error(err))
	if r.broadcast != nil {
		r.broadcast.Broadcast(models.NewRunNotification(snap))
	}
	return nil, fmt.Errorf("run %s: %w", snap.Fingerprint[:12], err)
}

func (r *Runner) announce(ctx context.Context, snap *models.Snapshot) {
	n := models.NewRunNotification(snap)
	if r.publisher != nil {
		if err := r.publisher.PublishRun(ctx, n); err != nil {
			r.l.Warn("run notification not published", xlogger.String("fingerprint", snap.Fingerprint), xlogger.Error(err))
		}
	}
	if r.broadcast != nil {
		r.broadcast.Broadcast(n)
	}
}

func runStatus(det models.Detection) models.RunStatus {
	switch {
	case len(det.ChangePoints) == 0 && det.Reason != "":
		return models.StatusInsufficientData
	case len(det.ChangePoints) == 0:
		return models.StatusNoChangePoints
	case !det.Reliable:
		return models.StatusLowConfidence
	default:
		return models.StatusOK
	}
}
