package changepoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/domain/repository"
	xlogger "BrentBreaks/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Engine detects change points in a model-ready observation sequence.
type Engine struct {
	cfg     models.EngineConfig
	l       *xlogger.Logger
	metrics repository.Metrics
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(l *xlogger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(cfg models.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		l:      xlogger.Nop(),
		tracer: otel.Tracer("BrentBreaks/changepoint"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() models.EngineConfig { return e.cfg }

// ShiftProbability returns the posterior probability that obs contains one
// change point rather than none.
func (e *Engine) ShiftProbability(obs models.Observations) float64 {
	return shiftProbability(newPrefix(obs), 0, obs.Len(), e.cfg)
}

// Detect runs the configured multi change-point strategy. A series too short
// for two minimum segments yields an empty result with a reason, not an error.
// The only error is *models.InferenceFailureError (or a wrapped one).
func (e *Engine) Detect(ctx context.Context, obs models.Observations) (models.Detection, error) {
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "changepoint.Detect", trace.WithAttributes(
		attribute.String("strategy", e.cfg.Strategy),
		attribute.String("domain", string(obs.Domain)),
		attribute.Int("observations", obs.Len()),
	))
	defer span.End()

	started := time.Now()
	det := models.Detection{
		Strategy:     e.cfg.Strategy,
		Domain:       obs.Domain,
		ChangePoints: []models.ChangePointPosterior{},
		Reliable:     true,
	}
	if obs.Len() < 2*e.cfg.MinSegment {
		det.Reason = (&models.InsufficientDataError{Length: obs.Len(), MinSegment: e.cfg.MinSegment}).Error()
		e.l.Warn("change-point detection skipped", xlogger.String("reason", det.Reason))
		return det, nil
	}

	p := newPrefix(obs)
	var err error
	switch e.cfg.Strategy {
	case models.StrategyJoint:
		err = e.detectJoint(ctx, obs, p, &det)
	default:
		det.Strategy = models.StrategyBinarySeg
		err = e.detectBinary(ctx, obs, p, &det)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		e.l.Error("change-point detection failed", xlogger.Error(err))
		return det, err
	}

	slices.SortFunc(det.ChangePoints, func(a, b models.ChangePointPosterior) int { return a.PointEstimate - b.PointEstimate })
	AssignIDs(det.ChangePoints, string(obs.Domain))
	for _, cp := range det.ChangePoints {
		if !cp.Reliable {
			det.Reliable = false
		}
	}
	if e.metrics != nil {
		e.metrics.RecordChangePoints(len(det.ChangePoints))
	}
	span.SetAttributes(attribute.Int("change_points", len(det.ChangePoints)))
	e.l.Info("change-point detection finished",
		xlogger.String("strategy", det.Strategy),
		xlogger.String("domain", string(det.Domain)),
		xlogger.Int("change_points", len(det.ChangePoints)),
		xlogger.Bool("reliable", det.Reliable),
		xlogger.Duration("duration_ms", time.Since(started)))
	return det, nil
}

type interval struct{ lo, hi int }

// detectBinary splits recursively, breadth first, while the shift probability
// of a segment stays at or above the threshold.
func (e *Engine) detectBinary(ctx context.Context, obs models.Observations, p prefix, det *models.Detection) error {
	m := e.cfg.MinSegment
	queue := []interval{{0, obs.Len()}}
	for len(queue) > 0 {
		seg := queue[0]
		queue = queue[1:]
		if seg.hi-seg.lo < 2*m {
			continue
		}
		if len(det.ChangePoints) >= e.cfg.MaxChangePoints {
			det.Warnings = append(det.Warnings, fmt.Sprintf("stopped at the limit of %d change points", e.cfg.MaxChangePoints))
			break
		}

		prob := shiftProbability(p, seg.lo, seg.hi, e.cfg)
		if prob < e.cfg.ShiftThreshold {
			continue
		}
		cp, err := e.fitSingle(ctx, obs, p, seg, prob)
		if err != nil {
			var fail *models.InferenceFailureError
			if len(det.ChangePoints) > 0 && errors.As(err, &fail) {
				det.Warnings = append(det.Warnings, fmt.Sprintf("segment [%d,%d): %v", seg.lo+obs.Offset, seg.hi-1+obs.Offset, err))
				det.Reliable = false
				break
			}
			return err
		}
		det.ChangePoints = append(det.ChangePoints, cp)
		det.Warnings = append(det.Warnings, cp.Diagnostics.Warnings...)
		k := cp.PointEstimate - obs.Offset
		queue = append(queue, interval{seg.lo, k}, interval{k, seg.hi})
	}
	return nil
}

func (e *Engine) fitSingle(ctx context.Context, obs models.Observations, p prefix, seg interval, prob float64) (models.ChangePointPosterior, error) {
	ctx, span := e.tracer.Start(ctx, "changepoint.fitSingle", trace.WithAttributes(
		attribute.Int("segment.start", seg.lo),
		attribute.Int("segment.end", seg.hi),
	))
	defer span.End()

	g := e.sampler(p, seg)
	traces, diags, err := e.runChains(ctx, g, 1, e.seedFor(seg))
	if err != nil {
		return models.ChangePointPosterior{}, err
	}
	loc := summariseLocation(pooledInts(traces, 0), e.cfg.CredibleLevel, obs.Offset)
	return e.posterior(obs, traces, diags, 0, loc, prob, seg), nil
}

func (e *Engine) sampler(p prefix, seg interval) *gibbs {
	return &gibbs{
		p:      p,
		prior:  scaledPrior(p, seg.lo, seg.hi, e.cfg),
		lo:     seg.lo,
		hi:     seg.hi,
		minSeg: e.cfg.MinSegment,
		kPrior: e.cfg.KPrior,
		burnIn: e.cfg.BurnIn,
		keep:   e.cfg.Samples,
	}
}

// seedFor derives a per-segment seed so recursive fits never share streams.
func (e *Engine) seedFor(seg interval) uint64 {
	return e.cfg.Seed ^ (uint64(seg.lo)<<32 | uint64(seg.hi))
}

// runChains runs the configured number of chains in parallel and keeps the
// usable ones. It fails only when none is usable.
func (e *Engine) runChains(ctx context.Context, g *gibbs, points int, seed uint64) ([]*chainTrace, []models.ChainDiagnostic, error) {
	chains := max(e.cfg.Chains, 1)
	traces := make([]*chainTrace, chains)
	var eg errgroup.Group
	for c := 0; c < chains; c++ {
		eg.Go(func() error {
			traces[c] = g.run(ctx, c, seed, points)
			return nil
		})
	}
	_ = eg.Wait()

	diags := make([]models.ChainDiagnostic, 0, chains)
	usable := make([]*chainTrace, 0, chains)
	diverged, timedOut := 0, 0
	for _, t := range traces {
		diags = append(diags, t.diag)
		switch {
		case t.diag.Diverged:
			diverged++
			e.l.Warn("chain diverged", xlogger.Int("chain", t.diag.Chain), xlogger.String("message", t.diag.Message))
		case t.diag.TimedOut:
			timedOut++
			e.l.Warn("chain timed out", xlogger.Int("chain", t.diag.Chain), xlogger.String("message", t.diag.Message))
		}
		if t.usable() {
			usable = append(usable, t)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordChains(chains, diverged, timedOut)
	}
	if len(usable) == 0 {
		reason := "every chain diverged or timed out"
		if ctx.Err() != nil {
			reason = fmt.Sprintf("every chain was cancelled: %v", ctx.Err())
		}
		return nil, diags, &models.InferenceFailureError{Reason: reason, Chains: diags}
	}
	return usable, diags, nil
}

// posterior summarises change point j of the usable traces. seg is the
// value-space segment the point was searched in.
func (e *Engine) posterior(obs models.Observations, traces []*chainTrace, diags []models.ChainDiagnostic, j int, loc locationSummary, prob float64, seg interval) models.ChangePointPosterior {
	level := e.cfg.CredibleLevel
	muBefore := pooledFloats(traces, func(t *chainTrace) []float64 { return t.mu[j] })
	muAfter := pooledFloats(traces, func(t *chainTrace) []float64 { return t.mu[j+1] })
	varBefore := pooledFloats(traces, func(t *chainTrace) []float64 { return t.sigma2[j] })
	varAfter := pooledFloats(traces, func(t *chainTrace) []float64 { return t.sigma2[j+1] })

	cp := models.ChangePointPosterior{
		PointEstimate:      loc.mode,
		PosteriorMean:      loc.mean,
		Date:               obs.Dates[loc.mode-obs.Offset],
		CredibleLevel:      level,
		CredibleInterval:   loc.interval,
		IndexDistribution:  loc.dist,
		ProbabilityOfShift: prob,
		Domain:             obs.Domain,
		Segment:            models.IndexInterval{Low: seg.lo + obs.Offset, High: seg.hi - 1 + obs.Offset},
		CredibleDates: models.DateRange{
			Start: obs.Dates[loc.interval.Low-obs.Offset],
			End:   obs.Dates[loc.interval.High-obs.Offset],
		},
	}
	cp.MeanBefore, cp.MeanBeforeInterval = summariseParam(muBefore, level)
	cp.MeanAfter, cp.MeanAfterInterval = summariseParam(muAfter, level)
	cp.VarianceBefore, cp.VarianceBeforeInterval = summariseParam(varBefore, level)
	cp.VarianceAfter, cp.VarianceAfterInterval = summariseParam(varAfter, level)

	params := map[string][][]float64{"k": {}, "mu_before": {}, "mu_after": {}}
	for _, t := range traces {
		params["k"] = append(params["k"], intsToFloats(t.tau[j]))
		params["mu_before"] = append(params["mu_before"], t.mu[j])
		params["mu_after"] = append(params["mu_after"], t.mu[j+1])
	}
	rhat, failures := convergence(params, e.cfg.RHatThreshold)
	cp.Diagnostics = models.InferenceDiagnostics{Chains: diags, RHat: rhat}
	cp.Reliable = len(failures) == 0 && prob >= e.cfg.ShiftThreshold
	for _, f := range failures {
		cp.Diagnostics.Warnings = append(cp.Diagnostics.Warnings, f.Error())
		e.l.Warn("non-convergence", xlogger.String("parameter", f.Parameter), xlogger.Any("r_hat", f.RHat))
	}
	for _, d := range diags {
		if d.Diverged || d.TimedOut {
			cp.Diagnostics.Warnings = append(cp.Diagnostics.Warnings, fmt.Sprintf("chain %d excluded: %s", d.Chain, d.Message))
		}
	}
	return cp
}

// AssignIDs gives each change point a stable identifier derived from scope
// and its position.
func AssignIDs(cps []models.ChangePointPosterior, scope string) {
	for i := range cps {
		name := fmt.Sprintf("%s/%d/%d", scope, i, cps[i].PointEstimate)
		cps[i].ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
}
