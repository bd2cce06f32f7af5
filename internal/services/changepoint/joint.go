package changepoint

import (
	"context"
	"fmt"
	"slices"

	"BrentBreaks/internal/domain/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// detectJoint samples a fixed number of change points simultaneously.
func (e *Engine) detectJoint(ctx context.Context, obs models.Observations, p prefix, det *models.Detection) error {
	n, m := obs.Len(), e.cfg.MinSegment
	points := e.cfg.JointCount
	if fit := n/m - 1; points > fit {
		det.Warnings = append(det.Warnings, fmt.Sprintf("joint count reduced from %d to %d to respect the minimum segment %d", points, fit, m))
		points = fit
	}

	ctx, span := e.tracer.Start(ctx, "changepoint.fitJoint", trace.WithAttributes(attribute.Int("points", points)))
	defer span.End()

	whole := interval{0, n}
	g := e.sampler(p, whole)
	traces, diags, err := e.runChains(ctx, g, points, e.seedFor(whole))
	if err != nil {
		return err
	}

	locs := make([]locationSummary, points)
	modes := make([]int, points)
	for j := range locs {
		locs[j] = summariseLocation(pooledInts(traces, j), e.cfg.CredibleLevel, obs.Offset)
		modes[j] = locs[j].mode - obs.Offset
	}
	if !admissible(modes, n, m) {
		modes = jointMode(traces, points)
		for j := range locs {
			locs[j].mode = modes[j] + obs.Offset
			locs[j].interval.Low = min(locs[j].interval.Low, locs[j].mode)
			locs[j].interval.High = max(locs[j].interval.High, locs[j].mode)
		}
		det.Warnings = append(det.Warnings, "marginal modes violate the minimum segment; using the most frequent joint configuration")
	}

	for j := range locs {
		lo, hi := 0, n
		if j > 0 {
			lo = modes[j-1]
		}
		if j < points-1 {
			hi = modes[j+1]
		}
		prob := shiftProbability(p, lo, hi, e.cfg)
		cp := e.posterior(obs, traces, diags, j, locs[j], prob, interval{lo, hi})
		if prob < e.cfg.ShiftThreshold {
			cp.Diagnostics.Warnings = append(cp.Diagnostics.Warnings,
				fmt.Sprintf("shift probability %.3f below threshold %.3f", prob, e.cfg.ShiftThreshold))
		}
		det.ChangePoints = append(det.ChangePoints, cp)
		det.Warnings = append(det.Warnings, cp.Diagnostics.Warnings...)
	}
	return nil
}

// admissible reports whether sorted locations leave every segment at least m long.
func admissible(tau []int, n, m int) bool {
	prev := 0
	for _, k := range tau {
		if k-prev < m {
			return false
		}
		prev = k
	}
	return n-prev >= m
}

// jointMode returns the most frequent configuration across all retained
// samples; ties go to the lexicographically smallest configuration.
func jointMode(traces []*chainTrace, points int) []int {
	type entry struct {
		tau   []int
		count int
	}
	seen := make(map[string]*entry)
	for _, t := range traces {
		for s := 0; s < t.diag.Samples; s++ {
			tau := make([]int, points)
			for j := range tau {
				tau[j] = t.tau[j][s]
			}
			key := fmt.Sprint(tau)
			if en, ok := seen[key]; ok {
				en.count++
				continue
			}
			seen[key] = &entry{tau: tau, count: 1}
		}
	}
	var best *entry
	for _, en := range seen {
		if best == nil || en.count > best.count || (en.count == best.count && slices.Compare(en.tau, best.tau) < 0) {
			best = en
		}
	}
	return best.tau
}
