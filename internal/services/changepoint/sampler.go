package changepoint

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"BrentBreaks/internal/domain/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ctxCheckEvery is how many sweeps a chain runs between cancellation checks.
const ctxCheckEvery = 25

// chainTrace is the retained output of one chain. For the single change-point
// model tau has one column; the joint model has one column per change point.
// mu and sigma2 are indexed [segment][sample] in original (uncentred) units.
type chainTrace struct {
	diag   models.ChainDiagnostic
	tau    [][]int
	mu     [][]float64
	sigma2 [][]float64
}

func newChainTrace(chain int, seed uint64, points, samples int) *chainTrace {
	t := &chainTrace{
		diag:   models.ChainDiagnostic{Chain: chain, Seed: seed},
		tau:    make([][]int, points),
		mu:     make([][]float64, points+1),
		sigma2: make([][]float64, points+1),
	}
	for j := range t.tau {
		t.tau[j] = make([]int, 0, samples)
	}
	for j := range t.mu {
		t.mu[j] = make([]float64, 0, samples)
		t.sigma2[j] = make([]float64, 0, samples)
	}
	return t
}

func (t *chainTrace) usable() bool { return !t.diag.Diverged && !t.diag.TimedOut && t.diag.Samples > 0 }

// gibbs runs one chain of the piecewise-constant model with a fixed number of
// change points on [lo, hi). Each sweep draws every change point from its
// collapsed conditional, with the parameters of the two segments it separates
// integrated out, and then every segment's (mu, sigma2) from its
// Normal-Inverse-Gamma posterior given the partition.
type gibbs struct {
	p      prefix
	prior  nig
	lo, hi int
	minSeg int
	kPrior string
	burnIn int
	keep   int
}

func (g *gibbs) run(ctx context.Context, chain int, seed uint64, points int) *chainTrace {
	src := rand.NewPCG(seed, uint64(chain)+1)
	rng := rand.New(src)
	tr := newChainTrace(chain, seed, points, g.keep)

	tau := g.initialise(rng, points)
	mu := make([]float64, points+1)
	sigma2 := make([]float64, points+1)
	cdfs := make([]locationCDF, points)

	for it := 0; it < g.burnIn+g.keep; it++ {
		if it%ctxCheckEvery == 0 && ctx.Err() != nil {
			tr.diag.TimedOut = true
			tr.diag.Message = fmt.Sprintf("cancelled after %d sweeps: %v", it, ctx.Err())
			return tr
		}
		for j := 0; j < points; j++ {
			k, ok := g.drawLocation(rng, tau, j, &cdfs[j])
			if !ok {
				return g.diverge(tr, it, "non-finite marginal likelihood")
			}
			tau[j] = k
		}
		for s := 0; s <= points; s++ {
			a, b := g.bounds(tau, s)
			mu[s], sigma2[s] = g.drawSegment(src, a, b)
			if !finite(mu[s]) || !finite(sigma2[s]) {
				return g.diverge(tr, it, "non-finite segment parameters")
			}
		}
		if it < g.burnIn {
			continue
		}
		for j := 0; j < points; j++ {
			tr.tau[j] = append(tr.tau[j], tau[j])
		}
		for s := 0; s <= points; s++ {
			tr.mu[s] = append(tr.mu[s], mu[s]+g.p.center)
			tr.sigma2[s] = append(tr.sigma2[s], sigma2[s])
		}
		tr.diag.Samples++
	}
	return tr
}

func (g *gibbs) diverge(tr *chainTrace, it int, msg string) *chainTrace {
	tr.diag.Diverged = true
	tr.diag.Message = fmt.Sprintf("%s at sweep %d", msg, it)
	return tr
}

// initialise draws a random admissible configuration so that chains start
// from dispersed points.
func (g *gibbs) initialise(rng *rand.Rand, points int) []int {
	slack := (g.hi - g.lo) - (points+1)*g.minSeg
	offsets := make([]int, points)
	for j := range offsets {
		offsets[j] = rng.IntN(slack + 1)
	}
	slices.Sort(offsets)
	tau := make([]int, points)
	for j := range tau {
		tau[j] = g.lo + (j+1)*g.minSeg + offsets[j]
	}
	return tau
}

// bounds returns the half-open range of segment s given change points tau.
func (g *gibbs) bounds(tau []int, s int) (int, int) {
	a, b := g.lo, g.hi
	if s > 0 {
		a = tau[s-1]
	}
	if s < len(tau) {
		b = tau[s]
	}
	return a, b
}

func (g *gibbs) drawSegment(src rand.Source, a, b int) (float64, float64) {
	mn, kn, an, bn := g.prior.posterior(g.p.stats(a, b))
	precision := distuv.Gamma{Alpha: an, Beta: bn, Src: src}.Rand()
	sigma2 := math.Max(1/precision, g.prior.floor)
	mu := distuv.Normal{Mu: mn, Sigma: math.Sqrt(sigma2 / kn), Src: src}.Rand()
	return mu, sigma2
}

// locationCDF is the cumulative conditional of one change point for a given
// pair of neighbours. It only changes when a neighbour moves.
type locationCDF struct {
	left, right int
	cum         []float64
}

// drawLocation samples change point j from its collapsed conditional: the
// marginal likelihoods of [left, k) and [k, right) times the location prior.
func (g *gibbs) drawLocation(rng *rand.Rand, tau []int, j int, c *locationCDF) (int, bool) {
	left, _ := g.bounds(tau, j)
	_, right := g.bounds(tau, j+1)
	kmin := left + g.minSeg

	if c.cum == nil || c.left != left || c.right != right {
		logw := locationPrior(g.kPrior, kmin, right-g.minSeg)
		for i := range logw {
			k := kmin + i
			logw[i] += g.prior.logMarginal(g.p.stats(left, k)) + g.prior.logMarginal(g.p.stats(k, right))
			if !finite(logw[i]) {
				return 0, false
			}
		}
		norm := floats.LogSumExp(logw)
		acc := 0.0
		for i, lw := range logw {
			acc += math.Exp(lw - norm)
			logw[i] = acc
		}
		c.left, c.right, c.cum = left, right, logw
	}

	u := rng.Float64() * c.cum[len(c.cum)-1]
	i, _ := slices.BinarySearchFunc(c.cum, u, func(v, target float64) int {
		if v <= target {
			return -1
		}
		return 1
	})
	return kmin + min(i, len(c.cum)-1), true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
