package changepoint

import (
	"math"

	"BrentBreaks/internal/domain/models"

	"gonum.org/v1/gonum/floats"
)

var log2Pi = math.Log(2 * math.Pi)

// prefix holds cumulative count, sum and sum of squares of the observed
// values, centred on the series mean for numerical stability.
type prefix struct {
	center float64
	cnt    []float64
	s1     []float64
	s2     []float64
}

func newPrefix(obs models.Observations) prefix {
	n := obs.Len()
	sum, cnt := 0.0, 0.0
	for i, v := range obs.Values {
		if usable(obs, i) {
			sum += v
			cnt++
		}
	}
	p := prefix{cnt: make([]float64, n+1), s1: make([]float64, n+1), s2: make([]float64, n+1)}
	if cnt > 0 {
		p.center = sum / cnt
	}
	for i, v := range obs.Values {
		p.cnt[i+1], p.s1[i+1], p.s2[i+1] = p.cnt[i], p.s1[i], p.s2[i]
		if usable(obs, i) {
			c := v - p.center
			p.cnt[i+1]++
			p.s1[i+1] += c
			p.s2[i+1] += c * c
		}
	}
	return p
}

func usable(obs models.Observations, i int) bool {
	if i < len(obs.Observed) && !obs.Observed[i] {
		return false
	}
	v := obs.Values[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// stats returns count, centred sum and centred sum of squares over [a, b).
func (p prefix) stats(a, b int) (n, s1, s2 float64) {
	return p.cnt[b] - p.cnt[a], p.s1[b] - p.s1[a], p.s2[b] - p.s2[a]
}

// nig is a Normal-Inverse-Gamma prior in centred coordinates:
// mu | sigma2 ~ N(m0, sigma2/kappa0), sigma2 ~ IG(alpha0, beta0).
type nig struct {
	m0     float64
	kappa0 float64
	alpha0 float64
	beta0  float64
	floor  float64
}

// scaledPrior centres the prior on the sample mean of [lo, hi) and sets its
// precision scale from the sample variance.
func scaledPrior(p prefix, lo, hi int, cfg models.EngineConfig) nig {
	n, s1, s2 := p.stats(lo, hi)
	m0, v := 0.0, cfg.VarianceFloor
	if n > 0 {
		m0 = s1 / n
	}
	if n > 1 {
		v = math.Max((s2-s1*m0)/(n-1), cfg.VarianceFloor)
	}
	return nig{m0: m0, kappa0: cfg.Kappa0, alpha0: cfg.Alpha0, beta0: cfg.Alpha0 * v, floor: cfg.VarianceFloor}
}

// posterior returns the updated (mean, kappa, alpha, beta) for a segment.
func (pr nig) posterior(n, s1, s2 float64) (mn, kn, an, bn float64) {
	kn = pr.kappa0 + n
	an = pr.alpha0 + n/2
	if n == 0 {
		return pr.m0, kn, an, pr.beta0
	}
	xbar := s1 / n
	ss := math.Max(s2-s1*xbar, 0)
	mn = (pr.kappa0*pr.m0 + s1) / kn
	d := xbar - pr.m0
	bn = pr.beta0 + 0.5*ss + pr.kappa0*n*d*d/(2*kn)
	bn = math.Max(bn, pr.floor*an)
	return mn, kn, an, bn
}

// logMarginal is log p(x) of a segment with mean and variance integrated out.
func (pr nig) logMarginal(n, s1, s2 float64) float64 {
	if n == 0 {
		return 0
	}
	_, kn, an, bn := pr.posterior(n, s1, s2)
	lgAn, _ := math.Lgamma(an)
	lgA0, _ := math.Lgamma(pr.alpha0)
	return lgAn - lgA0 + pr.alpha0*math.Log(pr.beta0) - an*math.Log(bn) +
		0.5*math.Log(pr.kappa0/kn) - n/2*log2Pi
}

// locationPrior returns log prior weights for change-point candidates
// kmin..kmax. The centred prior is a triangle rising from 1 at the edges to 2
// at the middle, so it only gently favours interior locations.
func locationPrior(kind string, kmin, kmax int) []float64 {
	k := kmax - kmin + 1
	out := make([]float64, k)
	if kind != models.KPriorCentered || k < 3 {
		for i := range out {
			out[i] = -math.Log(float64(k))
		}
		return out
	}
	half := float64(k-1) / 2
	w := make([]float64, k)
	for i := range w {
		w[i] = 1 + math.Min(float64(i), float64(k-1-i))/half
	}
	norm := math.Log(floats.Sum(w))
	for i := range out {
		out[i] = math.Log(w[i]) - norm
	}
	return out
}

// shiftProbability compares the single change-point model on [lo, hi)
// against the no-change model using closed-form marginal likelihoods.
func shiftProbability(p prefix, lo, hi int, cfg models.EngineConfig) float64 {
	m := cfg.MinSegment
	kmin, kmax := lo+m, hi-m
	if kmax < kmin {
		return 0
	}
	pr := scaledPrior(p, lo, hi, cfg)
	logPrior := locationPrior(cfg.KPrior, kmin, kmax)
	terms := make([]float64, len(logPrior))
	for i := range terms {
		k := kmin + i
		terms[i] = logPrior[i] + pr.logMarginal(p.stats(lo, k)) + pr.logMarginal(p.stats(k, hi))
	}
	logM1 := floats.LogSumExp(terms)
	logM0 := pr.logMarginal(p.stats(lo, hi))
	odds := cfg.PriorShiftOdds
	if odds <= 0 {
		odds = 1
	}
	z := logM0 - logM1 - math.Log(odds)
	if math.IsNaN(z) {
		return 0
	}
	return 1 / (1 + math.Exp(z))
}
