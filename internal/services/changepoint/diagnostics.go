package changepoint

import (
	"math"
	"slices"

	"BrentBreaks/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// rhatUnbounded is reported when every half-chain is constant but they disagree.
const rhatUnbounded = 1e6

// SplitRHat computes the split Gelman-Rubin statistic. Each chain is cut in
// half and the halves are treated as separate chains.
func SplitRHat(chains [][]float64) float64 {
	var halves [][]float64
	for _, c := range chains {
		h := len(c) / 2
		if h < 2 {
			continue
		}
		halves = append(halves, c[:h], c[h:2*h])
	}
	if len(halves) < 2 {
		return math.NaN()
	}
	n := len(halves[0])
	for _, h := range halves {
		n = min(n, len(h))
	}
	means := make([]float64, len(halves))
	w := 0.0
	for i, h := range halves {
		m, v := stat.MeanVariance(h[:n], nil)
		means[i] = m
		w += v
	}
	w /= float64(len(halves))
	b := float64(n) * stat.Variance(means, nil)
	if w <= 0 {
		if b <= 1e-300 {
			return 1
		}
		return rhatUnbounded
	}
	fn := float64(n)
	varPlus := (fn-1)/fn*w + b/fn
	return math.Sqrt(varPlus / w)
}

func intsToFloats(a []int) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = float64(v)
	}
	return out
}

// pooledInts concatenates column j of every usable chain.
func pooledInts(traces []*chainTrace, j int) []int {
	var out []int
	for _, t := range traces {
		out = append(out, t.tau[j]...)
	}
	return out
}

func pooledFloats(traces []*chainTrace, col func(*chainTrace) []float64) []float64 {
	var out []float64
	for _, t := range traces {
		out = append(out, col(t)...)
	}
	return out
}

// locationSummary condenses samples of one change-point location.
type locationSummary struct {
	mode     int
	mean     float64
	interval models.IndexInterval
	dist     []models.IndexMass
}

// summariseLocation builds the histogram, mode (lowest index on ties), mean
// and equal-tailed credible interval. offset shifts indices into
// observation space.
func summariseLocation(samples []int, level float64, offset int) locationSummary {
	counts := make(map[int]int)
	for _, k := range samples {
		counts[k]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	total := float64(len(samples))
	s := locationSummary{dist: make([]models.IndexMass, 0, len(keys))}
	best := -1
	for _, k := range keys {
		s.dist = append(s.dist, models.IndexMass{Index: k + offset, Probability: float64(counts[k]) / total})
		if counts[k] > best {
			best, s.mode = counts[k], k
		}
	}

	sorted := intsToFloats(samples)
	slices.Sort(sorted)
	s.mean = stat.Mean(sorted, nil) + float64(offset)
	alpha := (1 - level) / 2
	lo := int(math.Floor(stat.Quantile(alpha, stat.Empirical, sorted, nil)))
	hi := int(math.Ceil(stat.Quantile(1-alpha, stat.Empirical, sorted, nil)))
	s.interval = models.IndexInterval{Low: min(lo, s.mode) + offset, High: max(hi, s.mode) + offset}
	s.mode += offset
	return s
}

// summariseParam returns the posterior mean and equal-tailed interval.
func summariseParam(samples []float64, level float64) (float64, models.Interval) {
	if len(samples) == 0 {
		return 0, models.Interval{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	alpha := (1 - level) / 2
	return stat.Mean(sorted, nil), models.Interval{
		Low:  stat.Quantile(alpha, stat.Empirical, sorted, nil),
		High: stat.Quantile(1-alpha, stat.Empirical, sorted, nil),
	}
}

// convergence computes split R-hat for the named parameters and reports the
// ones above threshold.
func convergence(params map[string][][]float64, threshold float64) (map[string]float64, []*models.NonConvergenceError) {
	rhat := make(map[string]float64, len(params))
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)

	var failures []*models.NonConvergenceError
	for _, name := range names {
		r := SplitRHat(params[name])
		if math.IsNaN(r) {
			continue
		}
		rhat[name] = r
		if r > threshold {
			failures = append(failures, &models.NonConvergenceError{Parameter: name, RHat: r, Threshold: threshold})
		}
	}
	return rhat, failures
}
