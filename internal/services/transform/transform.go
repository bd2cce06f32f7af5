package transform

import (
	"math"
	"time"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/services/calendar"
)

// Transformed holds every candidate modelling domain aligned on the working
// calendar. Unobserved positions carry NaN.
type Transformed struct {
	Dates     []time.Time
	Price     []float64
	LogPrice  []float64
	LogReturn []float64
	Observed  []bool
}

// Transform derives log prices and log returns from a working series.
// A return is observed only when both adjacent points are.
func Transform(ws calendar.WorkingSeries) Transformed {
	n := ws.Len()
	t := Transformed{
		Dates:     ws.Dates(),
		Price:     make([]float64, n),
		LogPrice:  make([]float64, n),
		LogReturn: make([]float64, n),
		Observed:  make([]bool, n),
	}
	for i, p := range ws.Points {
		t.Observed[i] = p.Observed
		if !p.Observed {
			t.Price[i], t.LogPrice[i] = math.NaN(), math.NaN()
			continue
		}
		t.Price[i] = p.Price
		t.LogPrice[i] = math.Log(p.Price)
	}
	copy(t.LogReturn, LogReturns(t.LogPrice))
	return t
}

// LogReturns differences a log-price column. Element 0 is NaN, as is any
// element adjacent to a NaN input.
func LogReturns(logPrices []float64) []float64 {
	out := make([]float64, len(logPrices))
	for i := range logPrices {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = logPrices[i] - logPrices[i-1]
	}
	return out
}

// ReconstructLogPrices integrates returns from a starting log price.
// returns[0] is ignored, matching the LogReturns layout.
func ReconstructLogPrices(first float64, returns []float64) []float64 {
	out := make([]float64, len(returns))
	if len(out) == 0 {
		return out
	}
	out[0] = first
	for i := 1; i < len(returns); i++ {
		out[i] = out[i-1] + returns[i]
	}
	return out
}

// Observations projects the chosen domain into engine input. The return domain
// drops position 0, so value index r maps to working index r+1.
func (t Transformed) Observations(d models.Domain) models.Observations {
	switch d {
	case models.DomainLogReturn:
		if len(t.LogReturn) < 2 {
			return models.Observations{Domain: d}
		}
		vals := t.LogReturn[1:]
		obs := make([]bool, len(vals))
		for i, v := range vals {
			obs[i] = !math.IsNaN(v)
		}
		return models.Observations{Domain: d, Values: vals, Observed: obs, Dates: t.Dates[1:], Offset: 1}
	case models.DomainLogPrice:
		return t.levelObservations(d, t.LogPrice)
	default:
		return t.levelObservations(models.DomainPrice, t.Price)
	}
}

func (t Transformed) levelObservations(d models.Domain, vals []float64) models.Observations {
	obs := make([]bool, len(vals))
	copy(obs, t.Observed)
	return models.Observations{Domain: d, Values: vals, Observed: obs, Dates: t.Dates}
}

// column returns the values of d with unobserved positions removed.
func (t Transformed) column(d models.Domain) []float64 {
	var src []float64
	switch d {
	case models.DomainLogReturn:
		src = t.LogReturn
	case models.DomainLogPrice:
		src = t.LogPrice
	default:
		src = t.Price
	}
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
