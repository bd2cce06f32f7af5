package summary

import (
	"slices"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/services/calendar"
	xlogger "BrentBreaks/pkg/logger"

	"gonum.org/v1/gonum/stat"
)

// RollingWindow is the observation count of the rolling volatility.
const RollingWindow = 30

// Aggregator computes the dashboard headline statistics.
type Aggregator struct {
	unit string
	l    *xlogger.Logger
}

func New(unit string, l *xlogger.Logger) *Aggregator {
	if unit == "" {
		unit = models.UnitTradingDay
	}
	if l == nil {
		l = xlogger.Nop()
	}
	return &Aggregator{unit: unit, l: l}
}

// Compute summarises a validated series and the latest stationarity report.
func (a *Aggregator) Compute(s models.Series, report models.StationarityReport) models.SummaryStats {
	out := models.SummaryStats{
		DateRange:   models.DateRange{Start: s.Start(), End: s.End()},
		RecordCount: s.Len(),
		GapCount:    calendar.GapCount(s, a.unit),
	}
	if s.Len() == 0 {
		return out
	}

	prices := s.Prices()
	out.Prices = priceStats(prices)

	if s.Len() > 1 {
		returns := s.LogReturn[1:]
		out.ReturnMean, out.ReturnVariance = stat.MeanVariance(returns, nil)
		out.ReturnVolatility = stat.StdDev(returns, nil)
		out.MeanDailyReturn = stat.Mean(SimpleReturns(prices), nil)
		out.RollingVolatility = RealizedVolatility(returns, RollingWindow, TradingDaysPerYear)
	}

	out.StationarityDomain = report.Chosen
	if res, ok := report.Result(report.Chosen); ok {
		out.Verdict = verdict(res)
	}
	a.l.Debug("summary computed",
		xlogger.Int("records", out.RecordCount),
		xlogger.Int("gaps", out.GapCount),
		xlogger.String("verdict", out.Verdict))
	return out
}

func verdict(r models.StationarityResult) string {
	if r.Error != "" {
		return "undetermined"
	}
	if r.Stationary {
		return "stationary"
	}
	return "non-stationary"
}

func priceStats(prices []float64) models.PriceStats {
	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	ps := models.PriceStats{
		Min:     sorted[0],
		Max:     sorted[n-1],
		Mean:    stat.Mean(prices, nil),
		Median:  median,
		Current: prices[n-1],
	}
	if n > 1 {
		ps.Std = stat.StdDev(prices, nil)
	}
	return ps
}
