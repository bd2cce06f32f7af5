package summary

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"
	xutil "BrentBreaks/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longSeries spans 1987-05-20..2022-11-14 on weekdays, thinned to n records.
func longSeries(t *testing.T, n int) models.Series {
	t.Helper()
	start := time.Date(1987, 5, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 11, 14, 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if xutil.IsWeekday(d) {
			days = append(days, d)
		}
	}
	require.Greater(t, len(days), n)

	drop := make(map[int]bool)
	extra := len(days) - n
	for i := 1; i <= extra; i++ {
		drop[i*len(days)/(extra+1)] = true
	}
	rng := rand.New(rand.NewPCG(2022, 11))
	price := 18.6
	points := make([]models.PricePoint, 0, n)
	for i, d := range days {
		price *= math.Exp(0.02 * rng.NormFloat64())
		if drop[i] {
			continue
		}
		points = append(points, models.PricePoint{Date: d, Price: price})
	}
	return models.NewSeries(points)
}

func TestCompute_LongSeries(t *testing.T) {
	s := longSeries(t, 9011)
	report := models.StationarityReport{
		Threshold: 0.05,
		Chosen:    models.DomainLogReturn,
		Results: []models.StationarityResult{
			{Domain: models.DomainPrice, PValue: 0.4},
			{Domain: models.DomainLogReturn, PValue: 0.0, Stationary: true},
		},
	}

	got := New(models.UnitTradingDay, nil).Compute(s, report)

	assert.Equal(t, 9011, got.RecordCount)
	assert.Equal(t, time.Date(1987, 5, 20, 0, 0, 0, 0, time.UTC), got.DateRange.Start)
	assert.Equal(t, time.Date(2022, 11, 14, 0, 0, 0, 0, time.UTC), got.DateRange.End)
	assert.Greater(t, got.GapCount, 0)
	assert.Equal(t, "stationary", got.Verdict)
	assert.Equal(t, models.DomainLogReturn, got.StationarityDomain)
	assert.InDelta(t, 0.02*0.02, got.ReturnVariance, 0.0001)
	assert.InDelta(t, 0.02, got.ReturnVolatility, 0.002)
	assert.InDelta(t, s.Points[s.Len()-1].Price, got.Prices.Current, 1e-12)
	assert.LessOrEqual(t, got.Prices.Min, got.Prices.Median)
	assert.LessOrEqual(t, got.Prices.Median, got.Prices.Max)
	assert.Greater(t, got.RollingVolatility, 0.0)
}

func TestCompute_PriceStats(t *testing.T) {
	base := time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC)
	s := models.NewSeries([]models.PricePoint{
		{Date: base, Price: 10},
		{Date: base.AddDate(0, 0, 1), Price: 20},
		{Date: base.AddDate(0, 0, 2), Price: 40},
		{Date: base.AddDate(0, 0, 3), Price: 30},
	})
	got := New("", nil).Compute(s, models.StationarityReport{})

	assert.Equal(t, 10.0, got.Prices.Min)
	assert.Equal(t, 40.0, got.Prices.Max)
	assert.Equal(t, 25.0, got.Prices.Median)
	assert.Equal(t, 25.0, got.Prices.Mean)
	assert.Equal(t, 30.0, got.Prices.Current)
	assert.InDelta(t, (1.0+1.0-0.25)/3, got.MeanDailyReturn, 1e-12)
	assert.Zero(t, got.RollingVolatility, "fewer returns than the rolling window")
	assert.Zero(t, got.GapCount)
	assert.Empty(t, got.Verdict)
}

func TestCompute_Empty(t *testing.T) {
	got := New("", nil).Compute(models.NewSeries(nil), models.StationarityReport{})
	assert.Zero(t, got.RecordCount)
	assert.True(t, got.DateRange.Start.IsZero())
}

func TestRealizedVolatility(t *testing.T) {
	r := []float64{0.01, -0.01, 0.01, -0.01}
	got := RealizedVolatility(r, 4, 252)
	want := math.Sqrt(4*0.0001/3) * math.Sqrt(252)
	assert.InDelta(t, want, got, 1e-12)
	assert.Zero(t, RealizedVolatility(r, 5, 252))

	// Only the trailing window counts.
	long := append([]float64{0.5, -0.4, 0.3}, r...)
	assert.InDelta(t, want, RealizedVolatility(long, 4, 252), 1e-12)
}
