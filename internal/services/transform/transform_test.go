package transform

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"
	"BrentBreaks/internal/services/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func working(prices []float64, observed []bool) calendar.WorkingSeries {
	start := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)
	ws := calendar.WorkingSeries{}
	for i, p := range prices {
		ok := observed == nil || observed[i]
		if !ok {
			p = math.NaN()
		}
		ws.Points = append(ws.Points, calendar.WorkingPoint{Date: start.AddDate(0, 0, i), Price: p, Observed: ok, SourceIndex: i})
	}
	return ws
}

func TestLogReturnRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	prices := make([]float64, 250)
	prices[0] = 60
	for i := 1; i < len(prices); i++ {
		prices[i] = prices[i-1] * math.Exp(0.02*rng.NormFloat64())
	}
	tr := Transform(working(prices, nil))

	rebuilt := ReconstructLogPrices(tr.LogPrice[0], tr.LogReturn)
	require.Len(t, rebuilt, len(prices))
	for i := range prices {
		assert.InDelta(t, tr.LogPrice[i], rebuilt[i], 1e-9)
		assert.InDelta(t, prices[i], math.Exp(rebuilt[i]), 1e-9*prices[i])
	}
	assert.True(t, math.IsNaN(tr.LogReturn[0]))
}

func TestObservations_ReturnDomainOffset(t *testing.T) {
	tr := Transform(working([]float64{10, 11, 12, 13, 14}, []bool{true, true, false, true, true}))

	obs := tr.Observations(models.DomainLogReturn)
	require.Equal(t, 4, obs.Len())
	assert.Equal(t, 1, obs.Offset)
	assert.Equal(t, []bool{true, false, false, true}, obs.Observed)
	assert.Equal(t, tr.Dates[1], obs.Dates[0])
	assert.InDelta(t, math.Log(11.0/10.0), obs.Values[0], 1e-12)

	level := tr.Observations(models.DomainPrice)
	assert.Equal(t, 0, level.Offset)
	assert.Equal(t, []bool{true, true, false, true, true}, level.Observed)
}

func TestMacKinnonP(t *testing.T) {
	assert.InDelta(t, 0.01, MacKinnonP(-3.43), 0.001)
	assert.InDelta(t, 0.05, MacKinnonP(-2.86), 0.003)
	assert.Equal(t, 1.0, MacKinnonP(3))
	assert.Equal(t, 0.0, MacKinnonP(-25))

	cv := CriticalValues(1000)
	assert.InDelta(t, -3.437, cv["1%"], 0.001)
	assert.Less(t, cv["1%"], cv["5%"])
	assert.Less(t, cv["5%"], cv["10%"])
}

func TestADF_WhiteNoiseIsStationary(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := make([]float64, 500)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	res, err := ADF(x, -1)
	require.NoError(t, err)
	assert.Less(t, res.PValue, 0.01)
	assert.LessOrEqual(t, res.UsedLag, SchwertMaxLag(500))
}

func TestADF_TrendIsNotStationary(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	x := make([]float64, 400)
	for i := range x {
		ft := float64(i)
		x[i] = 20 + ft*ft/1000 + 0.05*rng.NormFloat64()
	}
	res, err := ADF(x, 0)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.05)
}

func TestADF_TooShort(t *testing.T) {
	_, err := ADF([]float64{1, 2, 3}, -1)
	assert.ErrorIs(t, err, ErrSeriesTooShort)
}

func TestChooseDomain(t *testing.T) {
	report := func(levelP, retP float64) models.StationarityReport {
		return models.StationarityReport{Results: []models.StationarityResult{
			{Domain: models.DomainPrice, PValue: levelP},
			{Domain: models.DomainLogPrice, PValue: levelP},
			{Domain: models.DomainLogReturn, PValue: retP},
		}}
	}
	tests := []struct {
		name   string
		levelP float64
		retP   float64
		want   models.Domain
	}{
		{"unit root in level", 0.6, 0.001, models.DomainLogReturn},
		{"stationary level", 0.01, 0.001, models.DomainPrice},
		{"returns not stationary", 0.6, 0.3, models.DomainPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChooseDomain(report(tt.levelP, tt.retP), 0.05))
		})
	}
}

func TestStationarity_Override(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	prices := make([]float64, 300)
	prices[0] = 50
	for i := 1; i < len(prices); i++ {
		prices[i] = prices[i-1] * math.Exp(0.01*rng.NormFloat64())
	}
	tr := Transform(working(prices, nil))

	rep := Stationarity(tr, 0.05, 5, models.DomainLogPrice)
	require.Len(t, rep.Results, 3)
	assert.Equal(t, models.DomainLogPrice, rep.Chosen)
	assert.True(t, rep.Override)
	ret, ok := rep.Result(models.DomainLogReturn)
	require.True(t, ok)
	assert.True(t, ret.Stationary)
}
