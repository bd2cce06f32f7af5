package models

// StationarityResult is one Augmented Dickey-Fuller outcome.
type StationarityResult struct {
	Domain         Domain             `json:"domain"`
	Statistic      float64            `json:"statistic"`
	PValue         float64            `json:"p_value"`
	UsedLag        int                `json:"used_lag"`
	Observations   int                `json:"observations"`
	CriticalValues map[string]float64 `json:"critical_values"`
	Stationary     bool               `json:"stationary"`
	Error          string             `json:"error,omitempty"`
}

// StationarityReport holds the tests on every candidate domain and the domain chosen.
type StationarityReport struct {
	Threshold float64              `json:"threshold"`
	Results   []StationarityResult `json:"results"`
	Chosen    Domain               `json:"chosen"`
	Override  bool                 `json:"override"`
}

// Result returns the test outcome for d.
func (r StationarityReport) Result(d Domain) (StationarityResult, bool) {
	for _, res := range r.Results {
		if res.Domain == d {
			return res, true
		}
	}
	return StationarityResult{}, false
}

// PriceStats describes the raw price column.
type PriceStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	Std     float64 `json:"std"`
	Current float64 `json:"current"`
}

// SummaryStats is the dashboard headline block.
type SummaryStats struct {
	DateRange          DateRange  `json:"date_range"`
	RecordCount        int        `json:"record_count"`
	GapCount           int        `json:"gap_count"`
	ReturnMean         float64    `json:"return_mean"`
	ReturnVariance     float64    `json:"return_variance"`
	ReturnVolatility   float64    `json:"return_volatility"`
	MeanDailyReturn    float64    `json:"mean_daily_return"`
	RollingVolatility  float64    `json:"rolling_volatility_30d"`
	Prices             PriceStats `json:"prices"`
	StationarityDomain Domain     `json:"stationarity_domain"`
	Verdict            string     `json:"stationarity_verdict"`
}
