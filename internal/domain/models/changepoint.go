package models

import "time"

// Domain is the representation of the series the engine models.
type Domain string

const (
	DomainAuto      Domain = "auto"
	DomainPrice     Domain = "price"
	DomainLogPrice  Domain = "log_price"
	DomainLogReturn Domain = "log_return"
)

// Observations is the model-ready input of the inference engine.
// Values[i] is ignored by the likelihood when Observed[i] is false.
// Offset maps a value index to the working-series index (1 for returns).
type Observations struct {
	Domain   Domain      `json:"domain"`
	Values   []float64   `json:"values"`
	Observed []bool      `json:"observed"`
	Dates    []time.Time `json:"dates"`
	Offset   int         `json:"offset"`
}

// Len returns the number of positions, observed or not.
func (o Observations) Len() int { return len(o.Values) }

// Interval is a closed real interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// IndexInterval is a closed interval of observation indices.
type IndexInterval struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Contains reports whether i lies inside the interval.
func (iv IndexInterval) Contains(i int) bool { return i >= iv.Low && i <= iv.High }

// IndexMass is one bin of the posterior distribution over change-point location.
type IndexMass struct {
	Index       int     `json:"index"`
	Probability float64 `json:"probability"`
}

// InferenceDiagnostics carries per-chain outcomes and convergence statistics.
type InferenceDiagnostics struct {
	Chains   []ChainDiagnostic  `json:"chains"`
	RHat     map[string]float64 `json:"r_hat"`
	Warnings []string           `json:"warnings,omitempty"`
}

// ChangePointPosterior summarises the posterior of one change point.
// Indices are observation indices of the working series; the change point is
// the first observation of the new regime.
type ChangePointPosterior struct {
	ID                     string               `json:"id"`
	PointEstimate          int                  `json:"point_estimate"`
	PosteriorMean          float64              `json:"posterior_mean"`
	Date                   time.Time            `json:"date"`
	CredibleLevel          float64              `json:"credible_level"`
	CredibleInterval       IndexInterval        `json:"credible_interval"`
	CredibleDates          DateRange            `json:"credible_dates"`
	IndexDistribution      []IndexMass          `json:"index_distribution"`
	MeanBefore             float64              `json:"mean_before"`
	MeanAfter              float64              `json:"mean_after"`
	VarianceBefore         float64              `json:"variance_before"`
	VarianceAfter          float64              `json:"variance_after"`
	MeanBeforeInterval     Interval             `json:"mean_before_interval"`
	MeanAfterInterval      Interval             `json:"mean_after_interval"`
	VarianceBeforeInterval Interval             `json:"variance_before_interval"`
	VarianceAfterInterval  Interval             `json:"variance_after_interval"`
	ProbabilityOfShift     float64              `json:"probability_of_shift"`
	Domain                 Domain               `json:"domain"`
	Segment                IndexInterval        `json:"segment"`
	Reliable               bool                 `json:"reliable"`
	Diagnostics            InferenceDiagnostics `json:"diagnostics"`
}

// Detection is the output of one inference run over a whole series.
type Detection struct {
	Strategy     string                 `json:"strategy"`
	Domain       Domain                 `json:"domain"`
	ChangePoints []ChangePointPosterior `json:"change_points"`
	Reason       string                 `json:"reason,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Reliable     bool                   `json:"reliable"`
}
