package models

import "time"

// Recognised option values.
const (
	PolicyObservedOnly = "observed-only"
	PolicyForwardFill  = "reindex-forward-fill"
	PolicyGapAsMissing = "reindex-gap-as-missing"

	UnitTradingDay  = "trading-day"
	UnitCalendarDay = "calendar-day"

	StrategyBinarySeg = "binary-segmentation"
	StrategyJoint     = "joint"

	KPriorUniform  = "uniform"
	KPriorCentered = "centered"
)

// CalendarConfig controls how the loaded series is placed on a working calendar.
type CalendarConfig struct {
	Policy     string `yaml:"policy" json:"policy" default:"observed-only" validate:"oneof=observed-only reindex-forward-fill reindex-gap-as-missing"`
	Unit       string `yaml:"unit" json:"unit" default:"trading-day" validate:"oneof=trading-day calendar-day"`
	MaxFillGap int    `yaml:"max_fill_gap" json:"max_fill_gap" default:"10" validate:"gte=1"`
}

// EngineConfig parameterises the change-point inference engine.
type EngineConfig struct {
	Strategy              string        `yaml:"strategy" json:"strategy" default:"binary-segmentation" validate:"oneof=binary-segmentation joint"`
	Domain                Domain        `yaml:"domain" json:"domain" default:"auto" validate:"oneof=auto price log_price log_return"`
	MinSegment            int           `yaml:"min_segment" json:"min_segment" default:"30" validate:"gte=2"`
	Chains                int           `yaml:"chains" json:"chains" default:"4" validate:"gte=2,lte=32"`
	BurnIn                int           `yaml:"burn_in" json:"burn_in" default:"300" validate:"gte=0"`
	Samples               int           `yaml:"samples" json:"samples" default:"600" validate:"gte=20"`
	Seed                  uint64        `yaml:"seed" json:"seed" default:"20240601"`
	CredibleLevel         float64       `yaml:"credible_level" json:"credible_level" default:"0.95" validate:"gt=0,lt=1"`
	RHatThreshold         float64       `yaml:"rhat_threshold" json:"rhat_threshold" default:"1.1" validate:"gt=1"`
	ShiftThreshold        float64       `yaml:"shift_threshold" json:"shift_threshold" default:"0.5" validate:"gt=0,lt=1"`
	PriorShiftOdds        float64       `yaml:"prior_shift_odds" json:"prior_shift_odds" default:"1" validate:"gt=0"`
	KPrior                string        `yaml:"k_prior" json:"k_prior" default:"uniform" validate:"oneof=uniform centered"`
	Kappa0                float64       `yaml:"kappa0" json:"kappa0" default:"0.01" validate:"gt=0"`
	Alpha0                float64       `yaml:"alpha0" json:"alpha0" default:"2" validate:"gt=0"`
	VarianceFloor         float64       `yaml:"variance_floor" json:"variance_floor" default:"1e-10" validate:"gt=0"`
	MaxChangePoints       int           `yaml:"max_change_points" json:"max_change_points" default:"25" validate:"gte=1"`
	JointCount            int           `yaml:"joint_count" json:"joint_count" default:"3" validate:"gte=1"`
	StationarityThreshold float64       `yaml:"stationarity_threshold" json:"stationarity_threshold" default:"0.05" validate:"gt=0,lt=1"`
	ADFMaxLag             int           `yaml:"adf_max_lag" json:"adf_max_lag" default:"-1" validate:"gte=-1"`
	RunTimeout            time.Duration `yaml:"run_timeout" json:"run_timeout" default:"2m" validate:"gt=0"`
}

// CorrelatorConfig parameterises event association.
type CorrelatorConfig struct {
	WindowDays         int     `yaml:"window_days" json:"window_days" default:"90" validate:"gte=1"`
	EventHalfWidthDays int     `yaml:"event_half_width_days" json:"event_half_width_days" default:"15" validate:"gte=0"`
	DistanceWeight     float64 `yaml:"distance_weight" json:"distance_weight" default:"0.7" validate:"gte=0"`
	OverlapWeight      float64 `yaml:"overlap_weight" json:"overlap_weight" default:"0.3" validate:"gte=0"`
	MinConfidence      float64 `yaml:"min_confidence" json:"min_confidence" default:"0" validate:"gte=0,lte=1"`
	MaxLinks           int     `yaml:"max_links" json:"max_links" default:"10" validate:"gte=0"`
}

// AnalysisConfig is everything that determines the outcome of one run.
// Together with the series hash it forms the snapshot fingerprint.
type AnalysisConfig struct {
	Calendar   CalendarConfig   `yaml:"calendar" json:"calendar"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Correlator CorrelatorConfig `yaml:"correlator" json:"correlator"`
}
