package models

import "time"

type PriceSeriesRequest struct {
	Start string `query:"start" json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `query:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"0" validate:"gte=0,lte=20000"`
}

type EventsRequest struct {
	Types []string `query:"type" json:"type" validate:"dive,oneof=all Geopolitical Financial Policy Other"`
	Start string   `query:"start" json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string   `query:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
}

// ChangePointsRequest overrides the server's analysis configuration.
// Zero values keep the configured setting.
type ChangePointsRequest struct {
	Strategy       string  `query:"strategy" json:"strategy" validate:"omitempty,oneof=binary-segmentation joint"`
	Domain         string  `query:"domain" json:"domain" validate:"omitempty,oneof=auto price log_price log_return"`
	Policy         string  `query:"policy" json:"policy" validate:"omitempty,oneof=observed-only reindex-forward-fill reindex-gap-as-missing"`
	MinSegment     int     `query:"min_segment" json:"min_segment" validate:"omitempty,gte=2,lte=5000"`
	Chains         int     `query:"chains" json:"chains" validate:"omitempty,gte=2,lte=16"`
	Samples        int     `query:"samples" json:"samples" validate:"omitempty,gte=20,lte=20000"`
	BurnIn         int     `query:"burn_in" json:"burn_in" validate:"omitempty,gte=1,lte=20000"`
	Seed           uint64  `query:"seed" json:"seed"`
	CredibleLevel  float64 `query:"credible_level" json:"credible_level" validate:"omitempty,gt=0,lt=1"`
	ShiftThreshold float64 `query:"shift_threshold" json:"shift_threshold" validate:"omitempty,gt=0,lt=1"`
	JointCount     int     `query:"joint_count" json:"joint_count" validate:"omitempty,gte=1,lte=50"`
	KPrior         string  `query:"k_prior" json:"k_prior" validate:"omitempty,oneof=uniform centered"`
	WindowDays     int     `query:"window_days" json:"window_days" validate:"omitempty,gte=1,lte=3650"`
}

// Apply layers the request's non-zero fields over base.
func (r *ChangePointsRequest) Apply(base AnalysisConfig) AnalysisConfig {
	cfg := base
	if r.Strategy != "" {
		cfg.Engine.Strategy = r.Strategy
	}
	if r.Domain != "" {
		cfg.Engine.Domain = Domain(r.Domain)
	}
	if r.Policy != "" {
		cfg.Calendar.Policy = r.Policy
	}
	if r.MinSegment > 0 {
		cfg.Engine.MinSegment = r.MinSegment
	}
	if r.Chains > 0 {
		cfg.Engine.Chains = r.Chains
	}
	if r.Samples > 0 {
		cfg.Engine.Samples = r.Samples
	}
	if r.BurnIn > 0 {
		cfg.Engine.BurnIn = r.BurnIn
	}
	if r.Seed > 0 {
		cfg.Engine.Seed = r.Seed
	}
	if r.CredibleLevel > 0 {
		cfg.Engine.CredibleLevel = r.CredibleLevel
	}
	if r.ShiftThreshold > 0 {
		cfg.Engine.ShiftThreshold = r.ShiftThreshold
	}
	if r.JointCount > 0 {
		cfg.Engine.JointCount = r.JointCount
	}
	if r.KPrior != "" {
		cfg.Engine.KPrior = r.KPrior
	}
	if r.WindowDays > 0 {
		cfg.Correlator.WindowDays = r.WindowDays
	}
	return cfg
}

type EventImpactRequest struct {
	ID string `param:"id" json:"id" validate:"required"`
}

type SnapshotRequest struct {
	Fingerprint string `param:"fingerprint" json:"fingerprint" validate:"required,hexadecimal,len=64"`
}

// ChangePointsResponse is the payload of the change-point query.
type ChangePointsResponse struct {
	Status       RunStatus              `json:"status"`
	Fingerprint  string                 `json:"fingerprint"`
	SnapshotID   string                 `json:"snapshot_id,omitempty"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
	Domain       Domain                 `json:"domain,omitempty"`
	Strategy     string                 `json:"strategy,omitempty"`
	ChangePoints []ChangePointPosterior `json:"change_points"`
	Reason       string                 `json:"reason,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Reliable     bool                   `json:"reliable"`
}

// EventImpactResponse lists the candidate events of one change point.
type EventImpactResponse struct {
	ChangePoint ChangePointPosterior `json:"change_point"`
	Links       []EventImpactLink    `json:"links"`
	Caveat      string               `json:"caveat"`
}

// ValidationResponse exposes the loader's batch report.
type ValidationResponse struct {
	Total    int      `json:"total"`
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

type EventPriceImpactRequest struct {
	ID         string `param:"id" json:"id" validate:"required"`
	WindowDays int    `query:"window_days" json:"window_days" default:"30" validate:"gte=1,lte=365"`
}

// ServiceStatus is the payload of the index route.
type ServiceStatus struct {
	Status      string    `json:"status"`
	PriceCount  int       `json:"price_records"`
	EventCount  int       `json:"events"`
	DateRange   DateRange `json:"date_range"`
	Fingerprint string    `json:"latest_fingerprint,omitempty"`
}
