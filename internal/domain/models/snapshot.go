package models

import "time"

// RunStatus is the degraded-state vocabulary of the query surface.
type RunStatus string

const (
	StatusOK               RunStatus = "ok"
	StatusPending          RunStatus = "pending"
	StatusInsufficientData RunStatus = "insufficient_data"
	StatusNoChangePoints   RunStatus = "no_change_points"
	StatusLowConfidence    RunStatus = "low_confidence"
	StatusFailed           RunStatus = "failed"
)

// Snapshot is the immutable record of one analysis run. It is never mutated
// after it has been stored; a new run produces a new snapshot.
type Snapshot struct {
	ID           string                       `json:"id"`
	Fingerprint  string                       `json:"fingerprint"`
	ConfigHash   string                       `json:"config_hash"`
	SeriesHash   string                       `json:"series_hash"`
	CreatedAt    time.Time                    `json:"created_at"`
	Duration     time.Duration                `json:"duration"`
	Config       AnalysisConfig               `json:"config"`
	Domain       Domain                       `json:"domain"`
	Stationarity StationarityReport           `json:"stationarity"`
	ChangePoints []ChangePointPosterior       `json:"change_points"`
	Links        map[string][]EventImpactLink `json:"links"`
	Summary      SummaryStats                 `json:"summary"`
	Status       RunStatus                    `json:"status"`
	Reason       string                       `json:"reason,omitempty"`
	Warnings     []string                     `json:"warnings,omitempty"`
	Reliable     bool                         `json:"reliable"`
}

// ChangePoint looks up a change point of the snapshot by ID.
func (s *Snapshot) ChangePoint(id string) (ChangePointPosterior, bool) {
	for _, cp := range s.ChangePoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return ChangePointPosterior{}, false
}

// RunNotification announces a freshly stored snapshot.
type RunNotification struct {
	SnapshotID   string    `json:"snapshot_id"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	Status       RunStatus `json:"status"`
	ChangePoints int       `json:"change_points"`
	Reliable     bool      `json:"reliable"`
}

// NewRunNotification projects a snapshot onto its notification.
func NewRunNotification(s *Snapshot) RunNotification {
	return RunNotification{
		SnapshotID:   s.ID,
		Fingerprint:  s.Fingerprint,
		CreatedAt:    s.CreatedAt,
		Status:       s.Status,
		ChangePoints: len(s.ChangePoints),
		Reliable:     s.Reliable,
	}
}
