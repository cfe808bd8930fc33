package models

import (
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Correlation reasons. When more than one heuristic matched, the
// recorded reason is CorrelationReasonMultiple.
const (
	CorrelationReasonCheck      = "check"
	CorrelationReasonLocation   = "location"
	CorrelationReasonErrorType  = "error_type"
	CorrelationReasonTimeWindow = "time_window"
	CorrelationReasonMultiple   = "multiple"
	CorrelationReasonManual     = "manual"
)

// AlertCorrelationConfig holds the per-organization correlation
// heuristics. Each switch is independent; any enabled heuristic that
// matches attaches the alert.
type AlertCorrelationConfig struct {
	OrgID                string    `json:"org_id" db:"org_id"`
	Enabled              bool      `json:"enabled" db:"enabled"`
	CorrelateByCheck     bool      `json:"correlate_by_check" db:"correlate_by_check"`
	CorrelateByLocation  bool      `json:"correlate_by_location" db:"correlate_by_location"`
	CorrelateByErrorType bool      `json:"correlate_by_error_type" db:"correlate_by_error_type"`
	CorrelateByTime      bool      `json:"correlate_by_time_window" db:"correlate_by_time_window"`
	TimeWindowSeconds    int       `json:"time_window_seconds" db:"time_window_seconds"`
	SimilarityThreshold  int       `json:"similarity_threshold" db:"similarity_threshold"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks correlation configuration
func (c *AlertCorrelationConfig) Validate() error {
	if c.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Correlation config validation failed", "org_id is required")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 100 {
		return utils.NewAppError(utils.ErrCodeValidation, "Correlation config validation failed",
			"similarity_threshold must be between 0 and 100")
	}
	if c.CorrelateByTime && c.TimeWindowSeconds <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Correlation config validation failed",
			"time_window_seconds must be positive when correlating by time window")
	}
	return nil
}

// CorrelationStatus is the lifecycle state of a correlation
type CorrelationStatus string

const (
	CorrelationStatusActive       CorrelationStatus = "active"
	CorrelationStatusAcknowledged CorrelationStatus = "acknowledged"
	CorrelationStatusResolved     CorrelationStatus = "resolved"
)

// CorrelatedAlert is one alert attached to a correlation
type CorrelatedAlert struct {
	AlertID      string    `json:"alert_id"`
	CheckID      string    `json:"check_id"`
	CheckName    string    `json:"check_name"`
	Location     string    `json:"location,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Severity     Severity  `json:"severity"`
	TriggeredAt  time.Time `json:"triggered_at"`
	AddedAt      time.Time `json:"added_at"`
}

// AlertCorrelation merges alerts from different checks and locations
// that are likely symptoms of the same root cause. Correlations grow by
// appending; they are created by an explicit N-way merge, never
// automatically for a single alert.
type AlertCorrelation struct {
	ID                 string            `json:"id" db:"id"`
	OrgID              string            `json:"org_id" db:"org_id"`
	CorrelationReason  string            `json:"correlation_reason" db:"correlation_reason"`
	CorrelationDetails string            `json:"correlation_details,omitempty" db:"correlation_details"`
	Alerts             []CorrelatedAlert `json:"alerts"`
	PrimaryAlertID     string            `json:"primary_alert_id" db:"primary_alert_id"`
	Status             CorrelationStatus `json:"status" db:"status"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

// LastAlertAt returns the trigger time of the most recent member alert
func (c *AlertCorrelation) LastAlertAt() time.Time {
	var last time.Time
	for _, a := range c.Alerts {
		if a.TriggeredAt.After(last) {
			last = a.TriggeredAt
		}
	}
	return last
}
