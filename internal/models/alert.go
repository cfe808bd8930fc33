package models

import (
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// CheckType identifies the kind of probe that produced an alert
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeDNS  CheckType = "dns"
	CheckTypeTCP  CheckType = "tcp"
)

// Severity indicates how urgent an alert is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertEvent is a single failure signal emitted by the check-execution
// subsystem. Immutable once emitted; the unit the pipeline consumes.
type AlertEvent struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	CheckID      string    `json:"check_id" db:"check_id"`
	CheckName    string    `json:"check_name" db:"check_name"`
	CheckType    CheckType `json:"check_type" db:"check_type"`
	Location     string    `json:"location,omitempty" db:"location"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	Tags         []string  `json:"tags,omitempty" db:"tags"`
	Severity     Severity  `json:"severity" db:"severity"`
	TriggeredAt  time.Time `json:"triggered_at" db:"triggered_at"`
}

// Validate checks that all required event fields are present
func (e *AlertEvent) Validate() error {
	if e.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "org_id is required")
	}
	if e.CheckID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "check_id is required")
	}
	if e.CheckName == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "check_name is required")
	}
	if e.CheckType == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "check_type is required")
	}
	if e.Severity == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "severity is required")
	}
	if e.TriggeredAt.IsZero() {
		return utils.NewAppError(utils.ErrCodeValidation, "Alert event validation failed", "triggered_at is required")
	}
	return nil
}

// DedupIdentity returns the per-alert identity used for duplicate
// detection inside a group.
func (e *AlertEvent) DedupIdentity() string {
	return e.CheckName + "-" + string(e.CheckType)
}
