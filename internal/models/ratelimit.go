package models

import (
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// SuppressionMode controls what happens to alerts over the rate limit
type SuppressionMode string

const (
	SuppressionModeDrop      SuppressionMode = "drop"
	SuppressionModeAggregate SuppressionMode = "aggregate"
)

// MaxSuppressedAlerts bounds the per-organization suppressed alert
// buffer; older entries fall off the end.
const MaxSuppressedAlerts = 50

// AlertRateLimitConfig caps per-organization notification volume
type AlertRateLimitConfig struct {
	OrgID              string          `json:"org_id" db:"org_id"`
	MaxAlertsPerMinute int             `json:"max_alerts_per_minute" db:"max_alerts_per_minute"`
	TimeWindowSeconds  int             `json:"time_window_seconds" db:"time_window_seconds"`
	SuppressionMode    SuppressionMode `json:"suppression_mode" db:"suppression_mode"`
	AggregateThreshold int             `json:"aggregate_threshold" db:"aggregate_threshold"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate checks rate limit configuration
func (c *AlertRateLimitConfig) Validate() error {
	if c.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Rate limit config validation failed", "org_id is required")
	}
	if c.MaxAlertsPerMinute <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Rate limit config validation failed", "max_alerts_per_minute must be positive")
	}
	if c.TimeWindowSeconds <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Rate limit config validation failed", "time_window_seconds must be positive")
	}
	switch c.SuppressionMode {
	case SuppressionModeDrop, SuppressionModeAggregate:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Rate limit config validation failed",
			"suppression_mode must be drop or aggregate")
	}
	if c.SuppressionMode == SuppressionModeAggregate && c.AggregateThreshold <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Rate limit config validation failed",
			"aggregate_threshold must be positive in aggregate mode")
	}
	return nil
}

// WindowLimit converts max_alerts_per_minute into the equivalent cap
// for the configured window length.
func (c *AlertRateLimitConfig) WindowLimit() int {
	limit := c.MaxAlertsPerMinute * c.TimeWindowSeconds / 60
	if limit < 1 {
		limit = 1
	}
	return limit
}

// SuppressedAlert is a compact record of one rate-limited alert
type SuppressedAlert struct {
	CheckID      string    `json:"check_id"`
	CheckName    string    `json:"check_name"`
	CheckType    CheckType `json:"check_type"`
	Severity     Severity  `json:"severity"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// AlertRateLimitState is the single active window per organization
type AlertRateLimitState struct {
	OrgID           string    `json:"org_id" db:"org_id"`
	AlertsInWindow  int       `json:"alerts_in_window" db:"alerts_in_window"`
	WindowStart     time.Time `json:"window_start" db:"window_start"`
	TotalAlerts     int       `json:"total_alerts" db:"total_alerts"`
	SentAlerts      int       `json:"sent_alerts" db:"sent_alerts"`
	SuppressedCount int       `json:"suppressed_count" db:"suppressed_count"`
	// SuppressedAlerts holds the most recent suppressed alerts first.
	SuppressedAlerts []SuppressedAlert `json:"suppressed_alerts"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}
