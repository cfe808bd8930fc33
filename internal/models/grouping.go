package models

import (
	"fmt"
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// GroupingCriterion is one component of a grouping rule's key
type GroupingCriterion string

const (
	GroupByCheckName GroupingCriterion = "check_name"
	GroupByCheckType GroupingCriterion = "check_type"
	GroupByLocation  GroupingCriterion = "location"
	GroupByErrorType GroupingCriterion = "error_type"
	GroupByTag       GroupingCriterion = "tag"
)

// AlertGroupingRule controls how alerts collapse into groups. Rules are
// evaluated per organization ordered by priority (lower = first); only
// the single highest-priority active rule is applied.
type AlertGroupingRule struct {
	ID                       string              `json:"id" db:"id"`
	OrgID                    string              `json:"org_id" db:"org_id"`
	Name                     string              `json:"name" db:"name"`
	Priority                 int                 `json:"priority" db:"priority"`
	GroupBy                  []GroupingCriterion `json:"group_by" db:"group_by"`
	TimeWindowMinutes        int                 `json:"time_window_minutes" db:"time_window_minutes"`
	DeduplicationEnabled     bool                `json:"deduplication_enabled" db:"deduplication_enabled"`
	DeduplicationKey         string              `json:"deduplication_key,omitempty" db:"deduplication_key"`
	MaxAlertsPerGroup        int                 `json:"max_alerts_per_group" db:"max_alerts_per_group"`
	NotificationDelaySeconds int                 `json:"notification_delay_seconds" db:"notification_delay_seconds"`
	IsActive                 bool                `json:"is_active" db:"is_active"`
	CreatedAt                time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at" db:"updated_at"`
}

// Validate checks grouping rule configuration
func (r *AlertGroupingRule) Validate() error {
	if r.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed", "org_id is required")
	}
	if len(r.GroupBy) == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed", "group_by must contain at least one criterion")
	}
	for _, c := range r.GroupBy {
		switch c {
		case GroupByCheckName, GroupByCheckType, GroupByLocation, GroupByErrorType, GroupByTag:
		default:
			return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed",
				fmt.Sprintf("unknown grouping criterion: %s", c))
		}
	}
	if r.TimeWindowMinutes <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed", "time_window_minutes must be positive")
	}
	if r.MaxAlertsPerGroup <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed", "max_alerts_per_group must be positive")
	}
	if r.NotificationDelaySeconds < 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Grouping rule validation failed", "notification_delay_seconds must not be negative")
	}
	return nil
}

// GroupStatus is the lifecycle state of an alert group
type GroupStatus string

const (
	GroupStatusActive       GroupStatus = "active"
	GroupStatusAcknowledged GroupStatus = "acknowledged"
	GroupStatusResolved     GroupStatus = "resolved"
)

// GroupedAlert is one alert recorded inside a group. Deduplicated
// alerts stay in the history for audit but are flagged so downstream
// notification can suppress them.
type GroupedAlert struct {
	ID           string    `json:"id"`
	CheckID      string    `json:"check_id"`
	CheckName    string    `json:"check_name"`
	CheckType    CheckType `json:"check_type"`
	Location     string    `json:"location,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Severity     Severity  `json:"severity"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Deduplicated bool      `json:"deduplicated"`
	AddedAt      time.Time `json:"added_at"`
}

// AlertGroup is a time-windowed bundle of alerts sharing a computed key.
// A group is owned by exactly one grouping rule.
type AlertGroup struct {
	ID           string         `json:"id" db:"id"`
	OrgID        string         `json:"org_id" db:"org_id"`
	RuleID       string         `json:"rule_id" db:"rule_id"`
	GroupKey     string         `json:"group_key" db:"group_key"`
	Status       GroupStatus    `json:"status" db:"status"`
	Alerts       []GroupedAlert `json:"alerts"`
	FirstAlertAt time.Time      `json:"first_alert_at" db:"first_alert_at"`
	LastAlertAt  time.Time      `json:"last_alert_at" db:"last_alert_at"`
	// NotifyAt is set when the owning rule defers the group's first
	// notification; nil means notify immediately.
	NotifyAt       *time.Time `json:"notify_at,omitempty" db:"notify_at"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty" db:"snoozed_until"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Snoozed reports whether notifications for the group are currently
// suppressed without the group being closed.
func (g *AlertGroup) Snoozed(now time.Time) bool {
	return g.SnoozedUntil != nil && now.Before(*g.SnoozedUntil)
}
