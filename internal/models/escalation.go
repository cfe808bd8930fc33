package models

import (
	"fmt"
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// EscalationTargetType identifies what an escalation level notifies
type EscalationTargetType string

const (
	TargetUser           EscalationTargetType = "user"
	TargetOnCallSchedule EscalationTargetType = "on_call_schedule"
	TargetEmail          EscalationTargetType = "email"
	TargetWebhook        EscalationTargetType = "webhook"
)

// EscalationTarget is one recipient of an escalation level. Value holds
// the user id, schedule id, email address or webhook URL depending on
// the target type.
type EscalationTarget struct {
	Type  EscalationTargetType `json:"type"`
	Value string               `json:"value"`
}

// Validate checks the target type and value
func (t *EscalationTarget) Validate() error {
	switch t.Type {
	case TargetUser, TargetOnCallSchedule, TargetEmail, TargetWebhook:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Escalation target validation failed",
			fmt.Sprintf("unknown target type: %s", t.Type))
	}
	if t.Value == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Escalation target validation failed",
			fmt.Sprintf("target value is required for type %s", t.Type))
	}
	return nil
}

// EscalationLevel is one notify-then-wait step in a policy. The
// escalate-after delay is measured from incident creation, not from the
// previous level.
type EscalationLevel struct {
	Level                int                `json:"level"`
	EscalateAfterMinutes int                `json:"escalate_after_minutes"`
	Targets              []EscalationTarget `json:"targets"`
}

// RepeatPolicy controls behavior after the last level fires
type RepeatPolicy string

const (
	RepeatOnce             RepeatPolicy = "once"
	RepeatUntilAcknowledge RepeatPolicy = "repeat_until_acknowledged"
)

// EscalationPolicy drives a ManagedIncident through its levels over
// time until acknowledged.
type EscalationPolicy struct {
	ID                    string            `json:"id" db:"id"`
	OrgID                 string            `json:"org_id" db:"org_id"`
	Name                  string            `json:"name" db:"name"`
	Levels                []EscalationLevel `json:"levels"`
	RepeatPolicy          RepeatPolicy      `json:"repeat_policy" db:"repeat_policy"`
	RepeatIntervalMinutes int               `json:"repeat_interval_minutes" db:"repeat_interval_minutes"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// Validate checks policy level ordering and targets
func (p *EscalationPolicy) Validate() error {
	if p.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed", "org_id is required")
	}
	if len(p.Levels) == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
			"at least one level is required")
	}
	prev := -1
	for i := range p.Levels {
		lvl := &p.Levels[i]
		if lvl.EscalateAfterMinutes < 0 {
			return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
				fmt.Sprintf("level %d: escalate_after_minutes must not be negative", i+1))
		}
		if lvl.EscalateAfterMinutes < prev {
			return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
				fmt.Sprintf("level %d: escalate_after_minutes must not decrease", i+1))
		}
		prev = lvl.EscalateAfterMinutes
		if len(lvl.Targets) == 0 {
			return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
				fmt.Sprintf("level %d: at least one target is required", i+1))
		}
		for j := range lvl.Targets {
			if err := lvl.Targets[j].Validate(); err != nil {
				return err
			}
		}
	}
	switch p.RepeatPolicy {
	case RepeatOnce:
	case RepeatUntilAcknowledge:
		if p.RepeatIntervalMinutes <= 0 {
			return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
				"repeat_interval_minutes must be positive for repeat_until_acknowledged")
		}
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Escalation policy validation failed",
			"repeat_policy must be once or repeat_until_acknowledged")
	}
	return nil
}

// IncidentStatus is a step in the incident lifecycle
type IncidentStatus string

const (
	IncidentTriggered     IncidentStatus = "triggered"
	IncidentAcknowledged  IncidentStatus = "acknowledged"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentIdentified    IncidentStatus = "identified"
	IncidentMonitoring    IncidentStatus = "monitoring"
	IncidentResolved      IncidentStatus = "resolved"
)

// incidentStatusOrder drives forward-only transition checks.
var incidentStatusOrder = map[IncidentStatus]int{
	IncidentTriggered:     0,
	IncidentAcknowledged:  1,
	IncidentInvestigating: 2,
	IncidentIdentified:    3,
	IncidentMonitoring:    4,
	IncidentResolved:      5,
}

// CanTransition reports whether an incident may move between statuses.
// Transitions only move forward; resolved is reachable from any
// non-resolved status.
func CanTransition(from, to IncidentStatus) bool {
	fo, ok1 := incidentStatusOrder[from]
	to2, ok2 := incidentStatusOrder[to]
	if !ok1 || !ok2 {
		return false
	}
	if from == IncidentResolved {
		return false
	}
	if to == IncidentResolved {
		return true
	}
	return to2 > fo
}

// ManagedIncident is the escalation-bearing entity
type ManagedIncident struct {
	ID                    string         `json:"id" db:"id"`
	OrgID                 string         `json:"org_id" db:"org_id"`
	Title                 string         `json:"title" db:"title"`
	GroupID               string         `json:"group_id,omitempty" db:"group_id"`
	CheckID               string         `json:"check_id,omitempty" db:"check_id"`
	PolicyID              string         `json:"policy_id" db:"policy_id"`
	Status                IncidentStatus `json:"status" db:"status"`
	CurrentEscalationLevel int            `json:"current_escalation_level" db:"current_escalation_level"`
	Severity              Severity       `json:"severity" db:"severity"`
	TriggeredAt           time.Time      `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt        *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	TimeToAcknowledgeSecs *int64         `json:"time_to_acknowledge_seconds,omitempty" db:"time_to_acknowledge_seconds"`
	TimeToResolveSecs     *int64         `json:"time_to_resolve_seconds,omitempty" db:"time_to_resolve_seconds"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// Closed reports whether the incident reached a terminal state for
// escalation purposes. Terminal states are sticky.
func (i *ManagedIncident) Closed() bool {
	return i.Status != IncidentTriggered
}
