package models

import (
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// RotationType drives how often a schedule rotates automatically
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationCustom RotationType = "custom"
)

// OnCallMember is one responder in a schedule
type OnCallMember struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// OnCallSchedule maintains whose turn it is. The current on-call member
// is always members[current_on_call_index].
type OnCallSchedule struct {
	ID                   string         `json:"id" db:"id"`
	OrgID                string         `json:"org_id" db:"org_id"`
	Name                 string         `json:"name" db:"name"`
	Members              []OnCallMember `json:"members"`
	CurrentOnCallIndex   int            `json:"current_on_call_index" db:"current_on_call_index"`
	RotationType         RotationType   `json:"rotation_type" db:"rotation_type"`
	RotationIntervalDays int            `json:"rotation_interval_days" db:"rotation_interval_days"`
	LastRotationAt       *time.Time     `json:"last_rotation_at,omitempty" db:"last_rotation_at"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks schedule configuration
func (s *OnCallSchedule) Validate() error {
	if s.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "On-call schedule validation failed", "org_id is required")
	}
	switch s.RotationType {
	case RotationDaily, RotationWeekly:
	case RotationCustom:
		if s.RotationIntervalDays <= 0 {
			return utils.NewAppError(utils.ErrCodeValidation, "On-call schedule validation failed",
				"rotation_interval_days must be positive for custom rotation")
		}
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "On-call schedule validation failed",
			"rotation_type must be daily, weekly or custom")
	}
	if s.CurrentOnCallIndex < 0 || (len(s.Members) > 0 && s.CurrentOnCallIndex >= len(s.Members)) {
		return utils.NewAppError(utils.ErrCodeValidation, "On-call schedule validation failed",
			"current_on_call_index out of range")
	}
	return nil
}

// RotationInterval returns the effective interval between automatic
// rotations.
func (s *OnCallSchedule) RotationInterval() time.Duration {
	switch s.RotationType {
	case RotationDaily:
		return 24 * time.Hour
	case RotationWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Duration(s.RotationIntervalDays) * 24 * time.Hour
	}
}

// CurrentMember returns the member currently on call. An empty member
// list is a hard error.
func (s *OnCallSchedule) CurrentMember() (*OnCallMember, error) {
	if len(s.Members) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "On-call schedule has no members", s.ID)
	}
	idx := s.CurrentOnCallIndex
	if idx < 0 || idx >= len(s.Members) {
		// Membership shrank since the index was written; clamp instead
		// of failing a live escalation.
		idx = idx % len(s.Members)
		if idx < 0 {
			idx += len(s.Members)
		}
	}
	m := s.Members[idx]
	return &m, nil
}
