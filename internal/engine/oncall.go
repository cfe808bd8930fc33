package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// RotationManager maintains whose turn it is on each on-call schedule.
// Manual and timer-driven rotation share the same state transition.
type RotationManager struct {
	repo      *storage.Repository
	clock     Clock
	scheduler *Scheduler
	locks     *orgLocks
	logger    *logrus.Entry
}

// NewRotationManager creates a new rotation manager. Rotation timer
// callbacks serialize against locks, the engine's per-organization
// mutexes.
func NewRotationManager(repo *storage.Repository, clock Clock, scheduler *Scheduler, locks *orgLocks) *RotationManager {
	return &RotationManager{
		repo:      repo,
		clock:     clock,
		scheduler: scheduler,
		locks:     locks,
		logger:    utils.ComponentLogger("oncall"),
	}
}

// Current returns the member currently on call for a schedule
func (rm *RotationManager) Current(ctx context.Context, orgID, scheduleID string) (*models.OnCallMember, error) {
	schedule, err := rm.repo.Schedule(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}
	return schedule.CurrentMember()
}

// Rotate advances the on-call index circularly. An empty member list is
// a hard error.
func (rm *RotationManager) Rotate(ctx context.Context, orgID, scheduleID string) (*models.OnCallSchedule, error) {
	schedule, err := rm.repo.Schedule(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}
	if len(schedule.Members) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Cannot rotate schedule with no members", scheduleID)
	}

	now := rm.clock.Now()
	schedule.CurrentOnCallIndex = (schedule.CurrentOnCallIndex + 1) % len(schedule.Members)
	schedule.LastRotationAt = &now
	schedule.UpdatedAt = now

	if err := rm.repo.SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	rm.logger.WithFields(logrus.Fields{
		"org_id":      orgID,
		"schedule_id": scheduleID,
		"index":       schedule.CurrentOnCallIndex,
	}).Info("On-call schedule rotated")

	return schedule, nil
}

// ScheduleAutoRotation arms the recurring rotation timer for a
// schedule. The timer fires the same transition as a manual rotate and
// then re-arms itself.
func (rm *RotationManager) ScheduleAutoRotation(orgID, scheduleID string, interval time.Duration) {
	key := TaskKey{EntityID: scheduleID, Purpose: PurposeRotation}
	rm.scheduler.Schedule(key, interval, func() {
		mu := rm.locks.Acquire(orgID)
		defer mu.Unlock()
		rm.fireAutoRotation(orgID, scheduleID)
	})
}

// CancelAutoRotation disarms the rotation timer, e.g. when a schedule
// is deleted.
func (rm *RotationManager) CancelAutoRotation(scheduleID string) {
	rm.scheduler.Cancel(TaskKey{EntityID: scheduleID, Purpose: PurposeRotation})
}

// fireAutoRotation is the timer body; the caller holds the
// organization lock. A schedule deleted or emptied since the timer was
// armed makes the firing a no-op, not an error.
func (rm *RotationManager) fireAutoRotation(orgID, scheduleID string) {
	ctx := context.Background()

	schedule, err := rm.repo.Schedule(ctx, orgID, scheduleID)
	if err != nil {
		rm.logger.WithError(err).WithField("schedule_id", scheduleID).
			Warn("Auto rotation skipped, schedule not found")
		return
	}
	if len(schedule.Members) == 0 {
		rm.logger.WithField("schedule_id", scheduleID).
			Warn("Auto rotation skipped, schedule has no members")
		// Re-arm so rotation resumes once members are added back.
		rm.ScheduleAutoRotation(orgID, scheduleID, schedule.RotationInterval())
		return
	}

	if _, err := rm.Rotate(ctx, orgID, scheduleID); err != nil {
		rm.logger.WithError(err).WithField("schedule_id", scheduleID).
			Error("Auto rotation failed")
	}

	rm.ScheduleAutoRotation(orgID, scheduleID, schedule.RotationInterval())
}
