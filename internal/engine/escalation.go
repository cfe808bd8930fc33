package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// EscalationManager drives managed incidents through their policy
// levels. Level delays are measured from incident creation, not from
// the previous level, so all timers are armed up front.
type EscalationManager struct {
	repo      *storage.Repository
	clock     Clock
	scheduler *Scheduler
	rotation  *RotationManager
	notifier  notification.Notifier
	locks     *orgLocks
	logger    *logrus.Entry
}

// NewEscalationManager creates an escalation manager. Timer callbacks
// serialize against locks, the same per-organization mutexes the
// pipeline holds, so a fired level cannot interleave with a status
// transition.
func NewEscalationManager(repo *storage.Repository, clock Clock, scheduler *Scheduler, rotation *RotationManager, notifier notification.Notifier, locks *orgLocks) *EscalationManager {
	return &EscalationManager{
		repo:      repo,
		clock:     clock,
		scheduler: scheduler,
		rotation:  rotation,
		notifier:  notifier,
		locks:     locks,
		logger:    utils.ComponentLogger("escalation"),
	}
}

func levelPurpose(level int) string {
	return fmt.Sprintf("%s:%d", PurposeEscalation, level)
}

// CreateIncident opens an incident against a policy and arms its
// escalation timers. Level one always fires synchronously before this
// returns, whatever delay it carries; the remaining levels are timed
// from the creation instant. The caller holds the organization lock.
func (em *EscalationManager) CreateIncident(ctx context.Context, incident *models.ManagedIncident) (*models.ManagedIncident, error) {
	if incident.OrgID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Incident validation failed", "org_id is required")
	}
	if incident.Title == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Incident validation failed", "title is required")
	}

	policy, err := em.repo.EscalationPolicy(ctx, incident.OrgID, incident.PolicyID)
	if err != nil {
		return nil, err
	}

	now := em.clock.Now()
	if incident.ID == "" {
		incident.ID = utils.GenerateID()
	}
	incident.Status = models.IncidentTriggered
	incident.CurrentEscalationLevel = 0
	incident.TriggeredAt = now
	incident.CreatedAt = now
	incident.UpdatedAt = now

	if err := em.repo.SaveIncident(ctx, incident); err != nil {
		return nil, err
	}

	em.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"org_id":      incident.OrgID,
		"policy_id":   policy.ID,
		"levels":      len(policy.Levels),
	}).Info("Incident created, arming escalation timers")

	if len(policy.Levels) > 0 {
		em.fireLevel(incident.OrgID, incident.ID, policy, policy.Levels[0])
		em.armLevels(incident.OrgID, incident.ID, policy, now, 1)
	}
	return incident, nil
}

// armLevels schedules policy levels from index first onward relative to
// cycleStart. Levels whose deadline already passed fire in order on the
// caller's goroutine; scheduled levels re-acquire the organization lock
// when their timer fires. The caller holds the organization lock.
func (em *EscalationManager) armLevels(orgID, incidentID string, policy *models.EscalationPolicy, cycleStart time.Time, first int) {
	now := em.clock.Now()
	for i := first; i < len(policy.Levels); i++ {
		lvl := policy.Levels[i]
		deadline := cycleStart.Add(time.Duration(lvl.EscalateAfterMinutes) * time.Minute)
		delay := deadline.Sub(now)
		pol := policy
		if delay <= 0 {
			em.fireLevel(orgID, incidentID, pol, lvl)
			continue
		}
		em.scheduler.Schedule(TaskKey{EntityID: incidentID, Purpose: levelPurpose(lvl.Level)}, delay, func() {
			mu := em.locks.Acquire(orgID)
			defer mu.Unlock()
			em.fireLevel(orgID, incidentID, pol, lvl)
		})
	}
}

// fireLevel notifies one level's targets. Incidents that left the
// triggered state are skipped; the escalation level never moves down.
// The caller holds the organization lock.
func (em *EscalationManager) fireLevel(orgID, incidentID string, policy *models.EscalationPolicy, level models.EscalationLevel) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	incident, err := em.repo.Incident(ctx, orgID, incidentID)
	if err != nil {
		em.logger.WithError(err).WithField("incident_id", incidentID).Warn("Escalation fired for missing incident")
		return
	}
	if incident.Closed() {
		em.logger.WithFields(logrus.Fields{
			"incident_id": incidentID,
			"status":      incident.Status,
		}).Debug("Skipping escalation for closed incident")
		return
	}

	if level.Level > incident.CurrentEscalationLevel {
		incident.CurrentEscalationLevel = level.Level
	}
	incident.UpdatedAt = em.clock.Now()
	if err := em.repo.SaveIncident(ctx, incident); err != nil {
		em.logger.WithError(err).WithField("incident_id", incidentID).Error("Failed to record escalation level")
	}

	em.logger.WithFields(logrus.Fields{
		"incident_id": incidentID,
		"org_id":      orgID,
		"level":       level.Level,
		"targets":     len(level.Targets),
	}).Info("Escalation level fired")

	payload := &notification.Payload{
		Kind:     notification.PayloadEscalation,
		OrgID:    orgID,
		Title:    fmt.Sprintf("Incident escalated to level %d: %s", level.Level, incident.Title),
		Message:  fmt.Sprintf("Incident %s is unacknowledged and has escalated to level %d.", incident.ID, level.Level),
		Severity: incident.Severity,
		Data: map[string]interface{}{
			"incident_id": incident.ID,
			"level":       level.Level,
			"status":      string(incident.Status),
		},
		CreatedAt: em.clock.Now(),
	}

	for i := range level.Targets {
		dest, err := em.resolveTarget(ctx, orgID, level.Targets[i])
		if err != nil {
			em.logger.WithError(err).WithFields(logrus.Fields{
				"incident_id": incidentID,
				"target_type": level.Targets[i].Type,
			}).Error("Failed to resolve escalation target")
			continue
		}
		em.notifier.Enqueue(dest, payload)
	}

	if em.isLastLevel(policy, level) && policy.RepeatPolicy == models.RepeatUntilAcknowledge {
		em.armRepeat(orgID, incidentID, policy)
	}
}

func (em *EscalationManager) isLastLevel(policy *models.EscalationPolicy, level models.EscalationLevel) bool {
	return len(policy.Levels) > 0 && policy.Levels[len(policy.Levels)-1].Level == level.Level
}

// armRepeat schedules the next full escalation cycle. The cycle starts
// over from level 1 every repeat interval until acknowledged.
func (em *EscalationManager) armRepeat(orgID, incidentID string, policy *models.EscalationPolicy) {
	interval := time.Duration(policy.RepeatIntervalMinutes) * time.Minute
	em.scheduler.Schedule(TaskKey{EntityID: incidentID, Purpose: PurposeRepeat}, interval, func() {
		mu := em.locks.Acquire(orgID)
		defer mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		incident, err := em.repo.Incident(ctx, orgID, incidentID)
		if err != nil || incident.Closed() {
			return
		}
		em.logger.WithFields(logrus.Fields{
			"incident_id": incidentID,
			"policy_id":   policy.ID,
		}).Info("Restarting escalation cycle for unacknowledged incident")
		em.armLevels(orgID, incidentID, policy, em.clock.Now(), 0)
	})
}

// resolveTarget converts an escalation target into a concrete dispatch
// destination at fire time, so on-call rotations are honored as of the
// moment the level fires.
func (em *EscalationManager) resolveTarget(ctx context.Context, orgID string, target models.EscalationTarget) (models.Destination, error) {
	switch target.Type {
	case models.TargetEmail:
		return models.Destination{
			Type:  models.DestinationEmail,
			Email: &models.EmailDestinationConfig{Recipients: []string{target.Value}},
		}, nil

	case models.TargetWebhook:
		return models.Destination{
			Type:    models.DestinationWebhook,
			Webhook: &models.WebhookDestinationConfig{URL: target.Value},
		}, nil

	case models.TargetOnCallSchedule:
		member, err := em.rotation.Current(ctx, orgID, target.Value)
		if err != nil {
			return models.Destination{}, err
		}
		return models.Destination{
			Type:  models.DestinationEmail,
			Email: &models.EmailDestinationConfig{Recipients: []string{member.Email}},
		}, nil

	case models.TargetUser:
		// User directory integration is out of scope; user targets land
		// in the application log with the user id attached.
		return models.Destination{Type: models.DestinationLog}, nil
	}

	return models.Destination{}, utils.NewAppError(utils.ErrCodeConfiguration,
		fmt.Sprintf("Unknown escalation target type %s", target.Type), target.Value)
}

// Acknowledge moves an incident to acknowledged and cancels every
// pending escalation task for it in the same step.
func (em *EscalationManager) Acknowledge(ctx context.Context, orgID, incidentID string) (*models.ManagedIncident, error) {
	return em.transition(ctx, orgID, incidentID, models.IncidentAcknowledged)
}

// Resolve moves an incident to resolved
func (em *EscalationManager) Resolve(ctx context.Context, orgID, incidentID string) (*models.ManagedIncident, error) {
	return em.transition(ctx, orgID, incidentID, models.IncidentResolved)
}

// UpdateStatus applies any forward lifecycle transition
func (em *EscalationManager) UpdateStatus(ctx context.Context, orgID, incidentID string, to models.IncidentStatus) (*models.ManagedIncident, error) {
	return em.transition(ctx, orgID, incidentID, to)
}

func (em *EscalationManager) transition(ctx context.Context, orgID, incidentID string, to models.IncidentStatus) (*models.ManagedIncident, error) {
	incident, err := em.repo.Incident(ctx, orgID, incidentID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(incident.Status, to) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid incident transition",
			fmt.Sprintf("cannot move incident from %s to %s", incident.Status, to))
	}

	now := em.clock.Now()
	wasOpen := !incident.Closed()
	incident.Status = to
	incident.UpdatedAt = now

	switch to {
	case models.IncidentAcknowledged:
		incident.AcknowledgedAt = &now
		tta := int64(now.Sub(incident.TriggeredAt) / time.Second)
		incident.TimeToAcknowledgeSecs = &tta
	case models.IncidentResolved:
		incident.ResolvedAt = &now
		ttr := int64(now.Sub(incident.TriggeredAt) / time.Second)
		incident.TimeToResolveSecs = &ttr
		if incident.AcknowledgedAt == nil {
			incident.AcknowledgedAt = &now
			incident.TimeToAcknowledgeSecs = &ttr
		}
	}

	// Cancel before persisting: a level that fires between the write
	// and the cancel would re-notify an already handled incident.
	var cancelled int
	if wasOpen {
		cancelled = em.scheduler.CancelEntity(incidentID)
	}
	if err := em.repo.SaveIncident(ctx, incident); err != nil {
		return nil, err
	}

	em.logger.WithFields(logrus.Fields{
		"incident_id":     incidentID,
		"org_id":          orgID,
		"status":          to,
		"cancelled_tasks": cancelled,
	}).Info("Incident status updated")
	return incident, nil
}
