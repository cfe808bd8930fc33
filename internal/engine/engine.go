package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/audit"
	"github.com/mqxerror/qa-guardian-sub011/internal/metrics"
	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Engine runs the alert lifecycle pipeline: grouping, rate limiting,
// correlation, routing, notification and incident escalation. Alerts
// for the same organization are processed strictly one at a time;
// different organizations proceed in parallel.
type Engine struct {
	repo      *storage.Repository
	clock     Clock
	scheduler *Scheduler
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	audit     audit.Recorder
	logger    *logrus.Entry

	Grouping    *GroupingEngine
	RateLimit   *RateLimiter
	Correlation *CorrelationEngine
	Routing     *RoutingEngine
	Rotation    *RotationManager
	Escalation  *EscalationManager

	mu      sync.RWMutex
	running bool

	locks *orgLocks

	stats EngineStats
}

// orgLocks hands out one mutex per organization. Pipeline calls and
// timer callbacks serialize against the same lock, so a status write
// and the cancellation of that entity's timers are one atomic step.
type orgLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOrgLocks() *orgLocks {
	return &orgLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the organization's mutex and returns it for deferred
// unlock.
func (l *orgLocks) Acquire(orgID string) *sync.Mutex {
	l.mu.Lock()
	mu, ok := l.locks[orgID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[orgID] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu
}

// EngineStats tracks pipeline totals since start
type EngineStats struct {
	AlertsProcessed   uint64 `json:"alerts_processed"`
	AlertsDeduped     uint64 `json:"alerts_deduplicated"`
	AlertsSuppressed  uint64 `json:"alerts_suppressed"`
	AlertsCorrelated  uint64 `json:"alerts_correlated"`
	AlertsRouted      uint64 `json:"alerts_routed"`
	IncidentsCreated  uint64 `json:"incidents_created"`
	NotificationsSent uint64 `json:"notifications_enqueued"`
}

// PipelineResult is the synchronous outcome of processing one alert
type PipelineResult struct {
	EventID     string             `json:"event_id"`
	Grouping    *GroupingResult    `json:"grouping,omitempty"`
	RateLimit   *RateLimitResult   `json:"rate_limit,omitempty"`
	Correlation *CorrelationResult `json:"correlation,omitempty"`
	Routing     *RoutingResult     `json:"routing,omitempty"`
	IncidentID  string             `json:"incident_id,omitempty"`
	// Deferred is set when the group's notification delay or snooze
	// postponed dispatch.
	Deferred              bool `json:"deferred"`
	NotificationsEnqueued int  `json:"notifications_enqueued"`
}

// New creates a fully wired engine
func New(repo *storage.Repository, clock Clock, notifier notification.Notifier, m *metrics.Metrics, recorder audit.Recorder) *Engine {
	if clock == nil {
		clock = NewRealClock()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	scheduler := NewScheduler(clock)
	locks := newOrgLocks()
	rotation := NewRotationManager(repo, clock, scheduler, locks)

	e := &Engine{
		repo:        repo,
		clock:       clock,
		scheduler:   scheduler,
		notifier:    notifier,
		metrics:     m,
		audit:       recorder,
		logger:      utils.ComponentLogger("engine"),
		Grouping:    NewGroupingEngine(repo, clock),
		RateLimit:   NewRateLimiter(repo, clock),
		Correlation: NewCorrelationEngine(repo, clock),
		Routing:     NewRoutingEngine(repo, clock),
		Rotation:    rotation,
		locks:       locks,
	}
	e.Escalation = NewEscalationManager(repo, clock, scheduler, rotation, notifier, locks)
	return e
}

// Start starts the engine and its dispatcher
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Engine already running", "")
	}
	if err := e.notifier.Start(ctx); err != nil {
		return err
	}
	e.running = true
	e.logger.Info("Alert lifecycle engine started")
	return nil
}

// Stop stops the scheduler and dispatcher
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.scheduler.Stop()
	if err := e.notifier.Stop(); err != nil {
		return err
	}
	e.running = false
	e.logger.Info("Alert lifecycle engine stopped")
	return nil
}

// IsRunning returns whether the engine is running
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Scheduler exposes the task scheduler, primarily for tests
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

func (e *Engine) lockOrg(orgID string) *sync.Mutex {
	return e.locks.Acquire(orgID)
}

// ProcessAlert runs one alert event through the full pipeline
func (e *Engine) ProcessAlert(ctx context.Context, event *models.AlertEvent) (*PipelineResult, error) {
	start := time.Now()
	if event.ID == "" {
		event.ID = utils.GenerateID()
	}
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = e.clock.Now()
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	orgLock := e.lockOrg(event.OrgID)
	defer orgLock.Unlock()

	defer func() {
		if e.metrics != nil {
			e.metrics.PipelineDuration.WithLabelValues(event.OrgID).Observe(time.Since(start).Seconds())
		}
	}()

	e.countIngested(event.OrgID)
	result := &PipelineResult{EventID: event.ID}

	// Grouping. Duplicates are appended to their group but go no
	// further through the pipeline.
	grouping, err := e.Grouping.Process(ctx, event, false)
	if err != nil {
		return nil, err
	}
	result.Grouping = grouping
	if grouping.Created {
		e.countGroupCreated(event.OrgID)
	}
	if grouping.Deduplicated {
		e.countDeduped(event.OrgID)
		e.recordAudit(ctx, event.OrgID, "alert.deduplicated", "alert_group", grouping.Group.ID, map[string]interface{}{
			"event_id":   event.ID,
			"check_name": event.CheckName,
		})
		return result, nil
	}

	// Rate limiting
	limit, err := e.RateLimit.Check(ctx, event, false)
	if err != nil {
		return nil, err
	}
	result.RateLimit = limit
	if !limit.Allowed {
		e.countSuppressed(event.OrgID, string(limit.Mode))
		if limit.SummaryNeeded {
			e.dispatchSummary(ctx, event, limit.Summary, result)
		}
		return result, nil
	}

	// Correlation attaches but never blocks the rest of the pipeline.
	correlation, err := e.Correlation.Process(ctx, event, false)
	if err != nil {
		e.logger.WithError(err).WithField("org_id", event.OrgID).Warn("Correlation failed, continuing pipeline")
	} else {
		result.Correlation = correlation
		if correlation.Correlated {
			e.countCorrelated(event.OrgID, correlation.CorrelationReason)
		}
	}

	// Routing
	routing, err := e.Routing.Evaluate(ctx, event)
	if err != nil {
		return nil, err
	}
	result.Routing = routing
	if !routing.Matched {
		e.logger.WithFields(logrus.Fields{
			"org_id":   event.OrgID,
			"event_id": event.ID,
		}).Debug("No routing rule matched, alert grouped but not notified")
		return result, nil
	}
	e.countRouted(event.OrgID)

	payload := e.alertPayload(event, grouping, result.Correlation)

	// Honor the group's notification delay and snooze window before
	// fanning out.
	now := e.clock.Now()
	group := grouping.Group
	deferUntil := notifyDeadline(group, now)
	if deferUntil != nil {
		result.Deferred = true
		e.scheduleDeferred(group.ID, event.OrgID, deferUntil.Sub(now), routing.Destinations, payload)
		e.logger.WithFields(logrus.Fields{
			"org_id":    event.OrgID,
			"group_id":  group.ID,
			"notify_at": deferUntil,
		}).Debug("Notification deferred")
	} else {
		result.NotificationsEnqueued = e.dispatch(ctx, event.OrgID, routing.Destinations, payload)
	}

	// Incident creation per routing rule
	if incidentID, err := e.maybeCreateIncident(ctx, event, grouping, routing); err != nil {
		e.logger.WithError(err).WithField("org_id", event.OrgID).Error("Incident creation failed")
	} else {
		result.IncidentID = incidentID
	}

	e.recordAudit(ctx, event.OrgID, "alert.processed", "alert", event.ID, map[string]interface{}{
		"group_id":      group.ID,
		"rules_matched": len(routing.MatchedRuleIDs),
		"deferred":      result.Deferred,
	})
	return result, nil
}

// notifyDeadline returns the later of the group's notify-at and snooze
// deadlines when either is still in the future.
func notifyDeadline(group *models.AlertGroup, now time.Time) *time.Time {
	var deadline *time.Time
	if group.NotifyAt != nil && group.NotifyAt.After(now) {
		deadline = group.NotifyAt
	}
	if group.SnoozedUntil != nil && group.SnoozedUntil.After(now) {
		if deadline == nil || group.SnoozedUntil.After(*deadline) {
			deadline = group.SnoozedUntil
		}
	}
	return deadline
}

func (e *Engine) alertPayload(event *models.AlertEvent, grouping *GroupingResult, correlation *CorrelationResult) *notification.Payload {
	data := map[string]interface{}{
		"event_id":   event.ID,
		"check_id":   event.CheckID,
		"check_name": event.CheckName,
		"check_type": string(event.CheckType),
		"location":   event.Location,
		"group_id":   grouping.Group.ID,
		"group_key":  grouping.Group.GroupKey,
	}
	if correlation != nil && correlation.Correlated {
		data["correlation_id"] = correlation.CorrelationID
	}
	message := event.ErrorMessage
	if message == "" {
		message = fmt.Sprintf("Check %s is failing", event.CheckName)
	}
	return &notification.Payload{
		Kind:      notification.PayloadAlert,
		OrgID:     event.OrgID,
		Title:     fmt.Sprintf("[%s] %s failing from %s", strings.ToUpper(string(event.Severity)), event.CheckName, event.Location),
		Message:   message,
		Severity:  event.Severity,
		Data:      data,
		CreatedAt: e.clock.Now(),
	}
}

// dispatch resolves on-call destinations and enqueues the payload to
// each destination. Returns the number of notifications enqueued.
func (e *Engine) dispatch(ctx context.Context, orgID string, dests []models.Destination, payload *notification.Payload) int {
	enqueued := 0
	for i := range dests {
		dest := dests[i]
		if dest.Type == models.DestinationOnCall {
			resolved, err := e.resolveOnCall(ctx, orgID, dest)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"org_id":      orgID,
					"schedule_id": dest.OnCall.ScheduleID,
				}).Error("Failed to resolve on-call destination")
				continue
			}
			dest = resolved
		}
		if e.notifier.Enqueue(dest, payload) {
			enqueued++
			e.countNotification(orgID, string(dest.Type))
		}
	}
	return enqueued
}

func (e *Engine) resolveOnCall(ctx context.Context, orgID string, dest models.Destination) (models.Destination, error) {
	member, err := e.Rotation.Current(ctx, orgID, dest.OnCall.ScheduleID)
	if err != nil {
		return models.Destination{}, err
	}
	return models.Destination{
		Type:  models.DestinationEmail,
		Email: &models.EmailDestinationConfig{Recipients: []string{member.Email}},
	}, nil
}

// scheduleDeferred arms the group's notification timer. The timer body
// runs under the organization lock so it cannot interleave with an
// acknowledge or resolve of the same group.
func (e *Engine) scheduleDeferred(groupID, orgID string, delay time.Duration, dests []models.Destination, payload *notification.Payload) {
	e.scheduler.Schedule(TaskKey{EntityID: groupID, Purpose: PurposeGroupNotify}, delay, func() {
		orgLock := e.lockOrg(orgID)
		defer orgLock.Unlock()
		e.dispatchDeferred(groupID, orgID, dests, payload)
	})
}

// dispatchDeferred runs when a group's notification delay elapses. The
// caller holds the organization lock.
func (e *Engine) dispatchDeferred(groupID, orgID string, dests []models.Destination, payload *notification.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	group, err := e.repo.Group(ctx, orgID, groupID)
	if err != nil {
		e.logger.WithError(err).WithField("group_id", groupID).Warn("Deferred notification for missing group")
		return
	}
	if group.Status != models.GroupStatusActive {
		e.logger.WithFields(logrus.Fields{
			"group_id": groupID,
			"status":   group.Status,
		}).Debug("Skipping deferred notification for handled group")
		return
	}
	if group.Snoozed(e.clock.Now()) {
		// Snoozed again since scheduling; re-arm for the new deadline.
		e.scheduleDeferred(groupID, orgID, group.SnoozedUntil.Sub(e.clock.Now()), dests, payload)
		return
	}
	e.dispatch(ctx, orgID, dests, payload)
}

// dispatchSummary emits one combined notification for a flushed
// suppressed-alert buffer, fanned out to the destinations the
// triggering alert routes to.
func (e *Engine) dispatchSummary(ctx context.Context, event *models.AlertEvent, summary []models.SuppressedAlert, result *PipelineResult) {
	routing, err := e.Routing.Evaluate(ctx, event)
	if err != nil || !routing.Matched {
		e.logger.WithField("org_id", event.OrgID).Warn("No routing destinations for rate limit summary")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d alerts were suppressed by rate limiting:\n", len(summary))
	for i := range summary {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", summary[i].Severity, summary[i].CheckName, summary[i].ErrorMessage)
	}

	payload := &notification.Payload{
		Kind:    notification.PayloadSummary,
		OrgID:   event.OrgID,
		Title:   fmt.Sprintf("Rate limit summary: %d suppressed alerts", len(summary)),
		Message: b.String(),
		Data: map[string]interface{}{
			"suppressed_count": len(summary),
		},
		CreatedAt: e.clock.Now(),
	}
	result.NotificationsEnqueued = e.dispatch(ctx, event.OrgID, routing.Destinations, payload)
}

// maybeCreateIncident opens a managed incident when the first matched
// rule that asks for one names an escalation policy.
func (e *Engine) maybeCreateIncident(ctx context.Context, event *models.AlertEvent, grouping *GroupingResult, routing *RoutingResult) (string, error) {
	var rule *models.AlertRoutingRule
	if routing.FirstMatched != nil && routing.FirstMatched.CreateIncident {
		rule = routing.FirstMatched
	}
	if rule == nil {
		return "", nil
	}

	// One open incident per group: re-firing alerts in the same group
	// must not open a second incident.
	incidents, err := e.repo.Incidents(ctx, event.OrgID)
	if err != nil {
		return "", err
	}
	for _, inc := range incidents {
		if inc.GroupID == grouping.Group.ID && !inc.Closed() {
			return inc.ID, nil
		}
	}

	incident := &models.ManagedIncident{
		OrgID:    event.OrgID,
		Title:    fmt.Sprintf("%s failing from %s", event.CheckName, event.Location),
		GroupID:  grouping.Group.ID,
		CheckID:  event.CheckID,
		PolicyID: rule.EscalationPolicyID,
		Severity: event.Severity,
	}
	created, err := e.Escalation.CreateIncident(ctx, incident)
	if err != nil {
		return "", err
	}
	e.countIncident(event.OrgID)
	e.recordAudit(ctx, event.OrgID, "incident.created", "incident", created.ID, map[string]interface{}{
		"rule_id":  rule.ID,
		"group_id": grouping.Group.ID,
	})
	return created.ID, nil
}

// AcknowledgeGroup marks a group acknowledged and cancels any pending
// deferred notification for it.
func (e *Engine) AcknowledgeGroup(ctx context.Context, orgID, groupID string) (*models.AlertGroup, error) {
	return e.setGroupStatus(ctx, orgID, groupID, models.GroupStatusAcknowledged)
}

// ResolveGroup marks a group resolved
func (e *Engine) ResolveGroup(ctx context.Context, orgID, groupID string) (*models.AlertGroup, error) {
	return e.setGroupStatus(ctx, orgID, groupID, models.GroupStatusResolved)
}

func (e *Engine) setGroupStatus(ctx context.Context, orgID, groupID string, status models.GroupStatus) (*models.AlertGroup, error) {
	orgLock := e.lockOrg(orgID)
	defer orgLock.Unlock()

	group, err := e.repo.Group(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	if group.Status == models.GroupStatusResolved {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid group transition",
			"resolved groups cannot change status")
	}

	now := e.clock.Now()
	group.Status = status
	group.UpdatedAt = now
	switch status {
	case models.GroupStatusAcknowledged:
		group.AcknowledgedAt = &now
	case models.GroupStatusResolved:
		group.ResolvedAt = &now
	}

	e.scheduler.Cancel(TaskKey{EntityID: groupID, Purpose: PurposeGroupNotify})
	if err := e.repo.SaveGroup(ctx, group); err != nil {
		return nil, err
	}

	e.recordAudit(ctx, orgID, "group."+string(status), "alert_group", groupID, nil)
	return group, nil
}

// SnoozeGroup suppresses notifications for the group until the given
// time.
func (e *Engine) SnoozeGroup(ctx context.Context, orgID, groupID string, until time.Time) (*models.AlertGroup, error) {
	orgLock := e.lockOrg(orgID)
	defer orgLock.Unlock()

	group, err := e.repo.Group(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	if !until.After(e.clock.Now()) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid snooze", "snooze deadline must be in the future")
	}

	group.SnoozedUntil = &until
	group.UpdatedAt = e.clock.Now()
	if err := e.repo.SaveGroup(ctx, group); err != nil {
		return nil, err
	}

	e.recordAudit(ctx, orgID, "group.snoozed", "alert_group", groupID, map[string]interface{}{
		"until": until,
	})
	return group, nil
}

// CreateIncident opens a managed incident directly, outside alert
// routing. Level one of the policy fires before this returns.
func (e *Engine) CreateIncident(ctx context.Context, incident *models.ManagedIncident) (*models.ManagedIncident, error) {
	orgLock := e.lockOrg(incident.OrgID)
	defer orgLock.Unlock()

	created, err := e.Escalation.CreateIncident(ctx, incident)
	if err != nil {
		return nil, err
	}
	e.countIncident(incident.OrgID)
	e.recordAudit(ctx, incident.OrgID, "incident.created", "incident", created.ID, map[string]interface{}{
		"policy_id": created.PolicyID,
	})
	return created, nil
}

// AcknowledgeIncident acknowledges a managed incident, stopping its
// escalation.
func (e *Engine) AcknowledgeIncident(ctx context.Context, orgID, incidentID string) (*models.ManagedIncident, error) {
	return e.incidentTransition(ctx, orgID, incidentID, models.IncidentAcknowledged)
}

// ResolveIncident resolves a managed incident
func (e *Engine) ResolveIncident(ctx context.Context, orgID, incidentID string) (*models.ManagedIncident, error) {
	return e.incidentTransition(ctx, orgID, incidentID, models.IncidentResolved)
}

// UpdateIncidentStatus applies any forward lifecycle transition
func (e *Engine) UpdateIncidentStatus(ctx context.Context, orgID, incidentID string, status models.IncidentStatus) (*models.ManagedIncident, error) {
	return e.incidentTransition(ctx, orgID, incidentID, status)
}

func (e *Engine) incidentTransition(ctx context.Context, orgID, incidentID string, status models.IncidentStatus) (*models.ManagedIncident, error) {
	orgLock := e.lockOrg(orgID)
	defer orgLock.Unlock()

	before, err := e.repo.Incident(ctx, orgID, incidentID)
	if err != nil {
		return nil, err
	}
	wasOpen := !before.Closed()

	incident, err := e.Escalation.UpdateStatus(ctx, orgID, incidentID, status)
	if err != nil {
		return nil, err
	}
	if wasOpen && incident.Closed() && e.metrics != nil {
		e.metrics.IncidentsOpen.WithLabelValues(orgID).Dec()
	}
	e.recordAudit(ctx, orgID, "incident."+string(status), "incident", incidentID, nil)
	return incident, nil
}

// RotateSchedule advances an on-call schedule to its next member
func (e *Engine) RotateSchedule(ctx context.Context, orgID, scheduleID string) (*models.OnCallSchedule, error) {
	orgLock := e.lockOrg(orgID)
	defer orgLock.Unlock()

	schedule, err := e.Rotation.Rotate(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}
	e.recordAudit(ctx, orgID, "schedule.rotated", "on_call_schedule", scheduleID, map[string]interface{}{
		"current_index": schedule.CurrentOnCallIndex,
	})
	return schedule, nil
}

// MergeAlerts manually correlates two or more alerts
func (e *Engine) MergeAlerts(ctx context.Context, orgID string, alerts []models.CorrelatedAlert, details string) (*models.AlertCorrelation, error) {
	orgLock := e.lockOrg(orgID)
	defer orgLock.Unlock()

	correlation, err := e.Correlation.Merge(ctx, orgID, alerts, details)
	if err != nil {
		return nil, err
	}
	e.recordAudit(ctx, orgID, "correlation.merged", "correlation", correlation.ID, map[string]interface{}{
		"alert_count": len(alerts),
	})
	return correlation, nil
}

// SimulateAlert runs the grouping, rate limit, correlation and routing
// stages without persisting state or dispatching notifications.
func (e *Engine) SimulateAlert(ctx context.Context, event *models.AlertEvent) (*PipelineResult, error) {
	if event.ID == "" {
		event.ID = utils.GenerateID()
	}
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = e.clock.Now()
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	result := &PipelineResult{EventID: event.ID}

	grouping, err := e.Grouping.Process(ctx, event, true)
	if err != nil {
		return nil, err
	}
	result.Grouping = grouping

	limit, err := e.RateLimit.Check(ctx, event, true)
	if err != nil {
		return nil, err
	}
	result.RateLimit = limit

	correlation, err := e.Correlation.Process(ctx, event, true)
	if err != nil {
		return nil, err
	}
	result.Correlation = correlation

	routing, err := e.Routing.Evaluate(ctx, event)
	if err != nil {
		return nil, err
	}
	result.Routing = routing
	return result, nil
}

// Stats returns pipeline totals since start
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

func (e *Engine) recordAudit(ctx context.Context, orgID, action, kind, id string, details map[string]interface{}) {
	e.audit.Record(ctx, &audit.Entry{
		OrgID:      orgID,
		Action:     action,
		EntityKind: kind,
		EntityID:   id,
		Details:    details,
	})
}

func (e *Engine) countIngested(orgID string) {
	e.mu.Lock()
	e.stats.AlertsProcessed++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsIngested.WithLabelValues(orgID).Inc()
	}
}

func (e *Engine) countDeduped(orgID string) {
	e.mu.Lock()
	e.stats.AlertsDeduped++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsDeduplicated.WithLabelValues(orgID).Inc()
	}
}

func (e *Engine) countSuppressed(orgID, mode string) {
	e.mu.Lock()
	e.stats.AlertsSuppressed++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsSuppressed.WithLabelValues(orgID, mode).Inc()
	}
}

func (e *Engine) countCorrelated(orgID, reason string) {
	e.mu.Lock()
	e.stats.AlertsCorrelated++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsCorrelated.WithLabelValues(orgID, reason).Inc()
	}
}

func (e *Engine) countRouted(orgID string) {
	e.mu.Lock()
	e.stats.AlertsRouted++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.AlertsRouted.WithLabelValues(orgID).Inc()
	}
}

func (e *Engine) countGroupCreated(orgID string) {
	if e.metrics != nil {
		e.metrics.GroupsCreated.WithLabelValues(orgID).Inc()
	}
}

func (e *Engine) countNotification(orgID, destType string) {
	e.mu.Lock()
	e.stats.NotificationsSent++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.Notifications.WithLabelValues(orgID, destType).Inc()
	}
}

func (e *Engine) countIncident(orgID string) {
	e.mu.Lock()
	e.stats.IncidentsCreated++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IncidentsOpen.WithLabelValues(orgID).Inc()
	}
}
