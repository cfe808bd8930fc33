package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
)

type engineFixture struct {
	repo     *storage.Repository
	clock    *ManualClock
	notifier *fakeNotifier
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newTestRepo()
	clock := NewManualClock(testStart)
	notifier := newFakeNotifier()
	eng := New(repo, clock, notifier, nil, nil)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })
	return &engineFixture{repo: repo, clock: clock, notifier: notifier, engine: eng}
}

func (f *engineFixture) saveDefaultRouting(t *testing.T) *models.AlertRoutingRule {
	t.Helper()
	return saveRoutingRule(t, f.repo, &models.AlertRoutingRule{
		Name:         "catch-all",
		Priority:     1,
		Destinations: []models.Destination{slackDest("https://hooks.slack.com/services/T0/B0/x")},
	})
}

func TestProcessAlertFullPipeline(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	require.NotNil(t, res.Grouping)
	assert.True(t, res.Grouping.Created)
	require.NotNil(t, res.RateLimit)
	assert.True(t, res.RateLimit.Allowed)
	require.NotNil(t, res.Routing)
	assert.True(t, res.Routing.Matched)
	assert.False(t, res.Deferred)
	assert.Equal(t, 1, res.NotificationsEnqueued)

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, notification.PayloadAlert, deliveries[0].Payload.Kind)
	assert.Equal(t, models.DestinationSlack, deliveries[0].Dest.Type)
	assert.Equal(t, "[HIGH] api-health failing from us-east", deliveries[0].Payload.Title)

	stats := f.engine.Stats()
	assert.Equal(t, uint64(1), stats.AlertsProcessed)
	assert.Equal(t, uint64(1), stats.AlertsRouted)
	assert.Equal(t, uint64(1), stats.NotificationsSent)
}

func TestProcessAlertDuplicateStopsPipeline(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	_, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	f.notifier.reset()

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	assert.True(t, res.Grouping.Deduplicated)
	assert.Nil(t, res.RateLimit)
	assert.Nil(t, res.Routing)
	assert.Empty(t, f.notifier.deliveries())
	assert.Equal(t, uint64(1), f.engine.Stats().AlertsDeduped)
}

func TestProcessAlertSuppressedDropStopsPipeline(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)
	saveRateLimitConfig(t, f.repo, &models.AlertRateLimitConfig{
		OrgID:              "org-1",
		MaxAlertsPerMinute: 2,
		TimeWindowSeconds:  60,
		SuppressionMode:    models.SuppressionModeDrop,
	})

	// Duplicates never reach the limiter, so vary the check name.
	checks := []string{"api", "cdn", "db", "cache"}
	var last *PipelineResult
	for _, name := range checks {
		res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", name))
		require.NoError(t, err)
		last = res
	}

	assert.False(t, last.RateLimit.Allowed)
	assert.Nil(t, last.Routing)
	assert.Len(t, f.notifier.deliveries(), 2)
	assert.Equal(t, uint64(2), f.engine.Stats().AlertsSuppressed)
}

func TestProcessAlertAggregateDispatchesSummary(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)
	saveRateLimitConfig(t, f.repo, &models.AlertRateLimitConfig{
		OrgID:              "org-1",
		MaxAlertsPerMinute: 1,
		TimeWindowSeconds:  60,
		SuppressionMode:    models.SuppressionModeAggregate,
		AggregateThreshold: 2,
	})

	checks := []string{"api", "cdn", "db"}
	for _, name := range checks {
		_, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", name))
		require.NoError(t, err)
	}

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, notification.PayloadAlert, deliveries[0].Payload.Kind)
	assert.Equal(t, notification.PayloadSummary, deliveries[1].Payload.Kind)
	assert.Contains(t, deliveries[1].Payload.Message, "2 alerts were suppressed")
}

func TestProcessAlertNoRoutingMatchSkipsDispatch(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	saveRoutingRule(t, f.repo, &models.AlertRoutingRule{
		Name:     "critical-only",
		Priority: 1,
		Conditions: []models.RoutingCondition{
			{Field: models.FieldSeverity, Operator: models.OperatorEquals, Value: "critical"},
		},
		Destinations: []models.Destination{slackDest("https://hooks.slack.com/services/T0/B0/x")},
	})

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	assert.False(t, res.Routing.Matched)
	assert.Empty(t, f.notifier.deliveries())
	// The alert is still grouped.
	groups, err := f.repo.Groups(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestProcessAlertNotificationDelayDefers(t *testing.T) {
	f := newEngineFixture(t)
	rule := saveTestGroupingRule(t, f.repo, "org-1")
	rule.NotificationDelaySeconds = 120
	require.NoError(t, f.repo.SaveGroupingRule(context.Background(), rule))
	f.saveDefaultRouting(t)

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	assert.True(t, res.Deferred)
	assert.Zero(t, res.NotificationsEnqueued)
	assert.Empty(t, f.notifier.deliveries())

	f.clock.Advance(2 * time.Minute)
	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, notification.PayloadAlert, deliveries[0].Payload.Kind)
}

func TestAcknowledgeGroupCancelsDeferredNotification(t *testing.T) {
	f := newEngineFixture(t)
	rule := saveTestGroupingRule(t, f.repo, "org-1")
	rule.NotificationDelaySeconds = 120
	require.NoError(t, f.repo.SaveGroupingRule(context.Background(), rule))
	f.saveDefaultRouting(t)

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	require.True(t, res.Deferred)

	group, err := f.engine.AcknowledgeGroup(context.Background(), "org-1", res.Grouping.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusAcknowledged, group.Status)
	require.NotNil(t, group.AcknowledgedAt)

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.notifier.deliveries())
}

func TestSnoozeGroupPostponesDispatch(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	first, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	groupID := first.Grouping.Group.ID
	f.notifier.reset()

	_, err = f.engine.SnoozeGroup(context.Background(), "org-1", groupID, testStart.Add(10*time.Minute))
	require.NoError(t, err)

	// The next alert in the same group lands while snoozed. A different
	// check type keeps it from being flagged a duplicate.
	event := newTestEvent("org-1", "api-health")
	event.CheckType = models.CheckTypeTCP
	res, err := f.engine.ProcessAlert(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Empty(t, f.notifier.deliveries())

	f.clock.Advance(10 * time.Minute)
	assert.Len(t, f.notifier.deliveries(), 1)
}

func TestSnoozeGroupRejectsPastDeadline(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	_, err = f.engine.SnoozeGroup(context.Background(), "org-1", res.Grouping.Group.ID, testStart.Add(-time.Minute))
	require.Error(t, err)
}

func TestResolvedGroupIsImmutable(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	_, err = f.engine.ResolveGroup(context.Background(), "org-1", res.Grouping.Group.ID)
	require.NoError(t, err)
	_, err = f.engine.AcknowledgeGroup(context.Background(), "org-1", res.Grouping.Group.ID)
	require.Error(t, err)
}

func TestIncidentCreatedOncePerGroup(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")

	policy := &models.EscalationPolicy{
		ID:    "pol-1",
		OrgID: "org-1",
		Name:  "standard",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 0, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "oncall@example.com"},
			}},
		},
		RepeatPolicy: models.RepeatOnce,
	}
	require.NoError(t, f.repo.SaveEscalationPolicy(context.Background(), policy))

	saveRoutingRule(t, f.repo, &models.AlertRoutingRule{
		Name:               "page",
		Priority:           1,
		Destinations:       []models.Destination{slackDest("https://hooks.slack.com/services/T0/B0/x")},
		CreateIncident:     true,
		EscalationPolicyID: "pol-1",
	})

	first, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	require.NotEmpty(t, first.IncidentID)

	event := newTestEvent("org-1", "api-health")
	event.CheckType = models.CheckTypeTCP
	second, err := f.engine.ProcessAlert(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, first.IncidentID, second.IncidentID)

	incidents, err := f.repo.Incidents(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, incidents, 1)

	// Resolving the incident lets the next alert open a fresh one.
	_, err = f.engine.ResolveIncident(context.Background(), "org-1", first.IncidentID)
	require.NoError(t, err)

	event = newTestEvent("org-1", "api-health")
	event.CheckType = models.CheckTypeDNS
	third, err := f.engine.ProcessAlert(context.Background(), event)
	require.NoError(t, err)
	assert.NotEqual(t, first.IncidentID, third.IncidentID)
}

func TestProcessAlertResolvesOnCallDestination(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")

	schedule := &models.OnCallSchedule{
		ID:    "sched-1",
		OrgID: "org-1",
		Name:  "primary",
		Members: []models.OnCallMember{
			{UserID: "u-1", Name: "First", Email: "first@example.com"},
		},
		RotationType: models.RotationDaily,
	}
	require.NoError(t, f.repo.SaveSchedule(context.Background(), schedule))

	saveRoutingRule(t, f.repo, &models.AlertRoutingRule{
		Name:     "page-oncall",
		Priority: 1,
		Destinations: []models.Destination{
			{Type: models.DestinationOnCall, OnCall: &models.OnCallDestinationConfig{ScheduleID: "sched-1"}},
		},
	})

	res, err := f.engine.ProcessAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsEnqueued)

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DestinationEmail, deliveries[0].Dest.Type)
	assert.Equal(t, []string{"first@example.com"}, deliveries[0].Dest.Email.Recipients)
}

func TestSimulateAlertPersistsNothing(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)

	res, err := f.engine.SimulateAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	assert.True(t, res.Grouping.Created)
	assert.True(t, res.RateLimit.Allowed)
	assert.True(t, res.Routing.Matched)
	assert.Empty(t, f.notifier.deliveries())

	groups, err := f.repo.Groups(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSimulateAlertIncludesCorrelation(t *testing.T) {
	f := newEngineFixture(t)
	saveTestGroupingRule(t, f.repo, "org-1")
	f.saveDefaultRouting(t)
	enableCorrelation(t, f.repo, func(cfg *models.AlertCorrelationConfig) {
		cfg.CorrelateByCheck = true
	})
	seeded := seedCorrelation(t, f.repo, f.engine.Correlation)

	res, err := f.engine.SimulateAlert(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)

	require.NotNil(t, res.Correlation)
	assert.True(t, res.Correlation.Correlated)
	assert.Equal(t, seeded.ID, res.Correlation.CorrelationID)

	// Dry run: the matched correlation keeps its original alerts.
	stored, err := f.repo.Correlation(context.Background(), "org-1", seeded.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Alerts, 2)
}

func TestProcessAlertRejectsInvalidEvent(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ProcessAlert(context.Background(), &models.AlertEvent{OrgID: "org-1"})
	require.Error(t, err)
}

func TestEngineStartStop(t *testing.T) {
	repo := newTestRepo()
	eng := New(repo, NewManualClock(testStart), newFakeNotifier(), nil, nil)

	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, eng.IsRunning())
	require.Error(t, eng.Start(context.Background()))

	require.NoError(t, eng.Stop())
	assert.False(t, eng.IsRunning())
	require.NoError(t, eng.Stop())
}
