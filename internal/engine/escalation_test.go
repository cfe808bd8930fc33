package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

type escalationFixture struct {
	repo      *storage.Repository
	clock     *ManualClock
	scheduler *Scheduler
	notifier  *fakeNotifier
	rotation  *RotationManager
	manager   *EscalationManager
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()
	repo := newTestRepo()
	clock := NewManualClock(testStart)
	scheduler := NewScheduler(clock)
	notifier := newFakeNotifier()
	locks := newOrgLocks()
	rotation := NewRotationManager(repo, clock, scheduler, locks)
	return &escalationFixture{
		repo:      repo,
		clock:     clock,
		scheduler: scheduler,
		notifier:  notifier,
		rotation:  rotation,
		manager:   NewEscalationManager(repo, clock, scheduler, rotation, notifier, locks),
	}
}

func (f *escalationFixture) savePolicy(t *testing.T, policy *models.EscalationPolicy) *models.EscalationPolicy {
	t.Helper()
	if policy.ID == "" {
		policy.ID = utils.GenerateID()
	}
	policy.OrgID = "org-1"
	if policy.RepeatPolicy == "" {
		policy.RepeatPolicy = models.RepeatOnce
	}
	require.NoError(t, f.repo.SaveEscalationPolicy(context.Background(), policy))
	return policy
}

func (f *escalationFixture) createIncident(t *testing.T, policyID string) *models.ManagedIncident {
	t.Helper()
	incident, err := f.manager.CreateIncident(context.Background(), &models.ManagedIncident{
		OrgID:    "org-1",
		Title:    "api-health failing from us-east",
		PolicyID: policyID,
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)
	return incident
}

func twoLevelPolicy(t *testing.T, f *escalationFixture) *models.EscalationPolicy {
	return f.savePolicy(t, &models.EscalationPolicy{
		Name: "standard",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 0, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "oncall@example.com"},
			}},
			{Level: 2, EscalateAfterMinutes: 15, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "lead@example.com"},
			}},
		},
	})
}

func TestEscalationLevelOneFiresImmediately(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)

	incident := f.createIncident(t, policy.ID)

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, notification.PayloadEscalation, deliveries[0].Payload.Kind)
	assert.Equal(t, models.DestinationEmail, deliveries[0].Dest.Type)
	assert.Equal(t, []string{"oncall@example.com"}, deliveries[0].Dest.Email.Recipients)

	stored, err := f.repo.Incident(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentEscalationLevel)
}

func TestEscalationDelaysMeasuredFromCreation(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	incident := f.createIncident(t, policy.ID)
	f.notifier.reset()

	// Fourteen minutes in, level 2 has not fired.
	f.clock.Advance(14 * time.Minute)
	assert.Empty(t, f.notifier.deliveries())

	// At the fifteen minute mark from creation it fires.
	f.clock.Advance(time.Minute)
	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, []string{"lead@example.com"}, deliveries[0].Dest.Email.Recipients)

	stored, err := f.repo.Incident(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentEscalationLevel)
}

func TestAcknowledgeCancelsPendingEscalation(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	incident := f.createIncident(t, policy.ID)
	f.notifier.reset()

	f.clock.Advance(5 * time.Minute)
	acked, err := f.manager.Acknowledge(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAcknowledged, acked.Status)
	require.NotNil(t, acked.TimeToAcknowledgeSecs)
	assert.Equal(t, int64(300), *acked.TimeToAcknowledgeSecs)

	// Level 2's timer was cancelled with the status write.
	f.clock.Advance(time.Hour)
	assert.Empty(t, f.notifier.deliveries())
	assert.Equal(t, 0, f.scheduler.Pending())
}

func TestEscalationLevelNeverMovesDown(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	incident := f.createIncident(t, policy.ID)

	f.clock.Advance(15 * time.Minute)

	// Re-firing level 1 by hand must not lower the recorded level.
	f.manager.fireLevel("org-1", incident.ID, policy, policy.Levels[0])

	stored, err := f.repo.Incident(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentEscalationLevel)
}

func TestRepeatUntilAcknowledgedRestartsCycle(t *testing.T) {
	f := newEscalationFixture(t)
	policy := f.savePolicy(t, &models.EscalationPolicy{
		Name: "repeating",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 0, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "oncall@example.com"},
			}},
		},
		RepeatPolicy:          models.RepeatUntilAcknowledge,
		RepeatIntervalMinutes: 10,
	})
	incident := f.createIncident(t, policy.ID)
	require.Len(t, f.notifier.deliveries(), 1)

	// Two repeat intervals later the single level has fired twice more.
	f.clock.Advance(20 * time.Minute)
	assert.Len(t, f.notifier.deliveries(), 3)

	// Acknowledging stops the cycle.
	_, err := f.manager.Acknowledge(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	assert.Len(t, f.notifier.deliveries(), 3)
}

func TestRepeatOncePolicyStopsAfterLastLevel(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	f.createIncident(t, policy.ID)

	f.clock.Advance(15 * time.Minute)
	count := len(f.notifier.deliveries())

	f.clock.Advance(2 * time.Hour)
	assert.Len(t, f.notifier.deliveries(), count)
}

func TestEscalationSkipsClosedIncident(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	incident := f.createIncident(t, policy.ID)

	_, err := f.manager.Resolve(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	f.notifier.reset()

	f.manager.fireLevel("org-1", incident.ID, policy, policy.Levels[1])
	assert.Empty(t, f.notifier.deliveries())
}

func TestEscalationOnCallTargetResolvedAtFireTime(t *testing.T) {
	f := newEscalationFixture(t)
	schedule := &models.OnCallSchedule{
		ID:    "sched-1",
		OrgID: "org-1",
		Name:  "primary",
		Members: []models.OnCallMember{
			{UserID: "u-1", Name: "First", Email: "first@example.com"},
			{UserID: "u-2", Name: "Second", Email: "second@example.com"},
		},
		RotationType: models.RotationDaily,
	}
	require.NoError(t, f.repo.SaveSchedule(context.Background(), schedule))

	policy := f.savePolicy(t, &models.EscalationPolicy{
		Name: "oncall",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 0, Targets: []models.EscalationTarget{
				{Type: models.TargetOnCallSchedule, Value: "sched-1"},
			}},
			{Level: 2, EscalateAfterMinutes: 10, Targets: []models.EscalationTarget{
				{Type: models.TargetOnCallSchedule, Value: "sched-1"},
			}},
		},
	})
	f.createIncident(t, policy.ID)

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, []string{"first@example.com"}, deliveries[0].Dest.Email.Recipients)

	// Rotating between levels changes who level 2 reaches.
	_, err := f.rotation.Rotate(context.Background(), "org-1", "sched-1")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	deliveries = f.notifier.deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, []string{"second@example.com"}, deliveries[1].Dest.Email.Recipients)
}

func TestIncidentStatusTransitions(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)

	incident := f.createIncident(t, policy.ID)
	_, err := f.manager.UpdateStatus(context.Background(), "org-1", incident.ID, models.IncidentInvestigating)
	require.NoError(t, err)

	// Backwards transitions are rejected.
	_, err = f.manager.UpdateStatus(context.Background(), "org-1", incident.ID, models.IncidentAcknowledged)
	require.Error(t, err)

	// Resolved is reachable from any non-resolved state, and sticky.
	resolved, err := f.manager.Resolve(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.TimeToResolveSecs)

	_, err = f.manager.UpdateStatus(context.Background(), "org-1", incident.ID, models.IncidentMonitoring)
	require.Error(t, err)
}

func TestResolveComputesDurations(t *testing.T) {
	f := newEscalationFixture(t)
	policy := twoLevelPolicy(t, f)
	incident := f.createIncident(t, policy.ID)

	f.clock.Advance(2 * time.Minute)
	_, err := f.manager.Acknowledge(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	resolved, err := f.manager.Resolve(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)

	require.NotNil(t, resolved.TimeToAcknowledgeSecs)
	require.NotNil(t, resolved.TimeToResolveSecs)
	assert.Equal(t, int64(120), *resolved.TimeToAcknowledgeSecs)
	assert.Equal(t, int64(300), *resolved.TimeToResolveSecs)
}

func TestLevelOnePagesAtCreationDespiteDelay(t *testing.T) {
	f := newEscalationFixture(t)
	policy := f.savePolicy(t, &models.EscalationPolicy{
		Name: "slow-start",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 10, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "oncall@example.com"},
			}},
			{Level: 2, EscalateAfterMinutes: 20, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "lead@example.com"},
			}},
		},
	})
	incident := f.createIncident(t, policy.ID)

	deliveries := f.notifier.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, []string{"oncall@example.com"}, deliveries[0].Dest.Email.Recipients)

	stored, err := f.repo.Incident(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentEscalationLevel)

	// The configured level-one delay does not fire the level a second
	// time at its own deadline.
	f.clock.Advance(10 * time.Minute)
	assert.Len(t, f.notifier.deliveries(), 1)

	f.clock.Advance(10 * time.Minute)
	deliveries = f.notifier.deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, []string{"lead@example.com"}, deliveries[1].Dest.Email.Recipients)
}

// gateStore wraps a Storage and can park the next incident read until
// released, holding the reader inside the window between its load and
// its save.
type gateStore struct {
	storage.Storage
	mu      sync.Mutex
	armed   bool
	parked  chan struct{}
	release chan struct{}
}

func newGateStore() *gateStore {
	return &gateStore{
		Storage: storage.NewMemoryStorage(),
		parked:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gateStore) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gateStore) Get(ctx context.Context, orgID, kind, id string) ([]byte, error) {
	g.mu.Lock()
	hit := g.armed && kind == storage.KindIncident
	if hit {
		g.armed = false
	}
	g.mu.Unlock()
	if hit {
		close(g.parked)
		<-g.release
	}
	return g.Storage.Get(ctx, orgID, kind, id)
}

func TestLateLevelTimerCannotOvertakeAcknowledgement(t *testing.T) {
	gate := newGateStore()
	repo := storage.NewRepository(gate)
	clock := NewManualClock(testStart)
	notifier := newFakeNotifier()
	eng := New(repo, clock, notifier, nil, nil)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })

	policy := &models.EscalationPolicy{
		ID:    utils.GenerateID(),
		OrgID: "org-1",
		Name:  "standard",
		Levels: []models.EscalationLevel{
			{Level: 1, EscalateAfterMinutes: 0, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "oncall@example.com"},
			}},
			{Level: 2, EscalateAfterMinutes: 15, Targets: []models.EscalationTarget{
				{Type: models.TargetEmail, Value: "lead@example.com"},
			}},
		},
		RepeatPolicy: models.RepeatOnce,
	}
	require.NoError(t, repo.SaveEscalationPolicy(context.Background(), policy))

	incident, err := eng.CreateIncident(context.Background(), &models.ManagedIncident{
		OrgID:    "org-1",
		Title:    "api-health failing from us-east",
		PolicyID: policy.ID,
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)

	// Park the level-two timer inside its incident read. The timer
	// holds the org lock there, so the concurrent acknowledge has to
	// wait for it instead of interleaving.
	gate.arm()
	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		clock.Advance(15 * time.Minute)
	}()
	<-gate.parked

	acked := make(chan error, 1)
	go func() {
		_, err := eng.AcknowledgeIncident(context.Background(), "org-1", incident.ID)
		acked <- err
	}()

	close(gate.release)
	<-advanced
	require.NoError(t, <-acked)

	stored, err := repo.Incident(context.Background(), "org-1", incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAcknowledged, stored.Status)
	require.NotNil(t, stored.TimeToAcknowledgeSecs)
	assert.Equal(t, 2, stored.CurrentEscalationLevel)
}
