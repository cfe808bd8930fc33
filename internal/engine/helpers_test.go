package engine

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger("error", "text", "stdout", "")
	os.Exit(m.Run())
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo() *storage.Repository {
	return storage.NewRepository(storage.NewMemoryStorage())
}

func newTestEvent(orgID, checkName string) *models.AlertEvent {
	return &models.AlertEvent{
		ID:           utils.GenerateID(),
		OrgID:        orgID,
		CheckID:      "check-" + checkName,
		CheckName:    checkName,
		CheckType:    models.CheckTypeHTTP,
		Location:     "us-east",
		ErrorMessage: "connection timeout: dial tcp 10.0.0.1:443",
		Severity:     models.SeverityHigh,
		TriggeredAt:  testStart,
	}
}

func saveTestGroupingRule(t *testing.T, repo *storage.Repository, orgID string) *models.AlertGroupingRule {
	t.Helper()
	rule := &models.AlertGroupingRule{
		ID:                   utils.GenerateID(),
		OrgID:                orgID,
		Name:                 "default",
		Priority:             1,
		GroupBy:              []models.GroupingCriterion{models.GroupByCheckName},
		TimeWindowMinutes:    5,
		DeduplicationEnabled: true,
		MaxAlertsPerGroup:    10,
		IsActive:             true,
	}
	require.NoError(t, repo.SaveGroupingRule(context.Background(), rule))
	return rule
}

// fakeNotifier records enqueued notifications for assertions
type fakeNotifier struct {
	mu       sync.Mutex
	running  bool
	enqueued []fakeDelivery
}

type fakeDelivery struct {
	Dest    models.Destination
	Payload *notification.Payload
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{}
}

func (f *fakeNotifier) Start(ctx context.Context) error {
	f.running = true
	return nil
}

func (f *fakeNotifier) Stop() error {
	f.running = false
	return nil
}

func (f *fakeNotifier) IsHealthy() bool { return f.running }

func (f *fakeNotifier) Enqueue(dest models.Destination, payload *notification.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, fakeDelivery{Dest: dest, Payload: payload})
	return true
}

func (f *fakeNotifier) Send(ctx context.Context, dest models.Destination, payload *notification.Payload) error {
	f.Enqueue(dest, payload)
	return nil
}

func (f *fakeNotifier) GetStats() *notification.DispatchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &notification.DispatchStats{
		TotalDispatched: uint64(len(f.enqueued)),
		ByType:          make(map[string]uint64),
	}
}

func (f *fakeNotifier) deliveries() []fakeDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeDelivery, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = nil
}
