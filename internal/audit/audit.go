package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Entry is one recorded pipeline or admin action
type Entry struct {
	ID         string                 `json:"id"`
	OrgID      string                 `json:"org_id"`
	Action     string                 `json:"action"`
	EntityKind string                 `json:"entity_kind,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder captures audit entries. Recording is best effort: failures
// are logged and never surface to the caller.
type Recorder interface {
	Record(ctx context.Context, entry *Entry)
	Entries(ctx context.Context, orgID string) ([]*Entry, error)
}

// StoreRecorder persists entries through the storage layer
type StoreRecorder struct {
	store  storage.Storage
	logger *logrus.Entry
}

// NewStoreRecorder creates a store-backed recorder
func NewStoreRecorder(store storage.Storage) *StoreRecorder {
	return &StoreRecorder{
		store:  store,
		logger: utils.ComponentLogger("audit"),
	}
}

// Record writes one entry. Audit data must never block or fail the
// operation being audited.
func (sr *StoreRecorder) Record(ctx context.Context, entry *Entry) {
	if entry.ID == "" {
		entry.ID = utils.GenerateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err == nil {
		err = sr.store.Put(ctx, entry.OrgID, storage.KindAuditEntry, entry.ID, data)
	}
	if err != nil {
		sr.logger.WithError(err).WithFields(logrus.Fields{
			"org_id": entry.OrgID,
			"action": entry.Action,
		}).Warn("Failed to record audit entry")
	}
}

// Entries returns the recorded entries for an organization
func (sr *StoreRecorder) Entries(ctx context.Context, orgID string) ([]*Entry, error) {
	raw, err := sr.store.List(ctx, orgID, storage.KindAuditEntry)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(raw))
	for _, data := range raw {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// NopRecorder discards everything; used when auditing is disabled
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, entry *Entry) {}

func (NopRecorder) Entries(ctx context.Context, orgID string) ([]*Entry, error) {
	return nil, nil
}
