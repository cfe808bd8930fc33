package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an entity does not exist
var ErrNotFound = errors.New("entity not found")

// Entity kinds persisted by the engine. Every lookup is scoped by
// organization id; there is no cross-tenant visibility.
const (
	KindGroupingRule      = "grouping_rule"
	KindAlertGroup        = "alert_group"
	KindRateLimitConfig   = "rate_limit_config"
	KindRateLimitState    = "rate_limit_state"
	KindCorrelationConfig = "correlation_config"
	KindCorrelation       = "correlation"
	KindRoutingRule       = "routing_rule"
	KindRoutingLog        = "routing_log"
	KindEscalationPolicy  = "escalation_policy"
	KindOnCallSchedule    = "on_call_schedule"
	KindIncident          = "incident"
	KindAuditEntry        = "audit_entry"
)

// Storage defines the persistence interface for pipeline entities.
// Values are opaque JSON documents keyed by (org, kind, id); the engine
// does not care whether the backend is in-memory or durable.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Entity operations
	Put(ctx context.Context, orgID, kind, id string, data []byte) error
	Get(ctx context.Context, orgID, kind, id string) ([]byte, error)
	List(ctx context.Context, orgID, kind string) ([][]byte, error)
	Delete(ctx context.Context, orgID, kind, id string) error

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)
	GetHealth() *StorageHealth

	// Maintenance operations
	Cleanup(ctx context.Context, kind string, olderThan time.Time) (int, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEntities  int64            `json:"total_entities"`
	EntitiesByKind map[string]int64 `json:"entities_by_kind"`
	Organizations  int64            `json:"organizations"`
	OldestEntity   *time.Time       `json:"oldest_entity,omitempty"`
	LatestEntity   *time.Time       `json:"latest_entity,omitempty"`
}

// StorageHealth provides storage health information
type StorageHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"` // sqlite, postgres, memory
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}
