package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Repository provides typed access to pipeline entities on top of the
// raw document store.
type Repository struct {
	store Storage
}

// NewRepository creates a repository over a storage backend
func NewRepository(store Storage) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying storage backend
func (r *Repository) Store() Storage {
	return r.store
}

func (r *Repository) put(ctx context.Context, orgID, kind, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal entity", err.Error())
	}
	return r.store.Put(ctx, orgID, kind, id, data)
}

func (r *Repository) get(ctx context.Context, orgID, kind, id string, out interface{}) error {
	data, err := r.store.Get(ctx, orgID, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return utils.NewAppError(utils.ErrCodeNotFound,
				fmt.Sprintf("%s not found", kind), id)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal entity", err.Error())
	}
	return nil
}

// Grouping rules

func (r *Repository) SaveGroupingRule(ctx context.Context, rule *models.AlertGroupingRule) error {
	return r.put(ctx, rule.OrgID, KindGroupingRule, rule.ID, rule)
}

func (r *Repository) GroupingRule(ctx context.Context, orgID, id string) (*models.AlertGroupingRule, error) {
	var rule models.AlertGroupingRule
	if err := r.get(ctx, orgID, KindGroupingRule, id, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Repository) GroupingRules(ctx context.Context, orgID string) ([]*models.AlertGroupingRule, error) {
	docs, err := r.store.List(ctx, orgID, KindGroupingRule)
	if err != nil {
		return nil, err
	}
	rules := make([]*models.AlertGroupingRule, 0, len(docs))
	for _, doc := range docs {
		var rule models.AlertGroupingRule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal grouping rule", err.Error())
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (r *Repository) DeleteGroupingRule(ctx context.Context, orgID, id string) error {
	return r.store.Delete(ctx, orgID, KindGroupingRule, id)
}

// Alert groups

func (r *Repository) SaveGroup(ctx context.Context, group *models.AlertGroup) error {
	return r.put(ctx, group.OrgID, KindAlertGroup, group.ID, group)
}

func (r *Repository) Group(ctx context.Context, orgID, id string) (*models.AlertGroup, error) {
	var group models.AlertGroup
	if err := r.get(ctx, orgID, KindAlertGroup, id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *Repository) Groups(ctx context.Context, orgID string) ([]*models.AlertGroup, error) {
	docs, err := r.store.List(ctx, orgID, KindAlertGroup)
	if err != nil {
		return nil, err
	}
	groups := make([]*models.AlertGroup, 0, len(docs))
	for _, doc := range docs {
		var group models.AlertGroup
		if err := json.Unmarshal(doc, &group); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal alert group", err.Error())
		}
		groups = append(groups, &group)
	}
	return groups, nil
}

// Rate limiting

func (r *Repository) SaveRateLimitConfig(ctx context.Context, cfg *models.AlertRateLimitConfig) error {
	return r.put(ctx, cfg.OrgID, KindRateLimitConfig, "config", cfg)
}

func (r *Repository) RateLimitConfig(ctx context.Context, orgID string) (*models.AlertRateLimitConfig, error) {
	var cfg models.AlertRateLimitConfig
	if err := r.get(ctx, orgID, KindRateLimitConfig, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Repository) SaveRateLimitState(ctx context.Context, state *models.AlertRateLimitState) error {
	return r.put(ctx, state.OrgID, KindRateLimitState, "state", state)
}

func (r *Repository) RateLimitState(ctx context.Context, orgID string) (*models.AlertRateLimitState, error) {
	var state models.AlertRateLimitState
	if err := r.get(ctx, orgID, KindRateLimitState, "state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Correlation

func (r *Repository) SaveCorrelationConfig(ctx context.Context, cfg *models.AlertCorrelationConfig) error {
	return r.put(ctx, cfg.OrgID, KindCorrelationConfig, "config", cfg)
}

func (r *Repository) CorrelationConfig(ctx context.Context, orgID string) (*models.AlertCorrelationConfig, error) {
	var cfg models.AlertCorrelationConfig
	if err := r.get(ctx, orgID, KindCorrelationConfig, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Repository) SaveCorrelation(ctx context.Context, c *models.AlertCorrelation) error {
	return r.put(ctx, c.OrgID, KindCorrelation, c.ID, c)
}

func (r *Repository) Correlation(ctx context.Context, orgID, id string) (*models.AlertCorrelation, error) {
	var c models.AlertCorrelation
	if err := r.get(ctx, orgID, KindCorrelation, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) Correlations(ctx context.Context, orgID string) ([]*models.AlertCorrelation, error) {
	docs, err := r.store.List(ctx, orgID, KindCorrelation)
	if err != nil {
		return nil, err
	}
	correlations := make([]*models.AlertCorrelation, 0, len(docs))
	for _, doc := range docs {
		var c models.AlertCorrelation
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal correlation", err.Error())
		}
		correlations = append(correlations, &c)
	}
	return correlations, nil
}

// Routing

func (r *Repository) SaveRoutingRule(ctx context.Context, rule *models.AlertRoutingRule) error {
	return r.put(ctx, rule.OrgID, KindRoutingRule, rule.ID, rule)
}

func (r *Repository) RoutingRule(ctx context.Context, orgID, id string) (*models.AlertRoutingRule, error) {
	var rule models.AlertRoutingRule
	if err := r.get(ctx, orgID, KindRoutingRule, id, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Repository) RoutingRules(ctx context.Context, orgID string) ([]*models.AlertRoutingRule, error) {
	docs, err := r.store.List(ctx, orgID, KindRoutingRule)
	if err != nil {
		return nil, err
	}
	rules := make([]*models.AlertRoutingRule, 0, len(docs))
	for _, doc := range docs {
		var rule models.AlertRoutingRule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal routing rule", err.Error())
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (r *Repository) DeleteRoutingRule(ctx context.Context, orgID, id string) error {
	return r.store.Delete(ctx, orgID, KindRoutingRule, id)
}

func (r *Repository) SaveRoutingLog(ctx context.Context, log *models.RoutingLog) error {
	return r.put(ctx, log.OrgID, KindRoutingLog, log.ID, log)
}

func (r *Repository) RoutingLogs(ctx context.Context, orgID string) ([]*models.RoutingLog, error) {
	docs, err := r.store.List(ctx, orgID, KindRoutingLog)
	if err != nil {
		return nil, err
	}
	logs := make([]*models.RoutingLog, 0, len(docs))
	for _, doc := range docs {
		var log models.RoutingLog
		if err := json.Unmarshal(doc, &log); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal routing log", err.Error())
		}
		logs = append(logs, &log)
	}
	return logs, nil
}

// Escalation policies

func (r *Repository) SaveEscalationPolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	return r.put(ctx, policy.OrgID, KindEscalationPolicy, policy.ID, policy)
}

func (r *Repository) EscalationPolicy(ctx context.Context, orgID, id string) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	if err := r.get(ctx, orgID, KindEscalationPolicy, id, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *Repository) EscalationPolicies(ctx context.Context, orgID string) ([]*models.EscalationPolicy, error) {
	docs, err := r.store.List(ctx, orgID, KindEscalationPolicy)
	if err != nil {
		return nil, err
	}
	policies := make([]*models.EscalationPolicy, 0, len(docs))
	for _, doc := range docs {
		var policy models.EscalationPolicy
		if err := json.Unmarshal(doc, &policy); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal escalation policy", err.Error())
		}
		policies = append(policies, &policy)
	}
	return policies, nil
}

func (r *Repository) DeleteEscalationPolicy(ctx context.Context, orgID, id string) error {
	return r.store.Delete(ctx, orgID, KindEscalationPolicy, id)
}

// On-call schedules

func (r *Repository) SaveSchedule(ctx context.Context, schedule *models.OnCallSchedule) error {
	return r.put(ctx, schedule.OrgID, KindOnCallSchedule, schedule.ID, schedule)
}

func (r *Repository) Schedule(ctx context.Context, orgID, id string) (*models.OnCallSchedule, error) {
	var schedule models.OnCallSchedule
	if err := r.get(ctx, orgID, KindOnCallSchedule, id, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *Repository) Schedules(ctx context.Context, orgID string) ([]*models.OnCallSchedule, error) {
	docs, err := r.store.List(ctx, orgID, KindOnCallSchedule)
	if err != nil {
		return nil, err
	}
	schedules := make([]*models.OnCallSchedule, 0, len(docs))
	for _, doc := range docs {
		var schedule models.OnCallSchedule
		if err := json.Unmarshal(doc, &schedule); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal schedule", err.Error())
		}
		schedules = append(schedules, &schedule)
	}
	return schedules, nil
}

func (r *Repository) DeleteSchedule(ctx context.Context, orgID, id string) error {
	return r.store.Delete(ctx, orgID, KindOnCallSchedule, id)
}

// Incidents

func (r *Repository) SaveIncident(ctx context.Context, incident *models.ManagedIncident) error {
	return r.put(ctx, incident.OrgID, KindIncident, incident.ID, incident)
}

func (r *Repository) Incident(ctx context.Context, orgID, id string) (*models.ManagedIncident, error) {
	var incident models.ManagedIncident
	if err := r.get(ctx, orgID, KindIncident, id, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

func (r *Repository) Incidents(ctx context.Context, orgID string) ([]*models.ManagedIncident, error) {
	docs, err := r.store.List(ctx, orgID, KindIncident)
	if err != nil {
		return nil, err
	}
	incidents := make([]*models.ManagedIncident, 0, len(docs))
	for _, doc := range docs {
		var incident models.ManagedIncident
		if err := json.Unmarshal(doc, &incident); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to unmarshal incident", err.Error())
		}
		incidents = append(incidents, &incident)
	}
	return incidents, nil
}
