package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// GroupingEngine collapses a burst of matching alerts into one group,
// flagging true duplicates for downstream suppression.
type GroupingEngine struct {
	repo   *storage.Repository
	clock  Clock
	logger *logrus.Entry
}

// GroupingResult contains the result of grouping one alert
type GroupingResult struct {
	Group        *models.AlertGroup        `json:"group"`
	Rule         *models.AlertGroupingRule `json:"rule"`
	Created      bool                      `json:"created"`
	Deduplicated bool                      `json:"deduplicated"`
}

// NewGroupingEngine creates a new grouping engine
func NewGroupingEngine(repo *storage.Repository, clock Clock) *GroupingEngine {
	return &GroupingEngine{
		repo:   repo,
		clock:  clock,
		logger: utils.ComponentLogger("grouping"),
	}
}

// Process attaches an alert to an existing group or creates a new one.
// Only the single highest-priority active rule is applied. With dryRun
// set nothing is persisted.
func (ge *GroupingEngine) Process(ctx context.Context, event *models.AlertEvent, dryRun bool) (*GroupingResult, error) {
	rule, err := ge.activeRule(ctx, event.OrgID)
	if err != nil {
		return nil, err
	}

	now := ge.clock.Now()
	key := BuildGroupKey(rule.GroupBy, event)

	group, err := ge.findOpenGroup(ctx, event.OrgID, rule, key, now)
	if err != nil {
		return nil, err
	}

	result := &GroupingResult{Rule: rule}

	if group == nil {
		group = ge.newGroup(rule, key, event, now)
		result.Created = true
	} else {
		duplicate := false
		if rule.DeduplicationEnabled {
			identity := event.DedupIdentity()
			for i := range group.Alerts {
				if group.Alerts[i].CheckName+"-"+string(group.Alerts[i].CheckType) == identity {
					duplicate = true
					break
				}
			}
		}
		// Deduplicated alerts are still appended so the group's history
		// stays complete for audit.
		group.Alerts = append(group.Alerts, newGroupedAlert(event, duplicate, now))
		group.LastAlertAt = event.TriggeredAt
		group.UpdatedAt = now
		result.Deduplicated = duplicate
	}

	result.Group = group

	if !dryRun {
		if err := ge.repo.SaveGroup(ctx, group); err != nil {
			return nil, err
		}
	}

	ge.logger.WithFields(logrus.Fields{
		"org_id":       event.OrgID,
		"group_id":     group.ID,
		"group_key":    key,
		"created":      result.Created,
		"deduplicated": result.Deduplicated,
		"alerts":       len(group.Alerts),
	}).Debug("Alert grouped")

	return result, nil
}

// activeRule returns the highest-priority active grouping rule for an
// organization. Zero active rules is a configuration error: the caller
// decides whether to fall back to individual notification.
func (ge *GroupingEngine) activeRule(ctx context.Context, orgID string) (*models.AlertGroupingRule, error) {
	rules, err := ge.repo.GroupingRules(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var active []*models.AlertGroupingRule
	for _, rule := range rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	if len(active) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"No grouping rules configured", "organization "+orgID+" has no active grouping rules")
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
	return active[0], nil
}

// findOpenGroup locates an active group owned by the rule with the same
// key, still inside its time window and below its size limit.
func (ge *GroupingEngine) findOpenGroup(ctx context.Context, orgID string, rule *models.AlertGroupingRule, key string, now time.Time) (*models.AlertGroup, error) {
	groups, err := ge.repo.Groups(ctx, orgID)
	if err != nil {
		return nil, err
	}

	window := time.Duration(rule.TimeWindowMinutes) * time.Minute
	for _, group := range groups {
		if group.RuleID != rule.ID || group.GroupKey != key {
			continue
		}
		if group.Status != models.GroupStatusActive {
			continue
		}
		if now.Sub(group.FirstAlertAt) > window {
			continue
		}
		if len(group.Alerts) >= rule.MaxAlertsPerGroup {
			continue
		}
		return group, nil
	}
	return nil, nil
}

func (ge *GroupingEngine) newGroup(rule *models.AlertGroupingRule, key string, event *models.AlertEvent, now time.Time) *models.AlertGroup {
	group := &models.AlertGroup{
		ID:           utils.GenerateID(),
		OrgID:        event.OrgID,
		RuleID:       rule.ID,
		GroupKey:     key,
		Status:       models.GroupStatusActive,
		Alerts:       []models.GroupedAlert{newGroupedAlert(event, false, now)},
		FirstAlertAt: event.TriggeredAt,
		LastAlertAt:  event.TriggeredAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rule.NotificationDelaySeconds > 0 {
		notifyAt := now.Add(time.Duration(rule.NotificationDelaySeconds) * time.Second)
		group.NotifyAt = &notifyAt
	}
	return group
}

func newGroupedAlert(event *models.AlertEvent, deduplicated bool, now time.Time) models.GroupedAlert {
	return models.GroupedAlert{
		ID:           event.ID,
		CheckID:      event.CheckID,
		CheckName:    event.CheckName,
		CheckType:    event.CheckType,
		Location:     event.Location,
		ErrorMessage: event.ErrorMessage,
		Tags:         event.Tags,
		Severity:     event.Severity,
		TriggeredAt:  event.TriggeredAt,
		Deduplicated: deduplicated,
		AddedAt:      now,
	}
}

// BuildGroupKey concatenates one value per criterion, in the rule's
// configured order, joined with "|".
func BuildGroupKey(criteria []models.GroupingCriterion, event *models.AlertEvent) string {
	parts := make([]string, 0, len(criteria))
	for _, criterion := range criteria {
		switch criterion {
		case models.GroupByCheckName:
			parts = append(parts, event.CheckName)
		case models.GroupByCheckType:
			parts = append(parts, string(event.CheckType))
		case models.GroupByLocation:
			if event.Location != "" {
				parts = append(parts, event.Location)
			} else {
				parts = append(parts, "unknown")
			}
		case models.GroupByErrorType:
			parts = append(parts, ErrorType(event.ErrorMessage))
		case models.GroupByTag:
			tags := make([]string, len(event.Tags))
			copy(tags, event.Tags)
			sort.Strings(tags)
			parts = append(parts, strings.Join(tags, ","))
		}
	}
	return strings.Join(parts, "|")
}

// ErrorType extracts the classification prefix of an error message:
// the text before the first ":", or "unknown" when the message is
// empty.
func ErrorType(message string) string {
	if message == "" {
		return "unknown"
	}
	if idx := strings.Index(message, ":"); idx >= 0 {
		return strings.TrimSpace(message[:idx])
	}
	return strings.TrimSpace(message)
}
