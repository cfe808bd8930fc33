package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// RoutingEngine evaluates ordered condition/destination rules to decide
// which channels receive an alert. Routing is not first-match-wins:
// every matched rule's destinations are unioned into the notify list.
type RoutingEngine struct {
	repo   *storage.Repository
	clock  Clock
	logger *logrus.Entry
}

// RoutingResult contains the evaluated fan-out for one alert
type RoutingResult struct {
	Matched        bool                     `json:"matched"`
	MatchedRuleIDs []string                 `json:"matched_rule_ids"`
	FirstMatched   *models.AlertRoutingRule `json:"first_matched,omitempty"`
	Destinations   []models.Destination     `json:"destinations"`
}

// NewRoutingEngine creates a new routing engine
func NewRoutingEngine(repo *storage.Repository, clock Clock) *RoutingEngine {
	return &RoutingEngine{
		repo:   repo,
		clock:  clock,
		logger: utils.ComponentLogger("routing"),
	}
}

// Evaluate iterates enabled rules ordered by ascending priority and
// unions the destinations of every rule that matches. A routing-log
// entry records the first matched rule; simulate calls write the log
// too so test evaluations stay auditable.
func (re *RoutingEngine) Evaluate(ctx context.Context, event *models.AlertEvent) (*RoutingResult, error) {
	rules, err := re.repo.RoutingRules(ctx, event.OrgID)
	if err != nil {
		return nil, err
	}

	enabled := make([]*models.AlertRoutingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	result := &RoutingResult{}
	seen := make(map[string]struct{})

	for _, rule := range enabled {
		if !re.ruleMatches(rule, event) {
			continue
		}
		result.Matched = true
		result.MatchedRuleIDs = append(result.MatchedRuleIDs, rule.ID)
		if result.FirstMatched == nil {
			result.FirstMatched = rule
		}
		for i := range rule.Destinations {
			dest := rule.Destinations[i]
			if _, ok := seen[dest.Key()]; ok {
				continue
			}
			seen[dest.Key()] = struct{}{}
			result.Destinations = append(result.Destinations, dest)
		}
	}

	if result.Matched {
		destTypes := make([]string, 0, len(result.Destinations))
		for i := range result.Destinations {
			destTypes = append(destTypes, string(result.Destinations[i].Type))
		}
		log := &models.RoutingLog{
			ID:               utils.GenerateID(),
			OrgID:            event.OrgID,
			AlertID:          event.ID,
			CheckName:        event.CheckName,
			MatchedRuleID:    result.FirstMatched.ID,
			MatchedRuleName:  result.FirstMatched.Name,
			DestinationTypes: destTypes,
			CreatedAt:        re.clock.Now(),
		}
		if err := re.repo.SaveRoutingLog(ctx, log); err != nil {
			// Routing logs are audit data; losing one must not block
			// the notification fan-out.
			re.logger.WithError(err).Warn("Failed to save routing log")
		}
	}

	re.logger.WithFields(logrus.Fields{
		"org_id":       event.OrgID,
		"check_name":   event.CheckName,
		"matched":      len(result.MatchedRuleIDs),
		"destinations": len(result.Destinations),
	}).Debug("Alert routed")

	return result, nil
}

// ruleMatches combines per-rule conditions via condition_match
func (re *RoutingEngine) ruleMatches(rule *models.AlertRoutingRule, event *models.AlertEvent) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	for i := range rule.Conditions {
		matched := re.conditionMatches(&rule.Conditions[i], event)
		if rule.ConditionMatch == models.ConditionMatchAny && matched {
			return true
		}
		if rule.ConditionMatch != models.ConditionMatchAny && !matched {
			return false
		}
	}
	return rule.ConditionMatch != models.ConditionMatchAny
}

func (re *RoutingEngine) conditionMatches(cond *models.RoutingCondition, event *models.AlertEvent) bool {
	if cond.Field == models.FieldTags {
		return tagsMatch(cond, event.Tags)
	}

	value := fieldValue(cond.Field, event)
	switch cond.Operator {
	case models.OperatorEquals:
		return strings.EqualFold(value, cond.Value)
	case models.OperatorNotEquals:
		return !strings.EqualFold(value, cond.Value)
	case models.OperatorContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(cond.Value))
	case models.OperatorIn:
		return containsFold(cond.Values, value)
	case models.OperatorNotIn:
		return !containsFold(cond.Values, value)
	}
	return false
}

// tagsMatch applies array-field semantics: a condition over tags is
// true when some tag satisfies it (none, for the negated operators).
func tagsMatch(cond *models.RoutingCondition, tags []string) bool {
	switch cond.Operator {
	case models.OperatorEquals:
		return containsFold(tags, cond.Value)
	case models.OperatorNotEquals:
		return !containsFold(tags, cond.Value)
	case models.OperatorContains:
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), strings.ToLower(cond.Value)) {
				return true
			}
		}
		return false
	case models.OperatorIn:
		for _, tag := range tags {
			if containsFold(cond.Values, tag) {
				return true
			}
		}
		return false
	case models.OperatorNotIn:
		for _, tag := range tags {
			if containsFold(cond.Values, tag) {
				return false
			}
		}
		return true
	}
	return false
}

func fieldValue(field string, event *models.AlertEvent) string {
	switch field {
	case models.FieldCheckID:
		return event.CheckID
	case models.FieldCheckName:
		return event.CheckName
	case models.FieldCheckType:
		return string(event.CheckType)
	case models.FieldLocation:
		return event.Location
	case models.FieldSeverity:
		return string(event.Severity)
	case models.FieldErrorMessage:
		return event.ErrorMessage
	}
	return ""
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
