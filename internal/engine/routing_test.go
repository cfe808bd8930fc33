package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

func slackDest(url string) models.Destination {
	return models.Destination{Type: models.DestinationSlack, Slack: &models.SlackConfig{WebhookURL: url}}
}

func saveRoutingRule(t *testing.T, repo *storage.Repository, rule *models.AlertRoutingRule) *models.AlertRoutingRule {
	t.Helper()
	if rule.ID == "" {
		rule.ID = utils.GenerateID()
	}
	if rule.ConditionMatch == "" {
		rule.ConditionMatch = models.ConditionMatchAll
	}
	rule.OrgID = "org-1"
	rule.Enabled = true
	require.NoError(t, repo.SaveRoutingRule(context.Background(), rule))
	return rule
}

func TestRoutingAllMatchingRulesUnion(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))

	first := saveRoutingRule(t, repo, &models.AlertRoutingRule{
		Name:     "critical-pager",
		Priority: 1,
		Conditions: []models.RoutingCondition{
			{Field: models.FieldSeverity, Operator: models.OperatorEquals, Value: "high"},
		},
		Destinations: []models.Destination{
			slackDest("https://hooks.slack.com/a"),
			{Type: models.DestinationLog},
		},
	})
	saveRoutingRule(t, repo, &models.AlertRoutingRule{
		Name:     "everything-to-slack",
		Priority: 2,
		Destinations: []models.Destination{
			// Same webhook as the first rule: the union must not
			// notify it twice.
			slackDest("https://hooks.slack.com/a"),
			slackDest("https://hooks.slack.com/b"),
		},
	})

	res, err := re.Evaluate(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Len(t, res.MatchedRuleIDs, 2)
	assert.Len(t, res.Destinations, 3)
	assert.Equal(t, first.ID, res.FirstMatched.ID)

	// The routing log records the first matched rule only.
	logs, err := repo.RoutingLogs(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, first.ID, logs[0].MatchedRuleID)
	assert.Equal(t, "critical-pager", logs[0].MatchedRuleName)
}

func TestRoutingDisabledRuleSkipped(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))

	rule := saveRoutingRule(t, repo, &models.AlertRoutingRule{
		Name:         "disabled",
		Priority:     1,
		Destinations: []models.Destination{{Type: models.DestinationLog}},
	})
	rule.Enabled = false
	require.NoError(t, repo.SaveRoutingRule(context.Background(), rule))

	res, err := re.Evaluate(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Destinations)
}

func TestRoutingConditionOperators(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))
	event := newTestEvent("org-1", "api-health")
	event.Tags = []string{"prod", "edge"}

	tests := []struct {
		name  string
		cond  models.RoutingCondition
		match bool
	}{
		{"equals", models.RoutingCondition{Field: models.FieldCheckName, Operator: models.OperatorEquals, Value: "api-health"}, true},
		{"equals case-insensitive", models.RoutingCondition{Field: models.FieldCheckName, Operator: models.OperatorEquals, Value: "API-Health"}, true},
		{"not_equals", models.RoutingCondition{Field: models.FieldLocation, Operator: models.OperatorNotEquals, Value: "eu-west"}, true},
		{"contains", models.RoutingCondition{Field: models.FieldErrorMessage, Operator: models.OperatorContains, Value: "timeout"}, true},
		{"in", models.RoutingCondition{Field: models.FieldSeverity, Operator: models.OperatorIn, Values: []string{"high", "critical"}}, true},
		{"not_in", models.RoutingCondition{Field: models.FieldCheckType, Operator: models.OperatorNotIn, Values: []string{"dns", "tcp"}}, true},
		{"tags some-match", models.RoutingCondition{Field: models.FieldTags, Operator: models.OperatorEquals, Value: "prod"}, true},
		{"tags none-match", models.RoutingCondition{Field: models.FieldTags, Operator: models.OperatorNotIn, Values: []string{"staging"}}, true},
		{"tags negated hit", models.RoutingCondition{Field: models.FieldTags, Operator: models.OperatorNotIn, Values: []string{"prod"}}, false},
		{"equals miss", models.RoutingCondition{Field: models.FieldCheckName, Operator: models.OperatorEquals, Value: "other"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, re.conditionMatches(&tc.cond, event))
		})
	}
}

func TestRoutingAnyVsAll(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))
	event := newTestEvent("org-1", "api-health")

	conditions := []models.RoutingCondition{
		{Field: models.FieldCheckName, Operator: models.OperatorEquals, Value: "api-health"},
		{Field: models.FieldLocation, Operator: models.OperatorEquals, Value: "eu-west"},
	}

	all := &models.AlertRoutingRule{ConditionMatch: models.ConditionMatchAll, Conditions: conditions}
	assert.False(t, re.ruleMatches(all, event))

	any := &models.AlertRoutingRule{ConditionMatch: models.ConditionMatchAny, Conditions: conditions}
	assert.True(t, re.ruleMatches(any, event))
}

func TestRoutingEmptyConditionsMatchEverything(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))

	rule := &models.AlertRoutingRule{ConditionMatch: models.ConditionMatchAll}
	assert.True(t, re.ruleMatches(rule, newTestEvent("org-1", "api-health")))
}

func TestRoutingNoMatchWritesNoLog(t *testing.T) {
	repo := newTestRepo()
	re := NewRoutingEngine(repo, NewManualClock(testStart))

	saveRoutingRule(t, repo, &models.AlertRoutingRule{
		Name:     "eu-only",
		Priority: 1,
		Conditions: []models.RoutingCondition{
			{Field: models.FieldLocation, Operator: models.OperatorEquals, Value: "eu-west"},
		},
		Destinations: []models.Destination{{Type: models.DestinationLog}},
	})

	res, err := re.Evaluate(context.Background(), newTestEvent("org-1", "api-health"))
	require.NoError(t, err)
	assert.False(t, res.Matched)

	logs, err := repo.RoutingLogs(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
