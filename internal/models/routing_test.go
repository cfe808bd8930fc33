package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationValidate(t *testing.T) {
	tests := []struct {
		name    string
		dest    Destination
		wantErr bool
	}{
		{"slack ok", Destination{Type: DestinationSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/x"}}, false},
		{"slack missing config", Destination{Type: DestinationSlack}, true},
		{"slack empty url", Destination{Type: DestinationSlack, Slack: &SlackConfig{}}, true},
		{"email ok", Destination{Type: DestinationEmail, Email: &EmailDestinationConfig{Recipients: []string{"a@example.com"}}}, false},
		{"email no recipients", Destination{Type: DestinationEmail, Email: &EmailDestinationConfig{}}, true},
		{"pagerduty ok", Destination{Type: DestinationPagerDuty, PagerDuty: &PagerDutyConfig{RoutingKey: "rk"}}, false},
		{"pagerduty wrong payload", Destination{Type: DestinationPagerDuty, Slack: &SlackConfig{WebhookURL: "u"}}, true},
		{"on_call ok", Destination{Type: DestinationOnCall, OnCall: &OnCallDestinationConfig{ScheduleID: "s-1"}}, false},
		{"telegram missing chat", Destination{Type: DestinationTelegram, Telegram: &TelegramConfig{BotToken: "tok"}}, true},
		{"log needs no payload", Destination{Type: DestinationLog}, false},
		{"unknown type", Destination{Type: "pager"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dest.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDestinationKeyDistinguishesTargets(t *testing.T) {
	a := Destination{Type: DestinationSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/a"}}
	b := Destination{Type: DestinationSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/b"}}
	same := Destination{Type: DestinationSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/a", Channel: "#alerts"}}

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), same.Key())
}

func TestRoutingConditionValidate(t *testing.T) {
	valid := RoutingCondition{Field: FieldSeverity, Operator: OperatorEquals, Value: "high"}
	require.NoError(t, valid.Validate())

	badField := RoutingCondition{Field: "severity_level", Operator: OperatorEquals, Value: "high"}
	assert.Error(t, badField.Validate())

	inWithoutValues := RoutingCondition{Field: FieldSeverity, Operator: OperatorIn}
	assert.Error(t, inWithoutValues.Validate())

	badOperator := RoutingCondition{Field: FieldSeverity, Operator: "matches"}
	assert.Error(t, badOperator.Validate())
}

func TestRoutingRuleValidate(t *testing.T) {
	rule := &AlertRoutingRule{
		OrgID:          "org-1",
		Name:           "page",
		ConditionMatch: ConditionMatchAll,
		Conditions: []RoutingCondition{
			{Field: FieldSeverity, Operator: OperatorEquals, Value: "critical"},
		},
		Destinations: []Destination{
			{Type: DestinationSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/x"}},
		},
	}
	require.NoError(t, rule.Validate())

	rule.ConditionMatch = "some"
	assert.Error(t, rule.Validate())
}
