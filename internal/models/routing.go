package models

import (
	"fmt"
	"time"

	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// ConditionOperator is the comparison applied by a routing condition
type ConditionOperator string

const (
	OperatorEquals    ConditionOperator = "equals"
	OperatorNotEquals ConditionOperator = "not_equals"
	OperatorContains  ConditionOperator = "contains"
	OperatorIn        ConditionOperator = "in"
	OperatorNotIn     ConditionOperator = "not_in"
)

// Routing condition fields resolvable against an alert event
const (
	FieldCheckID      = "check_id"
	FieldCheckName    = "check_name"
	FieldCheckType    = "check_type"
	FieldLocation     = "location"
	FieldSeverity     = "severity"
	FieldErrorMessage = "error_message"
	FieldTags         = "tags"
)

// RoutingCondition is one field/operator/value comparison. Value is
// used by equals/not_equals/contains, Values by in/not_in.
type RoutingCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value,omitempty"`
	Values   []string          `json:"values,omitempty"`
}

// Validate checks the condition's field and operator
func (c *RoutingCondition) Validate() error {
	switch c.Field {
	case FieldCheckID, FieldCheckName, FieldCheckType, FieldLocation, FieldSeverity, FieldErrorMessage, FieldTags:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Routing condition validation failed",
			fmt.Sprintf("unknown condition field: %s", c.Field))
	}
	switch c.Operator {
	case OperatorEquals, OperatorNotEquals, OperatorContains:
	case OperatorIn, OperatorNotIn:
		if len(c.Values) == 0 {
			return utils.NewAppError(utils.ErrCodeValidation, "Routing condition validation failed",
				fmt.Sprintf("operator %s requires a non-empty values list", c.Operator))
		}
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Routing condition validation failed",
			fmt.Sprintf("unknown condition operator: %s", c.Operator))
	}
	return nil
}

// ConditionMatch combines a rule's conditions
type ConditionMatch string

const (
	ConditionMatchAll ConditionMatch = "all"
	ConditionMatchAny ConditionMatch = "any"
)

// DestinationType identifies a notification channel kind
type DestinationType string

const (
	DestinationPagerDuty DestinationType = "pagerduty"
	DestinationSlack     DestinationType = "slack"
	DestinationEmail     DestinationType = "email"
	DestinationWebhook   DestinationType = "webhook"
	DestinationOpsGenie  DestinationType = "opsgenie"
	DestinationOnCall    DestinationType = "on_call"
	DestinationN8N       DestinationType = "n8n"
	DestinationTelegram  DestinationType = "telegram"
	DestinationTeams     DestinationType = "teams"
	DestinationDiscord   DestinationType = "discord"
	// DestinationLog writes notifications to the application log;
	// used as the default channel and by tests.
	DestinationLog DestinationType = "log"
)

// Per-channel destination payloads. Exactly one payload must be set on
// a Destination and it must match the declared type.

type PagerDutyConfig struct {
	RoutingKey string `json:"routing_key"`
	Severity   string `json:"severity,omitempty"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
}

type EmailDestinationConfig struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
}

type WebhookDestinationConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type OpsGenieConfig struct {
	APIKey   string `json:"api_key"`
	Priority string `json:"priority,omitempty"`
}

type OnCallDestinationConfig struct {
	ScheduleID string `json:"schedule_id"`
}

type N8NConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type TeamsConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Destination is a tagged union over channel type. The Type field
// selects which config payload must be populated.
type Destination struct {
	Type      DestinationType           `json:"type"`
	PagerDuty *PagerDutyConfig          `json:"pagerduty,omitempty"`
	Slack     *SlackConfig              `json:"slack,omitempty"`
	Email     *EmailDestinationConfig   `json:"email,omitempty"`
	Webhook   *WebhookDestinationConfig `json:"webhook,omitempty"`
	OpsGenie  *OpsGenieConfig           `json:"opsgenie,omitempty"`
	OnCall    *OnCallDestinationConfig  `json:"on_call,omitempty"`
	N8N       *N8NConfig                `json:"n8n,omitempty"`
	Telegram  *TelegramConfig           `json:"telegram,omitempty"`
	Teams     *TeamsConfig              `json:"teams,omitempty"`
	Discord   *DiscordConfig            `json:"discord,omitempty"`
}

// Validate ensures the destination type is known and its config payload
// is present. Mismatched payloads are a configuration error surfaced at
// rule-save time, not at evaluation time.
func (d *Destination) Validate() error {
	var ok bool
	switch d.Type {
	case DestinationPagerDuty:
		ok = d.PagerDuty != nil && d.PagerDuty.RoutingKey != ""
	case DestinationSlack:
		ok = d.Slack != nil && d.Slack.WebhookURL != ""
	case DestinationEmail:
		ok = d.Email != nil && len(d.Email.Recipients) > 0
	case DestinationWebhook:
		ok = d.Webhook != nil && d.Webhook.URL != ""
	case DestinationOpsGenie:
		ok = d.OpsGenie != nil && d.OpsGenie.APIKey != ""
	case DestinationOnCall:
		ok = d.OnCall != nil && d.OnCall.ScheduleID != ""
	case DestinationN8N:
		ok = d.N8N != nil && d.N8N.WebhookURL != ""
	case DestinationTelegram:
		ok = d.Telegram != nil && d.Telegram.BotToken != "" && d.Telegram.ChatID != ""
	case DestinationTeams:
		ok = d.Teams != nil && d.Teams.WebhookURL != ""
	case DestinationDiscord:
		ok = d.Discord != nil && d.Discord.WebhookURL != ""
	case DestinationLog:
		ok = true
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Destination validation failed",
			fmt.Sprintf("unknown destination type: %s", d.Type))
	}
	if !ok {
		return utils.NewAppError(utils.ErrCodeValidation, "Destination validation failed",
			fmt.Sprintf("missing or incomplete config for destination type %s", d.Type))
	}
	return nil
}

// Key returns a stable identity used to union destinations across
// multiple matched rules.
func (d *Destination) Key() string {
	switch d.Type {
	case DestinationPagerDuty:
		return string(d.Type) + ":" + d.PagerDuty.RoutingKey
	case DestinationSlack:
		return string(d.Type) + ":" + d.Slack.WebhookURL
	case DestinationEmail:
		key := string(d.Type)
		for _, r := range d.Email.Recipients {
			key += ":" + r
		}
		return key
	case DestinationWebhook:
		return string(d.Type) + ":" + d.Webhook.URL
	case DestinationOpsGenie:
		return string(d.Type) + ":" + d.OpsGenie.APIKey
	case DestinationOnCall:
		return string(d.Type) + ":" + d.OnCall.ScheduleID
	case DestinationN8N:
		return string(d.Type) + ":" + d.N8N.WebhookURL
	case DestinationTelegram:
		return string(d.Type) + ":" + d.Telegram.ChatID
	case DestinationTeams:
		return string(d.Type) + ":" + d.Teams.WebhookURL
	case DestinationDiscord:
		return string(d.Type) + ":" + d.Discord.WebhookURL
	default:
		return string(d.Type)
	}
}

// AlertRoutingRule decides which destinations receive an alert. All
// matching rules fire; every matched rule's destinations are unioned
// into the final notify list.
type AlertRoutingRule struct {
	ID             string             `json:"id" db:"id"`
	OrgID          string             `json:"org_id" db:"org_id"`
	Name           string             `json:"name" db:"name"`
	Priority       int                `json:"priority" db:"priority"`
	Conditions     []RoutingCondition `json:"conditions"`
	ConditionMatch ConditionMatch     `json:"condition_match" db:"condition_match"`
	Destinations   []Destination      `json:"destinations"`
	Enabled        bool               `json:"enabled" db:"enabled"`
	// CreateIncident opens a ManagedIncident against the referenced
	// escalation policy when the rule matches.
	CreateIncident     bool      `json:"create_incident" db:"create_incident"`
	EscalationPolicyID string    `json:"escalation_policy_id,omitempty" db:"escalation_policy_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the rule's conditions and destinations
func (r *AlertRoutingRule) Validate() error {
	if r.OrgID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Routing rule validation failed", "org_id is required")
	}
	switch r.ConditionMatch {
	case ConditionMatchAll, ConditionMatchAny:
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Routing rule validation failed",
			"condition_match must be all or any")
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return err
		}
	}
	if len(r.Destinations) == 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Routing rule validation failed",
			"at least one destination is required")
	}
	for i := range r.Destinations {
		if err := r.Destinations[i].Validate(); err != nil {
			return err
		}
	}
	if r.CreateIncident && r.EscalationPolicyID == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Routing rule validation failed",
			"escalation_policy_id is required when create_incident is set")
	}
	return nil
}

// RoutingLog records the first matched rule for an evaluated alert
type RoutingLog struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	AlertID          string    `json:"alert_id" db:"alert_id"`
	CheckName        string    `json:"check_name" db:"check_name"`
	MatchedRuleID    string    `json:"matched_rule_id" db:"matched_rule_id"`
	MatchedRuleName  string    `json:"matched_rule_name" db:"matched_rule_name"`
	DestinationTypes []string  `json:"destination_types"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
