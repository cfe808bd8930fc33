package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

const (
	pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"
	opsGenieAlertsURL  = "https://api.opsgenie.com/v2/alerts"
	telegramAPIBase    = "https://api.telegram.org"
)

// WebhookRequest is a prepared HTTP delivery
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
}

// WebhookSender delivers JSON payloads over HTTP with retries
type WebhookSender struct {
	client        *http.Client
	retryAttempts int
	retryDelay    time.Duration
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(config *DispatcherConfig) *WebhookSender {
	attempts := config.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := config.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &WebhookSender{
		client:        &http.Client{Timeout: config.SendTimeout},
		retryAttempts: attempts,
		retryDelay:    delay,
	}
}

// Send posts the request, retrying transient failures
func (ws *WebhookSender) Send(ctx context.Context, req *WebhookRequest) error {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook body", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= ws.retryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(ws.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = ws.post(ctx, req, body)
		if lastErr == nil {
			return nil
		}
	}
	return utils.NewAppError(utils.ErrCodeDispatch,
		fmt.Sprintf("Webhook delivery failed after %d attempts", ws.retryAttempts), lastErr.Error())
}

func (ws *WebhookSender) post(ctx context.Context, req *WebhookRequest, body []byte) error {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := ws.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// BuildWebhookRequest maps a destination and payload onto the HTTP
// request the destination's service expects.
func BuildWebhookRequest(dest models.Destination, payload *Payload) (*WebhookRequest, error) {
	switch dest.Type {
	case models.DestinationWebhook:
		return &WebhookRequest{
			URL:     dest.Webhook.URL,
			Method:  dest.Webhook.Method,
			Headers: dest.Webhook.Headers,
			Body:    payload,
		}, nil

	case models.DestinationSlack:
		return &WebhookRequest{
			URL: dest.Slack.WebhookURL,
			Body: map[string]interface{}{
				"text":    fmt.Sprintf("*%s*\n%s", payload.Title, payload.Message),
				"channel": dest.Slack.Channel,
			},
		}, nil

	case models.DestinationTeams:
		return &WebhookRequest{
			URL: dest.Teams.WebhookURL,
			Body: map[string]interface{}{
				"title": payload.Title,
				"text":  payload.Message,
			},
		}, nil

	case models.DestinationDiscord:
		return &WebhookRequest{
			URL: dest.Discord.WebhookURL,
			Body: map[string]interface{}{
				"content": fmt.Sprintf("**%s**\n%s", payload.Title, payload.Message),
			},
		}, nil

	case models.DestinationN8N:
		return &WebhookRequest{
			URL:  dest.N8N.WebhookURL,
			Body: payload,
		}, nil

	case models.DestinationTelegram:
		return &WebhookRequest{
			URL: fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, dest.Telegram.BotToken),
			Body: map[string]interface{}{
				"chat_id": dest.Telegram.ChatID,
				"text":    fmt.Sprintf("%s\n%s", payload.Title, payload.Message),
			},
		}, nil

	case models.DestinationPagerDuty:
		return &WebhookRequest{
			URL: pagerDutyEventsURL,
			Body: map[string]interface{}{
				"routing_key":  dest.PagerDuty.RoutingKey,
				"event_action": "trigger",
				"payload": map[string]interface{}{
					"summary":  payload.Title,
					"source":   "guardian",
					"severity": pagerDutySeverity(payload.Severity),
					"custom_details": map[string]interface{}{
						"message": payload.Message,
						"data":    payload.Data,
					},
				},
			},
		}, nil

	case models.DestinationOpsGenie:
		return &WebhookRequest{
			URL: opsGenieAlertsURL,
			Headers: map[string]string{
				"Authorization": "GenieKey " + dest.OpsGenie.APIKey,
			},
			Body: map[string]interface{}{
				"message":     payload.Title,
				"description": payload.Message,
				"priority":    opsGeniePriority(payload.Severity),
				"details":     payload.Data,
			},
		}, nil
	}

	return nil, utils.NewAppError(utils.ErrCodeConfiguration,
		fmt.Sprintf("Destination type %s has no webhook mapping", dest.Type), "")
}

func pagerDutySeverity(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "critical"
	case models.SeverityHigh:
		return "error"
	case models.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}

func opsGeniePriority(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "P1"
	case models.SeverityHigh:
		return "P2"
	case models.SeverityMedium:
		return "P3"
	default:
		return "P4"
	}
}

// ValidateWebhookURL checks a destination URL before it is saved
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid webhook URL", raw)
	}
	return nil
}
