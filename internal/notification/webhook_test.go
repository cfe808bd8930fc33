package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
)

func testPayload() *Payload {
	return &Payload{
		Kind:     PayloadAlert,
		OrgID:    "org-1",
		Title:    "[HIGH] api-health failing from us-east",
		Message:  "connection timeout",
		Severity: models.SeverityHigh,
		Data:     map[string]interface{}{"check_name": "api-health"},
	}
}

func TestBuildWebhookRequestSlack(t *testing.T) {
	dest := models.Destination{
		Type:  models.DestinationSlack,
		Slack: &models.SlackConfig{WebhookURL: "https://hooks.slack.com/services/T0/B0/x", Channel: "#alerts"},
	}

	req, err := BuildWebhookRequest(dest, testPayload())
	require.NoError(t, err)
	assert.Equal(t, dest.Slack.WebhookURL, req.URL)

	body := req.Body.(map[string]interface{})
	assert.Equal(t, "#alerts", body["channel"])
	assert.Contains(t, body["text"], "*[HIGH] api-health failing from us-east*")
	assert.Contains(t, body["text"], "connection timeout")
}

func TestBuildWebhookRequestPagerDuty(t *testing.T) {
	dest := models.Destination{
		Type:      models.DestinationPagerDuty,
		PagerDuty: &models.PagerDutyConfig{RoutingKey: "rk-123"},
	}

	req, err := BuildWebhookRequest(dest, testPayload())
	require.NoError(t, err)
	assert.Equal(t, "https://events.pagerduty.com/v2/enqueue", req.URL)

	body := req.Body.(map[string]interface{})
	assert.Equal(t, "rk-123", body["routing_key"])
	assert.Equal(t, "trigger", body["event_action"])
	inner := body["payload"].(map[string]interface{})
	assert.Equal(t, "error", inner["severity"])
	assert.Equal(t, "guardian", inner["source"])
}

func TestBuildWebhookRequestOpsGenie(t *testing.T) {
	dest := models.Destination{
		Type:     models.DestinationOpsGenie,
		OpsGenie: &models.OpsGenieConfig{APIKey: "key-1"},
	}

	req, err := BuildWebhookRequest(dest, testPayload())
	require.NoError(t, err)
	assert.Equal(t, "https://api.opsgenie.com/v2/alerts", req.URL)
	assert.Equal(t, "GenieKey key-1", req.Headers["Authorization"])

	body := req.Body.(map[string]interface{})
	assert.Equal(t, "P2", body["priority"])
}

func TestBuildWebhookRequestTelegram(t *testing.T) {
	dest := models.Destination{
		Type:     models.DestinationTelegram,
		Telegram: &models.TelegramConfig{BotToken: "tok", ChatID: "42"},
	}

	req, err := BuildWebhookRequest(dest, testPayload())
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org/bottok/sendMessage", req.URL)

	body := req.Body.(map[string]interface{})
	assert.Equal(t, "42", body["chat_id"])
}

func TestBuildWebhookRequestGenericPassesPayloadThrough(t *testing.T) {
	dest := models.Destination{
		Type: models.DestinationWebhook,
		Webhook: &models.WebhookDestinationConfig{
			URL:     "https://example.com/hook",
			Method:  "PUT",
			Headers: map[string]string{"X-Token": "secret"},
		},
	}

	payload := testPayload()
	req, err := BuildWebhookRequest(dest, payload)
	require.NoError(t, err)
	assert.Equal(t, "PUT", req.Method)
	assert.Equal(t, "secret", req.Headers["X-Token"])
	assert.Equal(t, payload, req.Body)
}

func TestBuildWebhookRequestUnmappedType(t *testing.T) {
	_, err := BuildWebhookRequest(models.Destination{Type: models.DestinationEmail}, testPayload())
	assert.Error(t, err)
}

func TestPagerDutySeverityMapping(t *testing.T) {
	assert.Equal(t, "critical", pagerDutySeverity(models.SeverityCritical))
	assert.Equal(t, "error", pagerDutySeverity(models.SeverityHigh))
	assert.Equal(t, "warning", pagerDutySeverity(models.SeverityMedium))
	assert.Equal(t, "info", pagerDutySeverity(models.SeverityLow))
}

func TestWebhookSenderRetriesUntilSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ws := NewWebhookSender(&DispatcherConfig{
		SendTimeout:   5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
	err := ws.Send(context.Background(), &WebhookRequest{URL: server.URL, Body: testPayload()})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookSenderFailsAfterExhaustingRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ws := NewWebhookSender(&DispatcherConfig{
		SendTimeout:   5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
	err := ws.Send(context.Background(), &WebhookRequest{URL: server.URL, Body: testPayload()})
	require.Error(t, err)
}

func TestWebhookSenderSetsContentType(t *testing.T) {
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
	}))
	defer server.Close()

	ws := NewWebhookSender(&DispatcherConfig{SendTimeout: 5 * time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond})
	require.NoError(t, ws.Send(context.Background(), &WebhookRequest{URL: server.URL, Body: testPayload()}))
	assert.Equal(t, "application/json", contentType)
}

func TestValidateWebhookURL(t *testing.T) {
	assert.NoError(t, ValidateWebhookURL("https://example.com/hook"))
	assert.NoError(t, ValidateWebhookURL("http://10.0.0.1:8080/hook"))
	assert.Error(t, ValidateWebhookURL("ftp://example.com"))
	assert.Error(t, ValidateWebhookURL("not a url"))
	assert.Error(t, ValidateWebhookURL("https://"))
}
