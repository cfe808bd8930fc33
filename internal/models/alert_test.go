package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *AlertEvent {
	return &AlertEvent{
		ID:          "ev-1",
		OrgID:       "org-1",
		CheckID:     "check-1",
		CheckName:   "api-health",
		CheckType:   CheckTypeHTTP,
		Severity:    SeverityHigh,
		TriggeredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAlertEventValidate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	tests := []struct {
		name   string
		mutate func(*AlertEvent)
	}{
		{"missing org", func(e *AlertEvent) { e.OrgID = "" }},
		{"missing check id", func(e *AlertEvent) { e.CheckID = "" }},
		{"missing check name", func(e *AlertEvent) { e.CheckName = "" }},
		{"missing check type", func(e *AlertEvent) { e.CheckType = "" }},
		{"missing severity", func(e *AlertEvent) { e.Severity = "" }},
		{"zero triggered at", func(e *AlertEvent) { e.TriggeredAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			assert.Error(t, event.Validate())
		})
	}
}

func TestDedupIdentityIgnoresErrorMessage(t *testing.T) {
	a := validEvent()
	b := validEvent()
	b.ErrorMessage = "a different failure"
	assert.Equal(t, a.DedupIdentity(), b.DedupIdentity())

	b.CheckType = CheckTypeTCP
	assert.NotEqual(t, a.DedupIdentity(), b.DedupIdentity())
}

func TestGroupSnoozed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	group := &AlertGroup{}
	assert.False(t, group.Snoozed(now))

	until := now.Add(10 * time.Minute)
	group.SnoozedUntil = &until
	assert.True(t, group.Snoozed(now))
	assert.False(t, group.Snoozed(until))
	assert.False(t, group.Snoozed(until.Add(time.Second)))
}
