package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimitScalesWithWindowLength(t *testing.T) {
	tests := []struct {
		perMinute, windowSecs, want int
	}{
		{10, 60, 10},
		{10, 120, 20},
		{10, 30, 5},
		{1, 300, 5},
		// Sub-minute windows never round down to zero.
		{1, 10, 1},
	}
	for _, tt := range tests {
		cfg := &AlertRateLimitConfig{MaxAlertsPerMinute: tt.perMinute, TimeWindowSeconds: tt.windowSecs}
		assert.Equal(t, tt.want, cfg.WindowLimit(), "%d/min over %ds", tt.perMinute, tt.windowSecs)
	}
}

func TestRateLimitConfigValidate(t *testing.T) {
	cfg := &AlertRateLimitConfig{
		OrgID:              "org-1",
		MaxAlertsPerMinute: 10,
		TimeWindowSeconds:  60,
		SuppressionMode:    SuppressionModeDrop,
	}
	require.NoError(t, cfg.Validate())

	t.Run("aggregate needs threshold", func(t *testing.T) {
		c := *cfg
		c.SuppressionMode = SuppressionModeAggregate
		c.AggregateThreshold = 0
		assert.Error(t, c.Validate())
	})

	t.Run("zero rate", func(t *testing.T) {
		c := *cfg
		c.MaxAlertsPerMinute = 0
		assert.Error(t, c.Validate())
	})

	t.Run("unknown mode", func(t *testing.T) {
		c := *cfg
		c.SuppressionMode = "queue"
		assert.Error(t, c.Validate())
	})
}
