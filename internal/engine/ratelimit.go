package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// RateLimiter caps per-organization notification volume inside a
// sliding window, dropping or aggregating the excess.
type RateLimiter struct {
	repo   *storage.Repository
	clock  Clock
	logger *logrus.Entry
}

// RateLimitResult tells the caller what to do with one alert
type RateLimitResult struct {
	Allowed       bool `json:"allowed"`
	SummaryNeeded bool `json:"summary_needed"`
	// Mode is the suppression mode in effect when Allowed is false.
	Mode models.SuppressionMode `json:"mode,omitempty"`
	// Summary carries the flushed suppressed-alert buffer when
	// SummaryNeeded is set; the caller emits one combined notification.
	Summary []models.SuppressedAlert `json:"summary,omitempty"`
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(repo *storage.Repository, clock Clock) *RateLimiter {
	return &RateLimiter{
		repo:   repo,
		clock:  clock,
		logger: utils.ComponentLogger("ratelimit"),
	}
}

// Check admits or suppresses one alert for notification. Organizations
// without a rate limit config are never limited. With dryRun set
// nothing is persisted.
func (rl *RateLimiter) Check(ctx context.Context, event *models.AlertEvent, dryRun bool) (*RateLimitResult, error) {
	cfg, err := rl.repo.RateLimitConfig(ctx, event.OrgID)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.Code == utils.ErrCodeNotFound {
			return &RateLimitResult{Allowed: true}, nil
		}
		return nil, err
	}

	state, err := rl.loadState(ctx, event.OrgID)
	if err != nil {
		return nil, err
	}

	now := rl.clock.Now()
	window := time.Duration(cfg.TimeWindowSeconds) * time.Second
	if state.WindowStart.IsZero() || now.Sub(state.WindowStart) > window {
		state.WindowStart = now
		state.AlertsInWindow = 0
	}

	state.AlertsInWindow++
	state.TotalAlerts++

	result := &RateLimitResult{}
	if state.AlertsInWindow > cfg.WindowLimit() {
		state.SuppressedCount++
		result.Mode = cfg.SuppressionMode
		switch cfg.SuppressionMode {
		case models.SuppressionModeAggregate:
			suppressed := models.SuppressedAlert{
				CheckID:      event.CheckID,
				CheckName:    event.CheckName,
				CheckType:    event.CheckType,
				Severity:     event.Severity,
				ErrorMessage: event.ErrorMessage,
				TriggeredAt:  event.TriggeredAt,
			}
			// Most recent first, bounded.
			state.SuppressedAlerts = append([]models.SuppressedAlert{suppressed}, state.SuppressedAlerts...)
			if len(state.SuppressedAlerts) > models.MaxSuppressedAlerts {
				state.SuppressedAlerts = state.SuppressedAlerts[:models.MaxSuppressedAlerts]
			}
			if len(state.SuppressedAlerts) >= cfg.AggregateThreshold {
				result.SummaryNeeded = true
				result.Summary = state.SuppressedAlerts
				state.SuppressedAlerts = nil
			}
		default:
			// drop mode discards the alert
		}
	} else {
		result.Allowed = true
		state.SentAlerts++
	}

	state.UpdatedAt = now

	if !dryRun {
		if err := rl.repo.SaveRateLimitState(ctx, state); err != nil {
			return nil, err
		}
	}

	if !result.Allowed {
		rl.logger.WithFields(logrus.Fields{
			"org_id":           event.OrgID,
			"alerts_in_window": state.AlertsInWindow,
			"window_limit":     cfg.WindowLimit(),
			"mode":             cfg.SuppressionMode,
			"summary_needed":   result.SummaryNeeded,
		}).Debug("Alert suppressed by rate limit")
	}

	return result, nil
}

// Stats returns the current rate limit state for an organization
func (rl *RateLimiter) Stats(ctx context.Context, orgID string) (*models.AlertRateLimitState, error) {
	return rl.loadState(ctx, orgID)
}

func (rl *RateLimiter) loadState(ctx context.Context, orgID string) (*models.AlertRateLimitState, error) {
	state, err := rl.repo.RateLimitState(ctx, orgID)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.Code == utils.ErrCodeNotFound {
			return &models.AlertRateLimitState{OrgID: orgID}, nil
		}
		return nil, err
	}
	return state, nil
}
