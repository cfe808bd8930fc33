package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// CorrelationEngine attaches incoming alerts to existing correlations
// when any enabled heuristic matches. Correlation is deliberately an
// N-way merge operation: a single alert never creates a correlation on
// its own.
type CorrelationEngine struct {
	repo   *storage.Repository
	clock  Clock
	logger *logrus.Entry
}

// CorrelationResult contains the result of correlating one alert
type CorrelationResult struct {
	Correlated        bool   `json:"correlated"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	CorrelationReason string `json:"correlation_reason,omitempty"`
}

// NewCorrelationEngine creates a new correlation engine
func NewCorrelationEngine(repo *storage.Repository, clock Clock) *CorrelationEngine {
	return &CorrelationEngine{
		repo:   repo,
		clock:  clock,
		logger: utils.ComponentLogger("correlation"),
	}
}

// Process scans active and acknowledged correlations for the alert's
// organization and attaches the alert to the first one any enabled
// heuristic matches. With dryRun set nothing is persisted.
func (ce *CorrelationEngine) Process(ctx context.Context, event *models.AlertEvent, dryRun bool) (*CorrelationResult, error) {
	cfg, err := ce.config(ctx, event.OrgID)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		return &CorrelationResult{}, nil
	}

	correlations, err := ce.repo.Correlations(ctx, event.OrgID)
	if err != nil {
		return nil, err
	}

	for _, correlation := range correlations {
		if correlation.Status != models.CorrelationStatusActive &&
			correlation.Status != models.CorrelationStatusAcknowledged {
			continue
		}

		reasons := ce.matchReasons(cfg, correlation, event)
		if len(reasons) == 0 {
			continue
		}

		reason := reasons[0]
		if len(reasons) > 1 {
			reason = models.CorrelationReasonMultiple
		}

		now := ce.clock.Now()
		correlation.Alerts = append(correlation.Alerts, models.CorrelatedAlert{
			AlertID:      event.ID,
			CheckID:      event.CheckID,
			CheckName:    event.CheckName,
			Location:     event.Location,
			ErrorMessage: event.ErrorMessage,
			Severity:     event.Severity,
			TriggeredAt:  event.TriggeredAt,
			AddedAt:      now,
		})
		if correlation.CorrelationReason == "" {
			correlation.CorrelationReason = reason
		} else if correlation.CorrelationReason != reason {
			correlation.CorrelationReason = models.CorrelationReasonMultiple
		}
		correlation.UpdatedAt = now

		if !dryRun {
			if err := ce.repo.SaveCorrelation(ctx, correlation); err != nil {
				return nil, err
			}
		}

		ce.logger.WithFields(logrus.Fields{
			"org_id":         event.OrgID,
			"correlation_id": correlation.ID,
			"reason":         reason,
			"alerts":         len(correlation.Alerts),
		}).Debug("Alert correlated")

		return &CorrelationResult{
			Correlated:        true,
			CorrelationID:     correlation.ID,
			CorrelationReason: reason,
		}, nil
	}

	return &CorrelationResult{}, nil
}

// Merge creates a correlation from an explicit N-way merge of alerts.
// At least two alerts are required.
func (ce *CorrelationEngine) Merge(ctx context.Context, orgID string, alerts []models.CorrelatedAlert, details string) (*models.AlertCorrelation, error) {
	if len(alerts) < 2 {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"Correlation merge requires at least two alerts", "")
	}

	now := ce.clock.Now()
	for i := range alerts {
		if alerts[i].AddedAt.IsZero() {
			alerts[i].AddedAt = now
		}
	}

	correlation := &models.AlertCorrelation{
		ID:                 utils.GenerateID(),
		OrgID:              orgID,
		CorrelationReason:  models.CorrelationReasonManual,
		CorrelationDetails: details,
		Alerts:             alerts,
		PrimaryAlertID:     alerts[0].AlertID,
		Status:             models.CorrelationStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := ce.repo.SaveCorrelation(ctx, correlation); err != nil {
		return nil, err
	}
	return correlation, nil
}

// matchReasons evaluates every enabled heuristic against a correlation
// and returns the names of those that matched.
func (ce *CorrelationEngine) matchReasons(cfg *models.AlertCorrelationConfig, correlation *models.AlertCorrelation, event *models.AlertEvent) []string {
	var reasons []string

	if cfg.CorrelateByCheck {
		for i := range correlation.Alerts {
			if correlation.Alerts[i].CheckID == event.CheckID {
				reasons = append(reasons, models.CorrelationReasonCheck)
				break
			}
		}
	}

	if cfg.CorrelateByLocation && event.Location != "" {
		for i := range correlation.Alerts {
			if correlation.Alerts[i].Location == event.Location {
				reasons = append(reasons, models.CorrelationReasonLocation)
				break
			}
		}
	}

	if cfg.CorrelateByErrorType && event.ErrorMessage != "" {
		for i := range correlation.Alerts {
			if ErrorSimilarity(correlation.Alerts[i].ErrorMessage, event.ErrorMessage) >= cfg.SimilarityThreshold {
				reasons = append(reasons, models.CorrelationReasonErrorType)
				break
			}
		}
	}

	if cfg.CorrelateByTime {
		window := time.Duration(cfg.TimeWindowSeconds) * time.Second
		last := correlation.LastAlertAt()
		if !last.IsZero() && event.TriggeredAt.Sub(last) <= window && event.TriggeredAt.Sub(last) >= -window {
			reasons = append(reasons, models.CorrelationReasonTimeWindow)
		}
	}

	return reasons
}

func (ce *CorrelationEngine) config(ctx context.Context, orgID string) (*models.AlertCorrelationConfig, error) {
	cfg, err := ce.repo.CorrelationConfig(ctx, orgID)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.Code == utils.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ErrorSimilarity computes the percentage of shared tokens over the
// union of tokens between two normalized error messages.
func ErrorSimilarity(a, b string) int {
	tokensA := errorTokens(a)
	tokensB := errorTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	union := make(map[string]struct{}, len(tokensA)+len(tokensB))
	shared := 0
	for token := range tokensA {
		union[token] = struct{}{}
	}
	for token := range tokensB {
		if _, ok := tokensA[token]; ok {
			shared++
		}
		union[token] = struct{}{}
	}
	return shared * 100 / len(union)
}

// errorTokens normalizes an error message and splits it into a token
// set. Normalization lowercases the message and strips trailing detail
// after the first colon, semicolon or opening parenthesis.
func errorTokens(message string) map[string]struct{} {
	normalized := strings.ToLower(message)
	if idx := strings.IndexAny(normalized, ":;("); idx >= 0 {
		normalized = normalized[:idx]
	}

	tokens := make(map[string]struct{})
	for _, token := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tokens[token] = struct{}{}
	}
	return tokens
}
