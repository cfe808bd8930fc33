package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mqxerror/qa-guardian-sub011/internal/audit"
	"github.com/mqxerror/qa-guardian-sub011/internal/engine"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer exposes the engine's admin and ingestion API
type HTTPServer struct {
	config   *ServerConfig
	server   *http.Server
	router   *mux.Router
	engine   *engine.Engine
	repo     *storage.Repository
	notifier notification.Notifier
	audit    audit.Recorder
	logger   *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(config *ServerConfig, eng *engine.Engine, repo *storage.Repository, notifier notification.Notifier, recorder audit.Recorder) (*HTTPServer, error) {
	server := &HTTPServer{
		config:   config,
		engine:   eng,
		repo:     repo,
		notifier: notifier,
		audit:    recorder,
		logger:   utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Alert ingestion
	api.HandleFunc("/alerts", s.ingestAlertHandler).Methods("POST")
	api.HandleFunc("/alerts/simulate", s.simulateAlertHandler).Methods("POST")

	// Grouping rules
	api.HandleFunc("/grouping-rules", s.listGroupingRulesHandler).Methods("GET")
	api.HandleFunc("/grouping-rules", s.saveGroupingRuleHandler).Methods("POST")
	api.HandleFunc("/grouping-rules/{id}", s.getGroupingRuleHandler).Methods("GET")
	api.HandleFunc("/grouping-rules/{id}", s.saveGroupingRuleHandler).Methods("PUT")
	api.HandleFunc("/grouping-rules/{id}", s.deleteGroupingRuleHandler).Methods("DELETE")

	// Alert groups
	api.HandleFunc("/groups", s.listGroupsHandler).Methods("GET")
	api.HandleFunc("/groups/{id}", s.getGroupHandler).Methods("GET")
	api.HandleFunc("/groups/{id}/acknowledge", s.acknowledgeGroupHandler).Methods("POST")
	api.HandleFunc("/groups/{id}/resolve", s.resolveGroupHandler).Methods("POST")
	api.HandleFunc("/groups/{id}/snooze", s.snoozeGroupHandler).Methods("POST")

	// Rate limiting
	api.HandleFunc("/rate-limit", s.getRateLimitConfigHandler).Methods("GET")
	api.HandleFunc("/rate-limit", s.saveRateLimitConfigHandler).Methods("PUT")
	api.HandleFunc("/rate-limit/stats", s.rateLimitStatsHandler).Methods("GET")

	// Correlation
	api.HandleFunc("/correlation/config", s.getCorrelationConfigHandler).Methods("GET")
	api.HandleFunc("/correlation/config", s.saveCorrelationConfigHandler).Methods("PUT")
	api.HandleFunc("/correlations", s.listCorrelationsHandler).Methods("GET")
	api.HandleFunc("/correlations/{id}", s.getCorrelationHandler).Methods("GET")
	api.HandleFunc("/correlations/merge", s.mergeAlertsHandler).Methods("POST")

	// Routing rules
	api.HandleFunc("/routing-rules", s.listRoutingRulesHandler).Methods("GET")
	api.HandleFunc("/routing-rules", s.saveRoutingRuleHandler).Methods("POST")
	api.HandleFunc("/routing-rules/{id}", s.getRoutingRuleHandler).Methods("GET")
	api.HandleFunc("/routing-rules/{id}", s.saveRoutingRuleHandler).Methods("PUT")
	api.HandleFunc("/routing-rules/{id}", s.deleteRoutingRuleHandler).Methods("DELETE")
	api.HandleFunc("/routing-logs", s.listRoutingLogsHandler).Methods("GET")

	// Escalation policies
	api.HandleFunc("/escalation-policies", s.listEscalationPoliciesHandler).Methods("GET")
	api.HandleFunc("/escalation-policies", s.saveEscalationPolicyHandler).Methods("POST")
	api.HandleFunc("/escalation-policies/{id}", s.getEscalationPolicyHandler).Methods("GET")
	api.HandleFunc("/escalation-policies/{id}", s.saveEscalationPolicyHandler).Methods("PUT")
	api.HandleFunc("/escalation-policies/{id}", s.deleteEscalationPolicyHandler).Methods("DELETE")

	// Incidents
	api.HandleFunc("/incidents", s.listIncidentsHandler).Methods("GET")
	api.HandleFunc("/incidents", s.createIncidentHandler).Methods("POST")
	api.HandleFunc("/incidents/{id}", s.getIncidentHandler).Methods("GET")
	api.HandleFunc("/incidents/{id}/acknowledge", s.acknowledgeIncidentHandler).Methods("POST")
	api.HandleFunc("/incidents/{id}/resolve", s.resolveIncidentHandler).Methods("POST")
	api.HandleFunc("/incidents/{id}/status", s.updateIncidentStatusHandler).Methods("POST")

	// On-call schedules
	api.HandleFunc("/schedules", s.listSchedulesHandler).Methods("GET")
	api.HandleFunc("/schedules", s.saveScheduleHandler).Methods("POST")
	api.HandleFunc("/schedules/{id}", s.getScheduleHandler).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.saveScheduleHandler).Methods("PUT")
	api.HandleFunc("/schedules/{id}", s.deleteScheduleHandler).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/current", s.currentOnCallHandler).Methods("GET")
	api.HandleFunc("/schedules/{id}/rotate", s.rotateScheduleHandler).Methods("POST")

	// Audit log
	api.HandleFunc("/audit", s.listAuditHandler).Methods("GET")

	// Notification test
	api.HandleFunc("/notifications/test", s.testNotificationHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Catch immediate binding errors before reporting success.
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// orgID resolves the calling organization from header or query param
func orgID(r *http.Request) string {
	if org := r.Header.Get("X-Org-ID"); org != "" {
		return org
	}
	return r.URL.Query().Get("org_id")
}

func (s *HTTPServer) requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	org := orgID(r)
	if org == "" {
		s.writeError(w, http.StatusBadRequest, "Organization id is required (X-Org-ID header or org_id query param)", nil)
		return "", false
	}
	return org, true
}

func (s *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeAppError maps an AppError code onto an HTTP status
func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case utils.ErrCodeValidation, utils.ErrCodeConfiguration:
			status = http.StatusBadRequest
		case utils.ErrCodeNotFound:
			status = http.StatusNotFound
		case utils.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		}
		s.writeError(w, status, appErr.Message, err)
		return
	}
	s.writeError(w, status, "Internal server error", err)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
