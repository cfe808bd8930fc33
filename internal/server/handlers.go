package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// Health and stats

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"running":   s.engine.IsRunning(),
		"timestamp": time.Now(),
	}
	if !s.engine.IsRunning() {
		resp["status"] = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.repo.Store().GetHealth()
	resp := map[string]interface{}{
		"status":     "ok",
		"engine":     s.engine.IsRunning(),
		"dispatcher": s.notifier.IsHealthy(),
		"storage":    storageHealth,
		"timestamp":  time.Now(),
	}
	if !s.engine.IsRunning() || !s.notifier.IsHealthy() || !storageHealth.Healthy {
		resp["status"] = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.repo.Store().GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":       s.engine.Stats(),
		"dispatcher":   s.notifier.GetStats(),
		"storage":      storageStats,
		"scheduled":    s.engine.Scheduler().Pending(),
		"generated_at": time.Now(),
	})
}

// Alert ingestion

func (s *HTTPServer) ingestAlertHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var event models.AlertEvent
	if !s.decodeBody(w, r, &event) {
		return
	}
	event.OrgID = org

	result, err := s.engine.ProcessAlert(r.Context(), &event)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *HTTPServer) simulateAlertHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var event models.AlertEvent
	if !s.decodeBody(w, r, &event) {
		return
	}
	event.OrgID = org

	result, err := s.engine.SimulateAlert(r.Context(), &event)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// Grouping rules

func (s *HTTPServer) listGroupingRulesHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	rules, err := s.repo.GroupingRules(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "count": len(rules)})
}

func (s *HTTPServer) getGroupingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.GroupingRule(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *HTTPServer) saveGroupingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var rule models.AlertGroupingRule
	if !s.decodeBody(w, r, &rule) {
		return
	}
	rule.OrgID = org
	created := s.applyIdentity(&rule.ID, r, &rule.CreatedAt, &rule.UpdatedAt)
	if err := rule.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveGroupingRule(r.Context(), &rule); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, statusForSave(created), rule)
}

func (s *HTTPServer) deleteGroupingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteGroupingRule(r.Context(), org, mux.Vars(r)["id"]); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Alert groups

func (s *HTTPServer) listGroupsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	groups, err := s.repo.Groups(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := groups[:0]
		for _, g := range groups {
			if string(g.Status) == status {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups, "count": len(groups)})
}

func (s *HTTPServer) getGroupHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	group, err := s.repo.Group(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *HTTPServer) acknowledgeGroupHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	group, err := s.engine.AcknowledgeGroup(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *HTTPServer) resolveGroupHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	group, err := s.engine.ResolveGroup(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *HTTPServer) snoozeGroupHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var body struct {
		Until time.Time `json:"until"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	group, err := s.engine.SnoozeGroup(r.Context(), org, mux.Vars(r)["id"], body.Until)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

// Rate limiting

func (s *HTTPServer) getRateLimitConfigHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	cfg, err := s.repo.RateLimitConfig(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) saveRateLimitConfigHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var cfg models.AlertRateLimitConfig
	if !s.decodeBody(w, r, &cfg) {
		return
	}
	cfg.OrgID = org
	cfg.UpdatedAt = time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveRateLimitConfig(r.Context(), &cfg); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) rateLimitStatsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	state, err := s.engine.RateLimit.Stats(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// Correlation

func (s *HTTPServer) getCorrelationConfigHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	cfg, err := s.repo.CorrelationConfig(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) saveCorrelationConfigHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var cfg models.AlertCorrelationConfig
	if !s.decodeBody(w, r, &cfg) {
		return
	}
	cfg.OrgID = org
	cfg.UpdatedAt = time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveCorrelationConfig(r.Context(), &cfg); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) listCorrelationsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	correlations, err := s.repo.Correlations(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"correlations": correlations, "count": len(correlations)})
}

func (s *HTTPServer) getCorrelationHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	correlation, err := s.repo.Correlation(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, correlation)
}

func (s *HTTPServer) mergeAlertsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var body struct {
		Alerts  []models.CorrelatedAlert `json:"alerts"`
		Details string                   `json:"details"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	correlation, err := s.engine.MergeAlerts(r.Context(), org, body.Alerts, body.Details)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, correlation)
}

// Routing rules

func (s *HTTPServer) listRoutingRulesHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	rules, err := s.repo.RoutingRules(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "count": len(rules)})
}

func (s *HTTPServer) getRoutingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	rule, err := s.repo.RoutingRule(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *HTTPServer) saveRoutingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var rule models.AlertRoutingRule
	if !s.decodeBody(w, r, &rule) {
		return
	}
	rule.OrgID = org
	created := s.applyIdentity(&rule.ID, r, &rule.CreatedAt, &rule.UpdatedAt)
	if err := rule.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveRoutingRule(r.Context(), &rule); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, statusForSave(created), rule)
}

func (s *HTTPServer) deleteRoutingRuleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteRoutingRule(r.Context(), org, mux.Vars(r)["id"]); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) listRoutingLogsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	logs, err := s.repo.RoutingLogs(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}

// Escalation policies

func (s *HTTPServer) listEscalationPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	policies, err := s.repo.EscalationPolicies(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies, "count": len(policies)})
}

func (s *HTTPServer) getEscalationPolicyHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	policy, err := s.repo.EscalationPolicy(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

func (s *HTTPServer) saveEscalationPolicyHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var policy models.EscalationPolicy
	if !s.decodeBody(w, r, &policy) {
		return
	}
	policy.OrgID = org
	created := s.applyIdentity(&policy.ID, r, &policy.CreatedAt, &policy.UpdatedAt)
	if err := policy.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveEscalationPolicy(r.Context(), &policy); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, statusForSave(created), policy)
}

func (s *HTTPServer) deleteEscalationPolicyHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteEscalationPolicy(r.Context(), org, mux.Vars(r)["id"]); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Incidents

func (s *HTTPServer) listIncidentsHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	incidents, err := s.repo.Incidents(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := incidents[:0]
		for _, inc := range incidents {
			if string(inc.Status) == status {
				filtered = append(filtered, inc)
			}
		}
		incidents = filtered
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents, "count": len(incidents)})
}

func (s *HTTPServer) getIncidentHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	incident, err := s.repo.Incident(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

func (s *HTTPServer) createIncidentHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var incident models.ManagedIncident
	if !s.decodeBody(w, r, &incident) {
		return
	}
	incident.OrgID = org
	created, err := s.engine.CreateIncident(r.Context(), &incident)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) acknowledgeIncidentHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	incident, err := s.engine.AcknowledgeIncident(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

func (s *HTTPServer) resolveIncidentHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	incident, err := s.engine.ResolveIncident(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

func (s *HTTPServer) updateIncidentStatusHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var body struct {
		Status models.IncidentStatus `json:"status"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	incident, err := s.engine.UpdateIncidentStatus(r.Context(), org, mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, incident)
}

// On-call schedules

func (s *HTTPServer) listSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	schedules, err := s.repo.Schedules(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules, "count": len(schedules)})
}

func (s *HTTPServer) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	schedule, err := s.repo.Schedule(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedule)
}

func (s *HTTPServer) saveScheduleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var schedule models.OnCallSchedule
	if !s.decodeBody(w, r, &schedule) {
		return
	}
	schedule.OrgID = org
	created := s.applyIdentity(&schedule.ID, r, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err := schedule.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}
	if err := s.repo.SaveSchedule(r.Context(), &schedule); err != nil {
		s.writeAppError(w, err)
		return
	}
	// Keep the automatic rotation timer aligned with the saved interval.
	s.engine.Rotation.ScheduleAutoRotation(org, schedule.ID, schedule.RotationInterval())
	s.writeJSON(w, statusForSave(created), schedule)
}

func (s *HTTPServer) deleteScheduleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.repo.DeleteSchedule(r.Context(), org, id); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.engine.Rotation.CancelAutoRotation(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) currentOnCallHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	member, err := s.engine.Rotation.Current(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, member)
}

func (s *HTTPServer) rotateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	schedule, err := s.engine.RotateSchedule(r.Context(), org, mux.Vars(r)["id"])
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedule)
}

// Audit

func (s *HTTPServer) listAuditHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	entries, err := s.audit.Entries(r.Context(), org)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// Notification test

func (s *HTTPServer) testNotificationHandler(w http.ResponseWriter, r *http.Request) {
	org, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var dest models.Destination
	if !s.decodeBody(w, r, &dest) {
		return
	}
	if err := dest.Validate(); err != nil {
		s.writeAppError(w, err)
		return
	}

	payload := &notification.Payload{
		Kind:      notification.PayloadTest,
		OrgID:     org,
		Title:     "Test notification",
		Message:   "This is a test notification from guardian.",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifier.Send(r.Context(), dest, payload); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"delivered": true})
}

// applyIdentity fills the entity id from the route or generates one,
// and stamps timestamps. Returns true when a new id was generated.
func (s *HTTPServer) applyIdentity(id *string, r *http.Request, createdAt, updatedAt *time.Time) bool {
	now := time.Now().UTC()
	*updatedAt = now

	if pathID := mux.Vars(r)["id"]; pathID != "" {
		*id = pathID
		if createdAt.IsZero() {
			*createdAt = now
		}
		return false
	}
	if *id == "" {
		*id = utils.GenerateID()
	}
	*createdAt = now
	return true
}

func statusForSave(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
