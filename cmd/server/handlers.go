package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
	"github.com/adityaaa08012006/decivue-sub006/tenants"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := len(s.tenants.List())
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:        "unhealthy",
				TenantsLoaded: loaded,
				Error:         err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", TenantsLoaded: loaded})
}

func tenantResponse(t tenants.Tenant) TenantResponse {
	return TenantResponse{ID: t.ID, Name: t.Name, StaleHours: t.StaleHours, SweepLimit: t.SweepLimit}
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	resp := TenantsListResponse{Tenants: []TenantResponse{}}
	for _, id := range s.tenants.List() {
		t, err := s.tenants.Tenant(id)
		if err != nil {
			continue // removed concurrently
		}
		resp.Tenants = append(resp.Tenants, tenantResponse(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	t := tenants.Tenant{
		ID:       req.ID,
		Name:     req.Name,
		Settings: tenants.Settings{StaleHours: req.StaleHours, SweepLimit: req.SweepLimit},
	}
	if err := tenants.ValidateTenant(t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant", err)
		return
	}
	if _, err := s.tenants.CreateTenant(r.Context(), t); err != nil {
		logger.Error("failed to create tenant", "tenant_id", t.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	respondJSON(w, http.StatusCreated, tenantResponse(t))
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	svc := serviceFrom(r)

	var req CreateDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := decisions.NewDecision(req.ID, svc.TenantID, req.Title, s.now().UTC())
	d.ExpiryDate = req.ExpiryDate
	if err := s.store.CreateDecision(r.Context(), d); err != nil {
		respondStoreError(w, "failed to create decision", err)
		return
	}

	respondJSON(w, http.StatusCreated, d)
}

// loadDecision reads the {id} decision and hides decisions of other tenants
func (s *Server) loadDecision(w http.ResponseWriter, r *http.Request) (*decisions.Decision, bool) {
	svc := serviceFrom(r)
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDecision(r.Context(), id)
	if err != nil {
		respondStoreError(w, "decision not found", err)
		return nil, false
	}
	if d.TenantID != svc.TenantID {
		respondError(w, http.StatusNotFound, "decision not found", nil)
		return nil, false
	}
	return d, true
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.asOf(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "asOf must be RFC3339", err)
		return
	}
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}

	verdict := serviceFrom(r).Oracle.NeedsEvaluation(*d, asOf)
	respondJSON(w, http.StatusOK, StalenessResponse{DecisionID: d.ID, AsOf: asOf, Verdict: verdict})
}

func (s *Server) handleEvaluateDecision(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.evaluationTime(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asOf", err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}

	outcome, err := serviceFrom(r).Orchestrator.EvaluateIfNeeded(r.Context(), d.ID, force, asOf)
	if err != nil {
		respondJSON(w, evaluationStatus(outcome.ErrorKind), outcome)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRetireDecision(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}
	if err := s.store.RetireDecision(r.Context(), d.ID); err != nil {
		respondStoreError(w, "failed to retire decision", err)
		return
	}

	// dependents scored against the old lifecycle
	serviceFrom(r).DependencyChanged(r.Context(), d.ID)

	d.Lifecycle = decisions.Retired
	d.NeedsEvaluation = false
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req AddDependencyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TargetDecisionID == "" {
		respondError(w, http.StatusBadRequest, "targetDecisionId is required", nil)
		return
	}

	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}
	if req.TargetDecisionID == d.ID {
		respondError(w, http.StatusBadRequest, "a decision cannot depend on itself", nil)
		return
	}
	// a missing target is accepted as a dangling edge; another tenant's is not
	target, err := s.store.GetDecision(r.Context(), req.TargetDecisionID)
	switch {
	case err == nil && target.TenantID != d.TenantID:
		respondError(w, http.StatusNotFound, "target decision not found", nil)
		return
	case err != nil && !errors.Is(err, decisions.ErrNotFound):
		respondStoreError(w, "failed to load target decision", err)
		return
	}

	edge := decisions.DependencyEdge{SourceDecisionID: d.ID, TargetDecisionID: req.TargetDecisionID}
	if err := s.store.AddDependency(r.Context(), edge); err != nil {
		respondStoreError(w, "failed to add dependency", err)
		return
	}
	s.markInputsChanged(r, d.ID)

	respondJSON(w, http.StatusCreated, edge)
}

// markInputsChanged flags a decision whose own inputs were edited
func (s *Server) markInputsChanged(r *http.Request, id string) {
	if _, err := s.store.MarkDirty(r.Context(), []string{id}); err != nil {
		logger.Warn("failed to mark decision for evaluation", "decision_id", id, "err", err)
	}
}

func (s *Server) handleDecisionChanged(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}
	serviceFrom(r).DependencyChanged(r.Context(), d.ID)
	respondJSON(w, http.StatusAccepted, PropagationResponse{Status: "propagated", Event: evaluation.EventDependencyChanged})
}

func (s *Server) handleLinkAssumption(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := decodeJSON(r, &req); err != nil || req.AssumptionID == "" {
		respondError(w, http.StatusBadRequest, "assumptionId is required", err)
		return
	}
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}
	a, err := s.store.GetAssumption(r.Context(), req.AssumptionID)
	if err != nil {
		respondStoreError(w, "assumption not found", err)
		return
	}
	if a.TenantID != d.TenantID {
		respondError(w, http.StatusNotFound, "assumption not found", nil)
		return
	}

	if err := s.store.LinkAssumption(r.Context(), d.ID, a.ID); err != nil {
		respondStoreError(w, "failed to link assumption", err)
		return
	}
	s.markInputsChanged(r, d.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinkConstraint(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := decodeJSON(r, &req); err != nil || req.ConstraintID == "" {
		respondError(w, http.StatusBadRequest, "constraintId is required", err)
		return
	}
	d, ok := s.loadDecision(w, r)
	if !ok {
		return
	}

	if err := s.store.LinkConstraint(r.Context(), d.ID, req.ConstraintID); err != nil {
		respondStoreError(w, "failed to link constraint", err)
		return
	}
	s.markInputsChanged(r, d.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.evaluationTime(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asOf", err)
		return
	}

	var req EvaluateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids are required", nil)
		return
	}
	if limit := s.batchLimit.Load(); int64(len(req.IDs)) > limit {
		respondError(w, http.StatusBadRequest, "too many ids, limit is "+strconv.FormatInt(limit, 10), nil)
		return
	}

	svc := serviceFrom(r)
	for _, id := range req.IDs {
		d, err := s.store.GetDecision(r.Context(), id)
		if err == nil && d.TenantID != svc.TenantID {
			respondError(w, http.StatusNotFound, "decision "+id+" not found", nil)
			return
		}
	}

	res := svc.Orchestrator.EvaluateBatch(r.Context(), req.IDs, req.Force, asOf)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleConverge(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.evaluationTime(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asOf", err)
		return
	}

	var req ConvergeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	maxRounds := int(s.maxRounds.Load())
	if req.MaxRounds > 0 && req.MaxRounds < maxRounds {
		maxRounds = req.MaxRounds
	}
	batchLimit := int(s.batchLimit.Load())
	if req.BatchLimit > 0 && req.BatchLimit < batchLimit {
		batchLimit = req.BatchLimit
	}

	res, err := serviceFrom(r).Converge(r.Context(), asOf, maxRounds, batchLimit)
	if err != nil {
		logger.Error("converge failed", "tenant_id", serviceFrom(r).TenantID, "err", err)
		respondError(w, http.StatusServiceUnavailable, "converge failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateAssumption(w http.ResponseWriter, r *http.Request) {
	svc := serviceFrom(r)

	var req CreateAssumptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Status == "" {
		req.Status = decisions.AssumptionValid
	}
	if req.Scope == "" {
		req.Scope = decisions.ScopeDecisionSpecific
	}
	if !req.Status.Valid() || !req.Scope.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status or scope", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := s.now().UTC()
	a := &decisions.Assumption{
		ID:          req.ID,
		TenantID:    svc.TenantID,
		Description: req.Description,
		Status:      req.Status,
		Scope:       req.Scope,
		ValidatedAt: &now,
	}
	if err := s.store.CreateAssumption(r.Context(), a); err != nil {
		respondStoreError(w, "failed to create assumption", err)
		return
	}

	// a new universal assumption is an input of every decision of the tenant
	if a.Scope == decisions.ScopeUniversal {
		svc.AssumptionChanged(r.Context(), evaluation.AssumptionChanged{
			AssumptionID: a.ID,
			Scope:        a.Scope,
			NewStatus:    a.Status,
		})
	}

	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAssumptionStatus(w http.ResponseWriter, r *http.Request) {
	svc := serviceFrom(r)
	id := chi.URLParam(r, "id")

	var req UpdateAssumptionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "status must be VALID, SHAKY or BROKEN", nil)
		return
	}

	a, err := s.store.GetAssumption(r.Context(), id)
	if err != nil {
		respondStoreError(w, "assumption not found", err)
		return
	}
	if a.TenantID != svc.TenantID {
		respondError(w, http.StatusNotFound, "assumption not found", nil)
		return
	}

	now := s.now().UTC()
	if err := s.store.SetAssumptionStatus(r.Context(), id, req.Status, now); err != nil {
		respondStoreError(w, "failed to update assumption", err)
		return
	}

	if a.Status != req.Status {
		svc.AssumptionChanged(r.Context(), evaluation.AssumptionChanged{
			AssumptionID: a.ID,
			Scope:        a.Scope,
			OldStatus:    a.Status,
			NewStatus:    req.Status,
		})
	}

	a.Status = req.Status
	a.ValidatedAt = &now
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateConstraint(w http.ResponseWriter, r *http.Request) {
	var req CreateConstraintRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	c := &decisions.Constraint{
		ID:             req.ID,
		TenantID:       serviceFrom(r).TenantID,
		Name:           req.Name,
		RuleExpression: req.RuleExpression,
		IsImmutable:    req.IsImmutable,
	}
	if err := s.engine.ValidateConstraint(*c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid constraint", err)
		return
	}
	if err := s.store.CreateConstraint(r.Context(), c); err != nil {
		respondStoreError(w, "failed to create constraint", err)
		return
	}

	respondJSON(w, http.StatusCreated, c)
}
