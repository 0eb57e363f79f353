package main

import (
	"time"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
)

// API request and response models

// CreateTenantRequest is the body for creating or updating a tenant
type CreateTenantRequest struct {
	ID         string `json:"id" example:"acme"`
	Name       string `json:"name" example:"Acme Corp"`
	StaleHours int    `json:"staleHours,omitempty" example:"48"`
	SweepLimit int    `json:"sweepLimit,omitempty" example:"100"`
} // @name CreateTenantRequest

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID         string `json:"id" example:"acme"`
	Name       string `json:"name" example:"Acme Corp"`
	StaleHours int    `json:"staleHours,omitempty"`
	SweepLimit int    `json:"sweepLimit,omitempty"`
} // @name TenantResponse

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
} // @name TenantsListResponse

// CreateDecisionRequest is the body for creating a decision. An empty ID is
// generated by the server.
type CreateDecisionRequest struct {
	ID         string     `json:"id,omitempty" example:"d-42"`
	Title      string     `json:"title" example:"Adopt Postgres for the ledger"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty" example:"2027-01-01T00:00:00Z"`
} // @name CreateDecisionRequest

// CreateAssumptionRequest is the body for creating an assumption
type CreateAssumptionRequest struct {
	ID          string                     `json:"id,omitempty"`
	Description string                     `json:"description" example:"Traffic stays below 1k rps"`
	Status      decisions.AssumptionStatus `json:"status,omitempty" example:"VALID"`
	Scope       decisions.AssumptionScope  `json:"scope,omitempty" example:"DECISION_SPECIFIC"`
} // @name CreateAssumptionRequest

// UpdateAssumptionStatusRequest is the body for changing an assumption's status
type UpdateAssumptionStatusRequest struct {
	Status decisions.AssumptionStatus `json:"status" example:"BROKEN"`
} // @name UpdateAssumptionStatusRequest

// CreateConstraintRequest is the body for creating a constraint
type CreateConstraintRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name" example:"health_floor"`
	RuleExpression string `json:"ruleExpression" example:"decision.health >= 50"`
	IsImmutable    bool   `json:"isImmutable" example:"false"`
} // @name CreateConstraintRequest

// LinkRequest links an assumption or a constraint to a decision
type LinkRequest struct {
	AssumptionID string `json:"assumptionId,omitempty"`
	ConstraintID string `json:"constraintId,omitempty"`
} // @name LinkRequest

// AddDependencyRequest adds an edge from the path decision to TargetDecisionID
type AddDependencyRequest struct {
	TargetDecisionID string `json:"targetDecisionId" example:"d-7"`
} // @name AddDependencyRequest

// EvaluateBatchRequest represents the request body for a batch evaluation
type EvaluateBatchRequest struct {
	IDs   []string `json:"ids" example:"d-1,d-2"`
	Force bool     `json:"force,omitempty"`
} // @name EvaluateBatchRequest

// ConvergeRequest bounds a converge run. Zero values use the server defaults.
type ConvergeRequest struct {
	MaxRounds  int `json:"maxRounds,omitempty" example:"10"`
	BatchLimit int `json:"batchLimit,omitempty" example:"100"`
} // @name ConvergeRequest

// StalenessResponse is the oracle verdict for one decision
type StalenessResponse struct {
	DecisionID string    `json:"decisionId"`
	AsOf       time.Time `json:"asOf"`
	evaluation.Verdict
} // @name StalenessResponse

// PropagationResponse reports a published change event
type PropagationResponse struct {
	Status string               `json:"status" example:"propagated"`
	Event  evaluation.EventType `json:"event" example:"dependency.changed"`
} // @name PropagationResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"decision not found"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty" example:"not_found"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	TenantsLoaded int    `json:"tenantsLoaded"`
	Error         string `json:"error,omitempty"`
} // @name HealthResponse
