package scoring

import (
	"github.com/adityaaa08012006/decivue-sub006/decisions"
)

// Facts flattens an evaluation context into the variables a constraint
// expression sees:
//
//	decision      {id, title, health, lifecycle, hasExpiry, expiryDate?, lastReviewedAt, createdAt}
//	assumptions   [{id, status, scope}]
//	dependencies  [{id, health, lifecycle}]
//	asOf          timestamp
func Facts(ec decisions.EvaluationContext) map[string]any {
	d := ec.Decision
	decision := map[string]any{
		"id":             d.ID,
		"title":          d.Title,
		"health":         int64(d.Health),
		"lifecycle":      string(d.Lifecycle),
		"hasExpiry":      d.ExpiryDate != nil,
		"lastReviewedAt": d.LastReviewedAt.UTC(),
		"createdAt":      d.CreatedAt.UTC(),
	}
	if d.ExpiryDate != nil {
		decision["expiryDate"] = d.ExpiryDate.UTC()
	}

	assumptions := make([]any, 0, len(ec.Assumptions))
	for _, a := range ec.Assumptions {
		assumptions = append(assumptions, map[string]any{
			"id":     a.ID,
			"status": string(a.Status),
			"scope":  string(a.Scope),
		})
	}

	deps := make([]any, 0, len(ec.Dependencies))
	for _, dep := range ec.Dependencies {
		deps = append(deps, map[string]any{
			"id":        dep.ID,
			"health":    int64(dep.Health),
			"lifecycle": string(dep.Lifecycle),
		})
	}

	return map[string]any{
		"decision":     decision,
		"assumptions":  assumptions,
		"dependencies": deps,
		"asOf":         ec.AsOf.UTC(),
	}
}
