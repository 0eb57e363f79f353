package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// DefaultMaxRounds bounds Converge when the caller passes no limit
const DefaultMaxRounds = 50

// Round is the accounting of one convergence round
type Round struct {
	Candidates int `json:"candidates"`
	Evaluated  int `json:"evaluated"`
	Changed    int `json:"changed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ConvergeResult reports a Converge run. Converged is true when a round
// found nothing left to evaluate.
type ConvergeResult struct {
	Rounds    []Round `json:"rounds"`
	Converged bool    `json:"converged"`
}

// Converge repeats "list due decisions, evaluate them, let rescores mark
// dependents" until a round evaluates nothing or maxRounds is reached.
// Because dependents are only marked when a verdict changes, the loop
// terminates on cyclic graphs once verdicts stop changing.
func (s *Service) Converge(ctx context.Context, asOf time.Time, maxRounds, batchLimit int) (ConvergeResult, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	var res ConvergeResult
	for i := 0; i < maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ids, err := s.dueDecisions(ctx, asOf, batchLimit)
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			res.Converged = true
			break
		}

		batch := s.Orchestrator.EvaluateBatch(ctx, ids, false, asOf)

		round := Round{
			Candidates: len(ids),
			Evaluated:  batch.Evaluated,
			Skipped:    batch.Skipped,
			Failed:     batch.Failed,
		}
		for _, out := range batch.Outcomes {
			if out.Result != nil && out.Result.ChangesDetected {
				round.Changed++
			}
		}
		res.Rounds = append(res.Rounds, round)

		logger.Debug("convergence round",
			"tenant_id", s.TenantID,
			"round", i+1,
			"candidates", round.Candidates,
			"evaluated", round.Evaluated,
			"changed", round.Changed,
			"failed", round.Failed,
		)

		// nothing evaluated means every candidate failed or was skipped;
		// another round would see the same list
		if batch.Evaluated == 0 {
			break
		}
	}

	return res, nil
}

// dueDecisions is shared by the sweeper and the API
func (s *Service) dueDecisions(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	ids, err := s.Gateway.ListDecisionsNeedingEvaluation(ctx, s.Oracle.SweepQuery(s.TenantID, asOf, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions needing evaluation: %w", err)
	}
	return ids, nil
}
