package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"
)

// SagaStep is one forward write paired with its compensating inverse. The
// underlying store has no multi-object transaction, so ordered steps with
// recorded rollback outcomes are the undo path.
type SagaStep struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationResult records the rollback outcome for one completed step.
type CompensationResult struct {
	Step string `json:"step"`
	OK   bool   `json:"ok"`
	Err  string `json:"error,omitempty"`
}

// SagaOutcome reports which steps ran, where the sequence failed, and how
// compensation went. Irreconcilable is set when any compensation itself
// failed: that state is surfaced for human reconciliation, never hidden.
type SagaOutcome struct {
	Completed      []string             `json:"completed"`
	FailedStep     string               `json:"failed_step,omitempty"`
	FailedErr      string               `json:"failed_error,omitempty"`
	Compensations  []CompensationResult `json:"compensations,omitempty"`
	Irreconcilable bool                 `json:"irreconcilable,omitempty"`
}

// OK reports whether every step completed.
func (o *SagaOutcome) OK() bool { return o.FailedStep == "" }

// RunSaga executes steps in order. On a mid-sequence failure it runs the
// completed steps' compensations in reverse order and records each result.
func RunSaga(ctx context.Context, steps []SagaStep) *SagaOutcome {
	outcome := &SagaOutcome{}

	for i, step := range steps {
		if err := step.Run(ctx); err != nil {
			outcome.FailedStep = step.Name
			outcome.FailedErr = err.Error()

			for j := i - 1; j >= 0; j-- {
				prev := steps[j]
				res := CompensationResult{Step: prev.Name, OK: true}
				if prev.Compensate != nil {
					if cerr := prev.Compensate(ctx); cerr != nil {
						res.OK = false
						res.Err = cerr.Error()
						outcome.Irreconcilable = true
						log.Error().
							Str("step", prev.Name).
							Err(cerr).
							Msg("saga_compensation_failed")
					}
				}
				outcome.Compensations = append(outcome.Compensations, res)
			}
			return outcome
		}
		outcome.Completed = append(outcome.Completed, step.Name)
	}
	return outcome
}
