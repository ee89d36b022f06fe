package amm

import (
	"time"

	"github.com/songzhibin97/ammswap/internal/errs"
	"github.com/songzhibin97/ammswap/internal/observability"
)

// Stage is a step of one swap attempt: quoting -> approving -> swapping -> settled|failed.
type Stage string

const (
	StageQuoting   Stage = "quoting"
	StageApproving Stage = "approving"
	StageSwapping  Stage = "swapping"
	StageSettled   Stage = "settled"
	StageFailed    Stage = "failed"
)

var nextStage = map[Stage]Stage{
	StageQuoting:   StageApproving,
	StageApproving: StageSwapping,
	StageSwapping:  StageSettled,
}

// attempt tracks the stage of a single Execute call. Stages only move forward.
type attempt struct {
	stage   Stage
	entered time.Time
	metrics *observability.Metrics
}

func newAttempt(metrics *observability.Metrics) *attempt {
	return &attempt{stage: StageQuoting, entered: time.Now(), metrics: metrics}
}

func (a *attempt) advance() {
	next, ok := nextStage[a.stage]
	if !ok {
		return
	}
	a.metrics.ObserveStage(string(a.stage), a.entered)
	a.stage = next
	a.entered = time.Now()
}

// fail tags err with the current stage and ends the attempt.
func (a *attempt) fail(err error, fallback errs.Kind) error {
	failed := a.stage
	if failed == StageSettled || failed == StageFailed {
		return err
	}
	a.metrics.ObserveStage(string(failed), a.entered)
	a.stage = StageFailed
	err = errs.WithStage(err, string(failed), fallback)
	a.metrics.RecordOutcome(string(errs.KindOf(err)))
	return err
}

func (a *attempt) settle() {
	a.advance()
	a.metrics.RecordOutcome(string(StageSettled))
}
