package attempt

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
)

// Decision is the enforcement verdict for one admission.
type Decision string

const (
	DecisionAllow      Decision = "allow"
	DecisionWarn       Decision = "warn"
	DecisionAutoSubmit Decision = "auto_submit"
	DecisionBlock      Decision = "block"
)

// Evaluate maps the attempt's running total onto the exam's policy.
// critical marks that the triggering violation is a critical type; per exam
// config it either short-circuits to block or counts with a heavier weight.
// Terminal attempts always come out blocked: admission ended for good.
func Evaluate(att Attempt, ex exam.Exam, totalViolations int, critical bool) Decision {
	if att.Status.Terminal() {
		return DecisionBlock
	}

	if critical {
		switch ex.OnCritical {
		case exam.CriticalCounts:
			totalViolations += exam.CriticalWeight - 1
		default: // CriticalBlocks
			return DecisionBlock
		}
	}

	switch {
	case totalViolations < ex.WarningThreshold:
		return DecisionAllow
	case totalViolations < ex.MaxViolations:
		return DecisionWarn
	case ex.AutoSubmitOnMax:
		return DecisionAutoSubmit
	default:
		return DecisionBlock
	}
}

// Enforcer carries a Decision's side effects out: flagging on warn,
// terminal transitions, the account-level block, and proctor notifications.
type Enforcer struct {
	attemptSvc ServiceInterface
	studentSvc student.ServiceInterface
	notifier   core.Notifier
	logger     core.Logger
}

func NewEnforcer(attemptSvc ServiceInterface, studentSvc student.ServiceInterface, notifier core.Notifier, logger core.Logger) *Enforcer {
	return &Enforcer{attemptSvc: attemptSvc, studentSvc: studentSvc, notifier: notifier, logger: logger}
}

// Enforce evaluates the policy and applies it. The returned attempt
// reflects any transition that landed.
func (e *Enforcer) Enforce(ctx context.Context, att Attempt, ex exam.Exam, total int, trigger violation.Type) (Decision, Attempt, error) {
	decision := Evaluate(att, ex, total, trigger.Critical())

	switch decision {
	case DecisionAllow:

	case DecisionWarn:
		if !att.Flagged {
			if err := e.attemptSvc.Flag(ctx, att.ID); err != nil {
				return decision, att, errors.Wrap(err, "flagging attempt")
			}
			att.Flagged = true
		}

	case DecisionAutoSubmit:
		closed, err := e.attemptSvc.AutoSubmit(ctx, att.ID)
		if err == ErrTerminal {
			// racing writer already closed it; same outcome
			return decision, closed, nil
		}
		if err != nil {
			return decision, att, errors.Wrap(err, "auto-submitting attempt")
		}
		att = closed
		e.notifier.Notify(core.NewEvent(core.EventAttemptSubmitted, map[string]interface{}{
			"attempt_id": att.ID,
			"student_id": att.StudentID,
			"exam_id":    att.ExamID,
			"total":      total,
		}))

	case DecisionBlock:
		blocked, err := e.attemptSvc.Block(ctx, att.ID)
		if err == ErrTerminal {
			return decision, blocked, nil
		}
		if err != nil {
			return decision, att, errors.Wrap(err, "blocking attempt")
		}
		att = blocked

		// account-level effect: permanent until an administrator reverses it
		reason := blockReason(att, total, trigger)
		if _, err := e.studentSvc.Block(ctx, att.StudentID, reason); err != nil {
			return decision, att, errors.Wrap(err, "blocking student")
		}
		e.notifier.Notify(core.NewEvent(core.EventStudentBlocked, map[string]interface{}{
			"attempt_id": att.ID,
			"student_id": att.StudentID,
			"exam_id":    att.ExamID,
			"reason":     reason,
		}))
	}

	return decision, att, nil
}

func blockReason(att Attempt, total int, trigger violation.Type) string {
	if trigger.Critical() {
		return fmt.Sprintf("critical violation %q during exam %s", trigger, att.ExamID)
	}
	return fmt.Sprintf("%d violations during exam %s (limit reached)", total, att.ExamID)
}
