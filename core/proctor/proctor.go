// Package proctor wires the admission pipeline. Every student-originated
// exam request passes the session guard, the clock guard and the signal
// classifier, lands its signals on the ledger, and comes out of policy
// enforcement with exactly one decision value. Nothing in here panics the
// request: rejections and signals are data, storage failures are the only
// errors.
package proctor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
)

// Request is the per-request context coming off the wire.
type Request struct {
	StudentID string
	AttemptID string
	SessionID string
	ClientIP  string
	UserAgent string

	// payload
	AnswerText      string
	TimeSpent       *float64
	AnswerLatencies []float64
	ClientElapsed   *float64
	// ClientEvents are browser-reported violations (tab switch, blur...).
	ClientEvents []violation.Type
}

// Outcome is the pipeline's verdict for one request.
type Outcome struct {
	Attempt  attempt.Attempt
	Decision attempt.Decision
	// Rejected is set when SessionGuard refused admission before any
	// classification ran; Reason says why.
	Rejected bool
	Reason   session.RejectReason
	// Recorded are the violation types put on the ledger this request.
	Recorded []violation.Type
	Total    int
}

// Allowed reports whether the request may proceed (possibly with a warning).
func (o Outcome) Allowed() bool {
	return !o.Rejected && (o.Decision == attempt.DecisionAllow || o.Decision == attempt.DecisionWarn)
}

type Proctor struct {
	guard      *session.Guard
	clock      *session.ClockGuard
	ledger     *violation.Ledger
	enforcer   *attempt.Enforcer
	studentSvc student.ServiceInterface
	attemptSvc attempt.ServiceInterface
	examSvc    exam.ServiceInterface
	notifier   core.Notifier
}

func New(
	guard *session.Guard,
	clock *session.ClockGuard,
	ledger *violation.Ledger,
	enforcer *attempt.Enforcer,
	studentSvc student.ServiceInterface,
	attemptSvc attempt.ServiceInterface,
	examSvc exam.ServiceInterface,
	notifier core.Notifier,
) *Proctor {
	return &Proctor{
		guard:      guard,
		clock:      clock,
		ledger:     ledger,
		enforcer:   enforcer,
		studentSvc: studentSvc,
		attemptSvc: attemptSvc,
		examSvc:    examSvc,
		notifier:   notifier,
	}
}

// Process runs one request through the full pipeline and returns the
// decision. Detection signals never fail the request; a ledger write
// failure does, so no violation can slip by unrecorded.
func (p *Proctor) Process(ctx context.Context, req Request) (Outcome, error) {
	att, err := p.attemptSvc.GetByID(ctx, req.AttemptID)
	if err != nil {
		return Outcome{}, err
	}
	std, err := p.studentSvc.GetByID(ctx, att.StudentID)
	if err != nil {
		return Outcome{}, err
	}

	adm, err := p.guard.Admit(ctx, att, std, req.SessionID, req.ClientIP)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "admitting session")
	}
	if !adm.Allowed {
		if adm.Reason == session.RejectSuperseded {
			p.notifier.Notify(core.NewEvent(core.EventSessionSuperseded, map[string]interface{}{
				"attempt_id": att.ID,
				"session_id": req.SessionID,
			}))
		}
		return Outcome{Attempt: att, Decision: attempt.DecisionBlock, Rejected: true, Reason: adm.Reason}, nil
	}

	signals := adm.Signals
	signals = append(signals, p.clock.Check(att.ID, req.ClientElapsed)...)

	classified := violation.Classify(violation.RequestContext{
		StudentID:        std.ID,
		AttemptID:        att.ID,
		SessionID:        req.SessionID,
		ClientIP:         req.ClientIP,
		AttemptStartIP:   att.StartedIP,
		UserAgent:        req.UserAgent,
		AnswerText:       req.AnswerText,
		TimeSpentSeconds: req.TimeSpent,
		AnswerLatencies:  req.AnswerLatencies,
	})

	for _, typ := range req.ClientEvents {
		if typ.Valid() {
			classified = append(classified, violation.Violation{
				AttemptID:   att.ID,
				Type:        typ,
				Description: "client-reported event",
				SourceIP:    req.ClientIP,
			})
		}
	}
	for _, typ := range signals {
		classified = append(classified, violation.Violation{
			AttemptID:   att.ID,
			Type:        typ,
			Description: "server-side detection",
			SourceIP:    req.ClientIP,
		})
	}

	total := att.ViolationCount
	var trigger violation.Type
	var recorded []violation.Type
	for _, v := range classified {
		t, rerr := p.ledger.Record(ctx, v)
		if rerr == violation.ErrAttemptClosed {
			// lost a race against a terminal transition
			cur, gerr := p.attemptSvc.GetByID(ctx, att.ID)
			if gerr != nil {
				return Outcome{}, gerr
			}
			return Outcome{Attempt: cur, Decision: attempt.DecisionBlock, Rejected: true, Reason: session.RejectAttemptClosed, Recorded: recorded, Total: total}, nil
		}
		if rerr != nil {
			return Outcome{}, rerr
		}
		total = t
		recorded = append(recorded, v.Type)
		if v.Type.Critical() && !trigger.Critical() {
			trigger = v.Type
		} else if trigger == "" {
			trigger = v.Type
		}
	}

	ex, err := p.examSvc.GetByID(ctx, att.ExamID)
	if err != nil {
		return Outcome{}, err
	}

	decision, att, err := p.enforcer.Enforce(ctx, att, ex, total, trigger)
	if err != nil {
		return Outcome{}, err
	}
	if att.Status.Terminal() {
		p.guard.Forget(att.ID)
		p.clock.Forget(att.ID)
	}
	return Outcome{Attempt: att, Decision: decision, Recorded: recorded, Total: total}, nil
}
