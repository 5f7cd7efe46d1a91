package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/proctor"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
	metricsvc "github.com/mitihani/backend/services/metrics"
)

type attemptApi struct {
	svc        attempt.ServiceInterface
	studentSvc student.ServiceInterface
	examSvc    exam.ServiceInterface
	ledger     *violation.Ledger
	proctor    *proctor.Proctor
	validate   *validator.Validate
}

func registerAttemptAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := attemptApi{
		svc:        deps.AttemptSvc,
		studentSvc: deps.StudentSvc,
		examSvc:    deps.ExamSvc,
		ledger:     deps.Ledger,
		proctor:    deps.Proctor,
		validate:   deps.Validate,
	}

	ag := g.Group("/attempts", jwt)
	ag.POST("/start", api.start)

	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/heartbeat", api.heartbeat)
	dg.POST("/answers", api.submitAnswer)
	dg.POST("/pause", api.pause)
	dg.POST("/resume", api.resume)
	dg.POST("/complete", api.complete)
	dg.GET("/violations", api.violations, proctorMiddleware())
}

// DecisionResponse is the machine-readable verdict attached to every
// admitted or rejected exam request.
type DecisionResponse struct {
	Decision   attempt.Decision     `json:"decision"`
	Reason     session.RejectReason `json:"reason,omitempty"`
	Status     attempt.Status       `json:"status"`
	Violations []violation.Type     `json:"violations,omitempty"`
	Total      int                  `json:"total"`
}

func newDecisionResponse(out proctor.Outcome) DecisionResponse {
	return DecisionResponse{
		Decision:   out.Decision,
		Reason:     out.Reason,
		Status:     out.Attempt.Status,
		Violations: out.Recorded,
		Total:      out.Total,
	}
}

// runPipeline sends the request through the admission pipeline. When the
// verdict does not let the request proceed it writes the 403 itself and
// returns proceed=false; the handler then just returns nil.
func (api *attemptApi) runPipeline(ctx echo.Context, attemptID string, pr ProctoredRequest, payload ...AnswerPayload) (proctor.Outcome, bool, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return proctor.Outcome{}, false, errors.Wrap(err, "getting context claims")
	}

	// ownership first, before the pipeline can move any session state;
	// requests are attempt-owner only, proctors read via their own routes
	att, err := api.svc.GetByID(ctx.Request().Context(), attemptID)
	if err != nil {
		if errors.Cause(err) == attempt.ErrNotFound {
			return proctor.Outcome{}, false, errHttpNotFound
		}
		return proctor.Outcome{}, false, errors.Wrap(err, "finding attempt by ID")
	}
	if att.StudentID != claims.Subject {
		return proctor.Outcome{}, false, errHttpNotFound
	}

	req := proctor.Request{
		StudentID:     claims.Subject,
		AttemptID:     attemptID,
		SessionID:     claims.SessionID,
		ClientIP:      ctx.RealIP(),
		UserAgent:     ctx.Request().UserAgent(),
		ClientElapsed: pr.ClientElapsed,
	}
	for _, ev := range pr.Events {
		req.ClientEvents = append(req.ClientEvents, violation.Type(ev))
	}
	if len(payload) > 0 {
		req.AnswerText = payload[0].Body
		req.TimeSpent = payload[0].TimeSpent
		req.AnswerLatencies = payload[0].Latencies
	}

	out, err := api.proctor.Process(ctx.Request().Context(), req)
	if err != nil {
		return out, false, errors.Wrap(err, "processing exam request")
	}

	for _, typ := range out.Recorded {
		metricsvc.ViolationRecorded(string(typ))
	}
	if out.Rejected {
		metricsvc.AdmissionRejected(string(out.Reason))
	} else {
		metricsvc.EnforcementDecision(string(out.Decision))
	}

	if !out.Allowed() {
		return out, false, ctx.JSON(http.StatusForbidden, newDecisionResponse(out))
	}
	return out, true, nil
}

// Handlers

func (api *attemptApi) start(ctx echo.Context) error {
	var data StartAttemptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartAttemptRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	std, err := getContextStudent(ctx, api.studentSvc, claims)
	if err != nil {
		return errors.Wrap(err, "getting context student")
	}
	if std.Blocked {
		return echo.NewHTTPError(http.StatusForbidden, string(session.RejectAccountBlocked))
	}

	rctx := ctx.Request().Context()
	sess, err := api.examSvc.GetSession(rctx, data.ExamSessionID)
	if err != nil {
		if errors.Cause(err) == exam.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding exam session")
	}
	if !sess.IsOpen(time.Now().UTC()) {
		return core.NewValidationError(nil, core.FieldError{Field: "exam_session_id", Error: "session is not open"})
	}

	att, err := api.svc.Start(rctx, claims.Subject, sess.ExamID, sess.ID, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *attemptApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	att, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attempt.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding attempt by ID")
	}
	if att.StudentID != claims.Subject && !(claims.IsProctor || claims.IsAdmin) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *attemptApi) heartbeat(ctx echo.Context) error {
	var data ProctoredRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProctoredRequest")
	}

	out, proceed, err := api.runPipeline(ctx, ctx.Param("id"), data)
	if err != nil || !proceed {
		return err
	}
	return ctx.JSON(http.StatusOK, newDecisionResponse(out))
}

func (api *attemptApi) submitAnswer(ctx echo.Context) error {
	var data AnswerRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnswerRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	out, proceed, err := api.runPipeline(ctx, ctx.Param("id"), data.ProctoredRequest, data.AnswerPayload)
	if err != nil || !proceed {
		return err
	}

	ans, err := api.svc.SubmitAnswer(ctx.Request().Context(), attempt.Answer{
		AttemptID:  out.Attempt.ID,
		QuestionID: data.QuestionID,
		Body:       data.Body,
		TimeSpent:  data.TimeSpent,
	})
	if err != nil {
		if errors.Cause(err) == attempt.ErrTerminal {
			// admitted, then lost a race against a terminal transition
			return errHttpConflict
		}
		return errors.Wrap(err, "submitting answer")
	}

	return ctx.JSON(http.StatusCreated, AnswerResponse{Answer: ans, Proctor: newDecisionResponse(out)})
}

func (api *attemptApi) pause(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Pause)
}

func (api *attemptApi) resume(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Resume)
}

func (api *attemptApi) transition(ctx echo.Context, do func(context.Context, string) (attempt.Attempt, error)) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rctx := ctx.Request().Context()
	att, err := api.svc.GetByID(rctx, ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attempt.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding attempt by ID")
	}
	if att.StudentID != claims.Subject {
		return errHttpNotFound
	}

	att, err = do(rctx, att.ID)
	if err != nil {
		switch errors.Cause(err) {
		case attempt.ErrTerminal:
			return echo.NewHTTPError(http.StatusForbidden, "attempt is closed")
		case attempt.ErrStatusConflict:
			return errHttpConflict
		}
		return errors.Wrap(err, "transitioning attempt")
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *attemptApi) complete(ctx echo.Context) error {
	var data ProctoredRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProctoredRequest")
	}

	out, proceed, err := api.runPipeline(ctx, ctx.Param("id"), data)
	if err != nil || !proceed {
		return err
	}

	att, err := api.svc.Complete(ctx.Request().Context(), out.Attempt.ID, nil)
	if err != nil {
		if errors.Cause(err) == attempt.ErrTerminal {
			return errHttpConflict
		}
		return errors.Wrap(err, "completing attempt")
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *attemptApi) violations(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	vs, err := api.ledger.ByAttempt(ctx.Request().Context(), ctx.Param("id"), ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying violations")
	}
	if vs == nil {
		vs = []violation.Violation{}
	}
	return ctx.JSON(http.StatusOK, vs)
}

type (
	StartAttemptRequest struct {
		ExamSessionID string `json:"exam_session_id" validate:"required"`
	}

	// ProctoredRequest carries the client-side proctoring envelope every
	// exam-scoped request may include.
	ProctoredRequest struct {
		ClientElapsed *float64 `json:"client_elapsed,omitempty"`
		Events        []string `json:"events,omitempty"`
	}

	AnswerPayload struct {
		QuestionID string    `json:"question_id" validate:"required"`
		Body       string    `json:"body"`
		TimeSpent  *float64  `json:"time_spent,omitempty"`
		Latencies  []float64 `json:"latencies,omitempty"`
	}

	AnswerRequest struct {
		ProctoredRequest
		AnswerPayload
	}

	AnswerResponse struct {
		Answer  attempt.Answer   `json:"answer"`
		Proctor DecisionResponse `json:"proctor"`
	}
)

func (sr *StartAttemptRequest) Validate(validate *validator.Validate) error {
	sr.ExamSessionID = core.CleanString(sr.ExamSessionID)
	return validate.Struct(sr)
}

func (ar *AnswerRequest) Validate(validate *validator.Validate) error {
	ar.QuestionID = core.CleanString(ar.QuestionID)
	return validate.Struct(ar)
}
