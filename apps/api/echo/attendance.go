package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/attendance"
	"github.com/mitihani/backend/core/exam"
)

type attendanceApi struct {
	examSvc    exam.ServiceInterface
	attemptSvc attempt.ServiceInterface
	step       time.Duration
	validate   *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := attendanceApi{
		examSvc:    deps.ExamSvc,
		attemptSvc: deps.AttemptSvc,
		step:       deps.Conf.Proctor.AttendanceStep,
		validate:   deps.Validate,
	}

	sg := g.Group("/sessions/:id/attendance", jwt)
	sg.POST("/check-in", api.checkIn)

	// the raw code is for the proctor's screen only
	sg.GET("/code", api.currentCode, proctorMiddleware())
	sg.POST("/rotate", api.rotateSecret, proctorMiddleware())
}

// Handlers

// checkIn proves live presence: the submitted code must match the session's
// current or immediately previous rotation interval.
func (api *attendanceApi) checkIn(ctx echo.Context) error {
	var data CheckInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckInRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rctx := ctx.Request().Context()
	sess, err := api.examSvc.GetSession(rctx, ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == exam.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding exam session")
	}

	// only a student with a live attempt in this session can check in
	att, err := api.attemptSvc.GetActive(rctx, claims.Subject, sess.ID)
	if err != nil {
		if errors.Cause(err) == attempt.ErrNotFound {
			return echo.NewHTTPError(http.StatusForbidden, "no attempt in progress for this session")
		}
		return errors.Wrap(err, "finding active attempt")
	}

	window := attendance.NewWindow(sess, api.step)
	if !window.Validate(data.Code) {
		return core.NewValidationError(nil, core.FieldError{Field: "code", Error: "invalid or expired code"})
	}

	return ctx.JSON(http.StatusOK, CheckInResponse{AttemptID: att.ID, CheckedInAt: time.Now().UTC()})
}

func (api *attendanceApi) currentCode(ctx echo.Context) error {
	sess, err := api.examSvc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == exam.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding exam session")
	}

	window := attendance.NewWindow(sess, api.step)
	return ctx.JSON(http.StatusOK, CodeResponse{
		Code:      window.CurrentCode(),
		StepSecs:  int(window.Step / time.Second),
		SessionID: sess.ID,
	})
}

// rotateSecret invalidates every outstanding code at once, e.g. when a code
// leaks outside the exam hall.
func (api *attendanceApi) rotateSecret(ctx echo.Context) error {
	sess, err := api.examSvc.RotateAttendanceSecret(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		switch errors.Cause(err) {
		case exam.ErrNotFound:
			return errHttpNotFound
		case exam.ErrVersionConflict:
			return errHttpConflict
		}
		return errors.Wrap(err, "rotating attendance secret")
	}
	return ctx.JSON(http.StatusOK, sess)
}

type (
	CheckInRequest struct {
		Code string `json:"code" validate:"required"`
	}

	CheckInResponse struct {
		AttemptID   string    `json:"attempt_id"`
		CheckedInAt time.Time `json:"checked_in_at"`
	}

	CodeResponse struct {
		Code      string `json:"code"`
		StepSecs  int    `json:"step_secs"`
		SessionID string `json:"session_id"`
	}
)

func (cr *CheckInRequest) Validate(validate *validator.Validate) error {
	cr.Code = core.CleanString(cr.Code, true /* lower */)
	return validate.Struct(cr)
}
