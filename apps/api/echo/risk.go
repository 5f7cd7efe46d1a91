package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core/risk"
)

type riskApi struct {
	svc      risk.ServiceInterface
	validate *validator.Validate
}

// registerRiskAPI mounts the risk endpoints; all of them are proctor-only,
// students never see their own profile.
func registerRiskAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := riskApi{svc: deps.RiskSvc, validate: deps.Validate}

	rg := g.Group("/students/:id/risk/:examID", jwt, proctorMiddleware())
	rg.GET("", api.profile)
	rg.POST("/recompute", api.recompute)
	rg.POST("/validate", api.validatePrediction)
}

// Handlers

func (api *riskApi) profile(ctx echo.Context) error {
	p, err := api.svc.GetOrCompute(ctx.Request().Context(), ctx.Param("id"), ctx.Param("examID"))
	if err != nil {
		return errors.Wrap(err, "getting risk profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *riskApi) recompute(ctx echo.Context) error {
	p, err := api.svc.Score(ctx.Request().Context(), ctx.Param("id"), ctx.Param("examID"))
	if err != nil {
		return errors.Wrap(err, "recomputing risk profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *riskApi) validatePrediction(ctx echo.Context) error {
	var data ValidatePredictionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ValidatePredictionRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	p, err := api.svc.ValidatePrediction(ctx.Request().Context(), ctx.Param("id"), ctx.Param("examID"), *data.ActualScore)
	if err != nil {
		if errors.Cause(err) == risk.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "validating prediction")
	}
	return ctx.JSON(http.StatusOK, p)
}

type ValidatePredictionRequest struct {
	ActualScore *float64 `json:"actual_score" validate:"required,min=0,max=100"`
}
