package vlprediction

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/vlpredict/internal/platform/auth"
)

// PredictionService is what the handler needs from Service.
type PredictionService interface {
	Assess(ctx context.Context, patientUUID string) (State, error)
	Stream(patientUUID string) State
	Validate(in PredictionInput) *ValidationError
	Predict(ctx context.Context, in PredictionInput) (PredictionResult, error)
}

type Handler struct {
	svc PredictionService
}

func NewHandler(svc PredictionService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the prediction routes on api. Extra middleware runs
// after the role check.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	chain := append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleClinician)}, mw...)

	api.GET("/patients/:patient/vl-suppression", h.GetPrediction, chain...)
	api.POST("/patients/:patient/vl-suppression/stream", h.StreamPrediction, chain...)
	api.POST("/vl-suppression/validate", h.ValidateInput, chain...)
	api.POST("/vl-suppression/predict", h.PredictInput, chain...)
}

type validationResponse struct {
	Valid   bool   `json:"valid"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

type predictionResponse struct {
	Prediction string `json:"prediction"`
}

type streamResponse struct {
	Topic string `json:"topic"`
	State State  `json:"state"`
}

func patientParam(c echo.Context) (string, error) {
	id, err := uuid.Parse(c.Param("patient"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid patient uuid")
	}
	return id.String(), nil
}

// GetPrediction runs a full session and returns the final state. Missing
// fields and prediction failures are reported inside the state.
func (h *Handler) GetPrediction(c echo.Context) error {
	patient, err := patientParam(c)
	if err != nil {
		return err
	}
	state, err := h.svc.Assess(c.Request().Context(), patient)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusGatewayTimeout, "prediction did not complete in time")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// StreamPrediction starts a background session whose states are pushed to
// the patient's websocket topic.
func (h *Handler) StreamPrediction(c echo.Context) error {
	patient, err := patientParam(c)
	if err != nil {
		return err
	}
	state := h.svc.Stream(patient)
	return c.JSON(http.StatusAccepted, streamResponse{Topic: Topic(patient), State: state})
}

func (h *Handler) ValidateInput(c echo.Context) error {
	var in PredictionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if verr := h.svc.Validate(in); verr != nil {
		return c.JSON(http.StatusOK, validationResponse{Field: verr.Field.String(), Message: verr.Message})
	}
	return c.JSON(http.StatusOK, validationResponse{Valid: true})
}

func (h *Handler) PredictInput(c echo.Context) error {
	var in PredictionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.Predict(c.Request().Context(), in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, validationResponse{Field: verr.Field.String(), Message: verr.Message})
		}
		var perr *PredictionError
		if errors.As(err, &perr) {
			return echo.NewHTTPError(http.StatusBadGateway, perr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, unexpectedErrorMessage)
	}
	return c.JSON(http.StatusOK, predictionResponse{Prediction: res.Classification})
}
