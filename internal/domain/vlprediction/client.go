package vlprediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/vlpredict/internal/platform/logging"
)

const (
	DefaultPredictionURL = "https://ai.mets.or.ug/predict"

	instrumentationName = "github.com/ehr/vlpredict/internal/domain/vlprediction"

	unexpectedErrorMessage = "An unexpected error occurred."
	maxResponseBytes       = 1 << 20
)

// ErrMissingClassification is wrapped when a 2xx response carries no
// Prediction.Client value.
var ErrMissingClassification = errors.New("prediction response has no classification")

// PredictionError is a failed prediction call. Message is what the user
// sees: the service's own error text when it supplied one.
type PredictionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PredictionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PredictionError) Unwrap() error { return e.Err }

// Predictor submits prediction inputs to a classification service.
type Predictor interface {
	Predict(ctx context.Context, in PredictionInput) (PredictionResult, error)
}

type predictionEnvelope struct {
	Prediction *struct {
		Client *string `json:"Client"`
	} `json:"Prediction"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// HTTPPredictor calls the prediction service over HTTP. It makes exactly one
// request per call and never retries.
type HTTPPredictor struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
	tracer     trace.Tracer
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
}

func NewHTTPPredictor(endpoint string, timeout time.Duration, logger zerolog.Logger) *HTTPPredictor {
	if endpoint == "" {
		endpoint = DefaultPredictionURL
	}
	p := &HTTPPredictor{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "predictor").Logger(),
		tracer:     otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if p.calls, err = meter.Int64Counter("vlprediction.predict.calls",
		metric.WithDescription("Prediction service calls by outcome")); err != nil {
		p.logger.Warn().Err(err).Msg("prediction call counter unavailable")
	}
	if p.latency, err = meter.Float64Histogram("vlprediction.predict.duration",
		metric.WithDescription("Prediction service call duration"),
		metric.WithUnit("ms")); err != nil {
		p.logger.Warn().Err(err).Msg("prediction latency histogram unavailable")
	}
	return p
}

// Endpoint is the URL predictions are posted to.
func (p *HTTPPredictor) Endpoint() string {
	return p.endpoint
}

func (p *HTTPPredictor) Predict(ctx context.Context, in PredictionInput) (PredictionResult, error) {
	ctx, span := p.tracer.Start(ctx, "vlprediction.predict", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", p.endpoint)))
	defer span.End()

	start := time.Now()
	res, err := p.do(ctx, in)
	p.record(ctx, start, err)

	log := logging.FromContext(ctx, p.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Msg("prediction failed")
		return PredictionResult{}, err
	}

	span.SetAttributes(attribute.String("vlprediction.classification", res.Classification))
	log.Debug().Str("classification", res.Classification).Msg("prediction received")
	return res, nil
}

func (p *HTTPPredictor) record(ctx context.Context, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if p.calls != nil {
		p.calls.Add(ctx, 1, attrs)
	}
	if p.latency != nil {
		p.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
}

func (p *HTTPPredictor) do(ctx context.Context, in PredictionInput) (PredictionResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return PredictionResult{}, &PredictionError{Message: unexpectedErrorMessage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return PredictionResult{}, &PredictionError{Message: unexpectedErrorMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return PredictionResult{}, &PredictionError{Message: unexpectedErrorMessage, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return PredictionResult{}, &PredictionError{StatusCode: resp.StatusCode, Message: unexpectedErrorMessage, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorEnvelope
		if json.Unmarshal(raw, &e) == nil && strings.TrimSpace(e.Error) != "" {
			return PredictionResult{}, &PredictionError{StatusCode: resp.StatusCode, Message: e.Error}
		}
		return PredictionResult{}, &PredictionError{
			StatusCode: resp.StatusCode,
			Message:    unexpectedErrorMessage,
			Err:        fmt.Errorf("prediction service returned status %d", resp.StatusCode),
		}
	}

	var env predictionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PredictionResult{}, &PredictionError{StatusCode: resp.StatusCode, Message: unexpectedErrorMessage, Err: err}
	}
	if env.Prediction == nil || env.Prediction.Client == nil {
		return PredictionResult{}, &PredictionError{
			StatusCode: resp.StatusCode,
			Message:    unexpectedErrorMessage,
			Err:        ErrMissingClassification,
		}
	}
	return PredictionResult{Classification: *env.Prediction.Client}, nil
}
