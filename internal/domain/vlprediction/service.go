// Package vlprediction gathers a patient's clinical fields, validates them
// and asks the prediction service whether the patient's viral load is
// expected to be suppressed.
package vlprediction

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const DefaultSessionTimeout = time.Minute

type Service struct {
	fetcher   *Fetcher
	predictor Predictor
	key       KeyFunc
	publisher StatePublisher
	logger    zerolog.Logger

	// flight shares one outbound prediction between concurrent callers
	// with the same key.
	flight singleflight.Group

	sessionTimeout time.Duration
	baseCtx        context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewService(fetcher *Fetcher, predictor Predictor, key KeyFunc, publisher StatePublisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		fetcher:        fetcher,
		predictor:      predictor,
		key:            key,
		publisher:      publisher,
		logger:         logger.With().Str("component", "vlprediction").Logger(),
		sessionTimeout: DefaultSessionTimeout,
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// SetSessionTimeout bounds background sessions started by Stream.
func (s *Service) SetSessionTimeout(d time.Duration) {
	if d > 0 {
		s.sessionTimeout = d
	}
}

// Assess runs a session to completion and returns its final state. Every
// transition is also published.
func (s *Service) Assess(ctx context.Context, patientUUID string) (State, error) {
	return s.run(ctx, patientUUID, s.publisher)
}

// Stream starts a session in the background and returns its initial state.
// Transitions reach subscribers through the publisher.
func (s *Service) Stream(patientUUID string) State {
	initial, _ := Start(patientUUID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.sessionTimeout)
		defer cancel()

		final, err := s.run(ctx, patientUUID, s.publisher)
		if err != nil {
			s.logger.Warn().Err(err).Str("patient", patientUUID).Str("phase", string(final.Phase)).Msg("stream session aborted")
			return
		}
		s.logger.Info().Str("patient", patientUUID).Str("phase", string(final.Phase)).Msg("stream session ended")
	}()

	return initial
}

// Validate checks an explicit input.
func (s *Service) Validate(in PredictionInput) *ValidationError {
	return Validate(in)
}

// Predict validates in and, when complete, requests a prediction. A
// missing field is returned as *ValidationError without calling out.
func (s *Service) Predict(ctx context.Context, in PredictionInput) (PredictionResult, error) {
	if verr := Validate(in); verr != nil {
		return PredictionResult{}, verr
	}
	return s.predict(ctx, s.key(in), in)
}

func (s *Service) predict(ctx context.Context, key string, in PredictionInput) (PredictionResult, error) {
	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		// A shared call outlives any single caller's cancellation.
		return s.predictor.Predict(context.WithoutCancel(ctx), in)
	})
	if shared {
		s.logger.Debug().Str("key", key).Msg("prediction shared with concurrent caller")
	}
	if err != nil {
		return PredictionResult{}, err
	}
	return v.(PredictionResult), nil
}

// Close cancels background sessions and waits for them to end.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
