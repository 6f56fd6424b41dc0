package vlprediction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSource serves canned records keyed by concept UUID.
type fakeSource struct {
	obs     map[string][]ObservationRecord
	encs    []ObservationRecord
	demo    Demographics
	demoErr error
	obsErr  map[string]error
	calls   int32
}

func (f *fakeSource) Observations(_ context.Context, _, concept string) ([]ObservationRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := f.obsErr[concept]; err != nil {
		return nil, err
	}
	return f.obs[concept], nil
}

func (f *fakeSource) Encounters(context.Context, string, string) ([]ObservationRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.encs, nil
}

func (f *fakeSource) Demographics(context.Context, string) (Demographics, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.demo, f.demoErr
}

func completeSource() *fakeSource {
	c := DefaultConcepts()
	return &fakeSource{
		obs: map[string][]ObservationRecord{
			c.ARTStartDate:   {{Value: "2019-03-04T00:00:00.000+0000"}},
			c.CurrentRegimen: {{Display: "TDF/3TC/DTG"}},
			c.ARVAdherence:   {{Display: "Good"}},
			c.VLIndication:   {{Display: "Routine"}},
		},
		encs: []ObservationRecord{{EncounterDatetime: "2024-01-10T09:30:00.000+0000"}},
		demo: Demographics{Gender: "female", BirthDate: "1990-04-12", Name: "Jane Doe"},
	}
}

// countingPredictor blocks on gate, when set, so concurrent callers overlap.
type countingPredictor struct {
	calls  int32
	gate   chan struct{}
	result PredictionResult
	err    error
}

func (p *countingPredictor) Predict(ctx context.Context, in PredictionInput) (PredictionResult, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.gate != nil {
		<-p.gate
	}
	return p.result, p.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []State
}

func (p *recordingPublisher) PublishState(_ context.Context, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
}

func (p *recordingPublisher) phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Phase, len(p.states))
	for i, s := range p.states {
		out[i] = s.Phase
	}
	return out
}

func newTestService(src Source, pred Predictor, pub StatePublisher) *Service {
	fetcher := NewFetcher(src, DefaultConcepts(), time.UTC, zerolog.Nop())
	return NewService(fetcher, pred, InputKey(testEndpoint), pub, zerolog.Nop())
}

func TestService_Assess_Ready(t *testing.T) {
	pred := &countingPredictor{result: PredictionResult{Classification: "Suppressed"}}
	pub := &recordingPublisher{}
	svc := newTestService(completeSource(), pred, pub)
	defer svc.Close()

	state, err := svc.Assess(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Phase != PhaseReady || state.Result.Classification != "Suppressed" {
		t.Fatalf("expected ready Suppressed, got %s %+v", state.Phase, state.Result)
	}
	if state.Input != completeInput() {
		t.Errorf("unexpected input %+v", state.Input)
	}
	if state.PatientName != "Jane Doe" {
		t.Errorf("expected patient name, got %q", state.PatientName)
	}
	if pred.calls != 1 {
		t.Errorf("expected 1 prediction call, got %d", pred.calls)
	}

	phases := pub.phases()
	if len(phases) < 3 || phases[0] != PhaseGathering || phases[len(phases)-1] != PhaseReady {
		t.Errorf("unexpected published phases %v", phases)
	}
	seenPredicting := false
	for _, p := range phases {
		if p == PhasePredicting {
			seenPredicting = true
		}
	}
	if !seenPredicting {
		t.Error("expected predicting to be published")
	}
}

func TestService_Assess_PatientNotFound(t *testing.T) {
	src := completeSource()
	src.demoErr = ErrPatientNotFound
	pred := &countingPredictor{}
	svc := newTestService(src, pred, nil)
	defer svc.Close()

	state, err := svc.Assess(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Phase != PhaseInvalid {
		t.Fatalf("expected invalid, got %s", state.Phase)
	}
	if state.Validation.Message != "Patient has no Date of birth" {
		t.Errorf("unexpected message %q", state.Validation.Message)
	}
	if state.Field(FieldGender).Kind != KindAbsent {
		t.Errorf("expected gender absent, got %s", state.Field(FieldGender).Kind)
	}
	if pred.calls != 0 {
		t.Error("predictor must not be called for invalid input")
	}
}

func TestService_Assess_FetchError(t *testing.T) {
	src := completeSource()
	src.obsErr = map[string]error{DefaultConcepts().ARVAdherence: errors.New("connection refused")}
	svc := newTestService(src, &countingPredictor{}, nil)
	defer svc.Close()

	state, err := svc.Assess(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := state.Field(FieldARVAdherence)
	if v.Kind != KindError || v.Message != FetchErrorMessage {
		t.Fatalf("expected fetch error on adherence, got %+v", v)
	}
	if state.Phase != PhaseInvalid || state.Validation.Field != FieldARVAdherence {
		t.Errorf("expected invalid on adherence, got %s %+v", state.Phase, state.Validation)
	}
}

func TestService_Assess_PredictionFailure(t *testing.T) {
	pred := &countingPredictor{err: &PredictionError{StatusCode: 400, Message: "bad input"}}
	svc := newTestService(completeSource(), pred, nil)
	defer svc.Close()

	state, err := svc.Assess(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Phase != PhaseFailed || state.Error != "bad input" {
		t.Errorf("expected failed with service message, got %s %q", state.Phase, state.Error)
	}
}

func TestService_Assess_UnexpectedFailure(t *testing.T) {
	pred := &countingPredictor{err: errors.New("boom")}
	svc := newTestService(completeSource(), pred, nil)
	defer svc.Close()

	state, _ := svc.Assess(context.Background(), "p-1")
	if state.Error != "An unexpected error occurred." {
		t.Errorf("expected generic message, got %q", state.Error)
	}
}

func TestService_ConcurrentSessionsShareOneCall(t *testing.T) {
	pred := &countingPredictor{gate: make(chan struct{}), result: PredictionResult{Classification: "Suppressed"}}
	svc := newTestService(completeSource(), pred, nil)
	defer svc.Close()

	const sessions = 5
	var wg sync.WaitGroup
	results := make([]State, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Assess(context.Background(), "p-1")
		}(i)
	}

	// wait for the first call to be in flight, then give the rest time to join it
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&pred.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(pred.gate)
	wg.Wait()

	if n := atomic.LoadInt32(&pred.calls); n != 1 {
		t.Errorf("expected 1 outbound call, got %d", n)
	}
	for i, s := range results {
		if s.Phase != PhaseReady {
			t.Errorf("session %d: expected ready, got %s", i, s.Phase)
		}
	}
}

func TestService_Assess_ContextCancelled(t *testing.T) {
	pred := &countingPredictor{gate: make(chan struct{})}
	svc := newTestService(completeSource(), pred, nil)
	defer svc.Close()
	defer close(pred.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	state, err := svc.Assess(ctx, "p-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if state.Phase != PhasePredicting {
		t.Errorf("expected to be stuck predicting, got %s", state.Phase)
	}
}

func TestService_Stream(t *testing.T) {
	pred := &countingPredictor{result: PredictionResult{Classification: "Suppressed"}}
	pub := &recordingPublisher{}
	svc := newTestService(completeSource(), pred, pub)

	initial := svc.Stream("p-1")
	if initial.Phase != PhaseGathering {
		t.Errorf("expected initial gathering, got %s", initial.Phase)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		phases := pub.phases()
		if len(phases) > 0 && phases[len(phases)-1] == PhaseReady {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	svc.Close()

	phases := pub.phases()
	if len(phases) == 0 || phases[len(phases)-1] != PhaseReady {
		t.Errorf("expected stream to publish ready, got %v", phases)
	}
}

func TestService_Predict(t *testing.T) {
	pred := &countingPredictor{result: PredictionResult{Classification: "Suppressed"}}
	svc := newTestService(completeSource(), pred, nil)
	defer svc.Close()

	_, err := svc.Predict(context.Background(), completeInput().With(FieldGender, ""))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != FieldGender {
		t.Fatalf("expected gender validation error, got %v", err)
	}
	if pred.calls != 0 {
		t.Error("predictor must not be called for invalid input")
	}

	res, err := svc.Predict(context.Background(), completeInput())
	if err != nil || res.Classification != "Suppressed" {
		t.Errorf("unexpected result %+v %v", res, err)
	}
}
