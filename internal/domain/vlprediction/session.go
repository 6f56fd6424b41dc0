package vlprediction

import (
	"context"
	"errors"
)

// taskDone marks the end of one unit of work started for an effect.
type taskDone struct{}

func (taskDone) isEvent() {}

// session drives one patient's state machine. Only the run loop touches
// state; workers report back through events.
type session struct {
	svc     *Service
	pub     StatePublisher
	events  chan Event
	pending int
}

func (s *Service) run(ctx context.Context, patient string, pub StatePublisher) (State, error) {
	if pub == nil {
		pub = discardPublisher{}
	}
	ss := &session{svc: s, pub: pub, events: make(chan Event)}

	state, effects := Start(patient)
	pub.PublishState(ctx, state)
	ss.execute(ctx, effects)

	for ss.pending > 0 {
		select {
		case ev := <-ss.events:
			if _, ok := ev.(taskDone); ok {
				ss.pending--
				continue
			}
			next, effects := Reduce(state, ev, s.key)
			if next != state {
				state = next
				pub.PublishState(ctx, state)
			}
			ss.execute(ctx, effects)
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
	return state, nil
}

func (ss *session) execute(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case FetchFields:
			ss.spawn(ctx, func(emit func(Event)) {
				ss.svc.fetcher.Fetch(ctx, e.Patient, e.Fields, emit)
			})
		case RequestPrediction:
			ss.spawn(ctx, func(emit func(Event)) {
				res, err := ss.svc.predict(ctx, e.Key, e.Input)
				if err != nil {
					emit(PredictionFailed{Key: e.Key, Message: failureMessage(err)})
					return
				}
				emit(PredictionSucceeded{Key: e.Key, Result: res})
			})
		}
	}
}

// spawn runs work in a goroutine counted as pending until it returns.
func (ss *session) spawn(ctx context.Context, work func(emit func(Event))) {
	ss.pending++
	emit := func(ev Event) {
		select {
		case ss.events <- ev:
		case <-ctx.Done():
		}
	}
	go func() {
		defer emit(taskDone{})
		work(emit)
	}()
}

func failureMessage(err error) string {
	var pe *PredictionError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return unexpectedErrorMessage
}
