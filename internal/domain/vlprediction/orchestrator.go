package vlprediction

// FetchErrorMessage is the field error shown when an upstream fetch fails.
const FetchErrorMessage = "An error occurred while fetching the data."

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// FieldResolved reports the outcome of fetching one field.
type FieldResolved struct {
	Field Field
	Value FieldValue
}

// PatientNameResolved carries the patient's display name for the UI header.
type PatientNameResolved struct {
	Name string
}

// PredictionSucceeded reports a classification for the call made under Key.
type PredictionSucceeded struct {
	Key    string
	Result PredictionResult
}

// PredictionFailed reports a failed call made under Key.
type PredictionFailed struct {
	Key     string
	Message string
}

func (FieldResolved) isEvent()       {}
func (PatientNameResolved) isEvent() {}
func (PredictionSucceeded) isEvent() {}
func (PredictionFailed) isEvent()    {}

// Effect is work Reduce asks the runtime to perform.
type Effect interface {
	isEffect()
}

// FetchFields asks for the given fields of Patient to be fetched.
type FetchFields struct {
	Patient string
	Fields  []Field
}

// RequestPrediction asks for one prediction call under Key.
type RequestPrediction struct {
	Key   string
	Input PredictionInput
}

func (FetchFields) isEffect()       {}
func (RequestPrediction) isEffect() {}

// Start returns the initial state for a patient with every field loading,
// and the effect that fetches them.
func Start(patientUUID string) (State, []Effect) {
	s := State{Patient: patientUUID, Phase: PhaseGathering}
	for _, f := range AllFields {
		s.Fields[f] = Loading()
	}
	fields := make([]Field, len(AllFields))
	copy(fields, AllFields)
	return s, []Effect{FetchFields{Patient: patientUUID, Fields: fields}}
}

// Reduce applies ev to s and returns the next state together with the
// effects to run. A prediction is requested only when every field is
// resolved, the input validates, and its key differs from the key already
// requested. Results for any key other than the current one are dropped.
func Reduce(s State, ev Event, key KeyFunc) (State, []Effect) {
	switch e := ev.(type) {
	case FieldResolved:
		if e.Field < 0 || e.Field >= fieldCount {
			return s, nil
		}
		s.Fields[e.Field] = e.Value
		return evaluate(s, key)

	case PatientNameResolved:
		s.PatientName = e.Name
		return s, nil

	case PredictionSucceeded:
		if s.Phase != PhasePredicting || e.Key != s.Key {
			return s, nil
		}
		r := e.Result
		s.Phase = PhaseReady
		s.Result = &r
		s.Error = ""
		return s, nil

	case PredictionFailed:
		if s.Phase != PhasePredicting || e.Key != s.Key {
			return s, nil
		}
		s.Phase = PhaseFailed
		s.Result = nil
		s.Error = e.Message
		return s, nil
	}
	return s, nil
}

func evaluate(s State, key KeyFunc) (State, []Effect) {
	s.Input = inputFromFields(s.Fields)

	for _, v := range s.Fields {
		if !v.Resolved() {
			return clearPrediction(s, PhaseGathering), nil
		}
	}

	if verr := Validate(s.Input); verr != nil {
		s = clearPrediction(s, PhaseInvalid)
		s.Validation = verr
		return s, nil
	}
	s.Validation = nil

	k := key(s.Input)
	if k == s.Key && (s.Phase == PhasePredicting || s.Phase == PhaseReady || s.Phase == PhaseFailed) {
		return s, nil
	}

	s.Phase = PhasePredicting
	s.Key = k
	s.Result = nil
	s.Error = ""
	return s, []Effect{RequestPrediction{Key: k, Input: s.Input}}
}

func clearPrediction(s State, phase Phase) State {
	s.Phase = phase
	s.Key = ""
	s.Result = nil
	s.Error = ""
	s.Validation = nil
	return s
}

func inputFromFields(fields [fieldCount]FieldValue) PredictionInput {
	var in PredictionInput
	for _, f := range AllFields {
		if fields[f].Kind == KindPresent {
			in = in.With(f, fields[f].Value)
		}
	}
	return in
}
