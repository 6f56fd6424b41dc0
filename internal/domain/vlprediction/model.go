package vlprediction

import (
	"encoding/json"
	"fmt"
)

// PredictionInput is the request body of the prediction service. All seven
// fields are required; dates are YYYY-MM-DD.
type PredictionInput struct {
	LastEncounterDate          string `json:"last_encounter_date"`
	ARTStartDate               string `json:"art_start_date"`
	DateOfBirth                string `json:"date_birth"`
	Gender                     string `json:"gender"`
	LastARVAdherence           string `json:"last_arv_adherence"`
	CurrentRegimen             string `json:"current_regimen"`
	LastIndicationForVLTesting string `json:"last_indication_for_VL_Testing"`
}

// PredictionResult is the classification returned by the prediction
// service, e.g. "Suppressed".
type PredictionResult struct {
	Classification string `json:"classification"`
}

// Field identifies one of the seven prediction inputs. The declaration
// order is the order in which missing fields are reported.
type Field int

const (
	FieldLastEncounterDate Field = iota
	FieldARTStartDate
	FieldDateOfBirth
	FieldGender
	FieldARVAdherence
	FieldCurrentRegimen
	FieldVLIndication

	fieldCount
)

// AllFields lists every field in reporting order.
var AllFields = []Field{
	FieldLastEncounterDate,
	FieldARTStartDate,
	FieldDateOfBirth,
	FieldGender,
	FieldARVAdherence,
	FieldCurrentRegimen,
	FieldVLIndication,
}

var fieldKeys = [fieldCount]string{
	"last_encounter_date",
	"art_start_date",
	"date_birth",
	"gender",
	"last_arv_adherence",
	"current_regimen",
	"last_indication_for_VL_Testing",
}

// String returns the field's JSON key in PredictionInput.
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldKeys[f]
}

func (f Field) MarshalText() ([]byte, error) {
	if f < 0 || f >= fieldCount {
		return nil, fmt.Errorf("unknown field %d", int(f))
	}
	return []byte(fieldKeys[f]), nil
}

// Get returns the input's value for f.
func (in PredictionInput) Get(f Field) string {
	switch f {
	case FieldLastEncounterDate:
		return in.LastEncounterDate
	case FieldARTStartDate:
		return in.ARTStartDate
	case FieldDateOfBirth:
		return in.DateOfBirth
	case FieldGender:
		return in.Gender
	case FieldARVAdherence:
		return in.LastARVAdherence
	case FieldCurrentRegimen:
		return in.CurrentRegimen
	case FieldVLIndication:
		return in.LastIndicationForVLTesting
	}
	return ""
}

// With returns a copy of in with f set to v.
func (in PredictionInput) With(f Field, v string) PredictionInput {
	switch f {
	case FieldLastEncounterDate:
		in.LastEncounterDate = v
	case FieldARTStartDate:
		in.ARTStartDate = v
	case FieldDateOfBirth:
		in.DateOfBirth = v
	case FieldGender:
		in.Gender = v
	case FieldARVAdherence:
		in.LastARVAdherence = v
	case FieldCurrentRegimen:
		in.CurrentRegimen = v
	case FieldVLIndication:
		in.LastIndicationForVLTesting = v
	}
	return in
}

// ValueKind tags a FieldValue.
type ValueKind int

const (
	KindLoading ValueKind = iota
	KindAbsent
	KindPresent
	KindError
)

var kindNames = map[ValueKind]string{
	KindLoading: "loading",
	KindAbsent:  "absent",
	KindPresent: "present",
	KindError:   "error",
}

func (k ValueKind) String() string { return kindNames[k] }

// FieldValue is the resolution state of one field. Only Present carries a
// value and only Error carries a message.
type FieldValue struct {
	Kind    ValueKind
	Value   string
	Message string
}

func Loading() FieldValue                  { return FieldValue{Kind: KindLoading} }
func Absent() FieldValue                   { return FieldValue{Kind: KindAbsent} }
func Present(v string) FieldValue          { return FieldValue{Kind: KindPresent, Value: v} }
func FieldError(message string) FieldValue { return FieldValue{Kind: KindError, Message: message} }

// Resolved reports whether the field is no longer loading.
func (v FieldValue) Resolved() bool { return v.Kind != KindLoading }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	out := struct {
		Status  string `json:"status"`
		Value   string `json:"value,omitempty"`
		Message string `json:"message,omitempty"`
	}{Status: v.Kind.String()}
	switch v.Kind {
	case KindPresent:
		out.Value = v.Value
	case KindError:
		out.Message = v.Message
	}
	return json.Marshal(out)
}

// Phase is the orchestrator's lifecycle position.
type Phase string

const (
	PhaseGathering  Phase = "gathering"
	PhaseInvalid    Phase = "invalid"
	PhasePredicting Phase = "predicting"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further transition happens without new
// field data.
func (p Phase) Terminal() bool {
	return p == PhaseInvalid || p == PhaseReady || p == PhaseFailed
}

// State is one patient's prediction workflow. It is a value: Reduce never
// mutates the state it is given.
type State struct {
	Patient     string
	PatientName string
	Phase       Phase
	Fields      [fieldCount]FieldValue
	Input       PredictionInput
	Validation  *ValidationError
	Key         string
	Result      *PredictionResult
	Error       string
}

// Field returns the current value of f.
func (s State) Field(f Field) FieldValue {
	if f < 0 || f >= fieldCount {
		return Absent()
	}
	return s.Fields[f]
}

func (s State) MarshalJSON() ([]byte, error) {
	fields := make(map[string]FieldValue, fieldCount)
	for _, f := range AllFields {
		fields[f.String()] = s.Fields[f]
	}

	out := struct {
		Patient     string                `json:"patient"`
		PatientName string                `json:"patient_name,omitempty"`
		Phase       Phase                 `json:"phase"`
		Fields      map[string]FieldValue `json:"fields"`
		Input       *PredictionInput      `json:"input,omitempty"`
		Validation  *ValidationError      `json:"validation,omitempty"`
		Prediction  string                `json:"prediction,omitempty"`
		Error       string                `json:"error,omitempty"`
	}{
		Patient:     s.Patient,
		PatientName: s.PatientName,
		Phase:       s.Phase,
		Fields:      fields,
		Validation:  s.Validation,
		Error:       s.Error,
	}
	if s.Phase == PhasePredicting || s.Phase == PhaseReady || s.Phase == PhaseFailed {
		in := s.Input
		out.Input = &in
	}
	if s.Result != nil {
		out.Prediction = s.Result.Classification
	}
	return json.Marshal(out)
}
