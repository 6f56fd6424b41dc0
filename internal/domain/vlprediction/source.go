package vlprediction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/vlpredict/internal/platform/logging"
	"github.com/ehr/vlpredict/internal/platform/openmrs"
	"github.com/ehr/vlpredict/pkg/fhirmodels"
)

// ErrPatientNotFound is returned by a Source that has no such patient.
var ErrPatientNotFound = errors.New("patient not found")

// Demographics are the patient attributes read from the patient resource.
type Demographics struct {
	Gender    string
	BirthDate string
	Name      string
}

// Source reads the clinical records the prediction inputs derive from.
type Source interface {
	Observations(ctx context.Context, patientUUID, conceptUUID string) ([]ObservationRecord, error)
	Encounters(ctx context.Context, patientUUID, conceptUUID string) ([]ObservationRecord, error)
	Demographics(ctx context.Context, patientUUID string) (Demographics, error)
}

// Concepts are the OpenMRS concept UUIDs each field is queried by.
type Concepts struct {
	ARTStartDate   string
	LastEncounter  string
	CurrentRegimen string
	ARVAdherence   string
	VLIndication   string
}

func DefaultConcepts() Concepts {
	return Concepts{
		ARTStartDate:   "ab505422-26d9-41f1-a079-c3d222000440",
		LastEncounter:  "59f36196-3ebe-4fea-be92-6fc9551c3a11",
		CurrentRegimen: "dd2b0b4d-30ab-102d-86b0-7a5022ba4115",
		ARVAdherence:   "dce03b2f-30ab-102d-86b0-7a5022ba4115",
		VLIndication:   "59f36196-3ebe-4fea-be92-6fc9551c3a11",
	}
}

// fetchGroup is one upstream query and the fields it resolves.
type fetchGroup struct {
	name   string
	fields []Field
	run    func(ctx context.Context, src Source, patient string) ([]Event, error)
}

// Fetcher resolves fields by querying a Source, one goroutine per query.
type Fetcher struct {
	source   Source
	concepts Concepts
	loc      *time.Location
	logger   zerolog.Logger
	groups   []fetchGroup
}

func NewFetcher(source Source, concepts Concepts, loc *time.Location, logger zerolog.Logger) *Fetcher {
	if loc == nil {
		loc = time.Local
	}
	f := &Fetcher{
		source:   source,
		concepts: concepts,
		loc:      loc,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
	f.groups = f.plan()
	return f
}

func (f *Fetcher) plan() []fetchGroup {
	firstDisplay := func(field Field, concept string) func(context.Context, Source, string) ([]Event, error) {
		return func(ctx context.Context, src Source, patient string) ([]Event, error) {
			recs, err := src.Observations(ctx, patient, concept)
			if err != nil {
				return nil, err
			}
			return []Event{resolved(field)(ExtractFirstDisplayValue(recs))}, nil
		}
	}

	return []fetchGroup{
		{
			name:   "last_encounter",
			fields: []Field{FieldLastEncounterDate},
			run: func(ctx context.Context, src Source, patient string) ([]Event, error) {
				recs, err := src.Encounters(ctx, patient, f.concepts.LastEncounter)
				if err != nil {
					return nil, err
				}
				return []Event{resolved(FieldLastEncounterDate)(ExtractMostRecentDate(recs, DateFromEncounterDatetime, f.loc))}, nil
			},
		},
		{
			name:   "art_start",
			fields: []Field{FieldARTStartDate},
			run: func(ctx context.Context, src Source, patient string) ([]Event, error) {
				recs, err := src.Observations(ctx, patient, f.concepts.ARTStartDate)
				if err != nil {
					return nil, err
				}
				return []Event{resolved(FieldARTStartDate)(ExtractMostRecentDate(recs, DateFromValue, f.loc))}, nil
			},
		},
		{
			name:   "demographics",
			fields: []Field{FieldDateOfBirth, FieldGender},
			run: func(ctx context.Context, src Source, patient string) ([]Event, error) {
				d, err := src.Demographics(ctx, patient)
				if errors.Is(err, ErrPatientNotFound) {
					return []Event{
						FieldResolved{Field: FieldDateOfBirth, Value: Absent()},
						FieldResolved{Field: FieldGender, Value: Absent()},
					}, nil
				}
				if err != nil {
					return nil, err
				}
				gender := Absent()
				if d.Gender != "" {
					gender = Present(d.Gender)
				}
				return []Event{
					PatientNameResolved{Name: d.Name},
					resolved(FieldDateOfBirth)(FormatDate(d.BirthDate, f.loc)),
					FieldResolved{Field: FieldGender, Value: gender},
				}, nil
			},
		},
		{
			name:   "adherence",
			fields: []Field{FieldARVAdherence},
			run:    firstDisplay(FieldARVAdherence, f.concepts.ARVAdherence),
		},
		{
			name:   "regimen",
			fields: []Field{FieldCurrentRegimen},
			run:    firstDisplay(FieldCurrentRegimen, f.concepts.CurrentRegimen),
		},
		{
			name:   "indication",
			fields: []Field{FieldVLIndication},
			run:    firstDisplay(FieldVLIndication, f.concepts.VLIndication),
		},
	}
}

// resolved turns an extractor's (value, ok) result into an event for field.
func resolved(field Field) func(string, bool) FieldResolved {
	return func(v string, ok bool) FieldResolved {
		if !ok {
			return FieldResolved{Field: field, Value: Absent()}
		}
		return FieldResolved{Field: field, Value: Present(v)}
	}
}

// Fetch queries every group covering one of fields concurrently and emits
// the resulting events. A failing query resolves its fields to
// FieldError(FetchErrorMessage). Fetch returns when all queries finished.
func (f *Fetcher) Fetch(ctx context.Context, patient string, fields []Field, emit func(Event)) {
	want := make(map[Field]bool, len(fields))
	for _, fl := range fields {
		want[fl] = true
	}

	var wg sync.WaitGroup
	for _, g := range f.groups {
		if !g.covers(want) {
			continue
		}
		wg.Add(1)
		go func(g fetchGroup) {
			defer wg.Done()
			events, err := g.run(ctx, f.source, patient)
			if err != nil {
				log := logging.FromContext(ctx, f.logger)
				log.Error().Err(err).
					Str("patient", patient).Str("query", g.name).Msg("field fetch failed")
				events = make([]Event, 0, len(g.fields))
				for _, fl := range g.fields {
					events = append(events, FieldResolved{Field: fl, Value: FieldError(FetchErrorMessage)})
				}
			}
			for _, ev := range events {
				emit(ev)
			}
		}(g)
	}
	wg.Wait()
}

func (g fetchGroup) covers(want map[Field]bool) bool {
	for _, fl := range g.fields {
		if want[fl] {
			return true
		}
	}
	return false
}

// OpenMRSClient is the subset of *openmrs.Client the OpenMRS source uses.
type OpenMRSClient interface {
	Observations(ctx context.Context, patientUUID, conceptUUID string) ([]openmrs.Observation, error)
	Encounters(ctx context.Context, patientUUID, conceptUUID string) ([]openmrs.Encounter, error)
	Patient(ctx context.Context, patientUUID string) (*fhirmodels.Patient, error)
}

// OpenMRSSource reads records through the OpenMRS REST and FHIR2 APIs.
type OpenMRSSource struct {
	client OpenMRSClient
}

func NewOpenMRSSource(client OpenMRSClient) *OpenMRSSource {
	return &OpenMRSSource{client: client}
}

func (s *OpenMRSSource) Observations(ctx context.Context, patientUUID, conceptUUID string) ([]ObservationRecord, error) {
	obs, err := s.client.Observations(ctx, patientUUID, conceptUUID)
	if err != nil {
		return nil, err
	}
	out := make([]ObservationRecord, len(obs))
	for i, o := range obs {
		out[i] = ObservationRecord{
			Display:     o.Value.Display,
			Value:       o.Value.Text,
			ObsDatetime: o.ObsDatetime,
		}
	}
	return out, nil
}

func (s *OpenMRSSource) Encounters(ctx context.Context, patientUUID, conceptUUID string) ([]ObservationRecord, error) {
	encs, err := s.client.Encounters(ctx, patientUUID, conceptUUID)
	if err != nil {
		return nil, err
	}
	out := make([]ObservationRecord, len(encs))
	for i, e := range encs {
		out[i] = ObservationRecord{Display: e.Display, EncounterDatetime: e.EncounterDatetime}
	}
	return out, nil
}

func (s *OpenMRSSource) Demographics(ctx context.Context, patientUUID string) (Demographics, error) {
	p, err := s.client.Patient(ctx, patientUUID)
	if errors.Is(err, openmrs.ErrNotFound) {
		return Demographics{}, ErrPatientNotFound
	}
	if err != nil {
		return Demographics{}, err
	}
	return Demographics{Gender: p.Gender, BirthDate: p.BirthDate, Name: p.DisplayName()}, nil
}
