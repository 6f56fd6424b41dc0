package openmrs

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ref is the minimal {uuid, display} representation OpenMRS embeds for
// linked resources.
type Ref struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

// Link is one entry of a result envelope's links array.
type Link struct {
	Rel string `json:"rel"`
	URI string `json:"uri"`
}

// Page is one page of a REST list response.
type Page[T any] struct {
	Results []T    `json:"results"`
	Links   []Link `json:"links,omitempty"`
}

// Next returns the uri of the rel=next link.
func (p Page[T]) Next() (string, bool) {
	for _, l := range p.Links {
		if l.Rel == "next" && l.URI != "" {
			return l.URI, true
		}
	}
	return "", false
}

// ObsValue holds an observation value, which OpenMRS serialises as a
// string (text, date), a number, or a concept reference object.
type ObsValue struct {
	// Text is the scalar value as a string. Empty for coded values.
	Text string
	// Display is the label of a coded value.
	Display string
	UUID    string
}

func (v *ObsValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ObsValue{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ObsValue{Text: s}
	case '{':
		var ref Ref
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*v = ObsValue{Display: ref.Display, UUID: ref.UUID}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = ObsValue{Text: fmt.Sprint(b)}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("obs value: %w", err)
		}
		*v = ObsValue{Text: n.String()}
	}
	return nil
}

func (v ObsValue) MarshalJSON() ([]byte, error) {
	if v.Display != "" || v.UUID != "" {
		return json.Marshal(Ref{UUID: v.UUID, Display: v.Display})
	}
	if v.Text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(v.Text)
}

// Observation is an obs resource as returned with v=full.
type Observation struct {
	UUID        string   `json:"uuid"`
	Display     string   `json:"display,omitempty"`
	Concept     *Ref     `json:"concept,omitempty"`
	Person      *Ref     `json:"person,omitempty"`
	ObsDatetime string   `json:"obsDatetime,omitempty"`
	Value       ObsValue `json:"value"`
	Encounter   *Ref     `json:"encounter,omitempty"`
}

// Encounter is an encounter resource as returned with v=default.
type Encounter struct {
	UUID              string `json:"uuid"`
	Display           string `json:"display,omitempty"`
	EncounterDatetime string `json:"encounterDatetime,omitempty"`
	EncounterType     *Ref   `json:"encounterType,omitempty"`
	Patient           *Ref   `json:"patient,omitempty"`
}

// SyncTaskType is a configured sync task type of the sync module.
type SyncTaskType struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	URL      string `json:"url"`
}

// SyncTask is one sync task log entry.
type SyncTask struct {
	UUID            string `json:"uuid"`
	SyncTask        string `json:"syncTask"`
	SyncTaskType    *Ref   `json:"syncTaskType,omitempty"`
	Status          string `json:"status"`
	StatusCode      int    `json:"statusCode"`
	ActionCompleted bool   `json:"actionCompleted"`
	RequireAction   bool   `json:"requireAction"`
	DateSent        string `json:"dateSent,omitempty"`
}

// SyncFHIRProfile is a FHIR export profile of the sync module.
type SyncFHIRProfile struct {
	UUID           string `json:"uuid"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	ProfileEnabled bool   `json:"profileEnabled"`
}
