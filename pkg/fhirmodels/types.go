package fhirmodels

import "strings"

// AdministrativeGender codes per FHIR R4.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

var validGenders = map[string]bool{
	GenderMale: true, GenderFemale: true, GenderOther: true, GenderUnknown: true,
}

// IsValidGender reports whether g is an AdministrativeGender code.
func IsValidGender(g string) bool {
	return validGenders[g]
}

// HumanName is the subset of the FHIR HumanName datatype the chart uses.
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Patient is the subset of the FHIR R4 Patient resource read from the
// OpenMRS FHIR2 module.
type Patient struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id"`
	Gender       string      `json:"gender,omitempty"`
	BirthDate    string      `json:"birthDate,omitempty"`
	Name         []HumanName `json:"name,omitempty"`
}

// DisplayName renders the first name entry as "<given...> <family>".
// Returns an empty string when the patient has no name.
func (p *Patient) DisplayName() string {
	if p == nil || len(p.Name) == 0 {
		return ""
	}
	n := p.Name[0]
	if n.Text != "" && len(n.Given) == 0 && n.Family == "" {
		return n.Text
	}
	parts := append([]string{}, n.Given...)
	if n.Family != "" {
		parts = append(parts, n.Family)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
