package vlprediction

// ValidationError names the first missing prediction input.
type ValidationError struct {
	Field   Field  `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

var missingMessages = [fieldCount]string{
	"Patient has no last encounter date",
	"Patient has no ART start date",
	"Patient has no Date of birth",
	"Patient has no gender",
	"Patient has no ARV adherence",
	"Patient has no current regimen",
	"Patient has no indication for VL Testing",
}

// MissingMessage is the message reported when f is empty.
func MissingMessage(f Field) string {
	if f < 0 || f >= fieldCount {
		return ""
	}
	return missingMessages[f]
}

// Validate returns an error for the first empty field in reporting order,
// or nil when every field is set.
func Validate(in PredictionInput) *ValidationError {
	for _, f := range AllFields {
		if in.Get(f) == "" {
			return &ValidationError{Field: f, Message: missingMessages[f]}
		}
	}
	return nil
}
