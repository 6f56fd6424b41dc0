package vlprediction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	CacheKeyInput    = "input"
	CacheKeyEndpoint = "endpoint"
)

// KeyFunc maps an input to the key predictions are de-duplicated under.
type KeyFunc func(PredictionInput) string

// InputKey keys predictions by endpoint and input, so a changed input
// always triggers a new call.
func InputKey(endpoint string) KeyFunc {
	return func(in PredictionInput) string {
		h := sha256.New()
		h.Write([]byte(endpoint))
		h.Write([]byte{0})
		// struct field order makes the encoding canonical
		b, _ := json.Marshal(in)
		h.Write(b)
		return hex.EncodeToString(h.Sum(nil))
	}
}

// EndpointKey keys every prediction by the endpoint alone: once a result
// exists, input changes do not trigger a new call.
func EndpointKey(endpoint string) KeyFunc {
	return func(PredictionInput) string {
		return endpoint
	}
}

// NewKeyFunc returns the KeyFunc for a strategy name.
func NewKeyFunc(strategy, endpoint string) (KeyFunc, error) {
	switch strategy {
	case "", CacheKeyInput:
		return InputKey(endpoint), nil
	case CacheKeyEndpoint:
		return EndpointKey(endpoint), nil
	default:
		return nil, fmt.Errorf("unknown cache key strategy %q", strategy)
	}
}
