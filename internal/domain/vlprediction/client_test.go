package vlprediction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newPredictorServer(t *testing.T, status int, body string) (*HTTPPredictor, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewHTTPPredictor(srv.URL, 5*time.Second, zerolog.Nop()), &calls
}

func TestHTTPPredictor_Success(t *testing.T) {
	p, calls := newPredictorServer(t, http.StatusOK, `{"Prediction":{"Client":"Suppressed"}}`)

	res, err := p.Predict(context.Background(), completeInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Classification != "Suppressed" {
		t.Errorf("expected Suppressed, got %q", res.Classification)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", *calls)
	}
}

func TestHTTPPredictor_SendsExactKeys(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"Prediction":{"Client":"Not Suppressed"}}`)
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second, zerolog.Nop())
	if _, err := p.Predict(context.Background(), completeInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"last_encounter_date":            "2024-01-10",
		"art_start_date":                 "2019-03-04",
		"date_birth":                     "1990-04-12",
		"gender":                         "female",
		"last_arv_adherence":             "Good",
		"current_regimen":                "TDF/3TC/DTG",
		"last_indication_for_VL_Testing": "Routine",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestHTTPPredictor_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantIs      error
	}{
		{"service error text", http.StatusBadRequest, `{"error":"bad input"}`, "bad input", nil},
		{"server error without text", http.StatusInternalServerError, `oops`, "An unexpected error occurred.", nil},
		{"empty error text", http.StatusBadRequest, `{"error":""}`, "An unexpected error occurred.", nil},
		{"non-json success", http.StatusOK, `<html>`, "An unexpected error occurred.", nil},
		{"missing classification", http.StatusOK, `{"Prediction":{}}`, "An unexpected error occurred.", ErrMissingClassification},
		{"missing envelope", http.StatusOK, `{}`, "An unexpected error occurred.", ErrMissingClassification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPredictorServer(t, tt.status, tt.body)
			_, err := p.Predict(context.Background(), completeInput())

			var pe *PredictionError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *PredictionError, got %v", err)
			}
			if pe.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, pe.Message)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected error to wrap %v", tt.wantIs)
			}
		})
	}
}

func TestHTTPPredictor_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPPredictor(url, time.Second, zerolog.Nop())
	_, err := p.Predict(context.Background(), completeInput())

	var pe *PredictionError
	if !errors.As(err, &pe) || pe.Message != "An unexpected error occurred." {
		t.Fatalf("expected unexpected-error PredictionError, got %v", err)
	}
}

func TestNewHTTPPredictor_DefaultEndpoint(t *testing.T) {
	p := NewHTTPPredictor("", time.Second, zerolog.Nop())
	if p.Endpoint() != "https://ai.mets.or.ug/predict" {
		t.Errorf("unexpected default endpoint %s", p.Endpoint())
	}
}

func TestKeyFuncs(t *testing.T) {
	a := completeInput()
	b := completeInput().With(FieldCurrentRegimen, "AZT/3TC/NVP")

	input := InputKey("https://x/predict")
	if input(a) != input(completeInput()) {
		t.Error("input key must be stable")
	}
	if input(a) == input(b) {
		t.Error("input key must change with input")
	}
	if InputKey("https://y/predict")(a) == input(a) {
		t.Error("input key must include endpoint")
	}

	endpoint := EndpointKey("https://x/predict")
	if endpoint(a) != endpoint(b) || endpoint(a) != "https://x/predict" {
		t.Error("endpoint key must ignore input")
	}

	if _, err := NewKeyFunc("bogus", "u"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := NewKeyFunc("", "u"); err != nil {
		t.Errorf("empty strategy should default to input: %v", err)
	}
}
