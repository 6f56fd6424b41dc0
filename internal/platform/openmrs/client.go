// Package openmrs is a read-only client for the OpenMRS REST and FHIR2 APIs.
package openmrs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/vlpredict/pkg/fhirmodels"
)

const (
	restPrefix = "/ws/rest/v1"
	fhirPrefix = "/ws/fhir2/R4"

	defaultTimeout  = 10 * time.Second
	defaultMaxPages = 10
)

// ErrNotFound is returned when OpenMRS answers 404.
var ErrNotFound = errors.New("openmrs: resource not found")

// StatusError is a non-2xx answer from OpenMRS.
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openmrs %s returned status %d", e.Path, e.StatusCode)
}

type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// MaxPages bounds how many next links a list call follows.
	MaxPages   int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Client struct {
	base       *url.URL
	username   string
	password   string
	maxPages   int
	httpClient *http.Client
	logger     zerolog.Logger
	tracer     trace.Tracer
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse openmrs base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("openmrs base url %q must be absolute", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	return &Client{
		base:       base,
		username:   opts.Username,
		password:   opts.Password,
		maxPages:   maxPages,
		httpClient: hc,
		logger:     opts.Logger.With().Str("component", "openmrs").Logger(),
		tracer:     otel.Tracer("github.com/ehr/vlpredict/internal/platform/openmrs"),
	}, nil
}

// Observations lists the patient's observations for one concept.
func (c *Client) Observations(ctx context.Context, patientUUID, conceptUUID string) ([]Observation, error) {
	q := url.Values{}
	q.Set("concept", conceptUUID)
	q.Set("patient", patientUUID)
	q.Set("v", "full")
	return list[Observation](ctx, c, restPrefix+"/obs", q)
}

// Encounters lists the patient's encounters filtered by concept.
func (c *Client) Encounters(ctx context.Context, patientUUID, conceptUUID string) ([]Encounter, error) {
	q := url.Values{}
	q.Set("patient", patientUUID)
	q.Set("concept", conceptUUID)
	q.Set("v", "default")
	return list[Encounter](ctx, c, restPrefix+"/encounter", q)
}

// Patient reads the FHIR Patient resource.
func (c *Client) Patient(ctx context.Context, patientUUID string) (*fhirmodels.Patient, error) {
	ctx, span := c.tracer.Start(ctx, "openmrs.patient", trace.WithAttributes(
		attribute.String("openmrs.patient", patientUUID),
	))
	defer span.End()

	u := c.resolve(fhirPrefix+"/Patient/"+url.PathEscape(patientUUID), nil)
	var p fhirmodels.Patient
	if err := c.getJSON(ctx, u, "application/fhir+json", &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &p, nil
}

func (c *Client) SyncTaskTypes(ctx context.Context) ([]SyncTaskType, error) {
	return list[SyncTaskType](ctx, c, restPrefix+"/synctasktype", url.Values{"v": {"full"}})
}

func (c *Client) SyncTasks(ctx context.Context) ([]SyncTask, error) {
	return list[SyncTask](ctx, c, restPrefix+"/synctask", url.Values{"v": {"full"}})
}

func (c *Client) SyncFHIRProfiles(ctx context.Context) ([]SyncFHIRProfile, error) {
	return list[SyncFHIRProfile](ctx, c, restPrefix+"/syncfhirprofile", url.Values{"v": {"full"}})
}

// list fetches path and follows next links, up to maxPages pages. Results
// past the limit are dropped with a warning.
func list[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	ctx, span := c.tracer.Start(ctx, "openmrs.list", trace.WithAttributes(
		attribute.String("openmrs.path", path),
	))
	defer span.End()

	var out []T
	next := c.resolve(path, q)
	pages := 0
	for next != "" {
		if pages == c.maxPages {
			c.logger.Warn().Str("path", path).Int("max_pages", c.maxPages).Msg("page limit reached, results truncated")
			break
		}

		var page Page[T]
		if err := c.getJSON(ctx, next, "application/json", &page); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		pages++
		out = append(out, page.Results...)

		next = ""
		if uri, ok := page.Next(); ok {
			rehomed, err := c.rehome(uri)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			next = rehomed
		}
	}

	span.SetAttributes(attribute.Int("openmrs.pages", pages), attribute.Int("openmrs.results", len(out)))
	return out, nil
}

func (c *Client) resolve(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// rehome keeps the path and query of a next link but points it at the
// configured host. OpenMRS builds links from its own view of the host,
// which behind a proxy is not the address this client uses.
func (c *Client) rehome(uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	u := c.base.ResolveReference(ref)
	u.Scheme = c.base.Scheme
	u.Host = c.base.Host
	u.User = nil
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, accept string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", accept)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openmrs request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("openmrs call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Path: req.URL.Path}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode openmrs response: %w", err)
	}
	return nil
}
