package syncadmin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/vlpredict/internal/platform/auth"
)

func newDatasetContext(e *echo.Echo, target, dataset string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("dataset")
	c.SetParamValues(dataset)
	return c, rec
}

func TestHandler_ListDatasets(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService(&mockRepo{}))

	c, rec := newDatasetContext(e, "/", "")
	if err := h.ListDatasets(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Datasets []Descriptor `json:"datasets"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Datasets) != 3 || body.Datasets[0].Name != DatasetFHIRProfiles {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetDataset(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService(&mockRepo{profiles: manyProfiles(25)}))

	c, rec := newDatasetContext(e, "/?page=3&page_size=10", string(DatasetFHIRProfiles))
	if err := h.GetDataset(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
		Page  int              `json:"page"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Data) != 5 || body.Total != 25 || body.Page != 3 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		dataset string
		export  bool
		repoErr error
		want    int
	}{
		{"unknown dataset", "/", "patients", false, nil, http.StatusNotFound},
		{"bad page size", "/?page_size=15", "sync-tasks", false, nil, http.StatusBadRequest},
		{"bad page", "/?page=0", "sync-tasks", false, nil, http.StatusBadRequest},
		{"upstream failure", "/", "sync-tasks", false, errors.New("down"), http.StatusBadGateway},
		{"unknown format", "/?format=xml", "sync-tasks", true, nil, http.StatusBadRequest},
		{"pdf", "/?format=pdf", "sync-tasks", true, nil, http.StatusNotImplemented},
		{"export unknown dataset", "/?format=csv", "patients", true, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			h := NewHandler(newTestService(&mockRepo{err: tt.repoErr}))
			c, _ := newDatasetContext(e, tt.target, tt.dataset)

			var err error
			if tt.export {
				err = h.ExportDataset(c)
			} else {
				err = h.GetDataset(c)
			}
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

func TestHandler_ExportDataset(t *testing.T) {
	repo := &mockRepo{profiles: []FHIRProfile{{UUID: "1", Name: "A", URL: "u", ProfileEnabled: true}}}

	tests := []struct {
		format      string
		wantFile    string
		wantBody    string
		contentType string
	}{
		{"", "attachment; filename=data.csv", "NAME,URL,UUID,PROFILE ENABLED\n\"A\",\"u\",\"1\",true", "text/csv; charset=utf-8"},
		{"json", "attachment; filename=data.json", `[{"name":"A","url":"u","uuid":"1","profileEnabled":true}]`, "application/json; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			e := echo.New()
			h := NewHandler(newTestService(repo))
			c, rec := newDatasetContext(e, "/?format="+tt.format, string(DatasetFHIRProfiles))

			if err := h.ExportDataset(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rec.Header().Get(echo.HeaderContentDisposition); got != tt.wantFile {
				t.Errorf("expected %q, got %q", tt.wantFile, got)
			}
			if got := rec.Header().Get(echo.HeaderContentType); got != tt.contentType {
				t.Errorf("expected content type %q, got %q", tt.contentType, got)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("unexpected body:\n%s\nwant:\n%s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_RoutesRequireAdmin(t *testing.T) {
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "u-1", []string{c.Request().Header.Get("X-Test-Role")})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(newTestService(&mockRepo{})).RegisterRoutes(api)

	for role, want := range map[string]int{"admin": http.StatusOK, "clinician": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/datasets", nil)
		req.Header.Set("X-Test-Role", role)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}
}
