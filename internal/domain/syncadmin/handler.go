package syncadmin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/vlpredict/internal/domain/listing"
	"github.com/ehr/vlpredict/internal/platform/auth"
	"github.com/ehr/vlpredict/pkg/pagination"
)

// DatasetService is what the handler needs from Service.
type DatasetService interface {
	Datasets() []Descriptor
	Table(ctx context.Context, name Dataset, query string, p pagination.Params) (*pagination.Response, error)
	Export(ctx context.Context, w io.Writer, name Dataset, query string, f listing.Format) error
}

type Handler struct {
	svc DatasetService
}

func NewHandler(svc DatasetService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/datasets", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.ListDatasets)
	g.GET("/:dataset", h.GetDataset)
	g.GET("/:dataset/export", h.ExportDataset)
}

func (h *Handler) ListDatasets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"datasets": h.svc.Datasets()})
}

func (h *Handler) GetDataset(c echo.Context) error {
	resp, err := h.svc.Table(c.Request().Context(), Dataset(c.Param("dataset")), c.QueryParam("q"), pagination.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExportDataset(c echo.Context) error {
	name := c.QueryParam("format")
	if name == "" {
		name = string(listing.FormatCSV)
	}
	f, err := listing.ParseFormat(name)
	if err != nil {
		return httpError(err)
	}

	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), &buf, Dataset(c.Param("dataset")), c.QueryParam("q"), f); err != nil {
		return httpError(err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", listing.Filename(f)))
	return c.Blob(http.StatusOK, listing.ContentType(f), buf.Bytes())
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownDataset):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, listing.ErrInvalidPageSize), errors.Is(err, listing.ErrInvalidPage),
		errors.Is(err, listing.ErrUnknownFormat):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, listing.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "failed to load dataset")
	}
}
