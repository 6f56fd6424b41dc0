// Package syncadmin serves the sync module administration tables: FHIR
// profiles, sync task types and sync task logs.
package syncadmin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/vlpredict/internal/domain/listing"
	"github.com/ehr/vlpredict/pkg/pagination"
)

var ErrUnknownDataset = errors.New("unknown dataset")

type Service struct {
	repo   Repository
	logger zerolog.Logger
	flight singleflight.Group
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "syncadmin").Logger()}
}

// Datasets lists every available dataset.
func (s *Service) Datasets() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Table returns one page of the rows of name matching query.
func (s *Service) Table(ctx context.Context, name Dataset, query string, p pagination.Params) (*pagination.Response, error) {
	desc, ok := Describe(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	matched := listing.Select(rows, listing.Filter(rows, desc.Columns, query))
	page, err := listing.Paginate(matched, p.PageSize, p.Page)
	if err != nil {
		return nil, err
	}
	return pagination.NewResponse(page, len(matched), p), nil
}

// Export writes every row of name matching query in format f.
func (s *Service) Export(ctx context.Context, w io.Writer, name Dataset, query string, f listing.Format) error {
	desc, ok := Describe(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	if f == listing.FormatPDF {
		return listing.ErrUnsupportedFormat
	}

	rows, err := s.load(ctx, name)
	if err != nil {
		return err
	}
	matched := listing.Select(rows, listing.Filter(rows, desc.Columns, query))
	return listing.Export(w, matched, desc.Columns, f)
}

// load fetches a dataset's rows. Concurrent loads of the same dataset share
// one upstream read, which outlives any single caller's cancellation; a
// cancelled caller stops waiting but the others still get the rows.
func (s *Service) load(ctx context.Context, name Dataset) ([]listing.Row, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(string(name), func() (interface{}, error) {
		return s.fetch(fetchCtx, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error().Err(res.Err).Str("dataset", string(name)).Msg("dataset load failed")
			return nil, res.Err
		}
		return res.Val.([]listing.Row), nil
	}
}

func (s *Service) fetch(ctx context.Context, name Dataset) ([]listing.Row, error) {
	switch name {
	case DatasetFHIRProfiles:
		items, err := s.repo.FHIRProfiles(ctx)
		return rowsOf(items, err)
	case DatasetSyncTaskTypes:
		items, err := s.repo.SyncTaskTypes(ctx)
		return rowsOf(items, err)
	case DatasetSyncTasks:
		items, err := s.repo.SyncTasks(ctx)
		return rowsOf(items, err)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
}

func rowsOf[T interface{ Row() listing.Row }](items []T, err error) ([]listing.Row, error) {
	if err != nil {
		return nil, err
	}
	rows := make([]listing.Row, len(items))
	for i, it := range items {
		rows[i] = it.Row()
	}
	return rows, nil
}
