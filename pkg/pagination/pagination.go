package pagination

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// PageSizes is the enumerated set of page sizes a table may request.
var PageSizes = []int{10, 20, 30, 40, 50}

var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPage     = errors.New("invalid page number")
)

// Params holds 1-indexed page-number pagination parameters.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts pagination parameters from the echo context. Missing
// or non-numeric values fall back to the defaults; range checking is left to
// Validate so callers can report a 400 for out-of-set sizes.
func FromContext(c echo.Context) Params {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil {
		page = DefaultPage
	}

	size, err := strconv.Atoi(c.QueryParam("page_size"))
	if err != nil {
		size, err = strconv.Atoi(c.QueryParam("pageSize"))
	}
	if err != nil {
		size = DefaultPageSize
	}

	return Params{Page: page, PageSize: size}
}

// ValidPageSize reports whether n is one of PageSizes.
func ValidPageSize(n int) bool {
	for _, s := range PageSizes {
		if s == n {
			return true
		}
	}
	return false
}

// Validate checks the page size against PageSizes and the page against 1.
func (p Params) Validate() error {
	if !ValidPageSize(p.PageSize) {
		return fmt.Errorf("%w: %d (allowed: %v)", ErrInvalidPageSize, p.PageSize, PageSizes)
	}
	if p.Page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, p.Page)
	}
	return nil
}

// Offset returns the index of the first item on the page. Callers must
// bound Page first; see Page and HasNext.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// TotalPages returns the number of pages needed for total items.
func (p Params) TotalPages(total int) int {
	if p.PageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Page >= 1 && p.Page < p.TotalPages(total)
}

// Page returns the slice of items on page p. Pages past the end are empty.
func Page[T any](items []T, p Params) ([]T, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	// compare page numbers before multiplying so huge pages cannot overflow
	if p.Page > p.TotalPages(len(items)) {
		return []T{}, nil
	}
	start := p.Offset()
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], nil
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	HasMore    bool        `json:"has_more"`
	PageSizes  []int       `json:"page_sizes"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(total),
		HasMore:    p.HasNext(total),
		PageSizes:  PageSizes,
	}
}
