// Package listing filters, paginates and exports tabular datasets for the
// administration views.
package listing

import (
	"fmt"
	"strings"

	"github.com/ehr/vlpredict/pkg/pagination"
)

// Column describes one displayed column: the row key it reads and its
// header label.
type Column struct {
	Key    string `json:"key"`
	Header string `json:"header"`
}

// Row is one record keyed by column key.
type Row map[string]any

var (
	ErrInvalidPageSize = pagination.ErrInvalidPageSize
	ErrInvalidPage     = pagination.ErrInvalidPage
)

// Filter returns the indices of rows where any column value contains query,
// case-insensitively. Boolean values never match. An empty query matches
// every row.
func Filter(rows []Row, columns []Column, query string) []int {
	out := make([]int, 0, len(rows))
	needle := strings.ToLower(query)
	for i, row := range rows {
		if needle == "" || rowMatches(row, columns, needle) {
			out = append(out, i)
		}
	}
	return out
}

func rowMatches(row Row, columns []Column, needle string) bool {
	for _, col := range columns {
		v, ok := row[col.Key]
		if !ok || v == nil {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if strings.Contains(strings.ToLower(cellString(v)), needle) {
			return true
		}
	}
	return false
}

func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Select returns the rows at the given indices, in index order.
func Select(rows []Row, indices []int) []Row {
	out := make([]Row, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(rows) {
			out = append(out, rows[i])
		}
	}
	return out
}

// Paginate returns page (1-indexed) of rows. pageSize must be one of
// pagination.PageSizes; pages past the end are empty.
func Paginate(rows []Row, pageSize, page int) ([]Row, error) {
	return pagination.Page(rows, pagination.Params{Page: page, PageSize: pageSize})
}
