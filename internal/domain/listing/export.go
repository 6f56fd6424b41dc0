package listing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrUnknownFormat     = errors.New("unknown export format")
)

// ParseFormat maps a case-insensitive name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Filename is the attachment name offered for an export.
func Filename(f Format) string {
	return "data." + string(f)
}

func ContentType(f Format) string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Export writes rows in the given format.
//
// CSV output is the column headers joined by commas followed by one line
// per row whose cells are the JSON encoding of each value. Cells are not
// otherwise escaped and there is no trailing newline. A missing key yields
// an empty cell.
//
// JSON output is an array of objects holding the column keys in column
// order. PDF returns ErrUnsupportedFormat.
func Export(w io.Writer, rows []Row, columns []Column, f Format) error {
	switch f {
	case FormatCSV:
		return exportCSV(w, rows, columns)
	case FormatJSON:
		return exportJSON(w, rows, columns)
	case FormatPDF:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

func exportCSV(w io.Writer, rows []Row, columns []Column) error {
	var buf bytes.Buffer

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Header
	}
	buf.WriteString(strings.Join(headers, ","))

	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			v, ok := row[col.Key]
			if !ok {
				cells[i] = ""
				continue
			}
			enc, err := marshalValue(v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", col.Key, err)
			}
			cells[i] = string(enc)
		}
		buf.WriteByte('\n')
		buf.WriteString(strings.Join(cells, ","))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func exportJSON(w io.Writer, rows []Row, columns []Column) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, col := range columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalValue(col.Key)
			if err != nil {
				return err
			}
			val, err := marshalValue(row[col.Key])
			if err != nil {
				return fmt.Errorf("encode %s: %w", col.Key, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	_, err := w.Write(buf.Bytes())
	return err
}

// marshalValue is json.Marshal without HTML escaping.
func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
