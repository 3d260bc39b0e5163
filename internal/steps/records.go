package steps

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Records is a parsed metadata table keyed by normalized column names.
type Records struct {
	Header []string
	Rows   []map[string]string
}

// Column returns the values of one column in row order.
func (r Records) Column(name string) []string {
	out := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[name]
	}
	return out
}

// HasColumn reports whether the header contains name.
func (r Records) HasColumn(name string) bool {
	for _, col := range r.Header {
		if col == name {
			return true
		}
	}
	return false
}

// ReadRecords parses a CSV file whose first row is the header.
func ReadRecords(path string) (Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Records{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRecords(data)
}

// ParseRecords parses CSV bytes, normalizing header names and trimming cells.
// Rows whose cells are all empty are dropped.
func ParseRecords(data []byte) (Records, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Records{}, errors.New("csv is empty")
	}
	if err != nil {
		return Records{}, fmt.Errorf("read csv header: %w", err)
	}
	out := Records{Header: make([]string, len(header))}
	seen := map[string]int{}
	for i, col := range header {
		name := NormalizeHeader(col)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[NormalizeHeader(col)]++
		out.Header[i] = name
	}

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Records{}, fmt.Errorf("read csv: %w", err)
		}
		row := make(map[string]string, len(out.Header))
		empty := true
		for i, col := range out.Header {
			value := ""
			if i < len(fields) {
				value = strings.TrimSpace(fields[i])
			}
			if value != "" {
				empty = false
			}
			row[col] = value
		}
		if !empty {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Encode renders the records as CSV with the header first.
func (r Records) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(r.Header); err != nil {
		return nil, err
	}
	for _, row := range r.Rows {
		fields := make([]string, len(r.Header))
		for i, col := range r.Header {
			fields[i] = row[col]
		}
		if err := writer.Write(fields); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NormalizeHeader lowercases a column title and joins words with underscores.
func NormalizeHeader(value string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
