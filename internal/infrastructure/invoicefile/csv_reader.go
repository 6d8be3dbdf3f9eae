package invoicefile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// csvReader reads a header row and maps each following record onto it.
type csvReader struct {
	reader    *csv.Reader
	headers   []string
	headerIdx map[string]int
}

// newCSVReader strips a UTF-8 BOM and rejects empty or non-UTF-8 input.
func newCSVReader(data []byte, delimiter rune) (*csvReader, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	return &csvReader{reader: r, headerIdx: make(map[string]int)}, nil
}

func (c *csvReader) readHeader() error {
	record, err := c.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	c.headers = make([]string, len(record))
	for i, h := range record {
		h = strings.TrimSpace(h)
		c.headers[i] = h
		c.headerIdx[strings.ToLower(h)] = i
	}
	return nil
}

// missing returns the required columns absent from the header, compared
// case-insensitively.
func (c *csvReader) missing(required []string) []string {
	var out []string
	for _, h := range required {
		if _, ok := c.headerIdx[strings.ToLower(h)]; !ok {
			out = append(out, h)
		}
	}
	return out
}

type csvRow struct {
	line   int
	fields []string
	index  map[string]int
}

func (r csvRow) get(column string) string {
	i, ok := r.index[strings.ToLower(column)]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r csvRow) empty() bool {
	for _, f := range r.fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// next returns io.EOF after the last record.
func (c *csvReader) next() (csvRow, error) {
	record, err := c.reader.Read()
	if err == io.EOF {
		return csvRow{}, io.EOF
	}
	if err != nil {
		return csvRow{}, err
	}
	// the csv reader skips blank lines, so ask it for the physical line
	line, _ := c.reader.FieldPos(0)
	return csvRow{line: line, fields: record, index: c.headerIdx}, nil
}
