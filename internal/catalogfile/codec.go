// Package catalogfile reads and writes the editable catalog file.
//
// The format is one row per line, cells separated by a semicolon, and a
// header row naming the columns. Quoting is not supported: quote characters
// are kept as data, and a cell can never contain the delimiter or a line
// break.
package catalogfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/dramabot/internal/domain"
)

// Delimiter separates cells within a row
const Delimiter = ";"

// Column names, in the order Encode writes them
const (
	ColumnText   = "text"
	ColumnAuthor = "author"
	ColumnType   = "type"
)

// Header is the header row written by Encode
var Header = []string{ColumnText, ColumnAuthor, ColumnType}

// ErrMalformedRow marks a row that was skipped while decoding or encoding
var ErrMalformedRow = errors.New("malformed row")

// RowError describes a single row that could not be decoded or encoded.
// Line is the 1-based line number in the file when decoding and the 1-based
// position in the input slice when encoding.
type RowError struct {
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Is implements errors.Is support
func (e *RowError) Is(target error) bool {
	return target == ErrMalformedRow
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Decode parses catalog file content. Rows that cannot be decoded are
// skipped and returned alongside the entries; they never abort decoding.
// Content without a header row decodes to no entries.
func Decode(content []byte) ([]domain.CatalogEntry, []*RowError) {
	content = bytes.TrimPrefix(content, bom)
	lines := strings.Split(string(content), "\n")

	var (
		columns map[string]int
		width   int
		entries []domain.CatalogEntry
		skipped []*RowError
	)

	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		cells := strings.Split(line, Delimiter)

		if columns == nil {
			columns = make(map[string]int, len(cells))
			for idx, name := range cells {
				name = strings.ToLower(strings.TrimSpace(name))
				if _, dup := columns[name]; !dup {
					columns[name] = idx
				}
			}
			width = len(cells)
			continue
		}

		if len(cells) > width {
			skipped = append(skipped, &RowError{
				Line:   i + 1,
				Reason: fmt.Sprintf("%d cells but header has %d (delimiter inside a field?)", len(cells), width),
			})
			continue
		}
		if strings.Contains(line, "\r") {
			skipped = append(skipped, &RowError{Line: i + 1, Reason: "line break inside a field"})
			continue
		}

		entry := domain.CatalogEntry{
			Text:   cell(cells, columns, ColumnText),
			Author: cell(cells, columns, ColumnAuthor),
			Type:   cell(cells, columns, ColumnType),
		}
		if entry.Text == "" {
			skipped = append(skipped, &RowError{Line: i + 1, Reason: "text is empty"})
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped
}

// cell returns the named column of a row, "" when the header lacks the
// column or the row is shorter than the header
func cell(cells []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// Encode writes the header and then every representable entry in input
// order. Entries that cannot be written are reported and left out; the
// returned content still holds all the other rows.
func Encode(entries []domain.CatalogEntry) ([]byte, []*RowError) {
	var (
		buf    bytes.Buffer
		failed []*RowError
	)

	buf.WriteString(strings.Join(Header, Delimiter))
	buf.WriteByte('\n')

	for i, e := range entries {
		if reason := unencodable(e); reason != "" {
			failed = append(failed, &RowError{Line: i + 1, Reason: reason})
			continue
		}
		buf.WriteString(e.Text)
		buf.WriteString(Delimiter)
		buf.WriteString(e.Author)
		buf.WriteString(Delimiter)
		buf.WriteString(e.Type)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), failed
}

func unencodable(e domain.CatalogEntry) string {
	if e.Text == "" {
		return "text is empty"
	}
	for _, f := range []struct{ name, value string }{
		{ColumnText, e.Text},
		{ColumnAuthor, e.Author},
		{ColumnType, e.Type},
	} {
		if strings.Contains(f.value, Delimiter) {
			return fmt.Sprintf("%s contains the delimiter %q", f.name, Delimiter)
		}
		if strings.ContainsAny(f.value, "\r\n") {
			return fmt.Sprintf("%s contains a line break", f.name)
		}
	}
	return ""
}
