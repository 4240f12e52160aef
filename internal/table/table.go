// Package table holds recipient data: a shared column set and one Row per
// recipient.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// EmailColumn is the column every sendable row must carry.
const EmailColumn = "email"

// ErrNoHeader is returned when a CSV import has no usable header record.
var ErrNoHeader = errors.New("csv has no header row")

// DefaultColumns is the column set of a freshly created table.
var DefaultColumns = []string{EmailColumn, "var1", "var2"}

// Row maps column name to cell value. Absent cells read as "".
type Row map[string]string

// Email returns the recipient address of the row.
func (r Row) Email() string {
	return strings.TrimSpace(r[EmailColumn])
}

// Table is the recipient data for one merge: the column set shared by all
// rows and the rows themselves, in send order.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the default column set.
func New() *Table {
	return &Table{Columns: slices.Clone(DefaultColumns)}
}

// HasColumn reports whether name is part of the column set.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// AddColumn appends name to the column set unless it is already there.
// Existing rows read the new column as "".
func (t *Table) AddColumn(name string) {
	name = strings.TrimSpace(name)
	if name == "" || t.HasColumn(name) {
		return
	}
	t.Columns = append(t.Columns, name)
}

// WriteCSV writes the header and every row in column order.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, col := range t.Columns {
			record[j] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV imports a table. The first record is the header; every following
// non-blank record becomes a Row. Short records leave the missing cells
// empty, surplus cells are dropped.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	columns := make([]string, 0, len(header))
	for _, h := range header {
		columns = append(columns, strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	if isBlank(columns) {
		return nil, ErrNoHeader
	}

	t := &Table{Columns: columns}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
