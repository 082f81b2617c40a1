// Package csvfile persists flagged HPD records as CSV, one row per record in
// input order.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/precip-etl/internal/domain"
)

const dateLayout = "2006-01-02"

// Header is the column order of the transformed table. Year, month, and day
// are folded into the date column.
var Header = []string{
	"Record-Type",
	"State-Code",
	"Cooperative Network Index Number",
	"Cooperative Network Division Number",
	"Element-Type",
	"Element-Units",
	"Number-Reported-Values",
	"Time-Of-Value",
	"Data-Value",
	"FLAG1",
	"date",
	"Was-Deleted",
	"Is-Missing",
}

// Table reads and writes transformed CSV files.
type Table struct{}

// NewTable creates a CSV table store.
func NewTable() *Table { return &Table{} }

// Write replaces the file at path with the header and one row per record.
// The file is written to a temporary sibling first and renamed into place.
func (t *Table) Write(path string, records []domain.FlaggedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transformed-*.csv")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if err := Encode(tmp, records); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Read parses a file written by Write.
func (t *Table) Read(path string) ([]domain.FlaggedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes the header and records as CSV.
func Encode(w io.Writer, records []domain.FlaggedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(toRow(records[i])); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Decode reads CSV produced by Encode.
func Decode(r io.Reader) ([]domain.FlaggedRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range Header {
		if header[i] != h {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], h)
		}
	}

	records := []domain.FlaggedRecord{}
	for row := 2; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		rec, err := fromRow(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func toRow(r domain.FlaggedRecord) []string {
	return []string{
		r.RecordType,
		strconv.Itoa(r.StateCode),
		strconv.Itoa(r.StationIndex),
		strconv.Itoa(r.Division),
		r.ElementType,
		r.ElementUnits,
		strconv.Itoa(r.ReportedValues),
		strconv.Itoa(r.TimeOfValue),
		strconv.Itoa(r.DataValue),
		r.Flag,
		r.Date.Format(dateLayout),
		strconv.FormatBool(r.WasDeleted),
		strconv.FormatBool(r.IsMissing),
	}
}

func fromRow(f []string) (domain.FlaggedRecord, error) {
	var (
		rec  domain.FlaggedRecord
		errs []error
	)
	atoi := func(col int) int {
		v, err := strconv.Atoi(f[col])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Header[col], err))
		}
		return v
	}
	parseBool := func(col int) bool {
		v, err := strconv.ParseBool(f[col])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Header[col], err))
		}
		return v
	}

	rec.RecordType = f[0]
	rec.StateCode = atoi(1)
	rec.StationIndex = atoi(2)
	rec.Division = atoi(3)
	rec.ElementType = f[4]
	rec.ElementUnits = f[5]
	rec.ReportedValues = atoi(6)
	rec.TimeOfValue = atoi(7)
	rec.DataValue = atoi(8)
	rec.Flag = f[9]
	date, err := time.Parse(dateLayout, f[10])
	if err != nil {
		errs = append(errs, fmt.Errorf("date: %w", err))
	}
	rec.Date = date
	rec.Year, rec.Month, rec.Day = date.Year(), int(date.Month()), date.Day()
	rec.WasDeleted = parseBool(11)
	rec.IsMissing = parseBool(12)

	if len(errs) > 0 {
		return domain.FlaggedRecord{}, errors.Join(errs...)
	}
	return rec, nil
}
