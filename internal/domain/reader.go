package domain

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column is a named half-open byte range within a fixed-width line.
type Column struct {
	Name  string
	Start int
	End   int
}

// Columns is the HPD line layout, in file order.
var Columns = []Column{
	{"Record-Type", 0, 3},
	{"State-Code", 3, 5},
	{"Cooperative Network Index Number", 5, 9},
	{"Cooperative Network Division Number", 9, 11},
	{"Element-Type", 11, 15},
	{"Element-Units", 15, 17},
	{"Year", 17, 21},
	{"Month", 21, 23},
	{"Day", 23, 27},
	{"Number-Reported-Values", 27, 30},
	{"Time-Of-Value", 30, 34},
	{"Data-Value", 34, 40},
	{"FLAG1", 40, 42},
}

// minLineLength is the end of the data-value column; the flag column after it
// is routinely truncated by trailing-whitespace stripping.
const minLineLength = 40

// ErrShortLine reports a line that does not reach the end of the data-value column.
var ErrShortLine = errors.New("line shorter than column layout")

// ErrBlankField reports a required numeric column left blank.
var ErrBlankField = errors.New("blank numeric column")

// ParseError describes a line the reader could not parse.
type ParseError struct {
	Line  int    // 1-based line number
	Field string // column name, empty for structural errors
	Text  string // offending line content
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("line %d: column %s: %v: %q", e.Line, e.Field, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine parses one fixed-width line. lineNo is only used for error reporting.
func ParseLine(line string, lineNo int) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < minLineLength {
		return Record{}, &ParseError{Line: lineNo, Text: line, Err: ErrShortLine}
	}

	p := fieldParser{line: line, lineNo: lineNo}
	rec := Record{
		RecordType:     p.text(0),
		StateCode:      p.int(1),
		StationIndex:   p.int(2),
		Division:       p.optionalInt(3),
		ElementType:    p.text(4),
		ElementUnits:   p.text(5),
		Year:           p.int(6),
		Month:          p.int(7),
		Day:            p.int(8),
		ReportedValues: p.int(9),
		TimeOfValue:    p.int(10),
		DataValue:      p.int(11),
		Flag:           p.text(12),
	}
	if p.err != nil {
		return Record{}, p.err
	}
	return rec, nil
}

// fieldParser slices columns out of a line and keeps the first error seen.
type fieldParser struct {
	line   string
	lineNo int
	err    error
}

func (p *fieldParser) slice(col int) string {
	c := Columns[col]
	if c.Start >= len(p.line) {
		return ""
	}
	end := min(c.End, len(p.line))
	return strings.TrimSpace(p.line[c.Start:end])
}

func (p *fieldParser) text(col int) string {
	return p.slice(col)
}

// int parses a required numeric column.
func (p *fieldParser) int(col int) int {
	if p.err != nil {
		return 0
	}
	s := p.slice(col)
	if s == "" {
		p.err = &ParseError{Line: p.lineNo, Field: Columns[col].Name, Text: p.line, Err: ErrBlankField}
		return 0
	}
	return p.atoi(col, s)
}

// optionalInt parses a numeric column that may be blank, as the division
// number is for unassigned stations. Blank reads as zero.
func (p *fieldParser) optionalInt(col int) int {
	if p.err != nil {
		return 0
	}
	s := p.slice(col)
	if s == "" {
		return 0
	}
	return p.atoi(col, s)
}

func (p *fieldParser) atoi(col int, s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		p.err = &ParseError{Line: p.lineNo, Field: Columns[col].Name, Text: p.line, Err: err}
		return 0
	}
	return v
}

// Reader streams Records from fixed-width HPD text.
type Reader struct {
	scanner *bufio.Scanner
	lineNo  int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next record, skipping blank lines. It returns io.EOF when
// the input is exhausted.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.lineNo++
		line := r.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		return ParseLine(line, r.lineNo)
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("read line %d: %w", r.lineNo+1, err)
	}
	return Record{}, io.EOF
}

// ReadRecords parses every line of r in order. The first malformed line aborts
// the read; no partial result is returned.
func ReadRecords(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var records []Record
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
